package exchanged

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/esplora"
	"github.com/exchangelabs/exchanged/exchcfg"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/exchangelabs/exchanged/sanctions"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/exchangelabs/exchanged/wallet/httpwallet"
	"github.com/exchangelabs/exchanged/wallet/memwallet"
	"github.com/lightningnetwork/lnd/ticker"
)

// newWallet creates the configured wallet capability.
func newWallet(cfg *Config) (wallet.Capability, error) {
	switch cfg.Wallet.Backend {
	case exchcfg.HTTPWalletBackend:
		exchLog.Infof("Using external wallet at %v", cfg.Wallet.URL)

		return httpwallet.New(&httpwallet.Config{
			URL:        cfg.Wallet.URL,
			Timeout:    cfg.Wallet.Timeout,
			Originator: cfg.Wallet.Originator,
		}), nil

	case exchcfg.MemWalletBackend:
		rootKey, err := loadOrCreateKey(cfg.Wallet.KeyFile)
		if err != nil {
			return nil, err
		}

		exchLog.Warnf("Using in-memory wallet, coins are lost on " +
			"shutdown")

		return memwallet.New(rootKey), nil

	default:
		return nil, fmt.Errorf("unknown wallet backend %q",
			cfg.Wallet.Backend)
	}
}

// loadOrCreateKey reads a hex private key from path, generating and storing
// a fresh one if the file does not exist.
func loadOrCreateKey(path string) (*btcec.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		keyBytes, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("invalid key file %v: %w", path,
				err)
		}
		if len(keyBytes) != btcec.PrivKeyBytesLen {
			return nil, fmt.Errorf("invalid key file %v: want %d "+
				"bytes, got %d", path, btcec.PrivKeyBytesLen,
				len(keyBytes))
		}
		key, _ := btcec.PrivKeyFromBytes(keyBytes)

		return key, nil

	case errors.Is(err, os.ErrNotExist):
		key, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, err
		}

		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		err = os.WriteFile(
			path, []byte(hex.EncodeToString(key.Serialize())), 0600,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to write key file: %w",
				err)
		}

		exchLog.Infof("Generated new wallet key in %v", path)

		return key, nil

	default:
		return nil, err
	}
}

// newScreener creates the configured sanctions screener.
func newScreener(cfg *exchcfg.Sanctions) (sanctions.Screener, error) {
	if cfg.URL != "" {
		return sanctions.NewHTTPScreener(cfg.URL, cfg.Timeout), nil
	}

	screener, err := sanctions.NewListScreener(cfg.ListFile)
	if err != nil {
		return nil, err
	}
	exchLog.Infof("Loaded %d sanctioned entities from %v", screener.Len(),
		cfg.ListFile)

	return screener, nil
}

// newListReloader creates a reloader for a list screener if a reload
// interval is configured. It returns nil otherwise.
func newListReloader(cfg *exchcfg.Sanctions,
	screener sanctions.Screener) *sanctions.Reloader {

	list, ok := screener.(*sanctions.ListScreener)
	if !ok || cfg.ReloadInterval == 0 {
		return nil
	}

	exchLog.Infof("Reloading sanctions list every %v", cfg.ReloadInterval)

	return sanctions.NewReloader(list, ticker.New(cfg.ReloadInterval))
}

// newChainClient creates the Esplora client if one is configured.
func newChainClient(cfg *exchcfg.Chain) *esplora.Client {
	if !cfg.Enabled() {
		exchLog.Warnf("No chain backend configured, revocation " +
			"anchors will not be followed")

		return nil
	}

	return esplora.NewClient(&esplora.ClientConfig{
		URL:            cfg.EsploraURL,
		RequestTimeout: cfg.RequestTimeout,
		MaxRetries:     cfg.MaxRetries,
	})
}

// chainSpends answers the engine's spend lookups from Esplora.
type chainSpends struct {
	client *esplora.Client
}

// IsOutpointSpent maps an unknown transaction onto kyc.ErrOutpointUnknown.
//
// NOTE: This is part of the kyc.SpendLookup interface.
func (c *chainSpends) IsOutpointSpent(ctx context.Context,
	op wire.OutPoint) (bool, error) {

	spent, err := c.client.IsOutpointSpent(ctx, op)
	if errors.Is(err, esplora.ErrTxNotFound) {
		return false, fmt.Errorf("%w: %v", kyc.ErrOutpointUnknown, op)
	}

	return spent, err
}

// spendLookup turns a possibly nil client into the engine's lookup so that
// a missing backend is a nil interface.
func spendLookup(client *esplora.Client) kyc.SpendLookup {
	if client == nil {
		return nil
	}

	return &chainSpends{client: client}
}
