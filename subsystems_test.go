package exchanged

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/exchcfg"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/stretchr/testify/require"
)

// TestLoadOrCreateKey checks that a generated key is stored and loaded back
// unchanged.
func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "memwallet.key")

	key, err := loadOrCreateKey(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := loadOrCreateKey(path)
	require.NoError(t, err)
	require.Equal(t, key.Serialize(), loaded.Serialize())

	require.NoError(t, os.WriteFile(path, []byte("abcd"), 0600))
	_, err = loadOrCreateKey(path)
	require.ErrorContains(t, err, "want 32 bytes")

	require.NoError(t, os.WriteFile(path, []byte("zz"), 0600))
	_, err = loadOrCreateKey(path)
	require.Error(t, err)
}

func TestNewScreener(t *testing.T) {
	dir := t.TempDir()

	cfg := exchcfg.DefaultSanctions()
	cfg.ListFile = writeListFile(t, dir)

	screener, err := newScreener(cfg)
	require.NoError(t, err)
	require.NotNil(t, screener)

	require.Nil(t, newListReloader(cfg, screener))

	cfg.ReloadInterval = time.Minute
	reloader := newListReloader(cfg, screener)
	require.NotNil(t, reloader)
	reloader.Start()
	reloader.Stop()

	cfg.ReloadInterval = 0
	cfg.ListFile = filepath.Join(dir, "missing.csv")
	_, err = newScreener(cfg)
	require.Error(t, err)

	cfg.ListFile = ""
	cfg.URL = "http://127.0.0.1:1/screen"
	screener, err = newScreener(cfg)
	require.NoError(t, err)
	require.NotNil(t, screener)

	// Only a list screener can be reloaded.
	cfg.ReloadInterval = time.Minute
	require.Nil(t, newListReloader(cfg, screener))
}

func TestNewChainClient(t *testing.T) {
	cfg := exchcfg.DefaultChain()

	client := newChainClient(cfg)
	require.Nil(t, client)
	require.Nil(t, spendLookup(client))

	cfg.EsploraURL = "http://127.0.0.1:1/api"
	client = newChainClient(cfg)
	require.NotNil(t, client)
	require.NotNil(t, spendLookup(client))
}

func TestNewWallet(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Wallet.Backend = exchcfg.MemWalletBackend
	cfg.Wallet.KeyFile = filepath.Join(t.TempDir(), "memwallet.key")

	w, err := newWallet(&cfg)
	require.NoError(t, err)
	require.NotNil(t, w)

	cfg.Wallet.Backend = exchcfg.HTTPWalletBackend
	cfg.Wallet.URL = "http://127.0.0.1:1"
	w, err = newWallet(&cfg)
	require.NoError(t, err)
	require.NotNil(t, w)
}

// TestSpendLookup checks the chain backend's unknown transaction reaches the
// engine as kyc.ErrOutpointUnknown.
func TestSpendLookup(t *testing.T) {
	known := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 1}

	mux := http.NewServeMux()
	mux.HandleFunc(
		fmt.Sprintf("/tx/%s/outspend/1", known.Hash),
		func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"spent":true}`)
		},
	)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := exchcfg.DefaultChain()
	require.Nil(t, spendLookup(newChainClient(cfg)))

	cfg.EsploraURL = srv.URL
	lookup := spendLookup(newChainClient(cfg))
	require.NotNil(t, lookup)

	ctx := context.Background()
	spent, err := lookup.IsOutpointSpent(ctx, known)
	require.NoError(t, err)
	require.True(t, spent)

	_, err = lookup.IsOutpointSpent(
		ctx, wire.OutPoint{Hash: chainhash.Hash{2}},
	)
	require.ErrorIs(t, err, kyc.ErrOutpointUnknown)
}
