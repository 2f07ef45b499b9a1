package kyc

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/wallet"
)

const (
	// RevocationLabel labels every anchor payment in the wallet.
	RevocationLabel = "kyc-revocation"

	// commitmentPrefix precedes the serial number in the anchor's
	// commitment output.
	commitmentPrefix = "KYC:"

	// anchorValue is the value of the spendable anchor output.
	anchorValue btcutil.Amount = 1
)

// Anchor is an on-chain revocation anchor. The multisig output at Outpoint
// stays unspent while the certificate is valid.
type Anchor struct {
	Outpoint   wire.OutPoint
	RawPayment []byte
}

// CreateRevocationAnchor asks the wallet for a payment with a 1 unit output
// spendable by either the subject or the certifier, followed by a
// zero value commitment to "KYC:" + serial.
func (e *Engine) CreateRevocationAnchor(ctx context.Context, subject,
	certifier *btcec.PublicKey, serial string) (*Anchor, error) {

	subjectAddr, err := btcutil.NewAddressPubKey(
		subject.SerializeCompressed(), e.cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}
	certifierAddr, err := btcutil.NewAddressPubKey(
		certifier.SerializeCompressed(), e.cfg.ChainParams,
	)
	if err != nil {
		return nil, err
	}

	multiSig, err := txscript.MultiSigScript(
		[]*btcutil.AddressPubKey{subjectAddr, certifierAddr}, 1,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to build anchor script: %w", err)
	}

	commitment, err := txscript.NullDataScript(
		[]byte(commitmentPrefix + serial),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to build commitment: %w", err)
	}

	payment, err := e.cfg.Wallet.CreatePayment(ctx, &wallet.PaymentRequest{
		Description: "certificate revocation anchor " + serial,
		Outputs: []wallet.Output{
			{
				PkScript:    multiSig,
				Amount:      anchorValue,
				Description: "revocation anchor",
			},
			{
				PkScript:    commitment,
				Description: "certificate commitment",
			},
		},
		Labels: []string{RevocationLabel},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create anchor payment: %w", err)
	}

	tx, err := brc29.ParsePayment(payment.RawPayment)
	if err != nil {
		return nil, err
	}
	index, err := brc29.FindOutput(tx, multiSig)
	if err != nil {
		return nil, fmt.Errorf("anchor payment %v lacks the revocation "+
			"output: %w", payment.TxID, err)
	}

	return &Anchor{
		Outpoint:   wire.OutPoint{Hash: payment.TxID, Index: index},
		RawPayment: payment.RawPayment,
	}, nil
}

// CheckRevocationStatus reports whether the anchor has been spent. The
// lookup is bounded by the lookup timeout. An unknown outpoint is not
// revoked, and a failed lookup is not revoked either unless the engine
// fails closed.
func (e *Engine) CheckRevocationStatus(ctx context.Context,
	outpoint wire.OutPoint) bool {

	if e.cfg.SpendLookup == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.LookupTimeout)
	defer cancel()

	spent, err := e.cfg.SpendLookup.IsOutpointSpent(ctx, outpoint)
	switch {
	case errors.Is(err, ErrOutpointUnknown):
		log.Debugf("Anchor %v not found, treating as unspent", outpoint)
		return false

	case err != nil && e.cfg.RevocationFailClosed:
		log.Warnf("Revocation lookup for %v failed, treating as "+
			"revoked: %v", outpoint, err)
		return true

	case err != nil:
		log.Warnf("Revocation lookup for %v failed, treating as "+
			"unspent: %v", outpoint, err)
		e.failOpen(FailOpenRevocation)

		return false
	}

	return spent
}
