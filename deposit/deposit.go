// Package deposit verifies incoming payments against the derived key they
// must lock to before crediting them to the ledger.
package deposit

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/build"
	"github.com/exchangelabs/exchanged/certdb"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/exchangelabs/exchanged/ledger"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Label is attached to every internalized deposit.
const Label = "deposit"

var (
	// ErrPaymentVerificationFailed is returned when the payment's first
	// output does not lock to the derived key, or does not carry the
	// declared amount.
	ErrPaymentVerificationFailed = errors.New("payment verification failed")

	// ErrPaymentRejected is returned when the wallet refuses to
	// internalize the payment.
	ErrPaymentRejected = errors.New("payment rejected by wallet")

	// ErrDuplicatePayment is returned when the payment was already
	// credited.
	ErrDuplicatePayment = errors.New("payment already deposited")

	// ErrInvalidPayment is returned for a payment that cannot be decoded
	// or carries no value.
	ErrInvalidPayment = errors.New("invalid payment")
)

// CertificateGate decides whether a requester's certificate admits a
// deposit.
type CertificateGate interface {
	CheckEligibility(ctx context.Context, requester string,
		serial fn.Option[string]) (*certdb.Record, error)
}

// Request is a claimed incoming payment.
type Request struct {
	// Requester is the identity key of the depositor.
	Requester *btcec.PublicKey

	// Derivation is the nonce pair the depositor derived the payment key
	// with.
	Derivation brc29.DerivationContext

	RawPayment []byte

	// DeclaredAmount is the value the depositor claims to pay. Zero skips
	// the check.
	DeclaredAmount btcutil.Amount

	// CertificateSerial selects the certificate to present. The
	// requester's current certificate is used when absent.
	CertificateSerial fn.Option[string]
}

// Result is the outcome of an accepted deposit.
type Result struct {
	TxID     chainhash.Hash
	Credited btcutil.Amount
	Balance  *ledger.Balance
}

// Config holds the collaborators of the Verifier.
type Config struct {
	Ledger       *ledger.Ledger
	Wallet       wallet.Capability
	Certificates CertificateGate
}

// Verifier runs the deposit flow.
type Verifier struct {
	cfg *Config
}

// New creates a Verifier.
func New(cfg *Config) *Verifier {
	return &Verifier{cfg: cfg}
}

// Reference is the ledger reference of the deposit with the txid.
func Reference(txid chainhash.Hash) string {
	return "deposit:" + txid.String()
}

// Verify checks that the payment's first output locks to the key derived
// for the requester and, if declared, carries the declared amount. It
// returns the decoded payment.
func (v *Verifier) Verify(ctx context.Context,
	req *Request) (*wire.MsgTx, error) {

	if err := req.Derivation.Validate(); err != nil {
		return nil, err
	}

	tx, err := brc29.ParsePayment(req.RawPayment)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayment, err)
	}
	out, err := brc29.FirstOutput(tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayment, err)
	}

	expectedKey, err := v.cfg.Wallet.DerivePublicKey(
		ctx, brc29.ProtocolID, req.Derivation.KeyID(), req.Requester,
		true,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to derive deposit key: %w", err)
	}
	expectedHash := btcutil.Hash160(expectedKey.SerializeCompressed())

	paidHash, err := brc29.ExtractPubKeyHash(out.PkScript)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymentVerificationFailed,
			err)
	}
	if !bytes.Equal(expectedHash, paidHash) {
		return nil, fmt.Errorf("%w: output locks to %x, expected %x",
			ErrPaymentVerificationFailed, paidHash, expectedHash)
	}

	if out.Value <= 0 {
		return nil, fmt.Errorf("%w: output carries no value",
			ErrInvalidPayment)
	}
	declared := req.DeclaredAmount
	if declared != 0 && declared != btcutil.Amount(out.Value) {
		return nil, fmt.Errorf("%w: declared %v, output pays %v",
			ErrPaymentVerificationFailed, declared,
			btcutil.Amount(out.Value))
	}

	return tx, nil
}

// Deposit runs the full deposit flow: certificate check, payment
// verification, internalization and ledger credit. The ledger is only
// credited after the wallet accepted the payment.
func (v *Verifier) Deposit(ctx context.Context, req *Request) (*Result,
	error) {

	if req.Requester == nil {
		return nil, ledger.ErrInvalidIdentity
	}
	requester := kyc.KeyHex(req.Requester)

	_, err := v.cfg.Certificates.CheckEligibility(
		ctx, requester, req.CertificateSerial,
	)
	if err != nil {
		return nil, err
	}

	tx, err := v.Verify(ctx, req)
	if err != nil {
		log.Infof("Deposit from %s failed verification: %v", requester,
			err)

		return nil, err
	}

	txid := tx.TxHash()
	log.Tracef("Verified deposit payment from %s: %v", requester,
		build.SpewLogClosure(tx))

	ref := Reference(txid)
	seen, err := v.cfg.Ledger.HasReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if seen {
		return nil, fmt.Errorf("%w: %v", ErrDuplicatePayment, txid)
	}

	result, err := v.cfg.Wallet.InternalizePayment(
		ctx, &wallet.InternalizeRequest{
			RawPayment: req.RawPayment,
			Remittance: wallet.Remittance{
				DerivationPrefix:  req.Derivation.Prefix,
				DerivationSuffix:  req.Derivation.Suffix,
				SenderIdentityKey: req.Requester,
				OutputIndex:       0,
			},
			Description: "deposit from " + requester,
			Labels:      []string{Label},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to internalize deposit: %w", err)
	}
	if !result.Accepted {
		return nil, fmt.Errorf("%w: %v", ErrPaymentRejected, txid)
	}

	amount := btcutil.Amount(tx.TxOut[0].Value)
	balance, err := v.cfg.Ledger.Credit(
		ctx, requester, ledger.CurrencyBase, ledger.Units(amount),
		ledger.WithKind(ledger.KindDeposit),
		ledger.WithReference(ref),
	)
	switch {
	case errors.Is(err, ledger.ErrDuplicateReference):
		return nil, fmt.Errorf("%w: %v", ErrDuplicatePayment, txid)

	case err != nil:
		log.Errorf("Deposit %v internalized but not credited to %s: %v",
			txid, requester, err)

		return nil, err
	}

	log.Infof("Credited deposit %v of %v to %s", txid, amount, requester)

	return &Result{TxID: txid, Credited: amount, Balance: balance}, nil
}
