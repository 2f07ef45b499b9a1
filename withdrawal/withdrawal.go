// Package withdrawal pays out base units to a one-time key derived for the
// requester.
package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/build"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/exchangelabs/exchanged/ledger"
	"github.com/exchangelabs/exchanged/wallet"
)

// Label is attached to every withdrawal payment.
const Label = "withdrawal"

// ErrReversalFailed is returned when a withdrawal failed after the debit and
// the debit could not be credited back.
var ErrReversalFailed = errors.New("withdrawal reversal failed")

// Request asks to withdraw base units.
type Request struct {
	Requester *btcec.PublicKey
	Amount    btcutil.Amount
}

// Result carries the payment and what the requester needs to claim it.
type Result struct {
	RawPayment []byte
	TxID       chainhash.Hash

	// OutputIndex is the output paying the requester.
	OutputIndex uint32

	DerivationPrefix  string
	DerivationSuffix  string
	SenderIdentityKey *btcec.PublicKey

	Balance *ledger.Balance
}

// Config holds the collaborators of the Builder.
type Config struct {
	Ledger *ledger.Ledger
	Wallet wallet.Capability
}

// Builder runs the withdrawal flow.
type Builder struct {
	cfg *Config
}

// New creates a Builder.
func New(cfg *Config) *Builder {
	return &Builder{cfg: cfg}
}

// Withdraw debits the requester first and only then derives a payment key
// and asks the wallet for the payment. If the payment cannot be built the
// debit is credited back.
func (b *Builder) Withdraw(ctx context.Context, req *Request) (*Result,
	error) {

	if req.Requester == nil {
		return nil, ledger.ErrInvalidIdentity
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidAmount,
			req.Amount)
	}
	requester := kyc.KeyHex(req.Requester)

	balance, err := b.cfg.Ledger.Debit(
		ctx, requester, ledger.CurrencyBase, ledger.Units(req.Amount),
		ledger.WithKind(ledger.KindWithdrawal),
	)
	if err != nil {
		return nil, err
	}

	result, err := b.buildPayment(ctx, req)
	if err != nil {
		return nil, b.reverse(ctx, requester, req.Amount, err)
	}
	result.Balance = balance

	log.Tracef("Withdrawal payment for %s: %v", requester,
		build.SpewLogClosure(result))

	log.Infof("Withdrawal %v of %v to %s", result.TxID, req.Amount,
		requester)

	return result, nil
}

// buildPayment derives a fresh one-time key for the requester and has the
// wallet pay the amount to it.
func (b *Builder) buildPayment(ctx context.Context,
	req *Request) (*Result, error) {

	sender, err := b.cfg.Wallet.GetIdentityKey(ctx)
	if err != nil {
		return nil, err
	}

	dc, err := brc29.NewDerivationContext()
	if err != nil {
		return nil, err
	}

	key, err := b.cfg.Wallet.DerivePublicKey(
		ctx, brc29.ProtocolID, dc.KeyID(), req.Requester, false,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to derive payment key: %w", err)
	}

	script, err := brc29.PayToPubKeyHashScript(key)
	if err != nil {
		return nil, err
	}

	payment, err := b.cfg.Wallet.CreatePayment(ctx, &wallet.PaymentRequest{
		Description: "withdrawal to " + kyc.KeyHex(req.Requester),
		Outputs: []wallet.Output{{
			PkScript:    script,
			Amount:      req.Amount,
			Description: "withdrawal",
		}},
		Labels: []string{Label},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create payment: %w", err)
	}

	tx, err := brc29.ParsePayment(payment.RawPayment)
	if err != nil {
		return nil, err
	}
	index, err := brc29.FindOutput(tx, script)
	if err != nil {
		return nil, fmt.Errorf("withdrawal payment %v: %w", payment.TxID,
			err)
	}

	return &Result{
		RawPayment:        payment.RawPayment,
		TxID:              payment.TxID,
		OutputIndex:       index,
		DerivationPrefix:  dc.Prefix,
		DerivationSuffix:  dc.Suffix,
		SenderIdentityKey: sender,
	}, nil
}

// reverse credits a failed withdrawal back and returns the error to report.
func (b *Builder) reverse(ctx context.Context, requester string,
	amount btcutil.Amount, cause error) error {

	log.Warnf("Withdrawal of %v for %s failed, reversing debit: %v",
		amount, requester, cause)

	// The reversal must run even if the request was cancelled.
	_, err := b.cfg.Ledger.Credit(
		context.WithoutCancel(ctx), requester, ledger.CurrencyBase,
		ledger.Units(amount),
		ledger.WithKind(ledger.KindWithdrawalReversal),
	)
	if err != nil {
		log.Criticalf("Unable to reverse withdrawal debit of %v for "+
			"%s: %v", amount, requester, err)

		return fmt.Errorf("%w: %w (withdrawal: %w)", ErrReversalFailed,
			err, cause)
	}

	return cause
}
