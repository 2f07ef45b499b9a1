// Package memwallet is an in-process wallet that holds its keys and coins in
// memory. It is used by tests and by development deployments that run
// without an external wallet.
package memwallet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/keychain"
	"github.com/exchangelabs/exchanged/wallet"
)

var (
	// ErrInsufficientCoins is returned when the wallet cannot fund a
	// payment.
	ErrInsufficientCoins = errors.New("not enough coins to fund payment")

	// ErrNoOutputs is returned for a payment request without outputs.
	ErrNoOutputs = errors.New("payment request has no outputs")
)

// coin is an unspent output the wallet can sign for.
type coin struct {
	value    btcutil.Amount
	pkScript []byte
	key      *btcec.PrivateKey
}

// Wallet implements wallet.Capability with an in-memory key and coin set.
// Fees are not modelled.
type Wallet struct {
	rootKey *btcec.PrivateKey

	mu           sync.Mutex
	coins        map[wire.OutPoint]*coin
	actions      []wallet.Action
	internalized map[chainhash.Hash]struct{}
	fundingIndex uint32
}

// New creates a wallet for the given root key.
func New(rootKey *btcec.PrivateKey) *Wallet {
	return &Wallet{
		rootKey:      rootKey,
		coins:        make(map[wire.OutPoint]*coin),
		internalized: make(map[chainhash.Hash]struct{}),
	}
}

// NewRandom creates a wallet with a freshly generated root key.
func NewRandom() (*Wallet, error) {
	rootKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	return New(rootKey), nil
}

// AddFunds credits the wallet with a synthetic coin locked to its identity
// key and returns the coin's outpoint.
func (w *Wallet) AddFunds(amount btcutil.Amount) (wire.OutPoint, error) {
	pkScript, err := brc29.PayToPubKeyHashScript(w.rootKey.PubKey())
	if err != nil {
		return wire.OutPoint{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.fundingIndex++
	op := wire.OutPoint{
		Hash: chainhash.DoubleHashH(
			append(w.rootKey.PubKey().SerializeCompressed(),
				byte(w.fundingIndex>>24), byte(w.fundingIndex>>16),
				byte(w.fundingIndex>>8), byte(w.fundingIndex)),
		),
		Index: 0,
	}
	w.coins[op] = &coin{
		value:    amount,
		pkScript: pkScript,
		key:      w.rootKey,
	}

	return op, nil
}

// Balance returns the sum of all unspent coins.
func (w *Wallet) Balance() btcutil.Amount {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total btcutil.Amount
	for _, c := range w.coins {
		total += c.value
	}

	return total
}

// GetIdentityKey returns the root public key.
//
// NOTE: This is part of the wallet.Capability interface.
func (w *Wallet) GetIdentityKey(_ context.Context) (*btcec.PublicKey, error) {
	return w.rootKey.PubKey(), nil
}

// DerivePublicKey derives a child key with the counterparty.
//
// NOTE: This is part of the wallet.Capability interface.
func (w *Wallet) DerivePublicKey(_ context.Context, protocol keychain.Protocol,
	keyID string, counterparty *btcec.PublicKey,
	forSelf bool) (*btcec.PublicKey, error) {

	invoice, err := protocol.InvoiceNumber(keyID)
	if err != nil {
		return nil, err
	}

	return keychain.DeriveChildPublic(
		w.rootKey, counterparty, invoice, forSelf,
	)
}

// CreatePayment funds the outputs from the wallet's coins, adds change back
// to the identity key and signs every input.
//
// NOTE: This is part of the wallet.Capability interface.
func (w *Wallet) CreatePayment(_ context.Context,
	req *wallet.PaymentRequest) (*wallet.Payment, error) {

	if len(req.Outputs) == 0 {
		return nil, ErrNoOutputs
	}

	var target btcutil.Amount
	tx := wire.NewMsgTx(2)
	for _, out := range req.Outputs {
		if out.Amount < 0 {
			return nil, fmt.Errorf("negative output amount %v",
				out.Amount)
		}

		target += out.Amount
		tx.AddTxOut(wire.NewTxOut(int64(out.Amount), out.PkScript))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var (
		selected []wire.OutPoint
		funded   btcutil.Amount
	)
	for op, c := range w.coins {
		if funded >= target && len(selected) > 0 {
			break
		}

		selected = append(selected, op)
		funded += c.value
	}
	if funded < target || len(selected) == 0 {
		return nil, fmt.Errorf("%w: have %v, need %v",
			ErrInsufficientCoins, funded, target)
	}

	for i := range selected {
		tx.AddTxIn(wire.NewTxIn(&selected[i], nil, nil))
	}

	changeScript, err := brc29.PayToPubKeyHashScript(w.rootKey.PubKey())
	if err != nil {
		return nil, err
	}
	change := funded - target
	if change > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(change), changeScript))
	}

	for i, op := range selected {
		c := w.coins[op]
		sigScript, err := txscript.SignatureScript(
			tx, i, c.pkScript, txscript.SigHashAll, c.key, true,
		)
		if err != nil {
			return nil, err
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	raw, err := brc29.SerializePayment(tx)
	if err != nil {
		return nil, err
	}

	txid := tx.TxHash()
	for _, op := range selected {
		delete(w.coins, op)
	}
	if change > 0 {
		changeOp := wire.OutPoint{
			Hash:  txid,
			Index: uint32(len(tx.TxOut) - 1),
		}
		w.coins[changeOp] = &coin{
			value:    change,
			pkScript: changeScript,
			key:      w.rootKey,
		}
	}

	w.actions = append(w.actions, wallet.Action{
		TxID:        txid,
		Description: req.Description,
		Labels:      append([]string(nil), req.Labels...),
		Amount:      -target,
		Status:      "completed",
	})

	log.Debugf("Created payment %v spending %d coins", txid,
		len(selected))

	return &wallet.Payment{RawPayment: raw, TxID: txid}, nil
}

// InternalizePayment accepts an incoming payment if the remittance derives
// the key its output is locked to.
//
// NOTE: This is part of the wallet.Capability interface.
func (w *Wallet) InternalizePayment(_ context.Context,
	req *wallet.InternalizeRequest) (*wallet.InternalizeResult, error) {

	tx, err := brc29.ParsePayment(req.RawPayment)
	if err != nil {
		return nil, err
	}
	txid := tx.TxHash()

	rem := req.Remittance
	if rem.SenderIdentityKey == nil ||
		int(rem.OutputIndex) >= len(tx.TxOut) {

		return &wallet.InternalizeResult{TxID: txid}, nil
	}

	dc := brc29.DerivationContext{
		Prefix: rem.DerivationPrefix,
		Suffix: rem.DerivationSuffix,
	}
	invoice, err := brc29.ProtocolID.InvoiceNumber(dc.KeyID())
	if err != nil {
		return nil, err
	}

	childKey, err := keychain.DeriveChildPrivate(
		w.rootKey, rem.SenderIdentityKey, invoice,
	)
	if err != nil {
		return nil, err
	}

	out := tx.TxOut[rem.OutputIndex]
	expected, err := brc29.PayToPubKeyHashScript(childKey.PubKey())
	if err != nil {
		return nil, err
	}
	if string(expected) != string(out.PkScript) {
		log.Debugf("Rejecting payment %v: output %d not locked to "+
			"derived key", txid, rem.OutputIndex)

		return &wallet.InternalizeResult{TxID: txid}, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.internalized[txid]; ok {
		return &wallet.InternalizeResult{Accepted: true, TxID: txid}, nil
	}

	w.internalized[txid] = struct{}{}
	w.coins[wire.OutPoint{Hash: txid, Index: rem.OutputIndex}] = &coin{
		value:    btcutil.Amount(out.Value),
		pkScript: out.PkScript,
		key:      childKey,
	}
	w.actions = append(w.actions, wallet.Action{
		TxID:        txid,
		Description: req.Description,
		Labels:      append([]string(nil), req.Labels...),
		Amount:      btcutil.Amount(out.Value),
		Status:      "completed",
	})

	return &wallet.InternalizeResult{Accepted: true, TxID: txid}, nil
}

// ListLabeledActions returns the newest actions carrying every label.
//
// NOTE: This is part of the wallet.Capability interface.
func (w *Wallet) ListLabeledActions(_ context.Context, labels []string,
	limit uint32) ([]wallet.Action, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	var result []wallet.Action
	for i := len(w.actions) - 1; i >= 0; i-- {
		if limit > 0 && uint32(len(result)) >= limit {
			break
		}

		if hasLabels(w.actions[i].Labels, labels) {
			result = append(result, w.actions[i])
		}
	}

	return result, nil
}

func hasLabels(have, want []string) bool {
	for _, label := range want {
		if !slices.Contains(have, label) {
			return false
		}
	}

	return true
}

// CreateSignature signs the digest with the root key.
//
// NOTE: This is part of the wallet.Capability interface.
func (w *Wallet) CreateSignature(_ context.Context,
	digest [32]byte) ([]byte, error) {

	return ecdsa.Sign(w.rootKey, digest[:]).Serialize(), nil
}

// A compile-time assertion to ensure Wallet implements wallet.Capability.
var _ wallet.Capability = (*Wallet)(nil)
