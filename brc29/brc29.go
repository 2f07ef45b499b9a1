package brc29

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/keychain"
)

// ProtocolID is the derivation protocol used for one-time payment keys.
var ProtocolID = keychain.Protocol{
	SecurityLevel: keychain.SecurityLevelCounterparty,
	Name:          "3241645161d8",
}

// nonceSize is the number of random bytes in each derivation nonce.
const nonceSize = 16

var (
	// ErrInvalidNonce is returned when a derivation prefix or suffix is
	// empty or contains a space.
	ErrInvalidNonce = errors.New("invalid derivation nonce")

	// ErrNoOutputs is returned when a payment has no outputs.
	ErrNoOutputs = errors.New("payment has no outputs")

	// ErrNotPayToPubKeyHash is returned when an output script does not
	// lock to a public key hash.
	ErrNotPayToPubKeyHash = errors.New("output is not pay-to-pubkey-hash")

	// ErrOutputNotFound is returned when no output of a payment carries
	// the expected locking script.
	ErrOutputNotFound = errors.New("payment output not found")
)

// DerivationContext is the nonce pair that seeds the key of a single
// payment. A context must never be reused.
type DerivationContext struct {
	Prefix string
	Suffix string
}

// NewDerivationContext returns a context with two fresh random nonces.
func NewDerivationContext() (*DerivationContext, error) {
	prefix, err := newNonce()
	if err != nil {
		return nil, err
	}

	suffix, err := newNonce()
	if err != nil {
		return nil, err
	}

	return &DerivationContext{Prefix: prefix, Suffix: suffix}, nil
}

func newNonce() (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("unable to read nonce: %w", err)
	}

	return base64.StdEncoding.EncodeToString(nonce[:]), nil
}

// Validate checks both nonces are present and space free, since the key id
// joins them with a single space.
func (d *DerivationContext) Validate() error {
	for _, nonce := range []string{d.Prefix, d.Suffix} {
		if nonce == "" || strings.ContainsAny(nonce, " \t\n") {
			return fmt.Errorf("%w: %q", ErrInvalidNonce, nonce)
		}
	}

	return nil
}

// KeyID returns the key material fed into the derivation.
func (d *DerivationContext) KeyID() string {
	return d.Prefix + " " + d.Suffix
}

// PayToPubKeyHashScript returns the P2PKH script locking to the key.
func PayToPubKeyHashScript(pub *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(pub.SerializeCompressed())).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// ExtractPubKeyHash returns the 20 byte hash a P2PKH script locks to.
func ExtractPubKeyHash(pkScript []byte) ([]byte, error) {
	if txscript.GetScriptClass(pkScript) != txscript.PubKeyHashTy {
		return nil, ErrNotPayToPubKeyHash
	}

	// OP_DUP OP_HASH160 OP_DATA_20 <hash> OP_EQUALVERIFY OP_CHECKSIG
	return pkScript[3:23], nil
}

// ParsePayment decodes a raw payment into a transaction.
func ParsePayment(raw []byte) (*wire.MsgTx, error) {
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("unable to decode payment: %w", err)
	}

	return tx, nil
}

// FirstOutput returns the output a payment to the exchange is made in.
func FirstOutput(tx *wire.MsgTx) (*wire.TxOut, error) {
	if len(tx.TxOut) == 0 {
		return nil, ErrNoOutputs
	}

	return tx.TxOut[0], nil
}

// FindOutput returns the index of the first output locked by pkScript. The
// wallet may order outputs as it likes, so callers must not assume the
// order of their request.
func FindOutput(tx *wire.MsgTx, pkScript []byte) (uint32, error) {
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return uint32(i), nil
		}
	}

	return 0, fmt.Errorf("%w in %v", ErrOutputNotFound, tx.TxHash())
}

// SerializePayment encodes a transaction as a raw payment.
func SerializePayment(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
