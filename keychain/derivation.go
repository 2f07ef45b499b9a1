package keychain

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ErrInvalidTweak is returned in the (astronomically unlikely) case the HMAC
// output does not reduce to a valid scalar.
var ErrInvalidTweak = errors.New("derivation tweak out of range")

// derivationTweak computes HMAC-SHA256(S, invoiceNumber) as a scalar, where S
// is the compressed shared secret point.
func derivationTweak(shared *btcec.PublicKey,
	invoiceNumber string) (*btcec.ModNScalar, error) {

	mac := hmac.New(sha256.New, shared.SerializeCompressed())
	_, _ = mac.Write([]byte(invoiceNumber))

	var tweak btcec.ModNScalar
	if overflow := tweak.SetByteSlice(mac.Sum(nil)); overflow {
		return nil, ErrInvalidTweak
	}
	if tweak.IsZero() {
		return nil, ErrInvalidTweak
	}

	return &tweak, nil
}

// tweakPubKey returns base + tweak*G.
func tweakPubKey(base *btcec.PublicKey,
	tweak *btcec.ModNScalar) *btcec.PublicKey {

	var (
		basePoint  btcec.JacobianPoint
		tweakPoint btcec.JacobianPoint
		result     btcec.JacobianPoint
	)
	base.AsJacobian(&basePoint)
	btcec.ScalarBaseMultNonConst(tweak, &tweakPoint)
	btcec.AddNonConst(&basePoint, &tweakPoint, &result)
	result.ToAffine()

	return btcec.NewPublicKey(&result.X, &result.Y)
}

// DeriveChildPublic derives the public key for the given invoice number. With
// forSelf set, the result is our own child key as the counterparty would
// derive it for us. Otherwise it is the counterparty's child key.
func DeriveChildPublic(root *btcec.PrivateKey, counterparty *btcec.PublicKey,
	invoiceNumber string, forSelf bool) (*btcec.PublicKey, error) {

	tweak, err := derivationTweak(
		SharedSecret(root, counterparty), invoiceNumber,
	)
	if err != nil {
		return nil, err
	}

	if forSelf {
		return tweakPubKey(root.PubKey(), tweak), nil
	}

	return tweakPubKey(counterparty, tweak), nil
}

// DeriveChildPrivate derives our own child private key for the invoice
// number. Its public key equals the key the counterparty derives for us.
func DeriveChildPrivate(root *btcec.PrivateKey, counterparty *btcec.PublicKey,
	invoiceNumber string) (*btcec.PrivateKey, error) {

	tweak, err := derivationTweak(
		SharedSecret(root, counterparty), invoiceNumber,
	)
	if err != nil {
		return nil, err
	}

	var child btcec.ModNScalar
	child.Set(&root.Key)
	child.Add(tweak)

	return btcec.PrivKeyFromScalar(&child), nil
}
