package keychain

import (
	"github.com/btcsuite/btcd/btcec/v2"
)

// SharedSecret performs a scalar multiplication between a private key and a
// remote public key and returns the resulting point. If k is our private key,
// and P is the public key:
//
//	S := k*P
//
// Both sides of a derivation arrive at the same S, which seeds the child key
// tweak.
func SharedSecret(priv *btcec.PrivateKey,
	pub *btcec.PublicKey) *btcec.PublicKey {

	var (
		pubJacobian btcec.JacobianPoint
		s           btcec.JacobianPoint
	)
	pub.AsJacobian(&pubJacobian)

	btcec.ScalarMultNonConst(&priv.Key, &pubJacobian, &s)
	s.ToAffine()

	return btcec.NewPublicKey(&s.X, &s.Y)
}
