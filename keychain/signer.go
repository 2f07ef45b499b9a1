package keychain

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// PrivKeyDigestSigner signs digests with a private key held in memory.
type PrivKeyDigestSigner struct {
	// PrivKey is the private key that is used for signing.
	PrivKey *btcec.PrivateKey
}

// PubKey returns the public key of the signer.
func (p *PrivKeyDigestSigner) PubKey() *btcec.PublicKey {
	return p.PrivKey.PubKey()
}

// SignDigest signs the given SHA256 message digest with the private key.
func (p *PrivKeyDigestSigner) SignDigest(digest [32]byte) *ecdsa.Signature {
	return ecdsa.Sign(p.PrivKey, digest[:])
}

// SignMessage hashes msg with SHA256 and returns the DER encoded signature.
func (p *PrivKeyDigestSigner) SignMessage(msg []byte) []byte {
	digest := sha256.Sum256(msg)

	return p.SignDigest(digest).Serialize()
}

// VerifyMessage checks a DER encoded signature over sha256(msg).
func VerifyMessage(pub *btcec.PublicKey, msg, sig []byte) bool {
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(msg)

	return parsed.Verify(digest[:], pub)
}
