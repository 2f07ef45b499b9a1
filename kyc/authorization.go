package kyc

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/exchangelabs/exchanged/certdb"
)

var (
	// ErrInvalidAuthorization is returned when the subject's signed
	// authorization does not verify.
	ErrInvalidAuthorization = errors.New("invalid signed authorization")

	// ErrInvalidSignature is returned when a certificate's signature does
	// not verify under its certifier key.
	ErrInvalidSignature = errors.New("invalid certificate signature")
)

// AuthorizationDigest is the digest a subject signs to request a
// certificate.
func AuthorizationDigest(subject, certifier *btcec.PublicKey,
	officialName string) [32]byte {

	msg := "kyc-authorization:" + KeyHex(subject) + ":" +
		KeyHex(certifier) + ":" + officialName

	return sha256.Sum256([]byte(msg))
}

// SignAuthorization signs an authorization with the subject's private key.
func SignAuthorization(subject *btcec.PrivateKey,
	certifier *btcec.PublicKey, officialName string) []byte {

	digest := AuthorizationDigest(subject.PubKey(), certifier, officialName)

	return ecdsa.Sign(subject, digest[:]).Serialize()
}

// VerifyAuthorization checks the subject's DER signature over the
// authorization digest.
func VerifyAuthorization(subject, certifier *btcec.PublicKey,
	officialName string, sig []byte) error {

	if len(sig) == 0 {
		return fmt.Errorf("%w: missing signature",
			ErrInvalidAuthorization)
	}

	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidAuthorization, err)
	}

	digest := AuthorizationDigest(subject, certifier, officialName)
	if !parsed.Verify(digest[:], subject) {
		return ErrInvalidAuthorization
	}

	return nil
}

// VerifyCertificate checks the certifier's signature over the certificate.
func VerifyCertificate(cert *certdb.Certificate) error {
	certifier, err := ParseIdentityKey(cert.Certifier)
	if err != nil {
		return err
	}

	sig, err := ecdsa.ParseDERSignature(cert.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	digest, err := cert.Digest()
	if err != nil {
		return err
	}
	if !sig.Verify(digest[:], certifier) {
		return ErrInvalidSignature
	}

	return nil
}
