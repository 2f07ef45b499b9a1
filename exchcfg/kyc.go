package exchcfg

import (
	"fmt"
	"time"
)

// DefaultCertificateValidity is how long an issued certificate is valid.
const DefaultCertificateValidity = 24 * time.Hour

// KYC holds the certificate policy.
//
//nolint:ll
type KYC struct {
	Validity time.Duration `long:"validity" description:"How long an issued certificate stays valid."`

	RevocationFailClosed bool `long:"revocationfailclosed" description:"Treat a certificate as revoked while its revocation anchor cannot be looked up."`

	NoAnchor bool `long:"noanchor" description:"Issue certificates without an on-chain revocation anchor."`
}

// DefaultKYC returns a new KYC config with default values populated.
func DefaultKYC() *KYC {
	return &KYC{
		Validity: DefaultCertificateValidity,
	}
}

// Validate checks the certificate policy.
func (k *KYC) Validate() error {
	if k.Validity < time.Minute {
		return fmt.Errorf("kyc.validity must be at least one minute, "+
			"got %v", k.Validity)
	}

	return nil
}

var _ Validator = (*KYC)(nil)
