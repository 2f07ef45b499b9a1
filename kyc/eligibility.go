package kyc

import (
	"context"
	"errors"
	"fmt"

	"github.com/exchangelabs/exchanged/certdb"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Reason says why a certificate does not admit a deposit.
type Reason string

const (
	// ReasonMissing means the requester has no certificate.
	ReasonMissing Reason = "missing"

	// ReasonSubjectMismatch means the certificate belongs to another
	// identity.
	ReasonSubjectMismatch Reason = "subject-mismatch"

	// ReasonWrongIssuer means the certificate was not issued by this
	// exchange.
	ReasonWrongIssuer Reason = "wrong-issuer"

	// ReasonExpired means the validity window has passed.
	ReasonExpired Reason = "expired"

	// ReasonRevoked means the certificate was revoked in the store or its
	// anchor was spent.
	ReasonRevoked Reason = "revoked"

	// ReasonSanctioned means the official name matches a sanctioned
	// entity.
	ReasonSanctioned Reason = "sanctioned"
)

// CertificateInvalidError is returned when a certificate fails the
// eligibility check.
type CertificateInvalidError struct {
	Reason Reason
	Serial string
}

// Error implements the error interface.
func (e *CertificateInvalidError) Error() string {
	if e.Serial == "" {
		return fmt.Sprintf("certificate invalid: %s", e.Reason)
	}

	return fmt.Sprintf("certificate %s invalid: %s", e.Serial, e.Reason)
}

// InvalidReason returns the reason carried by err, if it is a
// CertificateInvalidError.
func InvalidReason(err error) fn.Option[Reason] {
	var invalid *CertificateInvalidError
	if errors.As(err, &invalid) {
		return fn.Some(invalid.Reason)
	}

	return fn.None[Reason]()
}

// CheckEligibility decides whether the requester's certificate admits a
// deposit. The certificate is the one with the given serial, or the
// requester's current one. Checks run in order and stop at the first
// failure: existence, subject, issuer, expiry, revocation and a fresh
// sanctions screening.
func (e *Engine) CheckEligibility(ctx context.Context, requester string,
	serial fn.Option[string]) (*certdb.Record, error) {

	var (
		record *certdb.Record
		err    error
	)
	if serial.IsSome() {
		record, err = e.cfg.Store.FetchBySerial(ctx, serial.UnwrapOr(""))
	} else {
		record, err = e.cfg.Store.FetchCurrent(ctx, requester)
	}
	switch {
	case errors.Is(err, certdb.ErrCertificateNotFound):
		return nil, &CertificateInvalidError{
			Reason: ReasonMissing,
			Serial: serial.UnwrapOr(""),
		}

	case err != nil:
		return nil, err
	}

	cert := &record.Certificate
	invalid := func(reason Reason) error {
		log.Infof("Rejecting certificate %s of %s: %s",
			cert.Fields.SerialNumber, requester, reason)

		return &CertificateInvalidError{
			Reason: reason,
			Serial: cert.Fields.SerialNumber,
		}
	}

	if cert.Subject != requester {
		return nil, invalid(ReasonSubjectMismatch)
	}

	exchangeKey, err := e.IdentityKey(ctx)
	if err != nil {
		return nil, err
	}
	if cert.Certifier != KeyHex(exchangeKey) {
		return nil, invalid(ReasonWrongIssuer)
	}

	if e.IsExpired(cert) {
		return nil, invalid(ReasonExpired)
	}

	if e.revoked(ctx, record) {
		return nil, invalid(ReasonRevoked)
	}

	if cert.Fields.SanctionsStatus == certdb.SanctionsMatched {
		return nil, invalid(ReasonSanctioned)
	}

	screening, err := e.Screen(ctx, cert.Fields.OfficialName)
	if err != nil {
		return nil, err
	}
	if screening.Sanctioned {
		return nil, invalid(ReasonSanctioned)
	}

	return record, nil
}
