package certdb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// CertificateType is the type tag carried by every identity certificate.
const CertificateType = "kyc-identity"

var (
	// ErrCertificateNotFound is returned when no certificate matches a
	// lookup.
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrDuplicateSerial is returned when a certificate is stored with a
	// serial number that is already taken.
	ErrDuplicateSerial = errors.New("duplicate certificate serial number")
)

// SanctionsStatus is the screening outcome recorded in a certificate.
type SanctionsStatus string

const (
	// SanctionsClear means the name did not match the sanctions source.
	SanctionsClear SanctionsStatus = "clear"

	// SanctionsMatched means the name matched a sanctioned entity.
	SanctionsMatched SanctionsStatus = "matched"
)

// Fields are the attested attributes of a certificate.
type Fields struct {
	OfficialName     string
	ValidationMethod string
	SerialNumber     string
	SanctionsStatus  SanctionsStatus
	IssuedAt         time.Time
	ExpiresAt        time.Time
}

// Certificate binds a subject identity key to attested fields, issued by a
// certifier.
type Certificate struct {
	Type string

	// Subject and Certifier are hex encoded compressed public keys.
	Subject   string
	Certifier string

	Fields Fields

	// RevocationOutpoint is the on-chain anchor whose spend revokes the
	// certificate. A certificate without one can only be revoked through
	// the store flag.
	RevocationOutpoint fn.Option[wire.OutPoint]

	// Signature is the certifier's DER signature over Digest.
	Signature []byte
}

// Digest is the hash the certifier signs. It covers every field except the
// signature. Timestamps are committed at second precision.
func (c *Certificate) Digest() ([32]byte, error) {
	var buf bytes.Buffer
	if err := encodeCertificate(&buf, c, false); err != nil {
		return [32]byte{}, err
	}

	return sha256.Sum256(buf.Bytes()), nil
}

// SanctionsResult is the outcome of screening the official name at issuance.
type SanctionsResult struct {
	// Checked is false when the screening source was unavailable.
	Checked bool

	Sanctioned    bool
	MatchedEntity fn.Option[string]
	CheckedAt     time.Time
}

// Record is the stored form of a certificate.
type Record struct {
	IdentityKey     string
	Certificate     Certificate
	SanctionsResult SanctionsResult

	// Revoked mirrors the on-chain state of the anchor as last observed,
	// or an explicit revocation request.
	Revoked   bool
	RevokedAt fn.Option[time.Time]

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists certificates by serial number and tracks the current
// certificate of each subject.
type Store interface {
	// UpsertCertificate stores a newly issued certificate and makes it the
	// current certificate of its subject. Older certificates stay
	// addressable by serial.
	UpsertCertificate(ctx context.Context, r *Record) error

	// FetchCurrent returns the latest certificate of the subject.
	FetchCurrent(ctx context.Context, identityKey string) (*Record, error)

	// FetchBySerial returns the certificate with the serial number.
	FetchBySerial(ctx context.Context, serial string) (*Record, error)

	// MarkRevoked flags the certificate as revoked. Revoking twice keeps
	// the first revocation time and is not an error.
	MarkRevoked(ctx context.Context, serial string,
		revokedAt time.Time) (*Record, error)

	// ListBySubject returns every certificate of the subject, newest
	// first.
	ListBySubject(ctx context.Context, identityKey string) ([]*Record,
		error)
}

const (
	certTypeType             tlv.Type = 0
	certSubjectType          tlv.Type = 1
	certCertifierType        tlv.Type = 2
	certOfficialNameType     tlv.Type = 3
	certValidationMethodType tlv.Type = 4
	certSerialType           tlv.Type = 5
	certSanctionsStatusType  tlv.Type = 6
	certIssuedAtType         tlv.Type = 7
	certExpiresAtType        tlv.Type = 8
	certOutpointType         tlv.Type = 9
	certSignatureType        tlv.Type = 10
)

// certRecords is the decoding target of a certificate tlv stream.
type certRecords struct {
	certType, subject, certifier     []byte
	officialName, validation, serial []byte
	sanctionsStatus, outpoint, sig   []byte
	issuedAt, expiresAt              uint64
}

func (r *certRecords) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(certTypeType, &r.certType),
		tlv.MakePrimitiveRecord(certSubjectType, &r.subject),
		tlv.MakePrimitiveRecord(certCertifierType, &r.certifier),
		tlv.MakePrimitiveRecord(certOfficialNameType, &r.officialName),
		tlv.MakePrimitiveRecord(certValidationMethodType, &r.validation),
		tlv.MakePrimitiveRecord(certSerialType, &r.serial),
		tlv.MakePrimitiveRecord(
			certSanctionsStatusType, &r.sanctionsStatus,
		),
		tlv.MakePrimitiveRecord(certIssuedAtType, &r.issuedAt),
		tlv.MakePrimitiveRecord(certExpiresAtType, &r.expiresAt),
		tlv.MakePrimitiveRecord(certOutpointType, &r.outpoint),
		tlv.MakePrimitiveRecord(certSignatureType, &r.sig),
	}
}

// encodeCertificate writes the certificate as a tlv stream. The signature is
// only included when withSig is set.
func encodeCertificate(w *bytes.Buffer, c *Certificate, withSig bool) error {
	r := &certRecords{
		certType:        []byte(c.Type),
		subject:         []byte(c.Subject),
		certifier:       []byte(c.Certifier),
		officialName:    []byte(c.Fields.OfficialName),
		validation:      []byte(c.Fields.ValidationMethod),
		serial:          []byte(c.Fields.SerialNumber),
		sanctionsStatus: []byte(c.Fields.SanctionsStatus),
		issuedAt:        uint64(c.Fields.IssuedAt.Unix()),
		expiresAt:       uint64(c.Fields.ExpiresAt.Unix()),
	}

	all := r.records()
	records := append([]tlv.Record{}, all[:certOutpointType]...)
	c.RevocationOutpoint.WhenSome(func(op wire.OutPoint) {
		r.outpoint = []byte(op.String())
		records = append(records, all[certOutpointType])
	})
	if withSig && len(c.Signature) > 0 {
		r.sig = c.Signature
		records = append(records, all[certSignatureType])
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// decodeCertificate reads a certificate written with the signature included.
// Timestamps are restored at second precision.
func decodeCertificate(raw []byte) (*Certificate, error) {
	var r certRecords
	stream, err := tlv.NewStream(r.records()...)
	if err != nil {
		return nil, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	cert := &Certificate{
		Type:      string(r.certType),
		Subject:   string(r.subject),
		Certifier: string(r.certifier),
		Fields: Fields{
			OfficialName:     string(r.officialName),
			ValidationMethod: string(r.validation),
			SerialNumber:     string(r.serial),
			SanctionsStatus:  SanctionsStatus(r.sanctionsStatus),
			IssuedAt: time.Unix(
				int64(r.issuedAt), 0,
			).UTC(),
			ExpiresAt: time.Unix(
				int64(r.expiresAt), 0,
			).UTC(),
		},
		Signature: r.sig,
	}

	if _, ok := parsed[certOutpointType]; ok {
		op, err := wire.NewOutPointFromString(string(r.outpoint))
		if err != nil {
			return nil, err
		}
		cert.RevocationOutpoint = fn.Some(*op)
	}

	return cert, nil
}
