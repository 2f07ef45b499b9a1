// Package kyc issues identity certificates, anchors them on chain for
// revocation and decides whether a certificate currently admits deposits.
package kyc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/build"
	"github.com/exchangelabs/exchanged/certdb"
	"github.com/exchangelabs/exchanged/sanctions"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	// DefaultValidity is how long a certificate stays valid after
	// issuance.
	DefaultValidity = 24 * time.Hour

	// DefaultLookupTimeout bounds a single revocation lookup.
	DefaultLookupTimeout = 3 * time.Second

	// ValidationMethod is recorded in certificates issued against a
	// signed authorization.
	ValidationMethod = "signed-authorization"
)

var (
	// ErrNotAuthorized is returned when a requester may not act on a
	// certificate.
	ErrNotAuthorized = errors.New("requester not authorized for " +
		"certificate")

	// ErrWrongCertifier is returned when issuance names a certifier other
	// than this exchange.
	ErrWrongCertifier = errors.New("certifier is not this exchange")

	// ErrInvalidKey is returned for a malformed identity key.
	ErrInvalidKey = errors.New("invalid identity key")

	// ErrMissingName is returned when issuance carries no official name.
	ErrMissingName = errors.New("official name required")

	// ErrScreeningUnavailable is returned when sanctions screening failed
	// and the engine is configured to fail closed.
	ErrScreeningUnavailable = errors.New("sanctions screening unavailable")

	// ErrOutpointUnknown is returned by a SpendLookup when the chain
	// backend does not know the transaction of the outpoint.
	ErrOutpointUnknown = errors.New("outpoint unknown to chain backend")
)

// SpendLookup reports whether an on-chain outpoint has been spent.
type SpendLookup interface {
	// IsOutpointSpent returns ErrOutpointUnknown if the backend has never
	// seen the outpoint's transaction. An unknown anchor is not revoked.
	IsOutpointSpent(ctx context.Context, op wire.OutPoint) (bool, error)
}

// Config holds the collaborators and policy of the Engine.
type Config struct {
	Store    certdb.Store
	Wallet   wallet.Capability
	Screener sanctions.Screener

	// SpendLookup follows revocation anchors. Without it only the store
	// flag revokes a certificate.
	SpendLookup SpendLookup

	Clock clock.Clock

	// ChainParams selects the network of the anchor's multisig keys.
	ChainParams *chaincfg.Params

	Validity      time.Duration
	LookupTimeout time.Duration

	// RevocationFailClosed treats a failed revocation lookup as revoked.
	RevocationFailClosed bool

	// SanctionsFailClosed rejects issuance and deposits when screening
	// fails.
	SanctionsFailClosed bool

	// DisableAnchors issues certificates without a revocation anchor.
	DisableAnchors bool

	// OnFailOpen, if set, is called with the failing source each time a
	// lookup error is ignored.
	OnFailOpen func(source FailOpenSource)
}

// FailOpenSource names the external lookup whose failure was ignored.
type FailOpenSource string

const (
	// FailOpenSanctions is a failed sanctions screening.
	FailOpenSanctions FailOpenSource = "sanctions"

	// FailOpenRevocation is a failed revocation anchor lookup.
	FailOpenRevocation FailOpenSource = "revocation"
)

func (e *Engine) failOpen(source FailOpenSource) {
	if e.cfg.OnFailOpen != nil {
		e.cfg.OnFailOpen(source)
	}
}

// Engine is the certificate engine of the exchange.
type Engine struct {
	cfg *Config

	identityMtx sync.Mutex
	identity    *btcec.PublicKey
}

// New creates an Engine, filling in defaults for unset policy values.
func New(cfg *Config) *Engine {
	if cfg.Validity == 0 {
		cfg.Validity = DefaultValidity
	}
	if cfg.LookupTimeout == 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.ChainParams == nil {
		cfg.ChainParams = &chaincfg.MainNetParams
	}

	return &Engine{cfg: cfg}
}

// IdentityKey returns the exchange's identity key, fetched once from the
// wallet.
func (e *Engine) IdentityKey(ctx context.Context) (*btcec.PublicKey, error) {
	e.identityMtx.Lock()
	defer e.identityMtx.Unlock()

	if e.identity != nil {
		return e.identity, nil
	}

	key, err := e.cfg.Wallet.GetIdentityKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch exchange identity: %w",
			err)
	}
	e.identity = key

	return key, nil
}

// ParseIdentityKey decodes a hex encoded compressed identity key.
func ParseIdentityKey(keyHex string) (*btcec.PublicKey, error) {
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	key, err := btcec.ParsePubKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	return key, nil
}

// KeyHex is the canonical text form of an identity key.
func KeyHex(key *btcec.PublicKey) string {
	return hex.EncodeToString(key.SerializeCompressed())
}

// Issue builds an unsigned certificate with a fresh serial number and a
// validity window starting now. Timestamps are kept at second precision,
// the precision the certificate digest commits to.
func (e *Engine) Issue(subject, certifierKey, officialName string,
	sanctionsResult certdb.SanctionsResult) *certdb.Certificate {

	issuedAt := e.cfg.Clock.Now().UTC().Truncate(time.Second)

	status := certdb.SanctionsClear
	if sanctionsResult.Sanctioned {
		status = certdb.SanctionsMatched
	}

	return &certdb.Certificate{
		Type:      certdb.CertificateType,
		Subject:   subject,
		Certifier: certifierKey,
		Fields: certdb.Fields{
			OfficialName:     officialName,
			ValidationMethod: ValidationMethod,
			SerialNumber:     uuid.NewString(),
			SanctionsStatus:  status,
			IssuedAt:         issuedAt,
			ExpiresAt:        issuedAt.Add(e.cfg.Validity),
		},
		RevocationOutpoint: fn.None[wire.OutPoint](),
	}
}

// IsExpired reports whether the certificate's validity window has passed.
func (e *Engine) IsExpired(cert *certdb.Certificate) bool {
	return e.cfg.Clock.Now().After(cert.Fields.ExpiresAt)
}

// Screen runs sanctions screening on the name. When the source fails the
// result is unchecked and clear unless the engine fails closed.
func (e *Engine) Screen(ctx context.Context,
	name string) (certdb.SanctionsResult, error) {

	result := certdb.SanctionsResult{
		MatchedEntity: fn.None[string](),
		CheckedAt:     e.cfg.Clock.Now().UTC().Truncate(time.Second),
	}

	match, err := e.cfg.Screener.Check(ctx, name)
	switch {
	case errors.Is(err, sanctions.ErrEmptyName):
		return result, ErrMissingName

	case err != nil && e.cfg.SanctionsFailClosed:
		return result, fmt.Errorf("%w: %w", ErrScreeningUnavailable, err)

	case err != nil:
		log.Warnf("Sanctions screening failed, treating %q as clear: "+
			"%v", name, err)
		e.failOpen(FailOpenSanctions)

		return result, nil
	}

	result.Checked = true
	result.Sanctioned = match.Sanctioned
	result.MatchedEntity = match.MatchedEntity

	return result, nil
}

// IssueRequest asks for a certificate for a subject.
type IssueRequest struct {
	Subject      *btcec.PublicKey
	CertifierKey *btcec.PublicKey
	OfficialName string

	// SignedAuthorization is the subject's DER signature over
	// AuthorizationDigest.
	SignedAuthorization []byte
}

// IssueResult is the outcome of a successful issuance.
type IssueResult struct {
	Certificate     *certdb.Certificate
	SanctionsResult certdb.SanctionsResult

	// AnchorPayment is the raw anchor payment, absent when anchoring
	// failed.
	AnchorPayment fn.Option[[]byte]
}

// IssueCertificate runs the full issuance flow: authorization check,
// sanctions screening, certificate creation, revocation anchoring, signing
// and storage. A failed anchor does not fail issuance.
func (e *Engine) IssueCertificate(ctx context.Context,
	req *IssueRequest) (*IssueResult, error) {

	if req.OfficialName == "" {
		return nil, ErrMissingName
	}

	exchangeKey, err := e.IdentityKey(ctx)
	if err != nil {
		return nil, err
	}
	if !req.CertifierKey.IsEqual(exchangeKey) {
		return nil, ErrWrongCertifier
	}

	err = VerifyAuthorization(
		req.Subject, req.CertifierKey, req.OfficialName,
		req.SignedAuthorization,
	)
	if err != nil {
		return nil, err
	}

	screening, err := e.Screen(ctx, req.OfficialName)
	if err != nil {
		return nil, err
	}

	subject := KeyHex(req.Subject)
	cert := e.Issue(subject, KeyHex(exchangeKey), req.OfficialName,
		screening)

	result := &IssueResult{
		Certificate:     cert,
		SanctionsResult: screening,
		AnchorPayment:   fn.None[[]byte](),
	}

	if !e.cfg.DisableAnchors {
		anchor, err := e.CreateRevocationAnchor(
			ctx, req.Subject, exchangeKey, cert.Fields.SerialNumber,
		)
		if err != nil {
			log.Warnf("Issuing certificate %s without revocation "+
				"anchor: %v", cert.Fields.SerialNumber, err)
		} else {
			cert.RevocationOutpoint = fn.Some(anchor.Outpoint)
			result.AnchorPayment = fn.Some(anchor.RawPayment)
		}
	}

	digest, err := cert.Digest()
	if err != nil {
		return nil, err
	}
	cert.Signature, err = e.cfg.Wallet.CreateSignature(ctx, digest)
	if err != nil {
		return nil, fmt.Errorf("unable to sign certificate: %w", err)
	}

	now := e.cfg.Clock.Now().UTC()
	err = e.cfg.Store.UpsertCertificate(ctx, &certdb.Record{
		IdentityKey:     subject,
		Certificate:     *cert,
		SanctionsResult: screening,
		RevokedAt:       fn.None[time.Time](),
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to store certificate: %w", err)
	}

	log.Tracef("Issued certificate: %v", build.SpewLogClosure(cert))
	log.Infof("Issued certificate %s to %s (sanctions=%s, anchored=%v)",
		cert.Fields.SerialNumber, subject, cert.Fields.SanctionsStatus,
		cert.RevocationOutpoint.IsSome())

	return result, nil
}

// CurrentCertificate returns the latest certificate of the subject.
func (e *Engine) CurrentCertificate(ctx context.Context,
	subject string) (*certdb.Record, error) {

	return e.cfg.Store.FetchCurrent(ctx, subject)
}

// Status is the revocation state of a certificate.
type Status struct {
	Record *certdb.Record

	// Revoked is set if the store flag is set or the anchor is spent.
	Revoked bool
}

// Status looks up a certificate by serial and combines the store flag with
// the on-chain state of its anchor.
func (e *Engine) Status(ctx context.Context, serial string) (*Status, error) {
	record, err := e.cfg.Store.FetchBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	return &Status{Record: record, Revoked: e.revoked(ctx, record)}, nil
}

// Revoke marks the certificate revoked in the store. Only the subject or
// the certifier may revoke, and revoking twice is not an error.
func (e *Engine) Revoke(ctx context.Context, serial,
	requester string) (*certdb.Record, error) {

	record, err := e.cfg.Store.FetchBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}

	cert := record.Certificate
	if requester != cert.Subject && requester != cert.Certifier {
		return nil, ErrNotAuthorized
	}

	record, err = e.cfg.Store.MarkRevoked(ctx, serial, e.cfg.Clock.Now())
	if err != nil {
		return nil, err
	}

	log.Infof("Certificate %s revoked by %s", serial, requester)

	return record, nil
}

// revoked combines the store flag with the anchor state, mirroring a spent
// anchor into the store.
func (e *Engine) revoked(ctx context.Context, record *certdb.Record) bool {
	if record.Revoked {
		return true
	}

	var spent bool
	record.Certificate.RevocationOutpoint.WhenSome(func(op wire.OutPoint) {
		spent = e.CheckRevocationStatus(ctx, op)
	})
	if !spent {
		return false
	}

	serial := record.Certificate.Fields.SerialNumber
	_, err := e.cfg.Store.MarkRevoked(ctx, serial, e.cfg.Clock.Now())
	if err != nil {
		log.Errorf("Unable to mirror revocation of %s: %v", serial, err)
	}

	return true
}

// ListAnchors lists the wallet's revocation anchor payments.
func (e *Engine) ListAnchors(ctx context.Context,
	limit uint32) ([]wallet.Action, error) {

	return e.cfg.Wallet.ListLabeledActions(
		ctx, []string{RevocationLabel}, limit,
	)
}
