package kyc

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/certdb"
	"github.com/exchangelabs/exchanged/exchmock"
	"github.com/exchangelabs/exchanged/sanctions"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/exchangelabs/exchanged/wallet/memwallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

const testList = "Ivan Petrov\nAcme Shell Holdings\n"

type harness struct {
	t *testing.T

	engine      *Engine
	cfg         *Config
	wallet      *memwallet.Wallet
	store       certdb.Store
	clock       *clock.TestClock
	spends      *exchmock.MockSpendLookup
	exchangeKey *btcec.PublicKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	backend, cleanup, err := kvdb.GetTestBackend(t.TempDir(), "kyc")
	require.NoError(t, err)
	t.Cleanup(cleanup)

	store, err := certdb.NewKVStore(backend)
	require.NoError(t, err)

	w, err := memwallet.NewRandom()
	require.NoError(t, err)
	_, err = w.AddFunds(10_000)
	require.NoError(t, err)

	screener, err := sanctions.NewListScreenerFromReader(
		strings.NewReader(testList),
	)
	require.NoError(t, err)

	spends := &exchmock.MockSpendLookup{}
	testClock := clock.NewTestClock(testTime)

	cfg := &Config{
		Store:       store,
		Wallet:      w,
		Screener:    screener,
		SpendLookup: spends,
		Clock:       testClock,
		ChainParams: &chaincfg.RegressionNetParams,
	}

	exchangeKey, err := w.GetIdentityKey(context.Background())
	require.NoError(t, err)

	return &harness{
		t:           t,
		engine:      New(cfg),
		cfg:         cfg,
		wallet:      w,
		store:       store,
		clock:       testClock,
		spends:      spends,
		exchangeKey: exchangeKey,
	}
}

// issue issues a certificate for a fresh subject.
func (h *harness) issue(name string) (*btcec.PrivateKey, *IssueResult) {
	h.t.Helper()

	subject, err := btcec.NewPrivateKey()
	require.NoError(h.t, err)

	result, err := h.engine.IssueCertificate(
		context.Background(), &IssueRequest{
			Subject:      subject.PubKey(),
			CertifierKey: h.exchangeKey,
			OfficialName: name,
			SignedAuthorization: SignAuthorization(
				subject, h.exchangeKey, name,
			),
		},
	)
	require.NoError(h.t, err)

	return subject, result
}

func requireReason(t *testing.T, err error, reason Reason) {
	t.Helper()

	var invalid *CertificateInvalidError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, reason, invalid.Reason)
}

// TestIssueCertificate checks a certificate is issued, anchored, signed and
// stored.
func TestIssueCertificate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	subject, result := h.issue("Jane Doe")
	cert := result.Certificate

	require.Equal(t, certdb.CertificateType, cert.Type)
	require.Equal(t, KeyHex(subject.PubKey()), cert.Subject)
	require.Equal(t, KeyHex(h.exchangeKey), cert.Certifier)
	require.Equal(t, ValidationMethod, cert.Fields.ValidationMethod)
	require.Equal(t, certdb.SanctionsClear, cert.Fields.SanctionsStatus)
	require.Equal(t, testTime, cert.Fields.IssuedAt)
	require.Equal(t, testTime.Add(24*time.Hour), cert.Fields.ExpiresAt)
	require.True(t, result.SanctionsResult.Checked)
	require.False(t, result.SanctionsResult.Sanctioned)
	require.NoError(t, VerifyCertificate(cert))

	// The anchor pays 1 unit to a 1-of-2 multisig and commits to the
	// serial in the second output.
	raw := result.AnchorPayment.UnwrapOrFail(t)
	tx, err := brc29.ParsePayment(raw)
	require.NoError(t, err)
	require.Equal(t, wire.OutPoint{Hash: tx.TxHash(), Index: 0},
		cert.RevocationOutpoint.UnwrapOrFail(t))

	require.EqualValues(t, 1, tx.TxOut[0].Value)
	require.Equal(t, txscript.MultiSigTy,
		txscript.GetScriptClass(tx.TxOut[0].PkScript))

	require.Zero(t, tx.TxOut[1].Value)
	pushes, err := txscript.PushedData(tx.TxOut[1].PkScript)
	require.NoError(t, err)
	require.Equal(t, "KYC:"+cert.Fields.SerialNumber, string(pushes[0]))

	record, err := h.engine.CurrentCertificate(ctx, cert.Subject)
	require.NoError(t, err)
	require.Equal(t, cert.Fields.SerialNumber,
		record.Certificate.Fields.SerialNumber)
	require.NoError(t, VerifyCertificate(&record.Certificate))

	anchors, err := h.engine.ListAnchors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	require.Equal(t, tx.TxHash(), anchors[0].TxID)

	// Tampering with a field breaks the signature.
	tampered := *cert
	tampered.Fields.OfficialName = "John Doe"
	require.ErrorIs(t, VerifyCertificate(&tampered), ErrInvalidSignature)
}

// TestIssueRejects checks issuance preconditions.
func TestIssueRejects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	subject, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	tests := []struct {
		name string
		req  *IssueRequest
		err  error
	}{
		{
			name: "wrong certifier",
			req: &IssueRequest{
				Subject:      subject.PubKey(),
				CertifierKey: other.PubKey(),
				OfficialName: "Jane Doe",
				SignedAuthorization: SignAuthorization(
					subject, other.PubKey(), "Jane Doe",
				),
			},
			err: ErrWrongCertifier,
		},
		{
			name: "signed by someone else",
			req: &IssueRequest{
				Subject:      subject.PubKey(),
				CertifierKey: h.exchangeKey,
				OfficialName: "Jane Doe",
				SignedAuthorization: SignAuthorization(
					other, h.exchangeKey, "Jane Doe",
				),
			},
			err: ErrInvalidAuthorization,
		},
		{
			name: "signed for another name",
			req: &IssueRequest{
				Subject:      subject.PubKey(),
				CertifierKey: h.exchangeKey,
				OfficialName: "Jane Doe",
				SignedAuthorization: SignAuthorization(
					subject, h.exchangeKey, "John Doe",
				),
			},
			err: ErrInvalidAuthorization,
		},
		{
			name: "missing signature",
			req: &IssueRequest{
				Subject:      subject.PubKey(),
				CertifierKey: h.exchangeKey,
				OfficialName: "Jane Doe",
			},
			err: ErrInvalidAuthorization,
		},
		{
			name: "missing name",
			req: &IssueRequest{
				Subject:      subject.PubKey(),
				CertifierKey: h.exchangeKey,
			},
			err: ErrMissingName,
		},
	}
	for _, test := range tests {
		_, err := h.engine.IssueCertificate(ctx, test.req)
		require.ErrorIs(t, err, test.err, test.name)
	}

	_, err = h.engine.CurrentCertificate(ctx, KeyHex(subject.PubKey()))
	require.ErrorIs(t, err, certdb.ErrCertificateNotFound)
}

// TestIssueWithoutAnchor checks a failed anchor does not fail issuance.
func TestIssueWithoutAnchor(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	// A wallet without coins cannot fund the anchor.
	empty, err := memwallet.NewRandom()
	require.NoError(t, err)
	h.cfg.Wallet = empty
	h.engine = New(h.cfg)
	h.exchangeKey, err = empty.GetIdentityKey(context.Background())
	require.NoError(t, err)

	subject, result := h.issue("Jane Doe")
	require.True(t, result.AnchorPayment.IsNone())
	require.True(t, result.Certificate.RevocationOutpoint.IsNone())
	require.NoError(t, VerifyCertificate(result.Certificate))

	// Without an anchor the chain is never consulted and only the store
	// flag revokes.
	_, err = h.engine.CheckEligibility(
		context.Background(), KeyHex(subject.PubKey()),
		fn.None[string](),
	)
	require.NoError(t, err)
	h.spends.AssertNotCalled(t, "IsOutpointSpent", mock.Anything,
		mock.Anything)
}

// TestDisableAnchors checks no anchor payment is made when anchors are
// disabled.
func TestDisableAnchors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.DisableAnchors = true

	_, result := h.issue("Jane Doe")
	require.True(t, result.AnchorPayment.IsNone())
	require.True(t, result.Certificate.RevocationOutpoint.IsNone())
	require.EqualValues(t, 10_000, h.wallet.Balance())

	anchors, err := h.engine.ListAnchors(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, anchors)
}

// TestSanctionedName checks a listed name is recorded as matched and later
// rejected as sanctioned although otherwise valid.
func TestSanctionedName(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(false, nil)

	subject, result := h.issue("Ivan Petrov")
	require.Equal(t, certdb.SanctionsMatched,
		result.Certificate.Fields.SanctionsStatus)
	require.True(t, result.SanctionsResult.Sanctioned)
	require.Equal(t, "Ivan Petrov",
		result.SanctionsResult.MatchedEntity.UnwrapOr(""))

	_, err := h.engine.CheckEligibility(
		context.Background(), KeyHex(subject.PubKey()),
		fn.None[string](),
	)
	requireReason(t, err, ReasonSanctioned)
}

// TestNewlySanctioned checks the name is screened again on every check.
func TestNewlySanctioned(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(false, nil)

	subject, _ := h.issue("Jane Doe")
	requester := KeyHex(subject.PubKey())

	_, err := h.engine.CheckEligibility(
		context.Background(), requester, fn.None[string](),
	)
	require.NoError(t, err)

	listed, err := sanctions.NewListScreenerFromReader(
		strings.NewReader("Jane Doe\n"),
	)
	require.NoError(t, err)
	h.cfg.Screener = listed

	_, err = h.engine.CheckEligibility(
		context.Background(), requester, fn.None[string](),
	)
	requireReason(t, err, ReasonSanctioned)
}

// TestExpiry checks the validity window boundary.
func TestExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(false, nil)

	subject, result := h.issue("Jane Doe")
	requester := KeyHex(subject.PubKey())
	ctx := context.Background()

	h.clock.SetTime(testTime.Add(24 * time.Hour))
	require.False(t, h.engine.IsExpired(result.Certificate))
	_, err := h.engine.CheckEligibility(ctx, requester, fn.None[string]())
	require.NoError(t, err)

	h.clock.SetTime(testTime.Add(24*time.Hour + time.Second))
	require.True(t, h.engine.IsExpired(result.Certificate))
	_, err = h.engine.CheckEligibility(ctx, requester, fn.None[string]())
	requireReason(t, err, ReasonExpired)
}

// TestRevocationLookupFailOpen checks a failing lookup does not revoke, and
// that the fail-closed switch flips that.
func TestRevocationLookupFailOpen(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(false, errors.New("connection refused"))

	var events []FailOpenSource
	h.cfg.OnFailOpen = func(source FailOpenSource) {
		events = append(events, source)
	}

	subject, result := h.issue("Jane Doe")
	requester := KeyHex(subject.PubKey())
	ctx := context.Background()
	outpoint := result.Certificate.RevocationOutpoint.UnwrapOrFail(t)

	require.False(t, h.engine.CheckRevocationStatus(ctx, outpoint))
	_, err := h.engine.CheckEligibility(ctx, requester, fn.None[string]())
	require.NoError(t, err)
	require.Equal(t, []FailOpenSource{
		FailOpenRevocation, FailOpenRevocation,
	}, events)

	h.cfg.RevocationFailClosed = true
	require.True(t, h.engine.CheckRevocationStatus(ctx, outpoint))
	_, err = h.engine.CheckEligibility(ctx, requester, fn.None[string]())
	requireReason(t, err, ReasonRevoked)
	require.Len(t, events, 2)
}

// TestRevocationLookupNotFound checks an unknown anchor is not revoked even
// when failing closed.
func TestRevocationLookupNotFound(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.RevocationFailClosed = true
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(false, ErrOutpointUnknown)

	_, result := h.issue("Jane Doe")
	outpoint := result.Certificate.RevocationOutpoint.UnwrapOrFail(t)
	require.False(t, h.engine.CheckRevocationStatus(
		context.Background(), outpoint,
	))
}

// reversingWallet lays out payment outputs in the opposite order of the
// request, like a wallet that shuffles outputs.
type reversingWallet struct {
	*memwallet.Wallet
}

func (w *reversingWallet) CreatePayment(ctx context.Context,
	req *wallet.PaymentRequest) (*wallet.Payment, error) {

	reordered := *req
	reordered.Outputs = slices.Clone(req.Outputs)
	slices.Reverse(reordered.Outputs)

	return w.Wallet.CreatePayment(ctx, &reordered)
}

// droppingWallet funds only the last requested output.
type droppingWallet struct {
	*memwallet.Wallet
}

func (w *droppingWallet) CreatePayment(ctx context.Context,
	req *wallet.PaymentRequest) (*wallet.Payment, error) {

	trimmed := *req
	trimmed.Outputs = req.Outputs[len(req.Outputs)-1:]

	return w.Wallet.CreatePayment(ctx, &trimmed)
}

// TestAnchorOutputOrder checks the recorded anchor is the multisig output
// wherever the wallet places it, and that spending it revokes.
func TestAnchorOutputOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Wallet = &reversingWallet{Wallet: h.wallet}

	subject, result := h.issue("Jane Doe")
	cert := result.Certificate
	outpoint := cert.RevocationOutpoint.UnwrapOrFail(t)

	tx, err := brc29.ParsePayment(result.AnchorPayment.UnwrapOrFail(t))
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), outpoint.Hash)
	require.EqualValues(t, 1, outpoint.Index)
	require.Equal(t, txscript.NullDataTy,
		txscript.GetScriptClass(tx.TxOut[0].PkScript))
	require.Equal(t, txscript.MultiSigTy,
		txscript.GetScriptClass(tx.TxOut[outpoint.Index].PkScript))
	require.EqualValues(t, 1, tx.TxOut[outpoint.Index].Value)

	// Only the multisig output is spent on chain.
	h.spends.On("IsOutpointSpent", mock.Anything, outpoint).
		Return(true, nil)
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(false, nil)

	_, err = h.engine.CheckEligibility(
		context.Background(), KeyHex(subject.PubKey()),
		fn.Some(cert.Fields.SerialNumber),
	)
	requireReason(t, err, ReasonRevoked)
}

// TestAnchorOutputMissing checks a payment without the multisig output is
// not recorded as an anchor.
func TestAnchorOutputMissing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.cfg.Wallet = &droppingWallet{Wallet: h.wallet}

	subject, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, err = h.engine.CreateRevocationAnchor(
		context.Background(), subject.PubKey(), h.exchangeKey, "serial",
	)
	require.ErrorIs(t, err, brc29.ErrOutputNotFound)

	_, result := h.issue("Jane Doe")
	require.True(t, result.AnchorPayment.IsNone())
	require.True(t, result.Certificate.RevocationOutpoint.IsNone())
}

// TestAnchorSpent checks a spent anchor revokes the certificate and is
// mirrored into the store.
func TestAnchorSpent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(true, nil)

	subject, result := h.issue("Jane Doe")
	ctx := context.Background()
	serial := result.Certificate.Fields.SerialNumber

	_, err := h.engine.CheckEligibility(
		ctx, KeyHex(subject.PubKey()), fn.Some(serial),
	)
	requireReason(t, err, ReasonRevoked)

	record, err := h.store.FetchBySerial(ctx, serial)
	require.NoError(t, err)
	require.True(t, record.Revoked)
	require.Equal(t, testTime, record.RevokedAt.UnwrapOrFail(t))
}

// TestEligibilityOrder checks the identity checks that precede expiry.
func TestEligibilityOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(false, nil)
	ctx := context.Background()

	stranger, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	strangerKey := KeyHex(stranger.PubKey())

	_, err = h.engine.CheckEligibility(ctx, strangerKey, fn.None[string]())
	requireReason(t, err, ReasonMissing)

	_, err = h.engine.CheckEligibility(ctx, strangerKey, fn.Some("nope"))
	requireReason(t, err, ReasonMissing)

	// Presenting someone else's certificate, even an expired one, is a
	// subject mismatch.
	_, result := h.issue("Jane Doe")
	h.clock.SetTime(testTime.Add(48 * time.Hour))
	_, err = h.engine.CheckEligibility(
		ctx, strangerKey, fn.Some(result.Certificate.Fields.SerialNumber),
	)
	requireReason(t, err, ReasonSubjectMismatch)

	// A certificate from another certifier is rejected before expiry.
	foreign := *result.Certificate
	foreign.Subject = strangerKey
	foreign.Certifier = strangerKey
	foreign.Fields.SerialNumber = "foreign-serial"
	err = h.store.UpsertCertificate(ctx, &certdb.Record{
		IdentityKey: strangerKey,
		Certificate: foreign,
		RevokedAt:   fn.None[time.Time](),
		CreatedAt:   testTime,
		UpdatedAt:   testTime,
	})
	require.NoError(t, err)

	_, err = h.engine.CheckEligibility(ctx, strangerKey, fn.None[string]())
	requireReason(t, err, ReasonWrongIssuer)
}

// TestRevoke checks who may revoke and that revocation sticks.
func TestRevoke(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.spends.On("IsOutpointSpent", mock.Anything, mock.Anything).
		Return(false, nil)
	ctx := context.Background()

	subject, result := h.issue("Jane Doe")
	serial := result.Certificate.Fields.SerialNumber

	stranger, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, err = h.engine.Revoke(ctx, serial, KeyHex(stranger.PubKey()))
	require.ErrorIs(t, err, ErrNotAuthorized)

	status, err := h.engine.Status(ctx, serial)
	require.NoError(t, err)
	require.False(t, status.Revoked)

	record, err := h.engine.Revoke(ctx, serial, KeyHex(subject.PubKey()))
	require.NoError(t, err)
	require.True(t, record.Revoked)

	// The certifier may revoke too, and a repeat keeps the first time.
	h.clock.SetTime(testTime.Add(time.Hour))
	record, err = h.engine.Revoke(ctx, serial, KeyHex(h.exchangeKey))
	require.NoError(t, err)
	require.Equal(t, testTime, record.RevokedAt.UnwrapOrFail(t))

	status, err = h.engine.Status(ctx, serial)
	require.NoError(t, err)
	require.True(t, status.Revoked)

	_, err = h.engine.CheckEligibility(
		ctx, KeyHex(subject.PubKey()), fn.None[string](),
	)
	requireReason(t, err, ReasonRevoked)

	_, err = h.engine.Revoke(ctx, "missing", KeyHex(subject.PubKey()))
	require.ErrorIs(t, err, certdb.ErrCertificateNotFound)
}

// TestScreeningFailure checks the screening fail-open default and the
// fail-closed switch.
func TestScreeningFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	screener := &exchmock.MockScreener{}
	screener.On("Check", mock.Anything, "Jane Doe").
		Return(nil, sanctions.ErrUnavailable)
	h.cfg.Screener = screener

	_, result := h.issue("Jane Doe")
	require.False(t, result.SanctionsResult.Checked)
	require.Equal(t, certdb.SanctionsClear,
		result.Certificate.Fields.SanctionsStatus)

	h.cfg.SanctionsFailClosed = true
	_, err := h.engine.Screen(context.Background(), "Jane Doe")
	require.ErrorIs(t, err, ErrScreeningUnavailable)

	screener.AssertExpectations(t)
}
