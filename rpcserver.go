package exchanged

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/build"
	"github.com/exchangelabs/exchanged/certdb"
	"github.com/exchangelabs/exchanged/deposit"
	"github.com/exchangelabs/exchanged/esplora"
	"github.com/exchangelabs/exchanged/exchrpc"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/exchangelabs/exchanged/ledger"
	"github.com/exchangelabs/exchanged/monitoring"
	"github.com/exchangelabs/exchanged/sanctions"
	"github.com/exchangelabs/exchanged/swap"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/exchangelabs/exchanged/withdrawal"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/shopspring/decimal"
)

const (
	// maxRequestBodyBytes bounds the size of a request body.
	maxRequestBodyBytes = 1 << 20

	// defaultEntriesLimit is the number of journal entries returned when
	// the request does not set a limit.
	defaultEntriesLimit = 50

	// maxEntriesLimit caps the number of journal entries per request.
	maxEntriesLimit = 1000

	// shutdownTimeout is how long Stop waits for in-flight requests.
	shutdownTimeout = 10 * time.Second
)

// errInvalidRequest is returned for a request that cannot be decoded.
var errInvalidRequest = errors.New("invalid request")

// requesterCtxKey is the context key of the verified requester identity.
type requesterCtxKey struct{}

// rpcServerConfig holds the engines the RPC server dispatches to.
type rpcServerConfig struct {
	// Network is reported by the identity call.
	Network string

	// MaxSkew is the largest accepted difference between a request's
	// timestamp and the server clock.
	MaxSkew time.Duration

	// RateLimit is the sustained number of requests per second allowed
	// for one identity, with bursts of up to RateBurst. Zero disables
	// limiting.
	RateLimit float64
	RateBurst int

	Clock clock.Clock

	Ledger      *ledger.Ledger
	Deposits    *deposit.Verifier
	Withdrawals *withdrawal.Builder
	Swaps       *swap.Engine
	KYC         *kyc.Engine

	Metrics *monitoring.Metrics
}

// rpcServer serves the exchange's HTTP API. Every route except the health
// and metrics endpoints requires a signed request.
type rpcServer struct {
	started  int32 // To be used atomically.
	shutdown int32 // To be used atomically.

	cfg *rpcServerConfig

	router     chi.Router
	httpServer *http.Server
	limiter    *identityLimiter

	wg sync.WaitGroup
}

// newRPCServer creates the server and its routes.
func newRPCServer(cfg *rpcServerConfig) *rpcServer {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	s := &rpcServer{cfg: cfg}
	if cfg.RateLimit > 0 {
		s.limiter = newIdentityLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *rpcServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/v1/health", s.health)
	r.Handle("/metrics", s.cfg.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/identity", s.identity)
		r.Get("/balance", s.balance)
		r.Post("/deposit", s.deposit)
		r.Post("/withdraw", s.withdraw)
		r.Post("/swap", s.swap)
		r.Get("/ledger/entries", s.entries)

		r.Route("/certificates", func(r chi.Router) {
			r.Post("/", s.issueCertificate)
			r.Get("/current", s.currentCertificate)
			r.Get("/{serial}", s.certificateStatus)
			r.Post("/{serial}/revoke", s.revokeCertificate)
		})
	})

	return r
}

// Start serves requests on the listener until Stop is called.
func (s *rpcServer) Start(lis net.Listener) error {
	if atomic.AddInt32(&s.started, 1) != 1 {
		return nil
	}

	rpcsLog.Infof("RPC server listening on %s", lis.Addr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		err := s.httpServer.Serve(lis)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rpcsLog.Errorf("RPC server stopped: %v", err)
		}
	}()

	return nil
}

// Stop waits for in-flight requests to finish and closes the listener.
func (s *rpcServer) Stop() error {
	if atomic.AddInt32(&s.shutdown, 1) != 1 {
		return nil
	}

	rpcsLog.Infof("Stopping RPC server")

	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()

	return err
}

// observe records the latency and status of every request under its route
// pattern.
func (s *rpcServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.cfg.Clock.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil &&
			rctx.RoutePattern() != "" {

			route = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.cfg.Metrics.ObserveRequest(
			route, r.Method, status, s.cfg.Clock.Now().Sub(start),
		)
	})
}

// authenticate verifies the request signature and stores the requester's
// identity key in the request context.
func (s *rpcServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge,
					exchrpc.CodeValidation,
					"request body too large", "")

				return
			}

			writeError(w, http.StatusBadRequest,
				exchrpc.CodeValidation, err.Error(), "")

			return
		}

		requester, err := exchrpc.VerifyRequest(
			r, body, s.cfg.Clock.Now(), s.cfg.MaxSkew,
		)
		if err != nil {
			rpcsLog.Debugf("Rejecting %s %s: %v", r.Method,
				r.URL.Path, err)

			writeError(w, http.StatusUnauthorized,
				exchrpc.CodeUnauthorized, err.Error(), "")

			return
		}

		if s.limiter != nil && !s.limiter.allow(kyc.KeyHex(requester)) {
			writeError(w, http.StatusTooManyRequests,
				exchrpc.CodeRateLimited, "rate limit exceeded", "")

			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		ctx := context.WithValue(r.Context(), requesterCtxKey{}, requester)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requesterFromContext returns the identity key set by authenticate.
func requesterFromContext(ctx context.Context) *btcec.PublicKey {
	key, _ := ctx.Value(requesterCtxKey{}).(*btcec.PublicKey)
	return key
}

func (s *rpcServer) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, &exchrpc.HealthResponse{Status: "ok"})
}

func (s *rpcServer) identity(w http.ResponseWriter, r *http.Request) {
	key, err := s.cfg.KYC.IdentityKey(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, &exchrpc.IdentityResponse{
		IdentityKey: kyc.KeyHex(key),
		Version:     build.Version(),
		Network:     s.cfg.Network,
	})
}

func (s *rpcServer) balance(w http.ResponseWriter, r *http.Request) {
	requester := kyc.KeyHex(requesterFromContext(r.Context()))

	balance, err := s.cfg.Ledger.GetBalance(r.Context(), requester)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, marshalBalance(balance))
}

func (s *rpcServer) deposit(w http.ResponseWriter, r *http.Request) {
	var req exchrpc.DepositRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	rawPayment, err := hex.DecodeString(req.RawPayment)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: raw payment: %v",
			errInvalidRequest, err))
		return
	}
	if req.DeclaredAmount < 0 {
		s.writeErr(w, r, fmt.Errorf("%w: negative declared amount",
			errInvalidRequest))
		return
	}

	serial := fn.None[string]()
	if req.CertificateSerial != "" {
		serial = fn.Some(req.CertificateSerial)
	}

	result, err := s.cfg.Deposits.Deposit(r.Context(), &deposit.Request{
		Requester: requesterFromContext(r.Context()),
		Derivation: brc29.DerivationContext{
			Prefix: req.DerivationPrefix,
			Suffix: req.DerivationSuffix,
		},
		RawPayment:        rawPayment,
		DeclaredAmount:    btcutil.Amount(req.DeclaredAmount),
		CertificateSerial: serial,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	s.cfg.Metrics.DepositCredited(result.Credited)

	writeJSON(w, http.StatusOK, &exchrpc.DepositResponse{
		TxID:     result.TxID.String(),
		Credited: int64(result.Credited),
		Balance:  *marshalBalance(result.Balance),
	})
}

func (s *rpcServer) withdraw(w http.ResponseWriter, r *http.Request) {
	var req exchrpc.WithdrawRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	result, err := s.cfg.Withdrawals.Withdraw(
		r.Context(), &withdrawal.Request{
			Requester: requesterFromContext(r.Context()),
			Amount:    btcutil.Amount(req.Amount),
		},
	)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	s.cfg.Metrics.WithdrawalCompleted(btcutil.Amount(req.Amount))

	writeJSON(w, http.StatusOK, &exchrpc.WithdrawResponse{
		RawPayment:        hex.EncodeToString(result.RawPayment),
		TxID:              result.TxID.String(),
		OutputIndex:       result.OutputIndex,
		DerivationPrefix:  result.DerivationPrefix,
		DerivationSuffix:  result.DerivationSuffix,
		SenderIdentityKey: kyc.KeyHex(result.SenderIdentityKey),
		Balance:           *marshalBalance(result.Balance),
	})
}

func (s *rpcServer) swap(w http.ResponseWriter, r *http.Request) {
	var req exchrpc.SwapRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	direction, err := swap.ParseDirection(req.Direction)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: amount: %v",
			errInvalidRequest, err))
		return
	}

	requester := kyc.KeyHex(requesterFromContext(r.Context()))
	balance, err := s.cfg.Swaps.Swap(r.Context(), requester, direction,
		amount)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	s.cfg.Metrics.SwapCompleted(direction.String())

	writeJSON(w, http.StatusOK, &exchrpc.SwapResponse{
		Balance: *marshalBalance(balance),
	})
}

func (s *rpcServer) entries(w http.ResponseWriter, r *http.Request) {
	limit := uint32(defaultEntriesLimit)
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil || parsed == 0 {
			s.writeErr(w, r, fmt.Errorf("%w: limit %q",
				errInvalidRequest, v))
			return
		}
		limit = uint32(min(parsed, maxEntriesLimit))
	}

	requester := kyc.KeyHex(requesterFromContext(r.Context()))
	entries, err := s.cfg.Ledger.Entries(r.Context(), requester, limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	resp := &exchrpc.EntriesResponse{
		Entries: make([]exchrpc.Entry, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, marshalEntry(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *rpcServer) issueCertificate(w http.ResponseWriter, r *http.Request) {
	var req exchrpc.IssueCertificateRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	certifier, err := kyc.ParseIdentityKey(req.CertifierKey)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	authorization, err := hex.DecodeString(req.SignedAuthorization)
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: %v",
			kyc.ErrInvalidAuthorization, err))
		return
	}

	result, err := s.cfg.KYC.IssueCertificate(
		r.Context(), &kyc.IssueRequest{
			Subject:             requesterFromContext(r.Context()),
			CertifierKey:        certifier,
			OfficialName:        req.OfficialName,
			SignedAuthorization: authorization,
		},
	)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	s.cfg.Metrics.CertificateIssued()

	resp := &exchrpc.IssueCertificateResponse{
		Certificate:     marshalCertificate(result.Certificate),
		SanctionsResult: marshalSanctions(result.SanctionsResult),
	}
	result.AnchorPayment.WhenSome(func(raw []byte) {
		resp.AnchorPayment = hex.EncodeToString(raw)
	})

	writeJSON(w, http.StatusOK, resp)
}

func (s *rpcServer) currentCertificate(w http.ResponseWriter,
	r *http.Request) {

	requester := kyc.KeyHex(requesterFromContext(r.Context()))
	record, err := s.cfg.KYC.CurrentCertificate(r.Context(), requester)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	s.writeStatus(w, r, record.Certificate.Fields.SerialNumber)
}

func (s *rpcServer) certificateStatus(w http.ResponseWriter,
	r *http.Request) {

	s.writeStatus(w, r, chi.URLParam(r, "serial"))
}

func (s *rpcServer) writeStatus(w http.ResponseWriter, r *http.Request,
	serial string) {

	status, err := s.cfg.KYC.Status(r.Context(), serial)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, marshalStatus(status.Record, status.Revoked))
}

func (s *rpcServer) revokeCertificate(w http.ResponseWriter,
	r *http.Request) {

	requester := kyc.KeyHex(requesterFromContext(r.Context()))
	record, err := s.cfg.KYC.Revoke(
		r.Context(), chi.URLParam(r, "serial"), requester,
	)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	s.cfg.Metrics.CertificateRevoked()

	writeJSON(w, http.StatusOK, marshalStatus(record, true))
}

// readJSON decodes the request body into dst, writing a validation error
// and returning false if it cannot.
func (s *rpcServer) readJSON(w http.ResponseWriter, r *http.Request,
	dst interface{}) bool {

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: %v", errInvalidRequest, err))
		return false
	}

	return true
}

// writeErr maps err to its status and code, counts eligibility rejections
// and writes the error response. Unexpected errors are logged and reported
// without detail.
func (s *rpcServer) writeErr(w http.ResponseWriter, r *http.Request,
	err error) {

	status, code := errorStatus(err)

	var reason string
	kyc.InvalidReason(err).WhenSome(func(rsn kyc.Reason) {
		reason = string(rsn)
		s.cfg.Metrics.EligibilityRejected(reason)
	})

	msg := err.Error()
	if status == http.StatusInternalServerError {
		rpcsLog.Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
		msg = "internal error"
	} else {
		rpcsLog.Debugf("%s %s: %v", r.Method, r.URL.Path, err)
	}

	writeError(w, status, code, msg, reason)
}

// errorStatus returns the HTTP status and error code for err.
func errorStatus(err error) (int, string) {
	if kyc.InvalidReason(err).IsSome() {
		return http.StatusForbidden, exchrpc.CodeCertificateInvalid
	}

	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict, exchrpc.CodeInsufficientFunds

	case errors.Is(err, deposit.ErrDuplicatePayment),
		errors.Is(err, ledger.ErrDuplicateReference):

		return http.StatusConflict, exchrpc.CodeDuplicatePayment

	case errors.Is(err, deposit.ErrPaymentVerificationFailed):
		return http.StatusUnprocessableEntity,
			exchrpc.CodePaymentVerification

	case errors.Is(err, deposit.ErrPaymentRejected):
		return http.StatusUnprocessableEntity,
			exchrpc.CodePaymentRejected

	case errors.Is(err, certdb.ErrCertificateNotFound),
		errors.Is(err, ledger.ErrEntryNotFound):

		return http.StatusNotFound, exchrpc.CodeNotFound

	case errors.Is(err, kyc.ErrNotAuthorized):
		return http.StatusForbidden, exchrpc.CodeForbidden

	case errors.Is(err, wallet.ErrUnavailable),
		errors.Is(err, sanctions.ErrUnavailable),
		errors.Is(err, kyc.ErrScreeningUnavailable),
		errors.Is(err, esplora.ErrNotConnected):

		return http.StatusServiceUnavailable,
			exchrpc.CodeExternalUnavailable

	case errors.Is(err, errInvalidRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidIdentity),
		errors.Is(err, deposit.ErrInvalidPayment),
		errors.Is(err, brc29.ErrInvalidNonce),
		errors.Is(err, kyc.ErrWrongCertifier),
		errors.Is(err, kyc.ErrInvalidKey),
		errors.Is(err, kyc.ErrMissingName),
		errors.Is(err, kyc.ErrInvalidAuthorization),
		errors.Is(err, sanctions.ErrEmptyName):

		return http.StatusBadRequest, exchrpc.CodeValidation

	default:
		return http.StatusInternalServerError, exchrpc.CodeInternal
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		rpcsLog.Debugf("Unable to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg,
	reason string) {

	writeJSON(w, status, &exchrpc.ErrorResponse{
		RequestID: "req_" + uuid.NewString(),
		Error: exchrpc.ErrorDetail{
			Code:    code,
			Message: msg,
			Reason:  reason,
		},
	})
}

func marshalBalance(b *ledger.Balance) *exchrpc.Balance {
	return &exchrpc.Balance{
		IdentityKey: b.IdentityKey,
		Base:        int64(b.BaseUnits),
		Fiat:        b.Fiat().StringFixed(ledger.FiatScale),
		UpdatedAt:   b.UpdatedAt,
	}
}

func marshalLeg(l ledger.Leg) *exchrpc.Leg {
	return &exchrpc.Leg{
		Currency: l.Currency.String(),
		Units:    int64(l.Amount),
	}
}

func marshalEntry(e *ledger.Entry) exchrpc.Entry {
	entry := exchrpc.Entry{
		ID:        e.ID,
		Kind:      e.Kind.String(),
		Debit:     fn.MapOptionZ(e.Debit, marshalLeg),
		Credit:    fn.MapOptionZ(e.Credit, marshalLeg),
		Reference: e.Reference.UnwrapOr(""),
		BaseAfter: int64(e.BaseAfter),
		FiatAfter: e.FiatAfter.Fiat().StringFixed(ledger.FiatScale),
		CreatedAt: e.CreatedAt,
	}

	return entry
}

func marshalCertificate(c *certdb.Certificate) exchrpc.Certificate {
	cert := exchrpc.Certificate{
		Type:      c.Type,
		Subject:   c.Subject,
		Certifier: c.Certifier,
		Fields: exchrpc.CertificateFields{
			OfficialName:     c.Fields.OfficialName,
			ValidationMethod: c.Fields.ValidationMethod,
			SerialNumber:     c.Fields.SerialNumber,
			SanctionsStatus:  string(c.Fields.SanctionsStatus),
			IssuedAt:         c.Fields.IssuedAt,
			ExpiresAt:        c.Fields.ExpiresAt,
		},
		Signature: hex.EncodeToString(c.Signature),
	}
	c.RevocationOutpoint.WhenSome(func(op wire.OutPoint) {
		cert.RevocationOutpoint = op.String()
	})

	return cert
}

func marshalSanctions(r certdb.SanctionsResult) exchrpc.SanctionsResult {
	return exchrpc.SanctionsResult{
		Checked:       r.Checked,
		Sanctioned:    r.Sanctioned,
		MatchedEntity: r.MatchedEntity.UnwrapOr(""),
		CheckedAt:     r.CheckedAt,
	}
}

func marshalStatus(record *certdb.Record,
	revoked bool) *exchrpc.CertificateStatus {

	status := &exchrpc.CertificateStatus{
		Certificate:     marshalCertificate(&record.Certificate),
		SanctionsResult: marshalSanctions(record.SanctionsResult),
		Revoked:         revoked,
	}
	record.RevokedAt.WhenSome(func(t time.Time) {
		status.RevokedAt = &t
	})

	return status
}
