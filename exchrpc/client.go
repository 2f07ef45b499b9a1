package exchrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/clock"
)

// StatusError is returned by the client for a non-2xx response.
type StatusError struct {
	StatusCode int
	Response   ErrorResponse
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%d %s: %s", e.StatusCode, e.Response.Error.Code,
		e.Response.Error.Message)
	if e.Response.Error.Reason != "" {
		msg += " (reason: " + e.Response.Error.Reason + ")"
	}

	return msg
}

// Client signs and sends requests to an exchange.
type Client struct {
	baseURL string
	key     *btcec.PrivateKey
	http    *http.Client
	clock   clock.Clock
}

// NewClient creates a client that signs its requests with key. A nil
// httpClient uses http.DefaultClient.
func NewClient(baseURL string, key *btcec.PrivateKey,
	httpClient *http.Client) *Client {

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		key:     key,
		http:    httpClient,
		clock:   clock.NewDefaultClock(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, reqBody,
	respBody interface{}) error {

	var body []byte
	if reqBody != nil {
		var err error
		body, err = json.Marshal(reqBody)
		if err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, bytes.NewReader(body),
	)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != nil {
		SignRequest(req, c.key, body, c.clock.Now())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode/100 != 2 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, &statusErr.Response); err != nil {
			statusErr.Response.Error.Message = strings.TrimSpace(
				string(raw),
			)
		}

		return statusErr
	}

	if respBody == nil {
		return nil
	}

	return json.Unmarshal(raw, respBody)
}

// Health checks the exchange is up.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/v1/health", nil, &resp)

	return &resp, err
}

// Identity returns the exchange's identity key.
func (c *Client) Identity(ctx context.Context) (*IdentityResponse, error) {
	var resp IdentityResponse
	err := c.do(ctx, http.MethodGet, "/v1/identity", nil, &resp)

	return &resp, err
}

// Balance returns the requester's balance.
func (c *Client) Balance(ctx context.Context) (*Balance, error) {
	var resp Balance
	err := c.do(ctx, http.MethodGet, "/v1/balance", nil, &resp)

	return &resp, err
}

// Deposit submits an incoming payment.
func (c *Client) Deposit(ctx context.Context,
	req *DepositRequest) (*DepositResponse, error) {

	var resp DepositResponse
	err := c.do(ctx, http.MethodPost, "/v1/deposit", req, &resp)

	return &resp, err
}

// Withdraw requests a payment of amount base units.
func (c *Client) Withdraw(ctx context.Context,
	amount int64) (*WithdrawResponse, error) {

	var resp WithdrawResponse
	err := c.do(ctx, http.MethodPost, "/v1/withdraw",
		&WithdrawRequest{Amount: amount}, &resp)

	return &resp, err
}

// Swap converts between the currencies.
func (c *Client) Swap(ctx context.Context,
	req *SwapRequest) (*SwapResponse, error) {

	var resp SwapResponse
	err := c.do(ctx, http.MethodPost, "/v1/swap", req, &resp)

	return &resp, err
}

// Entries lists the requester's newest journal entries.
func (c *Client) Entries(ctx context.Context,
	limit uint32) (*EntriesResponse, error) {

	query := url.Values{}
	query.Set("limit", strconv.FormatUint(uint64(limit), 10))

	var resp EntriesResponse
	err := c.do(ctx, http.MethodGet, "/v1/ledger/entries?"+query.Encode(),
		nil, &resp)

	return &resp, err
}

// IssueCertificate asks the exchange to certify the requester.
func (c *Client) IssueCertificate(ctx context.Context,
	req *IssueCertificateRequest) (*IssueCertificateResponse, error) {

	var resp IssueCertificateResponse
	err := c.do(ctx, http.MethodPost, "/v1/certificates", req, &resp)

	return &resp, err
}

// CurrentCertificate returns the requester's latest certificate.
func (c *Client) CurrentCertificate(ctx context.Context) (*CertificateStatus,
	error) {

	var resp CertificateStatus
	err := c.do(ctx, http.MethodGet, "/v1/certificates/current", nil, &resp)

	return &resp, err
}

// CertificateStatus looks up a certificate by serial.
func (c *Client) CertificateStatus(ctx context.Context,
	serial string) (*CertificateStatus, error) {

	var resp CertificateStatus
	err := c.do(ctx, http.MethodGet,
		"/v1/certificates/"+url.PathEscape(serial), nil, &resp)

	return &resp, err
}

// RevokeCertificate revokes a certificate by serial.
func (c *Client) RevokeCertificate(ctx context.Context,
	serial string) (*CertificateStatus, error) {

	var resp CertificateStatus
	err := c.do(ctx, http.MethodPost,
		"/v1/certificates/"+url.PathEscape(serial)+"/revoke", nil,
		&resp)

	return &resp, err
}
