// Package httpwallet talks to an external wallet over its JSON HTTP
// substrate. Every private key operation of the exchange goes through it.
package httpwallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/exchangelabs/exchanged/keychain"
	"github.com/exchangelabs/exchanged/wallet"
)

const (
	// DefaultTimeout is the request timeout used when none is configured.
	DefaultTimeout = 30 * time.Second

	// paymentProtocol is the internalization protocol for derived-key
	// payments.
	paymentProtocol = "wallet payment"

	// originatorHeader names the calling application to the wallet.
	originatorHeader = "Originator"
)

// Config holds the wallet endpoint settings.
type Config struct {
	// URL is the base URL of the wallet, e.g. http://localhost:3321.
	URL string

	// Timeout bounds every request.
	Timeout time.Duration

	// Originator is sent with every request to identify the exchange.
	Originator string
}

// Client implements wallet.Capability against a remote wallet.
type Client struct {
	cfg *Config

	httpClient *http.Client
}

// New creates a wallet client.
func New(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// errorResponse is the body the wallet sends with a failed call.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// call posts the request as JSON to the named method and decodes the reply
// into resp. Transport failures and server side errors are reported as
// wallet.ErrUnavailable.
func (c *Client) call(ctx context.Context, method string, req,
	resp interface{}) error {

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("unable to encode %s request: %w", method, err)
	}

	url := strings.TrimRight(c.cfg.URL, "/") + "/" + method
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Originator != "" {
		httpReq.Header.Set(originatorHeader, c.cfg.Originator)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", wallet.ErrUnavailable, method,
			err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %w",
			wallet.ErrUnavailable, method, err)
	}

	log.Tracef("Wallet call %s returned %d in %v", method,
		httpResp.StatusCode, time.Since(start))

	switch {
	case httpResp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s returned status %d",
			wallet.ErrUnavailable, method, httpResp.StatusCode)

	case httpResp.StatusCode != http.StatusOK:
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil &&
			errResp.Message != "" {

			return fmt.Errorf("wallet rejected %s: %s (%s)", method,
				errResp.Message, errResp.Code)
		}

		return fmt.Errorf("wallet rejected %s with status %d", method,
			httpResp.StatusCode)
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, resp); err != nil {
		return fmt.Errorf("unable to decode %s response: %w", method,
			err)
	}

	return nil
}

// protocolID is the wire form of a keychain.Protocol: [level, name].
type protocolID []interface{}

func newProtocolID(p keychain.Protocol) protocolID {
	return protocolID{p.SecurityLevel, p.Name}
}

type getPublicKeyRequest struct {
	IdentityKey  bool       `json:"identityKey,omitempty"`
	ProtocolID   protocolID `json:"protocolID,omitempty"`
	KeyID        string     `json:"keyID,omitempty"`
	Counterparty string     `json:"counterparty,omitempty"`
	ForSelf      bool       `json:"forSelf,omitempty"`
}

type getPublicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

func (c *Client) getPublicKey(ctx context.Context,
	req *getPublicKeyRequest) (*btcec.PublicKey, error) {

	var resp getPublicKeyResponse
	if err := c.call(ctx, "getPublicKey", req, &resp); err != nil {
		return nil, err
	}

	keyBytes, err := hex.DecodeString(resp.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}

	return btcec.ParsePubKey(keyBytes)
}

// GetIdentityKey returns the wallet's identity key.
//
// NOTE: This is part of the wallet.Capability interface.
func (c *Client) GetIdentityKey(ctx context.Context) (*btcec.PublicKey,
	error) {

	return c.getPublicKey(ctx, &getPublicKeyRequest{IdentityKey: true})
}

// DerivePublicKey asks the wallet for a child key.
//
// NOTE: This is part of the wallet.Capability interface.
func (c *Client) DerivePublicKey(ctx context.Context,
	protocol keychain.Protocol, keyID string,
	counterparty *btcec.PublicKey, forSelf bool) (*btcec.PublicKey, error) {

	if err := protocol.Validate(); err != nil {
		return nil, err
	}
	if counterparty == nil {
		return nil, errors.New("counterparty key required")
	}

	return c.getPublicKey(ctx, &getPublicKeyRequest{
		ProtocolID: newProtocolID(protocol),
		KeyID:      keyID,
		Counterparty: hex.EncodeToString(
			counterparty.SerializeCompressed(),
		),
		ForSelf: forSelf,
	})
}

type createActionOutput struct {
	LockingScript     string `json:"lockingScript"`
	Satoshis          int64  `json:"satoshis"`
	OutputDescription string `json:"outputDescription,omitempty"`
}

// createActionOptions switches off the wallet's output shuffling. Callers
// still locate their outputs by script.
type createActionOptions struct {
	RandomizeOutputs bool `json:"randomizeOutputs"`
}

type createActionRequest struct {
	Description string               `json:"description"`
	Outputs     []createActionOutput `json:"outputs"`
	Labels      []string             `json:"labels,omitempty"`
	Options     createActionOptions  `json:"options"`
}

type createActionResponse struct {
	TxID string `json:"txid"`
	Tx   string `json:"tx"`
}

// CreatePayment asks the wallet to fund and sign a payment.
//
// NOTE: This is part of the wallet.Capability interface.
func (c *Client) CreatePayment(ctx context.Context,
	req *wallet.PaymentRequest) (*wallet.Payment, error) {

	outputs := make([]createActionOutput, 0, len(req.Outputs))
	for _, out := range req.Outputs {
		outputs = append(outputs, createActionOutput{
			LockingScript:     hex.EncodeToString(out.PkScript),
			Satoshis:          int64(out.Amount),
			OutputDescription: out.Description,
		})
	}

	var resp createActionResponse
	err := c.call(ctx, "createAction", &createActionRequest{
		Description: req.Description,
		Outputs:     outputs,
		Labels:      req.Labels,
		Options:     createActionOptions{RandomizeOutputs: false},
	}, &resp)
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(resp.Tx)
	if err != nil {
		return nil, fmt.Errorf("invalid payment hex: %w", err)
	}
	txid, err := chainhash.NewHashFromStr(resp.TxID)
	if err != nil {
		return nil, fmt.Errorf("invalid txid: %w", err)
	}

	log.Debugf("Wallet created payment %v with %d outputs", txid,
		len(outputs))

	return &wallet.Payment{RawPayment: raw, TxID: *txid}, nil
}

type paymentRemittance struct {
	DerivationPrefix  string `json:"derivationPrefix"`
	DerivationSuffix  string `json:"derivationSuffix"`
	SenderIdentityKey string `json:"senderIdentityKey"`
}

type internalizeOutput struct {
	OutputIndex       uint32            `json:"outputIndex"`
	Protocol          string            `json:"protocol"`
	PaymentRemittance paymentRemittance `json:"paymentRemittance"`
}

type internalizeActionRequest struct {
	Tx          string              `json:"tx"`
	Outputs     []internalizeOutput `json:"outputs"`
	Description string              `json:"description"`
	Labels      []string            `json:"labels,omitempty"`
}

type internalizeActionResponse struct {
	Accepted bool   `json:"accepted"`
	TxID     string `json:"txid,omitempty"`
}

// InternalizePayment hands an incoming payment to the wallet.
//
// NOTE: This is part of the wallet.Capability interface.
func (c *Client) InternalizePayment(ctx context.Context,
	req *wallet.InternalizeRequest) (*wallet.InternalizeResult, error) {

	rem := req.Remittance
	if rem.SenderIdentityKey == nil {
		return nil, errors.New("sender identity key required")
	}

	var resp internalizeActionResponse
	err := c.call(ctx, "internalizeAction", &internalizeActionRequest{
		Tx: hex.EncodeToString(req.RawPayment),
		Outputs: []internalizeOutput{{
			OutputIndex: rem.OutputIndex,
			Protocol:    paymentProtocol,
			PaymentRemittance: paymentRemittance{
				DerivationPrefix: rem.DerivationPrefix,
				DerivationSuffix: rem.DerivationSuffix,
				SenderIdentityKey: hex.EncodeToString(
					rem.SenderIdentityKey.SerializeCompressed(),
				),
			},
		}},
		Description: req.Description,
		Labels:      req.Labels,
	}, &resp)
	if err != nil {
		return nil, err
	}

	result := &wallet.InternalizeResult{Accepted: resp.Accepted}
	if resp.TxID != "" {
		txid, err := chainhash.NewHashFromStr(resp.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid: %w", err)
		}
		result.TxID = *txid
	}

	return result, nil
}

type listActionsRequest struct {
	Labels         []string `json:"labels"`
	LabelQueryMode string   `json:"labelQueryMode"`
	Limit          uint32   `json:"limit,omitempty"`
}

type walletAction struct {
	TxID        string   `json:"txid"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Satoshis    int64    `json:"satoshis"`
	Status      string   `json:"status"`
}

type listActionsResponse struct {
	TotalActions uint32         `json:"totalActions"`
	Actions      []walletAction `json:"actions"`
}

// ListLabeledActions lists wallet actions carrying all the labels.
//
// NOTE: This is part of the wallet.Capability interface.
func (c *Client) ListLabeledActions(ctx context.Context, labels []string,
	limit uint32) ([]wallet.Action, error) {

	var resp listActionsResponse
	err := c.call(ctx, "listActions", &listActionsRequest{
		Labels:         labels,
		LabelQueryMode: "all",
		Limit:          limit,
	}, &resp)
	if err != nil {
		return nil, err
	}

	actions := make([]wallet.Action, 0, len(resp.Actions))
	for _, a := range resp.Actions {
		txid, err := chainhash.NewHashFromStr(a.TxID)
		if err != nil {
			return nil, fmt.Errorf("invalid txid %q: %w", a.TxID, err)
		}

		actions = append(actions, wallet.Action{
			TxID:        *txid,
			Description: a.Description,
			Labels:      a.Labels,
			Amount:      btcutil.Amount(a.Satoshis),
			Status:      a.Status,
		})
	}

	return actions, nil
}

type createSignatureRequest struct {
	HashToDirectlySign string `json:"hashToDirectlySign"`
}

type createSignatureResponse struct {
	Signature string `json:"signature"`
}

// CreateSignature asks the wallet to sign the digest with its identity key.
//
// NOTE: This is part of the wallet.Capability interface.
func (c *Client) CreateSignature(ctx context.Context,
	digest [32]byte) ([]byte, error) {

	var resp createSignatureResponse
	err := c.call(ctx, "createSignature", &createSignatureRequest{
		HashToDirectlySign: hex.EncodeToString(digest[:]),
	}, &resp)
	if err != nil {
		return nil, err
	}

	return hex.DecodeString(resp.Signature)
}

// A compile-time assertion to ensure Client implements wallet.Capability.
var _ wallet.Capability = (*Client)(nil)
