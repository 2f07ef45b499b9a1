package esplora

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNotConnected means no response could be obtained from the API.
	ErrNotConnected = errors.New("esplora API not reachable")

	// ErrTxNotFound means the API answered 404, usually because the
	// transaction was never relayed.
	ErrTxNotFound = errors.New("transaction not found")
)

// retryStep is the backoff unit between two attempts. Attempt n waits n
// steps.
const retryStep = 100 * time.Millisecond

// ClientConfig locates an Esplora instance.
type ClientConfig struct {
	// URL is the API root, for example https://mempool.space/api.
	URL string

	// RequestTimeout bounds every single HTTP round trip.
	RequestTimeout time.Duration

	// MaxRetries is how often a request that got no response at all is
	// sent again. HTTP error statuses are never retried.
	MaxRetries int
}

// outspend is the body of GET /tx/:txid/outspend/:vout.
type outspend struct {
	Spent bool   `json:"spent"`
	TxID  string `json:"txid,omitempty"`
	Vin   uint32 `json:"vin,omitempty"`

	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height,omitempty"`
	} `json:"status"`
}

// Client queries an Esplora REST API for chain tip and output spends.
type Client struct {
	cfg *ClientConfig

	httpClient *http.Client
}

// NewClient returns a client for the API at cfg.URL.
func NewClient(cfg *ClientConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// send issues a GET for path. Only transport failures are retried.
func (c *Client) send(ctx context.Context, path string) (*http.Response,
	error) {

	endpoint := strings.TrimRight(c.cfg.URL, "/") + path

	var attempt int
	for {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodGet, endpoint, nil,
		)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}

		attempt++
		if attempt > c.cfg.MaxRetries {
			return nil, fmt.Errorf("%w: GET %s failed %d times: %w",
				ErrNotConnected, path, attempt, err)
		}

		log.Debugf("GET %s failed, retrying: %v", path, err)

		select {
		case <-time.After(time.Duration(attempt) * retryStep):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNotConnected,
				ctx.Err())
		}
	}
}

// get returns the body of a 200 response for path.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.send(ctx, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	msg := strings.TrimSpace(string(body))
	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil

	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrTxNotFound, msg)

	default:
		return nil, fmt.Errorf("GET %s: status %d: %s", path,
			resp.StatusCode, msg)
	}
}

// GetTipHeight returns the height of the best block the API knows.
func (c *Client) GetTipHeight(ctx context.Context) (int64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad tip height %q: %w", body, err)
	}

	return height, nil
}

// IsOutpointSpent reports whether any transaction known to the API spends
// op. An unknown funding transaction yields ErrTxNotFound.
func (c *Client) IsOutpointSpent(ctx context.Context,
	op wire.OutPoint) (bool, error) {

	path := fmt.Sprintf("/tx/%v/outspend/%d", op.Hash, op.Index)
	body, err := c.get(ctx, path)
	if err != nil {
		return false, err
	}

	var spend outspend
	if err := json.Unmarshal(body, &spend); err != nil {
		return false, fmt.Errorf("bad outspend of %v: %w", op, err)
	}

	if spend.Spent {
		log.Debugf("Outpoint %v spent by %s:%d (confirmed=%v)", op,
			spend.TxID, spend.Vin, spend.Status.Confirmed)
	}

	return spend.Spent, nil
}
