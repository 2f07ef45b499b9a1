package sanctions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// HTTPScreener screens names with a remote screening service. The service
// accepts {"name": ...} and answers {"sanctioned": bool,
// "matchedEntity": string|null}.
type HTTPScreener struct {
	url string

	httpClient *http.Client
}

// NewHTTPScreener creates a screener for the service at url.
func NewHTTPScreener(url string, timeout time.Duration) *HTTPScreener {
	return &HTTPScreener{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type checkRequest struct {
	Name string `json:"name"`
}

type checkResponse struct {
	Sanctioned    bool    `json:"sanctioned"`
	MatchedEntity *string `json:"matchedEntity"`
}

// Check screens the name with the remote service. Any transport or server
// failure is reported as ErrUnavailable.
//
// NOTE: This is part of the Screener interface.
func (s *HTTPScreener) Check(ctx context.Context, name string) (*Match,
	error) {

	if Normalize(name) == "" {
		return nil, ErrEmptyName
	}

	body, err := json.Marshal(checkRequest{Name: name})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.url, bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable,
			resp.StatusCode, string(respBody))
	}

	var result checkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: bad response: %w", ErrUnavailable,
			err)
	}

	match := &Match{
		Sanctioned:    result.Sanctioned,
		MatchedEntity: fn.None[string](),
	}
	if result.MatchedEntity != nil && *result.MatchedEntity != "" {
		match.MatchedEntity = fn.Some(*result.MatchedEntity)
	}

	return match, nil
}

// A compile-time assertion to ensure HTTPScreener implements Screener.
var _ Screener = (*HTTPScreener)(nil)
