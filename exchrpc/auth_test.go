package exchrpc

import (
	"bytes"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// TestSignVerifyRequest checks a signed request verifies and that tampering
// with any committed part is detected.
func TestSignVerifyRequest(t *testing.T) {
	t.Parallel()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	now := time.Unix(1_700_000_000, 0)
	body := []byte(`{"amount":100}`)

	newReq := func() *http.Request {
		req := httptest.NewRequest(
			http.MethodPost, "/v1/withdraw?x=1",
			bytes.NewReader(body),
		)
		SignRequest(req, key, body, now)

		return req
	}

	pub, err := VerifyRequest(newReq(), body, now, time.Minute)
	require.NoError(t, err)
	require.True(t, pub.IsEqual(key.PubKey()))

	tests := []struct {
		name   string
		mutate func(*http.Request) []byte
		now    time.Time
		err    error
	}{
		{
			name: "body changed",
			mutate: func(*http.Request) []byte {
				return []byte(`{"amount":1000}`)
			},
			err: ErrBadSignature,
		},
		{
			name: "path changed",
			mutate: func(r *http.Request) []byte {
				r.URL.Path = "/v1/deposit"
				return body
			},
			err: ErrBadSignature,
		},
		{
			name: "query changed",
			mutate: func(r *http.Request) []byte {
				r.URL.RawQuery = "x=2"
				return body
			},
			err: ErrBadSignature,
		},
		{
			name: "method changed",
			mutate: func(r *http.Request) []byte {
				r.Method = http.MethodPut
				return body
			},
			err: ErrBadSignature,
		},
		{
			name: "other key",
			mutate: func(r *http.Request) []byte {
				other, _ := btcec.NewPrivateKey()
				r.Header.Set(HeaderIdentityKey, hexKey(other))
				return body
			},
			err: ErrBadSignature,
		},
		{
			name: "missing signature",
			mutate: func(r *http.Request) []byte {
				r.Header.Del(HeaderSignature)
				return body
			},
			err: ErrMissingAuth,
		},
		{
			name: "stale",
			mutate: func(*http.Request) []byte {
				return body
			},
			now: now.Add(2 * time.Minute),
			err: ErrStaleRequest,
		},
		{
			name: "from the future",
			mutate: func(*http.Request) []byte {
				return body
			},
			now: now.Add(-2 * time.Minute),
			err: ErrStaleRequest,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			req := newReq()
			b := test.mutate(req)
			verifyAt := now
			if !test.now.IsZero() {
				verifyAt = test.now
			}

			_, err := VerifyRequest(req, b, verifyAt, time.Minute)
			require.ErrorIs(t, err, test.err)
		})
	}
}

func hexKey(key *btcec.PrivateKey) string {
	return hex.EncodeToString(key.PubKey().SerializeCompressed())
}
