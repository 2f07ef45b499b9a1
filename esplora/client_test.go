package esplora

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&ClientConfig{
		URL:            srv.URL,
		RequestTimeout: time.Second,
	})
}

// TestIsOutpointSpent checks the spend lookup against a fake Esplora API.
func TestIsOutpointSpent(t *testing.T) {
	t.Parallel()

	spent := wire.OutPoint{Hash: chainhash.Hash{1}, Index: 0}
	unspent := wire.OutPoint{Hash: chainhash.Hash{2}, Index: 1}

	mux := http.NewServeMux()
	mux.HandleFunc(
		fmt.Sprintf("/tx/%s/outspend/0", spent.Hash), func(w http.ResponseWriter,
			_ *http.Request) {

			fmt.Fprint(w, `{"spent":true,"txid":"ab","vin":0,`+
				`"status":{"confirmed":true,"block_height":10}}`)
		},
	)
	mux.HandleFunc(
		fmt.Sprintf("/tx/%s/outspend/1", unspent.Hash), func(w http.ResponseWriter,
			_ *http.Request) {

			fmt.Fprint(w, `{"spent":false}`)
		},
	)
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter,
		_ *http.Request) {

		fmt.Fprint(w, "812345\n")
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	isSpent, err := c.IsOutpointSpent(ctx, spent)
	require.NoError(t, err)
	require.True(t, isSpent)

	isSpent, err = c.IsOutpointSpent(ctx, unspent)
	require.NoError(t, err)
	require.False(t, isSpent)

	_, err = c.IsOutpointSpent(ctx, wire.OutPoint{Hash: chainhash.Hash{3}})
	require.ErrorIs(t, err, ErrTxNotFound)

	height, err := c.GetTipHeight(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 812345, height)
}

// TestServerError checks non-OK responses are reported as errors.
func TestServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter,
		_ *http.Request) {

		calls.Add(1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	c.cfg.MaxRetries = 2

	_, err := c.GetTipHeight(context.Background())
	require.ErrorContains(t, err, "status 503")

	// Only transport failures are retried.
	require.EqualValues(t, 1, calls.Load())
}

// TestUnreachable checks transport failures surface ErrNotConnected.
func TestUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(&ClientConfig{
		URL:            url,
		RequestTimeout: time.Second,
		MaxRetries:     1,
	})

	_, err := c.IsOutpointSpent(
		context.Background(), wire.OutPoint{Hash: chainhash.Hash{1}},
	)
	require.ErrorIs(t, err, ErrNotConnected)
}
