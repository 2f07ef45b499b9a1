package httpwallet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/keychain"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/exchangelabs/exchanged/wallet/memwallet"
	"github.com/stretchr/testify/require"
)

// walletServer serves the JSON substrate from an in-memory wallet.
type walletServer struct {
	t *testing.T
	w *memwallet.Wallet
}

func (s *walletServer) parseKey(keyHex string) *btcec.PublicKey {
	keyBytes, err := hex.DecodeString(keyHex)
	require.NoError(s.t, err)
	key, err := btcec.ParsePubKey(keyBytes)
	require.NoError(s.t, err)

	return key
}

func (s *walletServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	require.Equal(s.t, "exchanged-test", r.Header.Get(originatorHeader))

	ctx := r.Context()
	dec := json.NewDecoder(r.Body)
	enc := json.NewEncoder(w)

	switch r.URL.Path {
	case "/getPublicKey":
		var req getPublicKeyRequest
		require.NoError(s.t, dec.Decode(&req))

		var (
			key *btcec.PublicKey
			err error
		)
		if req.IdentityKey {
			key, err = s.w.GetIdentityKey(ctx)
		} else {
			level, _ := req.ProtocolID[0].(float64)
			name, _ := req.ProtocolID[1].(string)
			key, err = s.w.DerivePublicKey(ctx, keychain.Protocol{
				SecurityLevel: keychain.SecurityLevel(level),
				Name:          name,
			}, req.KeyID, s.parseKey(req.Counterparty), req.ForSelf)
		}
		require.NoError(s.t, err)

		_ = enc.Encode(getPublicKeyResponse{
			PublicKey: hex.EncodeToString(key.SerializeCompressed()),
		})

	case "/createAction":
		var raw json.RawMessage
		require.NoError(s.t, dec.Decode(&raw))

		// The exchange finds its outputs by script, but still asks
		// the wallet to keep the requested order.
		require.Contains(s.t, string(raw),
			`"options":{"randomizeOutputs":false}`)

		var req createActionRequest
		require.NoError(s.t, json.Unmarshal(raw, &req))

		payReq := &wallet.PaymentRequest{
			Description: req.Description,
			Labels:      req.Labels,
		}
		for _, out := range req.Outputs {
			script, err := hex.DecodeString(out.LockingScript)
			require.NoError(s.t, err)
			payReq.Outputs = append(payReq.Outputs, wallet.Output{
				PkScript: script,
				Amount:   btcutil.Amount(out.Satoshis),
			})
		}

		payment, err := s.w.CreatePayment(ctx, payReq)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = enc.Encode(errorResponse{
				Code: "ERR_INSUFFICIENT_FUNDS", Message: err.Error(),
			})
			return
		}

		_ = enc.Encode(createActionResponse{
			TxID: payment.TxID.String(),
			Tx:   hex.EncodeToString(payment.RawPayment),
		})

	case "/listActions":
		var req listActionsRequest
		require.NoError(s.t, dec.Decode(&req))
		require.Equal(s.t, "all", req.LabelQueryMode)

		actions, err := s.w.ListLabeledActions(ctx, req.Labels, req.Limit)
		require.NoError(s.t, err)

		var resp listActionsResponse
		for _, a := range actions {
			resp.Actions = append(resp.Actions, walletAction{
				TxID:        a.TxID.String(),
				Description: a.Description,
				Labels:      a.Labels,
				Satoshis:    int64(a.Amount),
				Status:      a.Status,
			})
		}
		resp.TotalActions = uint32(len(resp.Actions))
		_ = enc.Encode(resp)

	case "/createSignature":
		var req createSignatureRequest
		require.NoError(s.t, dec.Decode(&req))

		var digest [32]byte
		digestBytes, err := hex.DecodeString(req.HashToDirectlySign)
		require.NoError(s.t, err)
		copy(digest[:], digestBytes)

		sig, err := s.w.CreateSignature(ctx, digest)
		require.NoError(s.t, err)
		_ = enc.Encode(createSignatureResponse{
			Signature: hex.EncodeToString(sig),
		})

	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func newTestClient(t *testing.T) (*Client, *memwallet.Wallet) {
	t.Helper()

	mem, err := memwallet.NewRandom()
	require.NoError(t, err)

	srv := httptest.NewServer(&walletServer{t: t, w: mem})
	t.Cleanup(srv.Close)

	return New(&Config{
		URL:        srv.URL,
		Timeout:    time.Second,
		Originator: "exchanged-test",
	}), mem
}

// TestKeys checks identity and derived keys match the backing wallet.
func TestKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, mem := newTestClient(t)

	identity, err := client.GetIdentityKey(ctx)
	require.NoError(t, err)
	memIdentity, _ := mem.GetIdentityKey(ctx)
	require.True(t, identity.IsEqual(memIdentity))

	counterparty, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	derived, err := client.DerivePublicKey(
		ctx, brc29.ProtocolID, "prefix suffix", counterparty.PubKey(), true,
	)
	require.NoError(t, err)

	expected, err := mem.DerivePublicKey(
		ctx, brc29.ProtocolID, "prefix suffix", counterparty.PubKey(), true,
	)
	require.NoError(t, err)
	require.True(t, derived.IsEqual(expected))

	_, err = client.DerivePublicKey(
		ctx, keychain.Protocol{Name: "x"}, "a b", counterparty.PubKey(),
		true,
	)
	require.ErrorIs(t, err, keychain.ErrInvalidProtocol)
}

// TestCreatePaymentAndList checks payments and labelled actions round trip.
func TestCreatePaymentAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, mem := newTestClient(t)

	_, err := mem.AddFunds(1_000)
	require.NoError(t, err)

	payment, err := client.CreatePayment(ctx, &wallet.PaymentRequest{
		Description: "withdrawal",
		Outputs:     []wallet.Output{{PkScript: []byte{0x51}, Amount: 250}},
		Labels:      []string{"withdrawal"},
	})
	require.NoError(t, err)

	tx, err := brc29.ParsePayment(payment.RawPayment)
	require.NoError(t, err)
	require.Equal(t, payment.TxID, tx.TxHash())

	actions, err := client.ListLabeledActions(
		ctx, []string{"withdrawal"}, 5,
	)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, payment.TxID, actions[0].TxID)
	require.EqualValues(t, -250, actions[0].Amount)

	_, err = client.CreatePayment(ctx, &wallet.PaymentRequest{
		Outputs: []wallet.Output{{PkScript: []byte{0x51}, Amount: 5_000}},
	})
	require.ErrorContains(t, err, "ERR_INSUFFICIENT_FUNDS")
	require.NotErrorIs(t, err, wallet.ErrUnavailable)
}

// TestCreateSignature checks the remote signature verifies.
func TestCreateSignature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, mem := newTestClient(t)

	digest := sha256.Sum256([]byte("payload"))
	sigBytes, err := client.CreateSignature(ctx, digest)
	require.NoError(t, err)

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	require.NoError(t, err)
	pub, _ := mem.GetIdentityKey(ctx)
	require.True(t, sig.Verify(digest[:], pub))
}

// TestUnavailable checks transport and server failures map to
// wallet.ErrUnavailable.
func TestUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter,
		_ *http.Request) {

		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(&Config{URL: srv.URL, Timeout: time.Second})
	_, err := client.GetIdentityKey(ctx)
	require.ErrorIs(t, err, wallet.ErrUnavailable)

	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()

	client = New(&Config{URL: url, Timeout: time.Second})
	_, err = client.GetIdentityKey(ctx)
	require.ErrorIs(t, err, wallet.ErrUnavailable)
}
