package brc29

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestDerivationContext checks fresh contexts are valid and unique.
func TestDerivationContext(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		dc, err := NewDerivationContext()
		require.NoError(t, err)
		require.NoError(t, dc.Validate())

		_, dup := seen[dc.KeyID()]
		require.False(t, dup)
		seen[dc.KeyID()] = struct{}{}
	}

	invalid := []DerivationContext{
		{Prefix: "", Suffix: "abc"},
		{Prefix: "abc", Suffix: ""},
		{Prefix: "a b", Suffix: "c"},
	}
	for _, dc := range invalid {
		require.ErrorIs(t, dc.Validate(), ErrInvalidNonce)
	}

	dc := DerivationContext{Prefix: "p", Suffix: "s"}
	require.Equal(t, "p s", dc.KeyID())
}

// TestPayToPubKeyHash checks the script round trips through the hash
// extraction.
func TestPayToPubKeyHash(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	script, err := PayToPubKeyHashScript(priv.PubKey())
	require.NoError(t, err)

	hash, err := ExtractPubKeyHash(script)
	require.NoError(t, err)
	require.Equal(t, btcutil.Hash160(priv.PubKey().SerializeCompressed()),
		hash)

	_, err = ExtractPubKeyHash([]byte{0x6a, 0x01, 0x00})
	require.ErrorIs(t, err, ErrNotPayToPubKeyHash)
}

// TestPaymentEncoding checks raw payments decode and expose their first
// output.
func TestPaymentEncoding(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{1}, 0), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(500, []byte{0x51}))
	tx.AddTxOut(wire.NewTxOut(10, []byte{0x52}))

	raw, err := SerializePayment(tx)
	require.NoError(t, err)

	parsed, err := ParsePayment(raw)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), parsed.TxHash())

	out, err := FirstOutput(parsed)
	require.NoError(t, err)
	require.EqualValues(t, 500, out.Value)

	_, err = FirstOutput(wire.NewMsgTx(2))
	require.ErrorIs(t, err, ErrNoOutputs)

	_, err = ParsePayment([]byte{0x01})
	require.Error(t, err)
}

// TestFindOutput checks outputs are located by script rather than position.
func TestFindOutput(t *testing.T) {
	t.Parallel()

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(0, []byte{0x6a, 0x01, 0x02}))
	tx.AddTxOut(wire.NewTxOut(1, []byte{0x51}))
	tx.AddTxOut(wire.NewTxOut(5, []byte{0x52}))

	idx, err := FindOutput(tx, []byte{0x51})
	require.NoError(t, err)
	require.EqualValues(t, 1, idx)

	idx, err = FindOutput(tx, []byte{0x52})
	require.NoError(t, err)
	require.EqualValues(t, 2, idx)

	_, err = FindOutput(tx, []byte{0x53})
	require.ErrorIs(t, err, ErrOutputNotFound)

	_, err = FindOutput(wire.NewMsgTx(2), []byte{0x51})
	require.ErrorIs(t, err, ErrOutputNotFound)
}
