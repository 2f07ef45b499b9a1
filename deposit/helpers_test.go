package deposit

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/stretchr/testify/require"
)

// wireTx builds an unsigned payment whose first output locks to key.
func wireTx(t *testing.T, key *btcec.PublicKey,
	amount btcutil.Amount) *wire.MsgTx {

	script, err := brc29.PayToPubKeyHashScript(key)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{7}, 0), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(int64(amount), script))

	return tx
}
