package memwallet

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/stretchr/testify/require"
)

// TestPaymentBetweenWallets sends a derived-key payment from one wallet to
// another and checks the recipient can internalize it.
func TestPaymentBetweenWallets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	sender, err := NewRandom()
	require.NoError(t, err)
	recipient, err := NewRandom()
	require.NoError(t, err)

	_, err = sender.AddFunds(1_000)
	require.NoError(t, err)

	senderKey, err := sender.GetIdentityKey(ctx)
	require.NoError(t, err)
	recipientKey, err := recipient.GetIdentityKey(ctx)
	require.NoError(t, err)

	dc, err := brc29.NewDerivationContext()
	require.NoError(t, err)

	// The sender derives the recipient's key, the recipient derives the
	// same key for itself.
	theirKey, err := sender.DerivePublicKey(
		ctx, brc29.ProtocolID, dc.KeyID(), recipientKey, false,
	)
	require.NoError(t, err)
	ownKey, err := recipient.DerivePublicKey(
		ctx, brc29.ProtocolID, dc.KeyID(), senderKey, true,
	)
	require.NoError(t, err)
	require.True(t, theirKey.IsEqual(ownKey))

	script, err := brc29.PayToPubKeyHashScript(theirKey)
	require.NoError(t, err)

	payment, err := sender.CreatePayment(ctx, &wallet.PaymentRequest{
		Description: "test payment",
		Outputs:     []wallet.Output{{PkScript: script, Amount: 400}},
		Labels:      []string{"outbound"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 600, sender.Balance())

	remittance := wallet.Remittance{
		DerivationPrefix:  dc.Prefix,
		DerivationSuffix:  dc.Suffix,
		SenderIdentityKey: senderKey,
	}

	result, err := recipient.InternalizePayment(
		ctx, &wallet.InternalizeRequest{
			RawPayment: payment.RawPayment,
			Remittance: remittance,
			Labels:     []string{"inbound"},
		},
	)
	require.NoError(t, err)
	require.True(t, result.Accepted)
	require.Equal(t, payment.TxID, result.TxID)
	require.EqualValues(t, 400, recipient.Balance())

	// The wrong sender key derives a different key and is rejected.
	remittance.SenderIdentityKey = recipientKey
	result, err = recipient.InternalizePayment(
		ctx, &wallet.InternalizeRequest{
			RawPayment: payment.RawPayment,
			Remittance: remittance,
		},
	)
	require.NoError(t, err)
	require.False(t, result.Accepted)

	actions, err := sender.ListLabeledActions(
		ctx, []string{"outbound"}, 10,
	)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, payment.TxID, actions[0].TxID)

	actions, err = sender.ListLabeledActions(ctx, []string{"missing"}, 10)
	require.NoError(t, err)
	require.Empty(t, actions)

	_, err = sender.CreatePayment(ctx, &wallet.PaymentRequest{
		Outputs: []wallet.Output{{PkScript: script, Amount: 10_000}},
	})
	require.ErrorIs(t, err, ErrInsufficientCoins)
}

// TestCreateSignature checks signatures verify under the identity key.
func TestCreateSignature(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, err := NewRandom()
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("certificate"))
	sigBytes, err := w.CreateSignature(ctx, digest)
	require.NoError(t, err)

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	require.NoError(t, err)

	pub, err := w.GetIdentityKey(ctx)
	require.NoError(t, err)
	require.True(t, sig.Verify(digest[:], pub))
}
