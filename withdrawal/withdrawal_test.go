package withdrawal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/exchangelabs/exchanged/brc29"
	"github.com/exchangelabs/exchanged/exchmock"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/exchangelabs/exchanged/ledger"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/exchangelabs/exchanged/wallet/memwallet"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	backend, cleanup, err := kvdb.GetTestBackend(t.TempDir(), "withdraw")
	require.NoError(t, err)
	t.Cleanup(cleanup)

	store, err := ledger.NewKVStore(backend)
	require.NoError(t, err)

	return ledger.New(store, clock.NewTestClock(time.Unix(1_700_000_000, 0)))
}

// TestWithdraw checks a withdrawal debits the ledger and pays a key the
// requester can claim with the returned remittance.
func TestWithdraw(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger(t)

	exchange, err := memwallet.NewRandom()
	require.NoError(t, err)
	_, err = exchange.AddFunds(1_000)
	require.NoError(t, err)

	user, err := memwallet.NewRandom()
	require.NoError(t, err)
	userKey, err := user.GetIdentityKey(ctx)
	require.NoError(t, err)

	_, err = l.Credit(ctx, kyc.KeyHex(userKey), ledger.CurrencyBase, 400)
	require.NoError(t, err)

	b := New(&Config{Ledger: l, Wallet: exchange})
	result, err := b.Withdraw(ctx, &Request{Requester: userKey, Amount: 150})
	require.NoError(t, err)
	require.EqualValues(t, 250, result.Balance.Base())

	exchangeKey, _ := exchange.GetIdentityKey(ctx)
	require.True(t, result.SenderIdentityKey.IsEqual(exchangeKey))

	claimed, err := user.InternalizePayment(ctx, &wallet.InternalizeRequest{
		RawPayment: result.RawPayment,
		Remittance: wallet.Remittance{
			DerivationPrefix:  result.DerivationPrefix,
			DerivationSuffix:  result.DerivationSuffix,
			SenderIdentityKey: result.SenderIdentityKey,
			OutputIndex:       result.OutputIndex,
		},
	})
	require.NoError(t, err)
	require.True(t, claimed.Accepted)
	require.EqualValues(t, 150, user.Balance())

	actions, err := exchange.ListLabeledActions(ctx, []string{Label}, 0)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	require.Equal(t, result.TxID, actions[0].TxID)

	entries, err := l.Entries(ctx, kyc.KeyHex(userKey), 1)
	require.NoError(t, err)
	require.Equal(t, ledger.KindWithdrawal, entries[0].Kind)
}

// layoutWallet lets a test rewrite the outputs of every payment before the
// in-memory wallet funds it.
type layoutWallet struct {
	*memwallet.Wallet

	layout func([]wallet.Output) []wallet.Output
}

func (w *layoutWallet) CreatePayment(ctx context.Context,
	req *wallet.PaymentRequest) (*wallet.Payment, error) {

	laidOut := *req
	laidOut.Outputs = w.layout(req.Outputs)

	return w.Wallet.CreatePayment(ctx, &laidOut)
}

func nullDataOutput(t *testing.T) wallet.Output {
	t.Helper()

	script, err := txscript.NullDataScript([]byte("memo"))
	require.NoError(t, err)

	return wallet.Output{PkScript: script}
}

// TestWithdrawOutputOrder checks the remittance names the output paying the
// requester even when the wallet puts another output first.
func TestWithdrawOutputOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger(t)

	inner, err := memwallet.NewRandom()
	require.NoError(t, err)
	_, err = inner.AddFunds(1_000)
	require.NoError(t, err)
	exchange := &layoutWallet{
		Wallet: inner,
		layout: func(outs []wallet.Output) []wallet.Output {
			return append([]wallet.Output{nullDataOutput(t)}, outs...)
		},
	}

	user, err := memwallet.NewRandom()
	require.NoError(t, err)
	userKey, err := user.GetIdentityKey(ctx)
	require.NoError(t, err)

	_, err = l.Credit(ctx, kyc.KeyHex(userKey), ledger.CurrencyBase, 400)
	require.NoError(t, err)

	b := New(&Config{Ledger: l, Wallet: exchange})
	result, err := b.Withdraw(ctx, &Request{Requester: userKey, Amount: 150})
	require.NoError(t, err)
	require.EqualValues(t, 1, result.OutputIndex)

	tx, err := brc29.ParsePayment(result.RawPayment)
	require.NoError(t, err)
	require.EqualValues(t, 150, tx.TxOut[result.OutputIndex].Value)

	claimed, err := user.InternalizePayment(ctx, &wallet.InternalizeRequest{
		RawPayment: result.RawPayment,
		Remittance: wallet.Remittance{
			DerivationPrefix:  result.DerivationPrefix,
			DerivationSuffix:  result.DerivationSuffix,
			SenderIdentityKey: result.SenderIdentityKey,
			OutputIndex:       result.OutputIndex,
		},
	})
	require.NoError(t, err)
	require.True(t, claimed.Accepted)
	require.EqualValues(t, 150, user.Balance())
}

// TestWithdrawOutputMissing checks a payment that does not pay the derived
// key is reversed.
func TestWithdrawOutputMissing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger(t)

	inner, err := memwallet.NewRandom()
	require.NoError(t, err)
	_, err = inner.AddFunds(1_000)
	require.NoError(t, err)
	exchange := &layoutWallet{
		Wallet: inner,
		layout: func([]wallet.Output) []wallet.Output {
			return []wallet.Output{nullDataOutput(t)}
		},
	}

	user, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userKey := kyc.KeyHex(user.PubKey())

	_, err = l.Credit(ctx, userKey, ledger.CurrencyBase, 400)
	require.NoError(t, err)

	b := New(&Config{Ledger: l, Wallet: exchange})
	_, err = b.Withdraw(ctx, &Request{Requester: user.PubKey(), Amount: 150})
	require.ErrorIs(t, err, brc29.ErrOutputNotFound)

	balance, err := l.GetBalance(ctx, userKey)
	require.NoError(t, err)
	require.EqualValues(t, 400, balance.Base())
}

// TestWithdrawInsufficient checks a withdrawal above the balance fails
// before any key is derived and leaves the balance untouched.
func TestWithdrawInsufficient(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger(t)

	user, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userKey := kyc.KeyHex(user.PubKey())

	_, err = l.Credit(ctx, userKey, ledger.CurrencyBase, 100)
	require.NoError(t, err)

	// The wallet mock has no expectations: any call fails the test.
	w := &exchmock.MockWallet{}
	b := New(&Config{Ledger: l, Wallet: w})

	_, err = b.Withdraw(ctx, &Request{Requester: user.PubKey(), Amount: 150})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	balance, err := l.GetBalance(ctx, userKey)
	require.NoError(t, err)
	require.EqualValues(t, 100, balance.Base())

	_, err = b.Withdraw(ctx, &Request{Requester: user.PubKey(), Amount: 0})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	w.AssertExpectations(t)
}

// TestWithdrawReversal checks a failed payment credits the debit back.
func TestWithdrawReversal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newLedger(t)

	user, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	userKey := kyc.KeyHex(user.PubKey())
	exchange, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	derived, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	_, err = l.Credit(ctx, userKey, ledger.CurrencyBase, 300)
	require.NoError(t, err)

	w := &exchmock.MockWallet{}
	w.On("GetIdentityKey", mock.Anything).Return(exchange.PubKey(), nil)
	w.On("DerivePublicKey", mock.Anything, brc29.ProtocolID,
		mock.Anything, mock.Anything, false).Return(derived.PubKey(), nil)
	w.On("CreatePayment", mock.Anything, mock.Anything).
		Return(nil, wallet.ErrUnavailable)

	b := New(&Config{Ledger: l, Wallet: w})
	_, err = b.Withdraw(ctx, &Request{Requester: user.PubKey(), Amount: 200})
	require.ErrorIs(t, err, wallet.ErrUnavailable)
	require.False(t, errors.Is(err, ErrReversalFailed))

	balance, err := l.GetBalance(ctx, userKey)
	require.NoError(t, err)
	require.EqualValues(t, 300, balance.Base())

	entries, err := l.Entries(ctx, userKey, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, ledger.KindWithdrawalReversal, entries[0].Kind)
	require.Equal(t, ledger.KindWithdrawal, entries[1].Kind)

	w.AssertExpectations(t)
}
