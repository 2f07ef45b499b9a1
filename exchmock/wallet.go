// NOTE: forcetypeassert is skipped for the mock because the test would fail if
// the returned value doesn't match the type.
package exchmock

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/exchangelabs/exchanged/keychain"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/stretchr/testify/mock"
)

// MockWallet implements the `wallet.Capability` interface.
type MockWallet struct {
	mock.Mock
}

// Compile time assertion that MockWallet implements wallet.Capability.
var _ wallet.Capability = (*MockWallet)(nil)

func (m *MockWallet) GetIdentityKey(ctx context.Context) (*btcec.PublicKey,
	error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcec.PublicKey), args.Error(1)
}

func (m *MockWallet) DerivePublicKey(ctx context.Context,
	protocol keychain.Protocol, keyID string,
	counterparty *btcec.PublicKey, forSelf bool) (*btcec.PublicKey, error) {

	args := m.Called(ctx, protocol, keyID, counterparty, forSelf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*btcec.PublicKey), args.Error(1)
}

func (m *MockWallet) CreatePayment(ctx context.Context,
	req *wallet.PaymentRequest) (*wallet.Payment, error) {

	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*wallet.Payment), args.Error(1)
}

func (m *MockWallet) InternalizePayment(ctx context.Context,
	req *wallet.InternalizeRequest) (*wallet.InternalizeResult, error) {

	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*wallet.InternalizeResult), args.Error(1)
}

func (m *MockWallet) ListLabeledActions(ctx context.Context, labels []string,
	limit uint32) ([]wallet.Action, error) {

	args := m.Called(ctx, labels, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]wallet.Action), args.Error(1)
}

func (m *MockWallet) CreateSignature(ctx context.Context,
	digest [32]byte) ([]byte, error) {

	args := m.Called(ctx, digest)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}
