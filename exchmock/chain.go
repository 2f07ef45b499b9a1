// NOTE: forcetypeassert is skipped for the mock because the test would fail if
// the returned value doesn't match the type.
package exchmock

import (
	"context"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// MockSpendLookup answers outpoint spend queries, as the Esplora client
// does.
type MockSpendLookup struct {
	mock.Mock
}

func (m *MockSpendLookup) IsOutpointSpent(ctx context.Context,
	op wire.OutPoint) (bool, error) {

	args := m.Called(ctx, op)

	return args.Bool(0), args.Error(1)
}
