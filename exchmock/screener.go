// NOTE: forcetypeassert is skipped for the mock because the test would fail if
// the returned value doesn't match the type.
package exchmock

import (
	"context"

	"github.com/exchangelabs/exchanged/sanctions"
	"github.com/stretchr/testify/mock"
)

// MockScreener implements the `sanctions.Screener` interface.
type MockScreener struct {
	mock.Mock
}

// Compile time assertion that MockScreener implements sanctions.Screener.
var _ sanctions.Screener = (*MockScreener)(nil)

func (m *MockScreener) Check(ctx context.Context,
	name string) (*sanctions.Match, error) {

	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*sanctions.Match), args.Error(1)
}
