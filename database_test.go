package exchanged

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/exchangelabs/exchanged/exchcfg"
	"github.com/exchangelabs/exchanged/ledger"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

// TestOpenDatabases opens each embedded backend, writes through the ledger
// and checks that the state survives a reopen.
func TestOpenDatabases(t *testing.T) {
	backends := []string{exchcfg.BoltBackend, exchcfg.SqliteBackend}

	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()

			cfg := DefaultConfig()
			cfg.DataDir = filepath.Join(t.TempDir(), "data")
			cfg.DB.Backend = backend

			dbs, err := OpenDatabases(ctx, &cfg)
			require.NoError(t, err)
			require.NoError(t, dbs.Ping(ctx))

			balances := ledger.New(dbs.LedgerStore, clock.NewDefaultClock())
			_, err = balances.Credit(
				ctx, "alice", ledger.CurrencyBase, 1000,
				ledger.WithKind(ledger.KindDeposit),
				ledger.WithReference("deposit:alice"),
			)
			require.NoError(t, err)
			dbs.Close()

			_, err = os.Stat(cfg.DataDir)
			require.NoError(t, err)

			dbs, err = OpenDatabases(ctx, &cfg)
			require.NoError(t, err)
			defer dbs.Close()

			balances = ledger.New(dbs.LedgerStore, clock.NewDefaultClock())
			balance, err := balances.GetBalance(ctx, "alice")
			require.NoError(t, err)
			require.EqualValues(t, 1000, balance.BaseUnits)

			found, err := balances.HasReference(ctx, "deposit:alice")
			require.NoError(t, err)
			require.True(t, found)
		})
	}
}

// TestOpenDatabasesUnknownBackend checks that an unknown backend is refused.
func TestOpenDatabasesUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.DB.Backend = "etcd"

	_, err := OpenDatabases(context.Background(), &cfg)
	require.ErrorContains(t, err, "unknown database backend")
}
