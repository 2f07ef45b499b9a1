package exchanged

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/exchangelabs/exchanged/esplora"
	"github.com/exchangelabs/exchanged/exchcfg"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/stretchr/testify/require"
)

// flakyWallet answers identity key requests until told to fail.
type flakyWallet struct {
	wallet.Capability

	key   *btcec.PublicKey
	fail  atomic.Bool
	calls atomic.Int32
}

func (w *flakyWallet) GetIdentityKey(context.Context) (*btcec.PublicKey,
	error) {

	w.calls.Add(1)
	if w.fail.Load() {
		return nil, wallet.ErrUnavailable
	}

	return w.key, nil
}

func fastCheck(attempts int) *exchcfg.CheckConfig {
	return &exchcfg.CheckConfig{
		Interval: 10 * time.Millisecond,
		Attempts: attempts,
		Timeout:  time.Second,
		Backoff:  5 * time.Millisecond,
	}
}

func startMonitor(t *testing.T, targets []healthTarget,
	shutdown func()) *healthMonitor {

	t.Helper()

	monitor := newHealthMonitor(targets, shutdown)
	require.NoError(t, monitor.Start())
	t.Cleanup(func() {
		require.NoError(t, monitor.Stop())
	})

	return monitor
}

// TestWalletOutageKeepsRunning checks a failing wallet check marks the
// daemon degraded without requesting a shutdown, keeps watching the wallet
// and clears the degraded state once it answers again.
func TestWalletOutageKeepsRunning(t *testing.T) {
	t.Parallel()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	w := &flakyWallet{key: priv.PubKey()}
	w.fail.Store(true)

	cfg := &exchcfg.HealthCheckConfig{
		DatabaseCheck: fastCheck(0),
		WalletCheck:   fastCheck(2),
		ChainCheck:    fastCheck(0),
	}
	dbs := &DatabaseInstances{
		Ping: func(context.Context) error { return nil },
	}

	var shutdowns atomic.Int32
	monitor := startMonitor(
		t, healthTargets(cfg, dbs, w, nil),
		func() { shutdowns.Add(1) },
	)

	// Two exhausted rounds prove the check was armed again.
	require.Eventually(t, func() bool {
		return w.calls.Load() >= 5
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, monitor.Degraded())
	require.Zero(t, shutdowns.Load())

	w.fail.Store(false)
	require.Eventually(t, func() bool {
		return monitor.Degraded() == 0
	}, 5*time.Second, 5*time.Millisecond)
	require.Zero(t, shutdowns.Load())
}

// TestDatabaseOutageShutsDown checks the database check is still critical.
func TestDatabaseOutageShutsDown(t *testing.T) {
	t.Parallel()

	cfg := &exchcfg.HealthCheckConfig{
		DatabaseCheck: fastCheck(1),
		WalletCheck:   fastCheck(0),
		ChainCheck:    fastCheck(0),
	}
	dbs := &DatabaseInstances{
		Ping: func(context.Context) error {
			return errors.New("database gone")
		},
	}

	shutdown := make(chan struct{}, 1)
	monitor := startMonitor(
		t, healthTargets(cfg, dbs, &flakyWallet{}, nil),
		func() { shutdown <- struct{}{} },
	)

	select {
	case <-shutdown:
	case <-time.After(5 * time.Second):
		t.Fatal("database failure did not request shutdown")
	}
	require.Zero(t, monitor.Degraded())
}

// TestHealthTargets checks the chain backend is only watched when one is
// configured and that only the database is critical.
func TestHealthTargets(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().HealthChecks
	dbs := &DatabaseInstances{
		Ping: func(context.Context) error { return nil },
	}

	targets := healthTargets(cfg, dbs, &flakyWallet{}, nil)
	require.Len(t, targets, 2)
	require.Equal(t, "database", targets[0].name)
	require.True(t, targets[0].critical)
	require.Equal(t, "wallet", targets[1].name)
	require.False(t, targets[1].critical)

	chain := esplora.NewClient(&esplora.ClientConfig{
		URL:            "http://127.0.0.1:1",
		RequestTimeout: time.Second,
	})
	targets = healthTargets(cfg, dbs, &flakyWallet{}, chain)
	require.Len(t, targets, 3)
	require.Equal(t, "chain backend", targets[2].name)
	require.False(t, targets[2].critical)
}
