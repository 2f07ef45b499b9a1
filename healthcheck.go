package exchanged

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/exchangelabs/exchanged/esplora"
	"github.com/exchangelabs/exchanged/exchcfg"
	"github.com/exchangelabs/exchanged/wallet"
	"github.com/lightningnetwork/lnd/healthcheck"
)

// healthTarget is one periodic check. Only a critical target may shut the
// daemon down. The wallet and the chain backend are external, and their
// outages fail single requests, so they only mark the daemon degraded.
type healthTarget struct {
	name     string
	cfg      *exchcfg.CheckConfig
	critical bool
	check    func(ctx context.Context) error
}

// healthTargets lists the configured checks.
func healthTargets(cfg *exchcfg.HealthCheckConfig, dbs *DatabaseInstances,
	w wallet.Capability, chain *esplora.Client) []healthTarget {

	targets := []healthTarget{
		{
			name:     "database",
			cfg:      cfg.DatabaseCheck,
			critical: true,
			check:    dbs.Ping,
		},
		{
			name: "wallet",
			cfg:  cfg.WalletCheck,
			check: func(ctx context.Context) error {
				_, err := w.GetIdentityKey(ctx)
				return err
			},
		},
	}

	if chain != nil {
		targets = append(targets, healthTarget{
			name: "chain backend",
			cfg:  cfg.ChainCheck,
			check: func(ctx context.Context) error {
				_, err := chain.GetTipHeight(ctx)
				return err
			},
		})
	}

	return targets
}

// healthMonitor runs the critical checks on a monitor that requests a
// shutdown, and the advisory ones on a monitor that never does.
type healthMonitor struct {
	critical *healthcheck.Monitor
	advisory *healthcheck.Monitor

	degraded atomic.Int32
}

// newHealthMonitor creates the monitors for the enabled targets. shutdown is
// only ever called for a critical target.
func newHealthMonitor(targets []healthTarget,
	shutdown func()) *healthMonitor {

	m := &healthMonitor{}

	var critical, advisory []*healthcheck.Observation
	for _, target := range targets {
		if !target.cfg.Enabled() {
			continue
		}

		if target.critical {
			critical = append(critical, observe(target))
			continue
		}

		advisory = append(advisory, m.observeAdvisory(target))
	}

	m.critical = healthcheck.NewMonitor(&healthcheck.Config{
		Checks: critical,
		Shutdown: func(format string, params ...interface{}) {
			exchLog.Criticalf("Health check failed, shutting "+
				"down: %v", fmt.Sprintf(format, params...))

			shutdown()
		},
	})

	// A failed advisory observation stops monitoring itself, so its
	// failure callback arms a fresh one before this runs.
	m.advisory = healthcheck.NewMonitor(&healthcheck.Config{
		Checks: advisory,
		Shutdown: func(format string, params ...interface{}) {
			exchLog.Debugf("Advisory %v", fmt.Sprintf(format,
				params...))
		},
	})

	return m
}

// observe turns a target into an observation bounded by its timeout.
func observe(target healthTarget,
	opts ...healthcheck.ObservationOption) *healthcheck.Observation {

	c := target.cfg

	return healthcheck.NewObservation(
		target.name,
		func() error {
			ctx, cancel := context.WithTimeout(
				context.Background(), c.Timeout,
			)
			defer cancel()

			return target.check(ctx)
		},
		c.Interval, c.Timeout, c.Backoff, c.Attempts, opts...,
	)
}

// observeAdvisory creates an observation that logs when its target goes
// down or comes back, and keeps watching after a failure.
func (m *healthMonitor) observeAdvisory(
	target healthTarget) *healthcheck.Observation {

	var down atomic.Bool

	var arm func() *healthcheck.Observation
	arm = func() *healthcheck.Observation {
		return observe(
			target,
			healthcheck.WithFailureCallback(func() {
				if !down.Swap(true) {
					m.degraded.Add(1)
				}
				exchLog.Errorf("Health check %v failed after "+
					"%v attempts, running degraded",
					target.name, target.cfg.Attempts)

				_ = m.advisory.AddCheck(arm())
			}),
			healthcheck.WithSuccessCallback(func() {
				if down.Swap(false) {
					m.degraded.Add(-1)
					exchLog.Infof("Health check %v "+
						"recovered", target.name)
				}
			}),
		)
	}

	return arm()
}

// Degraded reports the number of advisory targets currently failing.
func (m *healthMonitor) Degraded() int {
	return int(m.degraded.Load())
}

// Start starts both monitors.
func (m *healthMonitor) Start() error {
	if err := m.critical.Start(); err != nil {
		return err
	}

	return m.advisory.Start()
}

// Stop stops both monitors.
func (m *healthMonitor) Stop() error {
	if err := m.advisory.Stop(); err != nil {
		return err
	}

	return m.critical.Stop()
}
