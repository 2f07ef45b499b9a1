package exchanged

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/daemon"
	"github.com/exchangelabs/exchanged/build"
	"github.com/exchangelabs/exchanged/deposit"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/exchangelabs/exchanged/ledger"
	"github.com/exchangelabs/exchanged/monitoring"
	"github.com/exchangelabs/exchanged/signal"
	"github.com/exchangelabs/exchanged/swap"
	"github.com/exchangelabs/exchanged/withdrawal"
	"github.com/lightningnetwork/lnd/clock"
)

// SetupLogging creates the root logger writing to stdout and the rotating
// log file, and applies the configured debug levels. The returned writer
// must be closed on shutdown.
func SetupLogging(cfg *Config) (*build.RotatingLogWriter, error) {
	logRotator := build.NewRotatingLogWriter()
	logWriter := &build.LogWriter{RotatorPipe: logRotator}

	root := build.NewSubLoggerManager(logWriter)
	SetupLoggers(root)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			root.SupportedSubsystems())
		os.Exit(0)
	}

	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	if err := logRotator.InitLogRotator(cfg.LogConfig, logFile); err != nil {
		return nil, err
	}

	err := build.ParseAndSetDebugLevels(cfg.DebugLevel, root)
	if err != nil {
		_ = logRotator.Close()
		return nil, err
	}

	return logRotator, nil
}

// Main is the true entry point for exchanged. It opens the databases,
// builds the engines and serves the RPC API until a shutdown is requested
// through the interceptor.
func Main(cfg *Config, interceptor signal.Interceptor) error {
	logRotator, err := SetupLogging(cfg)
	if err != nil {
		return fmt.Errorf("unable to set up logging: %w", err)
	}
	defer logRotator.Close()

	exchLog.Infof("Version: %s commit=%s, build=%s, logging=%s, "+
		"debuglevel=%s", build.Version(), build.Commit,
		build.Deployment, build.LoggingType, cfg.DebugLevel)
	exchLog.Infof("Active network: %v", cfg.ActiveNetParams.Name)

	if cfg.configFileError != nil {
		exchLog.Warnf("%v", cfg.configFileError)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbs, err := OpenDatabases(ctx, cfg)
	if err != nil {
		exchLog.Errorf("Unable to open databases: %v", err)
		return err
	}
	defer dbs.Close()

	walletCap, err := newWallet(cfg)
	if err != nil {
		exchLog.Errorf("Unable to create wallet: %v", err)
		return err
	}

	screener, err := newScreener(cfg.Sanctions)
	if err != nil {
		exchLog.Errorf("Unable to create sanctions screener: %v", err)
		return err
	}

	if reloader := newListReloader(cfg.Sanctions, screener); reloader != nil {
		reloader.Start()
		defer reloader.Stop()
	}

	chainClient := newChainClient(cfg.Chain)
	metrics := monitoring.New()
	sysClock := clock.NewDefaultClock()

	kycEngine := kyc.New(&kyc.Config{
		Store:                dbs.CertStore,
		Wallet:               walletCap,
		Screener:             screener,
		SpendLookup:          spendLookup(chainClient),
		Clock:                sysClock,
		ChainParams:          cfg.ActiveNetParams,
		Validity:             cfg.KYC.Validity,
		LookupTimeout:        cfg.Chain.LookupTimeout,
		RevocationFailClosed: cfg.KYC.RevocationFailClosed,
		SanctionsFailClosed:  cfg.Sanctions.FailClosed,
		DisableAnchors:       cfg.KYC.NoAnchor,
		OnFailOpen: func(source kyc.FailOpenSource) {
			metrics.FailOpen(string(source))
		},
	})

	identity, err := kycEngine.IdentityKey(ctx)
	if err != nil {
		exchLog.Warnf("Wallet not reachable at startup: %v", err)
	} else {
		exchLog.Infof("Exchange identity key: %s", kyc.KeyHex(identity))
	}

	balances := ledger.New(dbs.LedgerStore, sysClock)

	rate, err := cfg.Swap.RateDecimal()
	if err != nil {
		return err
	}
	swapEngine, err := swap.New(&swap.Config{
		Ledger:       balances,
		Rate:         rate,
		UnitsPerBase: cfg.Swap.UnitsPerBase,
	})
	if err != nil {
		return err
	}

	server := newRPCServer(&rpcServerConfig{
		Network:   cfg.Network,
		MaxSkew:   cfg.Auth.MaxSkew,
		RateLimit: cfg.Auth.RateLimit,
		RateBurst: cfg.Auth.RateBurst,
		Clock:     sysClock,
		Ledger:    balances,
		Deposits: deposit.New(&deposit.Config{
			Ledger:       balances,
			Wallet:       walletCap,
			Certificates: kycEngine,
		}),
		Withdrawals: withdrawal.New(&withdrawal.Config{
			Ledger: balances,
			Wallet: walletCap,
		}),
		Swaps:   swapEngine,
		KYC:     kycEngine,
		Metrics: metrics,
	})

	monitor := newHealthMonitor(
		healthTargets(cfg.HealthChecks, dbs, walletCap, chainClient),
		interceptor.RequestShutdown,
	)
	if err := monitor.Start(); err != nil {
		return fmt.Errorf("unable to start health monitor: %w", err)
	}
	defer func() {
		if err := monitor.Stop(); err != nil {
			exchLog.Errorf("Unable to stop health monitor: %v", err)
		}
	}()

	exporter := monitoring.NewExporter(cfg.Prometheus, metrics)
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("unable to start prometheus exporter: %w",
			err)
	}
	defer exporter.Stop()

	lis, err := rpcListener(cfg)
	if err != nil {
		exchLog.Errorf("Unable to listen for RPC: %v", err)
		return err
	}
	if err := server.Start(lis); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			exchLog.Errorf("Unable to stop RPC server: %v", err)
		}
	}()

	exchLog.Infof("exchanged started")

	notifyReady()

	<-interceptor.ShutdownChannel()

	exchLog.Infof("Shutting down exchanged")

	return nil
}

// rpcListener opens the RPC listener, wrapped in TLS unless disabled.
func rpcListener(cfg *Config) (net.Listener, error) {
	lis, err := net.Listen("tcp", cfg.RPCListen)
	if err != nil {
		return nil, err
	}

	if cfg.NoTLS {
		if !isLoopback(cfg.RPCListen) {
			exchLog.Warnf("Serving RPC without TLS on %s",
				cfg.RPCListen)
		}

		return lis, nil
	}

	tlsConf, err := newTLSPair(cfg).tlsConfig()
	if err != nil {
		_ = lis.Close()
		return nil, err
	}

	return tls.NewListener(lis, tlsConf), nil
}

// isLoopback reports whether the listen address is on a loopback interface.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}

	ip := net.ParseIP(host)

	return ip != nil && ip.IsLoopback()
}

// notifyReady tells systemd that exchanged is serving requests. Outside of a
// notify type unit there is no socket and nothing is sent.
func notifyReady() {
	notified, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	exchLog.Infof("Systemd was notified about our readiness: %v",
		notified)
	if err != nil {
		exchLog.Errorf("Unable to send systemd readiness "+
			"notification: %v", err)
	}
}
