package exchanged

import (
	"github.com/btcsuite/btclog"
	"github.com/exchangelabs/exchanged/build"
	"github.com/exchangelabs/exchanged/certdb"
	"github.com/exchangelabs/exchanged/deposit"
	"github.com/exchangelabs/exchanged/esplora"
	"github.com/exchangelabs/exchanged/kyc"
	"github.com/exchangelabs/exchanged/ledger"
	"github.com/exchangelabs/exchanged/monitoring"
	"github.com/exchangelabs/exchanged/sanctions"
	"github.com/exchangelabs/exchanged/signal"
	"github.com/exchangelabs/exchanged/sqldb"
	"github.com/exchangelabs/exchanged/swap"
	"github.com/exchangelabs/exchanged/wallet/httpwallet"
	"github.com/exchangelabs/exchanged/wallet/memwallet"
	"github.com/exchangelabs/exchanged/withdrawal"
	"github.com/lightningnetwork/lnd/healthcheck"
)

// Loggers per subsystem. A single backend logger is created and all subsystem
// loggers created from it will write to the backend. When adding new
// subsystems, add the subsystem logger variable here and to SetupLoggers.
//
// Loggers can not be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup.
var (
	exchLog = build.NewSubLogger("EXCD", nil)
	rpcsLog = build.NewSubLogger("RPCS", nil)
)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.SubLoggerManager) {
	// Now that we have the root logger, we can create all subsystem
	// loggers.
	exchLog = addSubLogger(root, "EXCD")
	rpcsLog = addSubLogger(root, "RPCS")

	AddSubLogger(root, signal.Subsystem, signal.UseLogger)
	AddSubLogger(root, ledger.Subsystem, ledger.UseLogger)
	AddSubLogger(root, certdb.Subsystem, certdb.UseLogger)
	AddSubLogger(root, kyc.Subsystem, kyc.UseLogger)
	AddSubLogger(root, deposit.Subsystem, deposit.UseLogger)
	AddSubLogger(root, withdrawal.Subsystem, withdrawal.UseLogger)
	AddSubLogger(root, swap.Subsystem, swap.UseLogger)
	AddSubLogger(root, httpwallet.Subsystem, httpwallet.UseLogger)
	AddSubLogger(root, memwallet.Subsystem, memwallet.UseLogger)
	AddSubLogger(root, sanctions.Subsystem, sanctions.UseLogger)
	AddSubLogger(root, esplora.Subsystem, esplora.UseLogger)
	AddSubLogger(root, sqldb.Subsystem, sqldb.UseLogger)
	AddSubLogger(root, monitoring.Subsystem, monitoring.UseLogger)
	AddSubLogger(root, healthcheck.Subsystem, healthcheck.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.SubLoggerManager, subsystem string,
	useLoggers ...func(btclog.Logger)) {

	logger := addSubLogger(root, subsystem)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// addSubLogger creates the subsystem logger and makes sure the manager can
// set its level, whatever writer the build selected.
func addSubLogger(root *build.SubLoggerManager,
	subsystem string) btclog.Logger {

	logger := build.NewSubLogger(subsystem, root.GenSubLogger)
	root.RegisterSubLogger(subsystem, logger)

	return logger
}
