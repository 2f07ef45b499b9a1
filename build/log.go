package build

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
)

// LogType selects where log output goes. It is fixed at build time by the
// stdlog and nolog tags.
type LogType byte

const (
	// LogTypeNone drops all output.
	LogTypeNone LogType = iota

	// LogTypeStdOut writes to stdout only, as in unit tests.
	LogTypeStdOut

	// LogTypeDefault writes to stdout and the log file.
	LogTypeDefault
)

// String returns the name of the log type.
func (t LogType) String() string {
	switch t {
	case LogTypeNone:
		return "none"
	case LogTypeStdOut:
		return "stdout"
	case LogTypeDefault:
		return "default"
	default:
		return "unknown"
	}
}

// LogWriter is the root writer of the daemon. Its Write is chosen by the
// build tags.
type LogWriter struct {
	// RotatorPipe receives the output destined for the log file. Unused
	// in stdlog and nolog builds.
	RotatorPipe io.Writer
}

// NewSubLogger returns the logger of a subsystem. Daemon builds take it from
// genSubLogger so it shares the root backend. Development stdout builds get a
// private stdout logger at LogLevel. Everything else is disabled.
func NewSubLogger(subsystem string,
	genSubLogger func(string) btclog.Logger) btclog.Logger {

	daemon := Deployment == Production ||
		(Deployment == Development && LoggingType == LogTypeDefault)

	switch {
	case daemon && genSubLogger != nil:
		return genSubLogger(subsystem)

	case Deployment == Development && LoggingType == LogTypeStdOut:
		logger := btclog.NewBackend(os.Stdout).Logger(subsystem)
		if level, ok := btclog.LevelFromString(LogLevel); ok {
			logger.SetLevel(level)
		}

		return logger

	default:
		return btclog.Disabled
	}
}

// SubLoggers maps subsystem tags to their loggers.
type SubLoggers map[string]btclog.Logger

// LeveledSubLogger is a set of subsystem loggers whose levels can be changed
// at runtime.
type LeveledSubLogger interface {
	SubLoggers() SubLoggers

	// SupportedSubsystems returns the subsystem tags in sorted order.
	SupportedSubsystems() []string

	SetLogLevel(subsystemID string, logLevel string)

	SetLogLevels(logLevel string)
}

// SubLoggerManager is the default LeveledSubLogger. It owns the shared
// backend and hands out one logger per subsystem.
type SubLoggerManager struct {
	backend *btclog.Backend
	loggers SubLoggers
}

// A compile time check to ensure SubLoggerManager implements the
// LeveledSubLogger interface.
var _ LeveledSubLogger = (*SubLoggerManager)(nil)

// NewSubLoggerManager creates a manager whose subsystem loggers all write to
// the given writer.
func NewSubLoggerManager(w io.Writer) *SubLoggerManager {
	return &SubLoggerManager{
		backend: btclog.NewBackend(w),
		loggers: make(SubLoggers),
	}
}

// GenSubLogger creates a new sub logger for the subsystem and registers it
// with the manager. It is meant to be passed to NewSubLogger.
func (m *SubLoggerManager) GenSubLogger(subsystem string) btclog.Logger {
	logger := m.backend.Logger(subsystem)
	m.loggers[subsystem] = logger

	return logger
}

// RegisterSubLogger adds an externally created logger under the subsystem
// name so its level can be managed.
func (m *SubLoggerManager) RegisterSubLogger(subsystem string,
	logger btclog.Logger) {

	m.loggers[subsystem] = logger
}

// SubLoggers returns all currently registered subsystem loggers.
func (m *SubLoggerManager) SubLoggers() SubLoggers {
	return m.loggers
}

// SupportedSubsystems returns a sorted string slice of all keys in the
// subsystems map.
func (m *SubLoggerManager) SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(m.loggers))
	for subsysID := range m.loggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)

	return subsystems
}

// SetLogLevel sets the logging level for the provided subsystem. Invalid
// subsystems are ignored.
func (m *SubLoggerManager) SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := m.loggers[subsystemID]
	if !ok {
		return
	}

	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all subsystem loggers to the passed
// level.
func (m *SubLoggerManager) SetLogLevels(logLevel string) {
	for subsystemID := range m.loggers {
		m.SetLogLevel(subsystemID, logLevel)
	}
}

// ParseAndSetDebugLevels applies a debug level string such as
// "info,LDGR=debug,KYCE=trace". A leading entry without = sets every
// subsystem, the remaining SUBSYSTEM=level pairs override single subsystems.
func ParseAndSetDebugLevels(level string, logger LeveledSubLogger) error {
	entries := strings.Split(level, ",")

	if global := entries[0]; !strings.Contains(global, "=") {
		if !validLogLevel(global) {
			return fmt.Errorf("invalid debug level %q", global)
		}

		logger.SetLogLevels(global)
		entries = entries[1:]
	}

	for _, entry := range entries {
		subsystem, subLevel, ok := strings.Cut(entry, "=")
		if !ok || strings.Contains(subLevel, "=") {
			return fmt.Errorf("invalid debug level entry %q, want "+
				"SUBSYSTEM=level", entry)
		}

		if _, known := logger.SubLoggers()[subsystem]; !known {
			return fmt.Errorf("unknown subsystem %q, supported "+
				"subsystems are %v", subsystem,
				logger.SupportedSubsystems())
		}

		if !validLogLevel(subLevel) {
			return fmt.Errorf("invalid debug level %q for %s",
				subLevel, subsystem)
		}

		logger.SetLogLevel(subsystem, subLevel)
	}

	return nil
}

// validLogLevel reports whether btclog knows the level name.
func validLogLevel(logLevel string) bool {
	_, ok := btclog.LevelFromString(logLevel)
	return ok
}
