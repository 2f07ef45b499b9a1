//go:build dev

package build

import "os"

// LogLevel specifies the log level for stdout logging in unit tests. It can
// be overridden with the LOGLEVEL environment variable.
var LogLevel = getLogLevel()

func getLogLevel() string {
	if level := os.Getenv("LOGLEVEL"); level != "" {
		return level
	}

	return "debug"
}
