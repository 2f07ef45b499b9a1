//go:build !dev

package build

// LogLevel specifies a default log level of info.
var LogLevel = "info"
