// Package exchcfg holds the option groups of exchanged's config file and
// command line, each with its own validation.
package exchcfg

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigFilename is the config file looked up in the exchdir.
const DefaultConfigFilename = "exchanged.conf"

// Validator is an option group that can check itself.
type Validator interface {
	Validate() error
}

// Validate runs the validators in order and returns the first failure.
func Validate(validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// CleanAndExpandPath replaces a leading ~ with the home directory, expands
// $VARIABLES and cleans the result. The empty path stays empty.
func CleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	if rest, ok := strings.CutPrefix(path, "~"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.Getenv("HOME")
		}
		path = home + rest
	}

	return filepath.Clean(os.ExpandEnv(path))
}
