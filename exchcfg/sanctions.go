package exchcfg

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultSanctionsTimeout is the default timeout of a screening request.
const DefaultSanctionsTimeout = 5 * time.Second

// Sanctions holds the configuration of the sanctions screening source.
// Exactly one of ListFile and URL must be set.
//
//nolint:ll
type Sanctions struct {
	ListFile string `long:"listfile" description:"CSV file of sanctioned names, one entity per line with aliases in further columns."`

	URL string `long:"url" description:"Endpoint of an HTTP screening service."`

	Timeout time.Duration `long:"timeout" description:"Timeout of a screening request."`

	ReloadInterval time.Duration `long:"reloadinterval" description:"How often to re-read sanctions.listfile. Set to 0 to load it only at startup."`

	FailClosed bool `long:"failclosed" description:"Reject certificate issuance and deposits while screening is unavailable instead of treating names as clear."`
}

// DefaultSanctions returns a new Sanctions config with default values
// populated.
func DefaultSanctions() *Sanctions {
	return &Sanctions{
		Timeout: DefaultSanctionsTimeout,
	}
}

// Validate checks the sanctions config.
func (s *Sanctions) Validate() error {
	if s.ReloadInterval < 0 {
		return fmt.Errorf("sanctions.reloadinterval must be " +
			"non-negative")
	}

	switch {
	case s.ListFile == "" && s.URL == "":
		return fmt.Errorf("one of sanctions.listfile and sanctions.url " +
			"must be set")

	case s.ListFile != "" && s.URL != "":
		return fmt.Errorf("sanctions.listfile and sanctions.url are " +
			"mutually exclusive")

	case s.URL != "":
		if s.ReloadInterval != 0 {
			return fmt.Errorf("sanctions.reloadinterval only " +
				"applies to sanctions.listfile")
		}
		if _, err := url.ParseRequestURI(s.URL); err != nil {
			return fmt.Errorf("invalid sanctions url: %w", err)
		}
		if s.Timeout <= 0 {
			return fmt.Errorf("sanctions.timeout must be positive")
		}
	}

	return nil
}

var _ Validator = (*Sanctions)(nil)
