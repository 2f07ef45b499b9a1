package keychain

import (
	"errors"
	"fmt"
	"strings"
)

// SecurityLevel controls how widely a derived key may be reused across
// counterparties and applications.
type SecurityLevel uint8

const (
	// SecurityLevelSilent keys may be used by any application without
	// user interaction.
	SecurityLevelSilent SecurityLevel = 0

	// SecurityLevelApp keys are scoped to an application but not to a
	// counterparty.
	SecurityLevelApp SecurityLevel = 1

	// SecurityLevelCounterparty keys are scoped to both the application and
	// a specific counterparty.
	SecurityLevelCounterparty SecurityLevel = 2
)

const (
	minProtocolNameLen = 5
	maxProtocolNameLen = 400
	maxKeyIDLen        = 800
)

var (
	// ErrInvalidProtocol is returned when a protocol identifier is not
	// well formed.
	ErrInvalidProtocol = errors.New("invalid protocol identifier")

	// ErrInvalidKeyID is returned when a key id is empty or too long.
	ErrInvalidKeyID = errors.New("invalid key id")
)

// Protocol identifies a key derivation protocol, e.g. [2, "3241645161d8"].
type Protocol struct {
	// SecurityLevel is the scope of keys derived under this protocol.
	SecurityLevel SecurityLevel

	// Name is the lower case protocol name.
	Name string
}

// String returns the protocol in its bracketed form.
func (p Protocol) String() string {
	return fmt.Sprintf("[%d, %q]", p.SecurityLevel, p.Name)
}

// Validate checks the security level and name of the protocol.
func (p Protocol) Validate() error {
	if p.SecurityLevel > SecurityLevelCounterparty {
		return fmt.Errorf("%w: security level %d", ErrInvalidProtocol,
			p.SecurityLevel)
	}

	name := strings.TrimSpace(p.Name)
	if name != p.Name || strings.Contains(name, "  ") {
		return fmt.Errorf("%w: bad spacing in %q", ErrInvalidProtocol,
			p.Name)
	}
	if len(name) < minProtocolNameLen || len(name) > maxProtocolNameLen {
		return fmt.Errorf("%w: name length %d", ErrInvalidProtocol,
			len(name))
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == ' ':
		default:
			return fmt.Errorf("%w: character %q", ErrInvalidProtocol,
				r)
		}
	}

	return nil
}

// InvoiceNumber returns the string that is fed into the HMAC when deriving a
// child key for keyID under this protocol.
func (p Protocol) InvoiceNumber(keyID string) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	if keyID == "" || len(keyID) > maxKeyIDLen {
		return "", ErrInvalidKeyID
	}

	return fmt.Sprintf("%d-%s-%s", p.SecurityLevel, p.Name, keyID), nil
}
