package exchanged

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"time"

	"github.com/lightningnetwork/lnd/cert"
	"github.com/lightningnetwork/lnd/clock"
)

// certOrganization is the subject organization of generated certificates.
const certOrganization = "exchanged autogenerated cert"

// tlsPair locates the RPC listener's self-signed certificate and key, and
// describes the certificate that should be in them.
type tlsPair struct {
	certPath string
	keyPath  string

	extraIPs        []string
	extraDomains    []string
	autoRefresh     bool
	disableAutofill bool
	duration        time.Duration

	clock clock.Clock
}

// newTLSPair reads the TLS options of cfg.
func newTLSPair(cfg *Config) *tlsPair {
	return &tlsPair{
		certPath:        cfg.TLSCertPath,
		keyPath:         cfg.TLSKeyPath,
		extraIPs:        cfg.TLSExtraIPs,
		extraDomains:    cfg.TLSExtraDomains,
		autoRefresh:     cfg.TLSAutoRefresh,
		disableAutofill: cfg.TLSDisableAutofill,
		duration:        cfg.TLSCertDuration,
		clock:           clock.NewDefaultClock(),
	}
}

// tlsConfig returns the listener's TLS config. The pair is created on first
// start and replaced once expired, or with autoRefresh once its addresses no
// longer match the options.
func (p *tlsPair) tlsConfig() (*tls.Config, error) {
	if err := p.ensure(); err != nil {
		return nil, err
	}

	certData, parsed, err := cert.LoadCert(p.certPath, p.keyPath)
	if err != nil {
		return nil, err
	}

	stale, err := p.stale(parsed)
	if err != nil {
		return nil, err
	}

	if stale {
		if err := p.remove(); err != nil {
			return nil, err
		}
		if err := p.ensure(); err != nil {
			return nil, err
		}

		certData, _, err = cert.LoadCert(p.certPath, p.keyPath)
		if err != nil {
			return nil, err
		}
	}

	return cert.TLSConfFromCert(certData), nil
}

// stale reports whether the certificate on disk must be replaced.
func (p *tlsPair) stale(c *x509.Certificate) (bool, error) {
	if !p.clock.Now().Before(c.NotAfter) {
		rpcsLog.Infof("TLS certificate expired at %v, renewing",
			c.NotAfter)

		return true, nil
	}

	if !p.autoRefresh {
		return false, nil
	}

	outdated, err := cert.IsOutdated(
		c, p.extraIPs, p.extraDomains, p.disableAutofill,
	)
	if err != nil {
		return false, err
	}

	if outdated {
		rpcsLog.Infof("TLS certificate addresses changed, renewing")
	}

	return outdated, nil
}

// ensure writes a new pair unless both files exist. A lone certificate or key
// is discarded.
func (p *tlsPair) ensure() error {
	_, certErr := os.Stat(p.certPath)
	_, keyErr := os.Stat(p.keyPath)

	switch {
	case certErr == nil && keyErr == nil:
		return nil

	case certErr == nil || keyErr == nil:
		rpcsLog.Warnf("Only one of %v and %v exists, replacing both",
			p.certPath, p.keyPath)

		if err := p.remove(); err != nil {
			return err
		}
	}

	rpcsLog.Infof("Generating TLS certificate %v", p.certPath)

	certPEM, keyPEM, err := cert.GenCertPair(
		certOrganization, p.extraIPs, p.extraDomains,
		p.disableAutofill, p.duration,
	)
	if err != nil {
		return err
	}

	return cert.WriteCertPair(p.certPath, p.keyPath, certPEM, keyPEM)
}

// remove deletes whatever part of the pair exists.
func (p *tlsPair) remove() error {
	for _, path := range []string{p.certPath, p.keyPath} {
		err := os.Remove(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	return nil
}
