package exchanged

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
)

const (
	testTLSCertDuration = 42 * time.Hour
)

// testPair returns a tlsPair for the given files on the wall clock.
func testPair(certPath, keyPath string) *tlsPair {
	return &tlsPair{
		certPath: certPath,
		keyPath:  keyPath,
		duration: testTLSCertDuration,
		clock:    clock.NewDefaultClock(),
	}
}

// loadLeaf parses the certificate currently on disk.
func loadLeaf(t *testing.T, certPath, keyPath string) *x509.Certificate {
	t.Helper()

	certData, err := tls.LoadX509KeyPair(certPath, keyPath)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(certData.Certificate[0])
	require.NoError(t, err)

	return leaf
}

// TestTLSConfigGenerates checks that a missing pair is created.
func TestTLSConfigGenerates(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certPath := filepath.Join(dir, "tls.cert")
	keyPath := filepath.Join(dir, "tls.key")

	tlsCfg, err := testPair(certPath, keyPath).tlsConfig()
	require.NoError(t, err)
	require.Len(t, tlsCfg.Certificates, 1)

	leaf := loadLeaf(t, certPath, keyPath)
	require.Equal(t, []string{certOrganization}, leaf.Subject.Organization)
}

// TestTLSConfigRenewsExpired checks that an expired certificate is replaced.
func TestTLSConfigRenewsExpired(t *testing.T) {
	t.Parallel()

	certPath, keyPath, expiredCert := writeTestCertFiles(t, true)

	tlsCfg, err := testPair(certPath, keyPath).tlsConfig()
	require.NoError(t, err)
	require.Len(t, tlsCfg.Certificates, 1)

	newCert := loadLeaf(t, certPath, keyPath)
	require.True(t, newCert.NotAfter.After(expiredCert.NotAfter),
		"new certificate expiration is too old")
}

// TestTLSConfigRenewsOnClock checks that expiry is judged by the pair's clock.
func TestTLSConfigRenewsOnClock(t *testing.T) {
	t.Parallel()

	certPath, keyPath, validCert := writeTestCertFiles(t, false)

	pair := testPair(certPath, keyPath)
	pair.clock = clock.NewTestClock(validCert.NotAfter.Add(time.Hour))

	_, err := pair.tlsConfig()
	require.NoError(t, err)

	newCert := loadLeaf(t, certPath, keyPath)
	require.NotEqual(t, validCert.Raw, newCert.Raw)
}

// TestTLSConfigKeepsValid checks a valid certificate is loaded as is.
func TestTLSConfigKeepsValid(t *testing.T) {
	t.Parallel()

	certPath, keyPath, validCert := writeTestCertFiles(t, false)

	_, err := testPair(certPath, keyPath).tlsConfig()
	require.NoError(t, err)

	require.Equal(t, validCert.Raw, loadLeaf(t, certPath, keyPath).Raw)
}

// TestTLSConfigAutoRefresh checks that a certificate missing a configured
// domain is replaced only with auto refresh enabled.
func TestTLSConfigAutoRefresh(t *testing.T) {
	t.Parallel()

	for _, refresh := range []bool{false, true} {
		certPath, keyPath, validCert := writeTestCertFiles(t, false)

		pair := testPair(certPath, keyPath)
		pair.extraDomains = []string{"exchange.example.com"}
		pair.autoRefresh = refresh

		_, err := pair.tlsConfig()
		require.NoError(t, err)

		leaf := loadLeaf(t, certPath, keyPath)
		if !refresh {
			require.Equal(t, validCert.Raw, leaf.Raw)
			continue
		}

		require.Contains(t, leaf.DNSNames, "exchange.example.com")
	}
}

// TestEnsureReplacesPartialPair checks that a lone certificate or key is
// replaced by a fresh pair.
func TestEnsureReplacesPartialPair(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		setup func(t *testing.T, certPath, keyPath string)
	}{
		{
			name: "only key exists",
			setup: func(t *testing.T, certPath, keyPath string) {
				_, keyBytes := genCertPair(t, false)
				writePEM(t, keyPath, "EC PRIVATE KEY", keyBytes)
			},
		},
		{
			name: "only cert exists",
			setup: func(t *testing.T, certPath, keyPath string) {
				certBytes, _ := genCertPair(t, false)
				writePEM(t, certPath, "CERTIFICATE", certBytes)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			certPath := filepath.Join(dir, "tls.cert")
			keyPath := filepath.Join(dir, "tls.key")
			tc.setup(t, certPath, keyPath)

			require.NoError(t, testPair(certPath, keyPath).ensure())

			_, err := tls.LoadX509KeyPair(certPath, keyPath)
			require.NoError(t, err)
		})
	}
}

// genCertPair generates a key/cert pair, with the option of generating
// expired certificates to make sure they are being regenerated correctly.
func genCertPair(t *testing.T, expired bool) ([]byte, []byte) {
	t.Helper()

	// Max serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	// Generate a serial number that's below the serialNumberLimit.
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	require.NoError(t, err, "failed to generate serial number")

	host := "exchange"

	ipAddresses := []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")}
	dnsNames := []string{host, "unix", "unixpacket"}

	var notBefore, notAfter time.Time
	if expired {
		notBefore = time.Now().Add(-time.Hour * 24)
		notAfter = time.Now()
	} else {
		notBefore = time.Now()
		notAfter = time.Now().Add(time.Hour * 24)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{certOrganization},
			CommonName:   host,
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,
		KeyUsage: x509.KeyUsageKeyEncipherment |
			x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddresses,
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	certDerBytes, err := x509.CreateCertificate(
		rand.Reader, &template, &template, &priv.PublicKey, priv,
	)
	require.NoError(t, err, "failed to create certificate")

	keyBytes, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err, "unable to encode privkey")

	return certDerBytes, keyBytes
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: blockType, Bytes: der})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0600))
}

// writeTestCertFiles writes a certificate pair to a temporary directory and
// returns the paths and the parsed certificate.
func writeTestCertFiles(t *testing.T,
	expiredCert bool) (string, string, *x509.Certificate) {

	t.Helper()

	dir := t.TempDir()
	certPath := filepath.Join(dir, "tls.cert")
	keyPath := filepath.Join(dir, "tls.key")

	certDerBytes, keyBytes := genCertPair(t, expiredCert)
	parsedCert, err := x509.ParseCertificate(certDerBytes)
	require.NoError(t, err, "failed to parse certificate")

	writePEM(t, certPath, "CERTIFICATE", certDerBytes)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyBytes)

	return certPath, keyPath, parsedCert
}
