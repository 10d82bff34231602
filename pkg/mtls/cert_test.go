package mtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSelfSigned writes a self-signed certificate usable as CA and leaf
func writeSelfSigned(t *testing.T) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "argus-test"},
		DNSNames:              []string{"localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath = filepath.Join(dir, "cert.pem")
	keyPath = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certPath, keyPath
}

func TestLoadServerTLSConfig(t *testing.T) {
	cert, key := writeSelfSigned(t)

	tests := []struct {
		mode     string
		expected tls.ClientAuthType
	}{
		{ClientAuthRequire, tls.VerifyClientCertIfGiven},
		{ClientAuthRequest, tls.VerifyClientCertIfGiven},
		{ClientAuthNone, tls.NoClientCert},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg, err := LoadServerTLSConfig(cert, cert, key, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.ClientAuth)
			assert.Len(t, cfg.Certificates, 1)
			assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
		})
	}

	_, err := LoadServerTLSConfig(cert, cert, key, "sometimes")
	assert.ErrorContains(t, err, "unknown client_auth mode")
}

func TestLoadClientTLSConfig(t *testing.T) {
	cert, key := writeSelfSigned(t)

	cfg, err := LoadClientTLSConfig(cert, cert, key, "localhost")
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.ServerName)
	assert.NotNil(t, cfg.RootCAs)
}

func TestLoadTLSConfig_Errors(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.pem")
	_, err := LoadClientTLSConfig(missing, missing, missing, "")
	assert.ErrorContains(t, err, "failed to read CA certificate")

	junk := filepath.Join(dir, "junk.pem")
	require.NoError(t, os.WriteFile(junk, []byte("not a cert"), 0o600))
	_, err = LoadServerTLSConfig(junk, junk, junk, ClientAuthNone)
	assert.ErrorContains(t, err, "failed to append CA certificate")
}
