package cryptoutils

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomPayload(t *testing.T) {
	a, err := RandomPayload(1024)
	require.NoError(t, err)
	b, err := RandomPayload(1024)
	require.NoError(t, err)

	assert.Len(t, a, 1024)
	assert.False(t, bytes.Equal(a, b), "two draws must differ")

	_, err = RandomPayload(0)
	assert.Error(t, err)
	_, err = RandomPayload(-1)
	assert.Error(t, err)
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, ShannonEntropy(nil))
	assert.Zero(t, ShannonEntropy(bytes.Repeat([]byte{0x42}, 4096)))

	// Uniform coverage of every byte value measures exactly 8 bits/byte.
	uniform := make([]byte, 256*16)
	for i := range uniform {
		uniform[i] = byte(i % 256)
	}
	assert.InDelta(t, 8.0, ShannonEntropy(uniform), 0.0001)

	random, err := RandomPayload(64 * 1024)
	require.NoError(t, err)
	assert.Greater(t, ShannonEntropy(random), EntropyWarnThreshold)
}

// selfSignedPEM returns a throwaway CA-style certificate and its key, both
// PEM-encoded, good enough to exercise the config builders.
func selfSignedPEM(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestClientTLSConfig(t *testing.T) {
	certPEM, keyPEM := selfSignedPEM(t)
	creds := &ClientCredentials{CertPEM: certPEM, KeyPEM: keyPEM, CAPEM: certPEM}

	cfg, err := creds.ClientTLSConfig("pool-b.example.com")
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.NotNil(t, cfg.RootCAs)
	assert.Equal(t, "pool-b.example.com", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

func TestClientTLSConfig_BadMaterial(t *testing.T) {
	certPEM, keyPEM := selfSignedPEM(t)

	_, err := (&ClientCredentials{CertPEM: []byte("garbage"), KeyPEM: keyPEM, CAPEM: certPEM}).ClientTLSConfig("")
	assert.Error(t, err)

	_, err = (&ClientCredentials{CertPEM: certPEM, KeyPEM: keyPEM, CAPEM: []byte("garbage")}).ClientTLSConfig("")
	assert.Error(t, err)
}

func TestServerTLSConfig_RequiresClientCert(t *testing.T) {
	certPEM, keyPEM := selfSignedPEM(t)

	cfg, err := ServerTLSConfig(certPEM, keyPEM, certPEM)
	require.NoError(t, err)
	assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	assert.NotNil(t, cfg.ClientCAs)
}
