package cryptoutils

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ClientCredentials holds the PEM material for one side of the mutually
// authenticated channel: our certificate and key plus the pinned CA that
// must have signed the peer's certificate.
type ClientCredentials struct {
	CertPEM []byte
	KeyPEM  []byte
	CAPEM   []byte
}

// LoadClientCredentials reads PEM files from disk.
func LoadClientCredentials(certFile, keyFile, caFile string) (*ClientCredentials, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("could not read client certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("could not read client key: %w", err)
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("could not read CA certificate: %w", err)
	}
	return &ClientCredentials{CertPEM: certPEM, KeyPEM: keyPEM, CAPEM: caPEM}, nil
}

// ClientTLSConfig builds the tls.Config for outgoing connections to a pool
// service: our client certificate for mutual auth and the pinned CA as the
// only trusted root. serverName overrides SNI/verification when the peer is
// addressed by IP.
func (c *ClientCredentials) ClientTLSConfig(serverName string) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	if err != nil {
		return nil, fmt.Errorf("could not parse client keypair: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(c.CAPEM) {
		return nil, errors.New("no CA certificates found in pinned CA bundle")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ServerTLSConfig builds the tls.Config for the pool service listener:
// present our certificate and require a peer certificate signed by the
// pinned client CA.
func ServerTLSConfig(certPEM, keyPEM, clientCAPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("could not parse server keypair: %w", err)
	}

	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(clientCAPEM) {
		return nil, errors.New("no CA certificates found in client CA bundle")
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    caPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
