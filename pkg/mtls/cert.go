// Package mtls loads TLS configurations for mutually authenticated
// connections between the watcher and the server.
package mtls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Client authentication modes accepted by LoadServerTLSConfig
const (
	ClientAuthRequire = "require"
	ClientAuthRequest = "request"
	ClientAuthNone    = "none"
)

// LoadClientTLSConfig creates a TLS configuration for mTLS clients
func LoadClientTLSConfig(caCertPath, clientCertPath, clientKeyPath, serverName string) (*tls.Config, error) {
	pool, err := loadCAPool(caCertPath)
	if err != nil {
		return nil, err
	}

	clientCert, err := tls.LoadX509KeyPair(clientCertPath, clientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{clientCert},
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// LoadServerTLSConfig creates a TLS configuration for mTLS servers. With
// "require", certificates are verified when given and MTLSMiddleware
// rejects requests without one, so the health check can stay reachable
// from load balancers configured with "request".
func LoadServerTLSConfig(caCertPath, serverCertPath, serverKeyPath, clientAuthMode string) (*tls.Config, error) {
	pool, err := loadCAPool(caCertPath)
	if err != nil {
		return nil, err
	}

	serverCert, err := tls.LoadX509KeyPair(serverCertPath, serverKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	var clientAuth tls.ClientAuthType
	switch clientAuthMode {
	case ClientAuthRequire, ClientAuthRequest:
		clientAuth = tls.VerifyClientCertIfGiven
	case ClientAuthNone, "":
		clientAuth = tls.NoClientCert
	default:
		return nil, fmt.Errorf("unknown client_auth mode %q", clientAuthMode)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientCAs:    pool,
		ClientAuth:   clientAuth,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func loadCAPool(caCertPath string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}
	return pool, nil
}
