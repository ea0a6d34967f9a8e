// Package certs loads the server's TLS key pair.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ExpiryWarning is how far ahead of NotAfter a certificate is reported as expiring.
const ExpiryWarning = 30 * 24 * time.Hour

var ErrNoCertificate = errors.New("no certificate in key pair")

// CertManager loads a certificate/key pair from PEM files.
type CertManager struct {
	certFile string
	keyFile  string
	logger   *slog.Logger
	now      func() time.Time
}

// NewCertManager creates a CertManager for the given files.
func NewCertManager(certFile, keyFile string, logger *slog.Logger) *CertManager {
	return &CertManager{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger.With("component", "certs"),
		now:      time.Now,
	}
}

// TLSConfig loads the pair and returns a server TLS config. An expired leaf
// is an error; one close to expiry is logged.
func (cm *CertManager) TLSConfig() (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(cm.certFile, cm.keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	leaf, err := leafOf(pair)
	if err != nil {
		return nil, err
	}
	if cm.IsExpired(leaf) {
		return nil, fmt.Errorf("certificate %s expired at %s", cm.certFile, leaf.NotAfter.Format(time.RFC3339))
	}
	if cm.ExpiresSoon(leaf) {
		cm.logger.Warn("certificate expires soon", "file", cm.certFile, "not_after", leaf.NotAfter)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// IsExpired checks if a certificate is expired.
func (cm *CertManager) IsExpired(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(cm.now())
}

// ExpiresSoon reports whether cert expires within ExpiryWarning.
func (cm *CertManager) ExpiresSoon(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(cm.now().Add(ExpiryWarning))
}

func leafOf(pair tls.Certificate) (*x509.Certificate, error) {
	if pair.Leaf != nil {
		return pair.Leaf, nil
	}
	if len(pair.Certificate) == 0 {
		return nil, ErrNoCertificate
	}
	return x509.ParseCertificate(pair.Certificate[0])
}
