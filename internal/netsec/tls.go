// Package netsec holds the TLS material shared by the dev server and
// the client transport. Servers present a self-signed certificate;
// clients accept it and log its fingerprint instead of verifying it.
package netsec

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultSelfSignedMaxAge = 30 * 24 * time.Hour
	commonName              = "aster-dev-server"

	certFile = "server.crt"
	keyFile  = "server.key"
)

var ErrNoPeerCertificate = errors.New("peer presented no certificate")

// CertPaths names the certificate and key files kept in dir.
func CertPaths(dir string) (certPath, keyPath string) {
	return filepath.Join(dir, certFile), filepath.Join(dir, keyFile)
}

// EnsureSelfSignedCert creates a self-signed TLS cert/key if either file
// is missing, unreadable, expired or older than the rotation age.
func EnsureSelfSignedCert(certPath string, keyPath string, hosts []string) error {
	certPath = strings.TrimSpace(certPath)
	keyPath = strings.TrimSpace(keyPath)
	if certPath == "" || keyPath == "" {
		return fmt.Errorf("certificate and key paths are required")
	}
	rotate, err := shouldRotateSelfSignedCert(certPath, keyPath, defaultSelfSignedMaxAge)
	if err != nil {
		return err
	}
	if !rotate {
		return nil
	}
	certPEM, keyPEM, err := generateSelfSigned(hosts)
	if err != nil {
		return err
	}
	for _, dir := range []string{filepath.Dir(certPath), filepath.Dir(keyPath)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyPath, keyPEM, 0o600)
}

func generateSelfSigned(hosts []string) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}
	tpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(5, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	tpl.IPAddresses, tpl.DNSNames = splitHosts(hosts)

	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}

// splitHosts sorts hosts into IP and DNS subject names, defaulting to
// localhost.
func splitHosts(hosts []string) (ips []net.IP, names []string) {
	for _, h := range hosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			ips = append(ips, ip)
			continue
		}
		names = append(names, h)
	}
	if len(ips) == 0 && len(names) == 0 {
		names = []string{"localhost"}
	}
	return ips, names
}

func shouldRotateSelfSignedCert(certPath string, keyPath string, maxAge time.Duration) (bool, error) {
	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return true, nil
			}
			return false, err
		}
	}
	cert, err := readCertificate(certPath)
	if err != nil {
		return true, nil
	}
	now := time.Now()
	if cert.NotAfter.Before(now) {
		return true, nil
	}
	if maxAge > 0 && now.Sub(cert.NotBefore) > maxAge {
		return true, nil
	}
	return false, nil
}

func readCertificate(certPath string) (*x509.Certificate, error) {
	pemBytes, err := os.ReadFile(certPath)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%s: no certificate block", certPath)
	}
	return x509.ParseCertificate(block.Bytes)
}

// Fingerprint is the colon-free hex SHA-256 of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// FileFingerprint reads certPath and returns its fingerprint.
func FileFingerprint(certPath string) (string, error) {
	cert, err := readCertificate(certPath)
	if err != nil {
		return "", err
	}
	return Fingerprint(cert.Raw), nil
}

// PeerFingerprint returns the fingerprint of the leaf certificate of a
// completed handshake.
func PeerFingerprint(state tls.ConnectionState) (string, error) {
	if len(state.PeerCertificates) == 0 {
		return "", ErrNoPeerCertificate
	}
	return Fingerprint(state.PeerCertificates[0].Raw), nil
}

func ServerTLSConfig(certPath string, keyPath string) (*tls.Config, error) {
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{pair},
	}, nil
}

// ClientTLSConfigInsecure accepts any server certificate. Servers are
// expected to be self-signed; PeerFingerprint identifies them.
func ClientTLSConfigInsecure() *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	}
}
