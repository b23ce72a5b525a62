// Package certs issues the short-lived TLS identity the server under test
// needs: an RSA private key, a self-signed certificate and the combined
// PEM bundle, all written into the sandbox with owner-read-only
// permissions on the private material.
package certs

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/credvault/vault-acceptor/types"
)

const (
	KeyFileName    = "host.key"
	CertFileName   = "host.cert"
	BundleFileName = "host.pem"

	// Private material must never be readable by anyone but the owner.
	privateFileMode = os.FileMode(0o400)
	certFileMode    = os.FileMode(0o644)

	DefaultKeyBits      = 2048
	DefaultValidityDays = 365
)

// CertificateError indicates identity generation failed. This is fatal: no
// server can start without a valid identity.
type CertificateError struct {
	Err error
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("certificate error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *CertificateError) Unwrap() error {
	return e.Err
}

func newCertificateError(format string, args ...any) error {
	return &CertificateError{Err: fmt.Errorf(format, args...)}
}

// Subject is the certificate subject config, loaded from a YAML file next
// to the run manifest.
type Subject struct {
	CommonName   string   `yaml:"common_name"`
	Organization string   `yaml:"organization"`
	Country      string   `yaml:"country"`
	Hosts        []string `yaml:"hosts"`
	KeyBits      int      `yaml:"key_bits"`
	ValidityDays int      `yaml:"validity_days"`
}

// Config holds issuer configuration.
type Config struct {
	Log *slog.Logger
}

// Issuer generates one TLS identity per run.
type Issuer struct {
	log *slog.Logger
}

// NewIssuer creates a new Issuer.
func NewIssuer(cfg Config) *Issuer {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Issuer{log: cfg.Log}
}

// LoadSubject reads and validates a subject config file.
func LoadSubject(path string) (*Subject, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newCertificateError("failed to read subject config %s: %w", path, err)
	}
	var s Subject
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, newCertificateError("failed to parse subject config %s: %w", path, err)
	}
	if s.CommonName == "" {
		return nil, newCertificateError("subject config %s is missing common_name", path)
	}
	if s.KeyBits == 0 {
		s.KeyBits = DefaultKeyBits
	}
	if s.KeyBits < 2048 {
		return nil, newCertificateError("subject config %s requests a %d-bit key; minimum is 2048", path, s.KeyBits)
	}
	if s.ValidityDays == 0 {
		s.ValidityDays = DefaultValidityDays
	}
	if s.ValidityDays < 0 {
		return nil, newCertificateError("subject config %s has negative validity_days", path)
	}
	return &s, nil
}

// Issue generates the key, certificate and bundle inside sandboxDir. The
// steps are ordered: the key must exist (with restricted permissions)
// before the certificate is signed with it, and both must exist before the
// bundle is assembled.
func (i *Issuer) Issue(sandboxDir string, subjectConfig string) (*types.TLSIdentity, error) {
	subject, err := LoadSubject(subjectConfig)
	if err != nil {
		return nil, err
	}

	i.log.Info("Issuing TLS identity",
		"common_name", subject.CommonName,
		"key_bits", subject.KeyBits,
		"validity_days", subject.ValidityDays)

	key, err := rsa.GenerateKey(rand.Reader, subject.KeyBits)
	if err != nil {
		return nil, newCertificateError("failed to generate RSA key: %w", err)
	}

	identity := &types.TLSIdentity{
		KeyPath:    filepath.Join(sandboxDir, KeyFileName),
		CertPath:   filepath.Join(sandboxDir, CertFileName),
		BundlePath: filepath.Join(sandboxDir, BundleFileName),
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := writeRestricted(identity.KeyPath, keyPEM, privateFileMode); err != nil {
		return nil, err
	}

	certDER, notBefore, notAfter, err := selfSign(subject, key)
	if err != nil {
		return nil, err
	}
	identity.NotBefore = notBefore
	identity.NotAfter = notAfter

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	if err := writeRestricted(identity.CertPath, certPEM, certFileMode); err != nil {
		return nil, err
	}

	// The bundle is cert followed by key, the concatenation the server's
	// TLS listener consumes.
	bundle := append(append([]byte{}, certPEM...), keyPEM...)
	if err := writeRestricted(identity.BundlePath, bundle, privateFileMode); err != nil {
		return nil, err
	}

	i.log.Debug("TLS identity issued",
		"key", identity.KeyPath,
		"cert", identity.CertPath,
		"bundle", identity.BundlePath,
		"not_after", identity.NotAfter)

	return identity, nil
}

// selfSign creates a self-signed certificate for the subject, valid from
// now for the configured validity window.
func selfSign(subject *Subject, key *rsa.PrivateKey) ([]byte, time.Time, time.Time, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, time.Time{}, time.Time{}, newCertificateError("failed to generate serial number: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.AddDate(0, 0, subject.ValidityDays)

	name := pkix.Name{CommonName: subject.CommonName}
	if subject.Organization != "" {
		name.Organization = []string{subject.Organization}
	}
	if subject.Country != "" {
		name.Country = []string{subject.Country}
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               name,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	hosts := subject.Hosts
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1"}
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, time.Time{}, time.Time{}, newCertificateError("failed to create certificate: %w", err)
	}
	return der, notBefore, notAfter, nil
}

// writeRestricted writes the file and then re-applies the mode explicitly:
// OpenFile's mode is subject to the umask, the invariant on key material
// is not.
func writeRestricted(path string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(path, data, mode); err != nil {
		return newCertificateError("failed to write %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return newCertificateError("failed to restrict permissions on %s: %w", path, err)
	}
	return nil
}
