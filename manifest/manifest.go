// Package manifest loads the run manifest that describes one acceptance
// run: the server under test, the configuration templates seeded into the
// sandbox and the certificate subject used for the TLS identity.
package manifest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the listening port templates are rewritten to when the
// manifest does not pin one.
const DefaultPort = 6555

// ServerSpec describes how to launch the server under test.
type ServerSpec struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
	Port   int      `yaml:"port"`
}

// CertificateSpec points at the subject config consumed by the issuer.
type CertificateSpec struct {
	Subject string `yaml:"subject"`
}

// Manifest is the complete run configuration.
type Manifest struct {
	Server      ServerSpec      `yaml:"server"`
	Templates   []string        `yaml:"templates"`
	Certificate CertificateSpec `yaml:"certificate"`
}

// Config contains manifest loading configuration
type Config struct {
	Log  *slog.Logger
	Path string
}

// Load reads and validates the manifest file. Relative paths inside the
// manifest are resolved against the manifest's own directory, so a manifest
// can be checked in next to its templates.
func Load(cfg Config) (*Manifest, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("manifest file is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", cfg.Path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", cfg.Path, err)
	}

	base := filepath.Dir(cfg.Path)
	for i, t := range m.Templates {
		m.Templates[i] = resolve(base, t)
	}
	if m.Certificate.Subject != "" {
		m.Certificate.Subject = resolve(base, m.Certificate.Subject)
	}
	if m.Server.Port == 0 {
		m.Server.Port = DefaultPort
	}

	if err := m.validate(); err != nil {
		return nil, err
	}

	cfg.Log.Debug("Manifest loaded",
		"server", m.Server.Binary,
		"port", m.Server.Port,
		"len(templates)", len(m.Templates))

	return &m, nil
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func (m *Manifest) validate() error {
	if m.Server.Binary == "" {
		return fmt.Errorf("manifest is missing server.binary")
	}
	if m.Server.Port <= 0 || m.Server.Port > 65535 {
		return fmt.Errorf("manifest has invalid server.port %d", m.Server.Port)
	}
	if len(m.Templates) == 0 {
		return fmt.Errorf("manifest lists no configuration templates")
	}
	for _, t := range m.Templates {
		if _, err := os.Stat(t); err != nil {
			return fmt.Errorf("manifest template %s is not readable: %w", t, err)
		}
	}
	if m.Certificate.Subject == "" {
		return fmt.Errorf("manifest is missing certificate.subject")
	}
	if _, err := os.Stat(m.Certificate.Subject); err != nil {
		return fmt.Errorf("manifest certificate subject %s is not readable: %w", m.Certificate.Subject, err)
	}
	return nil
}
