// Package sandbox provisions the isolated, disposable working directory a
// single acceptance run executes in. The directory is wiped and recreated
// before every run and left behind afterwards for postmortem inspection.
package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/valyala/fasttemplate"
)

const (
	templateStartTag = "{{"
	templateEndTag   = "}}"

	logsDirName = "logs"
)

// ProvisionError indicates the sandbox filesystem setup failed. This is
// fatal: a corrupted sandbox cannot safely host a server, so there are no
// retries.
type ProvisionError struct {
	Err error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("sandbox provision error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ProvisionError) Unwrap() error {
	return e.Err
}

func newProvisionError(format string, args ...any) error {
	return &ProvisionError{Err: fmt.Errorf(format, args...)}
}

// Sandbox is a provisioned run directory.
type Sandbox struct {
	// Path is the absolute sandbox location.
	Path string
	// Configs are the absolute paths of the parametrized template copies,
	// in the order they were provisioned.
	Configs []string
	// LogsDir holds captured server and test output.
	LogsDir string
}

// Config holds provisioner configuration.
type Config struct {
	Log *slog.Logger
	// Dir is the well-known sandbox location.
	Dir string
	// Port is substituted for the {{port}} placeholder in templates.
	Port int
}

// Provisioner creates sandboxes at a fixed location. One provisioner owns
// one location; concurrent runs against the same location are unsupported.
type Provisioner struct {
	cfg Config
}

// NewProvisioner creates a new Provisioner.
func NewProvisioner(cfg Config) (*Provisioner, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("sandbox directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox directory %s: %w", cfg.Dir, err)
	}
	cfg.Dir = abs
	return &Provisioner{cfg: cfg}, nil
}

// Dir returns the well-known sandbox location.
func (p *Provisioner) Dir() string {
	return p.cfg.Dir
}

// Provision wipes any previous sandbox at the configured location,
// recreates it and copies each template in, substituting the {{port}} and
// {{sandbox}} placeholders. Templates without placeholders are copied
// verbatim. Provisioning twice yields the same directory contents both
// times.
func (p *Provisioner) Provision(templates []string) (*Sandbox, error) {
	if len(templates) == 0 {
		return nil, newProvisionError("no configuration templates to provision")
	}

	p.cfg.Log.Info("Provisioning sandbox", "dir", p.cfg.Dir, "len(templates)", len(templates))

	if err := os.RemoveAll(p.cfg.Dir); err != nil {
		return nil, newProvisionError("failed to remove previous sandbox %s: %w", p.cfg.Dir, err)
	}
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return nil, newProvisionError("failed to create sandbox %s: %w", p.cfg.Dir, err)
	}

	sb := &Sandbox{
		Path:    p.cfg.Dir,
		LogsDir: filepath.Join(p.cfg.Dir, logsDirName),
	}

	vars := map[string]any{
		"port":    strconv.Itoa(p.cfg.Port),
		"sandbox": p.cfg.Dir,
	}

	for _, src := range templates {
		dst := filepath.Join(p.cfg.Dir, filepath.Base(src))
		if err := renderTemplate(src, dst, vars); err != nil {
			return nil, err
		}
		sb.Configs = append(sb.Configs, dst)
		p.cfg.Log.Debug("Provisioned template", "src", src, "dst", dst)
	}

	if err := os.MkdirAll(sb.LogsDir, 0o755); err != nil {
		return nil, newProvisionError("failed to create logs directory: %w", err)
	}

	return sb, nil
}

// renderTemplate copies src to dst, substituting known placeholders.
// Unknown placeholders are preserved as-is so that templates meant for the
// server's own templating survive untouched.
func renderTemplate(src, dst string, vars map[string]any) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return newProvisionError("failed to read template %s: %w", src, err)
	}

	t, err := fasttemplate.NewTemplate(string(data), templateStartTag, templateEndTag)
	if err != nil {
		return newProvisionError("failed to parse template %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return newProvisionError("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	_, err = t.ExecuteFunc(out, func(w io.Writer, tag string) (int, error) {
		if v, ok := vars[tag]; ok {
			return fmt.Fprintf(w, "%v", v)
		}
		// Not ours; restore the original placeholder.
		return fmt.Fprintf(w, "%s%s%s", templateStartTag, tag, templateEndTag)
	})
	if err != nil {
		return newProvisionError("failed to render template %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return newProvisionError("failed to write %s: %w", dst, err)
	}
	return nil
}
