package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credvault/vault-acceptor/types"
)

// writeSuite lays down a minimal standalone test module so the runner can
// drive a real "go test -json" invocation.
func writeSuite(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module acceptance\n\ngo 1.21\n"), 0o644))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestRunPassingSuite(t *testing.T) {
	testDir := writeSuite(t, map[string]string{
		"store_test.go": `package acceptance

import (
	"os"
	"testing"
)

func TestServerAddrExported(t *testing.T) {
	if os.Getenv("VAULT_ACCEPTOR_SERVER_ADDR") == "" {
		t.Fatal("server address not exported")
	}
}

func TestBundleExported(t *testing.T) {
	if os.Getenv("VAULT_ACCEPTOR_SERVER_CA") == "" {
		t.Fatal("ca bundle not exported")
	}
}
`,
	})
	workDir := t.TempDir()

	r, err := NewRunner(Config{
		TestDir:    testDir,
		WorkDir:    workDir,
		ServerAddr: "127.0.0.1:6555",
		BundlePath: filepath.Join(workDir, "host.pem"),
	})
	require.NoError(t, err)

	outcome, err := r.Run(context.Background(), "run-pass")
	require.NoError(t, err)

	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, types.TestStatusPass, outcome.Status())
	assert.Equal(t, 2, outcome.Stats.Total)
	assert.Equal(t, 2, outcome.Stats.Passed)

	// The JUnit report and captured output land in the working directory
	assert.FileExists(t, outcome.ReportPath)
	assert.FileExists(t, filepath.Join(workDir, "logs", rawOutputLog))
	assert.FileExists(t, filepath.Join(workDir, "logs", readableOutputLog))
}

func TestRunFailingSuite(t *testing.T) {
	testDir := writeSuite(t, map[string]string{
		"revoke_test.go": `package acceptance

import "testing"

func TestAlwaysFails(t *testing.T) {
	t.Fatal("revocation list out of date")
}

func TestStillPasses(t *testing.T) {}
`,
	})

	r, err := NewRunner(Config{TestDir: testDir, WorkDir: t.TempDir()})
	require.NoError(t, err)

	// A failing suite is a normal outcome, not a runner error
	outcome, err := r.Run(context.Background(), "run-fail")
	require.NoError(t, err)

	assert.NotZero(t, outcome.ExitCode)
	assert.Equal(t, types.TestStatusFail, outcome.Status())
	assert.Equal(t, 1, outcome.Stats.Failed)
	assert.Equal(t, 1, outcome.Stats.Passed)
	assert.FileExists(t, outcome.ReportPath)
}

func TestRunMissingGoBinary(t *testing.T) {
	r, err := NewRunner(Config{
		TestDir:  t.TempDir(),
		WorkDir:  t.TempDir(),
		GoBinary: "/nonexistent/go",
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "run-broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to invoke test suite")
}

func TestRunTimeout(t *testing.T) {
	testDir := writeSuite(t, map[string]string{
		"slow_test.go": `package acceptance

import (
	"testing"
	"time"
)

func TestSlow(t *testing.T) {
	time.Sleep(time.Minute)
}
`,
	})

	r, err := NewRunner(Config{
		TestDir: testDir,
		WorkDir: t.TempDir(),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	_, err = r.Run(context.Background(), "run-slow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunCanceled(t *testing.T) {
	testDir := writeSuite(t, map[string]string{
		"slow_test.go": `package acceptance

import (
	"testing"
	"time"
)

func TestSlow(t *testing.T) {
	time.Sleep(time.Minute)
}
`,
	})

	r, err := NewRunner(Config{TestDir: testDir, WorkDir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(5*time.Second, cancel)
	defer timer.Stop()
	defer cancel()

	// Cancellation mid-suite is an interrupt, not a test verdict
	_, err = r.Run(ctx, "run-canceled")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "interrupted")
}
