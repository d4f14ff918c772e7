package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/roach88/icm/internal/config"
)

// testRootOptions returns options whose configuration points at a fresh
// SQLite database in a temp directory.
func testRootOptions(t *testing.T, format string, edit ...func(*config.Config)) *RootOptions {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "icm.db")
	return &RootOptions{
		Format: format,
		loadConfig: func(string) (config.Config, error) {
			cfg := config.Default()
			cfg.DatabasePath = dbPath
			cfg.LogLevel = "error"
			for _, fn := range edit {
				fn(&cfg)
			}
			return cfg, nil
		},
	}
}

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
