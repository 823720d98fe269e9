package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/buildinfo"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := RootCommand(buildinfo.NewContext("1.4.0", "2026-10-01", "abc123"))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionSkipsConfig(t *testing.T) {
	out, err := execute(t, "version", "--config", "/does/not/exist.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "wildlife-id-bot 1.4.0")
	assert.Contains(t, out, "abc123")
}

func TestConfigDumpMasksSecrets(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123456:secret-token-value"
quota:
  grouplimit: 25
`)
	out, err := execute(t, "config", "dump", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "grouplimit: 25")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "secret-token-value")
}

func TestQuotaShowAndReset(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
quota:
  privatelimit: 4
  store: database
  timezone: UTC
database:
  enabled: true
  type: sqlite
  sqlite:
    path: `+filepath.Join(dir, "bot.db")+`
`)

	out, err := execute(t, "quota", "show", "user:77", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Key:       user:77")
	assert.Contains(t, out, "Used:      0 of 4")
	assert.Contains(t, out, "Remaining: 4")

	out, err = execute(t, "quota", "reset", "user:77", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Quota for user:77 reset")
}

func TestQuotaRejectsBadKey(t *testing.T) {
	path := writeConfig(t, "debug: false\n")
	_, err := execute(t, "quota", "show", "chat-77", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid quota key")
}

func TestRunRequiresToken(t *testing.T) {
	path := writeConfig(t, "debug: false\n")
	_, err := execute(t, "run", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.token")
}

func TestNotifyRequiresURLs(t *testing.T) {
	path := writeConfig(t, "debug: false\n")
	_, err := execute(t, "notify", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no notification URLs")
}
