package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		envVars map[string]string
		want    string
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "literal string",
			input: "literal-value",
			want:  "literal-value",
		},
		{
			name:    "simple variable expansion",
			input:   "${WILDLIFEBOT_TEST_TOKEN}",
			envVars: map[string]string{"WILDLIFEBOT_TEST_TOKEN": "secret123"},
			want:    "secret123",
		},
		{
			name:    "variable with prefix and suffix",
			input:   "Bearer ${WILDLIFEBOT_TEST_TOKEN}",
			envVars: map[string]string{"WILDLIFEBOT_TEST_TOKEN": "abc123"},
			want:    "Bearer abc123",
		},
		{
			name:  "default used when unset",
			input: "${WILDLIFEBOT_TEST_UNSET:-fallback}",
			want:  "fallback",
		},
		{
			name:  "empty default",
			input: "${WILDLIFEBOT_TEST_UNSET:-}",
			want:  "",
		},
		{
			name:    "missing variable",
			input:   "${WILDLIFEBOT_TEST_UNSET}",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "WILDLIFEBOT_TEST_UNSET")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string, mode os.FileMode) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), mode))
		return path
	}

	t.Run("trims trailing newlines", func(t *testing.T) {
		got, err := ReadFile(write("token", "123:abc\n\n", 0o400))
		require.NoError(t, err)
		assert.Equal(t, "123:abc", got)
	})

	t.Run("keeps surrounding spaces", func(t *testing.T) {
		got, err := ReadFile(write("spaced", "  pw  \n", 0o600))
		require.NoError(t, err)
		assert.Equal(t, "  pw  ", got)
	})

	t.Run("permissive mode still reads", func(t *testing.T) {
		got, err := ReadFile(write("open", "pw", 0o644))
		require.NoError(t, err)
		assert.Equal(t, "pw", got)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := ReadFile(write("empty", "\n", 0o600))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(dir, "nope"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("directory", func(t *testing.T) {
		_, err := ReadFile(dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a regular file")
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := ReadFile("")
		require.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0o400))
	t.Setenv("WILDLIFEBOT_TEST_TOKEN", "env-secret")

	got, err := Resolve(path, "${WILDLIFEBOT_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "file-secret", got, "file takes precedence")

	got, err = Resolve("", "${WILDLIFEBOT_TEST_TOKEN}")
	require.NoError(t, err)
	assert.Equal(t, "env-secret", got)

	got, err = Resolve("", "inline")
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
