// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T) string
		want   map[string]string
		errMsg string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "google-api-key", "  AIza_abc123  \n")
				writeFile(t, dir, "openai-api-key", "sk_xyz789")
				return dir
			},
			want: map[string]string{
				"google-api-key": "AIza_abc123",
				"openai-api-key": "sk_xyz789",
			},
		},
		{
			name: "returns empty map for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: map[string]string{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "google-api-key", "valid-key")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, "whitespace-only", "   \n\t  ")
				return dir
			},
			want: map[string]string{
				"google-api-key": "valid-key",
			},
		},
		{
			name: "skips dotfiles",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden-key", "secret")
				writeFile(t, dir, "google-api-key", "gk_real")
				return dir
			},
			want: map[string]string{
				"google-api-key": "gk_real",
			},
		},
		{
			name: "skips subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "openai-api-key", "ok_123")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: map[string]string{
				"openai-api-key": "ok_123",
			},
		},
		{
			name: "returns empty map for empty directory",
			setup: func(t *testing.T) string {
				return t.TempDir()
			},
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.setup(t)
			got, err := Load(dir)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good-key", "value123")

	// Create a file then remove read permission.
	badPath := filepath.Join(dir, "bad-key")
	require.NoError(t, os.WriteFile(badPath, []byte("secret"), 0o000))
	t.Cleanup(func() { os.Chmod(badPath, 0o644) })

	got, err := Load(dir)
	require.NoError(t, err)
	// The good file should still be returned; the bad file is skipped with a warning.
	assert.Equal(t, "value123", got["good-key"])
	_, hasBad := got["bad-key"]
	assert.False(t, hasBad, "unreadable file should not appear in result")
}

func TestLoadEnv(t *testing.T) {
	t.Run("missing file is not an error", func(t *testing.T) {
		require.NoError(t, LoadEnv(filepath.Join(t.TempDir(), ".env")))
	})

	t.Run("sets unset variables only", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, ".env", "AUDIOBOOK_TEST_FROM_FILE=file\nAUDIOBOOK_TEST_PRESET=file\n")
		t.Setenv("AUDIOBOOK_TEST_PRESET", "env")
		t.Setenv("AUDIOBOOK_TEST_FROM_FILE", "")
		require.NoError(t, os.Unsetenv("AUDIOBOOK_TEST_FROM_FILE"))

		require.NoError(t, LoadEnv(filepath.Join(dir, ".env")))
		assert.Equal(t, "file", os.Getenv("AUDIOBOOK_TEST_FROM_FILE"))
		assert.Equal(t, "env", os.Getenv("AUDIOBOOK_TEST_PRESET"))
	})

	t.Run("malformed file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, ".env", "BAD-KEY=value\n")
		err := LoadEnv(filepath.Join(dir, ".env"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "loading env file")
	})
}

func TestResolve(t *testing.T) {
	loaded := map[string]string{GoogleAPIKey: "from-secrets"}

	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "from-env")
		assert.Equal(t, "from-flag", Resolve(GoogleAPIKey, " from-flag ", loaded))
	})

	t.Run("secrets before environment", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "from-env")
		assert.Equal(t, "from-secrets", Resolve(GoogleAPIKey, "", loaded))
	})

	t.Run("environment fallback", func(t *testing.T) {
		t.Setenv("GOOGLE_API_KEY", "from-env")
		assert.Equal(t, "from-env", Resolve(GoogleAPIKey, "", nil))
	})

	t.Run("unknown key", func(t *testing.T) {
		assert.Equal(t, "", Resolve("unknown-key", "", nil))
	})
}

func TestExport(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "preset")
	t.Setenv("OPENAI_API_KEY", "")

	set := Export(map[string]string{
		GoogleAPIKey: "from-secrets",
		OpenAIAPIKey: "sk-from-secrets",
		"other-key":  "ignored",
	})

	assert.Equal(t, []string{"OPENAI_API_KEY"}, set)
	assert.Equal(t, "preset", os.Getenv("GOOGLE_API_KEY"))
	assert.Equal(t, "sk-from-secrets", os.Getenv("OPENAI_API_KEY"))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
