package httprun

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEnvironment_MergesPublicAndPrivateByProfile(t *testing.T) {
	public := writeTempFile(t, "http-client.env.json", `{
		"dev": {"host": "dev.example.com", "timeout": 30},
		"prod": {"host": "example.com"}
	}`)
	private := writeTempFile(t, "http-client.private.env.json", `{
		"dev": {"apiKey": "secret-dev"}
	}`)

	vars, err := LoadEnvironment(public, private, "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev.example.com", vars["host"])
	assert.Equal(t, "30", vars["timeout"])
	assert.Equal(t, "secret-dev", vars["apiKey"])
}

func TestLoadEnvironment_PrivateOverlaysPublic(t *testing.T) {
	public := writeTempFile(t, "pub.json", `{"dev": {"host": "from-public"}}`)
	private := writeTempFile(t, "priv.json", `{"dev": {"host": "from-private"}}`)

	vars, err := LoadEnvironment(public, private, "dev")
	require.NoError(t, err)
	assert.Equal(t, "from-private", vars["host"])
}

func TestLoadEnvironment_AbsentProfileIsEmptyNotError(t *testing.T) {
	public := writeTempFile(t, "pub.json", `{"dev": {"host": "dev.example.com"}}`)

	vars, err := LoadEnvironment(public, "", "staging")
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestLoadEnvironment_MissingFilesAreNotAnError(t *testing.T) {
	vars, err := LoadEnvironment("", "", "dev")
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestLoadEnvironment_NonExistentPathIsNotAnError(t *testing.T) {
	vars, err := LoadEnvironment(filepath.Join(t.TempDir(), "missing.json"), "", "dev")
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestLoadEnvironment_InvalidJSONIsAnEnvError(t *testing.T) {
	bad := writeTempFile(t, "bad.json", `not json at all`)
	_, err := LoadEnvironment(bad, "", "dev")
	require.Error(t, err)
	var envErr *EnvError
	require.ErrorAs(t, err, &envErr)
}

func TestLoadEnvironment_UnsupportedValueTypeIsAnEnvError(t *testing.T) {
	bad := writeTempFile(t, "bad.json", `{"dev": {"nested": {"a": 1}}}`)
	_, err := LoadEnvironment(bad, "", "dev")
	require.Error(t, err)
}
