package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &out))
	assert.Equal(t, "settler dev\n", out.String())
}

func TestRunPrintConfigRedacts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settler.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "resolver"

[ledger]
rpc_url = "https://rpc.example/?api-key=abc123"

[server]
api_key = "admin-secret"
`), 0o600))

	var out bytes.Buffer
	require.NoError(t, run([]string{"-config", path, "-mode", "server", "-print-config"}, &out))
	assert.NotContains(t, out.String(), "admin-secret")
	assert.NotContains(t, out.String(), "abc123")

	var decoded struct {
		Mode   string `toml:"mode"`
		Ledger struct {
			RPCURL string `toml:"rpc_url"`
		} `toml:"ledger"`
	}
	_, err := toml.Decode(out.String(), &decoded)
	require.NoError(t, err, out.String())
	assert.Equal(t, "server", decoded.Mode, "-mode overrides the file")
	assert.Contains(t, decoded.Ledger.RPCURL, "rpc.example")
}

func TestRunRejectsUnknownLogFormat(t *testing.T) {
	err := run([]string{"-log-format", "xml", "-version=false", "-config", ""}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "log format")
}

func TestRunMissingConfigFile(t *testing.T) {
	err := run([]string{"-config", filepath.Join(t.TempDir(), "absent.toml")}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "load config")
}
