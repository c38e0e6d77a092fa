package main

import (
	"bytes"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcekit/internal/infra/config"
)

func TestCheckConfigFile(t *testing.T) {
	missing := checkConfigFile(filepath.Join(t.TempDir(), "none.yaml"), nil)(nil)
	assert.Equal(t, StatusWarn, missing.Status)

	broken := checkConfigFile("x.yaml", errors.New("bad yaml"))(nil)
	assert.Equal(t, StatusFail, broken.Status)
	assert.NotEmpty(t, broken.Fix)

	path := filepath.Join(t.TempDir(), "sourcekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\n"), 0o600))
	assert.Equal(t, StatusPass, checkConfigFile(path, nil)(nil).Status)
}

func TestChecksWithoutConfig(t *testing.T) {
	for _, fn := range []func(*config.Config) CheckResult{checkStorage, checkKeychain, checkDiskSpace, checkRepositories, checkBridge} {
		assert.Equal(t, StatusFail, fn(nil).Status)
	}
}

func TestCheckStorage(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "db", "sourcekit.db")
	res := checkStorage(cfg)
	assert.Equal(t, StatusPass, res.Status, res.Message)
	assert.Contains(t, res.Message, "0 installed")
}

func TestCheckKeychain(t *testing.T) {
	cfg := config.Defaults()
	t.Setenv(cfg.Storage.KeychainKeyEnv, "")
	assert.Equal(t, StatusWarn, checkKeychain(cfg).Status)
	t.Setenv(cfg.Storage.KeychainKeyEnv, "secret")
	assert.Equal(t, StatusPass, checkKeychain(cfg).Status)
}

func TestCheckRepositories(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer ok.Close()
	gone := httptest.NewServer(http.NotFoundHandler())
	defer gone.Close()

	cfg := config.Defaults()
	assert.Equal(t, StatusWarn, checkRepositories(cfg).Status)

	cfg.Repositories.URLs = []string{ok.URL}
	assert.Equal(t, StatusPass, checkRepositories(cfg).Status)

	cfg.Repositories.URLs = []string{ok.URL, gone.URL}
	res := checkRepositories(cfg)
	assert.Equal(t, StatusWarn, res.Status)
	assert.Contains(t, res.Message, "HTTP 404")
}

func TestCheckBridge(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, StatusPass, checkBridge(cfg).Status)

	cfg.Bridge.Enabled = true
	cfg.Bridge.Addr = "127.0.0.1:0"
	assert.Equal(t, StatusWarn, checkBridge(cfg).Status, "no auth")

	cfg.Bridge.Auth = config.AuthConfig{Type: "static", Tokens: []config.TokenConfig{{Token: "t", Name: "phone"}}}
	assert.Equal(t, StatusPass, checkBridge(cfg).Status)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	cfg.Bridge.Addr = busy.Addr().String()
	assert.Equal(t, StatusFail, checkBridge(cfg).Status)
}

func TestRunDoctorReportsFailures(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sourcekit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger: [broken"), 0o600))

	var out bytes.Buffer
	err := runDoctor(path, &out)
	assert.Error(t, err)
	assert.Contains(t, out.String(), "[FAIL] Config file")
}
