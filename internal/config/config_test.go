package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAESKey = "2b7e151628aed2a6abf7158809cf4f3c"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "licensed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with key from env",
			env:  map[string]string{"FIT_KEYS_AES_KEY": testAESKey},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
				assert.True(t, cfg.Server.RateLimit.Enabled)
				assert.Equal(t, float64(DefaultRateLimit), cfg.Server.RateLimit.RPS)

				assert.Equal(t, []string{"aes", "clock"}, cfg.Core.Capabilities)
				assert.True(t, cfg.Core.ThreadSafe)
				assert.False(t, cfg.Core.EnforceNodeLock)
				assert.Equal(t, "none", cfg.Persistence.Backend)
				assert.Equal(t, DefaultLicenseFile, cfg.License.File)
				assert.True(t, cfg.License.Watch)

				assert.Equal(t, "info", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, "console", cfg.Logging.Output)
			},
		},
		{
			name: "file values",
			file: `
core:
  capabilities: [aes, persistence]
  enforce_node_lock: true
keys:
  aes_key: ` + testAESKey + `
persistence:
  backend: file
  path: state/counters.log
license:
  file: /etc/fitcore/license.bin
  watch: false
server:
  port: 9090
  read_timeout: 5s
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"aes", "persistence"}, cfg.Core.Capabilities)
				assert.True(t, cfg.Core.EnforceNodeLock)
				assert.Equal(t, "file", cfg.Persistence.Backend)
				assert.Equal(t, "state/counters.log", cfg.Persistence.Path)
				assert.Equal(t, "/etc/fitcore/license.bin", cfg.License.File)
				assert.False(t, cfg.License.Watch)
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "untouched defaults survive")
			},
		},
		{
			name: "env wins over file",
			file: "keys:\n  aes_key: " + testAESKey + "\nserver:\n  port: 9090\n",
			env: map[string]string{
				"FIT_SERVER_PORT":       "7070",
				"FIT_CORE_CAPABILITIES": "aes,nodelock",
				"FIT_LOGGING_LEVEL":     "debug",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7070, cfg.Server.Port)
				assert.Equal(t, []string{"aes", "nodelock"}, cfg.Core.Capabilities)
				assert.Equal(t, "debug", cfg.Logging.Level)
			},
		},
		{
			name:    "no key",
			wantErr: true,
		},
		{
			name:    "short aes key",
			env:     map[string]string{"FIT_KEYS_AES_KEY": "abcd"},
			wantErr: true,
		},
		{
			name:    "unknown capability",
			env:     map[string]string{"FIT_KEYS_AES_KEY": testAESKey, "FIT_CORE_CAPABILITIES": "aes,teleport"},
			wantErr: true,
		},
		{
			name:    "invalid port",
			env:     map[string]string{"FIT_KEYS_AES_KEY": testAESKey, "FIT_SERVER_PORT": "70000"},
			wantErr: true,
		},
		{
			name:    "unknown file field",
			file:    "keys:\n  aes_key: " + testAESKey + "\nbogus: 1\n",
			wantErr: true,
		},
		{
			name:    "missing file",
			env:     map[string]string{"FIT_CONFIG": "/nonexistent/licensed.yaml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigFile, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.file != "" {
				t.Setenv(EnvConfigFile, writeConfig(t, tt.file))
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Keys.AESKey = testAESKey
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"file backend without path", func(c *Config) { c.Persistence.Backend = "file" }},
		{"redis backend without addr", func(c *Config) { c.Persistence.Backend = "redis" }},
		{"unknown backend", func(c *Config) { c.Persistence.Backend = "etcd" }},
		{"persistence capability without backend", func(c *Config) {
			c.Core.Capabilities = append(c.Core.Capabilities, "persistence")
		}},
		{"aes key without capability", func(c *Config) { c.Core.Capabilities = []string{"rsa"} }},
		{"key file without passphrase", func(c *Config) {
			c.Keys.AESKey = ""
			c.Keys.AESKeyFile = "vendor.key"
		}},
		{"rsa key without capability", func(c *Config) { c.Keys.RSAPublicKeyFile = "vendor.pem" }},
		{"file logging without path", func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"missing license file", func(c *Config) { c.License.File = "" }},
		{"short device id", func(c *Config) { c.Core.DeviceID = "ab" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	redis := valid()
	redis.Core.Capabilities = []string{"aes", "persistence"}
	redis.Persistence.Backend = "redis"
	redis.Persistence.RedisAddr = "localhost:6379"
	assert.NoError(t, redis.Validate())
}
