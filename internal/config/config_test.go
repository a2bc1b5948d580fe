package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation to reject a missing AUTH_SECRET")
	}
}

func TestLoadLayersFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "possettle.yaml")
	body := "port: \"9090\"\nfinalize_concurrency: 3\nreport_timezone: Asia/Jakarta\nwalk_in_customer_id: guest\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("AUTH_SECRET", "  "+testSecret+"  ")
	t.Setenv("FINALIZE_CONCURRENCY", "5")
	t.Setenv("CLAIM_LEASE_SECONDS", "45")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 5, cfg.FinalizeConcurrency)
	assert.Equal(t, "guest", cfg.WalkInCustomerID)
	assert.Equal(t, testSecret, cfg.AuthSecret)
	assert.Equal(t, 45*time.Second, cfg.ClaimLease())
	assert.Equal(t, 10*time.Second, cfg.OperationTimeout())
	require.NoError(t, cfg.Validate())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Defaults()
	valid.AuthSecret = testSecret
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"short secret":      func(c *Config) { c.AuthSecret = "short" },
		"zero lease":        func(c *Config) { c.ClaimLeaseSeconds = 0 },
		"negative timeout":  func(c *Config) { c.OperationTimeoutMS = -1 },
		"zero concurrency":  func(c *Config) { c.FinalizeConcurrency = 0 },
		"unknown timezone":  func(c *Config) { c.ReportTimezone = "Mars/Olympus" },
		"two ledger stores": func(c *Config) { c.DatabaseURL = "postgres://x"; c.MongoURI = "mongodb://y" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
