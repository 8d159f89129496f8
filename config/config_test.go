package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "retail.db", cfg.Storage.SQLitePath)
	assert.Equal(t, core.Currency("AFN"), cfg.Currency.Base)
	require.Len(t, cfg.Currency.Configs, 3)
	assert.Equal(t, core.MethodDivide, cfg.Currency.Configs[2].Method)

	fx, err := cfg.Currencies(logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, core.Currency("AFN"), fx.Base())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("RETAIL_SERVER_PORT", "9090")
	t.Setenv("RETAIL_STORAGE_DRIVER", "memory")
	t.Setenv("RETAIL_CURRENCY_BASE", "USD")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, core.Currency("USD"), cfg.Currency.Base)
}

func TestLoad_File(t *testing.T) {
	// GIVEN a config file with its own currency list and the legacy rate flag
	path := filepath.Join(t.TempDir(), "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 3000
storage:
  driver: memory
logging:
  level: debug
currency:
  base: USD
  legacy_default_rate: true
  configs:
    - code: USD
      name: US Dollar
    - code: EUR
      method: multiply
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Currency.Configs, 2)

	// THEN a missing rate defaults to 1 instead of failing
	fx, err := cfg.Currencies(logger.Nop())
	require.NoError(t, err)
	rate, err := fx.NormalizeRate("EUR", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(1)))
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
		field  string
	}{
		{"bad driver", func(c *Configuration) { c.Storage.Driver = "postgres" }, "Configuration.storage.driver"},
		{"sqlite without path", func(c *Configuration) { c.Storage.SQLitePath = "" }, "Configuration.storage.sqlite_path"},
		{"bad port", func(c *Configuration) { c.Server.Port = 0 }, "Configuration.server.port"},
		{"bad level", func(c *Configuration) { c.Logging.Level = "loud" }, "Configuration.logging.level"},
		{"bad method", func(c *Configuration) { c.Currency.Configs[1].Method = "xor" }, "Configuration.currency.configs[1].method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()

			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}
