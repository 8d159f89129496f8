/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. The file passed to Load, or config.yaml in ., ./config or /etc/retail-ledger
  3. .env in the working directory (optional)
  4. RETAIL_* environment variables, dots become underscores
     (RETAIL_SERVER_PORT, RETAIL_CURRENCY_BASE, ...)

The currency list is only settable from the file; environment variables can
change the base currency but not add currencies.
*/
package config

import (
	"errors"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/warp/retail-ledger/core"
	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/validator"
)

type Configuration struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Currency CurrencyConfig `mapstructure:"currency"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"gt=0,lte=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type StorageConfig struct {
	Driver     string `mapstructure:"driver" validate:"oneof=memory sqlite"`
	SQLitePath string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Development bool   `mapstructure:"development"`
}

type CurrencyConfig struct {
	Base              core.Currency         `mapstructure:"base" validate:"required"`
	LegacyDefaultRate bool                  `mapstructure:"legacy_default_rate"`
	Configs           []core.CurrencyConfig `mapstructure:"configs" validate:"min=1,dive"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "retail.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("currency.base", "AFN")
	v.SetDefault("currency.legacy_default_rate", false)
	v.SetDefault("currency.configs", []map[string]any{
		{"code": "AFN", "name": "Afghani", "symbol": "؋", "method": "multiply"},
		{"code": "USD", "name": "US Dollar", "symbol": "$", "method": "multiply"},
		{"code": "PKR", "name": "Pakistani Rupee", "symbol": "Rs", "method": "divide"},
	})
}

// Load reads configuration from every source and validates it. A non-empty
// file replaces the config.yaml search.
func Load(file string) (*Configuration, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/retail-ledger")
	}

	v.SetEnvPrefix("RETAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Configuration, error) {
	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any source.
func Default() *Configuration {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c Configuration) Validate() error {
	return validator.Struct(c)
}

// Logger builds the zap logger the configuration describes.
func (c Configuration) Logger() (*logger.Logger, error) {
	return logger.New(logger.Config{Level: c.Logging.Level, Development: c.Logging.Development})
}

// Currencies builds the converter. On the legacy rate path every defaulted
// rate is logged.
func (c Configuration) Currencies(log *logger.Logger) (*core.Currencies, error) {
	var opts []core.CurrencyOption
	if c.Currency.LegacyDefaultRate {
		opts = append(opts, core.WithLegacyDefaultRate(func(cur core.Currency) {
			log.Warnw("exchange rate missing, defaulting to 1", "currency", cur)
		}))
	}
	return core.NewCurrencies(c.Currency.Base, c.Currency.Configs, opts...)
}
