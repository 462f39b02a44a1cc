package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	rerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
	"github.com/ducminhle1904/crypto-risk-engine/internal/logger"
	"github.com/ducminhle1904/crypto-risk-engine/internal/risk"
	"github.com/ducminhle1904/crypto-risk-engine/internal/storage"
)

const component = "config"

// Config is the full configuration of a risk engine process. Precedence:
// defaults, then the YAML policy file, then environment variables.
type Config struct {
	Environment string `yaml:"environment"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json or console
		Dir    string `yaml:"dir,omitempty"`
	} `yaml:"log"`

	Store struct {
		Kind storage.Kind `yaml:"kind"`
		Path string       `yaml:"path,omitempty"`
		DSN  string       `yaml:"dsn,omitempty"`
	} `yaml:"store"`

	Monitoring struct {
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"monitoring"`

	Risk risk.Config `yaml:"risk"`
}

// Default returns the development configuration
func Default() *Config {
	c := &Config{Environment: "development"}
	c.Log.Level = "info"
	c.Log.Format = "console"
	c.Store.Kind = storage.KindFile
	c.Store.Path = filepath.Join("data", "risk_ledger.json")
	c.Monitoring.MetricsAddr = ":9090"
	c.Risk = risk.DefaultConfig()
	return c
}

// Load builds the configuration from defaults, the optional YAML file and
// the environment. envFile is loaded into the environment first when it
// exists.
func Load(configFile, envFile string) (*Config, error) {
	if err := LoadEnvFile(envFile); err != nil {
		return nil, err
	}

	c := Default()
	if configFile != "" {
		if err := c.mergeFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return c, nil
}

// LoadEnvFile loads environment variables from a .env file. A missing file
// is not an error; variables already set are kept.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeFile(configFile string) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", configFile, err)
	}
	return nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := c.YAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// YAML renders the configuration
func (c *Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Config) applyEnv() error {
	env := &envReader{}

	c.Environment = env.getEnv("RISK_ENV", c.Environment)
	c.Log.Level = env.getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env.getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.Dir = env.getEnv("LOG_DIR", c.Log.Dir)

	c.Store.Kind = storage.Kind(env.getEnv("RISK_STORE", string(c.Store.Kind)))
	c.Store.Path = env.getEnv("RISK_STORE_PATH", c.Store.Path)
	c.Store.DSN = env.getEnv("RISK_DATABASE_URL", c.Store.DSN)
	c.Monitoring.MetricsAddr = env.getEnv("RISK_METRICS_ADDR", c.Monitoring.MetricsAddr)

	r := &c.Risk
	r.Account = env.getEnv("RISK_ACCOUNT", r.Account)
	r.Sizing.BaseRiskFraction = env.getEnvFloat("RISK_BASE_RISK_FRACTION", r.Sizing.BaseRiskFraction)
	r.Sizing.KellyMaxFraction = env.getEnvFloat("RISK_KELLY_MAX_FRACTION", r.Sizing.KellyMaxFraction)
	r.Sizing.MaxDailyLossFraction = env.getEnvFloat("RISK_MAX_DAILY_LOSS_FRACTION", r.Sizing.MaxDailyLossFraction)
	r.Sizing.MinStopVolatilityMultiple = env.getEnvFloat("RISK_MIN_STOP_VOLATILITY_MULTIPLE", r.Sizing.MinStopVolatilityMultiple)
	r.Heat.MaxPositionHeat = env.getEnvFloat("RISK_MAX_POSITION_HEAT", r.Heat.MaxPositionHeat)
	r.Heat.MaxPortfolioHeat = env.getEnvFloat("RISK_MAX_PORTFOLIO_HEAT", r.Heat.MaxPortfolioHeat)
	r.Breaker.SoftLossLimit = env.getEnvInt("RISK_SOFT_LOSS_LIMIT", r.Breaker.SoftLossLimit)
	r.Breaker.HardLossLimit = env.getEnvInt("RISK_HARD_LOSS_LIMIT", r.Breaker.HardLossLimit)
	r.Breaker.Cooldown = env.getEnvDuration("RISK_COOLDOWN", r.Breaker.Cooldown)
	r.Breaker.ReductionStep = env.getEnvFloat("RISK_REDUCTION_STEP", r.Breaker.ReductionStep)
	r.Breaker.MinRiskReduction = env.getEnvFloat("RISK_MIN_RISK_REDUCTION", r.Breaker.MinRiskReduction)
	r.Concentration.MaxSectorFraction = env.getEnvFloat("RISK_MAX_SECTOR_FRACTION", r.Concentration.MaxSectorFraction)
	r.Concentration.MaxSameSectorPairFraction = env.getEnvFloat("RISK_MAX_SAME_SECTOR_PAIR_FRACTION", r.Concentration.MaxSameSectorPairFraction)

	return env.err()
}

// Validate checks the process settings and the risk policy
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case storage.KindMemory:
	case storage.KindFile, storage.KindSQLite:
		if c.Store.Path == "" {
			return rerrors.NewConfigurationError(component, "store.path", fmt.Sprintf("required for the %s store", c.Store.Kind))
		}
	case storage.KindPostgres:
		if c.Store.DSN == "" {
			return rerrors.NewConfigurationError(component, "store.dsn", "required for the postgres store")
		}
	default:
		return rerrors.NewConfigurationError(component, "store.kind", fmt.Sprintf("unknown store kind %q", c.Store.Kind))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return rerrors.NewConfigurationError(component, "log.level", fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return rerrors.NewConfigurationError(component, "log.format", "must be json or console")
	}

	return c.Risk.Validate()
}

// StoreOptions returns the options for storage.Open
func (c *Config) StoreOptions() storage.Options {
	return storage.Options{
		Kind:    c.Store.Kind,
		Path:    c.Store.Path,
		DSN:     c.Store.DSN,
		Account: c.Risk.Account,
	}
}

// LoggerOptions returns the options for logger.NewLogger
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{
		Account: c.Risk.Account,
		Level:   c.Log.Level,
		Format:  c.Log.Format,
		LogDir:  c.Log.Dir,
	}
}

// Summary returns a one-line description for logging
func (c *Config) Summary() string {
	return fmt.Sprintf("Risk engine config (%s): account %s, %s store, base risk %.2f%%, heat %.2f%%/%.2f%%, breaker %d/%d losses, cooldown %s",
		c.Environment,
		c.Risk.Account,
		c.Store.Kind,
		c.Risk.Sizing.BaseRiskFraction*100,
		c.Risk.Heat.MaxPositionHeat*100,
		c.Risk.Heat.MaxPortfolioHeat*100,
		c.Risk.Breaker.SoftLossLimit,
		c.Risk.Breaker.HardLossLimit,
		c.Risk.Breaker.Cooldown)
}

// envReader reads typed environment overrides and collects parse errors
type envReader struct {
	errs []error
}

func (e *envReader) getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func (e *envReader) getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return f
}

func (e *envReader) getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return i
}

func (e *envReader) getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return defaultVal
	}
	return d
}

func (e *envReader) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return rerrors.NewConfigurationError(component, "environment", errors.Join(e.errs...).Error())
}
