// Package config layers gantry's configuration: baked-in defaults,
// then the YAML config file in the data directory, then environment
// variables (which always win). A .env file in the working directory
// is loaded into the environment first, matching local-dev habits.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gantryhq/gantry/cliauth"
)

const (
	// configFile is the name of the YAML config file inside the data
	// directory.
	configFile = "config.yaml"

	// defaultDataDirName is the data directory under $HOME.
	defaultDataDirName = ".gantry"

	// Default platform hosts. Overridable for staging and self-hosted
	// installs.
	defaultAPIHost     = "https://api.gantry-cloud.com"
	defaultConsoleHost = "https://console.gantry-cloud.com"

	// Consumer credentials identifying this distribution of the CLI to
	// the platform. Like any installed application's OAuth 1.0a
	// consumer pair they are not secret in the capital-S sense, and a
	// self-hosted platform supplies its own via config.
	defaultConsumerKey    = "gantry-cli"
	defaultConsumerSecret = "05f9bd30b1944a4b8f1cd49c1b01a34e"
)

// Config holds all configuration for gantry. The env tags cover the
// override path; the file path goes through fileConfig.
type Config struct {
	// Platform hosts. APIHost serves signed requests and the token
	// exchange; ConsoleHost serves the browser hand-off page.
	APIHost     string `env:"GANTRY_API_HOST"`
	ConsoleHost string `env:"GANTRY_CONSOLE_HOST"`

	// Consumer pair used to sign requests as this application.
	ConsumerKey    string `env:"GANTRY_CONSUMER_KEY"`
	ConsumerSecret string `env:"GANTRY_CONSUMER_SECRET"`

	// APIToken is a legacy personal access token. When set and no
	// OAuth pair is stored, requests fall back to bearer auth.
	APIToken string `env:"GANTRY_API_TOKEN"`

	// DataDir holds the credential store and the config file itself.
	DataDir string `env:"GANTRY_DATA_DIR"`

	// Token-exchange polling knobs.
	PollInterval time.Duration `env:"GANTRY_POLL_INTERVAL"`
	PollAttempts int           `env:"GANTRY_POLL_ATTEMPTS"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT"`
}

// fileConfig is the YAML shape of the config file. Durations are
// strings there ("2s") and parsed on load.
type fileConfig struct {
	APIHost        string `yaml:"api_host"`
	ConsoleHost    string `yaml:"console_host"`
	ConsumerKey    string `yaml:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret"`
	APIToken       string `yaml:"api_token"`
	DataDir        string `yaml:"data_dir"`
	PollInterval   string `yaml:"poll_interval"`
	PollAttempts   int    `yaml:"poll_attempts"`
	Environment    string `yaml:"environment"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from the config file in the data directory
// and the environment. A .env file is loaded first if present. The
// data directory itself comes from GANTRY_DATA_DIR or defaults to
// ~/.gantry.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	dir := os.Getenv("GANTRY_DATA_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("determining home directory: %w", err)
		}

		dir = filepath.Join(home, defaultDataDirName)
	}

	return LoadFrom(filepath.Join(dir, configFile))
}

// LoadFrom reads configuration using the given config file path. The
// file not existing is fine; the directory containing it becomes the
// default data directory. Useful for tests that need isolation from
// the real environment's config file.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}

	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve DataDir to an absolute path at startup so the credential
	// store lands in the same place no matter the working directory.
	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir

	return cfg, nil
}

// applyFile overlays values from the YAML config file, when it exists.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.APIHost != "" {
		c.APIHost = fc.APIHost
	}

	if fc.ConsoleHost != "" {
		c.ConsoleHost = fc.ConsoleHost
	}

	if fc.ConsumerKey != "" {
		c.ConsumerKey = fc.ConsumerKey
	}

	if fc.ConsumerSecret != "" {
		c.ConsumerSecret = fc.ConsumerSecret
	}

	if fc.APIToken != "" {
		c.APIToken = fc.APIToken
	}

	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}

	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil {
			return fmt.Errorf("parsing poll_interval in %s: %w", path, err)
		}

		c.PollInterval = d
	}

	if fc.PollAttempts != 0 {
		c.PollAttempts = fc.PollAttempts
	}

	if fc.Environment != "" {
		c.Environment = fc.Environment
	}

	return nil
}

// applyDefaults fills whatever the file and environment left unset.
func (c *Config) applyDefaults(dataDir string) {
	if c.APIHost == "" {
		c.APIHost = defaultAPIHost
	}

	if c.ConsoleHost == "" {
		c.ConsoleHost = defaultConsoleHost
	}

	if c.ConsumerKey == "" {
		c.ConsumerKey = defaultConsumerKey
	}

	if c.ConsumerSecret == "" {
		c.ConsumerSecret = defaultConsumerSecret
	}

	if c.DataDir == "" {
		c.DataDir = dataDir
	}

	if c.PollInterval == 0 {
		c.PollInterval = cliauth.DefaultPollInterval
	}

	if c.PollAttempts == 0 {
		c.PollAttempts = cliauth.DefaultMaxAttempts
	}

	if c.Environment == "" {
		c.Environment = "development"
	}
}

// validate rejects values the defaulting step cannot repair. Empty
// hosts and consumer fields cannot happen (applyDefaults fills them),
// so only the polling knobs can arrive out of range.
func (c *Config) validate() error {
	if c.PollInterval < 0 {
		return fmt.Errorf("GANTRY_POLL_INTERVAL must be positive")
	}

	if c.PollAttempts < 0 {
		return fmt.Errorf("GANTRY_POLL_ATTEMPTS must be positive")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
