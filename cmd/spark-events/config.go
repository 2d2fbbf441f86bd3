package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phuongtg/spark-cloud-go/pkg/connection"
	"github.com/phuongtg/spark-cloud-go/pkg/transport"
	"github.com/phuongtg/spark-cloud-go/pkg/wire"
)

// Config holds the command configuration. Values come from the optional
// YAML file first; flags given on the command line override them.
type Config struct {
	APIURL      string `yaml:"api_url"`
	Token       string `yaml:"token"`
	StateDir    string `yaml:"state_dir"`
	Scope       string `yaml:"scope"`
	Prefix      string `yaml:"prefix"`
	LogLevel    string `yaml:"log_level"`
	ProtocolLog string `yaml:"protocol_log"`
	Interactive bool   `yaml:"interactive"`

	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Backoff     BackoffConfig `yaml:"backoff"`

	// OAuth client used to refresh a saved session.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// BackoffConfig is the YAML form of connection.BackoffConfig.
// Zero fields keep the defaults.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// connectionConfig merges b over the default reconnection timing.
func (b BackoffConfig) connectionConfig() connection.BackoffConfig {
	cfg := connection.DefaultBackoffConfig()
	if b.Initial > 0 {
		cfg.Initial = b.Initial
	}
	if b.Max > 0 {
		cfg.Max = b.Max
	}
	if b.Multiplier > 0 {
		cfg.Multiplier = b.Multiplier
	}
	if b.Jitter > 0 {
		cfg.Jitter = b.Jitter
	}
	return cfg
}

func defaultConfig() Config {
	return Config{
		APIURL:      transport.DefaultBaseURL,
		LogLevel:    "info",
		IdleTimeout: transport.DefaultIdleTimeout,
	}
}

// loadConfigFile reads a YAML config file over cfg.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// parseConfig builds the configuration from args (without the program name).
func parseConfig(args []string, stderr io.Writer) (Config, error) {
	var (
		flags      = defaultConfig()
		configFile string
	)

	fs := flag.NewFlagSet("spark-events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&configFile, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&flags.APIURL, "api-url", flags.APIURL, "Cloud API base URL")
	fs.StringVar(&flags.Token, "token", "", "Access token (overrides the saved session)")
	fs.StringVar(&flags.StateDir, "state-dir", "", "Directory for the session, watches and history")
	fs.StringVar(&flags.Scope, "scope", "", "Subscribe on start: public, mine, or device:<id>")
	fs.StringVar(&flags.Prefix, "prefix", "", "Event name prefix for -scope")
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write a protocol capture (.elog) to this file")
	fs.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg := defaultConfig()
	if configFile != "" {
		if err := loadConfigFile(configFile, &cfg); err != nil {
			return Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "api-url":
			cfg.APIURL = flags.APIURL
		case "token":
			cfg.Token = flags.Token
		case "state-dir":
			cfg.StateDir = flags.StateDir
		case "scope":
			cfg.Scope = flags.Scope
		case "prefix":
			cfg.Prefix = flags.Prefix
		case "log-level":
			cfg.LogLevel = flags.LogLevel
		case "protocol-log":
			cfg.ProtocolLog = flags.ProtocolLog
		case "interactive":
			cfg.Interactive = flags.Interactive
		}
	})

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Token == "" && c.StateDir == "" {
		return fmt.Errorf("either -token or -state-dir with a saved session is required")
	}
	if c.Scope != "" {
		if _, err := wire.ParseScope(c.Scope); err != nil {
			return err
		}
	} else if c.Prefix != "" {
		return fmt.Errorf("-prefix requires -scope")
	}
	if !c.Interactive && c.Scope == "" && c.StateDir == "" {
		return fmt.Errorf("nothing to watch: give -scope, -state-dir with saved watches, or -interactive")
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative")
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}
