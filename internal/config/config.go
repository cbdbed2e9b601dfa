// Package config resolves worker settings from flags, falling back to
// environment variables and then to built-in defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"vision-worker/internal/gate"
	"vision-worker/internal/logger"
	"vision-worker/internal/protocol"
)

type Mode string

const (
	ModeAll    Mode = "all"
	ModeVision Mode = "vision"
	ModeCharts Mode = "charts"
)

type Config struct {
	Mode         Mode
	LogLevel     logger.LogLevel
	JSONLogs     bool
	LoadTimeout  time.Duration
	PollInterval time.Duration
	Warmup       time.Duration
	Notify       bool
	ChartSeed    uint64
	EventBuffer  int
	MaxLineBytes int
}

func Default() Config {
	return Config{
		Mode:         ModeAll,
		LogLevel:     logger.InfoLevel,
		LoadTimeout:  gate.DefaultTimeout,
		PollInterval: gate.DefaultPollInterval,
		EventBuffer:  1000,
		MaxLineBytes: protocol.DefaultMaxLineBytes,
	}
}

// Getenv is swapped in tests.
type Getenv func(string) string

// Load parses args (without the program name) on top of environment
// defaults.
func Load(args []string, getenv Getenv, output io.Writer) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg, err := fromEnv(getenv)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("vision-worker", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	mode := fs.String("mode", string(cfg.Mode), "workers to serve: all, vision or charts")
	level := fs.String("log-level", cfg.LogLevel.String(), "debug, info, warn or error")
	fs.BoolVar(&cfg.JSONLogs, "json-logs", cfg.JSONLogs, "write logs as JSON to stderr")
	fs.DurationVar(&cfg.LoadTimeout, "load-timeout", cfg.LoadTimeout, "how long to wait for the vision engine")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "readiness polling interval")
	fs.DurationVar(&cfg.Warmup, "warmup", cfg.Warmup, "artificial engine initialisation delay")
	fs.BoolVar(&cfg.Notify, "notify", cfg.Notify, "observe engine initialisation instead of polling")
	fs.Uint64Var(&cfg.ChartSeed, "chart-seed", cfg.ChartSeed, "seed for synthetic chart data (0 = time based)")
	fs.IntVar(&cfg.EventBuffer, "event-buffer", cfg.EventBuffer, "debug event buffer size")
	fs.IntVar(&cfg.MaxLineBytes, "max-message-bytes", cfg.MaxLineBytes, "largest accepted message line")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Mode = Mode(*mode)
	cfg.LogLevel = logger.ParseLevel(*level)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func fromEnv(getenv Getenv) (Config, error) {
	cfg := Default()

	switch {
	case getenv("VISION_LOG_LEVEL") != "":
		cfg.LogLevel = logger.ParseLevel(getenv("VISION_LOG_LEVEL"))
	case getenv("LOG_LEVEL") != "":
		cfg.LogLevel = logger.ParseLevel(getenv("LOG_LEVEL"))
	case getenv("DEBUG") == "1":
		cfg.LogLevel = logger.DebugLevel
	}

	if v := getenv("VISION_JSON_LOGS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("VISION_JSON_LOGS: %w", err)
		}
		cfg.JSONLogs = b
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"VISION_LOAD_TIMEOUT", &cfg.LoadTimeout},
		{"VISION_POLL_INTERVAL", &cfg.PollInterval},
		{"VISION_WARMUP", &cfg.Warmup},
	}
	for _, d := range durations {
		v := getenv(d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeAll, ModeVision, ModeCharts:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}
	if c.LoadTimeout <= 0 {
		errs = append(errs, errors.New("load timeout must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.Warmup < 0 {
		errs = append(errs, errors.New("warmup must not be negative"))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, errors.New("event buffer must be positive"))
	}
	if c.MaxLineBytes <= 0 {
		errs = append(errs, errors.New("max message bytes must be positive"))
	}

	return errors.Join(errs...)
}

func (c Config) ServesVision() bool {
	return c.Mode == ModeAll || c.Mode == ModeVision
}

func (c Config) ServesCharts() bool {
	return c.Mode == ModeAll || c.Mode == ModeCharts
}
