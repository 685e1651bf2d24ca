package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kusitorrent/kusitorrent/internal/utils"
)

// Prefix is prepended to every environment variable name, e.g. KUSI_LOG_LEVEL.
const Prefix = "KUSI"

// Settings holds process tunables read from the environment.
type Settings struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"WARN"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"250ms"`
	RenderInterval time.Duration `envconfig:"RENDER_INTERVAL" default:"1s"`
	ShutdownBudget time.Duration `envconfig:"SHUTDOWN_BUDGET" default:"0s"`

	PortMin int `envconfig:"PORT_MIN" default:"6881"`
	PortMax int `envconfig:"PORT_MAX" default:"6999"`

	DownloadLimit string `envconfig:"DOWNLOAD_LIMIT"`
	UploadLimit   string `envconfig:"UPLOAD_LIMIT"`
	NoDHT         bool   `envconfig:"NO_DHT" default:"false"`
}

// Load reads environment variables and populates the Settings struct.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks the settings for values no session could run with.
func (s *Settings) Validate() error {
	switch {
	case s.PollInterval <= 0:
		return fmt.Errorf("invalid %s_POLL_INTERVAL '%s': must be positive", Prefix, s.PollInterval)
	case s.RenderInterval <= 0:
		return fmt.Errorf("invalid %s_RENDER_INTERVAL '%s': must be positive", Prefix, s.RenderInterval)
	case s.ShutdownBudget < 0:
		return fmt.Errorf("invalid %s_SHUTDOWN_BUDGET '%s': must not be negative", Prefix, s.ShutdownBudget)
	case s.PortMin <= 0 || s.PortMin >= s.PortMax || s.PortMax > 1<<16:
		return fmt.Errorf("invalid port range [%d, %d)", s.PortMin, s.PortMax)
	}

	if _, err := utils.ParseBytes(s.DownloadLimit); err != nil {
		return fmt.Errorf("invalid %s_DOWNLOAD_LIMIT: %w", Prefix, err)
	}
	if _, err := utils.ParseBytes(s.UploadLimit); err != nil {
		return fmt.Errorf("invalid %s_UPLOAD_LIMIT: %w", Prefix, err)
	}

	return nil
}

// Budget returns the shutdown budget, defaulting to twice the poll interval.
func (s *Settings) Budget() time.Duration {
	if s.ShutdownBudget > 0 {
		return s.ShutdownBudget
	}
	return 2 * s.PollInterval
}

func (s *Settings) SlogLevel() slog.Level {
	switch strings.ToUpper(s.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
