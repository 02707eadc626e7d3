package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/jakub-figat/chromatin/config"
)

// envFileVar points LoadConfig at dotenv files other than ./.env (comma separated).
const envFileVar = "CHROMATIN_ENV_FILE"

// InitLogger installs the process-wide slog logger: JSON in production, text at debug level
// with source locations when IsDev is set.
func InitLogger(cfg *config.AppConfig) *slog.Logger {
	return installLogger(os.Stdout, cfg)
}

func installLogger(w io.Writer, cfg *config.AppConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	dev := false
	if cfg != nil {
		opts.Level = cfg.Observability.SlogLevel()
		dev = cfg.IsDev
	}

	var handler slog.Handler
	if dev {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler).With("app", "chromatin")
	slog.SetDefault(logger)
	return logger
}

// LoadConfig reads dotenv files when present, then parses and sanitises AppConfig from the
// environment. Variables already set in the environment win over dotenv values.
func LoadConfig() (config.AppConfig, error) {
	if err := loadDotenv(os.Getenv(envFileVar)); err != nil {
		return config.AppConfig{}, err
	}

	cfg, err := env.ParseAs[config.AppConfig]()
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

func loadDotenv(files string) error {
	var paths []string
	for _, p := range strings.Split(files, ",") {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	explicit := len(paths) > 0

	err := godotenv.Load(paths...)
	switch {
	case err == nil:
		return nil
	case !explicit && errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return fmt.Errorf("load env file: %w", err)
	}
}

// ValidateServiceConfig rejects an unknown or empty SERVICES list.
func ValidateServiceConfig(cfg *config.AppConfig) error {
	if cfg == nil {
		return errors.New("service config is required")
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("invalid service configuration: %w", err)
	}
	if len(services) == 0 {
		return errors.New("no services enabled")
	}
	return nil
}

// GetEnabledServices lists enabled service names in ValidServiceModes order; invalid
// configuration yields an empty list.
func GetEnabledServices(cfg *config.AppConfig) []string {
	enabled := []string{}
	if cfg == nil {
		return enabled
	}
	services, err := cfg.GetEnabledServices()
	if err != nil {
		return enabled
	}
	for _, mode := range config.ValidServiceModes() {
		if services[mode] {
			enabled = append(enabled, string(mode))
		}
	}
	return enabled
}
