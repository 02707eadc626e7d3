// Package config declares the chromatin process configuration. Every field is read from the
// environment with caarlos0/env; Sanitize then clamps values into safe ranges.
package config

import (
	"os"
	"slices"
	"strings"
)

// AppConfig groups per-area configuration. Nested structs carry their own env prefix.
type AppConfig struct {
	// IsDev switches to text logs at debug level. APP_ENV=development also enables it.
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig      `envPrefix:"DB_"`
	Redis    RedisConfig   `envPrefix:"REDIS_"`
	Cache    CacheConfig   `envPrefix:"CACHE_"`
	Storage  StorageConfig `envPrefix:"STORAGE_"`

	HTTP   HTTPConfig
	Upload UploadConfig `envPrefix:"FASTA_"`

	// Services lists the components this process runs, see ParseServices.
	Services string       `env:"SERVICES" envDefault:"http,worker,reaper"`
	Worker   WorkerConfig `envPrefix:"WORKER_"`
	Reaper   ReaperConfig `envPrefix:"REAPER_"`

	Prediction    PredictionConfig `envPrefix:"ESMFOLD_"`
	Observability ObservabilityConfig
}

type sanitizer interface{ Sanitize() }

// Sanitize clamps every section. Call it once after parsing.
func (c *AppConfig) Sanitize() {
	for _, s := range []sanitizer{
		&c.Cache, &c.Storage, &c.HTTP, &c.Upload, &c.Worker, &c.Reaper, &c.Prediction, &c.Observability,
	} {
		s.Sanitize()
	}
	if !c.IsDev {
		c.IsDev = slices.Contains([]string{"development", "dev"}, strings.ToLower(os.Getenv("APP_ENV")))
	}
}

// GetEnabledServices parses Services.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

func (c *AppConfig) IsHTTPServerEnabled() bool { return c.isEnabled(ServiceModeHTTP) }
func (c *AppConfig) IsWorkerEnabled() bool     { return c.isEnabled(ServiceModeWorker) }
func (c *AppConfig) IsReaperEnabled() bool     { return c.isEnabled(ServiceModeReaper) }

// isEnabled treats an unparsable Services value as nothing enabled.
func (c *AppConfig) isEnabled(mode ServiceMode) bool {
	services, err := ParseServices(c.Services)
	return err == nil && services[mode]
}
