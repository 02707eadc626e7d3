package config

import (
	"strings"
	"time"
)

// PredictionConfig configures the external structure prediction service.
type PredictionConfig struct {
	APIURL string `env:"API_URL" envDefault:"https://api.esmatlas.com/foldSequence/v1/pdb/"`

	// Timeout bounds each outbound request.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"300s"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `env:"MAX_RETRIES" envDefault:"3"`

	// RetryBackoff is the initial delay of the exponential retry backoff.
	RetryBackoff time.Duration `env:"RETRY_BACKOFF" envDefault:"1s"`

	// MaxResidues is the longest protein accepted for prediction.
	MaxResidues int `env:"MAX_RESIDUES" envDefault:"400"`

	ModelVersion string `env:"MODEL_VERSION" envDefault:"esmfold_v1"`
}

// Sanitize applies guardrails to prediction configuration values.
func (p *PredictionConfig) Sanitize() {
	p.APIURL = strings.TrimSpace(p.APIURL)
	p.Timeout = orDefault(p.Timeout, 300*time.Second)
	p.MaxRetries = min(max(p.MaxRetries, 0), 10)
	p.RetryBackoff = orDefault(p.RetryBackoff, time.Second)
	p.MaxResidues = orDefault(p.MaxResidues, 400)
	p.ModelVersion = trimOr(p.ModelVersion, "esmfold_v1")
}
