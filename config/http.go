package config

import "time"

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// ReadHeaderTimeout bounds how long a client may take to send request headers.
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// MaxConnections caps concurrently open client connections; zero means unlimited.
	MaxConnections int `env:"HTTP_MAX_CONNECTIONS" envDefault:"0"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Addr == "" {
		h.Addr = ":8080"
	}
	h.ReadHeaderTimeout = orDefault(h.ReadHeaderTimeout, 10*time.Second)
	h.ShutdownTimeout = orDefault(h.ShutdownTimeout, 15*time.Second)
	h.MaxConnections = max(h.MaxConnections, 0)
}

// UploadConfig limits FASTA imports.
type UploadConfig struct {
	// MaxFileBytes bounds a single uploaded FASTA file.
	MaxFileBytes int64 `env:"MAX_FILE_BYTES" envDefault:"104857600"`

	// MaxTotalBytes bounds the sum of all files in one upload request.
	MaxTotalBytes int64 `env:"MAX_TOTAL_BYTES" envDefault:"524288000"`
}

// Sanitize applies guardrails to upload limits.
func (u *UploadConfig) Sanitize() {
	u.MaxFileBytes = orDefault(u.MaxFileBytes, 100<<20)
	u.MaxTotalBytes = max(u.MaxTotalBytes, u.MaxFileBytes)
}
