package config

import "strings"

// StorageBackend selects where external sequence payloads are written.
type StorageBackend string

const (
	// StorageBackendLocal writes blobs under a local directory.
	StorageBackendLocal StorageBackend = "local"
	// StorageBackendS3 writes blobs to an S3-compatible bucket.
	StorageBackendS3 StorageBackend = "s3"
)

const (
	defaultThresholdBytes = 10000
	defaultChunkSize      = 8192
)

// StorageConfig decides the storage tier of payloads and configures the external backend.
// It is read once at process start.
type StorageConfig struct {
	// ThresholdBytes is the payload size at and above which content is stored externally.
	ThresholdBytes int `env:"THRESHOLD_BYTES" envDefault:"10000"`

	Backend   StorageBackend `env:"BACKEND"    envDefault:"local"`
	LocalPath string         `env:"LOCAL_PATH" envDefault:"/tmp/chromatin/sequences"`

	S3Bucket          string `env:"S3_BUCKET"`
	S3Region          string `env:"S3_REGION"            envDefault:"us-east-1"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	// S3Endpoint points the client at an S3-compatible service such as MinIO.
	S3Endpoint string `env:"S3_ENDPOINT"`

	// ChunkSize is the read size used when streaming external payloads.
	ChunkSize int `env:"CHUNK_SIZE" envDefault:"8192"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	s.ThresholdBytes = orDefault(s.ThresholdBytes, defaultThresholdBytes)
	s.ChunkSize = orDefault(s.ChunkSize, defaultChunkSize)
	s.Backend = StorageBackend(strings.ToLower(strings.TrimSpace(string(s.Backend))))
	if s.Backend != StorageBackendS3 {
		s.Backend = StorageBackendLocal
	}
	s.S3Bucket = strings.TrimSpace(s.S3Bucket)
	s.S3Endpoint = strings.TrimSpace(s.S3Endpoint)
}
