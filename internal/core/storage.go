package core

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/jakub-figat/chromatin/internal/domain/model"
)

var (
	// ErrBlobNotFound is returned when a locator does not resolve to a stored blob.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrStorage wraps I/O and availability failures of a storage backend.
	ErrStorage = errors.New("storage error")
)

// BlobStore is a storage backend for raw payloads addressed by opaque locators.
//
// Every Save writes a freshly named object, so two records never share a locator.
// ReadChunks returns a finite sequence that starts over from the first byte each time it is
// ranged over; it never holds more than one chunk in memory.
// Delete is idempotent: deleting a missing locator is not an error.
type BlobStore interface {
	Save(ctx context.Context, name string, content io.Reader) (string, error)
	Read(ctx context.Context, locator string) ([]byte, error)
	ReadChunks(ctx context.Context, locator string, chunkSize int) iter.Seq2[[]byte, error]
	Delete(ctx context.Context, locator string) error
	Exists(ctx context.Context, locator string) (bool, error)
}

// ContentStore places payloads inline or in a BlobStore according to a size threshold
// fixed at process start.
type ContentStore interface {
	// Put stores data and reports where it went. The tier depends only on len(data).
	Put(ctx context.Context, name, data string) (model.StoredContent, error)
	// Load returns the full payload; callers use it only for bounded content.
	Load(ctx context.Context, c model.StoredContent) (string, error)
	// Stream copies the payload to w chunk by chunk.
	Stream(ctx context.Context, c model.StoredContent, w io.Writer) error
	// Release deletes external blobs, logging failures instead of returning them.
	Release(ctx context.Context, contents ...model.StoredContent)
}

// PredictionClient calls the external structure prediction service.
type PredictionClient interface {
	// Predict returns the PDB text for a protein sequence.
	Predict(ctx context.Context, sequence string) (string, error)
	Source() string
	ModelVersion() string
}
