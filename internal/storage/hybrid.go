package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/model"
)

// DefaultThresholdBytes is the payload size at which content moves out of the database row.
const DefaultThresholdBytes = 10000

var _ core.ContentStore = (*HybridStore)(nil)

// ErrNoBackend is returned when external content is written or read without a blob backend.
// It matches core.ErrStorage.
var ErrNoBackend = fmt.Errorf("%w: no blob backend configured", core.ErrStorage)

// HybridOptions configures a HybridStore.
type HybridOptions struct {
	Blobs          core.BlobStore
	ThresholdBytes int
	ChunkSize      int
	Logger         *slog.Logger
}

// HybridStore keeps payloads shorter than the threshold inline and writes the rest to a blob backend.
type HybridStore struct {
	blobs     core.BlobStore
	threshold int
	chunkSize int
	logger    *slog.Logger
}

// NewHybridStore creates a HybridStore. The threshold is fixed for the life of the store.
func NewHybridStore(opts HybridOptions) *HybridStore {
	threshold := opts.ThresholdBytes
	if threshold <= 0 {
		threshold = DefaultThresholdBytes
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridStore{
		blobs:     opts.Blobs,
		threshold: threshold,
		chunkSize: chunk,
		logger:    logger.With("component", "content_store"),
	}
}

// Tier reports where a payload of size bytes is stored.
func (h *HybridStore) Tier(size int) model.StorageTier {
	if size < h.threshold {
		return model.StorageInline
	}
	return model.StorageExternal
}

// Put stores data inline or externally depending only on its byte length.
func (h *HybridStore) Put(ctx context.Context, name, data string) (model.StoredContent, error) {
	size := int64(len(data))
	if h.Tier(len(data)) == model.StorageInline {
		return model.StoredContent{Inline: &data, Size: size}, nil
	}
	if h.blobs == nil {
		return model.StoredContent{}, ErrNoBackend
	}
	locator, err := h.blobs.Save(ctx, name, strings.NewReader(data))
	if err != nil {
		return model.StoredContent{}, err
	}
	return model.StoredContent{Locator: &locator, Size: size}, nil
}

// Load returns the full payload.
func (h *HybridStore) Load(ctx context.Context, c model.StoredContent) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	if c.Inline != nil {
		return *c.Inline, nil
	}
	if h.blobs == nil {
		return "", ErrNoBackend
	}
	data, err := h.blobs.Read(ctx, *c.Locator)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Stream writes the payload to w without materializing external content.
func (h *HybridStore) Stream(ctx context.Context, c model.StoredContent, w io.Writer) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Inline != nil {
		_, err := io.WriteString(w, *c.Inline)
		return err
	}
	if h.blobs == nil {
		return ErrNoBackend
	}
	for chunk, err := range h.blobs.ReadChunks(ctx, *c.Locator, h.chunkSize) {
		if err != nil {
			return err
		}
		if _, werr := w.Write(chunk); werr != nil {
			return werr
		}
	}
	return nil
}

// Release deletes the external blobs among contents. Failures are logged and dropped.
func (h *HybridStore) Release(ctx context.Context, contents ...model.StoredContent) {
	for _, c := range contents {
		if c.Locator == nil || h.blobs == nil {
			continue
		}
		if err := h.blobs.Delete(ctx, *c.Locator); err != nil && !errors.Is(err, core.ErrBlobNotFound) {
			h.logger.WarnContext(ctx, "blob cleanup failed", "locator", *c.Locator, "error", err)
		}
	}
}
