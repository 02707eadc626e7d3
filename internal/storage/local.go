// Package storage implements the blob backends and the inline/external content store used for
// sequence and structure payloads.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/jakub-figat/chromatin/internal/core"
)

// DefaultChunkSize is the read size used when a caller does not pick one.
const DefaultChunkSize = 8192

const maxNameLen = 128

var _ core.BlobStore = (*LocalBackend)(nil)

// LocalBackend stores blobs as files under a root directory. Locators are file names relative
// to the root.
type LocalBackend struct {
	root string
}

// NewLocalBackend creates the root directory if needed.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("local storage path is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", core.ErrStorage, root, err)
	}
	return &LocalBackend{root: root}, nil
}

// Save writes content to a new uniquely named file.
func (b *LocalBackend) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	locator := blobName(name)

	tmp, err := os.CreateTemp(b.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp file: %w", core.ErrStorage, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, readerWithContext(ctx, content)); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: write %s: %w", core.ErrStorage, locator, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", core.ErrStorage, locator, err)
	}
	if err := os.Rename(tmpName, filepath.Join(b.root, locator)); err != nil {
		return "", fmt.Errorf("%w: commit %s: %w", core.ErrStorage, locator, err)
	}
	committed = true
	return locator, nil
}

// Read returns the whole blob.
func (b *LocalBackend) Read(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.resolve(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, b.mapErr(locator, err)
	}
	return data, nil
}

// ReadChunks streams the blob in chunkSize pieces, reopening the file on every iteration.
func (b *LocalBackend) ReadChunks(ctx context.Context, locator string, chunkSize int) iter.Seq2[[]byte, error] {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return func(yield func([]byte, error) bool) {
		path, err := b.resolve(locator)
		if err != nil {
			yield(nil, err)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			yield(nil, b.mapErr(locator, err))
			return
		}
		defer f.Close()
		yieldChunks(ctx, f, chunkSize, yield)
	}
}

// Delete removes the blob; a missing blob is not an error.
func (b *LocalBackend) Delete(_ context.Context, locator string) error {
	path, err := b.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: delete %s: %w", core.ErrStorage, locator, err)
	}
	return nil
}

// Exists reports whether the blob is present.
func (b *LocalBackend) Exists(_ context.Context, locator string) (bool, error) {
	path, err := b.resolve(locator)
	if err != nil {
		return false, nil //nolint:nilerr // a malformed locator names nothing
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %w", core.ErrStorage, locator, err)
	}
	return true, nil
}

func (b *LocalBackend) resolve(locator string) (string, error) {
	if locator == "" || !filepath.IsLocal(locator) || strings.ContainsAny(locator, `/\`) {
		return "", fmt.Errorf("%w: invalid locator %q", core.ErrBlobNotFound, locator)
	}
	return filepath.Join(b.root, locator), nil
}

func (b *LocalBackend) mapErr(locator string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", core.ErrBlobNotFound, locator)
	}
	return fmt.Errorf("%w: read %s: %w", core.ErrStorage, locator, err)
}

// blobName prefixes a sanitized name with a ULID so every save gets a fresh location.
func blobName(name string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
	safe = strings.TrimLeft(safe, ".")
	if len(safe) > maxNameLen {
		safe = safe[:maxNameLen]
	}
	if safe == "" {
		safe = "blob"
	}
	return ulid.Make().String() + "_" + safe
}

// yieldChunks reads r in chunkSize pieces until EOF, an error, or the consumer stops.
func yieldChunks(ctx context.Context, r io.Reader, chunkSize int, yield func([]byte, error) bool) {
	for {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 && !yield(buf[:n], nil) {
			return
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return
		default:
			yield(nil, fmt.Errorf("%w: %w", core.ErrStorage, err))
			return
		}
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
