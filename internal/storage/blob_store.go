package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBlobNotFound is returned by Read when no blob exists under the key.
var ErrBlobNotFound = errors.New("blob not found")

// TempBlob is a blob written to a temporary location and not yet committed.
type TempBlob struct {
	Key  string
	Size int64
}

// BlobStore is durable storage of trace file bytes.
type BlobStore interface {
	// WriteTemp streams r to a new temporary blob. A failed or cancelled
	// write leaves nothing behind.
	WriteTemp(ctx context.Context, r io.Reader) (*TempBlob, error)
	// Commit moves a temporary blob to its final key.
	Commit(ctx context.Context, tmp *TempBlob, finalKey string) error
	// DeleteIfExists removes key; a missing blob is not an error.
	DeleteIfExists(ctx context.Context, key string) error
	// Read opens the blob stored under key.
	Read(ctx context.Context, key string) (io.ReadCloser, error)
}

// TempSweeper is implemented by blob stores that can purge temporary blobs
// abandoned by a crashed create.
type TempSweeper interface {
	PurgeTemp(ctx context.Context, olderThan time.Time) (int, error)
}

// countingReader counts the bytes read through it and stops on cancellation.
type countingReader struct {
	ctx   context.Context
	r     io.Reader
	bytes int64
}

func newCountingReader(ctx context.Context, r io.Reader) *countingReader {
	return &countingReader{ctx: ctx, r: r}
}

func (c *countingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	c.bytes += int64(n)
	return n, err
}
