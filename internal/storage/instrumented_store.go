package storage

import (
	"context"
	"io"
	"time"

	"trace-service/internal/metrics"
)

// InstrumentedStore records latency and read volume of another BlobStore.
type InstrumentedStore struct {
	next    BlobStore
	metrics *metrics.Metrics
}

// NewInstrumentedStore wraps next.
func NewInstrumentedStore(next BlobStore, m *metrics.Metrics) *InstrumentedStore {
	return &InstrumentedStore{next: next, metrics: m}
}

// timer starts timing op; the returned func records it with the call's error.
func (s *InstrumentedStore) timer(op string) func(error) {
	start := time.Now()
	return func(err error) {
		s.metrics.RecordBlobOperation(op, time.Since(start).Milliseconds(), err)
	}
}

func (s *InstrumentedStore) WriteTemp(ctx context.Context, r io.Reader) (*TempBlob, error) {
	done := s.timer("write_temp")
	tmp, err := s.next.WriteTemp(ctx, r)
	done(err)
	return tmp, err
}

func (s *InstrumentedStore) Commit(ctx context.Context, tmp *TempBlob, finalKey string) error {
	done := s.timer("commit")
	err := s.next.Commit(ctx, tmp, finalKey)
	done(err)
	return err
}

func (s *InstrumentedStore) DeleteIfExists(ctx context.Context, key string) error {
	done := s.timer("delete")
	err := s.next.DeleteIfExists(ctx, key)
	done(err)
	return err
}

// Read opens key; the returned stream reports its volume when closed.
func (s *InstrumentedStore) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	openedAt := time.Now()
	done := s.timer("read")
	rc, err := s.next.Read(ctx, key)
	done(err)
	if err != nil {
		return nil, err
	}
	return &countingReadCloser{rc: rc, openedAt: openedAt, metrics: s.metrics}, nil
}

// PurgeTemp forwards to the wrapped store when it can purge.
func (s *InstrumentedStore) PurgeTemp(ctx context.Context, olderThan time.Time) (int, error) {
	sweeper, ok := s.next.(TempSweeper)
	if !ok {
		return 0, nil
	}
	done := s.timer("purge_temp")
	n, err := sweeper.PurgeTemp(ctx, olderThan)
	done(err)
	return n, err
}

type countingReadCloser struct {
	rc       io.ReadCloser
	bytes    int64
	openedAt time.Time
	metrics  *metrics.Metrics
	closed   bool
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.bytes += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if !c.closed {
		c.closed = true
		c.metrics.RecordBlobRead(c.bytes, time.Since(c.openedAt).Milliseconds())
	}
	return c.rc.Close()
}
