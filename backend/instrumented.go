package backend

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/wolfeidau/package-cache/telemetry"
)

// InstrumentedBackend wraps a Backend with metrics recording.
type InstrumentedBackend struct {
	backend Backend
	name    string
}

// NewInstrumentedBackend creates a new instrumented backend wrapper.
func NewInstrumentedBackend(b Backend, name string) *InstrumentedBackend {
	return &InstrumentedBackend{backend: b, name: name}
}

func (ib *InstrumentedBackend) Write(ctx context.Context, key string, r io.Reader) (int64, error) {
	start := time.Now()
	n, err := ib.backend.Write(ctx, key, r)
	telemetry.RecordBackendOp(ctx, ib.name, "write", outcomeFromError(err), time.Since(start), n)
	return n, err
}

// Read records the operation when the returned reader is closed, so the
// byte count covers what the caller actually read.
func (ib *InstrumentedBackend) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	rc, err := ib.backend.Read(ctx, key)
	if err != nil {
		telemetry.RecordBackendOp(ctx, ib.name, "read", outcomeFromError(err), time.Since(start), 0)
		return nil, err
	}
	return &countingReadCloser{rc: rc, done: func(n int64) {
		telemetry.RecordBackendOp(ctx, ib.name, "read", "success", time.Since(start), n)
	}}, nil
}

func (ib *InstrumentedBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ib.backend.Delete(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "delete", outcomeFromError(err), time.Since(start), 0)
	return err
}

func (ib *InstrumentedBackend) Stat(ctx context.Context, key string) (Info, error) {
	start := time.Now()
	info, err := ib.backend.Stat(ctx, key)
	telemetry.RecordBackendOp(ctx, ib.name, "stat", outcomeFromError(err), time.Since(start), 0)
	return info, err
}

func (ib *InstrumentedBackend) List(ctx context.Context, prefix string) ([]Info, error) {
	start := time.Now()
	infos, err := ib.backend.List(ctx, prefix)
	telemetry.RecordBackendOp(ctx, ib.name, "list", outcomeFromError(err), time.Since(start), 0)
	return infos, err
}

func (ib *InstrumentedBackend) ListIncomplete(ctx context.Context, prefix string) ([]Info, error) {
	start := time.Now()
	infos, err := ib.backend.ListIncomplete(ctx, prefix)
	telemetry.RecordBackendOp(ctx, ib.name, "list_incomplete", outcomeFromError(err), time.Since(start), 0)
	return infos, err
}

// Unwrap returns the underlying backend.
func (ib *InstrumentedBackend) Unwrap() Backend {
	return ib.backend
}

func outcomeFromError(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// countingReadCloser counts bytes read and reports them once on Close.
type countingReadCloser struct {
	rc   io.ReadCloser
	n    int64
	done func(n int64)
}

func (c *countingReadCloser) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	c.n += int64(n)
	return n, err
}

func (c *countingReadCloser) Close() error {
	if c.done != nil {
		c.done(c.n)
		c.done = nil
	}
	return c.rc.Close()
}

var _ Backend = (*InstrumentedBackend)(nil)
