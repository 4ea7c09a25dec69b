// Package disk reports free and total space for the filesystem holding the
// package cache.
package disk

import (
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single filesystem query.
const DefaultTimeout = 5 * time.Second

// StatProvider reports filesystem capacity for path. ok=false means the value
// is unknown and must not be treated as zero.
type StatProvider interface {
	GetFreeBytes(path string) (bytes uint64, ok bool)
	GetTotalBytes(path string) (bytes uint64, ok bool)
}

// Usage is a point-in-time capacity reading.
type Usage struct {
	FreeBytes  uint64
	TotalBytes uint64
}

// Statfs queries the operating system. Each query runs with Timeout; a query
// that errors or times out is reported as unknown. A timed out query leaves
// its goroutine parked until the underlying syscall returns.
type Statfs struct {
	Timeout time.Duration
	Logger  *slog.Logger

	stat func(path string) (Usage, error) // nil means statfs
}

// NewStatfs returns a Statfs with DefaultTimeout.
func NewStatfs(logger *slog.Logger) *Statfs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Statfs{Timeout: DefaultTimeout, Logger: logger}
}

// GetFreeBytes implements StatProvider. Free bytes are those available to an
// unprivileged user.
func (s *Statfs) GetFreeBytes(path string) (uint64, bool) {
	u, ok := s.query(path)
	return u.FreeBytes, ok
}

// GetTotalBytes implements StatProvider.
func (s *Statfs) GetTotalBytes(path string) (uint64, bool) {
	u, ok := s.query(path)
	return u.TotalBytes, ok
}

type result struct {
	usage Usage
	err   error
}

func (s *Statfs) query(path string) (Usage, bool) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stat := s.stat
	if stat == nil {
		stat = statfs
	}

	ch := make(chan result, 1)
	go func() {
		u, err := stat(path)
		ch <- result{usage: u, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			logger.Warn("disk space query failed", "path", path, "error", r.err)
			return Usage{}, false
		}
		logger.Debug("disk space check", "path", path, "free_bytes", r.usage.FreeBytes, "total_bytes", r.usage.TotalBytes)
		return r.usage, true
	case <-timer.C:
		logger.Warn("disk space query timed out", "path", path, "timeout", timeout)
		return Usage{}, false
	}
}

var _ StatProvider = (*Statfs)(nil)
