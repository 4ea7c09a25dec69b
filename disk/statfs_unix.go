//go:build linux || darwin || freebsd || dragonfly

package disk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func statfs(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize) //nolint:gosec // block size is never negative
	return Usage{
		FreeBytes:  uint64(st.Bavail) * bsize,
		TotalBytes: uint64(st.Blocks) * bsize,
	}, nil
}
