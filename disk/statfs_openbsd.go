//go:build openbsd

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
	bsize := uint64(st.F_bsize)
	return Usage{
		FreeBytes:  uint64(st.F_bavail) * bsize, //nolint:gosec // available blocks are never negative
		TotalBytes: st.F_blocks * bsize,
	}, nil
}
