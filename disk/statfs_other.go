//go:build !(linux || darwin || freebsd || dragonfly || openbsd)

package disk

import (
	"errors"
	"runtime"
)

func statfs(string) (Usage, error) {
	return Usage{}, errors.New("disk statistics not supported on " + runtime.GOOS)
}
