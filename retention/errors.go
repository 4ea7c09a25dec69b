package retention

import (
	"errors"
	"fmt"
)

// ErrInsufficientCacheSpace is matched by every InsufficientCacheSpaceError.
var ErrInsufficientCacheSpace = errors.New("insufficient cache space")

// InsufficientCacheSpaceError reports that evicting every unlocked entry would
// still not free the required space.
type InsufficientCacheSpaceError struct {
	SpaceFound    uint64
	SpaceRequired uint64
}

func (e *InsufficientCacheSpaceError) Error() string {
	if e.SpaceFound == 0 {
		return fmt.Sprintf("insufficient cache space: required %d bytes, none evictable (all cached packages may be locked)", e.SpaceRequired)
	}
	return fmt.Sprintf("insufficient cache space: required %d bytes, found %d", e.SpaceRequired, e.SpaceFound)
}

// Is matches ErrInsufficientCacheSpace.
func (e *InsufficientCacheSpaceError) Is(target error) bool {
	return target == ErrInsufficientCacheSpace
}
