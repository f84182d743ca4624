package pagetree

import (
	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/pagetree/internal/pageio"
	"github.com/alexhholmes/pagetree/pagemem"
)

var (
	ErrTreeDestroyed      = errors.New("tree has been destroyed")
	ErrInvalidRowPolicy   = errors.New("invalid row policy")
	ErrReuseGroupMismatch = errors.New("reuse list recycles pages of another group")
	ErrTreeTooDeep        = errors.New("tree exceeds the levels a meta page can record")

	// ErrCorruption matches every structural corruption error. Use
	// errors.As with *CorruptionError to find the offending page.
	ErrCorruption = pageio.ErrCorruption

	// ErrPageAllocation is returned when page memory is exhausted.
	ErrPageAllocation = pagemem.ErrOutOfPages
)

// CorruptionError names the page that violated a structural invariant.
type CorruptionError = pageio.CorruptionError
