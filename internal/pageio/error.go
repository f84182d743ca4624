package pageio

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/alexhholmes/pagetree/pagemem"
)

// ErrCorruption marks every structural corruption error. Match it with
// errors.Is.
var ErrCorruption = errors.New("page structure corrupted")

// CorruptionError identifies the page that failed to decode or validate.
type CorruptionError struct {
	Page   pagemem.PageID
	Reason string
}

// Corruptf builds a CorruptionError for page.
func Corruptf(page pagemem.PageID, format string, args ...any) error {
	return &CorruptionError{Page: page, Reason: fmt.Sprintf(format, args...)}
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("page %s: %s", e.Page, e.Reason)
}

func (e *CorruptionError) Unwrap() error {
	return ErrCorruption
}
