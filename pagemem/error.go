package pagemem

import "github.com/cockroachdb/errors"

var (
	ErrOutOfPages       = errors.New("page memory exhausted")
	ErrUnknownPage      = errors.New("page is not allocated")
	ErrInvalidPageSize  = errors.New("invalid page size")
	ErrClosed           = errors.New("page memory is closed")
	ErrMmapUnsupported  = errors.New("memory-mapped pages are not supported on this platform")
	ErrMaxPagesRequired = errors.New("file-backed page memory requires a page limit")
)
