package pagemem

const (
	DefaultPageSize = 4096
	MinPageSize     = 256
	MaxPageSize     = 16384

	// defaultChunkPages is the number of heap pages allocated at once.
	defaultChunkPages = 256
)

// Options configures a Memory.
type Options struct {
	pageSize   int
	maxPages   uint64 // 0 means unbounded for heap memory
	chunkPages int
	path       string // memory-mapped backing file, empty for heap memory
}

// DefaultOptions returns heap-backed memory with 4KB pages and no limit.
func DefaultOptions() Options {
	return Options{
		pageSize:   DefaultPageSize,
		chunkPages: defaultChunkPages,
	}
}

// Option configures Memory using the functional options pattern.
type Option func(*Options)

// WithPageSize sets the page size. It must be a power of two between
// MinPageSize and MaxPageSize.
func WithPageSize(size int) Option {
	return func(opts *Options) {
		opts.pageSize = size
	}
}

// WithMaxPages caps the number of pages Allocate will hand out. Allocation
// past the cap fails with ErrOutOfPages.
func WithMaxPages(n uint64) Option {
	return func(opts *Options) {
		opts.maxPages = n
	}
}

// WithChunkPages sets how many heap pages are reserved per growth step.
func WithChunkPages(n int) Option {
	return func(opts *Options) {
		if n > 0 {
			opts.chunkPages = n
		}
	}
}

// WithFile backs the memory with a memory-mapped file instead of the heap.
// The whole capacity (WithMaxPages) is mapped up front as a sparse file.
func WithFile(path string) Option {
	return func(opts *Options) {
		opts.path = path
	}
}
