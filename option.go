package pagetree

import "github.com/alexhholmes/pagetree/reuse"

// Options configures tree behavior.
type Options struct {
	name       string
	group      uint32
	maxPerPage int         // Caps items per page. 0 means page capacity.
	innerRows  bool        // Inner pages keep full rows instead of keys.
	reuse      *reuse.List // nil means freed pages are not recycled.
	logger     Logger
}

// DefaultOptions returns the configuration used when no option is given.
//
// goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		name:   "pagetree",
		logger: DiscardLogger{},
	}
}

// Option configures tree options using the functional options pattern.
type Option func(*Options)

// WithName sets the name used in log messages.
func WithName(name string) Option {
	return func(opts *Options) {
		opts.name = name
	}
}

// WithGroup sets the page group (collection id) the tree allocates in.
func WithGroup(group uint32) Option {
	return func(opts *Options) {
		opts.group = group
	}
}

// WithMaxPerPage lowers the number of items a page may hold. Small values
// force deep trees and frequent splits and merges, which is mostly useful
// in tests. Inner pages always hold at least two separators.
func WithMaxPerPage(n int) Option {
	return func(opts *Options) {
		opts.maxPerPage = n
	}
}

// WithInnerRows makes inner pages retain full rows as separators, so a
// point lookup can be answered from an inner page.
func WithInnerRows() Option {
	return func(opts *Options) {
		opts.innerRows = true
	}
}

// WithReuseList recycles freed pages through l and draws new pages from it
// before allocating fresh ones. l must recycle the tree's page group.
func WithReuseList(l *reuse.List) Option {
	return func(opts *Options) {
		opts.reuse = l
	}
}

// WithLogger sets the logger. *slog.Logger satisfies Logger directly.
func WithLogger(l Logger) Option {
	return func(opts *Options) {
		if l != nil {
			opts.logger = l
		}
	}
}
