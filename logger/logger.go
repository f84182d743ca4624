// Package logger adapts popular logging libraries to pagetree.Logger.
//
// *slog.Logger already satisfies pagetree.Logger and needs no adapter.
//
//	zl, _ := zap.NewProduction()
//	tree, err := pagetree.Create(mem, pagetree.Int64Rows(),
//		pagetree.WithLogger(logger.NewZap(zl)))
package logger
