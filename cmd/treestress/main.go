// Command treestress drives a pagetree with a randomized concurrent
// workload and checks every result against per-worker reference models.
//
//	treestress -config stress.yaml -workers 16 -ops 5000000
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alexhholmes/pagetree"
	"github.com/alexhholmes/pagetree/logger"
	"github.com/alexhholmes/pagetree/pagemem"
	"github.com/alexhholmes/pagetree/reuse"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	workers := flag.Int("workers", 0, "Concurrent workers (overrides config)")
	ops := flag.Int("ops", 0, "Total operations (overrides config)")
	dev := flag.Bool("dev", false, "Human readable logs")
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.override(*workers, *ops); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	zl, err := newZap(*dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer zl.Sync()
	zl = zl.With(zap.String("run", uuid.NewString()))

	if err := run(cfg, zl); err != nil {
		zl.Error("stress run failed", zap.Error(err))
		_ = zl.Sync()
		os.Exit(1)
	}
}

func newZap(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *Config, zl *zap.Logger) error {
	memOpts := []pagemem.Option{pagemem.WithPageSize(cfg.Memory.PageSize)}
	if cfg.Memory.MaxPages > 0 {
		memOpts = append(memOpts, pagemem.WithMaxPages(cfg.Memory.MaxPages))
	}
	if cfg.Memory.File != "" {
		memOpts = append(memOpts, pagemem.WithFile(cfg.Memory.File))
	}
	mem, err := pagemem.New(memOpts...)
	if err != nil {
		return err
	}
	defer mem.Close()

	treeOpts := []pagetree.Option{
		pagetree.WithName(cfg.Tree.Name),
		pagetree.WithMaxPerPage(cfg.Tree.MaxPerPage),
		pagetree.WithLogger(logger.NewZap(zl)),
	}
	if cfg.Tree.InnerRows {
		treeOpts = append(treeOpts, pagetree.WithInnerRows())
	}
	var list *reuse.List
	if cfg.Tree.Reuse {
		if list, err = reuse.Create(mem, 0); err != nil {
			return err
		}
		treeOpts = append(treeOpts, pagetree.WithReuseList(list))
	}

	tree, err := pagetree.Create(mem, pagetree.Int64Rows(), treeOpts...)
	if err != nil {
		return err
	}

	w := cfg.Workload
	st := &stats{}
	ws := make([]*worker, w.Workers)
	for i := range ws {
		ws[i] = newWorker(int64(i), int64(w.Workers), w, tree, st)
	}

	zl.Info("starting stress run",
		zap.Int("workers", w.Workers),
		zap.String("ops", humanize.Comma(int64(w.Ops))),
		zap.Int64("keyRange", w.KeyRange),
		zap.Int("pageSize", cfg.Memory.PageSize),
		zap.Bool("innerRows", cfg.Tree.InnerRows),
		zap.Bool("reuse", cfg.Tree.Reuse))

	start := time.Now()
	stop := make(chan struct{})
	reported := make(chan struct{})
	go func() {
		defer close(reported)
		report(zl, mem, st, start, w.ReportInterval, stop)
	}()

	perWorker := w.Ops / w.Workers
	round := perWorker
	if w.ValidateEvery > 0 {
		round = w.ValidateEvery
	}
	for done := 0; done < perWorker; done += round {
		n := min(round, perWorker-done)
		if err := runRound(ws, n); err != nil {
			close(stop)
			<-reported
			return err
		}
		if err := verify(tree, ws); err != nil {
			close(stop)
			<-reported
			return err
		}
	}
	close(stop)
	<-reported

	elapsed := time.Since(start)
	total := st.total()
	rows, err := tree.Size()
	if err != nil {
		return err
	}
	level, err := tree.RootLevel()
	if err != nil {
		return err
	}
	ms := mem.Stats()

	zl.Info("stress run completed",
		zap.Duration("elapsed", elapsed),
		zap.String("ops", humanize.Comma(total)),
		zap.String("opsPerSec", humanize.Comma(int64(float64(total)/elapsed.Seconds()))),
		zap.String("puts", humanize.Comma(st.puts.Load())),
		zap.String("removes", humanize.Comma(st.removes.Load())),
		zap.String("finds", humanize.Comma(st.finds.Load())),
		zap.String("scans", humanize.Comma(st.scans.Load())),
		zap.String("rows", humanize.Comma(int64(rows))),
		zap.Int("rootLevel", level),
		zap.String("pages", humanize.Comma(int64(ms.Allocated))),
		zap.String("memory", humanize.IBytes(ms.Bytes)),
		zap.Int64("recycled", tree.RecycledPages()))
	return nil
}

func report(zl *zap.Logger, mem *pagemem.Memory, st *stats, start time.Time, every time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			total := st.total()
			ms := mem.Stats()
			zl.Info("progress",
				zap.String("ops", humanize.Comma(total)),
				zap.String("opsPerSec", humanize.Comma(int64(float64(total-last)/every.Seconds()))),
				zap.String("memory", humanize.IBytes(ms.Bytes)),
				zap.Duration("elapsed", time.Since(start).Round(time.Second)))
			last = total
		}
	}
}
