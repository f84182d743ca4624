package main

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"

	"github.com/alexhholmes/pagetree"
)

type stats struct {
	puts    atomic.Int64
	removes atomic.Int64
	finds   atomic.Int64
	scans   atomic.Int64
}

func (s *stats) total() int64 {
	return s.puts.Load() + s.removes.Load() + s.finds.Load() + s.scans.Load()
}

// worker owns the keys congruent to its id modulo the worker count, so its
// reference model stays exact while other workers change the tree.
type worker struct {
	id     int64
	stride int64
	cfg    WorkloadConfig
	tree   *pagetree.Tree[int64]
	rng    *rand.Rand
	ref    *btree.BTreeG[int64]
	stats  *stats
}

func newWorker(id, stride int64, cfg WorkloadConfig, tree *pagetree.Tree[int64], st *stats) *worker {
	return &worker{
		id:     id,
		stride: stride,
		cfg:    cfg,
		tree:   tree,
		rng:    rand.New(rand.NewSource(cfg.Seed + id)),
		ref:    btree.NewG(32, func(a, b int64) bool { return a < b }),
		stats:  st,
	}
}

func (w *worker) key() int64 {
	return w.rng.Int63n(w.cfg.KeyRange/w.stride)*w.stride + w.id
}

// run performs n operations and stops at the first divergence from the
// reference model.
func (w *worker) run(n int) error {
	for i := 0; i < n; i++ {
		k := w.key()
		switch p := w.rng.Intn(100); {
		case p < w.cfg.PutPercent:
			_, replaced, err := w.tree.Put(k)
			if err != nil {
				return errors.Wrapf(err, "put %d", k)
			}
			if _, had := w.ref.ReplaceOrInsert(k); had != replaced {
				return errors.Newf("put %d: replaced=%t, reference had=%t", k, replaced, had)
			}
			w.stats.puts.Add(1)

		case p < w.cfg.PutPercent+w.cfg.RemovePercent:
			_, found, err := w.tree.Remove(k)
			if err != nil {
				return errors.Wrapf(err, "remove %d", k)
			}
			if _, had := w.ref.Delete(k); had != found {
				return errors.Newf("remove %d: found=%t, reference had=%t", k, found, had)
			}
			w.stats.removes.Add(1)

		case w.cfg.ScanLength > 0 && p%2 == 0:
			if err := w.scan(k, k+w.cfg.ScanLength); err != nil {
				return err
			}
			w.stats.scans.Add(1)

		default:
			_, found, err := w.tree.FindOne(k)
			if err != nil {
				return errors.Wrapf(err, "find %d", k)
			}
			if had := w.ref.Has(k); had != found {
				return errors.Newf("find %d: found=%t, reference has=%t", k, found, had)
			}
			w.stats.finds.Add(1)
		}
	}
	return nil
}

// scan checks that a cursor over [lo, hi] returns ascending rows and
// exactly the worker's own keys in that range.
func (w *worker) scan(lo, hi int64) error {
	var want []int64
	w.ref.AscendRange(lo, hi+1, func(k int64) bool {
		want = append(want, k)
		return true
	})

	c, err := w.tree.Find(&lo, &hi)
	if err != nil {
		return errors.Wrapf(err, "scan [%d, %d]", lo, hi)
	}
	prev, i := lo-1, 0
	for c.Next() {
		k := c.Row()
		if k <= prev || k > hi {
			return errors.Newf("scan [%d, %d]: row %d after %d", lo, hi, k, prev)
		}
		prev = k
		if k%w.stride != w.id {
			continue
		}
		if i >= len(want) || want[i] != k {
			return errors.Newf("scan [%d, %d]: unexpected row %d", lo, hi, k)
		}
		i++
	}
	if err := c.Err(); err != nil {
		return errors.Wrapf(err, "scan [%d, %d]", lo, hi)
	}
	if i != len(want) {
		return errors.Newf("scan [%d, %d]: returned %d of %d owned rows", lo, hi, i, len(want))
	}
	return nil
}

// runRound runs n operations on every worker concurrently.
func runRound(workers []*worker, n int) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.run(n); err != nil {
				mu.Lock()
				errs = errors.CombineErrors(errs, errors.Wrapf(err, "worker %d", w.id))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// verify checks a quiescent tree against the union of the reference models.
func verify(tree *pagetree.Tree[int64], workers []*worker) error {
	if err := tree.ValidateTree(); err != nil {
		return err
	}

	want := btree.NewG(32, func(a, b int64) bool { return a < b })
	for _, w := range workers {
		w.ref.Ascend(func(k int64) bool {
			want.ReplaceOrInsert(k)
			return true
		})
	}

	c, err := tree.Find(nil, nil)
	if err != nil {
		return err
	}
	n := 0
	for c.Next() {
		if !want.Has(c.Row()) {
			return errors.Newf("row %d is not in any reference model", c.Row())
		}
		n++
	}
	if err := c.Err(); err != nil {
		return err
	}
	if n != want.Len() {
		return errors.Newf("tree holds %d rows, reference %d", n, want.Len())
	}
	return nil
}
