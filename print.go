package pagetree

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/alexhholmes/pagetree/pagemem"
)

// Print writes the tree to w depth first, one page per line, indented by
// depth. Inner pages list their separators, leaves their rows. Concurrent
// writers may be observed half way.
func (t *Tree[R]) Print(w io.Writer) error {
	meta, mio, err := t.readMeta()
	if err != nil {
		return err
	}
	level := mio.RootLevel(meta.Data())
	root := mio.Root(meta.Data())
	levels := mio.Levels(meta.Data())
	t.runlock(meta)

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s meta=%s rootLevel=%d levels=%v\n", t.name, t.meta, level, levels)
	if err := t.print(bw, root, level, 0); err != nil {
		return err
	}
	return bw.Flush()
}

func (t *Tree[R]) print(w *bufio.Writer, id pagemem.PageID, level, depth int) error {
	p, err := t.acquire(id)
	if err != nil {
		return err
	}
	p.RLock()
	data := p.Data()
	indent := strings.Repeat("  ", depth)

	if level == 0 {
		io, err := t.reg.Leaf(data, id)
		if err != nil {
			t.runlock(p)
			return t.corrupt(err)
		}
		n := io.Count(data)
		rows := make([]R, n)
		for i := range rows {
			rows[i] = t.policy.Extract(io.Item(data, i))
		}
		fmt.Fprintf(w, "%sleaf %s count=%d fwd=%s %v\n", indent, id, n, io.Forward(data), rows)
		t.runlock(p)
		return nil
	}

	io, err := t.reg.Inner(data, id)
	if err != nil {
		t.runlock(p)
		return t.corrupt(err)
	}
	n := io.Count(data)
	seps := make([]R, n)
	links := make([]pagemem.PageID, n+1)
	for i := 0; i <= n; i++ {
		if i < n {
			seps[i] = t.keyRow(io.Item(data, i))
		}
		links[i] = io.Link(data, i)
	}
	fmt.Fprintf(w, "%sinner %s level=%d count=%d %v\n", indent, id, level, n, seps)
	t.runlock(p)

	for _, child := range links {
		if err := t.print(w, child, level-1, depth+1); err != nil {
			return err
		}
	}
	return nil
}
