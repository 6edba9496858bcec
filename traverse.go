package tabmap

import (
	"io"
)

type cursorFrame struct {
	node *indexNode
	next int
}

// pageCursor walks the object pages of the index depth first, skipping
// subtrees outside the filter. Its state survives between calls so pages can
// be consumed one at a time.
type pageCursor struct {
	x        *SpatialIndex
	filter   Rect
	filtered bool

	stack   []cursorFrame
	started bool
	done    bool
	// maxDepth is the deepest stack seen.
	maxDepth int
}

func newPageCursor(x *SpatialIndex, filter Rect, filtered bool) *pageCursor {
	return &pageCursor{x: x, filter: filter, filtered: filtered}
}

func (c *pageCursor) match(r Rect) bool {
	return !c.filtered || r.Intersects(c.filter)
}

// Next returns the next object page, or io.EOF once the tree is exhausted.
func (c *pageCursor) Next() (int32, error) {
	if c.done {
		return 0, io.EOF
	}
	x := c.x
	if !c.started {
		c.started = true
		switch {
		case x.root == 0:
			c.done = true
			return 0, io.EOF
		case x.depth == 0:
			c.done = true
			if !c.match(x.rootMBR) {
				return 0, io.EOF
			}
			return x.root, nil
		}
		n, err := loadIndexNode(x.store, x.root)
		if err != nil {
			return 0, err
		}
		c.push(n)
	}
	for len(c.stack) > 0 {
		top := &c.stack[len(c.stack)-1]
		if top.next >= len(top.node.entries) {
			c.stack = c.stack[:len(c.stack)-1]
			continue
		}
		e := top.node.entries[top.next]
		top.next++
		if !c.match(e.MBR) {
			continue
		}
		if len(c.stack) == x.depth {
			return e.Child, nil
		}
		n, err := loadIndexNode(x.store, e.Child)
		if err != nil {
			return 0, err
		}
		c.push(n)
	}
	c.done = true
	return 0, io.EOF
}

func (c *pageCursor) push(n *indexNode) {
	c.stack = append(c.stack, cursorFrame{node: n})
	if len(c.stack) > c.maxDepth {
		c.maxDepth = len(c.stack)
	}
}

// walkIndex visits every index node depth first. fn gets the node's level,
// its offset and its entries.
func (x *SpatialIndex) walkIndex(fn func(level int, off int32, entries []IndexEntry) error) error {
	if x.root == 0 || x.depth == 0 {
		return nil
	}
	var walk func(level int, off int32) error
	walk = func(level int, off int32) error {
		n, err := loadIndexNode(x.store, off)
		if err != nil {
			return err
		}
		if err := fn(level, off, n.entries); err != nil {
			return err
		}
		if level == x.depth-1 {
			return nil
		}
		for _, e := range n.entries {
			if err := walk(level+1, e.Child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(0, x.root)
}
