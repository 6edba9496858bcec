package tabmap

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Index page layout: type (int16), entry count (int16), then entries of
// four int32 MBR values and an int32 child offset.
const (
	indexPageHeaderSize = 4
	indexEntrySize      = 20
	maxIndexEntries     = 25
)

// IndexEntry points at a child index node or, on the last level, at an
// object page.
type IndexEntry struct {
	MBR   Rect
	Child int32
}

type indexNode struct {
	off     int32
	entries []IndexEntry
	dirty   bool
	// cur is the entry the write path goes through.
	cur int
}

func (n *indexNode) mbr() Rect {
	r := EmptyRect()
	for _, e := range n.entries {
		r = r.Union(e.MBR)
	}
	return r
}

func (n *indexNode) find(child int32) int {
	for i, e := range n.entries {
		if e.Child == child {
			return i
		}
	}
	return -1
}

func loadIndexNode(s *PageStore, off int32) (*indexNode, error) {
	p, err := s.Load(off, PageIndex)
	if err != nil {
		return nil, err
	}
	c := &pageIO{p: p}
	c.seek(2)
	count := int(c.i16())
	if c.err != nil {
		return nil, c.err
	}
	if count < 0 || count > maxIndexEntries {
		return nil, errors.Wrapf(ErrCorrupt, "index page %d holds %d entries", off, count)
	}
	n := &indexNode{off: off, entries: make([]IndexEntry, count)}
	for i := range n.entries {
		e := &n.entries[i]
		e.MBR.MinX = c.i32()
		e.MBR.MinY = c.i32()
		e.MBR.MaxX = c.i32()
		e.MBR.MaxY = c.i32()
		e.Child = c.i32()
	}
	if c.err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "index page %d: %v", off, c.err)
	}
	return n, nil
}

func (n *indexNode) commit(s *PageStore) error {
	if !n.dirty {
		return nil
	}
	p := newPage(PageIndex, n.off, s.PageSize(), true)
	c := &pageIO{p: p}
	c.putI16(int16(PageIndex))
	c.putI16(int16(len(n.entries)))
	for _, e := range n.entries {
		c.putI32(e.MBR.MinX)
		c.putI32(e.MBR.MinY)
		c.putI32(e.MBR.MaxX)
		c.putI32(e.MBR.MaxY)
		c.putI32(e.Child)
	}
	if c.err != nil {
		return c.err
	}
	if err := s.Commit(p); err != nil {
		return err
	}
	n.dirty = false
	return nil
}

// SpatialIndex is the tree of index pages over the object pages of a file.
//
// The root is 0 for an empty file, an object page while depth is 0, and an
// index node otherwise. Writes go through a path of loaded nodes from the
// root down to the parent of one object page; it is the only set of dirty
// index pages and is committed whenever the path moves elsewhere.
type SpatialIndex struct {
	store *PageStore
	alloc *PageAllocator
	log   log.FieldLogger

	root  int32
	depth int
	// rootMBR is the MBR of the root object page while depth is 0.
	rootMBR Rect

	path []*indexNode
}

func newSpatialIndex(s *PageStore, a *PageAllocator, logger log.FieldLogger) *SpatialIndex {
	return &SpatialIndex{store: s, alloc: a, log: logger, rootMBR: EmptyRect()}
}

// open measures the depth of an existing tree by descending its first
// entries down to an object page.
func (x *SpatialIndex) open(root int32, mbr Rect) error {
	x.root, x.depth, x.rootMBR = root, 0, mbr
	off := root
	for off != 0 {
		p, err := x.store.Load(off, PageIndex, PageObject)
		if err != nil {
			return err
		}
		if p.Type == PageObject {
			return nil
		}
		n, err := loadIndexNode(x.store, off)
		if err != nil {
			return err
		}
		if len(n.entries) == 0 {
			return errors.Wrapf(ErrCorrupt, "empty index page %d", off)
		}
		x.depth++
		off = n.entries[0].Child
	}
	return nil
}

func (x *SpatialIndex) Root() int32 { return x.root }

// Depth is the number of index levels above the object pages.
func (x *SpatialIndex) Depth() int { return x.depth }

// setRoot makes the object page off the whole tree.
func (x *SpatialIndex) setRoot(off int32, mbr Rect) {
	x.root, x.depth, x.rootMBR = off, 0, mbr
}

// nodeAt returns the node at level of the write path, loading off when the
// path goes elsewhere. Nodes dropped from the path are committed.
func (x *SpatialIndex) nodeAt(level int, off int32) (*indexNode, error) {
	if level < len(x.path) && x.path[level].off == off {
		return x.path[level], nil
	}
	if err := x.truncatePath(level); err != nil {
		return nil, err
	}
	n, err := loadIndexNode(x.store, off)
	if err != nil {
		return nil, err
	}
	x.path = append(x.path, n)
	return n, nil
}

func (x *SpatialIndex) truncatePath(level int) error {
	if level >= len(x.path) {
		return nil
	}
	for _, n := range x.path[level:] {
		if err := n.commit(x.store); err != nil {
			return err
		}
	}
	x.path = x.path[:level]
	return nil
}

// commit flushes the write path.
func (x *SpatialIndex) commit() error { return x.truncatePath(0) }

// objectCounter returns the number of live records of an object page.
type objectCounter func(off int32) (int, error)

// childCount returns how many members the child at level holds; it breaks
// ties between equally good entries.
func (x *SpatialIndex) childCount(level int, child int32, objects objectCounter) (int, error) {
	if level == x.depth-1 {
		if objects == nil {
			return 0, nil
		}
		return objects(child)
	}
	if l := level + 1; l < len(x.path) && x.path[l].off == child {
		return len(x.path[l].entries), nil
	}
	n, err := loadIndexNode(x.store, child)
	if err != nil {
		return 0, err
	}
	return len(n.entries), nil
}

// chooseEntry picks the entry of n needing least enlargement to cover r.
// Member counts are only looked up when area alone leaves a tie.
func (x *SpatialIndex) chooseEntry(level int, n *indexNode, r Rect, objects objectCounter) (int, error) {
	if len(n.entries) == 0 {
		return 0, errors.Wrapf(ErrCorrupt, "empty index page %d", n.off)
	}
	best := 0
	bestP := placement{
		enlargement: n.entries[0].MBR.Enlargement(r),
		area:        n.entries[0].MBR.Area(),
		count:       -1,
	}
	for i := 1; i < len(n.entries); i++ {
		e := n.entries[i]
		p := placement{enlargement: e.MBR.Enlargement(r), area: e.MBR.Area(), count: -1}
		if tiedOnArea(p, bestP) {
			var err error
			if bestP.count < 0 {
				if bestP.count, err = x.childCount(level, n.entries[best].Child, objects); err != nil {
					return 0, err
				}
			}
			if p.count, err = x.childCount(level, e.Child, objects); err != nil {
				return 0, err
			}
		}
		if comparePlacements(p, bestP) < 0 {
			best, bestP = i, p
		}
	}
	return best, nil
}

// descend walks levels nodes down from the root choosing entries for r and
// returns the child reached.
func (x *SpatialIndex) descend(r Rect, levels int, objects objectCounter) (int32, error) {
	off := x.root
	for level := 0; level < levels; level++ {
		n, err := x.nodeAt(level, off)
		if err != nil {
			return 0, err
		}
		i, err := x.chooseEntry(level, n, r, objects)
		if err != nil {
			return 0, err
		}
		n.cur = i
		off = n.entries[i].Child
	}
	return off, nil
}

// chooseObjectPage returns the object page an insert of r should target and
// leaves the write path pointing at it. It returns 0 for an empty tree.
func (x *SpatialIndex) chooseObjectPage(r Rect, objects objectCounter) (int32, error) {
	if x.root == 0 || x.depth == 0 {
		return x.root, nil
	}
	return x.descend(r, x.depth, objects)
}

// locate rebuilds the write path down to the object page target, searching
// only entries whose MBR covers hint.
func (x *SpatialIndex) locate(target int32, hint Rect) error {
	if x.depth == 0 {
		if x.root != target {
			return errors.Wrapf(ErrCorrupt, "object page %d is not the index root", target)
		}
		return nil
	}
	if len(x.path) == x.depth {
		leaf := x.path[x.depth-1]
		if leaf.cur < len(leaf.entries) && leaf.entries[leaf.cur].Child == target {
			return nil
		}
	}
	ok, err := x.locateFrom(0, x.root, target, hint)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrCorrupt, "object page %d is not reachable from the index", target)
	}
	return nil
}

func (x *SpatialIndex) locateFrom(level int, off, target int32, hint Rect) (bool, error) {
	n, err := x.nodeAt(level, off)
	if err != nil {
		return false, err
	}
	if level == x.depth-1 {
		if i := n.find(target); i >= 0 {
			n.cur = i
			return true, nil
		}
		return false, nil
	}
	for i := 0; i < len(n.entries); i++ {
		if !n.entries[i].MBR.Contains(hint) {
			continue
		}
		n.cur = i
		ok, err := x.locateFrom(level+1, n.entries[i].Child, target, hint)
		if err != nil || ok {
			return ok, err
		}
		// the deeper levels were replaced by the search
		if n, err = x.nodeAt(level, off); err != nil {
			return false, err
		}
	}
	return false, nil
}

// propagate recomputes the path entries above level from the nodes below.
func (x *SpatialIndex) propagate(level int) {
	for l := level - 1; l >= 0; l-- {
		parent, child := x.path[l], x.path[l+1]
		mbr := child.mbr()
		if parent.entries[parent.cur].MBR != mbr {
			parent.entries[parent.cur].MBR = mbr
			parent.dirty = true
		}
	}
}

// updateLeafEntry sets the MBR of the object page the path points at and
// carries the change up to the root.
func (x *SpatialIndex) updateLeafEntry(mbr Rect) {
	if x.depth == 0 {
		x.rootMBR = mbr
		return
	}
	leaf := x.path[x.depth-1]
	if leaf.entries[leaf.cur].MBR != mbr {
		leaf.entries[leaf.cur].MBR = mbr
		leaf.dirty = true
	}
	x.propagate(x.depth - 1)
}

// newRoot puts a fresh index node holding entries on top of the tree.
func (x *SpatialIndex) newRoot(entries ...IndexEntry) error {
	if err := x.commit(); err != nil {
		return err
	}
	n := &indexNode{off: x.alloc.Allocate(), entries: entries, dirty: true}
	if err := n.commit(x.store); err != nil {
		return err
	}
	x.root = n.off
	x.depth++
	x.log.WithFields(log.Fields{"root": n.off, "depth": x.depth}).Debug("index root grown")
	return nil
}

// linkPage links a sealed object page under an index node. Unlike addEntry
// an empty tree gets a root node instead of taking the page as its root.
func (x *SpatialIndex) linkPage(e IndexEntry) error {
	if x.root == 0 {
		return x.newRoot(e)
	}
	return x.addEntry(e)
}

// addEntry links a new object page into the tree.
func (x *SpatialIndex) addEntry(e IndexEntry) error {
	switch {
	case x.root == 0:
		x.setRoot(e.Child, e.MBR)
		return nil
	case x.depth == 0:
		return x.newRoot(IndexEntry{MBR: x.rootMBR, Child: x.root}, e)
	}
	off, err := x.descend(e.MBR, x.depth-1, nil)
	if err != nil {
		return err
	}
	if _, err := x.nodeAt(x.depth-1, off); err != nil {
		return err
	}
	return x.insert(x.depth-1, e)
}

// insert adds e to the path node at level, splitting full nodes up to the
// root. The write path is reset after a split.
func (x *SpatialIndex) insert(level int, e IndexEntry) error {
	split, err := x.insertAt(level, e)
	if err != nil || !split {
		return err
	}
	return x.commit()
}

func (x *SpatialIndex) insertAt(level int, e IndexEntry) (bool, error) {
	n := x.path[level]
	if len(n.entries) < maxIndexEntries {
		n.entries = append(n.entries, e)
		n.cur = len(n.entries) - 1
		n.dirty = true
		x.propagate(level)
		return false, nil
	}

	all := append(append([]IndexEntry(nil), n.entries...), e)
	items := make([]splitItem, len(all))
	for i, it := range all {
		items[i] = splitItem{mbr: it.MBR, size: indexEntrySize}
	}
	ga, gb, err := quadraticSplit(items, maxIndexEntries*indexEntrySize)
	if err != nil {
		return false, err
	}
	pick := func(g []int) []IndexEntry {
		out := make([]IndexEntry, len(g))
		for i, k := range g {
			out[i] = all[k]
		}
		return out
	}
	n.entries = pick(ga)
	n.cur = 0
	n.dirty = true
	nb := &indexNode{off: x.alloc.Allocate(), entries: pick(gb), dirty: true}
	if err := nb.commit(x.store); err != nil {
		return false, err
	}
	x.log.WithFields(log.Fields{"page": n.off, "new": nb.off, "level": level}).Debug("index page split")

	if level == 0 {
		return true, x.newRoot(IndexEntry{MBR: n.mbr(), Child: n.off}, IndexEntry{MBR: nb.mbr(), Child: nb.off})
	}
	parent := x.path[level-1]
	parent.entries[parent.cur].MBR = n.mbr()
	parent.dirty = true
	if _, err := x.insertAt(level-1, IndexEntry{MBR: nb.mbr(), Child: nb.off}); err != nil {
		return false, err
	}
	return true, nil
}

// RootMBR is the MBR of everything the tree covers.
func (x *SpatialIndex) RootMBR() (Rect, error) {
	switch {
	case x.root == 0:
		return EmptyRect(), nil
	case x.depth == 0:
		return x.rootMBR, nil
	}
	n, err := x.nodeAt(0, x.root)
	if err != nil {
		return EmptyRect(), err
	}
	return n.mbr(), nil
}
