package tabmap

import (
	"io"

	"github.com/pkg/errors"
)

// Stats summarizes the structure of a map file.
type Stats struct {
	FileSize    int64
	Depth       int
	IndexPages  int
	ObjectPages int
	CoordPages  int
	ToolPages   int
	FreePages   int

	Objects int
	Deleted int

	Points, Lines, Regions, Texts int32
	Pens, Brushes, Fonts, Symbols int

	Overflow bool
}

// visitObjectPages calls fn for every object page reachable from the index
// plus the open direct mode page.
func (m *MapFile) visitObjectPages(fn func(o *ObjectPage) error) error {
	if err := m.eachPage(newPageCursor(m.index, EmptyRect(), false), fn); err != nil {
		return err
	}
	if m.unsealed == 0 {
		return nil
	}
	o, err := loadObjectPage(m.store, m.unsealed, m.header)
	if err != nil {
		return err
	}
	return fn(o)
}

// Stats walks the whole file and counts its pages and objects.
func (m *MapFile) Stats() (*Stats, error) {
	if m.closed {
		return nil, ErrClosed
	}
	h := m.header
	st := &Stats{
		Points: h.NumPoints, Lines: h.NumLines, Regions: h.NumRegions, Texts: h.NumTexts,
		Pens:     m.tools.Len(ToolPen),
		Brushes:  m.tools.Len(ToolBrush),
		Fonts:    m.tools.Len(ToolFont),
		Symbols:  m.tools.Len(ToolSymbol),
		Overflow: h.Overflow,
	}
	if m.noGeometry {
		return st, nil
	}
	if err := m.commitAll(); err != nil {
		return nil, err
	}
	st.FileSize = m.store.FileSize()
	st.Depth = m.index.Depth()
	st.ToolPages = len(m.tools.pages)
	if m.mode == ModeRead {
		// the free list is only loaded for writing
		free := newPageAllocator(DefaultPageSize, m.alloc.Next())
		if err := free.loadFreeList(m.store, h.GarbageHead); err != nil {
			return nil, err
		}
		st.FreePages = len(free.free)
	} else {
		st.FreePages = len(m.alloc.free)
	}
	err := m.index.walkIndex(func(int, int32, []IndexEntry) error {
		st.IndexPages++
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = m.visitObjectPages(func(o *ObjectPage) error {
		st.ObjectPages++
		st.Objects += o.Live()
		st.Deleted += o.Dead()
		first, _ := o.CoordChain()
		chain, err := coordChain(m.store, first)
		st.CoordPages += len(chain)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Check verifies the structure of the file: every internal index entry
// equals the union of its child, every leaf entry covers its object page and
// every live object is reachable through the id index.
func (m *MapFile) Check() error {
	if m.closed {
		return ErrClosed
	}
	if m.noGeometry {
		return nil
	}
	if err := m.commitAll(); err != nil {
		return err
	}
	x := m.index
	if x.Root() == 0 {
		return nil
	}
	err := x.walkIndex(func(level int, off int32, entries []IndexEntry) error {
		if len(entries) == 0 {
			return errors.Wrapf(ErrCorrupt, "index page %d is empty", off)
		}
		for _, e := range entries {
			if level < x.Depth()-1 {
				child, err := loadIndexNode(m.store, e.Child)
				if err != nil {
					return err
				}
				if got := child.mbr(); got != e.MBR {
					return errors.Wrapf(ErrCorrupt, "index page %d entry %+v, child %d covers %+v", off, e.MBR, e.Child, got)
				}
				continue
			}
			o, err := loadObjectPage(m.store, e.Child, m.header)
			if err != nil {
				return err
			}
			if !e.MBR.Contains(o.MBR()) {
				return errors.Wrapf(ErrCorrupt, "index page %d entry %+v, object page %d covers %+v", off, e.MBR, e.Child, o.MBR())
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return m.visitObjectPages(func(o *ObjectPage) error {
		o.Rewind()
		for {
			rec, pos, err := o.Next(m.header)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if rec.Deleted() {
				continue
			}
			want := o.Offset() + int32(pos)
			got, err := m.ids.Get(rec.RowID())
			if err != nil {
				return err
			}
			if got != want {
				return errors.Wrapf(ErrIDMismatch, "object %d at %d, id index points at %d", rec.RowID(), want, got)
			}
			if m.header.UsesCoords(rec.Type) && rec.CoordSize > 0 {
				if _, err := readPayload(m.store, rec.CoordPtr, rec.CoordSize); err != nil {
					return errors.Wrapf(err, "coordinates of object %d", rec.RowID())
				}
			}
		}
	})
}
