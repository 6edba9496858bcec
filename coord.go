package tabmap

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Coordinate page layout: type (int16), data bytes used (int16), next page
// (int32), then raw payload bytes.
const (
	coordPageHeaderSize = 8
	// coordMinRoom is the least free space a page needs to take more data;
	// below it the stream chains a new page first.
	coordMinRoom = 4
)

// CoordStream reads or appends coordinate payloads over a chain of
// coordinate pages. The chain is a logical byte stream: page headers are
// skipped and values may continue on the next page.
type CoordStream struct {
	store *PageStore
	alloc *PageAllocator

	page  *Page
	next  int32
	first int32
	// written counts bytes appended since the last mark.
	written int32
}

func newCoordPage(off int32, size int) *Page {
	p := newPage(PageCoord, off, size, true)
	p.truncate(coordPageHeaderSize)
	return p
}

func loadCoordPage(s *PageStore, off int32) (*Page, int32, error) {
	p, err := s.Load(off, PageCoord)
	if err != nil {
		return nil, 0, err
	}
	c := &pageIO{p: p}
	c.seek(2)
	used := int(c.i16())
	next := c.i32()
	if c.err != nil {
		return nil, 0, c.err
	}
	if err := p.setUsed(coordPageHeaderSize + used); err != nil {
		return nil, 0, errors.Wrapf(ErrCorrupt, "coordinate page %d: %v", off, err)
	}
	return p, next, nil
}

// appendCoords opens a stream that appends after the last page of a chain.
// A zero last starts a new chain on the first write.
func appendCoords(s *PageStore, a *PageAllocator, last int32) (*CoordStream, error) {
	cs := &CoordStream{store: s, alloc: a}
	if last == 0 {
		return cs, nil
	}
	p, next, err := loadCoordPage(s, last)
	if err != nil {
		return nil, err
	}
	if next != 0 {
		return nil, errors.Wrapf(ErrCorrupt, "coordinate page %d is not the end of its chain", last)
	}
	p.cursor = p.used
	cs.page, cs.next = p, next
	return cs, nil
}

// seekCoords opens a stream reading from the absolute offset off.
func seekCoords(s *PageStore, off int32) (*CoordStream, error) {
	p, next, err := loadCoordPage(s, off)
	if err != nil {
		return nil, err
	}
	pos := int(off - p.Offset)
	if pos < coordPageHeaderSize || pos > p.used {
		return nil, errors.Wrapf(ErrCorrupt, "coordinate offset %d outside data of page %d", off, p.Offset)
	}
	p.cursor = pos
	return &CoordStream{store: s, page: p, next: next}, nil
}

// First is the first page the stream allocated, or 0.
func (cs *CoordStream) First() int32 { return cs.first }

// Last is the page the stream currently works on, or 0.
func (cs *CoordStream) Last() int32 {
	if cs.page == nil {
		return 0
	}
	return cs.page.Offset
}

// Mark resets the written byte counter.
func (cs *CoordStream) Mark() { cs.written = 0 }

// Written is the number of bytes appended since the last Mark.
func (cs *CoordStream) Written() int32 { return cs.written }

// ensureRoom chains a new page when fewer than coordMinRoom bytes remain.
func (cs *CoordStream) ensureRoom() error {
	if cs.page != nil && cs.page.Size()-cs.page.cursor >= coordMinRoom {
		return nil
	}
	if cs.alloc == nil {
		return errors.Wrap(ErrReadOnly, "append to a coordinate reader")
	}
	off := cs.alloc.Allocate()
	p := newCoordPage(off, cs.store.PageSize())
	if cs.page == nil {
		cs.first = off
	} else {
		cs.next = off
		if err := cs.commit(); err != nil {
			return err
		}
	}
	cs.page, cs.next = p, 0
	return nil
}

// Tell returns the absolute offset the next appended byte will land at.
func (cs *CoordStream) Tell() (int32, error) {
	if err := cs.ensureRoom(); err != nil {
		return 0, err
	}
	return cs.page.Offset + int32(cs.page.cursor), nil
}

// WriteBytes appends b, continuing on new pages as needed.
func (cs *CoordStream) WriteBytes(b []byte) error {
	for len(b) > 0 {
		if err := cs.ensureRoom(); err != nil {
			return err
		}
		n := cs.page.Size() - cs.page.cursor
		if n > len(b) {
			n = len(b)
		}
		if err := cs.page.WriteBytes(b[:n]); err != nil {
			return err
		}
		cs.written += int32(n)
		b = b[n:]
	}
	return nil
}

func (cs *CoordStream) WriteInt16(v int16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	return cs.WriteBytes(b[:])
}

func (cs *CoordStream) WriteInt32(v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return cs.WriteBytes(b[:])
}

// WriteIntCoord appends one vertex, as int16 deltas from the center when
// compressed.
func (cs *CoordStream) WriteIntCoord(x, y int32, compressed bool, cx, cy int32) error {
	if !compressed {
		if err := cs.WriteInt32(x); err != nil {
			return err
		}
		return cs.WriteInt32(y)
	}
	if !fitsInt16(int64(x)-int64(cx)) || !fitsInt16(int64(y)-int64(cy)) {
		return errors.Wrapf(ErrCompressedRange, "vertex (%d,%d) around center (%d,%d)", x, y, cx, cy)
	}
	if err := cs.WriteInt16(int16(x - cx)); err != nil {
		return err
	}
	return cs.WriteInt16(int16(y - cy))
}

// ReadBytes reads n bytes, following the chain across pages.
func (cs *CoordStream) ReadBytes(n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		avail := cs.page.used - cs.page.cursor
		if avail == 0 {
			if cs.next == 0 {
				return nil, errors.Wrapf(ErrCorrupt, "coordinate chain ends at page %d", cs.page.Offset)
			}
			p, next, err := loadCoordPage(cs.store, cs.next)
			if err != nil {
				return nil, err
			}
			p.cursor = coordPageHeaderSize
			cs.page, cs.next = p, next
			continue
		}
		if avail > n-len(out) {
			avail = n - len(out)
		}
		b, err := cs.page.ReadBytes(avail)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func (cs *CoordStream) ReadInt16() (int16, error) {
	b, err := cs.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func (cs *CoordStream) ReadInt32() (int32, error) {
	b, err := cs.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// ReadIntCoord reads one vertex written by WriteIntCoord.
func (cs *CoordStream) ReadIntCoord(compressed bool, cx, cy int32) (int32, int32, error) {
	if compressed {
		x, err := cs.ReadInt16()
		if err != nil {
			return 0, 0, err
		}
		y, err := cs.ReadInt16()
		if err != nil {
			return 0, 0, err
		}
		return cx + int32(x), cy + int32(y), nil
	}
	x, err := cs.ReadInt32()
	if err != nil {
		return 0, 0, err
	}
	y, err := cs.ReadInt32()
	return x, y, err
}

func (cs *CoordStream) commit() error {
	if cs.page == nil || !cs.page.dirty {
		return nil
	}
	c := &pageIO{p: cs.page}
	end := cs.page.cursor
	used := cs.page.used
	c.seek(0)
	c.putI16(int16(PageCoord))
	c.putI16(int16(used - coordPageHeaderSize))
	c.putI32(cs.next)
	c.seek(end)
	if c.err != nil {
		return c.err
	}
	return cs.store.Commit(cs.page)
}

// Commit flushes the current page of an appending stream.
func (cs *CoordStream) Commit() error { return cs.commit() }

// readPayload returns size bytes of payload starting at off.
func readPayload(s *PageStore, off, size int32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	cs, err := seekCoords(s, off)
	if err != nil {
		return nil, err
	}
	return cs.ReadBytes(int(size))
}

// coordChain lists the pages of the chain starting at first.
func coordChain(s *PageStore, first int32) ([]int32, error) {
	var out []int32
	seen := make(map[int32]bool)
	for off := first; off != 0; {
		if seen[off] {
			return nil, errors.Wrapf(ErrCorrupt, "coordinate chain loops at page %d", off)
		}
		seen[off] = true
		_, next, err := loadCoordPage(s, off)
		if err != nil {
			return nil, err
		}
		out = append(out, off)
		off = next
	}
	return out, nil
}
