package tabmap

import (
	"io"

	"github.com/pkg/errors"
)

// Object page layout: type (int16), data bytes used (int16), center x and y,
// first and last coordinate page, followed by packed object records.
const objPageHeaderSize = 20

// ObjectPage is a directory page of object records. It tracks the MBR of the
// records written to it and the coordinate pages their payloads live in.
type ObjectPage struct {
	page *Page

	mbr          Rect
	centerX      int32
	centerY      int32
	centerLocked bool
	firstCoord   int32
	lastCoord    int32
	live, dead   int
}

func newObjectPage(off int32, size int) *ObjectPage {
	o := &ObjectPage{page: newPage(PageObject, off, size, true), mbr: EmptyRect()}
	o.page.truncate(objPageHeaderSize)
	return o
}

// loadObjectPage reads an object page and scans its records to rebuild the
// in-memory MBR and counts.
func loadObjectPage(s *PageStore, off int32, h *Header) (*ObjectPage, error) {
	p, err := s.Load(off, PageObject)
	if err != nil {
		return nil, err
	}
	o := &ObjectPage{page: p, mbr: EmptyRect()}
	c := &pageIO{p: p}
	c.seek(2)
	used := int(c.i16())
	o.centerX = c.i32()
	o.centerY = c.i32()
	o.firstCoord = c.i32()
	o.lastCoord = c.i32()
	if c.err != nil {
		return nil, c.err
	}
	if err := p.setUsed(objPageHeaderSize + used); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "object page %d: %v", off, err)
	}
	o.Rewind()
	for {
		rec, _, err := o.Next(h)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if rec.Type.Compressed() {
			o.centerLocked = true
		}
		if rec.Deleted() {
			o.dead++
			continue
		}
		o.live++
		o.mbr = o.mbr.Union(rec.MBR)
	}
	return o, nil
}

func (o *ObjectPage) Offset() int32 { return o.page.Offset }

// MBR is the union of the live records written to the page.
func (o *ObjectPage) MBR() Rect { return o.mbr }

// Free is the number of bytes still available for records.
func (o *ObjectPage) Free() int { return o.page.Free() }

// Capacity is the record space of an empty page.
func (o *ObjectPage) Capacity() int { return o.page.Size() - objPageHeaderSize }

func (o *ObjectPage) Live() int { return o.live }
func (o *ObjectPage) Dead() int { return o.dead }

func (o *ObjectPage) Center() (int32, int32) { return o.centerX, o.centerY }

// CoordChain returns the first and last coordinate page of the page.
func (o *ObjectPage) CoordChain() (int32, int32) { return o.firstCoord, o.lastCoord }

// lockCenter freezes the origin of compressed deltas. Once locked the center
// no longer follows the MBR.
func (o *ObjectPage) lockCenter(x, y int32) {
	if o.centerLocked {
		return
	}
	o.centerX, o.centerY = x, y
	o.centerLocked = true
	o.page.dirty = true
}

// accepts reports whether a record with MBR r and type t can share the
// page's center.
func (o *ObjectPage) accepts(t ObjectType, r Rect) bool {
	if !t.Compressed() || !o.centerLocked {
		return true
	}
	return fitsCenter(r, o.centerX, o.centerY)
}

// Rewind positions the page before its first record.
func (o *ObjectPage) Rewind() {
	o.page.cursor = objPageHeaderSize
}

// Next returns the record at the cursor, tombstones included, and its in-page
// position. It returns io.EOF past the last record.
func (o *ObjectPage) Next(h *Header) (ObjectHeader, int, error) {
	pos := o.page.cursor
	if pos >= o.page.used {
		return ObjectHeader{}, pos, io.EOF
	}
	rec, err := decodeRecord(&pageIO{p: o.page}, h, o.centerX, o.centerY)
	return rec, pos, err
}

// ReadAt decodes the record at in-page position pos.
func (o *ObjectPage) ReadAt(h *Header, pos int) (ObjectHeader, error) {
	if pos < objPageHeaderSize || pos >= o.page.used {
		return ObjectHeader{}, errors.Wrapf(ErrCorrupt, "record position %d outside object page %d", pos, o.Offset())
	}
	o.page.cursor = pos
	return decodeRecord(&pageIO{p: o.page}, h, o.centerX, o.centerY)
}

// reserve claims n bytes at the end of the page and returns their position.
func (o *ObjectPage) reserve(n int) (int, error) {
	if o.page.Free() < n {
		return 0, errors.Wrapf(ErrCapacity, "%d bytes in object page %d with %d free", n, o.Offset(), o.page.Free())
	}
	pos := o.page.used
	o.page.cursor = pos
	if err := o.page.WriteZeros(n); err != nil {
		return 0, err
	}
	return pos, nil
}

// unreserve gives back a reservation that was never written.
func (o *ObjectPage) unreserve(pos int) {
	if pos >= objPageHeaderSize && pos <= o.page.used {
		o.page.truncate(pos)
	}
}

// dropObjectTail cuts the object page at off on disk back to pos bytes. The
// records are not decoded, so a slot that was reserved but never written can
// be removed.
func dropObjectTail(s *PageStore, off int32, pos int) error {
	p, err := s.Load(off, PageObject)
	if err != nil {
		return err
	}
	c := &pageIO{p: p}
	c.seek(2)
	used := objPageHeaderSize + int(c.i16())
	if c.err != nil {
		return c.err
	}
	if pos < objPageHeaderSize || pos > used {
		return errors.Wrapf(ErrCorrupt, "object page %d: tail at %d, used %d", off, pos, used)
	}
	p.truncate(pos)
	c.seek(2)
	c.putI16(int16(pos - objPageHeaderSize))
	if c.err != nil {
		return c.err
	}
	return s.Commit(p)
}

// writeAt stores a live record in a reserved slot.
func (o *ObjectPage) writeAt(h *Header, pos int, rec *ObjectHeader) error {
	if err := o.page.Seek(pos); err != nil {
		return err
	}
	if err := encodeRecord(&pageIO{p: o.page}, h, rec, o.centerX, o.centerY); err != nil {
		return err
	}
	o.mbr = o.mbr.Union(rec.MBR)
	o.live++
	return nil
}

// Append reserves room for rec and writes it.
func (o *ObjectPage) Append(h *Header, rec *ObjectHeader) (int, error) {
	n, _ := h.recordLen(rec.Type)
	pos, err := o.reserve(n)
	if err != nil {
		return 0, err
	}
	return pos, o.writeAt(h, pos, rec)
}

// markDeleted tombstones the record at pos in place.
func (o *ObjectPage) markDeleted(pos int, id int32) error {
	if err := o.page.Seek(pos + 1); err != nil {
		return err
	}
	if err := o.page.WriteInt32(tombstone(id)); err != nil {
		return err
	}
	o.live--
	o.dead++
	return nil
}

// liveRecords returns every live record with its position.
func (o *ObjectPage) liveRecords(h *Header) ([]ObjectHeader, error) {
	var out []ObjectHeader
	o.Rewind()
	for {
		rec, _, err := o.Next(h)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if !rec.Deleted() {
			out = append(out, rec)
		}
	}
}

// reset empties the page keeping its address and center.
func (o *ObjectPage) reset() {
	o.page.truncate(objPageHeaderSize)
	o.mbr = EmptyRect()
	o.live, o.dead = 0, 0
	o.firstCoord, o.lastCoord = 0, 0
}

func (o *ObjectPage) setCoordChain(first, last int32) {
	if o.firstCoord == 0 && first != 0 {
		o.firstCoord = first
		o.page.dirty = true
	}
	if last != 0 && last != o.lastCoord {
		o.lastCoord = last
		o.page.dirty = true
	}
}

func (o *ObjectPage) commit(s *PageStore) error {
	if !o.page.dirty {
		return nil
	}
	if !o.centerLocked && !o.mbr.IsEmpty() {
		o.centerX, o.centerY = o.mbr.Center()
	}
	c := &pageIO{p: o.page}
	end := o.page.used
	c.seek(0)
	c.putI16(int16(PageObject))
	c.putI16(int16(end - objPageHeaderSize))
	c.putI32(o.centerX)
	c.putI32(o.centerY)
	c.putI32(o.firstCoord)
	c.putI32(o.lastCoord)
	if c.err != nil {
		return c.err
	}
	return s.Commit(o.page)
}
