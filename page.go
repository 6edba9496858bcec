package tabmap

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// DefaultPageSize is the size of every page but the header page.
const DefaultPageSize = 512

// PageType is the tag stored in the first byte of every page except the
// header page, which is always first in the file.
type PageType uint8

const (
	PageHeader PageType = iota
	PageIndex
	PageObject
	PageCoord
	PageGarbage
	PageTool
)

func (t PageType) String() string {
	switch t {
	case PageHeader:
		return "header"
	case PageIndex:
		return "index"
	case PageObject:
		return "object"
	case PageCoord:
		return "coord"
	case PageGarbage:
		return "garbage"
	case PageTool:
		return "tool"
	}
	return "unknown"
}

// Page is a fixed size byte buffer mapped to a file offset.
//
// A page keeps a cursor for sequential typed access. Reads may not go past
// the used length and writes may not go past the capacity; both fail with
// ErrPageBounds. A page is clean until a write makes it dirty, and only
// PageStore.Commit makes it clean again.
type Page struct {
	Type   PageType
	Offset int32

	buf    []byte
	used   int
	cursor int
	dirty  bool
	// hard pages are always written at full size, soft pages only up to used.
	hard bool
}

func newPage(typ PageType, offset int32, size int, hard bool) *Page {
	return &Page{
		Type:   typ,
		Offset: offset,
		buf:    make([]byte, size),
		hard:   hard,
	}
}

func (p *Page) Size() int   { return len(p.buf) }
func (p *Page) Used() int   { return p.used }
func (p *Page) Cursor() int { return p.cursor }
func (p *Page) Dirty() bool { return p.dirty }

// Free returns the number of bytes between the used length and the capacity.
func (p *Page) Free() int { return len(p.buf) - p.used }

// Contains reports whether the absolute file offset falls inside the page.
func (p *Page) Contains(off int32) bool {
	return off >= p.Offset && int(off-p.Offset) < len(p.buf)
}

func (p *Page) setUsed(n int) error {
	if n < 0 || n > len(p.buf) {
		return errors.Wrapf(ErrPageBounds, "used length %d on %s page %d", n, p.Type, p.Offset)
	}
	p.used = n
	return nil
}

// Seek moves the cursor to an in-page position.
func (p *Page) Seek(pos int) error {
	if pos < 0 || pos > len(p.buf) {
		return errors.Wrapf(ErrPageBounds, "seek to %d on %s page %d", pos, p.Type, p.Offset)
	}
	p.cursor = pos
	return nil
}

// SeekAbs moves the cursor to an absolute file offset inside the page.
func (p *Page) SeekAbs(off int32) error {
	if !p.Contains(off) {
		return errors.Wrapf(ErrPageBounds, "offset %d not in %s page %d", off, p.Type, p.Offset)
	}
	p.cursor = int(off - p.Offset)
	return nil
}

func (p *Page) need(n int) error {
	if p.cursor+n > p.used {
		return errors.Wrapf(ErrPageBounds, "read %d bytes at %d past used length %d of %s page %d",
			n, p.cursor, p.used, p.Type, p.Offset)
	}
	return nil
}

func (p *Page) room(n int) error {
	if p.cursor+n > len(p.buf) {
		return errors.Wrapf(ErrPageBounds, "write %d bytes at %d past capacity %d of %s page %d",
			n, p.cursor, len(p.buf), p.Type, p.Offset)
	}
	return nil
}

func (p *Page) advance(n int) {
	p.cursor += n
	if p.cursor > p.used {
		p.used = p.cursor
	}
	p.dirty = true
}

func (p *Page) ReadByte() (byte, error) {
	if err := p.need(1); err != nil {
		return 0, err
	}
	b := p.buf[p.cursor]
	p.cursor++
	return b, nil
}

func (p *Page) ReadInt16() (int16, error) {
	if err := p.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.LittleEndian.Uint16(p.buf[p.cursor:]))
	p.cursor += 2
	return v, nil
}

func (p *Page) ReadInt32() (int32, error) {
	if err := p.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(p.buf[p.cursor:]))
	p.cursor += 4
	return v, nil
}

func (p *Page) ReadFloat64() (float64, error) {
	if err := p.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(p.buf[p.cursor:]))
	p.cursor += 8
	return v, nil
}

// ReadBytes returns a copy of the next n bytes.
func (p *Page) ReadBytes(n int) ([]byte, error) {
	if err := p.need(n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p.buf[p.cursor:])
	p.cursor += n
	return out, nil
}

func (p *Page) WriteByte(b byte) error {
	if err := p.room(1); err != nil {
		return err
	}
	p.buf[p.cursor] = b
	p.advance(1)
	return nil
}

func (p *Page) WriteInt16(v int16) error {
	if err := p.room(2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(p.buf[p.cursor:], uint16(v))
	p.advance(2)
	return nil
}

func (p *Page) WriteInt32(v int32) error {
	if err := p.room(4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(p.buf[p.cursor:], uint32(v))
	p.advance(4)
	return nil
}

func (p *Page) WriteFloat64(v float64) error {
	if err := p.room(8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(p.buf[p.cursor:], math.Float64bits(v))
	p.advance(8)
	return nil
}

func (p *Page) WriteBytes(b []byte) error {
	if err := p.room(len(b)); err != nil {
		return err
	}
	copy(p.buf[p.cursor:], b)
	p.advance(len(b))
	return nil
}

// WriteZeros writes n zero bytes.
func (p *Page) WriteZeros(n int) error {
	if err := p.room(n); err != nil {
		return err
	}
	for i := p.cursor; i < p.cursor+n; i++ {
		p.buf[i] = 0
	}
	p.advance(n)
	return nil
}

// truncate drops everything after pos and zeroes it.
func (p *Page) truncate(pos int) {
	for i := pos; i < len(p.buf); i++ {
		p.buf[i] = 0
	}
	p.used = pos
	p.cursor = pos
	p.dirty = true
}

// pageIO keeps the first error of a run of page accesses so fixed layouts
// can be read and written straight through and checked once.
type pageIO struct {
	p   *Page
	err error
}

func (c *pageIO) seek(pos int) {
	if c.err == nil {
		c.err = c.p.Seek(pos)
	}
}

func (c *pageIO) u8() byte {
	if c.err != nil {
		return 0
	}
	v, err := c.p.ReadByte()
	c.err = err
	return v
}

func (c *pageIO) i16() int16 {
	if c.err != nil {
		return 0
	}
	v, err := c.p.ReadInt16()
	c.err = err
	return v
}

func (c *pageIO) i32() int32 {
	if c.err != nil {
		return 0
	}
	v, err := c.p.ReadInt32()
	c.err = err
	return v
}

func (c *pageIO) f64() float64 {
	if c.err != nil {
		return 0
	}
	v, err := c.p.ReadFloat64()
	c.err = err
	return v
}

func (c *pageIO) bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	v, err := c.p.ReadBytes(n)
	c.err = err
	return v
}

func (c *pageIO) putU8(v byte) {
	if c.err == nil {
		c.err = c.p.WriteByte(v)
	}
}

func (c *pageIO) putI16(v int16) {
	if c.err == nil {
		c.err = c.p.WriteInt16(v)
	}
}

func (c *pageIO) putI32(v int32) {
	if c.err == nil {
		c.err = c.p.WriteInt32(v)
	}
}

func (c *pageIO) putF64(v float64) {
	if c.err == nil {
		c.err = c.p.WriteFloat64(v)
	}
}

func (c *pageIO) putBytes(b []byte) {
	if c.err == nil {
		c.err = c.p.WriteBytes(b)
	}
}

func (c *pageIO) zeros(n int) {
	if c.err == nil {
		c.err = c.p.WriteZeros(n)
	}
}
