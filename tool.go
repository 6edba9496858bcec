package tabmap

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
	"github.com/spaolacci/murmur3"
)

// ToolKind selects one of the four drawing attribute pools.
type ToolKind uint8

const (
	ToolPen ToolKind = iota + 1
	ToolBrush
	ToolFont
	ToolSymbol
)

func (k ToolKind) String() string {
	switch k {
	case ToolPen:
		return "pen"
	case ToolBrush:
		return "brush"
	case ToolFont:
		return "font"
	case ToolSymbol:
		return "symbol"
	}
	return "unknown"
}

// Record sizes including the kind byte and the reference count.
const (
	toolPageHeaderSize = 8
	toolRecordPrefix   = 1 + 4
	penRecordSize      = toolRecordPrefix + 6
	brushRecordSize    = toolRecordPrefix + 8
	fontRecordSize     = toolRecordPrefix + fontNameSize
	symbolRecordSize   = toolRecordPrefix + 8
	maxToolRecordSize  = fontRecordSize

	fontNameSize = 32
)

// Color is a 24 bit 0xRRGGBB value.
type Color uint32

func putColor(c *pageIO, v Color) {
	c.putU8(byte(v >> 16))
	c.putU8(byte(v >> 8))
	c.putU8(byte(v))
}

func readColor(c *pageIO) Color {
	r, g, b := c.u8(), c.u8(), c.u8()
	return Color(r)<<16 | Color(g)<<8 | Color(b)
}

// ToolDef is a drawing attribute definition of one of the four kinds.
type ToolDef interface {
	Kind() ToolKind
	encode(c *pageIO)
}

type Pen struct {
	Width      uint8
	Pattern    uint8
	PointWidth uint8
	Color      Color
}

type Brush struct {
	Pattern     uint8
	Transparent bool
	Fore        Color
	Back        Color
}

type Font struct {
	Name string
}

type Symbol struct {
	Number uint16
	Size   uint16
	Style  uint8
	Color  Color
}

func (Pen) Kind() ToolKind    { return ToolPen }
func (Brush) Kind() ToolKind  { return ToolBrush }
func (Font) Kind() ToolKind   { return ToolFont }
func (Symbol) Kind() ToolKind { return ToolSymbol }

func (p Pen) encode(c *pageIO) {
	c.putU8(p.Width)
	c.putU8(p.Pattern)
	c.putU8(p.PointWidth)
	putColor(c, p.Color)
}

func (b Brush) encode(c *pageIO) {
	c.putU8(b.Pattern)
	var t uint8
	if b.Transparent {
		t = 1
	}
	c.putU8(t)
	putColor(c, b.Fore)
	putColor(c, b.Back)
}

func (f Font) encode(c *pageIO) {
	var name [fontNameSize]byte
	// keep one byte for the terminating zero
	copy(name[:fontNameSize-1], f.Name)
	c.putBytes(name[:])
}

func (s Symbol) encode(c *pageIO) {
	c.putI16(int16(s.Number))
	c.putI16(int16(s.Size))
	c.putU8(s.Style)
	putColor(c, s.Color)
}

// Defaults returned for index 0 and for unresolved indexes.
var (
	DefaultPen    = Pen{Width: 1, Pattern: 2}
	DefaultBrush  = Brush{Pattern: 2, Fore: 0xffffff}
	DefaultFont   = Font{Name: "Arial"}
	DefaultSymbol = Symbol{Number: 35, Size: 12}
)

func defaultTool(k ToolKind) ToolDef {
	switch k {
	case ToolPen:
		return DefaultPen
	case ToolBrush:
		return DefaultBrush
	case ToolFont:
		return DefaultFont
	case ToolSymbol:
		return DefaultSymbol
	}
	return nil
}

func decodeTool(c *pageIO, k ToolKind) ToolDef {
	switch k {
	case ToolPen:
		return Pen{Width: c.u8(), Pattern: c.u8(), PointWidth: c.u8(), Color: readColor(c)}
	case ToolBrush:
		b := Brush{Pattern: c.u8(), Transparent: c.u8() != 0}
		b.Fore = readColor(c)
		b.Back = readColor(c)
		return b
	case ToolFont:
		name := c.bytes(fontNameSize)
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		return Font{Name: strings.TrimSpace(string(name))}
	case ToolSymbol:
		return Symbol{Number: uint16(c.i16()), Size: uint16(c.i16()), Style: c.u8(), Color: readColor(c)}
	}
	return nil
}

// toolFields returns the encoded fields of def without kind and reference
// count; it is the dedup key.
func toolFields(def ToolDef) []byte {
	p := newPage(PageTool, 0, maxToolRecordSize, false)
	c := &pageIO{p: p}
	def.encode(c)
	return p.buf[:p.used]
}

type toolEntry struct {
	def    ToolDef
	refs   int32
	fields []byte
}

// ToolCatalog keeps the four tool pools of a file. It is loaded whole on
// open and rewritten whole on close when it changed.
type ToolCatalog struct {
	pools [ToolSymbol + 1][]toolEntry
	dedup bool
	// hashes maps murmur3 of kind and fields to 0-based pool positions.
	hashes map[uint64][]int
	dirty  bool
	pages  []int32
}

func newToolCatalog(dedup bool) *ToolCatalog {
	return &ToolCatalog{dedup: dedup, hashes: make(map[uint64][]int)}
}

func toolHash(k ToolKind, fields []byte) uint64 {
	h := murmur3.New64()
	_, _ = h.Write([]byte{byte(k)})
	_, _ = h.Write(fields)
	return h.Sum64()
}

// Len is the number of records in the pool of kind k.
func (t *ToolCatalog) Len(k ToolKind) int {
	if k < ToolPen || k > ToolSymbol {
		return 0
	}
	return len(t.pools[k])
}

// Read returns the definition at the 1-based index idx. Index 0 and
// unresolved indexes yield the kind's default and false.
func (t *ToolCatalog) Read(k ToolKind, idx int) (ToolDef, bool) {
	if k < ToolPen || k > ToolSymbol {
		return nil, false
	}
	if idx <= 0 || idx > len(t.pools[k]) {
		return defaultTool(k), false
	}
	return t.pools[k][idx-1].def, true
}

// RefCount returns how many writes resolved to the record at idx.
func (t *ToolCatalog) RefCount(k ToolKind, idx int) int32 {
	if k < ToolPen || k > ToolSymbol || idx <= 0 || idx > len(t.pools[k]) {
		return 0
	}
	return t.pools[k][idx-1].refs
}

// Write stores def and returns its 1-based index. With dedup on an equal
// definition already in the pool is reused and its reference count bumped.
func (t *ToolCatalog) Write(def ToolDef) (int, error) {
	if def == nil {
		return 0, errors.Wrap(ErrToolIndex, "nil tool definition")
	}
	k := def.Kind()
	if k < ToolPen || k > ToolSymbol {
		return 0, errors.Wrapf(ErrToolIndex, "tool kind %d", k)
	}
	fields := toolFields(def)
	sum := toolHash(k, fields)
	if t.dedup {
		for _, i := range t.hashes[sum] {
			if i >= len(t.pools[k]) {
				continue
			}
			e := &t.pools[k][i]
			if bytes.Equal(e.fields, fields) {
				e.refs++
				t.dirty = true
				return i + 1, nil
			}
		}
	}
	t.pools[k] = append(t.pools[k], toolEntry{def: def, refs: 1, fields: fields})
	i := len(t.pools[k]) - 1
	t.hashes[sum] = append(t.hashes[sum], i)
	t.dirty = true
	return i + 1, nil
}

func (t *ToolCatalog) add(def ToolDef, refs int32) {
	k := def.Kind()
	fields := toolFields(def)
	t.pools[k] = append(t.pools[k], toolEntry{def: def, refs: refs, fields: fields})
	sum := toolHash(k, fields)
	t.hashes[sum] = append(t.hashes[sum], len(t.pools[k])-1)
}

// load reads the tool page chain starting at head.
func (t *ToolCatalog) load(s *PageStore, head int32) error {
	seen := make(map[int32]bool)
	for off := head; off != 0; {
		if seen[off] {
			return errors.Wrapf(ErrCorrupt, "tool chain loops at page %d", off)
		}
		seen[off] = true
		p, err := s.Load(off, PageTool)
		if err != nil {
			return err
		}
		c := &pageIO{p: p}
		c.seek(2)
		used := int(c.i16())
		next := c.i32()
		if c.err != nil {
			return c.err
		}
		if err := p.setUsed(toolPageHeaderSize + used); err != nil {
			return errors.Wrapf(ErrCorrupt, "tool page %d: %v", off, err)
		}
		for p.cursor < p.used {
			k := ToolKind(c.u8())
			refs := c.i32()
			def := decodeTool(c, k)
			if c.err != nil {
				return errors.Wrapf(ErrCorrupt, "tool page %d: %v", off, c.err)
			}
			if def == nil {
				return errors.Wrapf(ErrCorrupt, "tool kind %d in page %d", k, off)
			}
			t.add(def, refs)
		}
		t.pages = append(t.pages, off)
		off = next
	}
	return nil
}

// flush rewrites the catalog into a fresh page chain when it changed. The old
// chain goes back to the allocator first, so its pages are reused.
func (t *ToolCatalog) flush(s *PageStore, a *PageAllocator, h *Header) error {
	t.count(h)
	if !t.dirty {
		return nil
	}
	for i := len(t.pages) - 1; i >= 0; i-- {
		a.PushFree(t.pages[i])
	}
	t.pages = t.pages[:0]
	h.ToolHead = 0

	var cur *Page
	finish := func(next int32) error {
		c := &pageIO{p: cur}
		end := cur.used
		c.seek(0)
		c.putI16(int16(PageTool))
		c.putI16(int16(end - toolPageHeaderSize))
		c.putI32(next)
		if c.err != nil {
			return c.err
		}
		return s.Commit(cur)
	}
	for k := ToolPen; k <= ToolSymbol; k++ {
		for _, e := range t.pools[k] {
			if cur == nil || cur.Free() < maxToolRecordSize {
				off := a.Allocate()
				if cur == nil {
					h.ToolHead = off
				} else if err := finish(off); err != nil {
					return err
				}
				cur = newPage(PageTool, off, s.PageSize(), true)
				cur.truncate(toolPageHeaderSize)
				t.pages = append(t.pages, off)
			}
			c := &pageIO{p: cur}
			c.seek(cur.used)
			c.putU8(byte(k))
			c.putI32(e.refs)
			e.def.encode(c)
			if c.err != nil {
				return c.err
			}
		}
	}
	if cur != nil {
		if err := finish(0); err != nil {
			return err
		}
	}
	h.NumToolPages = int16(len(t.pages))
	t.dirty = false
	return nil
}

// count stores the pool sizes in the header, capped to what it can hold.
func (t *ToolCatalog) count(h *Header) {
	capped := func(n int) uint8 {
		if n > 255 {
			return 255
		}
		return uint8(n)
	}
	h.NumPens = capped(len(t.pools[ToolPen]))
	h.NumBrushes = capped(len(t.pools[ToolBrush]))
	h.NumFonts = capped(len(t.pools[ToolFont]))
	h.NumSymbols = capped(len(t.pools[ToolSymbol]))
}
