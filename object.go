package tabmap

import (
	"math"

	"github.com/pkg/errors"
)

// ObjectType is the geometry type code stored in the first byte of every
// object record. Each type has a compressed variant one code below it whose
// coordinates are int16 deltas from the owning page's center.
type ObjectType uint8

const (
	TypeNone            ObjectType = 0x00
	TypeSymbolC         ObjectType = 0x01
	TypeSymbol          ObjectType = 0x02
	TypeLineC           ObjectType = 0x04
	TypeLine            ObjectType = 0x05
	TypePLineC          ObjectType = 0x07
	TypePLine           ObjectType = 0x08
	TypeArcC            ObjectType = 0x0a
	TypeArc             ObjectType = 0x0b
	TypeRegionC         ObjectType = 0x0d
	TypeRegion          ObjectType = 0x0e
	TypeTextC           ObjectType = 0x10
	TypeText            ObjectType = 0x11
	TypeRectC           ObjectType = 0x13
	TypeRect            ObjectType = 0x14
	TypeRoundRectC      ObjectType = 0x16
	TypeRoundRect       ObjectType = 0x17
	TypeEllipseC        ObjectType = 0x19
	TypeEllipse         ObjectType = 0x1a
	TypeMultiPLineC     ObjectType = 0x25
	TypeMultiPLine      ObjectType = 0x26
	TypeFontSymbolC     ObjectType = 0x28
	TypeFontSymbol      ObjectType = 0x29
	TypeCustomSymbolC   ObjectType = 0x2b
	TypeCustomSymbol    ObjectType = 0x2c
	TypeV450RegionC     ObjectType = 0x2e
	TypeV450Region      ObjectType = 0x2f
	TypeV450MultiPLineC ObjectType = 0x31
	TypeV450MultiPLine  ObjectType = 0x32
	TypeMultiPointC     ObjectType = 0x34
	TypeMultiPoint      ObjectType = 0x35
	TypeCollectionC     ObjectType = 0x37
	TypeCollection      ObjectType = 0x38
)

// Category groups object types for the header's running counts.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryPoint
	CategoryLine
	CategoryRegion
	CategoryText
)

type typeInfo struct {
	name     string
	category Category
	// bodyLen is the number of type specific bytes following the common
	// record fields; their layout belongs to the feature encoder.
	bodyLen int
	coord   bool
}

// objectTypes lists the uncompressed codes; compressed codes share the entry
// of code+1.
var objectTypes = map[ObjectType]typeInfo{
	TypeSymbol:         {"symbol", CategoryPoint, 1, false},
	TypeLine:           {"line", CategoryLine, 1, false},
	TypePLine:          {"pline", CategoryLine, 9, true},
	TypeArc:            {"arc", CategoryLine, 21, false},
	TypeRegion:         {"region", CategoryRegion, 12, true},
	TypeText:           {"text", CategoryText, 24, true},
	TypeRect:           {"rect", CategoryRegion, 2, false},
	TypeRoundRect:      {"roundrect", CategoryRegion, 10, false},
	TypeEllipse:        {"ellipse", CategoryRegion, 2, false},
	TypeMultiPLine:     {"multipline", CategoryLine, 12, true},
	TypeFontSymbol:     {"fontsymbol", CategoryPoint, 8, false},
	TypeCustomSymbol:   {"customsymbol", CategoryPoint, 4, false},
	TypeV450Region:     {"v450region", CategoryRegion, 14, true},
	TypeV450MultiPLine: {"v450multipline", CategoryLine, 14, true},
	TypeMultiPoint:     {"multipoint", CategoryPoint, 13, true},
	TypeCollection:     {"collection", CategoryNone, 36, true},
}

func lookupType(t ObjectType) (typeInfo, bool, bool) {
	if ti, ok := objectTypes[t]; ok {
		return ti, false, true
	}
	if ti, ok := objectTypes[t+1]; ok {
		return ti, true, true
	}
	return typeInfo{}, false, false
}

// Compressed reports whether records of this type store int16 deltas.
func (t ObjectType) Compressed() bool {
	_, c, ok := lookupType(t)
	return ok && c
}

func (t ObjectType) Category() Category {
	ti, _, _ := lookupType(t)
	return ti.category
}

func (t ObjectType) String() string {
	ti, c, ok := lookupType(t)
	switch {
	case t == TypeNone:
		return "none"
	case !ok:
		return "unknown"
	case c:
		return ti.name + "_c"
	}
	return ti.name
}

// recordFixedLen is the size of the fields every record carries: type, id,
// the optional coordinate reference and the MBR.
func recordFixedLen(coord, compressed bool) int {
	n := 1 + 4
	if coord {
		n += 8
	}
	if compressed {
		n += 8
	} else {
		n += 16
	}
	return n
}

// defaultObjLen builds the 256-entry record length table written to new files.
func defaultObjLen() [256]byte {
	var tbl [256]byte
	for t, ti := range objectTypes {
		for _, code := range []ObjectType{t - 1, t} {
			n := byte(recordFixedLen(ti.coord, code != t) + ti.bodyLen)
			if ti.coord {
				n = setFlag(n, objLenCoord)
			}
			tbl[code] = n
		}
	}
	return tbl
}

// ObjectHeader is one object record of an object page.
type ObjectHeader struct {
	Type ObjectType
	// ID is the row id; tombstoned records carry the deleted flag.
	ID  int32
	MBR Rect
	// CoordPtr is the absolute offset of the coordinate payload and
	// CoordSize its length, for types that use a coordinate stream.
	CoordPtr  int32
	CoordSize int32
	// Body holds the type specific fixed fields.
	Body []byte

	// CenterX and CenterY are the owning page's center, the origin of
	// compressed deltas. They are not stored in the record.
	CenterX, CenterY int32
}

// Deleted reports whether the record is a tombstone.
func (o *ObjectHeader) Deleted() bool { return isTombstone(o.ID) }

// RowID is the id without tombstone bits.
func (o *ObjectHeader) RowID() int32 { return liveID(o.ID) }

func fitsInt16(v int64) bool { return v >= math.MinInt16 && v <= math.MaxInt16 }

// fitsCenter reports whether r can be stored as int16 deltas from (cx, cy).
func fitsCenter(r Rect, cx, cy int32) bool {
	return fitsInt16(int64(r.MinX)-int64(cx)) && fitsInt16(int64(r.MaxX)-int64(cx)) &&
		fitsInt16(int64(r.MinY)-int64(cy)) && fitsInt16(int64(r.MaxY)-int64(cy))
}

func decodeRecord(c *pageIO, h *Header, cx, cy int32) (ObjectHeader, error) {
	start := c.p.Cursor()
	rec := ObjectHeader{Type: ObjectType(c.u8()), CenterX: cx, CenterY: cy}
	if c.err != nil {
		return rec, c.err
	}
	n, coord := h.recordLen(rec.Type)
	compressed := rec.Type.Compressed()
	fixed := recordFixedLen(coord, compressed)
	if n == 0 || n < fixed {
		return rec, errors.Wrapf(ErrCorrupt, "record of type 0x%02x at %d of page %d",
			uint8(rec.Type), start, c.p.Offset)
	}
	rec.ID = c.i32()
	if coord {
		rec.CoordPtr = c.i32()
		rec.CoordSize = c.i32()
	}
	if compressed {
		rec.MBR.MinX = cx + int32(c.i16())
		rec.MBR.MinY = cy + int32(c.i16())
		rec.MBR.MaxX = cx + int32(c.i16())
		rec.MBR.MaxY = cy + int32(c.i16())
	} else {
		rec.MBR.MinX = c.i32()
		rec.MBR.MinY = c.i32()
		rec.MBR.MaxX = c.i32()
		rec.MBR.MaxY = c.i32()
	}
	rec.Body = c.bytes(n - fixed)
	return rec, c.err
}

func encodeRecord(c *pageIO, h *Header, rec *ObjectHeader, cx, cy int32) error {
	n, coord := h.recordLen(rec.Type)
	compressed := rec.Type.Compressed()
	fixed := recordFixedLen(coord, compressed)
	if n == 0 || n < fixed {
		return errors.Wrapf(ErrObjectType, "type 0x%02x", uint8(rec.Type))
	}
	if len(rec.Body) > n-fixed {
		return errors.Wrapf(ErrCapacity, "%s body of %d bytes, record holds %d", rec.Type, len(rec.Body), n-fixed)
	}
	if compressed && !fitsCenter(rec.MBR, cx, cy) {
		return errors.Wrapf(ErrCompressedRange, "object %d around center (%d,%d)", rec.RowID(), cx, cy)
	}
	c.putU8(byte(rec.Type))
	c.putI32(rec.ID)
	if coord {
		c.putI32(rec.CoordPtr)
		c.putI32(rec.CoordSize)
	}
	if compressed {
		c.putI16(int16(rec.MBR.MinX - cx))
		c.putI16(int16(rec.MBR.MinY - cy))
		c.putI16(int16(rec.MBR.MaxX - cx))
		c.putI16(int16(rec.MBR.MaxY - cy))
	} else {
		c.putI32(rec.MBR.MinX)
		c.putI32(rec.MBR.MinY)
		c.putI32(rec.MBR.MaxX)
		c.putI32(rec.MBR.MaxY)
	}
	c.putBytes(rec.Body)
	c.zeros(n - fixed - len(rec.Body))
	return c.err
}
