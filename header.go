package tabmap

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// Magic follows the object length table in the header page.
	Magic int32 = 42424242

	// VersionSmallHeader files use a 512 byte header page, VersionLargeHeader
	// and later ones a 1024 byte header page.
	VersionSmallHeader int16 = 300
	VersionLargeHeader int16 = 500

	// Quantized coordinates live in [-IntBound, IntBound].
	IntBound = 1000000000
)

// Quadrant selects the sign convention of the X and Y axes.
type Quadrant uint8

const (
	// QuadrantNE keeps both axes; 0 is read as QuadrantSW.
	QuadrantNE Quadrant = 1
	QuadrantNW Quadrant = 2
	QuadrantSW Quadrant = 3
	QuadrantSE Quadrant = 4
)

func (q Quadrant) flipX() bool { return q == 0 || q == QuadrantNW || q == QuadrantSW }
func (q Quadrant) flipY() bool { return q == 0 || q == QuadrantSW || q == QuadrantSE }

// Projection is the opaque projection parameter record kept in the header.
// Mapping it to a coordinate reference system is left to the caller.
type Projection struct {
	ProjID      uint8
	EllipsoidID uint8
	UnitsID     uint8
	Params      [6]float64
	DatumShift  [3]float64
	DatumParams [5]float64
}

// Header holds the file wide constants of the header page.
type Header struct {
	Version  int16
	PageSize int16
	// ObjLen is the record length of every object type; the high bit marks
	// types that own a coordinate payload.
	ObjLen              [256]byte
	CoordsysToDistUnits float64
	MBR                 Rect

	IndexRoot   int32
	GarbageHead int32
	ToolHead    int32

	NumPoints       int32
	NumLines        int32
	NumRegions      int32
	NumTexts        int32
	MaxCoordBufSize int32

	DistUnits      uint8
	MaxIndexDepth  uint8
	CoordPrecision uint8
	Quadrant       Quadrant
	ReflectAxis    uint8

	NumPens      uint8
	NumBrushes   uint8
	NumSymbols   uint8
	NumFonts     uint8
	NumToolPages int16

	// Overflow is set once any coordinate had to be clamped to the integer
	// bounds. It is never cleared.
	Overflow bool

	Projection Projection

	XScale, YScale         float64
	XDispl, YDispl         float64
	xPrecision, yPrecision float64
	xPlaces, yPlaces       int32
}

const headerFlagOverflow uint8 = 0x01

// headerSize returns the header page size for a format version.
func headerSize(version int16) int {
	if version >= VersionLargeHeader {
		return 2 * DefaultPageSize
	}
	return DefaultPageSize
}

func newHeader(version int16) *Header {
	h := &Header{
		Version:             version,
		PageSize:            DefaultPageSize,
		ObjLen:              defaultObjLen(),
		CoordsysToDistUnits: 1,
		MBR:                 EmptyRect(),
		Quadrant:            QuadrantNE,
		DistUnits:           7,
	}
	_ = h.SetBounds(orb.Bound{Min: orb.Point{-1000, -1000}, Max: orb.Point{1000, 1000}})
	return h
}

// recordLen returns the length of records of type t and whether they own a
// coordinate payload.
func (h *Header) recordLen(t ObjectType) (int, bool) {
	v := h.ObjLen[t]
	return int(v & objLenMask), hasFlag(v, objLenCoord)
}

// UsesCoords reports whether records of type t reference a coordinate payload.
func (h *Header) UsesCoords(t ObjectType) bool {
	_, coord := h.recordLen(t)
	return coord
}

// SetBounds derives the scale and displacement that map b onto
// [-IntBound, IntBound] on both axes.
func (h *Header) SetBounds(b orb.Bound) error {
	if !(b.Max[0] > b.Min[0]) || !(b.Max[1] > b.Min[1]) {
		return errors.Wrapf(ErrBounds, "%v", b)
	}
	h.XScale = 2 * IntBound / (b.Max[0] - b.Min[0])
	h.YScale = 2 * IntBound / (b.Max[1] - b.Min[1])
	h.XDispl = -h.XScale * (b.Max[0] + b.Min[0]) / 2
	h.YDispl = -h.YScale * (b.Max[1] + b.Min[1]) / 2
	h.derivePrecision()
	return nil
}

// SetQuadrant changes the sign convention; bounds must be set again afterwards.
func (h *Header) SetQuadrant(q Quadrant) error {
	if q > QuadrantSE {
		return errors.Wrapf(ErrBounds, "origin quadrant %d", q)
	}
	h.Quadrant = q
	return nil
}

func (h *Header) derivePrecision() {
	h.xPlaces = int32(math.Round(math.Log10(h.XScale)))
	h.yPlaces = int32(math.Round(math.Log10(h.YScale)))
	h.xPrecision = math.Pow(10, float64(h.xPlaces))
	h.yPrecision = math.Pow(10, float64(h.yPlaces))
	switch {
	case h.xPlaces < 0:
		h.CoordPrecision = 0
	case h.xPlaces > math.MaxUint8:
		h.CoordPrecision = math.MaxUint8
	default:
		h.CoordPrecision = uint8(h.xPlaces)
	}
}

// Precision returns the per axis rounding factors of the reverse transform.
func (h *Header) Precision() (float64, float64) { return h.xPrecision, h.yPrecision }

// Bounds returns the real-world rectangle that the integer range covers.
func (h *Header) Bounds() orb.Bound {
	return Rect{MinX: -IntBound, MinY: -IntBound, MaxX: IntBound, MaxY: IntBound}.Bound(h)
}

func clampInt(v float64, overflow *bool) int32 {
	switch {
	case v < -IntBound:
		*overflow = true
		return -IntBound
	case v > IntBound:
		*overflow = true
		return IntBound
	}
	return int32(math.Round(v))
}

// CoordToInt quantizes a real-world point. Points outside the integer range
// are clamped and set the sticky overflow flag.
func (h *Header) CoordToInt(p orb.Point) (int32, int32) {
	var x, y float64
	if h.Quadrant.flipX() {
		x = -p[0]*h.XScale - h.XDispl
	} else {
		x = p[0]*h.XScale + h.XDispl
	}
	if h.Quadrant.flipY() {
		y = -p[1]*h.YScale - h.YDispl
	} else {
		y = p[1]*h.YScale + h.YDispl
	}
	return clampInt(x, &h.Overflow), clampInt(y, &h.Overflow)
}

func roundPlaces(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// IntToCoord reverses CoordToInt and rounds to the derived precision.
func (h *Header) IntToCoord(x, y int32) orb.Point {
	var dx, dy float64
	if h.Quadrant.flipX() {
		dx = -(float64(x) + h.XDispl) / h.XScale
	} else {
		dx = (float64(x) - h.XDispl) / h.XScale
	}
	if h.Quadrant.flipY() {
		dy = -(float64(y) + h.YDispl) / h.YScale
	} else {
		dy = (float64(y) - h.YDispl) / h.YScale
	}
	return orb.Point{roundPlaces(dx, h.xPlaces), roundPlaces(dy, h.yPlaces)}
}

// DistToInt converts a width and height; no displacement applies.
func (h *Header) DistToInt(dx, dy float64) (int32, int32) {
	return clampInt(dx*h.XScale, &h.Overflow), clampInt(dy*h.YScale, &h.Overflow)
}

func (h *Header) IntToDist(x, y int32) (float64, float64) {
	return float64(x) / h.XScale, float64(y) / h.YScale
}

// Count adjusts the running count of t's category by delta.
func (h *Header) Count(t ObjectType, delta int32) {
	switch t.Category() {
	case CategoryPoint:
		h.NumPoints += delta
	case CategoryLine:
		h.NumLines += delta
	case CategoryRegion:
		h.NumRegions += delta
	case CategoryText:
		h.NumTexts += delta
	}
}

func (h *Header) encode(p *Page) error {
	c := &pageIO{p: p}
	c.seek(0)
	c.putBytes(h.ObjLen[:])
	c.putI32(Magic)
	c.putI16(h.Version)
	c.putI16(h.PageSize)
	c.putF64(h.CoordsysToDistUnits)
	c.putI32(h.MBR.MinX)
	c.putI32(h.MBR.MinY)
	c.putI32(h.MBR.MaxX)
	c.putI32(h.MBR.MaxY)
	c.zeros(16)
	c.putI32(h.IndexRoot)
	c.putI32(h.GarbageHead)
	c.putI32(h.ToolHead)
	c.putI32(h.NumPoints)
	c.putI32(h.NumLines)
	c.putI32(h.NumRegions)
	c.putI32(h.NumTexts)
	c.putI32(h.MaxCoordBufSize)
	c.zeros(14)
	c.putU8(h.DistUnits)
	c.putU8(h.MaxIndexDepth)
	c.putU8(h.CoordPrecision)
	c.putU8(uint8(h.Quadrant))
	c.putU8(h.ReflectAxis)
	c.putU8(0)
	c.putU8(h.NumPens)
	c.putU8(h.NumBrushes)
	c.putU8(h.NumSymbols)
	c.putU8(h.NumFonts)
	c.putI16(h.NumToolPages)
	var flags uint8
	if h.Overflow {
		flags = setFlag(flags, headerFlagOverflow)
	}
	c.putU8(flags)
	c.zeros(2)
	c.putU8(h.Projection.ProjID)
	c.putU8(h.Projection.EllipsoidID)
	c.putU8(h.Projection.UnitsID)
	c.putF64(h.XScale)
	c.putF64(h.YScale)
	c.putF64(h.XDispl)
	c.putF64(h.YDispl)
	for _, v := range h.Projection.Params {
		c.putF64(v)
	}
	for _, v := range h.Projection.DatumShift {
		c.putF64(v)
	}
	for _, v := range h.Projection.DatumParams {
		c.putF64(v)
	}
	if c.err == nil && p.Size() > p.Cursor() {
		c.zeros(p.Size() - p.Cursor())
	}
	return c.err
}

// decodeHeader parses a header page. The page must hold at least the first
// 512 bytes.
func decodeHeader(p *Page) (*Header, error) {
	h := &Header{}
	c := &pageIO{p: p}
	copy(h.ObjLen[:], c.bytes(256))
	if magic := c.i32(); c.err == nil && magic != Magic {
		return nil, errors.Wrapf(ErrBadMagic, "found %d", magic)
	}
	h.Version = c.i16()
	h.PageSize = c.i16()
	h.CoordsysToDistUnits = c.f64()
	h.MBR.MinX = c.i32()
	h.MBR.MinY = c.i32()
	h.MBR.MaxX = c.i32()
	h.MBR.MaxY = c.i32()
	c.bytes(16)
	h.IndexRoot = c.i32()
	h.GarbageHead = c.i32()
	h.ToolHead = c.i32()
	h.NumPoints = c.i32()
	h.NumLines = c.i32()
	h.NumRegions = c.i32()
	h.NumTexts = c.i32()
	h.MaxCoordBufSize = c.i32()
	c.bytes(14)
	h.DistUnits = c.u8()
	h.MaxIndexDepth = c.u8()
	h.CoordPrecision = c.u8()
	h.Quadrant = Quadrant(c.u8())
	h.ReflectAxis = c.u8()
	c.u8()
	h.NumPens = c.u8()
	h.NumBrushes = c.u8()
	h.NumSymbols = c.u8()
	h.NumFonts = c.u8()
	h.NumToolPages = c.i16()
	h.Overflow = hasFlag(c.u8(), headerFlagOverflow)
	c.bytes(2)
	h.Projection.ProjID = c.u8()
	h.Projection.EllipsoidID = c.u8()
	h.Projection.UnitsID = c.u8()
	h.XScale = c.f64()
	h.YScale = c.f64()
	h.XDispl = c.f64()
	h.YDispl = c.f64()
	for i := range h.Projection.Params {
		h.Projection.Params[i] = c.f64()
	}
	for i := range h.Projection.DatumShift {
		h.Projection.DatumShift[i] = c.f64()
	}
	for i := range h.Projection.DatumParams {
		h.Projection.DatumParams[i] = c.f64()
	}
	if c.err != nil {
		return nil, errors.Wrap(c.err, "decode header page")
	}
	if h.PageSize != DefaultPageSize {
		return nil, errors.Wrapf(ErrCorrupt, "page size %d", h.PageSize)
	}
	if !(h.XScale > 0) || !(h.YScale > 0) {
		return nil, errors.Wrapf(ErrCorrupt, "scale %g/%g", h.XScale, h.YScale)
	}
	if h.Quadrant > QuadrantSE {
		return nil, errors.Wrapf(ErrCorrupt, "origin quadrant %d", h.Quadrant)
	}
	h.derivePrecision()
	return h, nil
}
