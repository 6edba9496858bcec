package tabmap

import (
	"math"
	"testing"

	fuzz "github.com/google/gofuzz"
	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"
)

func boundedHeader(t *testing.T, q Quadrant) *Header {
	h := newHeader(VersionLargeHeader)
	if err := h.SetQuadrant(q); err != nil {
		t.Fatal(err)
	}
	if err := h.SetBounds(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}); err != nil {
		t.Fatal(err)
	}
	return h
}

func TestQuantization(t *testing.T) {
	assert := assertion.New(t)
	h := boundedHeader(t, QuadrantNE)
	assert.Equal(2e7, h.XScale)
	assert.Equal(2e7, h.YScale)
	assert.Equal(uint8(7), h.CoordPrecision)

	x, y := h.CoordToInt(orb.Point{0, 0})
	assert.Equal(int32(-IntBound), x)
	assert.Equal(int32(-IntBound), y)
	x, y = h.CoordToInt(orb.Point{100, 100})
	assert.Equal(int32(IntBound), x)
	assert.Equal(int32(IntBound), y)

	x, y = h.CoordToInt(orb.Point{12.5, 45})
	assert.Equal(int32(-750000000), x)
	assert.Equal(int32(-100000000), y)
	assert.Equal(orb.Point{12.5, 45}, h.IntToCoord(x, y))
	assert.False(h.Overflow)
}

func TestQuantizationQuadrants(t *testing.T) {
	assert := assertion.New(t)
	h := boundedHeader(t, QuadrantSW)
	x, y := h.CoordToInt(orb.Point{0, 0})
	assert.Equal(int32(IntBound), x)
	assert.Equal(int32(IntBound), y)
	assert.Equal(orb.Point{12.5, 45}, h.IntToCoord(h.CoordToInt(orb.Point{12.5, 45})))

	h = boundedHeader(t, QuadrantNW)
	x, y = h.CoordToInt(orb.Point{0, 0})
	assert.Equal(int32(IntBound), x)
	assert.Equal(int32(-IntBound), y)

	h = boundedHeader(t, QuadrantSE)
	x, y = h.CoordToInt(orb.Point{0, 0})
	assert.Equal(int32(-IntBound), x)
	assert.Equal(int32(IntBound), y)

	// flipped axes still give a normalized rectangle
	r := RectFromBound(h, orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{20, 20}})
	assert.False(r.IsEmpty())
	assert.True(r.MinY < r.MaxY)

	assert.True(errors.Is(h.SetQuadrant(5), ErrBounds))
}

func TestQuantizationIsStable(t *testing.T) {
	assert := assertion.New(t)
	h := boundedHeader(t, QuadrantNE)
	f := fuzz.New()
	for i := 0; i < 1000; i++ {
		var a, b uint32
		f.Fuzz(&a)
		f.Fuzz(&b)
		p := orb.Point{float64(a) / math.MaxUint32 * 100, float64(b) / math.MaxUint32 * 100}

		p1 := h.IntToCoord(h.CoordToInt(p))
		assert.InDelta(p[0], p1[0], 1e-7)
		assert.InDelta(p[1], p1[1], 1e-7)
		// once quantized a point maps onto itself
		assert.Equal(p1, h.IntToCoord(h.CoordToInt(p1)))
	}
	assert.False(h.Overflow)
}

func TestQuantizationOverflowIsSticky(t *testing.T) {
	assert := assertion.New(t)
	h := boundedHeader(t, QuadrantNE)
	x, y := h.CoordToInt(orb.Point{150, 50})
	assert.Equal(int32(IntBound), x)
	assert.Equal(int32(0), y)
	assert.True(h.Overflow)

	h.CoordToInt(orb.Point{50, 50})
	assert.True(h.Overflow)

	h = boundedHeader(t, QuadrantNE)
	x, _ = h.CoordToInt(orb.Point{-1, 50})
	assert.Equal(int32(-IntBound), x)
	assert.True(h.Overflow)
}

func TestDistances(t *testing.T) {
	assert := assertion.New(t)
	h := boundedHeader(t, QuadrantNE)
	dx, dy := h.DistToInt(1, 0.5)
	assert.Equal(int32(20000000), dx)
	assert.Equal(int32(10000000), dy)
	fx, fy := h.IntToDist(dx, dy)
	assert.Equal(1.0, fx)
	assert.Equal(0.5, fy)
}

func TestSetBoundsRejectsEmpty(t *testing.T) {
	assert := assertion.New(t)
	h := newHeader(VersionLargeHeader)
	err := h.SetBounds(orb.Bound{Min: orb.Point{5, 0}, Max: orb.Point{5, 10}})
	assert.True(errors.Is(err, ErrBounds))
}

func TestHeaderPage(t *testing.T) {
	assert := assertion.New(t)
	h := boundedHeader(t, QuadrantSW)
	h.MBR = Rect{MinX: -10, MinY: -20, MaxX: 30, MaxY: 40}
	h.IndexRoot = 1536
	h.GarbageHead = 4096
	h.ToolHead = 2048
	h.NumPoints, h.NumLines, h.NumRegions, h.NumTexts = 1, 2, 3, 4
	h.MaxCoordBufSize = 600
	h.MaxIndexDepth = 3
	h.NumPens, h.NumBrushes, h.NumFonts, h.NumSymbols = 5, 6, 7, 8
	h.NumToolPages = 2
	h.Overflow = true
	h.Projection.ProjID = 1
	h.Projection.Params[2] = 0.25
	h.Projection.DatumParams[4] = -3

	p := newPage(PageHeader, 0, headerSize(h.Version), true)
	assert.NoError(h.encode(p))
	assert.Equal(1024, p.Used())

	assert.NoError(p.Seek(0))
	got, err := decodeHeader(p)
	assert.NoError(err)
	assert.Equal(h, got)

	p.buf[256] = 0
	assert.NoError(p.Seek(0))
	_, err = decodeHeader(p)
	assert.True(errors.Is(err, ErrBadMagic))
}

func TestHeaderSize(t *testing.T) {
	assert := assertion.New(t)
	assert.Equal(512, headerSize(VersionSmallHeader))
	assert.Equal(512, headerSize(450))
	assert.Equal(1024, headerSize(VersionLargeHeader))
	assert.Equal(1024, headerSize(650))
}

func TestObjLenTable(t *testing.T) {
	assert := assertion.New(t)
	h := newHeader(VersionLargeHeader)
	n, coord := h.recordLen(TypeSymbol)
	assert.Equal(22, n)
	assert.False(coord)
	n, coord = h.recordLen(TypeSymbolC)
	assert.Equal(14, n)
	assert.False(coord)
	n, coord = h.recordLen(TypePLine)
	assert.Equal(38, n)
	assert.True(coord)
	n, coord = h.recordLen(TypeRegionC)
	assert.Equal(1+4+8+8+12, n)
	assert.True(coord)
	assert.True(h.UsesCoords(TypeCollection))
	n, _ = h.recordLen(0x03)
	assert.Equal(0, n)
}
