package tabmap

import (
	"math"

	"github.com/paulmach/orb"
)

// Rect is a minimum bounding rectangle in integer file coordinates.
type Rect struct {
	MinX, MinY, MaxX, MaxY int32
}

// EmptyRect returns the identity of Union.
func EmptyRect() Rect {
	return Rect{MinX: math.MaxInt32, MinY: math.MaxInt32, MaxX: math.MinInt32, MaxY: math.MinInt32}
}

// PointRect returns the degenerate rectangle of a single point.
func PointRect(x, y int32) Rect { return Rect{MinX: x, MinY: y, MaxX: x, MaxY: y} }

func (r Rect) IsEmpty() bool { return r.MinX > r.MaxX || r.MinY > r.MaxY }

func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	if o.MinX < r.MinX {
		r.MinX = o.MinX
	}
	if o.MinY < r.MinY {
		r.MinY = o.MinY
	}
	if o.MaxX > r.MaxX {
		r.MaxX = o.MaxX
	}
	if o.MaxY > r.MaxY {
		r.MaxY = o.MaxY
	}
	return r
}

// Area is computed in float64 since int32 extents overflow when multiplied.
func (r Rect) Area() float64 {
	if r.IsEmpty() {
		return 0
	}
	return (float64(r.MaxX) - float64(r.MinX)) * (float64(r.MaxY) - float64(r.MinY))
}

// Enlargement is the area r gains when it is grown to cover o.
func (r Rect) Enlargement(o Rect) float64 {
	return r.Union(o).Area() - r.Area()
}

func (r Rect) Intersects(o Rect) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return r.MinX <= o.MaxX && o.MinX <= r.MaxX && r.MinY <= o.MaxY && o.MinY <= r.MaxY
}

// Contains reports whether o lies inside r. Every rectangle contains the empty one.
func (r Rect) Contains(o Rect) bool {
	if o.IsEmpty() {
		return true
	}
	if r.IsEmpty() {
		return false
	}
	return r.MinX <= o.MinX && r.MinY <= o.MinY && r.MaxX >= o.MaxX && r.MaxY >= o.MaxY
}

func (r Rect) Center() (int32, int32) {
	return int32((int64(r.MinX) + int64(r.MaxX)) / 2), int32((int64(r.MinY) + int64(r.MaxY)) / 2)
}

// Bound converts the rectangle to real-world coordinates.
func (r Rect) Bound(h *Header) orb.Bound {
	if r.IsEmpty() {
		return orb.Bound{}
	}
	return orb.Bound{Min: h.IntToCoord(r.MinX, r.MinY), Max: h.IntToCoord(r.MinX, r.MinY)}.
		Extend(h.IntToCoord(r.MaxX, r.MaxY))
}

// RectFromBound quantizes a real-world bound. Origin quadrants that flip an
// axis swap the corners, so the result is normalized.
func RectFromBound(h *Header, b orb.Bound) Rect {
	x1, y1 := h.CoordToInt(b.Min)
	x2, y2 := h.CoordToInt(b.Max)
	return PointRect(x1, y1).Union(PointRect(x2, y2))
}
