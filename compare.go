package tabmap

// placement is the cost of putting a rectangle into a candidate: an index
// entry while descending, or one of the two groups of a split.
type placement struct {
	enlargement float64
	area        float64
	count       int
}

// comparePlacements orders candidates by least enlargement, then smaller
// area, then fewer members. Equal candidates compare as 0 and the caller
// keeps the first one seen.
func comparePlacements(a, b placement) int {
	switch {
	case a.enlargement < b.enlargement:
		return -1
	case a.enlargement > b.enlargement:
		return 1
	case a.area < b.area:
		return -1
	case a.area > b.area:
		return 1
	case a.count < b.count:
		return -1
	case a.count > b.count:
		return 1
	}
	return 0
}

// tiedOnArea reports whether only the member count can still tell a and b apart.
func tiedOnArea(a, b placement) bool {
	return a.enlargement == b.enlargement && a.area == b.area
}
