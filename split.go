package tabmap

import (
	"github.com/pkg/errors"
)

// splitItem is one member of an overflowing page: an object record or an
// index entry, with the bytes it occupies.
type splitItem struct {
	mbr  Rect
	size int
}

type splitGroup struct {
	mbr     Rect
	used    int
	members []int
}

func (g *splitGroup) add(i int, it splitItem) {
	g.mbr = g.mbr.Union(it.mbr)
	g.used += it.size
	g.members = append(g.members, i)
}

func (g *splitGroup) placement(r Rect) placement {
	return placement{
		enlargement: g.mbr.Enlargement(r),
		area:        g.mbr.Union(r).Area(),
		count:       len(g.members),
	}
}

// pickSeeds returns the pair whose common rectangle wastes the most area.
func pickSeeds(items []splitItem) (int, int) {
	s1, s2 := 0, 1
	worst := -1.0
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			waste := items[i].mbr.Union(items[j].mbr).Area() - items[i].mbr.Area() - items[j].mbr.Area()
			if waste > worst {
				worst = waste
				s1, s2 = i, j
			}
		}
	}
	return s1, s2
}

// quadraticSplit partitions items into two groups that each fit capacity
// bytes. Members are returned as positions into items. Once a group cannot
// take the largest item any more, the rest goes to the other group.
func quadraticSplit(items []splitItem, capacity int) ([]int, []int, error) {
	if len(items) < 2 {
		return nil, nil, errors.Wrapf(ErrCapacity, "split of %d items", len(items))
	}
	maxSize := 0
	for _, it := range items {
		if it.size > capacity {
			return nil, nil, errors.Wrapf(ErrCapacity, "item of %d bytes in %d byte page", it.size, capacity)
		}
		if it.size > maxSize {
			maxSize = it.size
		}
	}
	s1, s2 := pickSeeds(items)
	var g [2]splitGroup
	g[0].mbr, g[1].mbr = EmptyRect(), EmptyRect()
	g[0].add(s1, items[s1])
	g[1].add(s2, items[s2])

	for i, it := range items {
		if i == s1 || i == s2 {
			continue
		}
		var to int
		switch {
		case g[0].used+maxSize > capacity:
			to = 1
		case g[1].used+maxSize > capacity:
			to = 0
		case comparePlacements(g[1].placement(it.mbr), g[0].placement(it.mbr)) < 0:
			to = 1
		}
		g[to].add(i, it)
	}
	for k := range g {
		if g[k].used > capacity {
			return nil, nil, errors.Wrapf(ErrCapacity, "split group of %d bytes in %d byte page", g[k].used, capacity)
		}
	}
	return g[0].members, g[1].members, nil
}
