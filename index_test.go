package tabmap

import (
	"testing"

	log "github.com/sirupsen/logrus"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChooseEntryCountsPathNodes(t *testing.T) {
	assert := assertion.New(t)
	s := openTestStore(t, "index.map")
	a := newPageAllocator(DefaultPageSize, 512)
	x := newSpatialIndex(s, a, log.StandardLogger())

	box := Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	node := func(entries int) *indexNode {
		n := &indexNode{off: a.Allocate(), dirty: true}
		for i := 0; i < entries; i++ {
			n.entries = append(n.entries, IndexEntry{MBR: box, Child: int32(100000 + i*512)})
		}
		require.NoError(t, n.commit(s))
		return n
	}
	left, right := node(2), node(3)
	root := &indexNode{off: a.Allocate(), dirty: true, entries: []IndexEntry{
		{MBR: box, Child: left.off},
		{MBR: box, Child: right.off},
	}}
	require.NoError(t, root.commit(s))
	x.root, x.depth = root.off, 2

	r := PointRect(50, 50)
	n, err := x.nodeAt(0, root.off)
	require.NoError(t, err)
	i, err := x.chooseEntry(0, n, r, nil)
	assert.NoError(err)
	assert.Equal(0, i)

	// the right node shrinks on the write path before it is committed
	n.cur = 1
	rn, err := x.nodeAt(1, right.off)
	require.NoError(t, err)
	rn.entries = rn.entries[:1]
	rn.dirty = true
	i, err = x.chooseEntry(0, n, r, nil)
	assert.NoError(err)
	assert.Equal(1, i)
}
