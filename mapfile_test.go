package tabmap

import (
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBound = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{100, 100}}

func createMap(t *testing.T, name string, mode IndexMode) (*MapFile, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	m, err := Open(path, ModeCreate, &Options{
		Version:    VersionLargeHeader,
		IndexMode:  mode,
		Bounds:     testBound,
		DedupTools: true,
	})
	require.NoError(t, err)
	return m, path
}

func openMap(t *testing.T, path string, mode Mode) *MapFile {
	t.Helper()
	m, err := Open(path, mode, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func insertPoint(t *testing.T, m *MapFile, id int32, p orb.Point) {
	t.Helper()
	x, y := m.Header().CoordToInt(p)
	rec := &ObjectHeader{Type: TypeSymbol, ID: id, MBR: PointRect(x, y), Body: []byte{byte(id)}}
	require.NoError(t, m.PrepareInsert(rec))
	require.NoError(t, m.CommitInsert(rec))
}

func insertPLine(t *testing.T, m *MapFile, id int32, verts [][2]int32) {
	t.Helper()
	mbr := EmptyRect()
	for _, v := range verts {
		mbr = mbr.Union(PointRect(v[0], v[1]))
	}
	rec := &ObjectHeader{Type: TypePLine, ID: id, MBR: mbr}
	require.NoError(t, m.PrepareInsert(rec))
	cs, err := m.Coords()
	require.NoError(t, err)
	for _, v := range verts {
		require.NoError(t, cs.WriteIntCoord(v[0], v[1], false, 0, 0))
	}
	require.NoError(t, m.CommitInsert(rec))
}

func readPLine(t *testing.T, m *MapFile, id int32) [][2]int32 {
	t.Helper()
	typ, err := m.MoveToObject(id)
	require.NoError(t, err)
	require.Equal(t, TypePLine, typ)
	cs, err := m.CoordReader()
	require.NoError(t, err)
	var out [][2]int32
	for i := int32(0); i < m.Object().CoordSize/8; i++ {
		x, y, err := cs.ReadIntCoord(false, 0, 0)
		require.NoError(t, err)
		out = append(out, [2]int32{x, y})
	}
	return out
}

func plineVerts(id int32, n int) [][2]int32 {
	out := make([][2]int32, n)
	for i := range out {
		out[i] = [2]int32{id*1000 + int32(i), -int32(i)}
	}
	return out
}

func sequentialIDs(t *testing.T, m *MapFile) []int32 {
	t.Helper()
	var ids []int32
	var prev int32
	for {
		id, err := m.SequentialNext(prev)
		if err == io.EOF {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, id)
		prev = id
	}
}

func TestInsertAndReadBack(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "basic.map", IndexBalanced)
	pen, err := m.Tools().Write(Pen{Width: 3, Pattern: 2, Color: 0x0000ff})
	assert.NoError(err)
	assert.Equal(1, pen)

	insertPoint(t, m, 1, orb.Point{10, 10})
	insertPoint(t, m, 2, orb.Point{12.5, 45})
	insertPoint(t, m, 3, orb.Point{90, 80})
	line := []orb.Point{{10, 10}, {20, 30}, {40, 5}}
	var verts [][2]int32
	for _, p := range line {
		x, y := m.Header().CoordToInt(p)
		verts = append(verts, [2]int32{x, y})
	}
	insertPLine(t, m, 4, verts)

	// readable before the file is closed
	assert.Equal(verts, readPLine(t, m, 4))
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	h := m.Header()
	assert.Equal(int32(3), h.NumPoints)
	assert.Equal(int32(1), h.NumLines)
	assert.Equal(int32(24), h.MaxCoordBufSize)
	assert.Equal(uint8(1), h.NumPens)
	assert.False(h.Overflow)
	assert.Equal(orb.Bound{Min: orb.Point{10, 5}, Max: orb.Point{90, 80}}, h.MBR.Bound(h))

	typ, err := m.MoveToObject(2)
	assert.NoError(err)
	assert.Equal(TypeSymbol, typ)
	obj := m.Object()
	assert.Equal(int32(2), obj.RowID())
	assert.Equal(orb.Bound{Min: orb.Point{12.5, 45}, Max: orb.Point{12.5, 45}}, obj.MBR.Bound(h))
	assert.Equal([]byte{2}, obj.Body)

	got := readPLine(t, m, 4)
	for i, v := range got {
		assert.Equal(line[i], h.IntToCoord(v[0], v[1]))
	}

	typ, err = m.MoveToObject(99)
	assert.NoError(err)
	assert.Equal(TypeNone, typ)
	assert.Equal(int32(0), m.ObjectOffset())

	def, ok := m.Tools().Read(ToolPen, pen)
	assert.True(ok)
	assert.Equal(Pen{Width: 3, Pattern: 2, Color: 0x0000ff}, def)

	err = m.PrepareInsert(&ObjectHeader{Type: TypeSymbol, ID: 5, MBR: PointRect(0, 0)})
	assert.True(errors.Is(err, ErrReadOnly))
	assert.True(errors.Is(m.MarkDeleted(1), ErrReadOnly))

	st, err := m.Stats()
	assert.NoError(err)
	assert.Equal(4, st.Objects)
	assert.Equal(1, st.ObjectPages)
	assert.Equal(1, st.CoordPages)
	assert.Equal(1, st.ToolPages)
	assert.Equal(0, st.Depth)
	assert.NoError(m.Check())
}

func TestPrepareInsertValidation(t *testing.T) {
	assert := assertion.New(t)
	m, _ := createMap(t, "validate.map", IndexBalanced)
	defer m.Close()

	err := m.PrepareInsert(&ObjectHeader{Type: 0x03, ID: 1, MBR: PointRect(0, 0)})
	assert.True(errors.Is(err, ErrObjectType))
	err = m.PrepareInsert(&ObjectHeader{Type: TypeSymbol, ID: 0, MBR: PointRect(0, 0)})
	assert.True(errors.Is(err, ErrIDMismatch))
	err = m.PrepareInsert(&ObjectHeader{Type: TypeSymbol, ID: tombstone(4), MBR: PointRect(0, 0)})
	assert.True(errors.Is(err, ErrIDMismatch))
	err = m.PrepareInsert(&ObjectHeader{Type: TypeSymbol, ID: 1, MBR: EmptyRect()})
	assert.True(errors.Is(err, ErrBounds))
	err = m.PrepareInsert(&ObjectHeader{Type: TypeSymbol, ID: 1, MBR: PointRect(0, 0), Body: []byte{1, 2}})
	assert.True(errors.Is(err, ErrCapacity))
	err = m.PrepareInsert(&ObjectHeader{Type: TypeRectC, ID: 1, MBR: Rect{MaxX: 70000, MaxY: 10}})
	assert.True(errors.Is(err, ErrCompressedRange))
	assert.True(errors.Is(m.CommitInsert(&ObjectHeader{Type: TypeSymbol, ID: 1}), ErrNoPendingInsert))
	_, err = m.Coords()
	assert.True(errors.Is(err, ErrNoPendingInsert))

	rec := &ObjectHeader{Type: TypeSymbol, ID: 1, MBR: PointRect(5, 5)}
	assert.NoError(m.PrepareInsert(rec))
	off, err := m.IDs().Get(1)
	assert.NoError(err)
	assert.NotEqual(int32(0), off)

	err = m.PrepareInsert(&ObjectHeader{Type: TypeSymbol, ID: 2, MBR: PointRect(0, 0)})
	assert.True(errors.Is(err, ErrPendingInsert))
	assert.True(errors.Is(m.Sync(), ErrPendingInsert))
	_, err = m.SequentialNext(0)
	assert.True(errors.Is(err, ErrPendingInsert))
	_, err = m.Coords()
	assert.True(errors.Is(err, ErrObjectType))
	err = m.CommitInsert(&ObjectHeader{Type: TypeSymbol, ID: 2, MBR: PointRect(5, 5)})
	assert.True(errors.Is(err, ErrIDMismatch))

	assert.NoError(m.CommitInsert(rec))
	assert.True(errors.Is(m.CommitInsert(rec), ErrNoPendingInsert))
	assert.Equal(int32(1), m.Header().NumPoints)
}

func TestMarkDeleted(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "delete.map", IndexBalanced)
	for i := int32(1); i <= 5; i++ {
		insertPoint(t, m, i, orb.Point{float64(i * 10), 50})
	}
	assert.NoError(m.MarkDeleted(3))
	typ, err := m.MoveToObject(3)
	assert.NoError(err)
	assert.Equal(TypeNone, typ)
	off, err := m.IDs().Get(3)
	assert.NoError(err)
	assert.Equal(int32(0), off)
	assert.Equal(int32(4), m.Header().NumPoints)

	// deleting a row without geometry is a no-op
	assert.NoError(m.MarkDeleted(3))
	assert.NoError(m.MarkDeleted(42))
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	typ, err = m.MoveToObject(3)
	assert.NoError(err)
	assert.Equal(TypeNone, typ)
	assert.Equal([]int32{1, 2, 4, 5}, sequentialIDs(t, m))
	st, err := m.Stats()
	assert.NoError(err)
	assert.Equal(4, st.Objects)
	assert.Equal(1, st.Deleted)
	assert.Equal(int32(4), st.Points)
}

func TestBalancedIndex(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "balanced.map", IndexBalanced)
	rnd := rand.New(rand.NewSource(7))
	points := make(map[int32]orb.Point)
	all := EmptyRect()
	for id := int32(1); id <= 1000; id++ {
		p := orb.Point{rnd.Float64() * 100, rnd.Float64() * 100}
		insertPoint(t, m, id, p)
		x, y := m.Header().CoordToInt(p)
		points[id] = p
		all = all.Union(PointRect(x, y))
	}
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	x := m.index
	assert.GreaterOrEqual(x.Depth(), 2)
	assert.Equal(uint8(x.Depth()), m.Header().MaxIndexDepth)
	assert.Equal(all, m.Header().MBR)
	assert.NoError(m.Check())

	leaves := 0
	err := x.walkIndex(func(level int, off int32, entries []IndexEntry) error {
		assert.LessOrEqual(len(entries), maxIndexEntries)
		for _, e := range entries {
			if level < x.Depth()-1 {
				child, err := loadIndexNode(m.store, e.Child)
				if err != nil {
					return err
				}
				assert.Equal(child.mbr(), e.MBR)
				continue
			}
			o, err := loadObjectPage(m.store, e.Child, m.Header())
			if err != nil {
				return err
			}
			// no deletes, so every leaf entry is tight
			assert.Equal(o.MBR(), e.MBR)
			leaves++
		}
		return nil
	})
	assert.NoError(err)

	st, err := m.Stats()
	assert.NoError(err)
	assert.Equal(1000, st.Objects)
	assert.Equal(leaves, st.ObjectPages)
	assert.Equal(int32(1000), st.Points)

	h := m.Header()
	for id, p := range points {
		typ, err := m.MoveToObject(id)
		assert.NoError(err)
		assert.Equal(TypeSymbol, typ)
		px, py := h.CoordToInt(p)
		assert.Equal(PointRect(px, py), m.Object().MBR)
	}

	ids := sequentialIDs(t, m)
	assert.Len(ids, 1000)
}

func TestCompactionReusesFreedPages(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "compact.map", IndexBalanced)
	// 12 pline records fill an object page; 75 vertices are 600 bytes each
	for id := int32(1); id <= 12; id++ {
		insertPLine(t, m, id, plineVerts(id, 75))
	}
	assert.Less(m.cur.Free(), 38)
	require.NoError(t, m.flushPage())
	first, _ := m.cur.CoordChain()
	before, err := coordChain(m.store, first)
	assert.NoError(err)
	assert.Len(before, 15)
	owned := make(map[int32]bool)
	for _, off := range before {
		owned[off] = true
	}

	for id := int32(1); id <= 12; id += 2 {
		assert.NoError(m.MarkDeleted(id))
	}
	grow := m.alloc.Next()
	insertPLine(t, m, 13, plineVerts(13, 1))
	assert.Equal(grow, m.alloc.Next())
	assert.Equal(0, m.cur.Dead())
	assert.Equal(7, m.cur.Live())

	free := m.alloc.FreeList()
	assert.Len(free, 7)
	for _, off := range free {
		assert.True(owned[off], "free page %d", off)
	}
	require.NoError(t, m.flushPage())
	first, _ = m.cur.CoordChain()
	after, err := coordChain(m.store, first)
	assert.NoError(err)
	assert.Len(after, 8)
	for _, off := range after {
		assert.True(owned[off], "chain page %d", off)
	}
	assert.NoError(m.Close())

	r := openMap(t, path, ModeRead)
	st, err := r.Stats()
	assert.NoError(err)
	assert.Equal(len(free), st.FreePages)
	assert.NoError(r.Close())

	m = openMap(t, path, ModeUpdate)
	assert.Equal(free, m.alloc.FreeList())
	for id := int32(2); id <= 12; id += 2 {
		assert.Equal(plineVerts(id, 75), readPLine(t, m, id))
	}
	assert.Equal(plineVerts(13, 1), readPLine(t, m, 13))

	// the next pages come off the free list
	for _, off := range free {
		assert.Equal(off, m.alloc.Allocate())
	}
	assert.Equal(grow, m.alloc.Next())
}

func TestDirectMode(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "direct.map", IndexDirect)
	var want []int32
	for id := int32(1); id <= 100; id++ {
		insertPoint(t, m, id, orb.Point{float64(id % 10 * 10), float64(id / 10 * 9)})
		want = append(want, id)
	}
	// the open page is visited last
	assert.Equal(want, sequentialIDs(t, m))
	assert.NotEqual(int32(0), m.unsealed)
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	assert.Equal(1, m.index.Depth())
	assert.NoError(m.Check())
	assert.Equal(want, sequentialIDs(t, m))
	st, err := m.Stats()
	assert.NoError(err)
	assert.Equal(5, st.ObjectPages)
	assert.Equal(100, st.Objects)
	for _, id := range want {
		typ, err := m.MoveToObject(id)
		assert.NoError(err)
		assert.Equal(TypeSymbol, typ)
	}
}

func TestMissingFileHasNoGeometry(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "missing.map")
	m, err := Open(path, ModeRead, nil)
	assert.NoError(err)
	assert.True(m.NoGeometry())

	typ, err := m.MoveToObject(1)
	assert.NoError(err)
	assert.Equal(TypeNone, typ)
	_, err = m.SequentialNext(0)
	assert.Equal(io.EOF, err)
	pages, err := m.SearchPages(testBound)
	assert.NoError(err)
	assert.Empty(pages)
	assert.NoError(m.Check())
	assert.NoError(m.Close())

	_, err = os.Stat(path)
	assert.True(os.IsNotExist(err))

	_, err = Open(path, ModeUpdate, nil)
	assert.True(os.IsNotExist(errors.Cause(err)))
}

func TestUpdateMode(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "update.map", IndexBalanced)
	for id := int32(1); id <= 30; id++ {
		insertPoint(t, m, id, orb.Point{float64(id), float64(id)})
	}
	assert.NoError(m.Close())

	m, err := Open(path, ModeUpdate, &Options{IndexMode: IndexDirect})
	require.NoError(t, err)
	assert.Equal(IndexBalanced, m.opts.IndexMode)
	assert.Equal(int32(30), m.Header().NumPoints)
	for id := int32(31); id <= 60; id++ {
		insertPoint(t, m, id, orb.Point{float64(id), 100 - float64(id)})
	}
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	assert.NoError(m.Check())
	assert.Equal(int32(60), m.Header().NumPoints)
	ids := sequentialIDs(t, m)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Len(ids, 60)
	assert.Equal(int32(1), ids[0])
	assert.Equal(int32(60), ids[59])
}

func TestSpatialFilter(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "filter.map", IndexBalanced)
	id := int32(0)
	for i := 0; i < 20; i++ {
		for j := 0; j < 20; j++ {
			id++
			insertPoint(t, m, id, orb.Point{float64(i * 5), float64(j * 5)})
		}
	}
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	all := sequentialIDs(t, m)
	assert.Len(all, 400)

	// a changed previous id restarts the scan after that object
	next, err := m.SequentialNext(all[5])
	assert.NoError(err)
	assert.Equal(all[6], next)

	m.SetSpatialFilterBound(orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{30, 30}})
	got := sequentialIDs(t, m)
	assert.Len(got, 25)
	for _, id := range got {
		_, err := m.MoveToObject(id)
		assert.NoError(err)
		b := m.Object().MBR.Bound(m.Header())
		assert.True(b.Min[0] >= 10 && b.Max[0] <= 30, "object %d at %v", id, b)
		assert.True(b.Min[1] >= 10 && b.Max[1] <= 30, "object %d at %v", id, b)
	}

	pages, err := m.SearchPages(orb.Bound{Min: orb.Point{10, 10}, Max: orb.Point{30, 30}})
	assert.NoError(err)
	assert.NotEmpty(pages)
	st, err := m.Stats()
	assert.NoError(err)
	assert.Less(len(pages), st.ObjectPages)

	m.ClearSpatialFilter()
	assert.Len(sequentialIDs(t, m), 400)
}

func TestCompressedObjects(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "packed.map", IndexBalanced)
	want := make(map[int32]Rect)
	for id := int32(1); id <= 10; id++ {
		r := PointRect(1000+id*10, 2000-id*10)
		rec := &ObjectHeader{Type: TypeSymbolC, ID: id, MBR: r}
		require.NoError(t, m.PrepareInsert(rec))
		require.NoError(t, m.CommitInsert(rec))
		want[id] = r
	}
	assert.Equal(0, m.index.Depth())

	// too far from the center of the first page
	far := &ObjectHeader{Type: TypeSymbolC, ID: 11, MBR: PointRect(500000000, 500000000)}
	require.NoError(t, m.PrepareInsert(far))
	require.NoError(t, m.CommitInsert(far))
	want[11] = far.MBR
	assert.Equal(1, m.index.Depth())
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	assert.NoError(m.Check())
	for id, r := range want {
		typ, err := m.MoveToObject(id)
		assert.NoError(err)
		assert.Equal(TypeSymbolC, typ)
		assert.Equal(r, m.Object().MBR)
	}
	st, err := m.Stats()
	assert.NoError(err)
	assert.Equal(2, st.ObjectPages)
}

func TestCommitInsertWithLargerMBR(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "grow.map", IndexBalanced)
	rnd := rand.New(rand.NewSource(3))
	for id := int32(1); id <= 60; id++ {
		insertPoint(t, m, id, orb.Point{rnd.Float64() * 50, rnd.Float64() * 50})
	}
	x, y := m.Header().CoordToInt(orb.Point{25, 25})
	rec := &ObjectHeader{Type: TypeSymbol, ID: 61, MBR: PointRect(x, y)}
	require.NoError(t, m.PrepareInsert(rec))
	big := RectFromBound(m.Header(), orb.Bound{Min: orb.Point{25, 25}, Max: orb.Point{99, 99}})
	rec.MBR = big
	require.NoError(t, m.CommitInsert(rec))
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	assert.NoError(m.Check())
	_, err := m.MoveToObject(61)
	assert.NoError(err)
	assert.Equal(big, m.Object().MBR)
	assert.Equal(big.MaxX, m.Header().MBR.MaxX)
}

func TestPendingInsertDroppedAtClose(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "pending.map", IndexBalanced)
	insertPoint(t, m, 1, orb.Point{1, 1})
	require.NoError(t, m.PrepareInsert(&ObjectHeader{Type: TypeSymbol, ID: 2, MBR: PointRect(0, 0)}))
	assert.NoError(m.Close())
	assert.True(errors.Is(m.Sync(), ErrClosed))
	_, err := m.MoveToObject(1)
	assert.True(errors.Is(err, ErrClosed))

	m = openMap(t, path, ModeRead)
	typ, err := m.MoveToObject(2)
	assert.NoError(err)
	assert.Equal(TypeNone, typ)
	assert.Equal(int32(1), m.Header().NumPoints)
	assert.Equal([]int32{1}, sequentialIDs(t, m))
}

func insertGrid(t *testing.T, m *MapFile, n int32) {
	t.Helper()
	for id := int32(1); id <= n; id++ {
		insertPoint(t, m, id, orb.Point{float64(id % 10 * 10), float64(id / 10 * 10)})
	}
}

func TestReadsRefusedDuringInsert(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "busy.map", IndexBalanced)
	insertGrid(t, m, 60)
	x, y := m.Header().CoordToInt(orb.Point{55, 55})
	rec := &ObjectHeader{Type: TypeSymbol, ID: 61, MBR: PointRect(x, y), Body: []byte{61}}
	require.NoError(t, m.PrepareInsert(rec))

	_, err := m.MoveToObject(1)
	assert.True(errors.Is(err, ErrPendingInsert))
	_, err = m.CoordReader()
	assert.True(errors.Is(err, ErrPendingInsert))
	assert.NoError(m.CommitInsert(rec))
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	assert.NoError(m.Check())
	assert.Len(sequentialIDs(t, m), 61)
	typ, err := m.MoveToObject(61)
	assert.NoError(err)
	assert.Equal(TypeSymbol, typ)
}

func TestPendingSlotDroppedAfterWriteOut(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "written.map", IndexBalanced)
	insertGrid(t, m, 60)
	rec := &ObjectHeader{Type: TypeSymbol, ID: 61, MBR: PointRect(0, 0), Body: []byte{61}}
	require.NoError(t, m.PrepareInsert(rec))
	// the reserved slot reaches the file still empty
	require.NoError(t, m.releasePage())
	assert.True(errors.Is(m.CommitInsert(rec), ErrCorrupt))
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	assert.NoError(m.Check())
	assert.Len(sequentialIDs(t, m), 60)
	typ, err := m.MoveToObject(61)
	assert.NoError(err)
	assert.Equal(TypeNone, typ)
	assert.Equal(int32(60), m.Header().NumPoints)
}

func TestFailedPrepareInsertLeavesNoSlot(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "broken.map", IndexDirect)
	insertPLine(t, m, 1, plineVerts(1, 10))
	require.NoError(t, m.releasePage())
	o, err := loadObjectPage(m.store, m.unsealed, m.Header())
	require.NoError(t, err)
	_, last := o.CoordChain()
	require.NoError(t, m.store.MarkDeleted(last, 0))

	rec := &ObjectHeader{Type: TypePLine, ID: 2, MBR: PointRect(5, 5)}
	assert.True(errors.Is(m.PrepareInsert(rec), ErrPageType))
	assert.Nil(m.pending)
	off, err := m.IDs().Get(2)
	assert.NoError(err)
	assert.Equal(int32(0), off)
	assert.Equal(objPageHeaderSize+38, m.cur.page.Used())

	insertPoint(t, m, 3, orb.Point{10, 10})
	assert.NoError(m.Close())
	m = openMap(t, path, ModeRead)
	assert.Equal([]int32{1, 3}, sequentialIDs(t, m))
}

func TestIDIndexMismatch(t *testing.T) {
	assert := assertion.New(t)
	ids := NewMemIDIndex()
	path := filepath.Join(t.TempDir(), "ids.map")
	m, err := Open(path, ModeCreate, &Options{Bounds: testBound, IDIndex: ids})
	require.NoError(t, err)
	defer m.Close()
	insertPoint(t, m, 1, orb.Point{1, 1})
	insertPoint(t, m, 2, orb.Point{2, 2})

	off, err := ids.Get(1)
	assert.NoError(err)
	assert.NoError(ids.Set(2, off))
	_, err = m.MoveToObject(2)
	assert.True(errors.Is(err, ErrIDMismatch))
	assert.True(errors.Is(m.Check(), ErrIDMismatch))
}

func TestFileIDIndexWithMap(t *testing.T) {
	assert := assertion.New(t)
	dir := t.TempDir()
	ids, err := OpenFileIDIndex(filepath.Join(dir, "rows.id"), false)
	require.NoError(t, err)
	path := filepath.Join(dir, "rows.map")
	m, err := Open(path, ModeCreate, &Options{Bounds: testBound, IDIndex: ids})
	require.NoError(t, err)
	for id := int32(1); id <= 40; id++ {
		insertPoint(t, m, id, orb.Point{float64(id), 3})
	}
	assert.NoError(m.Close())
	assert.NoError(ids.Close())

	ids, err = OpenFileIDIndex(filepath.Join(dir, "rows.id"), true)
	require.NoError(t, err)
	defer ids.Close()
	m, err = Open(path, ModeRead, &Options{IDIndex: ids})
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(int32(40), ids.Count())
	assert.NoError(m.Check())
	typ, err := m.MoveToObject(17)
	assert.NoError(err)
	assert.Equal(TypeSymbol, typ)
}

func TestSmallHeaderVersion(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "v300.map")
	m, err := Open(path, ModeCreate, &Options{Version: VersionSmallHeader, Bounds: testBound})
	require.NoError(t, err)
	insertPoint(t, m, 1, orb.Point{50, 50})
	assert.Equal(int32(512), m.index.Root())
	assert.NoError(m.Close())

	info, err := os.Stat(path)
	assert.NoError(err)
	assert.Equal(int64(1024), info.Size())

	m = openMap(t, path, ModeRead)
	assert.Equal(VersionSmallHeader, m.Header().Version)
	typ, err := m.MoveToObject(1)
	assert.NoError(err)
	assert.Equal(TypeSymbol, typ)
}

func TestOverflowIsPersisted(t *testing.T) {
	assert := assertion.New(t)
	m, path := createMap(t, "overflow.map", IndexBalanced)
	insertPoint(t, m, 1, orb.Point{150, 50})
	assert.True(m.Header().Overflow)
	assert.NoError(m.Close())

	m = openMap(t, path, ModeRead)
	assert.True(m.Header().Overflow)
	st, err := m.Stats()
	assert.NoError(err)
	assert.True(st.Overflow)
}

func TestOpenRejectsBadFiles(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "garbage.map")
	assert.NoError(os.WriteFile(path, make([]byte, 1024), 0644))
	_, err := Open(path, ModeRead, nil)
	assert.True(errors.Is(err, ErrBadMagic))

	_, err = Open(filepath.Join(t.TempDir(), "bad.map"), ModeCreate, &Options{
		Bounds: orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{1, 2}},
	})
	assert.True(errors.Is(err, ErrBounds))
}
