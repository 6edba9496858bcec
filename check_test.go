package tabmap

import (
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	assert := assertion.New(t)
	m, _ := createMap(t, "stats.map", IndexDirect)
	defer m.Close()
	for id := int32(1); id <= 30; id++ {
		insertPoint(t, m, id, orb.Point{float64(id), float64(id)})
	}
	insertPLine(t, m, 31, plineVerts(31, 75))
	require.NoError(t, m.MarkDeleted(3))

	st, err := m.Stats()
	assert.NoError(err)
	assert.Equal(1, st.Depth)
	assert.Equal(1, st.IndexPages)
	// 22 points seal the first page, the rest stay on the open page
	assert.Equal(2, st.ObjectPages)
	assert.Equal(30, st.Objects)
	assert.Equal(1, st.Deleted)
	assert.Equal(int32(29), st.Points)
	assert.Equal(int32(1), st.Lines)
	assert.Equal(2, st.CoordPages)
	assert.Equal(0, st.FreePages)
	assert.False(st.Overflow)
	assert.NoError(m.Check())
}

func TestStatsWithoutGeometry(t *testing.T) {
	assert := assertion.New(t)
	m := openMap(t, filepath.Join(t.TempDir(), "none.map"), ModeRead)
	st, err := m.Stats()
	assert.NoError(err)
	assert.Equal(0, st.ObjectPages)
	assert.Equal(int32(0), st.Points)
	assert.NoError(m.Check())
}

func TestCheckRefusesPendingInsert(t *testing.T) {
	assert := assertion.New(t)
	m, _ := createMap(t, "pending.map", IndexBalanced)
	insertPoint(t, m, 1, orb.Point{1, 1})
	rec := &ObjectHeader{Type: TypeSymbol, ID: 2, MBR: PointRect(0, 0), Body: []byte{2}}
	require.NoError(t, m.PrepareInsert(rec))

	assert.True(errors.Is(m.Check(), ErrPendingInsert))
	_, err := m.Stats()
	assert.True(errors.Is(err, ErrPendingInsert))

	assert.NoError(m.CommitInsert(rec))
	assert.NoError(m.Check())
	assert.NoError(m.Close())
	assert.True(errors.Is(m.Check(), ErrClosed))
}
