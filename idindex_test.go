package tabmap

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"
)

func TestMemIDIndex(t *testing.T) {
	assert := assertion.New(t)
	x := NewMemIDIndex()
	off, err := x.Get(3)
	assert.NoError(err)
	assert.Equal(int32(0), off)

	assert.NoError(x.Set(3, 1044))
	assert.Equal(int32(3), x.Count())
	off, err = x.Get(3)
	assert.NoError(err)
	assert.Equal(int32(1044), off)
	off, err = x.Get(2)
	assert.NoError(err)
	assert.Equal(int32(0), off)

	_, err = x.Get(0)
	assert.True(errors.Is(err, ErrIDMismatch))
	assert.True(errors.Is(x.Set(-1, 5), ErrIDMismatch))
}

func TestFileIDIndex(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "rows.id")
	x, err := OpenFileIDIndex(path, false)
	assert.NoError(err)
	assert.Equal(int32(0), x.Count())
	assert.NoError(x.Set(5, 2070))
	assert.NoError(x.Set(2, 1044))
	assert.Equal(int32(5), x.Count())
	assert.NoError(x.Close())
	assert.NoError(x.Close())

	ro, err := OpenFileIDIndex(path, true)
	assert.NoError(err)
	defer ro.Close()
	assert.Equal(int32(5), ro.Count())
	for id, want := range map[int32]int32{1: 0, 2: 1044, 3: 0, 5: 2070, 6: 0} {
		off, err := ro.Get(id)
		assert.NoError(err)
		assert.Equal(want, off, "id %d", id)
	}
	assert.Error(ro.Set(7, 1))
}
