package tabmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"
)

func TestAllocatorReusesFreedPagesFirst(t *testing.T) {
	assert := assertion.New(t)
	a := newPageAllocator(DefaultPageSize, 1024)
	assert.Equal(int32(1024), a.Allocate())
	assert.Equal(int32(1536), a.Allocate())
	assert.Equal(int32(2048), a.Allocate())
	assert.Equal(int32(2560), a.Next())

	a.PushFree(1024)
	a.PushFree(2048)
	assert.Equal([]int32{2048, 1024}, a.FreeList())

	// last freed, first reused
	assert.Equal(int32(2048), a.Allocate())
	assert.Equal(int32(1024), a.Allocate())
	assert.Equal(int32(2560), a.Next())
	assert.Equal(int32(2560), a.Allocate())

	a.PushFree(1536)
	a.PushFreeAsLast(512)
	assert.Equal([]int32{1536, 512}, a.FreeList())

	a.Reset(4096)
	assert.Empty(a.FreeList())
	assert.Equal(int32(4096), a.Allocate())
}

func TestFreeListRoundTrip(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "free.map")
	s, err := openStore(path, os.O_RDWR|os.O_CREATE, 0644, DefaultPageSize)
	assert.NoError(err)
	defer s.Close()

	a := newPageAllocator(DefaultPageSize, 512)
	for i := 0; i < 6; i++ {
		a.Allocate()
	}
	a.PushFree(2560)
	a.PushFree(1024)
	a.PushFree(1536)
	head, err := a.flush(s)
	assert.NoError(err)
	assert.Equal(int32(1536), head)

	b := newPageAllocator(DefaultPageSize, a.Next())
	assert.NoError(b.loadFreeList(s, head))
	assert.Equal(a.FreeList(), b.FreeList())
	assert.Equal(int32(1536), b.Allocate())

	empty := newPageAllocator(DefaultPageSize, 512)
	head, err = empty.flush(s)
	assert.NoError(err)
	assert.Equal(int32(0), head)
}

func TestFreeListRejectsBadChains(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "cycle.map")
	s, err := openStore(path, os.O_RDWR|os.O_CREATE, 0644, DefaultPageSize)
	assert.NoError(err)
	defer s.Close()

	assert.NoError(s.MarkDeleted(512, 1024))
	assert.NoError(s.MarkDeleted(1024, 512))
	a := newPageAllocator(DefaultPageSize, 1536)
	err = a.loadFreeList(s, 512)
	assert.True(errors.Is(err, ErrGarbageChain))

	assert.NoError(s.MarkDeleted(1024, 700))
	a = newPageAllocator(DefaultPageSize, 1536)
	err = a.loadFreeList(s, 512)
	assert.True(errors.Is(err, ErrGarbageChain))

	// links past the end of the file
	a = newPageAllocator(DefaultPageSize, 1024)
	err = a.loadFreeList(s, 512)
	assert.True(errors.Is(err, ErrGarbageChain))
}
