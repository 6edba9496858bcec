package tabmap

import (
	"github.com/pkg/errors"
)

// PageAllocator issues page offsets. Released pages are kept on a free list
// and always handed out again before the file grows.
type PageAllocator struct {
	pageSize int32
	// next is the offset returned when the free list is empty.
	next int32
	// free holds the free list with its head last, so that Allocate and
	// PushFree work on the end of the slice.
	free []int32
}

func newPageAllocator(pageSize, first int32) *PageAllocator {
	return &PageAllocator{pageSize: pageSize, next: first}
}

// Allocate pops the head of the free list, or grows the file by one page.
func (a *PageAllocator) Allocate() int32 {
	if n := len(a.free); n > 0 {
		off := a.free[n-1]
		a.free = a.free[:n-1]
		return off
	}
	off := a.next
	a.next += a.pageSize
	return off
}

// PushFree makes off the head of the free list.
func (a *PageAllocator) PushFree(off int32) {
	a.free = append(a.free, off)
}

// PushFreeAsLast appends off to the tail of the free list.
func (a *PageAllocator) PushFreeAsLast(off int32) {
	a.free = append(a.free, 0)
	copy(a.free[1:], a.free)
	a.free[0] = off
}

// Reset forgets all allocation state; the next growth offset becomes next.
func (a *PageAllocator) Reset(next int32) {
	a.free = a.free[:0]
	a.next = next
}

// Next is the offset the file grows to when the free list is empty.
func (a *PageAllocator) Next() int32 { return a.next }

// FreeList returns the free pages head first.
func (a *PageAllocator) FreeList() []int32 {
	out := make([]int32, len(a.free))
	for i, off := range a.free {
		out[len(a.free)-1-i] = off
	}
	return out
}

// loadFreeList walks the on-disk garbage chain starting at head.
func (a *PageAllocator) loadFreeList(s *PageStore, head int32) error {
	seen := make(map[int32]bool)
	for off := head; off != 0; {
		if seen[off] {
			return errors.Wrapf(ErrGarbageChain, "cycle at page %d", off)
		}
		if off%a.pageSize != 0 || off >= a.next {
			return errors.Wrapf(ErrGarbageChain, "link to invalid page %d", off)
		}
		seen[off] = true
		next, err := s.garbageNext(off)
		if err != nil {
			return errors.Wrapf(ErrGarbageChain, "page %d: %v", off, err)
		}
		a.PushFreeAsLast(off)
		off = next
	}
	return nil
}

// flush writes every free page as a garbage page linked in list order and
// returns the head of the chain.
func (a *PageAllocator) flush(s *PageStore) (int32, error) {
	list := a.FreeList()
	for i, off := range list {
		var next int32
		if i+1 < len(list) {
			next = list[i+1]
		}
		if err := s.MarkDeleted(off, next); err != nil {
			return 0, err
		}
	}
	if len(list) == 0 {
		return 0, nil
	}
	return list[0], nil
}
