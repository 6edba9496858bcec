package tabmap

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// PageStore reads and writes pages of one map file.
type PageStore struct {
	path     string
	file     *os.File
	pageSize int
	// headerSize is 512 or 1024 depending on the format version.
	headerSize int
	fileSize   int64
	readOnly   bool

	ops struct {
		writeAt func(b []byte, off int64) (n int, err error)
	}
}

func openStore(path string, flag int, perm os.FileMode, pageSize int) (*PageStore, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	s := &PageStore{
		path:       path,
		file:       f,
		pageSize:   pageSize,
		headerSize: pageSize,
		fileSize:   info.Size(),
		readOnly:   flag&(os.O_WRONLY|os.O_RDWR) == 0,
	}
	s.ops.writeAt = f.WriteAt
	return s, nil
}

// PageSize is the size of every page after the header page.
func (s *PageStore) PageSize() int { return s.pageSize }

// FileSize is the current length of the backing file.
func (s *PageStore) FileSize() int64 { return s.fileSize }

// pageOf returns the offset of the page holding the absolute offset off.
func (s *PageStore) pageOf(off int32) int32 {
	return off - off%int32(s.pageSize)
}

func (s *PageStore) readAt(buf []byte, off int64) error {
	n, err := s.file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return errors.Wrapf(err, "read page at %d", off)
	}
	if n == 0 {
		return errors.Wrapf(ErrCorrupt, "page at %d is past the end of the file (%d bytes)", off, s.fileSize)
	}
	// soft pages at the end of the file may be short
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// Load reads the page holding off and checks its type tag against want.
// The returned page is readable up to its full size; components narrow the
// used length from their own page headers.
func (s *PageStore) Load(off int32, want ...PageType) (*Page, error) {
	base := s.pageOf(off)
	if int(base) < s.headerSize {
		return nil, errors.Wrapf(ErrCorrupt, "offset %d points into the header page", off)
	}
	p := newPage(PageHeader, base, s.pageSize, true)
	if err := s.readAt(p.buf, int64(base)); err != nil {
		return nil, err
	}
	p.Type = PageType(p.buf[0])
	p.used = len(p.buf)
	if len(want) > 0 {
		ok := false
		for _, t := range want {
			if p.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return nil, errors.Wrapf(ErrPageType, "page at %d is %s, want %v", base, p.Type, want)
		}
	}
	return p, nil
}

// loadHeaderPage reads the first size bytes of the file.
func (s *PageStore) loadHeaderPage(size int) (*Page, error) {
	p := newPage(PageHeader, 0, size, true)
	if err := s.readAt(p.buf, 0); err != nil {
		return nil, err
	}
	p.used = size
	return p, nil
}

// Commit writes a dirty page back. When the page starts past the end of the
// file the gap is zero-filled first.
func (s *PageStore) Commit(p *Page) error {
	if !p.dirty {
		return nil
	}
	if s.readOnly {
		return errors.Wrapf(ErrReadOnly, "commit %s page %d", p.Type, p.Offset)
	}
	off := int64(p.Offset)
	if s.fileSize < off {
		gap := make([]byte, off-s.fileSize)
		if _, err := s.ops.writeAt(gap, s.fileSize); err != nil {
			return errors.Wrapf(err, "pad file from %d to %d", s.fileSize, off)
		}
		s.fileSize = off
	}
	n := p.used
	if p.hard {
		n = len(p.buf)
	}
	if _, err := s.ops.writeAt(p.buf[:n], off); err != nil {
		return errors.Wrapf(err, "write %s page %d", p.Type, p.Offset)
	}
	if end := off + int64(n); end > s.fileSize {
		s.fileSize = end
	}
	p.dirty = false
	return nil
}

// MarkDeleted overwrites the page at off with a garbage page linking to next.
func (s *PageStore) MarkDeleted(off, next int32) error {
	p := newPage(PageGarbage, off, s.pageSize, true)
	c := &pageIO{p: p}
	c.putI16(int16(PageGarbage))
	c.putI32(next)
	if c.err != nil {
		return c.err
	}
	return s.Commit(p)
}

// garbageNext returns the link stored in the garbage page at off.
func (s *PageStore) garbageNext(off int32) (int32, error) {
	p, err := s.Load(off, PageGarbage)
	if err != nil {
		return 0, err
	}
	c := &pageIO{p: p}
	c.seek(2)
	next := c.i32()
	return next, c.err
}

func (s *PageStore) Sync() error {
	if s.readOnly {
		return nil
	}
	return s.file.Sync()
}

func (s *PageStore) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.ops.writeAt = nil
	if err != nil {
		return errors.Wrapf(err, "close %s", s.path)
	}
	return nil
}
