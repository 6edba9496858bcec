package tabmap

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// IDIndex maps row ids to the absolute offset of their object record. An
// offset of 0 means the row has no geometry.
type IDIndex interface {
	Get(id int32) (int32, error)
	Set(id, off int32) error
	// Count is the highest id known to the index.
	Count() int32
}

// MemIDIndex keeps the id index in memory.
type MemIDIndex struct {
	offs []int32
}

func NewMemIDIndex() *MemIDIndex { return &MemIDIndex{} }

func (m *MemIDIndex) Get(id int32) (int32, error) {
	if id <= 0 {
		return 0, errors.Wrapf(ErrIDMismatch, "row id %d", id)
	}
	if int(id) > len(m.offs) {
		return 0, nil
	}
	return m.offs[id-1], nil
}

func (m *MemIDIndex) Set(id, off int32) error {
	if id <= 0 {
		return errors.Wrapf(ErrIDMismatch, "row id %d", id)
	}
	for int(id) > len(m.offs) {
		m.offs = append(m.offs, 0)
	}
	m.offs[id-1] = off
	return nil
}

func (m *MemIDIndex) Count() int32 { return int32(len(m.offs)) }

// FileIDIndex is an id index file: a plain array of little-endian int32
// offsets, row id n at position 4*(n-1).
type FileIDIndex struct {
	file  *os.File
	count int32
}

// OpenFileIDIndex opens or creates the index file at path.
func OpenFileIDIndex(path string, readOnly bool) (*FileIDIndex, error) {
	flag := os.O_RDWR | os.O_CREATE
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	return &FileIDIndex{file: f, count: int32(info.Size() / 4)}, nil
}

func (x *FileIDIndex) Get(id int32) (int32, error) {
	if id <= 0 {
		return 0, errors.Wrapf(ErrIDMismatch, "row id %d", id)
	}
	if id > x.count {
		return 0, nil
	}
	var b [4]byte
	if _, err := x.file.ReadAt(b[:], int64(id-1)*4); err != nil && err != io.EOF {
		return 0, errors.Wrapf(err, "read id %d", id)
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

// Set writes the offset of id; ids past the end grow the file with zeros.
func (x *FileIDIndex) Set(id, off int32) error {
	if id <= 0 {
		return errors.Wrapf(ErrIDMismatch, "row id %d", id)
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(off))
	if _, err := x.file.WriteAt(b[:], int64(id-1)*4); err != nil {
		return errors.Wrapf(err, "write id %d", id)
	}
	if id > x.count {
		x.count = id
	}
	return nil
}

func (x *FileIDIndex) Count() int32 { return x.count }

func (x *FileIDIndex) Close() error {
	if x.file == nil {
		return nil
	}
	err := x.file.Close()
	x.file = nil
	return err
}
