package tabmap

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/OneOfOne/xxhash"
	"github.com/pkg/errors"
)

// A snapshot is a stream of compressed page frames:
//
//	header: "TMAPSNAP" | algorithm (uint16)
//	frame:  offset (int32) | raw length (uint32) | stored length (uint32) |
//	        xxhash64 of the raw bytes | stored bytes
//
// A frame with offset -1 ends the stream.
var snapshotMagic = [8]byte{'T', 'M', 'A', 'P', 'S', 'N', 'A', 'P'}

const snapshotFrameHeader = 4 + 4 + 4 + 8

// Snapshot writes every page of the file to w as compressed frames. A file
// open for writing is synced first.
func (m *MapFile) Snapshot(w io.Writer, alg CompressAlgorithm) error {
	if m.closed {
		return ErrClosed
	}
	if m.noGeometry {
		return errors.Wrap(ErrCorrupt, "no map file to snapshot")
	}
	if m.mode != ModeRead {
		if err := m.Sync(); err != nil {
			return err
		}
	}
	compress, _, err := codecs(alg)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	var head [10]byte
	copy(head[:], snapshotMagic[:])
	binary.LittleEndian.PutUint16(head[8:], uint16(alg))
	if _, err := bw.Write(head[:]); err != nil {
		return err
	}

	size := m.store.FileSize()
	buf := make([]byte, m.store.headerSize)
	for off := int64(0); off < size; {
		n, err := m.store.file.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return errors.Wrapf(err, "read page at %d", off)
		}
		if n == 0 {
			break
		}
		stored, err := compress(buf[:n])
		if err != nil {
			return err
		}
		if err := writeFrame(bw, int32(off), buf[:n], stored); err != nil {
			return err
		}
		off += int64(n)
		if len(buf) != m.store.pageSize {
			buf = buf[:m.store.pageSize]
		}
	}
	if err := writeFrame(bw, -1, nil, nil); err != nil {
		return err
	}
	return bw.Flush()
}

func writeFrame(w io.Writer, off int32, raw, stored []byte) error {
	var fh [snapshotFrameHeader]byte
	binary.LittleEndian.PutUint32(fh[0:], uint32(off))
	binary.LittleEndian.PutUint32(fh[4:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(fh[8:], uint32(len(stored)))
	binary.LittleEndian.PutUint64(fh[12:], xxhash.Checksum64(raw))
	if _, err := w.Write(fh[:]); err != nil {
		return err
	}
	_, err := w.Write(stored)
	return err
}

// RestoreSnapshot rebuilds the map file at path from a snapshot stream.
func RestoreSnapshot(r io.Reader, path string) error {
	br := bufio.NewReader(r)
	var head [10]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return errors.Wrap(err, "read snapshot header")
	}
	var magic [8]byte
	copy(magic[:], head[:8])
	if magic != snapshotMagic {
		return errors.Wrap(ErrBadMagic, "not a snapshot")
	}
	_, decompress, err := codecs(CompressAlgorithm(binary.LittleEndian.Uint16(head[8:])))
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	for {
		var fh [snapshotFrameHeader]byte
		if _, err := io.ReadFull(br, fh[:]); err != nil {
			return errors.Wrap(err, "read snapshot frame")
		}
		off := int32(binary.LittleEndian.Uint32(fh[0:]))
		if off < 0 {
			return f.Sync()
		}
		rawLen := binary.LittleEndian.Uint32(fh[4:])
		stored := make([]byte, binary.LittleEndian.Uint32(fh[8:]))
		if _, err := io.ReadFull(br, stored); err != nil {
			return errors.Wrapf(err, "read frame at %d", off)
		}
		raw, err := decompress(stored)
		if err != nil {
			return errors.Wrapf(err, "decompress frame at %d", off)
		}
		if uint32(len(raw)) != rawLen || xxhash.Checksum64(raw) != binary.LittleEndian.Uint64(fh[12:]) {
			return errors.Wrapf(ErrCorrupt, "checksum of frame at %d", off)
		}
		if _, err := f.WriteAt(raw, int64(off)); err != nil {
			return errors.Wrapf(err, "write page at %d", off)
		}
	}
}
