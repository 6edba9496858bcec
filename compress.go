package tabmap

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

// CompressAlgorithm selects how snapshot frames are compressed.
type CompressAlgorithm uint16

const (
	CompSnappy CompressAlgorithm = iota // default
	CompNone
	CompLz4
)

func (a CompressAlgorithm) String() string {
	switch a {
	case CompSnappy:
		return "snappy"
	case CompNone:
		return "none"
	case CompLz4:
		return "lz4"
	}
	return "unknown"
}

// ParseCompressAlgorithm maps a name as printed by String back to the algorithm.
func ParseCompressAlgorithm(s string) (CompressAlgorithm, error) {
	switch s {
	case "", "snappy":
		return CompSnappy, nil
	case "none":
		return CompNone, nil
	case "lz4":
		return CompLz4, nil
	}
	return 0, errors.Errorf("unknown compression %q", s)
}

type Compressor func([]byte) ([]byte, error)
type DeCompressor func([]byte) ([]byte, error)

var (
	SnappyCompress Compressor = func(in []byte) ([]byte, error) {
		return snappy.Encode(nil, in), nil
	}
	SnappyDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	Lz4Compress Compressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		writer.NoChecksum = true
		if _, err := writer.Write(in); err != nil {
			return nil, errors.Wrap(err, "lz4 write")
		}
		// the frame is only complete once the writer is closed
		if err := writer.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4 close")
		}
		return buf.Bytes(), nil
	}

	Lz4DeCompress DeCompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

var nopCompress Compressor = func(in []byte) ([]byte, error) { return in, nil }
var nopDeCompress DeCompressor = func(in []byte) ([]byte, error) { return in, nil }

func codecs(a CompressAlgorithm) (Compressor, DeCompressor, error) {
	switch a {
	case CompSnappy:
		return SnappyCompress, SnappyDeCompress, nil
	case CompNone:
		return nopCompress, nopDeCompress, nil
	case CompLz4:
		return Lz4Compress, Lz4DeCompress, nil
	}
	return nil, nil, errors.Errorf("unknown compression %d", a)
}
