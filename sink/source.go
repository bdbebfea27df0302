package sink

import (
	"encoding/binary"
	"math"

	"golang.org/x/exp/mmap"

	"github.com/chronostore/kernel/kerr"
)

// Source is the uniform read side of the byte-encoding contract: a window
// over bytes that are either resident on the heap or memory-mapped from a
// sealed chunk file. Reading is uniform across both — callers never know
// which backs a given Source.
type Source interface {
	GetByte(off int) (byte, error)
	GetBytes(off, n int) ([]byte, error)
	GetShort(off int) (int16, error)
	GetInt(off int) (int32, error)
	GetLong(off int) (int64, error)
	GetFloat(off int) (float32, error)
	GetDouble(off int) (float64, error)
	// Len reports the total number of addressable bytes.
	Len() int
}

// BufferSource is a Source over a plain heap byte slice — the read-side
// counterpart to a window spliced out of a parent buffer, per spec.md
// §4.2's "caller supplies the window" reconstruction contract.
type BufferSource struct {
	buf []byte
}

// NewBufferSource wraps buf (no copy) as a Source.
func NewBufferSource(buf []byte) BufferSource { return BufferSource{buf: buf} }

func (s BufferSource) checkRange(off, n int) error {
	if off < 0 || n < 0 || off+n > len(s.buf) {
		return kerr.Newf(kerr.DecodeError, "sink.BufferSource", "range [%d,%d) out of bounds for buffer of length %d", off, off+n, len(s.buf))
	}
	return nil
}

func (s BufferSource) GetByte(off int) (byte, error) {
	if err := s.checkRange(off, 1); err != nil {
		return 0, err
	}
	return s.buf[off], nil
}

func (s BufferSource) GetBytes(off, n int) ([]byte, error) {
	if err := s.checkRange(off, n); err != nil {
		return nil, err
	}
	return s.buf[off : off+n], nil
}

func (s BufferSource) GetShort(off int) (int16, error) {
	b, err := s.GetBytes(off, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (s BufferSource) GetInt(off int) (int32, error) {
	b, err := s.GetBytes(off, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (s BufferSource) GetLong(off int) (int64, error) {
	b, err := s.GetBytes(off, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (s BufferSource) GetFloat(off int) (float32, error) {
	v, err := s.GetInt(off)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (s BufferSource) GetDouble(off int) (float64, error) {
	v, err := s.GetLong(off)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

func (s BufferSource) Len() int { return len(s.buf) }

// Mapped is a Source backed by a read-only memory-mapped file, grounded on
// the teacher's go/store/nbs mmap-backed table reader
// (mmap_table_reader_test.go). Sealed chunks are read through this Source.
type Mapped struct {
	r *mmap.ReaderAt
}

// OpenMapped memory-maps path read-only.
func OpenMapped(path string) (*Mapped, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, kerr.New(kerr.IoError, "sink.OpenMapped", err)
	}
	return &Mapped{r: r}, nil
}

func (m *Mapped) Close() error {
	if err := m.r.Close(); err != nil {
		return kerr.New(kerr.IoError, "sink.Mapped.Close", err)
	}
	return nil
}

func (m *Mapped) checkRange(off, n int) error {
	if off < 0 || n < 0 || off+n > m.r.Len() {
		return kerr.Newf(kerr.DecodeError, "sink.Mapped", "range [%d,%d) out of bounds for mapping of length %d", off, off+n, m.r.Len())
	}
	return nil
}

func (m *Mapped) GetBytes(off, n int) ([]byte, error) {
	if err := m.checkRange(off, n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := m.r.ReadAt(buf, int64(off)); err != nil {
		return nil, kerr.New(kerr.IoError, "sink.Mapped.GetBytes", err)
	}
	return buf, nil
}

func (m *Mapped) GetByte(off int) (byte, error) {
	b, err := m.GetBytes(off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Mapped) GetShort(off int) (int16, error) {
	b, err := m.GetBytes(off, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (m *Mapped) GetInt(off int) (int32, error) {
	b, err := m.GetBytes(off, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (m *Mapped) GetLong(off int) (int64, error) {
	b, err := m.GetBytes(off, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (m *Mapped) GetFloat(off int) (float32, error) {
	v, err := m.GetInt(off)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (m *Mapped) GetDouble(off int) (float64, error) {
	v, err := m.GetLong(off)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(v)), nil
}

func (m *Mapped) Len() int { return m.r.Len() }
