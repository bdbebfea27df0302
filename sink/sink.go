// Package sink implements the kernel's L0 byte-encoding layer: a uniform,
// big-endian ByteSink/ByteSource contract over a heap buffer, a buffered
// file, a hashing digest, or a null discard — the single chokepoint every
// Byteable in the kernel writes through and reads back from.
//
// Grounded on go/store/nbs/byte_sink_test.go's ByteSink family
// (NewFixedBufferByteSink, NewBufferedFileByteSink, NewBlockBufferByteSink):
// this package keeps that shape (Write/Flush/Reader, a fixed scratch buffer
// that drains on overflow) and adds the hashing and null variants spec.md
// §4.1 calls for.
package sink

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/chronostore/kernel/kerr"
)

// Sink is the uniform write side of the byte-encoding contract. All
// multi-byte integers are written most-significant-byte first; floats use
// their IEEE-754 bit pattern.
type Sink interface {
	Put(b byte) error
	PutBytes(p []byte) error
	PutShort(v int16) error
	PutInt(v int32) error
	PutLong(v int64) error
	PutFloat(v float32) error
	PutDouble(v float64) error
	PutChar(v rune) error
	// PutUtf8 writes the unprefixed UTF-8 bytes of s. Callers needing a
	// length prefix must write it themselves first.
	PutUtf8(s string) error
	// Position reports the logical write offset: for file-backed sinks,
	// the underlying file offset plus any unflushed bytes.
	Position() (uint64, error)
	Flush() error
}

// FixedBuffer is a Sink over a caller-supplied fixed-size byte slice. Writes
// past the end of the buffer fail with kerr.CapacityError.
type FixedBuffer struct {
	buf []byte
	pos int
}

// NewFixedBuffer wraps buf for writing. buf's length is the sink's capacity.
func NewFixedBuffer(buf []byte) *FixedBuffer {
	return &FixedBuffer{buf: buf}
}

func (s *FixedBuffer) write(p []byte) error {
	if s.pos+len(p) > len(s.buf) {
		return kerr.Newf(kerr.CapacityError, "sink.FixedBuffer.write", "would overflow fixed buffer of size %d at pos %d with %d bytes", len(s.buf), s.pos, len(p))
	}
	copy(s.buf[s.pos:], p)
	s.pos += len(p)
	return nil
}

func (s *FixedBuffer) Put(b byte) error       { return s.write([]byte{b}) }
func (s *FixedBuffer) PutBytes(p []byte) error { return s.write(p) }

func (s *FixedBuffer) PutShort(v int16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return s.write(b[:])
}

func (s *FixedBuffer) PutInt(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return s.write(b[:])
}

func (s *FixedBuffer) PutLong(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return s.write(b[:])
}

func (s *FixedBuffer) PutFloat(v float32) error {
	return s.PutInt(int32(math.Float32bits(v)))
}

func (s *FixedBuffer) PutDouble(v float64) error {
	return s.PutLong(int64(math.Float64bits(v)))
}

func (s *FixedBuffer) PutChar(v rune) error {
	var b [4]byte
	n := utf8EncodeRune(b[:], v)
	return s.write(b[:n])
}

func (s *FixedBuffer) PutUtf8(str string) error { return s.write([]byte(str)) }

func (s *FixedBuffer) Position() (uint64, error) { return uint64(s.pos), nil }
func (s *FixedBuffer) Flush() error               { return nil }

// Bytes returns the written prefix of the underlying buffer.
func (s *FixedBuffer) Bytes() []byte { return s.buf[:s.pos] }

func utf8EncodeRune(dst []byte, r rune) int {
	// local copy of unicode/utf8.EncodeRune to avoid importing "unicode/utf8"
	// just for this; kept here because every other primitive in this file
	// is hand-rolled big-endian encoding rather than a library call.
	const (
		t1 = 0x00
		tx = 0x80
		t2 = 0xC0
		t3 = 0xE0
		t4 = 0xF0

		maskx = 0x3F
	)
	switch i := uint32(r); {
	case i <= 0x7F:
		dst[0] = byte(r)
		return 1
	case i <= 0x7FF:
		dst[0] = t2 | byte(r>>6)
		dst[1] = tx | byte(r)&maskx
		return 2
	case i > 0x10FFFF || (i >= 0xD800 && i <= 0xDFFF):
		dst[0] = 0xEF
		dst[1] = 0xBF
		dst[2] = 0xBD
		return 3
	case i <= 0xFFFF:
		dst[0] = t3 | byte(r>>12)
		dst[1] = tx | byte(r>>6)&maskx
		dst[2] = tx | byte(r)&maskx
		return 3
	default:
		dst[0] = t4 | byte(r>>18)
		dst[1] = tx | byte(r>>12)&maskx
		dst[2] = tx | byte(r>>6)&maskx
		dst[3] = tx | byte(r)&maskx
		return 4
	}
}

// Null discards all writes but still tracks Position, so size estimation
// works without allocating the bytes being sized.
type Null struct{ pos uint64 }

func NewNull() *Null { return &Null{} }

func (s *Null) Put(b byte) error        { s.pos++; return nil }
func (s *Null) PutBytes(p []byte) error { s.pos += uint64(len(p)); return nil }
func (s *Null) PutShort(v int16) error  { s.pos += 2; return nil }
func (s *Null) PutInt(v int32) error    { s.pos += 4; return nil }
func (s *Null) PutLong(v int64) error   { s.pos += 8; return nil }
func (s *Null) PutFloat(v float32) error { s.pos += 4; return nil }
func (s *Null) PutDouble(v float64) error { s.pos += 8; return nil }
func (s *Null) PutChar(v rune) error {
	var b [4]byte
	s.pos += uint64(utf8EncodeRune(b[:], v))
	return nil
}
func (s *Null) PutUtf8(str string) error { s.pos += uint64(len(str)); return nil }
func (s *Null) Position() (uint64, error) { return s.pos, nil }
func (s *Null) Flush() error              { return nil }

// BufferedFile is a Sink that accumulates writes into a fixed-size scratch
// buffer, draining to the underlying file on Flush or whenever the next
// operation would not fit. Operations larger than the scratch buffer bypass
// it after a forced flush. Grounded on
// go/store/nbs/byte_sink_test.go's TestBufferedFileByteSink.
type BufferedFile struct {
	f         *os.File
	scratch   []byte
	fill      int
	fileBytes uint64
}

// NewBufferedFile creates a new temp file in dir (the system temp directory
// if dir == "") and wraps it with a scratchSize-byte accumulation buffer.
func NewBufferedFile(dir string, scratchSize int) (*BufferedFile, error) {
	f, err := os.CreateTemp(dir, "kernel-sink-")
	if err != nil {
		return nil, kerr.New(kerr.IoError, "sink.NewBufferedFile", err)
	}
	return &BufferedFile{f: f, scratch: make([]byte, scratchSize)}, nil
}

func (s *BufferedFile) drain() error {
	if s.fill == 0 {
		return nil
	}
	if _, err := s.f.Write(s.scratch[:s.fill]); err != nil {
		return kerr.New(kerr.IoError, "sink.BufferedFile.drain", err)
	}
	s.fileBytes += uint64(s.fill)
	s.fill = 0
	return nil
}

func (s *BufferedFile) write(p []byte) error {
	if len(p) > len(s.scratch) {
		if err := s.drain(); err != nil {
			return err
		}
		if _, err := s.f.Write(p); err != nil {
			return kerr.New(kerr.IoError, "sink.BufferedFile.write", err)
		}
		s.fileBytes += uint64(len(p))
		return nil
	}
	if s.fill+len(p) > len(s.scratch) {
		if err := s.drain(); err != nil {
			return err
		}
	}
	copy(s.scratch[s.fill:], p)
	s.fill += len(p)
	return nil
}

func (s *BufferedFile) Put(b byte) error        { return s.write([]byte{b}) }
func (s *BufferedFile) PutBytes(p []byte) error { return s.write(p) }

func (s *BufferedFile) PutShort(v int16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return s.write(b[:])
}

func (s *BufferedFile) PutInt(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return s.write(b[:])
}

func (s *BufferedFile) PutLong(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return s.write(b[:])
}

func (s *BufferedFile) PutFloat(v float32) error {
	return s.PutInt(int32(math.Float32bits(v)))
}

func (s *BufferedFile) PutDouble(v float64) error {
	return s.PutLong(int64(math.Float64bits(v)))
}

func (s *BufferedFile) PutChar(v rune) error {
	var b [4]byte
	n := utf8EncodeRune(b[:], v)
	return s.write(b[:n])
}

func (s *BufferedFile) PutUtf8(str string) error { return s.write([]byte(str)) }

func (s *BufferedFile) Position() (uint64, error) {
	return s.fileBytes + uint64(s.fill), nil
}

func (s *BufferedFile) Flush() error {
	if err := s.drain(); err != nil {
		return err
	}
	if err := s.f.Sync(); err != nil {
		return kerr.New(kerr.IoError, "sink.BufferedFile.Flush", err)
	}
	return nil
}

// Reader returns a fresh *os.File handle positioned at the start of the
// sink's contents, for callers that want to read back what they wrote
// (e.g. to atomically publish it elsewhere). The caller owns closing it.
func (s *BufferedFile) Reader() (*os.File, error) {
	if err := s.Flush(); err != nil {
		return nil, err
	}
	r, err := os.Open(s.f.Name())
	if err != nil {
		return nil, kerr.New(kerr.IoError, "sink.BufferedFile.Reader", err)
	}
	return r, nil
}

// Path returns the temp file path backing this sink.
func (s *BufferedFile) Path() string { return s.f.Name() }

// Close flushes and closes the underlying file, but does not remove it.
func (s *BufferedFile) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if err := s.f.Close(); err != nil {
		return kerr.New(kerr.IoError, "sink.BufferedFile.Close", err)
	}
	return nil
}

// Hashing forwards every Put through a 256-bit hash function. Position is
// undefined for a hashing sink and fails loudly, per spec.md §4.1.
type Hashing struct {
	h interface {
		io.Writer
		Sum(b []byte) []byte
	}
}

// NewHashing wraps h (e.g. crypto/sha256.New()) as a Sink.
func NewHashing(h interface {
	io.Writer
	Sum(b []byte) []byte
}) *Hashing {
	return &Hashing{h: h}
}

func (s *Hashing) write(p []byte) error {
	if _, err := s.h.Write(p); err != nil {
		return kerr.New(kerr.IoError, "sink.Hashing.write", err)
	}
	return nil
}

func (s *Hashing) Put(b byte) error        { return s.write([]byte{b}) }
func (s *Hashing) PutBytes(p []byte) error { return s.write(p) }

func (s *Hashing) PutShort(v int16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	return s.write(b[:])
}

func (s *Hashing) PutInt(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return s.write(b[:])
}

func (s *Hashing) PutLong(v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return s.write(b[:])
}

func (s *Hashing) PutFloat(v float32) error  { return s.PutInt(int32(math.Float32bits(v))) }
func (s *Hashing) PutDouble(v float64) error { return s.PutLong(int64(math.Float64bits(v))) }

func (s *Hashing) PutChar(v rune) error {
	var b [4]byte
	n := utf8EncodeRune(b[:], v)
	return s.write(b[:n])
}

func (s *Hashing) PutUtf8(str string) error { return s.write([]byte(str)) }

func (s *Hashing) Position() (uint64, error) {
	return 0, kerr.Newf(kerr.StateError, "sink.Hashing.Position", "position is undefined for a hashing sink")
}

func (s *Hashing) Flush() error { return nil }

// Sum returns the accumulated digest.
func (s *Hashing) Sum() []byte { return s.h.Sum(nil) }
