package sink

import (
	"crypto/sha256"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// SinkSuite exercises the Sink contract against every concrete
// implementation, grounded on go/store/nbs/byte_sink_test.go's
// TableSinkSuite pattern of running one contract against many backends.
type SinkSuite struct {
	suite.Suite
	newSink func() Sink
}

func (s *SinkSuite) TestWriteAdvancesPosition() {
	sink := s.newSink()
	require.NoError(s.T(), sink.Put(0xAB))
	require.NoError(s.T(), sink.PutInt(42))
	require.NoError(s.T(), sink.PutLong(-7))
	require.NoError(s.T(), sink.PutUtf8("hi"))
	require.NoError(s.T(), sink.Flush())

	pos, err := sink.Position()
	require.NoError(s.T(), err)
	assert.Equal(s.T(), uint64(1+4+8+2), pos)
}

func TestFixedBufferSink(t *testing.T) {
	suite.Run(t, &SinkSuite{newSink: func() Sink {
		return NewFixedBuffer(make([]byte, 64))
	}})
}

func TestNullSink(t *testing.T) {
	suite.Run(t, &SinkSuite{newSink: func() Sink {
		return NewNull()
	}})
}

func TestBufferedFileSink(t *testing.T) {
	suite.Run(t, &SinkSuite{newSink: func() Sink {
		bf, err := NewBufferedFile("", 4)
		require.NoError(t, err)
		return bf
	}})
}

func TestFixedBufferOverflow(t *testing.T) {
	s := NewFixedBuffer(make([]byte, 2))
	require.NoError(t, s.PutShort(1))
	err := s.Put(1)
	require.Error(t, err)
}

func TestBufferedFileDrainsOnOverflow(t *testing.T) {
	bf, err := NewBufferedFile("", 4)
	require.NoError(t, err)
	defer os.Remove(bf.Path())

	require.NoError(t, bf.PutBytes([]byte{1, 2, 3}))
	require.NoError(t, bf.PutBytes([]byte{4, 5, 6}))
	require.NoError(t, bf.Close())

	data, err := os.ReadFile(bf.Path())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, data)
}

func TestBufferedFileOperationLargerThanScratchBypasses(t *testing.T) {
	bf, err := NewBufferedFile("", 4)
	require.NoError(t, err)
	defer os.Remove(bf.Path())

	big := make([]byte, 100)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, bf.PutBytes(big))
	require.NoError(t, bf.Close())

	data, err := os.ReadFile(bf.Path())
	require.NoError(t, err)
	assert.Equal(t, big, data)
}

func TestHashingSinkPositionFails(t *testing.T) {
	h := NewHashing(sha256.New())
	require.NoError(t, h.PutUtf8("abc"))
	_, err := h.Position()
	assert.Error(t, err)
	assert.Len(t, h.Sum(), sha256.Size)
}

func TestBufferSourceRoundTrip(t *testing.T) {
	buf := make([]byte, 32)
	w := NewFixedBuffer(buf)
	require.NoError(t, w.PutInt(123))
	require.NoError(t, w.PutLong(-99))
	require.NoError(t, w.PutFloat(1.5))
	require.NoError(t, w.PutDouble(2.5))

	r := NewBufferSource(w.Bytes())
	i, err := r.GetInt(0)
	require.NoError(t, err)
	assert.Equal(t, int32(123), i)

	l, err := r.GetLong(4)
	require.NoError(t, err)
	assert.Equal(t, int64(-99), l)

	f, err := r.GetFloat(12)
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f)

	d, err := r.GetDouble(16)
	require.NoError(t, err)
	assert.Equal(t, float64(2.5), d)
}

func TestBufferSourceOutOfRange(t *testing.T) {
	r := NewBufferSource([]byte{1, 2, 3})
	_, err := r.GetBytes(2, 5)
	assert.Error(t, err)
}

func TestMappedSourceRoundTrip(t *testing.T) {
	f, err := os.CreateTemp("", "kernel-mapped-")
	require.NoError(t, err)
	defer os.Remove(f.Name())

	buf := make([]byte, 16)
	w := NewFixedBuffer(buf)
	require.NoError(t, w.PutInt(7))
	require.NoError(t, w.PutLong(8))
	_, err = f.Write(w.Bytes())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	m, err := OpenMapped(f.Name())
	require.NoError(t, err)
	defer m.Close()

	i, err := m.GetInt(0)
	require.NoError(t, err)
	assert.Equal(t, int32(7), i)

	l, err := m.GetLong(4)
	require.NoError(t, err)
	assert.Equal(t, int64(8), l)

	assert.Equal(t, 16, m.Len())
}
