package sproto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fiterrors "fitcore/internal/errors"
)

func TestSafeReadsMatchRangeCheck(t *testing.T) {
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(0x10 + i)
	}
	mem := &Memory{Base: 100, Data: data}
	rng := mem.Range()

	for addr := uint32(90); addr < 120; addr++ {
		inRange := func(size uint32) bool {
			return addr >= rng.Base && uint64(addr)+uint64(size) <= rng.End()
		}

		v8, err := ReadU8Safe(mem, addr, rng)
		if inRange(1) {
			require.NoError(t, err, "addr %d", addr)
			assert.Equal(t, ReadU8(mem, addr), v8)
		} else {
			assert.True(t, errors.Is(err, fiterrors.ErrInvalidFormat), "addr %d", addr)
			assert.Zero(t, v8)
		}

		v16, err := ReadU16Safe(mem, addr, rng)
		if inRange(2) {
			require.NoError(t, err, "addr %d", addr)
			assert.Equal(t, ReadU16(mem, addr), v16)
		} else {
			assert.Error(t, err, "addr %d", addr)
		}

		v32, err := ReadU32Safe(mem, addr, rng)
		if inRange(4) {
			require.NoError(t, err, "addr %d", addr)
			assert.Equal(t, ReadU32(mem, addr), v32)
		} else {
			assert.Error(t, err, "addr %d", addr)
		}

		v64, err := ReadU64Safe(mem, addr, rng)
		if inRange(8) {
			require.NoError(t, err, "addr %d", addr)
			assert.Equal(t, ReadU64(mem, addr), v64)
		} else {
			assert.Error(t, err, "addr %d", addr)
		}
	}
}

func TestReadAtEndIsOutOfRange(t *testing.T) {
	mem := &Memory{Base: 8, Data: []byte{1, 2, 3, 4}}
	_, err := ReadU8Safe(mem, 12, mem.Range())
	assert.Error(t, err)

	v, err := ReadU8Safe(mem, 11, mem.Range())
	require.NoError(t, err)
	assert.Equal(t, uint8(4), v)
}

func TestLittleEndianDecoding(t *testing.T) {
	mem := NewMemory([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})

	assert.Equal(t, uint16(0x0201), ReadU16(mem, 0))
	assert.Equal(t, uint32(0x04030201), ReadU32(mem, 0))
	assert.Equal(t, uint64(0x0807060504030201), ReadU64(mem, 0))
}

func TestProbeOverflow(t *testing.T) {
	rng := Range{Base: 0xFFFFFFF0, Length: 0x10}
	assert.NoError(t, Probe(0xFFFFFFF8, 8, rng))
	assert.Error(t, Probe(0xFFFFFFFC, 8, rng))
}

func TestCopyOutAndEqual(t *testing.T) {
	mem := NewMemory([]byte("hello world"))
	rng := mem.Range()

	b, err := CopyOut(mem, 6, 5, rng)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), b)

	_, err = CopyOut(mem, 7, 5, rng)
	assert.Error(t, err)

	ok, err := Equal(mem, 0, []byte("hello"), rng)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Equal(mem, 0, []byte("hellO"), rng)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReaderAtSource(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	src := NewReaderAtSource(bytes.NewReader(data), 0x1000, 64)
	rng := Range{Base: 0x1000, Length: uint32(len(data))}

	for _, addr := range []uint32{0x1000, 0x103F, 0x1040, 0x13E0} {
		want := ReadU32(NewMemory(data), addr-0x1000)
		got, err := ReadU32Safe(src, addr, rng)
		require.NoError(t, err)
		assert.Equal(t, want, got, "addr %#x", addr)
	}

	assert.Equal(t, byte(0xFF), src.ByteAt(0x0FFF))
	assert.Equal(t, byte(0xFF), src.ByteAt(0x1000+2000))
	assert.NoError(t, src.Err())

	b, err := CopyOut(src, 0x1000, 10, rng)
	require.NoError(t, err)
	assert.Equal(t, data[:10], b)
}
