package gpubuf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/rtkit/accel/rterr"
)

func TestNewHost(t *testing.T) {
	b, err := NewHost(10, 4)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 10, b.Count())
	assert.Equal(t, 4, b.Stride())
	assert.Len(t, b.Bytes(), 40)
	assert.Equal(t, 10, SizeDwords(b))

	_, isSyncer := b.(Syncer)
	assert.False(t, isSyncer)
}

func TestNewMapped(t *testing.T) {
	b, err := NewMapped(1024, 16)
	require.NoError(t, err)

	assert.Len(t, b.Bytes(), 1024*16)
	b.Bytes()[100] = 0xAB
	assert.Equal(t, byte(0xAB), b.Bytes()[100])

	s, ok := b.(Syncer)
	require.True(t, ok)
	require.NoError(t, s.Sync(0, 4096))
	assert.ErrorIs(t, s.Sync(16*1024-1, 2), ErrOutOfRange)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "second close is a no-op")
	assert.Nil(t, b.Bytes())
	assert.ErrorIs(t, s.Sync(0, 1), ErrClosed)
}

func TestNewBuffer_InvalidSize(t *testing.T) {
	for _, f := range []Factory{NewHost, NewMapped} {
		_, err := f(-1, 4)
		assert.ErrorIs(t, err, ErrInvalidSize)
		_, err = f(1, 0)
		assert.ErrorIs(t, err, ErrInvalidSize)
	}
}

func TestNewBuffer_TooLarge(t *testing.T) {
	for _, f := range []Factory{NewHost, NewMapped} {
		_, err := f(MaxBufferBytes/4+1, 4)
		require.Error(t, err)
		assert.True(t, errors.Is(err, rterr.ErrOutOfGraphicsBufferMemory))
		assert.Equal(t, rterr.OutOfGraphicsBufferMemory, rterr.CodeOf(err))
	}
}

func TestNewBuffer_ZeroCount(t *testing.T) {
	b, err := NewMapped(0, 64)
	require.NoError(t, err)
	assert.Empty(t, b.Bytes())
	require.NoError(t, b.Close())
}

func TestFactoryFor(t *testing.T) {
	b, err := FactoryFor(true)(4, 4)
	require.NoError(t, err)
	defer b.Close()
	assert.IsType(t, &mappedBuffer{}, b)

	h, err := FactoryFor(false)(4, 4)
	require.NoError(t, err)
	assert.IsType(t, &hostBuffer{}, h)
}

func TestFloat32s(t *testing.T) {
	b, err := NewHost(8, 4)
	require.NoError(t, err)

	require.NoError(t, PutFloat32s(b, 2, []float32{1.5, -2, 3.25}))
	got, err := Float32s(b, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1.5, -2, 3.25, 0}, got)

	assert.ErrorIs(t, PutFloat32s(b, 6, []float32{1, 2, 3}), ErrOutOfRange)
	_, err = Float32s(b, -1, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	b.Close()
	_, err = Float32s(b, 0, 1)
	assert.ErrorIs(t, err, ErrClosed)
}
