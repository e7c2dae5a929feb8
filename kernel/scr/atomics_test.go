package scr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCellLoadStoreAdd(t *testing.T) {
	mem := NewInMemoryProvider(64)
	c := GlobalCell(mem, 0)

	assert.NoError(t, c.Store(7))
	v, err := c.Load()
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	prev, err := c.Add(3)
	assert.NoError(t, err)
	assert.Equal(t, uint32(10), prev)
}

func TestCellExchangeAndMasks(t *testing.T) {
	mem := NewInMemoryProvider(64)
	c := GlobalCell(mem, 1)
	assert.NoError(t, c.Store(0b1010))

	prev, err := c.Exchange(0b0101)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0b1010), prev)

	prevOr, err := c.Or(0b1000)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0b0101), prevOr)

	v, _ := c.Load()
	assert.Equal(t, uint32(0b1101), v)

	prevAnd, err := c.And(0b0001)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0b1101), prevAnd)

	v, _ = c.Load()
	assert.Equal(t, uint32(0b0001), v)
}

func TestByteCellIsolatesItsByte(t *testing.T) {
	mem := NewInMemoryProvider(64)
	// Set the whole containing word to a known pattern first.
	assert.NoError(t, mem.AtomicStore32(8, 0xAABBCCDD))

	b1 := Byte(mem, 9) // second byte: 0xCC
	v, err := b1.Load()
	assert.NoError(t, err)
	assert.Equal(t, uint8(0xCC), v)

	assert.NoError(t, b1.Store(0x11))
	word, _ := mem.AtomicLoad32(8)
	assert.Equal(t, uint32(0xAABB11DD), word)

	ok, err := b1.CAS(0x11, 0x22)
	assert.NoError(t, err)
	assert.True(t, ok)
	ok, err = b1.CAS(0x11, 0x33)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestHalfCellIsolatesItsHalf(t *testing.T) {
	mem := NewInMemoryProvider(64)
	assert.NoError(t, mem.AtomicStore32(16, 0xAABBCCDD))

	h := Half(mem, 16) // low half: 0xCCDD
	v, err := h.Load()
	assert.NoError(t, err)
	assert.Equal(t, uint16(0xCCDD), v)

	assert.NoError(t, h.Store(0x0000))
	word, _ := mem.AtomicLoad32(16)
	assert.Equal(t, uint32(0xAABB0000), word)
}

func TestCell64(t *testing.T) {
	mem := NewInMemoryProvider(64)
	c := GlobalCell64(mem, 0)
	assert.NoError(t, c.Store(1<<40))
	prev, err := c.Or(1 << 5)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1<<40), prev)

	v, _ := c.Load()
	assert.Equal(t, uint64(1<<40|1<<5), v)
}
