package scr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcasterPublishAvailable(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	b := NewBroadcaster(mem)

	_, seq, ok, err := b.Available(0)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint32(0), seq)

	env := Envelope{Number: 1, ID: MessageKernelLaunch}
	env.Payload[0] = 0xAB
	assert.NoError(t, b.Publish(env))

	got, newSeq, ok, err := b.Available(seq)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(1), newSeq)
	assert.Equal(t, MessageKernelLaunch, got.ID)
	assert.Equal(t, byte(0xAB), got.Payload[0])

	_, _, ok, err = b.Available(newSeq)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestUnicastRingSendReceiveFIFO(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	cs := NewChannelSet(mem)
	ring, err := cs.UnicastRing(3)
	assert.NoError(t, err)

	for i := uint8(0); i < 4; i++ {
		assert.NoError(t, ring.Send(Envelope{Number: i, ID: MessageKernelComplete}))
	}

	for i := uint8(0); i < 4; i++ {
		env, ok, err := ring.Receive()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, i, env.Number)
	}

	_, ok, err := ring.Receive()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestUnicastRingReturnsErrBusyWhenFull(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	cs := NewChannelSet(mem)
	ring, err := cs.UnicastRing(0)
	assert.NoError(t, err)

	for i := 0; i < UnicastDepth; i++ {
		assert.NoError(t, ring.Send(Envelope{Number: uint8(i)}))
	}
	assert.ErrorIs(t, ring.Send(Envelope{}), ErrBusy)

	_, ok, err := ring.Receive()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, ring.Send(Envelope{Number: 99}))
}

func TestUnicastRingRejectsOutOfRangeSlot(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	cs := NewChannelSet(mem)
	_, err := cs.UnicastRing(MaxUnicastSlot)
	assert.ErrorIs(t, err, ErrNoSlot)
	_, err = cs.UnicastRing(-1)
	assert.ErrorIs(t, err, ErrNoSlot)
}
