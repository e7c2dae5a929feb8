package scr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquireRegionWriteRejectsSecondHolder(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	guard, err := AcquireRegionWrite(mem, 0, SingleWriter, 1)
	assert.NoError(t, err)
	assert.NotNil(t, guard)

	_, err = AcquireRegionWrite(mem, 0, SingleWriter, 2)
	assert.ErrorIs(t, err, ErrGuardHeld)

	violations, err := Violations(mem, 0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), violations)

	owner, err := Owner(mem, 0)
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), owner)

	assert.NoError(t, guard.Release())

	guard2, err := AcquireRegionWrite(mem, 0, SingleWriter, 2)
	assert.NoError(t, err)
	assert.NoError(t, guard2.Release())
}

func TestAcquireRegionWriteRejectsReadOnly(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	_, err := AcquireRegionWrite(mem, 0, ReadOnly, 1)
	assert.ErrorIs(t, err, ErrReadOnlyRegion)
}

func TestRegionGuardEnsureEpochAdvanced(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	guard, err := AcquireRegionWrite(mem, 0, SingleWriter, 1)
	assert.NoError(t, err)

	// No write recorded yet: the epoch this guard captured at acquire
	// time has not moved.
	assert.Error(t, guard.EnsureEpochAdvanced())

	_, err = mem.AtomicAdd32(0+guardEpoch, 1)
	assert.NoError(t, err)
	assert.NoError(t, guard.EnsureEpochAdvanced())
	assert.NoError(t, guard.Release())
}
