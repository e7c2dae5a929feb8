package scr

import (
	"errors"
	"fmt"
)

// Write-ownership guard for entries that carry a guard header (lock,
// epoch, violation counter, owner) as their first 16 bytes, currently
// ShireLaunchInfo entries. A single writer (the hart currently driving
// that shire's launch) holds the lock for the duration of a state
// transition; concurrent attempts are rejected rather than queued, since
// a launch-info entry is only ever legitimately touched by one hart at a
// time and contention indicates a programming error upstream.

const (
	guardLock       = 0
	guardEpoch      = 4
	guardViolations = 8
	guardOwner      = 12
	guardHeaderSize = 16
)

// AccessMode describes how an entry may be written.
type AccessMode int

const (
	// SingleWriter allows exactly one owner to hold the guard at a time.
	SingleWriter AccessMode = iota
	// ReadOnly rejects all write acquisitions.
	ReadOnly
)

// ErrGuardHeld is returned when a region is already locked by another owner.
var ErrGuardHeld = errors.New("region guard already held")

// ErrReadOnlyRegion is returned when acquiring a write guard over a
// ReadOnly-mode region.
var ErrReadOnlyRegion = errors.New("region is read-only")

// RegionGuard represents a held write lock over one entry's guard header.
type RegionGuard struct {
	mem   MemoryProvider
	base  uint32
	owner uint32
	epoch uint32
}

// AcquireRegionWrite attempts to take the write lock on the entry at
// base. mode gates whether writes are permitted at all; owner identifies
// the caller for diagnostic purposes (typically a flat hart index).
func AcquireRegionWrite(mem MemoryProvider, base uint32, mode AccessMode, owner uint32) (*RegionGuard, error) {
	if mode == ReadOnly {
		return nil, ErrReadOnlyRegion
	}

	ok, err := mem.AtomicCAS32(base+guardLock, 0, 1)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, incErr := mem.AtomicAdd32(base+guardViolations, 1); incErr != nil {
			return nil, incErr
		}
		return nil, ErrGuardHeld
	}

	if err := mem.AtomicStore32(base+guardOwner, owner); err != nil {
		return nil, err
	}
	epoch, err := mem.AtomicLoad32(base + guardEpoch)
	if err != nil {
		return nil, err
	}
	return &RegionGuard{mem: mem, base: base, owner: owner, epoch: epoch}, nil
}

// EnsureEpochAdvanced validates that the entry's epoch moved forward
// since the guard was acquired, catching a writer that released without
// actually recording the transition it held the lock for.
func (g *RegionGuard) EnsureEpochAdvanced() error {
	current, err := g.mem.AtomicLoad32(g.base + guardEpoch)
	if err != nil {
		return err
	}
	if current <= g.epoch {
		return fmt.Errorf("guard: epoch not advanced at offset %#x", g.base)
	}
	return nil
}

// Release advances the entry's epoch and clears the lock, making the
// entry available to the next writer.
func (g *RegionGuard) Release() error {
	if _, err := g.mem.AtomicAdd32(g.base+guardEpoch, 1); err != nil {
		return err
	}
	return g.mem.AtomicStore32(g.base+guardLock, 0)
}

// Violations returns the number of rejected acquisition attempts recorded
// against the entry at base since it was last reset.
func Violations(mem MemoryProvider, base uint32) (uint32, error) {
	return mem.AtomicLoad32(base + guardViolations)
}

// Owner returns the flat hart index currently holding (or last to hold)
// the guard at base.
func Owner(mem MemoryProvider, base uint32) (uint32, error) {
	return mem.AtomicLoad32(base + guardOwner)
}

// String renders a guard for log fields.
func (g *RegionGuard) String() string {
	return fmt.Sprintf("guard{base=%#x owner=%d epoch=%d}", g.base, g.owner, g.epoch)
}
