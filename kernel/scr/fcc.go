package scr

import (
	"runtime"
	"time"
)

// FCC ("fast condition code") barriers are the C1 per-shire rendezvous
// primitive: each shire keeps two of them, index 0 for a pre-launch
// rendezvous and index 1 for the post-launch one that phase 5 of the
// orchestrator waits on, both reusable once every participant has arrived
// and departed. The pre-launch synchronizer itself is LaunchBarrier
// (barrier.go), which does not use FCC barriers.

const (
	fccFieldArrivalMask = 0
	fccFieldEpoch       = 8
)

// FCCBarrier is one of a shire's two reusable fast-condition-code
// barriers.
type FCCBarrier struct {
	mem  MemoryProvider
	base uint32
}

// InitFCC returns the i'th FCC barrier (0 or 1) for shire, clearing its
// arrival mask so it is ready for a fresh rendezvous.
func InitFCC(mem MemoryProvider, shire int, i uint8) (*FCCBarrier, error) {
	base := OffsetFCC + uint32(shire)*FCCEntrySize + uint32(i)*FCCSubEntrySize
	b := &FCCBarrier{mem: mem, base: base}
	if err := mem.AtomicStore64(base+fccFieldArrivalMask, 0); err != nil {
		return nil, err
	}
	return b, nil
}

// Wait registers the calling hart's arrival (identified by threadBit, the
// calling thread's index within the shire) and blocks until the
// threadCount threads whose bits make up minionMask have all arrived.
// Once every expected bit is set the barrier clears itself and releases
// all waiters, making it immediately reusable for the next rendezvous.
func (b *FCCBarrier) Wait(threadBit uint, threadCount int, minionMask uint64) error {
	// Read the epoch before arriving, so a release that lands between
	// this hart's arrival and its first poll is still observed.
	startEpoch, err := b.mem.AtomicLoad32(b.base + fccFieldEpoch)
	if err != nil {
		return err
	}

	arrived, err := b.arrive(threadBit)
	if err != nil {
		return err
	}

	expected := minionMask
	if arrived&expected == expected && popcount64(expected) == threadCount {
		// This hart observed every expected bit already set: it is the
		// last arrival and releases the barrier for the next round.
		return b.release()
	}

	return b.spinUntilReleased(startEpoch)
}

func (b *FCCBarrier) arrive(threadBit uint) (uint64, error) {
	mask := uint64(1) << threadBit
	cell := Cell64{mem: b.mem, offset: b.base + fccFieldArrivalMask}
	prev, err := cell.Or(mask)
	if err != nil {
		return 0, err
	}
	return prev | mask, nil
}

func (b *FCCBarrier) release() error {
	if err := b.mem.AtomicStore64(b.base+fccFieldArrivalMask, 0); err != nil {
		return err
	}
	_, err := b.mem.AtomicAdd32(b.base+fccFieldEpoch, 1)
	return err
}

// spinUntilReleased waits for the epoch to advance past startEpoch, which
// happens once the last expected arrival has cleared the mask in
// release().
func (b *FCCBarrier) spinUntilReleased(startEpoch uint32) error {
	for {
		current, err := b.mem.AtomicLoad32(b.base + fccFieldEpoch)
		if err != nil {
			return err
		}
		if current != startEpoch {
			return nil
		}
		runtime.Gosched()
		time.Sleep(time.Microsecond)
	}
}

func popcount64(v uint64) int {
	count := 0
	for v != 0 {
		v &= v - 1
		count++
	}
	return count
}
