package scr

import (
	"runtime"
	"sync"
	"time"
)

// SpinBarrier is a reusable counting barrier backed by a single atomic
// cell: arrival increments the counter and the hart that pushes it to
// target is designated "last" and responsible for resetting it for the
// next launch. Waiters use a short busy-spin before falling back to a
// channel notification, so the common case (the barrier already at
// target when Wait is called) never touches the scheduler.
type SpinBarrier struct {
	mem           MemoryProvider
	counterOffset uint32
	target        uint32

	waitersMu sync.RWMutex
	waiters   []chan struct{}
}

// NewSpinBarrier returns a barrier over the counter cell at counterOffset
// with the given arrival target.
func NewSpinBarrier(mem MemoryProvider, counterOffset uint32, target uint32) *SpinBarrier {
	return &SpinBarrier{mem: mem, counterOffset: counterOffset, target: target}
}

// Arrive increments the counter and reports whether this call observed
// it reach target (the post-increment value returned by the atomic add
// equals target for exactly one caller, even under concurrent arrival).
func (b *SpinBarrier) Arrive() (last bool, count uint32, err error) {
	count, err = b.mem.AtomicAdd32(b.counterOffset, 1)
	if err != nil {
		return false, 0, err
	}
	last = count == b.target
	if last {
		go b.notifyWaiters()
	}
	return last, count, nil
}

// Reset zeroes the counter, making the barrier usable for the next
// launch. Only the hart that observed last==true from Arrive should call
// this.
func (b *SpinBarrier) Reset() error {
	return b.mem.AtomicStore32(b.counterOffset, 0)
}

// Count returns the current arrival count without incrementing it.
func (b *SpinBarrier) Count() (uint32, error) {
	return b.mem.AtomicLoad32(b.counterOffset)
}

// Wait blocks until the counter reaches target or timeout elapses. A
// timeout of zero waits forever, matching hardware where a barrier never
// gives up: by design a launch barrier cannot deadlock because every
// participating hart is required to arrive exactly once.
func (b *SpinBarrier) Wait(timeout time.Duration) (bool, error) {
	const spinIterations = 256

	for i := 0; i < spinIterations; i++ {
		count, err := b.Count()
		if err != nil {
			return false, err
		}
		if count >= b.target {
			return true, nil
		}
		runtime.Gosched()
	}

	ch := make(chan struct{}, 1)
	b.addWaiter(ch)
	defer b.removeWaiter(ch)

	// Re-check after registering, in case the last arrival happened
	// between the spin loop and addWaiter.
	count, err := b.Count()
	if err != nil {
		return false, err
	}
	if count >= b.target {
		return true, nil
	}

	if timeout <= 0 {
		<-ch
		return true, nil
	}

	select {
	case <-ch:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	}
}

func (b *SpinBarrier) addWaiter(ch chan struct{}) {
	b.waitersMu.Lock()
	defer b.waitersMu.Unlock()
	b.waiters = append(b.waiters, ch)
}

func (b *SpinBarrier) removeWaiter(ch chan struct{}) {
	b.waitersMu.Lock()
	defer b.waitersMu.Unlock()
	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

func (b *SpinBarrier) notifyWaiters() {
	b.waitersMu.RLock()
	defer b.waitersMu.RUnlock()
	for _, ch := range b.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// LaunchBarrier is the two-level pre-launch synchronizer (C4): harts
// first arrive at their shire's SpinBarrier, and the hart that completes
// that level ("shire-last") goes on to arrive at the single global
// SpinBarrier shared across all participating shires. The hart that
// completes the global level is the "launch-last"; every hart still enters
// U-mode itself.
type LaunchBarrier struct {
	mem      MemoryProvider
	shires   []*SpinBarrier
	global   *SpinBarrier
}

// NewLaunchBarrier builds the hierarchy for numShires shires, each
// expecting threadsPerShire arrivals, with the global level expecting one
// arrival per shire. Use NewLaunchBarrierWithThreadCounts when shires do
// not all expect the same number of arrivals (the master shire only
// runs half its harts).
func NewLaunchBarrier(mem MemoryProvider, numShires int, threadsPerShire uint32) *LaunchBarrier {
	counts := make([]uint32, numShires)
	for i := range counts {
		counts[i] = threadsPerShire
	}
	return NewLaunchBarrierWithThreadCounts(mem, counts)
}

// NewLaunchBarrierWithThreadCounts builds the hierarchy where each shire
// may expect a different number of arrivals, keyed by its own
// RoleConfig.ParticipatingThreadCount.
func NewLaunchBarrierWithThreadCounts(mem MemoryProvider, threadCounts []uint32) *LaunchBarrier {
	shires := make([]*SpinBarrier, len(threadCounts))
	for i, count := range threadCounts {
		shires[i] = NewSpinBarrier(mem, OffsetShireBarriers+uint32(i)*BarrierEntrySize, count)
	}
	return &LaunchBarrier{
		mem:    mem,
		shires: shires,
		global: NewSpinBarrier(mem, OffsetLaunchBarrier, uint32(len(threadCounts))),
	}
}

// Synchronize arrives thread at its shire's barrier and, if it is that
// shire's last arrival, continues on to the global barrier. It returns
// shireLast (this hart completed its shire's level) and launchLast (this
// hart completed the global level).
func (l *LaunchBarrier) Synchronize(shire int) (shireLast, launchLast bool, err error) {
	shireLast, _, err = l.shires[shire].Arrive()
	if err != nil {
		return false, false, err
	}
	if !shireLast {
		return false, false, nil
	}
	launchLast, _, err = l.global.Arrive()
	if err != nil {
		return true, false, err
	}
	return true, launchLast, nil
}

// WaitShire blocks until shire's level has every expected arrival.
func (l *LaunchBarrier) WaitShire(shire int, timeout time.Duration) (bool, error) {
	return l.shires[shire].Wait(timeout)
}

// WaitGlobal blocks until every shire has reached the global level.
func (l *LaunchBarrier) WaitGlobal(timeout time.Duration) (bool, error) {
	return l.global.Wait(timeout)
}

// Reset zeroes every level, readying the barrier for the next launch.
// Must only be called once all waiters have observed completion.
func (l *LaunchBarrier) Reset() error {
	for _, s := range l.shires {
		if err := s.Reset(); err != nil {
			return err
		}
	}
	return l.global.Reset()
}
