package scr

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpinBarrierArriveDesignatesExactlyOneLast(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	b := NewSpinBarrier(mem, OffsetShireBarriers, 8)

	var wg sync.WaitGroup
	var lastCount int32
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			last, _, err := b.Arrive()
			assert.NoError(t, err)
			if last {
				mu.Lock()
				lastCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), lastCount)
}

func TestSpinBarrierWaitReturnsOnceTargetReached(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	b := NewSpinBarrier(mem, OffsetShireBarriers, 2)

	done := make(chan bool, 1)
	go func() {
		ok, err := b.Wait(2 * time.Second)
		assert.NoError(t, err)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	_, _, err := b.Arrive()
	assert.NoError(t, err)
	_, _, err = b.Arrive()
	assert.NoError(t, err)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after target reached")
	}
}

func TestSpinBarrierWaitTimesOut(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	b := NewSpinBarrier(mem, OffsetShireBarriers, 2)
	ok, err := b.Wait(20 * time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSpinBarrierResetAllowsReuse(t *testing.T) {
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	b := NewSpinBarrier(mem, OffsetShireBarriers, 2)
	_, _, _ = b.Arrive()
	last, _, _ := b.Arrive()
	assert.True(t, last)
	assert.NoError(t, b.Reset())

	count, err := b.Count()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), count)

	last, _, err = b.Arrive()
	assert.NoError(t, err)
	assert.False(t, last)
}

func TestLaunchBarrierExactlyOneLaunchLastAcrossRepeatedLaunches(t *testing.T) {
	const numShires = 3
	const threadsPerShire = 4
	mem := NewInMemoryProvider(SCR_SIZE_MIN)
	lb := NewLaunchBarrier(mem, numShires, threadsPerShire)

	for launch := 0; launch < 5; launch++ {
		var wg sync.WaitGroup
		var launchLastCount int32
		var shireLastCount int32
		var mu sync.Mutex

		for shire := 0; shire < numShires; shire++ {
			for thread := 0; thread < threadsPerShire; thread++ {
				wg.Add(1)
				go func(shire int) {
					defer wg.Done()
					shireLast, launchLast, err := lb.Synchronize(shire)
					assert.NoError(t, err)
					if shireLast {
						mu.Lock()
						shireLastCount++
						mu.Unlock()
					}
					if launchLast {
						mu.Lock()
						launchLastCount++
						mu.Unlock()
					}
				}(shire)
			}
		}
		wg.Wait()

		assert.Equal(t, int32(numShires), shireLastCount)
		assert.Equal(t, int32(1), launchLastCount)
		assert.NoError(t, lb.Reset())
	}
}
