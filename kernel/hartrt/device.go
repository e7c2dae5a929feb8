// Package hartrt implements the hart runtime (D2): a device owning every
// shire's harts, each running the C5 orchestrator on a dedicated
// goroutine woken by the C2 broadcast channel.
package hartrt

import (
	"context"
	"errors"
	"sync"

	"github.com/aifoundry-org/et-platform-sub018/kernel/launch"
	"github.com/aifoundry-org/et-platform-sub018/kernel/registry"
	"github.com/aifoundry-org/et-platform-sub018/kernel/scr"
	"github.com/aifoundry-org/et-platform-sub018/kernel/utils"
)

// ErrShireMaskEmpty is returned by Dispatch for a launch naming no shires.
var ErrShireMaskEmpty = errors.New("hartrt: shire_mask must be non-zero")

// Hart is one goroutine-pinned participant in a shire.
type Hart struct {
	ctx *launch.HartContext
}

// Shire groups the harts belonging to one shire plus the shared state
// they synchronize through.
type Shire struct {
	ID    int
	Harts []*Hart
	State *launch.ShireState
}

// Device owns every shire and the shared SCR, registry, and slot table
// backing a kernel launch lifecycle.
type Device struct {
	mem      scr.MemoryProvider
	shires   []*Shire
	barrier  *scr.LaunchBarrier
	registry *registry.KernelRegistry
	slots    *registry.SlotTable
	channels *scr.ChannelSet
	logger   *utils.Logger
}

// NewDevice builds a device with shireCount shires of hartsPerShire harts
// each, all synchronized through mem. Only the harts each shire's role
// actually calls for are started (the master shire's lower half is
// reserved for dispatch bookkeeping and never runs the orchestrator).
func NewDevice(mem scr.MemoryProvider, shireCount, hartsPerShire int, logger *utils.Logger) *Device {
	d := &Device{
		mem:      mem,
		registry: registry.NewKernelRegistry(),
		slots:    registry.NewSlotTable(),
		channels: scr.NewChannelSet(mem),
		logger:   logger,
	}

	states := make([]*launch.ShireState, shireCount)
	threadCounts := make([]uint32, shireCount)
	for s := 0; s < shireCount; s++ {
		states[s] = launch.NewShireState(mem, s, hartsPerShire)
		threadCounts[s] = uint32(states[s].Role.ParticipatingThreadCount)
	}
	d.barrier = scr.NewLaunchBarrierWithThreadCounts(mem, threadCounts)

	for s := 0; s < shireCount; s++ {
		shire := &Shire{ID: s, State: states[s]}
		for _, t := range states[s].Role.ParticipatingThreads() {
			hc := launch.NewHartContext(mem, d.barrier, states[s], s, t, logger)
			shire.Harts = append(shire.Harts, &Hart{ctx: hc})
		}
		d.shires = append(d.shires, shire)
	}
	return d
}

// Registry exposes the device's kernel registry for module registration.
func (d *Device) Registry() *registry.KernelRegistry { return d.registry }

// Dispatch validates and starts a launch, returning once every
// participating hart has been handed the command; KERNEL_COMPLETE
// arrives asynchronously on the unicast channel.
func (d *Device) Dispatch(ctx context.Context, cmd launch.LaunchCommand, module []byte, entryExport string) error {
	if cmd.ShireMask == 0 {
		return ErrShireMaskEmpty
	}
	if busy, _ := d.slots.InFlight(cmd.SlotIndex); busy {
		return errors.New("hartrt: slot already in flight")
	}
	if err := d.slots.Acquire(cmd.SlotIndex, cmd.KwBaseID); err != nil {
		return err
	}

	env := launch.EncodeLaunch(cmd)
	if err := d.channels.Publish(env); err != nil {
		d.slots.Release(cmd.SlotIndex)
		return err
	}

	var wg sync.WaitGroup
	for shireIdx := 0; shireIdx < len(d.shires); shireIdx++ {
		if cmd.ShireMask&(1<<uint(shireIdx)) == 0 {
			continue
		}
		shire := d.shires[shireIdx]
		for _, hart := range shire.Harts {
			wg.Add(1)
			go func(h *Hart) {
				defer wg.Done()
				if err := h.ctx.Execute(ctx, cmd, module, entryExport); err != nil {
					d.logger.Error("hart execution failed", utils.Err(err))
				}
			}(hart)
		}
	}

	go func() {
		wg.Wait()
		d.slots.Release(cmd.SlotIndex)
	}()

	return nil
}

// Abort cancels an in-flight launch's context, driving every participating
// hart down the Phase 6 system-abort path.
func (d *Device) Abort(cancel context.CancelFunc, slot uint8) {
	d.logger.Warn("aborting slot", utils.Int("slot", int(slot)))
	cancel()
}
