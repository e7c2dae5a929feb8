package launch

import (
	"context"
	"sync"

	"github.com/aifoundry-org/et-platform-sub018/kernel/excbuf"
	"github.com/aifoundry-org/et-platform-sub018/kernel/scr"
	"github.com/aifoundry-org/et-platform-sub018/kernel/trace"
	"github.com/aifoundry-org/et-platform-sub018/kernel/umode"
	"github.com/aifoundry-org/et-platform-sub018/kernel/utils"
)

// HartContext is the per-hart state the orchestrator's six phases run
// against. One is constructed per participating hart (a goroutine) and
// lives for the process lifetime, processing one launch at a time.
type HartContext struct {
	ShireID int
	Thread  uint // index of this hart within its shire, 0..HartsPerShire-1

	mem      scr.MemoryProvider
	barrier  *scr.LaunchBarrier
	runtime  *umode.Runtime
	arena    *excbuf.Arena
	logger   *utils.Logger
	shire    *ShireState
	wakeup   chan LaunchCommand
}

// ShireState is shared by every hart of one shire: its post-launch FCC
// barrier and launch info handle, plus a guard so only one hart performs
// per-shire initialization.
type ShireState struct {
	Role       RoleConfig
	Info       scr.ShireLaunchInfo
	postLaunch *scr.FCCBarrier
	preLaunch  *scr.FCCBarrier

	initOnce sync.Once
}

// NewShireState constructs the shared state for one shire of a device
// whose shires have hartsPerShire harts each.
func NewShireState(mem scr.MemoryProvider, shireID, hartsPerShire int) *ShireState {
	return &ShireState{
		Role: AssignRole(shireID, hartsPerShire),
		Info: scr.NewShireLaunchInfo(mem, shireID),
	}
}

// NewHartContext constructs a hart's orchestrator handle.
func NewHartContext(mem scr.MemoryProvider, barrier *scr.LaunchBarrier, shire *ShireState, shireID int, thread uint, logger *utils.Logger) *HartContext {
	return &HartContext{
		ShireID: shireID,
		Thread:  thread,
		mem:     mem,
		barrier: barrier,
		runtime: umode.NewRuntime(),
		arena:   excbuf.NewArena(mem),
		logger:  logger,
		shire:   shire,
		wakeup:  make(chan LaunchCommand, 1),
	}
}

// globalHartIndex is this hart's flat index, used as the guard owner id.
func (h *HartContext) globalHartIndex() uint32 {
	return uint32(scr.HartGlobalIndex(h.ShireID, int(h.Thread)))
}

// Execute runs the full six-phase state machine for one kernel launch.
// module is the WASM bytes to run in U-mode; entryExport is its entry
// point, "kernel_main" by convention.
func (h *HartContext) Execute(ctx context.Context, cmd LaunchCommand, module []byte, entryExport string) error {
	tr := h.phase1PreKernelSetup(cmd)

	launchLast, err := h.phase2PreLaunchBarrier(cmd)
	if err != nil {
		return err
	}
	if launchLast {
		if err := scr.NewKernelLaunchedFlags(h.mem).Set(cmd.SlotIndex); err != nil {
			return err
		}
		h.logger.Info("kernel launched", utils.Int("shire", h.ShireID), utils.Uint64("shireMask", uint64(cmd.ShireMask)))
	}
	if _, err := h.shire.Info.SetThreadLaunched(h.Thread); err != nil {
		return err
	}

	exit, err := h.phase3and4EnterUserMode(ctx, cmd, module, entryExport)
	if err != nil {
		return err
	}

	return h.phase5PostLaunchCleanup(cmd, exit, &tr)
}

// phase1PreKernelSetup runs per-hart bookkeeping and the single
// designated per-shire reset: whichever participating hart reaches
// shire.initOnce first performs it, so the reset fires exactly once per
// shire per launch regardless of which thread indices actually
// participate (the master shire's participating threads start above 0).
func (h *HartContext) phase1PreKernelSetup(cmd LaunchCommand) trace.Header {
	var tr trace.Header
	if cmd.Flags.TraceEnable {
		tr = trace.NewHeader(h.globalHartIndex())
	}

	h.shire.initOnce.Do(func() {
		_ = h.shire.Info.ResetCompletedThreads()
		_ = h.shire.Info.ResetThreadReturned()
		_ = h.shire.Info.ClearExecutionStatus()
		_ = h.shire.Info.SetAttributes(cmd.KwBaseID)

		if lowestParticipatingShire(cmd.ShireMask) == uint32(h.ShireID) {
			_ = GlobalCell(h.mem, scr.GlobalCellPendingShireMask).Store(cmd.ShireMask)
			_ = scr.GlobalCell64(h.mem, scr.GlobalCellExceptionMaskLow).Store(0)
			_ = scr.GlobalCell64(h.mem, scr.GlobalCellSystemAbortMaskLow).Store(0)
			_ = GlobalCell(h.mem, scr.GlobalCellExecutionStatus).Store(uint32(scr.StatusSuccess))
		}

		pre, _ := scr.InitFCC(h.mem, h.ShireID, 0)
		post, _ := scr.InitFCC(h.mem, h.ShireID, 1)
		h.shire.preLaunch = pre
		h.shire.postLaunch = post

		h.logger.Debug("per-shire init complete", utils.Int("shire", h.ShireID))
	})

	return tr
}

// GlobalCell is a small local alias avoiding a second import line at call
// sites within this file.
func GlobalCell(mem scr.MemoryProvider, i uint32) scr.Cell {
	return scr.GlobalCell(mem, i)
}

func lowestParticipatingShire(shireMask uint32) uint32 {
	for i := uint32(0); i < 32; i++ {
		if shireMask&(1<<i) != 0 {
			return i
		}
	}
	return 0
}

// phase2PreLaunchBarrier synchronizes every participating hart and
// reports whether this hart is the launch-last.
func (h *HartContext) phase2PreLaunchBarrier(cmd LaunchCommand) (bool, error) {
	_, launchLast, err := h.barrier.Synchronize(h.ShireID)
	return launchLast, err
}

// phase3and4EnterUserMode transitions the hart into U-mode and runs the
// guest kernel to completion, trap, or cancellation.
func (h *HartContext) phase3and4EnterUserMode(ctx context.Context, cmd LaunchCommand, module []byte, entryExport string) (umode.KernelExit, error) {
	return h.runtime.EnterUserMode(ctx, module, entryExport, cmd.PointerToArgs)
}

// phase5PostLaunchCleanup classifies the exit, updates shire-local and
// global masks, waits at the post-launch barrier, and detects shire- and
// launch-last completion.
func (h *HartContext) phase5PostLaunchCleanup(cmd LaunchCommand, exit umode.KernelExit, tr *trace.Header) error {
	if tr.Enabled {
		tr.Finish(traceExitKind(exit.Kind))
	}
	if _, err := h.shire.Info.SetThreadReturned(h.Thread); err != nil {
		return err
	}

	if err := h.classifyExit(exit); err != nil {
		return err
	}

	h.DrainAcceleratorQueues()

	if h.shire.postLaunch != nil {
		role := h.shire.Role
		if err := h.shire.postLaunch.Wait(h.Thread, role.ParticipatingThreadCount, role.ExpectedThreadMask); err != nil {
			return err
		}
	}

	prevCompleted, err := h.shire.Info.SetThreadCompleted(h.Thread)
	if err != nil {
		return err
	}
	completedMask := prevCompleted | (uint64(1) << h.Thread)
	if completedMask != h.shire.Role.ExpectedThreadMask {
		return nil // not the shire-last-completer
	}

	return h.shireLastCompleter(cmd)
}

func (h *HartContext) classifyExit(exit umode.KernelExit) error {
	switch exit.Kind {
	case umode.ExitNormal:
		if exit.ReturnValue < 0 {
			if _, err := h.shire.Info.SetExecutionStatus(scr.StatusError); err != nil {
				return err
			}
			rec := excbuf.ExecutionContext{
				Kind:   excbuf.KindUserKernelError,
				HartID: h.globalHartIndex(),
			}
			// The payload carries the kernel's return value, little-endian.
			for i := 0; i < 8; i++ {
				rec.Payload[i] = byte(uint64(exit.ReturnValue) >> (8 * i))
			}
			_, err := h.arena.Append(rec)
			return err
		}
		return nil
	case umode.ExitSystemAbort:
		if _, err := h.shire.Info.SetExecutionStatus(scr.StatusError); err != nil {
			return err
		}
		prev, err := h.shire.Info.SetGlobalSystemAbortMask(uint64(1) << h.ShireID)
		if err != nil {
			return err
		}
		if prev&(uint64(1)<<h.ShireID) == 0 {
			_, err = scr.GlobalCell64(h.mem, scr.GlobalCellSystemAbortMaskLow).Or(uint64(1) << h.ShireID)
		}
		return err
	case umode.ExitBusError:
		if _, err := h.shire.Info.SetLocalBusErrorMask(uint64(1) << h.Thread); err != nil {
			return err
		}
		if _, err := h.shire.Info.SetExecutionStatus(scr.StatusError); err != nil {
			return err
		}
		if _, err := scr.GlobalCell64(h.mem, scr.GlobalCellExceptionMaskLow).Or(uint64(1) << h.ShireID); err != nil {
			return err
		}
		_, err := h.arena.Append(excbuf.ExecutionContext{
			Kind:   excbuf.KindBusError,
			HartID: h.globalHartIndex(),
		})
		return err
	default: // ExitException, ExitUserError and any unrecognized classification
		if _, err := h.shire.Info.SetExecutionStatus(scr.StatusError); err != nil {
			return err
		}
		if _, err := scr.GlobalCell64(h.mem, scr.GlobalCellExceptionMaskLow).Or(uint64(1) << h.ShireID); err != nil {
			return err
		}
		_, err := h.arena.Append(excbuf.ExecutionContext{
			Kind:   excbuf.KindException,
			HartID: h.globalHartIndex(),
		})
		return err
	}
}

// shireLastCompleter runs once per shire per launch: it clears this
// shire's bit from the global pending mask, promotes a non-SUCCESS shire
// status into the global status (first error wins), and — if the
// pending mask is now fully drained — composes and sends the single
// KERNEL_COMPLETE message as the launch-last-completer.
func (h *HartContext) shireLastCompleter(cmd LaunchCommand) error {
	prevPending, err := GlobalCell(h.mem, scr.GlobalCellPendingShireMask).And(^(uint32(1) << h.ShireID))
	if err != nil {
		return err
	}

	status, err := h.shire.Info.GetExecutionStatus()
	if err != nil {
		return err
	}
	if status != scr.StatusSuccess {
		if _, err := GlobalCell(h.mem, scr.GlobalCellExecutionStatus).CAS(uint32(scr.StatusSuccess), uint32(status)); err != nil {
			return err
		}
	}

	// Every hart of this shire is past phase 1 by now; re-arm the
	// per-shire reset so the next launch performs it again.
	h.shire.initOnce = sync.Once{}

	remaining := prevPending &^ (uint32(1) << h.ShireID)
	if remaining != 0 {
		return nil // other shires still completing
	}

	return h.launchLastCompleter(cmd)
}

func (h *HartContext) launchLastCompleter(cmd LaunchCommand) error {
	globalStatus, err := GlobalCell(h.mem, scr.GlobalCellExecutionStatus).Load()
	if err != nil {
		return err
	}

	report := CompletionReport{
		SlotIndex: cmd.SlotIndex,
		ShireID:   uint32(h.ShireID),
		Status:    scr.ExecutionStatus(globalStatus),
	}
	if report.Status != scr.StatusSuccess {
		report.GlobalException, _ = scr.GlobalCell64(h.mem, scr.GlobalCellExceptionMaskLow).Load()
		report.GlobalSystemAbort, _ = scr.GlobalCell64(h.mem, scr.GlobalCellSystemAbortMaskLow).Load()
	}

	env := EncodeCompletion(report)
	channels := scr.NewChannelSet(h.mem)
	ring, err := channels.UnicastRing(CompletionUnicastSlot(cmd.KwBaseID, cmd.SlotIndex))
	if err != nil {
		return err
	}
	if err := ring.Send(env); err != nil {
		h.logger.Error("completion send failed, not retrying", utils.Err(err), utils.Int("slot", int(cmd.SlotIndex)))
		return nil
	}
	h.logger.Info("KERNEL_COMPLETE sent", utils.Int("slot", int(cmd.SlotIndex)), utils.Uint64("status", uint64(report.Status)))
	return nil
}

// DrainAcceleratorQueues is a named no-op: there is no real pipeline to
// drain in this simulation, but the call site and its ordering relative
// to the post-launch barrier is preserved so a hardware-backed
// implementation can replace it without changing the orchestrator.
func (h *HartContext) DrainAcceleratorQueues() {}

func traceExitKind(k umode.ExitKind) trace.ExitKind {
	switch k {
	case umode.ExitNormal:
		return trace.ExitNormal
	case umode.ExitSystemAbort:
		return trace.ExitSystemAbort
	case umode.ExitUserError:
		return trace.ExitUserError
	case umode.ExitBusError:
		return trace.ExitBusError
	default:
		return trace.ExitException
	}
}
