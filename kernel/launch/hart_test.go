package launch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aifoundry-org/et-platform-sub018/kernel/scr"
	"github.com/aifoundry-org/et-platform-sub018/kernel/umode"
	"github.com/aifoundry-org/et-platform-sub018/kernel/utils"
)

func newTestDevice(t *testing.T, shireCount, hartsPerShire int) (scr.MemoryProvider, *scr.LaunchBarrier, []*ShireState, [][]*HartContext) {
	t.Helper()
	mem := scr.NewInMemoryProvider(scr.SCR_SIZE_DEFAULT)
	barrier := scr.NewLaunchBarrier(mem, shireCount, uint32(hartsPerShire))
	logger := utils.NewLogger(utils.LoggerConfig{Component: "test"})

	shires := make([]*ShireState, shireCount)
	harts := make([][]*HartContext, shireCount)
	for s := 0; s < shireCount; s++ {
		shires[s] = NewShireState(mem, s, hartsPerShire)
		for _, thread := range shires[s].Role.ParticipatingThreads() {
			harts[s] = append(harts[s], NewHartContext(mem, barrier, shires[s], s, thread, logger))
		}
	}
	return mem, barrier, shires, harts
}

func TestPhase1PreKernelSetupInitializesOncePerShire(t *testing.T) {
	_, _, shires, harts := newTestDevice(t, 1, 4)
	cmd := LaunchCommand{KwBaseID: 99, ShireMask: 0b1}

	for thread := 0; thread < 4; thread++ {
		harts[0][thread].phase1PreKernelSetup(cmd)
	}

	assert.NotNil(t, shires[0].preLaunch)
	assert.NotNil(t, shires[0].postLaunch)
	attrs, err := shires[0].Info.GetAttributes()
	assert.NoError(t, err)
	assert.Equal(t, uint32(99), attrs)

	pending, err := GlobalCell(harts[0][0].mem, scr.GlobalCellPendingShireMask).Load()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0b1), pending)
}

func TestPhase5PostLaunchCleanupNormalExitReachesShireLastCompleter(t *testing.T) {
	const hartsPerShire = 4
	mem, _, shires, harts := newTestDevice(t, 1, hartsPerShire)
	cmd := LaunchCommand{KwBaseID: 5, SlotIndex: 0, ShireMask: 0b1}

	for _, h := range harts[0] {
		h.phase1PreKernelSetup(cmd)
	}

	channels := scr.NewChannelSet(mem)
	ring, err := channels.UnicastRing(CompletionUnicastSlot(cmd.KwBaseID, cmd.SlotIndex))
	assert.NoError(t, err)

	// Every hart must reach the post-launch barrier before any can leave it,
	// so the harts run concurrently.
	var wg sync.WaitGroup
	for _, h := range harts[0] {
		wg.Add(1)
		go func(h *HartContext) {
			defer wg.Done()
			tr := h.phase1PreKernelSetup(cmd)
			err := h.phase5PostLaunchCleanup(cmd, umode.KernelExit{Kind: umode.ExitNormal}, &tr)
			assert.NoError(t, err)
		}(h)
	}
	wg.Wait()

	status, err := shires[0].Info.GetExecutionStatus()
	assert.NoError(t, err)
	assert.Equal(t, scr.StatusSuccess, status)

	env, ok, err := ring.Receive()
	assert.NoError(t, err)
	assert.True(t, ok, "launch-last-completer should have sent KERNEL_COMPLETE")
	report, err := DecodeCompletion(env)
	assert.NoError(t, err)
	assert.Equal(t, scr.StatusSuccess, report.Status)
}

func TestClassifyExitBusErrorSetsLocalMaskAndErrorStatus(t *testing.T) {
	_, _, shires, harts := newTestDevice(t, 1, 4)
	h := harts[0][2]

	err := h.classifyExit(umode.KernelExit{Kind: umode.ExitBusError})
	assert.NoError(t, err)

	hasBusError, err := shires[0].Info.CheckLocalBusError()
	assert.NoError(t, err)
	assert.True(t, hasBusError)

	status, err := shires[0].Info.GetExecutionStatus()
	assert.NoError(t, err)
	assert.Equal(t, scr.StatusError, status)
}

func TestClassifyExitNormalNegativeReturnIsAnError(t *testing.T) {
	_, _, shires, harts := newTestDevice(t, 1, 4)
	h := harts[0][0]

	err := h.classifyExit(umode.KernelExit{Kind: umode.ExitNormal, ReturnValue: -1})
	assert.NoError(t, err)

	status, err := shires[0].Info.GetExecutionStatus()
	assert.NoError(t, err)
	assert.Equal(t, scr.StatusError, status)
}

func TestClassifyExitNormalNonNegativeReturnLeavesStatusSuccess(t *testing.T) {
	_, _, shires, harts := newTestDevice(t, 1, 4)
	h := harts[0][0]

	err := h.classifyExit(umode.KernelExit{Kind: umode.ExitNormal, ReturnValue: 42})
	assert.NoError(t, err)

	status, err := shires[0].Info.GetExecutionStatus()
	assert.NoError(t, err)
	assert.Equal(t, scr.StatusSuccess, status)
}

func TestLowestParticipatingShire(t *testing.T) {
	assert.Equal(t, uint32(0), lowestParticipatingShire(0b1011))
	assert.Equal(t, uint32(2), lowestParticipatingShire(0b1100))
}
