package hartrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aifoundry-org/et-platform-sub018/kernel/launch"
	"github.com/aifoundry-org/et-platform-sub018/kernel/scr"
	"github.com/aifoundry-org/et-platform-sub018/kernel/utils"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	mem := scr.NewInMemoryProvider(scr.SCR_SIZE_DEFAULT)
	logger := utils.NewLogger(utils.LoggerConfig{Component: "test"})
	return NewDevice(mem, 1, 4, logger)
}

func TestDispatchRejectsEmptyShireMask(t *testing.T) {
	d := newTestDevice(t)
	err := d.Dispatch(context.Background(), launch.LaunchCommand{SlotIndex: 0, ShireMask: 0}, nil, "kernel_main")
	assert.ErrorIs(t, err, ErrShireMaskEmpty)
}

func TestDispatchRejectsSlotAlreadyInFlight(t *testing.T) {
	d := newTestDevice(t)
	assert.NoError(t, d.slots.Acquire(0, 1))

	err := d.Dispatch(context.Background(), launch.LaunchCommand{SlotIndex: 0, ShireMask: 0b1}, nil, "kernel_main")
	assert.Error(t, err)
}

func TestDispatchPublishesBroadcastEnvelope(t *testing.T) {
	d := newTestDevice(t)
	cmd := launch.LaunchCommand{SlotIndex: 1, KwBaseID: 10, ShireMask: 0}
	// Publish directly (bypassing Dispatch's shire-mask validation) to
	// confirm the broadcast channel carries the encoded command.
	env := launch.EncodeLaunch(cmd)
	assert.NoError(t, d.channels.Publish(env))

	got, _, ok, err := d.channels.Available(0)
	assert.NoError(t, err)
	assert.True(t, ok)
	decoded, err := launch.DecodeLaunch(got)
	assert.NoError(t, err)
	assert.Equal(t, cmd.KwBaseID, decoded.KwBaseID)
}

func TestRegistryAccessor(t *testing.T) {
	d := newTestDevice(t)
	addr, err := d.Registry().Register("noop", []byte{0})
	assert.NoError(t, err)
	assert.NotZero(t, addr)
}

func TestAbortCancelsContext(t *testing.T) {
	d := newTestDevice(t)
	_, cancel := context.WithCancel(context.Background())
	cancelled := false
	wrapped := func() {
		cancelled = true
		cancel()
	}
	d.Abort(wrapped, 0)
	assert.Eventually(t, func() bool { return cancelled }, time.Second, time.Millisecond)
}
