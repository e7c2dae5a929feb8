package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeaderFinishRecordsElapsedAndExit(t *testing.T) {
	h := NewHeader(3)
	assert.True(t, h.Enabled)
	time.Sleep(time.Millisecond)
	h.Finish(ExitNormal)
	assert.Equal(t, ExitNormal, h.Exit)
	assert.Greater(t, h.Elapsed, time.Duration(0))
}

func TestDisabledHeaderFinishIsNoOp(t *testing.T) {
	var h Header
	h.Finish(ExitBusError)
	assert.Equal(t, ExitKind(0), h.Exit)
	assert.Equal(t, time.Duration(0), h.Elapsed)
}
