// Package trace implements the per-hart trace header (D7) finalized at
// the start of the kernel launch orchestrator's post-launch cleanup phase
// when TRACE_ENABLE is set for a launch.
package trace

import "time"

// ExitKind records how a hart's U-mode execution ended, mirroring the
// umode.KernelExit variants without importing that package (trace is a
// leaf dependency; kernel/launch maps umode exit kinds onto it).
type ExitKind uint8

const (
	ExitDisabled ExitKind = iota
	ExitNormal
	ExitSystemAbort
	ExitUserError
	ExitBusError
	ExitException
)

// Header is the per-hart trace record. A zero Header (Enabled == false)
// costs nothing beyond the struct itself and is never finalized.
type Header struct {
	Enabled bool
	HartID  uint32
	Start   time.Time
	Exit    ExitKind
	Elapsed time.Duration
}

// NewHeader starts a trace for hartID. Call Finish when the hart returns
// from U-mode.
func NewHeader(hartID uint32) Header {
	return Header{Enabled: true, HartID: hartID, Start: time.Now()}
}

// Finish records the exit kind and elapsed duration. A no-op on a
// disabled header.
func (h *Header) Finish(exit ExitKind) {
	if !h.Enabled {
		return
	}
	h.Exit = exit
	h.Elapsed = time.Since(h.Start)
}
