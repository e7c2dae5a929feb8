// Package launch implements the kernel launch lifecycle (C3-C5): the
// orchestrator state machine every hart runs on receipt of a launch
// command, the messages exchanged over the C2 channels, and the role
// assignment that tells a shire whether it is the master or a compute
// shire.
package launch

import (
	"encoding/binary"
	"errors"

	"github.com/aifoundry-org/et-platform-sub018/kernel/scr"
)

// MaxSimultaneousKernels bounds the number of concurrently in-flight
// launch slots (slot_index 0..3). Not to be confused with the unicast
// buffer count (scr.MaxUnicastSlot), which reserves one extra buffer for
// the dispatcher on top of this many.
const MaxSimultaneousKernels = scr.MaxSimultaneousKernels

// ErrUnknownMessageID is fatal: an unrecognized id decoded off the wire
// is a protocol violation, never a value to silently ignore.
var ErrUnknownMessageID = errors.New("launch: unknown message id")

// LaunchCommand is the host-issued command that starts a kernel launch,
// broadcast over C2 as a KERNEL_LAUNCH message.
type LaunchCommand struct {
	SlotIndex     uint8
	KwBaseID      uint32
	ShireMask     uint32
	PointerToArgs uint64
	Flags         LaunchFlags
}

// LaunchFlags mirrors the capability/behavior flags the orchestrator
// reads in Phase 1; each is independent.
type LaunchFlags struct {
	TraceEnable         bool
	EvictL3BeforeLaunch bool
	ArgsEmbedded        bool
	FlushL3             bool
}

// AbortCommand carries the slot to cancel, broadcast as KERNEL_ABORT.
type AbortCommand struct {
	SlotIndex uint8
}

// CompletionReport is the CM→MM message sent unicast by the
// launch-last-completer, encoding KERNEL_COMPLETE.
type CompletionReport struct {
	SlotIndex        uint8
	ShireID          uint32
	Status           scr.ExecutionStatus
	GlobalException  uint64
	GlobalSystemAbort uint64
}

// EncodeLaunch packs cmd into a broadcast envelope payload.
func EncodeLaunch(cmd LaunchCommand) scr.Envelope {
	var env scr.Envelope
	env.ID = scr.MessageKernelLaunch
	buf := env.Payload[:]
	buf[0] = cmd.SlotIndex
	binary.LittleEndian.PutUint32(buf[1:5], cmd.KwBaseID)
	binary.LittleEndian.PutUint32(buf[5:9], cmd.ShireMask)
	binary.LittleEndian.PutUint64(buf[9:17], cmd.PointerToArgs)
	var flagBits byte
	if cmd.Flags.TraceEnable {
		flagBits |= 1
	}
	if cmd.Flags.EvictL3BeforeLaunch {
		flagBits |= 2
	}
	if cmd.Flags.ArgsEmbedded {
		flagBits |= 4
	}
	if cmd.Flags.FlushL3 {
		flagBits |= 8
	}
	buf[17] = flagBits
	return env
}

// DecodeLaunch is the inverse of EncodeLaunch.
func DecodeLaunch(env scr.Envelope) (LaunchCommand, error) {
	if env.ID != scr.MessageKernelLaunch {
		return LaunchCommand{}, ErrUnknownMessageID
	}
	buf := env.Payload[:]
	return LaunchCommand{
		SlotIndex:     buf[0],
		KwBaseID:      binary.LittleEndian.Uint32(buf[1:5]),
		ShireMask:     binary.LittleEndian.Uint32(buf[5:9]),
		PointerToArgs: binary.LittleEndian.Uint64(buf[9:17]),
		Flags: LaunchFlags{
			TraceEnable:         buf[17]&1 != 0,
			EvictL3BeforeLaunch: buf[17]&2 != 0,
			ArgsEmbedded:        buf[17]&4 != 0,
			FlushL3:             buf[17]&8 != 0,
		},
	}, nil
}

// EncodeAbort packs cmd into a broadcast envelope payload.
func EncodeAbort(cmd AbortCommand) scr.Envelope {
	var env scr.Envelope
	env.ID = scr.MessageAbortRequest
	env.Payload[0] = cmd.SlotIndex
	return env
}

// DecodeAbort is the inverse of EncodeAbort.
func DecodeAbort(env scr.Envelope) (AbortCommand, error) {
	if env.ID != scr.MessageAbortRequest {
		return AbortCommand{}, ErrUnknownMessageID
	}
	return AbortCommand{SlotIndex: env.Payload[0]}, nil
}

// EncodeCompletion packs report into a unicast envelope payload.
func EncodeCompletion(report CompletionReport) scr.Envelope {
	var env scr.Envelope
	env.ID = scr.MessageKernelComplete
	buf := env.Payload[:]
	buf[0] = report.SlotIndex
	binary.LittleEndian.PutUint32(buf[1:5], report.ShireID)
	buf[5] = byte(report.Status)
	binary.LittleEndian.PutUint64(buf[6:14], report.GlobalException)
	binary.LittleEndian.PutUint64(buf[14:22], report.GlobalSystemAbort)
	return env
}

// DecodeCompletion is the inverse of EncodeCompletion.
func DecodeCompletion(env scr.Envelope) (CompletionReport, error) {
	if env.ID != scr.MessageKernelComplete {
		return CompletionReport{}, ErrUnknownMessageID
	}
	buf := env.Payload[:]
	return CompletionReport{
		SlotIndex:        buf[0],
		ShireID:          binary.LittleEndian.Uint32(buf[1:5]),
		Status:           scr.ExecutionStatus(buf[5]),
		GlobalException:  binary.LittleEndian.Uint64(buf[6:14]),
		GlobalSystemAbort: binary.LittleEndian.Uint64(buf[14:22]),
	}, nil
}

// CompletionUnicastSlot returns the unicast channel slot index the
// launch-last-completer must send on for a given kwBaseID/slotIndex pair.
func CompletionUnicastSlot(kwBaseID uint32, slotIndex uint8) int {
	return int(kwBaseID)%scr.MaxUnicastSlot + int(slotIndex)
}
