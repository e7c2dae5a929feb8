// Package excbuf implements the exception-buffer arena (D7): a
// bump-allocated, atomically-advanced ring of ExecutionContext records
// that Phase 5 of the kernel launch orchestrator appends to when a
// hart's kernel exits abnormally.
package excbuf

import "github.com/aifoundry-org/et-platform-sub018/kernel/scr"

// ExecutionContext kinds, matching the classification decision tree in
// the orchestrator's post-launch cleanup phase.
type Kind uint8

const (
	KindBusError Kind = iota
	KindUserKernelError
	KindException
	KindSystemAbort
)

// ExecutionContext is one record appended to the arena.
type ExecutionContext struct {
	Kind     Kind
	HartID   uint32
	Sequence uint32
	Payload  [16]byte
}

const entrySize = 1 + 4 + 4 + 16 // rounded up when encoded

// Arena is a ring of ExecutionContext records backed by the SCR's
// exception-arena region. Writers never block: once full, the oldest
// record is overwritten, matching the teacher's "pool exhausted, don't
// crash" allocator stance.
type Arena struct {
	mem      scr.MemoryProvider
	base     uint32
	capacity uint32
}

// NewArena binds the arena to the SCR's fixed exception-arena region.
func NewArena(mem scr.MemoryProvider) *Arena {
	capacity := uint32((scr.SizeExceptionArena - 4) / 32)
	return &Arena{mem: mem, base: scr.OffsetExceptionArena, capacity: capacity}
}

// cursorOffset is a 32-bit monotonic write cursor stored just before the
// ring's first entry; the arena reserves its own first 4 bytes for it.
func (a *Arena) cursorOffset() uint32 { return a.base }
func (a *Arena) entryOffset(slot uint32) uint32 {
	return a.base + 4 + slot*32
}

// Append writes ctx into the next ring slot and returns the sequence
// number assigned to it.
func (a *Arena) Append(ctx ExecutionContext) (uint32, error) {
	seq, err := a.mem.AtomicAdd32(a.cursorOffset(), 1)
	if err != nil {
		return 0, err
	}
	ctx.Sequence = seq - 1
	slot := ctx.Sequence % a.capacity

	buf := make([]byte, 32)
	buf[0] = byte(ctx.Kind)
	buf[1] = byte(ctx.HartID)
	buf[2] = byte(ctx.HartID >> 8)
	buf[3] = byte(ctx.HartID >> 16)
	buf[4] = byte(ctx.HartID >> 24)
	copy(buf[8:24], ctx.Payload[:])

	if err := a.mem.WriteAt(a.entryOffset(slot), buf); err != nil {
		return 0, err
	}
	return ctx.Sequence, nil
}

// At returns the record written for sequence seq, if it has not yet been
// overwritten by a newer entry (the ring holds only the last `capacity`
// records).
func (a *Arena) At(seq uint32) (ExecutionContext, bool, error) {
	current, err := a.mem.AtomicLoad32(a.cursorOffset())
	if err != nil {
		return ExecutionContext{}, false, err
	}
	if current == 0 || seq >= current || current-seq > a.capacity {
		return ExecutionContext{}, false, nil
	}
	slot := seq % a.capacity
	buf := make([]byte, 32)
	if err := a.mem.ReadAt(a.entryOffset(slot), buf); err != nil {
		return ExecutionContext{}, false, err
	}
	var ctx ExecutionContext
	ctx.Kind = Kind(buf[0])
	ctx.HartID = uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16 | uint32(buf[4])<<24
	ctx.Sequence = seq
	copy(ctx.Payload[:], buf[8:24])
	return ctx, true, nil
}
