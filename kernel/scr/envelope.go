package scr

import (
	"errors"
	"runtime"
)

// EnvelopeSize is the wire size of a single message, chosen to match the
// host cache-line width so a send or receive never tears across lines.
const EnvelopeSize = 64

// EnvelopePayloadSize is the usable payload once the header is subtracted.
const EnvelopePayloadSize = EnvelopeSize - 2 // Number(1) + ID(1)

// MessageID identifies the kind of a unicast or broadcast message.
type MessageID uint8

const (
	MessageKernelLaunch MessageID = iota
	MessageKernelComplete
	MessageAbortRequest
	MessageHostNotify
)

// Envelope is the fixed-size unit exchanged over both the broadcast and
// unicast channels. Number is a per-channel sequence value the receiver
// uses to detect a new delivery without a separate "valid" flag.
type Envelope struct {
	Number  uint8
	ID      MessageID
	Payload [EnvelopePayloadSize]byte
}

func (e *Envelope) encode(dst []byte) {
	dst[0] = e.Number
	dst[1] = byte(e.ID)
	copy(dst[2:EnvelopeSize], e.Payload[:])
}

func (e *Envelope) decode(src []byte) {
	e.Number = src[0]
	e.ID = MessageID(src[1])
	copy(e.Payload[:], src[2:EnvelopeSize])
}

// ErrBusy is returned by UnicastRing.Send when the destination ring is full.
var ErrBusy = errors.New("unicast channel busy")

// ErrNoSlot is returned when a unicast slot index is out of range.
var ErrNoSlot = errors.New("unicast slot out of range")

// Broadcaster is the single-slot, sequence-numbered fan-out channel used
// to notify every hart of a new kernel launch. Exactly one envelope is
// live at a time; readers detect a new delivery by observing the sequence
// number advance past the value they last consumed.
type Broadcaster struct {
	mem MemoryProvider
}

// NewBroadcaster wraps a MemoryProvider's fixed broadcast region.
func NewBroadcaster(mem MemoryProvider) *Broadcaster {
	return &Broadcaster{mem: mem}
}

// Publish writes env and bumps the sequence counter, making the message
// visible to every reader whose lastSeen is below the new sequence value.
func (b *Broadcaster) Publish(env Envelope) error {
	buf := make([]byte, EnvelopeSize)
	env.encode(buf)
	if err := b.mem.WriteAt(OffsetBroadcastEnvelope, buf); err != nil {
		return err
	}
	seq, err := b.mem.AtomicLoad32(OffsetBroadcastSeq)
	if err != nil {
		return err
	}
	return b.mem.AtomicStore32(OffsetBroadcastSeq, seq+1)
}

// Available reports whether a broadcast newer than previousSeq is ready,
// returning the envelope and the sequence number it was published under.
func (b *Broadcaster) Available(previousSeq uint32) (Envelope, uint32, bool, error) {
	seq, err := b.mem.AtomicLoad32(OffsetBroadcastSeq)
	if err != nil {
		return Envelope{}, 0, false, err
	}
	if seq == previousSeq {
		return Envelope{}, seq, false, nil
	}
	buf := make([]byte, EnvelopeSize)
	if err := b.mem.ReadAt(OffsetBroadcastEnvelope, buf); err != nil {
		return Envelope{}, seq, false, err
	}
	var env Envelope
	env.decode(buf)
	return env, seq, true, nil
}

// unicastCtrl field offsets within a slot's control block.
const (
	ctrlHead = 0
	ctrlTail = 4
	ctrlLock = 8
)

// UnicastRing is one circular buffer within the unicast channel region:
// a lock-protected, multi-producer sender side and a lock-free,
// single-consumer receiver side, matching how a dispatcher owns exactly
// one reader per slot.
type UnicastRing struct {
	mem        MemoryProvider
	slotOffset uint32
}

// UnicastRing returns the ring bound to the given slot index.
func (p *ChannelSet) UnicastRing(slot int) (*UnicastRing, error) {
	if slot < 0 || slot >= MaxUnicastSlot {
		return nil, ErrNoSlot
	}
	return &UnicastRing{
		mem:        p.mem,
		slotOffset: OffsetUnicastBase + uint32(slot)*SizeUnicastOne,
	}, nil
}

// ChannelSet groups the broadcast and unicast channels bound to one
// MemoryProvider so callers obtain both through a single handle.
type ChannelSet struct {
	mem MemoryProvider
	*Broadcaster
}

// NewChannelSet constructs the broadcast/unicast channel bundle over mem.
func NewChannelSet(mem MemoryProvider) *ChannelSet {
	return &ChannelSet{mem: mem, Broadcaster: NewBroadcaster(mem)}
}

func (r *UnicastRing) entryOffset(idx uint32) uint32 {
	return r.slotOffset + UnicastCtrlSize + idx*UnicastEntrySize
}

// Send appends env to the ring, taking the sender-side lock so multiple
// producing harts can share one destination slot safely. The lock is the
// slot's lock word in the SCR, so it holds across every UnicastRing handle
// bound to the same slot. Returns ErrBusy if the ring is full; the caller
// decides whether to retry or drop.
func (r *UnicastRing) Send(env Envelope) error {
	for {
		acquired, err := r.mem.AtomicCAS32(r.slotOffset+ctrlLock, 0, 1)
		if err != nil {
			return err
		}
		if acquired {
			break
		}
		runtime.Gosched()
	}
	defer r.mem.AtomicStore32(r.slotOffset+ctrlLock, 0)

	head, err := r.mem.AtomicLoad32(r.slotOffset + ctrlHead)
	if err != nil {
		return err
	}
	tail, err := r.mem.AtomicLoad32(r.slotOffset + ctrlTail)
	if err != nil {
		return err
	}
	if tail-head >= UnicastDepth {
		return ErrBusy
	}

	buf := make([]byte, EnvelopeSize)
	env.encode(buf)
	if err := r.mem.WriteAt(r.entryOffset(tail%UnicastDepth), buf); err != nil {
		return err
	}
	return r.mem.AtomicStore32(r.slotOffset+ctrlTail, tail+1)
}

// Receive pops the oldest pending envelope, if any. Only the single owner
// of this ring's slot may call Receive; concurrent receivers would race
// on the head advance.
func (r *UnicastRing) Receive() (Envelope, bool, error) {
	head, err := r.mem.AtomicLoad32(r.slotOffset + ctrlHead)
	if err != nil {
		return Envelope{}, false, err
	}
	tail, err := r.mem.AtomicLoad32(r.slotOffset + ctrlTail)
	if err != nil {
		return Envelope{}, false, err
	}
	if head == tail {
		return Envelope{}, false, nil
	}

	buf := make([]byte, EnvelopeSize)
	if err := r.mem.ReadAt(r.entryOffset(head%UnicastDepth), buf); err != nil {
		return Envelope{}, false, err
	}
	var env Envelope
	env.decode(buf)
	if err := r.mem.AtomicStore32(r.slotOffset+ctrlHead, head+1); err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}
