// Package registry implements the slot & shire registry (D5): mapping a
// registered kernel module to a synthetic code-start address the SCR can
// reference, and tracking which of the fixed launch slots is currently
// in flight. Simplified from the teacher's ModuleRegistry, which also
// carried a dependency graph, version-compatibility checks, and a
// capability table for a component marketplace this domain has no use
// for (see DESIGN.md).
package registry

import (
	"crypto/sha256"
	"errors"
	"sync"

	"github.com/aifoundry-org/et-platform-sub018/kernel/scr"
	"github.com/aifoundry-org/et-platform-sub018/kernel/utils"
)

// ErrNotFound describes an unregistered code-start address. Resolve
// reports a miss through its boolean result, not through this error.
var ErrNotFound = errors.New("registry: code start address not found")

// KernelRegistry maps registered kernel module bytes to a synthetic
// 64-bit code-start address, keyed internally by a content hash so the
// same module registered twice resolves to the same address.
type KernelRegistry struct {
	mu      sync.RWMutex
	byHash  map[[32]byte]uint64
	modules map[uint64][]byte
	ids     map[uint64]string
	next    uint64
}

// NewKernelRegistry returns an empty registry.
func NewKernelRegistry() *KernelRegistry {
	return &KernelRegistry{
		byHash:  make(map[[32]byte]uint64),
		modules: make(map[uint64][]byte),
		ids:     make(map[uint64]string),
		next:    1,
	}
}

// Register stores module under id and returns the code-start address
// hart contexts pass through the SCR to identify it. Registering
// identical bytes again returns the existing address rather than a new
// one.
func (r *KernelRegistry) Register(id string, module []byte) (uint64, error) {
	if len(module) == 0 {
		return 0, errors.New("registry: empty module")
	}
	hash := sha256.Sum256(module)

	r.mu.Lock()
	defer r.mu.Unlock()

	if addr, ok := r.byHash[hash]; ok {
		return addr, nil
	}

	addr := r.next
	r.next++
	r.byHash[hash] = addr
	r.modules[addr] = module
	r.ids[addr] = id
	return addr, nil
}

// RegisterAnonymous registers module under a generated id, for callers
// (such as the hostlink frame handler) that receive a module's bytes
// without an operator-assigned name.
func (r *KernelRegistry) RegisterAnonymous(module []byte) (uint64, error) {
	return r.Register(utils.GenerateID(), module)
}

// Resolve returns the module bytes registered under addr.
func (r *KernelRegistry) Resolve(addr uint64) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, ok := r.modules[addr]
	return module, ok
}

// IDFor returns the human-readable id a module was registered under.
func (r *KernelRegistry) IDFor(addr uint64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[addr]
	return id, ok
}

// SlotTable tracks, per slot index, the KwBaseID currently assigned to
// it and whether a launch is in flight, guarding the command processor's
// "no two launches share a slot" rule. Sized to scr.MaxSimultaneousKernels
// (slot_index 0..3), not the unicast buffer count, which reserves one
// extra buffer for the dispatcher on top of that.
type SlotTable struct {
	mu       sync.Mutex
	inFlight [scr.MaxSimultaneousKernels]bool
	kwBase   [scr.MaxSimultaneousKernels]uint32
}

// NewSlotTable returns a table with every slot free.
func NewSlotTable() *SlotTable {
	return &SlotTable{}
}

// ErrSlotBusy is returned by Acquire when the requested slot already has
// a launch in flight.
var ErrSlotBusy = errors.New("registry: slot already in flight")

// Acquire marks slot in-flight under kwBaseID, failing if it is already
// busy.
func (s *SlotTable) Acquire(slot uint8, kwBaseID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(slot) >= len(s.inFlight) {
		return errors.New("registry: slot index out of range")
	}
	if s.inFlight[slot] {
		return ErrSlotBusy
	}
	s.inFlight[slot] = true
	s.kwBase[slot] = kwBaseID
	return nil
}

// Release marks slot free again, called once KERNEL_COMPLETE has been
// observed for it.
func (s *SlotTable) Release(slot uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(slot) < len(s.inFlight) {
		s.inFlight[slot] = false
	}
}

// InFlight reports whether slot currently has a launch running, and the
// KwBaseID it was acquired under.
func (s *SlotTable) InFlight(slot uint8) (bool, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(slot) >= len(s.inFlight) {
		return false, 0
	}
	return s.inFlight[slot], s.kwBase[slot]
}
