package scr

import (
	"sync/atomic"
	"unsafe"
)

// InMemoryProvider stores SAB data in a local byte slice.
type InMemoryProvider struct {
	data []byte
}

// NewInMemoryProvider creates an in-memory provider with the requested size.
func NewInMemoryProvider(size uint32) *InMemoryProvider {
	return &InMemoryProvider{
		data: make([]byte, size),
	}
}

func (m *InMemoryProvider) Size() uint32 {
	return uint32(len(m.data))
}

func (m *InMemoryProvider) ReadAt(offset uint32, dest []byte) error {
	if offset+uint32(len(dest)) > uint32(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(dest, m.data[offset:offset+uint32(len(dest))])
	return nil
}

func (m *InMemoryProvider) WriteAt(offset uint32, src []byte) error {
	if offset+uint32(len(src)) > uint32(len(m.data)) {
		return ErrOutOfBounds
	}
	copy(m.data[offset:offset+uint32(len(src))], src)
	return nil
}

func (m *InMemoryProvider) AtomicLoad32(offset uint32) (uint32, error) {
	ptr, err := m.ptrAt(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32((*uint32)(ptr)), nil
}

func (m *InMemoryProvider) AtomicStore32(offset uint32, val uint32) error {
	ptr, err := m.ptrAt(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32((*uint32)(ptr), val)
	return nil
}

func (m *InMemoryProvider) AtomicAdd32(offset uint32, delta uint32) (uint32, error) {
	ptr, err := m.ptrAt(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint32((*uint32)(ptr), delta), nil
}

func (m *InMemoryProvider) AtomicCAS32(offset uint32, old, new uint32) (bool, error) {
	ptr, err := m.ptrAt(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint32((*uint32)(ptr), old, new), nil
}

func (m *InMemoryProvider) AtomicLoad64(offset uint32) (uint64, error) {
	ptr, err := m.ptrAt64(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint64((*uint64)(ptr)), nil
}

func (m *InMemoryProvider) AtomicStore64(offset uint32, val uint64) error {
	ptr, err := m.ptrAt64(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint64((*uint64)(ptr), val)
	return nil
}

func (m *InMemoryProvider) AtomicAdd64(offset uint32, delta uint64) (uint64, error) {
	ptr, err := m.ptrAt64(offset)
	if err != nil {
		return 0, err
	}
	return atomic.AddUint64((*uint64)(ptr), delta), nil
}

func (m *InMemoryProvider) AtomicCAS64(offset uint32, old, new uint64) (bool, error) {
	ptr, err := m.ptrAt64(offset)
	if err != nil {
		return false, err
	}
	return atomic.CompareAndSwapUint64((*uint64)(ptr), old, new), nil
}

func (m *InMemoryProvider) Close() error {
	m.data = nil
	return nil
}

func (m *InMemoryProvider) ptrAt(offset uint32) (unsafe.Pointer, error) {
	if offset+4 > uint32(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%4 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&m.data[offset]), nil
}

func (m *InMemoryProvider) ptrAt64(offset uint32) (unsafe.Pointer, error) {
	if offset+8 > uint32(len(m.data)) {
		return nil, ErrOutOfBounds
	}
	if offset%8 != 0 {
		return nil, ErrMisaligned
	}
	return unsafe.Pointer(&m.data[offset]), nil
}
