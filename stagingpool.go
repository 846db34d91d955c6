package vkframe

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// StagingPool is one persistently mapped host-visible buffer carved up by a
// linear suballocator. Transfers borrow ranges from it instead of
// allocating a buffer per copy.
type StagingPool struct {
	Device *Device
	Buffer *Buffer
	Memory *DeviceMemory

	ptr       unsafe.Pointer
	alignment uint64

	mu    sync.Mutex
	alloc LinearAllocator
}

// StagingAllocation is one borrowed range of a staging pool.
type StagingAllocation struct {
	pool *StagingPool
	a    *Allocation
}

// CreateStagingPool creates a pool of size bytes, mapped for the lifetime
// of the pool.
func (d *Device) CreateStagingPool(size uint64) (*StagingPool, error) {
	buffer, err := d.CreateBuffer(size,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit|vk.BufferUsageTransferDstBit))
	if err != nil {
		return nil, err
	}

	reqs := buffer.AllocationRequirements()
	memory, err := d.Allocate(reqs.Size, reqs.MemoryTypeBits,
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		buffer.Destroy()
		return nil, err
	}

	if err := buffer.Bind(memory, 0); err != nil {
		memory.Destroy()
		buffer.Destroy()
		return nil, err
	}

	ptr, err := memory.Map()
	if err != nil {
		memory.Destroy()
		buffer.Destroy()
		return nil, err
	}

	limits := d.PhysicalDevice.VKPhysicalDeviceProperties.Limits
	limits.Deref()
	alignment := uint64(limits.OptimalBufferCopyOffsetAlignment)
	if alignment == 0 {
		alignment = 4
	}

	return &StagingPool{
		Device:    d,
		Buffer:    buffer,
		Memory:    memory,
		ptr:       ptr,
		alignment: alignment,
		alloc:     LinearAllocator{Size: size},
	}, nil
}

// Allocate borrows size bytes from the pool, aligned for buffer copies.
func (p *StagingPool) Allocate(size uint64) (*StagingAllocation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.alloc.Allocate(size, p.alignment)
	if a == nil {
		return nil, fmt.Errorf("staging allocation of %d bytes: %w", size, ErrPoolExhausted)
	}
	return &StagingAllocation{pool: p, a: a}, nil
}

// Offset is the allocation's byte offset within the pool buffer.
func (s *StagingAllocation) Offset() uint64 {
	return s.a.Offset
}

// Bytes exposes the mapped range of this allocation.
func (s *StagingAllocation) Bytes() []byte {
	base := ToBytes(s.pool.ptr, int(s.pool.alloc.Size))
	return base[s.a.Offset : s.a.Offset+s.a.Size]
}

// Release returns the range to the pool. Releasing twice is harmless.
func (s *StagingAllocation) Release() {
	if s.a == nil {
		return
	}
	s.pool.mu.Lock()
	s.pool.alloc.Free(s.a)
	s.pool.mu.Unlock()
	s.a = nil
}

// Destroy unmaps and releases the pool. Callers must have retired every
// transfer that used it.
func (p *StagingPool) Destroy() {
	if p.Memory != nil {
		p.Memory.Unmap()
		p.Memory.Destroy()
		p.Memory = nil
	}
	if p.Buffer != nil {
		p.Buffer.Destroy()
		p.Buffer = nil
	}
	p.ptr = nil
}
