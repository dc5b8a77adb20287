package memory

import (
	"unsafe"

	"github.com/vkngwrapper/core/v2/core1_0"
)

// Allocation is a suballocated region of one device memory block. It is produced
// by Allocator.Allocate and must be returned to the same Allocator with Free,
// strictly before the buffer or image bound to it destroys its native object.
type Allocation struct {
	parentAllocator *Allocator
	block           *deviceMemoryBlock

	offset int
	size   int
	domain Domain
	name   string

	// Base+offset into the block's persistent mapping; nil for device-local
	// allocations.
	mappedData unsafe.Pointer
}

// Offset returns this allocation's offset in bytes within its backing device
// memory object.
func (a *Allocation) Offset() int { return a.offset }

// Size returns the usable size of the allocation in bytes. It is at least the
// size that was requested.
func (a *Allocation) Size() int { return a.size }

// Domain returns the memory domain the allocation was made from.
func (a *Allocation) Domain() Domain { return a.domain }

// Memory returns the device memory object this allocation suballocates. Bind
// calls against it must use Offset.
func (a *Allocation) Memory() core1_0.DeviceMemory { return a.block.memory }

// Name returns the debug label assigned with SetName, if any.
func (a *Allocation) Name() string { return a.name }

// SetName assigns a debug label to the allocation.
func (a *Allocation) SetName(name string) { a.name = name }

// MappedData returns the persistent host pointer for this allocation, valid for
// the allocation's whole lifetime, or nil for device-local allocations.
func (a *Allocation) MappedData() unsafe.Pointer { return a.mappedData }

// Bytes returns the allocation's persistently-mapped memory as a byte slice.
// Calling it on a device-local allocation is a usage error.
func (a *Allocation) Bytes() []byte {
	if a.mappedData == nil {
		panic("attempting to access host memory of an allocation without a persistent mapping")
	}

	return unsafe.Slice((*byte)(a.mappedData), a.size)
}
