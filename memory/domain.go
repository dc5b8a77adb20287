package memory

import (
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Domain classifies device memory by CPU visibility and residency. Callers choose
// a Domain per buffer/image instead of raw Vulkan memory property flags.
type Domain uint32

const (
	// DomainDeviceLocal is GPU-only memory. The CPU cannot write to allocations
	// made from it; uploads go through a host-visible staging buffer and a
	// transfer command.
	DomainDeviceLocal Domain = iota
	// DomainHostVisible is CPU-writable, coherent memory. Blocks in this domain
	// stay persistently mapped, and each allocation exposes a pointer valid for
	// its whole lifetime.
	DomainHostVisible

	domainCount
)

var domainMapping = map[Domain]string{
	DomainDeviceLocal: "DomainDeviceLocal",
	DomainHostVisible: "DomainHostVisible",
}

func (d Domain) String() string {
	return domainMapping[d]
}

// HostVisible returns true for domains whose allocations carry a persistent
// host pointer.
func (d Domain) HostVisible() bool {
	return d == DomainHostVisible
}

func (d Domain) requiredFlags() core1_0.MemoryPropertyFlags {
	switch d {
	case DomainDeviceLocal:
		return core1_0.MemoryPropertyDeviceLocal
	case DomainHostVisible:
		return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
	}

	return 0
}

func (d Domain) preferredFlags() core1_0.MemoryPropertyFlags {
	// Integrated GPUs advertise memory types that are both device-local and
	// host-visible; prefer those for the host domain when present.
	if d == DomainHostVisible {
		return core1_0.MemoryPropertyDeviceLocal
	}

	return 0
}
