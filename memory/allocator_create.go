package memory

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/obsidian-engine/gpu/internal/utils"
	"github.com/obsidian-engine/gpu/memutil"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

const defaultPreferredBlockSize = 32 * 1024 * 1024

// CreateOptions configures a new Allocator.
type CreateOptions struct {
	// PreferredBlockSize is the size in bytes of new device memory blocks.
	// Requests larger than this get a block sized to the request. Defaults to
	// 32MB. Must be a power of two.
	PreferredBlockSize int
	// MaxBlockCount caps the number of blocks per memory domain. 0 means
	// unlimited. Once a domain is at its cap and no block can service a request,
	// Allocate fails with OutOfMemoryError.
	MaxBlockCount int
	// UseMutex makes Allocate and Free safe to call from multiple goroutines. By
	// default the allocator is single-writer and callers serialize externally.
	UseMutex bool
	// AllocationCallbacks are optional host allocation callbacks passed through
	// to every Vulkan call this allocator makes.
	AllocationCallbacks *driver.AllocationCallbacks
}

// Allocator suballocates device memory blocks per memory domain and hands out
// and reclaims allocation records. Buffers and images keep a reference to the
// allocator that produced their allocation and must release through it.
type Allocator struct {
	logger         *slog.Logger
	device         core1_0.Device
	physicalDevice core1_0.PhysicalDevice

	allocationCallbacks *driver.AllocationCallbacks
	deviceProperties    *core1_0.PhysicalDeviceProperties
	memoryProperties    *core1_0.PhysicalDeviceMemoryProperties

	preferredBlockSize int
	maxBlockCount      int

	mutex       utils.OptionalMutex
	domains     [domainCount]*domainBlockList
	nextBlockID int
}

type domainBlockList struct {
	domain          Domain
	memoryTypeIndex int
	blocks          []*deviceMemoryBlock
}

// New creates an Allocator against the provided device. The physical device's
// memory properties decide which memory type index backs each Domain.
func New(
	logger *slog.Logger,
	device core1_0.Device,
	physicalDevice core1_0.PhysicalDevice,
	options CreateOptions,
) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	deviceProperties, err := physicalDevice.Properties()
	if err != nil {
		return nil, err
	}

	err = memutil.CheckPow2(uint(deviceProperties.Limits.BufferImageGranularity), "device bufferImageGranularity")
	if err != nil {
		return nil, err
	}
	err = memutil.CheckPow2(uint(deviceProperties.Limits.NonCoherentAtomSize), "device nonCoherentAtomSize")
	if err != nil {
		return nil, err
	}

	preferredBlockSize := options.PreferredBlockSize
	if preferredBlockSize == 0 {
		preferredBlockSize = defaultPreferredBlockSize
	}
	err = memutil.CheckPow2(uint(preferredBlockSize), "CreateOptions.PreferredBlockSize")
	if err != nil {
		return nil, err
	}

	maxBlockCount := options.MaxBlockCount
	if maxBlockCount == 0 {
		maxBlockCount = math.MaxInt
	}

	allocator := &Allocator{
		logger:         logger,
		device:         device,
		physicalDevice: physicalDevice,

		allocationCallbacks: options.AllocationCallbacks,
		deviceProperties:    deviceProperties,
		memoryProperties:    physicalDevice.MemoryProperties(),

		preferredBlockSize: preferredBlockSize,
		maxBlockCount:      maxBlockCount,
		mutex: utils.OptionalMutex{
			UseMutex: options.UseMutex,
		},
	}

	for domain := Domain(0); domain < domainCount; domain++ {
		typeIndex, err := allocator.findMemoryTypeIndex(domain.requiredFlags(), domain.preferredFlags())
		if err != nil {
			return nil, errors.Wrapf(err, "no suitable memory type for %s", domain.String())
		}

		allocator.domains[domain] = &domainBlockList{
			domain:          domain,
			memoryTypeIndex: typeIndex,
		}
	}

	return allocator, nil
}

// findMemoryTypeIndex chooses the memory type that carries every required flag
// and is missing the fewest preferred flags. Lower type indices win ties, as
// drivers order them by performance.
func (a *Allocator) findMemoryTypeIndex(
	requiredFlags, preferredFlags core1_0.MemoryPropertyFlags,
) (int, error) {
	bestIndex := -1
	bestCost := math.MaxInt

	for typeIndex, memoryType := range a.memoryProperties.MemoryTypes {
		if memoryType.PropertyFlags&requiredFlags != requiredFlags {
			continue
		}

		cost := bits.OnesCount32(uint32(preferredFlags &^ memoryType.PropertyFlags))
		if cost < bestCost {
			bestIndex = typeIndex
			bestCost = cost
			if cost == 0 {
				break
			}
		}
	}

	if bestIndex < 0 {
		return -1, errors.Newf("no memory type carries the property flags %s", requiredFlags.String())
	}

	return bestIndex, nil
}
