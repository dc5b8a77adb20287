package memory

import (
	"context"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/obsidian-engine/gpu/memutil/metadata"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

// deviceMemoryBlock is one real vkAllocateMemory allocation that suballocations
// are carved out of. Host-visible blocks are mapped once at creation and stay
// mapped until destroyed.
type deviceMemoryBlock struct {
	id     int
	logger *slog.Logger

	memoryTypeIndex int
	size            int
	memory          core1_0.DeviceMemory
	mappedData      unsafe.Pointer

	metadata *metadata.FreeListMetadata
}

func (b *deviceMemoryBlock) init(
	logger *slog.Logger,
	device core1_0.Device,
	callbacks *driver.AllocationCallbacks,
	memoryTypeIndex int,
	size int,
	id int,
	hostVisible bool,
) (common.VkResult, error) {
	if b.memory != nil {
		panic("attempting to initialize a device memory block that is already in use")
	}

	memory, res, err := device.AllocateMemory(callbacks, core1_0.MemoryAllocateInfo{
		AllocationSize:  size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return res, err
	}

	if hostVisible {
		mappedData, res, err := memory.Map(0, -1, core1_0.MemoryMapFlags(0))
		if err != nil {
			memory.Free(callbacks)
			return res, err
		}
		b.mappedData = mappedData
	}

	b.logger = logger
	b.id = id
	b.memoryTypeIndex = memoryTypeIndex
	b.size = size
	b.memory = memory
	b.metadata = metadata.NewFreeListMetadata()
	b.metadata.Init(size)

	return res, nil
}

func (b *deviceMemoryBlock) destroy(callbacks *driver.AllocationCallbacks) {
	if !b.metadata.IsEmpty() {
		b.logger.LogAttrs(context.Background(), slog.LevelError,
			"[UNRELEASED MEMORY] destroying a device memory block that still has live allocations",
			slog.Int("blockId", b.id),
			slog.Int("liveAllocations", b.metadata.AllocationCount()),
		)
	}

	if b.mappedData != nil {
		b.memory.Unmap()
		b.mappedData = nil
	}

	b.memory.Free(callbacks)
	b.memory = nil
}

func (b *deviceMemoryBlock) blockJsonData(json jwriter.ObjectState) {
	json.Name("Id").Int(b.id)
	json.Name("MemoryTypeIndex").Int(b.memoryTypeIndex)
	b.metadata.BlockJsonData(json)
}
