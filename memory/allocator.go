package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/obsidian-engine/gpu/memutil"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// Allocate suballocates size bytes with the requested alignment from the given
// memory domain. Existing blocks are searched first-fit; when none can hold the
// request a new block is created, up to the configured block cap. Exhaustion
// surfaces as OutOfMemoryError — there is no blocking retry.
func (a *Allocator) Allocate(size int, alignment uint, domain Domain) (*Allocation, common.VkResult, error) {
	a.logger.Debug("Allocator::Allocate",
		slog.Int("size", size),
		slog.Uint64("alignment", uint64(alignment)),
		slog.String("domain", domain.String()),
	)

	if size <= 0 {
		return nil, core1_0.VKErrorUnknown, errors.Newf("allocation size must be positive, but %d was requested", size)
	}
	if domain >= domainCount {
		return nil, core1_0.VKErrorUnknown, errors.Newf("unknown memory domain %d", domain)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	list := a.domains[domain]

	for _, block := range list.blocks {
		offset, ok, err := block.metadata.Allocate(size, alignment)
		if err != nil {
			return nil, core1_0.VKErrorUnknown, err
		}
		if ok {
			return a.makeAllocation(list, block, offset, size), core1_0.VKSuccess, nil
		}
	}

	if len(list.blocks) >= a.maxBlockCount {
		return nil, core1_0.VKErrorOutOfDeviceMemory, errors.Wrapf(OutOfMemoryError,
			"domain %s is at its cap of %d blocks and none can hold %d bytes",
			domain.String(), a.maxBlockCount, size)
	}

	block, res, err := a.createBlock(list, size, alignment)
	if err != nil {
		// Keep the driver error in the chain and mark it as an allocator
		// out-of-memory so both answer errors.Is
		return nil, res, errors.Mark(
			errors.Wrapf(err, "creating a new %s block failed", domain.String()),
			OutOfMemoryError)
	}

	offset, ok, err := block.metadata.Allocate(size, alignment)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}
	if !ok {
		panic("a newly-created block could not hold the allocation it was sized for")
	}

	return a.makeAllocation(list, block, offset, size), res, nil
}

func (a *Allocator) makeAllocation(list *domainBlockList, block *deviceMemoryBlock, offset, size int) *Allocation {
	alloc := &Allocation{
		parentAllocator: a,
		block:           block,
		offset:          offset,
		size:            size,
		domain:          list.domain,
	}
	if block.mappedData != nil {
		alloc.mappedData = unsafe.Add(block.mappedData, offset)
	}

	memutil.DebugValidate(block.metadata)
	return alloc
}

func (a *Allocator) createBlock(list *domainBlockList, size int, alignment uint) (*deviceMemoryBlock, common.VkResult, error) {
	blockSize := a.preferredBlockSize
	if size > blockSize {
		// Oversized request: give it a block of its own rather than growing the
		// preferred size for everyone
		blockSize = memutil.AlignUp(size, alignment)
	}

	block := &deviceMemoryBlock{}
	res, err := block.init(
		a.logger,
		a.device,
		a.allocationCallbacks,
		list.memoryTypeIndex,
		blockSize,
		a.nextBlockID,
		list.domain.HostVisible(),
	)
	if err != nil {
		return nil, res, err
	}

	a.nextBlockID++
	list.blocks = append(list.blocks, block)
	return block, res, nil
}

// Free returns an allocation's span to the free list of the block it came from.
// The allocation must be freed through the allocator that produced it; anything
// else is a usage violation. One fully-empty block per domain is retained for
// reuse and the rest are returned to the driver.
func (a *Allocator) Free(alloc *Allocation) error {
	a.logger.Debug("Allocator::Free",
		slog.Int("size", alloc.size),
		slog.Int("offset", alloc.offset),
		slog.String("domain", alloc.domain.String()),
	)

	if alloc.parentAllocator != a {
		panic("attempting to free an allocation through an allocator that did not produce it")
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	block := alloc.block
	err := block.metadata.Free(alloc.offset)
	if err != nil {
		return err
	}
	memutil.DebugValidate(block.metadata)

	alloc.block = nil
	alloc.mappedData = nil
	alloc.parentAllocator = nil

	list := a.domains[alloc.domain]
	if block.metadata.IsEmpty() && len(list.blocks) > 1 {
		a.removeBlock(list, block)
	}

	return nil
}

func (a *Allocator) removeBlock(list *domainBlockList, block *deviceMemoryBlock) {
	for i, candidate := range list.blocks {
		if candidate == block {
			list.blocks = append(list.blocks[:i], list.blocks[i+1:]...)
			block.destroy(a.allocationCallbacks)
			return
		}
	}

	panic("attempting to remove a block that is not in its domain's block list")
}

// Statistics sums coarse allocator state across every domain.
func (a *Allocator) Statistics() memutil.Statistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var stats memutil.Statistics
	stats.Clear()
	for _, list := range a.domains {
		for _, block := range list.blocks {
			block.metadata.AddStatistics(&stats)
		}
	}
	return stats
}

// DetailedStatistics sums detailed allocator state across every domain,
// including unused-range data.
func (a *Allocator) DetailedStatistics() memutil.DetailedStatistics {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var stats memutil.DetailedStatistics
	stats.Clear()
	for _, list := range a.domains {
		for _, block := range list.blocks {
			block.metadata.AddDetailedStatistics(&stats)
		}
	}
	return stats
}

// BuildStatsString writes a json dump of the allocator's current state, for
// diagnostics and capacity planning.
func (a *Allocator) BuildStatsString(detailed bool) string {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	totalObj := rootObj.Name("Total").Object()
	var stats memutil.DetailedStatistics
	stats.Clear()
	for _, list := range a.domains {
		for _, block := range list.blocks {
			block.metadata.AddDetailedStatistics(&stats)
		}
	}
	stats.PrintJson(totalObj)
	totalObj.End()

	if detailed {
		domainsObj := rootObj.Name("Domains").Object()
		for _, list := range a.domains {
			domainObj := domainsObj.Name(list.domain.String()).Object()
			domainObj.Name("MemoryTypeIndex").Int(list.memoryTypeIndex)

			blocksArr := domainObj.Name("Blocks").Array()
			for _, block := range list.blocks {
				blockObj := blocksArr.Object()
				block.blockJsonData(blockObj)
				blockObj.End()
			}
			blocksArr.End()
			domainObj.End()
		}
		domainsObj.End()
	}

	rootObj.End()
	return string(writer.Bytes())
}

// Destroy returns every block to the driver. It is an error to call it while
// allocations are still live.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, list := range a.domains {
		for _, block := range list.blocks {
			if !block.metadata.IsEmpty() {
				return errors.Newf("destroying an allocator while %d allocations are live in %s",
					block.metadata.AllocationCount(), list.domain.String())
			}
		}
	}

	for _, list := range a.domains {
		for _, block := range list.blocks {
			block.destroy(a.allocationCallbacks)
		}
		list.blocks = nil
	}

	return nil
}
