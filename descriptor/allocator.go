package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/obsidian-engine/gpu/internal/utils"
	"github.com/obsidian-engine/gpu/memutil"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

const defaultSetsPerPool = 512

// CreateOptions configures a new Allocator.
type CreateOptions struct {
	// SetsPerPool is the number of descriptor sets each pool page holds. When a
	// page of the required shape is exhausted, another page of the same shape is
	// created. Defaults to 512.
	SetsPerPool int
	// UseMutex makes Allocate and Free safe to call from multiple goroutines. By
	// default access is single-writer and callers serialize externally.
	UseMutex bool
	// AllocationCallbacks are optional host allocation callbacks passed through
	// to every Vulkan call this allocator makes.
	AllocationCallbacks *driver.AllocationCallbacks
}

// Allocator pools descriptor sets grouped by shape (the count of each descriptor
// kind in a set). Pool pages hold a fixed number of sets; exhaustion grows a new
// page, and freed sets return to the page that produced them. Descriptor set
// layouts are cached per distinct binding signature.
type Allocator struct {
	logger *slog.Logger
	device core1_0.Device

	allocationCallbacks *driver.AllocationCallbacks
	setsPerPool         int

	mutex   utils.OptionalMutex
	pools   *swiss.Map[shape, *shapePools]
	layouts *swiss.Map[string, core1_0.DescriptorSetLayout]
}

type shapePools struct {
	shape shape
	pages []*poolPage
}

type poolPage struct {
	pool     core1_0.DescriptorPool
	capacity int
	liveSets int
}

// Allocation is one descriptor set handed out by an Allocator, together with the
// pool page it must be returned to.
type Allocation struct {
	parentAllocator *Allocator
	page            *poolPage

	set    core1_0.DescriptorSet
	layout core1_0.DescriptorSetLayout
}

// Set returns the native descriptor set.
func (a *Allocation) Set() core1_0.DescriptorSet { return a.set }

// Layout returns the cached descriptor set layout the set was allocated with.
// The layout is owned by the allocator, not the allocation.
func (a *Allocation) Layout() core1_0.DescriptorSetLayout { return a.layout }

// New creates a descriptor set Allocator for the provided device.
func New(logger *slog.Logger, device core1_0.Device, options CreateOptions) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}

	setsPerPool := options.SetsPerPool
	if setsPerPool <= 0 {
		setsPerPool = defaultSetsPerPool
	}

	return &Allocator{
		logger: logger,
		device: device,

		allocationCallbacks: options.AllocationCallbacks,
		setsPerPool:         setsPerPool,

		mutex: utils.OptionalMutex{
			UseMutex: options.UseMutex,
		},
		pools:   swiss.NewMap[shape, *shapePools](8),
		layouts: swiss.NewMap[string, core1_0.DescriptorSetLayout](8),
	}
}

// Allocate validates info, allocates a descriptor set from a pool page of the
// matching shape (creating a new page if every existing one is exhausted), and
// writes the bound resources exactly once. Sets are immutable afterwards.
func (al *Allocator) Allocate(info SetInfo) (*Allocation, common.VkResult, error) {
	al.logger.Debug("Allocator::Allocate", slog.Int("bindings", len(info.Bindings)))

	err := info.validate()
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	al.mutex.Lock()
	defer al.mutex.Unlock()

	layout, err := al.layoutFor(info)
	if err != nil {
		return nil, core1_0.VKErrorUnknown, err
	}

	page, res, err := al.pageFor(info.shape())
	if err != nil {
		return nil, res, err
	}

	sets, res, err := al.device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: page.pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	})
	if err != nil {
		return nil, res, err
	}
	page.liveSets++

	set := sets[0]
	err = al.writeSet(set, info)
	if err != nil {
		_, _ = set.Free()
		page.liveSets--
		return nil, core1_0.VKErrorUnknown, err
	}

	return &Allocation{
		parentAllocator: al,
		page:            page,
		set:             set,
		layout:          layout,
	}, res, nil
}

func (al *Allocator) layoutFor(info SetInfo) (core1_0.DescriptorSetLayout, error) {
	key := info.layoutKey()
	layout, found := al.layouts.Get(key)
	if found {
		return layout, nil
	}

	bindings := make([]core1_0.DescriptorSetLayoutBinding, 0, len(info.Bindings))
	for _, binding := range info.Bindings {
		bindings = append(bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         binding.Binding,
			DescriptorType:  binding.Kind.toDescriptorType(),
			DescriptorCount: 1,
			StageFlags:      binding.Stages,
		})
	}

	layout, _, err := al.device.CreateDescriptorSetLayout(al.allocationCallbacks, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	if err != nil {
		return nil, err
	}

	al.layouts.Put(key, layout)
	return layout, nil
}

func (al *Allocator) pageFor(s shape) (*poolPage, common.VkResult, error) {
	pools, found := al.pools.Get(s)
	if !found {
		pools = &shapePools{shape: s}
		al.pools.Put(s, pools)
	}

	for _, page := range pools.pages {
		if page.liveSets < page.capacity {
			return page, core1_0.VKSuccess, nil
		}
	}

	var poolSizes []core1_0.DescriptorPoolSize
	for kind := Kind(0); kind < kindCount; kind++ {
		if s[kind] == 0 {
			continue
		}
		poolSizes = append(poolSizes, core1_0.DescriptorPoolSize{
			Type:            kind.toDescriptorType(),
			DescriptorCount: s[kind] * al.setsPerPool,
		})
	}

	pool, res, err := al.device.CreateDescriptorPool(al.allocationCallbacks, core1_0.DescriptorPoolCreateInfo{
		Flags:     core1_0.DescriptorPoolCreateFreeDescriptorSet,
		MaxSets:   al.setsPerPool,
		PoolSizes: poolSizes,
	})
	if err != nil {
		return nil, res, err
	}

	page := &poolPage{
		pool:     pool,
		capacity: al.setsPerPool,
	}
	pools.pages = append(pools.pages, page)

	al.logger.Debug("Allocator::pageFor created a new pool page",
		slog.Int("pageCount", len(pools.pages)),
		slog.Int("capacity", page.capacity),
	)

	return page, res, nil
}

func (al *Allocator) writeSet(set core1_0.DescriptorSet, info SetInfo) error {
	writes := make([]core1_0.WriteDescriptorSet, 0, len(info.Bindings))
	for _, binding := range info.Bindings {
		write := core1_0.WriteDescriptorSet{
			DstSet:          set,
			DstBinding:      binding.Binding,
			DstArrayElement: 0,
			DescriptorType:  binding.Kind.toDescriptorType(),
		}

		switch binding.Kind {
		case KindUniformBuffer, KindStorageBuffer:
			write.BufferInfo = []core1_0.DescriptorBufferInfo{
				{
					Buffer: binding.Buffer,
					Offset: binding.Offset,
					Range:  binding.Range,
				},
			}
		case KindSampler:
			write.ImageInfo = []core1_0.DescriptorImageInfo{
				{
					Sampler: binding.Sampler,
				},
			}
		case KindCombinedImageSampler:
			write.ImageInfo = []core1_0.DescriptorImageInfo{
				{
					Sampler:     binding.Sampler,
					ImageView:   binding.ImageView,
					ImageLayout: binding.ImageLayout,
				},
			}
		}

		writes = append(writes, write)
	}

	return al.device.UpdateDescriptorSets(writes, nil)
}

// Free returns a set to the pool page that produced it. Freeing through a
// different allocator is a usage violation.
func (al *Allocator) Free(alloc *Allocation) error {
	al.logger.Debug("Allocator::Free")

	if alloc.parentAllocator != al {
		panic("attempting to free a descriptor set through an allocator that did not produce it")
	}

	al.mutex.Lock()
	defer al.mutex.Unlock()

	_, err := alloc.set.Free()
	if err != nil {
		return err
	}

	alloc.page.liveSets--
	alloc.set = nil
	alloc.page = nil
	alloc.parentAllocator = nil
	return nil
}

// Statistics reports pool page and live set counts across every shape.
func (al *Allocator) Statistics() memutil.Statistics {
	al.mutex.Lock()
	defer al.mutex.Unlock()

	var stats memutil.Statistics
	stats.Clear()
	al.pools.Iter(func(s shape, pools *shapePools) bool {
		for _, page := range pools.pages {
			stats.BlockCount++
			stats.BlockBytes += page.capacity
			stats.AllocationCount += page.liveSets
			stats.AllocationBytes += page.liveSets
		}
		return false
	})
	return stats
}

// BuildStatsString writes a json dump of every pool page, for diagnostics.
func (al *Allocator) BuildStatsString() string {
	al.mutex.Lock()
	defer al.mutex.Unlock()

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	pagesArr := rootObj.Name("Pools").Array()
	al.pools.Iter(func(s shape, pools *shapePools) bool {
		for _, page := range pools.pages {
			pageObj := pagesArr.Object()
			pageObj.Name("Capacity").Int(page.capacity)
			pageObj.Name("LiveSets").Int(page.liveSets)
			for kind := Kind(0); kind < kindCount; kind++ {
				if s[kind] > 0 {
					pageObj.Name(kind.String()).Int(s[kind])
				}
			}
			pageObj.End()
		}
		return false
	})
	pagesArr.End()

	rootObj.End()
	return string(writer.Bytes())
}

// Destroy tears down every pool page and cached layout. It is an error to call
// it while sets are still live.
func (al *Allocator) Destroy() error {
	al.logger.Debug("Allocator::Destroy")

	al.mutex.Lock()
	defer al.mutex.Unlock()

	var liveSets int
	al.pools.Iter(func(s shape, pools *shapePools) bool {
		for _, page := range pools.pages {
			liveSets += page.liveSets
		}
		return false
	})
	if liveSets > 0 {
		return errors.Newf("destroying a descriptor allocator while %d sets are live", liveSets)
	}

	al.pools.Iter(func(s shape, pools *shapePools) bool {
		for _, page := range pools.pages {
			page.pool.Destroy(al.allocationCallbacks)
		}
		return false
	})
	al.pools = swiss.NewMap[shape, *shapePools](8)

	al.layouts.Iter(func(key string, layout core1_0.DescriptorSetLayout) bool {
		layout.Destroy(al.allocationCallbacks)
		return false
	})
	al.layouts = swiss.NewMap[string, core1_0.DescriptorSetLayout](8)

	return nil
}
