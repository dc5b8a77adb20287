package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/obsidian-engine/gpu/arena"
	"github.com/obsidian-engine/gpu/descriptor"
	"github.com/obsidian-engine/gpu/memory"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/driver"
	"golang.org/x/exp/slog"
)

const defaultFrameSlotCount = 2

// QueueOptions names a queue handle together with the family it was obtained
// from.
type QueueOptions struct {
	Queue       core1_0.Queue
	FamilyIndex int
}

// CreateOptions configures a new Device. The native device, physical device,
// and graphics queue are required; everything else has workable defaults.
type CreateOptions struct {
	Device         core1_0.Device
	PhysicalDevice core1_0.PhysicalDevice

	// Graphics is the general graphics queue. Required.
	Graphics QueueOptions
	// AsyncCompute is an optional compute queue. When nil, compute work runs on
	// the graphics queue.
	AsyncCompute *QueueOptions
	// Transfer is an optional transfer queue. When nil, copies run on the
	// graphics queue.
	Transfer *QueueOptions

	// FrameSlotCount is the number of frames that may be in flight at once. Each
	// slot owns one command pool per queue type, reset wholesale when the slot
	// comes back around. Defaults to 2.
	FrameSlotCount int

	// Memory configures the device memory allocator.
	Memory memory.CreateOptions
	// Descriptors configures the descriptor set allocator.
	Descriptors descriptor.CreateOptions

	Logger *slog.Logger
	// AllocationCallbacks are optional host allocation callbacks passed through
	// to every Vulkan call the device makes. They also apply to the memory and
	// descriptor allocators unless those set their own.
	AllocationCallbacks *driver.AllocationCallbacks
}

// Device is the top-level context: it owns the queues, the memory and
// descriptor allocators, the per-frame command pools, and one arena per
// resource kind. All resource creation and command buffer recording goes
// through it.
//
// A Device is not safe for unsynchronized concurrent use. Set UseMutex on the
// allocator options to share only the allocators across goroutines.
type Device struct {
	logger *slog.Logger

	device              core1_0.Device
	physicalDevice      core1_0.PhysicalDevice
	allocationCallbacks *driver.AllocationCallbacks

	graphicsQueue      core1_0.Queue
	asyncComputeQueue  core1_0.Queue
	transferQueue      core1_0.Queue
	graphicsFamily     int
	asyncComputeFamily int
	transferFamily     int

	memory      *memory.Allocator
	descriptors *descriptor.Allocator

	frameSlotCount   int
	currentFrameSlot int
	commandPools     [][queueTypeCount]core1_0.CommandPool

	buffers        *arena.Arena[*Buffer]
	images         *arena.Arena[*Image]
	imageViews     *arena.Arena[*ImageView]
	samplers       *arena.Arena[*Sampler]
	shaderModules  *arena.Arena[*ShaderModule]
	pipelines      *arena.Arena[*Pipeline]
	descriptorSets *arena.Arena[*DescriptorSet]
	renderPasses   *arena.Arena[*RenderPass]
	framebuffers   *arena.Arena[*Framebuffer]
	semaphores     *arena.Arena[*Semaphore]
	fences         *arena.Arena[*Fence]
}

// Typed handles into the Device's resource arenas.
type (
	BufferHandle        = arena.Handle[*Buffer]
	ImageHandle         = arena.Handle[*Image]
	ImageViewHandle     = arena.Handle[*ImageView]
	SamplerHandle       = arena.Handle[*Sampler]
	ShaderModuleHandle  = arena.Handle[*ShaderModule]
	PipelineHandle      = arena.Handle[*Pipeline]
	DescriptorSetHandle = arena.Handle[*DescriptorSet]
	RenderPassHandle    = arena.Handle[*RenderPass]
	FramebufferHandle   = arena.Handle[*Framebuffer]
	SemaphoreHandle     = arena.Handle[*Semaphore]
	FenceHandle         = arena.Handle[*Fence]
)

// New creates a Device over an already-initialized native device. The caller
// keeps ownership of the native device and queues; Destroy tears down only what
// the Device created.
func New(options CreateOptions) (*Device, error) {
	if options.Device == nil {
		return nil, errors.New("CreateOptions.Device is required")
	}
	if options.PhysicalDevice == nil {
		return nil, errors.New("CreateOptions.PhysicalDevice is required")
	}
	if options.Graphics.Queue == nil {
		return nil, errors.New("CreateOptions.Graphics.Queue is required")
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	frameSlotCount := options.FrameSlotCount
	if frameSlotCount == 0 {
		frameSlotCount = defaultFrameSlotCount
	}
	if frameSlotCount < 0 {
		return nil, errors.Newf("CreateOptions.FrameSlotCount %d is negative", frameSlotCount)
	}

	memoryOptions := options.Memory
	if memoryOptions.AllocationCallbacks == nil {
		memoryOptions.AllocationCallbacks = options.AllocationCallbacks
	}
	descriptorOptions := options.Descriptors
	if descriptorOptions.AllocationCallbacks == nil {
		descriptorOptions.AllocationCallbacks = options.AllocationCallbacks
	}

	memoryAllocator, err := memory.New(logger, options.Device, options.PhysicalDevice, memoryOptions)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the device memory allocator")
	}

	d := &Device{
		logger: logger,

		device:              options.Device,
		physicalDevice:      options.PhysicalDevice,
		allocationCallbacks: options.AllocationCallbacks,

		graphicsQueue:  options.Graphics.Queue,
		graphicsFamily: options.Graphics.FamilyIndex,

		memory:      memoryAllocator,
		descriptors: descriptor.New(logger, options.Device, descriptorOptions),

		frameSlotCount: frameSlotCount,
	}

	d.asyncComputeQueue = d.graphicsQueue
	d.asyncComputeFamily = d.graphicsFamily
	if options.AsyncCompute != nil {
		d.asyncComputeQueue = options.AsyncCompute.Queue
		d.asyncComputeFamily = options.AsyncCompute.FamilyIndex
	}
	d.transferQueue = d.graphicsQueue
	d.transferFamily = d.graphicsFamily
	if options.Transfer != nil {
		d.transferQueue = options.Transfer.Queue
		d.transferFamily = options.Transfer.FamilyIndex
	}

	d.commandPools = make([][queueTypeCount]core1_0.CommandPool, frameSlotCount)
	for slot := 0; slot < frameSlotCount; slot++ {
		for queueType := QueueType(0); queueType < queueTypeCount; queueType++ {
			pool, _, err := d.device.CreateCommandPool(d.allocationCallbacks, core1_0.CommandPoolCreateInfo{
				Flags:            core1_0.CommandPoolCreateTransient,
				QueueFamilyIndex: queueType.familyIndex(d),
			})
			if err != nil {
				d.destroyCommandPools()
				return nil, errors.Wrapf(err, "failed to create the %s command pool for frame slot %d", queueType, slot)
			}
			d.commandPools[slot][queueType] = pool
		}
	}

	d.buffers = arena.New(func(b *Buffer) { b.destroy(d) })
	d.images = arena.New(func(i *Image) { i.destroy(d) })
	d.imageViews = arena.New(func(v *ImageView) { v.destroy(d) })
	d.samplers = arena.New(func(s *Sampler) { s.destroy(d) })
	d.shaderModules = arena.New(func(m *ShaderModule) { m.destroy(d) })
	d.pipelines = arena.New(func(p *Pipeline) { p.destroy(d) })
	d.descriptorSets = arena.New(func(s *DescriptorSet) { s.destroy(d) })
	d.renderPasses = arena.New(func(r *RenderPass) { r.destroy(d) })
	d.framebuffers = arena.New(func(f *Framebuffer) { f.destroy(d) })
	d.semaphores = arena.New(func(s *Semaphore) { s.destroy(d) })
	d.fences = arena.New(func(f *Fence) { f.destroy(d) })

	return d, nil
}

func (d *Device) destroyCommandPools() {
	for slot := range d.commandPools {
		for _, pool := range d.commandPools[slot] {
			if pool != nil {
				pool.Destroy(d.allocationCallbacks)
			}
		}
	}
	d.commandPools = nil
}
