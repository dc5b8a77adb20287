package gpu

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/obsidian-engine/gpu/arena"
	"github.com/obsidian-engine/gpu/descriptor"
	"github.com/obsidian-engine/gpu/memory"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// Buffers returns the buffer arena for handle resolution, cloning, and release.
func (d *Device) Buffers() *arena.Arena[*Buffer] { return d.buffers }

// Images returns the image arena.
func (d *Device) Images() *arena.Arena[*Image] { return d.images }

// ImageViews returns the image view arena.
func (d *Device) ImageViews() *arena.Arena[*ImageView] { return d.imageViews }

// Samplers returns the sampler arena.
func (d *Device) Samplers() *arena.Arena[*Sampler] { return d.samplers }

// ShaderModules returns the shader module arena.
func (d *Device) ShaderModules() *arena.Arena[*ShaderModule] { return d.shaderModules }

// Pipelines returns the pipeline arena.
func (d *Device) Pipelines() *arena.Arena[*Pipeline] { return d.pipelines }

// DescriptorSets returns the descriptor set arena.
func (d *Device) DescriptorSets() *arena.Arena[*DescriptorSet] { return d.descriptorSets }

// RenderPasses returns the render pass arena.
func (d *Device) RenderPasses() *arena.Arena[*RenderPass] { return d.renderPasses }

// Framebuffers returns the framebuffer arena.
func (d *Device) Framebuffers() *arena.Arena[*Framebuffer] { return d.framebuffers }

// Semaphores returns the semaphore arena.
func (d *Device) Semaphores() *arena.Arena[*Semaphore] { return d.semaphores }

// Fences returns the fence arena.
func (d *Device) Fences() *arena.Arena[*Fence] { return d.fences }

// Memory returns the device memory allocator, for statistics and stats dumps.
func (d *Device) Memory() *memory.Allocator { return d.memory }

// Descriptors returns the descriptor set allocator.
func (d *Device) Descriptors() *descriptor.Allocator { return d.descriptors }

// CreateBuffer creates a buffer of size bytes backed by a suballocation from
// domain and registers it with the buffer arena.
func (d *Device) CreateBuffer(label string, size int, usage core1_0.BufferUsageFlags, domain memory.Domain) (BufferHandle, error) {
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::CreateBuffer",
		slog.String("label", label),
		slog.Int("size", size),
		slog.String("domain", domain.String()))

	buffer, _, err := d.device.CreateBuffer(d.allocationCallbacks, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return BufferHandle{}, errors.Wrapf(err, "failed to create buffer %s", label)
	}

	requirements := buffer.MemoryRequirements()
	allocation, _, err := d.memory.Allocate(requirements.Size, uint(requirements.Alignment), domain)
	if err != nil {
		buffer.Destroy(d.allocationCallbacks)
		return BufferHandle{}, errors.Wrapf(err, "failed to allocate memory for buffer %s", label)
	}
	allocation.SetName(label)

	_, err = buffer.BindBufferMemory(allocation.Memory(), allocation.Offset())
	if err != nil {
		_ = d.memory.Free(allocation)
		buffer.Destroy(d.allocationCallbacks)
		return BufferHandle{}, errors.Wrapf(err, "failed to bind memory for buffer %s", label)
	}

	return d.buffers.Add(&Buffer{
		label:      label,
		buffer:     buffer,
		domain:     domain,
		allocation: allocation,
		allocator:  d.memory,
	}), nil
}

// CreateImage creates a 2D device-local image and registers it with the image
// arena. A zero usage selects the format's default attachment usage plus
// sampled and transfer-destination usage.
func (d *Device) CreateImage(label string, extent core1_0.Extent2D, format ImageFormat, usage core1_0.ImageUsageFlags) (ImageHandle, error) {
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::CreateImage",
		slog.String("label", label),
		slog.String("format", format.String()))

	if usage == 0 {
		usage = format.DefaultUsageFlags() | core1_0.ImageUsageSampled | core1_0.ImageUsageTransferDst
	}

	image, _, err := d.device.CreateImage(d.allocationCallbacks, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Format:    format.ToVulkan(),
		Extent: core1_0.Extent3D{
			Width:  extent.Width,
			Height: extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       core1_0.Samples1,
		Tiling:        core1_0.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   core1_0.SharingModeExclusive,
		InitialLayout: core1_0.ImageLayoutUndefined,
	})
	if err != nil {
		return ImageHandle{}, errors.Wrapf(err, "failed to create image %s", label)
	}

	requirements := image.MemoryRequirements()
	allocation, _, err := d.memory.Allocate(requirements.Size, uint(requirements.Alignment), memory.DomainDeviceLocal)
	if err != nil {
		image.Destroy(d.allocationCallbacks)
		return ImageHandle{}, errors.Wrapf(err, "failed to allocate memory for image %s", label)
	}
	allocation.SetName(label)

	_, err = image.BindImageMemory(allocation.Memory(), allocation.Offset())
	if err != nil {
		_ = d.memory.Free(allocation)
		image.Destroy(d.allocationCallbacks)
		return ImageHandle{}, errors.Wrapf(err, "failed to bind memory for image %s", label)
	}

	return d.images.Add(&Image{
		label:      label,
		image:      image,
		extent:     extent,
		format:     format,
		allocation: allocation,
		allocator:  d.memory,
	}), nil
}

// WrapImage registers an externally owned native image, most commonly a
// swapchain image, with the image arena. Releasing the handle does not destroy
// the native object.
func (d *Device) WrapImage(label string, image core1_0.Image, extent core1_0.Extent2D, format ImageFormat) ImageHandle {
	return d.images.Add(&Image{
		label:  label,
		image:  image,
		extent: extent,
		format: format,
	})
}

// CreateImageView creates a full-subresource 2D view over image.
func (d *Device) CreateImageView(label string, image ImageHandle) (ImageViewHandle, error) {
	img := d.images.Get(image)

	view, _, err := d.device.CreateImageView(d.allocationCallbacks, core1_0.ImageViewCreateInfo{
		Image:    img.image,
		ViewType: core1_0.ImageViewType2D,
		Format:   img.format.ToVulkan(),
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask: img.format.AspectMask(),
			LevelCount: 1,
			LayerCount: 1,
		},
	})
	if err != nil {
		return ImageViewHandle{}, errors.Wrapf(err, "failed to create image view %s", label)
	}

	return d.imageViews.Add(&ImageView{
		label:  label,
		view:   view,
		image:  img.image,
		extent: img.extent,
		format: img.format,
	}), nil
}

// CreateSampler creates a sampler from native creation info.
func (d *Device) CreateSampler(label string, o core1_0.SamplerCreateInfo) (SamplerHandle, error) {
	sampler, _, err := d.device.CreateSampler(d.allocationCallbacks, o)
	if err != nil {
		return SamplerHandle{}, errors.Wrapf(err, "failed to create sampler %s", label)
	}

	return d.samplers.Add(&Sampler{label: label, sampler: sampler}), nil
}

// CreateShaderModule creates a shader module from pre-compiled SPIR-V words.
func (d *Device) CreateShaderModule(label string, code []uint32) (ShaderModuleHandle, error) {
	if len(code) == 0 {
		return ShaderModuleHandle{}, errors.Newf("shader module %s has no code", label)
	}

	module, _, err := d.device.CreateShaderModule(d.allocationCallbacks, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return ShaderModuleHandle{}, errors.Wrapf(err, "failed to create shader module %s", label)
	}

	return d.shaderModules.Add(&ShaderModule{label: label, module: module}), nil
}

// WrapPipeline registers an externally built pipeline with the pipeline arena.
// The arena takes ownership of the pipeline object; the layout stays with its
// creator and must outlive the pipeline.
func (d *Device) WrapPipeline(label string, pipeline core1_0.Pipeline, layout core1_0.PipelineLayout) PipelineHandle {
	return d.pipelines.Add(&Pipeline{
		label:    label,
		pipeline: pipeline,
		layout:   layout,
	})
}

// DescriptorBinding describes one binding slot of a descriptor set in terms of
// device handles. Binding indices are implied by position in the slice. Which
// resource fields apply depends on Kind.
type DescriptorBinding struct {
	Kind   descriptor.Kind
	Stages core1_0.ShaderStageFlags

	// Buffer range, for buffer kinds. A zero Range binds from Offset to the end
	// of the buffer.
	Buffer *BufferHandle
	Offset int
	Range  int

	// Sampling state, for sampler kinds
	Sampler     *SamplerHandle
	ImageView   *ImageViewHandle
	ImageLayout core1_0.ImageLayout
}

// CreateDescriptorSet resolves bindings against the device's arenas, allocates
// a descriptor set matching their shape, writes the resources into it once, and
// registers it with the descriptor set arena. The set is immutable after this.
func (d *Device) CreateDescriptorSet(label string, bindings []DescriptorBinding) (DescriptorSetHandle, error) {
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::CreateDescriptorSet",
		slog.String("label", label),
		slog.Int("bindings", len(bindings)))

	info := descriptor.SetInfo{
		Bindings: make([]descriptor.Binding, len(bindings)),
	}
	for index, binding := range bindings {
		resolved := descriptor.Binding{
			Binding:     index,
			Kind:        binding.Kind,
			Stages:      binding.Stages,
			Offset:      binding.Offset,
			Range:       binding.Range,
			ImageLayout: binding.ImageLayout,
		}
		if binding.Buffer != nil {
			buffer := d.buffers.Get(*binding.Buffer)
			resolved.Buffer = buffer.Handle()
			if resolved.Range == 0 {
				resolved.Range = buffer.Size() - binding.Offset
			}
		}
		if binding.Sampler != nil {
			resolved.Sampler = d.samplers.Get(*binding.Sampler).Handle()
		}
		if binding.ImageView != nil {
			resolved.ImageView = d.imageViews.Get(*binding.ImageView).Handle()
		}
		info.Bindings[index] = resolved
	}

	allocation, _, err := d.descriptors.Allocate(info)
	if err != nil {
		return DescriptorSetHandle{}, errors.Wrapf(err, "failed to allocate descriptor set %s", label)
	}

	return d.descriptorSets.Add(&DescriptorSet{
		label:      label,
		allocation: allocation,
		allocator:  d.descriptors,
	}), nil
}

// ColorAttachmentDescription fixes the format, load/store behavior, and layout
// transition of one color target of a render pass. Zero-value ops load and
// store; a zero FinalLayout keeps the format's write-optimal layout.
type ColorAttachmentDescription struct {
	Format        ImageFormat
	LoadOp        core1_0.AttachmentLoadOp
	StoreOp       core1_0.AttachmentStoreOp
	InitialLayout core1_0.ImageLayout
	FinalLayout   core1_0.ImageLayout
}

// DepthStencilAttachmentDescription fixes the depth-stencil target of a render
// pass. The stencil ops only matter for formats carrying a stencil aspect;
// depth-only passes leave them at their zero values.
type DepthStencilAttachmentDescription struct {
	Format         ImageFormat
	LoadOp         core1_0.AttachmentLoadOp
	StoreOp        core1_0.AttachmentStoreOp
	StencilLoadOp  core1_0.AttachmentLoadOp
	StencilStoreOp core1_0.AttachmentStoreOp
	InitialLayout  core1_0.ImageLayout
	FinalLayout    core1_0.ImageLayout
}

// RenderPassCreateOptions names the attachments of a single-subpass render
// pass. At least one attachment is required.
type RenderPassCreateOptions struct {
	Colors       []ColorAttachmentDescription
	DepthStencil *DepthStencilAttachmentDescription
}

// CreateRenderPass creates a single-subpass render pass over the given
// attachments and registers it with the render pass arena. Pipelines targeting
// the pass are built externally against its Handle.
func (d *Device) CreateRenderPass(label string, options RenderPassCreateOptions) (RenderPassHandle, error) {
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::CreateRenderPass",
		slog.String("label", label),
		slog.Int("colorAttachments", len(options.Colors)))

	if len(options.Colors) == 0 && options.DepthStencil == nil {
		return RenderPassHandle{}, errors.Newf("render pass %s has no attachments", label)
	}

	attachments := make([]core1_0.AttachmentDescription, 0, len(options.Colors)+1)
	colorRefs := make([]core1_0.AttachmentReference, len(options.Colors))
	for i, color := range options.Colors {
		finalLayout := color.FinalLayout
		if finalLayout == core1_0.ImageLayoutUndefined {
			finalLayout = color.Format.PreferredAttachmentWriteLayout()
		}
		attachments = append(attachments, core1_0.AttachmentDescription{
			Format:         color.Format.ToVulkan(),
			Samples:        core1_0.Samples1,
			LoadOp:         color.LoadOp,
			StoreOp:        color.StoreOp,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  color.InitialLayout,
			FinalLayout:    finalLayout,
		})
		colorRefs[i] = core1_0.AttachmentReference{
			Attachment: i,
			Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
		}
	}

	subpass := core1_0.SubpassDescription{
		PipelineBindPoint: core1_0.PipelineBindPointGraphics,
		ColorAttachments:  colorRefs,
	}
	if options.DepthStencil != nil {
		depthStencil := options.DepthStencil
		finalLayout := depthStencil.FinalLayout
		if finalLayout == core1_0.ImageLayoutUndefined {
			finalLayout = depthStencil.Format.PreferredAttachmentWriteLayout()
		}
		attachments = append(attachments, core1_0.AttachmentDescription{
			Format:         depthStencil.Format.ToVulkan(),
			Samples:        core1_0.Samples1,
			LoadOp:         depthStencil.LoadOp,
			StoreOp:        depthStencil.StoreOp,
			StencilLoadOp:  depthStencil.StencilLoadOp,
			StencilStoreOp: depthStencil.StencilStoreOp,
			InitialLayout:  depthStencil.InitialLayout,
			FinalLayout:    finalLayout,
		})
		subpass.DepthStencilAttachment = &core1_0.AttachmentReference{
			Attachment: len(attachments) - 1,
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	renderPass, _, err := d.device.CreateRenderPass(d.allocationCallbacks, core1_0.RenderPassCreateInfo{
		Attachments: attachments,
		Subpasses:   []core1_0.SubpassDescription{subpass},
	})
	if err != nil {
		return RenderPassHandle{}, errors.Wrapf(err, "failed to create render pass %s", label)
	}

	return d.renderPasses.Add(&RenderPass{label: label, renderPass: renderPass}), nil
}

// CreateFramebuffer binds attachment views, in the render pass's attachment
// order, into a framebuffer of the given extent. All views must span at least
// that extent.
func (d *Device) CreateFramebuffer(label string, renderPass RenderPassHandle, attachments []ImageViewHandle, extent core1_0.Extent2D) (FramebufferHandle, error) {
	views := make([]core1_0.ImageView, len(attachments))
	for i, handle := range attachments {
		views[i] = d.imageViews.Get(handle).Handle()
	}

	framebuffer, _, err := d.device.CreateFramebuffer(d.allocationCallbacks, core1_0.FramebufferCreateInfo{
		RenderPass:  d.renderPasses.Get(renderPass).Handle(),
		Attachments: views,
		Width:       extent.Width,
		Height:      extent.Height,
		Layers:      1,
	})
	if err != nil {
		return FramebufferHandle{}, errors.Wrapf(err, "failed to create framebuffer %s", label)
	}

	return d.framebuffers.Add(&Framebuffer{
		label:       label,
		framebuffer: framebuffer,
		extent:      extent,
	}), nil
}

// CreateSemaphore creates a binary semaphore.
func (d *Device) CreateSemaphore(label string) (SemaphoreHandle, error) {
	semaphore, _, err := d.device.CreateSemaphore(d.allocationCallbacks, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return SemaphoreHandle{}, errors.Wrapf(err, "failed to create semaphore %s", label)
	}

	return d.semaphores.Add(&Semaphore{label: label, semaphore: semaphore}), nil
}

// CreateFence creates a fence, optionally already signaled so the first frame's
// wait does not deadlock.
func (d *Device) CreateFence(label string, signaled bool) (FenceHandle, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}

	fence, _, err := d.device.CreateFence(d.allocationCallbacks, core1_0.FenceCreateInfo{
		Flags: flags,
	})
	if err != nil {
		return FenceHandle{}, errors.Wrapf(err, "failed to create fence %s", label)
	}

	return d.fences.Add(&Fence{label: label, fence: fence}), nil
}

// FrameSlot returns the index of the frame slot command buffers currently
// record against.
func (d *Device) FrameSlot() int { return d.currentFrameSlot }

// FrameSlotCount returns the number of in-flight frame slots.
func (d *Device) FrameSlotCount() int { return d.frameSlotCount }

// AdvanceFrame moves to the next frame slot and resets that slot's command
// pools wholesale. The caller must have observed, through a fence, that the GPU
// finished the slot's previous submissions.
func (d *Device) AdvanceFrame() error {
	d.currentFrameSlot = (d.currentFrameSlot + 1) % d.frameSlotCount

	for queueType := QueueType(0); queueType < queueTypeCount; queueType++ {
		_, err := d.commandPools[d.currentFrameSlot][queueType].Reset(0)
		if err != nil {
			return errors.Wrapf(err, "failed to reset the %s command pool for frame slot %d", queueType, d.currentFrameSlot)
		}
	}

	return nil
}

// WaitIdle blocks until the native device is idle. Call it before Destroy.
func (d *Device) WaitIdle() error {
	_, err := d.device.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "failed to wait for the device to go idle")
	}
	return nil
}

// Destroy tears down everything the Device owns. Resources that still have live
// handles are logged and destroyed anyway; the native device and queues belong
// to the caller and are left alone.
func (d *Device) Destroy() error {
	drainArena(d, "DescriptorSet", d.descriptorSets)
	drainArena(d, "Framebuffer", d.framebuffers)
	drainArena(d, "ImageView", d.imageViews)
	drainArena(d, "Sampler", d.samplers)
	drainArena(d, "ShaderModule", d.shaderModules)
	drainArena(d, "Pipeline", d.pipelines)
	drainArena(d, "RenderPass", d.renderPasses)
	drainArena(d, "Buffer", d.buffers)
	drainArena(d, "Image", d.images)
	drainArena(d, "Semaphore", d.semaphores)
	drainArena(d, "Fence", d.fences)

	err := d.descriptors.Destroy()
	if err != nil {
		return errors.Wrap(err, "failed to destroy the descriptor allocator")
	}
	err = d.memory.Destroy()
	if err != nil {
		return errors.Wrap(err, "failed to destroy the memory allocator")
	}

	d.destroyCommandPools()
	return nil
}

type destroyable interface {
	Label() string
	destroy(d *Device)
}

func drainArena[T destroyable](d *Device, kind string, a *arena.Arena[T]) {
	a.ForEach(func(value T) {
		d.logger.LogAttrs(context.Background(), slog.LevelWarn,
			"[UNRELEASED RESOURCE] destroying a resource that still has live handles",
			slog.String("kind", kind),
			slog.String("label", value.Label()))
		value.destroy(d)
	})
}
