package gpu

import (
	"context"

	"github.com/obsidian-engine/gpu/descriptor"
	"github.com/obsidian-engine/gpu/memory"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

// Buffer is a GPU buffer object together with the device memory suballocation
// backing it. Buffers are owned by the Device's buffer arena; when the last
// handle is released, the allocation is returned to its allocator strictly
// before the native buffer is destroyed.
type Buffer struct {
	label  string
	buffer core1_0.Buffer
	domain memory.Domain

	allocation *memory.Allocation
	allocator  *memory.Allocator
}

func (b *Buffer) Label() string { return b.label }

// Handle returns the native buffer for bind and copy calls.
func (b *Buffer) Handle() core1_0.Buffer { return b.buffer }

func (b *Buffer) Domain() memory.Domain { return b.domain }

// Size returns the usable size of the buffer's allocation in bytes.
func (b *Buffer) Size() int { return b.allocation.Size() }

// WriteData copies data into the buffer at offset through its persistent
// mapping. The buffer must live in a host-visible domain. Zero-length writes and
// writes that fall outside the allocation are usage violations.
func (b *Buffer) WriteData(offset int, data []byte) {
	if len(data) == 0 {
		panic("attempting to write zero bytes into a buffer")
	}
	if offset < 0 || offset >= b.allocation.Size() {
		panic("attempting to write outside a buffer: offset is past the end of its allocation")
	}
	if offset+len(data) > b.allocation.Size() {
		panic("attempting to write outside a buffer: the write extends past the end of its allocation")
	}

	copy(b.allocation.Bytes()[offset:], data)
}

// ReadData copies size bytes at offset out of the buffer's persistent mapping.
func (b *Buffer) ReadData(offset int, size int) []byte {
	if offset < 0 || offset+size > b.allocation.Size() {
		panic("attempting to read outside a buffer")
	}

	out := make([]byte, size)
	copy(out, b.allocation.Bytes()[offset:])
	return out
}

func (b *Buffer) destroy(d *Device) {
	err := b.allocator.Free(b.allocation)
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to free a buffer's memory allocation",
			slog.String("label", b.label),
			slog.Any("error", err))
	}
	b.buffer.Destroy(d.allocationCallbacks)
}

// Image is a GPU image. Images created through the Device own a memory
// allocation; images wrapping an external native object (swapchain images) do
// not, and destroying them leaves the native object alone.
type Image struct {
	label  string
	image  core1_0.Image
	extent core1_0.Extent2D
	format ImageFormat

	// nil for wrapped images
	allocation *memory.Allocation
	allocator  *memory.Allocator
}

func (i *Image) Label() string { return i.label }

// Handle returns the native image.
func (i *Image) Handle() core1_0.Image { return i.image }

func (i *Image) Extent() core1_0.Extent2D { return i.extent }

func (i *Image) Format() ImageFormat { return i.format }

func (i *Image) destroy(d *Device) {
	if i.allocation == nil {
		// Wrapped image: whoever produced the native object owns it
		return
	}

	err := i.allocator.Free(i.allocation)
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to free an image's memory allocation",
			slog.String("label", i.label),
			slog.Any("error", err))
	}
	i.image.Destroy(d.allocationCallbacks)
}

// ImageView is a view over an Image, caching the owner image, format, and extent
// so render-pass recording does not resolve the image again.
type ImageView struct {
	label  string
	view   core1_0.ImageView
	image  core1_0.Image
	extent core1_0.Extent2D
	format ImageFormat
}

func (v *ImageView) Label() string { return v.label }

// Handle returns the native image view.
func (v *ImageView) Handle() core1_0.ImageView { return v.view }

// Image returns the native image the view was created over.
func (v *ImageView) Image() core1_0.Image { return v.image }

func (v *ImageView) Extent() core1_0.Extent2D { return v.extent }

func (v *ImageView) Format() ImageFormat { return v.format }

func (v *ImageView) destroy(d *Device) {
	v.view.Destroy(d.allocationCallbacks)
}

// Sampler wraps native sampling state.
type Sampler struct {
	label   string
	sampler core1_0.Sampler
}

func (s *Sampler) Label() string { return s.label }

// Handle returns the native sampler.
func (s *Sampler) Handle() core1_0.Sampler { return s.sampler }

func (s *Sampler) destroy(d *Device) {
	s.sampler.Destroy(d.allocationCallbacks)
}

// ShaderModule wraps a shader module created from pre-compiled SPIR-V.
type ShaderModule struct {
	label  string
	module core1_0.ShaderModule
}

func (m *ShaderModule) Label() string { return m.label }

// Handle returns the native shader module.
func (m *ShaderModule) Handle() core1_0.ShaderModule { return m.module }

func (m *ShaderModule) destroy(d *Device) {
	m.module.Destroy(d.allocationCallbacks)
}

// Pipeline is compiled draw or compute state, registered with the Device after
// being built externally. The arena owns the pipeline object; the layout is
// borrowed (layouts are commonly shared between pipelines) and stays with its
// creator.
type Pipeline struct {
	label    string
	pipeline core1_0.Pipeline
	layout   core1_0.PipelineLayout
}

func (p *Pipeline) Label() string { return p.label }

// Handle returns the native pipeline.
func (p *Pipeline) Handle() core1_0.Pipeline { return p.pipeline }

// Layout returns the pipeline layout for descriptor set binds and push
// constants.
func (p *Pipeline) Layout() core1_0.PipelineLayout { return p.layout }

func (p *Pipeline) destroy(d *Device) {
	p.pipeline.Destroy(d.allocationCallbacks)
}

// RenderPass is a native render pass whose attachment descriptions, load and
// store ops included, were fixed at creation. Begin-time info only supplies the
// framebuffer, the render area, and the clear values.
type RenderPass struct {
	label      string
	renderPass core1_0.RenderPass
}

func (r *RenderPass) Label() string { return r.label }

// Handle returns the native render pass, for external pipeline construction.
func (r *RenderPass) Handle() core1_0.RenderPass { return r.renderPass }

func (r *RenderPass) destroy(d *Device) {
	r.renderPass.Destroy(d.allocationCallbacks)
}

// Framebuffer binds concrete image views to a render pass's attachment slots.
// The views must outlive the framebuffer.
type Framebuffer struct {
	label       string
	framebuffer core1_0.Framebuffer
	extent      core1_0.Extent2D
}

func (f *Framebuffer) Label() string { return f.label }

// Handle returns the native framebuffer.
func (f *Framebuffer) Handle() core1_0.Framebuffer { return f.framebuffer }

func (f *Framebuffer) Extent() core1_0.Extent2D { return f.extent }

func (f *Framebuffer) destroy(d *Device) {
	f.framebuffer.Destroy(d.allocationCallbacks)
}

// DescriptorSet is a bound, immutable group of shader-visible resources. The
// pool slot returns to its originating pool page when the last handle is
// released.
type DescriptorSet struct {
	label      string
	allocation *descriptor.Allocation
	allocator  *descriptor.Allocator
}

func (s *DescriptorSet) Label() string { return s.label }

// Handle returns the native descriptor set.
func (s *DescriptorSet) Handle() core1_0.DescriptorSet { return s.allocation.Set() }

func (s *DescriptorSet) destroy(d *Device) {
	err := s.allocator.Free(s.allocation)
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to free a descriptor set",
			slog.String("label", s.label),
			slog.Any("error", err))
	}
}
