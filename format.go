package gpu

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/core1_0"
)

// ImageFormat is the set of texel formats the layer hands out for textures and
// attachments. It is deliberately small: callers pick semantic formats and the
// layer maps them onto Vulkan formats.
type ImageFormat uint32

const (
	FormatRgba8 ImageFormat = iota
	FormatBgra8
	FormatSRgba8
	FormatRgbaFloat
	FormatDepth
	FormatDepthStencil
)

var imageFormatMapping = map[ImageFormat]string{
	FormatRgba8:        "FormatRgba8",
	FormatBgra8:        "FormatBgra8",
	FormatSRgba8:       "FormatSRgba8",
	FormatRgbaFloat:    "FormatRgbaFloat",
	FormatDepth:        "FormatDepth",
	FormatDepthStencil: "FormatDepthStencil",
}

func (f ImageFormat) String() string {
	return imageFormatMapping[f]
}

func (f ImageFormat) IsColor() bool {
	return !f.IsDepth()
}

func (f ImageFormat) IsDepth() bool {
	return f == FormatDepth || f == FormatDepthStencil
}

// HasStencil reports whether the format carries a stencil aspect.
func (f ImageFormat) HasStencil() bool {
	return f == FormatDepthStencil
}

// DefaultUsageFlags returns the attachment usage appropriate for the format's
// aspect.
func (f ImageFormat) DefaultUsageFlags() core1_0.ImageUsageFlags {
	if f.IsDepth() {
		return core1_0.ImageUsageDepthStencilAttachment
	}
	return core1_0.ImageUsageColorAttachment
}

func (f ImageFormat) AspectMask() core1_0.ImageAspectFlags {
	if f.HasStencil() {
		return core1_0.ImageAspectDepth | core1_0.ImageAspectStencil
	}
	if f.IsDepth() {
		return core1_0.ImageAspectDepth
	}
	return core1_0.ImageAspectColor
}

func (f ImageFormat) PreferredAttachmentReadLayout() core1_0.ImageLayout {
	if f.IsDepth() {
		return core1_0.ImageLayoutDepthStencilReadOnlyOptimal
	}
	return core1_0.ImageLayoutShaderReadOnlyOptimal
}

func (f ImageFormat) PreferredAttachmentWriteLayout() core1_0.ImageLayout {
	if f.IsDepth() {
		return core1_0.ImageLayoutDepthStencilAttachmentOptimal
	}
	return core1_0.ImageLayoutColorAttachmentOptimal
}

func (f ImageFormat) PreferredShaderReadLayout() core1_0.ImageLayout {
	if f.IsDepth() {
		return core1_0.ImageLayoutDepthStencilReadOnlyOptimal
	}
	return core1_0.ImageLayoutShaderReadOnlyOptimal
}

// ToVulkan maps the format onto the Vulkan format the layer backs it with.
func (f ImageFormat) ToVulkan() core1_0.Format {
	switch f {
	case FormatRgba8:
		return core1_0.FormatR8G8B8A8UnsignedNormalized
	case FormatBgra8:
		return core1_0.FormatB8G8R8A8UnsignedNormalized
	case FormatSRgba8:
		return core1_0.FormatR8G8B8A8SRGB
	case FormatRgbaFloat:
		return core1_0.FormatR32G32B32A32SignedFloat
	case FormatDepth:
		return core1_0.FormatD32SignedFloat
	case FormatDepthStencil:
		return core1_0.FormatD32SignedFloatS8UnsignedInt
	}

	panic(fmt.Sprintf("unknown image format: %d", f))
}

// ImageFormatFromVulkan maps a Vulkan format back onto an ImageFormat. It panics
// on formats the layer never produces (most likely a bug: report it).
func ImageFormatFromVulkan(format core1_0.Format) ImageFormat {
	switch format {
	case core1_0.FormatR8G8B8A8UnsignedNormalized:
		return FormatRgba8
	case core1_0.FormatB8G8R8A8UnsignedNormalized:
		return FormatBgra8
	case core1_0.FormatR8G8B8A8SRGB:
		return FormatSRgba8
	case core1_0.FormatR32G32B32A32SignedFloat:
		return FormatRgbaFloat
	case core1_0.FormatD32SignedFloat:
		return FormatDepth
	case core1_0.FormatD32SignedFloatS8UnsignedInt:
		return FormatDepthStencil
	}

	panic(fmt.Sprintf("cannot convert format %d to an ImageFormat", format))
}
