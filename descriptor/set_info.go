package descriptor

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Kind is the kind of shader-visible resource a binding carries.
type Kind uint32

const (
	// KindUniformBuffer binds a read-only range of a buffer
	KindUniformBuffer Kind = iota
	// KindStorageBuffer binds a read-write range of a buffer
	KindStorageBuffer
	// KindSampler binds sampling state alone
	KindSampler
	// KindCombinedImageSampler binds an image view together with sampling state
	KindCombinedImageSampler

	kindCount
)

var kindMapping = map[Kind]string{
	KindUniformBuffer:        "KindUniformBuffer",
	KindStorageBuffer:        "KindStorageBuffer",
	KindSampler:              "KindSampler",
	KindCombinedImageSampler: "KindCombinedImageSampler",
}

func (k Kind) String() string {
	return kindMapping[k]
}

func (k Kind) toDescriptorType() core1_0.DescriptorType {
	switch k {
	case KindUniformBuffer:
		return core1_0.DescriptorTypeUniformBuffer
	case KindStorageBuffer:
		return core1_0.DescriptorTypeStorageBuffer
	case KindSampler:
		return core1_0.DescriptorTypeSampler
	case KindCombinedImageSampler:
		return core1_0.DescriptorTypeCombinedImageSampler
	}

	panic(fmt.Sprintf("unknown descriptor kind: %d", k))
}

// Binding describes one binding slot of a descriptor set: its caller-assigned
// index, descriptor kind, visible shader stages, and the concrete resources to
// write into the slot. Which resource fields apply depends on Kind.
type Binding struct {
	Binding int
	Kind    Kind
	Stages  core1_0.ShaderStageFlags

	// Buffer range, for KindUniformBuffer and KindStorageBuffer
	Buffer core1_0.Buffer
	Offset int
	Range  int

	// Sampling state, for KindSampler and KindCombinedImageSampler
	Sampler     core1_0.Sampler
	ImageView   core1_0.ImageView
	ImageLayout core1_0.ImageLayout
}

// SetInfo describes a descriptor set to allocate. The set's binding layout is
// fixed at creation; updating bound resources means allocating a new set.
type SetInfo struct {
	Bindings []Binding
}

// shape is the count of each descriptor kind in a set. Pool pages are sized for
// one shape and sets only ever come from a page of their own shape.
type shape [kindCount]int

func (i SetInfo) shape() shape {
	var s shape
	for _, binding := range i.Bindings {
		s[binding.Kind]++
	}
	return s
}

// layoutKey is a canonical signature of the set's binding layout, used to cache
// descriptor set layouts across allocations.
func (i SetInfo) layoutKey() string {
	var builder strings.Builder
	for _, binding := range i.Bindings {
		fmt.Fprintf(&builder, "%d:%d:%x;", binding.Binding, binding.Kind, binding.Stages)
	}
	return builder.String()
}

func (i SetInfo) validate() error {
	if len(i.Bindings) == 0 {
		return errors.New("descriptor set info carries no bindings")
	}

	for index, binding := range i.Bindings {
		if binding.Binding != index {
			return errors.Wrapf(NonContiguousBindingsError, "binding at position %d has index %d", index, binding.Binding)
		}

		switch binding.Kind {
		case KindUniformBuffer, KindStorageBuffer:
			if binding.Buffer == nil || binding.Range <= 0 {
				return errors.Wrapf(IncompleteBindingError, "binding %d (%s) needs a buffer and a positive range", index, binding.Kind.String())
			}
		case KindSampler:
			if binding.Sampler == nil {
				return errors.Wrapf(IncompleteBindingError, "binding %d (%s) needs a sampler", index, binding.Kind.String())
			}
		case KindCombinedImageSampler:
			if binding.Sampler == nil || binding.ImageView == nil {
				return errors.Wrapf(IncompleteBindingError, "binding %d (%s) needs a sampler and an image view", index, binding.Kind.String())
			}
		default:
			return errors.Newf("binding %d has unknown kind %d", index, binding.Kind)
		}
	}

	return nil
}
