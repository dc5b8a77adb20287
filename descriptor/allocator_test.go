package descriptor

import (
	"io"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
	"golang.org/x/exp/slog"
)

func readyAllocator(t *testing.T, ctrl *gomock.Controller, options CreateOptions) (*mocks.MockDevice, *Allocator) {
	t.Helper()

	device := mocks.NewMockDevice(ctrl)
	logger := slog.New(slog.NewJSONHandler(io.Discard))
	return device, New(logger, device, options)
}

func uniformBufferInfo(buffer core1_0.Buffer) SetInfo {
	return SetInfo{
		Bindings: []Binding{
			{
				Binding: 0,
				Kind:    KindUniformBuffer,
				Stages:  core1_0.StageVertex,
				Buffer:  buffer,
				Offset:  0,
				Range:   256,
			},
		},
	}
}

func TestAllocateWritesSetOnce(t *testing.T) {
	ctrl := gomock.NewController(t)

	device, allocator := readyAllocator(t, ctrl, CreateOptions{SetsPerPool: 4})

	buffer := mocks.EasyMockBuffer(ctrl)
	layout := mocks.EasyMockDescriptorSetLayout(ctrl)
	pool := mocks.NewMockDescriptorPool(ctrl)
	set := mocks.NewMockDescriptorSet(ctrl)

	device.EXPECT().CreateDescriptorSetLayout(gomock.Nil(), core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageVertex,
			},
		},
	}).Return(layout, core1_0.VKSuccess, nil)
	device.EXPECT().CreateDescriptorPool(gomock.Nil(), core1_0.DescriptorPoolCreateInfo{
		Flags:   core1_0.DescriptorPoolCreateFreeDescriptorSet,
		MaxSets: 4,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 4,
			},
		},
	}).Return(pool, core1_0.VKSuccess, nil)
	device.EXPECT().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: pool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	}).Return([]core1_0.DescriptorSet{set}, core1_0.VKSuccess, nil)
	device.EXPECT().UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:         set,
			DstBinding:     0,
			DescriptorType: core1_0.DescriptorTypeUniformBuffer,
			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffer,
					Offset: 0,
					Range:  256,
				},
			},
		},
	}, gomock.Nil()).Return(nil)

	alloc, res, err := allocator.Allocate(uniformBufferInfo(buffer))
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
	require.Equal(t, set, alloc.Set())
	require.Equal(t, layout, alloc.Layout())
}

func TestLayoutIsCachedAcrossAllocations(t *testing.T) {
	ctrl := gomock.NewController(t)

	device, allocator := readyAllocator(t, ctrl, CreateOptions{SetsPerPool: 4})

	buffer := mocks.EasyMockBuffer(ctrl)
	layout := mocks.EasyMockDescriptorSetLayout(ctrl)
	pool := mocks.NewMockDescriptorPool(ctrl)

	device.EXPECT().CreateDescriptorSetLayout(gomock.Nil(), gomock.Any()).
		Return(layout, core1_0.VKSuccess, nil).
		Times(1)
	device.EXPECT().CreateDescriptorPool(gomock.Nil(), gomock.Any()).
		Return(pool, core1_0.VKSuccess, nil).
		Times(1)
	device.EXPECT().AllocateDescriptorSets(gomock.Any()).
		Return([]core1_0.DescriptorSet{mocks.NewMockDescriptorSet(ctrl)}, core1_0.VKSuccess, nil).
		Times(2)
	device.EXPECT().UpdateDescriptorSets(gomock.Any(), gomock.Nil()).Return(nil).Times(2)

	first, _, err := allocator.Allocate(uniformBufferInfo(buffer))
	require.NoError(t, err)
	second, _, err := allocator.Allocate(uniformBufferInfo(buffer))
	require.NoError(t, err)

	require.Equal(t, first.Layout(), second.Layout())
}

func TestExhaustedPageGrowsAnotherPool(t *testing.T) {
	ctrl := gomock.NewController(t)

	device, allocator := readyAllocator(t, ctrl, CreateOptions{SetsPerPool: 2})

	buffer := mocks.EasyMockBuffer(ctrl)
	layout := mocks.EasyMockDescriptorSetLayout(ctrl)
	firstPool := mocks.NewMockDescriptorPool(ctrl)
	secondPool := mocks.NewMockDescriptorPool(ctrl)

	device.EXPECT().CreateDescriptorSetLayout(gomock.Nil(), gomock.Any()).
		Return(layout, core1_0.VKSuccess, nil)
	gomock.InOrder(
		device.EXPECT().CreateDescriptorPool(gomock.Nil(), gomock.Any()).
			Return(firstPool, core1_0.VKSuccess, nil),
		device.EXPECT().CreateDescriptorPool(gomock.Nil(), gomock.Any()).
			Return(secondPool, core1_0.VKSuccess, nil),
	)
	device.EXPECT().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: firstPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	}).Return([]core1_0.DescriptorSet{mocks.NewMockDescriptorSet(ctrl)}, core1_0.VKSuccess, nil).Times(2)
	device.EXPECT().AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: secondPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{layout},
	}).Return([]core1_0.DescriptorSet{mocks.NewMockDescriptorSet(ctrl)}, core1_0.VKSuccess, nil)
	device.EXPECT().UpdateDescriptorSets(gomock.Any(), gomock.Nil()).Return(nil).Times(3)

	// The first two sets fill the first page; the third forces a second page
	for i := 0; i < 3; i++ {
		_, _, err := allocator.Allocate(uniformBufferInfo(buffer))
		require.NoError(t, err)
	}

	stats := allocator.Statistics()
	require.Equal(t, 2, stats.BlockCount)
	require.Equal(t, 3, stats.AllocationCount)
}

func TestFreeReturnsSlotToItsPage(t *testing.T) {
	ctrl := gomock.NewController(t)

	device, allocator := readyAllocator(t, ctrl, CreateOptions{SetsPerPool: 1})

	buffer := mocks.EasyMockBuffer(ctrl)
	layout := mocks.EasyMockDescriptorSetLayout(ctrl)
	pool := mocks.NewMockDescriptorPool(ctrl)
	set := mocks.NewMockDescriptorSet(ctrl)

	device.EXPECT().CreateDescriptorSetLayout(gomock.Nil(), gomock.Any()).
		Return(layout, core1_0.VKSuccess, nil)
	device.EXPECT().CreateDescriptorPool(gomock.Nil(), gomock.Any()).
		Return(pool, core1_0.VKSuccess, nil).
		Times(1)
	device.EXPECT().AllocateDescriptorSets(gomock.Any()).
		Return([]core1_0.DescriptorSet{set}, core1_0.VKSuccess, nil).
		Times(2)
	device.EXPECT().UpdateDescriptorSets(gomock.Any(), gomock.Nil()).Return(nil).Times(2)
	set.EXPECT().Free().Return(core1_0.VKSuccess, nil)

	alloc, _, err := allocator.Allocate(uniformBufferInfo(buffer))
	require.NoError(t, err)

	require.NoError(t, allocator.Free(alloc))

	// The freed slot makes the single-set page usable again, so no second pool
	// is created
	_, _, err = allocator.Allocate(uniformBufferInfo(buffer))
	require.NoError(t, err)
}

func TestNonContiguousBindingsRejected(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, allocator := readyAllocator(t, ctrl, CreateOptions{})

	buffer := mocks.EasyMockBuffer(ctrl)
	_, _, err := allocator.Allocate(SetInfo{
		Bindings: []Binding{
			{
				Binding: 1,
				Kind:    KindUniformBuffer,
				Stages:  core1_0.StageVertex,
				Buffer:  buffer,
				Range:   256,
			},
		},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, NonContiguousBindingsError)
}

func TestIncompleteBindingRejected(t *testing.T) {
	ctrl := gomock.NewController(t)

	_, allocator := readyAllocator(t, ctrl, CreateOptions{})

	_, _, err := allocator.Allocate(SetInfo{
		Bindings: []Binding{
			{
				Binding: 0,
				Kind:    KindCombinedImageSampler,
				Stages:  core1_0.StageFragment,
			},
		},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, IncompleteBindingError)

	_, _, err = allocator.Allocate(SetInfo{
		Bindings: []Binding{
			{
				Binding: 0,
				Kind:    KindStorageBuffer,
				Stages:  core1_0.StageCompute,
			},
		},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, IncompleteBindingError)
}

func TestDestroyRequiresAllSetsFreed(t *testing.T) {
	ctrl := gomock.NewController(t)

	device, allocator := readyAllocator(t, ctrl, CreateOptions{SetsPerPool: 4})

	buffer := mocks.EasyMockBuffer(ctrl)
	layout := mocks.EasyMockDescriptorSetLayout(ctrl)
	pool := mocks.NewMockDescriptorPool(ctrl)
	set := mocks.NewMockDescriptorSet(ctrl)

	device.EXPECT().CreateDescriptorSetLayout(gomock.Nil(), gomock.Any()).
		Return(layout, core1_0.VKSuccess, nil)
	device.EXPECT().CreateDescriptorPool(gomock.Nil(), gomock.Any()).
		Return(pool, core1_0.VKSuccess, nil)
	device.EXPECT().AllocateDescriptorSets(gomock.Any()).
		Return([]core1_0.DescriptorSet{set}, core1_0.VKSuccess, nil)
	device.EXPECT().UpdateDescriptorSets(gomock.Any(), gomock.Nil()).Return(nil)

	alloc, _, err := allocator.Allocate(uniformBufferInfo(buffer))
	require.NoError(t, err)

	require.Error(t, allocator.Destroy())

	set.EXPECT().Free().Return(core1_0.VKSuccess, nil)
	require.NoError(t, allocator.Free(alloc))

	pool.EXPECT().Destroy(gomock.Nil())
	layout.EXPECT().Destroy(gomock.Nil())
	require.NoError(t, allocator.Destroy())
}

func TestBuildStatsString(t *testing.T) {
	ctrl := gomock.NewController(t)

	device, allocator := readyAllocator(t, ctrl, CreateOptions{SetsPerPool: 4})

	buffer := mocks.EasyMockBuffer(ctrl)
	device.EXPECT().CreateDescriptorSetLayout(gomock.Nil(), gomock.Any()).
		Return(mocks.EasyMockDescriptorSetLayout(ctrl), core1_0.VKSuccess, nil)
	device.EXPECT().CreateDescriptorPool(gomock.Nil(), gomock.Any()).
		Return(mocks.NewMockDescriptorPool(ctrl), core1_0.VKSuccess, nil)
	device.EXPECT().AllocateDescriptorSets(gomock.Any()).
		Return([]core1_0.DescriptorSet{mocks.NewMockDescriptorSet(ctrl)}, core1_0.VKSuccess, nil)
	device.EXPECT().UpdateDescriptorSets(gomock.Any(), gomock.Nil()).Return(nil)

	_, _, err := allocator.Allocate(uniformBufferInfo(buffer))
	require.NoError(t, err)

	stats := allocator.BuildStatsString()
	require.True(t, strings.Contains(stats, "\"Pools\""))
	require.True(t, strings.Contains(stats, "\"LiveSets\":1"))
	require.True(t, strings.Contains(stats, "\"KindUniformBuffer\":1"))
}
