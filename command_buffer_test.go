package gpu

import (
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/core/v2/mocks"
)

// readyCommandBuffer wires the allocation and begin calls for one command buffer
// on the graphics queue.
func readyCommandBuffer(t *testing.T, ctrl *gomock.Controller, m *deviceMocks, d *Device, label string) (*CommandBuffer, *mocks.MockCommandBuffer) {
	t.Helper()

	native := mocks.NewMockCommandBuffer(ctrl)
	m.device.EXPECT().AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        m.pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}).Return([]core1_0.CommandBuffer{native}, core1_0.VKSuccess, nil)
	native.EXPECT().Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	}).Return(core1_0.VKSuccess, nil)

	cb, err := d.NewCommandBuffer(label, QueueGraphics)
	require.NoError(t, err)
	return cb, native
}

func recordBarrier(t *testing.T, cb *CommandBuffer, native *mocks.MockCommandBuffer) {
	t.Helper()

	native.EXPECT().CmdPipelineBarrier(
		core1_0.PipelineStageTransfer,
		core1_0.PipelineStageVertexShader,
		core1_0.DependencyFlags(0),
		[]core1_0.MemoryBarrier{
			{
				SrcAccessMask: core1_0.AccessTransferWrite,
				DstAccessMask: core1_0.AccessShaderRead,
			},
		},
		gomock.Nil(), gomock.Nil(),
	).Return(nil)

	err := cb.PipelineBarrier(
		core1_0.PipelineStageTransfer,
		core1_0.PipelineStageVertexShader,
		[]core1_0.MemoryBarrier{
			{
				SrcAccessMask: core1_0.AccessTransferWrite,
				DstAccessMask: core1_0.AccessShaderRead,
			},
		},
		nil, nil)
	require.NoError(t, err)
}

func TestSubmitWithoutWorkIsNoOp(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, native := readyCommandBuffer(t, ctrl, m, d, "empty frame")
	require.False(t, cb.HasRecordedWork())

	// No End, no queue submit, no fence: the buffer never reaches the driver
	res, err := cb.Submit(SubmitOptions{})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)

	native.EXPECT().Free()
	cb.Destroy()
}

func TestNoOpSubmitSkipsSynchronization(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, _ := readyCommandBuffer(t, ctrl, m, d, "empty frame")

	m.device.EXPECT().CreateSemaphore(gomock.Nil(), core1_0.SemaphoreCreateInfo{}).
		Return(mocks.EasyMockSemaphore(ctrl), core1_0.VKSuccess, nil)
	m.device.EXPECT().CreateFence(gomock.Nil(), core1_0.FenceCreateInfo{}).
		Return(mocks.EasyMockFence(ctrl), core1_0.VKSuccess, nil)

	wait, err := d.CreateSemaphore("wait")
	require.NoError(t, err)
	fence, err := d.CreateFence("frame fence", false)
	require.NoError(t, err)

	// Even with semaphores and a fence attached, nothing must reach the queue
	res, err := cb.Submit(SubmitOptions{
		WaitSemaphores: []SemaphoreHandle{wait},
		WaitStageMasks: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
		Fence:          &fence,
	})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
}

func TestSubmitPlumbsSynchronization(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, native := readyCommandBuffer(t, ctrl, m, d, "frame")
	recordBarrier(t, cb, native)
	require.True(t, cb.HasRecordedWork())

	waitSemaphore := mocks.EasyMockSemaphore(ctrl)
	signalSemaphore := mocks.EasyMockSemaphore(ctrl)
	fence := mocks.EasyMockFence(ctrl)
	m.device.EXPECT().CreateSemaphore(gomock.Nil(), core1_0.SemaphoreCreateInfo{}).
		Return(waitSemaphore, core1_0.VKSuccess, nil)
	m.device.EXPECT().CreateSemaphore(gomock.Nil(), core1_0.SemaphoreCreateInfo{}).
		Return(signalSemaphore, core1_0.VKSuccess, nil)
	m.device.EXPECT().CreateFence(gomock.Nil(), core1_0.FenceCreateInfo{}).
		Return(fence, core1_0.VKSuccess, nil)

	waitHandle, err := d.CreateSemaphore("image available")
	require.NoError(t, err)
	signalHandle, err := d.CreateSemaphore("render finished")
	require.NoError(t, err)
	fenceHandle, err := d.CreateFence("frame fence", false)
	require.NoError(t, err)

	native.EXPECT().End().Return(core1_0.VKSuccess, nil)
	m.queue.EXPECT().Submit(fence, []core1_0.SubmitInfo{
		{
			CommandBuffers:   []core1_0.CommandBuffer{native},
			WaitSemaphores:   []core1_0.Semaphore{waitSemaphore},
			WaitDstStageMask: []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
			SignalSemaphores: []core1_0.Semaphore{signalSemaphore},
		},
	}).Return(core1_0.VKSuccess, nil)

	res, err := cb.Submit(SubmitOptions{
		WaitSemaphores:   []SemaphoreHandle{waitHandle},
		WaitStageMasks:   []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput},
		SignalSemaphores: []SemaphoreHandle{signalHandle},
		Fence:            &fenceHandle,
	})
	require.NoError(t, err)
	require.Equal(t, core1_0.VKSuccess, res)
}

func TestSubmitTwicePanics(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, _ := readyCommandBuffer(t, ctrl, m, d, "frame")

	_, err := cb.Submit(SubmitOptions{})
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = cb.Submit(SubmitOptions{})
	})
}

func TestSubmitWithMismatchedWaitListsPanics(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, native := readyCommandBuffer(t, ctrl, m, d, "frame")
	recordBarrier(t, cb, native)

	semaphore := mocks.EasyMockSemaphore(ctrl)
	m.device.EXPECT().CreateSemaphore(gomock.Nil(), core1_0.SemaphoreCreateInfo{}).
		Return(semaphore, core1_0.VKSuccess, nil)
	handle, err := d.CreateSemaphore("wait")
	require.NoError(t, err)

	require.Panics(t, func() {
		_, _ = cb.Submit(SubmitOptions{
			WaitSemaphores: []SemaphoreHandle{handle},
		})
	})
}

func TestDestroyAfterUnsubmittedRecordingPanics(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, native := readyCommandBuffer(t, ctrl, m, d, "frame")
	recordBarrier(t, cb, native)

	require.Panics(t, func() {
		cb.Destroy()
	})
}

func TestDestroyWithoutRecordingFreesBuffer(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, native := readyCommandBuffer(t, ctrl, m, d, "unused")

	native.EXPECT().Free()
	cb.Destroy()

	require.Panics(t, func() {
		cb.Destroy()
	})
}

func TestRecordingAfterEndPanics(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, native := readyCommandBuffer(t, ctrl, m, d, "frame")
	recordBarrier(t, cb, native)

	native.EXPECT().End().Return(core1_0.VKSuccess, nil)
	require.NoError(t, cb.End())

	require.Panics(t, func() {
		_ = cb.PipelineBarrier(
			core1_0.PipelineStageTransfer,
			core1_0.PipelineStageVertexShader,
			nil, nil, nil)
	})
}

func TestCopyBufferRecordsWork(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, native := readyCommandBuffer(t, ctrl, m, d, "upload")

	src, srcNative, _ := readyBuffer(t, ctrl, m, d, "staging", 256)
	dstNative := mocks.EasyMockBuffer(ctrl)
	dst := d.buffers.Add(&Buffer{label: "vertices", buffer: dstNative})

	regions := []core1_0.BufferCopy{
		{
			SrcOffset: 0,
			DstOffset: 0,
			Size:      256,
		},
	}
	native.EXPECT().CmdCopyBuffer(srcNative, dstNative, regions).Return(nil)

	require.NoError(t, cb.CopyBuffer(src, dst, regions))
	require.True(t, cb.HasRecordedWork())
}

func TestTransitionImageBuildsFullSubresourceBarrier(t *testing.T) {
	ctrl := gomock.NewController(t)

	m, d := readyDevice(t, ctrl)
	cb, native := readyCommandBuffer(t, ctrl, m, d, "frame")

	nativeImage := mocks.EasyMockImage(ctrl)
	image := d.WrapImage("target", nativeImage, core1_0.Extent2D{Width: 800, Height: 600}, FormatRgba8)

	native.EXPECT().CmdPipelineBarrier(
		core1_0.PipelineStageTopOfPipe,
		core1_0.PipelineStageColorAttachmentOutput,
		core1_0.DependencyFlags(0),
		gomock.Nil(), gomock.Nil(),
		[]core1_0.ImageMemoryBarrier{
			{
				SrcAccessMask:       0,
				DstAccessMask:       core1_0.AccessColorAttachmentWrite,
				OldLayout:           core1_0.ImageLayoutUndefined,
				NewLayout:           core1_0.ImageLayoutColorAttachmentOptimal,
				SrcQueueFamilyIndex: -1,
				DstQueueFamilyIndex: -1,
				Image:               nativeImage,
				SubresourceRange: core1_0.ImageSubresourceRange{
					AspectMask: core1_0.ImageAspectColor,
					LevelCount: 1,
					LayerCount: 1,
				},
			},
		},
	).Return(nil)

	err := cb.TransitionImage(image,
		core1_0.ImageLayoutUndefined, core1_0.ImageLayoutColorAttachmentOptimal,
		core1_0.PipelineStageTopOfPipe, 0,
		core1_0.PipelineStageColorAttachmentOutput, core1_0.AccessColorAttachmentWrite)
	require.NoError(t, err)
}
