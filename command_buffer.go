package gpu

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
	"golang.org/x/exp/slog"
)

type commandBufferState uint32

const (
	// stateRecording accepts transfer and barrier commands and render passes
	stateRecording commandBufferState = iota
	// stateRenderPassActive accepts commands only through the live
	// RenderPassCommand
	stateRenderPassActive
	// stateEnded closed native recording and is waiting for Submit
	stateEnded
	// stateSubmitted handed the buffer to its queue (or discarded it empty)
	stateSubmitted
	// stateDestroyed freed the native buffer
	stateDestroyed
)

var commandBufferStateMapping = map[commandBufferState]string{
	stateRecording:        "Recording",
	stateRenderPassActive: "RenderPassActive",
	stateEnded:            "Ended",
	stateSubmitted:        "Submitted",
	stateDestroyed:        "Destroyed",
}

func (s commandBufferState) String() string {
	return commandBufferStateMapping[s]
}

// CommandBuffer is a one-shot primary command buffer bound to one queue and the
// frame slot that was current when it was created. It begins recording
// immediately. Misusing the state machine (recording after End, submitting
// twice, recording outside a pass what belongs inside one) panics: those are
// logic bugs, not runtime conditions.
type CommandBuffer struct {
	label     string
	device    *Device
	queueType QueueType
	buffer    core1_0.CommandBuffer

	state    commandBufferState
	recorded bool
}

// NewCommandBuffer allocates a primary command buffer from the current frame
// slot's pool for queueType and begins recording it for one-time submit.
func (d *Device) NewCommandBuffer(label string, queueType QueueType) (*CommandBuffer, error) {
	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "Device::NewCommandBuffer",
		slog.String("label", label),
		slog.String("queue", queueType.String()))

	pool := d.commandPools[d.currentFrameSlot][queueType]
	buffers, _, err := d.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate command buffer %s", label)
	}
	buffer := buffers[0]

	_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		buffer.Free()
		return nil, errors.Wrapf(err, "failed to begin command buffer %s", label)
	}

	return &CommandBuffer{
		label:     label,
		device:    d,
		queueType: queueType,
		buffer:    buffer,
		state:     stateRecording,
	}, nil
}

func (c *CommandBuffer) Label() string { return c.label }

func (c *CommandBuffer) QueueType() QueueType { return c.queueType }

// Handle returns the native command buffer.
func (c *CommandBuffer) Handle() core1_0.CommandBuffer { return c.buffer }

// HasRecordedWork reports whether any command has been recorded. A buffer with
// no recorded work submits as a no-op.
func (c *CommandBuffer) HasRecordedWork() bool { return c.recorded }

func (c *CommandBuffer) requireRecording(operation string) {
	switch c.state {
	case stateRecording:
	case stateRenderPassActive:
		panic(fmt.Sprintf("attempting to record %s on command buffer %s while a render pass is active", operation, c.label))
	default:
		panic(fmt.Sprintf("attempting to record %s on command buffer %s in state %s", operation, c.label, c.state))
	}
}

// PipelineBarrier records a raw pipeline barrier. Only legal outside a render
// pass.
func (c *CommandBuffer) PipelineBarrier(
	srcStageMask, dstStageMask core1_0.PipelineStageFlags,
	memoryBarriers []core1_0.MemoryBarrier,
	bufferBarriers []core1_0.BufferMemoryBarrier,
	imageBarriers []core1_0.ImageMemoryBarrier,
) error {
	c.requireRecording("a pipeline barrier")

	err := c.buffer.CmdPipelineBarrier(srcStageMask, dstStageMask, 0, memoryBarriers, bufferBarriers, imageBarriers)
	if err != nil {
		return errors.Wrapf(err, "failed to record a pipeline barrier on command buffer %s", c.label)
	}

	c.recorded = true
	return nil
}

// TransitionImage records a full-subresource layout transition for image.
func (c *CommandBuffer) TransitionImage(
	image ImageHandle,
	oldLayout, newLayout core1_0.ImageLayout,
	srcStageMask core1_0.PipelineStageFlags, srcAccessMask core1_0.AccessFlags,
	dstStageMask core1_0.PipelineStageFlags, dstAccessMask core1_0.AccessFlags,
) error {
	img := c.device.images.Get(image)

	return c.PipelineBarrier(srcStageMask, dstStageMask, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			SrcAccessMask:       srcAccessMask,
			DstAccessMask:       dstAccessMask,
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               img.image,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask: img.format.AspectMask(),
				LevelCount: 1,
				LayerCount: 1,
			},
		},
	})
}

// CopyBuffer records a buffer-to-buffer copy. Only legal outside a render pass.
func (c *CommandBuffer) CopyBuffer(src, dst BufferHandle, regions []core1_0.BufferCopy) error {
	c.requireRecording("a buffer copy")

	err := c.buffer.CmdCopyBuffer(
		c.device.buffers.Get(src).Handle(),
		c.device.buffers.Get(dst).Handle(),
		regions)
	if err != nil {
		return errors.Wrapf(err, "failed to record a buffer copy on command buffer %s", c.label)
	}

	c.recorded = true
	return nil
}

// CopyBufferToImage records a buffer-to-image copy. Only legal outside a render
// pass.
func (c *CommandBuffer) CopyBufferToImage(src BufferHandle, dst ImageHandle, dstLayout core1_0.ImageLayout, regions []core1_0.BufferImageCopy) error {
	c.requireRecording("a buffer-to-image copy")

	err := c.buffer.CmdCopyBufferToImage(
		c.device.buffers.Get(src).Handle(),
		c.device.images.Get(dst).Handle(),
		dstLayout,
		regions)
	if err != nil {
		return errors.Wrapf(err, "failed to record a buffer-to-image copy on command buffer %s", c.label)
	}

	c.recorded = true
	return nil
}

// End closes recording. After End only Submit and Destroy are legal. Ending
// with a render pass still active panics.
func (c *CommandBuffer) End() error {
	switch c.state {
	case stateRecording:
	case stateRenderPassActive:
		panic(fmt.Sprintf("attempting to end command buffer %s while a render pass is active", c.label))
	default:
		panic(fmt.Sprintf("attempting to end command buffer %s in state %s", c.label, c.state))
	}

	_, err := c.buffer.End()
	if err != nil {
		return errors.Wrapf(err, "failed to end command buffer %s", c.label)
	}

	c.state = stateEnded
	return nil
}

// SubmitOptions names the synchronization attached to a queue submission. Wait
// and signal lists are optional; WaitStageMasks must pair one-to-one with
// WaitSemaphores.
type SubmitOptions struct {
	WaitSemaphores   []SemaphoreHandle
	WaitStageMasks   []core1_0.PipelineStageFlags
	SignalSemaphores []SemaphoreHandle
	// Fence, when non-nil, signals on completion of the submission.
	Fence *FenceHandle
}

// Submit hands the command buffer to its queue. A buffer that recorded no work
// submits as a no-op: nothing reaches the queue, no semaphore is waited on or
// signaled, and no fence fires. Submit may be called from Recording (it ends the
// buffer first) or Ended; submitting twice panics.
func (c *CommandBuffer) Submit(options SubmitOptions) (common.VkResult, error) {
	switch c.state {
	case stateRecording, stateEnded:
	case stateRenderPassActive:
		panic(fmt.Sprintf("attempting to submit command buffer %s while a render pass is active", c.label))
	default:
		panic(fmt.Sprintf("attempting to submit command buffer %s in state %s", c.label, c.state))
	}
	if len(options.WaitStageMasks) != len(options.WaitSemaphores) {
		panic(fmt.Sprintf(
			"attempting to submit command buffer %s with %d wait semaphores but %d wait stage masks",
			c.label, len(options.WaitSemaphores), len(options.WaitStageMasks)))
	}

	if !c.recorded {
		c.device.logger.LogAttrs(context.Background(), slog.LevelDebug,
			"CommandBuffer::Submit discarding a command buffer with no recorded work",
			slog.String("label", c.label))
		c.state = stateSubmitted
		return core1_0.VKSuccess, nil
	}

	if c.state == stateRecording {
		err := c.End()
		if err != nil {
			return core1_0.VKErrorUnknown, err
		}
	}

	waitSemaphores := make([]core1_0.Semaphore, len(options.WaitSemaphores))
	for i, handle := range options.WaitSemaphores {
		waitSemaphores[i] = c.device.semaphores.Get(handle).Handle()
	}
	signalSemaphores := make([]core1_0.Semaphore, len(options.SignalSemaphores))
	for i, handle := range options.SignalSemaphores {
		signalSemaphores[i] = c.device.semaphores.Get(handle).Handle()
	}
	var fence core1_0.Fence
	if options.Fence != nil {
		fence = c.device.fences.Get(*options.Fence).Handle()
	}

	res, err := c.queueType.queue(c.device).Submit(fence, []core1_0.SubmitInfo{
		{
			CommandBuffers:   []core1_0.CommandBuffer{c.buffer},
			WaitSemaphores:   waitSemaphores,
			WaitDstStageMask: options.WaitStageMasks,
			SignalSemaphores: signalSemaphores,
		},
	})
	if err != nil {
		return res, errors.Wrapf(err, "failed to submit command buffer %s", c.label)
	}

	c.state = stateSubmitted
	return res, nil
}

// Destroy frees the native command buffer back to its pool. Destroying a buffer
// that recorded work but was never submitted panics: either submit it or do not
// record. Call Destroy on a submitted buffer only after its work is known
// complete (a fence, or the frame slot cycling back around).
func (c *CommandBuffer) Destroy() {
	switch c.state {
	case stateRenderPassActive:
		panic(fmt.Sprintf("attempting to destroy command buffer %s while a render pass is active", c.label))
	case stateDestroyed:
		panic(fmt.Sprintf("attempting to destroy command buffer %s twice", c.label))
	case stateRecording, stateEnded:
		if c.recorded {
			panic(fmt.Sprintf("attempting to destroy command buffer %s, which recorded work that was never submitted", c.label))
		}
	}

	c.buffer.Free()
	c.state = stateDestroyed
}
