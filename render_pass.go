package gpu

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// RenderPassInfo names the pass and framebuffer one recording scope renders
// into. ClearValues pair positionally with the pass's attachments; attachments
// whose load op is not clear still occupy a slot when a later attachment
// clears. A zero RenderArea spans the whole framebuffer.
type RenderPassInfo struct {
	RenderPass  RenderPassHandle
	Framebuffer FramebufferHandle
	RenderArea  core1_0.Rect2D
	ClearValues []core1_0.ClearValue
}

// RenderPassCommand is the recording surface of an active render pass. While it
// is live, its parent command buffer accepts no commands of its own; End returns
// control to the parent. Draws inherit a full-area viewport and scissor unless
// the pass sets its own. The viewport is flipped vertically so framebuffer
// Y points up.
type RenderPassCommand struct {
	commandBuffer *CommandBuffer
	area          core1_0.Extent2D

	pipeline    *Pipeline
	viewportSet bool
	scissorSet  bool
	ended       bool
}

// BeginRenderPass starts a render pass over info's framebuffer. Beginning a
// pass counts as recorded work even if nothing draws: a clear-only pass still
// reaches the queue. Only one pass may be active at a time.
func (c *CommandBuffer) BeginRenderPass(info RenderPassInfo) (*RenderPassCommand, error) {
	c.requireRecording("a render pass")

	renderPass := c.device.renderPasses.Get(info.RenderPass)
	framebuffer := c.device.framebuffers.Get(info.Framebuffer)

	area := info.RenderArea
	if area.Extent.Width == 0 && area.Extent.Height == 0 {
		area.Extent = framebuffer.extent
	}

	err := c.buffer.CmdBeginRenderPass(core1_0.SubpassContentsInline, core1_0.RenderPassBeginInfo{
		RenderPass:  renderPass.renderPass,
		Framebuffer: framebuffer.framebuffer,
		RenderArea:  area,
		ClearValues: info.ClearValues,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to begin a render pass on command buffer %s", c.label)
	}

	c.state = stateRenderPassActive
	c.recorded = true
	return &RenderPassCommand{
		commandBuffer: c,
		area:          area.Extent,
	}, nil
}

// RecordRenderPass begins a pass, hands it to record, and ends it when record
// returns, even on error.
func (c *CommandBuffer) RecordRenderPass(info RenderPassInfo, record func(pass *RenderPassCommand) error) error {
	pass, err := c.BeginRenderPass(info)
	if err != nil {
		return err
	}

	recordErr := record(pass)
	pass.End()
	return recordErr
}

func (p *RenderPassCommand) requireActive(operation string) {
	if p.ended {
		panic(fmt.Sprintf("attempting to record %s on a render pass that has already ended", operation))
	}
}

// BindPipeline binds a graphics pipeline. Descriptor sets, push constants, and
// draws all require a bound pipeline.
func (p *RenderPassCommand) BindPipeline(pipeline PipelineHandle) {
	p.requireActive("a pipeline bind")

	p.pipeline = p.commandBuffer.device.pipelines.Get(pipeline)
	p.commandBuffer.buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, p.pipeline.Handle())
}

// BindDescriptorSets binds sets starting at set index zero against the current
// pipeline's layout.
func (p *RenderPassCommand) BindDescriptorSets(sets ...DescriptorSetHandle) {
	p.requireActive("a descriptor set bind")
	if p.pipeline == nil {
		panic("attempting to bind descriptor sets with no pipeline bound")
	}

	nativeSets := make([]core1_0.DescriptorSet, len(sets))
	for i, handle := range sets {
		nativeSets[i] = p.commandBuffer.device.descriptorSets.Get(handle).Handle()
	}
	p.commandBuffer.buffer.CmdBindDescriptorSets(
		core1_0.PipelineBindPointGraphics,
		p.pipeline.Layout(),
		0,
		nativeSets,
		nil)
}

// BindVertexBuffers binds vertex buffers starting at binding zero.
func (p *RenderPassCommand) BindVertexBuffers(buffers []BufferHandle, offsets []int) {
	p.requireActive("a vertex buffer bind")
	if len(offsets) != len(buffers) {
		panic(fmt.Sprintf("attempting to bind %d vertex buffers with %d offsets", len(buffers), len(offsets)))
	}

	nativeBuffers := make([]core1_0.Buffer, len(buffers))
	for i, handle := range buffers {
		nativeBuffers[i] = p.commandBuffer.device.buffers.Get(handle).Handle()
	}
	p.commandBuffer.buffer.CmdBindVertexBuffers(0, nativeBuffers, offsets)
}

// BindIndexBuffer binds an index buffer.
func (p *RenderPassCommand) BindIndexBuffer(buffer BufferHandle, offset int, indexType core1_0.IndexType) {
	p.requireActive("an index buffer bind")

	p.commandBuffer.buffer.CmdBindIndexBuffer(
		p.commandBuffer.device.buffers.Get(buffer).Handle(),
		offset,
		indexType)
}

// PushConstants records push constant data against the current pipeline's
// layout.
func (p *RenderPassCommand) PushConstants(stages core1_0.ShaderStageFlags, offset int, data []byte) {
	p.requireActive("push constants")
	if p.pipeline == nil {
		panic("attempting to push constants with no pipeline bound")
	}

	p.commandBuffer.buffer.CmdPushConstants(p.pipeline.Layout(), stages, offset, data)
}

// SetViewport overrides the pass's default full-area viewport.
func (p *RenderPassCommand) SetViewport(viewport core1_0.Viewport) {
	p.requireActive("a viewport")

	p.commandBuffer.buffer.CmdSetViewport([]core1_0.Viewport{viewport})
	p.viewportSet = true
}

// SetScissor overrides the pass's default full-area scissor.
func (p *RenderPassCommand) SetScissor(scissor core1_0.Rect2D) {
	p.requireActive("a scissor")

	p.commandBuffer.buffer.CmdSetScissor([]core1_0.Rect2D{scissor})
	p.scissorSet = true
}

// prepareDraw lazily installs the default viewport and scissor before the first
// draw that did not set its own. The default viewport spans the render area
// with a negative height so clip-space Y matches a top-left framebuffer origin.
func (p *RenderPassCommand) prepareDraw() {
	if p.pipeline == nil {
		panic("attempting to draw with no pipeline bound")
	}

	if !p.viewportSet {
		p.commandBuffer.buffer.CmdSetViewport([]core1_0.Viewport{
			{
				X:        0,
				Y:        float32(p.area.Height),
				Width:    float32(p.area.Width),
				Height:   -float32(p.area.Height),
				MinDepth: 0,
				MaxDepth: 1,
			},
		})
		p.viewportSet = true
	}
	if !p.scissorSet {
		p.commandBuffer.buffer.CmdSetScissor([]core1_0.Rect2D{
			{Extent: p.area},
		})
		p.scissorSet = true
	}
}

// Draw records a non-indexed draw.
func (p *RenderPassCommand) Draw(vertexCount, instanceCount int, firstVertex, firstInstance uint32) {
	p.requireActive("a draw")
	p.prepareDraw()

	p.commandBuffer.buffer.CmdDraw(vertexCount, instanceCount, firstVertex, firstInstance)
}

// DrawIndexed records an indexed draw.
func (p *RenderPassCommand) DrawIndexed(indexCount, instanceCount int, firstIndex uint32, vertexOffset int, firstInstance uint32) {
	p.requireActive("an indexed draw")
	p.prepareDraw()

	p.commandBuffer.buffer.CmdDrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

// End closes the pass and returns its parent command buffer to plain recording.
// Ending twice panics.
func (p *RenderPassCommand) End() {
	p.requireActive("an end")

	p.commandBuffer.buffer.CmdEndRenderPass()

	p.ended = true
	p.commandBuffer.state = stateRecording
}
