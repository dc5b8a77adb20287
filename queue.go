package gpu

import (
	"github.com/vkngwrapper/core/v2/core1_0"
)

// QueueType selects which device queue a command buffer records for and, with
// the current frame slot, which command pool its native buffer comes from.
type QueueType uint32

const (
	// QueueGraphics is the general graphics queue
	QueueGraphics QueueType = iota
	// QueueAsyncCompute is a compute-capable queue that can overlap graphics
	// work. Falls back to the graphics queue when the device has no dedicated
	// compute family.
	QueueAsyncCompute
	// QueueTransfer is a transfer queue for copies. Falls back to the graphics
	// queue when the device has no dedicated transfer family.
	QueueTransfer

	queueTypeCount
)

var queueTypeMapping = map[QueueType]string{
	QueueGraphics:     "QueueGraphics",
	QueueAsyncCompute: "QueueAsyncCompute",
	QueueTransfer:     "QueueTransfer",
}

func (q QueueType) String() string {
	return queueTypeMapping[q]
}

func (q QueueType) queue(d *Device) core1_0.Queue {
	switch q {
	case QueueAsyncCompute:
		return d.asyncComputeQueue
	case QueueTransfer:
		return d.transferQueue
	}
	return d.graphicsQueue
}

func (q QueueType) familyIndex(d *Device) int {
	switch q {
	case QueueAsyncCompute:
		return d.asyncComputeFamily
	case QueueTransfer:
		return d.transferFamily
	}
	return d.graphicsFamily
}
