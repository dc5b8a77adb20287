package gpu

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Semaphore orders GPU work across queue submissions. It is not inspectable
// from the host; it only appears in submit wait and signal lists.
type Semaphore struct {
	label     string
	semaphore core1_0.Semaphore
}

func (s *Semaphore) Label() string { return s.label }

// Handle returns the native semaphore.
func (s *Semaphore) Handle() core1_0.Semaphore { return s.semaphore }

func (s *Semaphore) destroy(d *Device) {
	s.semaphore.Destroy(d.allocationCallbacks)
}

// Fence lets the host observe completion of a queue submission.
type Fence struct {
	label string
	fence core1_0.Fence
}

func (f *Fence) Label() string { return f.label }

// Handle returns the native fence.
func (f *Fence) Handle() core1_0.Fence { return f.fence }

// Wait blocks until the fence signals or timeout elapses. A negative timeout
// waits forever. Returns VKTimeout without error when the timeout elapses
// first.
func (f *Fence) Wait(timeout time.Duration) (common.VkResult, error) {
	res, err := f.fence.Wait(timeout)
	if err != nil {
		return res, errors.Wrapf(err, "failed to wait for fence %s", f.label)
	}
	return res, nil
}

// Reset returns the fence to the unsignaled state so it can be reused.
func (f *Fence) Reset() (common.VkResult, error) {
	res, err := f.fence.Reset()
	if err != nil {
		return res, errors.Wrapf(err, "failed to reset fence %s", f.label)
	}
	return res, nil
}

// Status polls the fence without blocking. VKSuccess means signaled, VKNotReady
// means still pending.
func (f *Fence) Status() (common.VkResult, error) {
	return f.fence.Status()
}

func (f *Fence) destroy(d *Device) {
	f.fence.Destroy(d.allocationCallbacks)
}
