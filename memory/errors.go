package memory

import "github.com/pkg/errors"

// OutOfMemoryError is returned from Allocator.Allocate when neither an existing
// block nor a new one can service the request: every block's free list came up
// empty and the domain is at its configured block limit (or the driver itself
// reported an out-of-memory condition).
var OutOfMemoryError error = errors.New("no device memory available for the requested allocation")
