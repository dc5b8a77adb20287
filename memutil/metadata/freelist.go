package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/obsidian-engine/gpu/memutil"
)

type freeSpan struct {
	offset int
	size   int
}

// FreeListMetadata manages suballocations within a single block of memory. Free
// regions are kept as an offset-sorted span list and requests are satisfied
// first-fit; freed regions are merged with adjacent free neighbors. There is no
// compaction, so a long-lived block can fragment permanently.
type FreeListMetadata struct {
	size int

	freeSpans       []freeSpan
	allocations     *swiss.Map[int, int]
	allocationBytes int
}

func NewFreeListMetadata() *FreeListMetadata {
	return &FreeListMetadata{
		allocations: swiss.NewMap[int, int](8),
	}
}

// Init must be called before the metadata is used. size is the size in bytes of
// the block of memory being managed.
func (m *FreeListMetadata) Init(size int) {
	if size <= 0 {
		panic("attempting to init block metadata with a non-positive size")
	}
	m.size = size
	m.freeSpans = append(m.freeSpans[:0], freeSpan{offset: 0, size: size})
	m.allocationBytes = 0
}

// Size retrieves the size in bytes that the block was initialized with
func (m *FreeListMetadata) Size() int { return m.size }

// AllocationCount returns the number of suballocations currently live in the block
func (m *FreeListMetadata) AllocationCount() int { return m.allocations.Count() }

// FreeRegionsCount returns the number of discrete free regions in the block
func (m *FreeListMetadata) FreeRegionsCount() int { return len(m.freeSpans) }

// SumFreeSize returns the number of free bytes of memory in the block
func (m *FreeListMetadata) SumFreeSize() int {
	sum := 0
	for _, span := range m.freeSpans {
		sum += span.size
	}
	return sum
}

// IsEmpty returns true if this block has no live suballocations
func (m *FreeListMetadata) IsEmpty() bool { return m.allocations.Count() == 0 }

// Allocate finds a first-fit region for an allocation of the requested size and
// alignment and marks it live. ok is false when no free span can hold the request.
func (m *FreeListMetadata) Allocate(size int, alignment uint) (offset int, ok bool, err error) {
	if size <= 0 {
		return 0, false, errors.Newf("allocation size must be positive, but %d was requested", size)
	}
	if alignment == 0 {
		alignment = 1
	}
	if err := memutil.CheckPow2(alignment, "allocation alignment"); err != nil {
		return 0, false, err
	}

	for spanIndex, span := range m.freeSpans {
		alignedOffset := memutil.AlignUp(span.offset, alignment)
		padding := alignedOffset - span.offset
		if padding+size > span.size {
			continue
		}

		m.carve(spanIndex, alignedOffset, size)
		m.allocations.Put(alignedOffset, size)
		m.allocationBytes += size
		return alignedOffset, true, nil
	}

	return 0, false, nil
}

// carve removes [alignedOffset, alignedOffset+size) from the free span at
// spanIndex, leaving behind whatever leading and trailing fragments remain.
func (m *FreeListMetadata) carve(spanIndex int, alignedOffset, size int) {
	span := m.freeSpans[spanIndex]
	leading := freeSpan{offset: span.offset, size: alignedOffset - span.offset}
	trailing := freeSpan{
		offset: alignedOffset + size,
		size:   span.offset + span.size - alignedOffset - size,
	}

	remaining := make([]freeSpan, 0, 2)
	if leading.size > 0 {
		remaining = append(remaining, leading)
	}
	if trailing.size > 0 {
		remaining = append(remaining, trailing)
	}

	m.freeSpans = append(m.freeSpans[:spanIndex], append(remaining, m.freeSpans[spanIndex+1:]...)...)
}

// Free returns the allocation at offset to the free list, merging it with adjacent
// free regions. It returns an error if offset does not map to a live allocation.
func (m *FreeListMetadata) Free(offset int) error {
	size, found := m.allocations.Get(offset)
	if !found {
		return errors.Newf("no live allocation at offset %d", offset)
	}
	m.allocations.Delete(offset)
	m.allocationBytes -= size

	insertAt := len(m.freeSpans)
	for i, span := range m.freeSpans {
		if span.offset > offset {
			insertAt = i
			break
		}
	}

	m.freeSpans = append(m.freeSpans, freeSpan{})
	copy(m.freeSpans[insertAt+1:], m.freeSpans[insertAt:])
	m.freeSpans[insertAt] = freeSpan{offset: offset, size: size}

	// Merge with the following span first so indices stay stable
	if insertAt+1 < len(m.freeSpans) && offset+size == m.freeSpans[insertAt+1].offset {
		m.freeSpans[insertAt].size += m.freeSpans[insertAt+1].size
		m.freeSpans = append(m.freeSpans[:insertAt+1], m.freeSpans[insertAt+2:]...)
	}
	if insertAt > 0 {
		prev := m.freeSpans[insertAt-1]
		if prev.offset+prev.size == offset {
			m.freeSpans[insertAt-1].size += m.freeSpans[insertAt].size
			m.freeSpans = append(m.freeSpans[:insertAt], m.freeSpans[insertAt+1:]...)
		}
	}

	return nil
}

// Clear instantly frees all allocations
func (m *FreeListMetadata) Clear() {
	m.allocations = swiss.NewMap[int, int](8)
	m.freeSpans = append(m.freeSpans[:0], freeSpan{offset: 0, size: m.size})
	m.allocationBytes = 0
}

// Validate performs internal consistency checks on the metadata. When the
// implementation is functioning correctly, it should not be possible for this
// method to return an error.
func (m *FreeListMetadata) Validate() error {
	lastEnd := -1
	freeBytes := 0
	for _, span := range m.freeSpans {
		if span.size <= 0 {
			return errors.Newf("free span at offset %d has non-positive size %d", span.offset, span.size)
		}
		if span.offset <= lastEnd {
			return errors.Newf("free span at offset %d overlaps or touches the previous span", span.offset)
		}
		if span.offset+span.size > m.size {
			return errors.Newf("free span at offset %d extends past the end of the block", span.offset)
		}
		lastEnd = span.offset + span.size
		freeBytes += span.size
	}

	if freeBytes+m.allocationBytes > m.size {
		return errors.Newf("free bytes %d + allocated bytes %d exceed block size %d", freeBytes, m.allocationBytes, m.size)
	}

	return nil
}

// AddDetailedStatistics sums this block's allocation statistics into the statistics
// currently present in the provided memutil.DetailedStatistics object.
func (m *FreeListMetadata) AddDetailedStatistics(stats *memutil.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	m.allocations.Iter(func(offset int, size int) bool {
		stats.AddAllocation(size)
		return false
	})

	for _, span := range m.freeSpans {
		stats.AddUnusedRange(span.size)
	}
}

// AddStatistics sums this block's allocation statistics into the statistics
// currently present in the provided memutil.Statistics object.
func (m *FreeListMetadata) AddStatistics(stats *memutil.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size
	stats.AllocationCount += m.allocations.Count()
	stats.AllocationBytes += m.allocationBytes
}

// BlockJsonData populates a json object with information about this block
func (m *FreeListMetadata) BlockJsonData(json jwriter.ObjectState) {
	json.Name("TotalBytes").Int(m.size)
	json.Name("UnusedBytes").Int(m.SumFreeSize())
	json.Name("Allocations").Int(m.allocations.Count())
	json.Name("UnusedRanges").Int(len(m.freeSpans))
}
