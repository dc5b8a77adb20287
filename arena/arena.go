// Package arena provides a generational-index registry for long-lived GPU
// objects. Consumers hold cheap (index, generation) handles instead of pointers,
// so use of a freed resource is a detectable failure rather than undefined
// behavior.
package arena

import "fmt"

// Handle is a shared reference to an arena slot. Handles are value types: copying
// one does not affect the slot's strong count (use Arena.Clone for that), and a
// handle carries no ownership of the arena itself — its validity depends on the
// arena outliving it.
type Handle[T any] struct {
	index      uint32
	generation uint32
}

type slot[T any] struct {
	value      T
	generation uint32
	strong     uint32
	live       bool
}

// Arena is a growable slot table with per-slot generation counters. It is not
// safe for unsynchronized concurrent use.
type Arena[T any] struct {
	slots     []slot[T]
	freeSlots []uint32
	destroy   func(T)
}

// New creates an arena. destroy is invoked on a slot's value when the last handle
// to it is released; it may be nil for values with no teardown.
func New[T any](destroy func(T)) *Arena[T] {
	return &Arena[T]{destroy: destroy}
}

// Add registers value and returns a handle with a strong count of one. Vacated
// slots are reused before the table grows.
func (a *Arena[T]) Add(value T) Handle[T] {
	if freeCount := len(a.freeSlots); freeCount > 0 {
		index := a.freeSlots[freeCount-1]
		a.freeSlots = a.freeSlots[:freeCount-1]

		s := &a.slots[index]
		s.value = value
		s.strong = 1
		s.live = true
		return Handle[T]{index: index, generation: s.generation}
	}

	a.slots = append(a.slots, slot[T]{value: value, strong: 1, live: true})
	return Handle[T]{index: uint32(len(a.slots) - 1), generation: 0}
}

// Get resolves a handle to its value. Resolving a handle whose generation no
// longer matches the slot (the resource was freed, and possibly the slot reused)
// panics: a stale handle indicates a logic bug upstream, not a runtime condition.
func (a *Arena[T]) Get(h Handle[T]) T {
	s := a.slot(h)
	return s.value
}

// Clone increments the slot's strong count and returns an equal handle.
func (a *Arena[T]) Clone(h Handle[T]) Handle[T] {
	s := a.slot(h)
	s.strong++
	return h
}

// Release decrements the slot's strong count. When the count reaches zero the
// value is destroyed, the slot's generation is incremented, and the index becomes
// available for reuse.
func (a *Arena[T]) Release(h Handle[T]) {
	s := a.slot(h)
	s.strong--
	if s.strong > 0 {
		return
	}

	if a.destroy != nil {
		a.destroy(s.value)
	}

	var zero T
	s.value = zero
	s.live = false
	s.generation++
	a.freeSlots = append(a.freeSlots, h.index)
}

// StrongCount returns the current strong count for the handle's slot.
func (a *Arena[T]) StrongCount(h Handle[T]) int {
	return int(a.slot(h).strong)
}

// Len returns the number of live slots.
func (a *Arena[T]) Len() int {
	return len(a.slots) - len(a.freeSlots)
}

// ForEach calls visit once for every live value.
func (a *Arena[T]) ForEach(visit func(value T)) {
	for i := range a.slots {
		if a.slots[i].live {
			visit(a.slots[i].value)
		}
	}
}

func (a *Arena[T]) slot(h Handle[T]) *slot[T] {
	if int(h.index) >= len(a.slots) {
		panic(fmt.Sprintf("attempting to resolve a handle with index %d against an arena with %d slots", h.index, len(a.slots)))
	}

	s := &a.slots[h.index]
	if !s.live || s.generation != h.generation {
		panic(fmt.Sprintf(
			"attempting to resolve a stale handle: slot %d is at generation %d, but the handle was captured at generation %d",
			h.index, s.generation, h.generation))
	}
	return s
}
