package descriptor

import "github.com/pkg/errors"

// NonContiguousBindingsError is returned from Allocator.Allocate when a set's
// binding indices do not run contiguously from zero.
var NonContiguousBindingsError error = errors.New("descriptor binding indices must be contiguous from zero")

// IncompleteBindingError is returned from Allocator.Allocate when a binding does
// not carry the resources its descriptor kind requires.
var IncompleteBindingError error = errors.New("descriptor binding is missing a required resource")
