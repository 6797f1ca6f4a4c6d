package kalloc

import "errors"

var (
	// ErrInvalidLayout is returned by NewArena (and Initialize) when the
	// backing storage is too small to host one free-list node. Alloc
	// does not return it: a zero size or a non-power-of-two alignment
	// is reported there as (0, false).
	ErrInvalidLayout = errors.New("kalloc: invalid layout")

	// ErrAlreadyInitialized is returned by Initialize when the
	// package-level arena has already been constructed.
	ErrAlreadyInitialized = errors.New("kalloc: already initialized")
)
