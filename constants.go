package uthread

import "github.com/ehrlich-b/go-uthread/internal/constants"

// Re-export constants for public API
const (
	// HZ is the preemption frequency in forced yields per second of
	// process virtual time.
	HZ = constants.HZ

	// DefaultStackSize is the per-thread stack budget in bytes.
	DefaultStackSize = constants.DefaultStackSize
)
