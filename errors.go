package vkframe

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
)

// Sentinel errors for the failure classes callers are expected to branch on.
// Configuration errors are final; resource-exhaustion errors may be retried
// by the caller with reduced demands after the failed call has rolled back
// everything it created.
var (
	// ErrUnsupported marks a configuration the device cannot satisfy:
	// an unknown pixel format, a format/tiling/usage combination without
	// the required features, or a missing device capability.
	ErrUnsupported = errors.New("unsupported configuration")

	// ErrDeviceNotFound is returned by SelectPhysicalDevice when no
	// adapter matches the selector.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoMemoryType means no reported memory type satisfies the
	// requirement bitmask, property flags and heap capacity.
	ErrNoMemoryType = errors.New("no matching memory type")

	// ErrPoolExhausted means the staging pool has no room for the
	// requested allocation.
	ErrPoolExhausted = errors.New("insufficient space in staging pool")
)

// ExternalError wraps a non-success result from a native Vulkan call.
type ExternalError struct {
	Op     string
	Result vk.Result
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: external failure: %s", e.Op, vk.Error(e.Result).Error())
}

// vkErr converts a Vulkan result into an error, nil on success.
func vkErr(op string, ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	return &ExternalError{Op: op, Result: ret}
}
