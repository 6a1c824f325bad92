package transport

import "errors"

// Transport errors can be checked with errors.Is. Every failure returned by
// Send wraps exactly one of them.
var (
	// ErrDeviceNotFound is returned when no device advertises the target name within the scan window.
	ErrDeviceNotFound = errors.New("transport: device not found")

	// ErrConnectionFailed is returned when the link cannot be established.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrDeviceUnresponsive is returned when the device does not signal buffer space in time.
	ErrDeviceUnresponsive = errors.New("transport: device unresponsive")

	// ErrTransportIO is returned for write failures or a dropped link mid-stream.
	ErrTransportIO = errors.New("transport: i/o error")

	// ErrCancelled is returned when the caller cancels the job.
	ErrCancelled = errors.New("transport: cancelled")
)
