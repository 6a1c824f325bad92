package transport

import "github.com/nixxel-company-limited/catprint/protocol"

// FlowControl tracks how much data is in flight to the device.
//
// The device pauses the host explicitly when its buffer fills; with a
// positive buffer size the host also stops on its own once that many bytes
// are unacknowledged. Only a resume notification acknowledges what was sent.
// Device-state replies answer queries issued earlier in the stream and may
// arrive long after later chunks went out, so they are counted, not treated
// as acknowledgements.
type FlowControl struct {
	bufferSize   int
	inFlight     int
	paused       bool
	stateReplies int
}

// NewFlowControl creates flow-control state. bufferSize <= 0 disables the byte budget.
func NewFlowControl(bufferSize int) *FlowControl {
	return &FlowControl{bufferSize: bufferSize}
}

// CanSend reports whether n more bytes may be written now.
func (f *FlowControl) CanSend(n int) bool {
	if f.paused {
		return false
	}
	if f.bufferSize <= 0 || f.inFlight == 0 {
		return true
	}
	return f.inFlight+n <= f.bufferSize
}

// Sent records n bytes written to the device.
func (f *FlowControl) Sent(n int) {
	f.inFlight += n
}

// Observe applies a device notification and reports whether it changed the
// flow state.
func (f *FlowControl) Observe(n protocol.Notification) bool {
	switch n.Kind {
	case protocol.NotifyPause:
		f.paused = true
		return true
	case protocol.NotifyResume:
		f.paused = false
		f.inFlight = 0
		return true
	case protocol.NotifyDeviceState:
		f.stateReplies++
	}
	return false
}

// InFlight returns the unacknowledged byte count.
func (f *FlowControl) InFlight() int { return f.inFlight }

// Paused reports whether the device asked the host to stop.
func (f *FlowControl) Paused() bool { return f.paused }

// StateReplies returns how many device-state replies have been seen.
func (f *FlowControl) StateReplies() int { return f.stateReplies }
