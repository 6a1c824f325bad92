package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned for notifications that are not valid frames.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// NotificationKind classifies a device notification.
type NotificationKind int

const (
	NotifyOther NotificationKind = iota
	// NotifyPause means the printer buffer is full and the host must stop sending.
	NotifyPause
	// NotifyResume means the printer has drained its buffer.
	NotifyResume
	// NotifyDeviceState carries the reply to a get-device-state command.
	NotifyDeviceState
)

func (k NotificationKind) String() string {
	switch k {
	case NotifyPause:
		return "pause"
	case NotifyResume:
		return "resume"
	case NotifyDeviceState:
		return "device-state"
	default:
		return "other"
	}
}

const (
	flowPause  = 0x10
	flowResume = 0x00
)

// Notification is a decoded frame sent by the printer.
type Notification struct {
	Kind    NotificationKind
	Opcode  Opcode
	Payload []byte
}

// ParseNotification decodes a single notification frame. The CRC byte is
// not checked; some firmware sends it zeroed.
func ParseNotification(b []byte) (Notification, error) {
	if len(b) < headerLen+footerLen {
		return Notification{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(b))
	}
	if b[0] != magic0 || b[1] != magic1 {
		return Notification{}, fmt.Errorf("%w: bad magic % x", ErrMalformedFrame, b[:2])
	}
	n := int(binary.LittleEndian.Uint16(b[4:6]))
	if len(b) != headerLen+n+footerLen || b[len(b)-1] != frameEnd {
		return Notification{}, fmt.Errorf("%w: length %d does not fit %d bytes", ErrMalformedFrame, n, len(b))
	}

	note := Notification{
		Kind:    NotifyOther,
		Opcode:  Opcode(b[2]),
		Payload: append([]byte(nil), b[headerLen:headerLen+n]...),
	}

	switch note.Opcode {
	case OpFlowControl:
		if n > 0 {
			switch note.Payload[0] {
			case flowPause:
				note.Kind = NotifyPause
			case flowResume:
				note.Kind = NotifyResume
			}
		}
	case OpGetDeviceState:
		note.Kind = NotifyDeviceState
	}
	return note, nil
}
