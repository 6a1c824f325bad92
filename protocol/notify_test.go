package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	testCases := []struct {
		name  string
		frame []byte
		kind  NotificationKind
	}{
		{"pause", []byte{0x51, 0x78, 0xae, 0x01, 0x01, 0x00, 0x10, 0x70, 0xff}, NotifyPause},
		{"resume", []byte{0x51, 0x78, 0xae, 0x01, 0x01, 0x00, 0x00, 0x00, 0xff}, NotifyResume},
		{"device state", []byte{0x51, 0x78, 0xa3, 0x01, 0x03, 0x00, 0x00, 0x0c, 0x00, 0x00, 0xff}, NotifyDeviceState},
		{"unknown opcode", []byte{0x51, 0x78, 0xb1, 0x01, 0x01, 0x00, 0x05, 0x00, 0xff}, NotifyOther},
		{"unknown flow value", []byte{0x51, 0x78, 0xae, 0x01, 0x01, 0x00, 0x42, 0x00, 0xff}, NotifyOther},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := ParseNotification(tc.frame)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, n.Kind)
			assert.Equal(t, Opcode(tc.frame[2]), n.Opcode)
		})
	}
}

func TestParseNotificationRoundTripsCommands(t *testing.T) {
	n, err := ParseNotification(makeCommand(OpFlowControl, []byte{flowPause}))
	require.NoError(t, err)
	assert.Equal(t, NotifyPause, n.Kind)
	assert.Equal(t, []byte{flowPause}, n.Payload)
}

func TestParseNotificationMalformed(t *testing.T) {
	testCases := map[string][]byte{
		"short":        {0x51, 0x78, 0xae},
		"bad magic":    {0x00, 0x78, 0xae, 0x01, 0x01, 0x00, 0x10, 0x70, 0xff},
		"bad length":   {0x51, 0x78, 0xae, 0x01, 0x05, 0x00, 0x10, 0x70, 0xff},
		"missing tail": {0x51, 0x78, 0xae, 0x01, 0x01, 0x00, 0x10, 0x70, 0x00},
	}

	for name, frame := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNotification(frame)
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestNotificationKindString(t *testing.T) {
	assert.Equal(t, "pause", NotifyPause.String())
	assert.Equal(t, "resume", NotifyResume.String())
	assert.Equal(t, "device-state", NotifyDeviceState.String())
	assert.Equal(t, "other", NotifyOther.String())
}
