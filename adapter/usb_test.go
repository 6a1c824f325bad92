package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func printerDesc(class gousb.Class) *gousb.DeviceDesc {
	return &gousb.DeviceDesc{
		Configs: map[int]gousb.ConfigDesc{
			1: {
				Number: 1,
				Interfaces: []gousb.InterfaceDesc{
					{
						Number: 0,
						AltSettings: []gousb.InterfaceSetting{
							{Number: 0, Alternate: 0, Class: class},
						},
					},
				},
			},
		},
	}
}

func TestIsPrinter(t *testing.T) {
	t.Run("NilDescriptor", func(t *testing.T) {
		assert.False(t, IsPrinter(nil))
	})

	t.Run("PrinterClass", func(t *testing.T) {
		assert.True(t, IsPrinter(printerDesc(gousb.ClassPrinter)))
	})

	t.Run("OtherClass", func(t *testing.T) {
		assert.False(t, IsPrinter(printerDesc(gousb.ClassHID)))
	})
}

func TestUSBAddress(t *testing.T) {
	desc := &gousb.DeviceDesc{Bus: 3, Address: 12}
	assert.Equal(t, "usb:3:12", usbAddress(desc))
}

func TestUSBRadioConnectUnknownDevice(t *testing.T) {
	r := &USBRadio{pending: map[string]*gousb.Device{}}

	_, err := r.Connect(context.Background(), Advertisement{Name: "GT01", Address: "usb:1:1"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not seen during scan")
}

func TestUSBRadioScanTimeout(t *testing.T) {
	r := NewUSBRadio(nil)
	defer r.Close()
	r.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := r.Scan(ctx, func(name string) bool { return name == "no-such-printer-attached" })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUSBRadioRealPrinter(t *testing.T) {
	r := NewUSBRadio(nil)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	adv, err := r.Scan(ctx, func(string) bool { return true })
	if err != nil {
		t.Skip("No USB printer found, skipping test")
	}

	link, err := r.Connect(ctx, adv)
	require.NoError(t, err)
	assert.Greater(t, link.MaxPacketSize(), 0)

	// Test double close (should not error)
	require.NoError(t, link.Close())
	assert.NoError(t, link.Close())
	assert.ErrorIs(t, link.Write([]byte{0x00}), ErrLinkClosed)
}

func TestNotifierDropsWhenFull(t *testing.T) {
	n := newNotifier(1)

	assert.True(t, n.push([]byte{1}))
	assert.False(t, n.push([]byte{2}))

	got := <-n.ch
	assert.Equal(t, []byte{1}, got)

	n.close()
	n.close()
	assert.False(t, n.push([]byte{3}))

	_, ok := <-n.ch
	assert.False(t, ok)
}

func TestNotifierCopiesBuffer(t *testing.T) {
	n := newNotifier(1)
	buf := []byte{1, 2}
	n.push(buf)
	buf[0] = 9

	assert.Equal(t, []byte{1, 2}, <-n.ch)
}
