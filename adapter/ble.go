package adapter

import (
	"context"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/nixxel-company-limited/catprint/logging"
)

// GATT layout of GB01/GT01 printers
var (
	PrinterServiceUUID = bluetooth.New16BitUUID(0xae30)
	PrinterTxUUID      = bluetooth.New16BitUUID(0xae01)
	PrinterRxUUID      = bluetooth.New16BitUUID(0xae02)
)

// BLERadio discovers and connects to printers over Bluetooth Low Energy.
type BLERadio struct {
	adapter *bluetooth.Adapter
	logger  logging.Logger

	mu      sync.Mutex
	enabled bool
	seen    map[string]bluetooth.Address
}

// NewBLERadio creates a radio on the host's default Bluetooth adapter.
func NewBLERadio(logger logging.Logger) *BLERadio {
	return &BLERadio{
		adapter: bluetooth.DefaultAdapter,
		logger:  logging.OrNoop(logger),
		seen:    make(map[string]bluetooth.Address),
	}
}

func (r *BLERadio) enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		return nil
	}
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}
	r.enabled = true
	return nil
}

// Scan listens for advertisements until one matches or ctx is done.
func (r *BLERadio) Scan(ctx context.Context, match func(name string) bool) (Advertisement, error) {
	if err := r.enable(); err != nil {
		return Advertisement{}, err
	}

	found := make(chan bluetooth.ScanResult, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if name == "" || !match(name) {
				return
			}
			select {
			case found <- result:
				a.StopScan()
			default:
			}
		})
	}()

	select {
	case result := <-found:
		<-done
		adv := Advertisement{Name: result.LocalName(), Address: result.Address.String()}
		r.mu.Lock()
		r.seen[adv.Address] = result.Address
		r.mu.Unlock()
		r.logger.Debug("ble device found", logging.String("name", adv.Name), logging.String("address", adv.Address), logging.Int("rssi", int(result.RSSI)))
		return adv, nil
	case err := <-done:
		if err == nil {
			err = fmt.Errorf("scan stopped before a device was found")
		}
		return Advertisement{}, fmt.Errorf("ble scan failed: %w", err)
	case <-ctx.Done():
		r.adapter.StopScan()
		<-done
		return Advertisement{}, ctx.Err()
	}
}

// Connect opens a GATT connection and subscribes to printer notifications.
func (r *BLERadio) Connect(ctx context.Context, adv Advertisement) (Link, error) {
	r.mu.Lock()
	addr, ok := r.seen[adv.Address]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device %s was not seen during scan", adv.Address)
	}

	type connected struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connected, 1)
	go func() {
		d, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connected{d, err}
	}()

	var device bluetooth.Device
	select {
	case c := <-ch:
		if c.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", adv.Address, c.err)
		}
		device = c.device
	case <-ctx.Done():
		// Drop a connection that completes after the caller gave up.
		go func() {
			if c := <-ch; c.err == nil {
				c.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}

	link, err := newBLELink(device)
	if err != nil {
		device.Disconnect()
		return nil, err
	}
	r.logger.Debug("ble link ready", logging.String("address", adv.Address))
	return link, nil
}

type bleLink struct {
	device bluetooth.Device
	tx     bluetooth.DeviceCharacteristic
	notes  *notifier

	mu     sync.Mutex
	closed bool
}

func newBLELink(device bluetooth.Device) (*bleLink, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{PrinterServiceUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover printer service: %w", err)
	}
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: service %s", ErrCharacteristicNotFound, PrinterServiceUUID.String())
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{PrinterTxUUID, PrinterRxUUID})
	if err != nil {
		return nil, fmt.Errorf("failed to discover printer characteristics: %w", err)
	}

	var tx, rx *bluetooth.DeviceCharacteristic
	for i := range chars {
		switch chars[i].UUID() {
		case PrinterTxUUID:
			tx = &chars[i]
		case PrinterRxUUID:
			rx = &chars[i]
		}
	}
	if tx == nil || rx == nil {
		return nil, fmt.Errorf("%w: need %s and %s", ErrCharacteristicNotFound, PrinterTxUUID.String(), PrinterRxUUID.String())
	}

	l := &bleLink{
		device: device,
		tx:     *tx,
		notes:  newNotifier(DefaultNotifyBuffer),
	}
	if err := rx.EnableNotifications(func(buf []byte) { l.notes.push(buf) }); err != nil {
		return nil, fmt.Errorf("failed to enable notifications: %w", err)
	}
	return l, nil
}

// MaxPacketSize is unknown over BLE; the transport falls back to its configured size.
func (l *bleLink) MaxPacketSize() int { return 0 }

func (l *bleLink) Write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if _, err := l.tx.WriteWithoutResponse(p); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (l *bleLink) Notifications() <-chan []byte { return l.notes.ch }

func (l *bleLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	err := l.device.Disconnect()
	l.notes.close()
	if err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}
	return nil
}
