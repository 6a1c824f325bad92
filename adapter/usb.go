package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/gousb"

	"github.com/nixxel-company-limited/catprint/logging"
)

// Interface class codes
// Reference: http://www.usb.org/developers/defined_class
const (
	IfaceClassPrinter = 0x07
)

// DefaultUSBPollInterval is how often Scan re-enumerates the bus.
const DefaultUSBPollInterval = 500 * time.Millisecond

// USBRadio exposes USB printer-class devices through the Radio interface.
// A device's "advertised" name is its USB product string.
type USBRadio struct {
	ctx          *gousb.Context
	logger       logging.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	pending map[string]*gousb.Device
}

// NewUSBRadio creates a radio backed by a new libusb context.
func NewUSBRadio(logger logging.Logger) *USBRadio {
	return &USBRadio{
		ctx:          gousb.NewContext(),
		logger:       logging.OrNoop(logger),
		pollInterval: DefaultUSBPollInterval,
		pending:      make(map[string]*gousb.Device),
	}
}

// IsPrinter reports whether a device descriptor exposes a printer-class interface.
func IsPrinter(desc *gousb.DeviceDesc) bool {
	if desc == nil {
		return false
	}
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == IfaceClassPrinter {
					return true
				}
			}
		}
	}
	return false
}

func usbAddress(desc *gousb.DeviceDesc) string {
	return fmt.Sprintf("usb:%d:%d", desc.Bus, desc.Address)
}

// findPrinter opens every printer-class device and keeps the first whose
// product string matches.
func (r *USBRadio) findPrinter(match func(name string) bool) (Advertisement, bool) {
	devices, err := r.ctx.OpenDevices(IsPrinter)
	if err != nil && len(devices) == 0 {
		r.logger.Debug("usb enumeration failed", logging.Err(err))
		return Advertisement{}, false
	}

	var adv Advertisement
	var found bool
	for _, dev := range devices {
		if found {
			dev.Close()
			continue
		}
		name, err := dev.Product()
		if err != nil || !match(name) {
			dev.Close()
			continue
		}
		adv = Advertisement{Name: name, Address: usbAddress(dev.Desc)}
		r.mu.Lock()
		if old, ok := r.pending[adv.Address]; ok {
			old.Close()
		}
		r.pending[adv.Address] = dev
		r.mu.Unlock()
		found = true
	}
	return adv, found
}

// Scan polls the bus until a matching printer appears or ctx is done.
func (r *USBRadio) Scan(ctx context.Context, match func(name string) bool) (Advertisement, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if adv, ok := r.findPrinter(match); ok {
			r.logger.Debug("usb printer found", logging.String("name", adv.Name), logging.String("address", adv.Address))
			return adv, nil
		}
		select {
		case <-ctx.Done():
			return Advertisement{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Connect claims the printer interface of a scanned device.
func (r *USBRadio) Connect(ctx context.Context, adv Advertisement) (Link, error) {
	r.mu.Lock()
	dev, ok := r.pending[adv.Address]
	delete(r.pending, adv.Address)
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("device %s was not seen during scan", adv.Address)
	}
	if err := ctx.Err(); err != nil {
		dev.Close()
		return nil, err
	}

	link, err := openUSBLink(dev)
	if err != nil {
		dev.Close()
		return nil, err
	}
	return link, nil
}

// Close releases the libusb context and any scanned but unconnected devices.
func (r *USBRadio) Close() error {
	r.mu.Lock()
	for addr, dev := range r.pending {
		dev.Close()
		delete(r.pending, addr)
	}
	r.mu.Unlock()
	return r.ctx.Close()
}

type usbLink struct {
	device      *gousb.Device
	config      *gousb.Config
	iface       *gousb.Interface
	outEndpoint *gousb.OutEndpoint
	inEndpoint  *gousb.InEndpoint
	packetSize  int
	notes       *notifier

	cancel context.CancelFunc
	reader sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func openUSBLink(dev *gousb.Device) (*usbLink, error) {
	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		dev.SetAutoDetach(true)
	}

	cfgNum, err := dev.ActiveConfigNum()
	if err != nil {
		return nil, fmt.Errorf("failed to get active config: %w", err)
	}

	cfg, err := dev.Config(cfgNum)
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	printerIfaceNum := -1
	for _, iface := range cfg.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				printerIfaceNum = iface.Number
				break
			}
		}
		if printerIfaceNum >= 0 {
			break
		}
	}
	if printerIfaceNum < 0 {
		cfg.Close()
		return nil, errors.New("no printer interface found")
	}

	iface, err := cfg.Interface(printerIfaceNum, 0)
	if err != nil {
		cfg.Close()
		return nil, fmt.Errorf("failed to claim interface: %w", err)
	}

	l := &usbLink{
		device: dev,
		config: cfg,
		iface:  iface,
		notes:  newNotifier(DefaultNotifyBuffer),
	}

	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut && l.outEndpoint == nil {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				l.outEndpoint = ep
				l.packetSize = epDesc.MaxPacketSize
			}
		}
		if epDesc.Direction == gousb.EndpointDirectionIn && l.inEndpoint == nil {
			if ep, err := iface.InEndpoint(epDesc.Number); err == nil {
				l.inEndpoint = ep
			}
		}
	}

	if l.outEndpoint == nil {
		iface.Close()
		cfg.Close()
		return nil, errors.New("cannot find output endpoint from printer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	if l.inEndpoint != nil {
		l.reader.Add(1)
		go l.readLoop(ctx)
	}
	return l, nil
}

// readLoop forwards status packets from the IN endpoint until the link closes.
func (l *usbLink) readLoop(ctx context.Context) {
	defer l.reader.Done()
	defer l.notes.close()

	buf := make([]byte, l.inEndpoint.Desc.MaxPacketSize)
	for {
		n, err := l.inEndpoint.ReadContext(ctx, buf)
		if err != nil {
			return
		}
		if n > 0 {
			l.notes.push(buf[:n])
		}
	}
}

func (l *usbLink) MaxPacketSize() int { return l.packetSize }

func (l *usbLink) Write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLinkClosed
	}
	if _, err := l.outEndpoint.Write(p); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// Notifications stays silent for printers without an IN endpoint.
func (l *usbLink) Notifications() <-chan []byte { return l.notes.ch }

func (l *usbLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.reader.Wait()
	l.notes.close()

	var errs []error
	l.iface.Close()
	if err := l.config.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := l.device.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
