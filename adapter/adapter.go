package adapter

import (
	"context"
	"errors"
	"sync"
)

// DefaultNotifyBuffer is the capacity of a link's notification channel.
const DefaultNotifyBuffer = 16

var (
	// ErrLinkClosed is returned by Write after Close.
	ErrLinkClosed = errors.New("adapter: link closed")

	// ErrCharacteristicNotFound is returned when the printer service is incomplete.
	ErrCharacteristicNotFound = errors.New("adapter: printer characteristic not found")
)

// Advertisement identifies a discovered printer.
type Advertisement struct {
	// Name is the advertised (BLE local name) or product (USB) name.
	Name string
	// Address is the radio-specific address used to connect.
	Address string
}

// Radio discovers printers and opens links to them.
type Radio interface {
	// Scan blocks until a device whose name satisfies match is seen, or ctx is done.
	Scan(ctx context.Context, match func(name string) bool) (Advertisement, error)

	// Connect opens a link to a previously scanned device.
	Connect(ctx context.Context, adv Advertisement) (Link, error)
}

// Link is an open connection to exactly one printer.
type Link interface {
	// MaxPacketSize returns the largest write the link accepts, or 0 if unknown.
	MaxPacketSize() int

	// Write sends one packet to the printer.
	Write(p []byte) error

	// Notifications delivers packets sent by the printer. The channel is
	// closed when the link goes down.
	Notifications() <-chan []byte

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// notifier fans raw device packets into a bounded channel without blocking
// the radio callback; packets are dropped when the consumer falls behind.
type notifier struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func newNotifier(size int) *notifier {
	return &notifier{ch: make(chan []byte, size)}
}

func (n *notifier) push(buf []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return false
	}
	select {
	case n.ch <- append([]byte(nil), buf...):
		return true
	default:
		return false
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}
