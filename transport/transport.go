// Package transport delivers a command stream to one printer: it scans for
// the device by advertised name, connects, streams the frames in packet-sized
// chunks under device flow control, and disconnects.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nixxel-company-limited/catprint/adapter"
	"github.com/nixxel-company-limited/catprint/logging"
	"github.com/nixxel-company-limited/catprint/protocol"
)

// DefaultDeviceName is the name GT01 printers advertise.
const DefaultDeviceName = "GT01"

// State is a step of the delivery state machine.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateStreaming
	StateFinishing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFinishing:
		return "finishing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Config holds transport timing and sizing.
type Config struct {
	// DeviceName is matched exactly (case-sensitive) against advertised names.
	DeviceName     string
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
	// FlowTimeout bounds each wait for the device to signal buffer space.
	FlowTimeout time.Duration
	// FinishTimeout bounds the wait for the device's final state reply; 0 skips it.
	FinishTimeout time.Duration
	// MaxPacketSize caps every write. Links that report a smaller size win.
	MaxPacketSize int
	// BufferSize bounds unacknowledged bytes; 0 relies on pause notifications only.
	BufferSize int
	// ChunkDelay is slept after every write to let the printer keep up.
	ChunkDelay time.Duration
}

// DefaultConfig returns settings for GT01 printers over BLE.
func DefaultConfig() Config {
	return Config{
		DeviceName:     DefaultDeviceName,
		ScanTimeout:    10 * time.Second,
		ConnectTimeout: 10 * time.Second,
		FlowTimeout:    30 * time.Second,
		FinishTimeout:  5 * time.Second,
		MaxPacketSize:  20,
		BufferSize:     0,
		ChunkDelay:     20 * time.Millisecond,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.DeviceName == "" {
		return fmt.Errorf("device name is required")
	}
	if c.ScanTimeout <= 0 || c.ConnectTimeout <= 0 || c.FlowTimeout <= 0 {
		return fmt.Errorf("scan, connect and flow timeouts must be positive")
	}
	if c.MaxPacketSize <= 0 {
		return fmt.Errorf("max packet size must be positive, got %d", c.MaxPacketSize)
	}
	if c.FinishTimeout < 0 || c.ChunkDelay < 0 || c.BufferSize < 0 {
		return fmt.Errorf("finish timeout, chunk delay and buffer size must not be negative")
	}
	return nil
}

// Transport sends command streams through a Radio. A Transport runs one job
// at a time; concurrent Send calls are serialized.
type Transport struct {
	radio  adapter.Radio
	cfg    Config
	logger logging.Logger

	job sync.Mutex

	mu       sync.Mutex
	state    State
	observer func(State)
}

// New creates a transport.
func New(radio adapter.Radio, cfg Config, logger logging.Logger) (*Transport, error) {
	if radio == nil {
		return nil, errors.New("transport: radio is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	return &Transport{
		radio:  radio,
		cfg:    cfg,
		logger: logging.OrNoop(logger),
	}, nil
}

// Config returns the transport configuration.
func (t *Transport) Config() Config { return t.cfg }

// Observe registers fn to be called on every state transition.
func (t *Transport) Observe(fn func(State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = fn
}

// State returns the current state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s State) {
	t.mu.Lock()
	t.state = s
	fn := t.observer
	t.mu.Unlock()

	t.logger.Debug("transport state", logging.String("state", s.String()))
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) fail(err error) error {
	t.setState(StateFailed)
	t.logger.Error("transport failed", logging.String("device", t.cfg.DeviceName), logging.Err(err))
	return err
}

// Send delivers every frame of stream, in order, to the first device whose
// advertised name equals Config.DeviceName. The connection is closed before
// Send returns. There is no retry: on failure the caller re-runs the job.
func (t *Transport) Send(ctx context.Context, stream *protocol.CommandStream) error {
	t.job.Lock()
	defer t.job.Unlock()

	t.setState(StateScanning)
	adv, err := t.scan(ctx)
	if err != nil {
		return t.fail(err)
	}

	t.setState(StateConnecting)
	link, err := t.connect(ctx, adv)
	if err != nil {
		return t.fail(err)
	}

	// Cancellation drops the link at once, even mid-write.
	stop := context.AfterFunc(ctx, func() { link.Close() })
	defer stop()

	flow := NewFlowControl(t.cfg.BufferSize)
	t.setState(StateStreaming)
	if err := t.stream(ctx, link, stream, flow); err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: link closed mid-stream", ErrCancelled)
		}
		if cerr := link.Close(); cerr != nil {
			t.logger.Warn("close after failure", logging.Err(cerr))
		}
		return t.fail(err)
	}

	t.setState(StateFinishing)
	t.finish(ctx, link, flow, stream.Count(protocol.OpGetDeviceState))
	stop()
	if err := link.Close(); err != nil {
		t.logger.Warn("disconnect after delivery failed", logging.Err(err))
	}

	t.setState(StateDone)
	t.logger.Info("stream delivered", logging.String("device", adv.Name), logging.Int("bytes", stream.Size()))
	return nil
}

func (t *Transport) scan(ctx context.Context) (adapter.Advertisement, error) {
	t.logger.Info("scanning", logging.String("device", t.cfg.DeviceName), logging.Duration("timeout", t.cfg.ScanTimeout))

	scanCtx, cancel := context.WithTimeout(ctx, t.cfg.ScanTimeout)
	defer cancel()

	name := t.cfg.DeviceName
	adv, err := t.radio.Scan(scanCtx, func(advertised string) bool { return advertised == name })
	if err != nil {
		if ctx.Err() != nil {
			return adv, fmt.Errorf("%w: during scan", ErrCancelled)
		}
		if scanCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return adv, fmt.Errorf("%w: no %q advertisement within %s", ErrDeviceNotFound, name, t.cfg.ScanTimeout)
		}
		// The radio itself failed; nothing says the printer is absent.
		return adv, fmt.Errorf("%w: scan: %w", ErrTransportIO, err)
	}
	t.logger.Info("device found", logging.String("name", adv.Name), logging.String("address", adv.Address))
	return adv, nil
}

func (t *Transport) connect(ctx context.Context, adv adapter.Advertisement) (adapter.Link, error) {
	connCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	link, err := t.radio.Connect(connCtx, adv)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: during connect", ErrCancelled)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, adv.Address, err)
	}
	t.logger.Info("connected", logging.String("address", adv.Address), logging.Int("packet_size", t.packetSize(link)))
	return link, nil
}

// packetSize is the configured maximum, lowered to what the link reports.
func (t *Transport) packetSize(link adapter.Link) int {
	size := t.cfg.MaxPacketSize
	if n := link.MaxPacketSize(); n > 0 && n < size {
		size = n
	}
	return size
}

// stream writes every frame in chunks of at most packetSize bytes. Frames
// are never merged, so each write carries bytes of a single frame.
func (t *Transport) stream(ctx context.Context, link adapter.Link, stream *protocol.CommandStream, flow *FlowControl) error {
	packet := t.packetSize(link)
	notes := link.Notifications()

	sent := 0
	for i := 0; i < stream.Len(); i++ {
		frame := stream.Frame(i)
		for off := 0; off < len(frame); off += packet {
			chunk := frame[off:min(off+packet, len(frame))]

			if err := t.drain(notes, flow); err != nil {
				return err
			}
			// Only a flow-control signal extends the wait; other chatter does not.
			deadline := time.Now().Add(t.cfg.FlowTimeout)
			for !flow.CanSend(len(chunk)) {
				changed, err := t.await(ctx, notes, flow, deadline)
				if err != nil {
					return err
				}
				if changed {
					deadline = time.Now().Add(t.cfg.FlowTimeout)
				}
			}
			if ctx.Err() != nil {
				return fmt.Errorf("%w: after %d of %d bytes", ErrCancelled, sent, stream.Size())
			}

			if err := link.Write(chunk); err != nil {
				return fmt.Errorf("%w: frame %d after %d bytes: %w", ErrTransportIO, i, sent, err)
			}
			flow.Sent(len(chunk))
			sent += len(chunk)

			if err := t.pause(ctx); err != nil {
				return fmt.Errorf("%w: after %d of %d bytes", err, sent, stream.Size())
			}
		}
	}
	t.logger.Debug("all chunks written", logging.Int("bytes", sent), logging.Int("frames", stream.Len()))
	return nil
}

// drain applies every notification already queued without blocking.
func (t *Transport) drain(notes <-chan []byte, flow *FlowControl) error {
	for {
		select {
		case b, ok := <-notes:
			if !ok {
				return fmt.Errorf("%w: link dropped", ErrTransportIO)
			}
			t.apply(b, flow)
		default:
			return nil
		}
	}
}

// await blocks for one notification until deadline and reports whether it
// changed the flow state.
func (t *Transport) await(ctx context.Context, notes <-chan []byte, flow *FlowControl, deadline time.Time) (bool, error) {
	t.logger.Debug("waiting for printer", logging.Bool("paused", flow.Paused()), logging.Int("in_flight", flow.InFlight()))

	unresponsive := fmt.Errorf("%w: no flow-control signal within %s", ErrDeviceUnresponsive, t.cfg.FlowTimeout)
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false, unresponsive
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%w: waiting for flow control", ErrCancelled)
	case <-timer.C:
		return false, unresponsive
	case b, ok := <-notes:
		if !ok {
			return false, fmt.Errorf("%w: link dropped", ErrTransportIO)
		}
		return t.apply(b, flow), nil
	}
}

func (t *Transport) apply(b []byte, flow *FlowControl) bool {
	n, err := protocol.ParseNotification(b)
	if err != nil {
		t.logger.Debug("ignoring notification", logging.Err(err))
		return false
	}
	if flow.Observe(n) {
		t.logger.Debug("flow control", logging.String("signal", n.Kind.String()))
		return true
	}
	return false
}

func (t *Transport) pause(ctx context.Context) error {
	if t.cfg.ChunkDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(t.cfg.ChunkDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ErrCancelled
	case <-timer.C:
		return nil
	}
}

// finish waits until the printer has answered every state query in the
// stream. The last query is the final frame, so its reply means the printer
// consumed everything before the link drops. Replies seen while streaming
// were counted by flow.
func (t *Transport) finish(ctx context.Context, link adapter.Link, flow *FlowControl, queries int) {
	if t.cfg.FinishTimeout <= 0 || flow.StateReplies() >= queries {
		return
	}

	timer := time.NewTimer(t.cfg.FinishTimeout)
	defer timer.Stop()

	notes := link.Notifications()
	for flow.StateReplies() < queries {
		select {
		case <-ctx.Done():
			t.logger.Warn("finish interrupted; all bytes were already delivered")
			return
		case <-timer.C:
			t.logger.Warn("no final state reply from printer",
				logging.Duration("timeout", t.cfg.FinishTimeout),
				logging.Int("replies", flow.StateReplies()),
				logging.Int("queries", queries))
			return
		case b, ok := <-notes:
			if !ok {
				return
			}
			t.apply(b, flow)
		}
	}
	t.logger.Debug("printer answered final state query")
}
