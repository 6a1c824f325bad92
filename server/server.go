// Package server accepts images over TCP and prints them.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/nixxel-company-limited/catprint/binarize"
	"github.com/nixxel-company-limited/catprint/job"
	"github.com/nixxel-company-limited/catprint/logging"
)

// DefaultMaxUploadSize caps the image bytes accepted per connection.
const DefaultMaxUploadSize = 16 << 20

// DefaultReadTimeout bounds how long a client may take to upload.
const DefaultReadTimeout = 30 * time.Second

// ErrUploadTooLarge is reported to clients sending more than the upload limit.
var ErrUploadTooLarge = errors.New("upload exceeds size limit")

// Printer runs print jobs. *job.Runner implements it.
type Printer interface {
	Run(ctx context.Context, req job.Request) job.Result
}

// Decoder turns uploaded bytes into a pixel grid. *imageload.Loader implements it.
type Decoder interface {
	Decode(r io.Reader) (binarize.PixelGrid, error)
}

// Server is a TCP print server. Each connection uploads one image and
// half-closes; the server prints it and answers with a single status line:
//
//	succeeded <job-id>
//	aborted <job-id>
//	failed <job-id>: <reason>
//	failed: <reason>          (the upload could not be decoded)
//
// Jobs run one at a time; Stop cancels the one in progress.
type Server struct {
	decoder       Decoder
	address       string
	logger        logging.Logger
	maxUploadSize int64
	readTimeout   time.Duration

	mu        sync.Mutex
	printer   Printer
	algorithm string
	listener  net.Listener
	running   bool
	cancel    context.CancelFunc
	ctx       context.Context

	jobs sync.Mutex
	wg   sync.WaitGroup
}

// New creates a new server instance.
func New(printer Printer, decoder Decoder, algorithm, address string, logger logging.Logger) *Server {
	return &Server{
		printer:       printer,
		decoder:       decoder,
		algorithm:     algorithm,
		address:       address,
		logger:        logging.OrNoop(logger),
		maxUploadSize: DefaultMaxUploadSize,
		readTimeout:   DefaultReadTimeout,
	}
}

// Reconfigure swaps the printer and algorithm used for subsequent jobs.
func (s *Server) Reconfigure(printer Printer, algorithm string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printer = printer
	s.algorithm = algorithm
	s.logger.Info("server reconfigured", logging.String("algorithm", algorithm))
}

// Start starts the TCP server and blocks until Stop is called.
func (s *Server) Start() error {
	if err := s.listen("blocking"); err != nil {
		return err
	}
	s.wg.Add(1)
	s.acceptConnections()
	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking).
func (s *Server) StartAsync() error {
	if err := s.listen("async"); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

func (s *Server) listen(mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("starting server", logging.String("address", s.address), logging.String("mode", mode))

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error("failed to start server", logging.Err(err))
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.logger.Info("server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// acceptConnections handles incoming client connections.
func (s *Server) acceptConnections() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.IsRunning() {
				s.logger.Debug("server shutting down, stopping accept loop")
				return
			}
			s.logger.Warn("error accepting connection", logging.Err(err))
			continue
		}

		s.logger.Debug("client connected", logging.String("client", conn.RemoteAddr().String()))
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection reads one upload, prints it and reports the outcome.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	client := conn.RemoteAddr().String()
	if s.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}

	data, err := io.ReadAll(io.LimitReader(conn, s.maxUploadSize+1))
	if err != nil {
		s.logger.Warn("error reading upload", logging.String("client", client), logging.Err(err))
		fmt.Fprintf(conn, "failed: %v\n", err)
		return
	}
	if int64(len(data)) > s.maxUploadSize {
		fmt.Fprintf(conn, "failed: %v\n", ErrUploadTooLarge)
		return
	}
	s.logger.Info("received upload", logging.String("client", client), logging.Int("bytes", len(data)))

	grid, err := s.decoder.Decode(bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("rejecting upload", logging.String("client", client), logging.Err(err))
		fmt.Fprintf(conn, "failed: %v\n", err)
		return
	}

	res := s.run(grid)
	switch res.Status {
	case job.StatusSucceeded, job.StatusAborted:
		fmt.Fprintf(conn, "%s %s\n", res.Status, res.ID)
	default:
		fmt.Fprintf(conn, "%s %s: %v\n", res.Status, res.ID, res.Err)
	}
}

// run executes one job at a time against the current printer.
func (s *Server) run(grid binarize.PixelGrid) job.Result {
	s.jobs.Lock()
	defer s.jobs.Unlock()

	s.mu.Lock()
	printer, algorithm, ctx := s.printer, s.algorithm, s.ctx
	s.mu.Unlock()

	return printer.Run(ctx, job.Request{Grid: grid, Algorithm: algorithm})
}

// Stop closes the listener, cancels the running job and waits for every
// connection to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info("stopping server")
	s.running = false
	listener := s.listener
	cancel := s.cancel
	s.mu.Unlock()

	err := listener.Close()
	cancel()
	s.wg.Wait()

	s.logger.Info("server stopped")
	return err
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the listening address, or the configured one when stopped.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.listener.Addr().String()
	}
	return s.address
}
