// Package job runs one print job end to end: binarize the pixel grid, give
// an optional confirmer the chance to veto, encode the bitmap and hand the
// command stream to the transport.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nixxel-company-limited/catprint/binarize"
	"github.com/nixxel-company-limited/catprint/logging"
	"github.com/nixxel-company-limited/catprint/protocol"
)

// Status is the terminal outcome of a job.
type Status int

const (
	StatusFailed Status = iota
	StatusSucceeded
	// StatusAborted means the confirmer declined; nothing reached the printer.
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusAborted:
		return "aborted"
	default:
		return "failed"
	}
}

// Sender delivers a command stream to the printer.
type Sender interface {
	Send(ctx context.Context, stream *protocol.CommandStream) error
}

// Confirmer decides whether a binarized image should be printed.
type Confirmer interface {
	Confirm(ctx context.Context, bm *binarize.Bitmap) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, bm *binarize.Bitmap) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, bm *binarize.Bitmap) (bool, error) {
	return f(ctx, bm)
}

// Request describes one print.
type Request struct {
	Grid      binarize.PixelGrid
	Algorithm string
}

// Result reports how a job ended.
type Result struct {
	ID       uuid.UUID
	Status   Status
	Err      error
	Bitmap   *binarize.Bitmap
	Stream   *protocol.CommandStream
	Duration time.Duration
}

// Runner executes jobs. It holds no per-job state.
type Runner struct {
	encoder   *protocol.Encoder
	sender    Sender
	confirmer Confirmer
	logger    logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithConfirmer installs a preview hook that can veto jobs.
func WithConfirmer(c Confirmer) Option {
	return func(r *Runner) { r.confirmer = c }
}

// WithLogger sets the logger jobs report to.
func WithLogger(l logging.Logger) Option {
	return func(r *Runner) { r.logger = logging.OrNoop(l) }
}

// NewRunner creates a runner.
func NewRunner(encoder *protocol.Encoder, sender Sender, opts ...Option) (*Runner, error) {
	if encoder == nil || sender == nil {
		return nil, errors.New("job: encoder and sender are required")
	}
	r := &Runner{
		encoder: encoder,
		sender:  sender,
		logger:  logging.NoopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes req. Validation errors fail before any device I/O; an aborted
// job is not an error.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	res := Result{ID: uuid.New()}
	start := time.Now()
	log := jobLogger{r.logger, res.ID.String()}

	finish := func(status Status, err error) Result {
		res.Status = status
		res.Err = err
		res.Duration = time.Since(start)
		switch status {
		case StatusSucceeded:
			log.Info("print job succeeded", logging.Duration("took", res.Duration))
		case StatusAborted:
			log.Info("print job aborted by user")
		default:
			log.Error("print job failed", logging.Err(err))
		}
		return res
	}

	algo, err := binarize.ParseAlgorithm(req.Algorithm)
	if err != nil {
		return finish(StatusFailed, err)
	}

	log.Info("binarizing image",
		logging.String("algorithm", string(algo)),
		logging.Int("width", req.Grid.Width()),
		logging.Int("height", req.Grid.Height()))
	bm, err := binarize.Binarize(req.Grid, algo)
	if err != nil {
		return finish(StatusFailed, err)
	}
	res.Bitmap = bm

	// Encode first so a bitmap the printer cannot take is never offered for preview.
	stream, err := r.encoder.Encode(bm)
	if err != nil {
		return finish(StatusFailed, err)
	}

	if r.confirmer != nil {
		ok, err := r.confirmer.Confirm(ctx, bm)
		if err != nil {
			return finish(StatusFailed, fmt.Errorf("confirm: %w", err))
		}
		if !ok {
			return finish(StatusAborted, nil)
		}
	}

	res.Stream = stream
	log.Info("encoded command stream", logging.Int("frames", stream.Len()), logging.Int("bytes", stream.Size()))

	if err := r.sender.Send(ctx, stream); err != nil {
		return finish(StatusFailed, err)
	}
	return finish(StatusSucceeded, nil)
}

// jobLogger tags every entry with the job id.
type jobLogger struct {
	logging.Logger
	id string
}

func (l jobLogger) Info(msg string, fields ...logging.Field) {
	l.Logger.Info(msg, append(fields, logging.String("job", l.id))...)
}

func (l jobLogger) Error(msg string, fields ...logging.Field) {
	l.Logger.Error(msg, append(fields, logging.String("job", l.id))...)
}
