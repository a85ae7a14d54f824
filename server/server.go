// Package server runs the line-oriented request loop on stdin and stdout.
//
// After the project model is built the server waits for a start line, writes
// {"message":"ready"}, then answers every [file, offset] line with a JSON
// array of the refactorings available at that location. The loop ends when
// the input stream closes or the context is cancelled.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhubert/plural-refactor/config"
	"github.com/zhubert/plural-refactor/logger"
	"github.com/zhubert/plural-refactor/project"
	"github.com/zhubert/plural-refactor/provider"
)

// ErrStartup wraps failures to build the project model.
var ErrStartup = errors.New("startup failed")

// State is a stage of the server lifecycle.
type State int32

const (
	StateInitializing State = iota
	StateAwaitingStart
	StateReady
	StateProcessingRequest
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingStart:
		return "awaiting_start"
	case StateReady:
		return "ready"
	case StateProcessingRequest:
		return "processing_request"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Builder constructs the project model. It runs once, before the start line
// is read.
type Builder func(ctx context.Context) (project.Model, error)

// Server answers refactoring requests for one project.
type Server struct {
	reader   *bufio.Reader
	writer   io.Writer
	registry *provider.Registry
	policy   config.RequestErrorPolicy
	log      *slog.Logger

	writeMu sync.Mutex
	state   atomic.Int32
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the diagnostic logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithRequestErrors sets what happens to malformed or unresolvable requests.
func WithRequestErrors(policy config.RequestErrorPolicy) Option {
	return func(s *Server) {
		s.policy = policy
	}
}

// New creates a server reading requests from r and writing responses to w.
func New(r io.Reader, w io.Writer, registry *provider.Registry, opts ...Option) *Server {
	s := &Server{
		reader:   bufio.NewReader(r),
		writer:   w,
		registry: registry,
		policy:   config.RequestErrorsReply,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.WithComponent("server")
	}
	return s
}

// State reports the current lifecycle stage.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
}

// Run builds the project model and serves requests until the input closes
// or ctx is done. A closed input is a normal shutdown and returns nil; a done
// context returns ctx.Err() without waiting for the next input line.
func (s *Server) Run(ctx context.Context, build Builder) error {
	s.setState(StateInitializing)
	s.log.Info("starting", "providers", s.registry.Names())

	model, err := build(ctx)
	if err != nil {
		s.setState(StateTerminated)
		s.log.Error("failed to build project model", "error", err)
		return fmt.Errorf("%w: %w", ErrStartup, err)
	}

	s.setState(StateAwaitingStart)
	s.log.Info("analyzed project, waiting for start signal", "root", model.Root())

	done := make(chan struct{})
	defer close(done)
	lines := s.readLines(done)

	if _, err := s.next(ctx, lines); err != nil {
		return s.finish(err, "input closed before start signal")
	}

	if err := s.send(ReadyMessage{Message: ReadyText}); err != nil {
		s.setState(StateTerminated)
		return err
	}
	s.setState(StateReady)
	s.log.Info("ready")

	for {
		line, err := s.next(ctx, lines)
		if err != nil {
			return s.finish(err, "input closed, shutting down")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.setState(StateProcessingRequest)
		err = s.handle(ctx, model, line)
		if err != nil {
			s.setState(StateTerminated)
			return err
		}
		s.setState(StateReady)
	}
}

// finish moves to Terminated and maps the error that ended the loop to
// Run's result. eofMessage is logged for a closed input.
func (s *Server) finish(err error, eofMessage string) error {
	s.setState(StateTerminated)
	switch {
	case errors.Is(err, io.EOF):
		s.log.Info(eofMessage)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Info("context done, shutting down", "error", err)
		return err
	default:
		s.log.Error("read error", "error", err)
		return err
	}
}

type readResult struct {
	line string
	err  error
}

// readLines reads input on its own goroutine so that a blocked read never
// delays shutdown. It stays at most one line ahead of the consumer and stops
// after the first read error or once done is closed. A read that never
// returns leaves the goroutine parked until the process exits.
func (s *Server) readLines(done <-chan struct{}) <-chan readResult {
	out := make(chan readResult)
	go func() {
		for {
			line, err := s.readLine()
			select {
			case out <- readResult{line: line, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// next waits for the next input line or for ctx to be done, whichever comes
// first. Cancellation wins over a line that is already available.
func (s *Server) next(ctx context.Context, lines <-chan readResult) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-lines:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return r.line, r.err
	}
}

// readLine returns the next line. A final line without a trailing newline is
// returned with a nil error; io.EOF is reported on the following call.
func (s *Server) readLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if errors.Is(err, io.EOF) && line != "" {
		return line, nil
	}
	return line, err
}

func (s *Server) handle(ctx context.Context, model project.Model, line string) error {
	log := s.log.With("request_id", uuid.NewString())
	log.Debug("received request", "line", line)

	req, err := ParseRequest(line)
	if err != nil {
		return s.reject(log, line, err)
	}
	res, err := model.Resolve(req.File)
	if err != nil {
		return s.reject(log, line, err)
	}

	start := time.Now()
	results := s.registry.Invoke(ctx, model, res, req.Offset)
	for _, r := range results {
		if r.OK() {
			continue
		}
		if r.Failure.Stack != nil {
			log.Error("provider panicked", "provider", r.Provider, "error", r.Failure.Err, "stack", string(r.Failure.Stack))
			continue
		}
		log.Info("provider not applicable", "provider", r.Provider, "error", r.Failure.Err)
	}

	envelope := Envelope(results)
	log.Info("handled request",
		"file", res.Rel,
		"offset", req.Offset,
		"refactorings", len(envelope),
		"duration", time.Since(start),
	)
	return s.send(envelope)
}

// reject applies the request error policy.
func (s *Server) reject(log *slog.Logger, line string, err error) error {
	switch s.policy {
	case config.RequestErrorsSkip:
		log.Warn("skipping request", "line", line, "error", err)
		return nil
	case config.RequestErrorsAbort:
		log.Error("aborting on bad request", "line", line, "error", err)
		return fmt.Errorf("bad request %q: %w", line, err)
	default:
		log.Warn("rejected request", "line", line, "error", err)
		return s.send([]Refactor{})
	}
}

// send writes v as one JSON line.
func (s *Server) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("failed to marshal response", "error", err)
		return err
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		s.log.Error("failed to write response", "error", err)
		return err
	}
	if f, ok := s.writer.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			s.log.Error("failed to flush response", "error", err)
			return err
		}
	}
	return nil
}
