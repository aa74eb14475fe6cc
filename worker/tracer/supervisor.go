// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tracer

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"github.com/pgbufview/pgbufview/core/trace"
	"github.com/pgbufview/pgbufview/internal/metrics"
)

const (
	// ErrAlreadyRunning is returned by Start while a tracer process is held.
	ErrAlreadyRunning = errors.ConstError("tracer already running")

	// ErrNotRunning is returned by Run when no tracer process is held.
	ErrNotRunning = errors.ConstError("tracer not running")
)

// Logger represents the methods used by the supervisor to log information.
type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Warningf(string, ...any)
	Errorf(string, ...any)
}

// Handler receives every valid event read from the tracer.
type Handler func(trace.Event)

// Config holds the configuration for a Supervisor.
type Config struct {
	// Path is the tracer executable.
	Path string

	// Args are passed to the tracer, typically the probe script.
	Args []string

	// Schema is the trace schema accepted on the tracer output. Lines of
	// any other schema are treated as malformed.
	Schema trace.Schema

	// TerminateTimeout is how long Stop waits after asking the tracer to
	// terminate before killing it.
	TerminateTimeout time.Duration

	Clock   clock.Clock
	Logger  Logger
	Metrics *metrics.Collector
}

// Validate ensures that the config values are valid.
func (c Config) Validate() error {
	if c.Path == "" {
		return errors.NotValidf("empty Path")
	}
	if c.TerminateTimeout <= 0 {
		return errors.NotValidf("non-positive TerminateTimeout")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	return nil
}

// process is a single launched tracer.
type process struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	// exited is closed once the process has been reaped, after which
	// waitErr holds its exit status.
	exited  chan struct{}
	waitErr error

	// stopping is set by Stop before the process is signalled, so that
	// the resulting exit status is not reported as a failure.
	stopping atomic.Bool

	// reading is set while Run drains the output pipes. Guarded by the
	// supervisor mutex.
	reading bool

	closeOnce sync.Once
}

func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

func (p *process) closeOutput() {
	p.closeOnce.Do(func() {
		_ = p.stdout.Close()
		_ = p.stderr.Close()
	})
}

// Supervisor owns at most one tracer process at a time, decodes its output
// into events and stops it within a bounded time.
type Supervisor struct {
	config Config

	mu   sync.Mutex
	proc *process

	// stopMu serialises Stop calls.
	stopMu sync.Mutex
}

// NewSupervisor returns a Supervisor that holds no process.
func NewSupervisor(config Config) (*Supervisor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Supervisor{config: config}, nil
}

// Start launches the tracer. It returns ErrAlreadyRunning if a process is
// still held.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p := s.proc; p != nil {
		if !p.hasExited() || p.reading {
			return ErrAlreadyRunning
		}
		// The previous tracer exited on its own and nobody is reading
		// what it left behind.
		p.closeOutput()
		s.proc = nil
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return errors.Annotate(err, "creating stdout pipe")
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return errors.Annotate(err, "creating stderr pipe")
	}

	cmd := exec.Command(s.config.Path, s.config.Args...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	err = cmd.Start()

	// The child holds its own copies of the write ends.
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if err != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return errors.Annotatef(err, "starting tracer %q", s.config.Path)
	}

	p := &process{
		cmd:    cmd,
		stdout: stdoutR,
		stderr: stderrR,
		exited: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	s.proc = p
	s.config.Logger.Infof("started tracer %s (pid %d)", s.config.Path, cmd.Process.Pid)
	return nil
}

// Running reports whether a tracer process is held and has not exited.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && !s.proc.hasExited()
}

// Stop terminates the held tracer. The tracer is asked to terminate and is
// killed if it has not exited within the terminate timeout. Stop is a no-op
// if no tracer is held, and the process is released on every path.
func (s *Supervisor) Stop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	defer s.release(p)

	p.stopping.Store(true)
	mode, err := s.terminate(p)
	s.config.Metrics.TracerStops.WithLabelValues(mode).Inc()
	return errors.Trace(err)
}

func (s *Supervisor) terminate(p *process) (string, error) {
	if p.hasExited() {
		s.config.Logger.Debugf("tracer already exited")
		return metrics.StopExited, nil
	}

	s.config.Logger.Infof("stopping tracer (pid %d)", p.cmd.Process.Pid)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.config.Logger.Warningf("cannot signal tracer: %v", err)
	}

	timer := s.config.Clock.NewTimer(s.config.TerminateTimeout)
	defer timer.Stop()

	select {
	case <-p.exited:
		s.config.Logger.Infof("tracer stopped")
		return metrics.StopGraceful, nil
	case <-timer.Chan():
	}

	s.config.Logger.Warningf("tracer did not exit within %v, killing it", s.config.TerminateTimeout)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		// Nothing else can be done; the wait below still reaps it.
		s.config.Logger.Errorf("cannot kill tracer: %v", err)
	}
	<-p.exited
	return metrics.StopForced, nil
}

// release drops the supervisor's reference to p. The output pipes are
// closed here unless Run is still draining them, in which case Run closes
// them when it is done.
func (s *Supervisor) release(p *process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == p {
		s.proc = nil
	}
	if !p.reading {
		p.closeOutput()
	}
}

// Run reads the tracer output until the tracer exits, ctx is cancelled or
// reading fails. Valid events are passed to handler in the order they were
// written; malformed lines are logged and skipped. Standard error is
// logged. The tracer is always stopped before Run returns. An exit with a
// non-zero status that was not caused by Stop is returned as an error.
func (s *Supervisor) Run(ctx context.Context, handler Handler) error {
	s.mu.Lock()
	p := s.proc
	if p == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if p.reading {
		s.mu.Unlock()
		return errors.Errorf("tracer output already being read")
	}
	p.reading = true
	s.mu.Unlock()

	defer func() {
		if err := s.Stop(); err != nil {
			s.config.Logger.Errorf("stopping tracer: %v", err)
		}
	}()
	defer func() {
		s.mu.Lock()
		p.reading = false
		s.mu.Unlock()
		p.closeOutput()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.drainStderr(p)
	})
	g.Go(func() error {
		return s.readEvents(p, handler)
	})
	g.Go(func() error {
		select {
		case <-p.exited:
		case <-gctx.Done():
			// Stopping the tracer closes its end of the pipes, so the
			// readers reach EOF.
			if err := s.Stop(); err != nil {
				return errors.Trace(err)
			}
			<-p.exited
		}
		if p.waitErr != nil && !p.stopping.Load() {
			return errors.Annotate(p.waitErr, "tracer exited")
		}
		return nil
	})
	return g.Wait()
}

func (s *Supervisor) readEvents(p *process, handler Handler) error {
	err := readLines(p.stdout, func(line []byte, tooLong bool) {
		s.config.Metrics.LinesRead.Inc()
		if tooLong {
			s.config.Metrics.MalformedLines.Inc()
			s.config.Logger.Debugf("ignoring over-long tracer line starting %q", line[:min(len(line), linePreview)])
			return
		}
		text := string(line)
		ev, ok := trace.ParseSchema(text, s.config.Schema)
		if !ok {
			s.config.Metrics.MalformedLines.Inc()
			s.config.Logger.Debugf("ignoring malformed tracer line %q", text)
			return
		}
		handler(ev)
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return errors.Annotate(err, "reading tracer output")
	}
	return nil
}

func (s *Supervisor) drainStderr(p *process) error {
	err := readLines(p.stderr, func(line []byte, tooLong bool) {
		if tooLong {
			s.config.Logger.Warningf("tracer stderr: %s...", line[:min(len(line), linePreview)])
			return
		}
		s.config.Logger.Warningf("tracer stderr: %s", line)
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return errors.Annotate(err, "reading tracer stderr")
	}
	return nil
}

const (
	// maxLineLength is the longest line passed on whole. Longer lines are
	// reported once with tooLong set and the rest of them is discarded.
	maxLineLength = 64 * 1024

	// linePreview is how much of an over-long line is logged.
	linePreview = 64
)

// readLines calls fn for every line read from r, without the line ending,
// until r is exhausted. The line is only valid for the duration of the
// call. It returns nil at end of input.
func readLines(r io.Reader, fn func(line []byte, tooLong bool)) error {
	br := bufio.NewReaderSize(r, maxLineLength)
	discarding := false
	for {
		line, err := br.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			if !discarding {
				fn(line, true)
				discarding = true
			}
			continue
		}
		if len(line) > 0 && !discarding {
			fn(trimLineEnding(line), false)
		}
		discarding = false
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func trimLineEnding(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte("\n"))
	return bytes.TrimSuffix(line, []byte("\r"))
}
