// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tracer_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gc "gopkg.in/check.v1"

	"github.com/pgbufview/pgbufview/core/trace"
	"github.com/pgbufview/pgbufview/internal/metrics"
	coretesting "github.com/pgbufview/pgbufview/testing"
	"github.com/pgbufview/pgbufview/worker/tracer"
)

type supervisorSuite struct {
	testing.IsolationSuite

	clock   *testclock.Clock
	logger  coretesting.CheckLogger
	metrics *metrics.Collector
}

var _ = gc.Suite(&supervisorSuite{})

const terminateTimeout = 5 * time.Second

func (s *supervisorSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Now())
	s.logger = coretesting.NewCheckLogger(c)
	s.metrics = metrics.NewCollector()
}

// writeScript writes an executable shell script and returns its path.
func (s *supervisorSuite) writeScript(c *gc.C, body string) string {
	path := filepath.Join(c.MkDir(), "tracer.sh")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755)
	c.Assert(err, jc.ErrorIsNil)
	return path
}

func (s *supervisorSuite) newSupervisor(c *gc.C, path string, args ...string) *tracer.Supervisor {
	sup, err := tracer.NewSupervisor(tracer.Config{
		Path:             path,
		Args:             args,
		TerminateTimeout: terminateTimeout,
		Clock:            s.clock,
		Logger:           s.logger,
		Metrics:          s.metrics,
	})
	c.Assert(err, jc.ErrorIsNil)
	return sup
}

func (s *supervisorSuite) stops(mode string) float64 {
	return testutil.ToFloat64(s.metrics.TracerStops.WithLabelValues(mode))
}

// collector gathers handled events.
type collector struct {
	mu     sync.Mutex
	events []trace.Event
}

func (c *collector) handle(ev trace.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) all() []trace.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]trace.Event(nil), c.events...)
}

// waitForFile waits until the script signals it is ready by creating path.
func waitForFile(c *gc.C, path string) {
	deadline := time.After(coretesting.LongWait)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		select {
		case <-deadline:
			c.Fatalf("%s never created", path)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (s *supervisorSuite) TestValidate(c *gc.C) {
	config := tracer.Config{
		Path:             "/usr/bin/bpftrace",
		TerminateTimeout: terminateTimeout,
		Clock:            s.clock,
		Logger:           s.logger,
		Metrics:          s.metrics,
	}
	c.Assert(config.Validate(), jc.ErrorIsNil)

	bad := config
	bad.Path = ""
	c.Check(bad.Validate(), gc.ErrorMatches, "empty Path not valid")

	bad = config
	bad.TerminateTimeout = 0
	c.Check(bad.Validate(), gc.ErrorMatches, "non-positive TerminateTimeout not valid")

	bad = config
	bad.Clock = nil
	_, err := tracer.NewSupervisor(bad)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *supervisorSuite) TestRunDispatchesEvents(c *gc.C) {
	path := s.writeScript(c, `
echo 0000400600000001
echo not-an-event
echo 000040060000000200000001
echo "attaching probes" >&2
exit 0
`)
	sup := s.newSupervisor(c, path)
	c.Assert(sup.Start(), jc.ErrorIsNil)

	var got collector
	err := sup.Run(context.Background(), got.handle)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(got.all(), jc.DeepEquals, []trace.Event{
		{Relfilenode: 0x4006, Block: 1, Schema: trace.SchemaV1},
		{Relfilenode: 0x4006, Block: 2, Hit: 1, Schema: trace.SchemaV2},
	})
	c.Check(testutil.ToFloat64(s.metrics.LinesRead), gc.Equals, float64(3))
	c.Check(testutil.ToFloat64(s.metrics.MalformedLines), gc.Equals, float64(1))
	c.Check(s.logger.Messages(loggo.WARNING), jc.DeepEquals, []string{"tracer stderr: attaching probes"})
	c.Check(strings.Join(s.logger.Messages(loggo.DEBUG), "\n"), jc.Contains, `ignoring malformed tracer line "not-an-event"`)

	c.Check(sup.Running(), jc.IsFalse)
	c.Check(s.stops(metrics.StopExited), gc.Equals, float64(1))
}

func (s *supervisorSuite) TestRunSkipsOverLongLines(c *gc.C) {
	path := s.writeScript(c, `
echo 0000400600000001
head -c 200000 /dev/zero | tr '\0' x
echo
head -c 200000 /dev/zero | tr '\0' y >&2
echo >&2
echo 0000400600000002
echo "attaching probes" >&2
exit 0
`)
	sup := s.newSupervisor(c, path)
	c.Assert(sup.Start(), jc.ErrorIsNil)

	var got collector
	err := sup.Run(context.Background(), got.handle)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(got.all(), jc.DeepEquals, []trace.Event{
		{Relfilenode: 0x4006, Block: 1, Schema: trace.SchemaV1},
		{Relfilenode: 0x4006, Block: 2, Schema: trace.SchemaV1},
	})
	c.Check(testutil.ToFloat64(s.metrics.LinesRead), gc.Equals, float64(3))
	c.Check(testutil.ToFloat64(s.metrics.MalformedLines), gc.Equals, float64(1))
	c.Check(strings.Join(s.logger.Messages(loggo.DEBUG), "\n"), jc.Contains, "ignoring over-long tracer line")

	warnings := s.logger.Messages(loggo.WARNING)
	c.Assert(warnings, gc.HasLen, 2)
	c.Check(warnings[0], gc.Equals, "tracer stderr: "+strings.Repeat("y", 64)+"...")
	c.Check(warnings[1], gc.Equals, "tracer stderr: attaching probes")
	c.Check(s.stops(metrics.StopExited), gc.Equals, float64(1))
}

func (s *supervisorSuite) TestRunPinnedSchema(c *gc.C) {
	path := s.writeScript(c, `
echo 0000400600000001
echo 000040060000000200000001
`)
	sup, err := tracer.NewSupervisor(tracer.Config{
		Path:             path,
		Schema:           trace.SchemaV2,
		TerminateTimeout: terminateTimeout,
		Clock:            s.clock,
		Logger:           s.logger,
		Metrics:          s.metrics,
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(sup.Start(), jc.ErrorIsNil)

	var got collector
	c.Assert(sup.Run(context.Background(), got.handle), jc.ErrorIsNil)
	c.Check(got.all(), jc.DeepEquals, []trace.Event{
		{Relfilenode: 0x4006, Block: 2, Hit: 1, Schema: trace.SchemaV2},
	})
	c.Check(testutil.ToFloat64(s.metrics.MalformedLines), gc.Equals, float64(1))
}

func (s *supervisorSuite) TestRunNonZeroExit(c *gc.C) {
	path := s.writeScript(c, `
echo "no such probe" >&2
exit 3
`)
	sup := s.newSupervisor(c, path)
	c.Assert(sup.Start(), jc.ErrorIsNil)

	var got collector
	err := sup.Run(context.Background(), got.handle)
	c.Assert(err, gc.ErrorMatches, "tracer exited: exit status 3")
	c.Check(got.all(), gc.HasLen, 0)
	c.Check(sup.Running(), jc.IsFalse)
}

func (s *supervisorSuite) TestRunNotRunning(c *gc.C) {
	sup := s.newSupervisor(c, "/bin/true")
	err := sup.Run(context.Background(), func(trace.Event) {})
	c.Check(err, jc.ErrorIs, tracer.ErrNotRunning)
}

func (s *supervisorSuite) TestStartMissingExecutable(c *gc.C) {
	path := filepath.Join(c.MkDir(), "missing")
	sup := s.newSupervisor(c, path)
	err := sup.Start()
	c.Check(err, gc.ErrorMatches, `starting tracer ".*missing": .*`)
	c.Check(sup.Running(), jc.IsFalse)
}

func (s *supervisorSuite) TestStartTwice(c *gc.C) {
	path := s.writeScript(c, "exec /bin/sleep 30\n")
	sup := s.newSupervisor(c, path)
	c.Assert(sup.Start(), jc.ErrorIsNil)
	defer func() { _ = sup.Stop() }()

	c.Check(sup.Start(), jc.ErrorIs, tracer.ErrAlreadyRunning)
	c.Check(sup.Running(), jc.IsTrue)
}

func (s *supervisorSuite) TestStopNotRunning(c *gc.C) {
	sup := s.newSupervisor(c, "/bin/true")
	c.Check(sup.Stop(), jc.ErrorIsNil)
	c.Check(sup.Stop(), jc.ErrorIsNil)
	c.Check(s.stops(metrics.StopGraceful), gc.Equals, float64(0))
}

func (s *supervisorSuite) TestStopGraceful(c *gc.C) {
	path := s.writeScript(c, "exec /bin/sleep 30\n")
	sup := s.newSupervisor(c, path)
	c.Assert(sup.Start(), jc.ErrorIsNil)

	c.Assert(sup.Stop(), jc.ErrorIsNil)
	c.Check(sup.Running(), jc.IsFalse)
	c.Check(s.stops(metrics.StopGraceful), gc.Equals, float64(1))
	c.Check(s.stops(metrics.StopForced), gc.Equals, float64(0))

	// A second stop has nothing to do.
	c.Assert(sup.Stop(), jc.ErrorIsNil)
	c.Check(s.stops(metrics.StopGraceful), gc.Equals, float64(1))

	// The supervisor can start a new tracer.
	c.Assert(sup.Start(), jc.ErrorIsNil)
	c.Assert(sup.Stop(), jc.ErrorIsNil)
	c.Check(s.stops(metrics.StopGraceful), gc.Equals, float64(2))
}

func (s *supervisorSuite) TestStopForced(c *gc.C) {
	ready := filepath.Join(c.MkDir(), "ready")
	path := s.writeScript(c, `
trap '' TERM
: > "$1"
exec /bin/sleep 30
`)
	sup := s.newSupervisor(c, path, ready)
	c.Assert(sup.Start(), jc.ErrorIsNil)
	waitForFile(c, ready)

	stopped := make(chan error, 1)
	go func() {
		stopped <- sup.Stop()
	}()

	select {
	case <-stopped:
		c.Fatalf("tracer stopped despite ignoring SIGTERM")
	case <-time.After(coretesting.ShortWait):
	}

	err := s.clock.WaitAdvance(terminateTimeout, coretesting.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)

	select {
	case err := <-stopped:
		c.Assert(err, jc.ErrorIsNil)
	case <-time.After(coretesting.LongWait):
		c.Fatalf("tracer not killed")
	}
	c.Check(sup.Running(), jc.IsFalse)
	c.Check(s.stops(metrics.StopForced), gc.Equals, float64(1))
	c.Check(s.stops(metrics.StopGraceful), gc.Equals, float64(0))
}

func (s *supervisorSuite) TestRunStopsOnCancel(c *gc.C) {
	ready := filepath.Join(c.MkDir(), "ready")
	path := s.writeScript(c, `
echo 0000400600000001
: > "$1"
exec /bin/sleep 30
`)
	sup := s.newSupervisor(c, path, ready)
	c.Assert(sup.Start(), jc.ErrorIsNil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got collector
	done := make(chan error, 1)
	go func() {
		done <- sup.Run(ctx, got.handle)
	}()
	waitForFile(c, ready)
	cancel()

	select {
	case err := <-done:
		c.Assert(err, jc.ErrorIsNil)
	case <-time.After(coretesting.LongWait):
		c.Fatalf("run did not return")
	}
	c.Check(got.all(), gc.HasLen, 1)
	c.Check(sup.Running(), jc.IsFalse)
	c.Check(s.stops(metrics.StopGraceful), gc.Equals, float64(1))
}

func (s *supervisorSuite) TestStopWhileRunning(c *gc.C) {
	path := s.writeScript(c, `
echo 0000400600000001
exec /bin/sleep 30
`)
	sup := s.newSupervisor(c, path)
	c.Assert(sup.Start(), jc.ErrorIsNil)

	handled := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- sup.Run(context.Background(), func(trace.Event) {
			handled <- struct{}{}
		})
	}()

	select {
	case <-handled:
	case <-time.After(coretesting.LongWait):
		c.Fatalf("event not handled")
	}
	c.Assert(sup.Stop(), jc.ErrorIsNil)

	select {
	case err := <-done:
		c.Assert(err, jc.ErrorIsNil)
	case <-time.After(coretesting.LongWait):
		c.Fatalf("run did not return")
	}
	c.Check(s.stops(metrics.StopGraceful), gc.Equals, float64(1))
	c.Check(s.stops(metrics.StopExited), gc.Equals, float64(0))
}
