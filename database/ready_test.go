// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	coretesting "github.com/pgbufview/pgbufview/testing"
)

type readySuite struct {
	testing.IsolationSuite

	clock *testclock.Clock
}

var _ = gc.Suite(&readySuite{})

func (s *readySuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Time{})
}

func (s *readySuite) config(pinger Pinger, attempts int) ReadyConfig {
	return ReadyConfig{
		Pinger:   pinger,
		Clock:    s.clock,
		Logger:   coretesting.NoopLogger{},
		Attempts: attempts,
		Delay:    time.Second,
		MaxDelay: 4 * time.Second,
	}
}

func (s *readySuite) TestValidate(c *gc.C) {
	config := s.config(&fakePinger{}, 1)
	config.Pinger = nil
	c.Check(config.Validate(), gc.ErrorMatches, "nil Pinger not valid")

	config = s.config(&fakePinger{}, 1)
	config.Delay = 0
	c.Check(config.Validate(), gc.ErrorMatches, "non-positive Delay not valid")
}

func (s *readySuite) TestReadyFirstTime(c *gc.C) {
	pinger := &fakePinger{}
	err := WaitReady(context.Background(), s.config(pinger, 3))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pinger.calls(), gc.Equals, 1)
}

func (s *readySuite) TestReadyAfterRetries(c *gc.C) {
	pinger := &fakePinger{failures: 2}

	result := make(chan error, 1)
	go func() {
		result <- WaitReady(context.Background(), s.config(pinger, 5))
	}()

	c.Assert(s.clock.WaitAdvance(4*time.Second, coretesting.LongWait, 1), jc.ErrorIsNil)
	c.Assert(s.clock.WaitAdvance(4*time.Second, coretesting.LongWait, 1), jc.ErrorIsNil)

	select {
	case err := <-result:
		c.Assert(err, jc.ErrorIsNil)
	case <-time.After(coretesting.LongWait):
		c.Fatal("timed out waiting for database readiness")
	}
	c.Check(pinger.calls(), gc.Equals, 3)
}

func (s *readySuite) TestAttemptsExceeded(c *gc.C) {
	pinger := &fakePinger{failures: 10}

	result := make(chan error, 1)
	go func() {
		result <- WaitReady(context.Background(), s.config(pinger, 2))
	}()
	c.Assert(s.clock.WaitAdvance(4*time.Second, coretesting.LongWait, 1), jc.ErrorIsNil)

	select {
	case err := <-result:
		c.Assert(err, gc.ErrorMatches, "database not ready: connection refused")
	case <-time.After(coretesting.LongWait):
		c.Fatal("timed out waiting for database readiness")
	}
}

func (s *readySuite) TestContextCancelled(c *gc.C) {
	pinger := &fakePinger{failures: 10}
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		result <- WaitReady(ctx, s.config(pinger, 0))
	}()
	c.Assert(s.clock.WaitAdvance(0, coretesting.LongWait, 1), jc.ErrorIsNil)
	cancel()

	select {
	case err := <-result:
		c.Assert(err, gc.ErrorMatches, "waiting for database: context canceled")
	case <-time.After(coretesting.LongWait):
		c.Fatal("timed out waiting for database readiness")
	}
}

type fakePinger struct {
	mu       sync.Mutex
	failures int
	count    int
}

func (p *fakePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	if p.count <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func (p *fakePinger) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
