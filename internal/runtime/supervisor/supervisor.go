// Package supervisor runs named goroutines tied to a shared context, with
// panic recovery, optional restart-with-backoff, and a failure hook for
// operator notification.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"xrelay/pkg/logx"
)

// FailureHook observes goroutine errors and recovered panics. It must not
// block for long and must never panic.
type FailureHook func(name string, err error, stack string)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log  logx.Logger
	hook FailureHook

	wg sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func WithFailureHook(hook FailureHook) Option {
	return func(s *Supervisor) { s.hook = hook }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

// Go runs fn once. Errors and panics are logged and reported to the failure
// hook; they do not cancel sibling goroutines.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOnce(name, fn)
	}()
}

// GoRestart keeps fn running until the supervisor context is cancelled,
// restarting it after failures or unexpected clean exits. Backoff doubles on
// consecutive quick failures and resets after a run that survived a while.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, minBackoff, maxBackoff time.Duration) {
	if minBackoff <= 0 {
		minBackoff = 500 * time.Millisecond
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := minBackoff
		for {
			started := time.Now()
			s.runOnce(name, fn)

			if s.ctx.Err() != nil {
				return
			}
			if time.Since(started) > time.Minute {
				backoff = minBackoff
			}
			s.log.Warn("goroutine exited, restarting",
				logx.String("name", name), logx.Duration("backoff", backoff))

			t := time.NewTimer(backoff)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}()
}

func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err := fmt.Errorf("panic: %v", r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r))
			s.notify(name, err, stack)
		}
	}()
	if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
		s.log.Error("goroutine failed", logx.String("name", name), logx.Err(err))
		s.notify(name, err, "")
	}
}

func (s *Supervisor) notify(name string, err error, stack string) {
	hook := s.hook
	if hook == nil {
		return
	}
	defer func() { _ = recover() }()
	hook(name, err, stack)
}

// Wait blocks until all goroutines exit or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
