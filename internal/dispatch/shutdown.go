package dispatch

import (
	"context"
	"sync"
	"time"
)

// Shutdown is the broadcast cancellation shared by every connection
// reader. Trigger cancels the shared context once; tasks started with
// Go observe it and exit, and Wait blocks until they have.
type Shutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewShutdown(parent context.Context) *Shutdown {
	ctx, cancel := context.WithCancel(parent)
	return &Shutdown{ctx: ctx, cancel: cancel}
}

func (s *Shutdown) Context() context.Context {
	return s.ctx
}

// Go runs task in a new goroutine tracked by Wait.
func (s *Shutdown) Go(task func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task(s.ctx)
	}()
}

func (s *Shutdown) Trigger() {
	s.cancel()
}

func (s *Shutdown) Triggered() bool {
	return s.ctx.Err() != nil
}

// Wait blocks until every task has returned or timeout elapses, and
// reports whether all tasks finished. A zero timeout waits forever.
func (s *Shutdown) Wait(timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	if timeout <= 0 {
		<-finished
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-finished:
		return true
	case <-timer.C:
		return false
	}
}
