package dispatch

import "sync"

// Runner chooses how deferred work is executed. Production wiring uses
// Background; tests inject Synchronous so side effects happen inline instead
// of flipping a process-wide eager mode.
type Runner interface {
	Go(fn func())
	Wait()
}

type Background struct {
	wg sync.WaitGroup
}

func NewBackground() *Background {
	return &Background{}
}

func (b *Background) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// Wait blocks until all dispatched work has returned.
func (b *Background) Wait() {
	b.wg.Wait()
}

type Synchronous struct{}

func NewSynchronous() *Synchronous {
	return &Synchronous{}
}

func (s *Synchronous) Go(fn func()) {
	fn()
}

func (s *Synchronous) Wait() {}
