package storeio

import "golang.org/x/sync/errgroup"

// Scheduler runs submitted work on a bounded pool of goroutines, per
// spec section 1's "thread scheduler with a bounded pool". No package in
// this module submits work to it; manifest materialization starts its
// own goroutine.
type Scheduler struct {
	sem chan struct{}
}

// NewScheduler returns a Scheduler that runs at most concurrency tasks at
// once. concurrency <= 0 is treated as 1.
func NewScheduler(concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{sem: make(chan struct{}, concurrency)}
}

// Go submits fn to run on the bounded pool, blocking the caller until a
// slot is free, then returning immediately; fn runs asynchronously.
func (s *Scheduler) Go(fn func()) {
	s.sem <- struct{}{}
	go func() {
		defer func() { <-s.sem }()
		fn()
	}()
}

// Group returns an errgroup.Group whose Go method is bounded by this
// scheduler's concurrency limit, for fan-out work that needs to be
// awaited (e.g. building a Segment's three blocks off the critical path).
func (s *Scheduler) Group() *BoundedGroup {
	return &BoundedGroup{sched: s}
}

// BoundedGroup composes errgroup.Group with the Scheduler's concurrency
// limit so callers get both error propagation and a pool bound.
type BoundedGroup struct {
	g     errgroup.Group
	sched *Scheduler
}

// Go runs fn on the bounded pool and collects its error into the group.
func (b *BoundedGroup) Go(fn func() error) {
	b.sched.sem <- struct{}{}
	b.g.Go(func() error {
		defer func() { <-b.sched.sem }()
		return fn()
	})
}

// Wait blocks until every submitted task completes, returning the first
// non-nil error if any.
func (b *BoundedGroup) Wait() error { return b.g.Wait() }
