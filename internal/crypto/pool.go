package crypto

import (
	"context"
	"runtime"
)

// Pool bounds how many encrypt/decrypt/derive operations run at once so
// CPU-bound crypto does not starve unrelated requests.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a Pool with the given number of slots; size <= 0 defaults
// to GOMAXPROCS.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Do runs fn on the caller's goroutine once a slot is free, or returns the
// context error if the caller gives up first.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()
	return fn()
}
