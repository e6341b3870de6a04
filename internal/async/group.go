package async

import (
	"context"
	"sync"

	"foreman/internal/logging"
)

// Group tracks background goroutines so shutdown can wait for them instead of
// leaking detached work. Members are panic-recovered like Go.
type Group struct {
	logger logging.Logger
	wg     sync.WaitGroup
}

// NewGroup creates a tracked goroutine group.
func NewGroup(logger logging.Logger) *Group {
	return &Group{logger: logging.OrNop(logger)}
}

// Go launches fn as a tracked member of the group.
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer Recover(g.logger, name)
		fn()
	}()
}

// Wait blocks until every member has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}

// WaitContext blocks until every member has returned or ctx expires.
// It returns ctx.Err() when the deadline wins.
func (g *Group) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
