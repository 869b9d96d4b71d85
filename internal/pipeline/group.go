package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Group drives one pipeline per configured site and aggregates their
// readiness and status for the ops endpoints.
type Group struct {
	pipelines []*Pipeline
}

// NewGroup bundles the given site pipelines.
func NewGroup(pipelines ...*Pipeline) *Group {
	return &Group{pipelines: pipelines}
}

// Run starts every site pipeline and blocks until all have stopped.
// One-shot errors are collected per site; interval pipelines only stop
// on ctx cancellation, which is not an error.
func (g *Group) Run(ctx context.Context, interval time.Duration) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, p := range g.pipelines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(ctx, interval); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("site %s: %w", p.settings.Site, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return errors.Join(errs...)
}

// CheckReadiness reports ready only when every site pipeline has
// completed a successful run.
func (g *Group) CheckReadiness(ctx context.Context) error {
	var errs []error
	for _, p := range g.pipelines {
		if err := p.CheckReadiness(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports every site pipeline's most recent run, in the order
// the sites were configured.
func (g *Group) Status() []SiteStatus {
	out := make([]SiteStatus, 0, len(g.pipelines))
	for _, p := range g.pipelines {
		out = append(out, p.Status())
	}
	return out
}
