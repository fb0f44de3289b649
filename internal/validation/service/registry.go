package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	decision "complyd/internal/decision/models"
	"complyd/internal/validation/models"
	id "complyd/pkg/domain"
)

// runRecord is the live run. mu guards run; the pipeline goroutine is the
// only writer of State. gate is held across an audit write that records the
// current State and the State change that follows it, so no event lands after
// a terminal transition.
type runRecord struct {
	mu     sync.RWMutex
	gate   sync.Mutex
	run    models.Run
	cancel context.CancelCauseFunc
	done   chan struct{}

	cancelRequested atomic.Bool
}

func (r *runRecord) snapshot() models.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.run
	out.Verdicts = append([]decision.RuleVerdict(nil), r.run.Verdicts...)
	if r.run.Decision != nil {
		d := *r.run.Decision
		out.Decision = &d
	}
	return out
}

func (r *runRecord) state() models.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.run.State
}

// registry holds runs in memory.
type registry struct {
	mu   sync.RWMutex
	runs map[id.RunID]*runRecord
}

func newRegistry() *registry {
	return &registry{runs: make(map[id.RunID]*runRecord)}
}

func (g *registry) put(rec *runRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runs[rec.run.ID] = rec
}

func (g *registry) get(runID id.RunID) (*runRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.runs[runID]
	return rec, ok
}

// sweep removes terminal runs completed before cutoff and returns how many.
func (g *registry) sweep(cutoff time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for runID, rec := range g.runs {
		rec.mu.RLock()
		expired := rec.run.State.IsTerminal() && rec.run.CompletedAt.Before(cutoff)
		rec.mu.RUnlock()
		if expired {
			delete(g.runs, runID)
			removed++
		}
	}
	return removed
}

func (g *registry) len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.runs)
}
