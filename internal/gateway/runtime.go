package gateway

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	httpapi "github.com/nextlevelbuilder/threadrun/internal/http"
	"github.com/nextlevelbuilder/threadrun/internal/observability"
	"github.com/nextlevelbuilder/threadrun/internal/retriever"
	"github.com/nextlevelbuilder/threadrun/internal/store/pg"
	"github.com/nextlevelbuilder/threadrun/internal/threads"
)

// Runtime is the process-wide state built once at start and shared by all requests.
type Runtime struct {
	DB        *sql.DB
	Tracker   *Tracker
	Deps      threads.Deps
	Retriever retriever.Config
}

// Bind checks out one connection for a request and builds the thread service on it.
func (rt *Runtime) Bind(ctx context.Context) (httpapi.ThreadService, func(), error) {
	st, release, err := pg.Acquire(ctx, rt.DB)
	if err != nil {
		return nil, nil, err
	}
	ret := retriever.New(st, rt.Deps.Factory, rt.Retriever)
	return threads.NewManager(st, ret, rt.Deps), release, nil
}

// Tracker counts in-flight requests so shutdown can wait for them.
type Tracker struct {
	wg      sync.WaitGroup
	n       atomic.Int64
	metrics *observability.Metrics
}

func NewTracker(metrics *observability.Metrics) *Tracker {
	return &Tracker{metrics: metrics}
}

// Begin marks a request in flight. The returned func marks it done and is
// safe to call more than once.
func (t *Tracker) Begin() func() {
	t.wg.Add(1)
	t.n.Add(1)
	t.metrics.RequestStarted()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.metrics.RequestFinished()
			t.n.Add(-1)
			t.wg.Done()
		})
	}
}

func (t *Tracker) InFlight() int64 { return t.n.Load() }

// Wait blocks until no request is in flight or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
