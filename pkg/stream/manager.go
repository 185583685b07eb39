package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/chainstream/internal/logger"
	"github.com/marmos91/chainstream/pkg/graph"
	"github.com/marmos91/chainstream/pkg/jobs"
	"github.com/marmos91/chainstream/pkg/jobs/store"
	"github.com/marmos91/chainstream/pkg/metrics"
)

// ErrJobNotFound indicates the requested job is neither running nor in the
// job store.
var ErrJobNotFound = errors.New("stream: job not found")

// ErrJobNotRunning indicates a lifecycle operation was applied to a job that
// already finished.
var ErrJobNotRunning = errors.New("stream: job is not running")

// Manager starts streaming jobs, tracks the running ones and persists their
// records to the job store. The store may be nil, in which case finished
// jobs are forgotten.
type Manager struct {
	store   *store.Store
	metrics *metrics.StreamMetrics

	mu      sync.Mutex
	running map[string]*managed
	wg      sync.WaitGroup
}

type managed struct {
	job     *Job
	created time.Time
}

// NewManager creates a Manager. Both the store and the metrics may be nil.
func NewManager(st *store.Store, m *metrics.StreamMetrics) *Manager {
	return &Manager{
		store:   st,
		metrics: m,
		running: make(map[string]*managed),
	}
}

// Start creates a job from opts and runs it in the background. The returned
// job can be inspected and cancelled while the manager drives it.
func (m *Manager) Start(ctx context.Context, g *graph.Graph, target graph.NodeID, opts Options) (*Job, error) {
	if opts.Metrics == nil {
		opts.Metrics = m.metrics
	}

	job, err := New(g, target, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if _, dup := m.running[job.ID()]; dup {
		m.mu.Unlock()
		job.clean()
		return nil, fmt.Errorf("stream: job %q already running", job.ID())
	}
	entry := &managed{job: job, created: time.Now().UTC()}
	m.running[job.ID()] = entry
	m.mu.Unlock()

	m.persist(ctx, m.snapshot(entry))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		err := job.Run(ctx)

		m.mu.Lock()
		delete(m.running, job.ID())
		m.mu.Unlock()

		rec := m.snapshot(entry)
		switch {
		case job.Cancelled():
			// A job cancelled while stop-mode-paused must not carry the
			// pause reason as a terminal error.
			rec.State = jobs.StateCancelled
			rec.Error = ""
		case err != nil:
			rec.State = jobs.StateFailed
			rec.Error = err.Error()
		default:
			rec.State = jobs.StateCompleted
		}
		m.persist(context.Background(), rec)
	}()

	return job, nil
}

// snapshot builds the current record for a managed job.
func (m *Manager) snapshot(e *managed) *jobs.Record {
	offset, total := e.job.Progress()
	state := jobs.StateRunning
	paused, perr := e.job.Paused()
	if paused {
		state = jobs.StatePaused
	}

	rec := &jobs.Record{
		ID:          e.job.ID(),
		Kind:        "stream",
		State:       state,
		Target:      e.job.TargetName(),
		Offset:      offset,
		Length:      total,
		BytesCopied: e.job.BytesCopied(),
		CreatedAt:   e.created,
		UpdatedAt:   time.Now().UTC(),
	}
	if perr != nil {
		rec.Error = perr.Error()
	}
	return rec
}

func (m *Manager) persist(ctx context.Context, rec *jobs.Record) {
	if m.store == nil {
		return
	}
	if err := m.store.Put(ctx, rec); err != nil {
		logger.Warn("failed to persist job record",
			logger.KeyJob, rec.ID, logger.KeyError, err)
	}
}

// Get returns the record for a job: live state for a running job, the
// persisted record otherwise.
func (m *Manager) Get(ctx context.Context, id string) (*jobs.Record, error) {
	m.mu.Lock()
	e, ok := m.running[id]
	m.mu.Unlock()
	if ok {
		return m.snapshot(e), nil
	}

	if m.store != nil {
		rec, err := m.store.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return rec, err
	}
	return nil, ErrJobNotFound
}

// List returns records for all known jobs. Running jobs shadow their
// persisted records with live state.
func (m *Manager) List(ctx context.Context) ([]*jobs.Record, error) {
	live := make(map[string]*jobs.Record)
	m.mu.Lock()
	for id, e := range m.running {
		live[id] = m.snapshot(e)
	}
	m.mu.Unlock()

	var out []*jobs.Record
	if m.store != nil {
		stored, err := m.store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range stored {
			if l, ok := live[rec.ID]; ok {
				out = append(out, l)
				delete(live, rec.ID)
				continue
			}
			out = append(out, rec)
		}
	}
	for _, rec := range live {
		out = append(out, rec)
	}
	return out, nil
}

// Cancel requests cancellation of a running job.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	e, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return ErrJobNotRunning
	}
	e.job.Cancel()
	return nil
}

// Resume lifts a stop-mode pause on a running job.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	e, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return ErrJobNotRunning
	}
	e.job.Resume()
	return nil
}

// Wait blocks until every job started by the manager has finished. Used
// during shutdown, after cancelling the jobs.
func (m *Manager) Wait() {
	m.wg.Wait()
}
