package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maxshuai/casefile/internal/analysis"
	"github.com/maxshuai/casefile/internal/events"
	"github.com/maxshuai/casefile/internal/source"
	"github.com/maxshuai/casefile/internal/store"
)

type runKey struct {
	session  string
	pipeline Kind
}

type resultKey struct {
	session string
	result  ResultType
}

type run struct {
	status Status
	err    error
}

// Options tunes pipeline execution.
type Options struct {
	// BatchSize is the number of evidence records sent to the model per call.
	BatchSize int
	// Concurrency is the worker count for per-item analysis.
	Concurrency int
	// AwaitTimeout is the default wait budget in AwaitResult.
	AwaitTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.AwaitTimeout <= 0 {
		o.AwaitTimeout = 30 * time.Second
	}
}

// Orchestrator starts background pipelines and owns their lifecycle state and
// result cache. A result is "present" when its key exists in the cache; an
// empty record list is a present result, not a missing one.
type Orchestrator struct {
	store    *store.Store
	evidence source.EvidenceSource
	media    source.MediaSource
	analyzer analysis.Client
	broker   *events.Broker
	log      *slog.Logger
	opts     Options

	mu      sync.Mutex
	runs    map[runKey]*run
	results map[resultKey]any
	waiters map[resultKey]chan struct{}
}

// New creates an Orchestrator. broker may be nil when no event streaming is
// wired.
func New(st *store.Store, evidence source.EvidenceSource, media source.MediaSource, analyzer analysis.Client, broker *events.Broker, log *slog.Logger, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		store:    st,
		evidence: evidence,
		media:    media,
		analyzer: analyzer,
		broker:   broker,
		log:      log,
		opts:     opts,
		runs:     make(map[runKey]*run),
		results:  make(map[resultKey]any),
		waiters:  make(map[resultKey]chan struct{}),
	}
}

// StartEvidence launches the evidence pipeline for the session in the
// background. Starting a pipeline that is already running or has already
// finished is a no-op; restart requires Cleanup first.
func (o *Orchestrator) StartEvidence(ctx context.Context, sessionID string) bool {
	return o.start(ctx, sessionID, PipelineEvidence, o.runEvidence)
}

// StartMedia launches the media pipeline for the session in the background.
func (o *Orchestrator) StartMedia(ctx context.Context, sessionID string) bool {
	return o.start(ctx, sessionID, PipelineMedia, o.runMedia)
}

func (o *Orchestrator) start(ctx context.Context, sessionID string, kind Kind, fn func(context.Context, string) error) bool {
	key := runKey{session: sessionID, pipeline: kind}

	o.mu.Lock()
	if r, exists := o.runs[key]; exists {
		o.mu.Unlock()
		o.log.Info("pipeline start skipped", "session", sessionID, "pipeline", kind, "status", r.status)
		return false
	}
	o.runs[key] = &run{status: StatusRunning}
	o.mu.Unlock()

	o.log.Info("pipeline started", "session", sessionID, "pipeline", kind)
	if o.broker != nil {
		o.broker.PublishPipelineEvent("started", sessionID, string(kind))
	}

	// The pipeline must outlive the request that triggered it.
	bg := context.WithoutCancel(ctx)
	go func() {
		err := fn(bg, sessionID)
		o.finish(sessionID, kind, err)
	}()
	return true
}

func (o *Orchestrator) finish(sessionID string, kind Kind, err error) {
	o.mu.Lock()
	r := o.runs[runKey{session: sessionID, pipeline: kind}]
	if r == nil {
		// Cleanup raced the pipeline and dropped the run record; there is
		// nothing left to report against.
		o.mu.Unlock()
		o.log.Debug("pipeline finished after cleanup", "session", sessionID, "pipeline", kind, "error", err)
		return
	}
	if err != nil {
		r.status = StatusFailed
		r.err = err
		// Wake waiters on every result this pipeline owns; they re-check
		// state and fail fast instead of riding out their timeout.
		for rt, owner := range ownership {
			if owner != kind {
				continue
			}
			key := resultKey{session: sessionID, result: rt}
			if ch, ok := o.waiters[key]; ok {
				close(ch)
				delete(o.waiters, key)
			}
		}
	} else {
		r.status = StatusCompleted
	}
	o.mu.Unlock()

	if err != nil {
		o.log.Error("pipeline failed", "session", sessionID, "pipeline", kind, "error", err)
		if o.broker != nil {
			o.broker.PublishPipelineEvent("failed", sessionID, string(kind))
		}
		return
	}
	o.log.Info("pipeline completed", "session", sessionID, "pipeline", kind)
	if o.broker != nil {
		o.broker.PublishPipelineEvent("completed", sessionID, string(kind))
	}
}

// setResult caches a result, mirrors it to the session's artifact, and wakes
// any waiters. Results set before a later pipeline failure stay cached.
func (o *Orchestrator) setResult(sessionID string, rt ResultType, value any) error {
	if rel, ok := resultArtifacts[rt]; ok {
		if err := o.store.SaveFile(sessionID, rel, value); err != nil {
			return fmt.Errorf("pipeline: mirror %s: %w", rt, err)
		}
	}

	key := resultKey{session: sessionID, result: rt}
	o.mu.Lock()
	o.results[key] = value
	if ch, ok := o.waiters[key]; ok {
		close(ch)
		delete(o.waiters, key)
	}
	o.mu.Unlock()

	o.log.Debug("result cached", "session", sessionID, "result", rt)
	return nil
}

// GetResult returns the cached result. The boolean reports key presence, so
// an empty slice cached under the key still yields true.
func (o *Orchestrator) GetResult(sessionID string, rt ResultType) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.results[resultKey{session: sessionID, result: rt}]
	return v, ok
}

// IsRunningForResult reports whether the pipeline that owns the result type
// is currently running for the session.
func (o *Orchestrator) IsRunningForResult(sessionID string, rt ResultType) bool {
	owner, err := OwnerOf(rt)
	if err != nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.runs[runKey{session: sessionID, pipeline: owner}]
	return r != nil && r.status == StatusRunning
}

// Status returns the pipeline's lifecycle state for the session.
func (o *Orchestrator) Status(sessionID string, kind Kind) Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := o.runs[runKey{session: sessionID, pipeline: kind}]
	if r == nil {
		return StatusNone
	}
	return r.status
}

// PipelineStatus is one pipeline's entry in a session status report.
type PipelineStatus struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SessionStatus reports every pipeline and cached result for a session.
type SessionStatus struct {
	SessionID string                  `json:"sessionId"`
	Pipelines map[Kind]PipelineStatus `json:"pipelines"`
	Results   []ResultType            `json:"results"`
}

// FullStatus returns the status of every pipeline plus the list of cached
// result types for the session.
func (o *Orchestrator) FullStatus(sessionID string) SessionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := SessionStatus{
		SessionID: sessionID,
		Pipelines: make(map[Kind]PipelineStatus, len(Kinds)),
		Results:   []ResultType{},
	}
	for _, kind := range Kinds {
		ps := PipelineStatus{Status: StatusNone}
		if r := o.runs[runKey{session: sessionID, pipeline: kind}]; r != nil {
			ps.Status = r.status
			if r.err != nil {
				ps.Error = r.err.Error()
			}
		}
		st.Pipelines[kind] = ps
	}
	for _, rt := range ResultTypes {
		if _, ok := o.results[resultKey{session: sessionID, result: rt}]; ok {
			st.Results = append(st.Results, rt)
		}
	}
	return st
}

// AwaitResult blocks until the result is cached, the owning pipeline fails,
// the wait budget elapses, or ctx is cancelled. When the owning pipeline is
// not running and the result is absent it returns ErrResultUnavailable
// immediately. A timeout of zero uses the configured default.
func (o *Orchestrator) AwaitResult(ctx context.Context, sessionID string, rt ResultType, timeout time.Duration) (any, error) {
	owner, err := OwnerOf(rt)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = o.opts.AwaitTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	key := resultKey{session: sessionID, result: rt}
	for {
		o.mu.Lock()
		if v, ok := o.results[key]; ok {
			o.mu.Unlock()
			return v, nil
		}
		r := o.runs[runKey{session: sessionID, pipeline: owner}]
		if r == nil || r.status != StatusRunning {
			defer o.mu.Unlock()
			if r != nil && r.status == StatusFailed {
				return nil, fmt.Errorf("pipeline: %s pipeline failed for %s: %w", owner, sessionID, r.err)
			}
			return nil, fmt.Errorf("%w: %s for %s", ErrResultUnavailable, rt, sessionID)
		}
		ch, ok := o.waiters[key]
		if !ok {
			ch = make(chan struct{})
			o.waiters[key] = ch
		}
		o.mu.Unlock()

		select {
		case <-ch:
			// Re-check: either the result landed or the pipeline failed.
		case <-timer.C:
			return nil, fmt.Errorf("%w: %s for %s after %s", ErrAwaitTimeout, rt, sessionID, timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cleanup drops every run, cached result, and waiter the session owns.
// Pending waiters are woken and observe ErrResultUnavailable.
func (o *Orchestrator) Cleanup(sessionID string) {
	o.mu.Lock()
	for key := range o.runs {
		if key.session == sessionID {
			delete(o.runs, key)
		}
	}
	for key := range o.results {
		if key.session == sessionID {
			delete(o.results, key)
		}
	}
	for key, ch := range o.waiters {
		if key.session == sessionID {
			close(ch)
			delete(o.waiters, key)
		}
	}
	o.mu.Unlock()
	o.log.Debug("pipeline state cleaned", "session", sessionID)
}

// Hydrate reloads mirrored results from the session's artifacts into the
// cache, so results produced before a restart stay resolvable without
// re-running pipelines.
func (o *Orchestrator) Hydrate(sessionID string) error {
	for rt, rel := range resultArtifacts {
		raw, err := o.store.ReadFile(sessionID, rel)
		if err != nil {
			return fmt.Errorf("pipeline: hydrate %s: %w", rt, err)
		}
		if raw == nil {
			continue
		}
		key := resultKey{session: sessionID, result: rt}
		o.mu.Lock()
		if _, exists := o.results[key]; !exists {
			o.results[key] = json.RawMessage(raw)
		}
		o.mu.Unlock()
	}
	return nil
}
