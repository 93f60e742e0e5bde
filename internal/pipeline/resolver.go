package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maxshuai/casefile/internal/store"
)

// Resolver answers "give me this result now" for consumers that do not care
// how the result arrives. Resolution order:
//
//  1. the session artifact, which holds human-edited copies and mirrored
//     pipeline output;
//  2. the orchestrator's in-memory cache;
//  3. a bounded wait, but only while the owning pipeline is running;
//  4. ErrResultUnavailable.
type Resolver struct {
	store   *store.Store
	orch    *Orchestrator
	timeout time.Duration

	// Bypass makes every Resolve report the result as unavailable, forcing
	// callers onto their synchronous compute paths.
	Bypass bool
}

func NewResolver(st *store.Store, orch *Orchestrator, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = orch.opts.AwaitTimeout
	}
	return &Resolver{store: st, orch: orch, timeout: timeout}
}

// Resolve returns the result as raw JSON.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, rt ResultType) (json.RawMessage, error) {
	if r.Bypass {
		return nil, fmt.Errorf("%w: %s for %s", ErrResultUnavailable, rt, sessionID)
	}

	if rel, ok := resultArtifacts[rt]; ok {
		raw, err := r.store.ReadFile(sessionID, rel)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			return json.RawMessage(raw), nil
		}
	}

	if v, ok := r.orch.GetResult(sessionID, rt); ok {
		return marshalResult(rt, v)
	}

	if r.orch.IsRunningForResult(sessionID, rt) {
		v, err := r.orch.AwaitResult(ctx, sessionID, rt, r.timeout)
		if err != nil {
			return nil, err
		}
		return marshalResult(rt, v)
	}

	return nil, fmt.Errorf("%w: %s for %s", ErrResultUnavailable, rt, sessionID)
}

func marshalResult(rt ResultType, v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode %s: %w", rt, err)
	}
	return json.RawMessage(raw), nil
}
