// Package batch provides fixed-size chunking and bounded-concurrency
// processing with positional results.
package batch

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Outcome is the settled result of processing one input item. Exactly one of
// Value or Err is meaningful; a failed item never affects its siblings.
type Outcome[R any] struct {
	Value R
	Err   error
}

// Split chunks items into contiguous slices of at most size elements. The
// final chunk may be shorter; zero items yields zero chunks. Chunks alias the
// input slice, they are not copies.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

// Process runs fn over every item with at most workers invocations in flight
// at once. The returned slice is positionally aligned with items regardless
// of completion order. Process itself never fails: per-item errors are
// captured in the corresponding Outcome.
//
// Workers pull from a shared cursor rather than being scheduled per item,
// which keeps outstanding calls to rate-sensitive services capped without
// per-item goroutine overhead. Once ctx is cancelled, unstarted items settle
// with ctx.Err().
func Process[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) (R, error)) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return out
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	var cursor atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1)) - 1
				if i >= len(items) {
					return nil
				}
				if err := ctx.Err(); err != nil {
					out[i] = Outcome[R]{Err: err}
					continue
				}
				v, err := fn(ctx, items[i])
				out[i] = Outcome[R]{Value: v, Err: err}
			}
		})
	}
	_ = g.Wait() // workers only return nil
	return out
}
