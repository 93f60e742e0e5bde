package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSplitSizes(t *testing.T) {
	cases := []struct {
		n, size int
		want    []int // chunk lengths
	}{
		{0, 5, nil},
		{1, 5, []int{1}},
		{5, 5, []int{5}},
		{6, 5, []int{5, 1}},
		{12, 4, []int{4, 4, 4}},
		{13, 4, []int{4, 4, 4, 1}},
	}
	for _, tc := range cases {
		items := make([]int, tc.n)
		for i := range items {
			items[i] = i
		}
		chunks := Split(items, tc.size)
		if len(chunks) != len(tc.want) {
			t.Errorf("Split(%d, %d): %d chunks, want %d", tc.n, tc.size, len(chunks), len(tc.want))
			continue
		}
		// Concatenation must reproduce the input in order.
		var flat []int
		for i, c := range chunks {
			if len(c) != tc.want[i] {
				t.Errorf("Split(%d, %d): chunk %d len %d, want %d", tc.n, tc.size, i, len(c), tc.want[i])
			}
			flat = append(flat, c...)
		}
		for i, v := range flat {
			if v != i {
				t.Fatalf("Split(%d, %d): order broken at %d", tc.n, tc.size, i)
			}
		}
	}
}

func TestSplitInvalidSize(t *testing.T) {
	if got := Split([]int{1, 2, 3}, 0); got != nil {
		t.Errorf("Split size 0 = %v, want nil", got)
	}
}

func TestProcessPositionalResults(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	out := Process(context.Background(), items, 8, func(_ context.Context, v int) (string, error) {
		// Stagger completion so ordering cannot come from completion order.
		time.Sleep(time.Duration(v%5) * time.Millisecond)
		return fmt.Sprintf("r%d", v), nil
	})
	if len(out) != len(items) {
		t.Fatalf("len = %d, want %d", len(out), len(items))
	}
	for i, o := range out {
		if o.Err != nil {
			t.Fatalf("item %d: unexpected error %v", i, o.Err)
		}
		if o.Value != fmt.Sprintf("r%d", i) {
			t.Errorf("out[%d] = %q", i, o.Value)
		}
	}
}

func TestProcessBoundsConcurrency(t *testing.T) {
	const workers = 3
	var inFlight, peak atomic.Int64
	var mu sync.Mutex

	items := make([]int, 40)
	Process(context.Background(), items, workers, func(context.Context, int) (struct{}, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})

	if p := peak.Load(); p > workers {
		t.Errorf("peak concurrency %d exceeds limit %d", p, workers)
	}
}

func TestProcessIsolatesFailures(t *testing.T) {
	errBoom := errors.New("boom")
	items := []int{0, 1, 2, 3, 4}
	out := Process(context.Background(), items, 2, func(_ context.Context, v int) (int, error) {
		if v%2 == 1 {
			return 0, errBoom
		}
		return v * 10, nil
	})
	for i, o := range out {
		if i%2 == 1 {
			if !errors.Is(o.Err, errBoom) {
				t.Errorf("item %d: err = %v, want boom", i, o.Err)
			}
		} else if o.Err != nil || o.Value != i*10 {
			t.Errorf("item %d: (%d, %v)", i, o.Value, o.Err)
		}
	}
}

func TestProcessEmptyInput(t *testing.T) {
	called := false
	out := Process(context.Background(), nil, 4, func(context.Context, int) (int, error) {
		called = true
		return 0, nil
	})
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
	if called {
		t.Error("fn called for empty input")
	}
}

func TestProcessCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items := []int{1, 2, 3}
	out := Process(ctx, items, 2, func(context.Context, int) (int, error) {
		return 0, nil
	})
	for i, o := range out {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("item %d: err = %v, want context.Canceled", i, o.Err)
		}
	}
}
