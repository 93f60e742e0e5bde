package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "session.created", Data: map[string]string{"session": "20250614"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: session.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"session":"20250614"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishPipelineEvent_StatusThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger status.updated.
	b.PublishPipelineEvent("started", "20250614", "evidence")
	// Second event immediately should NOT trigger another status.updated.
	b.PublishPipelineEvent("completed", "20250614", "evidence")

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	statusCount := 0
	pipelineCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "status.updated") {
				statusCount++
			} else {
				pipelineCount++
			}
		default:
			break loop
		}
	}

	if pipelineCount != 2 {
		t.Errorf("pipeline events = %d, want 2", pipelineCount)
	}
	if statusCount != 1 {
		t.Errorf("status.updated events = %d, want 1", statusCount)
	}
}

func TestCloseIdempotent(t *testing.T) {
	b := NewBroker(time.Second)
	ch := b.Subscribe()
	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("client channel not closed on broker close")
	}
	if got := b.Subscribe(); got == nil {
		t.Fatal("Subscribe after close returned nil")
	}
	b.Publish(Event{Type: "noop"})
}

func TestServeHTTPStreams(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	srv := httptest.NewServer(b)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Wait for the server-side subscription before publishing.
	deadline := time.Now().Add(time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	b.PublishPipelineEvent("started", "20250614", "media")

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(buf[:n]), "pipeline.started") {
		t.Errorf("stream payload = %q", buf[:n])
	}
}
