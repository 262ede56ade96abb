package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhookNotifier(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %s", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Token") != "secret" {
			t.Errorf("missing auth header")
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, map[string]string{"X-Token": "secret"}, time.Second)
	ev := Event{Kind: KindApprovalRequested, AlertID: "alert-1", Summary: "approval needed", At: time.Now().UTC()}

	if err := n.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if received.Kind != KindApprovalRequested || received.AlertID != "alert-1" {
		t.Fatalf("received = %+v", received)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, nil, time.Second)
	if err := n.Notify(context.Background(), Event{Kind: KindKillSwitch}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return context.DeadlineExceeded
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	a := &failingNotifier{}
	b := &failingNotifier{}

	f := NewFanout(nil, a, b)
	if err := f.Notify(context.Background(), Event{Kind: KindExecutionFailed}); err != nil {
		t.Fatalf("Fanout.Notify: %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", a.calls, b.calls)
	}
}
