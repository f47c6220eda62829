package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "AgentForge/internal/errors"
)

func TestWebhookNotifier(t *testing.T) {
	var received Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{URL: server.URL}
	event := Event{
		Code:       xerrors.CodePersistenceFailure,
		Message:    "snapshot write failed",
		Severity:   xerrors.SeverityCritical,
		Component:  "registry",
		OccurredAt: time.Now(),
	}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if received.Code != xerrors.CodePersistenceFailure || received.Component != "registry" {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := &WebhookNotifier{URL: server.URL}
	if err := notifier.Notify(context.Background(), Event{}); err == nil {
		t.Fatal("expected error for 5xx response")
	}
}

func TestFromError(t *testing.T) {
	err := xerrors.New(xerrors.CodeQueueFailure, "queue down", xerrors.WithMetadata("driver", "redis"))
	event := FromError("task", err)
	if event.Code != xerrors.CodeQueueFailure || event.Component != "task" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata["driver"] != "redis" {
		t.Fatalf("metadata lost: %+v", event.Metadata)
	}
}

func TestFanoutCollectsErrors(t *testing.T) {
	ok := &LogNotifier{}
	failing := &WebhookNotifier{URL: "http://127.0.0.1:0/invalid"}

	dispatcher := NewFanout(ok, failing)
	if err := dispatcher.Notify(context.Background(), Event{}); err == nil {
		t.Fatal("expected aggregated error from failing channel")
	}
}
