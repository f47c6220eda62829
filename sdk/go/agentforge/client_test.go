package agentforge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestQuerySendsTokenAndDecodesResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/queries" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("missing bearer token, got %q", got)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("invalid request body: %v", err)
		}
		if req["query"] != "¿Quién soy?" {
			t.Errorf("unexpected query: %q", req["query"])
		}
		_ = json.NewEncoder(w).Encode(QueryResult{Tool: "get_current_user_info", Origin: "base"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithToken("secret"))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	result, err := client.Query(context.Background(), "¿Quién soy?")
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if result.Tool != "get_current_user_info" || result.Err {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestErrorResponsesBecomeAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "TASK_NOT_FOUND", "message": "任务不存在"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	_, err = client.GetTask(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "TASK_NOT_FOUND" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestWaitTaskPollsUntilTerminal(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "pending"
		if calls >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Task{ID: "t1", Status: status})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, err := client.WaitTask(ctx, "t1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitTask returned error: %v", err)
	}
	if task.Status != "succeeded" {
		t.Fatalf("unexpected status: %q", task.Status)
	}
	if calls < 3 {
		t.Fatalf("expected at least 3 polls, got %d", calls)
	}
}

func TestNewClientRejectsEmptyURL(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Fatal("empty base URL should be rejected")
	}
}

func TestListTasksBuildsLimitQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("expected limit=5, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"tasks": []Task{{ID: "a"}, {ID: "b"}}})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	tasks, err := client.ListTasks(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListTasks returned error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
}
