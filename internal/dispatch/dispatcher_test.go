package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/workers"
)

// fakeWorker serves both the health and intake endpoints of one backend
type fakeWorker struct {
	server   *httptest.Server
	healthy  bool
	rejected bool
	intake   []Request
}

func newFakeWorker(t *testing.T, healthy bool) *fakeWorker {
	t.Helper()
	fw := &fakeWorker{healthy: healthy}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "shutting_down"
		capacity := 0
		if fw.healthy {
			status = "ready"
			capacity = 2
		}
		fmt.Fprintf(w, `{"status": %q, "capacity": %d}`, status, capacity)
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		if fw.rejected {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad intake body: %v", err)
		}
		fw.intake = append(fw.intake, req)
		fmt.Fprintf(w, `{"resourceUrl": "https://console.example.com/tasks/%s"}`, req.TaskID)
	})
	fw.server = httptest.NewServer(mux)
	t.Cleanup(fw.server.Close)
	return fw
}

func newTestDispatcher(configs ...domain.WorkerConfig) *WorkerDispatcher {
	discovery := workers.NewDiscovery(workers.NewRegistry(configs), workers.NewHealthCache(0), nil)
	return NewWorkerDispatcher(discovery, nil)
}

func sampleRequest() Request {
	return Request{
		TaskID:           "task-1",
		Prompt:           "fix bug",
		SystemPromptHash: "hash",
		WorkerType:       domain.WorkerTypeDefault,
		WebhookURL:       "https://dispatch.example.com/webhooks/tasks/task-1",
		WebhookSecret:    "whsec_deadbeef",
	}
}

func TestWorkerDispatcher_Dispatch(t *testing.T) {
	fw := newFakeWorker(t, true)
	d := newTestDispatcher(domain.WorkerConfig{Location: "us", BaseURL: fw.server.URL, Priority: 1})

	result, err := d.Dispatch(context.Background(), sampleRequest())
	if err != nil {
		t.Fatal(err)
	}

	if result.Location != "us" {
		t.Errorf("Location = %q, want us", result.Location)
	}
	if result.ResourceURL != "https://console.example.com/tasks/task-1" {
		t.Errorf("ResourceURL = %q", result.ResourceURL)
	}
	if len(fw.intake) != 1 {
		t.Fatalf("intake calls = %d, want 1", len(fw.intake))
	}
	if fw.intake[0].WebhookSecret != "whsec_deadbeef" {
		t.Errorf("WebhookSecret = %q", fw.intake[0].WebhookSecret)
	}
}

func TestWorkerDispatcher_PrefersHealthyHigherPriority(t *testing.T) {
	down := newFakeWorker(t, false)
	up := newFakeWorker(t, true)

	d := newTestDispatcher(
		domain.WorkerConfig{Location: "primary", BaseURL: down.server.URL, Priority: 1},
		domain.WorkerConfig{Location: "secondary", BaseURL: up.server.URL, Priority: 2},
	)

	result, err := d.Dispatch(context.Background(), sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if result.Location != "secondary" {
		t.Errorf("Location = %q, want secondary", result.Location)
	}
	if len(down.intake) != 0 {
		t.Error("unhealthy worker must not receive the task")
	}
}

func TestWorkerDispatcher_NoWorkerAvailable(t *testing.T) {
	down := newFakeWorker(t, false)
	d := newTestDispatcher(domain.WorkerConfig{Location: "us", BaseURL: down.server.URL, Priority: 1})

	_, err := d.Dispatch(context.Background(), sampleRequest())
	var derr *domain.Error
	if !errors.As(err, &derr) || derr.Code != domain.ErrWorkerUnavailable {
		t.Errorf("expected worker_unavailable, got %v", err)
	}
}

func TestWorkerDispatcher_IntakeRejection(t *testing.T) {
	fw := newFakeWorker(t, true)
	fw.rejected = true
	d := newTestDispatcher(domain.WorkerConfig{Location: "us", BaseURL: fw.server.URL, Priority: 1})

	_, err := d.Dispatch(context.Background(), sampleRequest())
	var derr *domain.Error
	if !errors.As(err, &derr) || derr.Code != domain.ErrWorkerUnavailable {
		t.Errorf("expected worker_unavailable for intake rejection, got %v", err)
	}
}
