package reclaim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/taskstore"
)

func newStore(t *testing.T) *taskstore.Store {
	t.Helper()
	store, err := taskstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedTask creates a task and forces its status and age
func seedTask(t *testing.T, store *taskstore.Store, name string, status domain.TaskStatus, age time.Duration) string {
	t.Helper()
	task, err := store.Create(context.Background(), taskstore.CreateTaskParams{
		DedupKey:         domain.DedupKey("user-1", name, "v1"),
		ActionID:         "action-" + name,
		UserID:           "user-1",
		Prompt:           name,
		SanitizedPrompt:  name,
		SystemPromptHash: "hash",
		WorkerType:       domain.WorkerTypeDefault,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := taskstore.ForceForTest(store, task.ID, status, time.Now().Add(-age)); err != nil {
		t.Fatal(err)
	}
	return task.ID
}

func TestReclaimer_Run(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	fresh := seedTask(t, store, "fresh", domain.StatusRunning, 29*time.Minute)
	stale := seedTask(t, store, "stale", domain.StatusRunning, 31*time.Minute)
	staleDispatched := seedTask(t, store, "dispatched", domain.StatusDispatched, time.Hour)
	done := seedTask(t, store, "done", domain.StatusCompleted, time.Hour)

	r := New(store, nil, 30*time.Minute, nil)
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if report.Detected != 2 {
		t.Errorf("Detected = %d, want 2", report.Detected)
	}
	if report.Interrupted != 2 {
		t.Errorf("Interrupted = %d, want 2", report.Interrupted)
	}
	if len(report.Errors) != 0 {
		t.Errorf("Errors = %v, want none", report.Errors)
	}

	assertStatus := func(id string, want domain.TaskStatus) {
		t.Helper()
		task, err := store.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if task.Status != want {
			t.Errorf("task %s status = %q, want %q", id, task.Status, want)
		}
	}

	assertStatus(fresh, domain.StatusRunning)
	assertStatus(stale, domain.StatusInterrupted)
	assertStatus(staleDispatched, domain.StatusInterrupted)
	assertStatus(done, domain.StatusCompleted)
}

func TestReclaimer_RunIsIdempotent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	seedTask(t, store, "stale", domain.StatusRunning, time.Hour)

	r := New(store, nil, 30*time.Minute, nil)
	if _, err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}

	// Second pass finds nothing: interrupted is terminal
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Detected != 0 {
		t.Errorf("second pass Detected = %d, want 0", report.Detected)
	}
}

func TestReclaimer_EmptyStore(t *testing.T) {
	r := New(newStore(t), nil, 0, nil)

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Detected != 0 || report.Interrupted != 0 || len(report.Errors) != 0 {
		t.Errorf("report = %+v, want zero", report)
	}
}

// failingStore wraps a real store but fails updates for chosen tasks
type failingStore struct {
	*taskstore.Store
	mu     sync.Mutex
	failID string
}

func (f *failingStore) Update(ctx context.Context, id string, patch taskstore.TaskPatch) (*domain.CodeTask, error) {
	f.mu.Lock()
	fail := id == f.failID
	f.mu.Unlock()
	if fail {
		return nil, errors.New("record locked")
	}
	return f.Store.Update(ctx, id, patch)
}

func TestReclaimer_PerTaskFailureDoesNotAbortBatch(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	bad := seedTask(t, store, "bad", domain.StatusRunning, time.Hour)
	good := seedTask(t, store, "good", domain.StatusRunning, time.Hour)

	r := New(&failingStore{Store: store, failID: bad}, nil, 30*time.Minute, nil)
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if report.Detected != 2 {
		t.Errorf("Detected = %d, want 2", report.Detected)
	}
	if report.Interrupted != 1 {
		t.Errorf("Interrupted = %d, want 1", report.Interrupted)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("Errors = %d, want 1", len(report.Errors))
	}

	task, _ := store.Get(ctx, good)
	if task.Status != domain.StatusInterrupted {
		t.Errorf("good task should still be reclaimed, status = %q", task.Status)
	}
}

func TestReclaimer_DefaultThreshold(t *testing.T) {
	r := New(newStore(t), nil, 0, nil)
	if r.threshold != DefaultThreshold {
		t.Errorf("threshold = %v, want %v", r.threshold, DefaultThreshold)
	}
}

func TestReclaimer_StartInvalidCron(t *testing.T) {
	r := New(newStore(t), nil, 0, nil)
	if err := r.Start(context.Background(), "not a cron"); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestReclaimer_StartStopsOnCancel(t *testing.T) {
	r := New(newStore(t), nil, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx, "* * * * *") }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Start returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not stop after cancel")
	}
}
