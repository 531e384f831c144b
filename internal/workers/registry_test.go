package workers

import (
	"testing"

	"github.com/intexuraos/code-dispatch/internal/domain"
)

func TestRegistry_SortedByPriority(t *testing.T) {
	r := NewRegistry([]domain.WorkerConfig{
		{Location: "c", BaseURL: "https://c.example.com", Priority: 3},
		{Location: "a", BaseURL: "https://a.example.com", Priority: 1},
		{Location: "b", BaseURL: "https://b.example.com", Priority: 2},
	})

	all := r.All()
	if len(all) != 3 {
		t.Fatalf("Count = %d, want 3", len(all))
	}
	for i, want := range []domain.WorkerLocation{"a", "b", "c"} {
		if all[i].Location != want {
			t.Errorf("all[%d].Location = %q, want %q", i, all[i].Location, want)
		}
	}
}

func TestRegistry_ByLocation(t *testing.T) {
	r := NewRegistry([]domain.WorkerConfig{
		{Location: "us", BaseURL: "https://us.example.com", Priority: 1},
	})

	w, ok := r.ByLocation("us")
	if !ok {
		t.Fatal("us should be known")
	}
	if w.BaseURL != "https://us.example.com" {
		t.Errorf("BaseURL = %q", w.BaseURL)
	}

	if _, ok := r.ByLocation("mars"); ok {
		t.Error("unknown location should not resolve")
	}
}

func TestHealthCache_Independent(t *testing.T) {
	a := NewHealthCache(0)
	b := NewHealthCache(0)

	a.Put("us", domain.WorkerHealth{Healthy: true, Capacity: 3})

	if _, ok := b.Get("us"); ok {
		t.Error("caches must not share state")
	}
	if h, ok := a.Get("us"); !ok || h.Capacity != 3 {
		t.Errorf("a.Get = %+v, %v", h, ok)
	}
}

func TestHealthCache_Invalidate(t *testing.T) {
	c := NewHealthCache(0)
	c.Put("us", domain.WorkerHealth{Healthy: true, Capacity: 1})
	c.Invalidate("us")

	if _, ok := c.Get("us"); ok {
		t.Error("invalidated entry should be gone")
	}
}
