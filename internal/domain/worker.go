package domain

import "time"

// WorkerConfig describes a known execution backend. Loaded once at startup
// and treated as immutable afterwards.
type WorkerConfig struct {
	Location WorkerLocation
	BaseURL  string
	Priority int // lower = preferred
}

// WorkerHealth is the last observed health reading for one location.
// Ephemeral; owned by the health cache and never persisted.
type WorkerHealth struct {
	Healthy   bool
	Capacity  int // clamped to [0, MaxCapacity]
	CheckedAt time.Time
}

// MaxCapacity bounds the capacity a worker may report
const MaxCapacity = 5

// ClampCapacity forces a reported capacity into [0, MaxCapacity]
func ClampCapacity(c int) int {
	if c < 0 {
		return 0
	}
	if c > MaxCapacity {
		return MaxCapacity
	}
	return c
}
