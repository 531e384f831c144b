package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/intexuraos/code-dispatch/internal/domain"
	"github.com/intexuraos/code-dispatch/internal/observability"
)

// ProbeTimeout bounds a single health probe
const ProbeTimeout = 10 * time.Second

// StatusReady is the health response status of a worker accepting tasks
const StatusReady = "ready"

// healthResponse is the wire format of GET {workerBaseUrl}/health
type healthResponse struct {
	Status   string `json:"status"`
	Capacity int    `json:"capacity"`
}

// Discovery probes worker health endpoints and selects dispatch targets.
// Probe results are served from the cache while fresh so bursts of dispatch
// attempts do not hammer the execution backends.
type Discovery struct {
	registry *Registry
	cache    *HealthCache
	client   *http.Client
	logger   *slog.Logger

	// probeTimeout bounds each probe via the request context; tests shrink it
	probeTimeout time.Duration
}

// NewDiscovery creates a discovery service over the given registry and cache
func NewDiscovery(registry *Registry, cache *HealthCache, logger *slog.Logger) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		registry:     registry,
		cache:        cache,
		client:       &http.Client{Timeout: ProbeTimeout},
		logger:       logger,
		probeTimeout: ProbeTimeout,
	}
}

// CheckHealth returns the health of one worker, probing its health endpoint
// on cache miss. A worker is healthy iff it reports status "ready" with
// capacity > 0; capacity is clamped into [0, MaxCapacity] first.
func (d *Discovery) CheckHealth(ctx context.Context, loc domain.WorkerLocation) (domain.WorkerHealth, error) {
	worker, ok := d.registry.ByLocation(loc)
	if !ok {
		return domain.WorkerHealth{}, domain.NewError(domain.ErrNotFound, "unknown worker location %q", loc)
	}

	if health, ok := d.cache.Get(loc); ok {
		observability.HealthProbes.WithLabelValues(string(loc), "cache_hit").Inc()
		return health, nil
	}

	health, err := d.probe(ctx, worker)
	if err != nil {
		return domain.WorkerHealth{}, err
	}

	d.cache.Put(loc, health)
	return health, nil
}

func (d *Discovery) probe(ctx context.Context, worker domain.WorkerConfig) (domain.WorkerHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, worker.BaseURL+"/health", nil)
	if err != nil {
		return domain.WorkerHealth{}, domain.NewError(domain.ErrNetwork, "building probe request: %v", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		observability.HealthProbes.WithLabelValues(string(worker.Location), "error").Inc()
		// Caller-driven cancellation is not a worker failure; propagate it
		if errors.Is(ctx.Err(), context.Canceled) {
			return domain.WorkerHealth{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.WorkerHealth{}, domain.NewError(domain.ErrHealthCheckFailed,
				"health probe to %s timed out after %s", worker.Location, d.probeTimeout)
		}
		return domain.WorkerHealth{}, domain.NewError(domain.ErrNetwork,
			"health probe to %s: %v", worker.Location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.HealthProbes.WithLabelValues(string(worker.Location), "unhealthy").Inc()
		return domain.WorkerHealth{}, domain.NewError(domain.ErrHealthCheckFailed,
			"health probe to %s returned %d", worker.Location, resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		observability.HealthProbes.WithLabelValues(string(worker.Location), "error").Inc()
		return domain.WorkerHealth{}, domain.NewError(domain.ErrHealthCheckFailed,
			"health probe to %s: invalid body: %v", worker.Location, err)
	}

	capacity := domain.ClampCapacity(body.Capacity)
	health := domain.WorkerHealth{
		Healthy:   body.Status == StatusReady && capacity > 0,
		Capacity:  capacity,
		CheckedAt: time.Now(),
	}

	observability.HealthProbes.WithLabelValues(string(worker.Location), probeOutcome(health)).Inc()
	return health, nil
}

func probeOutcome(h domain.WorkerHealth) string {
	if h.Healthy {
		return "healthy"
	}
	return "unhealthy"
}

// FindAvailableWorker returns the first healthy worker in ascending priority
// order. Probe failures only disqualify that worker for this round; if no
// worker qualifies the caller gets worker_unavailable.
func (d *Discovery) FindAvailableWorker(ctx context.Context) (domain.WorkerConfig, error) {
	for _, worker := range d.registry.All() {
		health, err := d.CheckHealth(ctx, worker.Location)
		if err != nil {
			d.logger.Warn("worker health check failed",
				slog.String("location", string(worker.Location)),
				slog.String("error", err.Error()))
			continue
		}
		if health.Healthy {
			return worker, nil
		}
		d.logger.Debug("worker not available",
			slog.String("location", string(worker.Location)),
			slog.Int("capacity", health.Capacity))
	}

	return domain.WorkerConfig{}, domain.NewError(domain.ErrWorkerUnavailable,
		"no worker available across %d configured locations", d.registry.Count())
}

// String implements fmt.Stringer for log output
func (d *Discovery) String() string {
	return fmt.Sprintf("discovery(%d workers)", d.registry.Count())
}
