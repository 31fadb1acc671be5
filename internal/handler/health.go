package handler

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"
)

const healthCheckBudget = 3 * time.Second

// HealthDeps bundles every dependency the health probe pings.
type HealthDeps struct {
	StartedAt   time.Time
	Environment string
	Vector      Pinger
	LLM         Pinger
	Sessions    Pinger
}

// Pinger is the common shape of every gateway's HealthCheck method.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

type serviceStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Health handles GET /health: pings every dependency concurrently within a
// fixed budget and reports 503 if any is unhealthy.
func Health(deps HealthDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckBudget)
		defer cancel()

		services := map[string]Pinger{
			"vector":  deps.Vector,
			"llm":     deps.LLM,
			"session": deps.Sessions,
		}

		statuses := make(map[string]serviceStatus, len(services))
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, svc := range services {
			if svc == nil {
				continue
			}
			name, svc := name, svc
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := svc.HealthCheck(ctx)
				status := serviceStatus{Healthy: err == nil}
				if err != nil {
					status.Error = err.Error()
				}
				mu.Lock()
				statuses[name] = status
				mu.Unlock()
			}()
		}
		wg.Wait()

		allHealthy := true
		for _, s := range statuses {
			if !s.Healthy {
				allHealthy = false
				break
			}
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		body := map[string]any{
			"status":      map[bool]string{true: "ok", false: "degraded"}[allHealthy],
			"services":    statuses,
			"uptime_s":    int(time.Since(deps.StartedAt).Seconds()),
			"memory_mb":   mem.Alloc / (1024 * 1024),
			"environment": deps.Environment,
		}

		status := http.StatusOK
		if !allHealthy {
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, body)
	}
}
