package http

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"voicegate-server/pkg/version"
)

// HealthStatus represents the health of the gateway
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]CheckResult `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// CheckResult represents an individual health check result
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemInfo contains process resource information
type SystemInfo struct {
	GoRoutines  int    `json:"goroutines"`
	MemoryMB    uint64 `json:"memory_mb"`
	CPUCount    int    `json:"cpu_count"`
	ActiveCalls int    `json:"active_calls"`
}

// HealthHandler handles health check requests
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Version:   version.Version,
		Checks:    make(map[string]CheckResult),
	}

	if s.registry != nil {
		health.Checks["sessions"] = CheckResult{
			Status:  "healthy",
			Message: "session registry is available",
		}
	} else {
		health.Checks["sessions"] = CheckResult{
			Status:  "unhealthy",
			Message: "session registry not initialized",
		}
		health.Status = "unhealthy"
	}

	if s.hub != nil && s.hub.IsRunning() {
		health.Checks["dashboard"] = CheckResult{
			Status:  "healthy",
			Message: "broadcast hub is running",
		}
	} else {
		// Observers lose transcripts, calls are unaffected
		health.Checks["dashboard"] = CheckResult{
			Status:  "degraded",
			Message: "broadcast hub not running",
		}
		if health.Status == "healthy" {
			health.Status = "degraded"
		}
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	health.System = SystemInfo{
		GoRoutines: runtime.NumGoroutine(),
		MemoryMB:   mem.Alloc / 1024 / 1024,
		CPUCount:   runtime.NumCPU(),
	}
	if s.registry != nil {
		health.System.ActiveCalls = s.registry.Len()
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}

// LivenessHandler reports that the process is alive
func (s *Server) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// ReadinessHandler reports whether the gateway can take calls
func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := s.registry != nil

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
