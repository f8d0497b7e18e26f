package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/httpfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
)

// WorkerHealthStatus is one worker's status as reported in the /health
// response.
type WorkerHealthStatus struct {
	State           string    `json:"state"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at,omitempty"`
	RestartCount    int       `json:"restart_count"`
	TotalRestarts   int       `json:"total_restarts"`
	Uptime          string    `json:"uptime,omitempty"`
	PID             int       `json:"pid,omitempty"`
	Error           string    `json:"error,omitempty"`
}

// HealthResponse is the full /health response body.
type HealthResponse struct {
	Status     string               `json:"status"`
	Supervisor *SupervisorHealth    `json:"supervisor,omitempty"`
	Workers    []WorkerHealthStatus `json:"workers,omitempty"`
}

// SupervisorHealth mirrors processfx.SupervisorStatus for JSON exposure.
type SupervisorHealth struct {
	ServerPID    int  `json:"server_pid"`
	Detaching    bool `json:"detaching"`
	ShuttingDown bool `json:"shutting_down"`
}

// StatusSource is implemented by *processfx.Server; it is the only piece the
// admin surface needs from the running daemon.
type StatusSource interface {
	Status() []processfx.WorkerStatus
}

// SupervisorSource is implemented by *processfx.Supervisor, optionally
// available when the daemon runs with a supervisor in front.
type SupervisorSource interface {
	Status() processfx.SupervisorStatus
}

// RegisterRoutes mounts /health-check and /health onto mux. server reports
// per-worker status; supervisor is nil when the daemon runs without one.
func RegisterRoutes(
	mux *http.ServeMux,
	config *httpfx.Config,
	server StatusSource,
	supervisor SupervisorSource,
) {
	if !config.HealthCheckEnabled {
		return
	}

	mux.HandleFunc("GET /health-check", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		response := buildResponse(server, supervisor)

		w.Header().Set("Content-Type", "application/json")

		if response.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

func buildResponse(server StatusSource, supervisor SupervisorSource) HealthResponse {
	response := HealthResponse{Status: "healthy"} //nolint:exhaustruct

	if server != nil {
		statuses := server.Status()
		response.Workers = make([]WorkerHealthStatus, len(statuses))

		for i, status := range statuses {
			if !status.State.IsHealthy() {
				response.Status = "degraded"
			}

			workerHealth := WorkerHealthStatus{ //nolint:exhaustruct
				State:         status.State.String(),
				RestartCount:  status.RestartCount,
				TotalRestarts: status.TotalRestarts,
				PID:           status.PID,
			}

			if !status.LastHeartbeatAt.IsZero() {
				workerHealth.LastHeartbeatAt = status.LastHeartbeatAt
			}

			if !status.StartedAt.IsZero() {
				workerHealth.Uptime = status.Uptime().Round(time.Second).String()
			}

			if status.LastError != nil {
				workerHealth.Error = status.LastError.Error()
			}

			response.Workers[i] = workerHealth
		}
	}

	if supervisor != nil {
		supStatus := supervisor.Status()
		response.Supervisor = &SupervisorHealth{
			ServerPID:    supStatus.ServerPID,
			Detaching:    supStatus.Detaching,
			ShuttingDown: supStatus.ShuttingDown,
		}
	}

	return response
}
