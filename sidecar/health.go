package sidecar

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"github.com/sony/gobreaker/v2"
)

var errUnhealthy = errors.New("sidecar health check failed")

// monitor probes /health every HealthInterval while the sidecar runs.
// FailureThreshold consecutive failures open the breaker, which moves the
// supervisor to error. No restart is attempted.
func (s *Supervisor) monitor(ctx context.Context, cmd *exec.Cmd) {
	cb := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name: "sidecar-health",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(s.cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Debug("health breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		_, err := cb.Execute(func() (bool, error) {
			if s.HealthCheck(ctx) {
				return true, nil
			}
			return false, errUnhealthy
		})
		if err != nil {
			slog.Warn("sidecar health check failed", "consecutive", cb.Counts().ConsecutiveFailures)
		}
		if cb.State() == gobreaker.StateOpen {
			s.healthFailed(cmd)
			return
		}
	}
}

func (s *Supervisor) healthFailed(cmd *exec.Cmd) {
	s.mu.Lock()
	if s.cmd != cmd || s.status != StatusRunning {
		s.mu.Unlock()
		return
	}
	s.setStatusLocked(StatusError)
	s.mu.Unlock()

	slog.Error("sidecar marked unhealthy", "threshold", s.cfg.FailureThreshold)
	s.events.Emit(Event{Type: EventHealthCheckFailed, Message: errUnhealthy.Error()})
}
