package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dmscore/internal/claim"
)

// Sweeper periodically reclaims expired claims (edit locks and sessions)
// whose holders went away without releasing. Reclamation is idempotent and
// safe against concurrent heartbeats: each claim is re-checked under its
// key mutex before being marked expired.
type Sweeper struct {
	name     string
	manager  *claim.Manager[string]
	interval time.Duration
	loc      *time.Location

	reclaimed prometheus.Counter
	errors    prometheus.Counter
}

// NewSweeper creates a sweeper over the given claim manager. name labels
// log lines and metrics ("edit_lock" or "session").
func NewSweeper(name string, manager *claim.Manager[string], interval time.Duration, loc *time.Location, reg prometheus.Registerer) *Sweeper {
	s := &Sweeper{
		name:     name,
		manager:  manager,
		interval: interval,
		loc:      loc,
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "claim_sweeper_reclaimed_total",
			Help:        "Total number of expired claims reclaimed by the sweeper.",
			ConstLabels: prometheus.Labels{"claim": name},
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "claim_sweeper_errors_total",
			Help:        "Total number of sweep passes that returned an error.",
			ConstLabels: prometheus.Labels{"claim": name},
		}),
	}
	if reg != nil {
		reg.MustRegister(s.reclaimed, s.errors)
	}
	return s
}

// Run sweeps on the configured interval until ctx is cancelled. An
// in-flight pass finishes its current claim and stops cleanly.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.manager.SweepExpired(ctx)
	if n > 0 {
		s.reclaimed.Add(float64(n))
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.errors.Inc()
		s.logJSON(map[string]any{
			"level":         "error",
			"event":         "claim_sweep_failed",
			"claim":         s.name,
			"reclaimed":     n,
			"error_message": err.Error(),
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return
	}
	if n > 0 {
		s.logJSON(map[string]any{
			"level":       "info",
			"event":       "claim_sweep",
			"claim":       s.name,
			"reclaimed":   n,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

func (s *Sweeper) logJSON(data map[string]any) {
	data["ts"] = time.Now().In(s.loc).Format(time.RFC3339Nano)
	data["component"] = "sweeper"
	if b, err := json.Marshal(data); err == nil {
		log.SetFlags(0)
		log.Println(string(b))
	}
}
