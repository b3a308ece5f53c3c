package services

import (
	"scriptworld/internal/signal"
)

// RunService exposes the per-tick timing signals: Stepped fires before
// the physics step, Heartbeat after it. It also tracks the monotonic
// in-session clock scripts may read (they get no wall clock).
type RunService struct {
	Stepped   *signal.Signal
	Heartbeat *signal.Signal

	elapsed float64
}

func newRunService() *RunService {
	return &RunService{
		Stepped:   signal.New("Stepped"),
		Heartbeat: signal.New("Heartbeat"),
	}
}

func (r *RunService) ServiceName() string { return "RunService" }

// SetErrorSink routes timing-signal handler errors into the engine's
// script error accounting.
func (r *RunService) SetErrorSink(sink signal.ErrorSink) {
	r.Stepped.SetErrorSink(sink)
	r.Heartbeat.SetErrorSink(sink)
}

// Advance accumulates session time. Called once per tick with dt.
func (r *RunService) Advance(dt float64) {
	r.elapsed += dt
}

// Elapsed returns seconds of simulated session time.
func (r *RunService) Elapsed() float64 { return r.elapsed }
