package application

import (
	"context"
	"time"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/metrics"
)

// Timer periodically sweeps funded applications past their auto-release
// deadline and settles them.
type Timer struct {
	service  *Service
	interval time.Duration
	done     chan struct{}
}

// NewTimer creates an auto-release timer. Interval defaults to one hour.
func NewTimer(service *Service, interval time.Duration) *Timer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Timer{
		service:  service,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until the context is cancelled or Stop is
// called. One sweep runs immediately on start so restarts do not delay
// overdue releases by a full interval.
func (t *Timer) Start(ctx context.Context) {
	go func() {
		t.sweep(ctx)

		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.done:
				return
			case <-ticker.C:
				t.sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop.
func (t *Timer) Stop() {
	close(t.done)
}

func (t *Timer) sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("auto-release sweep panicked", "panic", r)
		}
	}()

	start := time.Now()
	released, err := t.service.SweepAutoRelease(ctx, start)
	metrics.AutoReleaseSweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		logging.L(ctx).Error("auto-release sweep failed", "error", err)
		return
	}
	if released > 0 {
		logging.L(ctx).Info("auto-release sweep settled applications", "released", released)
	}
}
