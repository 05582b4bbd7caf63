// Package scheduler runs named maintenance sweeps on cron schedules for
// the life of the process. cmd/skybridge registers one sweep, crash
// recovery; the Trello outbox is drained by trellosync.Service.Run, not
// by this package. Cron expressions are evaluated with adhocore/gronx
// instead of a hand-rolled ticker-math table, matching the "don't
// reimplement what a small library already gets right" idiom the rest
// of this repo follows for HMAC, JSON patching, and diffing.
package scheduler

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/h4mn/skybridge/pkg/logger"
)

// checkInterval is how often pending sweeps are re-evaluated against
// their cron expressions. One minute is gronx's own documented
// resolution floor for standard five-field expressions.
const checkInterval = time.Minute

// Sweep is one named maintenance task evaluated against a cron schedule.
type Sweep struct {
	Name string
	Expr string
	Run  func(ctx context.Context) error
}

// Scheduler fires each registered Sweep when its cron expression comes
// due, logging and swallowing sweep errors so one failing sweep never
// stops the others from running on their own schedule.
type Scheduler struct {
	gron   gronx.Gronx
	sweeps []Sweep
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{gron: gronx.New()}
}

// Add registers a sweep under a standard five-field cron expression.
func (s *Scheduler) Add(name, expr string, run func(ctx context.Context) error) {
	s.sweeps = append(s.sweeps, Sweep{Name: name, Expr: expr, Run: run})
}

// Start blocks, firing due sweeps every checkInterval, until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, sweep := range s.sweeps {
		due, err := s.gron.IsDue(sweep.Expr, now)
		if err != nil {
			logger.WarnCF("scheduler", "invalid cron expression", map[string]interface{}{"sweep": sweep.Name, "error": err.Error()})
			continue
		}
		if !due {
			continue
		}
		if err := sweep.Run(ctx); err != nil {
			logger.WarnCF("scheduler", "sweep failed", map[string]interface{}{"sweep": sweep.Name, "error": err.Error()})
		}
	}
}
