package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seguimiento-integral/notificaciones-backend-go/internal/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// EntityError is the failure of one entity within a task run
type EntityError struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// Report summarizes one maintenance task run
type Report struct {
	Task      string        `json:"task"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Affected  int64         `json:"affected,omitempty"`
	Errors    []EntityError `json:"errors,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	mu sync.Mutex
}

func newReport(task string, startedAt time.Time) *Report {
	return &Report{Task: task, StartedAt: startedAt}
}

// record adds the outcome of one entity
func (r *Report) record(entityID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Processed++
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, EntityError{EntityID: entityID, Error: err.Error()})
		return
	}
	r.Succeeded++
}

func (r *Report) finish(now time.Time) *Report {
	r.Duration = now.Sub(r.StartedAt)
	metrics.RecordMaintenance(r.Task, r.Failed, r.Duration)

	slog.Info("Maintenance task finished",
		"task", r.Task,
		"processed", r.Processed,
		"succeeded", r.Succeeded,
		"failed", r.Failed,
		"duration", r.Duration,
	)
	return r
}

// Err is non-nil when at least one entity failed
func (r *Report) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d of %d entities failed", r.Task, r.Failed, r.Processed)
}

// forEach runs fn for every id with at most workers in flight. A failing id
// is recorded in the report and never stops the others.
func forEach(ctx context.Context, ids []string, workers int, report *Report, fn func(ctx context.Context, id string) error) {
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for _, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				report.record(id, err)
				return nil
			}
			report.record(id, fn(ctx, id))
			return nil
		})
	}

	_ = g.Wait()
}
