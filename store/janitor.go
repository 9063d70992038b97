package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults for the retention janitor.
const (
	DefaultRetention       = 30 * 24 * time.Hour
	DefaultJanitorSchedule = "0 3 * * *" // daily at 03:00
)

// EventPruner removes the stored change events for an execution. Satisfied
// by notify.SQLiteEventStore.
type EventPruner interface {
	DeleteExecution(ctx context.Context, executionID string) error
}

// JanitorConfig configures the retention janitor.
type JanitorConfig struct {
	// Store holds the execution rows to prune. Required.
	Store *SQLiteStore

	// Events, when set, has its change events pruned alongside each execution.
	Events EventPruner

	// Retention is how long finished runs are kept (default: 30 days).
	Retention time.Duration

	// Schedule is a cron expression for the sweep (default: daily at 03:00).
	Schedule string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Janitor prunes finished executions older than the retention window on a
// cron schedule. Live runs are never touched.
type Janitor struct {
	store     *SQLiteStore
	events    EventPruner
	retention time.Duration
	schedule  string
	logger    *slog.Logger
	cron      *cron.Cron
}

// NewJanitor creates a Janitor.
func NewJanitor(cfg JanitorConfig) (*Janitor, error) {
	if cfg.Store == nil {
		return nil, errors.New("store: janitor requires a store")
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:     cfg.Store,
		events:    cfg.Events,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		cron:      cron.New(),
	}, nil
}

// Start registers the sweep with the scheduler and starts it.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error("retention sweep failed", "error", err)
		}
	})
	if err != nil {
		return errors.New("store: invalid janitor schedule: " + j.schedule)
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler. A sweep already in flight finishes.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep deletes finished runs older than the retention window, with their
// node records and change events. Returns how many runs were pruned.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-j.retention)
	ids, err := j.store.TerminalExecutionsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, id := range ids {
		if err := j.store.DeleteExecution(ctx, id); err != nil {
			return pruned, err
		}
		if j.events != nil {
			if err := j.events.DeleteExecution(ctx, id); err != nil {
				return pruned, err
			}
		}
		pruned++
	}
	if pruned > 0 {
		j.logger.Info("retention sweep pruned executions",
			"count", pruned,
			"cutoff", cutoff,
		)
	}
	return pruned, nil
}
