// Package retryservice implements the process-wide Retry Service (spec
// §4.5): a single background loop that guarantees forward progress on
// Sub-Tasks whose retry window has elapsed, even when no new Processor
// run is otherwise scheduled for their parent Task.
package retryservice

import (
	"context"
	"time"

	"github.com/jiqinga/strmforge/internal/log"
	"github.com/jiqinga/strmforge/internal/metrics"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
	"github.com/jiqinga/strmforge/internal/worker"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultErrorBackoff = 30 * time.Second
)

// Service is the single process-wide instance described in spec §4.5.
type Service struct {
	Store        store.StateStore
	Owner        string
	PollInterval time.Duration
	ErrorBackoff time.Duration
}

// New returns a Service with the 10s poll / 30s error-backoff defaults.
func New(st store.StateStore, owner string) *Service {
	return &Service{
		Store:        st,
		Owner:        owner,
		PollInterval: defaultPollInterval,
		ErrorBackoff: defaultErrorBackoff,
	}
}

// Run blocks until ctx is canceled, ticking every PollInterval and
// backing off to ErrorBackoff after a failed iteration.
func (s *Service) Run(ctx context.Context) {
	wait := s.PollInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := s.tick(ctx); err != nil {
			log.L().Warn().Err(err).Msg("retry service iteration failed")
			wait = s.ErrorBackoff
			continue
		}
		wait = s.PollInterval
	}
}

// tick selects every Sub-Task with status=retry and retry-after <= now
// or null, groups them by parent Task, skips Tasks already in a terminal
// state, and re-runs the Processor on the rest.
func (s *Service) tick(ctx context.Context) error {
	due, err := s.Store.ListSubTasks(ctx, store.SubTaskFilter{
		Statuses: []model.SubTaskStatus{model.SubRetry},
		Now:      model.Now(),
	})
	if err != nil {
		return err
	}

	dispatched := make(map[int64]struct{}, len(due))
	for _, sub := range due {
		if _, ok := dispatched[sub.TaskID]; ok {
			continue
		}
		dispatched[sub.TaskID] = struct{}{}

		task, err := s.Store.GetTask(ctx, sub.TaskID)
		if err != nil {
			return err
		}
		if task == nil || task.Status.IsTerminal() {
			continue
		}

		metrics.IncRetryScheduled(string(sub.ProcessKind))
		p := worker.NewProcessor(s.Store, s.Owner)
		if err := p.Run(ctx, sub.TaskID); err != nil {
			log.L().Warn().Err(err).Int64("task_id", sub.TaskID).Msg("retry service processor run failed")
		}
	}
	return nil
}
