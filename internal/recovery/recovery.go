// Package recovery implements the Recovery Service (spec §4.6): a
// three-tier orphan detector that reclaims Tasks stuck in "running" after
// a crash or a stalled worker, and reconciles their Sub-Tasks afterward.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jiqinga/strmforge/internal/log"
	"github.com/jiqinga/strmforge/internal/metrics"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
)

const defaultInterval = 30 * time.Minute

// Service runs once at startup and on Interval thereafter (spec §4.6).
// New replaces a zero or negative Interval with 30 minutes; whether the
// re-check repeats is chosen by Run's periodic flag. Sweep can still be
// invoked manually.
type Service struct {
	Store    store.StateStore
	Interval time.Duration
}

func New(st store.StateStore, interval time.Duration) *Service {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{Store: st, Interval: interval}
}

// Run performs an immediate sweep, then repeats every s.Interval until
// ctx is canceled. With periodic false it sweeps only once and returns.
func (s *Service) Run(ctx context.Context, periodic bool) {
	s.sweepWithSettings(ctx)
	if !periodic {
		return
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepWithSettings(ctx)
		}
	}
}

func (s *Service) sweepWithSettings(ctx context.Context) {
	settings, err := s.Store.GetSettings(ctx)
	if err != nil {
		log.L().Warn().Err(err).Msg("recovery sweep could not read settings")
	}
	if err := s.Sweep(ctx, FromSettings(settings)...); err != nil {
		log.L().Warn().Err(err).Msg("recovery sweep failed")
	}
}

// Sweep implements spec §4.6's four-step check, in order, first match
// wins, against every Task currently in "running".
func (s *Service) Sweep(ctx context.Context, opts ...SweepOption) error {
	cfg := sweepConfig{
		taskTimeout:     24 * time.Hour,
		heartbeatWindow: 15 * time.Minute,
		activityCheck:   10 * time.Minute,
		recentActivity:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	tasks, err := s.Store.ListTasks(ctx, 0)
	if err != nil {
		return err
	}

	now := model.Now()
	for _, task := range tasks {
		if task.Status != model.TaskRunning {
			continue
		}

		tier, reclaim := s.classify(ctx, task, now, cfg)
		if !reclaim {
			continue
		}

		if err := s.reclaim(ctx, task, tier, now); err != nil {
			return err
		}
	}

	return s.reconcileOrphanedSubTasks(ctx)
}

// classify returns the detection tier that fired ("task_timeout",
// "heartbeat_timeout" or "activity_timeout") and whether the Task should
// be reclaimed. Checks run in the order spec §4.6 lists them; the first
// match wins.
func (s *Service) classify(ctx context.Context, task *model.Task, now time.Time, cfg sweepConfig) (string, bool) {
	if task.StartedAt != nil && now.Sub(model.Normalize(*task.StartedAt)) > cfg.taskTimeout {
		return "task_timeout", true
	}
	if task.LastHeartbeat != nil && now.Sub(model.Normalize(*task.LastHeartbeat)) > cfg.heartbeatWindow {
		return "heartbeat_timeout", true
	}
	if task.StartedAt != nil && now.Sub(model.Normalize(*task.StartedAt)) > cfg.activityCheck {
		recent, err := s.hasRecentActivity(ctx, task.ID, now.Add(-cfg.recentActivity))
		if err == nil && !recent {
			return "activity_timeout", true
		}
	}
	return "", false
}

// hasRecentActivity reports whether any Sub-Task of taskID started or
// finished downloading after since.
func (s *Service) hasRecentActivity(ctx context.Context, taskID int64, since time.Time) (bool, error) {
	subs, err := s.Store.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	if err != nil {
		return false, err
	}
	for _, sub := range subs {
		if sub.DownloadStartedAt != nil && model.Normalize(*sub.DownloadStartedAt).After(since) {
			return true, nil
		}
		if sub.DownloadCompletedAt != nil && model.Normalize(*sub.DownloadCompletedAt).After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) reclaim(ctx context.Context, task *model.Task, tier string, now time.Time) error {
	metrics.IncRecoveryAction(tier)

	_, err := s.Store.UpdateTask(ctx, task.ID, func(t *model.Task) error {
		t.Status = model.TaskFailed
		t.EndedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.Store.AppendTaskLogLine(ctx, task.ID, model.LogError,
		fmt.Sprintf("task reclaimed by recovery sweep (%s)", tier)); err != nil {
		return err
	}

	subs, err := s.Store.ListSubTasks(ctx, store.SubTaskFilter{TaskID: task.ID})
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Status.IsTerminal() {
			continue
		}
		if _, err := s.Store.UpdateSubTask(ctx, sub.ID, func(st *model.SubTask) error {
			st.Status = model.SubFailed
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// reconcileOrphanedSubTasks implements spec §4.6's final clause: any
// Sub-Task left in "downloading" whose parent has since reached a
// terminal state is promoted to match.
func (s *Service) reconcileOrphanedSubTasks(ctx context.Context) error {
	downloading, err := s.Store.ListSubTasks(ctx, store.SubTaskFilter{
		Statuses: []model.SubTaskStatus{model.SubDownloading},
	})
	if err != nil {
		return err
	}

	taskCache := make(map[int64]*model.Task)
	for _, sub := range downloading {
		task, ok := taskCache[sub.TaskID]
		if !ok {
			task, err = s.Store.GetTask(ctx, sub.TaskID)
			if err != nil {
				return err
			}
			taskCache[sub.TaskID] = task
		}
		if task == nil || !task.Status.IsTerminal() {
			continue
		}

		target := model.SubFailed
		if task.Status == model.TaskCanceled {
			target = model.SubCanceled
		}
		if _, err := s.Store.UpdateSubTask(ctx, sub.ID, func(st *model.SubTask) error {
			st.Status = target
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

type sweepConfig struct {
	taskTimeout     time.Duration
	heartbeatWindow time.Duration
	activityCheck   time.Duration
	recentActivity  time.Duration
}

// SweepOption configures one Sweep call from a Settings snapshot.
type SweepOption func(*sweepConfig)

func WithTaskTimeout(d time.Duration) SweepOption {
	return func(c *sweepConfig) { c.taskTimeout = d }
}

func WithHeartbeatWindow(d time.Duration) SweepOption {
	return func(c *sweepConfig) { c.heartbeatWindow = d }
}

func WithActivityCheck(d time.Duration) SweepOption {
	return func(c *sweepConfig) { c.activityCheck = d }
}

func WithRecentActivity(d time.Duration) SweepOption {
	return func(c *sweepConfig) { c.recentActivity = d }
}

// FromSettings builds the SweepOptions matching a Settings snapshot's
// recovery.* fields, leaving the built-in default for any field left
// unset (<= 0) in Settings.
func FromSettings(s *model.Settings) []SweepOption {
	if s == nil {
		return nil
	}
	var opts []SweepOption
	if s.RecoveryTaskTimeoutHours > 0 {
		opts = append(opts, WithTaskTimeout(time.Duration(s.RecoveryTaskTimeoutHours)*time.Hour))
	}
	if s.RecoveryHeartbeatTimeoutMin > 0 {
		opts = append(opts, WithHeartbeatWindow(time.Duration(s.RecoveryHeartbeatTimeoutMin)*time.Minute))
	}
	if s.RecoveryActivityWindowMin > 0 {
		opts = append(opts, WithActivityCheck(time.Duration(s.RecoveryActivityWindowMin)*time.Minute))
	}
	if s.RecoveryRecentActivityMin > 0 {
		opts = append(opts, WithRecentActivity(time.Duration(s.RecoveryRecentActivityMin)*time.Minute))
	}
	return opts
}
