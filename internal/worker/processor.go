// Package worker implements the Worker Pool / Processor (spec §4.4): the
// central subsystem that drains a Task's Sub-Tasks in sequential batches,
// concurrently within each batch, across the two handler classes (STRM
// Writer and Resource Downloader).
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jiqinga/strmforge/internal/apperr"
	"github.com/jiqinga/strmforge/internal/bus"
	"github.com/jiqinga/strmforge/internal/fsatomic"
	"github.com/jiqinga/strmforge/internal/metrics"
	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/store"
)

const (
	defaultLeaseTTL      = 2 * time.Minute
	defaultRetryInterval = 60 * time.Second
	progressBarWidth     = 20
)

// Env is the read-only environment a handler runs against: the resolved
// media/download servers, the Task's output directory, and the Settings
// snapshot in effect when the batch was selected.
type Env struct {
	MediaServer    *model.MediaServer
	DownloadServer *model.MediaServer
	OutputDir      string
	Settings       *model.Settings
}

// Processor drives one Task at a time per Run call; any number of Tasks
// may be in flight across the process, each behind its own Run.
type Processor struct {
	Store  store.StateStore
	Client *http.Client
	// Owner identifies this Processor instance for the single-writer
	// lease on each Sub-Task it claims.
	Owner    string
	LeaseTTL time.Duration
	// Bus is optional; when set, Run publishes bus.TopicTaskStart so other
	// in-process subscribers (audit logging, future dashboards) can react
	// without polling the store.
	Bus bus.Bus
}

// NewProcessor returns a Processor with the defaults spec §5 assumes: a
// 60s total HTTP timeout and a 2 minute Sub-Task lease.
func NewProcessor(st store.StateStore, owner string) *Processor {
	return &Processor{
		Store:    st,
		Client:   &http.Client{Timeout: 60 * time.Second},
		Owner:    owner,
		LeaseTTL: defaultLeaseTTL,
	}
}

// Run drains taskID: the STRM Writer phase, then the Resource Downloader
// phase, then terminal reconciliation (spec §4.4). It transitions the
// Task to running before any handler work starts, and per spec §7 marks
// the Task failed itself on any unexpected error rather than leaving it
// stuck in a non-terminal status.
func (p *Processor) Run(ctx context.Context, taskID int64) (err error) {
	task, err := p.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return store.ErrNotFound
	}
	if task.Status.IsTerminal() {
		// Already canceled/completed/failed by the time this run was
		// scheduled (e.g. a cancel raced the create-task dispatch):
		// nothing to drain, and it must not be forced back to running.
		return nil
	}

	started := model.Now()
	if _, uerr := p.Store.UpdateTask(ctx, taskID, func(t *model.Task) error {
		t.Status = model.TaskRunning
		if t.StartedAt == nil {
			t.StartedAt = &started
		}
		t.EndedAt = nil
		return nil
	}); uerr != nil {
		return uerr
	}

	if p.Bus != nil {
		_ = p.Bus.Publish(ctx, bus.TopicTaskStart, bus.Message{TaskID: taskID, Kind: bus.TopicTaskStart})
	}

	defer func() {
		if err != nil {
			p.markFailed(ctx, taskID, err)
		}
	}()

	settings, err := p.Store.GetSettings(ctx)
	if err != nil {
		return err
	}

	env, err := p.buildEnv(ctx, task, settings)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(env.OutputDir, 0o755); err != nil {
		return apperr.New(apperr.CodePermanentIO, "cannot create output directory", err)
	}

	for _, kind := range []model.ProcessKind{model.ProcessStrmGeneration, model.ProcessResourceDownload} {
		canceled, err := p.runPhase(ctx, taskID, kind, env)
		if err != nil {
			return err
		}
		if canceled {
			break
		}
	}

	return p.reconcile(ctx, taskID)
}

// markFailed marks taskID failed and appends the cause to its log, per
// spec §7's "Processor itself catches any unexpected error, marks the
// Task failed, logs with stack context, and returns". Best-effort: a
// store error here is logged into the Task log but does not mask the
// original cause returned by Run.
func (p *Processor) markFailed(ctx context.Context, taskID int64, cause error) {
	end := model.Now()
	_, uerr := p.Store.UpdateTask(ctx, taskID, func(t *model.Task) error {
		t.Status = model.TaskFailed
		t.EndedAt = &end
		return nil
	})
	if uerr != nil {
		_ = p.Store.AppendTaskLogLine(ctx, taskID, model.LogError,
			fmt.Sprintf("task failed (%v) and could not be marked failed: %v", cause, uerr))
		return
	}
	_ = p.Store.AppendTaskLogLine(ctx, taskID, model.LogError, fmt.Sprintf("task failed: %v", cause))
}

func (p *Processor) buildEnv(ctx context.Context, task *model.Task, settings *model.Settings) (Env, error) {
	mediaServer, err := p.resolveServer(ctx, task.MediaServerID)
	if err != nil {
		return Env{}, err
	}
	var downloadServer *model.MediaServer
	if task.DownloadServerID != nil {
		downloadServer, err = p.resolveServer(ctx, *task.DownloadServerID)
		if err != nil {
			return Env{}, err
		}
	}
	return Env{
		MediaServer:    mediaServer,
		DownloadServer: downloadServer,
		OutputDir:      task.OutputDir,
		Settings:       settings,
	}, nil
}

func (p *Processor) resolveServer(ctx context.Context, id int64) (*model.MediaServer, error) {
	if id == 0 {
		return nil, nil
	}
	s, err := p.Store.GetMediaServer(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("media server %d not found", id), nil)
	}
	return s, nil
}

// runPhase drains every runnable Sub-Task of kind for taskID in batches of
// Task.WorkerCount, re-checking cancellation before each batch. It returns
// canceled=true if the Task was canceled mid-phase.
func (p *Processor) runPhase(ctx context.Context, taskID int64, kind model.ProcessKind, env Env) (bool, error) {
	for {
		task, err := p.Store.GetTask(ctx, taskID)
		if err != nil {
			return false, err
		}
		if task.Status == model.TaskCanceled {
			return true, nil
		}

		workerCount := task.WorkerCount
		if workerCount < 1 {
			workerCount = 1
		}

		batch, err := p.Store.ListSubTasks(ctx, store.SubTaskFilter{
			TaskID:      taskID,
			ProcessKind: kind,
			Statuses:    []model.SubTaskStatus{model.SubPending, model.SubRetry},
			Now:         model.Now(),
			Limit:       workerCount,
		})
		if err != nil {
			return false, err
		}
		if len(batch) == 0 {
			return false, nil
		}

		if err := p.runBatch(ctx, task, kind, batch, env); err != nil {
			return false, err
		}
		if err := p.afterBatch(ctx, taskID); err != nil {
			return false, err
		}
	}
}

// runBatch runs every Sub-Task in batch concurrently (spec §4.4: "Within
// a batch, all Sub-Tasks run concurrently").
func (p *Processor) runBatch(ctx context.Context, task *model.Task, kind model.ProcessKind, batch []*model.SubTask, env Env) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range batch {
		sub := sub
		g.Go(func() error {
			return p.runOne(gctx, task, kind, sub, env)
		})
	}
	return g.Wait()
}

func (p *Processor) runOne(ctx context.Context, task *model.Task, kind model.ProcessKind, sub *model.SubTask, env Env) error {
	leaseKey := fmt.Sprintf("subtask:%d", sub.ID)
	lease, ok, err := p.Store.TryAcquireLease(ctx, leaseKey, p.Owner, p.LeaseTTL)
	if err != nil {
		return err
	}
	if !ok {
		// Already claimed by another Processor instance this tick.
		return nil
	}
	defer func() { _ = p.Store.ReleaseLease(ctx, leaseKey, lease.Owner()) }()

	current, err := p.Store.GetTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if current.Status == model.TaskCanceled {
		_, err := p.Store.UpdateSubTask(ctx, sub.ID, func(s *model.SubTask) error {
			s.Status = model.SubCanceled
			return nil
		})
		return err
	}

	startedAt := model.Now()
	if _, err := p.Store.UpdateSubTask(ctx, sub.ID, func(s *model.SubTask) error {
		s.Status = model.SubDownloading
		s.WorkerID = p.Owner
		s.DownloadStartedAt = &startedAt
		return nil
	}); err != nil {
		return err
	}

	start := time.Now()
	var handlerErr error
	switch kind {
	case model.ProcessStrmGeneration:
		handlerErr = p.writeStrm(ctx, task, sub, env)
	case model.ProcessResourceDownload:
		handlerErr = p.downloadResource(ctx, task, sub, env)
	default:
		handlerErr = fmt.Errorf("unsupported process kind %q", kind)
	}
	elapsed := time.Since(start)
	metrics.ObserveSubTaskDuration(string(kind), elapsed.Seconds())

	if handlerErr == nil {
		completedAt := model.Now()
		_, err := p.Store.UpdateSubTask(ctx, sub.ID, func(s *model.SubTask) error {
			s.Status = model.SubCompleted
			s.DownloadCompletedAt = &completedAt
			s.DurationMS = elapsed.Milliseconds()
			s.ErrorMessage = ""
			return nil
		})
		metrics.IncSubTaskProcessed(string(kind), "completed")
		return err
	}

	return p.applyRetryPolicy(ctx, task, sub, env.Settings, handlerErr)
}

// applyRetryPolicy implements spec §4.4's per-Sub-Task retry state machine.
func (p *Processor) applyRetryPolicy(ctx context.Context, task *model.Task, sub *model.SubTask, settings *model.Settings, handlerErr error) error {
	backoff := defaultRetryInterval
	if settings != nil && settings.RetryBackoffSecs > 0 {
		backoff = time.Duration(settings.RetryBackoffSecs) * time.Second
	}

	next, err := p.Store.UpdateSubTask(ctx, sub.ID, func(s *model.SubTask) error {
		s.Attempts++
		s.WorkerID = ""
		s.DownloadStartedAt = nil
		s.DownloadCompletedAt = nil
		s.ErrorMessage = handlerErr.Error()
		if s.Attempts < s.MaxAttempts {
			retryAfter := model.Now().Add(backoff)
			s.Status = model.SubRetry
			s.RetryAfter = &retryAfter
		} else {
			s.Status = model.SubFailed
			s.RetryAfter = nil
		}
		return nil
	})
	if err != nil {
		return err
	}

	if next.Status == model.SubRetry {
		metrics.IncSubTaskProcessed(string(sub.ProcessKind), "retry")
		return p.Store.AppendTaskLogLine(ctx, task.ID, model.LogWarn,
			fmt.Sprintf("sub-task %d failed (%v), retrying in %s", sub.ID, handlerErr, backoff))
	}
	metrics.IncSubTaskProcessed(string(sub.ProcessKind), "failed")
	return p.Store.AppendTaskLogLine(ctx, task.ID, model.LogError,
		fmt.Sprintf("sub-task %d failed permanently after %d attempts: %v", sub.ID, next.Attempts, handlerErr))
}

// afterBatch refreshes the Task heartbeat and writes a progress line,
// per spec §4.4's progress-accounting clause.
func (p *Processor) afterBatch(ctx context.Context, taskID int64) error {
	counters, err := p.countersFor(ctx, taskID)
	if err != nil {
		return err
	}

	now := model.Now()
	if _, err := p.Store.UpdateTask(ctx, taskID, func(t *model.Task) error {
		t.LastHeartbeat = &now
		t.Counters = counters
		return nil
	}); err != nil {
		return err
	}

	metrics.IncBatch("ok")
	return p.Store.AppendTaskLogLine(ctx, taskID, model.LogInfo, progressLine(counters))
}

func (p *Processor) countersFor(ctx context.Context, taskID int64) (model.TaskCounters, error) {
	subs, err := p.Store.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	if err != nil {
		return model.TaskCounters{}, err
	}
	c := model.TaskCounters{Total: len(subs)}
	for _, s := range subs {
		switch s.Status {
		case model.SubCompleted:
			c.Success++
			c.Processed++
		case model.SubFailed:
			c.Failed++
			c.Processed++
		}
	}
	return c, nil
}

// progressLine renders "(completed+failed)/total" percent with an ASCII
// bar; percent saturates at 100 and a zero total yields 0 (spec §4.4's
// numeric-semantics clause).
func progressLine(c model.TaskCounters) string {
	pct := 0
	if c.Total > 0 {
		pct = c.Processed * 100 / c.Total
		if pct > 100 {
			pct = 100
		}
	}
	return fmt.Sprintf("[%s] %d%% (%d/%d processed, %d failed)",
		progressBar(pct, progressBarWidth), pct, c.Processed, c.Total, c.Failed)
}

// reconcile implements spec §4.4's terminal reconciliation: once both
// handler phases finish, recompute counters and resolve the Task's final
// status from its Sub-Tasks.
func (p *Processor) reconcile(ctx context.Context, taskID int64) error {
	task, err := p.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status == model.TaskCanceled {
		return nil
	}

	counters, err := p.countersFor(ctx, taskID)
	if err != nil {
		return err
	}
	subs, err := p.Store.ListSubTasks(ctx, store.SubTaskFilter{TaskID: taskID})
	if err != nil {
		return err
	}

	var anyFailed, anyNonTerminal bool
	for _, s := range subs {
		if s.Status == model.SubFailed {
			anyFailed = true
		}
		if !s.Status.IsTerminal() {
			anyNonTerminal = true
		}
	}

	end := model.Now()
	_, err = p.Store.UpdateTask(ctx, taskID, func(t *model.Task) error {
		t.Counters = counters
		switch {
		case anyFailed:
			t.Status = model.TaskFailed
			t.EndedAt = &end
		case !anyNonTerminal:
			t.Status = model.TaskCompleted
			t.EndedAt = &end
		}
		return nil
	})
	return err
}

// writeStrm is the STRM Writer handler (spec §4.4).
func (p *Processor) writeStrm(ctx context.Context, task *model.Task, sub *model.SubTask, env Env) error {
	if env.MediaServer == nil {
		return apperr.New(apperr.CodeConfiguration, "task has no media server configured", nil)
	}

	quoted := quotePath(sub.SourcePath, env.Settings)
	strmURL := env.MediaServer.BaseURL + quoted
	target := strmTargetPath(env.OutputDir, sub.SourcePath)

	start := time.Now()
	if err := fsatomic.WriteFile(target, []byte(strmURL), 0o644); err != nil {
		return apperr.New(apperr.CodePermanentIO, "cannot write strm file", err)
	}
	duration := time.Since(start)

	if _, err := p.Store.UpdateSubTask(ctx, sub.ID, func(s *model.SubTask) error {
		s.TargetPath = &target
		return nil
	}); err != nil {
		return err
	}

	return p.Store.AppendStrmLog(ctx, &model.StrmLog{
		TaskID:     task.ID,
		Level:      model.LogInfo,
		Message:    "strm written",
		SourcePath: sub.SourcePath,
		TargetPath: target,
		Category:   sub.Category,
		DurationMS: duration.Milliseconds(),
		Success:    true,
		CreatedAt:  model.Now(),
	})
}

// quotePath URL-quotes virtualPath segment-by-segment, first applying the
// path-rewrite rule if Settings enables it (spec §4.4's STRM Writer).
func quotePath(virtualPath string, s *model.Settings) string {
	p := virtualPath
	if s != nil && s.PathRewriteEnabled {
		p = rewriteFirstSegment(p, s.PathRewritePrefix)
	}
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

func rewriteFirstSegment(p, prefix string) string {
	trimmed := strings.TrimPrefix(p, "/")
	segments := strings.SplitN(trimmed, "/", 2)
	if len(segments) == 0 || segments[0] == "" {
		return p
	}
	if len(segments) == 1 {
		return "/" + prefix
	}
	return "/" + prefix + "/" + segments[1]
}

// strmTargetPath replaces virtualPath's extension with ".strm" and joins
// it under outputDir.
func strmTargetPath(outputDir, virtualPath string) string {
	ext := filepath.Ext(virtualPath)
	withStrmExt := strings.TrimSuffix(virtualPath, ext) + ".strm"
	return filepath.Join(outputDir, filepath.FromSlash(strings.TrimPrefix(withStrmExt, "/")))
}

// downloadResource is the Resource Downloader handler (spec §4.4).
func (p *Processor) downloadResource(ctx context.Context, task *model.Task, sub *model.SubTask, env Env) error {
	if env.DownloadServer == nil {
		return apperr.New(apperr.CodeConfiguration, "task has no download server configured", nil)
	}

	sourceURL := env.DownloadServer.BaseURL + sub.SourcePath
	target := filepath.Join(env.OutputDir, filepath.FromSlash(strings.TrimPrefix(sub.SourcePath, "/")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return apperr.New(apperr.CodeTransientIO, "cannot build request", err)
	}

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return apperr.New(apperr.CodeTransientIO, categorizeTransportError(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.New(apperr.CodeTransientIO, fmt.Sprintf("http status %d", resp.StatusCode), nil)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return apperr.New(apperr.CodePermanentIO, "cannot create parent directory", err)
	}

	pf, err := renameio.NewPendingFile(target, renameio.WithPermissions(0o644))
	if err != nil {
		return apperr.New(apperr.CodePermanentIO, "cannot create target file", err)
	}
	defer pf.Cleanup()

	written, copyErr := io.Copy(pf, resp.Body)
	duration := time.Since(start)
	if copyErr != nil {
		return apperr.New(apperr.CodeTransientIO, "download interrupted", copyErr)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return apperr.New(apperr.CodePermanentIO, "cannot finalize target file", err)
	}

	var throughput float64
	if duration > 0 && written > 0 {
		throughput = float64(written) / duration.Seconds()
	}

	if _, err := p.Store.UpdateSubTask(ctx, sub.ID, func(s *model.SubTask) error {
		s.TargetPath = &target
		s.FileSize = written
		s.DurationMS = duration.Milliseconds()
		s.BytesPerSec = throughput
		return nil
	}); err != nil {
		return err
	}

	return p.Store.AppendDownloadLog(ctx, &model.DownloadLog{
		TaskID:     task.ID,
		Level:      model.LogInfo,
		Message:    fmt.Sprintf("downloaded %s at %s", formatBytes(written), formatThroughput(throughput)),
		SourcePath: sub.SourcePath,
		TargetPath: target,
		Category:   sub.Category,
		Size:       written,
		DurationMS: duration.Milliseconds(),
		Throughput: throughput,
		Success:    true,
		CreatedAt:  model.Now(),
	})
}

func categorizeTransportError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "network"
	}
}

