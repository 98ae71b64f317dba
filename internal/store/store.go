package store

import (
	"context"
	"errors"
	"time"

	"github.com/jiqinga/strmforge/internal/model"
)

var (
	ErrIdempotentReplay = errors.New("idempotent replay")
	ErrNotFound         = errors.New("not found")
)

// Lease is a single-writer lock over a key, used to keep two worker-pool
// batches from claiming the same SubTask.
type Lease interface {
	Key() string
	Owner() string
	ExpiresAt() time.Time
}

// SubTaskFilter narrows ListSubTasks to the runnable-selection rule of
// spec §4.4: same Task, matching process kind, and a status in
// {pending} ∪ {retry with retry-after <= Now or unset}.
type SubTaskFilter struct {
	TaskID      int64
	ProcessKind model.ProcessKind
	Statuses    []model.SubTaskStatus
	Now         time.Time
	Limit       int
}

// StateStore is the system-of-record for Settings, MediaServers, uploads,
// Tasks and their SubTasks.
//
// Design intent:
// - All mutation goes through functional Update* callbacks so callers
//   read-modify-write without racing concurrent writers.
// - Single-writer leases prevent two worker-pool batches from claiming the
//   same SubTask; the recovery sweep does not take leases.
type StateStore interface {
	// --- Settings (a single row) ---
	GetSettings(ctx context.Context) (*model.Settings, error)
	PutSettings(ctx context.Context, s *model.Settings) error

	// --- MediaServer CRUD ---
	PutMediaServer(ctx context.Context, s *model.MediaServer) error
	GetMediaServer(ctx context.Context, id int64) (*model.MediaServer, error)
	ListMediaServers(ctx context.Context) ([]*model.MediaServer, error)
	DeleteMediaServer(ctx context.Context, id int64) error

	// --- UploadRecord CRUD ---
	PutUpload(ctx context.Context, u *model.UploadRecord) error
	GetUpload(ctx context.Context, id int64) (*model.UploadRecord, error)
	UpdateUpload(ctx context.Context, id int64, fn func(*model.UploadRecord) error) (*model.UploadRecord, error)

	// --- Task CRUD ---
	PutTask(ctx context.Context, t *model.Task) error
	// PutTaskWithIdempotency writes a Task and an idempotency key
	// atomically. If the key already exists and has not expired, it
	// returns the existing Task's ID, exists=true, and does not create a
	// duplicate Task (spec §4.3's create-task idempotency window).
	PutTaskWithIdempotency(ctx context.Context, t *model.Task, idemKey string, ttl time.Duration) (existingID int64, exists bool, err error)
	// GetTask returns (nil, nil) if id is not found; callers must check.
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	UpdateTask(ctx context.Context, id int64, fn func(*model.Task) error) (*model.Task, error)
	ListTasks(ctx context.Context, ownerUserID int64) ([]*model.Task, error)
	DeleteTask(ctx context.Context, id int64) error

	// --- SubTask CRUD ---
	PutSubTasks(ctx context.Context, subs []*model.SubTask) error
	GetSubTask(ctx context.Context, id int64) (*model.SubTask, error)
	UpdateSubTask(ctx context.Context, id int64, fn func(*model.SubTask) error) (*model.SubTask, error)
	ListSubTasks(ctx context.Context, filter SubTaskFilter) ([]*model.SubTask, error)
	DeleteSubTasks(ctx context.Context, taskID int64) error

	// --- Append-only logs (spec §4.4's task log lines and per-handler
	// StrmLog/DownloadLog entries) ---
	AppendTaskLogLine(ctx context.Context, taskID int64, level model.LogLevel, line string) error
	AppendStrmLog(ctx context.Context, entry *model.StrmLog) error
	AppendDownloadLog(ctx context.Context, entry *model.DownloadLog) error
	ListStrmLogs(ctx context.Context, taskID int64) ([]*model.StrmLog, error)
	ListDownloadLogs(ctx context.Context, taskID int64) ([]*model.DownloadLog, error)

	// --- Idempotency window (generic, keyed by caller-supplied string) ---
	PutIdempotency(ctx context.Context, key string, id int64, ttl time.Duration) error
	GetIdempotency(ctx context.Context, key string) (id int64, ok bool, err error)

	// --- Leases (single-writer) ---
	TryAcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error)
	RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error)
	ReleaseLease(ctx context.Context, key, owner string) error
	DeleteAllLeases(ctx context.Context) (int, error)

	Close() error
}
