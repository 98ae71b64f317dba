package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jiqinga/strmforge/internal/model"
	"github.com/jiqinga/strmforge/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore is the durable StateStore backed by modernc.org/sqlite.
// Complex nested fields (Settings extension lists, UploadRecord.Parsed,
// Task.Counters) are stored as JSON columns; everything else is a plain
// typed column so ad-hoc inspection with the sqlite3 CLI stays useful.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens dbPath (creating it if absent) and migrates the
// schema to the current version.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS media_servers (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		name              TEXT NOT NULL,
		kind              TEXT NOT NULL,
		base_url          TEXT NOT NULL,
		username          TEXT NOT NULL DEFAULT '',
		password          TEXT NOT NULL DEFAULT '',
		last_reachable    BOOLEAN NOT NULL DEFAULT 0,
		last_checked_at   TEXT,
		created_by_userid INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS uploads (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		original_name TEXT NOT NULL,
		byte_size     INTEGER NOT NULL,
		blob          BLOB,
		legacy_path   TEXT NOT NULL DEFAULT '',
		owner_user_id INTEGER NOT NULL DEFAULT 0,
		state         TEXT NOT NULL,
		parsed        TEXT,
		parsed_at     TEXT
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		name               TEXT NOT NULL DEFAULT '',
		status             TEXT NOT NULL,
		media_server_id    INTEGER NOT NULL DEFAULT 0,
		download_server_id INTEGER,
		source_upload_id   INTEGER NOT NULL DEFAULT 0,
		output_dir         TEXT NOT NULL DEFAULT '',
		counters           TEXT NOT NULL DEFAULT '{}',
		worker_count       INTEGER NOT NULL DEFAULT 0,
		started_at         TEXT,
		ended_at           TEXT,
		last_heartbeat     TEXT,
		log_content        TEXT NOT NULL DEFAULT '',
		owner_user_id      INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_user_id);

	CREATE TABLE IF NOT EXISTS subtasks (
		id                    INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id               INTEGER NOT NULL,
		source_path           TEXT NOT NULL,
		target_path           TEXT,
		category              TEXT NOT NULL,
		process_kind          TEXT NOT NULL,
		status                TEXT NOT NULL,
		priority              INTEGER NOT NULL DEFAULT 0,
		attempts              INTEGER NOT NULL DEFAULT 0,
		max_attempts          INTEGER NOT NULL DEFAULT 0,
		file_size             INTEGER NOT NULL DEFAULT 0,
		download_started_at   TEXT,
		download_completed_at TEXT,
		duration_ms           INTEGER NOT NULL DEFAULT 0,
		bytes_per_sec         REAL NOT NULL DEFAULT 0,
		worker_id             TEXT NOT NULL DEFAULT '',
		error_message         TEXT NOT NULL DEFAULT '',
		retry_after           TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id);
	CREATE INDEX IF NOT EXISTS idx_subtasks_status ON subtasks(task_id, status);

	CREATE TABLE IF NOT EXISTS strm_logs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id     INTEGER NOT NULL,
		level       TEXT NOT NULL,
		message     TEXT NOT NULL,
		source_path TEXT NOT NULL DEFAULT '',
		target_path TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		success     BOOLEAN NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_strm_logs_task ON strm_logs(task_id);

	CREATE TABLE IF NOT EXISTS download_logs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id     INTEGER NOT NULL,
		level       TEXT NOT NULL,
		message     TEXT NOT NULL,
		source_path TEXT NOT NULL DEFAULT '',
		target_path TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL DEFAULT '',
		size        INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		throughput  REAL NOT NULL DEFAULT 0,
		success     BOOLEAN NOT NULL DEFAULT 0,
		error       TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_download_logs_task ON download_logs(task_id);

	CREATE TABLE IF NOT EXISTS idempotency (
		key        TEXT PRIMARY KEY,
		ref_id     INTEGER NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS leases (
		key        TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Close() error { return s.DB.Close() }

// --- time helpers: store as RFC3339, nil *time.Time as NULL ---

func timeToNull(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// --- Settings (a single row, id=1) ---

func (s *SqliteStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var version int64
	var payload string
	err := s.DB.QueryRowContext(ctx, `SELECT version, payload FROM settings WHERE id = 1`).Scan(&version, &payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var set model.Settings
	if err := json.Unmarshal([]byte(payload), &set); err != nil {
		return nil, err
	}
	set.ID = 1
	set.Version = version
	return &set, nil
}

func (s *SqliteStore) PutSettings(ctx context.Context, set *model.Settings) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO settings (id, version, payload) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version, payload = excluded.payload
	`, set.Version, payload)
	return err
}

// --- MediaServer ---

func (s *SqliteStore) PutMediaServer(ctx context.Context, m *model.MediaServer) error {
	if m.ID == 0 {
		res, err := s.DB.ExecContext(ctx, `
			INSERT INTO media_servers (name, kind, base_url, username, password, last_reachable, last_checked_at, created_by_userid)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, m.Name, string(m.Kind), m.BaseURL, m.Username, m.Password, m.LastReachable, timeToNull(&m.LastCheckedAt), m.CreatedByUserID)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		m.ID = id
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO media_servers (id, name, kind, base_url, username, password, last_reachable, last_checked_at, created_by_userid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, kind = excluded.kind, base_url = excluded.base_url,
			username = excluded.username, password = excluded.password,
			last_reachable = excluded.last_reachable, last_checked_at = excluded.last_checked_at,
			created_by_userid = excluded.created_by_userid
	`, m.ID, m.Name, string(m.Kind), m.BaseURL, m.Username, m.Password, m.LastReachable, timeToNull(&m.LastCheckedAt), m.CreatedByUserID)
	return err
}

func scanMediaServer(row interface {
	Scan(dest ...any) error
}) (*model.MediaServer, error) {
	var m model.MediaServer
	var kind string
	var lastChecked sql.NullString
	err := row.Scan(&m.ID, &m.Name, &kind, &m.BaseURL, &m.Username, &m.Password, &m.LastReachable, &lastChecked, &m.CreatedByUserID)
	if err != nil {
		return nil, err
	}
	m.Kind = model.ServerKind(kind)
	if t := nullToTime(lastChecked); t != nil {
		m.LastCheckedAt = *t
	}
	return &m, nil
}

func (s *SqliteStore) GetMediaServer(ctx context.Context, id int64) (*model.MediaServer, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, kind, base_url, username, password, last_reachable, last_checked_at, created_by_userid
		FROM media_servers WHERE id = ?
	`, id)
	m, err := scanMediaServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func (s *SqliteStore) ListMediaServers(ctx context.Context) ([]*model.MediaServer, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, name, kind, base_url, username, password, last_reachable, last_checked_at, created_by_userid
		FROM media_servers ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.MediaServer
	for rows.Next() {
		m, err := scanMediaServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SqliteStore) DeleteMediaServer(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM media_servers WHERE id = ?`, id)
	return err
}

// --- UploadRecord ---

func (s *SqliteStore) PutUpload(ctx context.Context, u *model.UploadRecord) error {
	parsed, err := marshalParsed(u.Parsed)
	if err != nil {
		return err
	}
	if u.ID == 0 {
		res, err := s.DB.ExecContext(ctx, `
			INSERT INTO uploads (original_name, byte_size, blob, legacy_path, owner_user_id, state, parsed, parsed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, u.OriginalName, u.ByteSize, u.Blob, u.LegacyPath, u.OwnerUserID, string(u.State), parsed, timeToNull(&u.ParsedAt))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		u.ID = id
		return nil
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO uploads (id, original_name, byte_size, blob, legacy_path, owner_user_id, state, parsed, parsed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			original_name = excluded.original_name, byte_size = excluded.byte_size, blob = excluded.blob,
			legacy_path = excluded.legacy_path, owner_user_id = excluded.owner_user_id,
			state = excluded.state, parsed = excluded.parsed, parsed_at = excluded.parsed_at
	`, u.ID, u.OriginalName, u.ByteSize, u.Blob, u.LegacyPath, u.OwnerUserID, string(u.State), parsed, timeToNull(&u.ParsedAt))
	return err
}

func marshalParsed(p *model.ParseResult) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func scanUpload(row interface {
	Scan(dest ...any) error
}) (*model.UploadRecord, error) {
	var u model.UploadRecord
	var state string
	var parsed, parsedAt sql.NullString
	err := row.Scan(&u.ID, &u.OriginalName, &u.ByteSize, &u.Blob, &u.LegacyPath, &u.OwnerUserID, &state, &parsed, &parsedAt)
	if err != nil {
		return nil, err
	}
	u.State = model.UploadState(state)
	if parsed.Valid {
		var pr model.ParseResult
		if err := json.Unmarshal([]byte(parsed.String), &pr); err != nil {
			return nil, err
		}
		u.Parsed = &pr
	}
	if t := nullToTime(parsedAt); t != nil {
		u.ParsedAt = *t
	}
	return &u, nil
}

func (s *SqliteStore) GetUpload(ctx context.Context, id int64) (*model.UploadRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, original_name, byte_size, blob, legacy_path, owner_user_id, state, parsed, parsed_at
		FROM uploads WHERE id = ?
	`, id)
	u, err := scanUpload(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *SqliteStore) UpdateUpload(ctx context.Context, id int64, fn func(*model.UploadRecord) error) (*model.UploadRecord, error) {
	u, err := s.GetUpload(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	if err := s.PutUpload(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// --- Task ---

func marshalCounters(c model.TaskCounters) (string, error) {
	b, err := json.Marshal(c)
	return string(b), err
}

func unmarshalCounters(raw string) (model.TaskCounters, error) {
	var c model.TaskCounters
	if raw == "" {
		return c, nil
	}
	err := json.Unmarshal([]byte(raw), &c)
	return c, err
}

func (s *SqliteStore) PutTask(ctx context.Context, t *model.Task) error {
	return s.putTaskTx(ctx, s.DB, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SqliteStore) putTaskTx(ctx context.Context, db execer, t *model.Task) error {
	counters, err := marshalCounters(t.Counters)
	if err != nil {
		return err
	}
	if t.ID == 0 {
		res, err := db.ExecContext(ctx, `
			INSERT INTO tasks (name, status, media_server_id, download_server_id, source_upload_id, output_dir,
				counters, worker_count, started_at, ended_at, last_heartbeat, log_content, owner_user_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.Name, string(t.Status), t.MediaServerID, t.DownloadServerID, t.SourceUploadID, t.OutputDir,
			counters, t.WorkerCount, timeToNull(t.StartedAt), timeToNull(t.EndedAt), timeToNull(t.LastHeartbeat),
			t.LogContent, t.OwnerUserID)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		t.ID = id
		return nil
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tasks (id, name, status, media_server_id, download_server_id, source_upload_id, output_dir,
			counters, worker_count, started_at, ended_at, last_heartbeat, log_content, owner_user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, status = excluded.status, media_server_id = excluded.media_server_id,
			download_server_id = excluded.download_server_id, source_upload_id = excluded.source_upload_id,
			output_dir = excluded.output_dir, counters = excluded.counters, worker_count = excluded.worker_count,
			started_at = excluded.started_at, ended_at = excluded.ended_at, last_heartbeat = excluded.last_heartbeat,
			log_content = excluded.log_content, owner_user_id = excluded.owner_user_id
	`, t.ID, t.Name, string(t.Status), t.MediaServerID, t.DownloadServerID, t.SourceUploadID, t.OutputDir,
		counters, t.WorkerCount, timeToNull(t.StartedAt), timeToNull(t.EndedAt), timeToNull(t.LastHeartbeat),
		t.LogContent, t.OwnerUserID)
	return err
}

func (s *SqliteStore) PutTaskWithIdempotency(ctx context.Context, t *model.Task, idemKey string, ttl time.Duration) (int64, bool, error) {
	if idemKey == "" {
		if err := s.PutTask(ctx, t); err != nil {
			return 0, false, err
		}
		return t.ID, false, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var existingID int64
	var expiresAt string
	err = tx.QueryRowContext(ctx, `SELECT ref_id, expires_at FROM idempotency WHERE key = ?`, idemKey).Scan(&existingID, &expiresAt)
	if err == nil {
		if exp, perr := time.Parse(time.RFC3339Nano, expiresAt); perr == nil && now.Before(exp) {
			return existingID, true, tx.Commit()
		}
	} else if err != sql.ErrNoRows {
		return 0, false, err
	}

	if err := s.putTaskTx(ctx, tx, t); err != nil {
		return 0, false, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO idempotency (key, ref_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET ref_id = excluded.ref_id, expires_at = excluded.expires_at
	`, idemKey, t.ID, now.Add(ttl).Format(time.RFC3339Nano))
	if err != nil {
		return 0, false, err
	}
	return t.ID, false, tx.Commit()
}

func scanTask(row interface {
	Scan(dest ...any) error
}) (*model.Task, error) {
	var t model.Task
	var status, counters string
	var startedAt, endedAt, heartbeat sql.NullString
	err := row.Scan(&t.ID, &t.Name, &status, &t.MediaServerID, &t.DownloadServerID, &t.SourceUploadID, &t.OutputDir,
		&counters, &t.WorkerCount, &startedAt, &endedAt, &heartbeat, &t.LogContent, &t.OwnerUserID)
	if err != nil {
		return nil, err
	}
	t.Status = model.TaskStatus(status)
	t.Counters, err = unmarshalCounters(counters)
	if err != nil {
		return nil, err
	}
	t.StartedAt = nullToTime(startedAt)
	t.EndedAt = nullToTime(endedAt)
	t.LastHeartbeat = nullToTime(heartbeat)
	return &t, nil
}

const taskColumns = `id, name, status, media_server_id, download_server_id, source_upload_id, output_dir,
	counters, worker_count, started_at, ended_at, last_heartbeat, log_content, owner_user_id`

func (s *SqliteStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (s *SqliteStore) UpdateTask(ctx context.Context, id int64, fn func(*model.Task) error) (*model.Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := s.putTaskTx(ctx, tx, t); err != nil {
		return nil, err
	}
	return t, tx.Commit()
}

func (s *SqliteStore) ListTasks(ctx context.Context, ownerUserID int64) ([]*model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if ownerUserID != 0 {
		query += ` WHERE owner_user_id = ?`
		args = append(args, ownerUserID)
	}
	query += ` ORDER BY id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SqliteStore) DeleteTask(ctx context.Context, id int64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// --- SubTask ---

func (s *SqliteStore) PutSubTasks(ctx context.Context, subs []*model.SubTask) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, sub := range subs {
		if err := putSubTaskTx(ctx, tx, sub); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func putSubTaskTx(ctx context.Context, tx *sql.Tx, sub *model.SubTask) error {
	if sub.ID == 0 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO subtasks (task_id, source_path, target_path, category, process_kind, status, priority,
				attempts, max_attempts, file_size, download_started_at, download_completed_at, duration_ms,
				bytes_per_sec, worker_id, error_message, retry_after)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sub.TaskID, sub.SourcePath, sub.TargetPath, string(sub.Category), string(sub.ProcessKind), string(sub.Status),
			sub.Priority, sub.Attempts, sub.MaxAttempts, sub.FileSize, timeToNull(sub.DownloadStartedAt),
			timeToNull(sub.DownloadCompletedAt), sub.DurationMS, sub.BytesPerSec, sub.WorkerID, sub.ErrorMessage,
			timeToNull(sub.RetryAfter))
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		sub.ID = id
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO subtasks (id, task_id, source_path, target_path, category, process_kind, status, priority,
			attempts, max_attempts, file_size, download_started_at, download_completed_at, duration_ms,
			bytes_per_sec, worker_id, error_message, retry_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id, source_path = excluded.source_path, target_path = excluded.target_path,
			category = excluded.category, process_kind = excluded.process_kind, status = excluded.status,
			priority = excluded.priority, attempts = excluded.attempts, max_attempts = excluded.max_attempts,
			file_size = excluded.file_size, download_started_at = excluded.download_started_at,
			download_completed_at = excluded.download_completed_at, duration_ms = excluded.duration_ms,
			bytes_per_sec = excluded.bytes_per_sec, worker_id = excluded.worker_id,
			error_message = excluded.error_message, retry_after = excluded.retry_after
	`, sub.ID, sub.TaskID, sub.SourcePath, sub.TargetPath, string(sub.Category), string(sub.ProcessKind), string(sub.Status),
		sub.Priority, sub.Attempts, sub.MaxAttempts, sub.FileSize, timeToNull(sub.DownloadStartedAt),
		timeToNull(sub.DownloadCompletedAt), sub.DurationMS, sub.BytesPerSec, sub.WorkerID, sub.ErrorMessage,
		timeToNull(sub.RetryAfter))
	return err
}

const subTaskColumns = `id, task_id, source_path, target_path, category, process_kind, status, priority,
	attempts, max_attempts, file_size, download_started_at, download_completed_at, duration_ms,
	bytes_per_sec, worker_id, error_message, retry_after`

func scanSubTask(row interface {
	Scan(dest ...any) error
}) (*model.SubTask, error) {
	var sub model.SubTask
	var category, kind, status string
	var downloadStarted, downloadCompleted, retryAfter sql.NullString
	err := row.Scan(&sub.ID, &sub.TaskID, &sub.SourcePath, &sub.TargetPath, &category, &kind, &status, &sub.Priority,
		&sub.Attempts, &sub.MaxAttempts, &sub.FileSize, &downloadStarted, &downloadCompleted, &sub.DurationMS,
		&sub.BytesPerSec, &sub.WorkerID, &sub.ErrorMessage, &retryAfter)
	if err != nil {
		return nil, err
	}
	sub.Category = model.FileCategory(category)
	sub.ProcessKind = model.ProcessKind(kind)
	sub.Status = model.SubTaskStatus(status)
	sub.DownloadStartedAt = nullToTime(downloadStarted)
	sub.DownloadCompletedAt = nullToTime(downloadCompleted)
	sub.RetryAfter = nullToTime(retryAfter)
	return &sub, nil
}

func (s *SqliteStore) GetSubTask(ctx context.Context, id int64) (*model.SubTask, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+subTaskColumns+` FROM subtasks WHERE id = ?`, id)
	sub, err := scanSubTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

func (s *SqliteStore) UpdateSubTask(ctx context.Context, id int64, fn func(*model.SubTask) error) (*model.SubTask, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+subTaskColumns+` FROM subtasks WHERE id = ?`, id)
	sub, err := scanSubTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fn(sub); err != nil {
		return nil, err
	}
	if err := putSubTaskTx(ctx, tx, sub); err != nil {
		return nil, err
	}
	return sub, tx.Commit()
}

func (s *SqliteStore) ListSubTasks(ctx context.Context, filter SubTaskFilter) ([]*model.SubTask, error) {
	query := `SELECT ` + subTaskColumns + ` FROM subtasks WHERE 1=1`
	var args []any

	if filter.TaskID != 0 {
		query += ` AND task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.ProcessKind != "" {
		query += ` AND process_kind = ?`
		args = append(args, string(filter.ProcessKind))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY id`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SubTask
	for rows.Next() {
		sub, err := scanSubTask(rows)
		if err != nil {
			return nil, err
		}
		// RetryAfter filtering cannot be pushed into SQL cleanly alongside a
		// caller-supplied "Now": applied in-process to match MemoryStore.
		if sub.Status == model.SubRetry && sub.RetryAfter != nil && !filter.Now.IsZero() && sub.RetryAfter.After(filter.Now) {
			continue
		}
		out = append(out, sub)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SqliteStore) DeleteSubTasks(ctx context.Context, taskID int64) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id = ?`, taskID)
	return err
}

// --- Append-only logs ---

func (s *SqliteStore) AppendTaskLogLine(ctx context.Context, taskID int64, level model.LogLevel, line string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var content string
	err = tx.QueryRowContext(ctx, `SELECT log_content FROM tasks WHERE id = ?`, taskID).Scan(&content)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	prefix := ""
	if content != "" {
		prefix = content + "\n"
	}
	content = prefix + string(level) + ": " + line

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET log_content = ? WHERE id = ?`, content, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) AppendStrmLog(ctx context.Context, e *model.StrmLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO strm_logs (task_id, level, message, source_path, target_path, category, duration_ms, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.TaskID, string(e.Level), e.Message, e.SourcePath, e.TargetPath, string(e.Category), e.DurationMS, e.Success, e.Error,
		e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (s *SqliteStore) AppendDownloadLog(ctx context.Context, e *model.DownloadLog) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO download_logs (task_id, level, message, source_path, target_path, category, size, duration_ms, throughput, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.TaskID, string(e.Level), e.Message, e.SourcePath, e.TargetPath, string(e.Category), e.Size, e.DurationMS, e.Throughput,
		e.Success, e.Error, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (s *SqliteStore) ListStrmLogs(ctx context.Context, taskID int64) ([]*model.StrmLog, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, level, message, source_path, target_path, category, duration_ms, success, error, created_at
		FROM strm_logs WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.StrmLog
	for rows.Next() {
		var e model.StrmLog
		var level, category, createdAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &level, &e.Message, &e.SourcePath, &e.TargetPath, &category,
			&e.DurationMS, &e.Success, &e.Error, &createdAt); err != nil {
			return nil, err
		}
		e.Level = model.LogLevel(level)
		e.Category = model.FileCategory(category)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *SqliteStore) ListDownloadLogs(ctx context.Context, taskID int64) ([]*model.DownloadLog, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, level, message, source_path, target_path, category, size, duration_ms, throughput, success, error, created_at
		FROM download_logs WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.DownloadLog
	for rows.Next() {
		var e model.DownloadLog
		var level, category, createdAt string
		if err := rows.Scan(&e.ID, &e.TaskID, &level, &e.Message, &e.SourcePath, &e.TargetPath, &category, &e.Size,
			&e.DurationMS, &e.Throughput, &e.Success, &e.Error, &createdAt); err != nil {
			return nil, err
		}
		e.Level = model.LogLevel(level)
		e.Category = model.FileCategory(category)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- Idempotency window (generic) ---

func (s *SqliteStore) PutIdempotency(ctx context.Context, key string, id int64, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	exp := time.Now().UTC().Add(ttl).Format(time.RFC3339Nano)
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO idempotency (key, ref_id, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET ref_id = excluded.ref_id, expires_at = excluded.expires_at
	`, key, id, exp)
	return err
}

func (s *SqliteStore) GetIdempotency(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	var id int64
	var expiresAt string
	err := s.DB.QueryRowContext(ctx, `SELECT ref_id, expires_at FROM idempotency WHERE key = ?`, key).Scan(&id, &expiresAt)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	exp, perr := time.Parse(time.RFC3339Nano, expiresAt)
	if perr != nil || time.Now().After(exp) {
		_, _ = s.DB.ExecContext(ctx, `DELETE FROM idempotency WHERE key = ?`, key)
		return 0, false, nil
	}
	return id, true, nil
}

// --- Leases (single-writer) ---

type sqliteLease struct {
	key   string
	owner string
	exp   time.Time
}

func (l *sqliteLease) Key() string          { return l.key }
func (l *sqliteLease) Owner() string        { return l.owner }
func (l *sqliteLease) ExpiresAt() time.Time { return l.exp }

func (s *SqliteStore) TryAcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	deadline := now.Add(ttl)

	var curOwner, expiresAt string
	err = tx.QueryRowContext(ctx, `SELECT owner, expires_at FROM leases WHERE key = ?`, key).Scan(&curOwner, &expiresAt)
	switch {
	case err == sql.ErrNoRows:
		// fall through to insert
	case err != nil:
		return nil, false, err
	default:
		exp, _ := time.Parse(time.RFC3339Nano, expiresAt)
		if now.Before(exp) && curOwner != owner {
			return nil, false, tx.Commit()
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leases (key, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
	`, key, owner, deadline.Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &sqliteLease{key: key, owner: owner, exp: deadline}, true, nil
}

func (s *SqliteStore) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("state store: invalid ttl")
	}
	exp := time.Now().UTC().Add(ttl)
	res, err := s.DB.ExecContext(ctx, `
		UPDATE leases SET expires_at = ? WHERE key = ? AND owner = ?
	`, exp.Format(time.RFC3339Nano), key, owner)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, false, nil
	}
	return &sqliteLease{key: key, owner: owner, exp: exp}, true, nil
}

func (s *SqliteStore) ReleaseLease(ctx context.Context, key, owner string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM leases WHERE key = ? AND owner = ?`, key, owner)
	return err
}

func (s *SqliteStore) DeleteAllLeases(ctx context.Context) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM leases`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
