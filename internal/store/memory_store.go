package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jiqinga/strmforge/internal/model"
)

// MemoryStore is an in-memory StateStore intended for tests and local
// iteration. Not durable; not suitable for production.
type MemoryStore struct {
	mu sync.RWMutex

	settings *model.Settings
	servers  map[int64]*model.MediaServer
	uploads  map[int64]*model.UploadRecord
	tasks    map[int64]*model.Task
	subtasks map[int64]*model.SubTask

	strmLogs     map[int64][]*model.StrmLog
	downloadLogs map[int64][]*model.DownloadLog

	leases map[string]leaseState
	idem   map[string]idemState

	nextServer      atomic.Int64
	nextUpload      atomic.Int64
	nextTask        atomic.Int64
	nextSubTask     atomic.Int64
	nextStrmLog     atomic.Int64
	nextDownloadLog atomic.Int64
}

type leaseState struct {
	owner string
	exp   time.Time
}

type idemState struct {
	id  int64
	exp time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		servers:      make(map[int64]*model.MediaServer),
		uploads:      make(map[int64]*model.UploadRecord),
		tasks:        make(map[int64]*model.Task),
		subtasks:     make(map[int64]*model.SubTask),
		strmLogs:     make(map[int64][]*model.StrmLog),
		downloadLogs: make(map[int64][]*model.DownloadLog),
		leases:       make(map[string]leaseState),
		idem:         make(map[string]idemState),
	}
}

func (m *MemoryStore) Close() error { return nil }

// --- Settings ---

func (m *MemoryStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	cp := *m.settings
	return &cp, nil
}

func (m *MemoryStore) PutSettings(ctx context.Context, s *model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.settings = &cp
	return nil
}

// --- MediaServer ---

func (m *MemoryStore) PutMediaServer(ctx context.Context, s *model.MediaServer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		s.ID = m.nextServer.Add(1)
	}
	cp := *s
	m.servers[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetMediaServer(ctx context.Context, id int64) (*model.MediaServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListMediaServers(ctx context.Context) ([]*model.MediaServer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*model.MediaServer, 0, len(m.servers))
	for _, s := range m.servers {
		cp := *s
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *MemoryStore) DeleteMediaServer(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, id)
	return nil
}

// --- UploadRecord ---

func (m *MemoryStore) PutUpload(ctx context.Context, u *model.UploadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.nextUpload.Add(1)
	}
	cp := *u
	m.uploads[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUpload(ctx context.Context, id int64) (*model.UploadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) UpdateUpload(ctx context.Context, id int64, fn func(*model.UploadRecord) error) (*model.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.uploads[id] = &cp
	return &cp, nil
}

// --- Task ---

func (m *MemoryStore) PutTask(ctx context.Context, t *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.nextTask.Add(1)
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *MemoryStore) PutTaskWithIdempotency(ctx context.Context, t *model.Task, idemKey string, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if idemKey != "" {
		if st, ok := m.idem[idemKey]; ok {
			if now.Before(st.exp) {
				return st.id, true, nil
			}
			delete(m.idem, idemKey)
		}
	}

	if t.ID == 0 {
		t.ID = m.nextTask.Add(1)
	}
	cp := *t
	m.tasks[t.ID] = &cp

	if idemKey != "" {
		m.idem[idemKey] = idemState{id: t.ID, exp: now.Add(ttl)}
	}
	return t.ID, false, nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id int64) (*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateTask(ctx context.Context, id int64, fn func(*model.Task) error) (*model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.tasks[id] = &cp
	return &cp, nil
}

func (m *MemoryStore) ListTasks(ctx context.Context, ownerUserID int64) ([]*model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if ownerUserID != 0 && t.OwnerUserID != ownerUserID {
			continue
		}
		cp := *t
		list = append(list, &cp)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *MemoryStore) DeleteTask(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	for subID, sub := range m.subtasks {
		if sub.TaskID == id {
			delete(m.subtasks, subID)
		}
	}
	return nil
}

// --- SubTask ---

func (m *MemoryStore) PutSubTasks(ctx context.Context, subs []*model.SubTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range subs {
		if s.ID == 0 {
			s.ID = m.nextSubTask.Add(1)
		}
		cp := *s
		m.subtasks[s.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) GetSubTask(ctx context.Context, id int64) (*model.SubTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subtasks[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) UpdateSubTask(ctx context.Context, id int64, fn func(*model.SubTask) error) (*model.SubTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subtasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.subtasks[id] = &cp
	return &cp, nil
}

func (m *MemoryStore) ListSubTasks(ctx context.Context, filter SubTaskFilter) ([]*model.SubTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statusMatch := make(map[model.SubTaskStatus]bool, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statusMatch[st] = true
	}

	var result []*model.SubTask
	for _, s := range m.subtasks {
		if filter.TaskID != 0 && s.TaskID != filter.TaskID {
			continue
		}
		if filter.ProcessKind != "" && s.ProcessKind != filter.ProcessKind {
			continue
		}
		if len(filter.Statuses) > 0 && !statusMatch[s.Status] {
			continue
		}
		if s.Status == model.SubRetry && s.RetryAfter != nil && !filter.Now.IsZero() && s.RetryAfter.After(filter.Now) {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) DeleteSubTasks(ctx context.Context, taskID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.subtasks {
		if s.TaskID == taskID {
			delete(m.subtasks, id)
		}
	}
	return nil
}

// --- Append-only logs ---

func (m *MemoryStore) AppendTaskLogLine(ctx context.Context, taskID int64, level model.LogLevel, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	cp := *t
	prefix := ""
	if cp.LogContent != "" {
		prefix = cp.LogContent + "\n"
	}
	cp.LogContent = prefix + string(level) + ": " + line
	m.tasks[taskID] = &cp
	return nil
}

func (m *MemoryStore) AppendStrmLog(ctx context.Context, entry *model.StrmLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == 0 {
		entry.ID = m.nextStrmLog.Add(1)
	}
	cp := *entry
	m.strmLogs[entry.TaskID] = append(m.strmLogs[entry.TaskID], &cp)
	return nil
}

func (m *MemoryStore) AppendDownloadLog(ctx context.Context, entry *model.DownloadLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == 0 {
		entry.ID = m.nextDownloadLog.Add(1)
	}
	cp := *entry
	m.downloadLogs[entry.TaskID] = append(m.downloadLogs[entry.TaskID], &cp)
	return nil
}

func (m *MemoryStore) ListStrmLogs(ctx context.Context, taskID int64) ([]*model.StrmLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.strmLogs[taskID]
	out := make([]*model.StrmLog, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (m *MemoryStore) ListDownloadLogs(ctx context.Context, taskID int64) ([]*model.DownloadLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.downloadLogs[taskID]
	out := make([]*model.DownloadLog, len(src))
	for i, e := range src {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// --- Idempotency window ---

func (m *MemoryStore) PutIdempotency(ctx context.Context, key string, id int64, ttl time.Duration) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	m.idem[key] = idemState{id: id, exp: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetIdempotency(ctx context.Context, key string) (int64, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	now := time.Now()
	m.mu.Lock()
	st, ok := m.idem[key]
	if ok && now.After(st.exp) {
		delete(m.idem, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return 0, false, nil
	}
	return st.id, true, nil
}

// --- Leases ---

type memoryLease struct {
	key   string
	owner string
	exp   time.Time
}

func (l *memoryLease) Key() string          { return l.key }
func (l *memoryLease) Owner() string        { return l.owner }
func (l *memoryLease) ExpiresAt() time.Time { return l.exp }

func (m *MemoryStore) TryAcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error) {
	now := time.Now()
	deadline := now.Add(ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	ls, ok := m.leases[key]
	if ok && now.After(ls.exp) {
		delete(m.leases, key)
		ok = false
	}
	if ok {
		if ls.owner == owner {
			ls.exp = deadline
			m.leases[key] = ls
			return &memoryLease{key: key, owner: owner, exp: deadline}, true, nil
		}
		return nil, false, nil
	}
	m.leases[key] = leaseState{owner: owner, exp: deadline}
	return &memoryLease{key: key, owner: owner, exp: deadline}, true, nil
}

func (m *MemoryStore) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, errors.New("invalid ttl")
	}
	now := time.Now()
	exp := now.Add(ttl)
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.leases[key]
	if !ok || st.owner != owner {
		return nil, false, nil
	}
	st.exp = exp
	m.leases[key] = st
	return &memoryLease{key: key, owner: owner, exp: exp}, true, nil
}

func (m *MemoryStore) ReleaseLease(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.leases[key]; ok && st.owner == owner {
		delete(m.leases, key)
	}
	return nil
}

func (m *MemoryStore) DeleteAllLeases(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := len(m.leases)
	m.leases = make(map[string]leaseState)
	return count, nil
}
