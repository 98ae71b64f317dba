// Package model contains the persistent data shapes shared across the
// parser, store, worker, retry, recovery and preview packages.
package model

// TaskStatus is the lifecycle of a Task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCanceled  TaskStatus = "canceled"
)

// IsTerminal reports whether a Task in this status will never transition again
// without an explicit Continue action.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled:
		return true
	}
	return false
}

// SubTaskStatus is the lifecycle of a single SubTask.
type SubTaskStatus string

const (
	SubPending     SubTaskStatus = "pending"
	SubDownloading SubTaskStatus = "downloading"
	SubCompleted   SubTaskStatus = "completed"
	SubFailed      SubTaskStatus = "failed"
	SubCanceled    SubTaskStatus = "canceled"
	SubRetry       SubTaskStatus = "retry"
)

// IsTerminal reports whether a SubTask in this status needs no further work.
func (s SubTaskStatus) IsTerminal() bool {
	switch s {
	case SubCompleted, SubFailed, SubCanceled:
		return true
	}
	return false
}

// ProcessKind selects which handler a SubTask is dispatched to.
type ProcessKind string

const (
	ProcessStrmGeneration ProcessKind = "strm-generation"
	ProcessResourceDownload ProcessKind = "resource-download"
	// ProcessPendingWait is a reserved enum value. No code path in this
	// implementation (nor in the original it is grounded on) ever assigns
	// it; it is kept only so a stored value of "pending-wait" round-trips.
	ProcessPendingWait ProcessKind = "pending-wait"
)

// FileCategory is the typed classification of a tree entry's extension.
type FileCategory string

const (
	CategoryVideo    FileCategory = "video"
	CategoryAudio    FileCategory = "audio"
	CategoryImage    FileCategory = "image"
	CategorySubtitle FileCategory = "subtitle"
	CategoryMetadata FileCategory = "metadata"
	CategoryOther    FileCategory = "other"
)

// ProcessKindFor assigns the process kind for a typed category, per §4.3:
// video -> strm-generation; audio/image/subtitle/metadata -> resource-download;
// other -> no SubTask is created at all (caller must skip it).
func ProcessKindFor(cat FileCategory) ProcessKind {
	if cat == CategoryVideo {
		return ProcessStrmGeneration
	}
	return ProcessResourceDownload
}

// UploadState is the lifecycle of an UploadRecord.
type UploadState string

const (
	UploadUploaded UploadState = "uploaded"
	UploadParsing  UploadState = "parsing"
	UploadParsed   UploadState = "parsed"
	UploadFailed   UploadState = "failed"
)

// ServerKind enumerates the supported MediaServer transports. Dialable
// reports true for http, https, cd2host and xiaoyahost. The worker
// handlers do not check the kind: every MediaServer is reached over HTTP
// through its BaseURL, and no adapter exists for local filesystem / ftp /
// webdav transports here.
type ServerKind string

const (
	ServerHTTP       ServerKind = "http"
	ServerHTTPS      ServerKind = "https"
	ServerCD2Host    ServerKind = "cd2host"
	ServerXiaoyaHost ServerKind = "xiaoyahost"
	ServerFTP        ServerKind = "ftp"
	ServerWebDAV     ServerKind = "webdav"
	ServerLocal      ServerKind = "local"
)

// Dialable reports whether the handlers in this core implement a transport
// for this server kind.
func (k ServerKind) Dialable() bool {
	switch k {
	case ServerHTTP, ServerHTTPS, ServerCD2Host, ServerXiaoyaHost:
		return true
	}
	return false
}
