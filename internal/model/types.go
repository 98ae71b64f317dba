package model

import "time"

// Settings is the single configuration row consumed by the classifier,
// the Task Aggregate Builder and the background services. Reads return
// an immutable snapshot; writes go through the validator in
// internal/classify before Version is bumped.
type Settings struct {
	ID      int64
	Version int64

	VideoExts    []string
	AudioExts    []string
	ImageExts    []string
	SubtitleExts []string
	MetadataExts []string

	PathRewriteEnabled bool
	PathRewritePrefix  string

	WorkerCount int

	RetryMaxAttempts  int
	RetryBackoffSecs  int

	RecoveryPeriodicCheck       bool
	RecoveryIntervalSecs        int
	RecoveryTaskTimeoutHours    int
	RecoveryHeartbeatTimeoutMin int
	RecoveryActivityWindowMin   int
	RecoveryRecentActivityMin   int

	LogLevel       string
	LogDir         string
	LogRetainDays  int
	LogVerboseSQL  bool

	DefaultMediaServerID    *int64
	DefaultDownloadServerID *int64
}

// MediaServer is a streaming or download origin referenced by Tasks.
type MediaServer struct {
	ID       int64
	Name     string
	Kind     ServerKind
	BaseURL  string
	Username string
	Password string

	LastReachable   bool
	LastCheckedAt   time.Time
	CreatedByUserID int64
}

// ParseEntry is one file (never a directory) discovered by the Tree
// Parser, already typed against a Settings snapshot.
type ParseEntry struct {
	VirtualPath string
	BaseName    string
	Extension   string
	Category    FileCategory
	IsDirectory bool
}

// ParseResult is the cached, versioned output of the Tree Parser,
// embedded inside an UploadRecord.
type ParseResult struct {
	Version int64
	Entries []ParseEntry
	Counts  map[FileCategory]int
}

// UploadRecord is the parser's input envelope: an uploaded tree-export
// blob plus its cached parse result.
type UploadRecord struct {
	ID          int64
	OriginalName string
	ByteSize    int64
	Blob        []byte
	LegacyPath  string
	OwnerUserID int64
	State       UploadState
	Parsed      *ParseResult
	ParsedAt    time.Time
}

// TaskCounters are the eventually-consistent projection of a Task's
// SubTask population. They are never the source of truth; they are
// recomputed from SubTask rows.
type TaskCounters struct {
	Total     int
	Processed int
	Success   int
	Failed    int
}

// Task is the parent aggregate a user creates and the Processor drains.
type Task struct {
	ID     int64
	Name   string
	Status TaskStatus

	MediaServerID    int64
	DownloadServerID *int64

	SourceUploadID int64
	OutputDir      string

	Counters TaskCounters

	WorkerCount int

	StartedAt     *time.Time
	EndedAt       *time.Time
	LastHeartbeat *time.Time

	LogContent string

	OwnerUserID int64
}

// SubTask is one file's unit of work, a child of exactly one Task.
type SubTask struct {
	ID       int64
	TaskID   int64

	SourcePath string
	TargetPath *string

	Category    FileCategory
	ProcessKind ProcessKind
	Status      SubTaskStatus

	Priority int

	Attempts    int
	MaxAttempts int

	FileSize int64

	DownloadStartedAt   *time.Time
	DownloadCompletedAt *time.Time
	DurationMS          int64
	BytesPerSec         float64

	WorkerID     string
	ErrorMessage string
	RetryAfter   *time.Time
}

// LogLevel mirrors the small set of severities the task log and the two
// artifact log streams use.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warning"
	LogError LogLevel = "error"
)

// DownloadLog is an append-only record of one Resource Downloader attempt.
type DownloadLog struct {
	ID         int64
	TaskID     int64
	Level      LogLevel
	Message    string
	SourcePath string
	TargetPath string
	Category   FileCategory
	Size       int64
	DurationMS int64
	Throughput float64
	Success    bool
	Error      string
	CreatedAt  time.Time
}

// StrmLog is an append-only record of one STRM Writer attempt.
type StrmLog struct {
	ID         int64
	TaskID     int64
	Level      LogLevel
	Message    string
	SourcePath string
	TargetPath string
	Category   FileCategory
	DurationMS int64
	Success    bool
	Error      string
	CreatedAt  time.Time
}
