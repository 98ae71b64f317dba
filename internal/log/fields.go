// Package log provides structured logging utilities.
package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldTaskID        = "task_id"
	FieldSubTaskID     = "subtask_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldUploadID      = "upload_id"
	FieldServerID      = "server_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldWorker    = "worker"
	FieldAttempt   = "attempt"
	FieldBatch     = "batch"

	// Path / URL fields
	FieldVirtualPath = "virtual_path"
	FieldOutputPath  = "output_path"
	FieldBaseURL     = "base_url"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"

	// Transfer fields
	FieldBytes      = "bytes"
	FieldDurationMS = "duration_ms"
	FieldThroughput = "throughput"
)
