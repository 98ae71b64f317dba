// Package telemetry provides OpenTelemetry tracing utilities for strmforge task processing.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// Task attributes
	TaskIDKey     = "strm.task_id"
	TaskStatusKey = "strm.task_status"
	TaskServerKey = "strm.server_id"

	// Batch attributes
	BatchIndexKey = "strm.batch_index"
	BatchSizeKey  = "strm.batch_size"

	// SubTask attributes
	SubTaskProcessKey = "strm.process_type"
	SubTaskAttemptKey = "strm.attempt"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// TaskAttributes creates span attributes describing a Task.
func TaskAttributes(taskID, status string, serverID int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(TaskIDKey, taskID),
		attribute.String(TaskStatusKey, status),
		attribute.Int64(TaskServerKey, serverID),
	}
}

// BatchAttributes creates span attributes describing a Processor batch.
func BatchAttributes(index, size int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(BatchIndexKey, index),
		attribute.Int(BatchSizeKey, size),
	}
}

// SubTaskAttributes creates span attributes describing a SubTask attempt.
func SubTaskAttributes(processType string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SubTaskProcessKey, processType),
		attribute.Int(SubTaskAttemptKey, attempt),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
