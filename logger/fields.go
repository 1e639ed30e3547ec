package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldDebugID    = "debug_id"
	FieldTrackingID = "tracking_id"

	// Data sets and elements
	FieldDataSet     = "data_set"
	FieldDataSets    = "data_sets"
	FieldLeafCount   = "leaf_count"
	FieldLeafIndexes = "leaf_indexes"
	FieldElementType = "element_type"
	FieldElementID   = "element_id"
	FieldVersion     = "version"
	FieldLocalRoot   = "local_root"
	FieldRemoteRoot  = "remote_root"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldURL       = "url"
	FieldDelayMS   = "delay_ms"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount = "count"

	// Status
	FieldStatus = "status"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	p := &Parser{
//	    logger: logger.ComponentLogger("hashtree"),
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
