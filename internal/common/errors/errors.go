package errors

import (
	"errors"
)

var (
	// General Errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrFileNotFound    = errors.New("file not found")

	// Pipeline step errors, one per step that can fail
	ErrTraining     = errors.New("training failed")
	ErrEvaluation   = errors.New("evaluation failed")
	ErrDeployment   = errors.New("deployment failed")
	ErrNotification = errors.New("notification failed")

	// Gate Errors
	ErrInvalidMetrics        = errors.New("metrics record is incomplete or out of range")
	ErrInvalidGateTransition = errors.New("invalid gate state transition")

	// Artifact Errors
	ErrUnsupportedCompression = errors.New("unsupported compression format")
	ErrInvalidArchive         = errors.New("archive file is corrupted or unsupported")
	ErrChecksumMismatch       = errors.New("artifact checksum mismatch")
	ErrInvalidHasher          = errors.New("invalid hasher")

	// DAG Errors
	ErrDuplicateTask     = errors.New("task already registered")
	ErrUnknownTask       = errors.New("unknown task")
	ErrInvalidBranch     = errors.New("invalid branch")
	ErrTaskOutputMissing = errors.New("task output not available")
	ErrRunInProgress     = errors.New("a pipeline run is already in progress")
	ErrRunNotFound       = errors.New("run not found")

	// Configuration Errors
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrNotConfigured = errors.New("required setting not configured")
)
