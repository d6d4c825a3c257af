package domain

import (
	"context"
	"errors"
)

type RunRequest struct {
	// File restricts the run to one filename inside the log directory.
	File string
	// Force deletes and reloads File regardless of its checksum.
	Force bool
}

type Service interface {
	Run(context.Context, RunRequest) (RunSummary, error)
	// ClearProcessedFiles forgets every checksum so the next run sees all files as new.
	// Job rows are left in place.
	ClearProcessedFiles(context.Context) (int64, error)
	ClearJobs(context.Context) (int64, error)
	ListProcessedFiles(context.Context) ([]ProcessedFile, error)
}

var (
	ErrFileNotFound       = errors.New("ingest_file_not_found")
	ErrForceRequiresFile  = errors.New("ingest_force_requires_file")
	ErrRunInProgress      = errors.New("ingest_run_in_progress")
	ErrMissingDateColumns = errors.New("ingest_missing_date_columns")
	ErrMissingColumns     = errors.New("ingest_missing_columns")
)
