package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProcessedFile records the checksum a source file had when it was last loaded.
type ProcessedFile struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	Filename      string       `gorm:"type:varchar(255);not null;uniqueIndex" json:"filename"`
	Checksum      string       `gorm:"type:char(64);not null" json:"checksum"`
	LastProcessed time.Time    `gorm:"not null" json:"last_processed"`
}

func (ProcessedFile) TableName() string { return "processed_files" }

// Mode is how a file is loaded.
type Mode string

const (
	// ModeNew appends rows whose job id is not yet stored for the file.
	ModeNew Mode = "new"
	// ModeModified deletes the file's rows before loading.
	ModeModified Mode = "modified"
	// ModeForce deletes the file's rows before loading regardless of checksum.
	ModeForce Mode = "force"
)

// Replaces reports whether existing rows for the file are deleted first.
func (m Mode) Replaces() bool {
	return m == ModeModified || m == ModeForce
}

// Candidate is a file selected for loading.
type Candidate struct {
	Filename string
	Path     string
	Mode     Mode
}

// FileResult is the outcome of loading one file.
type FileResult struct {
	Filename   string        `json:"filename"`
	Mode       Mode          `json:"mode"`
	Checksum   string        `json:"checksum,omitempty"`
	Lines      int           `json:"lines"`
	Parsed     int           `json:"parsed"`
	Dropped    int           `json:"dropped"`
	Duplicates int           `json:"duplicates"`
	Deleted    int64         `json:"deleted"`
	Inserted   int           `json:"inserted"`
	Wallets    int           `json:"wallets_created"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
}

func (r FileResult) Succeeded() bool { return r.Err == nil }

// RunSummary aggregates the per-file results of one ingestion run.
type RunSummary struct {
	RunID     string       `json:"run_id"`
	StartedAt time.Time    `json:"started_at"`
	Unchanged []string     `json:"unchanged,omitempty"`
	Files     []FileResult `json:"files"`
}

func (s RunSummary) Inserted() int {
	total := 0
	for _, f := range s.Files {
		total += f.Inserted
	}
	return total
}

func (s RunSummary) Failed() int {
	failed := 0
	for _, f := range s.Files {
		if !f.Succeeded() {
			failed++
		}
	}
	return failed
}
