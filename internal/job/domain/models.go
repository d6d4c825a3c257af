// Package domain contains the job record persisted by ingestion.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ResourceType string

const (
	ResourceCPU ResourceType = "CPU"
	ResourceGPU ResourceType = "GPU"
)

// Normalized job status labels. Unrecognized scheduler codes are stored verbatim.
const (
	StatusCompleted    = "COMPLETED"
	StatusUserCanceled = "USER_CANCELED"
	StatusRunning      = "RUNNING"
	StatusFailed       = "FAILED"
	StatusTimeout      = "TIMEOUT"
)

// ClassifyQueue returns GPU when the queue name contains "gpu" in any case.
func ClassifyQueue(queue string) ResourceType {
	if strings.Contains(strings.ToLower(queue), "gpu") {
		return ResourceGPU
	}
	return ResourceCPU
}

// Job is one scheduler accounting record. JobID is unique per SourceFile only;
// the same id may legitimately appear in several source files.
type Job struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	JobID              string            `gorm:"type:varchar(128);not null;uniqueIndex:ux_jobs_source_job,priority:2" json:"job_id"`
	JobName            string            `gorm:"type:varchar(255)" json:"job_name"`
	UserName           string            `gorm:"type:varchar(128);not null;index" json:"user_name"`
	UserGroup          string            `gorm:"type:varchar(128);index" json:"user_group"`
	Queue              string            `gorm:"type:varchar(128);index" json:"queue"`
	Status             string            `gorm:"column:job_status;type:varchar(64)" json:"job_status"`
	Nodes              int64             `gorm:"not null;default:0" json:"nodes"`
	Cores              int64             `gorm:"not null;default:0" json:"cores"`
	Memory             string            `gorm:"type:varchar(64)" json:"memory"`
	MemoryValue        float64           `gorm:"not null;default:0" json:"memory_value"`
	RunTimeSeconds     int64             `gorm:"not null;default:0" json:"run_time_seconds"`
	ElapseLimitSeconds int64             `gorm:"not null;default:0" json:"elapse_limit_seconds"`
	QueueTime          time.Time         `gorm:"not null" json:"queue_time"`
	StartTime          time.Time         `gorm:"not null;index" json:"start_time"`
	ResourceType       ResourceType      `gorm:"type:varchar(8);not null;index" json:"resource_type"`
	WalletName         *string           `gorm:"type:varchar(128);index" json:"wallet_name,omitempty"`
	SourceFile         string            `gorm:"type:varchar(255);not null;uniqueIndex:ux_jobs_source_job,priority:1" json:"source_file"`
	Extra              datatypes.JSONMap `json:"extra,omitempty"`
	CreatedAt          time.Time         `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Job) TableName() string { return "jobs" }

// ResourceSeconds is node-seconds for CPU jobs and core-seconds for GPU jobs.
func (j Job) ResourceSeconds() int64 {
	return ResourceSeconds(j.ResourceType, j.RunTimeSeconds, j.Nodes, j.Cores)
}

// ResourceHours is ResourceSeconds / 3600: node-hours for CPU, core-hours for GPU.
func (j Job) ResourceHours() float64 {
	return float64(j.ResourceSeconds()) / 3600
}

// WaitSeconds is the time the job spent queued.
func (j Job) WaitSeconds() float64 {
	return j.StartTime.Sub(j.QueueTime).Seconds()
}

// ResourceSeconds applies the billing formula for a resource type.
func ResourceSeconds(rt ResourceType, runTime, nodes, cores int64) int64 {
	switch rt {
	case ResourceCPU:
		return runTime * nodes
	case ResourceGPU:
		return runTime * cores
	default:
		return 0
	}
}
