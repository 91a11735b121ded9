package models

import (
	"time"

	"gorm.io/datatypes"
)

// TaskResult is the outcome of one task in one run.
type TaskResult struct {
	TaskName   string `json:"taskName"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// TaskRun is one invocation of the runner, persisted for inspection.
type TaskRun struct {
	ID         string                          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Trigger    string                          `gorm:"type:varchar(16);not null" json:"trigger"`
	Attempt    int                             `gorm:"default:1" json:"attempt"`
	StartedAt  time.Time                       `gorm:"not null;index" json:"started_at"`
	FinishedAt *time.Time                      `json:"finished_at,omitempty"`
	Succeeded  int                             `json:"succeeded"`
	Failed     int                             `json:"failed"`
	FatalError string                          `gorm:"type:text" json:"fatal_error,omitempty"`
	Results    datatypes.JSONSlice[TaskResult] `json:"results"`
	ReportURL  string                          `json:"report_url,omitempty"`
}
