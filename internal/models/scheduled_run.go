package models

import "time"

// ScheduledRun claims one execution of a daily job. (Job, RunDate) is
// unique, so the replica that inserts the row owns that day's run.
type ScheduledRun struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Job        string     `gorm:"uniqueIndex:idx_scheduled_run_job_date;size:100;not null" json:"job"`
	RunDate    string     `gorm:"uniqueIndex:idx_scheduled_run_job_date;size:10;not null" json:"run_date"` // YYYY-MM-DD, UTC
	Instance   string     `gorm:"size:64" json:"instance"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Processed  int        `json:"processed"`
	LastError  string     `gorm:"type:text" json:"last_error,omitempty"`
}

func (ScheduledRun) TableName() string { return "scheduled_runs" }
