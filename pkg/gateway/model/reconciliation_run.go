package model

import "time"

type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// ReconciliationRun records one pass of the reconciliation loop for audit.
type ReconciliationRun struct {
	ID         int64     `gorm:"primaryKey"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt *time.Time
	Status     RunStatus `gorm:"size:16"`

	FillsBackfilled  int
	OrphansFound     int
	PositionsResync  int
	CASConflicts     int
	OrdersReconciled int

	Error string `gorm:"size:1024"`
}

func (ReconciliationRun) TableName() string { return "reconciliation_runs" }
