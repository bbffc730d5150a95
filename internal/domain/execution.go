package domain

import "time"

type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
)

// ExecutionRecord is the audit entry of one attempted run. It is created in
// the failed state when the run starts and updated once when it ends.
type ExecutionRecord struct {
	ID        int64
	JobID     int64
	Status    ExecutionStatus
	Details   string
	FileSize  *int64
	CreatedAt time.Time
}
