package models

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. Allowed transitions:
//
//	open -> in_progress -> submitted -> completed | disputed
//	open | in_progress -> cancelled
const (
	JobOpen       = "open"
	JobInProgress = "in_progress"
	JobSubmitted  = "submitted"
	JobCompleted  = "completed"
	JobDisputed   = "disputed"
	JobCancelled  = "cancelled"
)

type Job struct {
	ID           uuid.UUID  `json:"id"`
	ClientID     uuid.UUID  `json:"client_id"`
	FreelancerID *uuid.UUID `json:"freelancer_id,omitempty"`
	Title        string     `json:"title"`
	Budget       int64      `json:"budget"`
	Status       string     `json:"status"`
	EscrowLocked bool       `json:"escrow_locked"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
