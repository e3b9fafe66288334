package service

import "time"

// Status represents the lifecycle state of a tracked service.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// ProcessStep represents the delivery stage a service is currently in.
type ProcessStep string

const (
	StepAnalysis  ProcessStep = "analysis"
	StepExecution ProcessStep = "execution"
	StepReview    ProcessStep = "review"
	StepDelivered ProcessStep = "delivered"
)

// Record is the domain representation of one tracked service.
// It mirrors the services table and the local-store blob entries and should
// not include JSON annotations tied to a single presentation layer.
type Record struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"ownerId"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Responsible string      `json:"responsible"`
	Status      Status      `json:"status"`
	Step        ProcessStep `json:"step"`
	StartDate   time.Time   `json:"startDate"`
	EndDate     *time.Time  `json:"endDate,omitempty"`
	Result      *string     `json:"result,omitempty"`
	Comments    *string     `json:"comments,omitempty"`
	Images      []string    `json:"images,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Params contains the caller-editable fields for create and update calls.
// Identity, ownership, and timestamps are assigned by the store layer.
type Params struct {
	Title       string
	Description string
	Responsible string
	Status      Status
	Step        ProcessStep
	StartDate   time.Time
	EndDate     *time.Time
	Result      *string
	Comments    *string
	Images      []string
}

func isValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	default:
		return false
	}
}

func isValidStep(s ProcessStep) bool {
	switch s {
	case StepAnalysis, StepExecution, StepReview, StepDelivered:
		return true
	default:
		return false
	}
}
