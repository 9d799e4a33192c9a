package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusPending     = "pending"
	StatusGenerating  = "generating"
	StatusAuditing    = "auditing"
	StatusCorrecting  = "correcting"
	StatusNeedsReview = "needs_review"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
)

// JobTTL is how long a job record lives; expires_at is computed once at
// creation and never extended.
const JobTTL = 24 * time.Hour

// MaxIdempotencyKeyLen bounds the client-supplied dedup token.
const MaxIdempotencyKeyLen = 64

type Job struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BrandID         uuid.UUID      `gorm:"type:uuid;not null;index" json:"brand_id"`
	Status          string         `gorm:"column:status;not null;index" json:"status"`
	Progress        int            `gorm:"column:progress;not null;default:0" json:"progress"`
	State           datatypes.JSON `gorm:"column:state;type:jsonb" json:"state"`
	WebhookURL      string         `gorm:"column:webhook_url" json:"webhook_url,omitempty"`
	WebhookAttempts int            `gorm:"column:webhook_attempts;not null;default:0" json:"webhook_attempts"`
	IdempotencyKey  *string        `gorm:"column:idempotency_key;size:64;uniqueIndex" json:"idempotency_key,omitempty"`
	Error           string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt       time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;index" json:"updated_at"`
	ExpiresAt       time.Time      `gorm:"not null;index" json:"expires_at"`
}

func (Job) TableName() string { return "job" }

// IsTerminal reports whether status ends the automaton for good.
// needs_review is terminal for the workflow loop but still cancellable
// and resumable, so it is deliberately not included here.
func IsTerminal(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsCancellable reports whether a cancel request on status is valid.
func IsCancellable(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case StatusPending, StatusGenerating, StatusAuditing, StatusCorrecting, StatusNeedsReview:
		return true
	default:
		return false
	}
}
