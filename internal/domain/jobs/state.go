package jobs

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	DecisionApprove    = "approve"
	DecisionTweak      = "tweak"
	DecisionRegenerate = "regenerate"
)

// WorkflowState is the full per-job workflow snapshot persisted in the
// job's state column between steps. Steps never mutate a loaded snapshot
// in place; each transition builds the next snapshot and writes it back
// atomically with the status change.
type WorkflowState struct {
	JobID           string `json:"job_id"`
	BrandID         string `json:"brand_id"`
	Prompt          string `json:"prompt"`
	TemplateID      string `json:"template_id,omitempty"`
	CurrentImageURL string `json:"current_image_url,omitempty"`

	AttemptCount     int               `json:"attempt_count"`
	ComplianceScores []ComplianceScore `json:"compliance_scores"`
	IsApproved       bool              `json:"is_approved"`
	Status           string            `json:"status"`

	UserDecision         string `json:"user_decision,omitempty"`
	UserTweakInstruction string `json:"user_tweak_instruction,omitempty"`
	IsTweak              bool   `json:"is_tweak"`

	// OriginalHadLogos is write-once: set on the first successful generation
	// and preserved verbatim on every later attempt. nil means the job
	// predates the field (treated as false by the logo policy).
	OriginalHadLogos *bool `json:"original_had_logos,omitempty"`

	NeedsReview       bool       `json:"needs_review"`
	ReviewRequestedAt *time.Time `json:"review_requested_at,omitempty"`
	ApprovalOverride  bool       `json:"approval_override"`

	// SessionID is the open generation-model conversation, released when the
	// job terminates into completed or failed.
	SessionID string `json:"session_id,omitempty"`
}

// Clone returns a deep copy so a step can derive the next snapshot without
// aliasing the score history of the one it loaded.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	if s.ComplianceScores != nil {
		out.ComplianceScores = make([]ComplianceScore, len(s.ComplianceScores))
		copy(out.ComplianceScores, s.ComplianceScores)
	}
	if s.OriginalHadLogos != nil {
		v := *s.OriginalHadLogos
		out.OriginalHadLogos = &v
	}
	if s.ReviewRequestedAt != nil {
		t := *s.ReviewRequestedAt
		out.ReviewRequestedAt = &t
	}
	return out
}

// LatestScore returns the most recent compliance score, or nil.
func (s WorkflowState) LatestScore() *ComplianceScore {
	if len(s.ComplianceScores) == 0 {
		return nil
	}
	return &s.ComplianceScores[len(s.ComplianceScores)-1]
}

func (s WorkflowState) Marshal() (datatypes.JSON, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func UnmarshalState(raw datatypes.JSON) (WorkflowState, error) {
	var s WorkflowState
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return WorkflowState{}, err
	}
	return s, nil
}
