package jobs

// ComplianceScore is one evaluation snapshot, appended per attempt.
type ComplianceScore struct {
	OverallScore float64         `json:"overall_score"`
	Categories   []CategoryScore `json:"categories"`
	Approved     bool            `json:"approved"`
	Summary      string          `json:"summary,omitempty"`
}

type CategoryScore struct {
	Category   string   `json:"category"`
	Score      float64  `json:"score"`
	Passed     bool     `json:"passed"`
	Violations []string `json:"violations,omitempty"`
}
