package services

import (
	"strings"

	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
)

// logoKeywords mark a tweak instruction as logo-related. Matching is
// case-insensitive substring search.
var logoKeywords = []string{
	"logo",
	"brand mark",
	"icon",
	"symbol",
	"emblem",
}

func mentionsLogoKeyword(text string) bool {
	t := strings.ToLower(text)
	for _, kw := range logoKeywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// isContinuation reports whether the attempt refines an existing image
// rather than starting fresh.
func isContinuation(st *jobs.WorkflowState) bool {
	if st.AttemptCount > 1 {
		return true
	}
	return st.IsTweak && strings.TrimSpace(st.CurrentImageURL) != ""
}

// NeedsLogos decides whether the upcoming generation attempt should be
// handed the brand's logo assets.
//
// A fresh start always gets them; once generation succeeds the caller
// records what the generator actually used in OriginalHadLogos, and that
// write-once record drives every later attempt. A tweak instruction that
// talks about the logo can pull assets back in, but an absent record reads
// as false so a logo is never silently re-introduced on legacy jobs.
func NeedsLogos(st *jobs.WorkflowState) bool {
	if !isContinuation(st) {
		return true
	}
	had := st.OriginalHadLogos != nil && *st.OriginalHadLogos
	return had || mentionsLogoKeyword(st.UserTweakInstruction)
}

// RecordLogoUsage persists the generator's report after the first
// successful generation. Later attempts never rewrite it.
func RecordLogoUsage(st *jobs.WorkflowState, usedLogos bool) {
	if st.OriginalHadLogos != nil {
		return
	}
	v := usedLogos
	st.OriginalHadLogos = &v
}
