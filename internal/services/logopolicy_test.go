package services

import (
	"testing"

	"github.com/rocoloco/brandguard-backend/internal/domain/jobs"
)

func TestMentionsLogoKeyword(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"make the logo bigger", true},
		{"center the Brand Mark", true},
		{"swap the app ICON", true},
		{"add a symbol of growth", true},
		{"golden emblem on the left", true},
		{"warmer background", false},
		{"bolder typography", false},
	}
	for _, tc := range cases {
		if got := mentionsLogoKeyword(tc.text); got != tc.want {
			t.Fatalf("mentionsLogoKeyword(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestNeedsLogosFirstAttempt(t *testing.T) {
	st := &jobs.WorkflowState{AttemptCount: 1}
	if !NeedsLogos(st) {
		t.Fatalf("fresh start always requests logo assets")
	}
}

func TestNeedsLogosContinuingNoRecordNoKeyword(t *testing.T) {
	st := &jobs.WorkflowState{
		AttemptCount:         1,
		IsTweak:              true,
		CurrentImageURL:      "https://cdn.example.com/a.png",
		UserTweakInstruction: "warmer colors",
	}
	if NeedsLogos(st) {
		t.Fatalf("absent record with no keyword must not pull logos in")
	}
}

func TestNeedsLogosContinuingKeywordOverrides(t *testing.T) {
	no := false
	st := &jobs.WorkflowState{
		AttemptCount:         1,
		IsTweak:              true,
		CurrentImageURL:      "https://cdn.example.com/a.png",
		UserTweakInstruction: "Make the logo bigger",
		OriginalHadLogos:     &no,
	}
	if !NeedsLogos(st) {
		t.Fatalf("logo keyword in the instruction must request assets")
	}
}

func TestNeedsLogosContinuingAutoCorrection(t *testing.T) {
	yes := true
	st := &jobs.WorkflowState{
		AttemptCount:     3,
		OriginalHadLogos: &yes,
	}
	if !NeedsLogos(st) {
		t.Fatalf("recorded true carries through auto-corrections")
	}
}

func TestRecordLogoUsageWriteOnce(t *testing.T) {
	st := &jobs.WorkflowState{AttemptCount: 1}
	RecordLogoUsage(st, true)
	if st.OriginalHadLogos == nil || !*st.OriginalHadLogos {
		t.Fatalf("first record must stick")
	}
	RecordLogoUsage(st, false)
	if !*st.OriginalHadLogos {
		t.Fatalf("later attempts must never rewrite the record")
	}
}
