package workflow

import (
	"testing"
	"time"
)

func TestRegistriesAreOrderedAndUnique(t *testing.T) {
	for _, workflowType := range []Type{TypeAuthorAgreement, TypeChapterProduction} {
		seen := map[string]bool{}
		for _, meta := range Steps(workflowType) {
			if meta.Key == "" || meta.ShortLabel == "" {
				t.Errorf("%s: step with empty key or label: %+v", workflowType, meta)
			}
			if seen[meta.Key] {
				t.Errorf("%s: duplicate step key %q", workflowType, meta.Key)
			}
			seen[meta.Key] = true
		}
	}
}

func TestNextStepWalksTheFullSequence(t *testing.T) {
	steps := Steps(TypeChapterProduction)
	current, ok := FirstStep(TypeChapterProduction)
	if !ok {
		t.Fatal("chapter production has no first step")
	}
	visited := 1
	for {
		next, ok := NextStep(TypeChapterProduction, current)
		if !ok {
			break
		}
		if !CanAdvance(TypeChapterProduction, current, next) {
			t.Errorf("CanAdvance(%s -> %s) = false for the registry successor", current, next)
		}
		current = next
		visited++
	}
	if visited != len(steps) {
		t.Errorf("walked %d steps, registry has %d", visited, len(steps))
	}
	if current != "done" {
		t.Errorf("walk ended on %q, expected done", current)
	}
	if !IsTerminal(TypeChapterProduction, "done") {
		t.Error("done must be terminal")
	}
}

func TestCanAdvanceRejectsSkipsAndBackwardMoves(t *testing.T) {
	cases := []struct{ from, to string }{
		{"expert_questions_sent", "rough_draft_received"}, // skip ahead
		{"grammar_proof", "internal_review"},              // backward
		{"done", "expert_questions_sent"},                 // out of terminal
		{"expert_questions_sent", "expert_questions_sent"},
		{"no_such_step", "questions_returned"},
	}
	for _, tc := range cases {
		if CanAdvance(TypeChapterProduction, tc.from, tc.to) {
			t.Errorf("CanAdvance(%s -> %s) should be false", tc.from, tc.to)
		}
	}
}

func TestGetStepMetaUnknown(t *testing.T) {
	if _, ok := GetStepMeta(TypeAuthorAgreement, "not_a_step"); ok {
		t.Error("unknown step must not resolve")
	}
	if _, ok := GetStepMeta(Type("custom_reports"), "anything"); ok {
		t.Error("unknown workflow type must not resolve")
	}
}

func TestOverduePredicates(t *testing.T) {
	start := time.Now().AddDate(0, 0, -10)
	if days := DaysOnStep(start); days != 10 {
		t.Errorf("DaysOnStep expected 10, got %d", days)
	}
	if !IsStepOverdue(start, 7) {
		t.Error("10 days on a 7-day step is overdue")
	}
	if IsStepOverdue(start, 10) {
		t.Error("exactly at the SLA is not overdue")
	}
	if IsStepOverdue(start, 0) {
		t.Error("steps without an SLA are never overdue")
	}
}
