// Package workflow holds the static step registries for the GEODE pipelines
// and the predicates derived from them. Steps are an ordered sequence per
// workflow type; "advance" means moving to the unconditional next step.
package workflow

import (
	"time"
)

type Type string

const (
	TypeAuthorAgreement   Type = "author_agreement"
	TypeChapterProduction Type = "chapter_production"
)

type StepMeta struct {
	Key                 string
	ShortLabel          string
	TypicalDurationDays int // 0 means no SLA; the step is never overdue
}

// The registries are ordered. Duration SLAs feed overdue reporting only;
// they never gate a transition.
var registries = map[Type][]StepMeta{
	TypeAuthorAgreement: {
		{Key: "identify_author", ShortLabel: "Identify author", TypicalDurationDays: 7},
		{Key: "outreach_sent", ShortLabel: "Outreach sent", TypicalDurationDays: 5},
		{Key: "author_confirmed", ShortLabel: "Author confirmed", TypicalDurationDays: 7},
		{Key: "contract_drafted", ShortLabel: "Contract drafted", TypicalDurationDays: 3},
		{Key: "contract_sent_review", ShortLabel: "Sent for review", TypicalDurationDays: 5},
		{Key: "contract_approved", ShortLabel: "Draft approved", TypicalDurationDays: 3},
		{Key: "sent_box_signature", ShortLabel: "Out for signature", TypicalDurationDays: 7},
		{Key: "contract_signed", ShortLabel: "Signed", TypicalDurationDays: 2},
		{Key: "welcome_sent", ShortLabel: "Welcome sent", TypicalDurationDays: 2},
		{Key: "onboarded", ShortLabel: "Onboarded"},
	},
	TypeChapterProduction: {
		{Key: "expert_questions_sent", ShortLabel: "Expert questions", TypicalDurationDays: 7},
		{Key: "questions_returned", ShortLabel: "Questions returned", TypicalDurationDays: 7},
		{Key: "rough_draft_due_set", ShortLabel: "Draft scheduled", TypicalDurationDays: 2},
		{Key: "rough_draft_received", ShortLabel: "Draft received", TypicalDurationDays: 14},
		{Key: "internal_review", ShortLabel: "Internal review", TypicalDurationDays: 7},
		{Key: "author_review_return", ShortLabel: "Author review", TypicalDurationDays: 12},
		{Key: "grammar_proof", ShortLabel: "Grammar proof", TypicalDurationDays: 9},
		{Key: "final_approval", ShortLabel: "Final approval", TypicalDurationDays: 7},
		{Key: "distribution", ShortLabel: "Distribution", TypicalDurationDays: 3},
		{Key: "invoice_processed", ShortLabel: "Invoice processed", TypicalDurationDays: 5},
		{Key: "published", ShortLabel: "Published", TypicalDurationDays: 2},
		{Key: "done", ShortLabel: "Done"},
	},
}

// Steps returns the ordered step list for a workflow type, or nil when the
// type is unknown.
func Steps(workflowType Type) []StepMeta {
	return registries[workflowType]
}

// GetStepMeta looks up one step's metadata.
func GetStepMeta(workflowType Type, stepKey string) (StepMeta, bool) {
	for _, meta := range registries[workflowType] {
		if meta.Key == stepKey {
			return meta, true
		}
	}
	return StepMeta{}, false
}

// FirstStep returns the initial step for a workflow type.
func FirstStep(workflowType Type) (string, bool) {
	steps := registries[workflowType]
	if len(steps) == 0 {
		return "", false
	}
	return steps[0].Key, true
}

// NextStep returns the unconditional successor of a step, or false when the
// step is terminal or unknown.
func NextStep(workflowType Type, stepKey string) (string, bool) {
	steps := registries[workflowType]
	for i, meta := range steps {
		if meta.Key == stepKey {
			if i+1 >= len(steps) {
				return "", false
			}
			return steps[i+1].Key, true
		}
	}
	return "", false
}

// CanAdvance reports whether moving from one step to another is a legal
// normal advance, i.e. to is the registry successor of from.
func CanAdvance(workflowType Type, from, to string) bool {
	next, ok := NextStep(workflowType, from)
	return ok && next == to
}

// IsTerminal reports whether a step has no successor.
func IsTerminal(workflowType Type, stepKey string) bool {
	_, ok := NextStep(workflowType, stepKey)
	if ok {
		return false
	}
	_, known := GetStepMeta(workflowType, stepKey)
	return known
}

// DaysOnStep is the whole number of days since the step started.
func DaysOnStep(stepStartedAt time.Time) int {
	return int(time.Since(stepStartedAt).Hours() / 24)
}

// IsStepOverdue reports whether an item has sat on a step past its SLA.
// Steps without an SLA are never overdue.
func IsStepOverdue(stepStartedAt time.Time, typicalDurationDays int) bool {
	if typicalDurationDays <= 0 {
		return false
	}
	return DaysOnStep(stepStartedAt) > typicalDurationDays
}
