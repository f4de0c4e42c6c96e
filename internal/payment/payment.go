// Package payment maps workflow step completions to payment milestones and
// derives the coarse payment status dashboards show.
package payment

type Milestone string

const (
	MilestoneDrafted            Milestone = "drafted"
	MilestoneSentForReview      Milestone = "sentForReview"
	MilestoneDraftApproved      Milestone = "draftApproved"
	MilestoneSentBoxSignature   Milestone = "sentBoxSignature"
	MilestoneDistribution1      Milestone = "distribution1"
	MilestonePayment1           Milestone = "payment1"
	MilestoneProcessInvoice1    Milestone = "processInvoice1"
	MilestoneRoughDraftDue      Milestone = "roughDraftDue"
	MilestoneRoughDraftReceived Milestone = "roughDraftReceived"
)

// Milestones is the boolean record attached to a contributor's board entry.
// Milestones are monotonic: there is no operation that unsets one.
type Milestones struct {
	Drafted            bool
	SentForReview      bool
	DraftApproved      bool
	SentBoxSignature   bool
	Distribution1      bool
	Payment1           bool
	ProcessInvoice1    bool
	RoughDraftDue      bool
	RoughDraftReceived bool
}

type Status string

const (
	StatusNotStarted        Status = "not_started"
	StatusContractDrafting  Status = "contract_drafting"
	StatusAwaitingSignature Status = "awaiting_signature"
	StatusAwaitingPayment   Status = "awaiting_payment"
	StatusAwaitingDraft     Status = "awaiting_draft"
	StatusInProgress        Status = "in_progress"
	StatusComplete          Status = "complete"
)

// stepMilestones is the static completed-step -> milestone lookup. Steps not
// listed trigger nothing.
var stepMilestones = map[string]Milestone{
	"contract_drafted":     MilestoneDrafted,
	"contract_sent_review": MilestoneSentForReview,
	"contract_approved":    MilestoneDraftApproved,
	"sent_box_signature":   MilestoneSentBoxSignature,
	"rough_draft_due_set":  MilestoneRoughDraftDue,
	"rough_draft_received": MilestoneRoughDraftReceived,
	"distribution":         MilestoneDistribution1,
	"invoice_processed":    MilestoneProcessInvoice1,
	"published":            MilestonePayment1,
}

// ShouldTriggerPayment returns the milestone fired by completing a step, if
// any. Pure lookup; no side effects.
func ShouldTriggerPayment(completedStep string) (Milestone, bool) {
	milestone, ok := stepMilestones[completedStep]
	return milestone, ok
}

// StatusFor evaluates the milestone booleans in a fixed priority order and
// returns the status of the first unmet condition. The order is load-bearing:
// dashboards key off it, so conditions are checked strictly in sequence and
// evaluation stops at the first false.
func StatusFor(m Milestones) Status {
	if !m.Drafted {
		return StatusNotStarted
	}
	if !m.SentBoxSignature {
		return StatusContractDrafting
	}
	if !m.Distribution1 {
		return StatusAwaitingSignature
	}
	if !m.Payment1 {
		return StatusAwaitingPayment
	}
	if !m.RoughDraftReceived {
		return StatusAwaitingDraft
	}
	if !m.ProcessInvoice1 {
		return StatusInProgress
	}
	return StatusComplete
}

// Split divides a grant into the contractual 37.5% / 37.5% / 25% payments.
// Amounts are kept exact here; rounding happens only at display time.
func Split(grant float64) (first, second, third float64) {
	first = grant * 0.375
	second = grant * 0.375
	third = grant * 0.25
	return first, second, third
}
