package payment

import (
	"fmt"
	"testing"
)

func TestShouldTriggerPaymentIsPureAndStable(t *testing.T) {
	for i := 0; i < 3; i++ {
		milestone, ok := ShouldTriggerPayment("contract_drafted")
		if !ok || milestone != MilestoneDrafted {
			t.Fatalf("contract_drafted: expected drafted milestone, got %q (ok=%v)", milestone, ok)
		}
	}
	if _, ok := ShouldTriggerPayment("internal_review"); ok {
		t.Error("internal_review is a no-op step")
	}
	if _, ok := ShouldTriggerPayment(""); ok {
		t.Error("empty step must not trigger")
	}
}

func TestStepMilestonePairs(t *testing.T) {
	cases := map[string]Milestone{
		"contract_sent_review": MilestoneSentForReview,
		"contract_approved":    MilestoneDraftApproved,
		"sent_box_signature":   MilestoneSentBoxSignature,
		"rough_draft_received": MilestoneRoughDraftReceived,
		"distribution":         MilestoneDistribution1,
		"invoice_processed":    MilestoneProcessInvoice1,
		"published":            MilestonePayment1,
	}
	for step, want := range cases {
		got, ok := ShouldTriggerPayment(step)
		if !ok || got != want {
			t.Errorf("%s: expected %s, got %s (ok=%v)", step, want, got, ok)
		}
	}
}

func TestStatusForStopsAtFirstUnmetCondition(t *testing.T) {
	cases := []struct {
		milestones Milestones
		want       Status
	}{
		{Milestones{}, StatusNotStarted},
		{Milestones{Drafted: true}, StatusContractDrafting},
		// SentForReview alone does not move the status; the decision table
		// checks SentBoxSignature next.
		{Milestones{Drafted: true, SentForReview: true}, StatusContractDrafting},
		{Milestones{Drafted: true, SentBoxSignature: true}, StatusAwaitingSignature},
		{Milestones{Drafted: true, SentBoxSignature: true, Distribution1: true}, StatusAwaitingPayment},
		{Milestones{Drafted: true, SentBoxSignature: true, Distribution1: true, Payment1: true}, StatusAwaitingDraft},
		{Milestones{Drafted: true, SentBoxSignature: true, Distribution1: true, Payment1: true, RoughDraftReceived: true}, StatusInProgress},
		{Milestones{Drafted: true, SentBoxSignature: true, Distribution1: true, Payment1: true, RoughDraftReceived: true, ProcessInvoice1: true}, StatusComplete},
	}
	for i, tc := range cases {
		if got := StatusFor(tc.milestones); got != tc.want {
			t.Errorf("case %d: expected %s, got %s", i, tc.want, got)
		}
	}
}

func TestSplitSumsExactly(t *testing.T) {
	grants := []float64{5000, 12000, 7331, 4000.50, 0}
	for _, grant := range grants {
		first, second, third := Split(grant)
		if sum := first + second + third; sum != grant {
			t.Errorf("grant %.2f: split sums to %.10f", grant, sum)
		}
	}
}

func TestSplitScenario(t *testing.T) {
	first, second, third := Split(5000)
	if fmt.Sprintf("%.2f", first) != "1875.00" {
		t.Errorf("payment1: expected 1875.00, got %.2f", first)
	}
	if fmt.Sprintf("%.2f", second) != "1875.00" {
		t.Errorf("payment2: expected 1875.00, got %.2f", second)
	}
	if fmt.Sprintf("%.2f", third) != "1250.00" {
		t.Errorf("payment3: expected 1250.00, got %.2f", third)
	}
}
