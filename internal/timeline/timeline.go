// Package timeline computes contract milestone schedules by working backward
// from a jurisdiction's regulatory deadline.
package timeline

import (
	"log"
	"math"
	"time"
)

type Pace string

const (
	PaceTight  Pace = "tight"
	PaceMedium Pace = "medium"
)

// ContractTimeline is an immutable value computed once per contract
// generation. Regenerating produces a new value; nothing mutates it.
type ContractTimeline struct {
	SigningDate    time.Time
	ExpertQ        time.Time
	FirstDraft     time.Time
	ReviewReturn   time.Time
	GrammarProof   time.Time
	FinalApproval  time.Time
	Deadline       time.Time
	BufferDays     int
	Pace           Pace
	BufferAlert    bool
}

const minBufferDays = 7

// Offsets are cumulative from the signing date. Tight spans 36 days from
// expert questions to final approval, medium spans 42.
var (
	tightOffsets  = [5]int{7, 8, 12, 9, 7}
	mediumOffsets = [5]int{14, 14, 7, 7, 14}
)

// Compute builds the milestone schedule for a contract signed on signingDate
// against the given jurisdiction deadline. Dates are normalized to midnight
// UTC so later day arithmetic has no timezone drift.
func Compute(jurisdictionDeadline, signingDate time.Time) ContractTimeline {
	deadline := midnight(jurisdictionDeadline)
	signing := midnight(signingDate)

	weeksOut := deadline.Sub(signing).Hours() / 24 / 7
	pace := PaceMedium
	offsets := mediumOffsets
	if weeksOut <= 8 {
		pace = PaceTight
		offsets = tightOffsets
	}

	cursor := signing
	dates := [5]time.Time{}
	for i, days := range offsets {
		cursor = cursor.AddDate(0, 0, days)
		dates[i] = cursor
	}

	buffer := int(math.Round(deadline.Sub(dates[4]).Hours() / 24))
	alert := buffer < minBufferDays
	if alert {
		log.Printf("timeline: buffer of %d days before %s deadline is under the %d-day floor", buffer, deadline.Format("2006-01-02"), minBufferDays)
	}

	return ContractTimeline{
		SigningDate:   signing,
		ExpertQ:       dates[0],
		FirstDraft:    dates[1],
		ReviewReturn:  dates[2],
		GrammarProof:  dates[3],
		FinalApproval: dates[4],
		Deadline:      deadline,
		BufferDays:    buffer,
		Pace:          pace,
		BufferAlert:   alert,
	}
}

// SpanDays is the whole-day distance from expert questions to final approval.
func (t ContractTimeline) SpanDays() int {
	return int(math.Round(t.FinalApproval.Sub(t.ExpertQ).Hours() / 24))
}

func midnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
