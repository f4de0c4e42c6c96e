package timeline

import (
	"testing"
	"time"
)

func date(value string) time.Time {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func TestTightScheduleScenario(t *testing.T) {
	// 31 days out is about 4.4 weeks, well inside the tight threshold.
	result := Compute(date("2025-02-01"), date("2025-01-01"))

	if result.Pace != PaceTight {
		t.Fatalf("expected tight pace, got %s", result.Pace)
	}
	expected := map[string]time.Time{
		"expertQ":       date("2025-01-08"),
		"firstDraft":    date("2025-01-16"),
		"reviewReturn":  date("2025-01-28"),
		"grammarProof":  date("2025-02-06"),
		"finalApproval": date("2025-02-13"),
	}
	got := map[string]time.Time{
		"expertQ":       result.ExpertQ,
		"firstDraft":    result.FirstDraft,
		"reviewReturn":  result.ReviewReturn,
		"grammarProof":  result.GrammarProof,
		"finalApproval": result.FinalApproval,
	}
	for name, want := range expected {
		if !got[name].Equal(want) {
			t.Errorf("%s: expected %s, got %s", name, want.Format("2006-01-02"), got[name].Format("2006-01-02"))
		}
	}
	if result.BufferDays != -12 {
		t.Errorf("expected buffer of -12 days, got %d", result.BufferDays)
	}
	if !result.BufferAlert {
		t.Error("negative buffer must raise the buffer alert")
	}
}

func TestTightSpanIsFixed(t *testing.T) {
	signings := []string{"2025-01-01", "2025-03-15", "2025-06-30", "2025-11-02"}
	for _, signing := range signings {
		s := date(signing)
		result := Compute(s.AddDate(0, 0, 8*7), s)
		if result.Pace != PaceTight {
			t.Fatalf("signing %s: deadline exactly 8 weeks out should classify tight, got %s", signing, result.Pace)
		}
		if span := result.SpanDays(); span != 36 {
			t.Errorf("signing %s: tight span expected 36 days, got %d", signing, span)
		}
	}
}

func TestMediumSpanIsExactly42Days(t *testing.T) {
	signings := []string{"2025-01-01", "2025-03-15", "2025-06-30", "2025-11-02"}
	for _, signing := range signings {
		s := date(signing)
		result := Compute(s.AddDate(0, 0, 8*7+1), s)
		if result.Pace != PaceMedium {
			t.Fatalf("signing %s: deadline past 8 weeks should classify medium, got %s", signing, result.Pace)
		}
		if span := result.SpanDays(); span != 42 {
			t.Errorf("signing %s: medium span expected 42 days, got %d", signing, span)
		}
	}
}

func TestComfortableBufferHasNoAlert(t *testing.T) {
	result := Compute(date("2025-12-01"), date("2025-01-01"))
	if result.Pace != PaceMedium {
		t.Fatalf("expected medium pace, got %s", result.Pace)
	}
	if result.BufferAlert {
		t.Errorf("buffer of %d days should not alert", result.BufferDays)
	}
	if result.BufferDays < minBufferDays {
		t.Errorf("expected comfortable buffer, got %d", result.BufferDays)
	}
}

func TestComputeNormalizesTimezones(t *testing.T) {
	loc := time.FixedZone("UTC+13", 13*3600)
	signing := time.Date(2025, 1, 1, 23, 30, 0, 0, loc)
	deadline := time.Date(2025, 2, 1, 1, 15, 0, 0, time.UTC)

	result := Compute(deadline, signing)
	if !result.SigningDate.Equal(date("2025-01-01")) {
		t.Errorf("signing date not normalized: %s", result.SigningDate)
	}
	if !result.Deadline.Equal(date("2025-02-01")) {
		t.Errorf("deadline not normalized: %s", result.Deadline)
	}
	if result.ExpertQ.Hour() != 0 || result.ExpertQ.Location() != time.UTC {
		t.Errorf("milestone dates must be midnight UTC, got %s", result.ExpertQ)
	}
}
