package store

import (
	"time"

	"wellspring/api/internal/workflow"
)

// Chapter is one (report-state x chapter-type) work item in the report
// production pipeline.
type Chapter struct {
	ID                   string
	ReportState          string // normalized jurisdiction key, e.g. "new_mexico"
	StateAbbrev          string
	ChapterType          string
	WorkflowType         workflow.Type
	CurrentStep          string
	CurrentStepStartedAt time.Time
	AuthorName           string
	AuthorEmail          string
	AssignedOwner        string
	Notes                string
	GrantAmount          float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DaysOnStep is derived, never stored.
func (c Chapter) DaysOnStep() int {
	return workflow.DaysOnStep(c.CurrentStepStartedAt)
}

// Overdue reports whether the chapter has sat on its current step past the
// step's typical duration.
func (c Chapter) Overdue() bool {
	meta, ok := workflow.GetStepMeta(c.WorkflowType, c.CurrentStep)
	if !ok {
		return false
	}
	return workflow.IsStepOverdue(c.CurrentStepStartedAt, meta.TypicalDurationDays)
}

// StepTransition is emitted on every successful advance or forced move. The
// milestone mapper and action executor consume it.
type StepTransition struct {
	ChapterID     string
	CompletedStep string
	NewStep       string
	Forced        bool
	OccurredAt    time.Time
}

// CommunicationLogEntry records an outbound email or message tied to a
// chapter. Entries feed the sent-mail leg of attachment resolution.
type CommunicationLogEntry struct {
	ID             string
	ChapterID      string
	Channel        string // "email", "dm", "board_comment"
	Recipient      string
	Subject        string
	Body           string
	AttachmentName string
	AttachmentRef  string // drive file id or mail attachment locator
	SentAt         time.Time
}

// ContributorMapping links an author within a jurisdiction to a board item,
// so repeated syncs reuse the same item instead of creating duplicates.
type ContributorMapping struct {
	ReportState string
	ChapterType string
	AuthorName  string
	BoardItemID string
	CreatedAt   time.Time
}

// AttachmentRef is a previously recorded contract attachment for a chapter
// (priority 3 in the resolution chain).
type AttachmentRef struct {
	ChapterID string
	FileName  string
	FileID    string
	MimeType  string
	CreatedAt time.Time
}
