package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"wellspring/api/internal/util"
	"wellspring/api/internal/workflow"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIllegalTransition = errors.New("illegal step transition")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const chapterColumns = `id, report_state, state_abbrev, chapter_type, workflow_type,
	current_step, current_step_started_at, author_name, author_email,
	assigned_owner, notes, grant_amount, created_at, updated_at`

func scanChapter(row interface{ Scan(...any) error }) (Chapter, error) {
	var c Chapter
	var workflowType string
	err := row.Scan(&c.ID, &c.ReportState, &c.StateAbbrev, &c.ChapterType, &workflowType,
		&c.CurrentStep, &c.CurrentStepStartedAt, &c.AuthorName, &c.AuthorEmail,
		&c.AssignedOwner, &c.Notes, &c.GrantAmount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Chapter{}, err
	}
	c.WorkflowType = workflow.Type(workflowType)
	return c, nil
}

// CreateChapter seeds a (state, chapter-type) work item on its workflow's
// first step.
func (s *PostgresStore) CreateChapter(ctx context.Context, c Chapter) (Chapter, error) {
	if c.ID == "" {
		c.ID = c.ReportState + ":" + c.ChapterType
	}
	if c.CurrentStep == "" {
		first, ok := workflow.FirstStep(c.WorkflowType)
		if !ok {
			return Chapter{}, fmt.Errorf("unknown workflow type %q", c.WorkflowType)
		}
		c.CurrentStep = first
	}
	if _, ok := workflow.GetStepMeta(c.WorkflowType, c.CurrentStep); !ok {
		return Chapter{}, fmt.Errorf("step %q is not in the %s registry", c.CurrentStep, c.WorkflowType)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chapters (id, report_state, state_abbrev, chapter_type, workflow_type,
			current_step, author_name, author_email, assigned_owner, notes, grant_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+chapterColumns,
		c.ID, c.ReportState, c.StateAbbrev, c.ChapterType, string(c.WorkflowType),
		c.CurrentStep, c.AuthorName, c.AuthorEmail, c.AssignedOwner, c.Notes, c.GrantAmount)
	created, err := scanChapter(row)
	if err != nil {
		return Chapter{}, fmt.Errorf("insert chapter: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetChapter(ctx context.Context, chapterID string) (Chapter, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id=$1`, chapterID)
	c, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Chapter{}, ErrNotFound
	}
	if err != nil {
		return Chapter{}, fmt.Errorf("get chapter: %w", err)
	}
	return c, nil
}

type ChapterFilter struct {
	AssignedOwner string
	ReportState   string
	OverdueOnly   bool
}

func (s *PostgresStore) ListChapters(ctx context.Context, filter ChapterFilter) ([]Chapter, error) {
	query := `SELECT ` + chapterColumns + ` FROM chapters WHERE 1=1`
	var args []any
	if filter.AssignedOwner != "" {
		args = append(args, filter.AssignedOwner)
		query += fmt.Sprintf(` AND assigned_owner=$%d`, len(args))
	}
	if filter.ReportState != "" {
		args = append(args, filter.ReportState)
		query += fmt.Sprintf(` AND report_state=$%d`, len(args))
	}
	query += ` ORDER BY report_state, chapter_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []Chapter
	for rows.Next() {
		c, err := scanChapter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		// Overdue depends on the step registry, so it is filtered here
		// rather than in SQL.
		if filter.OverdueOnly && !c.Overdue() {
			continue
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}

// AdvanceStep is the sole normal mutation path for a chapter's step. The
// target must be the registry successor of the current step; anything else
// is ErrIllegalTransition. On success the step timer resets and a
// StepTransition event is returned for the milestone mapper to consume.
func (s *PostgresStore) AdvanceStep(ctx context.Context, chapterID, targetStep string) (StepTransition, error) {
	return s.transition(ctx, chapterID, targetStep, false)
}

// ForceStep moves a chapter to any registry step, bypassing order checks.
// This is the explicit correction escape hatch; it is logged and the
// resulting event carries Forced=true so downstream consumers can tell it
// apart from a normal advance.
func (s *PostgresStore) ForceStep(ctx context.Context, chapterID, targetStep string) (StepTransition, error) {
	return s.transition(ctx, chapterID, targetStep, true)
}

func (s *PostgresStore) transition(ctx context.Context, chapterID, targetStep string, forced bool) (StepTransition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return StepTransition{}, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE id=$1 FOR UPDATE`, chapterID)
	current, err := scanChapter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StepTransition{}, ErrNotFound
	}
	if err != nil {
		return StepTransition{}, fmt.Errorf("lock chapter: %w", err)
	}

	if _, ok := workflow.GetStepMeta(current.WorkflowType, targetStep); !ok {
		return StepTransition{}, fmt.Errorf("%w: %q is not a %s step", ErrIllegalTransition, targetStep, current.WorkflowType)
	}
	if !forced && !workflow.CanAdvance(current.WorkflowType, current.CurrentStep, targetStep) {
		return StepTransition{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.CurrentStep, targetStep)
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx, `
		UPDATE chapters SET current_step=$1, current_step_started_at=$2, updated_at=$2 WHERE id=$3
	`, targetStep, now, chapterID); err != nil {
		return StepTransition{}, fmt.Errorf("update step: %w", err)
	}

	event := StepTransition{
		ChapterID:     chapterID,
		CompletedStep: current.CurrentStep,
		NewStep:       targetStep,
		Forced:        forced,
		OccurredAt:    now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO step_transitions (chapter_id, completed_step, new_step, forced, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ChapterID, event.CompletedStep, event.NewStep, event.Forced, event.OccurredAt); err != nil {
		return StepTransition{}, fmt.Errorf("record transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return StepTransition{}, fmt.Errorf("commit transition: %w", err)
	}
	if forced {
		log.Printf("store: FORCED step move on %s: %s -> %s", chapterID, event.CompletedStep, targetStep)
	}
	return event, nil
}

// UpdateChapterFields edits the mutable non-step fields.
func (s *PostgresStore) UpdateChapterFields(ctx context.Context, chapterID, authorName, authorEmail, assignedOwner, notes string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chapters
		SET author_name=$1, author_email=$2, assigned_owner=$3, notes=$4, updated_at=NOW()
		WHERE id=$5
	`, authorName, authorEmail, assignedOwner, notes, chapterID)
	if err != nil {
		return fmt.Errorf("update chapter fields: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update chapter fields: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertCommunication(ctx context.Context, entry CommunicationLogEntry) (CommunicationLogEntry, error) {
	if entry.ID == "" {
		entry.ID = util.NewID("com")
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO communication_log (id, chapter_id, channel, recipient, subject, body, attachment_name, attachment_ref, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.ChapterID, entry.Channel, entry.Recipient, entry.Subject, entry.Body,
		entry.AttachmentName, entry.AttachmentRef, entry.SentAt)
	if err != nil {
		return CommunicationLogEntry{}, fmt.Errorf("insert communication: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListCommunications(ctx context.Context, chapterID string, limit int) ([]CommunicationLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chapter_id, channel, recipient, subject, body, attachment_name, attachment_ref, sent_at
		FROM communication_log WHERE chapter_id=$1 ORDER BY sent_at DESC LIMIT $2
	`, chapterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list communications: %w", err)
	}
	defer rows.Close()

	var entries []CommunicationLogEntry
	for rows.Next() {
		var e CommunicationLogEntry
		if err := rows.Scan(&e.ID, &e.ChapterID, &e.Channel, &e.Recipient, &e.Subject, &e.Body,
			&e.AttachmentName, &e.AttachmentRef, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan communication: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) SaveContributorMapping(ctx context.Context, m ContributorMapping) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contributor_mappings (report_state, chapter_type, author_name, board_item_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (report_state, chapter_type, author_name) DO UPDATE SET board_item_id=EXCLUDED.board_item_id
	`, m.ReportState, m.ChapterType, m.AuthorName, m.BoardItemID)
	if err != nil {
		return fmt.Errorf("save contributor mapping: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContributorMapping(ctx context.Context, reportState, chapterType, authorName string) (ContributorMapping, error) {
	var m ContributorMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT report_state, chapter_type, author_name, board_item_id, created_at
		FROM contributor_mappings
		WHERE report_state=$1 AND chapter_type=$2 AND LOWER(author_name)=LOWER($3)
	`, reportState, chapterType, authorName).Scan(&m.ReportState, &m.ChapterType, &m.AuthorName, &m.BoardItemID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ContributorMapping{}, ErrNotFound
	}
	if err != nil {
		return ContributorMapping{}, fmt.Errorf("get contributor mapping: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) SaveAttachmentRef(ctx context.Context, ref AttachmentRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachment_refs (chapter_id, file_name, file_id, mime_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chapter_id, file_id) DO UPDATE SET file_name=EXCLUDED.file_name, mime_type=EXCLUDED.mime_type
	`, ref.ChapterID, ref.FileName, ref.FileID, ref.MimeType)
	if err != nil {
		return fmt.Errorf("save attachment ref: %w", err)
	}
	return nil
}

// LatestAttachmentRef returns the most recently recorded attachment for a
// chapter, preferring PDFs over source documents.
func (s *PostgresStore) LatestAttachmentRef(ctx context.Context, chapterID string) (AttachmentRef, error) {
	var ref AttachmentRef
	err := s.db.QueryRowContext(ctx, `
		SELECT chapter_id, file_name, file_id, mime_type, created_at
		FROM attachment_refs WHERE chapter_id=$1
		ORDER BY (mime_type = 'application/pdf') DESC, created_at DESC
		LIMIT 1
	`, chapterID).Scan(&ref.ChapterID, &ref.FileName, &ref.FileID, &ref.MimeType, &ref.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AttachmentRef{}, ErrNotFound
	}
	if err != nil {
		return AttachmentRef{}, fmt.Errorf("latest attachment ref: %w", err)
	}
	return ref, nil
}

func (s *PostgresStore) SetJurisdictionDeadline(ctx context.Context, reportState string, deadline time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jurisdiction_deadlines (report_state, deadline)
		VALUES ($1, $2)
		ON CONFLICT (report_state) DO UPDATE SET deadline=EXCLUDED.deadline
	`, reportState, deadline)
	if err != nil {
		return fmt.Errorf("set jurisdiction deadline: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJurisdictionDeadline(ctx context.Context, reportState string) (time.Time, error) {
	var deadline time.Time
	err := s.db.QueryRowContext(ctx, `SELECT deadline FROM jurisdiction_deadlines WHERE report_state=$1`, reportState).Scan(&deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get jurisdiction deadline: %w", err)
	}
	return deadline, nil
}
