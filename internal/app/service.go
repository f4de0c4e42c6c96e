package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"wellspring/api/internal/board"
	"wellspring/api/internal/config"
	"wellspring/api/internal/contractrepo"
	"wellspring/api/internal/executor"
	"wellspring/api/internal/payment"
	"wellspring/api/internal/search"
	"wellspring/api/internal/store"
	"wellspring/api/internal/timeline"
	"wellspring/api/internal/workflow"
)

type dataStore interface {
	Ping(context.Context) error
	CreateChapter(context.Context, store.Chapter) (store.Chapter, error)
	GetChapter(context.Context, string) (store.Chapter, error)
	ListChapters(context.Context, store.ChapterFilter) ([]store.Chapter, error)
	AdvanceStep(context.Context, string, string) (store.StepTransition, error)
	ForceStep(context.Context, string, string) (store.StepTransition, error)
	UpdateChapterFields(ctx context.Context, chapterID, authorName, authorEmail, assignedOwner, notes string) error
	ListCommunications(context.Context, string, int) ([]store.CommunicationLogEntry, error)
	SetJurisdictionDeadline(context.Context, string, time.Time) error
	GetJurisdictionDeadline(context.Context, string) (time.Time, error)
	GetContributorMapping(ctx context.Context, reportState, chapterType, authorName string) (store.ContributorMapping, error)
}

type taskExecutor interface {
	ExecuteTaskActions(ctx context.Context, task executor.Task) executor.TaskResult
}

type boardSync interface {
	Connected() bool
	UpdateAuthorPaymentMilestone(ctx context.Context, itemID, columnID, value string) board.MutationResult
	Columns() config.BoardColumns
}

type contractHistory interface {
	History(chapterID string, limit int) ([]contractrepo.Revision, error)
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexChapter(c search.ChapterRecord)
}

type Service struct {
	cfg     config.Config
	store   dataStore
	exec    taskExecutor
	board   boardSync
	history contractHistory
	search  searcher
}

func New(cfg config.Config, dataStore dataStore, exec taskExecutor, boardSync boardSync, history contractHistory, searcher searcher) *Service {
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		exec:    exec,
		board:   boardSync,
		history: history,
		search:  searcher,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ChapterView is the chapter record plus its derived step fields.
type ChapterView struct {
	store.Chapter
	StepLabel  string `json:"stepLabel"`
	DaysOnStep int    `json:"daysOnStep"`
	Overdue    bool   `json:"overdue"`
}

func toView(c store.Chapter) ChapterView {
	view := ChapterView{Chapter: c, DaysOnStep: c.DaysOnStep(), Overdue: c.Overdue()}
	if meta, ok := workflow.GetStepMeta(c.WorkflowType, c.CurrentStep); ok {
		view.StepLabel = meta.ShortLabel
	}
	return view
}

type CreateChapterInput struct {
	ReportState   string        `json:"reportState"`
	StateAbbrev   string        `json:"stateAbbrev"`
	ChapterType   string        `json:"chapterType"`
	WorkflowType  workflow.Type `json:"workflowType"`
	AuthorName    string        `json:"authorName"`
	AuthorEmail   string        `json:"authorEmail"`
	AssignedOwner string        `json:"assignedOwner"`
	GrantAmount   float64       `json:"grantAmount"`
}

func (s *Service) CreateChapter(ctx context.Context, input CreateChapterInput) (ChapterView, error) {
	if input.ReportState == "" || input.ChapterType == "" {
		return ChapterView{}, domainError(http.StatusBadRequest, "CONFIGURATION",
			"reportState and chapterType are required", nil)
	}
	chapter, err := s.store.CreateChapter(ctx, store.Chapter{
		ReportState:   input.ReportState,
		StateAbbrev:   input.StateAbbrev,
		ChapterType:   input.ChapterType,
		WorkflowType:  input.WorkflowType,
		AuthorName:    input.AuthorName,
		AuthorEmail:   input.AuthorEmail,
		AssignedOwner: input.AssignedOwner,
		GrantAmount:   input.GrantAmount,
	})
	if err != nil {
		return ChapterView{}, err
	}
	s.indexChapter(chapter)
	return toView(chapter), nil
}

func (s *Service) GetChapter(ctx context.Context, chapterID string) (ChapterView, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ChapterView{}, domainError(http.StatusNotFound, "NOT_FOUND", "Chapter not found", nil)
		}
		return ChapterView{}, err
	}
	return toView(chapter), nil
}

func (s *Service) ListChapters(ctx context.Context, filter store.ChapterFilter) ([]ChapterView, error) {
	chapters, err := s.store.ListChapters(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]ChapterView, 0, len(chapters))
	for _, chapter := range chapters {
		views = append(views, toView(chapter))
	}
	return views, nil
}

func (s *Service) UpdateChapterFields(ctx context.Context, chapterID, authorName, authorEmail, assignedOwner, notes string) error {
	if err := s.store.UpdateChapterFields(ctx, chapterID, authorName, authorEmail, assignedOwner, notes); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domainError(http.StatusNotFound, "NOT_FOUND", "Chapter not found", nil)
		}
		return err
	}
	if chapter, err := s.store.GetChapter(ctx, chapterID); err == nil {
		s.indexChapter(chapter)
	}
	return nil
}

// AdvanceResult describes one step transition and the milestone side effects
// it produced, if any.
type AdvanceResult struct {
	Transition   store.StepTransition `json:"transition"`
	Milestone    string               `json:"milestone,omitempty"`
	BoardUpdated bool                 `json:"boardUpdated"`
	BoardError   string               `json:"boardError,omitempty"`
	Executed     *executor.TaskResult `json:"executed,omitempty"`
}

// milestoneActions maps a fired milestone to the action set the executor
// runs on its behalf. The board column write happens separately; these are
// the follow-up side effects. Accounting is pinged at the three milestones
// that release an installment.
var milestoneActions = map[payment.Milestone][]executor.Action{
	payment.MilestoneDrafted:            {executor.ActionUploadContractBoard, executor.ActionLogCommunication},
	payment.MilestoneSentForReview:      {executor.ActionLogCommunication},
	payment.MilestoneDraftApproved:      {executor.ActionLogCommunication},
	payment.MilestoneSentBoxSignature:   {executor.ActionNotifyAccounting, executor.ActionLogCommunication},
	payment.MilestoneDistribution1:      {executor.ActionSendWelcomeEmail, executor.ActionLogCommunication},
	payment.MilestoneRoughDraftDue:      {executor.ActionLogCommunication},
	payment.MilestoneRoughDraftReceived: {executor.ActionNotifyAccounting, executor.ActionLogCommunication},
	payment.MilestoneProcessInvoice1:    {executor.ActionLogCommunication},
	payment.MilestonePayment1:           {executor.ActionNotifyAccounting, executor.ActionLogCommunication},
}

// AdvanceChapter moves a chapter to the registry's next step, then runs the
// milestone check on the completed step. When a milestone fires, the mapped
// action set runs through the executor and its board column is set. Neither
// a failed action nor a failed board update ever fails the advance itself.
func (s *Service) AdvanceChapter(ctx context.Context, chapterID, targetStep string) (AdvanceResult, error) {
	transition, err := s.store.AdvanceStep(ctx, chapterID, targetStep)
	if err != nil {
		return AdvanceResult{}, mapTransitionError(err)
	}
	result := AdvanceResult{Transition: transition}

	milestone, ok := payment.ShouldTriggerPayment(transition.CompletedStep)
	if !ok {
		s.reindexChapter(ctx, chapterID)
		return result, nil
	}
	result.Milestone = string(milestone)
	result.Executed = s.fireMilestoneActions(ctx, transition, milestone)
	result.BoardUpdated, result.BoardError = s.pushMilestone(ctx, chapterID, milestone)
	s.reindexChapter(ctx, chapterID)
	return result, nil
}

// fireMilestoneActions runs the milestone's mapped action set. The upsert in
// the drafted set is what creates the contributor mapping later milestones
// write their columns through, so it runs before the column push.
func (s *Service) fireMilestoneActions(ctx context.Context, transition store.StepTransition, milestone payment.Milestone) *executor.TaskResult {
	actions, ok := milestoneActions[milestone]
	if !ok || s.exec == nil {
		return nil
	}
	task := executor.Task{
		ChapterID: transition.ChapterID,
		Note:      fmt.Sprintf("Milestone %s reached after completing %s", milestone, transition.CompletedStep),
		Actions:   actions,
	}
	s.enrichTask(ctx, &task)
	taskResult := s.exec.ExecuteTaskActions(ctx, task)
	if taskResult.Failed > 0 {
		log.Printf("app: milestone %s actions for %s: %s", milestone, transition.ChapterID, taskResult.Summary)
	}
	return &taskResult
}

// ForceChapter is the logged override path. Forced moves are corrections,
// not completions, so they never trigger payment milestones.
func (s *Service) ForceChapter(ctx context.Context, chapterID, targetStep string) (AdvanceResult, error) {
	transition, err := s.store.ForceStep(ctx, chapterID, targetStep)
	if err != nil {
		return AdvanceResult{}, mapTransitionError(err)
	}
	s.reindexChapter(ctx, chapterID)
	return AdvanceResult{Transition: transition}, nil
}

func mapTransitionError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Chapter not found", nil)
	case errors.Is(err, store.ErrIllegalTransition):
		return domainError(http.StatusConflict, "ILLEGAL_TRANSITION",
			"Target step is not the chapter's next step", nil)
	default:
		return err
	}
}

// pushMilestone sets the milestone's board column for the chapter's
// contributor. Milestones only ever move forward, so the write is an
// affirmative date value.
func (s *Service) pushMilestone(ctx context.Context, chapterID string, milestone payment.Milestone) (bool, string) {
	if s.board == nil || !s.board.Connected() {
		return false, "board integration not connected"
	}
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return false, fmt.Sprintf("load chapter: %v", err)
	}
	mapping, err := s.store.GetContributorMapping(ctx, chapter.ReportState, chapter.ChapterType, chapter.AuthorName)
	if err != nil {
		return false, fmt.Sprintf("no board item mapped for %s", chapter.AuthorName)
	}
	columnID := columnFor(milestone, s.board.Columns())
	if columnID == "" {
		return false, fmt.Sprintf("no column mapping for milestone %s", milestone)
	}

	update := s.board.UpdateAuthorPaymentMilestone(ctx, mapping.BoardItemID, columnID, time.Now().Format("2006-01-02"))
	if !update.Success {
		log.Printf("app: milestone %s for %s failed on board: %s", milestone, chapterID, update.Error)
		return false, update.Error
	}
	return true, ""
}

func columnFor(m payment.Milestone, cols config.BoardColumns) string {
	switch m {
	case payment.MilestoneDrafted:
		return cols.Drafted
	case payment.MilestoneSentForReview:
		return cols.SentForReview
	case payment.MilestoneDraftApproved:
		return cols.DraftApproved
	case payment.MilestoneSentBoxSignature:
		return cols.SentBoxSignature
	case payment.MilestoneDistribution1:
		return cols.Distribution1
	case payment.MilestonePayment1:
		return cols.Payment1
	case payment.MilestoneProcessInvoice1:
		return cols.ProcessInvoice1
	case payment.MilestoneRoughDraftDue:
		return cols.RoughDraftDue
	case payment.MilestoneRoughDraftReceived:
		return cols.RoughDraftReceived
	default:
		return ""
	}
}

// ExecuteTask fills the task's chapter context from the store when only a
// chapter id was supplied, then runs the action set.
func (s *Service) ExecuteTask(ctx context.Context, task executor.Task) (executor.TaskResult, error) {
	if len(task.Actions) == 0 {
		return executor.TaskResult{}, domainError(http.StatusBadRequest, "CONFIGURATION",
			"at least one action is required", nil)
	}
	s.enrichTask(ctx, &task)
	return s.exec.ExecuteTaskActions(ctx, task), nil
}

// enrichTask fills the chapter context when only a chapter id was supplied.
// A failed lookup leaves the task as given.
func (s *Service) enrichTask(ctx context.Context, task *executor.Task) {
	if task.ChapterID == "" || task.AuthorName != "" {
		return
	}
	chapter, err := s.store.GetChapter(ctx, task.ChapterID)
	if err != nil {
		return
	}
	task.ReportState = chapter.ReportState
	task.StateAbbrev = chapter.StateAbbrev
	task.ChapterType = chapter.ChapterType
	task.AuthorName = chapter.AuthorName
	task.AuthorEmail = chapter.AuthorEmail
	task.GrantAmount = chapter.GrantAmount
}

// ChapterTimeline computes the milestone schedule a contract signed now (or
// on the given date) would carry for the chapter's jurisdiction.
func (s *Service) ChapterTimeline(ctx context.Context, chapterID string, signingDate time.Time) (timeline.ContractTimeline, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return timeline.ContractTimeline{}, domainError(http.StatusNotFound, "NOT_FOUND", "Chapter not found", nil)
		}
		return timeline.ContractTimeline{}, err
	}
	deadline, err := s.store.GetJurisdictionDeadline(ctx, chapter.ReportState)
	if err != nil {
		return timeline.ContractTimeline{}, domainError(http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("no deadline on file for %s", chapter.ReportState), nil)
	}
	if signingDate.IsZero() {
		signingDate = time.Now()
	}
	return timeline.Compute(deadline, signingDate), nil
}

func (s *Service) ContractHistory(chapterID string, limit int) ([]contractrepo.Revision, error) {
	if s.history == nil {
		return []contractrepo.Revision{}, nil
	}
	return s.history.History(chapterID, limit)
}

func (s *Service) Communications(ctx context.Context, chapterID string, limit int) ([]store.CommunicationLogEntry, error) {
	return s.store.ListCommunications(ctx, chapterID, limit)
}

func (s *Service) SetJurisdictionDeadline(ctx context.Context, reportState string, deadline time.Time) error {
	if reportState == "" {
		return domainError(http.StatusBadRequest, "CONFIGURATION", "reportState is required", nil)
	}
	return s.store.SetJurisdictionDeadline(ctx, reportState, deadline)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) indexChapter(c store.Chapter) {
	if s.search == nil {
		return
	}
	s.search.IndexChapter(search.ChapterRecord{
		ID:          c.ID,
		ReportState: c.ReportState,
		ChapterType: c.ChapterType,
		AuthorName:  c.AuthorName,
		CurrentStep: c.CurrentStep,
		Notes:       c.Notes,
	})
}

func (s *Service) reindexChapter(ctx context.Context, chapterID string) {
	if s.search == nil {
		return
	}
	if chapter, err := s.store.GetChapter(ctx, chapterID); err == nil {
		s.indexChapter(chapter)
	}
}
