package app

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"wellspring/api/internal/board"
	"wellspring/api/internal/config"
	"wellspring/api/internal/contractrepo"
	"wellspring/api/internal/executor"
	"wellspring/api/internal/payment"
	"wellspring/api/internal/search"
	"wellspring/api/internal/store"
	"wellspring/api/internal/workflow"
)

type fakeData struct {
	pingFn                    func(context.Context) error
	createChapterFn           func(context.Context, store.Chapter) (store.Chapter, error)
	getChapterFn              func(context.Context, string) (store.Chapter, error)
	listChaptersFn            func(context.Context, store.ChapterFilter) ([]store.Chapter, error)
	advanceStepFn             func(context.Context, string, string) (store.StepTransition, error)
	forceStepFn               func(context.Context, string, string) (store.StepTransition, error)
	updateChapterFieldsFn     func(context.Context, string, string, string, string, string) error
	listCommunicationsFn      func(context.Context, string, int) ([]store.CommunicationLogEntry, error)
	setJurisdictionDeadlineFn func(context.Context, string, time.Time) error
	getJurisdictionDeadlineFn func(context.Context, string) (time.Time, error)
	getContributorMappingFn   func(context.Context, string, string, string) (store.ContributorMapping, error)
}

func (f *fakeData) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeData) CreateChapter(ctx context.Context, c store.Chapter) (store.Chapter, error) {
	if f.createChapterFn != nil {
		return f.createChapterFn(ctx, c)
	}
	c.ID = c.ReportState + ":" + c.ChapterType
	c.CurrentStep = "identify_author"
	return c, nil
}

func (f *fakeData) GetChapter(ctx context.Context, chapterID string) (store.Chapter, error) {
	if f.getChapterFn != nil {
		return f.getChapterFn(ctx, chapterID)
	}
	return store.Chapter{}, store.ErrNotFound
}

func (f *fakeData) ListChapters(ctx context.Context, filter store.ChapterFilter) ([]store.Chapter, error) {
	if f.listChaptersFn != nil {
		return f.listChaptersFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeData) AdvanceStep(ctx context.Context, chapterID, targetStep string) (store.StepTransition, error) {
	if f.advanceStepFn != nil {
		return f.advanceStepFn(ctx, chapterID, targetStep)
	}
	return store.StepTransition{}, store.ErrNotFound
}

func (f *fakeData) ForceStep(ctx context.Context, chapterID, targetStep string) (store.StepTransition, error) {
	if f.forceStepFn != nil {
		return f.forceStepFn(ctx, chapterID, targetStep)
	}
	return store.StepTransition{}, store.ErrNotFound
}

func (f *fakeData) UpdateChapterFields(ctx context.Context, chapterID, authorName, authorEmail, assignedOwner, notes string) error {
	if f.updateChapterFieldsFn != nil {
		return f.updateChapterFieldsFn(ctx, chapterID, authorName, authorEmail, assignedOwner, notes)
	}
	return nil
}

func (f *fakeData) ListCommunications(ctx context.Context, chapterID string, limit int) ([]store.CommunicationLogEntry, error) {
	if f.listCommunicationsFn != nil {
		return f.listCommunicationsFn(ctx, chapterID, limit)
	}
	return nil, nil
}

func (f *fakeData) SetJurisdictionDeadline(ctx context.Context, reportState string, deadline time.Time) error {
	if f.setJurisdictionDeadlineFn != nil {
		return f.setJurisdictionDeadlineFn(ctx, reportState, deadline)
	}
	return nil
}

func (f *fakeData) GetJurisdictionDeadline(ctx context.Context, reportState string) (time.Time, error) {
	if f.getJurisdictionDeadlineFn != nil {
		return f.getJurisdictionDeadlineFn(ctx, reportState)
	}
	return time.Time{}, store.ErrNotFound
}

func (f *fakeData) GetContributorMapping(ctx context.Context, reportState, chapterType, authorName string) (store.ContributorMapping, error) {
	if f.getContributorMappingFn != nil {
		return f.getContributorMappingFn(ctx, reportState, chapterType, authorName)
	}
	return store.ContributorMapping{}, store.ErrNotFound
}

type fakeExec struct {
	executeFn func(context.Context, executor.Task) executor.TaskResult
	lastTask  executor.Task
	calls     int
}

func (f *fakeExec) ExecuteTaskActions(ctx context.Context, task executor.Task) executor.TaskResult {
	f.calls++
	f.lastTask = task
	if f.executeFn != nil {
		return f.executeFn(ctx, task)
	}
	return executor.TaskResult{Summary: "All 1 actions succeeded", Succeeded: 1, Success: true}
}

type fakeBoardSync struct {
	connected bool
	columns   config.BoardColumns
	updateFn  func(ctx context.Context, itemID, columnID, value string) board.MutationResult
	calls     int
}

func (f *fakeBoardSync) Connected() bool { return f.connected }

func (f *fakeBoardSync) Columns() config.BoardColumns { return f.columns }

func (f *fakeBoardSync) UpdateAuthorPaymentMilestone(ctx context.Context, itemID, columnID, value string) board.MutationResult {
	f.calls++
	if f.updateFn != nil {
		return f.updateFn(ctx, itemID, columnID, value)
	}
	return board.MutationResult{Success: true, ItemID: itemID}
}

type fakeHistoryStore struct {
	historyFn func(string, int) ([]contractrepo.Revision, error)
}

func (f *fakeHistoryStore) History(chapterID string, limit int) ([]contractrepo.Revision, error) {
	if f.historyFn != nil {
		return f.historyFn(chapterID, limit)
	}
	return []contractrepo.Revision{}, nil
}

type fakeSearch struct {
	indexed  []search.ChapterRecord
	searchFn func(search.Query) search.Response
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (f *fakeSearch) IndexChapter(c search.ChapterRecord) {
	f.indexed = append(f.indexed, c)
}

func testChapter() store.Chapter {
	return store.Chapter{
		ID:                   "new_mexico:voting_rights",
		ReportState:          "new_mexico",
		StateAbbrev:          "NM",
		ChapterType:          "voting_rights",
		WorkflowType:         workflow.TypeAuthorAgreement,
		CurrentStep:          "contract_drafted",
		CurrentStepStartedAt: time.Now().Add(-24 * time.Hour),
		AuthorName:           "Dana Whitfield",
		AuthorEmail:          "dana@example.org",
		GrantAmount:          5000,
	}
}

func newTestService(fd *fakeData, fe *fakeExec, fb *fakeBoardSync, fh *fakeHistoryStore, fs *fakeSearch) *Service {
	return New(config.Config{}, fd, fe, fb, fh, fs)
}

func TestAdvanceTriggersMilestoneBoardUpdate(t *testing.T) {
	chapter := testChapter()
	fd := &fakeData{
		advanceStepFn: func(_ context.Context, chapterID, targetStep string) (store.StepTransition, error) {
			return store.StepTransition{
				ChapterID:     chapterID,
				CompletedStep: "contract_drafted",
				NewStep:       targetStep,
				OccurredAt:    time.Now(),
			}, nil
		},
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
		getContributorMappingFn: func(context.Context, string, string, string) (store.ContributorMapping, error) {
			return store.ContributorMapping{BoardItemID: "item-42"}, nil
		},
	}
	var gotItem, gotColumn string
	fb := &fakeBoardSync{
		connected: true,
		columns:   config.BoardColumns{Drafted: "date_drafted"},
		updateFn: func(_ context.Context, itemID, columnID, value string) board.MutationResult {
			gotItem, gotColumn = itemID, columnID
			if value == "" {
				t.Error("expected a date value for the milestone column")
			}
			return board.MutationResult{Success: true, ItemID: itemID}
		},
	}
	svc := newTestService(fd, &fakeExec{}, fb, &fakeHistoryStore{}, &fakeSearch{})

	result, err := svc.AdvanceChapter(context.Background(), chapter.ID, "contract_sent_review")
	if err != nil {
		t.Fatalf("AdvanceChapter: %v", err)
	}
	if result.Milestone != string(payment.MilestoneDrafted) {
		t.Errorf("expected milestone %q, got %q", payment.MilestoneDrafted, result.Milestone)
	}
	if !result.BoardUpdated {
		t.Errorf("expected board update, got error %q", result.BoardError)
	}
	if gotItem != "item-42" || gotColumn != "date_drafted" {
		t.Errorf("board update used item=%q column=%q", gotItem, gotColumn)
	}
}

func TestAdvanceWithoutMilestoneStep(t *testing.T) {
	fd := &fakeData{
		advanceStepFn: func(_ context.Context, chapterID, targetStep string) (store.StepTransition, error) {
			return store.StepTransition{ChapterID: chapterID, CompletedStep: "identify_author", NewStep: targetStep}, nil
		},
	}
	fe := &fakeExec{}
	fb := &fakeBoardSync{connected: true}
	svc := newTestService(fd, fe, fb, &fakeHistoryStore{}, &fakeSearch{})

	result, err := svc.AdvanceChapter(context.Background(), "new_mexico:voting_rights", "outreach_sent")
	if err != nil {
		t.Fatalf("AdvanceChapter: %v", err)
	}
	if result.Milestone != "" {
		t.Errorf("expected no milestone, got %q", result.Milestone)
	}
	if fb.calls != 0 {
		t.Errorf("expected no board calls, got %d", fb.calls)
	}
	if fe.calls != 0 {
		t.Errorf("expected no executor invocations, got %d", fe.calls)
	}
}

func TestMilestoneFiresMappedActionSet(t *testing.T) {
	chapter := testChapter()
	fd := &fakeData{
		advanceStepFn: func(_ context.Context, chapterID, targetStep string) (store.StepTransition, error) {
			return store.StepTransition{ChapterID: chapterID, CompletedStep: "contract_drafted", NewStep: targetStep}, nil
		},
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
		getContributorMappingFn: func(context.Context, string, string, string) (store.ContributorMapping, error) {
			return store.ContributorMapping{BoardItemID: "item-42"}, nil
		},
	}
	fe := &fakeExec{}
	fb := &fakeBoardSync{connected: true, columns: config.BoardColumns{Drafted: "date_drafted"}}
	svc := newTestService(fd, fe, fb, &fakeHistoryStore{}, &fakeSearch{})

	result, err := svc.AdvanceChapter(context.Background(), chapter.ID, "contract_sent_review")
	if err != nil {
		t.Fatalf("AdvanceChapter: %v", err)
	}
	if fe.calls != 1 {
		t.Fatalf("expected one executor invocation, got %d", fe.calls)
	}
	want := []executor.Action{executor.ActionUploadContractBoard, executor.ActionLogCommunication}
	if len(fe.lastTask.Actions) != len(want) {
		t.Fatalf("got action set %v", fe.lastTask.Actions)
	}
	for i, action := range want {
		if fe.lastTask.Actions[i] != action {
			t.Errorf("action %d: expected %s, got %s", i, action, fe.lastTask.Actions[i])
		}
	}
	if fe.lastTask.AuthorName != "Dana Whitfield" || fe.lastTask.ReportState != "new_mexico" {
		t.Errorf("task was not enriched: %+v", fe.lastTask)
	}
	if fe.lastTask.Note == "" {
		t.Error("expected a note for the communication log")
	}
	if result.Executed == nil || !result.Executed.Success {
		t.Errorf("expected executed result on the advance, got %+v", result.Executed)
	}
}

func TestFailedMilestoneActionsDoNotFailAdvance(t *testing.T) {
	chapter := testChapter()
	fd := &fakeData{
		advanceStepFn: func(_ context.Context, chapterID, targetStep string) (store.StepTransition, error) {
			return store.StepTransition{ChapterID: chapterID, CompletedStep: "contract_drafted", NewStep: targetStep}, nil
		},
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
		getContributorMappingFn: func(context.Context, string, string, string) (store.ContributorMapping, error) {
			return store.ContributorMapping{BoardItemID: "item-42"}, nil
		},
	}
	fe := &fakeExec{
		executeFn: func(context.Context, executor.Task) executor.TaskResult {
			return executor.TaskResult{Failed: 2, Summary: "All 2 actions failed"}
		},
	}
	fb := &fakeBoardSync{connected: true, columns: config.BoardColumns{Drafted: "date_drafted"}}
	svc := newTestService(fd, fe, fb, &fakeHistoryStore{}, &fakeSearch{})

	result, err := svc.AdvanceChapter(context.Background(), chapter.ID, "contract_sent_review")
	if err != nil {
		t.Fatalf("AdvanceChapter: %v", err)
	}
	if result.Executed == nil || result.Executed.Failed != 2 {
		t.Errorf("expected the failed task result on the advance, got %+v", result.Executed)
	}
	if !result.BoardUpdated {
		t.Errorf("board update should still run, got error %q", result.BoardError)
	}
}

func TestForcedMoveNeverTriggersMilestone(t *testing.T) {
	fd := &fakeData{
		forceStepFn: func(_ context.Context, chapterID, targetStep string) (store.StepTransition, error) {
			return store.StepTransition{
				ChapterID:     chapterID,
				CompletedStep: "contract_drafted",
				NewStep:       targetStep,
				Forced:        true,
			}, nil
		},
	}
	fe := &fakeExec{}
	fb := &fakeBoardSync{connected: true, columns: config.BoardColumns{Drafted: "date_drafted"}}
	svc := newTestService(fd, fe, fb, &fakeHistoryStore{}, &fakeSearch{})

	result, err := svc.ForceChapter(context.Background(), "new_mexico:voting_rights", "outreach_sent")
	if err != nil {
		t.Fatalf("ForceChapter: %v", err)
	}
	if result.Milestone != "" {
		t.Errorf("forced move produced milestone %q", result.Milestone)
	}
	if fb.calls != 0 {
		t.Errorf("forced move hit the board %d times", fb.calls)
	}
	if fe.calls != 0 {
		t.Errorf("forced move invoked the executor %d times", fe.calls)
	}
	if !result.Transition.Forced {
		t.Error("expected transition to be marked forced")
	}
}

func TestAdvanceIllegalTransitionMapsToConflict(t *testing.T) {
	fd := &fakeData{
		advanceStepFn: func(context.Context, string, string) (store.StepTransition, error) {
			return store.StepTransition{}, store.ErrIllegalTransition
		},
	}
	svc := newTestService(fd, &fakeExec{}, &fakeBoardSync{}, &fakeHistoryStore{}, &fakeSearch{})

	_, err := svc.AdvanceChapter(context.Background(), "new_mexico:voting_rights", "onboarded")
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	if domainErr.Status != http.StatusConflict || domainErr.Code != "ILLEGAL_TRANSITION" {
		t.Errorf("got status=%d code=%s", domainErr.Status, domainErr.Code)
	}
}

func TestBoardFailureDoesNotFailAdvance(t *testing.T) {
	chapter := testChapter()
	fd := &fakeData{
		advanceStepFn: func(_ context.Context, chapterID, targetStep string) (store.StepTransition, error) {
			return store.StepTransition{ChapterID: chapterID, CompletedStep: "contract_drafted", NewStep: targetStep}, nil
		},
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
		getContributorMappingFn: func(context.Context, string, string, string) (store.ContributorMapping, error) {
			return store.ContributorMapping{BoardItemID: "item-42"}, nil
		},
	}
	fb := &fakeBoardSync{
		connected: true,
		columns:   config.BoardColumns{Drafted: "date_drafted"},
		updateFn: func(_ context.Context, itemID, _, _ string) board.MutationResult {
			return board.MutationResult{Success: false, ItemID: itemID, Error: "board is locked"}
		},
	}
	svc := newTestService(fd, &fakeExec{}, fb, &fakeHistoryStore{}, &fakeSearch{})

	result, err := svc.AdvanceChapter(context.Background(), chapter.ID, "contract_sent_review")
	if err != nil {
		t.Fatalf("AdvanceChapter: %v", err)
	}
	if result.BoardUpdated {
		t.Error("expected BoardUpdated=false")
	}
	if result.BoardError != "board is locked" {
		t.Errorf("got board error %q", result.BoardError)
	}
}

func TestMilestoneWithoutMappingReportsAuthor(t *testing.T) {
	chapter := testChapter()
	fd := &fakeData{
		advanceStepFn: func(_ context.Context, chapterID, targetStep string) (store.StepTransition, error) {
			return store.StepTransition{ChapterID: chapterID, CompletedStep: "contract_drafted", NewStep: targetStep}, nil
		},
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
	}
	fb := &fakeBoardSync{connected: true, columns: config.BoardColumns{Drafted: "date_drafted"}}
	svc := newTestService(fd, &fakeExec{}, fb, &fakeHistoryStore{}, &fakeSearch{})

	result, err := svc.AdvanceChapter(context.Background(), chapter.ID, "contract_sent_review")
	if err != nil {
		t.Fatalf("AdvanceChapter: %v", err)
	}
	if result.BoardUpdated {
		t.Error("expected BoardUpdated=false without a contributor mapping")
	}
	if !strings.Contains(result.BoardError, "Dana Whitfield") {
		t.Errorf("expected board error to name the author, got %q", result.BoardError)
	}
}

func TestCreateChapterRequiresStateAndType(t *testing.T) {
	svc := newTestService(&fakeData{}, &fakeExec{}, &fakeBoardSync{}, &fakeHistoryStore{}, &fakeSearch{})

	_, err := svc.CreateChapter(context.Background(), CreateChapterInput{AuthorName: "Dana Whitfield"})
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	if domainErr.Status != http.StatusBadRequest || domainErr.Code != "CONFIGURATION" {
		t.Errorf("got status=%d code=%s", domainErr.Status, domainErr.Code)
	}
}

func TestCreateChapterIndexesRecord(t *testing.T) {
	fs := &fakeSearch{}
	svc := newTestService(&fakeData{}, &fakeExec{}, &fakeBoardSync{}, &fakeHistoryStore{}, fs)

	view, err := svc.CreateChapter(context.Background(), CreateChapterInput{
		ReportState:  "new_mexico",
		ChapterType:  "voting_rights",
		WorkflowType: workflow.TypeAuthorAgreement,
		AuthorName:   "Dana Whitfield",
	})
	if err != nil {
		t.Fatalf("CreateChapter: %v", err)
	}
	if view.StepLabel != "Identify author" {
		t.Errorf("got step label %q", view.StepLabel)
	}
	if len(fs.indexed) != 1 || fs.indexed[0].ID != view.ID {
		t.Errorf("expected one indexed record for %s, got %+v", view.ID, fs.indexed)
	}
}

func TestExecuteTaskRequiresActions(t *testing.T) {
	svc := newTestService(&fakeData{}, &fakeExec{}, &fakeBoardSync{}, &fakeHistoryStore{}, &fakeSearch{})

	_, err := svc.ExecuteTask(context.Background(), executor.Task{ChapterID: "new_mexico:voting_rights"})
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	if domainErr.Status != http.StatusBadRequest {
		t.Errorf("got status=%d", domainErr.Status)
	}
}

func TestExecuteTaskEnrichesFromChapter(t *testing.T) {
	chapter := testChapter()
	fd := &fakeData{
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
	}
	fe := &fakeExec{}
	svc := newTestService(fd, fe, &fakeBoardSync{}, &fakeHistoryStore{}, &fakeSearch{})

	_, err := svc.ExecuteTask(context.Background(), executor.Task{
		ChapterID: chapter.ID,
		Actions:   []executor.Action{executor.ActionAdvanceStep},
	})
	if err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
	if fe.lastTask.AuthorName != "Dana Whitfield" || fe.lastTask.StateAbbrev != "NM" {
		t.Errorf("task was not enriched: %+v", fe.lastTask)
	}
	if fe.lastTask.GrantAmount != 5000 {
		t.Errorf("got grant %v", fe.lastTask.GrantAmount)
	}
}

func TestChapterTimelineUsesJurisdictionDeadline(t *testing.T) {
	chapter := testChapter()
	deadline := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	fd := &fakeData{
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
		getJurisdictionDeadlineFn: func(_ context.Context, reportState string) (time.Time, error) {
			if reportState != "new_mexico" {
				t.Errorf("looked up deadline for %q", reportState)
			}
			return deadline, nil
		},
	}
	svc := newTestService(fd, &fakeExec{}, &fakeBoardSync{}, &fakeHistoryStore{}, &fakeSearch{})

	signing := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tl, err := svc.ChapterTimeline(context.Background(), chapter.ID, signing)
	if err != nil {
		t.Fatalf("ChapterTimeline: %v", err)
	}
	if tl.Pace != "tight" {
		t.Errorf("expected tight pace 59 days out, got %q", tl.Pace)
	}
	if !tl.Deadline.Equal(deadline) {
		t.Errorf("got deadline %v", tl.Deadline)
	}
}

func TestChapterTimelineWithoutDeadlineIsNotFound(t *testing.T) {
	chapter := testChapter()
	fd := &fakeData{
		getChapterFn: func(context.Context, string) (store.Chapter, error) {
			return chapter, nil
		},
	}
	svc := newTestService(fd, &fakeExec{}, &fakeBoardSync{}, &fakeHistoryStore{}, &fakeSearch{})

	_, err := svc.ChapterTimeline(context.Background(), chapter.ID, time.Now())
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	if domainErr.Status != http.StatusNotFound {
		t.Errorf("got status=%d", domainErr.Status)
	}
}
