// Package executor runs the side effects attached to a step transition or a
// pending confirmation task. Each action validates its own inputs and
// reports a structured result; one failing action never aborts its siblings.
package executor

import (
	"context"
	"fmt"
	"time"

	"wellspring/api/internal/board"
	"wellspring/api/internal/config"
	"wellspring/api/internal/contract"
	"wellspring/api/internal/contractrepo"
	"wellspring/api/internal/drive"
	"wellspring/api/internal/mailer"
	"wellspring/api/internal/search"
	"wellspring/api/internal/store"
)

type Action string

const (
	ActionGenerateOutreachContract Action = "generate_outreach_contract"
	ActionSendOutreachEmail        Action = "send_outreach_email"
	ActionGenerateContract         Action = "generate_contract"
	ActionSendContract             Action = "send_contract"
	ActionAdvanceStep              Action = "advance_step"
	ActionLogCommunication         Action = "log_communication"
	ActionNotifyAccounting         Action = "notify_accounting"
	ActionUploadContractBoard      Action = "upload_contract_monday"
	ActionSendWelcomeEmail         Action = "send_welcome_email"
)

type ArtifactKind string

const (
	ArtifactDraft        ArtifactKind = "draft"
	ArtifactStatusUpdate ArtifactKind = "status_update"
	ArtifactLogEntry     ArtifactKind = "log_entry"
)

// Artifact is a typed reference to something an action created in an
// external system, so callers can deep-link to it.
type Artifact struct {
	Kind    ArtifactKind `json:"kind"`
	ID      string       `json:"id"`
	URL     string       `json:"url,omitempty"`
	Details string       `json:"details,omitempty"`
}

type ActionResult struct {
	Action    Action     `json:"action"`
	Success   bool       `json:"success"`
	Message   string     `json:"message"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

type TaskResult struct {
	Results   []ActionResult `json:"results"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Success   bool           `json:"success"`
	Summary   string         `json:"summary"`
}

// Task carries the chapter context a confirmation was raised for, plus the
// action set the caller approved.
type Task struct {
	ChapterID   string    `json:"chapterId"`
	ReportState string    `json:"reportState"`
	StateAbbrev string    `json:"stateAbbrev"`
	StateName   string    `json:"stateName"`
	ChapterName string    `json:"chapterName"`
	ChapterType string    `json:"chapterType"`
	AuthorName  string    `json:"authorName"`
	AuthorEmail string    `json:"authorEmail"`
	GrantAmount float64   `json:"grantAmount"`
	SigningDate time.Time `json:"signingDate"`
	TargetStep  string    `json:"targetStep"`
	Note        string    `json:"note"`
	Actions     []Action  `json:"actions"`
}

type ChapterStore interface {
	AdvanceStep(ctx context.Context, chapterID, targetStep string) (store.StepTransition, error)
	InsertCommunication(ctx context.Context, entry store.CommunicationLogEntry) (store.CommunicationLogEntry, error)
	SaveAttachmentRef(ctx context.Context, ref store.AttachmentRef) error
	LatestAttachmentRef(ctx context.Context, chapterID string) (store.AttachmentRef, error)
	SaveContributorMapping(ctx context.Context, m store.ContributorMapping) error
	GetJurisdictionDeadline(ctx context.Context, reportState string) (time.Time, error)
}

type Generator interface {
	Generate(ctx context.Context, fields contract.Fields, format contract.Format) (*contract.Blob, *contract.Handle, error)
}

type Mailer interface {
	Connected() bool
	CreateDraft(ctx context.Context, to, cc, subject, body string) (mailer.DraftResult, error)
	CreateDraftWithAttachment(ctx context.Context, to, cc, subject, body string, attachment mailer.Attachment) (mailer.DraftResult, error)
	SearchSentWithAttachment(ctx context.Context, query string) (*mailer.SentMatch, error)
	FetchAttachmentBytes(ctx context.Context, messageID, attachmentID string) (string, error)
}

type FileStore interface {
	ListFilesInFolder(ctx context.Context, folder string) ([]drive.FileInfo, error)
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

type Messenger interface {
	Connected() bool
	LookupUserByEmail(ctx context.Context, email string) (string, error)
	SendDirectMessage(ctx context.Context, userID, text string) error
}

type BoardSync interface {
	Connected() bool
	AddAuthorToPaymentsBoard(ctx context.Context, author board.Author) board.MutationResult
	UpdateAuthorPaymentMilestone(ctx context.Context, itemID, columnID, value string) board.MutationResult
	PostComment(ctx context.Context, itemID, text string) board.MutationResult
	Columns() config.BoardColumns
}

type Historian interface {
	CommitContract(chapterID, html string, fields any, author, message string) (contractrepo.Revision, error)
}

type CommIndexer interface {
	IndexCommunication(c search.CommunicationRecord)
}

// Executor wires the collaborators each action needs. Nil integrations are
// tolerated; actions depending on them fail with a descriptive message.
type Executor struct {
	Store     ChapterStore
	Contracts Generator
	Mail      Mailer
	Files     FileStore
	Chat      Messenger
	Board     BoardSync
	History   Historian
	Index     CommIndexer

	OrgName         string
	OrgPrefix       string
	ContractsFolder string
	AccountingUser  string
}

// Flow scopes the single-slot generated-document cache to one in-flight
// task, so concurrent executions cannot pick up each other's documents.
type Flow struct {
	generated  *contract.Blob
	lastHandle *contract.Handle
}

func (e *Executor) NewFlow() *Flow {
	return &Flow{}
}

// ExecuteAction dispatches one action. Unknown tags produce a failed result
// rather than an error.
func (e *Executor) ExecuteAction(ctx context.Context, flow *Flow, action Action, task Task) ActionResult {
	if flow == nil {
		flow = e.NewFlow()
	}
	switch action {
	case ActionGenerateOutreachContract, ActionGenerateContract:
		return e.generateContract(ctx, flow, action, task)
	case ActionSendOutreachEmail:
		return e.sendContractEmail(ctx, flow, action, task, outreachEmail)
	case ActionSendContract:
		return e.sendContractEmail(ctx, flow, action, task, contractEmail)
	case ActionAdvanceStep:
		return e.advanceStep(ctx, action, task)
	case ActionLogCommunication:
		return e.logCommunication(ctx, action, task)
	case ActionNotifyAccounting:
		return e.notifyAccounting(ctx, action, task)
	case ActionUploadContractBoard:
		return e.uploadContractToBoard(ctx, flow, action, task)
	case ActionSendWelcomeEmail:
		return e.sendWelcomeEmail(ctx, action, task)
	default:
		return failed(action, fmt.Sprintf("unknown action type %q", action))
	}
}

// ExecuteTaskActions runs every pending action for a task, in order, and
// classifies the overall outcome. Partial completion is a valid terminal
// state; nothing is rolled back.
func (e *Executor) ExecuteTaskActions(ctx context.Context, task Task) TaskResult {
	flow := e.NewFlow()
	result := TaskResult{Results: make([]ActionResult, 0, len(task.Actions))}

	for _, action := range task.Actions {
		actionResult := e.ExecuteAction(ctx, flow, action, task)
		result.Results = append(result.Results, actionResult)
		if actionResult.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	total := result.Succeeded + result.Failed
	result.Success = result.Failed == 0
	switch {
	case total == 0:
		result.Summary = "No actions to run"
	case result.Failed == 0:
		result.Summary = fmt.Sprintf("All %d actions succeeded", total)
	case result.Succeeded == 0:
		result.Summary = fmt.Sprintf("All %d actions failed", total)
	default:
		result.Summary = fmt.Sprintf("Partial: %d succeeded, %d failed", result.Succeeded, result.Failed)
	}
	return result
}

func failed(action Action, message string) ActionResult {
	return ActionResult{Action: action, Success: false, Message: message}
}

func succeeded(action Action, message string, artifacts ...Artifact) ActionResult {
	return ActionResult{Action: action, Success: true, Message: message, Artifacts: artifacts}
}
