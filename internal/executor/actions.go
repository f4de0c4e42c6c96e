package executor

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"wellspring/api/internal/board"
	"wellspring/api/internal/contract"
	"wellspring/api/internal/mailer"
	"wellspring/api/internal/search"
	"wellspring/api/internal/store"
	"wellspring/api/internal/util"
)

func (e *Executor) generateContract(ctx context.Context, flow *Flow, action Action, task Task) ActionResult {
	if task.ReportState == "" || task.ChapterType == "" {
		return failed(action, "chapter state and type are required to generate a contract")
	}
	if task.AuthorName == "" {
		return failed(action, "author name is required to generate a contract")
	}
	if e.Contracts == nil {
		return failed(action, "contract generation is not configured")
	}

	deadline, err := e.Store.GetJurisdictionDeadline(ctx, task.ReportState)
	if err != nil {
		return failed(action, fmt.Sprintf("no jurisdiction deadline on file for %s: %v", task.ReportState, err))
	}
	signing := task.SigningDate
	if signing.IsZero() {
		signing = time.Now()
	}

	fields := contract.BuildFields(contract.FieldInput{
		OrgName:     e.OrgName,
		OrgPrefix:   e.OrgPrefix,
		AuthorName:  task.AuthorName,
		AuthorEmail: task.AuthorEmail,
		StateName:   task.StateName,
		StateAbbrev: task.StateAbbrev,
		ChapterName: task.ChapterName,
		ChapterType: task.ChapterType,
		SigningDate: signing,
		Deadline:    deadline,
		GrantAmount: task.GrantAmount,
	})

	blob, handle, err := e.Contracts.Generate(ctx, fields, contract.FormatDOCX)
	if err != nil {
		return failed(action, fmt.Sprintf("render contract: %v", err))
	}
	flow.generated = blob
	flow.lastHandle = handle

	if e.History != nil {
		if html, renderErr := contract.RenderHTML(fields); renderErr == nil {
			if _, commitErr := e.History.CommitContract(task.ChapterID, html, fields, task.AuthorName,
				fmt.Sprintf("Rendition for %s", task.ChapterName)); commitErr != nil {
				log.Printf("executor: contract history commit for %s failed: %v", task.ChapterID, commitErr)
			}
		}
	}

	if handle == nil {
		return succeeded(action,
			fmt.Sprintf("Contract %s rendered; upload failed, document held for direct attachment", blob.Filename))
	}
	if err := e.Store.SaveAttachmentRef(ctx, store.AttachmentRef{
		ChapterID: task.ChapterID,
		FileName:  blob.Filename,
		FileID:    handle.FileID,
		MimeType:  blob.MimeType,
	}); err != nil {
		log.Printf("executor: save attachment ref for %s failed: %v", task.ChapterID, err)
	}
	return succeeded(action,
		fmt.Sprintf("Contract %s rendered and uploaded", blob.Filename),
		Artifact{Kind: ArtifactStatusUpdate, ID: handle.FileID, URL: handle.Link, Details: blob.Filename})
}

type emailContent func(task Task, orgName string) (subject, body string)

func outreachEmail(task Task, orgName string) (string, string) {
	subject := fmt.Sprintf("Invitation to author the %s chapter (%s)", task.ChapterName, task.StateName)
	body := fmt.Sprintf(
		"Dear %s,\n\nOn behalf of %s, we would like to invite you to author the %s chapter of the %s report. The draft agreement is attached for your review.\n\nPlease let us know if you have any questions.\n",
		task.AuthorName, orgName, task.ChapterName, task.StateName)
	return subject, body
}

func contractEmail(task Task, orgName string) (string, string) {
	subject := fmt.Sprintf("Authorship agreement for the %s chapter (%s)", task.ChapterName, task.StateName)
	body := fmt.Sprintf(
		"Dear %s,\n\nPlease find attached the authorship agreement for the %s chapter of the %s report. Review the milestone schedule in Annex A and reply with any requested changes; otherwise we will send it for signature.\n\nBest regards,\n%s\n",
		task.AuthorName, task.ChapterName, task.StateName, orgName)
	return subject, body
}

func (e *Executor) sendContractEmail(ctx context.Context, flow *Flow, action Action, task Task, content emailContent) ActionResult {
	if task.AuthorEmail == "" {
		return failed(action, "author email is required")
	}
	if e.Mail == nil || !e.Mail.Connected() {
		return failed(action, "mail integration not connected")
	}

	subject, body := content(task, e.OrgName)
	attachment, source := e.resolveAttachment(ctx, flow, task)

	var draft mailer.DraftResult
	var err error
	if attachment != nil {
		draft, err = e.Mail.CreateDraftWithAttachment(ctx, task.AuthorEmail, "", subject, body, *attachment)
	} else {
		draft, err = e.Mail.CreateDraft(ctx, task.AuthorEmail, "", subject, body)
	}
	if err != nil {
		return failed(action, fmt.Sprintf("create draft: %v", err))
	}

	artifact := Artifact{Kind: ArtifactDraft, ID: draft.DraftID, Details: subject}
	if attachment == nil {
		return succeeded(action,
			"Draft created without attachment; no contract document could be located, attach it manually before sending",
			artifact)
	}
	return succeeded(action,
		fmt.Sprintf("Draft created with %s (%s)", attachment.Filename, source),
		artifact)
}

// resolveAttachment walks the prioritized chain: the flow's freshly
// generated document, a fuzzy file-store match, the chapter's recorded
// attachment reference, then historical sent mail. First hit wins; a miss
// everywhere returns nil and the draft goes out bare.
func (e *Executor) resolveAttachment(ctx context.Context, flow *Flow, task Task) (*mailer.Attachment, string) {
	if flow.generated != nil {
		blob := flow.generated
		flow.generated = nil
		return &mailer.Attachment{
			Filename: blob.Filename,
			MimeType: blob.MimeType,
			Base64:   base64.StdEncoding.EncodeToString(blob.Data),
		}, "freshly generated"
	}

	if e.Files != nil {
		if att := e.attachmentFromFileStore(ctx, task); att != nil {
			return att, "file store"
		}
	}

	if ref, err := e.Store.LatestAttachmentRef(ctx, task.ChapterID); err == nil && ref.FileID != "" && e.Files != nil {
		if data, err := e.Files.DownloadFile(ctx, ref.FileID); err == nil {
			return &mailer.Attachment{
				Filename: ref.FileName,
				MimeType: ref.MimeType,
				Base64:   base64.StdEncoding.EncodeToString(data),
			}, "recorded reference"
		}
	}

	if e.Mail != nil {
		query := fmt.Sprintf("%s %s", task.AuthorName, task.ChapterName)
		if match, err := e.Mail.SearchSentWithAttachment(ctx, query); err == nil && match != nil {
			if encoded, err := e.Mail.FetchAttachmentBytes(ctx, match.MessageID, match.AttachmentID); err == nil {
				return &mailer.Attachment{
					Filename: match.AttachmentName,
					MimeType: match.MimeType,
					Base64:   encoded,
				}, "sent mail history"
			}
		}
	}
	return nil, ""
}

// attachmentFromFileStore fuzzy-matches stored files on the state
// abbreviation plus author initials, author last name, or the chapter slug,
// preferring PDF over the source document format.
func (e *Executor) attachmentFromFileStore(ctx context.Context, task Task) *mailer.Attachment {
	files, err := e.Files.ListFilesInFolder(ctx, e.ContractsFolder)
	if err != nil || len(files) == 0 {
		return nil
	}

	abbrev := strings.ToLower(task.StateAbbrev)
	initials := strings.ToLower(util.Initials(task.AuthorName))
	lastName := ""
	if parts := strings.Fields(task.AuthorName); len(parts) > 0 {
		lastName = strings.ToLower(parts[len(parts)-1])
	}
	chapterSlug := util.Slug(task.ChapterName)

	type candidate struct {
		file  int
		isPDF bool
	}
	var candidates []candidate
	for i, file := range files {
		name := strings.ToLower(file.Name)
		if abbrev == "" || !strings.Contains(name, abbrev) {
			continue
		}
		if !strings.Contains(name, initials) &&
			(lastName == "" || !strings.Contains(name, lastName)) &&
			!strings.Contains(name, chapterSlug) {
			continue
		}
		candidates = append(candidates, candidate{file: i, isPDF: file.MimeType == "application/pdf" || strings.HasSuffix(name, ".pdf")})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].isPDF && !candidates[j].isPDF
	})

	chosen := files[candidates[0].file]
	data, err := e.Files.DownloadFile(ctx, chosen.ID)
	if err != nil {
		return nil
	}
	return &mailer.Attachment{
		Filename: chosen.Name,
		MimeType: chosen.MimeType,
		Base64:   base64.StdEncoding.EncodeToString(data),
	}
}

func (e *Executor) advanceStep(ctx context.Context, action Action, task Task) ActionResult {
	if task.ChapterID == "" || task.TargetStep == "" {
		return failed(action, "chapter id and target step are required")
	}
	transition, err := e.Store.AdvanceStep(ctx, task.ChapterID, task.TargetStep)
	if err != nil {
		return failed(action, fmt.Sprintf("advance step: %v", err))
	}
	return succeeded(action,
		fmt.Sprintf("Chapter moved from %s to %s", transition.CompletedStep, transition.NewStep),
		Artifact{Kind: ArtifactStatusUpdate, ID: task.ChapterID, Details: transition.NewStep})
}

func (e *Executor) logCommunication(ctx context.Context, action Action, task Task) ActionResult {
	if task.ChapterID == "" {
		return failed(action, "chapter id is required to log a communication")
	}
	if strings.TrimSpace(task.Note) == "" {
		return failed(action, "a note is required to log a communication")
	}

	entry, err := e.Store.InsertCommunication(ctx, store.CommunicationLogEntry{
		ChapterID: task.ChapterID,
		Channel:   "note",
		Recipient: task.AuthorEmail,
		Subject:   fmt.Sprintf("Update for %s", task.ChapterName),
		Body:      task.Note,
	})
	if err != nil {
		return failed(action, fmt.Sprintf("log communication: %v", err))
	}
	if e.Index != nil {
		e.Index.IndexCommunication(search.CommunicationRecord{
			ID:        entry.ID,
			ChapterID: entry.ChapterID,
			Channel:   entry.Channel,
			Recipient: entry.Recipient,
			Subject:   entry.Subject,
			Body:      entry.Body,
		})
	}
	return succeeded(action, "Communication logged",
		Artifact{Kind: ArtifactLogEntry, ID: entry.ID})
}

func (e *Executor) notifyAccounting(ctx context.Context, action Action, task Task) ActionResult {
	if e.Chat == nil || !e.Chat.Connected() {
		return failed(action, "messaging integration not connected")
	}
	if e.AccountingUser == "" {
		return failed(action, "no accounting contact configured")
	}

	userID, err := e.Chat.LookupUserByEmail(ctx, e.AccountingUser)
	if err != nil || userID == "" {
		return failed(action, fmt.Sprintf("accounting contact %s not found", e.AccountingUser))
	}
	text := fmt.Sprintf("Payment milestone reached for %s (%s chapter, author %s). Please process the next installment.",
		task.StateName, task.ChapterName, task.AuthorName)
	if err := e.Chat.SendDirectMessage(ctx, userID, text); err != nil {
		return failed(action, fmt.Sprintf("send accounting notification: %v", err))
	}
	return succeeded(action, "Accounting notified",
		Artifact{Kind: ArtifactLogEntry, ID: userID, Details: text})
}

func (e *Executor) uploadContractToBoard(ctx context.Context, flow *Flow, action Action, task Task) ActionResult {
	if e.Board == nil || !e.Board.Connected() {
		return failed(action, "board integration not connected")
	}
	if task.AuthorName == "" || task.ReportState == "" {
		return failed(action, "author name and state are required for board upload")
	}

	upsert := e.Board.AddAuthorToPaymentsBoard(ctx, board.Author{
		ReportState: task.ReportState,
		Name:        task.AuthorName,
		Email:       task.AuthorEmail,
		ChapterType: task.ChapterType,
	})
	if !upsert.Success {
		return failed(action, fmt.Sprintf("board upsert: %s", upsert.Error))
	}
	if err := e.Store.SaveContributorMapping(ctx, store.ContributorMapping{
		ReportState: task.ReportState,
		ChapterType: task.ChapterType,
		AuthorName:  task.AuthorName,
		BoardItemID: upsert.ItemID,
	}); err != nil {
		log.Printf("executor: save contributor mapping for %s failed: %v", task.ChapterID, err)
	}

	comment := fmt.Sprintf("Contract generated for the %s chapter.", task.ChapterName)
	if flow.lastHandle != nil && flow.lastHandle.Link != "" {
		comment = fmt.Sprintf("Contract generated for the %s chapter: %s", task.ChapterName, flow.lastHandle.Link)
	}
	if posted := e.Board.PostComment(ctx, upsert.ItemID, comment); !posted.Success {
		return succeeded(action,
			fmt.Sprintf("Author on board as item %s; comment failed: %s", upsert.ItemID, posted.Error),
			Artifact{Kind: ArtifactStatusUpdate, ID: upsert.ItemID})
	}
	return succeeded(action,
		fmt.Sprintf("Contract linked on board item %s", upsert.ItemID),
		Artifact{Kind: ArtifactStatusUpdate, ID: upsert.ItemID, Details: comment})
}

func (e *Executor) sendWelcomeEmail(ctx context.Context, action Action, task Task) ActionResult {
	if task.AuthorEmail == "" {
		return failed(action, "author email is required")
	}
	if e.Mail == nil || !e.Mail.Connected() {
		return failed(action, "mail integration not connected")
	}

	subject := fmt.Sprintf("Welcome aboard: %s chapter (%s)", task.ChapterName, task.StateName)
	body := fmt.Sprintf(
		"Dear %s,\n\nWelcome to the %s report team. Your signed agreement is on file and the expert questions for the %s chapter will follow shortly, per the schedule in Annex A.\n\nBest regards,\n%s\n",
		task.AuthorName, task.StateName, task.ChapterName, e.OrgName)
	draft, err := e.Mail.CreateDraft(ctx, task.AuthorEmail, "", subject, body)
	if err != nil {
		return failed(action, fmt.Sprintf("create welcome draft: %v", err))
	}
	return succeeded(action, "Welcome draft created",
		Artifact{Kind: ArtifactDraft, ID: draft.DraftID, Details: subject})
}
