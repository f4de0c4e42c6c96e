package board

import (
	"context"
	"fmt"
	"log"
	"strings"

	"wellspring/api/internal/config"
)

// Sync reconciles local contributor/payment state with the board. All
// mutations are fire-and-report: transport and API failures come back as
// structured results so the action executor can keep going.
type Sync struct {
	client  *Client
	cache   *GroupCache
	boardID string
	columns config.BoardColumns
}

type FindResult struct {
	Exists bool
	ItemID string
}

type MutationResult struct {
	Success bool
	ItemID  string
	Error   string
}

func NewSync(client *Client, cache *GroupCache, boardID string, columns config.BoardColumns) *Sync {
	return &Sync{client: client, cache: cache, boardID: boardID, columns: columns}
}

func (s *Sync) Connected() bool {
	return s != nil && s.client.Connected() && s.boardID != ""
}

// Columns exposes the validated milestone column mapping.
func (s *Sync) Columns() config.BoardColumns {
	return s.columns
}

// groupID resolves the board group for a jurisdiction, consulting the cache
// first and refilling it from the API on a miss.
func (s *Sync) groupID(ctx context.Context, reportState string) (string, error) {
	if s.cache != nil {
		groups, err := s.cache.Get(ctx, s.boardID)
		if err != nil {
			log.Printf("board: group cache read failed, falling through to API: %v", err)
		}
		if id, ok := groups[reportState]; ok {
			return id, nil
		}
	}

	listed, err := s.client.ListGroups(ctx, s.boardID)
	if err != nil {
		return "", fmt.Errorf("list groups: %w", err)
	}
	groups := make(map[string]string, len(listed))
	for _, group := range listed {
		groups[NormalizeJurisdiction(group.Title)] = group.ID
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, s.boardID, groups); err != nil {
			log.Printf("board: group cache write failed: %v", err)
		}
	}

	id, ok := groups[reportState]
	if !ok {
		return "", fmt.Errorf("no board group for jurisdiction %q", reportState)
	}
	return id, nil
}

// InvalidateGroups drops the cached group mapping; call it after the board
// structure changes.
func (s *Sync) InvalidateGroups(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateBoard(ctx, s.boardID)
}

// FindAuthorInPaymentsBoard searches the jurisdiction's group for an item
// whose name matches the author, case-insensitively and exactly.
func (s *Sync) FindAuthorInPaymentsBoard(ctx context.Context, reportState, authorName string) (FindResult, error) {
	groupID, err := s.groupID(ctx, reportState)
	if err != nil {
		return FindResult{}, err
	}
	items, err := s.client.QueryItems(ctx, s.boardID)
	if err != nil {
		return FindResult{}, fmt.Errorf("query items: %w", err)
	}
	wanted := strings.ToLower(strings.TrimSpace(authorName))
	for _, item := range items {
		if item.GroupID != groupID {
			continue
		}
		if strings.ToLower(strings.TrimSpace(item.Name)) == wanted {
			return FindResult{Exists: true, ItemID: item.ID}, nil
		}
	}
	return FindResult{}, nil
}

type Author struct {
	ReportState string
	Name        string
	Email       string
	ChapterType string
}

// AddAuthorToPaymentsBoard upserts the author into the jurisdiction group.
// An existing item is reused; duplicate entries for the same author and
// jurisdiction are a correctness violation.
func (s *Sync) AddAuthorToPaymentsBoard(ctx context.Context, author Author) MutationResult {
	if !s.Connected() {
		return MutationResult{Error: "board integration not connected"}
	}
	found, err := s.FindAuthorInPaymentsBoard(ctx, author.ReportState, author.Name)
	if err != nil {
		return MutationResult{Error: err.Error()}
	}
	if found.Exists {
		return MutationResult{Success: true, ItemID: found.ItemID}
	}

	groupID, err := s.groupID(ctx, author.ReportState)
	if err != nil {
		return MutationResult{Error: err.Error()}
	}
	columns := map[string]string{}
	if s.columns.Status != "" {
		columns[s.columns.Status] = "Contracting"
	}
	itemID, err := s.client.CreateItem(ctx, s.boardID, groupID, author.Name, columns)
	if err != nil {
		return MutationResult{Error: fmt.Sprintf("create board item: %v", err)}
	}
	return MutationResult{Success: true, ItemID: itemID}
}

// UpdateAuthorPaymentMilestone sets one milestone column. Milestones are
// monotonic: this only ever writes affirmative values, never clears one.
func (s *Sync) UpdateAuthorPaymentMilestone(ctx context.Context, itemID, columnID, value string) MutationResult {
	if !s.Connected() {
		return MutationResult{Error: "board integration not connected"}
	}
	if strings.TrimSpace(columnID) == "" {
		return MutationResult{Error: "no column mapping for this milestone"}
	}
	if err := s.client.UpdateItemColumn(ctx, s.boardID, itemID, columnID, value); err != nil {
		return MutationResult{Error: fmt.Sprintf("update column %s: %v", columnID, err)}
	}
	return MutationResult{Success: true, ItemID: itemID}
}

// PostComment adds a progress note to a board item.
func (s *Sync) PostComment(ctx context.Context, itemID, text string) MutationResult {
	if !s.Connected() {
		return MutationResult{Error: "board integration not connected"}
	}
	if err := s.client.AddComment(ctx, itemID, text); err != nil {
		return MutationResult{Error: fmt.Sprintf("add comment: %v", err)}
	}
	return MutationResult{Success: true, ItemID: itemID}
}
