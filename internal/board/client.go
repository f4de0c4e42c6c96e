// Package board reconciles local chapter/contributor state with the
// external project-management board.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Client is a thin GraphQL-over-HTTP client for the board API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Item struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	GroupID string            `json:"groupId"`
	Columns map[string]string `json:"columns"`
}

type Group struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func NewClient(cfg ClientConfig) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: client,
	}
}

func (c *Client) Connected() bool {
	return c != nil && c.baseURL != ""
}

func (c *Client) ListGroups(ctx context.Context, boardID string) ([]Group, error) {
	query := `query ($boardId: ID!) { boards (ids: [$boardId]) { groups { id title } } }`
	var response struct {
		Data struct {
			Boards []struct {
				Groups []Group `json:"groups"`
			} `json:"boards"`
		} `json:"data"`
	}
	if err := c.execute(ctx, query, map[string]any{"boardId": boardID}, &response); err != nil {
		return nil, err
	}
	if len(response.Data.Boards) == 0 {
		return nil, fmt.Errorf("board %s not found", boardID)
	}
	return response.Data.Boards[0].Groups, nil
}

func (c *Client) QueryItems(ctx context.Context, boardID string) ([]Item, error) {
	query := `query ($boardId: ID!) { boards (ids: [$boardId]) { items_page (limit: 500) { items { id name group { id } column_values { id text } } } } }`
	var response struct {
		Data struct {
			Boards []struct {
				ItemsPage struct {
					Items []struct {
						ID    string `json:"id"`
						Name  string `json:"name"`
						Group struct {
							ID string `json:"id"`
						} `json:"group"`
						ColumnValues []struct {
							ID   string `json:"id"`
							Text string `json:"text"`
						} `json:"column_values"`
					} `json:"items"`
				} `json:"items_page"`
			} `json:"boards"`
		} `json:"data"`
	}
	if err := c.execute(ctx, query, map[string]any{"boardId": boardID}, &response); err != nil {
		return nil, err
	}
	if len(response.Data.Boards) == 0 {
		return nil, fmt.Errorf("board %s not found", boardID)
	}

	var items []Item
	for _, raw := range response.Data.Boards[0].ItemsPage.Items {
		item := Item{
			ID:      raw.ID,
			Name:    raw.Name,
			GroupID: raw.Group.ID,
			Columns: make(map[string]string, len(raw.ColumnValues)),
		}
		for _, col := range raw.ColumnValues {
			item.Columns[col.ID] = col.Text
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) CreateItem(ctx context.Context, boardID, groupID, name string, columns map[string]string) (string, error) {
	query := `mutation ($boardId: ID!, $groupId: String!, $name: String!, $columns: JSON) {
		create_item (board_id: $boardId, group_id: $groupId, item_name: $name, column_values: $columns) { id }
	}`
	columnsJSON, err := json.Marshal(columns)
	if err != nil {
		return "", fmt.Errorf("marshal columns: %w", err)
	}
	var response struct {
		Data struct {
			CreateItem struct {
				ID string `json:"id"`
			} `json:"create_item"`
		} `json:"data"`
	}
	vars := map[string]any{"boardId": boardID, "groupId": groupID, "name": name, "columns": string(columnsJSON)}
	if err := c.execute(ctx, query, vars, &response); err != nil {
		return "", err
	}
	if response.Data.CreateItem.ID == "" {
		return "", fmt.Errorf("create_item returned no id")
	}
	return response.Data.CreateItem.ID, nil
}

func (c *Client) UpdateItemColumn(ctx context.Context, boardID, itemID, columnID, value string) error {
	query := `mutation ($boardId: ID!, $itemId: ID!, $columnId: String!, $value: String!) {
		change_simple_column_value (board_id: $boardId, item_id: $itemId, column_id: $columnId, value: $value) { id }
	}`
	vars := map[string]any{"boardId": boardID, "itemId": itemID, "columnId": columnID, "value": value}
	return c.execute(ctx, query, vars, nil)
}

func (c *Client) AddComment(ctx context.Context, itemID, text string) error {
	query := `mutation ($itemId: ID!, $body: String!) { create_update (item_id: $itemId, body: $body) { id } }`
	return c.execute(ctx, query, map[string]any{"itemId": itemID, "body": text}, nil)
}

func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build board request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("board api: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read board response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("board api returned %d", resp.StatusCode)
	}

	var envelope struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		return fmt.Errorf("board api error: %s", envelope.Errors[0].Message)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode board response: %w", err)
		}
	}
	return nil
}
