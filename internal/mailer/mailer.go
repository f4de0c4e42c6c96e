// Package mailer talks to the hosted mail provider's REST API: draft
// creation (optionally with an attachment) and sent-mail search used by
// attachment recovery. It never sends mail directly; humans review drafts.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wellspring/api/internal/creds"
)

var ErrNotConnected = errors.New("mail integration not connected")

type Config struct {
	BaseURL    string
	Address    string // the account the drafts are created under
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	address    string
	httpClient *http.Client
	creds      creds.Provider
}

type Attachment struct {
	Filename string
	MimeType string
	Base64   string
}

type DraftResult struct {
	DraftID       string
	HasAttachment bool
}

type SentMatch struct {
	MessageID      string
	AttachmentID   string
	AttachmentName string
	MimeType       string
}

func New(cfg Config, provider creds.Provider) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		address:    cfg.Address,
		httpClient: client,
		creds:      provider,
	}
}

// Connected reports whether the integration is usable at all. Actions check
// this before doing work so the failure message can name the integration.
func (c *Client) Connected() bool {
	return c != nil && c.baseURL != ""
}

// CreateDraft creates a plain draft.
func (c *Client) CreateDraft(ctx context.Context, to, cc, subject, body string) (DraftResult, error) {
	return c.createDraft(ctx, to, cc, subject, body, nil)
}

// CreateDraftWithAttachment creates a draft carrying one attachment.
func (c *Client) CreateDraftWithAttachment(ctx context.Context, to, cc, subject, body string, attachment Attachment) (DraftResult, error) {
	return c.createDraft(ctx, to, cc, subject, body, &attachment)
}

func (c *Client) createDraft(ctx context.Context, to, cc, subject, body string, attachment *Attachment) (DraftResult, error) {
	if !c.Connected() {
		return DraftResult{}, ErrNotConnected
	}
	payload := map[string]any{
		"from":    c.address,
		"to":      to,
		"subject": subject,
		"body":    body,
	}
	if cc != "" {
		payload["cc"] = cc
	}
	if attachment != nil {
		payload["attachment"] = map[string]string{
			"filename": attachment.Filename,
			"mimeType": attachment.MimeType,
			"data":     attachment.Base64,
		}
	}

	var response struct {
		DraftID string `json:"draftId"`
	}
	if err := c.call(ctx, http.MethodPost, "/drafts", payload, &response); err != nil {
		return DraftResult{}, err
	}
	return DraftResult{DraftID: response.DraftID, HasAttachment: attachment != nil}, nil
}

// SearchSentWithAttachment searches sent mail for a message with an
// attachment matching the query, preferring PDF attachments.
func (c *Client) SearchSentWithAttachment(ctx context.Context, query string) (*SentMatch, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}
	var response struct {
		Matches []struct {
			MessageID   string `json:"messageId"`
			Attachments []struct {
				ID       string `json:"id"`
				Filename string `json:"filename"`
				MimeType string `json:"mimeType"`
			} `json:"attachments"`
		} `json:"matches"`
	}
	endpoint := "/messages/sent/search?q=" + url.QueryEscape(query)
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	var fallback *SentMatch
	for _, match := range response.Matches {
		for _, att := range match.Attachments {
			candidate := &SentMatch{
				MessageID:      match.MessageID,
				AttachmentID:   att.ID,
				AttachmentName: att.Filename,
				MimeType:       att.MimeType,
			}
			if att.MimeType == "application/pdf" {
				return candidate, nil
			}
			if fallback == nil {
				fallback = candidate
			}
		}
	}
	return fallback, nil
}

// FetchAttachmentBytes downloads an attachment as base64.
func (c *Client) FetchAttachmentBytes(ctx context.Context, messageID, attachmentID string) (string, error) {
	if !c.Connected() {
		return "", ErrNotConnected
	}
	var response struct {
		Data string `json:"data"`
	}
	endpoint := fmt.Sprintf("/messages/%s/attachments/%s", url.PathEscape(messageID), url.PathEscape(attachmentID))
	if err := c.call(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return "", err
	}
	return response.Data, nil
}

// call performs one authenticated request. A 401 triggers exactly one
// silent token refresh and one retry.
func (c *Client) call(ctx context.Context, method, endpoint string, payload, out any) error {
	token, err := c.creds.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("mail auth: %w", err)
	}

	status, body, err := c.do(ctx, method, endpoint, payload, token)
	if err == nil && status == http.StatusUnauthorized {
		token, err = c.creds.RefreshNow(ctx)
		if err != nil {
			return fmt.Errorf("mail auth refresh: %w", err)
		}
		status, body, err = c.do(ctx, method, endpoint, payload, token)
	}
	if err != nil {
		return fmt.Errorf("mail api: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("mail api returned %d: %s", status, truncate(body, 200))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode mail response: %w", err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, token string) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal payload: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
