// Package messenger posts workspace messages and direct messages, used for
// accounting notifications when a payment milestone fires.
package messenger

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
)

var ErrNotConnected = errors.New("messaging integration not connected")

type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: client,
	}
}

func (c *Client) Connected() bool {
	return c != nil && c.baseURL != "" && c.token != ""
}

// PostMessage posts to a channel.
func (c *Client) PostMessage(ctx context.Context, channel, text string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.call(ctx, "/chat.postMessage", map[string]string{
		"channel": channel,
		"text":    text,
	}, nil)
}

// SendDirectMessage opens a DM with a user and posts into it.
func (c *Client) SendDirectMessage(ctx context.Context, userID, text string) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.call(ctx, "/chat.postMessage", map[string]string{
		"channel": userID,
		"text":    text,
	}, nil)
}

// LookupUserByEmail resolves a workspace user ID, or "" when unknown.
func (c *Client) LookupUserByEmail(ctx context.Context, email string) (string, error) {
	if !c.Connected() {
		return "", ErrNotConnected
	}
	var response struct {
		OK   bool `json:"ok"`
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	endpoint := "/users.lookupByEmail?email=" + url.QueryEscape(email)
	if err := c.call(ctx, endpoint, nil, &response); err != nil {
		return "", err
	}
	if !response.OK {
		return "", nil
	}
	return response.User.ID, nil
}

func (c *Client) call(ctx context.Context, endpoint string, payload any, out any) error {
	method := http.MethodGet
	var reqBody io.Reader
	if payload != nil {
		method = http.MethodPost
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("build messaging request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("messaging api: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read messaging response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("messaging api returned %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode messaging response: %w", err)
		}
	}
	return nil
}
