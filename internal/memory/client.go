package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Item is one retrieved memory.
type Item struct {
	ID     string  `json:"id"`
	Memory string  `json:"memory"`
	Score  float64 `json:"score,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Searcher interface {
	Search(ctx context.Context, agentID, query string, limit int) ([]Item, error)
}

type Store interface {
	Add(ctx context.Context, agentID string, messages []Message, metadata map[string]any) error
}

// Client talks to a mem0-style memory API.
type Client struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type searchReq struct {
	Query   string `json:"query"`
	AgentID string `json:"agent_id"`
	Limit   int    `json:"limit,omitempty"`
}

type addReq struct {
	Messages []Message      `json:"messages"`
	AgentID  string         `json:"agent_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (c *Client) post(ctx context.Context, path string, body any) ([]byte, error) {
	if c.Client == nil {
		return nil, errors.New("memory: http client is nil")
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Token "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("memory: %s", msg)
	}
	return data, nil
}

// Search returns memories in agentID relevant to query. The service answers
// either with a bare array or with {"results": [...]}.
func (c *Client) Search(ctx context.Context, agentID, query string, limit int) ([]Item, error) {
	data, err := c.post(ctx, "/v1/memories/search/", searchReq{Query: query, AgentID: agentID, Limit: limit})
	if err != nil {
		return nil, err
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err == nil {
		return items, nil
	}
	var wrapped struct {
		Results []Item `json:"results"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("memory: decode search: %w", err)
	}
	return wrapped.Results, nil
}

func (c *Client) Add(ctx context.Context, agentID string, messages []Message, metadata map[string]any) error {
	_, err := c.post(ctx, "/v1/memories/", addReq{Messages: messages, AgentID: agentID, Metadata: metadata})
	return err
}
