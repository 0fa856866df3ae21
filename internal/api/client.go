package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatsync/internal/domain"
)

const defaultRequestTimeout = 30 * time.Second

// Client is the HTTP implementation of the REST collaborators.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
	}
}

func (c *Client) ListConversations(ctx context.Context, page int) ([]domain.Conversation, error) {
	query := url.Values{}
	if page > 0 {
		query.Set("page", strconv.Itoa(page))
	}

	var out []domain.Conversation
	if err := c.doJSON(ctx, http.MethodGet, "/conversations", query, nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

func (c *Client) GetMessages(ctx context.Context, conversationID, beforeMessageID string) ([]domain.Message, error) {
	query := url.Values{}
	if beforeMessageID != "" {
		query.Set("before", beforeMessageID)
	}

	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	var out []domain.Message
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return out, nil
}

func (c *Client) CreateOneToOneConversation(ctx context.Context, recipientID string) (domain.Conversation, error) {
	body := map[string]string{"recipient_id": recipientID}
	var out domain.Conversation
	if err := c.doJSON(ctx, http.MethodPost, "/conversations", nil, body, &out); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return out, nil
}

func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) error {
	path := "/messages/" + url.PathEscape(messageID) + "/reactions"
	body := map[string]string{"emoji": emoji}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, nil); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	path := "/messages/" + url.PathEscape(messageID) + "/reactions/" + url.PathEscape(emoji)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

// Upload streams attachment bytes and returns the stored URL.
func (c *Client) Upload(ctx context.Context, upload Upload) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/uploads", upload.Body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	if upload.MimeType != "" {
		req.Header.Set("Content-Type", upload.MimeType)
	}
	if upload.Filename != "" {
		req.Header.Set("X-Filename", upload.Filename)
	}
	if upload.Size > 0 {
		req.ContentLength = upload.Size
	}
	if err := c.authorize(req); err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload attachment: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload attachment: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	return payload.URL, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if err := c.authorize(req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens.AccessToken()
	if err != nil {
		return fmt.Errorf("resolve access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
