// Package rest is the client for the chat backend's HTTP API: conversation
// listing, history pages, message persistence, read state, and uploads.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chatsync/pkg/session"
	"chatsync/pkg/wire"
)

// SendMessageRequest is the POST /chat/messages body.
type SendMessageRequest struct {
	ConversationID string           `json:"conversation_id"`
	Content        string           `json:"content"`
	MessageType    wire.MessageType `json:"message_type"`
	FileURL        string           `json:"file_url,omitempty"`
	FileName       string           `json:"file_name,omitempty"`
	FileSize       int64            `json:"file_size,omitempty"`
	FileMimeType   string           `json:"file_mime_type,omitempty"`
}

// UploadResult is the POST /chat/upload response.
type UploadResult struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name"`
	IsImage  bool   `json:"is_image"`
}

// Client calls the chat backend. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	session *session.Session
}

// NewClient creates a REST client rooted at baseURL (no trailing slash).
func NewClient(baseURL string, sess *session.Session) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		session: sess,
	}
}

// ListConversations fetches all conversations for the session user.
func (c *Client) ListConversations(ctx context.Context) ([]wire.Conversation, error) {
	var out []wire.Conversation
	if err := c.do(ctx, http.MethodGet, "/chat/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// GetMessages fetches one newest-first page of history. A zero before means
// no cursor; otherwise only messages strictly older than before are returned.
func (c *Client) GetMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]wire.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages?" + q.Encode()

	var out []wire.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return out, nil
}

// SendMessage persists a message. The response body carries the confirmed
// message, but the caller acts only on the error: the authoritative copy
// arrives over the stream.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) error {
	if err := c.do(ctx, http.MethodPost, "/chat/messages", req, nil); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// CreateConversation opens a conversation with a participant on first
// contact.
func (c *Client) CreateConversation(ctx context.Context, participantID string) (wire.Conversation, error) {
	body := map[string]string{"participant_id": participantID}
	var out wire.Conversation
	if err := c.do(ctx, http.MethodPost, "/chat/conversations", body, &out); err != nil {
		return wire.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return out, nil
}

// MarkRead persists read state server-side; the server pairs it with a
// message_read frame broadcast to the peer.
func (c *Client) MarkRead(ctx context.Context, conversationID, otherUserID string) error {
	body := map[string]string{
		"conversation_id": conversationID,
		"other_user_id":   otherUserID,
	}
	if err := c.do(ctx, http.MethodPost, "/chat/messages/read", body, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Upload pushes file content as multipart form data, returning the stored
// file's URL for a subsequent image/file message.
func (c *Client) Upload(ctx context.Context, fileName string, content io.Reader) (UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/upload", &buf)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.session.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return UploadResult{}, fmt.Errorf("upload: unexpected status %d", resp.StatusCode)
	}

	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return UploadResult{}, fmt.Errorf("upload: decode response: %w", err)
	}
	return out, nil
}

// do issues one JSON request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.session.Token())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
