// Package api is the HTTP client for the durable-write REST API. It
// backs the sync engine's store, the fallback notifier and the voice
// upload store with one shared client.
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

	"crm-messaging/internal/client/sync"
	"crm-messaging/internal/client/voice"
	"crm-messaging/internal/models"
)

// Client calls the messaging REST API on behalf of one user.
type Client struct {
	baseURL string
	userID  int
	http    *http.Client
}

// New builds a Client. baseURL has no trailing slash.
func New(baseURL string, userID int) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-Id", strconv.Itoa(c.userID))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateMessage durably stores a message.
func (c *Client) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, "/conversations/"+msg.ConversationID+"/messages", msg, &out)
	return out, err
}

// ListConversations fetches the viewer's conversation list.
func (c *Client) ListConversations(ctx context.Context, userID int) ([]sync.ConversationView, error) {
	var out struct {
		Conversations []sync.ConversationView `json:"conversations"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations", nil, &out)
	return out.Conversations, err
}

// ListMessages fetches a conversation's history ascending by sent_at.
func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	err := c.do(ctx, http.MethodGet, "/conversations/"+conversationID+"/messages", nil, &out)
	return out.Messages, err
}

// ToggleReaction flips the caller's reaction and returns the full set.
func (c *Client) ToggleReaction(ctx context.Context, messageID string, userID int, emoji string) ([]models.Reaction, error) {
	var out struct {
		Reactions []models.Reaction `json:"reactions"`
	}
	err := c.do(ctx, http.MethodPost, "/messages/"+messageID+"/reactions",
		map[string]string{"emoji": emoji}, &out)
	return out.Reactions, err
}

// InsertReceipts batch-posts read receipts.
func (c *Client) InsertReceipts(ctx context.Context, receipts []models.ReadReceipt) error {
	if len(receipts) == 0 {
		return nil
	}
	ids := make([]string, len(receipts))
	for i, r := range receipts {
		ids[i] = r.MessageID
	}
	return c.do(ctx, http.MethodPost, "/receipts", map[string]any{
		"message_ids": ids,
		"read_at":     receipts[0].ReadAt,
	}, nil)
}

// ListReceipts fetches receipts for a set of messages.
func (c *Client) ListReceipts(ctx context.Context, messageIDs []string) ([]models.ReadReceipt, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, id := range messageIDs {
		query.Add("message_id", id)
	}
	var out struct {
		Receipts []models.ReadReceipt `json:"receipts"`
	}
	err := c.do(ctx, http.MethodGet, "/receipts?"+query.Encode(), nil, &out)
	return out.Receipts, err
}

// NotifyOffline requests fallback delivery for an unreachable recipient.
func (c *Client) NotifyOffline(ctx context.Context, n sync.OfflineNotification) error {
	return c.do(ctx, http.MethodPost, "/notify/offline", map[string]any{
		"conversation_id": n.ConversationID,
		"sender_id":       n.SenderID,
		"content":         n.Content,
		"message_type":    n.MessageType,
		"attachment_name": n.AttachmentName,
	}, nil)
}

// CreateVoiceSession opens a chunked voice upload.
func (c *Client) CreateVoiceSession(ctx context.Context, conversationID string, senderID int) (string, error) {
	var out models.VoiceSession
	err := c.do(ctx, http.MethodPost, "/voice/sessions",
		map[string]string{"conversation_id": conversationID}, &out)
	return out.Token, err
}

// UploadVoiceChunk stores one chunk; retries are idempotent per seq.
func (c *Client) UploadVoiceChunk(ctx context.Context, token string, chunk models.VoiceChunk) error {
	return c.do(ctx, http.MethodPut, "/voice/sessions/"+token+"/chunks", chunk, nil)
}

// FinalizeVoiceSession turns the upload into a voice message.
func (c *Client) FinalizeVoiceSession(ctx context.Context, token string, duration time.Duration, waveform []float64) (models.Message, error) {
	var out models.Message
	err := c.do(ctx, http.MethodPost, "/voice/sessions/"+token+"/finalize", map[string]any{
		"duration_ms": duration.Milliseconds(),
		"waveform":    waveform,
	}, &out)
	return out, err
}

// CancelVoiceSession abandons an in-progress upload.
func (c *Client) CancelVoiceSession(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/voice/sessions/"+token, nil, nil)
}

var (
	_ sync.Store        = (*Client)(nil)
	_ sync.Notifier     = (*Client)(nil)
	_ voice.UploadStore = (*Client)(nil)
)
