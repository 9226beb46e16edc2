package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/LCtech96/Facevoice.AI-sub001/bus"
	"github.com/LCtech96/Facevoice.AI-sub001/logic"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

// apiClient adapts the server's HTTP and websocket surfaces to the
// interfaces the synchronizer expects, so a remote viewer runs the same
// merge logic as an in-process one.
type apiClient struct {
	base   string
	author string
	http   *http.Client
}

func newAPIClient(base, author string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		author: author,
		http:   &http.Client{},
	}
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", models.ErrTransient, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetConversation implements logic.Store.
func (c *apiClient) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := c.get(ctx, "/conversations/"+id.String(), &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages implements logic.Store.
func (c *apiClient) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	var msgs []models.Message
	if err := c.get(ctx, "/conversations/"+conversationID.String()+"/messages", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreateConversation starts a fresh shared conversation.
func (c *apiClient) CreateConversation(ctx context.Context, title, model string) (*models.Conversation, error) {
	body, _ := json.Marshal(map[string]string{"title": title, "model": model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/conversations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrTransient, resp.StatusCode, string(b))
	}
	var conv models.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Submit implements logic.Submitter. The server persists the message, runs
// the pipeline and answers with the canonical user row; the assistant reply
// arrives through the websocket feed.
func (c *apiClient) Submit(ctx context.Context, conv *models.Conversation, msg logic.Entry, reconcile logic.ReconcileFunc, onDelta func(string)) error {
	body, _ := json.Marshal(map[string]string{"content": msg.Content, "author": c.author})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/conversations/"+conv.ID.String()+"/messages", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("submit rejected: status %d: %s", resp.StatusCode, string(b))
	}

	var ack struct {
		UserMessage models.Message `json:"user_message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("decoding submit ack: %w", err)
	}
	if reconcile != nil {
		localID, _ := msg.Ref.Local()
		reconcile(localID, ack.UserMessage)
	}
	return nil
}

// Subscribe implements bus.Source over the server's websocket endpoint.
func (c *apiClient) Subscribe(conversationID uuid.UUID) (*bus.Subscription, error) {
	wsBase := strings.Replace(c.base, "http", "ws", 1)
	conn, _, err := websocket.DefaultDialer.Dial(
		wsBase+"/conversations/"+conversationID.String()+"/ws", nil)
	if err != nil {
		return nil, err
	}

	ch := make(chan bus.Event, 64)
	go func() {
		defer close(ch)
		for {
			var evt bus.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			ch <- evt
		}
	}()

	return bus.NewSubscription(ch, func() { conn.Close() }), nil
}
