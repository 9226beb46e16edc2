package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/LCtech96/Facevoice.AI-sub001/bus"
	"github.com/LCtech96/Facevoice.AI-sub001/logic"
	"github.com/LCtech96/Facevoice.AI-sub001/metrics"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

type memStore struct {
	mu    sync.Mutex
	convs map[uuid.UUID]models.Conversation
	msgs  map[uuid.UUID][]models.Message
}

func newMemStore() *memStore {
	return &memStore{
		convs: make(map[uuid.UUID]models.Conversation),
		msgs:  make(map[uuid.UUID][]models.Message),
	}
}

func (s *memStore) CreateConversation(ctx context.Context, title, model string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := models.Conversation{ID: uuid.New(), Title: title, Model: model}
	s.convs[conv.ID] = conv
	return &conv, nil
}

func (s *memStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &conv, nil
}

func (s *memStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	return out, nil
}

func (s *memStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[conversationID]; !ok {
		return nil, models.ErrNotFound
	}
	out := make([]models.Message, len(s.msgs[conversationID]))
	copy(out, s.msgs[conversationID])
	return out, nil
}

func (s *memStore) SetModel(ctx context.Context, id uuid.UUID, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return models.ErrNotFound
	}
	conv.Model = model
	s.convs[id] = conv
	return nil
}

// ackSubmitter persists nothing; it immediately reconciles with a canonical
// row so the JSON submit path can answer.
type ackSubmitter struct {
	err error
}

func (a *ackSubmitter) Submit(ctx context.Context, conv *models.Conversation, msg logic.Entry, reconcile logic.ReconcileFunc, onDelta func(string)) error {
	if a.err != nil {
		return a.err
	}
	if reconcile != nil {
		localID, _ := msg.Ref.Local()
		reconcile(localID, models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        msg.Content,
			Author:         msg.Author,
		})
	}
	return nil
}

func newRouter(store *memStore, submitter logic.Submitter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	convoCtrl := NewConversationController(store, "default-model")
	messageCtrl := NewMessageController(store, submitter)
	r.POST("/conversations", convoCtrl.CreateConversation)
	r.GET("/conversations/:id", convoCtrl.GetConversation)
	r.PATCH("/conversations/:id/model", convoCtrl.SetModel)
	r.POST("/conversations/:id/messages", messageCtrl.AddMessage)
	r.GET("/conversations/:id/messages", messageCtrl.GetMessages)
	return r
}

func TestCreateConversationAppliesDefaultModel(t *testing.T) {
	r := newRouter(newMemStore(), &ackSubmitter{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations", bytes.NewBufferString(`{"title":"demo"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var conv models.Conversation
	if err := json.Unmarshal(w.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if conv.Model != "default-model" {
		t.Fatalf("model = %q, want default-model", conv.Model)
	}
}

func TestGetConversationNotFound(t *testing.T) {
	r := newRouter(newMemStore(), &ackSubmitter{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/"+uuid.NewString(), nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetConversationBadID(t *testing.T) {
	r := newRouter(newMemStore(), &ackSubmitter{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations/not-a-uuid", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestAddMessageJSONAck(t *testing.T) {
	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "", "m")
	r := newRouter(store, &ackSubmitter{})

	body := bytes.NewBufferString(`{"content":"hello","author":"alice"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID.String()+"/messages", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		UserMessage models.Message `json:"user_message"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding ack: %v", err)
	}
	if resp.UserMessage.Content != "hello" || resp.UserMessage.ID == uuid.Nil {
		t.Fatalf("ack = %+v", resp.UserMessage)
	}
}

func TestAddMessageValidationError(t *testing.T) {
	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "", "m")
	r := newRouter(store, &ackSubmitter{err: fmt.Errorf("%w: empty content", models.ErrValidation)})

	body := bytes.NewBufferString(`{"content":"   "}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID.String()+"/messages", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body %s", w.Code, w.Body.String())
	}
}

func TestAddMessageMissingContent(t *testing.T) {
	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "", "m")
	r := newRouter(store, &ackSubmitter{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID.String()+"/messages", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// failAfterAckSubmitter reconciles the user row and then fails, like a
// pipeline whose completion stage breaks after the persist succeeded.
type failAfterAckSubmitter struct{}

func (a *failAfterAckSubmitter) Submit(ctx context.Context, conv *models.Conversation, msg logic.Entry, reconcile logic.ReconcileFunc, onDelta func(string)) error {
	if reconcile != nil {
		localID, _ := msg.Ref.Local()
		reconcile(localID, models.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			Content:        msg.Content,
		})
	}
	return fmt.Errorf("%w: provider unreachable", models.ErrCompletionFailed)
}

// A persisted user message must be acknowledged even when the pipeline
// fails right after; answering with an error would leave the submitter's
// optimistic entry unreconciled forever.
func TestAddMessageAckOutranksPipelineFailure(t *testing.T) {
	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "", "m")
	r := newRouter(store, &failAfterAckSubmitter{})

	for i := 0; i < 50; i++ {
		body := bytes.NewBufferString(`{"content":"hello","author":"alice"}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/conversations/"+conv.ID.String()+"/messages", body)
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		if w.Code != http.StatusAccepted {
			t.Fatalf("attempt %d: status = %d, want 202, body %s", i, w.Code, w.Body.String())
		}
		var resp struct {
			UserMessage models.Message `json:"user_message"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding ack: %v", err)
		}
		if resp.UserMessage.ID == uuid.Nil {
			t.Fatalf("attempt %d: ack carries no canonical id", i)
		}
	}
}

func TestStreamCountsSubscription(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "", "m")
	broker := bus.NewBroker()
	defer broker.Close()

	r := gin.New()
	r.GET("/conversations/:id/ws", NewWSController(store, broker).Stream)
	srv := httptest.NewServer(r)
	defer srv.Close()

	before := testutil.ToFloat64(metrics.ActiveSubscriptions)

	url := strings.Replace(srv.URL, "http", "ws", 1) + "/conversations/" + conv.ID.String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	waitForGauge(t, before+1, "viewer connect")
	if n := broker.SubscriberCount(conv.ID); n != 1 {
		t.Fatalf("subscriber count = %d, want 1", n)
	}

	conn.Close()
	waitForGauge(t, before, "viewer disconnect")
}

func waitForGauge(t *testing.T, want float64, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(metrics.ActiveSubscriptions) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gauge never reached %v after %s", want, msg)
}

func TestSetModel(t *testing.T) {
	store := newMemStore()
	conv, _ := store.CreateConversation(context.Background(), "", "old")
	r := newRouter(store, &ackSubmitter{})

	body := bytes.NewBufferString(`{"model":"new-model"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/conversations/"+conv.ID.String()+"/model", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got, _ := store.GetConversation(context.Background(), conv.ID)
	if got.Model != "new-model" {
		t.Fatalf("model = %q, want new-model", got.Model)
	}
}
