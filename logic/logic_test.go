package logic

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/LCtech96/Facevoice.AI-sub001/bus"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
	"github.com/LCtech96/Facevoice.AI-sub001/pkg"
)

// fakeStore is an in-memory AppendStore that publishes every insert to a
// broker, mirroring the DB-backed store's contract.
type fakeStore struct {
	mu     sync.Mutex
	convs  map[uuid.UUID]models.Conversation
	msgs   map[uuid.UUID][]models.Message
	broker *bus.Broker
	clock  int64

	failInsertRole string        // inserts with this role fail
	failList       bool
	insertDelay    time.Duration // simulated store latency
}

func newFakeStore(broker *bus.Broker) *fakeStore {
	return &fakeStore{
		convs:  make(map[uuid.UUID]models.Conversation),
		msgs:   make(map[uuid.UUID][]models.Message),
		broker: broker,
	}
}

func (s *fakeStore) addConversation(model string) models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := models.Conversation{ID: uuid.New(), Model: model, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.convs[conv.ID] = conv
	return conv
}

func (s *fakeStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &conv, nil
}

func (s *fakeStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, fmt.Errorf("%w: list unavailable", models.ErrTransient)
	}
	if _, ok := s.convs[conversationID]; !ok {
		return nil, models.ErrNotFound
	}
	out := make([]models.Message, len(s.msgs[conversationID]))
	copy(out, s.msgs[conversationID])
	return out, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, conversationID uuid.UUID, role, content, author string) (*models.Message, error) {
	if s.insertDelay > 0 {
		time.Sleep(s.insertDelay)
	}
	s.mu.Lock()
	if _, ok := s.convs[conversationID]; !ok {
		s.mu.Unlock()
		return nil, models.ErrNotFound
	}
	if s.failInsertRole != "" && role == s.failInsertRole {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: insert refused", models.ErrTransient)
	}
	s.clock++
	msg := models.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Author:         author,
		CreatedAt:      time.Unix(0, s.clock),
	}
	s.msgs[conversationID] = append(s.msgs[conversationID], msg)

	// publish before releasing the lock, matching the DB-backed store's
	// insert+publish ordering guarantee
	if s.broker != nil {
		s.broker.Publish(bus.Event{ConversationID: conversationID, Message: msg})
	}
	s.mu.Unlock()
	return &msg, nil
}

func (s *fakeStore) countByRole(conversationID uuid.UUID, role string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.msgs[conversationID] {
		if m.Role == role {
			n++
		}
	}
	return n
}

// fakeProvider delegates to a function so each test controls completions.
type fakeProvider struct {
	fn func(ctx context.Context, model string, messages []pkg.RequestMessage) (string, error)
}

func (p *fakeProvider) Complete(ctx context.Context, model string, messages []pkg.RequestMessage, onDelta func(string)) (string, error) {
	return p.fn(ctx, model, messages)
}

func staticProvider(reply string) *fakeProvider {
	return &fakeProvider{fn: func(ctx context.Context, model string, messages []pkg.RequestMessage) (string, error) {
		return reply, nil
	}}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
