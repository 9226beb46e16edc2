package logic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LCtech96/Facevoice.AI-sub001/bus"
	"github.com/LCtech96/Facevoice.AI-sub001/metrics"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
)

// Entry is one row in a viewer's reconciled message list. Ref tags the
// entry as optimistic or canonical; everything else mirrors the store row.
type Entry struct {
	Ref       models.MessageRef
	Role      string
	Content   string
	Author    string
	CreatedAt time.Time
}

func entryFromMessage(m models.Message) Entry {
	return Entry{
		Ref:       models.CanonicalRef(m.ID),
		Role:      m.Role,
		Content:   m.Content,
		Author:    m.Author,
		CreatedAt: m.CreatedAt,
	}
}

// Synchronizer maintains one viewer's duplicate-free, order-stable message
// sequence from three asynchronous sources: the initial history load,
// locally-originated optimistic appends, and the conversation's bus feed.
// One instance exists per viewer session; Close releases the subscription.
type Synchronizer struct {
	store     Store
	submitter Submitter

	conversationID uuid.UUID
	viewer         string

	mu      sync.Mutex
	conv    models.Conversation
	model   string
	entries []Entry
	seen    map[uuid.UUID]struct{}
	closed  bool

	sub      *bus.Subscription
	onChange func()
	onError  func(error)
}

// SessionOption customizes a viewer session.
type SessionOption func(*Synchronizer)

// WithViewer attributes this session's user messages to an author name.
func WithViewer(name string) SessionOption {
	return func(s *Synchronizer) { s.viewer = name }
}

// WithOnChange registers a notification fired after every list mutation.
func WithOnChange(fn func()) SessionOption {
	return func(s *Synchronizer) { s.onChange = fn }
}

// WithOnError registers a callback for non-fatal pipeline errors.
func WithOnError(fn func(error)) SessionOption {
	return func(s *Synchronizer) { s.onError = fn }
}

// OpenConversation loads the conversation's history and subscribes to its
// insert feed. An unknown id fails with NotFound; any other load or
// subscribe failure surfaces ConversationUnavailable. On every error path
// the subscription is released before returning.
func OpenConversation(ctx context.Context, store Store, source bus.Source, submitter Submitter, conversationID uuid.UUID, opts ...SessionOption) (*Synchronizer, error) {
	s := &Synchronizer{
		store:          store,
		submitter:      submitter,
		conversationID: conversationID,
		seen:           make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Load(ctx); err != nil {
		return nil, err
	}

	sub, err := source.Subscribe(conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", models.ErrConversationUnavailable, err)
	}
	s.sub = sub
	metrics.ActiveSubscriptions.Inc()

	go s.eventLoop()
	return s, nil
}

// Load fetches the full ordered history and replaces local state wholesale,
// recording the conversation's model. Transient failures are retryable by
// calling Load again.
func (s *Synchronizer) Load(ctx context.Context) error {
	conv, err := s.store.GetConversation(ctx, s.conversationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrConversationUnavailable, err)
	}
	history, err := s.store.ListMessages(ctx, s.conversationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrConversationUnavailable, err)
	}

	s.mu.Lock()
	s.conv = *conv
	s.model = conv.Model
	s.entries = make([]Entry, 0, len(history))
	s.seen = make(map[uuid.UUID]struct{}, len(history))
	for _, m := range history {
		s.entries = append(s.entries, entryFromMessage(m))
		s.seen[m.ID] = struct{}{}
	}
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

func (s *Synchronizer) eventLoop() {
	for evt := range s.sub.C {
		s.Merge(evt.Message)
	}
}

// AppendOptimistic appends a locally-originated entry with a fresh
// optimistic id before any network round trip and returns it for immediate
// display. This is the only guaranteed-synchronous mutation.
func (s *Synchronizer) AppendOptimistic(role, content string) Entry {
	entry := Entry{
		Ref:       models.NewLocalRef(),
		Role:      role,
		Content:   content,
		Author:    s.viewer,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	s.notifyChange()
	return entry
}

// Reconcile rewrites the optimistic entry's id in place once persistence
// confirms it. If the bus echo already delivered the canonical row, the
// optimistic entry collapses into it instead of remaining as a duplicate.
func (s *Synchronizer) Reconcile(localID string, msg models.Message) {
	s.mu.Lock()

	idx := -1
	for i, e := range s.entries {
		if id, ok := e.Ref.Local(); ok && id == localID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	if _, dup := s.seen[msg.ID]; dup {
		s.entries = append(s.entries[:idx], s.entries[idx+1:]...)
	} else {
		s.entries[idx].Ref = models.CanonicalRef(msg.ID)
		s.entries[idx].CreatedAt = msg.CreatedAt
		s.seen[msg.ID] = struct{}{}
	}
	s.mu.Unlock()

	s.notifyChange()
}

// Merge applies one incoming canonical message from the bus feed or a
// persist response. An entry already holding the same canonical id makes
// the incoming copy a no-op; otherwise the message appends at the tail.
// Malformed payloads are logged and dropped without touching local state.
func (s *Synchronizer) Merge(msg models.Message) {
	s.mu.Lock()

	if msg.ID == uuid.Nil || msg.ConversationID != s.conversationID || !models.ValidRole(msg.Role) {
		s.mu.Unlock()
		log.Warn().
			Str("conversation_id", s.conversationID.String()).
			Str("message_id", msg.ID.String()).
			Msg("dropping malformed merge payload")
		return
	}

	if _, dup := s.seen[msg.ID]; dup {
		s.mu.Unlock()
		return
	}

	s.entries = append(s.entries, entryFromMessage(msg))
	s.seen[msg.ID] = struct{}{}
	s.mu.Unlock()

	s.notifyChange()
}

// CurrentMessages returns a copy of the viewer's ordered message list.
func (s *Synchronizer) CurrentMessages() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Conversation returns the conversation metadata recorded at load time,
// with the session's current model selector applied.
func (s *Synchronizer) Conversation() models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := s.conv
	conv.Model = s.model
	return conv
}

// SetModel records a new model selector for subsequent submissions. The
// value is accepted without provider-capability validation.
func (s *Synchronizer) SetModel(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

// SubmitUserMessage appends the text optimistically and hands it to the
// submitter, fire-and-forget. The view learns about progress through change
// notifications; pipeline failures arrive on the error callback and leave
// the view usable.
func (s *Synchronizer) SubmitUserMessage(text string) Entry {
	entry := s.AppendOptimistic(models.RoleUser, text)
	conv := s.Conversation()

	go func() {
		if err := s.submitter.Submit(context.Background(), &conv, entry, s.Reconcile, nil); err != nil {
			s.reportError(err)
		}
	}()
	return entry
}

// Close tears the session down and releases the bus subscription. Safe to
// call more than once.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.sub != nil {
		s.sub.Close()
		metrics.ActiveSubscriptions.Dec()
	}
}

func (s *Synchronizer) notifyChange() {
	if s.onChange != nil {
		s.onChange()
	}
}

func (s *Synchronizer) reportError(err error) {
	log.Error().Err(err).
		Str("conversation_id", s.conversationID.String()).
		Msg("pipeline error")
	if s.onError != nil {
		s.onError(err)
	}
}
