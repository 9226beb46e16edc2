package logic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LCtech96/Facevoice.AI-sub001/metrics"
	"github.com/LCtech96/Facevoice.AI-sub001/models"
	"github.com/LCtech96/Facevoice.AI-sub001/pkg"
)

// Provider is the completion backend: ordered history in, assistant text
// out. Implemented by pkg.ChatClient.
type Provider interface {
	Complete(ctx context.Context, model string, messages []pkg.RequestMessage, onDelta func(string)) (string, error)
}

// ReconcileFunc is called once the submitted message has its permanent id,
// so the originating viewer can rewrite its optimistic entry in place.
type ReconcileFunc func(localID string, msg models.Message)

// Submitter accepts a fresh user message for the completion pipeline.
// Server-side this is the Orchestrator; remote viewers submit over HTTP.
type Submitter interface {
	Submit(ctx context.Context, conv *models.Conversation, msg Entry, reconcile ReconcileFunc, onDelta func(string)) error
}

// inflightGuard is a conversation-keyed exclusivity marker. Acquire is an
// atomic check-and-set; at most one pipeline per conversation holds it.
type inflightGuard struct {
	m sync.Map
}

func (g *inflightGuard) acquire(id uuid.UUID) bool {
	_, loaded := g.m.LoadOrStore(id, struct{}{})
	return !loaded
}

func (g *inflightGuard) release(id uuid.UUID) {
	g.m.Delete(id)
}

func (g *inflightGuard) held(id uuid.UUID) bool {
	_, ok := g.m.Load(id)
	return ok
}

// Orchestrator drives the persist → complete → persist pipeline for one
// user message and enforces single-flight execution per conversation.
type Orchestrator struct {
	store    AppendStore
	provider Provider
	timeout  time.Duration
	guard    inflightGuard
}

func NewOrchestrator(store AppendStore, provider Provider, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Orchestrator{store: store, provider: provider, timeout: timeout}
}

// InFlight reports whether a pipeline currently holds the conversation's guard.
func (o *Orchestrator) InFlight(conversationID uuid.UUID) bool {
	return o.guard.held(conversationID)
}

// Submit runs the completion pipeline for one fresh user message.
// Non-user messages are ignored. If a pipeline is already in flight for the
// conversation, the message is still persisted and reconciled so every
// viewer sees it, but no second pipeline starts.
//
// On CompletionFailed the user message stays persisted and visible; on a
// failed assistant persist the reply text is lost. Neither case retries.
func (o *Orchestrator) Submit(ctx context.Context, conv *models.Conversation, msg Entry, reconcile ReconcileFunc, onDelta func(string)) error {
	if msg.Role != models.RoleUser {
		log.Debug().
			Str("conversation_id", conv.ID.String()).
			Str("role", msg.Role).
			Msg("ignoring non-user submission")
		return nil
	}

	localID, _ := msg.Ref.Local()

	if !o.guard.acquire(conv.ID) {
		metrics.SubmissionsBlocked.Inc()
		log.Info().
			Str("conversation_id", conv.ID.String()).
			Msg("pipeline in flight, persisting message without completion")
		userMsg, err := o.store.InsertMessage(ctx, conv.ID, models.RoleUser, msg.Content, msg.Author)
		if err != nil {
			return classifyPersist(err)
		}
		if reconcile != nil {
			reconcile(localID, *userMsg)
		}
		return nil
	}
	defer o.guard.release(conv.ID)

	// Persisting(user)
	userMsg, err := o.store.InsertMessage(ctx, conv.ID, models.RoleUser, msg.Content, msg.Author)
	if err != nil {
		metrics.PipelinesTotal.WithLabelValues(metrics.ResultPersistFailed).Inc()
		return classifyPersist(err)
	}
	if reconcile != nil {
		reconcile(localID, *userMsg)
	}

	// Requesting(completion): full canonical history minus system rows
	history, err := o.store.ListMessages(ctx, conv.ID)
	if err != nil {
		metrics.PipelinesTotal.WithLabelValues(metrics.ResultCompletionFailed).Inc()
		return fmt.Errorf("%w: loading history: %v", models.ErrCompletionFailed, err)
	}
	turns := make([]pkg.RequestMessage, 0, len(history))
	for _, m := range history {
		if m.Role == models.RoleSystem {
			continue
		}
		turns = append(turns, pkg.RequestMessage{Role: m.Role, Content: m.Content})
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	reply, err := o.provider.Complete(cctx, conv.Model, turns, onDelta)
	metrics.ObserveCompletion(time.Since(start))
	if err != nil {
		metrics.PipelinesTotal.WithLabelValues(metrics.ResultCompletionFailed).Inc()
		log.Error().Err(err).
			Str("conversation_id", conv.ID.String()).
			Str("model", conv.Model).
			Msg("completion failed, user message stays persisted")
		return fmt.Errorf("%w: %v", models.ErrCompletionFailed, err)
	}

	// Persisting(assistant)
	if _, err := o.store.InsertMessage(ctx, conv.ID, models.RoleAssistant, reply, ""); err != nil {
		metrics.PipelinesTotal.WithLabelValues(metrics.ResultPersistFailed).Inc()
		log.Error().Err(err).
			Str("conversation_id", conv.ID.String()).
			Msg("failed to persist assistant reply, text lost")
		return classifyPersist(err)
	}

	metrics.PipelinesTotal.WithLabelValues(metrics.ResultCompleted).Inc()
	return nil
}

// classifyPersist keeps Validation distinct; everything else after
// validation is PersistFailed.
func classifyPersist(err error) error {
	if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrPersistFailed, err)
}
