package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ashish23d/GreatX/internal/models"
	"github.com/ashish23d/GreatX/internal/redis"
	"github.com/ashish23d/GreatX/internal/service/intent"
)

const (
	defaultTitle   = "New Conversation"
	imageChatTitle = "Image Chat"
	titleRunes     = 30

	maxLoadAttempts = 3
)

// Store is the persistence the manager needs; *assistant.Service satisfies it.
type Store interface {
	CreateConversation(ctx context.Context, id string, ownerID int64, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, ownerID int64, id string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, ownerID int64, id string) error
	AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Responder produces the assistant message for a classified turn;
// *ai.Dispatcher satisfies it.
type Responder interface {
	Dispatch(ctx context.Context, in intent.Intent, utterance string, prior []models.Message, attachedImage string) (*models.Message, error)
}

// TurnRequest is one user turn. OwnerID 0 means guest. ConversationID empty
// starts a new conversation. Image is a data URI or empty.
type TurnRequest struct {
	Context        context.Context
	OwnerID        int64
	ConversationID string
	Utterance      string
	Image          string
}

type TurnResult struct {
	Conversation models.Conversation
	Transcript   []models.Message
	Intent       intent.Intent
}

type turnOutcome struct {
	result *TurnResult
	err    error
}

type turnTask struct {
	req      TurnRequest
	identity string
	resultCh chan turnOutcome
}

func (t *turnTask) finish(result *TurnResult, err error) {
	t.resultCh <- turnOutcome{result: result, err: err}
}

type Option func(*Manager)

// WithCache mirrors conversation state into redis and listens for
// invalidations from other instances.
func WithCache(client *redis.Client) Option {
	return func(m *Manager) { m.cacheClient = client }
}

func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Manager runs turns: it resolves the conversation, records both sides of
// the exchange and asks the Responder for the answer.
type Manager struct {
	store       Store
	responder   Responder
	dispatcher  *Dispatcher
	states      *stateTable
	cache       *stateRedis
	cacheClient *redis.Client
	logger      *zap.Logger
	instanceID  string

	closeOnce    sync.Once
	stopListener func()
}

func NewManager(store Store, responder Responder, cfg DispatcherConfig, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		responder:  responder,
		states:     newStateTable(),
		logger:     zap.NewNop(),
		instanceID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cache = newStateCache(m.cacheClient, m.logger)
	m.dispatcher = NewDispatcher(cfg, m, m.logger)
	m.stopListener = m.cache.startListener(m.handleInvalidation)
	return m
}

// SubmitTurn queues the turn and waits for its outcome. On a dispatch
// failure both the partial result and a *TurnError are returned.
func (m *Manager) SubmitTurn(req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Utterance) == "" && req.Image == "" {
		return nil, ErrEmptyTurn
	}
	ctx := req.Context
	if ctx == nil {
		ctx = context.Background()
		req.Context = ctx
	}
	task := &turnTask{
		req:      req,
		identity: turnIdentity(req),
		resultCh: make(chan turnOutcome, 1),
	}
	if err := m.dispatcher.Submit(Job{Type: Turn, turn: task}); err != nil {
		return nil, err
	}
	select {
	case out := <-task.resultCh:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func turnIdentity(req TurnRequest) string {
	if req.OwnerID > 0 {
		return "user:" + strconv.FormatInt(req.OwnerID, 10)
	}
	if req.ConversationID != "" {
		return "guest:" + req.ConversationID
	}
	return "guest:" + uuid.NewString()
}

// runTurn is called on a pooled worker.
func (m *Manager) runTurn(task *turnTask) {
	ctx := task.req.Context
	if err := ctx.Err(); err != nil {
		task.finish(nil, err)
		return
	}
	result, err := m.executeTurn(ctx, task.req)
	task.finish(result, err)
}

func (m *Manager) executeTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	cs, err := m.lockConversation(ctx, req)
	if err != nil {
		return nil, &TurnError{Phase: PhaseLoad, ConversationID: req.ConversationID, Err: err}
	}
	defer cs.turnMu.Unlock()
	cs.touch()

	prior := cs.transcript.Messages()
	userMsg := models.Message{
		ConversationID: cs.conv.ID,
		Role:           models.RoleUser,
		Content:        req.Utterance,
		Kind:           models.KindText,
		CreatedAt:      time.Now().UTC(),
	}
	if req.Image != "" {
		userMsg.Content = req.Image
		userMsg.Kind = models.KindImage
	}
	m.record(ctx, cs, userMsg)

	in := intent.Classify(req.Utterance, req.Image != "")
	reply, err := m.responder.Dispatch(ctx, in, req.Utterance, prior, req.Image)
	if err != nil {
		m.logger.Warn("turn dispatch failed",
			zap.String("conversation_id", cs.conv.ID),
			zap.String("intent", string(in)),
			zap.Error(err))
		m.afterTurn(ctx, cs)
		return m.result(cs, in), &TurnError{Phase: PhaseDispatch, Intent: in, ConversationID: cs.conv.ID, Err: err}
	}
	reply.ConversationID = cs.conv.ID
	m.record(ctx, cs, *reply)
	m.afterTurn(ctx, cs)

	m.logger.Debug("turn completed",
		zap.String("conversation_id", cs.conv.ID),
		zap.String("intent", string(in)),
		zap.Int("messages", cs.transcript.Len()))
	return m.result(cs, in), nil
}

// lockConversation returns the conversation for req with its turn lock
// held. A state dropped from the table while we waited for the lock, by
// eviction or deletion, is reloaded so turns never run on a stale copy.
func (m *Manager) lockConversation(ctx context.Context, req TurnRequest) (*conversationState, error) {
	if req.ConversationID == "" {
		cs := m.startConversation(ctx, req.OwnerID, deriveTitle(req.Utterance))
		cs.turnMu.Lock()
		return cs, nil
	}
	for attempt := 0; attempt < maxLoadAttempts; attempt++ {
		cs, err := m.loadConversation(ctx, req.OwnerID, req.ConversationID)
		if err != nil {
			return nil, err
		}
		cs.turnMu.Lock()
		if m.states.get(cs.conv.ID) == cs {
			return cs, nil
		}
		cs.turnMu.Unlock()
	}
	return nil, ErrConversationNotFound
}

// record persists msg for signed-in owners and appends it to the
// transcript. A persistence failure is logged and the turn goes on.
func (m *Manager) record(ctx context.Context, cs *conversationState, msg models.Message) {
	if !cs.conv.IsGuest() {
		stored, err := m.store.AppendMessage(context.WithoutCancel(ctx), msg)
		if err != nil {
			m.logger.Error("persist message",
				zap.String("conversation_id", cs.conv.ID),
				zap.String("role", string(msg.Role)),
				zap.Error(err))
		} else {
			msg = *stored
		}
	}
	cs.transcript.Append(msg)
}

func (m *Manager) afterTurn(ctx context.Context, cs *conversationState) {
	ctx = context.WithoutCancel(ctx)
	m.cache.storeConversation(ctx, cs.conv, cs.transcript.Messages())
	if !cs.conv.IsGuest() {
		m.cache.publishInvalidation(ctx, invalidateMessage{
			Origin:         m.instanceID,
			OwnerID:        cs.conv.OwnerID,
			ConversationID: cs.conv.ID,
			Scope:          scopeConversation,
		})
	}
}

func (m *Manager) result(cs *conversationState, in intent.Intent) *TurnResult {
	return &TurnResult{
		Conversation: cs.conv,
		Transcript:   cs.transcript.Messages(),
		Intent:       in,
	}
}

// startConversation creates a conversation with a fresh id. Guest
// conversations live only in memory and the cache. A failed insert is
// logged and the conversation stays in memory only.
func (m *Manager) startConversation(ctx context.Context, ownerID int64, title string) *conversationState {
	conv := newConversation(ownerID, title)
	if ownerID > 0 {
		stored, err := m.store.CreateConversation(context.WithoutCancel(ctx), conv.ID, ownerID, title)
		if err != nil {
			m.logger.Error("persist conversation",
				zap.String("conversation_id", conv.ID),
				zap.Int64("owner_id", ownerID),
				zap.Error(err))
		} else {
			conv = *stored
		}
	}
	return m.states.adopt(newConversationState(conv, nil))
}

// loadConversation looks id up in process state, then redis, then the
// database. Guests can only reach conversations still held in memory or
// the cache.
func (m *Manager) loadConversation(ctx context.Context, ownerID int64, id string) (*conversationState, error) {
	if cs := m.states.get(id); cs != nil {
		if cs.conv.OwnerID != ownerID {
			return nil, ErrConversationNotFound
		}
		return cs, nil
	}
	if cached, ok := m.cache.loadConversation(ctx, ownerID, id); ok {
		return m.states.adopt(newConversationState(cached.Conversation, cached.Messages)), nil
	}
	if ownerID <= 0 {
		return nil, ErrConversationNotFound
	}
	conv, err := m.store.GetConversation(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	history, err := m.store.ListMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	cs := m.states.adopt(newConversationState(*conv, history))
	m.cache.storeConversation(context.WithoutCancel(ctx), cs.conv, cs.transcript.Messages())
	return cs, nil
}

// CreateConversation starts an empty conversation titled "New Conversation".
// Unlike the first turn of a conversation, an explicit create reports a
// failed insert to the caller.
func (m *Manager) CreateConversation(ctx context.Context, ownerID int64) (*models.Conversation, error) {
	conv := newConversation(ownerID, defaultTitle)
	if ownerID > 0 {
		stored, err := m.store.CreateConversation(ctx, conv.ID, ownerID, conv.Title)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		conv = *stored
	}
	cs := m.states.adopt(newConversationState(conv, nil))
	m.cache.storeConversation(context.WithoutCancel(ctx), cs.conv, nil)
	conv = cs.conv
	return &conv, nil
}

func newConversation(ownerID int64, title string) models.Conversation {
	return models.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
}

// Transcript returns the conversation and a copy of its messages.
func (m *Manager) Transcript(ctx context.Context, ownerID int64, id string) (*models.Conversation, []models.Message, error) {
	cs, err := m.loadConversation(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	cs.touch()
	conv := cs.conv
	return &conv, cs.transcript.Messages(), nil
}

// DeleteConversation removes the conversation and its messages, then drops
// every cached copy. It waits for a turn in flight on the conversation so
// that turn cannot write the conversation back into the cache.
func (m *Manager) DeleteConversation(ctx context.Context, ownerID int64, id string) error {
	cs := m.states.get(id)
	if cs != nil {
		if cs.conv.OwnerID != ownerID {
			return ErrConversationNotFound
		}
		cs.turnMu.Lock()
		defer cs.turnMu.Unlock()
	}

	if ownerID > 0 {
		if err := m.store.DeleteConversation(ctx, ownerID, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrConversationNotFound
			}
			return err
		}
	} else if cs == nil {
		if _, ok := m.cache.loadConversation(ctx, 0, id); !ok {
			return ErrConversationNotFound
		}
	}

	// Cache first: a loader that still finds cs in the table blocks on
	// its lock and then sees it is gone.
	ctx = context.WithoutCancel(ctx)
	m.cache.invalidateConversations(ctx, id)
	m.states.remove(id)
	m.cache.publishInvalidation(ctx, invalidateMessage{
		Origin:         m.instanceID,
		OwnerID:        ownerID,
		ConversationID: id,
		Scope:          scopeConversation,
	})
	return nil
}

// ResetUser cancels queued turns of ownerID and forgets its in-process
// state on every instance. Persisted data is untouched.
func (m *Manager) ResetUser(ownerID int64) {
	if ownerID <= 0 {
		return
	}
	canceled := m.dispatcher.CancelIdentity("user:" + strconv.FormatInt(ownerID, 10))
	removed := m.states.removeOwner(ownerID)
	m.cache.publishInvalidation(context.Background(), invalidateMessage{
		Origin:  m.instanceID,
		OwnerID: ownerID,
		Scope:   scopeUser,
	})
	m.logger.Debug("user state reset",
		zap.Int64("owner_id", ownerID),
		zap.Int("canceled_turns", canceled),
		zap.Int("conversations", len(removed)))
}

// EvictIdle forgets conversations untouched for maxIdle. Persisted and
// cached copies stay, so they reload on the next turn.
func (m *Manager) EvictIdle(maxIdle time.Duration) int {
	n := m.states.evictIdle(time.Now().Add(-maxIdle))
	if n > 0 {
		m.logger.Debug("evicted idle conversations", zap.Int("count", n), zap.Int("remaining", m.states.len()))
	}
	return n
}

func (m *Manager) handleInvalidation(msg invalidateMessage) {
	if msg.Origin == m.instanceID {
		return
	}
	switch msg.Scope {
	case scopeConversation:
		m.states.remove(msg.ConversationID)
	case scopeUser:
		m.states.removeOwner(msg.OwnerID)
	}
}

// Close stops the worker pool and the invalidation listener. Queued turns
// fail with ErrManagerClosed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.stopListener()
		m.dispatcher.Close()
	})
}

// deriveTitle names a conversation after its first utterance.
func deriveTitle(utterance string) string {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return imageChatTitle
	}
	runes := []rune(trimmed)
	if len(runes) > titleRunes {
		runes = runes[:titleRunes]
	}
	return string(runes)
}
