package worker

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/ashish23d/GreatX/internal/models"
	"github.com/ashish23d/GreatX/internal/service/intent"
)

type memoryStore struct {
	mu         sync.Mutex
	convs      map[string]models.Conversation
	msgs       map[string][]models.Message
	nextID     int64
	failAppend error
	failCreate error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		convs: make(map[string]models.Conversation),
		msgs:  make(map[string][]models.Message),
	}
}

func (s *memoryStore) CreateConversation(_ context.Context, id string, ownerID int64, title string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return nil, s.failCreate
	}
	conv := models.Conversation{ID: id, OwnerID: ownerID, Title: title, CreatedAt: time.Now().UTC()}
	s.convs[id] = conv
	return &conv, nil
}

func (s *memoryStore) GetConversation(_ context.Context, ownerID int64, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok || conv.OwnerID != ownerID {
		return nil, sql.ErrNoRows
	}
	return &conv, nil
}

func (s *memoryStore) DeleteConversation(_ context.Context, ownerID int64, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok || conv.OwnerID != ownerID {
		return sql.ErrNoRows
	}
	delete(s.convs, id)
	delete(s.msgs, id)
	return nil
}

func (s *memoryStore) AppendMessage(_ context.Context, msg models.Message) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend != nil {
		return nil, s.failAppend
	}
	if _, ok := s.convs[msg.ConversationID]; !ok {
		return nil, errors.New("foreign key constraint failed")
	}
	s.nextID++
	msg.ID = s.nextID
	s.msgs[msg.ConversationID] = append(s.msgs[msg.ConversationID], msg)
	return &msg, nil
}

func (s *memoryStore) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.msgs[conversationID]))
	copy(out, s.msgs[conversationID])
	return out, nil
}

func (s *memoryStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

type dispatchCall struct {
	intent    intent.Intent
	utterance string
	prior     []models.Message
	image     string
}

// scriptedResponder answers every turn with reply(call), recording calls.
type scriptedResponder struct {
	mu    sync.Mutex
	calls []dispatchCall
	reply func(dispatchCall) (*models.Message, error)
}

func (r *scriptedResponder) Dispatch(_ context.Context, in intent.Intent, utterance string, prior []models.Message, image string) (*models.Message, error) {
	call := dispatchCall{intent: in, utterance: utterance, prior: prior, image: image}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	if r.reply == nil {
		return echoReply(call)
	}
	return r.reply(call)
}

func (r *scriptedResponder) lastCall() dispatchCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func echoReply(call dispatchCall) (*models.Message, error) {
	if call.intent.ProducesImage() {
		return &models.Message{Role: models.RoleAssistant, Kind: models.KindImage, Content: "data:image/png;base64,aW1n"}, nil
	}
	return &models.Message{Role: models.RoleAssistant, Kind: models.KindText, Content: "ai: " + call.utterance}, nil
}

// gateResponder blocks every call until release is closed and tracks how
// many calls overlap.
type gateResponder struct {
	entered chan string
	release chan struct{}

	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

func newGateResponder() *gateResponder {
	return &gateResponder{
		entered: make(chan string, 64),
		release: make(chan struct{}),
	}
}

func (g *gateResponder) Dispatch(_ context.Context, in intent.Intent, utterance string, _ []models.Message, _ string) (*models.Message, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.maxSeen {
		g.maxSeen = g.inFlight
	}
	g.mu.Unlock()

	g.entered <- utterance
	<-g.release

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	return echoReply(dispatchCall{intent: in, utterance: utterance})
}

func (g *gateResponder) overlap() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.maxSeen
}
