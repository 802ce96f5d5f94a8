package worker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashish23d/GreatX/internal/models"
	"github.com/ashish23d/GreatX/internal/session"
)

// conversationState is the in-process copy of one conversation. turnMu
// serializes turns on it; the transcript has its own lock for readers.
type conversationState struct {
	conv       models.Conversation
	transcript *session.Transcript
	turnMu     sync.Mutex
	lastUsed   atomic.Int64
}

func newConversationState(conv models.Conversation, history []models.Message) *conversationState {
	cs := &conversationState{
		conv:       conv,
		transcript: session.NewTranscript(history),
	}
	cs.touch()
	return cs
}

func (cs *conversationState) touch() {
	cs.lastUsed.Store(time.Now().UnixNano())
}

func (cs *conversationState) idleSince(cutoff time.Time) bool {
	return cs.lastUsed.Load() < cutoff.UnixNano()
}

type stateTable struct {
	mu    sync.RWMutex
	byID  map[string]*conversationState
	owned map[int64]map[string]struct{}
}

func newStateTable() *stateTable {
	return &stateTable{
		byID:  make(map[string]*conversationState),
		owned: make(map[int64]map[string]struct{}),
	}
}

func (t *stateTable) get(id string) *conversationState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byID[id]
}

// adopt stores cs unless another loader got there first, and returns the
// winner.
func (t *stateTable) adopt(cs *conversationState) *conversationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byID[cs.conv.ID]; ok {
		return existing
	}
	t.byID[cs.conv.ID] = cs
	ids := t.owned[cs.conv.OwnerID]
	if ids == nil {
		ids = make(map[string]struct{})
		t.owned[cs.conv.OwnerID] = ids
	}
	ids[cs.conv.ID] = struct{}{}
	return cs
}

func (t *stateTable) remove(id string) *conversationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(id)
}

func (t *stateTable) removeLocked(id string) *conversationState {
	cs, ok := t.byID[id]
	if !ok {
		return nil
	}
	delete(t.byID, id)
	if ids := t.owned[cs.conv.OwnerID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(t.owned, cs.conv.OwnerID)
		}
	}
	return cs
}

// removeOwner drops every conversation of ownerID and returns their ids.
func (t *stateTable) removeOwner(ownerID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for id := range t.owned[ownerID] {
		removed = append(removed, id)
	}
	for _, id := range removed {
		t.removeLocked(id)
	}
	return removed
}

// evictIdle drops states untouched since cutoff. A state with a turn in
// flight is kept.
func (t *stateTable) evictIdle(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for id, cs := range t.byID {
		if !cs.idleSince(cutoff) || !cs.turnMu.TryLock() {
			continue
		}
		t.removeLocked(id)
		cs.turnMu.Unlock()
		evicted++
	}
	return evicted
}

func (t *stateTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
