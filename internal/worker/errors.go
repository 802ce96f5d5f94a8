package worker

import (
	"errors"
	"fmt"

	"github.com/ashish23d/GreatX/internal/service/intent"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyTurn            = errors.New("turn needs an utterance or an image")
	ErrDispatcherBusy       = errors.New("turn queue full")
	ErrTurnCanceled         = errors.New("turn canceled")
	ErrManagerClosed        = errors.New("conversation manager closed")
)

// Phase names the step of a turn that failed.
type Phase string

const (
	PhaseLoad     Phase = "load"
	PhaseDispatch Phase = "dispatch"
)

// TurnError reports a failed turn. For PhaseDispatch the user message has
// already been recorded and the partial result is returned alongside.
type TurnError struct {
	Phase          Phase
	Intent         intent.Intent
	ConversationID string
	Err            error
}

func (e *TurnError) Error() string {
	if e.ConversationID == "" {
		return fmt.Sprintf("turn failed during %s: %v", e.Phase, e.Err)
	}
	return fmt.Sprintf("turn in conversation %s failed during %s: %v", e.ConversationID, e.Phase, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}
