package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ashish23d/GreatX/internal/models"
	"github.com/ashish23d/GreatX/internal/service/ai"
	"github.com/ashish23d/GreatX/internal/worker"
)

// maxTurnBody bounds a turn request, attached image included.
const maxTurnBody = 20 << 20

func (h *Handler) listConversations(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	list, err := h.assistant.ListConversations(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *Handler) createConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conv, err := h.conversations.CreateConversation(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("create conversation", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.conversations.DeleteConversation(c.Request.Context(), userID, c.Param("id")); err != nil {
		if errors.Is(err, worker.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getConversationMessages(c *gin.Context) {
	conv, messages, err := h.conversations.Transcript(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		if errors.Is(err, worker.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"messages":     messages,
	})
}

// User input interface
type turnRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
	Image          string `json:"image"`
}

func (h *Handler) submitTurn(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxTurnBody)
	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := h.conversations.SubmitTurn(worker.TurnRequest{
		Context:        c.Request.Context(),
		OwnerID:        callerID(c),
		ConversationID: req.ConversationID,
		Utterance:      req.Message,
		Image:          req.Image,
	})
	if err == nil {
		c.JSON(http.StatusOK, turnBody(res))
		return
	}

	var turnErr *worker.TurnError
	switch {
	case errors.Is(err, worker.ErrEmptyTurn):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
	case errors.Is(err, worker.ErrManagerClosed), errors.Is(err, worker.ErrTurnCanceled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &turnErr) && turnErr.Phase == worker.PhaseLoad:
		if errors.Is(err, worker.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		h.logger.Error("load conversation for turn", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case errors.As(err, &turnErr):
		var status int
		switch {
		case errors.Is(err, ai.ErrInvalidImage), errors.Is(err, ai.ErrMissingImage):
			status = http.StatusBadRequest
		case errors.Is(err, ai.ErrNoImageReturned):
			status = http.StatusUnprocessableEntity
		case ai.IsUpstream(err):
			status = http.StatusBadGateway
		default:
			status = http.StatusInternalServerError
		}
		body := turnBody(res)
		body["error"] = turnErr.Err.Error()
		body["phase"] = turnErr.Phase
		c.JSON(status, body)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func turnBody(res *worker.TurnResult) gin.H {
	if res == nil {
		return gin.H{"messages": []models.Message{}}
	}
	return gin.H{
		"conversation": res.Conversation,
		"messages":     res.Transcript,
		"intent":       res.Intent,
	}
}
