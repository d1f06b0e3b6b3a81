package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/response"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/service"
)

type conversations interface {
	Ask(ctx context.Context, sessionID, query string, opts service.AnswerOptions, onDelta func(string) error) (*service.AskResult, error)
	History(ctx context.Context, sessionID string, limit int) (*model.Conversation, []model.Message, error)
	SetFeedback(ctx context.Context, messageID, feedback string) error
	Archive(ctx context.Context, sessionID string) error
}

type ChatHandler struct {
	conversations conversations
}

func NewChatHandler(c conversations) *ChatHandler {
	return &ChatHandler{conversations: c}
}

type chatRequest struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	TopK      int            `json:"top_k"`
	MinScore  *float32       `json:"min_score"`
	Filter    model.Metadata `json:"filter"`
	Stream    bool           `json:"stream"`
}

func (h *ChatHandler) Chat(c *gin.Context) {
	limitBody(c, maxRequestBytes)
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			invalid(c, "request larger than "+formatLimit(maxRequestBytes))
			return
		}
		invalid(c, "invalid request")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		invalid(c, "message required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	opts := service.AnswerOptions{TopK: req.TopK, MinScore: req.MinScore, Filter: req.Filter}
	if req.Stream {
		h.stream(c, req.SessionID, req.Message, opts)
		return
	}
	res, err := h.conversations.Ask(c.Request.Context(), req.SessionID, req.Message, opts, nil)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

// stream sends answer text as server-sent "delta" events and finishes with
// a "done" event carrying the full result.
func (h *ChatHandler) stream(c *gin.Context, sessionID, message string, opts service.AnswerOptions) {
	response.BeginStream(c)
	res, err := h.conversations.Ask(c.Request.Context(), sessionID, message, opts, func(delta string) error {
		return response.Event(c, "delta", delta)
	})
	if err != nil {
		code, msg := errorCode(err)
		response.StreamError(c, code, msg)
		return
	}
	_ = response.Event(c, "done", res)
}

type historyResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []model.Message     `json:"messages"`
}

func (h *ChatHandler) History(c *gin.Context) {
	conv, msgs, err := h.conversations.History(c.Request.Context(), c.Param("session_id"), queryInt(c, "limit", 50))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, historyResponse{Conversation: conv, Messages: msgs})
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

func (h *ChatHandler) Feedback(c *gin.Context) {
	limitBody(c, maxRequestBytes)
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalid(c, "invalid request")
		return
	}
	if err := h.conversations.SetFeedback(c.Request.Context(), c.Param("id"), req.Feedback); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"id": c.Param("id")})
}

func (h *ChatHandler) Archive(c *gin.Context) {
	if err := h.conversations.Archive(c.Request.Context(), c.Param("session_id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"session_id": c.Param("session_id"), "status": model.ConversationStatusArchived})
}
