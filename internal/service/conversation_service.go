package service

import (
	"context"
	"errors"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/model"
	appErr "github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/errors"
	"github.com/me-Sushil/StripeCustomerSupportAgent/internal/pkg/timeutil"
)

const (
	maxTitleRunes    = 80
	maxSessionIDLen  = 128
	maxFeedbackRunes = 2000
)

type ConversationService struct {
	convs        conversationStore
	messages     messageStore
	answers      *AnswerService
	historyTurns int
}

func NewConversationService(convs conversationStore, messages messageStore, answers *AnswerService, historyTurns int) *ConversationService {
	return &ConversationService{convs: convs, messages: messages, answers: answers, historyTurns: historyTurns}
}

func validateSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return appErr.Invalid("session_id", "must not be empty")
	}
	if len(sessionID) > maxSessionIDLen {
		return appErr.Invalid("session_id", "too long")
	}
	return nil
}

// StartOrGet returns the conversation for sessionID, creating it on first use.
func (s *ConversationService) StartOrGet(ctx context.Context, sessionID string) (*model.Conversation, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	conv, err := s.convs.GetBySession(ctx, sessionID)
	if err == nil {
		return conv, nil
	}
	if !appErr.IsNotFound(err) {
		return nil, err
	}
	now := timeutil.NowUnix()
	conv = &model.Conversation{
		ID:            newID(),
		SessionID:     sessionID,
		Status:        model.ConversationStatusActive,
		StartedAt:     now,
		LastMessageAt: now,
	}
	if err := s.convs.Create(ctx, conv); err != nil {
		if errors.Is(err, appErr.ErrConflict) {
			return s.convs.GetBySession(ctx, sessionID)
		}
		return nil, err
	}
	logutil.GetLogger(ctx).Info("conversation started", zap.String("session_id", sessionID), zap.String("conversation_id", conv.ID))
	return conv, nil
}

// Append adds one message to the session's conversation. The first user
// message also becomes the conversation title.
func (s *ConversationService) Append(ctx context.Context, sessionID string, role model.Role, content string, sources []model.Source, meta model.Metadata) (*model.Message, error) {
	if role != model.RoleUser && role != model.RoleAssistant {
		return nil, appErr.Invalid("role", "must be user or assistant")
	}
	if strings.TrimSpace(content) == "" {
		return nil, appErr.Invalid("content", "must not be empty")
	}
	conv, err := s.StartOrGet(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.ConversationStatusArchived {
		return nil, appErr.Invalid("session_id", "conversation is archived")
	}
	now := timeutil.NowUnix()
	msg := &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		Sources:        sources,
		Metadata:       meta,
		CreatedAt:      now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	title := ""
	if role == model.RoleUser {
		title = truncateRunes(strings.Join(strings.Fields(content), " "), maxTitleRunes)
	}
	if err := s.convs.Touch(ctx, conv.ID, title, now); err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns up to limit most recent messages, oldest first. A limit
// of zero returns everything.
func (s *ConversationService) History(ctx context.Context, sessionID string, limit int) (*model.Conversation, []model.Message, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, nil, err
	}
	conv, err := s.convs.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.messages.ListRecent(ctx, conv.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return conv, msgs, nil
}

func (s *ConversationService) SetFeedback(ctx context.Context, messageID, feedback string) error {
	if strings.TrimSpace(messageID) == "" {
		return appErr.Invalid("message_id", "must not be empty")
	}
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return appErr.Invalid("feedback", "must not be empty")
	}
	return s.messages.SetFeedback(ctx, messageID, truncateRunes(feedback, maxFeedbackRunes))
}

func (s *ConversationService) Archive(ctx context.Context, sessionID string) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	conv, err := s.convs.GetBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.convs.UpdateStatus(ctx, conv.ID, model.ConversationStatusArchived)
}

type AskResult struct {
	SessionID string        `json:"session_id"`
	MessageID string        `json:"message_id"`
	Answer    *model.Answer `json:"answer"`
}

// Ask answers query within sessionID: recent history feeds the answer and
// both turns are recorded afterwards.
func (s *ConversationService) Ask(ctx context.Context, sessionID, query string, opts AnswerOptions, onDelta func(string) error) (*AskResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, appErr.Invalid("query", "must not be empty")
	}
	conv, err := s.StartOrGet(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if conv.Status == model.ConversationStatusArchived {
		return nil, appErr.Invalid("session_id", "conversation is archived")
	}
	recent, err := s.messages.ListRecent(ctx, conv.ID, s.historyTurns)
	if err != nil {
		return nil, err
	}
	opts.History = toTurns(recent)
	answer, err := s.answers.AnswerStream(ctx, query, opts, onDelta)
	if err != nil {
		return nil, err
	}
	// Both turns are stored only once an answer exists, so a failed exchange
	// leaves no dangling question in the history.
	if _, err := s.Append(ctx, sessionID, model.RoleUser, query, nil, nil); err != nil {
		return nil, err
	}
	msg, err := s.Append(ctx, sessionID, model.RoleAssistant, answer.Text, answer.Sources, answer.Metadata.Flatten())
	if err != nil {
		return nil, err
	}
	return &AskResult{SessionID: sessionID, MessageID: msg.ID, Answer: answer}, nil
}

func toTurns(msgs []model.Message) []model.Turn {
	turns := make([]model.Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, model.Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
