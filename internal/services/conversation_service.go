package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/shini559/Gaming-advisor/internal/cache"
	"github.com/shini559/Gaming-advisor/internal/models"
	pgrepo "github.com/shini559/Gaming-advisor/internal/repositories/postgres"
	"github.com/shini559/Gaming-advisor/internal/utils"
)

const (
	historyPageSize = 20
	historyCacheTTL = time.Minute
)

// MessageExchange is the outcome of one question: the persisted user
// message and the generated assistant message with its sources.
type MessageExchange struct {
	UserMessage      *models.ChatMessage `json:"user_message"`
	AssistantMessage *models.ChatMessage `json:"assistant_message"`
}

// HistoryPage is one page of conversation history, oldest first.
type HistoryPage struct {
	Messages      []models.ChatMessage `json:"messages"`
	TotalMessages int64                `json:"total_messages"`
	HasMore       bool                 `json:"has_more"`
}

type ConversationService interface {
	Create(ctx context.Context, userID, gameID, title string) (*models.Conversation, error)
	ListByGame(ctx context.Context, userID, gameID string, limit, offset int) ([]models.Conversation, error)
	SendMessage(ctx context.Context, userID, conversationID, content string) (*MessageExchange, error)
	GetHistory(ctx context.Context, userID, conversationID string, limit, offset int) (*HistoryPage, error)
	AddFeedback(ctx context.Context, userID, messageID string, isUseful bool, comment string) (*models.MessageFeedback, error)
}

type conversationService struct {
	convos    pgrepo.ConversationRepository
	retrieval RetrievalService
	cache     cache.Cache
	log       *logrus.Logger
}

func NewConversationService(convos pgrepo.ConversationRepository, retrieval RetrievalService, c cache.Cache, log *logrus.Logger) ConversationService {
	if log == nil {
		log = logrus.New()
	}
	return &conversationService{convos: convos, retrieval: retrieval, cache: c, log: log}
}

func (s *conversationService) Create(ctx context.Context, userID, gameID, title string) (*models.Conversation, error) {
	const op = "ConversationService.Create"

	if userID == "" || gameID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and game_id are required", nil)
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		ID:        uuid.NewString(),
		GameID:    gameID,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.convos.InsertConversation(ctx, conv); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create conversation", err)
	}
	return conv, nil
}

func (s *conversationService) ListByGame(ctx context.Context, userID, gameID string, limit, offset int) ([]models.Conversation, error) {
	const op = "ConversationService.ListByGame"

	if userID == "" || gameID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and game_id are required", nil)
	}

	rows, err := s.convos.ListByGame(ctx, gameID, userID, limit, offset)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list conversations", err)
	}
	return rows, nil
}

func (s *conversationService) SendMessage(ctx context.Context, userID, conversationID, content string) (*MessageExchange, error) {
	const op = "ConversationService.SendMessage"

	if userID == "" || conversationID == "" || content == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id, conversation_id and content are required", nil)
	}

	conv, err := s.ownedConversation(ctx, op, userID, conversationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	userMsg := &models.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleUser,
		Content:        content,
		CreatedAt:      now,
	}
	if err := s.convos.InsertMessage(ctx, userMsg); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist question", err)
	}

	result, err := s.retrieval.Answer(ctx, conv.GameID, content)
	if err != nil {
		return nil, err
	}

	sourcesJSON, err := json.Marshal(result.Sources)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to encode sources", err)
	}

	assistantMsg := &models.ChatMessage{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Content:        result.Answer,
		Sources:        datatypes.JSON(sourcesJSON),
		RetrievalFacet: result.Facet,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.convos.InsertMessage(ctx, assistantMsg); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to persist answer", err)
	}

	if conv.Title == "" {
		// first question doubles as the conversation title
		title := content
		if r := []rune(title); len(r) > 80 {
			title = string(r[:80])
		}
		if err := s.convos.SetTitleIfEmpty(ctx, conv.ID, title); err != nil {
			s.log.WithError(err).WithField("conversation_id", conv.ID).Warn("failed to set conversation title")
		}
	}
	if err := s.convos.Touch(ctx, conv.ID, time.Now().UTC()); err != nil {
		s.log.WithError(err).WithField("conversation_id", conv.ID).Warn("failed to touch conversation")
	}

	s.invalidateHistory(ctx, conv.ID)

	return &MessageExchange{UserMessage: userMsg, AssistantMessage: assistantMsg}, nil
}

func (s *conversationService) GetHistory(ctx context.Context, userID, conversationID string, limit, offset int) (*HistoryPage, error) {
	const op = "ConversationService.GetHistory"

	if userID == "" || conversationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and conversation_id are required", nil)
	}
	if limit <= 0 {
		limit = historyPageSize
	}

	if _, err := s.ownedConversation(ctx, op, userID, conversationID); err != nil {
		return nil, err
	}

	cacheable := s.cache != nil && offset == 0 && limit == historyPageSize
	key := historyCacheKey(conversationID)
	if cacheable {
		var page HistoryPage
		if hit, err := s.cache.GetJSON(ctx, key, &page); err == nil && hit {
			return &page, nil
		}
	}

	messages, total, err := s.convos.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load history", err)
	}

	page := &HistoryPage{
		Messages:      messages,
		TotalMessages: total,
		HasMore:       int64(offset+len(messages)) < total,
	}

	if cacheable {
		if err := s.cache.SetJSON(ctx, key, page, historyCacheTTL); err != nil {
			s.log.WithError(err).Warn("failed to cache history page")
		}
	}
	return page, nil
}

func (s *conversationService) AddFeedback(ctx context.Context, userID, messageID string, isUseful bool, comment string) (*models.MessageFeedback, error) {
	const op = "ConversationService.AddFeedback"

	if userID == "" || messageID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and message_id are required", nil)
	}

	msg, err := s.convos.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "message not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load message", err)
	}
	if msg.Role != models.RoleAssistant {
		return nil, utils.E(utils.CodeInvalidArgument, op, "feedback applies to assistant messages only", nil)
	}

	if _, err := s.ownedConversation(ctx, op, userID, msg.ConversationID); err != nil {
		return nil, err
	}

	fb := &models.MessageFeedback{
		ID:        uuid.NewString(),
		MessageID: messageID,
		IsUseful:  isUseful,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.convos.UpsertFeedback(ctx, fb); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to record feedback", err)
	}

	s.invalidateHistory(ctx, msg.ConversationID)
	return fb, nil
}

func (s *conversationService) ownedConversation(ctx context.Context, op, userID, conversationID string) (*models.Conversation, error) {
	conv, err := s.convos.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "conversation not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to load conversation", err)
	}
	if conv.UserID != userID {
		return nil, utils.E(utils.CodeForbidden, op, "conversation belongs to another user", nil)
	}
	return conv, nil
}

func (s *conversationService) invalidateHistory(ctx context.Context, conversationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, historyCacheKey(conversationID)); err != nil {
		s.log.WithError(err).Warn("failed to invalidate history cache")
	}
}

func historyCacheKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s:history:first", conversationID)
}
