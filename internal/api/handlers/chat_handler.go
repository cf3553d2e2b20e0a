package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shini559/Gaming-advisor/internal/services"
	"github.com/shini559/Gaming-advisor/internal/utils"
)

type ChatHandler struct {
	Conversations services.ConversationService
}

type createConversationRequest struct {
	GameID string `json:"game_id" binding:"required"`
	Title  string `json:"title"`
}

func (h *ChatHandler) CreateConversation(c *gin.Context) {
	const op = "ChatHandler.CreateConversation"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "game_id is required", err))
		return
	}

	conv, err := h.Conversations.Create(c.Request.Context(), userID, req.GameID, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *ChatHandler) ListConversations(c *gin.Context) {
	const op = "ChatHandler.ListConversations"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	gameID := c.Param("game_id")
	if gameID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "game_id is required", nil))
		return
	}

	limit, offset := pagination(c)
	rows, err := h.Conversations.ListByGame(c.Request.Context(), userID, gameID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": rows})
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Content        string `json:"content" binding:"required"`
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	const op = "ChatHandler.SendMessage"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "conversation_id and content are required", err))
		return
	}

	exchange, err := h.Conversations.SendMessage(c.Request.Context(), userID, req.ConversationID, req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exchange)
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	limit, offset := pagination(c)
	page, err := h.Conversations.GetHistory(c.Request.Context(), userID, c.Param("conversation_id"), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

type feedbackRequest struct {
	IsUseful *bool  `json:"is_useful" binding:"required"`
	Comment  string `json:"comment"`
}

func (h *ChatHandler) AddFeedback(c *gin.Context) {
	const op = "ChatHandler.AddFeedback"

	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "is_useful is required", err))
		return
	}

	fb, err := h.Conversations.AddFeedback(c.Request.Context(), userID, c.Param("message_id"), *req.IsUseful, req.Comment)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, fb)
}

func pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
