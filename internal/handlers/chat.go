package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"socialchat/internal/middleware"
	"socialchat/internal/services"
	"socialchat/internal/storage"
	"socialchat/internal/utils"
	"socialchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *services.ChatService
}

func NewChatHandler(chatService *services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Conversations

func (h *ChatHandler) ListConversations(c *gin.Context) {
	convs, err := h.chatService.ListConversations(c.Request.Context(), c.GetString(middleware.ContextUserID))
	if err != nil {
		h.fail(c, err, "list_conversations")
		return
	}
	utils.SuccessResponse(c, convs)
}

func (h *ChatHandler) CreateConversation(c *gin.Context) {
	var req services.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	conv, err := h.chatService.CreateConversation(c.Request.Context(), middleware.CurrentUser(c), req)
	if err != nil {
		h.fail(c, err, "create_conversation")
		return
	}
	utils.CreatedResponse(c, conv)
}

// Messages

func (h *ChatHandler) GetMessages(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(services.DefaultHistoryLimit)))
	if err != nil || limit < 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit")
		return
	}

	msgs, err := h.chatService.History(c.Request.Context(), c.GetString(middleware.ContextUserID), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err, "get_messages")
		return
	}
	utils.SuccessResponseWithMeta(c, msgs, &utils.Meta{Limit: limit, Count: len(msgs)})
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req services.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := h.chatService.SendMessage(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, err, "send_message")
		return
	}
	utils.CreatedResponse(c, msg)
}

func (h *ChatHandler) MarkRead(c *gin.Context) {
	n, err := h.chatService.MarkRead(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"))
	if err != nil {
		h.fail(c, err, "mark_read")
		return
	}
	utils.SuccessResponse(c, gin.H{"updated": n})
}

func (h *ChatHandler) ToggleReaction(c *gin.Context) {
	var req services.ReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	reactions, err := h.chatService.ToggleReaction(c.Request.Context(), middleware.CurrentUser(c), c.Param("id"), req)
	if err != nil {
		h.fail(c, err, "toggle_reaction")
		return
	}
	utils.SuccessResponse(c, reactions)
}

func (h *ChatHandler) RecallMessage(c *gin.Context) {
	msg, err := h.chatService.RecallMessage(c.Request.Context(), c.GetString(middleware.ContextUserID), c.Param("id"))
	if err != nil {
		h.fail(c, err, "recall_message")
		return
	}
	utils.SuccessResponseWithMessage(c, "Message recalled", msg)
}

func (h *ChatHandler) fail(c *gin.Context, err error, op string) {
	var vf *services.ValidationFailure
	switch {
	case errors.As(err, &vf):
		utils.ValidationErrorResponse(c, utils.ValidationDetails(vf.Errors))
	case errors.Is(err, storage.ErrNotFound):
		utils.NotFoundResponse(c, "")
	case errors.Is(err, services.ErrNotParticipant), errors.Is(err, services.ErrNotSender):
		utils.ForbiddenResponse(c, err.Error())
	case errors.Is(err, services.ErrMessageRecalled), errors.Is(err, services.ErrDuplicateID):
		utils.ErrorResponse(c, http.StatusConflict, err.Error())
	default:
		logger.LogError(err, op, map[string]interface{}{
			"user_id": c.GetString(middleware.ContextUserID),
			"path":    c.Request.URL.Path,
		})
		utils.InternalErrorResponse(c, "")
	}
}
