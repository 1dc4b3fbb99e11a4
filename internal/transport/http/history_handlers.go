package http

import (
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-session/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// HistoryHandlers serves stored chat messages.
type HistoryHandlers struct {
	store store.Store
	log   *zerolog.Logger
}

// NewHistoryHandlers creates a new history handlers instance.
func NewHistoryHandlers(st store.Store, logger *zerolog.Logger) *HistoryHandlers {
	return &HistoryHandlers{store: st, log: logger}
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID           string `json:"messageId"`
	ChatID       string `json:"chatId"`
	SenderID     string `json:"senderId"`
	SenderName   string `json:"senderName,omitempty"`
	Content      string `json:"content"`
	MessageType  string `json:"messageType"`
	ClientTempID string `json:"clientTempId,omitempty"`
	SentAt       string `json:"sentAt"`
}

// ListMessages returns messages of a chat, oldest first.
// GET /api/chats/:chatId/messages?limit=50&before=<messageId>
func (h *HistoryHandlers) ListMessages(c *gin.Context) {
	userID := c.GetString(ContextKeyUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID := c.Param("chatId")

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx := c.Request.Context()
	members, err := h.store.ListMembers(ctx, chatID)
	if err != nil {
		h.log.Error().Err(err).Str("chat", chatID).Msg("failed to list members")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !slices.Contains(members, userID) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a member of this chat"})
		return
	}

	msgs, err := h.store.ListMessages(ctx, chatID, limit, c.Query("before"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
			return
		}
		h.log.Error().Err(err).Str("chat", chatID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, MessageResponse{
			ID:           m.ID,
			ChatID:       m.ChatID,
			SenderID:     m.SenderID,
			SenderName:   m.SenderName,
			Content:      m.Body,
			MessageType:  m.Type,
			ClientTempID: m.ClientTempID,
			SentAt:       m.CreatedAt.Format(time.RFC3339Nano),
		})
	}

	h.log.Debug().Str("user_id", userID).Str("chat", chatID).Int("count", len(response)).Msg("history listed")
	c.JSON(http.StatusOK, response)
}
