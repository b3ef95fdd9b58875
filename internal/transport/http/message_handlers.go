package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/avdeyev/chatline/internal/core"
	"github.com/avdeyev/chatline/internal/proto"
	"github.com/avdeyev/chatline/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageHandlers provides the REST half of the message path: history
// fetches for the client reconciler and an HTTP send path that persists and
// broadcasts exactly like the WebSocket one.
type MessageHandlers struct {
	store store.Store
	bcast *core.Broadcaster
	log   *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.Store, bcast *core.Broadcaster, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{store: st, bcast: bcast, log: logger}
}

// PostMessageRequest represents the message send request body.
type PostMessageRequest struct {
	Content   string `json:"content" binding:"required"`
	ParentID  *int64 `json:"parentId"`
	ClientTag string `json:"clientTag"`
}

// ReadMarkResponse represents a read mark in API responses.
type ReadMarkResponse struct {
	ChannelID int64 `json:"channelId"`
	MessageID int64 `json:"messageId"`
	ReadAt    int64 `json:"readAt"`
}

// ListMessages returns channel history, oldest first, for merging into the
// client's view. Pagination via ?limit= and ?before_id=.
// GET /api/channels/:id/messages
func (h *MessageHandlers) ListMessages(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	var beforeID *int64
	if raw := c.Query("before_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before_id"})
			return
		}
		beforeID = &parsed
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), channelID, limit, beforeID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	// Store returns newest first; clients want ascending order.
	response := make([]proto.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		response = append(response, core.WireMessage(msgs[i]))
	}

	c.JSON(http.StatusOK, response)
}

// PostMessage persists a message and broadcasts it to every connection. The
// canonical record is returned so the sender can confirm its optimistic
// entry even when its socket is down.
// POST /api/channels/:id/messages
func (h *MessageHandlers) PostMessage(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.store.InsertMessage(c.Request.Context(), channelID, userID, req.Content, req.ParentID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Int64("user_id", userID).Msg("insert message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "message not saved"})
		return
	}

	wire := core.WireMessage(msg)
	wire.ClientTag = req.ClientTag
	h.bcast.Broadcast(c.Request.Context(), proto.NewMessageEvent{Message: wire}, nil)

	c.JSON(http.StatusCreated, wire)
}

// GetReadMark returns the caller's last-read position in a channel. Read
// state is pulled, never pushed.
// GET /api/channels/:id/read
func (h *MessageHandlers) GetReadMark(c *gin.Context) {
	channelID, ok := channelParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	mark, err := h.store.GetReadMark(c.Request.Context(), userID, channelID)
	if err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Int64("user_id", userID).Msg("get read mark")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if mark == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no read mark"})
		return
	}

	c.JSON(http.StatusOK, ReadMarkResponse{
		ChannelID: mark.ChannelID,
		MessageID: mark.MessageID,
		ReadAt:    mark.ReadAt.UnixMilli(),
	})
}

func channelParam(c *gin.Context) (int64, bool) {
	channelID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || channelID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid channel id"})
		return 0, false
	}
	return channelID, true
}
