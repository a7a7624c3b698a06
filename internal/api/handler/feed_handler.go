package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/labbox-api/internal/api/dto"
	"github.com/cuongbtq/labbox-api/internal/feed"
	"github.com/gin-gonic/gin"
)

// FeedHandler serves stored objects and subfeed contents over HTTP
type FeedHandler struct {
	logger *slog.Logger
	feed   feed.Backend
}

// NewFeedHandler creates a new FeedHandler instance
func NewFeedHandler(deps *Dependencies) *FeedHandler {
	return &FeedHandler{
		logger: deps.Logger,
		feed:   deps.Feed,
	}
}

// GetObject handles GET /sha1/:hash and returns the stored canonical JSON
func (h *FeedHandler) GetObject(c *gin.Context) {
	hash := c.Param("hash")
	if !isSHA1Hex(hash) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "hash must be 40 hex characters",
		})
		return
	}

	data, err := h.feed.LoadJSON(c.Request.Context(), hash)
	if err != nil {
		if errors.Is(err, feed.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Object not found",
			})
			return
		}
		h.logger.Error("Failed to load object",
			slog.String("sha1", hash),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load object",
		})
		return
	}

	c.Header("Cache-Control", "public, max-age=31536000, immutable")
	c.Data(http.StatusOK, "application/json", data)
}

// GetMessages handles GET /api/v1/feeds/:feed_id/subfeeds/:subfeed_hash/messages
func (h *FeedHandler) GetMessages(c *gin.Context) {
	var req dto.GetMessagesRequest
	if err := c.ShouldBindQuery(&req); err != nil || req.Position < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "position must be a non-negative integer",
		})
		return
	}

	feedID, subfeedHash := c.Param("feed_id"), c.Param("subfeed_hash")

	msgs, err := h.feed.GetMessages(c.Request.Context(), feedID, subfeedHash, req.Position)
	if err != nil {
		h.logger.Error("Failed to read subfeed",
			slog.String("feed_id", feedID),
			slog.String("subfeed_hash", subfeedHash),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read subfeed",
		})
		return
	}

	c.JSON(http.StatusOK, dto.MessagesResponse{
		FeedID:      feedID,
		SubfeedHash: subfeedHash,
		Position:    req.Position,
		Messages:    msgs,
	})
}

// AppendMessages handles POST /api/v1/feeds/:feed_id/subfeeds/:subfeed_hash/messages
func (h *FeedHandler) AppendMessages(c *gin.Context) {
	var req dto.AppendMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}
	for _, m := range req.Messages {
		if !json.Valid(m) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "messages must be JSON values",
			})
			return
		}
	}

	feedID, subfeedHash := c.Param("feed_id"), c.Param("subfeed_hash")

	if err := h.feed.AppendMessages(c.Request.Context(), feedID, subfeedHash, req.Messages); err != nil {
		h.logger.Error("Failed to append to subfeed",
			slog.String("feed_id", feedID),
			slog.String("subfeed_hash", subfeedHash),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to append messages",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.AppendMessagesResponse{
		FeedID:      feedID,
		SubfeedHash: subfeedHash,
		Appended:    len(req.Messages),
	})
}

func isSHA1Hex(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, r := range s {
		if !('0' <= r && r <= '9' || 'a' <= r && r <= 'f') {
			return false
		}
	}
	return true
}
