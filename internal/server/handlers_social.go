package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beenaround/backend/internal/feed"
	"github.com/beenaround/backend/internal/friends"
	"github.com/beenaround/backend/internal/users"
)

const feedEventPollTimeout = 25 * time.Second

func (h *httpHandler) handleListFriends(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	profiles, err := h.friends.ListFriends(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("friend list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (h *httpHandler) handleAddFriend(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	other, err := h.users.GetByUsername(c.Request.Context(), c.Param("username"))
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("friend lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	err = h.friends.AddEdge(c.Request.Context(), userID, other.ID)
	if errors.Is(err, friends.ErrSelfFriend) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot_friend_yourself"})
		return
	}
	if err != nil {
		h.logger.Error("friend add failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRemoveFriend(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	other, err := h.users.GetByUsername(c.Request.Context(), c.Param("username"))
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("friend lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	if err := h.friends.RemoveEdge(c.Request.Context(), userID, other.ID); err != nil {
		h.logger.Error("friend remove failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type feedItemPayload struct {
	ID               string           `json:"id"`
	ActorUserID      string           `json:"actor_user_id"`
	Kind             string           `json:"kind"`
	Payload          json.RawMessage  `json:"payload"`
	CreatedAtSeconds int64            `json:"created_at_s"`
	ExpiresAtSeconds int64            `json:"expires_at_s"`
	Reactions        map[string]int64 `json:"reactions"`
}

func (h *httpHandler) handleGetFeed(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	items, err := h.feed.GetFeed(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("feed read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feed_failed"})
		return
	}

	response := make([]feedItemPayload, 0, len(items))
	for _, item := range items {
		payload := json.RawMessage("{}")
		if item.PayloadJSON != "" {
			payload = json.RawMessage(item.PayloadJSON)
		}
		response = append(response, feedItemPayload{
			ID:               item.ID,
			ActorUserID:      item.ActorUserID,
			Kind:             item.Kind,
			Payload:          payload,
			CreatedAtSeconds: item.CreatedAtSeconds,
			ExpiresAtSeconds: item.ExpiresAtSeconds,
			Reactions:        item.Reactions,
		})
	}
	c.JSON(http.StatusOK, response)
}

type reactRequestPayload struct {
	Reaction string `json:"reaction"`
}

func (h *httpHandler) handleReact(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request reactRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.feed.React(c.Request.Context(), c.Param("id"), userID, request.Reaction)
	switch {
	case errors.Is(err, feed.ErrActivityNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "activity_not_found"})
		return
	case errors.Is(err, feed.ErrInvalidReaction):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reaction"})
		return
	case err != nil:
		h.logger.Error("reaction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "react_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type feedEventPayload struct {
	EventType  string `json:"event_type"`
	ActorID    string `json:"actor_id"`
	Kind       string `json:"kind"`
	OccurredAt int64  `json:"occurred_at_s"`
}

// handleFeedEvents long-polls for the viewer's next feed event, returning
// 204 when none arrives within the poll window.
func (h *httpHandler) handleFeedEvents(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	stream, cancel := h.dispatcher.Subscribe(c.Request.Context(), userID)
	defer cancel()

	timer := time.NewTimer(feedEventPollTimeout)
	defer timer.Stop()

	select {
	case event, open := <-stream:
		if !open {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, feedEventPayload{
			EventType:  event.EventType,
			ActorID:    event.ActorID,
			Kind:       event.Kind,
			OccurredAt: event.Timestamp.Unix(),
		})
	case <-c.Request.Context().Done():
		c.Status(http.StatusNoContent)
	case <-timer.C:
		c.Status(http.StatusNoContent)
	}
}
