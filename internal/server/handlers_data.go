package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beenaround/backend/internal/appdata"
	"github.com/beenaround/backend/internal/feed"
)

type appDataResponsePayload struct {
	AppData       json.RawMessage `json:"app_data"`
	SchemaVersion int64           `json:"schema_version"`
	Revision      int64           `json:"revision"`
}

func appDataResponse(blob appdata.Blob) appDataResponsePayload {
	return appDataResponsePayload{
		AppData:       json.RawMessage(blob.DocumentJSON),
		SchemaVersion: blob.SchemaVersion,
		Revision:      blob.Revision,
	}
}

func (h *httpHandler) handleGetData(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	blob, err := h.appData.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("app data read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	c.JSON(http.StatusOK, appDataResponse(blob))
}

type appDataUpdatePayload struct {
	AppData json.RawMessage `json:"app_data"`
}

func (h *httpHandler) handleUpdateData(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request appDataUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patch, err := appdata.ParseObject(request.AppData)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_patch"})
		return
	}

	blob, err := h.appData.ApplyPatch(c.Request.Context(), userID, patch, appdata.Provenance{})
	if err != nil {
		h.logger.Error("app data patch failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}

	h.notifyFriends(c, userID)
	c.JSON(http.StatusOK, appDataResponse(blob))
}

func (h *httpHandler) handleDeleteData(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	if _, err := h.appData.ReplaceDocument(c.Request.Context(), userID, appdata.EmptyObject(), appdata.Provenance{}); err != nil {
		h.logger.Error("app data reset failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// notifyFriends publishes a best-effort feed event to the actor's friends.
func (h *httpHandler) notifyFriends(c *gin.Context, actorID string) {
	friendIDs, err := h.friends.ListFriendIDs(c.Request.Context(), actorID)
	if err != nil {
		h.logger.Warn("feed event fanout skipped", zap.Error(err), zap.String("actor_id", actorID))
		return
	}
	now := time.Now().UTC()
	for _, friendID := range friendIDs {
		h.dispatcher.Publish(FeedEvent{
			ViewerID:  friendID,
			EventType: FeedEventActivity,
			ActorID:   actorID,
			Kind:      feed.KindDataUpdated,
			Timestamp: now,
		})
	}
}

type snapshotResponsePayload struct {
	SchemaVersion int64           `json:"schema_version"`
	Revision      int64           `json:"rev"`
	Data          json.RawMessage `json:"data"`
}

func snapshotResponse(blob appdata.Blob) snapshotResponsePayload {
	return snapshotResponsePayload{
		SchemaVersion: blob.SchemaVersion,
		Revision:      blob.Revision,
		Data:          json.RawMessage(blob.DocumentJSON),
	}
}

func (h *httpHandler) handleGetSnapshot(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	blob, err := h.appData.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("snapshot read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read_failed"})
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(blob))
}

type snapshotPutPayload struct {
	BaseRevision  int64           `json:"base_rev"`
	SchemaVersion int64           `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
	DeviceID      string          `json:"device_id"`
	ClientTimeMs  int64           `json:"client_time_ms"`
}

func (h *httpHandler) handlePutSnapshot(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	var request snapshotPutPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.BaseRevision < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_base_rev"})
		return
	}
	doc, err := appdata.ParseObject(request.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_document"})
		return
	}

	blob, err := h.appData.CompareAndSwap(
		c.Request.Context(),
		userID,
		request.BaseRevision,
		doc,
		request.SchemaVersion,
		appdata.Provenance{DeviceID: request.DeviceID, ClientTimeMs: request.ClientTimeMs},
	)
	var conflict *appdata.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "revision_conflict",
			"current": snapshotResponse(conflict.Current),
		})
		return
	}
	if err != nil {
		h.logger.Error("snapshot write failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "write_failed"})
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(blob))
}
