package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beenaround/backend/internal/storage"
)

type fileMetaPayload struct {
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

func (h *httpHandler) handleUpload(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	source, err := header.Open()
	if err != nil {
		h.logger.Error("upload open failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}
	defer source.Close()

	path, size, err := h.files.SaveUpload(userID, header.Filename, source)
	if errors.Is(err, storage.ErrInvalidFilename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filename"})
		return
	}
	if err != nil {
		h.logger.Error("upload save failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	c.JSON(http.StatusOK, fileMetaPayload{
		Filename:    header.Filename,
		Path:        path,
		Size:        size,
		ContentType: header.Header.Get("Content-Type"),
	})
}

func (h *httpHandler) handlePutProfilePic(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	source, err := header.Open()
	if err != nil {
		h.logger.Error("profile pic open failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}
	defer source.Close()

	path, size, err := h.files.SaveProfilePic(userID, source)
	if err != nil {
		h.logger.Error("profile pic save failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	if err := h.users.SetProfilePicPath(c.Request.Context(), userID, path); err != nil {
		h.logger.Error("profile pic path update failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload_failed"})
		return
	}

	c.JSON(http.StatusOK, fileMetaPayload{
		Filename:    header.Filename,
		Path:        path,
		Size:        size,
		ContentType: header.Header.Get("Content-Type"),
	})
}

func (h *httpHandler) handleDeleteProfilePic(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	record, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return
	}
	if record.ProfilePicPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_profile_pic"})
		return
	}

	if err := h.users.SetProfilePicPath(c.Request.Context(), userID, ""); err != nil {
		h.logger.Error("profile pic clear failed", zap.Error(err), zap.String("user_id", userID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
