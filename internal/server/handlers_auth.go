package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beenaround/backend/internal/auth"
	"github.com/beenaround/backend/internal/users"
)

type registerRequestPayload struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type userResponsePayload struct {
	ID                     string `json:"id"`
	FirstName              string `json:"first_name"`
	LastName               string `json:"last_name"`
	Username               string `json:"username"`
	Email                  string `json:"email"`
	ProfilePicPath         string `json:"profile_pic_path,omitempty"`
	TravelVisibleToFriends bool   `json:"travel_visible_to_friends"`
	IsAdmin                bool   `json:"is_admin"`
}

func userResponse(record users.User) userResponsePayload {
	return userResponsePayload{
		ID:                     record.ID,
		FirstName:              record.FirstName,
		LastName:               record.LastName,
		Username:               record.Username,
		Email:                  record.Email,
		ProfilePicPath:         record.ProfilePicPath,
		TravelVisibleToFriends: record.TravelVisibleToFriends,
		IsAdmin:                record.IsAdmin,
	}
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.users.Register(c.Request.Context(), users.Registration{
		FirstName: request.FirstName,
		LastName:  request.LastName,
		Username:  request.Username,
		Email:     request.Email,
		Password:  request.Password,
	})
	switch {
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "email_already_registered"})
		return
	case errors.Is(err, users.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username_already_taken"})
		return
	case errors.Is(err, users.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	case err != nil:
		h.logger.Error("registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	c.JSON(http.StatusCreated, userResponse(record))
}

type loginRequestPayload struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	record, err := h.users.Authenticate(c.Request.Context(), request.Identifier, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), record.ID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	userID, ok := h.currentUserID(c)
	if !ok {
		return
	}

	raw, exists := c.Get(claimsContextKey)
	claims, valid := raw.(auth.Claims)
	if !exists || !valid || claims.TokenID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_token"})
		return
	}

	if h.revoker != nil {
		if err := h.revoker.Revoke(c.Request.Context(), claims.TokenID, userID, claims.ExpiresAt); err != nil {
			h.logger.Error("token revocation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout_failed"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
