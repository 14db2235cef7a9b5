package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/fedutinova/everwalk/internal/auth"
	"github.com/fedutinova/everwalk/internal/common"
	"github.com/fedutinova/everwalk/internal/models"
	"github.com/google/uuid"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	// All ends every session of the caller.
	All bool `json:"all"`
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, common.WrapInternal("hash password", err))
		return
	}
	user := &models.User{Username: req.Username, Email: req.Email, PasswordHash: hash}
	if err := h.Repo.CreateUser(r.Context(), user, "user"); err != nil {
		if !common.IsConflict(err) {
			err = common.WrapInternal("create user", err)
		}
		writeError(w, r, err)
		return
	}

	slog.Info("user registered", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "user registered successfully",
		"user_id": user.ID,
	})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.Repo.GetUserByEmail(r.Context(), req.Email)
	if err != nil && !common.IsNotFound(err) {
		writeError(w, r, common.WrapInternal("load user", err))
		return
	}
	if user == nil || !auth.CheckPassword(req.Password, user.PasswordHash) {
		slog.Warn("login rejected", "email", req.Email)
		writeError(w, r, common.ErrInvalidCredentials)
		return
	}

	tokens, err := h.issueTokens(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// refresh rotates a refresh token. Redis is checked first; postgres keeps
// sessions valid across a cache flush.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	tokenHash := auth.HashToken(req.RefreshToken)

	userID, err := h.Redis.SessionUser(ctx, tokenHash)
	if errors.Is(err, common.ErrInvalidToken) {
		userID, err = h.Repo.RefreshTokenOwner(ctx, tokenHash)
	}
	if err != nil {
		if !errors.Is(err, common.ErrInvalidToken) {
			slog.Error("refresh lookup failed", "error", err)
		}
		writeError(w, r, common.ErrInvalidToken)
		return
	}

	user, err := h.Repo.GetUserByID(ctx, userID)
	if err != nil {
		writeError(w, r, common.ErrInvalidToken)
		return
	}

	h.revokeToken(ctx, userID, tokenHash)
	tokens, err := h.issueTokens(ctx, user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handlers) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	userID, err := auth.UserID(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch {
	case req.All:
		n, err := h.Redis.RevokeAllSessions(r.Context(), userID)
		if err != nil {
			slog.Error("failed to revoke sessions", "user_id", userID, "error", err)
		}
		if _, err := h.Repo.RevokeUserRefreshTokens(r.Context(), userID); err != nil {
			slog.Error("failed to revoke refresh tokens in db", "user_id", userID, "error", err)
		}
		slog.Info("user logged out everywhere", "user_id", userID, "sessions", n)
	case req.RefreshToken != "":
		h.revokeToken(r.Context(), userID, auth.HashToken(req.RefreshToken))
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out successfully"})
}

// issueTokens signs a token pair and records the refresh token in Redis and
// postgres.
func (h *Handlers) issueTokens(ctx context.Context, user *models.User) (*auth.TokenPair, error) {
	tokens, err := auth.NewTokenPair(
		h.Config.JWTSecret,
		h.Config.JWTIssuer,
		user.ID,
		user.Roles,
		h.Config.JWTTTLAccess,
		h.Config.JWTTTLRefresh,
	)
	if err != nil {
		return nil, common.WrapInternal("create token pair", err)
	}

	tokenHash := auth.HashToken(tokens.RefreshToken)
	if err := h.Redis.StoreSession(ctx, user.ID, tokenHash, h.Config.JWTTTLRefresh); err != nil {
		return nil, common.WrapInternal("store session", err)
	}
	if err := h.Repo.SaveRefreshToken(ctx, user.ID, tokenHash, time.Now().Add(h.Config.JWTTTLRefresh)); err != nil {
		slog.Error("failed to record refresh token", "user_id", user.ID, "error", err)
	}
	return tokens, nil
}

func (h *Handlers) revokeToken(ctx context.Context, userID uuid.UUID, tokenHash string) {
	if err := h.Redis.RevokeSession(ctx, userID, tokenHash); err != nil {
		slog.Error("failed to revoke session", "user_id", userID, "error", err)
	}
	if err := h.Repo.RevokeRefreshToken(ctx, tokenHash); err != nil {
		slog.Error("failed to revoke refresh token in db", "user_id", userID, "error", err)
	}
}
