package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/data"
	"github.com/openvidu/openvidu-meet/internal/errs"
	"github.com/openvidu/openvidu-meet/internal/middleware"
	"github.com/openvidu/openvidu-meet/internal/permissions"
	"github.com/openvidu/openvidu-meet/internal/rooms"
	"github.com/openvidu/openvidu-meet/internal/tokens"
	"github.com/openvidu/openvidu-meet/internal/users"
)

type AuthHandler struct {
	Users  *users.Service
	Tokens *tokens.Manager
	Rooms  *rooms.Service
	Logger *zap.Logger
}

func NewAuthHandler(userSvc *users.Service, tokenMgr *tokens.Manager, roomSvc *rooms.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{Users: userSvc, Tokens: tokenMgr, Rooms: roomSvc, Logger: logger}
}

// POST /internal-api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	pair, err := h.Users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

// POST /internal-api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	pair, err := h.Users.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, pair)
}

// POST /internal-api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFrom(r.Context())
	if !ok || principal.UserID == "" {
		respondError(w, h.Logger, errs.Unauthenticated("MISSING_TOKEN", "Authentication required"))
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	if err := h.Users.ChangePassword(r.Context(), principal.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"code": "PASSWORD_CHANGED"})
}

// POST /internal-api/v1/api-keys
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.Users.CreateAPIKey(r.Context())
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, key)
}

// GET /internal-api/v1/api-keys
func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.Users.ListAPIKeys(r.Context())
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"apiKeys": keys})
}

// DELETE /internal-api/v1/api-keys
func (h *AuthHandler) DeleteAPIKeys(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.DeleteAPIKeys(r.Context()); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"code": "API_KEYS_DELETED"})
}

// memberGetter is the single lookup the member-token mint needs from the
// member service.
type memberGetter interface {
	Get(ctx context.Context, roomID, memberID string) (*data.Member, error)
}

// POST /api/v1/rooms/{roomId}/members/{memberId}/token
func (h *AuthHandler) MintMemberToken(membersSvc memberGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")
		memberID := chi.URLParam(r, "memberId")

		room, err := h.Rooms.GetByID(r.Context(), roomID)
		if err != nil {
			respondError(w, h.Logger, err)
			return
		}
		member, err := membersSvc.Get(r.Context(), roomID, memberID)
		if err != nil {
			respondError(w, h.Logger, err)
			return
		}
		// The media room must exist before the member connects with the
		// minted credential.
		if err := h.Rooms.PrepareMeeting(r.Context(), room); err != nil {
			respondError(w, h.Logger, err)
			return
		}
		token, err := h.Tokens.MintMemberToken(room, member)
		if err != nil {
			respondError(w, h.Logger, errs.Internal("mint member token", err))
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

// POST /api/v1/rooms/{roomId}/token with {secret}: anonymous access.
func (h *AuthHandler) MintAnonymousToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	room, err := h.Rooms.GetByID(r.Context(), chi.URLParam(r, "roomId"))
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	role, ok := room.AnonymousRoleBySecret(req.Secret)
	if !ok {
		respondError(w, h.Logger, errs.Unauthenticated("INVALID_SECRET", "The access secret is not valid for this room"))
		return
	}
	perms, err := permissions.Resolve(room, role, nil)
	if err != nil {
		respondError(w, h.Logger, err)
		return
	}
	if err := h.Rooms.PrepareMeeting(r.Context(), room); err != nil {
		respondError(w, h.Logger, err)
		return
	}
	token, err := h.Tokens.MintAnonymousToken(room, role, perms)
	if err != nil {
		respondError(w, h.Logger, errs.Internal("mint anonymous token", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token})
}
