package handlers

import (
	"errors"
	"net/http"

	"skipline-backend/internal/apperr"
	"skipline-backend/internal/middleware"
	"skipline-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// multipart overhead allowed on top of the avatar itself
const avatarFormSlack = 64 << 10

// UserHandler handles account and profile related HTTP requests
type UserHandler struct {
	userService   *services.UserService
	avatarService *services.AvatarService
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService, avatarService *services.AvatarService) *UserHandler {
	return &UserHandler{
		userService:   userService,
		avatarService: avatarService,
	}
}

// Register handles POST /api/v1/auth/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.userService.Register(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log.Info().
		Str("user_id", resp.Profile.ID).
		Str("role", string(resp.Profile.Role)).
		Msg("User registered")

	respondJSON(w, http.StatusCreated, resp)
}

// Login handles POST /api/v1/auth/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.userService.Login(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Me handles GET /api/v1/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.userService.Me(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// UpdatePreferences handles PATCH /api/v1/me/preferences
func (h *UserHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req services.PreferencesRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	profile, err := h.userService.UpdatePreferences(r.Context(), middleware.PrincipalFrom(r.Context()), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// PushTokenRequest registers or clears the caller's device token
type PushTokenRequest struct {
	PushToken string `json:"push_token" validate:"max=256"`
}

// UpdatePushToken handles PUT /api/v1/me/push-token
func (h *UserHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	var req PushTokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.userService.UpdatePushToken(r.Context(), middleware.PrincipalFrom(r.Context()), req.PushToken); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Notifications handles GET /api/v1/me/notifications
func (h *UserHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	logs, err := h.userService.Notifications(r.Context(), middleware.PrincipalFrom(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": logs})
}

// UploadAvatar handles POST /api/v1/me/avatar, a multipart form with an
// "avatar" file field
func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxAvatarSize+avatarFormSlack)
	file, _, err := r.FormFile("avatar")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, apperr.ErrFileTooLarge)
			return
		}
		respondError(w, r, apperr.ErrInvalidInput.WithMessage("avatar file is required"))
		return
	}
	defer file.Close()

	url, err := h.avatarService.Upload(r.Context(), principal, file)
	if err != nil {
		respondError(w, r, err)
		return
	}

	log.Info().
		Str("user_id", principal.UserID).
		Str("avatar_url", url).
		Msg("Avatar uploaded")

	respondJSON(w, http.StatusOK, map[string]string{"avatar_url": url})
}
