package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/kerucko/scheduler/internal/logger"
	"github.com/kerucko/scheduler/internal/models"
	"github.com/kerucko/scheduler/internal/utils"
)

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var input models.RegisterRequest
	if !bind(w, r, &input) {
		return
	}
	user, err := h.UserService.Register(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var input models.LoginRequest
	if !bind(w, r, &input) {
		return
	}
	resp, err := h.UserService.Login(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserService.GetAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Me returns the caller's own profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := currentUserID(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	user, err := h.UserService.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// AuthMiddleware requires a valid bearer token and stores the caller's id in
// the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims, err := h.Auth.ParseToken(token)
		if err != nil {
			logger.FromContext(r.Context(), h.Log).WithError(err).Debug("token rejected")
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), utils.ContextUserID, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
