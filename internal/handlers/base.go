package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kerucko/scheduler/internal/logger"
	"github.com/kerucko/scheduler/internal/models"
	"github.com/kerucko/scheduler/internal/service/tasks"
	"github.com/kerucko/scheduler/internal/service/users"
	"github.com/kerucko/scheduler/internal/utils"
)

type userService interface {
	Register(ctx context.Context, input models.RegisterRequest) (*models.User, error)
	Login(ctx context.Context, input models.LoginRequest) (*models.LoginResponse, error)
	GetAll(ctx context.Context) ([]models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type taskService interface {
	Create(ctx context.Context, input models.CreateTaskInput) (*models.Task, error)
	Update(ctx context.Context, id int64, patch models.TaskPatch) (*models.Task, error)
	Reassign(ctx context.Context, id, newUserID int64) (*models.Task, error)
	Remove(ctx context.Context, id int64) error
	FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	FindOne(ctx context.Context, id int64) (*models.Task, error)
}

type statusService interface {
	GetAll(ctx context.Context) ([]models.Status, error)
}

type tokenParser interface {
	ParseToken(token string) (*models.Claims, error)
}

type Handler struct {
	UserService   userService
	TaskService   taskService
	StatusService statusService
	Auth          tokenParser
	Log           logrus.FieldLogger
}

func NewHandler(us userService, ts taskService, ss statusService, auth tokenParser, log logrus.FieldLogger) *Handler {
	return &Handler{
		UserService:   us,
		TaskService:   ts,
		StatusService: ss,
		Auth:          auth,
		Log:           log,
	}
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps a service error to its status code. Unknown errors are
// logged and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.Log).WithError(err).Error("request failed")
		writeMessage(w, status, http.StatusText(status))
		return
	}
	writeMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound), errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrInvalidDateRange),
		errors.Is(err, tasks.ErrTaskOverlap),
		errors.Is(err, tasks.ErrSameUserReassign),
		errors.Is(err, tasks.ErrInvalidReference),
		errors.Is(err, tasks.ErrEmptyTitle):
		return http.StatusBadRequest
	case errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, users.ErrUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func queryID(r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func currentUserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(utils.ContextUserID).(int64)
	return id, ok
}
