package handlers

import (
	"net/http"

	"github.com/kerucko/scheduler/internal/logger"
	"github.com/kerucko/scheduler/internal/models"
)

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTaskRequest
	if !bind(w, r, &req) {
		return
	}
	input, err := req.Input()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := h.TaskService.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	statusID, ok := queryID(r, "statusId")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid statusId")
		return
	}
	userID, ok := queryID(r, "userId")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid userId")
		return
	}
	tasks, err := h.TaskService.FindAll(r.Context(), models.TaskFilter{
		Search:   r.URL.Query().Get("search"),
		StatusID: statusID,
		UserID:   userID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	task, err := h.TaskService.FindOne(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	var req models.UpdateTaskRequest
	if !bind(w, r, &req) {
		return
	}
	patch, err := req.Patch()
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	task, err := h.TaskService.Update(r.Context(), id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) ReassignTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	var req models.ReassignTaskRequest
	if !bind(w, r, &req) {
		return
	}
	task, err := h.TaskService.Reassign(r.Context(), id, req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid task ID")
		return
	}
	if err := h.TaskService.Remove(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	if actor, ok := currentUserID(r.Context()); ok {
		logger.FromContext(r.Context(), h.Log).
			WithField("task_id", id).WithField("actor_id", actor).
			Debug("task deleted")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.StatusService.GetAll(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}
