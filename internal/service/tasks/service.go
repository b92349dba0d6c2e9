// Package tasks is the task lifecycle manager. Every mutation checks the
// owner's schedule and writes inside one unit of work that holds that owner's
// lock, so no user ever ends up with two tasks on the same day.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kerucko/scheduler/internal/events"
	"github.com/kerucko/scheduler/internal/logger"
	"github.com/kerucko/scheduler/internal/models"
	"github.com/kerucko/scheduler/internal/repository"
	"github.com/kerucko/scheduler/internal/schedule"
)

var (
	ErrInvalidDateRange = errors.New("Start date must be before or equal to end date")
	ErrTaskOverlap      = errors.New("User already has a task scheduled during this time period")
	ErrTaskNotFound     = errors.New("Task not found")
	ErrSameUserReassign = errors.New("Task is already assigned to this user")
	ErrInvalidReference = errors.New("Referenced user or status does not exist")
	ErrEmptyTitle       = errors.New("Title must not be empty")
	ErrStorage          = errors.New("storage failure")
)

type taskRepository interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockUsers(ctx context.Context, userIDs ...int64) error
	LockTask(ctx context.Context, id int64) (*models.Task, error)

	GetByUser(ctx context.Context, userID int64) ([]models.Task, error)
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	Create(ctx context.Context, t *models.Task) error
	UpdateFields(ctx context.Context, id int64, patch models.TaskPatch) error
	Delete(ctx context.Context, id int64) error
}

type userDirectory interface {
	GetByIDs(ctx context.Context, ids []int64) ([]models.User, error)
}

type statusCatalog interface {
	GetByIDs(ctx context.Context, ids []int64) ([]models.Status, error)
}

type Service struct {
	repo     taskRepository
	users    userDirectory
	statuses statusCatalog
	detector *schedule.Detector
	events   events.Sink
	log      logrus.FieldLogger
}

func NewService(r taskRepository, users userDirectory, statuses statusCatalog, sink events.Sink, log logrus.FieldLogger) *Service {
	return &Service{
		repo:     r,
		users:    users,
		statuses: statuses,
		detector: schedule.NewDetector(r),
		events:   sink,
		log:      log.WithField("component", "tasks"),
	}
}

func (s *Service) Create(ctx context.Context, input models.CreateTaskInput) (*models.Task, error) {
	if strings.TrimSpace(input.Title) == "" {
		return nil, ErrEmptyTitle
	}
	candidate, err := schedule.NewInterval(input.UserID, input.StartDate, input.EndDate)
	if err != nil {
		return nil, ErrInvalidDateRange
	}

	task := &models.Task{
		Title:       input.Title,
		Description: input.Description,
		StartDate:   input.StartDate,
		EndDate:     input.EndDate,
		StatusID:    input.StatusID,
		UserID:      input.UserID,
	}
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockUsers(ctx, input.UserID); err != nil {
			return storageError("lock schedule", err)
		}
		if err := s.ensureFree(ctx, candidate, 0); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, task); err != nil {
			return storageError("save task", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"task_id": task.ID,
		"user_id": task.UserID,
	}).Info("task created")
	s.events.Publish(ctx, events.TaskCreated{TaskID: task.ID, UserID: task.UserID, Title: task.Title})

	return s.FindOne(ctx, task.ID)
}

// Update applies the supplied fields of patch. When the patch moves the task
// in time or to another owner, the resulting range is checked against the
// effective owner's schedule, ignoring the task itself.
func (s *Service) Update(ctx context.Context, id int64, patch models.TaskPatch) (*models.Task, error) {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, ErrEmptyTitle
	}
	var (
		effectiveUserID int64
		effectiveTitle  string
		written         bool
	)
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.lockTask(ctx, id)
		if err != nil {
			return err
		}

		effectiveUserID, effectiveTitle = current.UserID, current.Title
		if patch.UserID != nil {
			effectiveUserID = *patch.UserID
		}
		if patch.Title != nil {
			effectiveTitle = *patch.Title
		}

		if patch.TouchesSchedule() {
			start, end := current.StartDate, current.EndDate
			if patch.StartDate != nil {
				start = *patch.StartDate
			}
			if patch.EndDate != nil {
				end = *patch.EndDate
			}
			candidate, err := schedule.NewInterval(effectiveUserID, start, end)
			if err != nil {
				return ErrInvalidDateRange
			}
			if err := s.repo.LockUsers(ctx, effectiveUserID); err != nil {
				return storageError("lock schedule", err)
			}
			if err := s.ensureFree(ctx, candidate, id); err != nil {
				return err
			}
		}

		if patch.IsEmpty() {
			return nil
		}
		if err := s.repo.UpdateFields(ctx, id, patch); err != nil {
			return storageError("update task", err)
		}
		written = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if written {
		logger.FromContext(ctx, s.log).WithFields(logrus.Fields{
			"task_id": id,
			"user_id": effectiveUserID,
		}).Info("task updated")
		s.events.Publish(ctx, events.TaskUpdated{TaskID: id, UserID: effectiveUserID, Title: effectiveTitle})
	}

	return s.FindOne(ctx, id)
}

// Reassign hands the task to newUserID, keeping its dates.
func (s *Service) Reassign(ctx context.Context, id, newUserID int64) (*models.Task, error) {
	var oldUserID int64
	var title string
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.lockTask(ctx, id)
		if err != nil {
			return err
		}
		if current.UserID == newUserID {
			return ErrSameUserReassign
		}
		oldUserID, title = current.UserID, current.Title

		candidate := schedule.FromTask(*current)
		candidate.UserID = newUserID
		if err := s.repo.LockUsers(ctx, newUserID); err != nil {
			return storageError("lock schedule", err)
		}
		if err := s.ensureFree(ctx, candidate, id); err != nil {
			return err
		}
		if err := s.repo.UpdateFields(ctx, id, models.TaskPatch{UserID: &newUserID}); err != nil {
			return storageError("reassign task", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"task_id":     id,
		"old_user_id": oldUserID,
		"new_user_id": newUserID,
	}).Info("task reassigned")
	s.events.Publish(ctx, events.TaskReassigned{TaskID: id, OldUserID: oldUserID, NewUserID: newUserID, Title: title})

	return s.FindOne(ctx, id)
}

// Remove deletes the task permanently. No event is published for deletions.
func (s *Service) Remove(ctx context.Context, id int64) error {
	err := s.repo.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.lockTask(ctx, id); err != nil {
			return err
		}
		if err := s.repo.Delete(ctx, id); err != nil {
			return storageError("delete task", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.FromContext(ctx, s.log).WithField("task_id", id).Info("task removed")
	return nil
}

// FindAll filters by status and owner in storage, then by a case-insensitive
// substring of title or description in process. Newest start date first.
func (s *Service) FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	tasks, err := s.repo.List(ctx, models.TaskFilter{StatusID: filter.StatusID, UserID: filter.UserID})
	if err != nil {
		return nil, storageError("list tasks", err)
	}
	if filter.Search != "" {
		tasks = matchSearch(tasks, filter.Search)
	}
	if err := s.loadWithRelations(ctx, tasks); err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

func (s *Service) FindOne(ctx context.Context, id int64) (*models.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, storageError("find task", err)
	}
	one := []models.Task{*task}
	if err := s.loadWithRelations(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

func (s *Service) lockTask(ctx context.Context, id int64) (*models.Task, error) {
	task, err := s.repo.LockTask(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, storageError("lock task", err)
	}
	return task, nil
}

// ensureFree fails with ErrTaskOverlap when candidate collides with a task of
// its owner other than excludeTaskID. The owner's lock must be held.
func (s *Service) ensureFree(ctx context.Context, candidate schedule.Interval, excludeTaskID int64) error {
	conflicts, err := s.detector.Conflicts(ctx, candidate, excludeTaskID)
	if err != nil {
		return storageError("check overlap", err)
	}
	if len(conflicts) == 0 {
		return nil
	}
	ids := make([]int64, len(conflicts))
	for i, c := range conflicts {
		ids[i] = c.ID
	}
	logger.FromContext(ctx, s.log).WithFields(logrus.Fields{
		"user_id":     candidate.UserID,
		"start_date":  candidate.Start.String(),
		"end_date":    candidate.End.String(),
		"conflicting": ids,
	}).Info("schedule conflict")
	return ErrTaskOverlap
}

// loadWithRelations attaches owner and status to each task in place.
func (s *Service) loadWithRelations(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	userIDs := make([]int64, 0, len(tasks))
	statusIDs := make([]int64, 0, len(tasks))
	for _, t := range tasks {
		userIDs = append(userIDs, t.UserID)
		statusIDs = append(statusIDs, t.StatusID)
	}

	users, err := s.users.GetByIDs(ctx, userIDs)
	if err != nil {
		return storageError("load users", err)
	}
	statuses, err := s.statuses.GetByIDs(ctx, statusIDs)
	if err != nil {
		return storageError("load statuses", err)
	}

	userByID := make(map[int64]*models.User, len(users))
	for i := range users {
		userByID[users[i].ID] = &users[i]
	}
	statusByID := make(map[int64]*models.Status, len(statuses))
	for i := range statuses {
		statusByID[statuses[i].ID] = &statuses[i]
	}
	for i := range tasks {
		tasks[i].User = userByID[tasks[i].UserID]
		tasks[i].Status = statusByID[tasks[i].StatusID]
	}
	return nil
}

func matchSearch(tasks []models.Task, search string) []models.Task {
	needle := strings.ToLower(search)
	var out []models.Task
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), needle) ||
			(t.Description != nil && strings.Contains(strings.ToLower(*t.Description), needle)) {
			out = append(out, t)
		}
	}
	return out
}

// storageError passes lifecycle errors through, maps repository constraint
// errors onto their lifecycle meaning and wraps everything else as ErrStorage.
func storageError(op string, err error) error {
	switch {
	case errors.Is(err, ErrTaskNotFound), errors.Is(err, ErrTaskOverlap),
		errors.Is(err, ErrInvalidDateRange), errors.Is(err, ErrSameUserReassign):
		return err
	case errors.Is(err, repository.ErrOverlap):
		return ErrTaskOverlap
	case errors.Is(err, repository.ErrInvalidRange):
		return ErrInvalidDateRange
	case errors.Is(err, repository.ErrInvalidReference):
		return ErrInvalidReference
	case errors.Is(err, repository.ErrNotFound):
		return ErrTaskNotFound
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
