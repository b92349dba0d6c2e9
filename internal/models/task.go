package models

import (
	"fmt"
	"time"
)

type Task struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description"`
	StartDate   Date      `json:"startDate"`
	EndDate     Date      `json:"endDate"`
	StatusID    int64     `json:"statusId"`
	UserID      int64     `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Filled in by hydration, never persisted.
	User   *User   `json:"user,omitempty"`
	Status *Status `json:"status,omitempty"`
}

// TaskPatch carries the fields of a partial update. Nil pointers and an
// unset Description are left untouched.
type TaskPatch struct {
	Title       *string
	Description Optional[string]
	StartDate   *Date
	EndDate     *Date
	StatusID    *int64
	UserID      *int64
}

func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && !p.Description.Set && p.StartDate == nil &&
		p.EndDate == nil && p.StatusID == nil && p.UserID == nil
}

// TouchesSchedule reports whether the patch moves the task in time or to
// another owner.
func (p TaskPatch) TouchesSchedule() bool {
	return p.StartDate != nil || p.EndDate != nil || p.UserID != nil
}

// TaskFilter narrows a task listing. Zero ids and an empty search match all.
type TaskFilter struct {
	Search   string
	StatusID int64
	UserID   int64
}

type CreateTaskInput struct {
	Title       string
	Description *string
	StartDate   Date
	EndDate     Date
	StatusID    int64
	UserID      int64
}

type CreateTaskRequest struct {
	Title       string  `json:"title" validate:"required,nonblank,max=255"`
	Description *string `json:"description"`
	StartDate   string  `json:"startDate" validate:"required,isodate"`
	EndDate     string  `json:"endDate" validate:"required,isodate"`
	StatusID    int64   `json:"statusId" validate:"required,gt=0"`
	UserID      int64   `json:"userId" validate:"required,gt=0"`
}

func (r CreateTaskRequest) Input() (CreateTaskInput, error) {
	start, err := ParseDate(r.StartDate)
	if err != nil {
		return CreateTaskInput{}, fmt.Errorf("startDate: %w", err)
	}
	end, err := ParseDate(r.EndDate)
	if err != nil {
		return CreateTaskInput{}, fmt.Errorf("endDate: %w", err)
	}
	return CreateTaskInput{
		Title:       r.Title,
		Description: r.Description,
		StartDate:   start,
		EndDate:     end,
		StatusID:    r.StatusID,
		UserID:      r.UserID,
	}, nil
}

type UpdateTaskRequest struct {
	Title       *string          `json:"title" validate:"omitnil,nonblank,max=255"`
	Description Optional[string] `json:"description"`
	StartDate   *string          `json:"startDate" validate:"omitnil,isodate"`
	EndDate     *string          `json:"endDate" validate:"omitnil,isodate"`
	StatusID    *int64           `json:"statusId" validate:"omitnil,gt=0"`
	UserID      *int64           `json:"userId" validate:"omitnil,gt=0"`
}

func (r UpdateTaskRequest) Patch() (TaskPatch, error) {
	patch := TaskPatch{
		Title:       r.Title,
		Description: r.Description,
		StatusID:    r.StatusID,
		UserID:      r.UserID,
	}
	if r.StartDate != nil {
		d, err := ParseDate(*r.StartDate)
		if err != nil {
			return TaskPatch{}, fmt.Errorf("startDate: %w", err)
		}
		patch.StartDate = &d
	}
	if r.EndDate != nil {
		d, err := ParseDate(*r.EndDate)
		if err != nil {
			return TaskPatch{}, fmt.Errorf("endDate: %w", err)
		}
		patch.EndDate = &d
	}
	return patch, nil
}

type ReassignTaskRequest struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
}
