// Package events carries task lifecycle events from the scheduler to
// notification and background-job consumers. Delivery is asynchronous and
// at-most-once: a producer never waits for, or learns about, consumption.
package events

import (
	"context"
	"time"
)

type Type string

const (
	TypeTaskCreated    Type = "task.created"
	TypeTaskUpdated    Type = "task.updated"
	TypeTaskReassigned Type = "task.reassigned"
)

type Event interface {
	Type() Type
	// UserIDs lists every user whose schedule the event touches.
	UserIDs() []int64
}

type TaskCreated struct {
	TaskID int64  `json:"taskId"`
	UserID int64  `json:"userId"`
	Title  string `json:"title"`
}

func (TaskCreated) Type() Type         { return TypeTaskCreated }
func (e TaskCreated) UserIDs() []int64 { return []int64{e.UserID} }

type TaskUpdated struct {
	TaskID int64  `json:"taskId"`
	UserID int64  `json:"userId"`
	Title  string `json:"title"`
}

func (TaskUpdated) Type() Type         { return TypeTaskUpdated }
func (e TaskUpdated) UserIDs() []int64 { return []int64{e.UserID} }

type TaskReassigned struct {
	TaskID    int64  `json:"taskId"`
	OldUserID int64  `json:"oldUserId"`
	NewUserID int64  `json:"newUserId"`
	Title     string `json:"title"`
}

func (TaskReassigned) Type() Type         { return TypeTaskReassigned }
func (e TaskReassigned) UserIDs() []int64 { return []int64{e.OldUserID, e.NewUserID} }

// Sink accepts events after the change they describe is committed.
// Implementations must not block the caller.
type Sink interface {
	Publish(ctx context.Context, e Event)
}

// Envelope is what consumers receive.
type Envelope struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    Event     `json:"payload"`
}

type Handler func(ctx context.Context, env Envelope) error

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
