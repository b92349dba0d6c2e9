package schedule

import (
	"context"

	"github.com/kerucko/scheduler/internal/models"
)

type taskFinder interface {
	GetByUser(ctx context.Context, userID int64) ([]models.Task, error)
}

// Detector answers whether a candidate interval collides with anything already
// on its owner's schedule. It scans the owner's tasks linearly: personal
// schedules are small and the test must stay exact.
type Detector struct {
	tasks taskFinder
}

func NewDetector(tasks taskFinder) *Detector {
	return &Detector{tasks: tasks}
}

// HasOverlap checks candidate against every task of candidate.UserID except
// excludeTaskID. Pass 0 to exclude nothing.
func (d *Detector) HasOverlap(ctx context.Context, candidate Interval, excludeTaskID int64) (bool, error) {
	conflicts, err := d.Conflicts(ctx, candidate, excludeTaskID)
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}

// Conflicts returns the tasks that candidate would collide with.
func (d *Detector) Conflicts(ctx context.Context, candidate Interval, excludeTaskID int64) ([]models.Task, error) {
	existing, err := d.tasks.GetByUser(ctx, candidate.UserID)
	if err != nil {
		return nil, err
	}
	return Overlapping(existing, candidate, excludeTaskID), nil
}

// Overlapping filters tasks down to those owned by candidate.UserID whose
// range intersects candidate, skipping excludeTaskID.
func Overlapping(tasks []models.Task, candidate Interval, excludeTaskID int64) []models.Task {
	var out []models.Task
	for _, t := range tasks {
		if t.UserID != candidate.UserID {
			continue
		}
		if excludeTaskID != 0 && t.ID == excludeTaskID {
			continue
		}
		if FromTask(t).Overlaps(candidate) {
			out = append(out, t)
		}
	}
	return out
}
