package models

// Status labels a task. The scheduler attaches no transition rules to it.
type Status struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DefaultStatuses are the labels installed by the seeder.
var DefaultStatuses = []string{"TODO", "IN_PROGRESS", "DONE", "CANCELLED"}
