// Package seed installs the demo data set: the status catalog, four users and
// a few tasks on consecutive days.
package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kerucko/scheduler/internal/models"
)

type statusCreator interface {
	Create(ctx context.Context, s *models.Status) error
}

type userRegistrar interface {
	Register(ctx context.Context, input models.RegisterRequest) (*models.User, error)
}

type taskCreator interface {
	Create(ctx context.Context, input models.CreateTaskInput) (*models.Task, error)
}

type Seeder struct {
	statuses statusCreator
	users    userRegistrar
	tasks    taskCreator
	log      logrus.FieldLogger
	today    func() models.Date
}

func NewSeeder(statuses statusCreator, users userRegistrar, tasks taskCreator, log logrus.FieldLogger) *Seeder {
	return &Seeder{
		statuses: statuses,
		users:    users,
		tasks:    tasks,
		log:      log.WithField("component", "seed"),
		today:    func() models.Date { return models.DateOf(time.Now()) },
	}
}

type Result struct {
	Statuses []models.Status
	Users    []models.User
	Tasks    []models.Task
}

var demoUsers = []models.RegisterRequest{
	{Email: "admin@example.com", Name: "Admin User", Password: "admin123"},
	{Email: "john@example.com", Name: "John Doe", Password: "password123"},
	{Email: "jane@example.com", Name: "Jane Smith", Password: "password123"},
	{Email: "bob@example.com", Name: "Bob Johnson", Password: "password123"},
}

// Run expects empty tables. Tasks go through the lifecycle manager, so the
// schedule rules apply to them like to any other task.
func (s *Seeder) Run(ctx context.Context) (*Result, error) {
	res := &Result{}

	for _, name := range models.DefaultStatuses {
		st := &models.Status{Name: name}
		if err := s.statuses.Create(ctx, st); err != nil {
			return nil, fmt.Errorf("seed status %s: %w", name, err)
		}
		res.Statuses = append(res.Statuses, *st)
	}
	s.log.WithField("count", len(res.Statuses)).Info("task statuses seeded")

	for _, input := range demoUsers {
		u, err := s.users.Register(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("seed user %s: %w", input.Email, err)
		}
		res.Users = append(res.Users, *u)
	}
	s.log.WithField("count", len(res.Users)).Info("users seeded")

	today := s.today()
	desc := func(s string) *string { return &s }
	inputs := []models.CreateTaskInput{
		{
			Title:       "Setup project infrastructure",
			Description: desc("Initialize the repository and CI pipeline"),
			StartDate:   today,
			EndDate:     today.AddDays(1),
			StatusID:    res.Statuses[1].ID,
			UserID:      res.Users[1].ID,
		},
		{
			Title:       "Design database schema",
			Description: desc("Create ERD and define relationships"),
			StartDate:   today.AddDays(2),
			EndDate:     today.AddDays(3),
			StatusID:    res.Statuses[0].ID,
			UserID:      res.Users[2].ID,
		},
		{
			Title:       "Implement authentication",
			Description: desc("JWT-based auth with login/logout"),
			StartDate:   today.AddDays(4),
			EndDate:     today.AddDays(5),
			StatusID:    res.Statuses[0].ID,
			UserID:      res.Users[3].ID,
		},
	}
	for _, input := range inputs {
		t, err := s.tasks.Create(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("seed task %q: %w", input.Title, err)
		}
		res.Tasks = append(res.Tasks, *t)
	}
	s.log.WithField("count", len(res.Tasks)).Info("sample tasks seeded")

	return res, nil
}
