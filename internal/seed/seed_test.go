package seed

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerucko/scheduler/internal/events"
	"github.com/kerucko/scheduler/internal/models"
	"github.com/kerucko/scheduler/internal/repository"
	"github.com/kerucko/scheduler/internal/service/tasks"
	"github.com/kerucko/scheduler/internal/service/users"
	"github.com/kerucko/scheduler/internal/utils"
)

func TestRun(t *testing.T) {
	log, _ := test.NewNullLogger()
	mem := repository.NewMemory()
	userSvc := users.NewService(mem.Users(), utils.NewAuthManager("secret", time.Hour), log)
	taskSvc := tasks.NewService(mem.Tasks(), mem.Users(), mem.Statuses(), events.Nop{}, log)

	s := NewSeeder(mem.Statuses(), userSvc, taskSvc, log)
	s.today = func() models.Date { return models.MustParseDate("2024-06-01") }

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Statuses, len(models.DefaultStatuses))
	assert.Len(t, res.Users, 4)
	require.Len(t, res.Tasks, 3)

	assert.Equal(t, "2024-06-01", res.Tasks[0].StartDate.String())
	assert.Equal(t, "2024-06-06", res.Tasks[2].EndDate.String())
	assert.Equal(t, "IN_PROGRESS", res.Tasks[0].Status.Name)

	login, err := userSvc.Login(context.Background(), models.LoginRequest{Email: "admin@example.com", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, "Admin User", login.User.Name)

	_, err = s.Run(context.Background())
	assert.Error(t, err, "seeding twice hits the unique status names")
}
