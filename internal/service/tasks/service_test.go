package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerucko/scheduler/internal/events"
	"github.com/kerucko/scheduler/internal/models"
	"github.com/kerucko/scheduler/internal/repository"
	"github.com/kerucko/scheduler/internal/schedule"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(_ context.Context, e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

// spyRepo counts the calls that touch a user's schedule.
type spyRepo struct {
	*repository.MemoryTaskRepository
	locks   atomic.Int32
	lookups atomic.Int32
	creates atomic.Int32
}

func (r *spyRepo) LockUsers(ctx context.Context, userIDs ...int64) error {
	r.locks.Add(1)
	return r.MemoryTaskRepository.LockUsers(ctx, userIDs...)
}

func (r *spyRepo) GetByUser(ctx context.Context, userID int64) ([]models.Task, error) {
	r.lookups.Add(1)
	return r.MemoryTaskRepository.GetByUser(ctx, userID)
}

func (r *spyRepo) Create(ctx context.Context, t *models.Task) error {
	r.creates.Add(1)
	return r.MemoryTaskRepository.Create(ctx, t)
}

type fixture struct {
	svc    *Service
	repo   *spyRepo
	sink   *recordingSink
	alice  models.User
	bob    models.User
	todo   models.Status
	done   models.Status
	memory *repository.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := repository.NewMemory()

	alice := &models.User{Email: "alice@example.com", Name: "Alice"}
	bob := &models.User{Email: "bob@example.com", Name: "Bob"}
	require.NoError(t, mem.Users().Create(ctx, alice))
	require.NoError(t, mem.Users().Create(ctx, bob))
	todo := &models.Status{Name: "TODO"}
	done := &models.Status{Name: "DONE"}
	require.NoError(t, mem.Statuses().Create(ctx, todo))
	require.NoError(t, mem.Statuses().Create(ctx, done))

	log, _ := test.NewNullLogger()
	repo := &spyRepo{MemoryTaskRepository: mem.Tasks()}
	sink := &recordingSink{}
	return &fixture{
		svc:    NewService(repo, mem.Users(), mem.Statuses(), sink, log),
		repo:   repo,
		sink:   sink,
		alice:  *alice,
		bob:    *bob,
		todo:   *todo,
		done:   *done,
		memory: mem,
	}
}

func (f *fixture) input(userID int64, start, end string) models.CreateTaskInput {
	return models.CreateTaskInput{
		Title:     "Task " + start,
		StartDate: models.MustParseDate(start),
		EndDate:   models.MustParseDate(end),
		StatusID:  f.todo.ID,
		UserID:    userID,
	}
}

func (f *fixture) create(t *testing.T, userID int64, start, end string) *models.Task {
	t.Helper()
	task, err := f.svc.Create(context.Background(), f.input(userID, start, end))
	require.NoError(t, err)
	return task
}

func ptr[T any](v T) *T { return &v }

func date(s string) *models.Date { return ptr(models.MustParseDate(s)) }

func TestCreateRejectsSharedBoundaryDay(t *testing.T) {
	f := newFixture(t)
	f.create(t, f.alice.ID, "2024-01-01", "2024-01-02")

	_, err := f.svc.Create(context.Background(), f.input(f.alice.ID, "2024-01-02", "2024-01-03"))
	assert.ErrorIs(t, err, ErrTaskOverlap)
	assert.Equal(t, "User already has a task scheduled during this time period", err.Error())

	all, err := f.svc.FindAll(context.Background(), models.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreateAdjacentRanges(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, f.alice.ID, "2024-01-01", "2024-01-02")
	second := f.create(t, f.alice.ID, "2024-01-03", "2024-01-04")

	assert.NotEqual(t, first.ID, second.ID)
	require.NotNil(t, second.User)
	assert.Equal(t, "Alice", second.User.Name)
	require.NotNil(t, second.Status)
	assert.Equal(t, "TODO", second.Status.Name)
}

func TestCreateDifferentUsersSameDays(t *testing.T) {
	f := newFixture(t)
	f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")
	f.create(t, f.bob.ID, "2024-01-01", "2024-01-05")
}

func TestCreateInvalidRangeShortCircuits(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.input(f.alice.ID, "2024-02-01", "2024-01-01"))
	assert.ErrorIs(t, err, ErrInvalidDateRange)
	assert.Equal(t, "Start date must be before or equal to end date", err.Error())

	assert.Zero(t, f.repo.locks.Load())
	assert.Zero(t, f.repo.lookups.Load())
	assert.Zero(t, f.repo.creates.Load())
	assert.Empty(t, f.sink.all())
}

func TestCreateSingleDay(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-10", "2024-01-10")
	assert.Equal(t, task.StartDate, task.EndDate)

	_, err := f.svc.Create(context.Background(), f.input(f.alice.ID, "2024-01-10", "2024-01-10"))
	assert.ErrorIs(t, err, ErrTaskOverlap)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input(f.alice.ID, "2024-01-01", "2024-01-01")
	in.Title = "   "
	_, err := f.svc.Create(ctx, in)
	assert.ErrorIs(t, err, ErrEmptyTitle)

	in = f.input(999, "2024-01-01", "2024-01-01")
	_, err = f.svc.Create(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidReference)

	in = f.input(f.alice.ID, "2024-01-01", "2024-01-01")
	in.StatusID = 999
	_, err = f.svc.Create(ctx, in)
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.Empty(t, f.sink.all())
}

func TestCreatePublishesEvent(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-02")

	assert.Equal(t, []events.Event{
		events.TaskCreated{TaskID: task.ID, UserID: f.alice.ID, Title: "Task 2024-01-01"},
	}, f.sink.all())
}

func TestUpdateMovesWithinOwnRange(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")

	// Overlaps only its own old range.
	updated, err := f.svc.Update(context.Background(), task.ID, models.TaskPatch{
		StartDate: date("2024-01-03"),
		EndDate:   date("2024-01-07"),
	})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", updated.StartDate.String())
	assert.Equal(t, "2024-01-07", updated.EndDate.String())
}

func TestUpdateRejectsOverlapWithSibling(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, f.alice.ID, "2024-01-01", "2024-01-02")
	f.create(t, f.alice.ID, "2024-01-05", "2024-01-06")

	_, err := f.svc.Update(context.Background(), first.ID, models.TaskPatch{EndDate: date("2024-01-05")})
	assert.ErrorIs(t, err, ErrTaskOverlap)

	got, err := f.svc.FindOne(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", got.EndDate.String())
}

func TestUpdatePartialRangeInverted(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-05", "2024-01-10")

	_, err := f.svc.Update(context.Background(), task.ID, models.TaskPatch{StartDate: date("2024-01-11")})
	assert.ErrorIs(t, err, ErrInvalidDateRange)
}

func TestUpdateChangingOwnerChecksNewOwner(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")
	f.create(t, f.bob.ID, "2024-01-04", "2024-01-04")

	_, err := f.svc.Update(context.Background(), task.ID, models.TaskPatch{UserID: ptr(f.bob.ID)})
	assert.ErrorIs(t, err, ErrTaskOverlap)

	moved, err := f.svc.Update(context.Background(), task.ID, models.TaskPatch{
		UserID:  ptr(f.bob.ID),
		EndDate: date("2024-01-03"),
	})
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, moved.UserID)
	assert.Equal(t, "2024-01-03", moved.EndDate.String())
}

func TestUpdateNonScheduleFields(t *testing.T) {
	f := newFixture(t)
	in := f.input(f.alice.ID, "2024-01-01", "2024-01-02")
	in.Description = ptr("first draft")
	created, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	locksBefore := f.repo.locks.Load()

	updated, err := f.svc.Update(context.Background(), created.ID, models.TaskPatch{
		Title:    ptr("Final"),
		StatusID: ptr(f.done.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, "Final", updated.Title)
	assert.Equal(t, "DONE", updated.Status.Name)
	require.NotNil(t, updated.Description, "absent description is left alone")
	assert.Equal(t, "first draft", *updated.Description)
	assert.Equal(t, locksBefore, f.repo.locks.Load(), "no schedule lock without a schedule change")

	cleared, err := f.svc.Update(context.Background(), created.ID, models.TaskPatch{Description: models.Null[string]()})
	require.NoError(t, err)
	assert.Nil(t, cleared.Description)
}

func TestUpdateEvents(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-02")

	_, err := f.svc.Update(context.Background(), task.ID, models.TaskPatch{})
	require.NoError(t, err)
	assert.Len(t, f.sink.all(), 1, "an empty patch writes nothing")

	_, err = f.svc.Update(context.Background(), task.ID, models.TaskPatch{Title: ptr("Renamed")})
	require.NoError(t, err)
	got := f.sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, events.TaskUpdated{TaskID: task.ID, UserID: f.alice.ID, Title: "Renamed"}, got[1])

	_, err = f.svc.Update(context.Background(), task.ID, models.TaskPatch{UserID: ptr(f.bob.ID)})
	require.NoError(t, err)
	got = f.sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, events.TaskUpdated{TaskID: task.ID, UserID: f.bob.ID, Title: "Renamed"}, got[2])
}

func TestUpdateErrors(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-02")
	ctx := context.Background()

	_, err := f.svc.Update(ctx, 404, models.TaskPatch{Title: ptr("x")})
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = f.svc.Update(ctx, task.ID, models.TaskPatch{Title: ptr(" ")})
	assert.ErrorIs(t, err, ErrEmptyTitle)

	_, err = f.svc.Update(ctx, task.ID, models.TaskPatch{StatusID: ptr(int64(999))})
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestReassignToFreeUser(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")

	got, err := f.svc.Reassign(context.Background(), task.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, f.bob.ID, got.UserID)
	assert.Equal(t, "Bob", got.User.Name)
	assert.Equal(t, task.StartDate, got.StartDate)
	assert.Equal(t, task.EndDate, got.EndDate)

	evs := f.sink.all()
	require.Len(t, evs, 2)
	assert.Equal(t, events.TaskReassigned{
		TaskID:    task.ID,
		OldUserID: f.alice.ID,
		NewUserID: f.bob.ID,
		Title:     task.Title,
	}, evs[1])
}

func TestReassignConflictKeepsOwner(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")
	f.create(t, f.bob.ID, "2024-01-02", "2024-01-03")

	_, err := f.svc.Reassign(context.Background(), task.ID, f.bob.ID)
	assert.ErrorIs(t, err, ErrTaskOverlap)

	got, err := f.svc.FindOne(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, f.alice.ID, got.UserID)
	assert.Len(t, f.sink.all(), 2, "no reassign event on failure")
}

func TestReassignToSameUser(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")

	_, err := f.svc.Reassign(context.Background(), task.ID, f.alice.ID)
	assert.ErrorIs(t, err, ErrSameUserReassign)
	assert.Equal(t, "Task is already assigned to this user", err.Error())
}

func TestReassignErrors(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")

	_, err := f.svc.Reassign(context.Background(), 404, f.bob.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = f.svc.Reassign(context.Background(), task.ID, 999)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")
	ctx := context.Background()

	require.NoError(t, f.svc.Remove(ctx, task.ID))
	_, err := f.svc.FindOne(ctx, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, f.svc.Remove(ctx, task.ID), ErrTaskNotFound)
	assert.Len(t, f.sink.all(), 1, "removal publishes nothing")

	// The freed days can be booked again.
	f.create(t, f.alice.ID, "2024-01-03", "2024-01-03")
}

func TestFindAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report := f.input(f.alice.ID, "2024-01-01", "2024-01-02")
	report.Title = "Quarterly Report"
	_, err := f.svc.Create(ctx, report)
	require.NoError(t, err)

	review := f.input(f.alice.ID, "2024-01-10", "2024-01-11")
	review.Title = "Code review"
	review.Description = ptr("Check the REPORT generator")
	review.StatusID = f.done.ID
	_, err = f.svc.Create(ctx, review)
	require.NoError(t, err)

	deploy := f.input(f.bob.ID, "2024-01-05", "2024-01-05")
	deploy.Title = "Deploy"
	_, err = f.svc.Create(ctx, deploy)
	require.NoError(t, err)

	titles := func(tasks []models.Task) []string {
		out := make([]string, len(tasks))
		for i, t := range tasks {
			out[i] = t.Title
		}
		return out
	}

	all, err := f.svc.FindAll(ctx, models.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Code review", "Deploy", "Quarterly Report"}, titles(all))
	for _, task := range all {
		assert.NotNil(t, task.User)
		assert.NotNil(t, task.Status)
		assert.Empty(t, task.User.PasswordHash)
	}

	found, err := f.svc.FindAll(ctx, models.TaskFilter{Search: "report"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Code review", "Quarterly Report"}, titles(found))

	found, err = f.svc.FindAll(ctx, models.TaskFilter{Search: "report", StatusID: f.done.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"Code review"}, titles(found))

	found, err = f.svc.FindAll(ctx, models.TaskFilter{UserID: f.bob.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{"Deploy"}, titles(found))

	found, err = f.svc.FindAll(ctx, models.TaskFilter{Search: "nothing like this"})
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)
}

func TestReadsAreIdempotent(t *testing.T) {
	f := newFixture(t)
	task := f.create(t, f.alice.ID, "2024-01-01", "2024-01-05")
	ctx := context.Background()

	a, err := f.svc.FindOne(ctx, task.ID)
	require.NoError(t, err)
	b, err := f.svc.FindOne(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, f.sink.all(), 1)
}

func TestConcurrentCreatesForOneUser(t *testing.T) {
	f := newFixture(t)
	const n = 16

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		overlaps  atomic.Int32
	)
	start := make(chan struct{})
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Create(context.Background(), f.input(f.alice.ID, "2024-03-01", "2024-03-03"))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrTaskOverlap):
				overlaps.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(n-1), overlaps.Load())

	mine, err := f.memory.Tasks().GetByUser(context.Background(), f.alice.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestConcurrentReassignsIntoOneUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	carol := &models.User{Email: "carol@example.com", Name: "Carol"}
	require.NoError(t, f.memory.Users().Create(ctx, carol))

	fromAlice := f.create(t, f.alice.ID, "2024-04-01", "2024-04-03")
	fromBob := f.create(t, f.bob.ID, "2024-04-02", "2024-04-04")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []int64{fromAlice.ID, fromBob.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.Reassign(ctx, id, carol.ID)
		}()
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrTaskOverlap)
		}
	}
	assert.Equal(t, 1, ok)

	carols, err := f.memory.Tasks().GetByUser(ctx, carol.ID)
	require.NoError(t, err)
	assert.Len(t, carols, 1)
}

func TestConcurrentUpdatesIntoOneDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.create(t, f.alice.ID, "2024-01-01", "2024-01-01")
	second := f.create(t, f.alice.ID, "2024-01-05", "2024-01-05")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	start := make(chan struct{})
	for i, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Update(ctx, id, models.TaskPatch{
				StartDate: date("2024-01-03"),
				EndDate:   date("2024-01-03"),
			})
		}()
	}
	close(start)
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrTaskOverlap)
		}
	}
	assert.Equal(t, 1, ok)

	mine, err := f.memory.Tasks().GetByUser(ctx, f.alice.ID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	var onThird int
	for _, task := range mine {
		if task.StartDate.String() == "2024-01-03" {
			onThird++
		}
	}
	assert.Equal(t, 1, onThird)
	assert.False(t, schedule.FromTask(mine[0]).Overlaps(schedule.FromTask(mine[1])))
}

func TestStorageErrorMapping(t *testing.T) {
	boom := errors.New("connection reset")

	assert.ErrorIs(t, storageError("op", repository.ErrOverlap), ErrTaskOverlap)
	assert.ErrorIs(t, storageError("op", repository.ErrInvalidRange), ErrInvalidDateRange)
	assert.ErrorIs(t, storageError("op", repository.ErrNotFound), ErrTaskNotFound)
	assert.Same(t, ErrSameUserReassign, storageError("op", ErrSameUserReassign))

	err := storageError("save task", boom)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "storage failure: save task: connection reset", err.Error())
}
