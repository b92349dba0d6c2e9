package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kerucko/scheduler/internal/models"
)

// Memory is a process-local store with the same contract as the Postgres
// repositories, foreign keys included. Use Tasks, Users and Statuses to get
// the per-table views.
//
// Transactions here only scope locks: nothing is rolled back, so callers
// must do their checks before their single write.
type Memory struct {
	mu       sync.RWMutex
	tasks    map[int64]models.Task
	users    map[int64]models.User
	statuses map[int64]models.Status

	nextTaskID, nextUserID, nextStatusID int64

	locks *keyedMutex
	now   func() time.Time
}

type memTxKey struct{}

func NewMemory() *Memory {
	return &Memory{
		tasks:    make(map[int64]models.Task),
		users:    make(map[int64]models.User),
		statuses: make(map[int64]models.Status),
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

func (m *Memory) Tasks() *MemoryTaskRepository      { return &MemoryTaskRepository{m} }
func (m *Memory) Users() *MemoryUserRepository      { return &MemoryUserRepository{m} }
func (m *Memory) Statuses() *MemoryStatusRepository { return &MemoryStatusRepository{m} }

func (m *Memory) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*heldLocks); ok {
		return fn(ctx)
	}
	held := &heldLocks{keys: map[string]struct{}{}}
	defer held.releaseAll()
	return fn(context.WithValue(ctx, memTxKey{}, held))
}

func (m *Memory) lock(ctx context.Context, key string) error {
	held, ok := ctx.Value(memTxKey{}).(*heldLocks)
	if !ok {
		return ErrNoTx
	}
	if held.holds(key) {
		return nil
	}
	release, err := m.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	held.add(key, release)
	return nil
}

type MemoryTaskRepository struct{ m *Memory }

func (r *MemoryTaskRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.m.withinTx(ctx, fn)
}

func (r *MemoryTaskRepository) LockUsers(ctx context.Context, userIDs ...int64) error {
	for _, id := range sortedUnique(userIDs) {
		if err := r.m.lock(ctx, fmt.Sprintf("user:%d", id)); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryTaskRepository) LockTask(ctx context.Context, id int64) (*models.Task, error) {
	if err := r.m.lock(ctx, fmt.Sprintf("task:%d", id)); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryTaskRepository) Create(_ context.Context, t *models.Task) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkTaskRefs(t.UserID, t.StatusID); err != nil {
		return err
	}
	if t.StartDate.After(t.EndDate) {
		return ErrInvalidRange
	}
	m.nextTaskID++
	now := m.now()
	t.ID = m.nextTaskID
	t.CreatedAt, t.UpdatedAt = now, now
	stored := *t
	stored.User, stored.Status = nil, nil
	m.tasks[t.ID] = stored
	return nil
}

func (r *MemoryTaskRepository) GetByID(_ context.Context, id int64) (*models.Task, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	t, ok := r.m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *MemoryTaskRepository) GetByUser(_ context.Context, userID int64) ([]models.Task, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []models.Task
	for _, t := range r.m.tasks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b models.Task) int {
		if c := a.StartDate.Compare(b.StartDate); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (r *MemoryTaskRepository) List(_ context.Context, filter models.TaskFilter) ([]models.Task, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []models.Task
	for _, t := range r.m.tasks {
		if filter.StatusID != 0 && t.StatusID != filter.StatusID {
			continue
		}
		if filter.UserID != 0 && t.UserID != filter.UserID {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b models.Task) int {
		if c := b.StartDate.Compare(a.StartDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (r *MemoryTaskRepository) UpdateFields(_ context.Context, id int64, patch models.TaskPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description.Set {
		t.Description = patch.Description.Ptr()
	}
	if patch.StartDate != nil {
		t.StartDate = *patch.StartDate
	}
	if patch.EndDate != nil {
		t.EndDate = *patch.EndDate
	}
	if patch.StatusID != nil {
		t.StatusID = *patch.StatusID
	}
	if patch.UserID != nil {
		t.UserID = *patch.UserID
	}
	if err := m.checkTaskRefs(t.UserID, t.StatusID); err != nil {
		return err
	}
	if t.StartDate.After(t.EndDate) {
		return ErrInvalidRange
	}
	t.UpdatedAt = m.now()
	m.tasks[id] = t
	return nil
}

func (r *MemoryTaskRepository) Delete(_ context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(r.m.tasks, id)
	return nil
}

// checkTaskRefs mirrors the foreign keys of the tasks table. Caller holds mu.
func (m *Memory) checkTaskRefs(userID, statusID int64) error {
	if _, ok := m.users[userID]; !ok {
		return fmt.Errorf("%w: user %d", ErrInvalidReference, userID)
	}
	if _, ok := m.statuses[statusID]; !ok {
		return fmt.Errorf("%w: status %d", ErrInvalidReference, statusID)
	}
	return nil
}

type MemoryUserRepository struct{ m *Memory }

func (r *MemoryUserRepository) Create(_ context.Context, u *models.User) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("%w: email %s", ErrDuplicate, u.Email)
		}
	}
	m.nextUserID++
	now := m.now()
	u.ID = m.nextUserID
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = *u
	return nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	for _, u := range r.m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id int64) (*models.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *MemoryUserRepository) GetAll(_ context.Context) ([]models.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]models.User, 0, len(r.m.users))
	for _, u := range r.m.users {
		u.PasswordHash = ""
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b models.User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *MemoryUserRepository) GetByIDs(_ context.Context, ids []int64) ([]models.User, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []models.User
	for _, id := range sortedUnique(ids) {
		if u, ok := r.m.users[id]; ok {
			u.PasswordHash = ""
			out = append(out, u)
		}
	}
	return out, nil
}

type MemoryStatusRepository struct{ m *Memory }

func (r *MemoryStatusRepository) Create(_ context.Context, s *models.Status) error {
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.statuses {
		if existing.Name == s.Name {
			return fmt.Errorf("%w: status %s", ErrDuplicate, s.Name)
		}
	}
	m.nextStatusID++
	s.ID = m.nextStatusID
	m.statuses[s.ID] = *s
	return nil
}

func (r *MemoryStatusRepository) GetAll(_ context.Context) ([]models.Status, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	out := make([]models.Status, 0, len(r.m.statuses))
	for _, s := range r.m.statuses {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b models.Status) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *MemoryStatusRepository) GetByIDs(_ context.Context, ids []int64) ([]models.Status, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var out []models.Status
	for _, id := range sortedUnique(ids) {
		if s, ok := r.m.statuses[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}
