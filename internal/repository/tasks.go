package repository

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kerucko/scheduler/internal/models"
)

var taskColumns = []string{
	"id", "title", "description", "start_date", "end_date",
	"status_id", "user_id", "created_at", "updated_at",
}

type TaskRepository struct {
	db      *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

func NewTaskRepository(db *pgxpool.Pool) *TaskRepository {
	return &TaskRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *TaskRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withinTx(ctx, r.db, fn)
}

// LockUsers takes a transaction-scoped advisory lock per user, in ascending
// id order so that concurrent callers cannot deadlock each other.
func (r *TaskRepository) LockUsers(ctx context.Context, userIDs ...int64) error {
	if !inTx(ctx) {
		return ErrNoTx
	}
	for _, id := range sortedUnique(userIDs) {
		query, args, err := r.lockUserQuery(id)
		if err != nil {
			return err
		}
		if _, err := conn(ctx, r.db).Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("lock user %d: %w", id, translateError(err))
		}
	}
	return nil
}

func (r *TaskRepository) lockUserQuery(userID int64) (string, []any, error) {
	return r.builder.
		Select().
		Column(squirrel.Expr("pg_advisory_xact_lock(hashtextextended(?, 0))", userLockKey(userID))).
		ToSql()
}

func userLockKey(userID int64) string {
	return "scheduler:user:" + strconv.FormatInt(userID, 10)
}

// LockTask reads a task and holds its row lock until the transaction ends.
func (r *TaskRepository) LockTask(ctx context.Context, id int64) (*models.Task, error) {
	if !inTx(ctx) {
		return nil, ErrNoTx
	}
	query, args, err := r.builder.
		Select(taskColumns...).
		From("tasks").
		Where(squirrel.Eq{"id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, err
	}
	t, err := scanTask(conn(ctx, r.db).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, translateError(err)
	}
	return &t, nil
}

func (r *TaskRepository) Create(ctx context.Context, t *models.Task) error {
	query, args, err := r.builder.
		Insert("tasks").
		Columns("title", "description", "start_date", "end_date", "status_id", "user_id").
		Values(t.Title, t.Description, t.StartDate.Time(), t.EndDate.Time(), t.StatusID, t.UserID).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return err
	}
	err = conn(ctx, r.db).QueryRow(ctx, query, args...).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	return translateError(err)
}

func (r *TaskRepository) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	query, args, err := r.builder.
		Select(taskColumns...).
		From("tasks").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	t, err := scanTask(conn(ctx, r.db).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, translateError(err)
	}
	return &t, nil
}

func (r *TaskRepository) GetByUser(ctx context.Context, userID int64) ([]models.Task, error) {
	query, args, err := r.builder.
		Select(taskColumns...).
		From("tasks").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("start_date", "id").
		ToSql()
	if err != nil {
		return nil, err
	}
	return r.queryTasks(ctx, query, args)
}

// List applies the exact-match part of filter; text search is the caller's.
func (r *TaskRepository) List(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	query, args, err := r.listQuery(filter).ToSql()
	if err != nil {
		return nil, err
	}
	return r.queryTasks(ctx, query, args)
}

func (r *TaskRepository) listQuery(filter models.TaskFilter) squirrel.SelectBuilder {
	q := r.builder.
		Select(taskColumns...).
		From("tasks")
	if filter.StatusID != 0 {
		q = q.Where(squirrel.Eq{"status_id": filter.StatusID})
	}
	if filter.UserID != 0 {
		q = q.Where(squirrel.Eq{"user_id": filter.UserID})
	}
	return q.OrderBy("start_date DESC", "id DESC")
}

func (r *TaskRepository) UpdateFields(ctx context.Context, id int64, patch models.TaskPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	query, args, err := r.updateQuery(id, patch).ToSql()
	if err != nil {
		return err
	}
	tag, err := conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) updateQuery(id int64, patch models.TaskPatch) squirrel.UpdateBuilder {
	set := map[string]any{
		"updated_at": squirrel.Expr("now()"),
	}
	if patch.Title != nil {
		set["title"] = *patch.Title
	}
	if patch.Description.Set {
		set["description"] = patch.Description.Ptr()
	}
	if patch.StartDate != nil {
		set["start_date"] = patch.StartDate.Time()
	}
	if patch.EndDate != nil {
		set["end_date"] = patch.EndDate.Time()
	}
	if patch.StatusID != nil {
		set["status_id"] = *patch.StatusID
	}
	if patch.UserID != nil {
		set["user_id"] = *patch.UserID
	}
	return r.builder.
		Update("tasks").
		SetMap(set).
		Where(squirrel.Eq{"id": id})
}

func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	query, args, err := r.builder.
		Delete("tasks").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := conn(ctx, r.db).Exec(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TaskRepository) queryTasks(ctx context.Context, query string, args []any) ([]models.Task, error) {
	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, translateError(rows.Err())
}

func scanTask(row pgx.Row) (models.Task, error) {
	var (
		t          models.Task
		start, end time.Time
	)
	err := row.Scan(
		&t.ID, &t.Title, &t.Description, &start, &end,
		&t.StatusID, &t.UserID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return models.Task{}, err
	}
	t.StartDate = models.DateOf(start)
	t.EndDate = models.DateOf(end)
	return t, nil
}

func sortedUnique(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
