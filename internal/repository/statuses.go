package repository

import (
	"context"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kerucko/scheduler/internal/models"
)

type StatusRepository struct {
	db      *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

func NewStatusRepository(db *pgxpool.Pool) *StatusRepository {
	return &StatusRepository{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *StatusRepository) Create(ctx context.Context, s *models.Status) error {
	query, args, err := r.builder.
		Insert("task_statuses").
		Columns("name").
		Values(s.Name).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return err
	}
	return translateError(conn(ctx, r.db).QueryRow(ctx, query, args...).Scan(&s.ID))
}

func (r *StatusRepository) GetAll(ctx context.Context) ([]models.Status, error) {
	return r.list(ctx, nil)
}

func (r *StatusRepository) GetByIDs(ctx context.Context, ids []int64) ([]models.Status, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, squirrel.Eq{"id": sortedUnique(ids)})
}

func (r *StatusRepository) list(ctx context.Context, where squirrel.Sqlizer) ([]models.Status, error) {
	q := r.builder.
		Select("id", "name").
		From("task_statuses").
		OrderBy("id")
	if where != nil {
		q = q.Where(where)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var statuses []models.Status
	for rows.Next() {
		var s models.Status
		if err := rows.Scan(&s.ID, &s.Name); err != nil {
			return nil, err
		}
		statuses = append(statuses, s)
	}
	return statuses, translateError(rows.Err())
}
