package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Queue — очередь фоновых задач поверх Postgres. Воркеры забирают задачи
// через FOR UPDATE SKIP LOCKED, поэтому несколько воркеров не возьмут одну
// и ту же задачу.
type Queue struct {
	db *sqlx.DB
}

// NewQueue создаёт очередь.
func NewQueue(db *sqlx.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue ставит задачу в очередь. Принимает ExtContext, чтобы постановка
// могла выполняться внутри транзакции вызывающего кода.
func (q *Queue) Enqueue(ctx context.Context, ext sqlx.ExtContext, name string, payload any, delay time.Duration) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("jobs: marshal payload %w", err)
	}
	id := uuid.New()
	_, err = ext.ExecContext(ctx, `
		INSERT INTO jobs (id, name, status, payload, attempts, run_at)
		VALUES ($1, $2, 'queued', $3, 0, NOW() + $4::interval)
	`, id, name, data, delay.String())
	if err != nil {
		return uuid.Nil, fmt.Errorf("jobs: enqueue %w", err)
	}
	return id, nil
}

// EnqueueDefault ставит задачу вне транзакции, без задержки.
func (q *Queue) EnqueueDefault(ctx context.Context, name string, payload any) (uuid.UUID, error) {
	return q.Enqueue(ctx, q.db, name, payload, 0)
}

// EnqueueIn ставит задачу с отложенным запуском.
func (q *Queue) EnqueueIn(ctx context.Context, name string, payload any, delay time.Duration) (uuid.UUID, error) {
	return q.Enqueue(ctx, q.db, name, payload, delay)
}

// Claim забирает ближайшую готовую задачу. Возвращает nil, nil, когда
// очередь пуста.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	var job Job
	err := q.db.GetContext(ctx, &job, `
		UPDATE jobs SET status = 'running', attempts = attempts + 1,
			started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued' AND run_at <= NOW()
			ORDER BY run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs: claim %w", err)
	}
	return &job, nil
}

// Complete закрывает задачу успешно.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'done', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id)
	if err != nil {
		return fmt.Errorf("jobs: complete %w", err)
	}
	return nil
}

// Retry возвращает задачу в очередь с отложенным запуском.
func (q *Queue) Retry(ctx context.Context, id uuid.UUID, cause string, delay time.Duration) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', last_error = $2,
			run_at = NOW() + $3::interval, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, cause, delay.String())
	if err != nil {
		return fmt.Errorf("jobs: retry %w", err)
	}
	return nil
}

// Bury переводит задачу в dead: автоматических повторов больше не будет,
// задача остаётся видимой оператору.
func (q *Queue) Bury(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'dead', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`, id, cause)
	if err != nil {
		return fmt.Errorf("jobs: bury %w", err)
	}
	return nil
}

// Revive возвращает dead-задачу в очередь после ручного вмешательства.
func (q *Queue) Revive(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'queued', run_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'dead'
	`, id)
	if err != nil {
		return fmt.Errorf("jobs: revive %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("jobs: job %s is not dead", id)
	}
	return nil
}

// ListDead возвращает dead-задачи для операторской выдачи.
func (q *Queue) ListDead(ctx context.Context, limit, offset int) ([]Job, error) {
	var dead []Job
	err := q.db.SelectContext(ctx, &dead, `
		SELECT * FROM jobs WHERE status = 'dead' ORDER BY updated_at DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("jobs: list dead %w", err)
	}
	return dead, nil
}

// Depth возвращает число задач, ожидающих выполнения.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var depth int
	err := q.db.GetContext(ctx, &depth, `SELECT COUNT(*) FROM jobs WHERE status = 'queued'`)
	if err != nil {
		return 0, fmt.Errorf("jobs: depth %w", err)
	}
	return depth, nil
}
