package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Статусы фоновой задачи.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusDead    = "dead"
)

// Имена зарегистрированных задач.
const (
	JobSubmitPayment   = "submit_payment"
	JobSubmitPayout    = "submit_payout"
	JobSubmitTransfer  = "submit_transfer"
	JobTradeListing    = "trade_listing"
	JobReclaimListings = "reclaim_listings"
	JobConfirmDeposit  = "confirm_deposit"
)

// Job — запись очереди задач. Очередь живёт в той же базе, что и данные:
// постановка задачи участвует в транзакции, создавшей её предмет, и задача
// не может появиться без своих данных (и наоборот).
type Job struct {
	ID          uuid.UUID       `db:"id"`
	Name        string          `db:"name"`
	Status      string          `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Attempts    int             `db:"attempts"`
	RunAt       time.Time       `db:"run_at"`
	LastError   *string         `db:"last_error"`
	StartedAt   *time.Time      `db:"started_at"`
	CompletedAt *time.Time      `db:"completed_at"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}
