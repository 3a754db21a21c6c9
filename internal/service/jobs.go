package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/collectibles-backend/internal/jobs"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

// Период фонового возврата просроченных резервов.
const reclaimInterval = time.Minute

// Возраст, после которого незавершённая покупка без живой задачи в очереди
// считается зависшей и перепоставляется.
const stalledTradeAge = 10 * time.Minute

// jobScheduler — постановка задач, включая отложенные, для
// самопланирующихся обходов.
type jobScheduler interface {
	jobEnqueuer
	EnqueueIn(ctx context.Context, name string, payload any, delay time.Duration) (uuid.UUID, error)
}

// RegisterJobHandlers привязывает фоновые задачи к сервисам. Payload каждой
// задачи разбирается здесь, сами сервисы работают с типизированными
// аргументами.
func RegisterJobHandlers(pool *jobs.Pool, queue jobScheduler, listings *ListingService, payments *PaymentService, payouts *PayoutService) {
	pool.Register(jobs.JobTradeListing, func(ctx context.Context, job *jobs.Job) error {
		var p tradeListingPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return err
		}
		return listings.HandleTrade(ctx, p.ListingID)
	})

	pool.Register(jobs.JobSubmitPayment, func(ctx context.Context, job *jobs.Job) error {
		var p submitPaymentPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return err
		}
		return payments.SubmitPayment(ctx, p.PaymentID, p.CardID, p.Verification)
	})

	pool.Register(jobs.JobConfirmDeposit, func(ctx context.Context, job *jobs.Job) error {
		var p confirmDepositPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return err
		}
		return payments.ConfirmDeposit(ctx, p.PaymentID)
	})

	pool.Register(jobs.JobSubmitPayout, func(ctx context.Context, job *jobs.Job) error {
		var p submitPayoutPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return err
		}
		return payouts.SubmitPayout(ctx, p.PayoutID)
	})

	pool.Register(jobs.JobSubmitTransfer, func(ctx context.Context, job *jobs.Job) error {
		var p submitPayoutPayload
		if err := decodePayload(job.Payload, &p); err != nil {
			return err
		}
		return payouts.SubmitCryptoTransfer(ctx, p.PayoutID)
	})

	// Обход просроченных резервов и зависших передач перепланирует сам себя.
	pool.Register(jobs.JobReclaimListings, func(ctx context.Context, job *jobs.Job) error {
		if err := listings.ReclaimExpired(ctx); err != nil {
			return err
		}
		if err := listings.RequeueStalledTrades(ctx, stalledTradeAge); err != nil {
			return err
		}
		if _, err := queue.EnqueueIn(ctx, jobs.JobReclaimListings, struct{}{}, reclaimInterval); err != nil {
			return apperror.Wrap(err, apperror.ErrCodeRecoverable, "reschedule reclaim")
		}
		return nil
	})
}

// SeedRecurringJobs ставит первую итерацию самопланирующихся обходов.
func SeedRecurringJobs(ctx context.Context, queue jobScheduler) error {
	if _, err := queue.EnqueueDefault(ctx, jobs.JobReclaimListings, struct{}{}); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "seed reclaim job")
	}
	return nil
}

func decodePayload(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeUnrecoverable, "malformed job payload")
	}
	return nil
}
