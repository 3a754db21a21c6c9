package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/metrics"
	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

// Handler выполняет задачу. Восстановимая ошибка вернёт задачу в очередь с
// бэкоффом, любая другая — похоронит её в dead.
type Handler func(ctx context.Context, job *Job) error

// Pool — пул воркеров очереди. Каждый воркер в цикле забирает задачу,
// выполняет зарегистрированный обработчик и решает судьбу задачи по ошибке.
type Pool struct {
	queue        *Queue
	handlers     map[string]Handler
	workers      int
	pollInterval time.Duration
	maxAttempts  int
	log          *logrus.Entry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool создаёт пул воркеров.
func NewPool(queue *Queue, workers, maxAttempts int, pollInterval time.Duration) *Pool {
	return &Pool{
		queue:        queue,
		handlers:     make(map[string]Handler),
		workers:      workers,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		log:          logger.WithComponent("jobs"),
	}
}

// Register привязывает обработчик к имени задачи. Вызывается до Start.
func (p *Pool) Register(name string, handler Handler) {
	p.handlers[name] = handler
}

// Start запускает воркеров и сборщик метрики глубины очереди.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	p.wg.Add(1)
	go p.observeDepth(ctx)
	p.log.WithField("workers", p.workers).Info("job pool started")
}

// Stop останавливает пул и дожидается завершения текущих задач.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("job pool stopped")
}

func (p *Pool) run(ctx context.Context, worker int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// Выгребаем очередь досуха, потом снова ждём тикер.
		for {
			job, err := p.queue.Claim(ctx)
			if err != nil {
				p.log.WithError(err).Error("claim failed")
				break
			}
			if job == nil {
				break
			}
			p.execute(ctx, job)
		}
	}
}

func (p *Pool) execute(ctx context.Context, job *Job) {
	log := p.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job":      job.Name,
		"attempts": job.Attempts,
	})

	handler, ok := p.handlers[job.Name]
	if !ok {
		log.Error("no handler registered")
		p.finalize(ctx, job, log, "dead", p.queue.Bury(ctx, job.ID, "no handler registered"))
		return
	}

	err := p.runSafe(ctx, handler, job)
	switch {
	case err == nil:
		p.finalize(ctx, job, log, "done", p.queue.Complete(ctx, job.ID))
	case apperror.IsRecoverable(err) && job.Attempts < p.maxAttempts:
		delay := Backoff(job.Attempts)
		log.WithError(err).WithField("retry_in", delay).Warn("job failed, will retry")
		p.finalize(ctx, job, log, "retried", p.queue.Retry(ctx, job.ID, err.Error(), delay))
	default:
		log.WithError(err).Error("job failed permanently")
		p.finalize(ctx, job, log, "dead", p.queue.Bury(ctx, job.ID, err.Error()))
	}
}

func (p *Pool) runSafe(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Pool) finalize(ctx context.Context, job *Job, log *logrus.Entry, outcome string, err error) {
	if err != nil {
		log.WithError(err).Error("failed to update job status")
		return
	}
	metrics.JobsTotal.WithLabelValues(job.Name, outcome).Inc()
}

func (p *Pool) observeDepth(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := p.queue.Depth(ctx)
			if err != nil {
				continue
			}
			metrics.JobQueueDepth.Set(float64(depth))
		}
	}
}

// Backoff возвращает задержку перед повтором: экспонента от 30 секунд,
// после восьмого повтора — раз в сутки.
func Backoff(attempts int) time.Duration {
	if attempts >= 8 {
		return 24 * time.Hour
	}
	delay := 30 * time.Second
	for i := 1; i < attempts; i++ {
		delay *= 2
	}
	if delay > 24*time.Hour {
		return 24 * time.Hour
	}
	return delay
}
