// Package scheduler запускает фоновые задачи движка по расписанию.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/goroutine"
	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/metrics"
	"github.com/ignatzorin/freelance-escrow/internal/models"
)

// Job периодическая задача. Run вызывается сразу после старта и далее каждые Interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner запускает задачи в отдельных горутинах до отмены контекста.
type Runner struct {
	jobs []Job
	wg   sync.WaitGroup
}

// NewRunner создаёт планировщик. Задачи с неположительным интервалом пропускаются.
func NewRunner(jobs ...Job) *Runner {
	r := &Runner{}
	for _, job := range jobs {
		if job.Interval <= 0 || job.Run == nil {
			logger.With("scheduler").WithField("job", job.Name).Warn("задача отключена")
			continue
		}
		r.jobs = append(r.jobs, job)
	}
	return r
}

// Start запускает все задачи и сразу возвращает управление.
func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		r.wg.Add(1)
		goroutine.SafeGo("scheduler."+job.Name, func() {
			defer r.wg.Done()
			r.loop(ctx, job)
		})
	}
}

// Wait ждёт завершения всех задач после отмены контекста.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		_ = RunOnce(ctx, job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce выполняет задачу один раз. Panic превращается в ошибку, результат
// пишется в лог и метрики.
func RunOnce(ctx context.Context, job Job) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	start := time.Now()

	var err error
	if !goroutine.Run("scheduler."+job.Name, func() { err = job.Run(ctx) }) {
		err = errors.New("panic в задаче")
	}

	log := logger.With("scheduler").WithFields(logrus.Fields{
		"job":      job.Name,
		"duration": time.Since(start).String(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("задача завершилась с ошибкой")
		metrics.JobRuns.WithLabelValues(job.Name, metrics.OutcomeFailed).Inc()
		return err
	}
	log.Debug("задача выполнена")
	metrics.JobRuns.WithLabelValues(job.Name, metrics.OutcomeApplied).Inc()
	return err
}

// Sweeper эскалирует просроченные споры.
type Sweeper interface {
	SweepOverdue(ctx context.Context, limit int) ([]models.Dispute, error)
}

// Reconciler повторяет открытые элементы сверки.
type Reconciler interface {
	RetryOpen(ctx context.Context, limit int) (int, error)
}

// Pump доставляет накопившиеся события журнала.
type Pump interface {
	Drain(ctx context.Context) (int, error)
}

// EscalationSweep эскалирует споры без ответа дольше SLA.
func EscalationSweep(s Sweeper, interval time.Duration, batch int) Job {
	return Job{
		Name:     "escalation_sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			escalated, err := s.SweepOverdue(ctx, batch)
			if len(escalated) > 0 {
				logger.With("scheduler").WithField("count", len(escalated)).Info("споры эскалированы по SLA")
			}
			return err
		},
	}
}

// ReconciliationJob повторяет операции, не прошедшие с первого раза.
func ReconciliationJob(r Reconciler, interval time.Duration, batch int) Job {
	return Job{
		Name:     "reconciliation",
		Interval: interval,
		Run: func(ctx context.Context) error {
			resolved, err := r.RetryOpen(ctx, batch)
			if resolved > 0 {
				logger.With("scheduler").WithField("count", resolved).Info("элементы сверки закрыты")
			}
			return err
		},
	}
}

// DispatchJob раздаёт события журнала подписчикам.
func DispatchJob(p Pump, interval time.Duration) Job {
	return Job{
		Name:     "event_dispatch",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := p.Drain(ctx)
			return err
		},
	}
}
