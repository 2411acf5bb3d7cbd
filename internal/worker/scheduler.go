package worker

import (
	"context"
	"sync"
	"time"

	"github.com/cogivn/daisy-flower-sub000/config"
	"github.com/cogivn/daisy-flower-sub000/internal/service"
	"github.com/cogivn/daisy-flower-sub000/internal/util"

	"go.uber.org/zap"
)

// Locker serializes a job across replicas. An empty token means another
// replica holds the lock.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Job is a periodic sweep.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) error
}

// SweepJobs pairs each sweep with its configured interval.
func SweepJobs(sweeps *service.SweepService, cfg config.SchedulerConfig) []Job {
	runs := sweeps.Jobs()
	intervals := map[string]time.Duration{
		service.JobSaleEvents:          cfg.SaleSweepInterval,
		service.JobAbandonedOrders:     cfg.OrderSweepInterval,
		service.JobVoucherReservations: cfg.ReservationSweepInterval,
	}

	jobs := make([]Job, 0, len(runs))
	for _, name := range []string{service.JobSaleEvents, service.JobAbandonedOrders, service.JobVoucherReservations} {
		jobs = append(jobs, Job{Name: name, Interval: intervals[name], Run: runs[name]})
	}
	return jobs
}

// Scheduler fires each job on its own ticker and runs it on a small worker
// pool. A tick arriving while the queue is full is dropped; the next tick
// covers it.
type Scheduler struct {
	jobs    []Job
	workers int
	locker  Locker
	lockTTL time.Duration
	queue   chan Job
	now     func() time.Time
	logger  *zap.Logger
}

// NewScheduler creates a new scheduler. locker may be nil on a single replica.
func NewScheduler(jobs []Job, workers int, locker Locker, lockTTL time.Duration) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		jobs:    jobs,
		workers: workers,
		locker:  locker,
		lockTTL: lockTTL,
		queue:   make(chan Job, len(jobs)),
		now:     func() time.Time { return time.Now().UTC() },
		logger:  util.Component("scheduler"),
	}
}

// Run blocks until ctx is cancelled. Every job runs once at startup, then
// on its interval.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case job := <-s.queue:
					s.RunOnce(ctx, job)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn("Job disabled", zap.String("job", job.Name))
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			s.enqueue(job)
			for {
				select {
				case <-ticker.C:
					s.enqueue(job)
				case <-ctx.Done():
					return
				}
			}
		}(job)
	}

	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)), zap.Int("workers", s.workers))
	wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) enqueue(job Job) {
	select {
	case s.queue <- job:
	default:
		util.SweepRunsTotal.WithLabelValues(job.Name, "dropped").Inc()
		s.logger.Debug("Queue full, tick dropped", zap.String("job", job.Name))
	}
}

// RunOnce runs job under its distributed lock. It reports whether the job
// actually ran.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) bool {
	runCtx := ctx
	if s.lockTTL > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.lockTTL)
		defer cancel()
	}

	if s.locker != nil {
		key := "sweep-lock:" + job.Name
		token, err := s.locker.AcquireLock(runCtx, key, s.lockTTL)
		switch {
		case err != nil:
			// sweeps are conditional bulk writes, so running unlocked is safe
			s.logger.Warn("Lock unavailable, running unlocked", zap.String("job", job.Name), zap.Error(err))
		case token == "":
			util.SweepRunsTotal.WithLabelValues(job.Name, "locked").Inc()
			return false
		default:
			defer func() {
				if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
					s.logger.Warn("Failed to release lock", zap.String("job", job.Name), zap.Error(err))
				}
			}()
		}
	}

	start := time.Now()
	err := job.Run(runCtx, s.now())
	util.SweepDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		util.SweepRunsTotal.WithLabelValues(job.Name, "error").Inc()
		s.logger.Error("Sweep failed", zap.String("job", job.Name), zap.Error(err))
		return true
	}
	util.SweepRunsTotal.WithLabelValues(job.Name, "ok").Inc()
	return true
}
