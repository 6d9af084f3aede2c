package scheduler

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"immoledger/server/internal/database"
	"immoledger/server/internal/webhook"
)

// JobType represents the periodic jobs of the billing sweep
type JobType int

const (
	JobTypeExpirePending JobType = iota
	JobTypeExpireSubscriptions
)

// String returns the string representation of a JobType
func (j JobType) String() string {
	switch j {
	case JobTypeExpirePending:
		return "expire_pending"
	case JobTypeExpireSubscriptions:
		return "expire_subscriptions"
	default:
		return "unknown"
	}
}

// Options tune the sweep.
type Options struct {
	Interval   time.Duration
	PendingTTL time.Duration
	BatchSize  int
}

// Scheduler periodically fails pending transactions that outlived their
// TTL and expires subscriptions whose period ended, so no payment stays
// pending forever.
type Scheduler struct {
	db         *database.Database
	reconciler *webhook.Reconciler
	logger     *logrus.Logger
	opts       Options
	stopChan   chan struct{}
	wg         sync.WaitGroup
	jobMutex   sync.Mutex // Ensures sequential job execution
	now        func() time.Time
}

// Summary reports one sweep.
type Summary struct {
	ExpiredTransactions  int
	ExpiredSubscriptions int64
}

// NewScheduler creates a new scheduler
func NewScheduler(db *database.Database, reconciler *webhook.Reconciler, logger *logrus.Logger, opts Options) *Scheduler {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
		logger.SetLevel(logrus.InfoLevel)
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = time.Hour
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	return &Scheduler{
		db:         db,
		reconciler: reconciler,
		logger:     logger,
		opts:       opts,
		stopChan:   make(chan struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start begins the scheduled sweeps
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.runScheduler()
}

func (s *Scheduler) runScheduler() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.Interval)
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.WithError(err).Error("Expiry sweep failed")
			}
			cancel()
		}
	}
}

// RunOnce runs every job once. Jobs never overlap.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	var summary Summary
	now := s.now()

	cutoff := now.Add(-s.opts.PendingTTL)
	expired, err := s.reconciler.ExpireStale(ctx, cutoff, s.opts.BatchSize)
	if err != nil {
		s.logger.WithError(err).WithField("job_type", JobTypeExpirePending.String()).Error("Sweep job failed")
		return summary, err
	}
	summary.ExpiredTransactions = expired

	err = s.db.Transact(ctx, func(tx *gorm.DB) error {
		n, err := database.ExpireSubscriptions(tx, now)
		summary.ExpiredSubscriptions = n
		return err
	})
	if err != nil {
		s.logger.WithError(err).WithField("job_type", JobTypeExpireSubscriptions.String()).Error("Sweep job failed")
		return summary, err
	}

	if summary.ExpiredTransactions > 0 || summary.ExpiredSubscriptions > 0 {
		s.logger.WithFields(logrus.Fields{
			"expired_transactions":  summary.ExpiredTransactions,
			"expired_subscriptions": summary.ExpiredSubscriptions,
			"cutoff":                cutoff,
		}).Info("Expiry sweep completed")
	} else {
		s.logger.Debug("Expiry sweep found nothing to do")
	}
	return summary, nil
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}
