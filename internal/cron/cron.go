package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper is the part of the meeting service the scheduled jobs drive.
type Sweeper interface {
	FlushPendingAudits(ctx context.Context) (int, error)
	VerifyAllChains(ctx context.Context) (int, error)
}

// Config holds the job schedules in robfig/cron syntax.
type Config struct {
	AuditReconcileSpec string
	ChainVerifySpec    string
	// JobTimeout bounds a single run of either job.
	JobTimeout time.Duration
}

// Scheduler handles scheduled tasks
type Scheduler struct {
	cron    *cron.Cron
	sweeper Sweeper
	cfg     Config
	log     *zap.Logger
}

// NewScheduler creates a new scheduler. Overlapping runs of the same job are
// skipped.
func NewScheduler(sweeper Sweeper, cfg Config, log *zap.Logger) *Scheduler {
	log = log.Named("cron")
	cl := cronLogger{log.Sugar()}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		sweeper: sweeper,
		cfg:     cfg,
		log:     log,
	}
}

// Start registers the jobs and starts the scheduler
func (s *Scheduler) Start() error {
	// Retry audit records that could not be written inline
	if _, err := s.cron.AddFunc(s.cfg.AuditReconcileSpec, s.reconcileAudits); err != nil {
		return fmt.Errorf("schedule audit reconcile %q: %w", s.cfg.AuditReconcileSpec, err)
	}

	// Re-verify every stored chain
	if _, err := s.cron.AddFunc(s.cfg.ChainVerifySpec, s.verifyChains); err != nil {
		return fmt.Errorf("schedule chain verify %q: %w", s.cfg.ChainVerifySpec, err)
	}

	s.cron.Start()
	s.log.Info("scheduler started",
		zap.String("audit_reconcile", s.cfg.AuditReconcileSpec),
		zap.String("chain_verify", s.cfg.ChainVerifySpec))
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) reconcileAudits() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	flushed, err := s.sweeper.FlushPendingAudits(ctx)
	if err != nil {
		s.log.Warn("audit reconcile incomplete", zap.Int("flushed", flushed), zap.Error(err))
		return
	}
	if flushed > 0 {
		s.log.Info("pending audit records written", zap.Int("flushed", flushed))
	}
}

func (s *Scheduler) verifyChains() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	broken, err := s.sweeper.VerifyAllChains(ctx)
	if err != nil {
		s.log.Error("chain verification failed", zap.Error(err))
		return
	}
	if broken > 0 {
		s.log.Error("broken audit chains found", zap.Int("broken", broken))
		return
	}
	s.log.Info("audit chains verified", zap.Duration("took", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
