// Package scheduler refreshes estimations on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StockCast/internal/domain/models"
	"StockCast/internal/usecase"
	applogger "StockCast/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Runner is the part of EstimationUseCase the scheduler drives.
type Runner interface {
	Run(ctx context.Context, p usecase.RunParams) (*models.RunReport, error)
}

// Config holds six-field (with seconds) cron expressions. Empty disables a task.
type Config struct {
	RefreshCron  string        `yaml:"refresh_cron"`
	BacktestCron string        `yaml:"backtest_cron"`
	RunOnStart   bool          `yaml:"run_on_start"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Scheduler owns the cron instance and its tasks.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	l      *applogger.Logger
}

func New(runner Runner, cfg Config) *Scheduler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		// overlapping firings of one task are skipped
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner: runner,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) SetLogger(l *applogger.Logger) { s.l = l }

// Register adds the configured tasks.
func (s *Scheduler) Register() error {
	if s.cfg.RefreshCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.RefreshCron, s.Refresh); err != nil {
			return fmt.Errorf("register refresh task: %w", err)
		}
	}
	if s.cfg.BacktestCron != "" {
		if _, err := s.cron.AddFunc(s.cfg.BacktestCron, s.Backtest); err != nil {
			return fmt.Errorf("register backtest task: %w", err)
		}
	}
	return nil
}

// Start starts the cron loop and optionally runs a refresh right away.
func (s *Scheduler) Start() {
	s.cron.Start()
	if s.l != nil {
		s.l.Info("scheduler started", applogger.Int("tasks", len(s.cron.Entries())))
	}
	if s.cfg.RunOnStart {
		go s.Refresh()
	}
}

// Stop cancels running tasks and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh runs a production estimation over the watchlist.
func (s *Scheduler) Refresh() { s.run("refresh", usecase.RunParams{}) }

// Backtest runs a backtest estimation over the watchlist. Its rows land in the
// store like any other run.
func (s *Scheduler) Backtest() { s.run("backtest", usecase.RunParams{Backtest: true}) }

func (s *Scheduler) run(task string, p usecase.RunParams) {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
	defer cancel()

	report, err := s.runner.Run(ctx, p)
	if s.l == nil {
		return
	}
	switch {
	case errors.Is(err, usecase.ErrRunInProgress):
		s.l.Info("scheduled run skipped", applogger.String("task", task), applogger.Error(err))
	case err != nil:
		s.l.Error("scheduled run failed", applogger.String("task", task), applogger.Error(err))
	default:
		s.l.Info("scheduled run finished",
			applogger.String("task", task),
			applogger.String("run_id", report.RunID),
			applogger.Int("succeeded", len(report.Succeeded)),
			applogger.Int("failures", len(report.Failures)),
		)
	}
}
