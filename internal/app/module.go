package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/engine/verification"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/scheduler"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const (
	watchdogTask       = "verification-watchdog"
	completionPollTask = "completion-poll"
)

// RegisterTasks schedules the verification watchdog and the completion poll.
// An empty watchdog schedule or a non-positive polling interval disables the task.
func RegisterTasks(s *scheduler.Scheduler, w *verification.Watchdog, op *usecase.DefaultProcessOperator, cfg *config.Config) error {
	cf := cfg.Caseflow
	if spec := cf.Verification.WatchdogSchedule; spec != "" {
		if err := s.Add(watchdogTask, spec, w.Run); err != nil {
			return err
		}
		logger.Infof("Verification watchdog scheduled (%s).", spec)
	}
	if secs := cf.Batch.PollingIntervalSeconds; secs > 0 {
		if err := s.Add(completionPollTask, fmt.Sprintf("@every %ds", secs), op.PollCompletion); err != nil {
			return err
		}
		logger.Debugf("Completion poll scheduled every %ds.", secs)
	}
	return nil
}

// RecoverOnStart resumes the processes left IN_PROGRESS by a previous run
// once the queue workers are up.
func RecoverOnStart(lc fx.Lifecycle, op *usecase.DefaultProcessOperator) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := op.RecoverInterrupted(ctx); err != nil {
				logger.Warnf("Startup recovery incomplete: %v", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Infof("Application is shutting down.")
			return nil
		},
	})
}

// ApplyLogLevel applies system.logging.level before the other components log.
func ApplyLogLevel(cfg *config.Config) {
	logger.SetLogLevel(cfg.Caseflow.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Caseflow.System.Logging.Level)
}

// Module holds the application-level hooks.
var Module = fx.Options(
	fx.Invoke(RegisterTasks),
	fx.Invoke(RecoverOnStart),
)
