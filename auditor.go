package tally

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// startAuditor schedules RunAudit when an audit schedule is configured.
func (l *Ledger) startAuditor() error {
	if l.auditSchedule == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scheduler != nil {
		return nil
	}

	logger := cronLogger{l.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(l.auditSchedule, l.scheduledAudit); err != nil {
		return fmt.Errorf("%w: audit schedule %q: %w", ErrInvalidInput, l.auditSchedule, err)
	}
	c.Start()
	l.scheduler = c
	return nil
}

// stopAuditor stops the scheduler and waits for a running audit to finish.
func (l *Ledger) stopAuditor() {
	l.mu.Lock()
	c := l.scheduler
	l.scheduler = nil
	l.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (l *Ledger) scheduledAudit() {
	ctx, cancel := context.WithTimeout(context.Background(), l.auditTimeout)
	defer cancel()

	if _, err := l.RunAudit(ctx); err != nil {
		l.logger.Error("scheduled audit failed", "error", err)
	}
}

// cronLogger routes cron's logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug("audit scheduler: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error("audit scheduler: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
