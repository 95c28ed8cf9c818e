package daemon

import (
	"fmt"

	"github.com/harun/ccserver/internal/config"
	"github.com/harun/ccserver/pkg/session"
	"github.com/harun/ccserver/pkg/tasks"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// newScheduler registers the periodic task and session cleanup jobs
func newScheduler(cfg *config.Config, taskManager *tasks.Manager, sessions *session.Manager, logger zerolog.Logger) (*cron.Cron, error) {
	scheduler := cron.New(cron.WithLogger(&cronLogger{logger: logger}))

	maxTaskAge := cfg.Tasks.MaxTaskAge()
	if _, err := scheduler.AddFunc(cfg.Tasks.CleanupSchedule, func() {
		taskManager.Cleanup(maxTaskAge)
	}); err != nil {
		return nil, fmt.Errorf("invalid task cleanup schedule %q: %w", cfg.Tasks.CleanupSchedule, err)
	}

	ttl := cfg.Session.TTL()
	if _, err := scheduler.AddFunc(cfg.Session.CleanupSchedule, func() {
		sessions.CleanupExpired(ttl)
	}); err != nil {
		return nil, fmt.Errorf("invalid session cleanup schedule %q: %w", cfg.Session.CleanupSchedule, err)
	}

	return scheduler, nil
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	withFields(l.logger.Debug(), keysAndValues).Msg(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	withFields(l.logger.Error().Err(err), keysAndValues).Msg(msg)
}

func withFields(ev *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, keysAndValues[i+1])
	}
	return ev
}
