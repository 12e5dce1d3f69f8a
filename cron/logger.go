package cron

import (
	"log/slog"

	cronlib "github.com/robfig/cron/v3"
)

// slogAdapter lets robfig/cron log through slog. Its routine wake-up
// chatter goes to debug.
type slogAdapter struct {
	logger *slog.Logger
}

var _ cronlib.Logger = slogAdapter{}

func (a slogAdapter) Info(msg string, keysAndValues ...any) {
	a.logger.Debug("cron: "+msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...any) {
	a.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
