package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormAdapter routes gorm's logging into a module Logger. Statements go to
// TRACE, slow statements and failures to WARN.
type GormAdapter struct {
	log           Logger
	slowThreshold time.Duration
}

// NewGormAdapter wraps log for use as gorm.Config.Logger.
// A zero slowThreshold disables slow-statement warnings.
func NewGormAdapter(log Logger, slowThreshold time.Duration) *GormAdapter {
	if log == nil {
		log = NewDiscardLogger()
	}
	return &GormAdapter{log: log, slowThreshold: slowThreshold}
}

// LogMode is ignored; levels come from the module configuration.
func (a *GormAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface { return a }

func (a *GormAdapter) Info(_ context.Context, msg string, data ...any) {
	a.log.Debug(fmt.Sprintf(msg, data...))
}

func (a *GormAdapter) Warn(_ context.Context, msg string, data ...any) {
	a.log.Warn(fmt.Sprintf(msg, data...))
}

func (a *GormAdapter) Error(_ context.Context, msg string, data ...any) {
	a.log.Error(fmt.Sprintf(msg, data...))
}

// Trace is called by gorm after each statement.
func (a *GormAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	stmt, rows := fc()
	fields := []Field{String("sql", stmt), Int64("rows", rows), Duration("elapsed", elapsed)}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		a.log.Warn("statement failed", append(fields, Error(err))...)
	case a.slowThreshold > 0 && elapsed > a.slowThreshold:
		a.log.Warn("slow statement", fields...)
	default:
		a.log.Trace("statement", fields...)
	}
}
