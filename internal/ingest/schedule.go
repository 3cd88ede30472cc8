package ingest

import (
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"

	"cu-log-sync/config"
)

// Schedule computes when the next run starts.
type Schedule interface {
	// Next returns the first activation strictly after t, or the zero time if there is none.
	Next(t time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time { return t.Add(s.every) }

func (s intervalSchedule) String() string { return fmt.Sprintf("every %s", s.every) }

type cronSchedule struct {
	line string
	expr *cronexpr.Expression
	loc  *time.Location
}

func (s cronSchedule) Next(t time.Time) time.Time { return s.expr.Next(t.In(s.loc)) }

func (s cronSchedule) String() string { return fmt.Sprintf("cron %q (%s)", s.line, s.loc) }

// NewSchedule builds the schedule described by cfg. A cron expression wins over
// daily_at, which wins over interval_minutes.
func NewSchedule(cfg config.ScheduleConfig) (Schedule, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule timezone %q: %w", cfg.Timezone, err)
	}

	line := cfg.Cron
	if line == "" && cfg.DailyAt != "" {
		hour, minute, err := config.ParseClock(cfg.DailyAt)
		if err != nil {
			return nil, err
		}
		line = fmt.Sprintf("%d %d * * *", minute, hour)
	}
	if line != "" {
		expr, err := cronexpr.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", line, err)
		}
		return cronSchedule{line: line, expr: expr, loc: loc}, nil
	}

	if cfg.IntervalMinutes <= 0 {
		return nil, fmt.Errorf("no schedule configured")
	}
	return intervalSchedule{every: time.Duration(cfg.IntervalMinutes) * time.Minute}, nil
}
