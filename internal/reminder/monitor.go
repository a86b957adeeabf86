// Package reminder fires local clock-in and clock-out reminders from the
// user's work schedule, at most once per reminder per day.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/fichador/internal/model"
)

const (
	offsetMinutes    = 5
	toleranceMinutes = 1
)

// Notifier surfaces a local reminder.
type Notifier interface {
	Notify(ctx context.Context, title, body, tag string) error
}

type candidate struct {
	minute int
	tag    string
	title  string
	body   string
}

// Monitor polls the clock against a schedule snapshot.
type Monitor struct {
	mu        sync.Mutex
	ledger    *Ledger
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
	interval  time.Duration
	schedules []model.ScheduleEntry
	active    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewMonitor(ledger *Ledger, notifier Notifier, logger *slog.Logger) *Monitor {
	return &Monitor{
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
		interval: 60 * time.Second,
	}
}

// Start replaces any running monitor, evaluates once, then re-evaluates
// every interval. An empty schedule leaves the monitor stopped.
func (m *Monitor) Start(ctx context.Context, schedules []model.ScheduleEntry, hasActiveRecord bool) {
	m.Stop()

	if len(schedules) == 0 {
		return
	}

	m.mu.Lock()
	m.schedules = append([]model.ScheduleEntry(nil), schedules...)
	m.active = hasActiveRecord
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.logger.Info("monitor started", "entries", len(schedules), "has_active_record", hasActiveRecord)
	m.evaluate(ctx)

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evaluate(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit. No evaluation runs after
// Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.schedules = nil
	m.active = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Running reports whether a monitor loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

// evaluate runs one tick and returns how many reminders fired.
func (m *Monitor) evaluate(ctx context.Context) int {
	m.mu.Lock()
	schedules := m.schedules
	active := m.active
	m.mu.Unlock()

	if ctx.Err() != nil {
		return 0
	}

	now := m.now()
	bucket := BucketKey(now)
	weekday := now.Weekday()
	minutes := now.Hour()*60 + now.Minute()

	seen, err := m.ledger.Bucket(bucket)
	if err != nil {
		m.logger.Warn("ledger unreadable, treating as not fired", "error", err)
	}

	fired := 0
	for _, e := range schedules {
		if e.DayOfWeek < 0 || e.DayOfWeek > 6 {
			continue
		}
		// Server days start on Monday; time.Weekday starts on Sunday.
		if time.Weekday((e.DayOfWeek+1)%7) != weekday {
			continue
		}

		start, err := parseClock(e.StartTime)
		if err != nil {
			m.logger.Warn("skip schedule entry", "start_time", e.StartTime, "error", err)
			continue
		}
		end, err := parseClock(e.EndTime)
		if err != nil {
			m.logger.Warn("skip schedule entry", "end_time", e.EndTime, "error", err)
			continue
		}

		for _, c := range candidates(e, start, end, active) {
			if abs(minutes-c.minute) > toleranceMinutes {
				continue
			}
			key := TriggerKey(c.tag, e.StartTime, e.EndTime)
			if seen[key] {
				continue
			}
			seen[key] = true

			// Mark before rendering: a crash in between loses one reminder
			// instead of repeating it.
			if err := m.ledger.Mark(bucket, key); err != nil {
				m.logger.Warn("persist reminder mark", "key", key, "error", err)
			}
			if err := m.notifier.Notify(ctx, c.title, c.body, c.tag); err != nil {
				m.logger.Warn("show reminder", "key", key, "error", err)
			}
			m.logger.Info("reminder fired", "key", key, "bucket", bucket)
			fired++
		}
	}
	return fired
}

func candidates(e model.ScheduleEntry, start, end int, active bool) []candidate {
	if !active {
		return []candidate{
			{start - offsetMinutes, "entry-early", "⏰ Fichar entrada", fmt.Sprintf("En 5 min (%s)", e.StartTime)},
			{start + offsetMinutes, "entry-late", "⚠️ Recuerda fichar", fmt.Sprintf("Pasaron 5 min (%s)", e.StartTime)},
		}
	}
	return []candidate{
		{end - offsetMinutes, "exit-early", "⏰ Fichar salida", fmt.Sprintf("En 5 min (%s)", e.EndTime)},
		{end + offsetMinutes, "exit-late", "⚠️ Recuerda fichar salida", fmt.Sprintf("Pasaron 5 min (%s)", e.EndTime)},
	}
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	// Seconds, as in "09:00:00", are ignored.
	mm, _, _ = strings.Cut(mm, ":")
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
