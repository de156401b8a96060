package scheduler

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var timeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Scheduler runs named maintenance jobs with timezone support.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	logger   *slog.Logger
	mu       sync.Mutex
	entries  map[string]cron.EntryID
	started  bool
}

// NewScheduler creates a new scheduler for the given timezone.
func NewScheduler(timezone string, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc), cron.WithChain(cron.Recover(cronLogger{logger}))),
		location: loc,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
	}, nil
}

// Schedule registers fn under name, replacing a previous job of the same name.
// when is either a daily time (HH:MM) or a standard five-field cron expression
// such as "@every 1h" or "30 3 * * *".
func (s *Scheduler) Schedule(name, when string, fn func()) error {
	spec, err := cronSpec(when)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}

	id, err := s.cron.AddFunc(spec, func() {
		started := time.Now()
		fn()
		s.logger.Debug("scheduled job finished", "job", name, "duration", time.Since(started))
	})
	if err != nil {
		return fmt.Errorf("add cron job %s: %w", name, err)
	}
	s.entries[name] = id
	s.logger.Info("job scheduled", "job", name, "when", when)

	return nil
}

// Next reports when the named job runs next. It is zero before Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		<-s.cron.Stop().Done()
		s.started = false
	}
}

// cronLogger routes cron's own messages, including recovered panics, to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

func cronSpec(when string) (string, error) {
	if timeRegex.MatchString(when) {
		hour, minute, err := parseTime(when)
		if err != nil {
			return "", err
		}
		return buildCronSpec(hour, minute), nil
	}
	if _, err := cron.ParseStandard(when); err != nil {
		return "", fmt.Errorf("invalid schedule %q (expected HH:MM or a cron expression): %w", when, err)
	}
	return when, nil
}

func parseTime(timeStr string) (int, int, error) {
	matches := timeRegex.FindStringSubmatch(timeStr)
	if len(matches) != 3 {
		return 0, 0, fmt.Errorf("invalid time format: %q (expected HH:MM)", timeStr)
	}

	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])

	return hour, minute, nil
}

func buildCronSpec(hour, minute int) string {
	// Cron format: minute hour day month weekday
	return fmt.Sprintf("%d %d * * *", minute, hour)
}
