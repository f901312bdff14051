package jobs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/marketjobs/pkg/queue"
)

// Recurring entry names. They double as the scheduler dedupe keys.
const (
	ScheduleDailyReports         = "daily-reports"
	ScheduleWeeklyReports        = "weekly-reports"
	ScheduleAnalyticsAggregation = "analytics-aggregation"
)

// Schedule configures one recurring job.
type Schedule struct {
	Name       string   `yaml:"name"`
	Cron       string   `yaml:"cron"`
	Timezone   string   `yaml:"timezone,omitempty"`
	Disabled   bool     `yaml:"disabled,omitempty"`
	ReportType string   `yaml:"report_type,omitempty"`
	Format     string   `yaml:"format,omitempty"`
	Recipients []string `yaml:"recipients,omitempty"`
}

type scheduleFile struct {
	Recurring []Schedule `yaml:"recurring"`
}

// DefaultSchedules returns the marketplace defaults: daily reports at 06:00
// UTC, weekly reports on Monday at 08:00 UTC and hourly analytics roll-ups.
func DefaultSchedules(recipients []string) []Schedule {
	return []Schedule{
		{
			Name:       ScheduleDailyReports,
			Cron:       "0 6 * * *",
			Timezone:   "UTC",
			ReportType: ReportAll,
			Format:     FormatPDF,
			Recipients: recipients,
		},
		{
			Name:       ScheduleWeeklyReports,
			Cron:       "0 8 * * 1",
			Timezone:   "UTC",
			ReportType: ReportAll,
			Format:     FormatPDF,
			Recipients: recipients,
		},
		{
			Name:     ScheduleAnalyticsAggregation,
			Cron:     "0 * * * *",
			Timezone: "UTC",
		},
	}
}

// Queue returns the queue a schedule enqueues into, or "" for unknown names.
func (s Schedule) Queue() string {
	switch s.Name {
	case ScheduleDailyReports:
		return QueueDailyReports
	case ScheduleWeeklyReports:
		return QueueWeeklyReports
	case ScheduleAnalyticsAggregation:
		return QueueAnalytics
	}
	return ""
}

// Runnable reports whether the schedule is enabled and complete enough to
// register. Report schedules need at least one recipient.
func (s Schedule) Runnable() bool {
	if s.Disabled || s.Queue() == "" {
		return false
	}
	if s.Queue() == QueueDailyReports || s.Queue() == QueueWeeklyReports {
		return len(s.Recipients) > 0
	}
	return true
}

// LoadSchedules applies the YAML overrides in r on top of base. Entries are
// matched by name; only fields present in the override replace the base.
func LoadSchedules(r io.Reader, base []Schedule) ([]Schedule, error) {
	var file scheduleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}

	out := make([]Schedule, len(base))
	copy(out, base)

	for _, o := range file.Recurring {
		i := indexOf(out, o.Name)
		if i < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScheduleEntry, o.Name)
		}
		out[i] = merge(out[i], o)
	}
	return out, nil
}

// LoadSchedulesFile is LoadSchedules over the file at path. An empty path
// returns base unchanged.
func LoadSchedulesFile(path string, base []Schedule) ([]Schedule, error) {
	if path == "" {
		return base, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recurring schedule file: %w", err)
	}
	defer f.Close()
	return LoadSchedules(f, base)
}

// RecurringJobs converts enabled schedules into scheduler registrations.
func RecurringJobs(schedules []Schedule) ([]queue.Recurring, error) {
	var out []queue.Recurring
	for _, s := range schedules {
		if s.Disabled {
			continue
		}

		loc := time.UTC
		if s.Timezone != "" {
			l, err := time.LoadLocation(s.Timezone)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidSchedule, s.Name, err)
			}
			loc = l
		}

		rec := queue.Recurring{
			Cron:      s.Cron,
			DedupeKey: s.Name,
			Location:  loc,
		}

		switch s.Name {
		case ScheduleDailyReports:
			if len(s.Recipients) == 0 {
				return nil, fmt.Errorf("%w: %s has no recipients", ErrInvalidSchedule, s.Name)
			}
			rec.Queue, rec.JobType = QueueDailyReports, TypeGenerateDailyReport
			rec.Payload = dailyReportPayload(s)
		case ScheduleWeeklyReports:
			if len(s.Recipients) == 0 {
				return nil, fmt.Errorf("%w: %s has no recipients", ErrInvalidSchedule, s.Name)
			}
			rec.Queue, rec.JobType = QueueWeeklyReports, TypeGenerateWeeklyReport
			rec.Payload = weeklyReportPayload(s)
		case ScheduleAnalyticsAggregation:
			rec.Queue, rec.JobType = QueueAnalytics, TypeAggregateAnalytics
			rec.Payload = func(firedAt time.Time) any {
				return AnalyticsAggregate{Hour: firedAt.UTC().Truncate(time.Hour).Add(-time.Hour)}
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownScheduleEntry, s.Name)
		}

		out = append(out, rec)
	}
	return out, nil
}

// dailyReportPayload reports on the day before the firing.
func dailyReportPayload(s Schedule) func(time.Time) any {
	return func(firedAt time.Time) any {
		return ReportPayload{
			Date:       firedAt.AddDate(0, 0, -1).Format(DateLayout),
			ReportType: s.ReportType,
			Recipients: s.Recipients,
			Format:     s.Format,
		}
	}
}

// weeklyReportPayload reports on the seven days before the firing.
func weeklyReportPayload(s Schedule) func(time.Time) any {
	return func(firedAt time.Time) any {
		return ReportPayload{
			WeekStart:  firedAt.AddDate(0, 0, -7).Format(DateLayout),
			WeekEnd:    firedAt.AddDate(0, 0, -1).Format(DateLayout),
			ReportType: s.ReportType,
			Recipients: s.Recipients,
			Format:     s.Format,
		}
	}
}

func indexOf(schedules []Schedule, name string) int {
	for i, s := range schedules {
		if s.Name == name {
			return i
		}
	}
	return -1
}

func merge(base, o Schedule) Schedule {
	if o.Cron != "" {
		base.Cron = o.Cron
	}
	if o.Timezone != "" {
		base.Timezone = o.Timezone
	}
	if o.ReportType != "" {
		base.ReportType = o.ReportType
	}
	if o.Format != "" {
		base.Format = o.Format
	}
	if len(o.Recipients) > 0 {
		base.Recipients = o.Recipients
	}
	base.Disabled = o.Disabled
	return base
}
