package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldcrew/backend/internal/models"
)

var ErrInvalidTimeWindow = errors.New("invalid time window")

const (
	defaultMaxWeeklyHours = 40.0
	nearDailyCapRatio     = 0.9
)

type ConflictKind string

const (
	ConflictSchedule    ConflictKind = "schedule"
	ConflictTimeOff     ConflictKind = "time_off"
	ConflictJobOverlap  ConflictKind = "job_overlap"
	ConflictDailyHours  ConflictKind = "daily_hours"
	ConflictWeeklyHours ConflictKind = "weekly_hours"
)

type Severity string

const (
	SeverityBlocker Severity = "blocker"
	SeverityWarning Severity = "warning"
)

type WarningKind string

const (
	WarningNearDailyCap WarningKind = "near_daily_cap"
	WarningWeekend      WarningKind = "weekend"
)

// ScheduleDetail is set on schedule conflicts.
type ScheduleDetail struct {
	Weekday   string `json:"weekday"`
	DayOff    bool   `json:"day_off"`
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`
}

// TimeOffDetail is set on time_off conflicts.
type TimeOffDetail struct {
	TimeOffID string    `json:"time_off_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason,omitempty"`
}

// OverlapDetail is set on job_overlap conflicts.
type OverlapDetail struct {
	JobID     string `json:"job_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// HoursDetail is set on daily_hours and weekly_hours conflicts.
type HoursDetail struct {
	Scheduled float64 `json:"scheduled"`
	Requested float64 `json:"requested"`
	Cap       float64 `json:"cap"`
}

// Conflict is one availability problem. Exactly one detail pointer is set,
// matching Kind.
type Conflict struct {
	Kind     ConflictKind    `json:"kind"`
	Severity Severity        `json:"severity"`
	Message  string          `json:"message"`
	Schedule *ScheduleDetail `json:"schedule,omitempty"`
	TimeOff  *TimeOffDetail  `json:"time_off,omitempty"`
	Overlap  *OverlapDetail  `json:"overlap,omitempty"`
	Hours    *HoursDetail    `json:"hours,omitempty"`
}

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

type CheckRequest struct {
	WorkerID string
	// JobID, when set, keeps the job from conflicting with itself.
	JobID         string
	Date          time.Time
	StartTime     string
	EndTime       string
	DurationHours float64
	// Pending are jobs placed on the worker earlier in the same run and not
	// yet persisted.
	Pending []models.WorkerJob
}

type Availability struct {
	WorkerID       string     `json:"worker_id"`
	Available      bool       `json:"available"`
	Conflicts      []Conflict `json:"conflicts"`
	Warnings       []Warning  `json:"warnings"`
	DailyHours     float64    `json:"daily_hours"`
	HoursScheduled float64    `json:"hours_scheduled"`
	HoursRemaining float64    `json:"hours_remaining"`
	Score          int        `json:"score"`
}

func (a Availability) HasBlocker() bool {
	for _, c := range a.Conflicts {
		if c.Severity == SeverityBlocker {
			return true
		}
	}
	return false
}

type AvailabilityChecker struct {
	Workers WorkerRepository
	Logger  zerolog.Logger
}

func NewAvailabilityChecker(workers WorkerRepository, logger zerolog.Logger) *AvailabilityChecker {
	return &AvailabilityChecker{
		Workers: workers,
		Logger:  logger.With().Str("component", "availability").Logger(),
	}
}

// CheckAvailability runs every check and accumulates conflicts rather than
// stopping at the first one.
func (c *AvailabilityChecker) CheckAvailability(ctx context.Context, req CheckRequest) (Availability, error) {
	start, end, err := parseWindow(req.StartTime, req.EndTime)
	if err != nil {
		return Availability{}, err
	}
	day := models.DayStart(req.Date)
	out := Availability{
		WorkerID:  req.WorkerID,
		Conflicts: []Conflict{},
		Warnings:  []Warning{},
	}

	if err := c.checkSchedule(ctx, &out, req.WorkerID, day, start, end); err != nil {
		return Availability{}, err
	}
	if err := c.checkTimeOff(ctx, &out, req.WorkerID, day); err != nil {
		return Availability{}, err
	}
	pendingHours, err := c.checkOverlap(ctx, &out, req, day, start, end)
	if err != nil {
		return Availability{}, err
	}
	settings, err := c.checkHours(ctx, &out, req, day, pendingHours)
	if err != nil {
		return Availability{}, err
	}
	if settings != nil && settings.AvoidWeekends && models.IsWeekend(day) {
		out.Warnings = append(out.Warnings, Warning{
			Kind:    WarningWeekend,
			Message: "Worker prefers not to work weekends",
		})
	}

	out.Available = !out.HasBlocker()
	out.Score = availabilityScore(out)
	if !out.Available {
		c.Logger.Debug().
			Str("worker_id", req.WorkerID).
			Str("job_id", req.JobID).
			Int("conflicts", len(out.Conflicts)).
			Msg("worker unavailable")
	}
	return out, nil
}

func (c *AvailabilityChecker) checkSchedule(ctx context.Context, out *Availability, workerID string, day time.Time, start, end int) error {
	ws, err := c.Workers.WeeklySchedule(ctx, workerID, day.Weekday())
	if err != nil {
		return fmt.Errorf("weekly schedule: %w", err)
	}
	if ws == nil {
		return nil
	}
	detail := &ScheduleDetail{Weekday: day.Weekday().String(), StartTime: ws.StartTime, EndTime: ws.EndTime}
	if !ws.IsAvailable {
		detail.DayOff = true
		out.Conflicts = append(out.Conflicts, Conflict{
			Kind:     ConflictSchedule,
			Severity: SeverityBlocker,
			Message:  fmt.Sprintf("Worker does not work on %s", day.Weekday()),
			Schedule: detail,
		})
		return nil
	}
	if ws.StartTime == "" || ws.EndTime == "" {
		return nil
	}
	wsStart, wsEnd, err := parseWindow(ws.StartTime, ws.EndTime)
	if err != nil {
		return fmt.Errorf("weekly schedule for %s: %w", workerID, err)
	}
	if start < wsStart || end > wsEnd {
		out.Conflicts = append(out.Conflicts, Conflict{
			Kind:     ConflictSchedule,
			Severity: SeverityBlocker,
			Message:  fmt.Sprintf("Job falls outside working hours %s-%s", ws.StartTime, ws.EndTime),
			Schedule: detail,
		})
	}
	return nil
}

func (c *AvailabilityChecker) checkTimeOff(ctx context.Context, out *Availability, workerID string, day time.Time) error {
	records, err := c.Workers.ApprovedTimeOff(ctx, workerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("time off: %w", err)
	}
	for _, r := range records {
		if models.DayStart(r.StartDate).After(day) || models.DayStart(r.EndDate).Before(day) {
			continue
		}
		out.Conflicts = append(out.Conflicts, Conflict{
			Kind:     ConflictTimeOff,
			Severity: SeverityBlocker,
			Message:  fmt.Sprintf("Approved time off %s to %s", r.StartDate.Format(time.DateOnly), r.EndDate.Format(time.DateOnly)),
			TimeOff: &TimeOffDetail{
				TimeOffID: r.ID,
				StartDate: r.StartDate,
				EndDate:   r.EndDate,
				Reason:    r.Reason,
			},
		})
	}
	return nil
}

// checkOverlap returns the hours of pending jobs on day so the hour caps see them.
func (c *AvailabilityChecker) checkOverlap(ctx context.Context, out *Availability, req CheckRequest, day time.Time, start, end int) (float64, error) {
	existing, err := c.Workers.WorkerJobsOn(ctx, req.WorkerID, day)
	if err != nil {
		return 0, fmt.Errorf("worker jobs: %w", err)
	}
	pendingHours := 0.0
	jobs := make([]models.WorkerJob, 0, len(existing)+len(req.Pending))
	jobs = append(jobs, existing...)
	for _, p := range req.Pending {
		if !models.DayStart(p.Date).Equal(day) {
			continue
		}
		pendingHours += p.DurationHours
		jobs = append(jobs, p)
	}

	for _, j := range jobs {
		if req.JobID != "" && j.JobID == req.JobID {
			continue
		}
		es, ee, err := parseWindow(j.StartTime, j.EndTime)
		if err != nil {
			c.Logger.Debug().Str("job_id", j.JobID).Err(err).Msg("skipping job with unusable times")
			continue
		}
		if !intervalsOverlap(start, end, es, ee) {
			continue
		}
		out.Conflicts = append(out.Conflicts, Conflict{
			Kind:     ConflictJobOverlap,
			Severity: SeverityBlocker,
			Message:  fmt.Sprintf("Overlaps job %s (%s-%s)", j.JobID, j.StartTime, j.EndTime),
			Overlap:  &OverlapDetail{JobID: j.JobID, StartTime: j.StartTime, EndTime: j.EndTime},
		})
	}
	return pendingHours, nil
}

func (c *AvailabilityChecker) checkHours(ctx context.Context, out *Availability, req CheckRequest, day time.Time, pendingHours float64) (*models.HourSettings, error) {
	daily, err := c.Workers.WorkerHoursBetween(ctx, req.WorkerID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("daily hours: %w", err)
	}
	week := models.WeekStart(day)
	weekly, err := c.Workers.WorkerHoursBetween(ctx, req.WorkerID, week, week.AddDate(0, 0, 7))
	if err != nil {
		return nil, fmt.Errorf("weekly hours: %w", err)
	}
	daily += pendingHours
	weekly += pendingHours
	out.DailyHours = daily
	out.HoursScheduled = weekly

	settings, err := c.Workers.WorkerSettings(ctx, req.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("worker settings: %w", err)
	}
	maxWeekly := defaultMaxWeeklyHours
	if settings != nil && settings.MaxWeeklyHours > 0 {
		maxWeekly = settings.MaxWeeklyHours
	}
	out.HoursRemaining = math.Max(0, maxWeekly-weekly-req.DurationHours)

	if settings == nil {
		return nil, nil
	}

	if settings.MaxDailyHours > 0 {
		after := daily + req.DurationHours
		switch {
		case after > settings.MaxDailyHours:
			out.Conflicts = append(out.Conflicts, Conflict{
				Kind:     ConflictDailyHours,
				Severity: SeverityBlocker,
				Message:  fmt.Sprintf("Would work %.1fh, daily cap is %.1fh", after, settings.MaxDailyHours),
				Hours:    &HoursDetail{Scheduled: daily, Requested: req.DurationHours, Cap: settings.MaxDailyHours},
			})
		case after >= settings.MaxDailyHours*nearDailyCapRatio:
			out.Warnings = append(out.Warnings, Warning{
				Kind:    WarningNearDailyCap,
				Message: fmt.Sprintf("Within 90%% of daily cap (%.1fh of %.1fh)", after, settings.MaxDailyHours),
			})
		}
	}

	if after := weekly + req.DurationHours; after > maxWeekly {
		out.Conflicts = append(out.Conflicts, Conflict{
			Kind:     ConflictWeeklyHours,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("Would work %.1fh this week, weekly cap is %.1fh", after, maxWeekly),
			Hours:    &HoursDetail{Scheduled: weekly, Requested: req.DurationHours, Cap: maxWeekly},
		})
	}
	return settings, nil
}

func availabilityScore(a Availability) int {
	if a.HasBlocker() {
		return 0
	}
	score := 100 - 10*len(a.Warnings)
	switch {
	case a.HoursRemaining < 5:
		score -= 20
	case a.HoursRemaining < 10:
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

func parseWindow(startTime, endTime string) (int, int, error) {
	start, err := models.ParseClock(startTime)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidTimeWindow, err)
	}
	end, err := models.ParseClock(endTime)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrInvalidTimeWindow, err)
	}
	if end <= start {
		return 0, 0, fmt.Errorf("%w: %s-%s", ErrInvalidTimeWindow, startTime, endTime)
	}
	return start, end, nil
}

// intervalsOverlap reports whether [s1,e1) and [s2,e2) intersect: the new
// interval starts during the existing one, ends during it, or contains it.
func intervalsOverlap(s1, e1, s2, e2 int) bool {
	startsDuring := s1 >= s2 && s1 < e2
	endsDuring := e1 > s2 && e1 <= e2
	contains := s1 <= s2 && e1 >= e2
	return startsDuring || endsDuring || contains
}
