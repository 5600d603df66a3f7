package service

import (
	"sort"
	"time"

	"github.com/fieldcrew/backend/internal/distance"
	"github.com/fieldcrew/backend/internal/models"
)

// ScheduledStop is a job placed on a worker during the current run.
type ScheduledStop struct {
	JobID         string
	Start         int
	End           int
	DurationHours float64
	Location      *models.Coordinates
	Zone          string
	RouteOrder    int
	DriveMinutes  int
}

// WorkerDaySchedule is one worker's running schedule for a run.
type WorkerDaySchedule struct {
	WorkerID        string
	Jobs            []ScheduledStop
	CurrentLocation *models.Coordinates
	Hours           float64
	DriveMinutes    int

	zones map[string]struct{}
}

func (w *WorkerDaySchedule) LastStop() *ScheduledStop {
	if w == nil || len(w.Jobs) == 0 {
		return nil
	}
	return &w.Jobs[len(w.Jobs)-1]
}

func (w *WorkerDaySchedule) WorkedZone(zone string) bool {
	if w == nil || zone == "" {
		return false
	}
	_, ok := w.zones[zone]
	return ok
}

// Pending converts the run's stops into calendar entries for availability checks.
func (w *WorkerDaySchedule) Pending(date time.Time) []models.WorkerJob {
	if w == nil || len(w.Jobs) == 0 {
		return nil
	}
	out := make([]models.WorkerJob, 0, len(w.Jobs))
	for _, s := range w.Jobs {
		out = append(out, models.WorkerJob{
			JobID:         s.JobID,
			Date:          date,
			StartTime:     models.FormatClock(s.Start),
			EndTime:       models.FormatClock(s.End),
			DurationHours: s.DurationHours,
		})
	}
	return out
}

// RunState is the mutable state of a single scheduling run. It is owned by
// the run loop and is not safe for concurrent mutation.
type RunState struct {
	Date    time.Time
	workers map[string]*WorkerDaySchedule
	ids     []string
}

func NewRunState(date time.Time, workers []models.Worker) *RunState {
	r := &RunState{
		Date:    models.DayStart(date),
		workers: make(map[string]*WorkerDaySchedule, len(workers)),
		ids:     make([]string, 0, len(workers)),
	}
	for _, w := range workers {
		if _, ok := r.workers[w.ID]; ok {
			continue
		}
		ws := &WorkerDaySchedule{WorkerID: w.ID, zones: map[string]struct{}{}}
		if w.Home != nil {
			home := *w.Home
			ws.CurrentLocation = &home
		}
		r.workers[w.ID] = ws
		r.ids = append(r.ids, w.ID)
	}
	return r
}

func (r *RunState) Worker(id string) *WorkerDaySchedule {
	if r == nil {
		return nil
	}
	return r.workers[id]
}

// MeanHours is the average hours assigned this run across all workers.
func (r *RunState) MeanHours() float64 {
	if r == nil || len(r.ids) == 0 {
		return 0
	}
	total := 0.0
	for _, id := range r.ids {
		total += r.workers[id].Hours
	}
	return total / float64(len(r.ids))
}

// Assign appends job to the worker's schedule and advances the worker's
// location. It returns the stop's route position (1-based) and the formula
// drive time from the worker's previous location, 0 when either end is unknown.
func (r *RunState) Assign(workerID string, job models.Job, start, end int) (int, int) {
	ws := r.workers[workerID]
	if ws == nil {
		ws = &WorkerDaySchedule{WorkerID: workerID, zones: map[string]struct{}{}}
		r.workers[workerID] = ws
		r.ids = append(r.ids, workerID)
	}
	drive := 0
	if ws.CurrentLocation != nil && job.Location != nil {
		drive = distance.Formula(*ws.CurrentLocation, *job.Location).DurationMinutes
	}
	stop := ScheduledStop{
		JobID:         job.ID,
		Start:         start,
		End:           end,
		DurationHours: job.DurationHours,
		Zone:          job.Zone,
		RouteOrder:    len(ws.Jobs) + 1,
		DriveMinutes:  drive,
	}
	if job.Location != nil {
		loc := *job.Location
		stop.Location = &loc
		ws.CurrentLocation = &loc
	}
	ws.Jobs = append(ws.Jobs, stop)
	ws.Hours += job.DurationHours
	ws.DriveMinutes += drive
	if job.Zone != "" {
		ws.zones[job.Zone] = struct{}{}
	}
	return stop.RouteOrder, drive
}

// Snapshot returns worker schedules sorted by id, for logging and tests.
func (r *RunState) Snapshot() []WorkerDaySchedule {
	ids := append([]string(nil), r.ids...)
	sort.Strings(ids)
	out := make([]WorkerDaySchedule, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.workers[id])
	}
	return out
}
