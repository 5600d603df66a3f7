package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fieldcrew/backend/internal/geocode"
	"github.com/fieldcrew/backend/internal/metrics"
	"github.com/fieldcrew/backend/internal/models"
)

const (
	ProposalStatusDraft = "draft"

	defaultGeocodeBatchSize = 5
	defaultJobStart         = 8 * 60
)

// Fixed breakdown recorded for crew assignments. Crews are trusted as a unit
// and are not run through the scoring engine.
var crewBaseline = models.ScoreBreakdown{SLA: 25, Route: 20, Continuity: 20, Balance: 20}

// Checker is the availability check the scheduler fans out per worker.
type Checker interface {
	CheckAvailability(ctx context.Context, req CheckRequest) (Availability, error)
}

type Options struct {
	JobIDs           []string `json:"job_ids,omitempty"`
	ExcludeWorkerIDs []string `json:"exclude_worker_ids,omitempty"`
	CreatedBy        string   `json:"created_by,omitempty"`
}

type Engine struct {
	Jobs         JobRepository
	Workers      WorkerRepository
	Crews        CrewRepository
	Proposals    ProposalSink
	Availability Checker
	Scoring      *ScoringEngine
	// Geocoder may be nil, in which case jobs without coordinates keep
	// default route scores.
	Geocoder         geocode.Geocoder
	Logger           zerolog.Logger
	GeocodeBatchSize int
	Now              func() time.Time
}

// ScheduleJobsForDate runs one greedy scheduling pass over the provider's
// jobs for date and persists the resulting proposal. Any store failure
// aborts the run: the returned result has Success=false, the error message
// and empty lists, and nothing is persisted.
func (e *Engine) ScheduleJobsForDate(ctx context.Context, providerID string, date time.Time, opts Options) (models.ScheduleResult, error) {
	started := time.Now()
	logger := e.Logger.With().Str("component", "scheduler").Str("provider_id", providerID).Str("date", date.Format(time.DateOnly)).Logger()

	res, err := e.run(ctx, logger, providerID, models.DayStart(date), opts)
	metrics.ScheduleDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.ScheduleRuns.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("scheduling run failed")
		return models.ScheduleResult{
			Success:     false,
			Assignments: []models.ProposedAssignment{},
			Unassigned:  []models.UnassignedJob{},
			Errors:      []string{err.Error()},
		}, err
	}
	metrics.ScheduleRuns.WithLabelValues("success").Inc()
	logger.Info().
		Int("jobs", res.Stats.TotalJobs).
		Int("assigned", res.Stats.AssignedJobs).
		Int("unassigned", res.Stats.UnassignedJobs).
		Str("proposal_id", res.ProposalID).
		Dur("elapsed", time.Since(started)).
		Msg("scheduling run complete")
	return res, nil
}

func (e *Engine) run(ctx context.Context, logger zerolog.Logger, providerID string, day time.Time, opts Options) (models.ScheduleResult, error) {
	if e.Jobs == nil || e.Workers == nil || e.Crews == nil || e.Availability == nil || e.Scoring == nil {
		return models.ScheduleResult{}, errors.New("scheduler is not fully configured")
	}

	jobs, err := e.loadJobs(ctx, providerID, day, opts)
	if err != nil {
		return models.ScheduleResult{}, err
	}
	res := models.ScheduleResult{
		Success:     true,
		Assignments: []models.ProposedAssignment{},
		Unassigned:  []models.UnassignedJob{},
	}
	if len(jobs) == 0 {
		logger.Info().Msg("no jobs to schedule")
		return res, nil
	}

	workers, err := e.Workers.ListActiveWorkers(ctx, providerID, opts.ExcludeWorkerIDs)
	if err != nil {
		return models.ScheduleResult{}, fmt.Errorf("load workers: %w", err)
	}

	e.geocodeMissing(ctx, logger, jobs)

	crews, err := e.Crews.ListCrews(ctx, providerID)
	if err != nil {
		return models.ScheduleResult{}, fmt.Errorf("load crews: %w", err)
	}
	serviceTypes, err := e.Jobs.ListServiceTypes(ctx, providerID)
	if err != nil {
		return models.ScheduleResult{}, fmt.Errorf("load service types: %w", err)
	}
	weightsByService := indexServiceTypes(serviceTypes)

	run := NewRunState(day, workers)
	workerByID := make(map[string]models.Worker, len(workers))
	for _, w := range workers {
		workerByID[w.ID] = w
	}

	// Jobs are placed strictly in order: each evaluation reads the run
	// state left by the jobs before it.
	for _, job := range jobs {
		start, end, err := jobWindow(job)
		if err != nil {
			res.Unassigned = append(res.Unassigned, models.UnassignedJob{JobID: job.ID, Reasons: []string{err.Error()}})
			metrics.Assignments.WithLabelValues("unassigned").Inc()
			continue
		}
		if job.DurationHours <= 0 {
			job.DurationHours = float64(end-start) / 60
		}

		if job.CrewSizeRequired >= 2 {
			a, ok, err := e.tryCrews(ctx, logger, job, start, end, crews, workerByID, run)
			if err != nil {
				return models.ScheduleResult{}, err
			}
			if ok {
				res.Assignments = append(res.Assignments, a)
				metrics.Assignments.WithLabelValues("crew").Inc()
				continue
			}
		}

		a, reasons, err := e.tryIndividuals(ctx, logger, job, start, end, workers, weightsByService, run)
		if err != nil {
			return models.ScheduleResult{}, err
		}
		if a == nil {
			res.Unassigned = append(res.Unassigned, models.UnassignedJob{JobID: job.ID, Reasons: reasons})
			metrics.Assignments.WithLabelValues("unassigned").Inc()
			continue
		}
		res.Assignments = append(res.Assignments, *a)
		metrics.Assignments.WithLabelValues("individual").Inc()
	}

	res.Stats = summarize(len(jobs), res.Assignments)
	if e.Proposals != nil {
		id, err := e.Proposals.CreateProposal(ctx, models.Proposal{
			ProviderID:        providerID,
			Date:              day,
			Status:            ProposalStatusDraft,
			TotalJobs:         res.Stats.TotalJobs,
			AssignedJobs:      res.Stats.AssignedJobs,
			TotalDriveMinutes: res.Stats.TotalDriveMinutes,
			AverageScore:      res.Stats.AverageScore,
			CreatedBy:         opts.CreatedBy,
			CreatedAt:         e.now().UTC(),
			Assignments:       res.Assignments,
			Unassigned:        res.Unassigned,
		})
		if err != nil {
			return models.ScheduleResult{}, fmt.Errorf("save proposal: %w", err)
		}
		res.ProposalID = id
	}
	return res, nil
}

func (e *Engine) loadJobs(ctx context.Context, providerID string, day time.Time, opts Options) ([]models.Job, error) {
	var (
		jobs []models.Job
		err  error
	)
	if len(opts.JobIDs) > 0 {
		jobs, err = e.Jobs.ListJobsByIDs(ctx, providerID, opts.JobIDs)
	} else {
		jobs, err = e.Jobs.ListSchedulableJobs(ctx, providerID, day)
	}
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	seen := make(map[string]struct{}, len(jobs))
	out := jobs[:0]
	for _, job := range jobs {
		if _, dup := seen[job.ID]; dup {
			continue
		}
		seen[job.ID] = struct{}{}
		if job.Zone == "" {
			job.Zone = models.ZoneForPostalCode(job.ZipCode)
		}
		out = append(out, job)
	}
	SortJobs(out)
	return out, nil
}

// SortJobs orders jobs by priority descending, then start time ascending.
// Jobs with unreadable start times sort after those with readable ones; ids
// break any remaining tie.
func SortJobs(jobs []models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		as, aErr := models.ParseClock(a.StartTime)
		bs, bErr := models.ParseClock(b.StartTime)
		switch {
		case aErr == nil && bErr == nil && as != bs:
			return as < bs
		case aErr == nil && bErr != nil:
			return true
		case aErr != nil && bErr == nil:
			return false
		}
		return a.ID < b.ID
	})
}

// geocodeMissing resolves coordinates for jobs without them in groups of
// GeocodeBatchSize concurrent lookups, one group after another. Failures
// leave the job without coordinates.
func (e *Engine) geocodeMissing(ctx context.Context, logger zerolog.Logger, jobs []models.Job) {
	if e.Geocoder == nil {
		return
	}
	pending := make([]int, 0)
	for i, job := range jobs {
		if geocode.ShouldGeocode(job, false) && geocode.JobQuery(job) != "" {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}
	size := e.GeocodeBatchSize
	if size <= 0 {
		size = defaultGeocodeBatchSize
	}

	resolved := 0
	for from := 0; from < len(pending); from += size {
		if ctx.Err() != nil {
			break
		}
		batch := pending[from:min(from+size, len(pending))]
		var g errgroup.Group
		found := make([]bool, len(batch))
		for n, idx := range batch {
			g.Go(func() error {
				found[n] = e.geocodeJob(ctx, logger, &jobs[idx])
				return nil
			})
		}
		_ = g.Wait()
		for _, ok := range found {
			if ok {
				resolved++
			}
		}
	}
	logger.Info().Int("missing", len(pending)).Int("resolved", resolved).Msg("geocoded jobs")
}

func (e *Engine) geocodeJob(ctx context.Context, logger zerolog.Logger, job *models.Job) bool {
	res := e.Geocoder.GeocodeAddress(ctx, geocode.JobQuery(*job))
	if res == nil {
		logger.Warn().Str("job_id", job.ID).Msg("job address could not be geocoded")
		return false
	}
	coords := models.Coordinates{Lat: res.Latitude, Lon: res.Longitude}
	zone := job.Zone
	if zone == "" {
		zone = models.ZoneForPostalCode(res.ZipCode)
	}
	if err := e.Jobs.UpdateJobLocation(ctx, job.ID, coords, zone); err != nil {
		logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to store job coordinates")
	}
	job.Location = &coords
	job.Zone = zone
	return true
}

func (e *Engine) tryCrews(ctx context.Context, logger zerolog.Logger, job models.Job, start, end int, crews []models.Crew, workerByID map[string]models.Worker, run *RunState) (models.ProposedAssignment, bool, error) {
	need := job.CrewSizeRequired
	for _, crew := range crews {
		if len(crew.MemberIDs) < need {
			continue
		}
		members := make([]models.Worker, 0, len(crew.MemberIDs))
		seen := make(map[string]struct{}, len(crew.MemberIDs))
		for _, id := range crew.MemberIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if w, ok := workerByID[id]; ok {
				members = append(members, w)
			}
		}
		if len(members) < need {
			continue
		}

		avail, err := e.checkWorkers(ctx, job, start, end, members, run)
		if err != nil {
			return models.ProposedAssignment{}, false, err
		}
		rejected := ""
		for i, a := range avail {
			if !a.Available {
				rejected = members[i].ID
				break
			}
		}
		if rejected != "" {
			logger.Debug().Str("job_id", job.ID).Str("crew_id", crew.ID).Str("worker_id", rejected).Msg("crew rejected, member unavailable")
			continue
		}

		ids := make([]string, 0, len(members))
		routeOrder, drive := 0, 0
		for i, m := range members {
			order, d := run.Assign(m.ID, job, start, end)
			if i == 0 {
				routeOrder, drive = order, d
			}
			ids = append(ids, m.ID)
		}
		return models.ProposedAssignment{
			JobID:            job.ID,
			WorkerIDs:        ids,
			CrewID:           crew.ID,
			SuggestedStart:   models.FormatClock(start),
			SuggestedEnd:     models.FormatClock(end),
			RouteOrder:       routeOrder,
			DriveTimeMinutes: drive,
			TotalScore:       crewBaseline.Total(),
			Breakdown:        crewBaseline,
		}, true, nil
	}
	return models.ProposedAssignment{}, false, nil
}

func (e *Engine) tryIndividuals(ctx context.Context, logger zerolog.Logger, job models.Job, start, end int, workers []models.Worker, serviceTypes map[string]models.ServiceType, run *RunState) (*models.ProposedAssignment, []string, error) {
	if len(workers) == 0 {
		return nil, []string{"No active workers"}, nil
	}
	avail, err := e.checkWorkers(ctx, job, start, end, workers, run)
	if err != nil {
		return nil, nil, err
	}

	weights := WeightsForJob(job, serviceTypes)
	candidates := make([]AssignmentScore, 0, len(workers))
	available := 0
	filterReasons := map[string]struct{}{}
	for i, w := range workers {
		if !avail[i].Available {
			continue
		}
		available++
		score := e.Scoring.CalculateAssignmentScore(job, w, run, weights)
		if !score.PassesFilters {
			for _, r := range score.FailureReasons {
				filterReasons[r] = struct{}{}
			}
			continue
		}
		candidates = append(candidates, score)
	}
	if available == 0 {
		return nil, []string{"No available workers"}, nil
	}
	if len(candidates) == 0 {
		reasons := []string{"No worker passed hard filters"}
		extra := make([]string, 0, len(filterReasons))
		for r := range filterReasons {
			extra = append(extra, r)
		}
		sort.Strings(extra)
		return nil, append(reasons, extra...), nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Total != candidates[j].Total {
			return candidates[i].Total > candidates[j].Total
		}
		return candidates[i].WorkerID < candidates[j].WorkerID
	})
	need := max(job.CrewSizeRequired, 1)
	selected := candidates[:min(need, len(candidates))]
	if len(selected) < need {
		logger.Warn().Str("job_id", job.ID).Int("required", need).Int("selected", len(selected)).Msg("job understaffed")
	}

	top := selected[0]
	ids := make([]string, 0, len(selected))
	routeOrder, drive := 0, 0
	for i, c := range selected {
		order, d := run.Assign(c.WorkerID, job, start, end)
		if i == 0 {
			routeOrder, drive = order, d
		}
		ids = append(ids, c.WorkerID)
	}
	return &models.ProposedAssignment{
		JobID:            job.ID,
		WorkerIDs:        ids,
		SuggestedStart:   models.FormatClock(start),
		SuggestedEnd:     models.FormatClock(end),
		RouteOrder:       routeOrder,
		DriveTimeMinutes: drive,
		TotalScore:       roundTenth(top.Total),
		Breakdown:        top.Breakdown,
	}, nil, nil
}

// checkWorkers runs one availability check per worker concurrently. The
// result slice lines up with workers.
func (e *Engine) checkWorkers(ctx context.Context, job models.Job, start, end int, workers []models.Worker, run *RunState) ([]Availability, error) {
	out := make([]Availability, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		req := CheckRequest{
			WorkerID:      w.ID,
			JobID:         job.ID,
			Date:          run.Date,
			StartTime:     models.FormatClock(start),
			EndTime:       models.FormatClock(end),
			DurationHours: job.DurationHours,
			Pending:       run.Worker(w.ID).Pending(run.Date),
		}
		g.Go(func() error {
			a, err := e.Availability.CheckAvailability(gctx, req)
			if err != nil {
				return fmt.Errorf("availability for worker %s: %w", req.WorkerID, err)
			}
			out[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// jobWindow resolves a job's minutes-since-midnight window. A missing start
// defaults to 08:00 and a missing end is derived from the duration.
func jobWindow(job models.Job) (int, int, error) {
	start := defaultJobStart
	if job.StartTime != "" {
		s, err := models.ParseClock(job.StartTime)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrInvalidTimeWindow, err)
		}
		start = s
	}
	var end int
	switch {
	case job.EndTime != "":
		v, err := models.ParseClock(job.EndTime)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %v", ErrInvalidTimeWindow, err)
		}
		end = v
	case job.DurationHours > 0:
		end = start + int(math.Ceil(job.DurationHours*60))
	default:
		return 0, 0, fmt.Errorf("%w: job %s has no end time or duration", ErrInvalidTimeWindow, job.ID)
	}
	if end <= start || end > 24*60 {
		return 0, 0, fmt.Errorf("%w: %s-%s", ErrInvalidTimeWindow, models.FormatClock(start), models.FormatClock(end))
	}
	return start, end, nil
}

func summarize(total int, assignments []models.ProposedAssignment) models.ScheduleStats {
	stats := models.ScheduleStats{
		TotalJobs:      total,
		AssignedJobs:   len(assignments),
		UnassignedJobs: total - len(assignments),
	}
	if len(assignments) == 0 {
		return stats
	}
	sum := 0.0
	for _, a := range assignments {
		stats.TotalDriveMinutes += a.DriveTimeMinutes
		sum += a.TotalScore
	}
	stats.AverageScore = roundTenth(sum / float64(len(assignments)))
	return stats
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
