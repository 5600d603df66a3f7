package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/fieldcrew/backend/internal/distance"
	"github.com/fieldcrew/backend/internal/models"
)

const scoreEpsilon = 1e-9

// FilterChecks records which hard filters a worker/job pair passed.
type FilterChecks struct {
	Skills    bool `json:"skills"`
	Equipment bool `json:"equipment"`
	Zone      bool `json:"zone"`
	Customer  bool `json:"customer"`
}

func (f FilterChecks) All() bool {
	return f.Skills && f.Equipment && f.Zone && f.Customer
}

type AssignmentScore struct {
	WorkerID       string                `json:"worker_id"`
	JobID          string                `json:"job_id"`
	Total          float64               `json:"total"`
	PassesFilters  bool                  `json:"passes_filters"`
	Breakdown      models.ScoreBreakdown `json:"breakdown"`
	FailureReasons []string              `json:"failure_reasons,omitempty"`
	Filters        FilterChecks          `json:"filters"`
}

type ScoringEngine struct {
	Aliases *SkillAliases
	Mode    MatchMode
}

func NewScoringEngine(aliases *SkillAliases, mode MatchMode) *ScoringEngine {
	if aliases == nil {
		aliases = DefaultSkillAliases()
	}
	if mode == "" {
		mode = MatchExact
	}
	return &ScoringEngine{Aliases: aliases, Mode: mode}
}

// CalculateAssignmentScore applies the hard filters and computes the factor
// breakdown. The breakdown is filled in even when a filter fails.
func (s *ScoringEngine) CalculateAssignmentScore(job models.Job, worker models.Worker, run *RunState, weights models.ServiceWeights) AssignmentScore {
	out := AssignmentScore{WorkerID: worker.ID, JobID: job.ID}
	out.Filters, out.FailureReasons = s.hardFilters(job, worker)
	out.PassesFilters = out.Filters.All()

	ws := run.Worker(worker.ID)
	out.Breakdown = models.ScoreBreakdown{
		SLA:        slaScore(job, ws, clampWeight(weights.SLA)),
		Route:      routeScore(job, ws, clampWeight(weights.Route)),
		Continuity: continuityScore(job, worker.ID, ws, clampWeight(weights.Continuity)),
		Balance:    balanceScore(ws, run.MeanHours(), clampWeight(weights.Balance)),
	}
	out.Total = math.Min(100, math.Max(0, out.Breakdown.Total()))
	return out
}

func (s *ScoringEngine) hardFilters(job models.Job, worker models.Worker) (FilterChecks, []string) {
	checks := FilterChecks{Skills: true, Equipment: true, Zone: true, Customer: true}
	var reasons []string

	if acceptable := s.Aliases.Acceptable(job.ServiceType); len(acceptable) > 0 {
		if !hasAcceptableSkill(worker.Skills, acceptable, s.Mode) {
			checks.Skills = false
			reasons = append(reasons, fmt.Sprintf("No qualifying skill for %s", job.ServiceType))
		}
	}

	for _, tag := range job.RequiredEquipment {
		if !equipmentSatisfied(tag, worker.Skills) {
			checks.Equipment = false
			reasons = append(reasons, fmt.Sprintf("Missing equipment: %s", tag))
		}
	}

	if len(worker.PreferredZones) > 0 && job.Zone != "" && !containsFold(worker.PreferredZones, job.Zone) {
		checks.Zone = false
		reasons = append(reasons, fmt.Sprintf("Zone %s is outside worker zones", job.Zone))
	}

	if containsFold(job.Customer.BlockedWorkerIDs, worker.ID) {
		checks.Customer = false
		reasons = append(reasons, "Customer has blocked this worker")
	}
	return checks, reasons
}

func slaScore(job models.Job, ws *WorkerDaySchedule, weight float64) float64 {
	last := ws.LastStop()
	if last == nil {
		return weight
	}
	if last.Location == nil || job.Location == nil {
		return weight * 0.8
	}
	start, err := models.ParseClock(job.StartTime)
	if err != nil {
		return weight * 0.8
	}
	travel := distance.Formula(*last.Location, *job.Location).DurationMinutes
	late := last.End + travel - start
	if late <= 0 {
		return weight
	}
	window := job.ServiceWindowMinutes
	if window <= 0 || late >= window {
		return 0
	}
	return weight * (1 - float64(late)/float64(window))
}

func routeScore(job models.Job, ws *WorkerDaySchedule, weight float64) float64 {
	if job.Location == nil {
		return weight * 0.5
	}
	if ws == nil || ws.CurrentLocation == nil {
		return weight * 0.7
	}
	minutes := distance.Formula(*ws.CurrentLocation, *job.Location).DurationMinutes
	switch {
	case minutes <= 5:
		return weight
	case minutes <= 15:
		return weight * 0.9
	case minutes <= 30:
		return weight * 0.6
	case minutes <= 45:
		return weight * 0.3
	default:
		return 0
	}
}

func continuityScore(job models.Job, workerID string, ws *WorkerDaySchedule, weight float64) float64 {
	if containsFold(job.Customer.PreferredWorkerIDs, workerID) {
		return weight
	}
	category := strings.ToLower(strings.TrimSpace(job.Category))
	if category != models.JobCategoryRecurring && category != models.JobCategoryMaintenance {
		return 0
	}
	if ws.WorkedZone(job.Zone) {
		return weight * 0.7
	}
	return 0
}

func balanceScore(ws *WorkerDaySchedule, mean float64, weight float64) float64 {
	hours := 0.0
	if ws != nil {
		hours = ws.Hours
	}
	switch {
	case hours < mean-1:
		return weight
	case math.Abs(hours-mean) < scoreEpsilon:
		return weight * 0.5
	case hours < mean:
		return weight * 0.7
	case hours <= mean+2:
		return weight * 0.3
	default:
		return 0
	}
}

func clampWeight(w float64) float64 {
	switch {
	case w < 0 || math.IsNaN(w):
		return 0
	case w > 100:
		return 100
	}
	return w
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}
