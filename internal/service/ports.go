package service

import (
	"context"
	"time"

	"github.com/fieldcrew/backend/internal/models"
)

// JobRepository reads the day's jobs and service-type configuration.
type JobRepository interface {
	// ListSchedulableJobs returns jobs on date that are neither cancelled
	// nor completed and have no assigned workers.
	ListSchedulableJobs(ctx context.Context, providerID string, date time.Time) ([]models.Job, error)
	ListJobsByIDs(ctx context.Context, providerID string, ids []string) ([]models.Job, error)
	UpdateJobLocation(ctx context.Context, jobID string, coords models.Coordinates, zone string) error
	ListServiceTypes(ctx context.Context, providerID string) ([]models.ServiceType, error)
}

type WorkerRepository interface {
	// ListActiveWorkers returns active field workers with their skills.
	ListActiveWorkers(ctx context.Context, providerID string, exclude []string) ([]models.Worker, error)
	// WeeklySchedule returns nil when the worker has no record for weekday.
	WeeklySchedule(ctx context.Context, workerID string, weekday time.Weekday) (*models.WeeklySchedule, error)
	ApprovedTimeOff(ctx context.Context, workerID string, from, to time.Time) ([]models.TimeOff, error)
	WorkerJobsOn(ctx context.Context, workerID string, date time.Time) ([]models.WorkerJob, error)
	// WorkerHoursBetween sums scheduled job hours with from <= date < to.
	WorkerHoursBetween(ctx context.Context, workerID string, from, to time.Time) (float64, error)
	// WorkerSettings returns nil when no hour caps are stored.
	WorkerSettings(ctx context.Context, workerID string) (*models.HourSettings, error)
}

type CrewRepository interface {
	ListCrews(ctx context.Context, providerID string) ([]models.Crew, error)
}

// ProposalSink persists a finished run. The proposal and its rows are
// written atomically; the returned string is the proposal id.
type ProposalSink interface {
	CreateProposal(ctx context.Context, p models.Proposal) (string, error)
}
