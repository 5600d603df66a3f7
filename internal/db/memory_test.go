package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldcrew/backend/internal/models"
)

var day = time.Date(2024, 6, 12, 0, 0, 0, 0, time.UTC)

func TestMemoryListSchedulableJobs(t *testing.T) {
	m := NewMemory()
	m.AddJob(models.Job{ID: "open", ProviderID: "p1", ScheduledDate: day, Status: models.JobStatusScheduled})
	m.AddJob(models.Job{ID: "cancelled", ProviderID: "p1", ScheduledDate: day, Status: models.JobStatusCancelled})
	m.AddJob(models.Job{ID: "done", ProviderID: "p1", ScheduledDate: day, Status: models.JobStatusCompleted})
	m.AddJob(models.Job{ID: "assigned", ProviderID: "p1", ScheduledDate: day, AssignedWorkerIDs: []string{"w1"}})
	m.AddJob(models.Job{ID: "tomorrow", ProviderID: "p1", ScheduledDate: day.AddDate(0, 0, 1)})
	m.AddJob(models.Job{ID: "other", ProviderID: "p2", ScheduledDate: day})

	jobs, err := m.ListSchedulableJobs(context.Background(), "p1", day.Add(15*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "open" {
		t.Fatalf("expected only open job, got %+v", jobs)
	}
}

func TestMemoryListActiveWorkersFiltersAndExcludes(t *testing.T) {
	m := NewMemory()
	m.AddWorker(models.Worker{ID: "w2", ProviderID: "p1", Role: models.WorkerRoleField, Status: models.WorkerStatusActive})
	m.AddWorker(models.Worker{ID: "w1", ProviderID: "p1", Role: models.WorkerRoleField, Status: models.WorkerStatusActive})
	m.AddWorker(models.Worker{ID: "office", ProviderID: "p1", Role: "office", Status: models.WorkerStatusActive})
	m.AddWorker(models.Worker{ID: "gone", ProviderID: "p1", Role: models.WorkerRoleField, Status: "inactive"})
	m.AddWorker(models.Worker{ID: "w3", ProviderID: "p1", Role: models.WorkerRoleField, Status: models.WorkerStatusActive})

	workers, err := m.ListActiveWorkers(context.Background(), "p1", []string{"w3"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(workers) != 2 || workers[0].ID != "w1" || workers[1].ID != "w2" {
		t.Fatalf("unexpected workers %+v", workers)
	}
}

func TestMemoryTimeOffAndHours(t *testing.T) {
	m := NewMemory()
	m.AddTimeOff(models.TimeOff{ID: "t1", WorkerID: "w1", StartDate: day.AddDate(0, 0, -1), EndDate: day, Status: "approved"})
	m.AddTimeOff(models.TimeOff{ID: "t2", WorkerID: "w1", StartDate: day, EndDate: day, Status: "pending"})
	m.AddTimeOff(models.TimeOff{ID: "t3", WorkerID: "w1", StartDate: day.AddDate(0, 0, 1), EndDate: day.AddDate(0, 0, 3), Status: "approved"})

	records, err := m.ApprovedTimeOff(context.Background(), "w1", day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("time off: %v", err)
	}
	if len(records) != 1 || records[0].ID != "t1" {
		t.Fatalf("expected only t1, got %+v", records)
	}

	m.AddWorkerJob("w1", models.WorkerJob{JobID: "a", Date: day, DurationHours: 3})
	m.AddWorkerJob("w1", models.WorkerJob{JobID: "b", Date: day.AddDate(0, 0, -1), DurationHours: 2})
	m.AddWorkerJob("w1", models.WorkerJob{JobID: "c", Date: day.AddDate(0, 0, 7), DurationHours: 5})
	hours, _ := m.WorkerHoursBetween(context.Background(), "w1", models.WeekStart(day), models.WeekStart(day).AddDate(0, 0, 7))
	if hours != 5 {
		t.Fatalf("expected 5 weekly hours, got %v", hours)
	}
	jobs, _ := m.WorkerJobsOn(context.Background(), "w1", day)
	if len(jobs) != 1 || jobs[0].JobID != "a" {
		t.Fatalf("unexpected day jobs %+v", jobs)
	}
}

func TestMemoryMissingRecordsAreNil(t *testing.T) {
	m := NewMemory()
	ws, err := m.WeeklySchedule(context.Background(), "w1", time.Monday)
	if err != nil || ws != nil {
		t.Fatalf("expected nil schedule, got %+v %v", ws, err)
	}
	hs, err := m.WorkerSettings(context.Background(), "w1")
	if err != nil || hs != nil {
		t.Fatalf("expected nil settings, got %+v %v", hs, err)
	}
}

func TestMemoryProposalRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id, err := m.CreateProposal(ctx, models.Proposal{
		ProviderID:  "p1",
		Date:        day,
		TotalJobs:   1,
		Assignments: []models.ProposedAssignment{{JobID: "j1", WorkerIDs: []string{"w1"}}},
	})
	if err != nil || id == "" {
		t.Fatalf("create: %q %v", id, err)
	}
	p, err := m.GetProposal(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(p.Assignments) != 1 || p.Unassigned == nil || p.CreatedAt.IsZero() {
		t.Fatalf("unexpected proposal %+v", p)
	}
	if _, err := m.GetProposal(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryUpdateJobLocation(t *testing.T) {
	m := NewMemory()
	m.AddJob(models.Job{ID: "j1", ProviderID: "p1", Zone: "Z100"})
	ctx := context.Background()
	if err := m.UpdateJobLocation(ctx, "j1", models.Coordinates{Lat: 30, Lon: -97}, ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	j, _ := m.GetJob(ctx, "j1")
	if j.Location == nil || j.Location.Lat != 30 || j.Zone != "Z100" {
		t.Fatalf("unexpected job %+v", j)
	}
	if err := m.UpdateJobLocation(ctx, "nope", models.Coordinates{}, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadFixtureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	data := `{
		"jobs": [{"id": "j1", "provider_id": "p1", "scheduled_date": "2024-06-12T00:00:00Z", "start_time": "09:00", "end_time": "10:00"}],
		"workers": [{"id": "w1", "provider_id": "p1", "role": "field", "status": "active"}],
		"weekly_schedules": [{"worker_id": "w1", "day_of_week": 3, "is_available": true, "start_time": "08:00", "end_time": "17:00"}],
		"settings": [{"worker_id": "w1", "max_daily_hours": 8, "max_weekly_hours": 40}],
		"crews": [{"id": "c1", "provider_id": "p1", "name": "Alpha", "member_ids": ["w1"]}],
		"service_types": {"p1": [{"name": "Lawn Mowing"}]}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := LoadFixtureFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ctx := context.Background()
	jobs, _ := m.ListSchedulableJobs(ctx, "p1", day)
	workers, _ := m.ListActiveWorkers(ctx, "p1", nil)
	crews, _ := m.ListCrews(ctx, "p1")
	types, _ := m.ListServiceTypes(ctx, "p1")
	ws, _ := m.WeeklySchedule(ctx, "w1", time.Wednesday)
	if len(jobs) != 1 || len(workers) != 1 || len(crews) != 1 || len(types) != 1 || ws == nil {
		t.Fatalf("fixture not fully loaded: jobs=%d workers=%d crews=%d types=%d schedule=%v", len(jobs), len(workers), len(crews), len(types), ws)
	}
}
