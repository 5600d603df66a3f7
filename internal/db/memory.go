package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldcrew/backend/internal/models"
)

// Memory is an in-process store with the same query surface as Store. The
// server falls back to it when no database is configured.
type Memory struct {
	mu           sync.RWMutex
	jobs         []models.Job
	workers      []models.Worker
	schedules    map[string]map[time.Weekday]models.WeeklySchedule
	timeOff      map[string][]models.TimeOff
	calendar     map[string][]models.WorkerJob
	settings     map[string]models.HourSettings
	crews        []models.Crew
	serviceTypes map[string][]models.ServiceType
	proposals    map[string]models.Proposal
}

func NewMemory() *Memory {
	return &Memory{
		schedules:    map[string]map[time.Weekday]models.WeeklySchedule{},
		timeOff:      map[string][]models.TimeOff{},
		calendar:     map[string][]models.WorkerJob{},
		settings:     map[string]models.HourSettings{},
		serviceTypes: map[string][]models.ServiceType{},
		proposals:    map[string]models.Proposal{},
	}
}

func (m *Memory) AddJob(j models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, j)
}

func (m *Memory) AddWorker(w models.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
}

func (m *Memory) SetWeeklySchedule(ws models.WeeklySchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schedules[ws.WorkerID] == nil {
		m.schedules[ws.WorkerID] = map[time.Weekday]models.WeeklySchedule{}
	}
	m.schedules[ws.WorkerID][ws.DayOfWeek] = ws
}

func (m *Memory) AddTimeOff(t models.TimeOff) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeOff[t.WorkerID] = append(m.timeOff[t.WorkerID], t)
}

// AddWorkerJob puts an already committed job on a worker's calendar.
func (m *Memory) AddWorkerJob(workerID string, wj models.WorkerJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendar[workerID] = append(m.calendar[workerID], wj)
}

func (m *Memory) SetWorkerSettings(hs models.HourSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[hs.WorkerID] = hs
}

func (m *Memory) AddCrew(c models.Crew) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crews = append(m.crews, c)
}

func (m *Memory) AddServiceType(providerID string, st models.ServiceType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serviceTypes[providerID] = append(m.serviceTypes[providerID], st)
}

func (m *Memory) ListSchedulableJobs(_ context.Context, providerID string, date time.Time) ([]models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Job
	for _, j := range m.jobs {
		if j.ProviderID != providerID || !sameDay(j.ScheduledDate, date) {
			continue
		}
		if j.Status == models.JobStatusCancelled || j.Status == models.JobStatusCompleted {
			continue
		}
		if len(j.AssignedWorkerIDs) > 0 {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (m *Memory) ListJobsByIDs(_ context.Context, providerID string, ids []string) ([]models.Job, error) {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Job
	for _, j := range m.jobs {
		if _, ok := want[j.ID]; ok && j.ProviderID == providerID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *Memory) GetJob(_ context.Context, jobID string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if j.ID == jobID {
			return j, nil
		}
	}
	return models.Job{}, ErrNotFound
}

func (m *Memory) UpdateJobLocation(_ context.Context, jobID string, c models.Coordinates, zone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		if m.jobs[i].ID != jobID {
			continue
		}
		loc := c
		m.jobs[i].Location = &loc
		if zone != "" {
			m.jobs[i].Zone = zone
		}
		return nil
	}
	return ErrNotFound
}

func (m *Memory) ListServiceTypes(_ context.Context, providerID string) ([]models.ServiceType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ServiceType(nil), m.serviceTypes[providerID]...), nil
}

func (m *Memory) ListActiveWorkers(_ context.Context, providerID string, exclude []string) ([]models.Worker, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Worker
	for _, w := range m.workers {
		if w.ProviderID != providerID || w.Role != models.WorkerRoleField || w.Status != models.WorkerStatusActive {
			continue
		}
		if _, ok := skip[w.ID]; ok {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) WeeklySchedule(_ context.Context, workerID string, weekday time.Weekday) (*models.WeeklySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.schedules[workerID][weekday]
	if !ok {
		return nil, nil
	}
	return &ws, nil
}

func (m *Memory) ApprovedTimeOff(_ context.Context, workerID string, from, to time.Time) ([]models.TimeOff, error) {
	from, to = models.DayStart(from), models.DayStart(to)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TimeOff
	for _, t := range m.timeOff[workerID] {
		if !strings.EqualFold(t.Status, "approved") {
			continue
		}
		if !models.DayStart(t.StartDate).Before(to) || models.DayStart(t.EndDate).Before(from) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *Memory) WorkerJobsOn(_ context.Context, workerID string, date time.Time) ([]models.WorkerJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.WorkerJob
	for _, wj := range m.calendar[workerID] {
		if sameDay(wj.Date, date) {
			out = append(out, wj)
		}
	}
	return out, nil
}

func (m *Memory) WorkerHoursBetween(_ context.Context, workerID string, from, to time.Time) (float64, error) {
	from, to = models.DayStart(from), models.DayStart(to)
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0.0
	for _, wj := range m.calendar[workerID] {
		d := models.DayStart(wj.Date)
		if !d.Before(from) && d.Before(to) {
			total += wj.DurationHours
		}
	}
	return total, nil
}

func (m *Memory) WorkerSettings(_ context.Context, workerID string) (*models.HourSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hs, ok := m.settings[workerID]
	if !ok {
		return nil, nil
	}
	return &hs, nil
}

func (m *Memory) ListCrews(_ context.Context, providerID string) ([]models.Crew, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Crew
	for _, c := range m.crews {
		if c.ProviderID == providerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) CreateProposal(_ context.Context, p models.Proposal) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Assignments = append([]models.ProposedAssignment{}, p.Assignments...)
	p.Unassigned = append([]models.UnassignedJob{}, p.Unassigned...)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.proposals[p.ID]; exists {
		return "", fmt.Errorf("create proposal: duplicate id %s", p.ID)
	}
	m.proposals[p.ID] = p
	return p.ID, nil
}

func (m *Memory) GetProposal(_ context.Context, id string) (models.Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return models.Proposal{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) ProposalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.proposals)
}

// Fixture is the JSON seed format accepted by LoadFixture.
type Fixture struct {
	Jobs            []models.Job                    `json:"jobs"`
	Workers         []models.Worker                 `json:"workers"`
	WeeklySchedules []models.WeeklySchedule         `json:"weekly_schedules"`
	TimeOff         []models.TimeOff                `json:"time_off"`
	WorkerJobs      map[string][]models.WorkerJob   `json:"worker_jobs"`
	Settings        []models.HourSettings           `json:"settings"`
	Crews           []models.Crew                   `json:"crews"`
	ServiceTypes    map[string][]models.ServiceType `json:"service_types"`
}

func (m *Memory) Load(f Fixture) {
	for _, j := range f.Jobs {
		m.AddJob(j)
	}
	for _, w := range f.Workers {
		m.AddWorker(w)
	}
	for _, ws := range f.WeeklySchedules {
		m.SetWeeklySchedule(ws)
	}
	for _, t := range f.TimeOff {
		m.AddTimeOff(t)
	}
	for workerID, jobs := range f.WorkerJobs {
		for _, wj := range jobs {
			m.AddWorkerJob(workerID, wj)
		}
	}
	for _, hs := range f.Settings {
		m.SetWorkerSettings(hs)
	}
	for _, c := range f.Crews {
		m.AddCrew(c)
	}
	for providerID, types := range f.ServiceTypes {
		for _, st := range types {
			m.AddServiceType(providerID, st)
		}
	}
}

// LoadFixtureFile seeds a new Memory from a JSON fixture file.
func LoadFixtureFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	m := NewMemory()
	m.Load(f)
	return m, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
