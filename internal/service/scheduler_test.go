package service

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldcrew/backend/internal/db"
	"github.com/fieldcrew/backend/internal/geocode"
	"github.com/fieldcrew/backend/internal/models"
)

var austin = models.Coordinates{Lat: 30.2672, Lon: -97.7431}

func newEngine(m *db.Memory) *Engine {
	return &Engine{
		Jobs:         m,
		Workers:      m,
		Crews:        m,
		Proposals:    m,
		Availability: NewAvailabilityChecker(m, zerolog.Nop()),
		Scoring:      NewScoringEngine(DefaultSkillAliases(), MatchExact),
		Logger:       zerolog.Nop(),
		Now:          func() time.Time { return wednesday.Add(6 * time.Hour) },
	}
}

func fieldWorker(id string, skillNames ...string) models.Worker {
	home := austin
	return models.Worker{
		ID:         id,
		ProviderID: "p1",
		Name:       strings.ToUpper(id),
		Role:       models.WorkerRoleField,
		Status:     models.WorkerStatusActive,
		Home:       &home,
		Skills:     skills(skillNames...),
	}
}

func testJob(id, start, end string, priority int) models.Job {
	loc := austin
	s, _ := models.ParseClock(start)
	e, _ := models.ParseClock(end)
	return models.Job{
		ID:                   id,
		ProviderID:           "p1",
		ServiceType:          "Inspection",
		Status:               models.JobStatusScheduled,
		ScheduledDate:        wednesday,
		StartTime:            start,
		EndTime:              end,
		DurationHours:        float64(e-s) / 60,
		CrewSizeRequired:     1,
		Priority:             priority,
		Category:             models.JobCategoryFirstVisit,
		ZipCode:              "78701",
		Location:             &loc,
		ServiceWindowMinutes: 30,
	}
}

func assignmentFor(res models.ScheduleResult, jobID string) *models.ProposedAssignment {
	for i := range res.Assignments {
		if res.Assignments[i].JobID == jobID {
			return &res.Assignments[i]
		}
	}
	return nil
}

func schedule(t *testing.T, e *Engine, opts Options) models.ScheduleResult {
	t.Helper()
	res, err := e.ScheduleJobsForDate(context.Background(), "p1", wednesday, opts)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	return res
}

func TestScheduleWithNoJobs(t *testing.T) {
	m := db.NewMemory()
	m.AddWorker(fieldWorker("w1"))
	res := schedule(t, newEngine(m), Options{})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Assignments == nil || res.Unassigned == nil || len(res.Assignments) != 0 || len(res.Unassigned) != 0 {
		t.Fatalf("expected empty non-nil lists, got %+v", res)
	}
	if res.Stats != (models.ScheduleStats{}) {
		t.Fatalf("expected zero stats, got %+v", res.Stats)
	}
	if m.ProposalCount() != 0 {
		t.Fatalf("empty run should not persist a proposal")
	}
}

func TestSortJobsIsDeterministic(t *testing.T) {
	base := []models.Job{
		testJob("a", "13:00", "14:00", 1),
		testJob("b", "09:00", "10:00", 5),
		testJob("c", "08:00", "09:00", 1),
		testJob("d", "11:00", "12:00", 5),
		testJob("e", "08:00", "09:00", 1),
		{ID: "f", Priority: 1, StartTime: "whenever"},
	}
	want := []string{"b", "d", "c", "e", "a", "f"}

	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		jobs := append([]models.Job(nil), base...)
		r.Shuffle(len(jobs), func(i, j int) { jobs[i], jobs[j] = jobs[j], jobs[i] })
		SortJobs(jobs)
		for k, j := range jobs {
			if j.ID != want[k] {
				t.Fatalf("run %d: expected order %v, got %v at %d", i, want, j.ID, k)
			}
		}
	}
}

func TestScheduleNeverDoubleBooksWorker(t *testing.T) {
	m := db.NewMemory()
	m.AddWorker(fieldWorker("w1"))
	m.AddJob(testJob("j1", "09:00", "11:00", 1))
	m.AddJob(testJob("j2", "10:00", "12:00", 1))
	m.AddJob(testJob("j3", "13:00", "14:00", 1))

	res := schedule(t, newEngine(m), Options{})
	if res.Stats.AssignedJobs != 2 || res.Stats.UnassignedJobs != 1 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if assignmentFor(res, "j2") != nil {
		t.Fatalf("overlapping job must not be assigned to the same worker")
	}
	if len(res.Unassigned) != 1 || res.Unassigned[0].JobID != "j2" || res.Unassigned[0].Reasons[0] != "No available workers" {
		t.Fatalf("unexpected unassigned %+v", res.Unassigned)
	}
	j3 := assignmentFor(res, "j3")
	if j3 == nil || j3.RouteOrder != 2 || j3.WorkerIDs[0] != "w1" {
		t.Fatalf("expected j3 as w1's second stop, got %+v", j3)
	}
}

func TestScheduleCrewIsAllOrNothing(t *testing.T) {
	m := db.NewMemory()
	for _, id := range []string{"w1", "w2", "w3", "w4", "w5"} {
		m.AddWorker(fieldWorker(id))
	}
	m.AddTimeOff(models.TimeOff{ID: "t", WorkerID: "w2", StartDate: wednesday, EndDate: wednesday, Status: "approved"})
	m.AddCrew(models.Crew{ID: "c1", ProviderID: "p1", Name: "Alpha", MemberIDs: []string{"w1", "w2", "w3"}})
	m.AddCrew(models.Crew{ID: "c2", ProviderID: "p1", Name: "Bravo", MemberIDs: []string{"w4", "w5"}})
	job := testJob("big", "09:00", "12:00", 3)
	job.CrewSizeRequired = 2
	m.AddJob(job)

	res := schedule(t, newEngine(m), Options{})
	a := assignmentFor(res, "big")
	if a == nil {
		t.Fatalf("expected crew assignment, got %+v", res)
	}
	if a.CrewID != "c2" || strings.Join(a.WorkerIDs, ",") != "w4,w5" {
		t.Fatalf("expected crew c2 (w4,w5), got %+v", a)
	}
	if a.TotalScore != 85 || a.Breakdown != crewBaseline {
		t.Fatalf("expected crew baseline score, got %+v", a)
	}
}

func TestScheduleCrewWithRepeatedMemberIsNotDoubleBooked(t *testing.T) {
	m := db.NewMemory()
	m.AddWorker(fieldWorker("w1"))
	m.AddCrew(models.Crew{ID: "c1", ProviderID: "p1", MemberIDs: []string{"w1", "w1"}})
	job := testJob("big", "09:00", "12:00", 3)
	job.CrewSizeRequired = 2
	m.AddJob(job)

	res := schedule(t, newEngine(m), Options{})
	a := assignmentFor(res, "big")
	if a != nil && a.CrewID == "c1" {
		t.Fatalf("a crew with one distinct member cannot staff two seats, got %+v", a)
	}
	if a != nil {
		seen := map[string]bool{}
		for _, id := range a.WorkerIDs {
			if seen[id] {
				t.Fatalf("worker %s assigned twice to one job: %v", id, a.WorkerIDs)
			}
			seen[id] = true
		}
	}
}

func TestScheduleCrewRejectedFallsBackToIndividuals(t *testing.T) {
	m := db.NewMemory()
	for _, id := range []string{"w1", "w2", "w3"} {
		m.AddWorker(fieldWorker(id))
	}
	m.AddTimeOff(models.TimeOff{ID: "t", WorkerID: "w2", StartDate: wednesday, EndDate: wednesday, Status: "approved"})
	m.AddCrew(models.Crew{ID: "c1", ProviderID: "p1", MemberIDs: []string{"w1", "w2"}})
	// w9 is not an active worker, leaving too few members
	m.AddCrew(models.Crew{ID: "c2", ProviderID: "p1", MemberIDs: []string{"w3", "w9"}})
	job := testJob("big", "09:00", "12:00", 3)
	job.CrewSizeRequired = 2
	m.AddJob(job)

	res := schedule(t, newEngine(m), Options{})
	a := assignmentFor(res, "big")
	if a == nil || a.CrewID != "" {
		t.Fatalf("expected individual fallback, got %+v", a)
	}
	if strings.Join(a.WorkerIDs, ",") != "w1,w3" {
		t.Fatalf("expected w1 and w3, got %v", a.WorkerIDs)
	}
}

func TestScheduleIndividualTopNUpdatesEverySelectedWorker(t *testing.T) {
	m := db.NewMemory()
	for _, id := range []string{"w1", "w2", "w3"} {
		m.AddWorker(fieldWorker(id))
	}
	first := testJob("first", "09:00", "11:00", 5)
	first.CrewSizeRequired = 2
	first.Customer = models.Customer{ID: "c", PreferredWorkerIDs: []string{"w3"}}
	m.AddJob(first)
	m.AddJob(testJob("second", "10:00", "12:00", 1))

	res := schedule(t, newEngine(m), Options{})
	a := assignmentFor(res, "first")
	if a == nil || strings.Join(a.WorkerIDs, ",") != "w3,w1" {
		t.Fatalf("expected preferred w3 then w1, got %+v", a)
	}
	b := assignmentFor(res, "second")
	if b == nil || len(b.WorkerIDs) != 1 || b.WorkerIDs[0] != "w2" {
		t.Fatalf("second job must go to the only free worker, got %+v", b)
	}
}

func TestScheduleHardFilterReasons(t *testing.T) {
	m := db.NewMemory()
	m.AddWorker(fieldWorker("w1", "Painting"))
	job := testJob("mow", "09:00", "10:00", 1)
	job.ServiceType = "Lawn Mowing"
	m.AddJob(job)

	res := schedule(t, newEngine(m), Options{})
	if len(res.Unassigned) != 1 {
		t.Fatalf("expected job unassigned, got %+v", res)
	}
	reasons := res.Unassigned[0].Reasons
	if reasons[0] != "No worker passed hard filters" || len(reasons) != 2 || !strings.Contains(reasons[1], "Lawn Mowing") {
		t.Fatalf("unexpected reasons %v", reasons)
	}
}

func TestScheduleOptionsJobIDsAndExclusions(t *testing.T) {
	m := db.NewMemory()
	m.AddWorker(fieldWorker("w1"))
	m.AddWorker(fieldWorker("w2"))
	picked := testJob("picked", "09:00", "10:00", 1)
	picked.AssignedWorkerIDs = []string{"old"}
	m.AddJob(picked)
	m.AddJob(testJob("ignored", "11:00", "12:00", 1))

	res := schedule(t, newEngine(m), Options{JobIDs: []string{"picked", "picked"}, ExcludeWorkerIDs: []string{"w1"}})
	if res.Stats.TotalJobs != 1 || len(res.Assignments) != 1 {
		t.Fatalf("expected exactly the requested job once, got %+v", res)
	}
	if res.Assignments[0].WorkerIDs[0] != "w2" {
		t.Fatalf("excluded worker was assigned: %+v", res.Assignments[0])
	}
}

func TestScheduleStatsAndProposal(t *testing.T) {
	m := db.NewMemory()
	w := fieldWorker("w1")
	m.AddWorker(w)
	near := testJob("near", "09:00", "10:00", 1)
	far := testJob("far", "11:00", "12:00", 1)
	far.Location = &models.Coordinates{Lat: 30.40, Lon: -97.74}
	m.AddJob(near)
	m.AddJob(far)
	m.AddJob(testJob("blocked", "09:30", "10:30", 1))

	e := newEngine(m)
	res, err := e.ScheduleJobsForDate(context.Background(), "p1", wednesday, Options{CreatedBy: "dispatcher"})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if res.Stats.TotalJobs != 3 || res.Stats.AssignedJobs != 2 || res.Stats.UnassignedJobs != 1 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	drive := 0
	sum := 0.0
	for _, a := range res.Assignments {
		drive += a.DriveTimeMinutes
		sum += a.TotalScore
	}
	if res.Stats.TotalDriveMinutes != drive || drive == 0 {
		t.Fatalf("expected drive total %d, got %+v", drive, res.Stats)
	}
	if res.Stats.AverageScore != roundTenth(sum/2) {
		t.Fatalf("expected average %v, got %v", roundTenth(sum/2), res.Stats.AverageScore)
	}

	p, err := m.GetProposal(context.Background(), res.ProposalID)
	if err != nil {
		t.Fatalf("proposal not persisted: %v", err)
	}
	if p.CreatedBy != "dispatcher" || p.Status != ProposalStatusDraft || len(p.Assignments) != 2 || len(p.Unassigned) != 1 {
		t.Fatalf("unexpected proposal %+v", p)
	}
	if p.AverageScore != res.Stats.AverageScore || !p.Date.Equal(wednesday) {
		t.Fatalf("proposal totals differ from result: %+v", p)
	}
}

type failingCrews struct {
	*db.Memory
}

func (failingCrews) ListCrews(context.Context, string) ([]models.Crew, error) {
	return nil, errors.New("connection reset")
}

func TestScheduleStoreFailureAbortsRun(t *testing.T) {
	m := db.NewMemory()
	m.AddWorker(fieldWorker("w1"))
	m.AddJob(testJob("j1", "09:00", "10:00", 1))
	e := newEngine(m)
	e.Crews = failingCrews{m}

	res, err := e.ScheduleJobsForDate(context.Background(), "p1", wednesday, Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if res.Success || len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "connection reset") {
		t.Fatalf("unexpected failure result %+v", res)
	}
	if res.Assignments == nil || len(res.Assignments) != 0 || len(res.Unassigned) != 0 {
		t.Fatalf("failed run must carry empty lists, got %+v", res)
	}
	if m.ProposalCount() != 0 {
		t.Fatalf("failed run must not persist a proposal")
	}
}

type countingGeocoder struct {
	mu          sync.Mutex
	calls       int
	inFlight    int
	maxInFlight int
}

func (g *countingGeocoder) GeocodeAddress(_ context.Context, address string) *geocode.Result {
	g.mu.Lock()
	g.calls++
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	g.mu.Lock()
	g.inFlight--
	g.mu.Unlock()
	if strings.Contains(address, "Nowhere") {
		return nil
	}
	return &geocode.Result{Latitude: 30.27, Longitude: -97.74, ZipCode: "78701"}
}

func TestScheduleGeocodesMissingCoordinatesInGroups(t *testing.T) {
	m := db.NewMemory()
	m.AddWorker(fieldWorker("w1"))
	for i := 0; i < 12; i++ {
		j := testJob(string(rune('a'+i)), "09:00", "09:30", 1)
		j.Location = nil
		j.Address = "1 Main St"
		j.City = "Austin"
		j.State = "TX"
		if i == 0 {
			j.Address = "Nowhere Lane"
			j.ZipCode = ""
		}
		m.AddJob(j)
	}
	g := &countingGeocoder{}
	e := newEngine(m)
	e.Geocoder = g

	res := schedule(t, e, Options{})
	if !res.Success {
		t.Fatalf("geocode failures must not fail the run: %+v", res)
	}
	if g.calls != 12 {
		t.Fatalf("expected 12 geocode calls, got %d", g.calls)
	}
	if g.maxInFlight > defaultGeocodeBatchSize {
		t.Fatalf("expected at most %d concurrent lookups, saw %d", defaultGeocodeBatchSize, g.maxInFlight)
	}

	ctx := context.Background()
	b, _ := m.GetJob(ctx, "b")
	if b.Location == nil || b.Zone != "Z787" {
		t.Fatalf("expected stored coordinates and zone, got %+v", b)
	}
	a, _ := m.GetJob(ctx, "a")
	if a.Location != nil {
		t.Fatalf("failed lookup should leave the job without coordinates")
	}
}

func TestJobWindow(t *testing.T) {
	cases := []struct {
		name       string
		job        models.Job
		start, end int
		err        bool
	}{
		{"explicit", models.Job{StartTime: "09:00", EndTime: "10:30"}, 540, 630, false},
		{"from duration", models.Job{StartTime: "13:00", DurationHours: 1.5}, 780, 870, false},
		{"default start", models.Job{DurationHours: 2}, 480, 600, false},
		{"reversed", models.Job{StartTime: "10:00", EndTime: "09:00"}, 0, 0, true},
		{"no end", models.Job{StartTime: "10:00"}, 0, 0, true},
		{"past midnight", models.Job{StartTime: "23:00", DurationHours: 2}, 0, 0, true},
	}
	for _, tc := range cases {
		s, e, err := jobWindow(tc.job)
		if tc.err {
			if !errors.Is(err, ErrInvalidTimeWindow) {
				t.Fatalf("%s: expected ErrInvalidTimeWindow, got %v", tc.name, err)
			}
			continue
		}
		if err != nil || s != tc.start || e != tc.end {
			t.Fatalf("%s: expected %d-%d, got %d-%d %v", tc.name, tc.start, tc.end, s, e, err)
		}
	}
}

func TestRunStateAssignTracksLocationAndHours(t *testing.T) {
	home := austin
	run := NewRunState(wednesday, []models.Worker{{ID: "w1", Home: &home}, {ID: "w2"}})
	far := models.Coordinates{Lat: 30.40, Lon: -97.74}

	order, drive := run.Assign("w1", models.Job{ID: "j1", Location: &far, Zone: "Z787", DurationHours: 2}, 540, 660)
	if order != 1 || drive == 0 {
		t.Fatalf("expected first stop with drive time, got order=%d drive=%d", order, drive)
	}
	ws := run.Worker("w1")
	if *ws.CurrentLocation != far || ws.Hours != 2 || ws.DriveMinutes != drive || !ws.WorkedZone("Z787") {
		t.Fatalf("unexpected schedule %+v", ws)
	}
	if run.MeanHours() != 1 {
		t.Fatalf("expected mean 1h across two workers, got %v", run.MeanHours())
	}
	pending := ws.Pending(run.Date)
	if len(pending) != 1 || pending[0].StartTime != "09:00" || pending[0].EndTime != "11:00" {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if _, d := run.Assign("w2", models.Job{ID: "j2", Location: &far, DurationHours: 1}, 540, 600); d != 0 {
		t.Fatalf("unknown origin should have zero drive, got %d", d)
	}
}

func TestScheduleGeocodesConcurrentlyWithNominatimLiteral(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[{"lat":"30.2672","lon":"-97.7431","display_name":"Austin","address":{"postcode":"78701"}}]`))
	}))
	defer srv.Close()

	m := db.NewMemory()
	m.AddWorker(fieldWorker("w1"))
	for i := 0; i < 5; i++ {
		j := testJob(string(rune('a'+i)), "09:00", "09:30", 1)
		j.Location = nil
		j.Address = "1 Main St"
		m.AddJob(j)
	}
	e := newEngine(m)
	e.Geocoder = &geocode.Nominatim{BaseURL: srv.URL}

	schedule(t, e, Options{})
	if hits.Load() != 5 {
		t.Fatalf("expected 5 geocode requests, got %d", hits.Load())
	}
	for i := 0; i < 5; i++ {
		j, _ := m.GetJob(context.Background(), string(rune('a'+i)))
		if j.Location == nil {
			t.Fatalf("job %s left without coordinates", j.ID)
		}
	}
}
