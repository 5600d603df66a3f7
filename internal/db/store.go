package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrew/backend/internal/models"
)

var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schemaSQL string

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Migrate creates any missing tables. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const jobColumns = `
	j.id, j.provider_id, j.service_type, j.status, j.scheduled_date, j.start_time, j.end_time,
	j.duration_hours, j.crew_size_required, j.priority, j.category, j.address, j.city, j.state,
	j.zip_code, j.zone, j.lat, j.lon, j.required_equipment, j.service_window_minutes,
	COALESCE(c.id, ''), COALESCE(c.name, ''),
	COALESCE(c.preferred_worker_ids, '{}'), COALESCE(c.blocked_worker_ids, '{}'),
	COALESCE((SELECT array_agg(ja.worker_id ORDER BY ja.worker_id) FROM job_assignments ja WHERE ja.job_id = j.id), '{}')
`

func (s *Store) ListSchedulableJobs(ctx context.Context, providerID string, date time.Time) ([]models.Job, error) {
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs j
		LEFT JOIN customers c ON c.id = j.customer_id
		WHERE j.provider_id = $1
		  AND j.scheduled_date = $2
		  AND j.status NOT IN ('cancelled', 'completed')
		  AND NOT EXISTS (SELECT 1 FROM job_assignments ja WHERE ja.job_id = j.id)
		ORDER BY j.priority DESC, j.start_time ASC, j.id ASC
	`, providerID, models.DayStart(date))
}

func (s *Store) ListJobsByIDs(ctx context.Context, providerID string, ids []string) ([]models.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs j
		LEFT JOIN customers c ON c.id = j.customer_id
		WHERE j.provider_id = $1 AND j.id = ANY($2)
		ORDER BY j.priority DESC, j.start_time ASC, j.id ASC
	`, providerID, ids)
}

func (s *Store) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	jobs, err := s.queryJobs(ctx, `
		SELECT `+jobColumns+`
		FROM jobs j
		LEFT JOIN customers c ON c.id = j.customer_id
		WHERE j.id = $1
	`, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if len(jobs) == 0 {
		return models.Job{}, ErrNotFound
	}
	return jobs[0], nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Job
	for rows.Next() {
		var (
			j        models.Job
			lat, lon *float64
		)
		if err := rows.Scan(
			&j.ID, &j.ProviderID, &j.ServiceType, &j.Status, &j.ScheduledDate, &j.StartTime, &j.EndTime,
			&j.DurationHours, &j.CrewSizeRequired, &j.Priority, &j.Category, &j.Address, &j.City, &j.State,
			&j.ZipCode, &j.Zone, &lat, &lon, &j.RequiredEquipment, &j.ServiceWindowMinutes,
			&j.Customer.ID, &j.Customer.Name, &j.Customer.PreferredWorkerIDs, &j.Customer.BlockedWorkerIDs,
			&j.AssignedWorkerIDs,
		); err != nil {
			return nil, err
		}
		j.Location = coords(lat, lon)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) UpdateJobLocation(ctx context.Context, jobID string, c models.Coordinates, zone string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE jobs
		SET lat = $2, lon = $3, zone = CASE WHEN $4 = '' THEN zone ELSE $4 END
		WHERE id = $1
	`, jobID, c.Lat, c.Lon, zone)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListServiceTypes(ctx context.Context, providerID string) ([]models.ServiceType, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT name, weight_sla, weight_route, weight_continuity, weight_balance,
		       default_duration_hours, default_crew_size, required_skill_ids, preferred_skill_ids
		FROM service_types
		WHERE provider_id = $1
		ORDER BY name
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ServiceType
	for rows.Next() {
		var (
			st                              models.ServiceType
			sla, route, continuity, balance *float64
		)
		if err := rows.Scan(&st.Name, &sla, &route, &continuity, &balance,
			&st.DefaultDurationHours, &st.DefaultCrewSize, &st.RequiredSkillIDs, &st.PreferredSkillIDs); err != nil {
			return nil, err
		}
		if sla != nil && route != nil && continuity != nil && balance != nil {
			st.Weights = &models.ServiceWeights{SLA: *sla, Route: *route, Continuity: *continuity, Balance: *balance}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveWorkers(ctx context.Context, providerID string, exclude []string) ([]models.Worker, error) {
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, provider_id, name, role, status, home_lat, home_lon, preferred_zones
		FROM workers
		WHERE provider_id = $1 AND role = $2 AND status = $3 AND NOT (id = ANY($4))
		ORDER BY id
	`, providerID, models.WorkerRoleField, models.WorkerStatusActive, exclude)
	if err != nil {
		return nil, err
	}
	var (
		out   []models.Worker
		ids   []string
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			w        models.Worker
			lat, lon *float64
		)
		if err := rows.Scan(&w.ID, &w.ProviderID, &w.Name, &w.Role, &w.Status, &lat, &lon, &w.PreferredZones); err != nil {
			rows.Close()
			return nil, err
		}
		w.Home = coords(lat, lon)
		index[w.ID] = len(out)
		ids = append(ids, w.ID)
		out = append(out, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	skillRows, err := s.Pool.Query(ctx, `
		SELECT ws.worker_id, ws.skill_id, s.name, ws.proficiency
		FROM worker_skills ws
		JOIN skills s ON s.id = ws.skill_id
		WHERE ws.worker_id = ANY($1)
		ORDER BY ws.worker_id, s.name
	`, ids)
	if err != nil {
		return nil, err
	}
	defer skillRows.Close()
	for skillRows.Next() {
		var (
			workerID string
			sk       models.WorkerSkill
		)
		if err := skillRows.Scan(&workerID, &sk.SkillID, &sk.Name, &sk.Proficiency); err != nil {
			return nil, err
		}
		if i, ok := index[workerID]; ok {
			out[i].Skills = append(out[i].Skills, sk)
		}
	}
	return out, skillRows.Err()
}

func (s *Store) WeeklySchedule(ctx context.Context, workerID string, weekday time.Weekday) (*models.WeeklySchedule, error) {
	ws := models.WeeklySchedule{WorkerID: workerID, DayOfWeek: weekday}
	err := s.Pool.QueryRow(ctx, `
		SELECT is_available, start_time, end_time
		FROM weekly_schedules
		WHERE worker_id = $1 AND day_of_week = $2
	`, workerID, int(weekday)).Scan(&ws.IsAvailable, &ws.StartTime, &ws.EndTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (s *Store) ApprovedTimeOff(ctx context.Context, workerID string, from, to time.Time) ([]models.TimeOff, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, worker_id, start_date, end_date, reason, status
		FROM time_off
		WHERE worker_id = $1 AND status = 'approved' AND start_date < $3 AND end_date >= $2
		ORDER BY start_date
	`, workerID, models.DayStart(from), models.DayStart(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TimeOff
	for rows.Next() {
		var t models.TimeOff
		if err := rows.Scan(&t.ID, &t.WorkerID, &t.StartDate, &t.EndDate, &t.Reason, &t.Status); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) WorkerJobsOn(ctx context.Context, workerID string, date time.Time) ([]models.WorkerJob, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT j.id, j.scheduled_date, j.start_time, j.end_time, j.duration_hours
		FROM job_assignments ja
		JOIN jobs j ON j.id = ja.job_id
		WHERE ja.worker_id = $1 AND j.scheduled_date = $2 AND j.status <> 'cancelled'
		ORDER BY j.start_time, j.id
	`, workerID, models.DayStart(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WorkerJob
	for rows.Next() {
		var wj models.WorkerJob
		if err := rows.Scan(&wj.JobID, &wj.Date, &wj.StartTime, &wj.EndTime, &wj.DurationHours); err != nil {
			return nil, err
		}
		out = append(out, wj)
	}
	return out, rows.Err()
}

func (s *Store) WorkerHoursBetween(ctx context.Context, workerID string, from, to time.Time) (float64, error) {
	var hours float64
	err := s.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(j.duration_hours), 0)
		FROM job_assignments ja
		JOIN jobs j ON j.id = ja.job_id
		WHERE ja.worker_id = $1 AND j.scheduled_date >= $2 AND j.scheduled_date < $3 AND j.status <> 'cancelled'
	`, workerID, models.DayStart(from), models.DayStart(to)).Scan(&hours)
	return hours, err
}

func (s *Store) WorkerSettings(ctx context.Context, workerID string) (*models.HourSettings, error) {
	hs := models.HourSettings{WorkerID: workerID}
	err := s.Pool.QueryRow(ctx, `
		SELECT max_daily_hours, max_weekly_hours, avoid_weekends
		FROM worker_settings
		WHERE worker_id = $1
	`, workerID).Scan(&hs.MaxDailyHours, &hs.MaxWeeklyHours, &hs.AvoidWeekends)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hs, nil
}

func (s *Store) ListCrews(ctx context.Context, providerID string) ([]models.Crew, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, provider_id, name, color, member_ids
		FROM crews
		WHERE provider_id = $1
		ORDER BY name, id
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Crew
	for rows.Next() {
		var c models.Crew
		if err := rows.Scan(&c.ID, &c.ProviderID, &c.Name, &c.Color, &c.MemberIDs); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateProposal writes the proposal and all of its assignment rows in one
// transaction.
func (s *Store) CreateProposal(ctx context.Context, p models.Proposal) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	unassigned := p.Unassigned
	if unassigned == nil {
		unassigned = []models.UnassignedJob{}
	}
	unassignedJSON, err := json.Marshal(unassigned)
	if err != nil {
		return "", err
	}

	err = s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO proposals (id, provider_id, date, status, total_jobs, assigned_jobs, total_drive_minutes, average_score, created_by, created_at, unassigned)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, p.ID, p.ProviderID, models.DayStart(p.Date), p.Status, p.TotalJobs, p.AssignedJobs, p.TotalDriveMinutes, p.AverageScore, p.CreatedBy, p.CreatedAt, unassignedJSON); err != nil {
			return err
		}
		if len(p.Assignments) == 0 {
			return nil
		}
		rows := make([][]any, 0, len(p.Assignments))
		for i, a := range p.Assignments {
			breakdown, err := json.Marshal(a.Breakdown)
			if err != nil {
				return err
			}
			rows = append(rows, []any{p.ID, i, a.JobID, a.WorkerIDs, a.CrewID, a.SuggestedStart, a.SuggestedEnd, a.RouteOrder, a.DriveTimeMinutes, a.TotalScore, string(breakdown)})
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"proposal_assignments"},
			[]string{"proposal_id", "position", "job_id", "worker_ids", "crew_id", "suggested_start", "suggested_end", "route_order", "drive_time_minutes", "total_score", "breakdown"},
			pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create proposal: %w", err)
	}
	return p.ID, nil
}

func (s *Store) GetProposal(ctx context.Context, id string) (models.Proposal, error) {
	var (
		p              models.Proposal
		unassignedJSON []byte
	)
	err := s.Pool.QueryRow(ctx, `
		SELECT id, provider_id, date, status, total_jobs, assigned_jobs, total_drive_minutes, average_score, created_by, created_at, unassigned
		FROM proposals
		WHERE id = $1
	`, id).Scan(&p.ID, &p.ProviderID, &p.Date, &p.Status, &p.TotalJobs, &p.AssignedJobs, &p.TotalDriveMinutes, &p.AverageScore, &p.CreatedBy, &p.CreatedAt, &unassignedJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Proposal{}, ErrNotFound
	}
	if err != nil {
		return models.Proposal{}, err
	}
	if err := json.Unmarshal(unassignedJSON, &p.Unassigned); err != nil {
		return models.Proposal{}, fmt.Errorf("decode unassigned: %w", err)
	}

	rows, err := s.Pool.Query(ctx, `
		SELECT job_id, worker_ids, crew_id, suggested_start, suggested_end, route_order, drive_time_minutes, total_score, breakdown
		FROM proposal_assignments
		WHERE proposal_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return models.Proposal{}, err
	}
	defer rows.Close()

	p.Assignments = []models.ProposedAssignment{}
	for rows.Next() {
		var (
			a         models.ProposedAssignment
			breakdown []byte
		)
		if err := rows.Scan(&a.JobID, &a.WorkerIDs, &a.CrewID, &a.SuggestedStart, &a.SuggestedEnd, &a.RouteOrder, &a.DriveTimeMinutes, &a.TotalScore, &breakdown); err != nil {
			return models.Proposal{}, err
		}
		if err := json.Unmarshal(breakdown, &a.Breakdown); err != nil {
			return models.Proposal{}, fmt.Errorf("decode breakdown: %w", err)
		}
		p.Assignments = append(p.Assignments, a)
	}
	return p, rows.Err()
}

func coords(lat, lon *float64) *models.Coordinates {
	if lat == nil || lon == nil {
		return nil
	}
	return &models.Coordinates{Lat: *lat, Lon: *lon}
}
