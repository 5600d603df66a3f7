package models

import "time"

const (
	JobCategoryEmergency   = "emergency"
	JobCategoryRecurring   = "recurring"
	JobCategoryMaintenance = "maintenance"
	JobCategoryFirstVisit  = "first_visit"
)

const (
	JobStatusScheduled = "scheduled"
	JobStatusCancelled = "cancelled"
	JobStatusCompleted = "completed"
)

const (
	WorkerRoleField    = "field"
	WorkerStatusActive = "active"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Customer struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	PreferredWorkerIDs []string `json:"preferred_worker_ids,omitempty"`
	BlockedWorkerIDs   []string `json:"blocked_worker_ids,omitempty"`
}

type Job struct {
	ID                   string       `json:"id"`
	ProviderID           string       `json:"provider_id"`
	ServiceType          string       `json:"service_type"`
	Status               string       `json:"status"`
	ScheduledDate        time.Time    `json:"scheduled_date"`
	StartTime            string       `json:"start_time"`
	EndTime              string       `json:"end_time"`
	DurationHours        float64      `json:"duration_hours"`
	CrewSizeRequired     int          `json:"crew_size_required"`
	Priority             int          `json:"priority"`
	Category             string       `json:"category"`
	Address              string       `json:"address"`
	City                 string       `json:"city"`
	State                string       `json:"state"`
	ZipCode              string       `json:"zip_code"`
	Zone                 string       `json:"zone"`
	Location             *Coordinates `json:"location,omitempty"`
	RequiredEquipment    []string     `json:"required_equipment,omitempty"`
	Customer             Customer     `json:"customer"`
	ServiceWindowMinutes int          `json:"service_window_minutes"`
	AssignedWorkerIDs    []string     `json:"assigned_worker_ids,omitempty"`
}

type WorkerSkill struct {
	SkillID     string `json:"skill_id"`
	Name        string `json:"name"`
	Proficiency int    `json:"proficiency"`
}

type Worker struct {
	ID             string        `json:"id"`
	ProviderID     string        `json:"provider_id"`
	Name           string        `json:"name"`
	Role           string        `json:"role"`
	Status         string        `json:"status"`
	Home           *Coordinates  `json:"home,omitempty"`
	Skills         []WorkerSkill `json:"skills"`
	PreferredZones []string      `json:"preferred_zones,omitempty"`
}

type Crew struct {
	ID         string   `json:"id"`
	ProviderID string   `json:"provider_id"`
	Name       string   `json:"name"`
	Color      string   `json:"color"`
	MemberIDs  []string `json:"member_ids"`
}

type ServiceWeights struct {
	SLA        float64 `json:"sla" yaml:"sla"`
	Route      float64 `json:"route" yaml:"route"`
	Continuity float64 `json:"continuity" yaml:"continuity"`
	Balance    float64 `json:"balance" yaml:"balance"`
}

type ServiceType struct {
	Name                 string          `json:"name"`
	Weights              *ServiceWeights `json:"weights,omitempty"`
	DefaultDurationHours float64         `json:"default_duration_hours"`
	DefaultCrewSize      int             `json:"default_crew_size"`
	RequiredSkillIDs     []string        `json:"required_skill_ids,omitempty"`
	PreferredSkillIDs    []string        `json:"preferred_skill_ids,omitempty"`
}

type WeeklySchedule struct {
	WorkerID    string       `json:"worker_id"`
	DayOfWeek   time.Weekday `json:"day_of_week"`
	IsAvailable bool         `json:"is_available"`
	StartTime   string       `json:"start_time"`
	EndTime     string       `json:"end_time"`
}

type TimeOff struct {
	ID        string    `json:"id"`
	WorkerID  string    `json:"worker_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"`
}

type HourSettings struct {
	WorkerID       string  `json:"worker_id"`
	MaxDailyHours  float64 `json:"max_daily_hours"`
	MaxWeeklyHours float64 `json:"max_weekly_hours"`
	AvoidWeekends  bool    `json:"avoid_weekends"`
}

// WorkerJob is a job already on a worker's calendar.
type WorkerJob struct {
	JobID         string    `json:"job_id"`
	Date          time.Time `json:"date"`
	StartTime     string    `json:"start_time"`
	EndTime       string    `json:"end_time"`
	DurationHours float64   `json:"duration_hours"`
}

type ScoreBreakdown struct {
	SLA        float64 `json:"sla"`
	Route      float64 `json:"route"`
	Continuity float64 `json:"continuity"`
	Balance    float64 `json:"balance"`
}

func (b ScoreBreakdown) Total() float64 {
	return b.SLA + b.Route + b.Continuity + b.Balance
}

type ProposedAssignment struct {
	JobID            string         `json:"job_id"`
	WorkerIDs        []string       `json:"worker_ids"`
	CrewID           string         `json:"crew_id,omitempty"`
	SuggestedStart   string         `json:"suggested_start"`
	SuggestedEnd     string         `json:"suggested_end"`
	RouteOrder       int            `json:"route_order"`
	DriveTimeMinutes int            `json:"drive_time_minutes"`
	TotalScore       float64        `json:"total_score"`
	Breakdown        ScoreBreakdown `json:"breakdown"`
}

type UnassignedJob struct {
	JobID   string   `json:"job_id"`
	Reasons []string `json:"reasons,omitempty"`
}

type ScheduleStats struct {
	TotalJobs         int     `json:"total_jobs"`
	AssignedJobs      int     `json:"assigned_jobs"`
	UnassignedJobs    int     `json:"unassigned_jobs"`
	TotalDriveMinutes int     `json:"total_drive_minutes"`
	AverageScore      float64 `json:"average_score"`
}

type ScheduleResult struct {
	Success     bool                 `json:"success"`
	ProposalID  string               `json:"proposal_id,omitempty"`
	Assignments []ProposedAssignment `json:"assignments"`
	Unassigned  []UnassignedJob      `json:"unassigned"`
	Stats       ScheduleStats        `json:"stats"`
	Errors      []string             `json:"errors,omitempty"`
}

type Proposal struct {
	ID                string               `json:"id"`
	ProviderID        string               `json:"provider_id"`
	Date              time.Time            `json:"date"`
	Status            string               `json:"status"`
	TotalJobs         int                  `json:"total_jobs"`
	AssignedJobs      int                  `json:"assigned_jobs"`
	TotalDriveMinutes int                  `json:"total_drive_minutes"`
	AverageScore      float64              `json:"average_score"`
	CreatedBy         string               `json:"created_by,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	Assignments       []ProposedAssignment `json:"assignments"`
	Unassigned        []UnassignedJob      `json:"unassigned"`
}
