package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/fieldcrew/backend/internal/db"
	"github.com/fieldcrew/backend/internal/distance"
	"github.com/fieldcrew/backend/internal/geocode"
	"github.com/fieldcrew/backend/internal/models"
	"github.com/fieldcrew/backend/internal/service"
)

type Scheduler interface {
	ScheduleJobsForDate(ctx context.Context, providerID string, date time.Time, opts service.Options) (models.ScheduleResult, error)
}

type ProposalReader interface {
	GetProposal(ctx context.Context, id string) (models.Proposal, error)
}

type Geocoder interface {
	geocode.Geocoder
	ReverseGeocode(ctx context.Context, lat, lon float64) *geocode.Result
}

type DistanceEstimator interface {
	Driving(ctx context.Context, a, b models.Coordinates) distance.Estimate
	WithTraffic(ctx context.Context, a, b models.Coordinates, departure time.Time) distance.Estimate
	Matrix(ctx context.Context, origins, destinations []models.Coordinates, departure time.Time) [][]distance.Estimate
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Scheduler    Scheduler
	Proposals    ProposalReader
	Availability service.Checker
	Geocoder     Geocoder
	Distance     DistanceEstimator
	// Health is optional; a nil Health always reports ok.
	Health         Pinger
	Validator      *validator.Validate
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

// @Summary Health check
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	if h.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.Health.Ping(ctx); err != nil {
			writeError(c, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Backing store unavailable", err.Error())
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type ScheduleRequest struct {
	ProviderID       string   `json:"provider_id" validate:"required"`
	Date             string   `json:"date" validate:"required,datetime=2006-01-02"`
	JobIDs           []string `json:"job_ids" validate:"omitempty,dive,required"`
	ExcludeWorkerIDs []string `json:"exclude_worker_ids" validate:"omitempty,dive,required"`
	CreatedBy        string   `json:"created_by"`
}

// @Summary Run the scheduler
// @Description Builds a draft assignment proposal for one provider and day
// @Tags schedules
// @Accept json
// @Produce json
// @Param X-Admin-Key header string false "Admin key"
// @Param request body ScheduleRequest true "Scheduling run"
// @Success 200 {object} models.ScheduleResult
// @Failure 400 {object} map[string]any
// @Failure 500 {object} map[string]any
// @Router /api/schedules [post]
func (h *Handler) CreateSchedule(c *gin.Context) {
	var req ScheduleRequest
	if !h.bind(c, &req) {
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)

	ctx := c.Request.Context()
	if h.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.RequestTimeout)
		defer cancel()
	}
	result, err := h.Scheduler.ScheduleJobsForDate(ctx, strings.TrimSpace(req.ProviderID), date, service.Options{
		JobIDs:           req.JobIDs,
		ExcludeWorkerIDs: req.ExcludeWorkerIDs,
		CreatedBy:        req.CreatedBy,
	})
	if err != nil {
		h.Logger.Error().Err(err).Str("provider_id", req.ProviderID).Msg("scheduling failed")
		writeError(c, http.StatusInternalServerError, "SCHEDULING_ERROR", "Scheduling failed", result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// @Summary Proposal details
// @Tags schedules
// @Produce json
// @Param id path string true "Proposal ID"
// @Success 200 {object} models.Proposal
// @Failure 404 {object} map[string]any
// @Router /api/proposals/{id} [get]
func (h *Handler) GetProposal(c *gin.Context) {
	p, err := h.Proposals.GetProposal(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Proposal not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load proposal", err.Error())
		return
	}
	c.JSON(http.StatusOK, p)
}

type AvailabilityRequest struct {
	WorkerID      string  `json:"worker_id" validate:"required"`
	JobID         string  `json:"job_id"`
	Date          string  `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime     string  `json:"start_time" validate:"required"`
	EndTime       string  `json:"end_time" validate:"required"`
	DurationHours float64 `json:"duration_hours" validate:"gte=0,lte=24"`
}

// @Summary Check worker availability
// @Tags availability
// @Accept json
// @Produce json
// @Param request body AvailabilityRequest true "Proposed slot"
// @Success 200 {object} service.Availability
// @Failure 400 {object} map[string]any
// @Router /api/availability/check [post]
func (h *Handler) CheckAvailability(c *gin.Context) {
	var req AvailabilityRequest
	if !h.bind(c, &req) {
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)
	duration := req.DurationHours
	if duration == 0 {
		if s, e, err := clockWindow(req.StartTime, req.EndTime); err == nil {
			duration = float64(e-s) / 60
		}
	}

	result, err := h.Availability.CheckAvailability(c.Request.Context(), service.CheckRequest{
		WorkerID:      req.WorkerID,
		JobID:         req.JobID,
		Date:          date,
		StartTime:     req.StartTime,
		EndTime:       req.EndTime,
		DurationHours: duration,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidTimeWindow) {
			writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid time window", err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Availability check failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, result)
}

type GeocodeRequest struct {
	Address string   `json:"address" validate:"required_without_all=Lat Lon"`
	Lat     *float64 `json:"lat" validate:"required_with=Lon,omitempty,latitude"`
	Lon     *float64 `json:"lon" validate:"required_with=Lat,omitempty,longitude"`
}

type GeocodeResponse struct {
	*geocode.Result
	WithinUS bool `json:"within_us"`
}

// @Summary Geocode an address
// @Description Forward geocodes address, or reverse geocodes lat/lon when no address is given
// @Tags geocode
// @Accept json
// @Produce json
// @Param request body GeocodeRequest true "Address or coordinates"
// @Success 200 {object} GeocodeResponse
// @Failure 404 {object} map[string]any
// @Router /api/geocode [post]
func (h *Handler) Geocode(c *gin.Context) {
	var req GeocodeRequest
	if !h.bind(c, &req) {
		return
	}
	var res *geocode.Result
	if strings.TrimSpace(req.Address) != "" {
		res = h.Geocoder.GeocodeAddress(c.Request.Context(), req.Address)
	} else {
		res = h.Geocoder.ReverseGeocode(c.Request.Context(), *req.Lat, *req.Lon)
	}
	if res == nil {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Location not found", nil)
		return
	}
	c.JSON(http.StatusOK, GeocodeResponse{Result: res, WithinUS: geocode.WithinUSBounds(res.Latitude, res.Longitude)})
}

// @Summary Estimate drive distance
// @Description Driving estimate between two points; departure ("now" or RFC3339) adds traffic
// @Tags distance
// @Produce json
// @Param from_lat query number true "Origin latitude"
// @Param from_lon query number true "Origin longitude"
// @Param to_lat query number true "Destination latitude"
// @Param to_lon query number true "Destination longitude"
// @Param departure query string false "now or RFC3339 time"
// @Success 200 {object} distance.Estimate
// @Failure 400 {object} map[string]any
// @Router /api/distance [get]
func (h *Handler) EstimateDistance(c *gin.Context) {
	from, err := queryCoords(c, "from_lat", "from_lon")
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid origin", err.Error())
		return
	}
	to, err := queryCoords(c, "to_lat", "to_lon")
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid destination", err.Error())
		return
	}
	departure, err := parseDeparture(c.Query("departure"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid departure", err.Error())
		return
	}
	if departure.IsZero() {
		c.JSON(http.StatusOK, h.Distance.Driving(c.Request.Context(), from, to))
		return
	}
	c.JSON(http.StatusOK, h.Distance.WithTraffic(c.Request.Context(), from, to, departure))
}

type MatrixRequest struct {
	Origins      []models.Coordinates `json:"origins" validate:"required,min=1,max=100"`
	Destinations []models.Coordinates `json:"destinations" validate:"required,min=1,max=100"`
	Departure    string               `json:"departure"`
}

// @Summary Distance matrix
// @Tags distance
// @Accept json
// @Produce json
// @Param request body MatrixRequest true "Origins and destinations"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/distance/matrix [post]
func (h *Handler) DistanceMatrix(c *gin.Context) {
	var req MatrixRequest
	if !h.bind(c, &req) {
		return
	}
	departure, err := parseDeparture(req.Departure)
	if err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid departure", err.Error())
		return
	}
	rows := h.Distance.Matrix(c.Request.Context(), req.Origins, req.Destinations, departure)
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

func (h *Handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid payload", err.Error())
		return false
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed", err.Error())
		return false
	}
	return true
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func queryCoords(c *gin.Context, latKey, lonKey string) (models.Coordinates, error) {
	lat, err := strconv.ParseFloat(c.Query(latKey), 64)
	if err != nil || lat < -90 || lat > 90 {
		return models.Coordinates{}, errors.New(latKey + " must be a latitude")
	}
	lon, err := strconv.ParseFloat(c.Query(lonKey), 64)
	if err != nil || lon < -180 || lon > 180 {
		return models.Coordinates{}, errors.New(lonKey + " must be a longitude")
	}
	return models.Coordinates{Lat: lat, Lon: lon}, nil
}

// parseDeparture returns the zero time for "", time.Now for "now" and the
// parsed instant for an RFC3339 value.
func parseDeparture(v string) (time.Time, error) {
	switch v = strings.TrimSpace(v); {
	case v == "":
		return time.Time{}, nil
	case strings.EqualFold(v, "now"):
		return time.Now(), nil
	}
	return time.Parse(time.RFC3339, v)
}

func clockWindow(start, end string) (int, int, error) {
	s, err := models.ParseClock(start)
	if err != nil {
		return 0, 0, err
	}
	e, err := models.ParseClock(end)
	if err != nil {
		return 0, 0, err
	}
	return s, e, nil
}
