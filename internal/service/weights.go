package service

import (
	"strings"

	"github.com/fieldcrew/backend/internal/models"
)

// highPriority is the priority at which a job is weighted like an emergency.
const highPriority = 4

var (
	urgentWeights    = models.ServiceWeights{SLA: 45, Route: 25, Continuity: 10, Balance: 20}
	recurringWeights = models.ServiceWeights{SLA: 20, Route: 30, Continuity: 30, Balance: 20}
	balancedWeights  = models.ServiceWeights{SLA: 25, Route: 25, Continuity: 25, Balance: 25}
)

// WeightsForJob returns the configured weights for the job's service type,
// falling back to a profile picked by category and priority.
func WeightsForJob(job models.Job, serviceTypes map[string]models.ServiceType) models.ServiceWeights {
	if st, ok := serviceTypes[normalizeName(job.ServiceType)]; ok && st.Weights != nil {
		return *st.Weights
	}
	return ProfileWeights(job)
}

func ProfileWeights(job models.Job) models.ServiceWeights {
	category := strings.ToLower(strings.TrimSpace(job.Category))
	switch {
	case category == models.JobCategoryEmergency || job.Priority >= highPriority:
		return urgentWeights
	case category == models.JobCategoryRecurring || category == models.JobCategoryMaintenance:
		return recurringWeights
	default:
		return balancedWeights
	}
}

func indexServiceTypes(types []models.ServiceType) map[string]models.ServiceType {
	out := make(map[string]models.ServiceType, len(types))
	for _, st := range types {
		out[normalizeName(st.Name)] = st
	}
	return out
}
