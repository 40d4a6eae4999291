package booking

import "hms/token-service/internal/models"

// Terminal statuses have no entry: nothing transitions out of them.
var transitionMap = map[string][]string{
	models.StatusPending:   {models.StatusConfirmed, models.StatusCancelled, models.StatusNoShow},
	models.StatusConfirmed: {models.StatusCompleted, models.StatusCancelled, models.StatusNoShow},
}

func ValidTransition(from, to string) bool {
	allowed, ok := transitionMap[from]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == to {
			return true
		}
	}
	return false
}
