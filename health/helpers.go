package health

import (
	"sort"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   sanitizeMessage(message),
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// Aggregate folds sub-statuses into one: unhealthy if any is unhealthy,
// otherwise degraded if any is degraded, otherwise healthy. Sub-statuses
// are kept sorted by component.
func Aggregate(component string, subStatuses []Status) Status {
	worst := StateHealthy
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			worst = StateUnhealthy
		case sub.IsDegraded() && worst == StateHealthy:
			worst = StateDegraded
		}
	}

	var status Status
	switch worst {
	case StateUnhealthy:
		status = NewUnhealthy(component, "one or more dependencies are unhealthy")
	case StateDegraded:
		status = NewDegraded(component, "one or more dependencies are degraded")
	default:
		status = NewHealthy(component, "")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	sort.Slice(status.SubStatuses, func(i, j int) bool {
		return status.SubStatuses[i].Component < status.SubStatuses[j].Component
	})
	return status
}
