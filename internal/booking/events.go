package booking

import (
	"time"

	"hms/token-service/internal/models"
)

const (
	EventTokenCreated   = "token.created"
	EventStatusChanged  = "token.status_changed"
	EventServingChanged = "serving.changed"
)

type Event struct {
	Type      string                 `json:"type"`
	Token     models.Token           `json:"token"`
	Serving   *models.CurrentServing `json:"serving,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Notifier receives an event after each successful mutation. Delivery is
// best-effort; the booking itself never depends on it.
type Notifier interface {
	Notify(Event)
}
