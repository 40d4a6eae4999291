package models

import "time"

type Token struct {
	TokenID      string    `json:"token_id"`
	TokenNumber  string    `json:"token_number"`
	PatientName  string    `json:"patient_name"`
	PatientPhone string    `json:"patient_phone"`
	PatientAge   int       `json:"patient_age"`
	Department   string    `json:"department"`
	DoctorName   string    `json:"doctor_name,omitempty"`
	BookingDate  string    `json:"booking_date"`
	BookingTime  string    `json:"booking_time"`
	Symptoms     string    `json:"symptoms,omitempty"`
	Priority     string    `json:"priority"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

const (
	PriorityLow       = "low"
	PriorityNormal    = "normal"
	PriorityHigh      = "high"
	PriorityEmergency = "emergency"
)

// DateLayout and TimeLayout are the wire and storage formats for booking
// dates and times of day.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Statuses lists every token status in fixed order. Terminal statuses
// (completed, cancelled, no_show) admit no further transitions.
func Statuses() []string {
	return []string{
		StatusPending,
		StatusConfirmed,
		StatusCompleted,
		StatusCancelled,
		StatusNoShow,
	}
}

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

func ValidStatus(status string) bool {
	for _, s := range Statuses() {
		if s == status {
			return true
		}
	}
	return false
}

func ValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}
