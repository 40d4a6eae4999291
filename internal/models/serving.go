package models

import "time"

// CurrentServing records which token a doctor is attending to right now.
// There is at most one entry per (department, doctor) pair.
type CurrentServing struct {
	Department  string    `json:"department"`
	DoctorName  string    `json:"doctor_name"`
	TokenID     string    `json:"token_id"`
	TokenNumber string    `json:"token_number"`
	PatientName string    `json:"patient_name"`
	UpdatedAt   time.Time `json:"updated_at"`
}
