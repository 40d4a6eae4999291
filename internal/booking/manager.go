package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"hms/token-service/internal/models"
	"hms/token-service/internal/store"

	"github.com/google/uuid"
)

type BookRequest struct {
	PatientName  string `json:"patient_name"`
	PatientPhone string `json:"patient_phone"`
	PatientAge   int    `json:"patient_age"`
	Department   string `json:"department"`
	DoctorName   string `json:"doctor_name"`
	BookingDate  string `json:"booking_date"`
	BookingTime  string `json:"booking_time"`
	Symptoms     string `json:"symptoms"`
	Priority     string `json:"priority"`
	Notes        string `json:"notes"`
}

type SearchFilter struct {
	PatientName  string
	PatientPhone string
	Department   string
	BookingDate  string
	Status       string
	TokenNumber  string
}

type StatsFilter struct {
	FromDate string
	ToDate   string
}

type Report struct {
	TotalTokens      int            `json:"total_tokens"`
	ByStatus         map[string]int `json:"by_status"`
	ByDepartment     map[string]int `json:"by_department"`
	ByPriority       map[string]int `json:"by_priority"`
	CompletionRate   float64        `json:"completion_rate"`
	CancellationRate float64        `json:"cancellation_rate"`
}

type Options struct {
	Notifier Notifier
	Now      func() time.Time
}

// Manager implements the booking operations on top of the store. Every
// numbering and transition decision happens inside a store.Mutate call so
// concurrent requests can never interleave a check with an assignment.
type Manager struct {
	store  *store.Store
	notify Notifier
	now    func() time.Time
}

func NewManager(st *store.Store, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{store: st, notify: opts.Notifier, now: now}
}

func (m *Manager) Book(ctx context.Context, req BookRequest) (models.Token, error) {
	req.PatientName = strings.TrimSpace(req.PatientName)
	req.PatientPhone = strings.TrimSpace(req.PatientPhone)
	req.Department = strings.TrimSpace(req.Department)
	req.DoctorName = strings.TrimSpace(req.DoctorName)
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	if err := validateBookRequest(&req); err != nil {
		return models.Token{}, err
	}

	code, _ := models.DepartmentCode(req.Department)
	now := m.now().UTC()

	var token models.Token
	err := m.store.Mutate(func(state *store.State) error {
		key := store.ScopeKey(req.Department, req.BookingDate)
		seq := state.Counters[key] + 1
		state.Counters[key] = seq
		token = models.Token{
			TokenID:      uuid.NewString(),
			TokenNumber:  fmt.Sprintf("%s-%s-%03d", code, req.BookingDate, seq),
			PatientName:  req.PatientName,
			PatientPhone: req.PatientPhone,
			PatientAge:   req.PatientAge,
			Department:   req.Department,
			DoctorName:   req.DoctorName,
			BookingDate:  req.BookingDate,
			BookingTime:  req.BookingTime,
			Symptoms:     req.Symptoms,
			Priority:     req.Priority,
			Status:       models.StatusPending,
			Notes:        req.Notes,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		state.Tokens = append(state.Tokens, token)
		return nil
	})
	if err != nil && !isPersistError(err) {
		return models.Token{}, err
	}
	m.emit(Event{Type: EventTokenCreated, Token: token, CreatedAt: now})
	return token, err
}

func validateBookRequest(req *BookRequest) error {
	if req.PatientName == "" {
		return &ValidationError{Field: "patient_name", Reason: "must not be empty"}
	}
	if digitCount(req.PatientPhone) < 10 {
		return &ValidationError{Field: "patient_phone", Reason: "must contain at least 10 digits"}
	}
	if req.PatientAge < 0 || req.PatientAge > 150 {
		return &ValidationError{Field: "patient_age", Reason: "must be between 0 and 150"}
	}
	if !models.ValidDepartment(req.Department) {
		return &ValidationError{Field: "department", Reason: "unknown department " + req.Department}
	}
	if _, err := time.Parse(models.DateLayout, req.BookingDate); err != nil {
		return &ValidationError{Field: "booking_date", Reason: "must be YYYY-MM-DD"}
	}
	parsed, err := time.Parse(models.TimeLayout, req.BookingTime)
	if err != nil {
		parsed, err = time.Parse("15:04:05", req.BookingTime)
		if err != nil {
			return &ValidationError{Field: "booking_time", Reason: "must be HH:MM"}
		}
	}
	req.BookingTime = parsed.Format(models.TimeLayout)
	if !models.ValidPriority(req.Priority) {
		return &ValidationError{Field: "priority", Reason: "must be one of low, normal, high, emergency"}
	}
	return nil
}

func digitCount(value string) int {
	count := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			count++
		}
	}
	return count
}

func (m *Manager) Get(ctx context.Context, tokenID string) (models.Token, error) {
	var token models.Token
	found := false
	m.store.Read(func(state *store.State) {
		if t, ok := state.FindToken(tokenID); ok {
			token = *t
			found = true
		}
	})
	if !found {
		return models.Token{}, fmt.Errorf("%w: %s", ErrNotFound, tokenID)
	}
	return token, nil
}

func (m *Manager) UpdateStatus(ctx context.Context, tokenID, status, notes string) (models.Token, error) {
	if !models.ValidStatus(status) {
		return models.Token{}, &ValidationError{Field: "status", Reason: "unknown status " + status}
	}

	var token models.Token
	err := m.store.Mutate(func(state *store.State) error {
		t, ok := state.FindToken(tokenID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, tokenID)
		}
		if !ValidTransition(t.Status, status) {
			return &TransitionError{From: t.Status, To: status}
		}
		t.Status = status
		if notes != "" {
			if t.Notes != "" {
				t.Notes += "\n" + notes
			} else {
				t.Notes = notes
			}
		}
		t.UpdatedAt = m.now().UTC()
		token = *t
		return nil
	})
	if err != nil && !isPersistError(err) {
		return models.Token{}, err
	}
	m.emit(Event{Type: EventStatusChanged, Token: token, CreatedAt: token.UpdatedAt})
	return token, err
}

func (m *Manager) Cancel(ctx context.Context, tokenID string) (models.Token, error) {
	return m.UpdateStatus(ctx, tokenID, models.StatusCancelled, "")
}

// Search applies the provided filters conjunctively and returns matches in
// creation order.
func (m *Manager) Search(ctx context.Context, filter SearchFilter) []models.Token {
	var results []models.Token
	m.store.Read(func(state *store.State) {
		for _, token := range state.Tokens {
			if matchToken(token, filter) {
				results = append(results, token)
			}
		}
	})
	return results
}

func matchToken(token models.Token, filter SearchFilter) bool {
	if filter.PatientName != "" &&
		!strings.Contains(strings.ToLower(token.PatientName), strings.ToLower(filter.PatientName)) {
		return false
	}
	if filter.PatientPhone != "" && !strings.Contains(token.PatientPhone, filter.PatientPhone) {
		return false
	}
	if filter.Department != "" && token.Department != filter.Department {
		return false
	}
	if filter.BookingDate != "" && token.BookingDate != filter.BookingDate {
		return false
	}
	if filter.Status != "" && token.Status != filter.Status {
		return false
	}
	if filter.TokenNumber != "" && !strings.Contains(token.TokenNumber, filter.TokenNumber) {
		return false
	}
	return true
}

// Daily returns every token booked for the given date, optionally filtered
// by department, ordered by booking time then token number.
func (m *Manager) Daily(ctx context.Context, date, department string) []models.Token {
	var results []models.Token
	m.store.Read(func(state *store.State) {
		for _, token := range state.Tokens {
			if token.BookingDate != date {
				continue
			}
			if department != "" && token.Department != department {
				continue
			}
			results = append(results, token)
		}
	})
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].BookingTime != results[j].BookingTime {
			return results[i].BookingTime < results[j].BookingTime
		}
		return results[i].TokenNumber < results[j].TokenNumber
	})
	return results
}

func (m *Manager) Statistics(ctx context.Context, filter StatsFilter) Report {
	report := Report{
		ByStatus:     make(map[string]int),
		ByDepartment: make(map[string]int),
		ByPriority:   make(map[string]int),
	}
	m.store.Read(func(state *store.State) {
		for _, token := range state.Tokens {
			if filter.FromDate != "" && token.BookingDate < filter.FromDate {
				continue
			}
			if filter.ToDate != "" && token.BookingDate > filter.ToDate {
				continue
			}
			report.TotalTokens++
			report.ByStatus[token.Status]++
			report.ByDepartment[token.Department]++
			report.ByPriority[token.Priority]++
		}
	})
	if report.TotalTokens > 0 {
		total := float64(report.TotalTokens)
		report.CompletionRate = float64(report.ByStatus[models.StatusCompleted]) / total
		report.CancellationRate = float64(report.ByStatus[models.StatusCancelled]) / total
	}
	return report
}

func (m *Manager) SetCurrentServing(ctx context.Context, department, doctorName, tokenID string) (models.CurrentServing, error) {
	department = strings.ToLower(strings.TrimSpace(department))
	doctorName = strings.TrimSpace(doctorName)

	var entry models.CurrentServing
	err := m.store.Mutate(func(state *store.State) error {
		token, ok := state.FindToken(tokenID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, tokenID)
		}
		if token.Department != department {
			return fmt.Errorf("%w: token %s belongs to %s", ErrNotFound, tokenID, token.Department)
		}
		entry = models.CurrentServing{
			Department:  department,
			DoctorName:  doctorName,
			TokenID:     token.TokenID,
			TokenNumber: token.TokenNumber,
			PatientName: token.PatientName,
			UpdatedAt:   m.now().UTC(),
		}
		state.CurrentServing[store.ServingKey(department, doctorName)] = entry
		return nil
	})
	if err != nil && !isPersistError(err) {
		return models.CurrentServing{}, err
	}
	m.emit(Event{Type: EventServingChanged, Serving: &entry, CreatedAt: entry.UpdatedAt})
	return entry, err
}

// GetCurrentServing reports the token a doctor is attending to. An absent
// entry is not an error: found is false and the caller reports "none".
func (m *Manager) GetCurrentServing(ctx context.Context, doctorName, department string) (models.CurrentServing, bool) {
	doctorName = strings.TrimSpace(doctorName)
	var entry models.CurrentServing
	found := false
	m.store.Read(func(state *store.State) {
		if department != "" {
			entry, found = state.CurrentServing[store.ServingKey(department, doctorName)]
			return
		}
		for _, candidate := range state.CurrentServing {
			if strings.EqualFold(candidate.DoctorName, doctorName) {
				entry = candidate
				found = true
				return
			}
		}
	})
	return entry, found
}

// ExpireNoShows marks pending and confirmed tokens whose slot ended before
// the cutoff as no_show, at most limit per call. Used by the background
// sweeper in main.
func (m *Manager) ExpireNoShows(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var events []Event
	count := 0
	err := m.store.Mutate(func(state *store.State) error {
		for i := range state.Tokens {
			if limit > 0 && count >= limit {
				break
			}
			t := &state.Tokens[i]
			if t.Status != models.StatusPending && t.Status != models.StatusConfirmed {
				continue
			}
			slot, err := time.ParseInLocation(models.DateLayout+" "+models.TimeLayout, t.BookingDate+" "+t.BookingTime, time.Local)
			if err != nil || !slot.Before(cutoff) {
				continue
			}
			t.Status = models.StatusNoShow
			t.UpdatedAt = m.now().UTC()
			count++
			events = append(events, Event{Type: EventStatusChanged, Token: *t, CreatedAt: t.UpdatedAt})
		}
		return nil
	})
	for _, event := range events {
		m.emit(event)
	}
	if err != nil && !isPersistError(err) {
		return 0, err
	}
	return count, err
}

func (m *Manager) emit(event Event) {
	if m.notify == nil {
		return
	}
	m.notify.Notify(event)
}

func isPersistError(err error) bool {
	var persistErr *store.PersistError
	return errors.As(err, &persistErr)
}
