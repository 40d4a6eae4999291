package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"time"

	"hms/token-service/internal/booking"
	"hms/token-service/internal/models"
	"hms/token-service/internal/store"

	"github.com/google/uuid"
)

// BookingService is the engine boundary consumed by the HTTP layer. The
// chat agent calls the same operations through its tool interface.
type BookingService interface {
	Book(ctx context.Context, req booking.BookRequest) (models.Token, error)
	Get(ctx context.Context, tokenID string) (models.Token, error)
	UpdateStatus(ctx context.Context, tokenID, status, notes string) (models.Token, error)
	Cancel(ctx context.Context, tokenID string) (models.Token, error)
	Search(ctx context.Context, filter booking.SearchFilter) []models.Token
	Daily(ctx context.Context, date, department string) []models.Token
	Statistics(ctx context.Context, filter booking.StatsFilter) booking.Report
	SetCurrentServing(ctx context.Context, department, doctorName, tokenID string) (models.CurrentServing, error)
	GetCurrentServing(ctx context.Context, doctorName, department string) (models.CurrentServing, bool)
}

type Handler struct {
	service BookingService
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type setServingRequest struct {
	Department string `json:"department"`
	DoctorName string `json:"doctor_name"`
	TokenID    string `json:"token_id"`
}

type enumEntry struct {
	Value string `json:"value"`
	Name  string `json:"name"`
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(service BookingService) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tokens", h.handleBook)
	mux.HandleFunc("/api/tokens/search", h.handleSearch)
	mux.HandleFunc("/api/tokens/daily", h.handleDaily)
	mux.HandleFunc("/api/tokens/stats", h.handleStats)
	mux.HandleFunc("/api/tokens/", h.handleTokenByID)
	mux.HandleFunc("/api/departments", h.handleDepartments)
	mux.HandleFunc("/api/statuses", h.handleStatuses)
	mux.HandleFunc("/api/serving", h.handleServing)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req booking.BookRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	token, err := h.service.Book(r.Context(), req)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, token)
}

func (h *Handler) handleTokenByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tokens/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, parts[0])
	case len(parts) == 1 && r.Method == http.MethodDelete:
		h.handleCancel(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "status" && r.Method == http.MethodPut:
		h.handleUpdateStatus(w, r, parts[0])
	case len(parts) == 1 || (len(parts) == 2 && parts[1] == "status"):
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, tokenID string) {
	if !isValidUUID(tokenID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}
	token, err := h.service.Get(r.Context(), tokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleUpdateStatus(w http.ResponseWriter, r *http.Request, tokenID string) {
	if !isValidUUID(tokenID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	var req updateStatusRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "status is required")
		return
	}

	token, err := h.service.UpdateStatus(r.Context(), tokenID, req.Status, req.Notes)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, tokenID string) {
	if !isValidUUID(tokenID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}
	token, err := h.service.Cancel(r.Context(), tokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	filter := booking.SearchFilter{
		PatientName:  strings.TrimSpace(query.Get("patient_name")),
		PatientPhone: strings.TrimSpace(query.Get("patient_phone")),
		Department:   strings.TrimSpace(query.Get("department")),
		BookingDate:  strings.TrimSpace(query.Get("booking_date")),
		Status:       strings.TrimSpace(query.Get("status")),
		TokenNumber:  strings.TrimSpace(query.Get("token_number")),
	}
	if filter.Department != "" && !models.ValidDepartment(filter.Department) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown department")
		return
	}
	if filter.Status != "" && !models.ValidStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status")
		return
	}
	if filter.BookingDate != "" && !isValidDate(filter.BookingDate) {
		writeError(w, http.StatusBadRequest, "invalid_request", "booking_date must be YYYY-MM-DD")
		return
	}

	tokens := h.service.Search(r.Context(), filter)
	if tokens == nil {
		tokens = []models.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	date := strings.TrimSpace(r.URL.Query().Get("date"))
	department := strings.TrimSpace(r.URL.Query().Get("department"))
	if !isValidDate(date) {
		writeError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	if department != "" && !models.ValidDepartment(department) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown department")
		return
	}

	tokens := h.service.Daily(r.Context(), date, department)
	if tokens == nil {
		tokens = []models.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if from != "" && !isValidDate(from) {
		writeError(w, http.StatusBadRequest, "invalid_request", "from must be YYYY-MM-DD")
		return
	}
	if to != "" && !isValidDate(to) {
		writeError(w, http.StatusBadRequest, "invalid_request", "to must be YYYY-MM-DD")
		return
	}

	report := h.service.Statistics(r.Context(), booking.StatsFilter{FromDate: from, ToDate: to})
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleDepartments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, enumEntries(models.Departments()))
}

func (h *Handler) handleStatuses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, enumEntries(models.Statuses()))
}

func (h *Handler) handleServing(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleSetServing(w, r)
	case http.MethodGet:
		h.handleGetServing(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleSetServing(w http.ResponseWriter, r *http.Request) {
	var req setServingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Department = strings.TrimSpace(req.Department)
	req.DoctorName = strings.TrimSpace(req.DoctorName)
	req.TokenID = strings.TrimSpace(req.TokenID)
	if req.Department == "" || req.DoctorName == "" || req.TokenID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "department, doctor_name, and token_id are required")
		return
	}
	if !isValidUUID(req.TokenID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	entry, err := h.service.SetCurrentServing(r.Context(), req.Department, req.DoctorName, req.TokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleGetServing(w http.ResponseWriter, r *http.Request) {
	doctorName := strings.TrimSpace(r.URL.Query().Get("doctor_name"))
	department := strings.TrimSpace(r.URL.Query().Get("department"))
	if doctorName == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "doctor_name is required")
		return
	}

	entry, found := h.service.GetCurrentServing(r.Context(), doctorName, department)
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func enumEntries(values []string) []enumEntry {
	entries := make([]enumEntry, 0, len(values))
	for _, value := range values {
		entries = append(entries, enumEntry{Value: value, Name: displayName(value)})
	}
	return entries
}

func displayName(value string) string {
	words := strings.Split(value, "_")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidDate(value string) bool {
	_, err := time.Parse(models.DateLayout, value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	var validationErr *booking.ValidationError
	var transitionErr *booking.TransitionError
	var persistErr *store.PersistError
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, "invalid_request", validationErr.Error()
	case errors.As(err, &transitionErr):
		return http.StatusConflict, "invalid_transition", transitionErr.Error()
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "token_not_found", err.Error()
	case errors.As(err, &persistErr):
		return http.StatusInternalServerError, "persistence_error", "change applied but not durably saved, retry or alert an operator"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
