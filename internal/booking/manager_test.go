package booking

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"hms/token-service/internal/models"
	"hms/token-service/internal/store"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]string, 0, len(n.events))
	for _, event := range n.events {
		types = append(types, event.Type)
	}
	return types
}

func newTestManager(t *testing.T) (*Manager, *recordingNotifier) {
	t.Helper()
	st := store.Open(filepath.Join(t.TempDir(), "tokens.json"))
	notifier := &recordingNotifier{}
	return NewManager(st, Options{Notifier: notifier}), notifier
}

func validRequest() BookRequest {
	return BookRequest{
		PatientName:  "John Doe",
		PatientPhone: "9998887777",
		PatientAge:   42,
		Department:   "general_medicine",
		BookingDate:  "2025-10-10",
		BookingTime:  "10:30",
	}
}

func TestBookAssignsScopedNumbers(t *testing.T) {
	manager, notifier := newTestManager(t)
	ctx := context.Background()

	first, err := manager.Book(ctx, validRequest())
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if first.TokenNumber != "GM-2025-10-10-001" {
		t.Fatalf("token number = %q, want GM-2025-10-10-001", first.TokenNumber)
	}
	if first.Status != models.StatusPending {
		t.Fatalf("status = %q, want pending", first.Status)
	}
	if first.TokenID == "" {
		t.Fatal("token id not assigned")
	}
	if first.Priority != models.PriorityNormal {
		t.Fatalf("priority = %q, want normal", first.Priority)
	}

	second, err := manager.Book(ctx, validRequest())
	if err != nil {
		t.Fatalf("book second: %v", err)
	}
	if second.TokenNumber != "GM-2025-10-10-002" {
		t.Fatalf("second token number = %q, want GM-2025-10-10-002", second.TokenNumber)
	}

	cardio := validRequest()
	cardio.Department = "cardiology"
	third, err := manager.Book(ctx, cardio)
	if err != nil {
		t.Fatalf("book cardiology: %v", err)
	}
	if third.TokenNumber != "CARD-2025-10-10-001" {
		t.Fatalf("cardiology token number = %q, want CARD-2025-10-10-001", third.TokenNumber)
	}

	otherDay := validRequest()
	otherDay.BookingDate = "2025-10-11"
	fourth, err := manager.Book(ctx, otherDay)
	if err != nil {
		t.Fatalf("book other day: %v", err)
	}
	if fourth.TokenNumber != "GM-2025-10-11-001" {
		t.Fatalf("other day token number = %q, want GM-2025-10-11-001", fourth.TokenNumber)
	}

	types := notifier.types()
	if len(types) != 4 || types[0] != EventTokenCreated {
		t.Fatalf("events = %v, want four token.created", types)
	}
}

func TestBookValidation(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*BookRequest)
		field  string
	}{
		{"empty name", func(r *BookRequest) { r.PatientName = "  " }, "patient_name"},
		{"short phone", func(r *BookRequest) { r.PatientPhone = "12345" }, "patient_phone"},
		{"age too high", func(r *BookRequest) { r.PatientAge = 151 }, "patient_age"},
		{"negative age", func(r *BookRequest) { r.PatientAge = -1 }, "patient_age"},
		{"unknown department", func(r *BookRequest) { r.Department = "radiology" }, "department"},
		{"bad date", func(r *BookRequest) { r.BookingDate = "10/10/2025" }, "booking_date"},
		{"bad time", func(r *BookRequest) { r.BookingTime = "half past ten" }, "booking_time"},
		{"bad priority", func(r *BookRequest) { r.Priority = "urgent" }, "priority"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			_, err := manager.Book(ctx, req)
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if validationErr.Field != tt.field {
				t.Fatalf("field = %q, want %q", validationErr.Field, tt.field)
			}
		})
	}

	if results := manager.Search(ctx, SearchFilter{}); len(results) != 0 {
		t.Fatalf("rejected bookings were persisted: %d tokens", len(results))
	}
}

func TestBookAcceptsSecondsInTime(t *testing.T) {
	manager, _ := newTestManager(t)
	req := validRequest()
	req.BookingTime = "10:30:00"
	token, err := manager.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if token.BookingTime != "10:30" {
		t.Fatalf("booking time = %q, want 10:30", token.BookingTime)
	}
}

func TestUpdateStatusTransitions(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	token, err := manager.Book(ctx, validRequest())
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	confirmed, err := manager.UpdateStatus(ctx, token.TokenID, models.StatusConfirmed, "arrived")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != models.StatusConfirmed {
		t.Fatalf("status = %q, want confirmed", confirmed.Status)
	}
	if confirmed.Notes != "arrived" {
		t.Fatalf("notes = %q, want arrived", confirmed.Notes)
	}

	_, err = manager.UpdateStatus(ctx, token.TokenID, models.StatusPending, "")
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("err = %v, want TransitionError", err)
	}
	if transitionErr.From != models.StatusConfirmed || transitionErr.To != models.StatusPending {
		t.Fatalf("transition error %s -> %s, want confirmed -> pending", transitionErr.From, transitionErr.To)
	}

	completed, err := manager.UpdateStatus(ctx, token.TokenID, models.StatusCompleted, "seen by doctor")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Notes != "arrived\nseen by doctor" {
		t.Fatalf("notes = %q, want appended", completed.Notes)
	}

	if _, err := manager.UpdateStatus(ctx, token.TokenID, models.StatusCancelled, ""); !errors.As(err, &transitionErr) {
		t.Fatalf("terminal token transitioned: %v", err)
	}
}

func TestUpdateStatusUnknownToken(t *testing.T) {
	manager, _ := newTestManager(t)
	_, err := manager.UpdateStatus(context.Background(), "ccf660cf-389a-4994-a686-4700e4e0d0ad", models.StatusConfirmed, "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	manager, _ := newTestManager(t)
	token, err := manager.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	_, err = manager.UpdateStatus(context.Background(), token.TokenID, "done", "")
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestCancelTwice(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	token, err := manager.Book(ctx, validRequest())
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	cancelled, err := manager.Cancel(ctx, token.TokenID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", cancelled.Status)
	}

	_, err = manager.Cancel(ctx, token.TokenID)
	var transitionErr *TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("second cancel err = %v, want TransitionError", err)
	}
}

func TestSearchFilters(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	john := validRequest()
	if _, err := manager.Book(ctx, john); err != nil {
		t.Fatalf("book: %v", err)
	}

	jane := validRequest()
	jane.PatientName = "Jane Roe"
	jane.PatientPhone = "8887776666"
	jane.Department = "cardiology"
	if _, err := manager.Book(ctx, jane); err != nil {
		t.Fatalf("book: %v", err)
	}

	results := manager.Search(ctx, SearchFilter{PatientName: "jane"})
	if len(results) != 1 || results[0].PatientName != "Jane Roe" {
		t.Fatalf("name search results = %+v", results)
	}

	results = manager.Search(ctx, SearchFilter{PatientPhone: "888777"})
	if len(results) != 1 || results[0].PatientPhone != "8887776666" {
		t.Fatalf("phone search results = %+v", results)
	}

	results = manager.Search(ctx, SearchFilter{Department: "cardiology", Status: models.StatusPending})
	if len(results) != 1 || results[0].Department != "cardiology" {
		t.Fatalf("conjunctive search results = %+v", results)
	}

	results = manager.Search(ctx, SearchFilter{Department: "cardiology", PatientName: "john"})
	if len(results) != 0 {
		t.Fatalf("conjunctive mismatch returned %d results", len(results))
	}

	results = manager.Search(ctx, SearchFilter{TokenNumber: "GM-2025-10-10"})
	if len(results) != 1 || results[0].PatientName != "John Doe" {
		t.Fatalf("token number search results = %+v", results)
	}

	results = manager.Search(ctx, SearchFilter{})
	if len(results) != 2 || results[0].PatientName != "John Doe" {
		t.Fatalf("unfiltered search not in creation order: %+v", results)
	}
}

func TestDailyOrdering(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	times := []string{"14:00", "09:15", "11:45"}
	for _, slot := range times {
		req := validRequest()
		req.BookingTime = slot
		if _, err := manager.Book(ctx, req); err != nil {
			t.Fatalf("book %s: %v", slot, err)
		}
	}
	other := validRequest()
	other.BookingDate = "2025-10-11"
	if _, err := manager.Book(ctx, other); err != nil {
		t.Fatalf("book other day: %v", err)
	}

	tokens := manager.Daily(ctx, "2025-10-10", "")
	if len(tokens) != 3 {
		t.Fatalf("daily returned %d tokens, want 3", len(tokens))
	}
	want := []string{"09:15", "11:45", "14:00"}
	for i, token := range tokens {
		if token.BookingTime != want[i] {
			t.Fatalf("daily[%d] time = %q, want %q", i, token.BookingTime, want[i])
		}
	}

	if tokens := manager.Daily(ctx, "2025-10-10", "cardiology"); len(tokens) != 0 {
		t.Fatalf("department filter returned %d tokens", len(tokens))
	}
}

func TestStatisticsRates(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		token, err := manager.Book(ctx, validRequest())
		if err != nil {
			t.Fatalf("book: %v", err)
		}
		ids = append(ids, token.TokenID)
	}
	for _, id := range ids[:2] {
		if _, err := manager.UpdateStatus(ctx, id, models.StatusConfirmed, ""); err != nil {
			t.Fatalf("confirm: %v", err)
		}
		if _, err := manager.UpdateStatus(ctx, id, models.StatusCompleted, ""); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}
	if _, err := manager.Cancel(ctx, ids[2]); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	report := manager.Statistics(ctx, StatsFilter{})
	if report.TotalTokens != 4 {
		t.Fatalf("total = %d, want 4", report.TotalTokens)
	}
	if report.CompletionRate != 0.5 {
		t.Fatalf("completion rate = %v, want 0.5", report.CompletionRate)
	}
	if report.CancellationRate != 0.25 {
		t.Fatalf("cancellation rate = %v, want 0.25", report.CancellationRate)
	}
	if report.ByStatus[models.StatusPending] != 1 {
		t.Fatalf("pending count = %d, want 1", report.ByStatus[models.StatusPending])
	}
	if report.ByDepartment["general_medicine"] != 4 {
		t.Fatalf("department count = %d, want 4", report.ByDepartment["general_medicine"])
	}
}

func TestStatisticsEmpty(t *testing.T) {
	manager, _ := newTestManager(t)
	report := manager.Statistics(context.Background(), StatsFilter{})
	if report.TotalTokens != 0 || report.CompletionRate != 0 || report.CancellationRate != 0 {
		t.Fatalf("empty report = %+v", report)
	}
}

func TestStatisticsDateRange(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	early := validRequest()
	early.BookingDate = "2025-10-01"
	if _, err := manager.Book(ctx, early); err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := manager.Book(ctx, validRequest()); err != nil {
		t.Fatalf("book: %v", err)
	}

	report := manager.Statistics(ctx, StatsFilter{FromDate: "2025-10-05", ToDate: "2025-10-31"})
	if report.TotalTokens != 1 {
		t.Fatalf("ranged total = %d, want 1", report.TotalTokens)
	}
}

func TestCurrentServing(t *testing.T) {
	manager, notifier := newTestManager(t)
	ctx := context.Background()

	req := validRequest()
	req.Department = "cardiology"
	token, err := manager.Book(ctx, req)
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	entry, err := manager.SetCurrentServing(ctx, "cardiology", "Dr. Sharma", token.TokenID)
	if err != nil {
		t.Fatalf("set serving: %v", err)
	}
	if entry.TokenID != token.TokenID || entry.TokenNumber != token.TokenNumber {
		t.Fatalf("entry = %+v", entry)
	}

	got, found := manager.GetCurrentServing(ctx, "Dr. Sharma", "")
	if !found || got.TokenID != token.TokenID {
		t.Fatalf("get serving = %+v found=%v", got, found)
	}
	got, found = manager.GetCurrentServing(ctx, "dr. sharma", "cardiology")
	if !found || got.TokenID != token.TokenID {
		t.Fatalf("scoped get serving = %+v found=%v", got, found)
	}
	if _, found := manager.GetCurrentServing(ctx, "Dr. Mehta", ""); found {
		t.Fatal("untouched doctor reported a serving entry")
	}

	// Later set for the same doctor overwrites the pointer.
	second, err := manager.Book(ctx, req)
	if err != nil {
		t.Fatalf("book second: %v", err)
	}
	if _, err := manager.SetCurrentServing(ctx, "cardiology", "Dr. Sharma", second.TokenID); err != nil {
		t.Fatalf("overwrite serving: %v", err)
	}
	got, _ = manager.GetCurrentServing(ctx, "Dr. Sharma", "")
	if got.TokenID != second.TokenID {
		t.Fatalf("pointer not overwritten, token = %s", got.TokenID)
	}

	if _, err := manager.SetCurrentServing(ctx, "dental", "Dr. Sharma", token.TokenID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("department mismatch err = %v, want ErrNotFound", err)
	}
	if _, err := manager.SetCurrentServing(ctx, "cardiology", "Dr. Sharma", "a4cf2f7e-16e5-4f4e-8e8f-0f0d3e2b1a00"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown token err = %v, want ErrNotFound", err)
	}

	types := notifier.types()
	servingEvents := 0
	for _, typ := range types {
		if typ == EventServingChanged {
			servingEvents++
		}
	}
	if servingEvents != 2 {
		t.Fatalf("serving events = %d, want 2", servingEvents)
	}
}

func TestConcurrentBooking(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	const n = 20
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token, err := manager.Book(ctx, validRequest())
			tokens[i] = token.TokenNumber
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("book %d: %v", i, err)
		}
	}
	sort.Strings(tokens)
	for i, number := range tokens {
		want := fmt.Sprintf("GM-2025-10-10-%03d", i+1)
		if number != want {
			t.Fatalf("token numbers not contiguous: got %q at %d, want %q", number, i, want)
		}
	}
}

func TestExpireNoShows(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	past := validRequest()
	past.BookingDate = "2020-01-01"
	pending, err := manager.Book(ctx, past)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	confirmed, err := manager.Book(ctx, past)
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if _, err := manager.UpdateStatus(ctx, confirmed.TokenID, models.StatusConfirmed, ""); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	future := validRequest()
	future.BookingDate = "2099-01-01"
	upcoming, err := manager.Book(ctx, future)
	if err != nil {
		t.Fatalf("book future: %v", err)
	}

	count, err := manager.ExpireNoShows(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if count != 2 {
		t.Fatalf("expired %d tokens, want 2", count)
	}
	for _, id := range []string{pending.TokenID, confirmed.TokenID} {
		token, err := manager.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if token.Status != models.StatusNoShow {
			t.Fatalf("token %s status = %q, want no_show", id, token.Status)
		}
	}
	token, err := manager.Get(ctx, upcoming.TokenID)
	if err != nil {
		t.Fatalf("get upcoming: %v", err)
	}
	if token.Status != models.StatusPending {
		t.Fatalf("future token swept to %q", token.Status)
	}
}

func TestGetUnknownToken(t *testing.T) {
	manager, _ := newTestManager(t)
	_, err := manager.Get(context.Background(), "0b9f6a3c-9af0-4d4a-9a39-7a25e3a5b111")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
