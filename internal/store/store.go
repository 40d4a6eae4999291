package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"hms/token-service/internal/models"
)

// State is the full persisted document: every token ever booked (tokens are
// never deleted, cancellation is a status change), the current-serving map
// keyed by department|doctor, and the per-(department,date) number counters.
type State struct {
	Tokens         []models.Token                   `json:"tokens"`
	CurrentServing map[string]models.CurrentServing `json:"current_serving"`
	Counters       map[string]int                   `json:"counters"`
}

func (s *State) FindToken(tokenID string) (*models.Token, bool) {
	for i := range s.Tokens {
		if s.Tokens[i].TokenID == tokenID {
			return &s.Tokens[i], true
		}
	}
	return nil, false
}

// ScopeKey identifies a numbering scope.
func ScopeKey(department, bookingDate string) string {
	return department + "|" + bookingDate
}

// ServingKey identifies a current-serving slot.
func ServingKey(department, doctorName string) string {
	return strings.ToLower(department) + "|" + strings.ToLower(strings.TrimSpace(doctorName))
}

// Store holds the in-memory state and mirrors it to a single JSON file.
// All mutations go through Mutate; nothing else may write the file.
type Store struct {
	mu    sync.RWMutex
	path  string
	state State
}

// Open loads state from path. A missing or unreadable file yields an empty
// store rather than an error so startup never fails on bad data.
func Open(path string) *Store {
	s := &Store{path: path}
	s.state = loadState(path)
	return s
}

func loadState(path string) State {
	state := State{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("store load error path=%s err=%v", path, err)
		}
	} else if err := json.Unmarshal(data, &state); err != nil {
		log.Printf("store decode error path=%s err=%v", path, err)
		state = State{}
	}
	if state.CurrentServing == nil {
		state.CurrentServing = make(map[string]models.CurrentServing)
	}
	if state.Counters == nil {
		state.Counters = make(map[string]int)
	}
	rebuildCounters(&state)
	return state
}

// rebuildCounters derives counters from the token array. Files written
// before counters were persisted load correctly, and a counter can never
// lag behind an existing token number.
func rebuildCounters(state *State) {
	for _, token := range state.Tokens {
		seq := numberSeq(token.TokenNumber)
		key := ScopeKey(token.Department, token.BookingDate)
		if seq > state.Counters[key] {
			state.Counters[key] = seq
		}
	}
}

func numberSeq(tokenNumber string) int {
	idx := strings.LastIndex(tokenNumber, "-")
	if idx < 0 {
		return 0
	}
	seq, err := strconv.Atoi(tokenNumber[idx+1:])
	if err != nil {
		return 0
	}
	return seq
}

// Mutate runs fn under the exclusive lock and, if fn succeeds, persists the
// full state atomically. When the write fails the in-memory change is kept
// and a *PersistError is returned so the caller knows the mutation is not
// durably committed.
func (s *Store) Mutate(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(&s.state); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		return &PersistError{Err: err}
	}
	return nil
}

// Read runs fn under the shared lock. fn must not retain references to
// state internals past its return.
func (s *Store) Read(fn func(*State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.state)
}

// Flush persists the current state. Called once at shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(); err != nil {
		return &PersistError{Err: err}
	}
	return nil
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tokens-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist state: %v", e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
