package dedup

import (
	"fmt"
	"sync"
	"time"

	"flight_booking/internal/models"
)

type Action string

const (
	// ActionResume loads the record of an explicit search id.
	ActionResume Action = "resume"
	// ActionSuppress skips the network search; the parameters are the ones
	// of the most recent auto-triggered search.
	ActionSuppress Action = "suppress"
	ActionSearch   Action = "search"
)

// Navigation is what a client sends when it lands on the results page.
type Navigation struct {
	SearchID string
	Params   *models.SearchParameters
}

type Decision struct {
	Action   Action
	SearchID string
	Key      string
}

// Token ties a running search to the navigation that started it.
type Token struct {
	Generation uint64
	Key        string
}

// Deduplicator holds the auto-search state of one session.
type Deduplicator struct {
	mu         sync.Mutex
	lastKey    string
	generation uint64
	running    map[string]bool
	touched    time.Time
}

func New() *Deduplicator {
	return &Deduplicator{running: make(map[string]bool)}
}

// Decide classifies an incoming navigation. A search id always wins over
// parameters. Every decision other than suppress moves the session to a new
// generation, so results of searches started earlier are discarded.
func (d *Deduplicator) Decide(nav Navigation) (Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if nav.SearchID != "" {
		d.generation++
		return Decision{Action: ActionResume, SearchID: nav.SearchID}, nil
	}
	if nav.Params == nil {
		return Decision{}, fmt.Errorf("%w: search id or search parameters required", models.ErrInvalidInput)
	}

	key, err := nav.Params.Key()
	if err != nil {
		return Decision{}, err
	}
	if key == d.lastKey {
		return Decision{Action: ActionSuppress, Key: key}, nil
	}

	d.lastKey = key
	d.generation++
	return Decision{Action: ActionSearch, Key: key}, nil
}

// Force records a user-initiated search for key, bypassing suppression.
func (d *Deduplicator) Force(key string) {
	d.mu.Lock()
	d.lastKey = key
	d.generation++
	d.mu.Unlock()
}

// Begin marks a search for key as running. It returns false when one is
// already in flight for the same key in this session.
func (d *Deduplicator) Begin(key string) (Token, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running[key] {
		return Token{}, false
	}
	d.running[key] = true
	return Token{Generation: d.generation, Key: key}, true
}

func (d *Deduplicator) Finish(tok Token) {
	d.mu.Lock()
	delete(d.running, tok.Key)
	d.mu.Unlock()
}

// IsCurrent reports whether the session is still on the navigation that
// issued tok.
func (d *Deduplicator) IsCurrent(tok Token) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return tok.Generation == d.generation
}

func (d *Deduplicator) InFlight(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[key]
}

// Registry keeps one Deduplicator per session id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Deduplicator
	idle     time.Duration
	now      func() time.Time
}

func NewRegistry(idle time.Duration) *Registry {
	if idle <= 0 {
		idle = 24 * time.Hour
	}
	return &Registry{sessions: make(map[string]*Deduplicator), idle: idle, now: time.Now}
}

// Session returns the deduplicator of sessionID, creating it on first use.
// An empty id gets a throwaway deduplicator.
func (r *Registry) Session(sessionID string) *Deduplicator {
	if sessionID == "" {
		return New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.sessions[sessionID]
	if !ok {
		d = New()
		r.sessions[sessionID] = d
	}
	d.mu.Lock()
	d.touched = r.now()
	d.mu.Unlock()
	return d
}

// Sweep forgets sessions idle for longer than the idle period.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.idle)
	n := 0
	for id, d := range r.sessions {
		d.mu.Lock()
		stale := d.touched.Before(cutoff) && len(d.running) == 0
		d.mu.Unlock()
		if stale {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
