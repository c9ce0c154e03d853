// Package memory implements repository.Store in process memory.
//
// Admission is serialised per event with a context-aware semaphore, and every
// unit of work stages its writes privately and publishes them in one step
// under the store lock, so readers only ever observe committed state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/eventjoin/internal/idgen"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository"
)

type pairKey struct {
	eventID string
	userID  string
}

// Store is an in-memory repository.Store.
type Store struct {
	mu sync.RWMutex

	users     map[string]model.User
	usernames map[string]string

	events     map[string]model.Event
	eventOrder []string

	requests map[string]model.JoinRequest
	byEvent  map[string][]string
	active   map[pairKey]string

	locks *eventLocks
	now   func() time.Time
	newID func() (string, error)
}

var _ repository.Store = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRequestIDs overrides the join request ID generator.
func WithRequestIDs(gen func() (string, error)) Option {
	return func(s *Store) { s.newID = gen }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		users:     make(map[string]model.User),
		usernames: make(map[string]string),
		events:    make(map[string]model.Event),
		requests:  make(map[string]model.JoinRequest),
		byEvent:   make(map[string][]string),
		active:    make(map[pairKey]string),
		locks:     newEventLocks(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     idgen.JoinRequestID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ─── Identity Store ──────────────────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[u.Username]; taken {
		return model.ErrDuplicateUsername
	}
	if _, taken := s.users[u.ID]; taken {
		return fmt.Errorf("insert user: duplicate id %s", u.ID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = *u
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, model.ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

// ─── Event Store ─────────────────────────────────────────────────────────────

func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.events[e.ID]; taken {
		return fmt.Errorf("insert event: duplicate id %s", e.ID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.AcceptedCount = 0
	s.events[e.ID] = cloneEvent(*e)
	s.eventOrder = append(s.eventOrder, e.ID)
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEventLocked(id)
}

func (s *Store) getEventLocked(id string) (*model.Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	e = cloneEvent(e)
	return &e, nil
}

func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	s.mu.RLock()
	events := make([]model.Event, 0, len(s.eventOrder))
	for _, id := range s.eventOrder {
		events = append(events, cloneEvent(s.events[id]))
	}
	s.mu.RUnlock()

	model.SortEvents(events)
	return events, nil
}

// ─── Join Request Ledger ─────────────────────────────────────────────────────

func (s *Store) FindActiveRequest(ctx context.Context, eventID, userID string) (*model.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[pairKey{eventID, userID}]
	if !ok {
		return nil, nil
	}
	r := s.requests[id]
	return &r, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (*model.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (s *Store) ListRequests(ctx context.Context, eventID string) ([]model.JoinRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.events[eventID]; !ok {
		return nil, model.ErrNotFound
	}
	ids := s.byEvent[eventID]
	out := make([]model.JoinRequest, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.requests[id])
	}
	return out, nil
}

func (s *Store) Roster(ctx context.Context, eventID, viewerID string) (*model.Roster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.getEventLocked(eventID)
	if err != nil {
		return nil, err
	}

	var (
		accepted []model.JoinRequest
		latest   *model.JoinRequest
	)
	for _, id := range s.byEvent[eventID] {
		r := s.requests[id]
		if r.Status == model.StatusAccepted {
			accepted = append(accepted, r)
		}
		if viewerID != "" && r.UserID == viewerID {
			latest = &r
		}
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].UpdatedAt.Before(accepted[j].UpdatedAt)
	})

	players := make([]string, 0, len(accepted))
	for _, r := range accepted {
		players = append(players, r.UserID)
	}
	status := model.ViewerStatusFor(latest)
	return &model.Roster{
		Event:        *e,
		Players:      players,
		ViewerStatus: status,
		HasJoined:    status == model.ViewerAccepted,
	}, nil
}

// ─── Admission unit of work ──────────────────────────────────────────────────

func (s *Store) WithEventLock(ctx context.Context, eventID string, fn func(tx repository.Tx) error) error {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return err
	}

	release, err := s.locks.acquire(ctx, eventID)
	if err != nil {
		return fmt.Errorf("lock event %s: %w", eventID, err)
	}
	defer release()

	e, err := s.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	t := &tx{s: s, event: *e, touched: make(map[string]model.JoinRequest)}
	if err := fn(t); err != nil {
		return err
	}
	return s.commit(ctx, t)
}

func (s *Store) commit(ctx context.Context, t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Checked under the write lock: past this point the unit lands in full.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	for _, id := range t.created {
		s.byEvent[t.event.ID] = append(s.byEvent[t.event.ID], id)
	}
	for id, r := range t.touched {
		s.requests[id] = r
		key := pairKey{r.EventID, r.UserID}
		if r.IsActive() {
			s.active[key] = id
		} else if s.active[key] == id {
			delete(s.active, key)
		}
	}

	e := s.events[t.event.ID]
	e.AcceptedCount = t.event.AcceptedCount
	s.events[t.event.ID] = e
	return nil
}

func (s *Store) ReconcileAcceptedCounts(ctx context.Context) (int, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.eventOrder...)
	s.mu.RUnlock()

	fixed := 0
	for _, id := range ids {
		release, err := s.locks.acquire(ctx, id)
		if err != nil {
			return fixed, fmt.Errorf("lock event %s: %w", id, err)
		}

		s.mu.Lock()
		n := 0
		for _, rid := range s.byEvent[id] {
			if s.requests[rid].Status == model.StatusAccepted {
				n++
			}
		}
		if e := s.events[id]; e.AcceptedCount != n {
			e.AcceptedCount = n
			s.events[id] = e
			fixed++
		}
		s.mu.Unlock()

		release()
	}
	return fixed, nil
}

// tx stages one unit of work. Only the goroutine holding the event lock
// touches it.
type tx struct {
	s       *Store
	event   model.Event
	touched map[string]model.JoinRequest
	created []string
}

func (t *tx) Event() *model.Event {
	e := cloneEvent(t.event)
	return &e
}

func (t *tx) lookup(id string) (model.JoinRequest, bool) {
	if r, ok := t.touched[id]; ok {
		return r, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	r, ok := t.s.requests[id]
	if !ok || r.EventID != t.event.ID {
		return model.JoinRequest{}, false
	}
	return r, true
}

func (t *tx) FindActiveRequest(ctx context.Context, userID string) (*model.JoinRequest, error) {
	for i := len(t.created) - 1; i >= 0; i-- {
		if r := t.touched[t.created[i]]; r.UserID == userID && r.IsActive() {
			return &r, nil
		}
	}

	t.s.mu.RLock()
	id, ok := t.s.active[pairKey{t.event.ID, userID}]
	t.s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	r, ok := t.lookup(id)
	if !ok || !r.IsActive() {
		return nil, nil
	}
	return &r, nil
}

func (t *tx) GetRequest(ctx context.Context, id string) (*model.JoinRequest, error) {
	r, ok := t.lookup(id)
	if !ok {
		return nil, model.ErrNotFound
	}
	return &r, nil
}

func (t *tx) CreatePending(ctx context.Context, userID string) (*model.JoinRequest, error) {
	existing, err := t.FindActiveRequest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.ErrAlreadyActive
	}

	id, err := t.s.newID()
	if err != nil {
		return nil, fmt.Errorf("create join request: %w", err)
	}
	now := t.s.now()
	r := model.JoinRequest{
		ID:        id,
		EventID:   t.event.ID,
		UserID:    userID,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.touched[id] = r
	t.created = append(t.created, id)
	return &r, nil
}

func (t *tx) SetStatus(ctx context.Context, requestID string, next model.Status) error {
	r, ok := t.lookup(requestID)
	if !ok {
		return model.ErrNotFound
	}
	status, err := r.Status.Transition(next)
	if err != nil {
		return err
	}
	r.Status = status
	r.UpdatedAt = t.s.now()
	t.touched[requestID] = r
	return nil
}

func (t *tx) IncrementAcceptedCount(ctx context.Context) error {
	if t.event.IsFull() {
		return model.ErrCapacityExceeded
	}
	t.event.AcceptedCount++
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func cloneEvent(e model.Event) model.Event {
	if e.Limit != nil {
		limit := *e.Limit
		e.Limit = &limit
	}
	return e
}

// eventLocks hands out one single-slot semaphore per event. Semaphores are
// never removed; their number is bounded by the number of events.
type eventLocks struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

func newEventLocks() *eventLocks {
	return &eventLocks{sems: make(map[string]chan struct{})}
}

func (l *eventLocks) acquire(ctx context.Context, eventID string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.sems[eventID]
	if !ok {
		sem = make(chan struct{}, 1)
		l.sems[eventID] = sem
	}
	l.mu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
