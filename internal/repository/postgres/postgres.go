// Package postgres implements repository.Store on PostgreSQL using pgx
// directly (no ORM).
//
// Admission units of work run in a transaction that starts with
// SELECT … FOR UPDATE on the event row. Any other admission for the same
// event blocks on that row lock until the first transaction commits or rolls
// back, so the count check and the increment can never interleave:
//
//	A: SELECT … FOR UPDATE   → count 9 of 10, row locked
//	B: SELECT … FOR UPDATE   → blocks
//	A: INSERT request, UPDATE count = 10, COMMIT
//	B: unblocks, reads count 10 of 10 → pending
//
// Admissions for different events lock different rows and run in parallel.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/eventjoin/internal/idgen"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository"
)

const uniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements repository.Store backed by a pgx pool.
type Store struct {
	db    *pgxpool.Pool
	now   func() time.Time
	newID func() (string, error)
}

var _ repository.Store = (*Store)(nil)

// New constructs a Store. The schema must already be migrated.
func New(db *pgxpool.Pool) *Store {
	return &Store{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: idgen.JoinRequestID,
	}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

// ─── Identity Store ──────────────────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, created_at)
		 VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "users_username_key") {
			return model.ErrDuplicateUsername
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *Store) getUser(ctx context.Context, where string, arg string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at FROM users `+where, arg,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ─── Event Store ─────────────────────────────────────────────────────────────

const eventColumns = `id, name, location, event_date, event_time, capacity, organizer_id, accepted_count, created_at`

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.Location, &e.Date, &e.Time, &e.Limit, &e.OrganizerID, &e.AcceptedCount, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.AcceptedCount = 0
	_, err := s.db.Exec(ctx,
		`INSERT INTO events (id, name, location, event_date, event_time, capacity, organizer_id, accepted_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)`,
		e.ID, e.Name, e.Location, e.Date, e.Time, e.Limit, e.OrganizerID, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, s.db, id, false)
}

func getEvent(ctx context.Context, q querier, id string, forUpdate bool) (*model.Event, error) {
	sql := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	return scanEvent(q.QueryRow(ctx, sql, id))
}

// ListEvents returns all events ordered by date, time and creation order.
func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 ORDER BY event_date ASC, event_time ASC, seq ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// ─── Join Request Ledger ─────────────────────────────────────────────────────

const requestColumns = `id, event_id, user_id, status, created_at, updated_at`

func scanRequest(row pgx.Row) (*model.JoinRequest, error) {
	var (
		r      model.JoinRequest
		status string
	)
	if err := row.Scan(&r.ID, &r.EventID, &r.UserID, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("scan join request: %w", err)
	}
	st, err := model.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("scan join request %s: %w", r.ID, err)
	}
	r.Status = st
	return &r, nil
}

func findActiveRequest(ctx context.Context, q querier, eventID, userID string) (*model.JoinRequest, error) {
	r, err := scanRequest(q.QueryRow(ctx,
		`SELECT `+requestColumns+`
		 FROM join_requests
		 WHERE event_id = $1 AND user_id = $2 AND status <> 'rejected'
		 ORDER BY seq DESC
		 LIMIT 1`,
		eventID, userID,
	))
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *Store) FindActiveRequest(ctx context.Context, eventID, userID string) (*model.JoinRequest, error) {
	return findActiveRequest(ctx, s.db, eventID, userID)
}

func (s *Store) GetRequest(ctx context.Context, id string) (*model.JoinRequest, error) {
	return scanRequest(s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM join_requests WHERE id = $1`, id,
	))
}

// ListRequests returns all requests of an event in creation order.
func (s *Store) ListRequests(ctx context.Context, eventID string) ([]model.JoinRequest, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+requestColumns+`
		 FROM join_requests
		 WHERE event_id = $1
		 ORDER BY seq ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	defer rows.Close()

	var out []model.JoinRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Roster reads the event, its players and the viewer's latest request inside
// one read-only repeatable-read transaction.
func (s *Store) Roster(ctx context.Context, eventID, viewerID string) (*model.Roster, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin roster snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	e, err := getEvent(ctx, tx, eventID, false)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx,
		`SELECT user_id
		 FROM join_requests
		 WHERE event_id = $1 AND status = 'accepted'
		 ORDER BY updated_at ASC, seq ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	players, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan players: %w", err)
	}
	if players == nil {
		players = []string{}
	}

	var latest *model.JoinRequest
	if viewerID != "" {
		latest, err = scanRequest(tx.QueryRow(ctx,
			`SELECT `+requestColumns+`
			 FROM join_requests
			 WHERE event_id = $1 AND user_id = $2
			 ORDER BY seq DESC
			 LIMIT 1`,
			eventID, viewerID,
		))
		if errors.Is(err, model.ErrNotFound) {
			latest, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
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

// WithEventLock runs fn inside a transaction holding the event's row lock.
func (s *Store) WithEventLock(ctx context.Context, eventID string, fn func(tx repository.Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	e, err := getEvent(ctx, tx, eventID, true)
	if err != nil {
		return err
	}

	if err = fn(&admissionTx{tx: tx, event: *e, store: s}); err != nil {
		return err
	}

	// Only now does any other transaction see the change.
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ReconcileAcceptedCounts recomputes each event's count under its row lock.
func (s *Store) ReconcileAcceptedCounts(ctx context.Context) (int, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM events ORDER BY seq`)
	if err != nil {
		return 0, fmt.Errorf("list event ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, fmt.Errorf("scan event ids: %w", err)
	}

	fixed := 0
	for _, id := range ids {
		err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			e, err := getEvent(ctx, tx, id, true)
			if err != nil {
				return err
			}
			var n int
			if err := tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM join_requests WHERE event_id = $1 AND status = 'accepted'`, id,
			).Scan(&n); err != nil {
				return fmt.Errorf("count accepted: %w", err)
			}
			if n == e.AcceptedCount {
				return nil
			}
			if _, err := tx.Exec(ctx, `UPDATE events SET accepted_count = $2 WHERE id = $1`, id, n); err != nil {
				return fmt.Errorf("update accepted_count: %w", err)
			}
			fixed++
			return nil
		})
		if err != nil {
			return fixed, fmt.Errorf("reconcile event %s: %w", id, err)
		}
	}
	return fixed, nil
}

type admissionTx struct {
	tx    pgx.Tx
	event model.Event
	store *Store
}

func (t *admissionTx) Event() *model.Event {
	e := t.event
	return &e
}

func (t *admissionTx) FindActiveRequest(ctx context.Context, userID string) (*model.JoinRequest, error) {
	return findActiveRequest(ctx, t.tx, t.event.ID, userID)
}

func (t *admissionTx) GetRequest(ctx context.Context, id string) (*model.JoinRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM join_requests WHERE id = $1 AND event_id = $2`,
		id, t.event.ID,
	))
}

func (t *admissionTx) CreatePending(ctx context.Context, userID string) (*model.JoinRequest, error) {
	existing, err := t.FindActiveRequest(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.ErrAlreadyActive
	}

	id, err := t.store.newID()
	if err != nil {
		return nil, fmt.Errorf("create join request: %w", err)
	}
	now := t.store.now()
	r := &model.JoinRequest{
		ID:        id,
		EventID:   t.event.ID,
		UserID:    userID,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = t.tx.Exec(ctx,
		`INSERT INTO join_requests (id, event_id, user_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.EventID, r.UserID, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "join_requests_active_pair") {
			return nil, model.ErrAlreadyActive
		}
		return nil, fmt.Errorf("insert join request: %w", err)
	}
	return r, nil
}

func (t *admissionTx) SetStatus(ctx context.Context, requestID string, next model.Status) error {
	var current string
	err := t.tx.QueryRow(ctx,
		`SELECT status FROM join_requests WHERE id = $1 AND event_id = $2 FOR UPDATE`,
		requestID, t.event.ID,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrNotFound
		}
		return fmt.Errorf("lock join request: %w", err)
	}

	st, err := model.ParseStatus(current)
	if err != nil {
		return err
	}
	if _, err := st.Transition(next); err != nil {
		return err
	}

	if _, err := t.tx.Exec(ctx,
		`UPDATE join_requests SET status = $2, updated_at = $3 WHERE id = $1`,
		requestID, string(next), t.store.now(),
	); err != nil {
		return fmt.Errorf("update join request status: %w", err)
	}
	return nil
}

// IncrementAcceptedCount is a conditional update: it changes nothing when
// the event is already at its limit.
func (t *admissionTx) IncrementAcceptedCount(ctx context.Context) error {
	var count int
	err := t.tx.QueryRow(ctx,
		`UPDATE events
		 SET accepted_count = accepted_count + 1
		 WHERE id = $1 AND (capacity IS NULL OR accepted_count < capacity)
		 RETURNING accepted_count`,
		t.event.ID,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrCapacityExceeded
		}
		return fmt.Errorf("increment accepted_count: %w", err)
	}
	t.event.AcceptedCount = count
	return nil
}
