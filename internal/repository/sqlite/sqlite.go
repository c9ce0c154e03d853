// Package sqlite implements repository.Store on an embedded SQLite database
// through sqlx.
//
// SQLite has a single writer. The connection is opened with immediate
// transactions, so an admission unit of work holds the database write lock
// from BEGIN to COMMIT and no two admissions can both observe a count below
// the limit. This serialises admissions across all events, which is the
// accepted cost of running without a database server.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/eventjoin/internal/idgen"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository"
)

// Store implements repository.Store backed by SQLite.
type Store struct {
	db    *sqlx.DB
	now   func() time.Time
	newID func() (string, error)
}

var _ repository.Store = (*Store)(nil)

// New wraps an open, migrated database.
func New(db *sqlx.DB) *Store {
	return &Store{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: idgen.JoinRequestID,
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports a UNIQUE failure on the given table.column list
// as SQLite spells it in the error message.
func isUniqueViolation(err error, columns string) bool {
	var sqlErr *sqlitedrv.Error
	if errors.As(err, &sqlErr) && sqlErr.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return false
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+columns)
}

func toNanos(t time.Time) int64   { return t.UnixNano() }
func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// ─── rows ────────────────────────────────────────────────────────────────────

type userRow struct {
	ID           string `db:"id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    int64  `db:"created_at"`
}

func (r userRow) model() *model.User {
	return &model.User{ID: r.ID, Username: r.Username, PasswordHash: r.PasswordHash, CreatedAt: fromNanos(r.CreatedAt)}
}

type eventRow struct {
	ID            string        `db:"id"`
	Name          string        `db:"name"`
	Location      string        `db:"location"`
	Date          string        `db:"event_date"`
	Time          string        `db:"event_time"`
	Capacity      sql.NullInt64 `db:"capacity"`
	OrganizerID   string        `db:"organizer_id"`
	AcceptedCount int           `db:"accepted_count"`
	CreatedAt     int64         `db:"created_at"`
}

func (r eventRow) model() model.Event {
	e := model.Event{
		ID:            r.ID,
		Name:          r.Name,
		Location:      r.Location,
		Date:          r.Date,
		Time:          r.Time,
		OrganizerID:   r.OrganizerID,
		AcceptedCount: r.AcceptedCount,
		CreatedAt:     fromNanos(r.CreatedAt),
	}
	if r.Capacity.Valid {
		limit := int(r.Capacity.Int64)
		e.Limit = &limit
	}
	return e
}

type requestRow struct {
	ID        string `db:"id"`
	EventID   string `db:"event_id"`
	UserID    string `db:"user_id"`
	Status    string `db:"status"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r requestRow) model() (*model.JoinRequest, error) {
	st, err := model.ParseStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("join request %s: %w", r.ID, err)
	}
	return &model.JoinRequest{
		ID:        r.ID,
		EventID:   r.EventID,
		UserID:    r.UserID,
		Status:    st,
		CreatedAt: fromNanos(r.CreatedAt),
		UpdatedAt: fromNanos(r.UpdatedAt),
	}, nil
}

// ─── Identity Store ──────────────────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, toNanos(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "users.username") {
			return model.ErrDuplicateUsername
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.getUser(ctx, `id = ?`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.getUser(ctx, `username = ?`, username)
}

func (s *Store) getUser(ctx context.Context, where, arg string) (*model.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, username, password_hash, created_at FROM users WHERE `+where, arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return row.model(), nil
}

// ─── Event Store ─────────────────────────────────────────────────────────────

const eventColumns = `id, name, location, event_date, event_time, capacity, organizer_id, accepted_count, created_at`

func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	e.AcceptedCount = 0
	var capacity sql.NullInt64
	if e.Limit != nil {
		capacity = sql.NullInt64{Int64: int64(*e.Limit), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, name, location, event_date, event_time, capacity, organizer_id, accepted_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ID, e.Name, e.Location, e.Date, e.Time, capacity, e.OrganizerID, toNanos(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func getEvent(ctx context.Context, q sqlx.QueryerContext, id string) (*model.Event, error) {
	var row eventRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	e := row.model()
	return &e, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, s.db, id)
}

func (s *Store) ListEvents(ctx context.Context) ([]model.Event, error) {
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+eventColumns+` FROM events ORDER BY event_date, event_time, seq`,
	); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.model())
	}
	return events, nil
}

// ─── Join Request Ledger ─────────────────────────────────────────────────────

const requestColumns = `id, event_id, user_id, status, created_at, updated_at`

func getRequest(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*model.JoinRequest, error) {
	var row requestRow
	if err := sqlx.GetContext(ctx, q, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get join request: %w", err)
	}
	return row.model()
}

func findActiveRequest(ctx context.Context, q sqlx.QueryerContext, eventID, userID string) (*model.JoinRequest, error) {
	r, err := getRequest(ctx, q,
		`SELECT `+requestColumns+`
		 FROM join_requests
		 WHERE event_id = ? AND user_id = ? AND status <> 'rejected'
		 ORDER BY seq DESC
		 LIMIT 1`,
		eventID, userID,
	)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

func (s *Store) FindActiveRequest(ctx context.Context, eventID, userID string) (*model.JoinRequest, error) {
	return findActiveRequest(ctx, s.db, eventID, userID)
}

func (s *Store) GetRequest(ctx context.Context, id string) (*model.JoinRequest, error) {
	return getRequest(ctx, s.db, `SELECT `+requestColumns+` FROM join_requests WHERE id = ?`, id)
}

func (s *Store) ListRequests(ctx context.Context, eventID string) ([]model.JoinRequest, error) {
	if _, err := s.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	var rows []requestRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT `+requestColumns+` FROM join_requests WHERE event_id = ? ORDER BY seq`, eventID,
	); err != nil {
		return nil, fmt.Errorf("list join requests: %w", err)
	}
	out := make([]model.JoinRequest, 0, len(rows))
	for _, row := range rows {
		r, err := row.model()
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *Store) Roster(ctx context.Context, eventID, viewerID string) (*model.Roster, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin roster snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	e, err := getEvent(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}

	players := []string{}
	if err := tx.SelectContext(ctx, &players,
		`SELECT user_id FROM join_requests
		 WHERE event_id = ? AND status = 'accepted'
		 ORDER BY updated_at, seq`,
		eventID,
	); err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	var latest *model.JoinRequest
	if viewerID != "" {
		latest, err = getRequest(ctx, tx,
			`SELECT `+requestColumns+`
			 FROM join_requests
			 WHERE event_id = ? AND user_id = ?
			 ORDER BY seq DESC
			 LIMIT 1`,
			eventID, viewerID,
		)
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

func (s *Store) WithEventLock(ctx context.Context, eventID string, fn func(tx repository.Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	e, err := getEvent(ctx, tx, eventID)
	if err != nil {
		return err
	}

	if err = fn(&admissionTx{tx: tx, event: *e, store: s}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) ReconcileAcceptedCounts(ctx context.Context) (fixed int, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var drift []struct {
		ID     string `db:"id"`
		Actual int    `db:"actual"`
	}
	if err = tx.SelectContext(ctx, &drift,
		`SELECT e.id AS id, COUNT(jr.id) AS actual
		 FROM events e
		 LEFT JOIN join_requests jr ON jr.event_id = e.id AND jr.status = 'accepted'
		 GROUP BY e.id, e.accepted_count
		 HAVING COUNT(jr.id) <> e.accepted_count`,
	); err != nil {
		return 0, fmt.Errorf("count accepted: %w", err)
	}

	for _, d := range drift {
		if _, err = tx.ExecContext(ctx,
			`UPDATE events SET accepted_count = ? WHERE id = ?`, d.Actual, d.ID,
		); err != nil {
			return 0, fmt.Errorf("update accepted_count for %s: %w", d.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return len(drift), nil
}

type admissionTx struct {
	tx    *sqlx.Tx
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
	return getRequest(ctx, t.tx,
		`SELECT `+requestColumns+` FROM join_requests WHERE id = ? AND event_id = ?`, id, t.event.ID)
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
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO join_requests (id, event_id, user_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, r.UserID, string(r.Status), toNanos(r.CreatedAt), toNanos(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err, "join_requests.event_id, join_requests.user_id") {
			return nil, model.ErrAlreadyActive
		}
		return nil, fmt.Errorf("insert join request: %w", err)
	}
	return r, nil
}

func (t *admissionTx) SetStatus(ctx context.Context, requestID string, next model.Status) error {
	var current string
	err := t.tx.GetContext(ctx, &current,
		`SELECT status FROM join_requests WHERE id = ? AND event_id = ?`, requestID, t.event.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrNotFound
		}
		return fmt.Errorf("get join request status: %w", err)
	}

	st, err := model.ParseStatus(current)
	if err != nil {
		return err
	}
	if _, err := st.Transition(next); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE join_requests SET status = ?, updated_at = ? WHERE id = ?`,
		string(next), toNanos(t.store.now()), requestID,
	); err != nil {
		return fmt.Errorf("update join request status: %w", err)
	}
	return nil
}

func (t *admissionTx) IncrementAcceptedCount(ctx context.Context) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE events SET accepted_count = accepted_count + 1
		 WHERE id = ? AND (capacity IS NULL OR accepted_count < capacity)`,
		t.event.ID,
	)
	if err != nil {
		return fmt.Errorf("increment accepted_count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment accepted_count: %w", err)
	}
	if n == 0 {
		return model.ErrCapacityExceeded
	}
	t.event.AcceptedCount++
	return nil
}
