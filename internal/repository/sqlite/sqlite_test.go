package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/Shivanand-hulikatti/eventjoin/internal/database"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository"
)

func newFileStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventjoin.db")
	if err := database.MigrateSQLite(path, database.Up); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := database.OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	s := New(sqlx.NewDb(db, "sqlmock"))
	s.now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }
	s.newID = func() (string, error) { return "jr-test", nil }
	t.Cleanup(func() { _ = s.Close() })
	return s, mock
}

func seedUsers(t *testing.T, s *Store, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("user-%03d", i)
		if err := s.CreateUser(context.Background(), &model.User{ID: ids[i], Username: ids[i], PasswordHash: "x"}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}
	return ids
}

func admit(ctx context.Context, s repository.Store, eventID, userID string) (model.Status, error) {
	var status model.Status
	err := s.WithEventLock(ctx, eventID, func(tx repository.Tx) error {
		r, err := tx.CreatePending(ctx, userID)
		if err != nil {
			return err
		}
		status = model.StatusPending
		if tx.Event().IsFull() {
			return nil
		}
		if err := tx.SetStatus(ctx, r.ID, model.StatusAccepted); err != nil {
			return err
		}
		status = model.StatusAccepted
		return tx.IncrementAcceptedCount(ctx)
	})
	return status, err
}

func TestUsers(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	seedUsers(t, s, 1)

	err := s.CreateUser(ctx, &model.User{ID: "other", Username: "user-000", PasswordHash: "x"})
	if !errors.Is(err, model.ErrDuplicateUsername) {
		t.Fatalf("duplicate username = %v", err)
	}

	u, err := s.GetUserByUsername(ctx, "user-000")
	if err != nil || u.ID != "user-000" {
		t.Fatalf("GetUserByUsername = %+v, %v", u, err)
	}
	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetUser(missing) = %v", err)
	}
}

func TestEventsListedByDateThenTime(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 1)

	for _, e := range []model.Event{
		{ID: "c", Name: "c", Date: "2026-06-02", Time: "09:00"},
		{ID: "a", Name: "a", Date: "2026-06-01", Time: "18:00"},
		{ID: "b", Name: "b", Date: "2026-06-01", Time: "07:30"},
	} {
		e.OrganizerID = users[0]
		if err := s.CreateEvent(ctx, &e); err != nil {
			t.Fatal(err)
		}
	}

	events, err := s.ListEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var got string
	for _, e := range events {
		got += e.ID
	}
	if got != "bac" {
		t.Fatalf("order = %q, want %q", got, "bac")
	}
	if events[0].Limit != nil {
		t.Fatalf("unbounded event got limit %v", *events[0].Limit)
	}
}

func TestConcurrentAdmissions(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 12)

	limit := 4
	ev := &model.Event{ID: "ev-1", Name: "Pickup", Date: "2026-05-01", Time: "18:00", Limit: &limit, OrganizerID: users[0]}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			st, err := admit(ctx, s, ev.ID, u)
			if err != nil {
				t.Errorf("admit %s: %v", u, err)
				return
			}
			if st == model.StatusAccepted {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()

	if accepted != limit {
		t.Fatalf("accepted = %d, want %d", accepted, limit)
	}
	got, err := s.GetEvent(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AcceptedCount != limit || got.Remaining() != 0 {
		t.Fatalf("event = %+v", got)
	}

	reqs, err := s.ListRequests(ctx, ev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != len(users) {
		t.Fatalf("requests = %d, want %d", len(reqs), len(users))
	}
}

func TestLedgerTransitionsAndRoster(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 3)

	ev := &model.Event{ID: "ev-2", Name: "Open", Date: "2026-05-01", Time: "18:00", OrganizerID: users[0]}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	if st, err := admit(ctx, s, ev.ID, users[1]); err != nil || st != model.StatusAccepted {
		t.Fatalf("admit = %s, %v", st, err)
	}
	if _, err := admit(ctx, s, ev.ID, users[1]); !errors.Is(err, model.ErrAlreadyActive) {
		t.Fatalf("second admit = %v, want ErrAlreadyActive", err)
	}

	var pendingID string
	err := s.WithEventLock(ctx, ev.ID, func(tx repository.Tx) error {
		r, err := tx.CreatePending(ctx, users[2])
		if err != nil {
			return err
		}
		pendingID = r.ID
		return tx.SetStatus(ctx, r.ID, model.StatusRejected)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = s.WithEventLock(ctx, ev.ID, func(tx repository.Tx) error {
		return tx.SetStatus(ctx, pendingID, model.StatusAccepted)
	})
	if !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("rejected → accepted = %v", err)
	}

	active, err := s.FindActiveRequest(ctx, ev.ID, users[2])
	if err != nil || active != nil {
		t.Fatalf("FindActiveRequest after reject = %+v, %v", active, err)
	}

	roster, err := s.Roster(ctx, ev.ID, users[2])
	if err != nil {
		t.Fatal(err)
	}
	if roster.ViewerStatus != model.ViewerRejected || roster.HasJoined {
		t.Fatalf("viewer = %s joined=%v", roster.ViewerStatus, roster.HasJoined)
	}
	if len(roster.Players) != 1 || roster.Players[0] != users[1] {
		t.Fatalf("players = %v", roster.Players)
	}

	roster, err = s.Roster(ctx, ev.ID, users[1])
	if err != nil {
		t.Fatal(err)
	}
	if roster.ViewerStatus != model.ViewerAccepted || !roster.HasJoined {
		t.Fatalf("viewer = %s joined=%v", roster.ViewerStatus, roster.HasJoined)
	}

	if _, err := s.Roster(ctx, "missing", ""); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Roster(missing) = %v", err)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	s := newFileStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 3)

	ev := &model.Event{ID: "ev-3", Name: "Drift", Date: "2026-05-01", Time: "18:00", OrganizerID: users[0]}
	if err := s.CreateEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}
	for _, u := range users[1:] {
		if _, err := admit(ctx, s, ev.ID, u); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE events SET accepted_count = 7 WHERE id = ?`, ev.ID); err != nil {
		t.Fatal(err)
	}

	fixed, err := s.ReconcileAcceptedCounts(ctx)
	if err != nil || fixed != 1 {
		t.Fatalf("reconcile = (%d, %v), want (1, nil)", fixed, err)
	}
	got, _ := s.GetEvent(ctx, ev.ID)
	if got.AcceptedCount != 2 {
		t.Fatalf("accepted_count = %d, want 2", got.AcceptedCount)
	}
}

func TestWithEventLockUnknownEvent(t *testing.T) {
	s := newFileStore(t)
	called := false
	err := s.WithEventLock(context.Background(), "missing", func(repository.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, model.ErrNotFound) || called {
		t.Fatalf("err = %v called = %v", err, called)
	}
}

func expectLockedEvent(mock sqlmock.Sqlmock, capacity any, accepted int) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM events WHERE id = \?`).
		WithArgs("ev-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "location", "event_date", "event_time", "capacity", "organizer_id", "accepted_count", "created_at",
		}).AddRow("ev-1", "Pickup", "", "2026-05-01", "18:00", capacity, "org", accepted, int64(0)))
}

func TestAdmissionRollsBackWhenIncrementFails(t *testing.T) {
	s, mock := newMockStore(t)

	expectLockedEvent(mock, int64(3), 1)
	mock.ExpectQuery(`SELECT .+ FROM join_requests WHERE event_id = \? AND user_id = \? AND status <> 'rejected'`).
		WithArgs("ev-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_id", "user_id", "status", "created_at", "updated_at"}))
	mock.ExpectExec(`INSERT INTO join_requests`).
		WithArgs("jr-test", "ev-1", "user-1", "pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT status FROM join_requests WHERE id = \? AND event_id = \?`).
		WithArgs("jr-test", "ev-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec(`UPDATE join_requests SET status = \?`).
		WithArgs("accepted", sqlmock.AnyArg(), "jr-test").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE events SET accepted_count = accepted_count \+ 1`).
		WithArgs("ev-1").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := admit(context.Background(), s, "ev-1", "user-1")
	if err == nil {
		t.Fatal("expected increment failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIncrementAtCapacityRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	expectLockedEvent(mock, int64(1), 0)
	mock.ExpectExec(`UPDATE events SET accepted_count = accepted_count \+ 1`).
		WithArgs("ev-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithEventLock(context.Background(), "ev-1", func(tx repository.Tx) error {
		return tx.IncrementAcceptedCount(context.Background())
	})
	if !errors.Is(err, model.ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUncommittedWhenCallbackFails(t *testing.T) {
	s, mock := newMockStore(t)

	expectLockedEvent(mock, nil, 0)
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := s.WithEventLock(context.Background(), "ev-1", func(tx repository.Tx) error {
		if tx.Event().HasLimit() {
			t.Error("NULL capacity should be unbounded")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
