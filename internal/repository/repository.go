// Package repository defines the storage contracts of the event join service:
// the Identity Store, the Event Store, the Join Request Ledger and the
// admission unit of work that ties the last two together.
//
// Implementations live in the postgres, sqlite and memory subpackages. All of
// them report failures with the sentinels in package model, wrapped with
// context where useful.
package repository

import (
	"context"

	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
)

// Users is the Identity Store.
type Users interface {
	// CreateUser inserts u. A taken username yields model.ErrDuplicateUsername.
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// Events is the Event Store, minus the count increment which only exists
// inside an admission unit of work (see Tx).
type Events interface {
	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	// ListEvents returns events ordered by date, time, then creation order.
	ListEvents(ctx context.Context) ([]model.Event, error)
}

// Ledger is the committed, read-only view of join requests.
type Ledger interface {
	// FindActiveRequest returns the most recent non-rejected request for the
	// pair, or (nil, nil) when there is none.
	FindActiveRequest(ctx context.Context, eventID, userID string) (*model.JoinRequest, error)
	GetRequest(ctx context.Context, id string) (*model.JoinRequest, error)
	// ListRequests returns every request of an event in creation order.
	ListRequests(ctx context.Context, eventID string) ([]model.JoinRequest, error)
	// Roster reads the event, its accepted players (in acceptance order) and
	// the viewer's most recent request from one committed snapshot.
	Roster(ctx context.Context, eventID, viewerID string) (*model.Roster, error)
}

// Tx is an admission unit of work bound to one locked event. Nothing done
// through a Tx is visible to other callers until the unit commits, and
// nothing is kept if it aborts.
type Tx interface {
	// Event returns the locked event as of the start of the unit, with the
	// accepted count reflecting increments made through this Tx.
	Event() *model.Event
	FindActiveRequest(ctx context.Context, userID string) (*model.JoinRequest, error)
	GetRequest(ctx context.Context, id string) (*model.JoinRequest, error)
	// CreatePending appends a pending request for userID. It fails with
	// model.ErrAlreadyActive when the pair already has an active request.
	CreatePending(ctx context.Context, userID string) (*model.JoinRequest, error)
	// SetStatus applies a legal transition or fails with model.ErrInvalidTransition.
	SetStatus(ctx context.Context, requestID string, next model.Status) error
	// IncrementAcceptedCount bumps the cached count iff the event has no limit
	// or the count is below it; otherwise model.ErrCapacityExceeded.
	IncrementAcceptedCount(ctx context.Context) error
}

// Store is the full storage surface used by the services.
type Store interface {
	Users
	Events
	Ledger

	// WithEventLock runs fn with exclusive admission rights for eventID.
	// It fails with model.ErrNotFound if the event does not exist. The unit
	// commits only if fn returns nil and ctx is still live.
	WithEventLock(ctx context.Context, eventID string, fn func(tx Tx) error) error

	// ReconcileAcceptedCounts rewrites every event's cached accepted count
	// from the ledger and returns how many events were corrected.
	ReconcileAcceptedCounts(ctx context.Context) (int, error)

	Close() error
}
