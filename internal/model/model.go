// Package model defines the core domain types for the event join service.
package model

import "time"

// DateLayout and TimeLayout are the wire formats of an event's date and time.
// Both sort lexicographically in chronological order.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// User is a registered account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Event represents a joinable event created by an organizer.
type Event struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Location      string    `json:"location"`
	Date          string    `json:"date"`
	Time          string    `json:"time"`
	Limit         *int      `json:"limit,omitempty"`
	OrganizerID   string    `json:"organizer_id"`
	AcceptedCount int       `json:"accepted_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// HasLimit reports whether the event caps its accepted players.
func (e *Event) HasLimit() bool {
	return e.Limit != nil
}

// IsFull returns true when a limit is set and every slot is taken.
func (e *Event) IsFull() bool {
	return e.HasLimit() && e.AcceptedCount >= *e.Limit
}

// Remaining returns the number of open slots, or -1 for unbounded events.
func (e *Event) Remaining() int {
	if !e.HasLimit() {
		return -1
	}
	return *e.Limit - e.AcceptedCount
}

// JoinRequest is one ledger entry for an (event, user) pair.
type JoinRequest struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the request still occupies the pair's unique slot.
func (r *JoinRequest) IsActive() bool {
	return r.Status != StatusRejected
}

// Roster is the read model of an event as seen by one viewer.
type Roster struct {
	Event        Event        `json:"event"`
	Players      []string     `json:"players"`
	ViewerStatus ViewerStatus `json:"viewer_status"`
	HasJoined    bool         `json:"has_joined"`
}

// ─── Request / response payloads ─────────────────────────────────────────────

// CredentialsRequest is the payload for register and login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by register and login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Limit    *int   `json:"limit,omitempty"`
}

// JoinResponse reports the outcome of a join attempt.
type JoinResponse struct {
	RequestID string  `json:"request_id"`
	Status    Outcome `json:"status"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
