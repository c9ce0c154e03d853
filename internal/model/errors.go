package model

import "errors"

// Error taxonomy shared by every layer. Storage implementations return these
// sentinels (possibly wrapped) so handlers can map them to stable kinds.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrAlreadyJoined     = errors.New("user has already joined the event")
	ErrAlreadyRequested  = errors.New("join request is already pending")
	ErrAlreadyActive     = errors.New("an active join request already exists")
	ErrCapacityExceeded  = errors.New("event is already full")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidToken      = errors.New("invalid or expired token")
	ErrForbidden         = errors.New("forbidden")
)

// Kind values are the machine-readable error identifiers exposed to clients.
const (
	KindNotFound          = "not_found"
	KindInvalidArgument   = "invalid_argument"
	KindDuplicateUsername = "duplicate_username"
	KindInvalidCredential = "invalid_credential"
	KindAlreadyJoined     = "already_joined"
	KindAlreadyRequested  = "already_requested"
	KindAlreadyActive     = "already_active"
	KindCapacityExceeded  = "capacity_exceeded"
	KindInvalidTransition = "invalid_transition"
	KindInvalidToken      = "invalid_token"
	KindForbidden         = "forbidden"
	KindInternal          = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidArgument, KindInvalidArgument},
	{ErrDuplicateUsername, KindDuplicateUsername},
	{ErrInvalidCredential, KindInvalidCredential},
	{ErrAlreadyJoined, KindAlreadyJoined},
	{ErrAlreadyRequested, KindAlreadyRequested},
	{ErrAlreadyActive, KindAlreadyActive},
	{ErrCapacityExceeded, KindCapacityExceeded},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrInvalidToken, KindInvalidToken},
	{ErrForbidden, KindForbidden},
}

// Kind classifies err into one of the Kind* constants. Nil yields "".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsBusiness reports whether err is an expected business outcome rather than
// an internal failure.
func IsBusiness(err error) bool {
	k := Kind(err)
	return k != "" && k != KindInternal
}
