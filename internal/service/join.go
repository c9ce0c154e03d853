package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/eventjoin/internal/logging"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository"
)

// DefaultJoinTimeout bounds one admission decision when none is configured.
const DefaultJoinTimeout = 5 * time.Second

// JoinService is the capacity arbiter: it admits users to events and lets
// organizers decide on queued requests. Every decision runs inside one
// WithEventLock unit of work, so the capacity check and the count increment
// are atomic with respect to other decisions on the same event.
type JoinService struct {
	store   repository.Store
	timeout time.Duration
	logger  *zap.Logger
}

func NewJoinService(store repository.Store, timeout time.Duration, logger *zap.Logger) *JoinService {
	if timeout <= 0 {
		timeout = DefaultJoinTimeout
	}
	return &JoinService{store: store, timeout: timeout, logger: logging.OrNop(logger)}
}

// RequestJoin asks for userID to join eventID. The returned request is
// accepted when a slot was free (or the event is unbounded) and pending
// otherwise. A user with an accepted request gets model.ErrAlreadyJoined and
// one with a pending request gets model.ErrAlreadyRequested; neither call
// changes any state. An unknown userID yields model.ErrNotFound.
func (s *JoinService) RequestJoin(ctx context.Context, eventID, userID string) (*model.JoinRequest, error) {
	if eventID == "" || userID == "" {
		return nil, fmt.Errorf("%w: event id and user id are required", model.ErrInvalidArgument)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields := []zap.Field{zap.String("event_id", eventID), zap.String("user_id", userID)}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		err = fmt.Errorf("user %s: %w", userID, err)
		logOutcome(s.logger, "join request failed", err, fields...)
		return nil, err
	}

	var (
		out       *model.JoinRequest
		remaining int
	)
	err := s.store.WithEventLock(ctx, eventID, func(tx repository.Tx) error {
		existing, err := tx.FindActiveRequest(ctx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.Status == model.StatusAccepted {
				return model.ErrAlreadyJoined
			}
			return model.ErrAlreadyRequested
		}

		r, err := tx.CreatePending(ctx, userID)
		if err != nil {
			return err
		}
		if !tx.Event().IsFull() {
			if err := admit(ctx, tx, r); err != nil {
				return err
			}
		}
		out = r
		remaining = tx.Event().Remaining()
		return nil
	})

	if err != nil {
		logOutcome(s.logger, "join request failed", err, fields...)
		return nil, err
	}
	s.logger.Info("join request decided",
		append(fields,
			zap.String("request_id", out.ID),
			zap.String("status", string(out.Status)),
			zap.Int("remaining", remaining),
		)...)
	return out, nil
}

// Approve moves a pending request to accepted if the event still has room.
func (s *JoinService) Approve(ctx context.Context, organizerID, eventID, requestID string) (*model.JoinRequest, error) {
	return s.decide(ctx, organizerID, eventID, requestID, model.StatusAccepted)
}

// Reject moves a pending request to rejected. The user may request again.
func (s *JoinService) Reject(ctx context.Context, organizerID, eventID, requestID string) (*model.JoinRequest, error) {
	return s.decide(ctx, organizerID, eventID, requestID, model.StatusRejected)
}

func (s *JoinService) decide(ctx context.Context, organizerID, eventID, requestID string, next model.Status) (*model.JoinRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var out *model.JoinRequest
	err := s.store.WithEventLock(ctx, eventID, func(tx repository.Tx) error {
		if tx.Event().OrganizerID != organizerID {
			return model.ErrForbidden
		}
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if _, err := r.Status.Transition(next); err != nil {
			return err
		}

		if next == model.StatusAccepted {
			if tx.Event().IsFull() {
				return model.ErrCapacityExceeded
			}
			if err := admit(ctx, tx, r); err != nil {
				return err
			}
		} else {
			if err := tx.SetStatus(ctx, r.ID, next); err != nil {
				return err
			}
			r.Status = next
		}
		out = r
		return nil
	})

	fields := []zap.Field{
		zap.String("event_id", eventID),
		zap.String("request_id", requestID),
		zap.String("decision", string(next)),
	}
	if err != nil {
		logOutcome(s.logger, "join decision failed", err, fields...)
		return nil, err
	}
	s.logger.Info("join request decided by organizer", fields...)
	return out, nil
}

// ListRequests returns every request of an event. Only its organizer may see them.
func (s *JoinService) ListRequests(ctx context.Context, organizerID, eventID string) ([]model.JoinRequest, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.OrganizerID != organizerID {
		return nil, model.ErrForbidden
	}
	return s.store.ListRequests(ctx, eventID)
}

// admit accepts r and takes one slot in the same unit of work.
func admit(ctx context.Context, tx repository.Tx, r *model.JoinRequest) error {
	if err := tx.SetStatus(ctx, r.ID, model.StatusAccepted); err != nil {
		return err
	}
	if err := tx.IncrementAcceptedCount(ctx); err != nil {
		return err
	}
	r.Status = model.StatusAccepted
	return nil
}
