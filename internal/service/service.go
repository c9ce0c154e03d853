// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/eventjoin/internal/logging"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository"
)

// maxLimit bounds an event's capacity.
const maxLimit = 100_000

// EventService orchestrates event-related business operations.
type EventService struct {
	events repository.Events
	users  repository.Users
	logger *zap.Logger
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(events repository.Events, users repository.Users, logger *zap.Logger) *EventService {
	return &EventService{events: events, users: users, logger: logging.OrNop(logger)}
}

// CreateEvent validates the request and stores a new event owned by organizerID.
func (s *EventService) CreateEvent(ctx context.Context, organizerID string, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Location = strings.TrimSpace(req.Location)
	req.Date = strings.TrimSpace(req.Date)
	req.Time = strings.TrimSpace(req.Time)

	if req.Name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidArgument)
	}
	if _, err := time.Parse(model.DateLayout, req.Date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", model.ErrInvalidArgument)
	}
	if _, err := time.Parse(model.TimeLayout, req.Time); err != nil {
		return nil, fmt.Errorf("%w: time must be HH:MM", model.ErrInvalidArgument)
	}
	if req.Limit != nil {
		if *req.Limit <= 0 {
			return nil, fmt.Errorf("%w: limit must be a positive integer", model.ErrInvalidArgument)
		}
		if *req.Limit > maxLimit {
			return nil, fmt.Errorf("%w: limit cannot exceed 100,000", model.ErrInvalidArgument)
		}
	}
	if _, err := s.users.GetUser(ctx, organizerID); err != nil {
		return nil, fmt.Errorf("organizer %s: %w", organizerID, err)
	}

	e := &model.Event{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Location:    req.Location,
		Date:        req.Date,
		Time:        req.Time,
		Limit:       req.Limit,
		OrganizerID: organizerID,
	}
	if err := s.events.CreateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	s.logger.Info("event created",
		zap.String("event_id", e.ID),
		zap.String("organizer_id", organizerID),
		zap.Intp("limit", e.Limit),
	)
	return e, nil
}

// ListEvents returns all events ordered by date, then time.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	events, err := s.events.ListEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	model.SortEvents(events)
	return events, nil
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", model.ErrInvalidArgument)
	}
	return s.events.GetEvent(ctx, id)
}

// RosterService serves the read model of an event. It never decides admission.
type RosterService struct {
	ledger repository.Ledger
}

func NewRosterService(ledger repository.Ledger) *RosterService {
	return &RosterService{ledger: ledger}
}

// GetRosterForViewer returns the event, its accepted players and the viewer's
// join status. An empty viewerID yields ViewerNone.
func (s *RosterService) GetRosterForViewer(ctx context.Context, eventID, viewerID string) (*model.Roster, error) {
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", model.ErrInvalidArgument)
	}
	return s.ledger.Roster(ctx, eventID, viewerID)
}

// logOutcome logs business failures at debug and everything else at error.
func logOutcome(logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	if model.IsBusiness(err) {
		logger.Debug(msg, append(fields, zap.String("kind", model.Kind(err)))...)
		return
	}
	logger.Error(msg, append(fields, zap.Error(err))...)
}
