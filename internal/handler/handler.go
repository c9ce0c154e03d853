// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/eventjoin/internal/auth"
	"github.com/Shivanand-hulikatti/eventjoin/internal/logging"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/service"
)

// EventHandler holds the HTTP handlers for events, joins and the roster.
type EventHandler struct {
	events *service.EventService
	joins  *service.JoinService
	roster *service.RosterService
	logger *zap.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(events *service.EventService, joins *service.JoinService, roster *service.RosterService, logger *zap.Logger) *EventHandler {
	return &EventHandler{events: events, joins: joins, roster: roster, logger: logging.OrNop(logger)}
}

// AuthHandler serves registration and login.
type AuthHandler struct {
	svc    *service.AuthService
	tokens Tokens
	logger *zap.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(svc *service.AuthService, tokens Tokens, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{svc: svc, tokens: tokens, logger: logging.OrNop(logger)}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Kind: kind})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInvalidCredential, model.KindInvalidToken:
		return http.StatusUnauthorized
	case model.KindForbidden:
		return http.StatusForbidden
	case model.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// respondError renders err with its stable kind. Internal failures are
// logged and reported without detail.
func respondError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	kind := model.Kind(err)
	if kind == model.KindInternal {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, kind, "internal server error")
		return
	}
	writeError(w, statusFor(kind), kind, err.Error())
}

func badBody(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, model.KindInvalidArgument, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, model.KindInvalidArgument, "invalid request body: "+err.Error())
}

// ─── Auth ─────────────────────────────────────────────────────────────────────

// Register handles POST /api/auth/register
// Creates the account and returns an access token for it.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	userID, err := h.svc.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.issue(w, r, http.StatusCreated, userID)
}

// Login handles POST /api/auth/login and POST /api/auth/token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	userID, err := h.svc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	h.issue(w, r, http.StatusOK, userID)
}

func (h *AuthHandler) issue(w http.ResponseWriter, r *http.Request, status int, userID string) {
	token, err := h.tokens.Issue(userID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, status, model.TokenResponse{AccessToken: token, TokenType: auth.TokenType})
}

// ─── Events ───────────────────────────────────────────────────────────────────

// CreateEvent handles POST /api/events
// The authenticated user becomes the organizer.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, err)
		return
	}

	event, err := h.events.CreateEvent(r.Context(), UserID(r.Context()), req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /api/events
// Returns a JSON array of all events ordered by date and time.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /api/events/{eventId}
// Returns the event with its players and the caller's join status.
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	roster, err := h.roster.GetRosterForViewer(r.Context(), chi.URLParam(r, "eventId"), UserID(r.Context()))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, roster)
}

// Join handles POST /api/events/{eventId}/join
// Responds 201 when the caller was admitted and 202 when the request is queued.
func (h *EventHandler) Join(w http.ResponseWriter, r *http.Request) {
	req, err := h.joins.RequestJoin(r.Context(), chi.URLParam(r, "eventId"), UserID(r.Context()))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if req.Status == model.StatusAccepted {
		status = http.StatusCreated
	}
	writeJSON(w, status, model.JoinResponse{RequestID: req.ID, Status: model.OutcomeFor(req.Status)})
}

// ListRequests handles GET /api/events/{eventId}/requests
func (h *EventHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.joins.ListRequests(r.Context(), UserID(r.Context()), chi.URLParam(r, "eventId"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	if reqs == nil {
		reqs = []model.JoinRequest{}
	}

	writeJSON(w, http.StatusOK, reqs)
}

// Approve handles POST /api/events/{eventId}/requests/{requestId}/approve
func (h *EventHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.joins.Approve)
}

// Reject handles POST /api/events/{eventId}/requests/{requestId}/reject
func (h *EventHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.joins.Reject)
}

type decision func(ctx context.Context, organizerID, eventID, requestID string) (*model.JoinRequest, error)

func (h *EventHandler) decide(w http.ResponseWriter, r *http.Request, fn decision) {
	req, err := fn(r.Context(), UserID(r.Context()), chi.URLParam(r, "eventId"), chi.URLParam(r, "requestId"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
