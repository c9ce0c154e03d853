package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/Shivanand-hulikatti/eventjoin/internal/auth"
	"github.com/Shivanand-hulikatti/eventjoin/internal/model"
	"github.com/Shivanand-hulikatti/eventjoin/internal/repository/memory"
	"github.com/Shivanand-hulikatti/eventjoin/internal/service"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.New()

	tokens, err := auth.NewTokenIssuer([]byte("test-secret"), "eventjoin-test", time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	authSvc := service.NewAuthService(store, auth.BcryptHasher{Cost: bcrypt.MinCost}, logger)
	eventSvc := service.NewEventService(store, store, logger)
	joinSvc := service.NewJoinService(store, time.Second, logger)
	rosterSvc := service.NewRosterService(store)

	router := NewRouter(
		NewAuthHandler(authSvc, tokens, logger),
		NewEventHandler(eventSvc, joinSvc, rosterSvc, logger),
		tokens,
		logger,
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

func register(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, "/api/auth/register", "", model.CredentialsRequest{Username: username, Password: "pw-" + username})
	if status != http.StatusCreated {
		t.Fatalf("register %s: %d %s", username, status, body)
	}
	tok := decode[model.TokenResponse](t, body)
	if tok.AccessToken == "" || tok.TokenType != auth.TokenType {
		t.Fatalf("token response = %+v", tok)
	}
	return tok.AccessToken
}

func createEvent(t *testing.T, srv *httptest.Server, token string, limit *int) model.Event {
	t.Helper()
	status, body := do(t, srv, http.MethodPost, "/api/events", token, model.CreateEventRequest{
		Name: "Pickup game", Location: "Court 3", Date: "2026-05-01", Time: "18:00", Limit: limit,
	})
	if status != http.StatusCreated {
		t.Fatalf("create event: %d %s", status, body)
	}
	return decode[model.Event](t, body)
}

func intPtr(n int) *int { return &n }

func TestAuthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "alice")

	status, body := do(t, srv, http.MethodPost, "/api/auth/register", "", model.CredentialsRequest{Username: "alice", Password: "x"})
	if status != http.StatusBadRequest || decode[model.ErrorResponse](t, body).Kind != model.KindDuplicateUsername {
		t.Fatalf("duplicate register: %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodPost, "/api/auth/register", "", model.CredentialsRequest{Username: "bob", Password: ""})
	if status != http.StatusBadRequest || decode[model.ErrorResponse](t, body).Kind != model.KindInvalidArgument {
		t.Fatalf("empty password register: %d %s", status, body)
	}

	for _, path := range []string{"/api/auth/login", "/api/auth/token"} {
		status, body = do(t, srv, http.MethodPost, path, "", model.CredentialsRequest{Username: "alice", Password: "pw-alice"})
		if status != http.StatusOK {
			t.Fatalf("%s: %d %s", path, status, body)
		}
	}

	status, body = do(t, srv, http.MethodPost, "/api/auth/login", "", model.CredentialsRequest{Username: "alice", Password: "nope"})
	if status != http.StatusUnauthorized || decode[model.ErrorResponse](t, body).Kind != model.KindInvalidCredential {
		t.Fatalf("bad login: %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{"user": "alice"})
	if status != http.StatusBadRequest || decode[model.ErrorResponse](t, body).Kind != model.KindInvalidArgument {
		t.Fatalf("unknown field: %d %s", status, body)
	}
}

func TestEventsRequireAuth(t *testing.T) {
	srv := newTestServer(t)

	status, body := do(t, srv, http.MethodGet, "/api/events", "", nil)
	if status != http.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Fatalf("list: %d %s", status, body)
	}

	for _, tok := range []string{"", "garbage"} {
		status, body = do(t, srv, http.MethodPost, "/api/events", tok, model.CreateEventRequest{Name: "x"})
		if status != http.StatusUnauthorized || decode[model.ErrorResponse](t, body).Kind != model.KindInvalidToken {
			t.Fatalf("create with token %q: %d %s", tok, status, body)
		}
	}
}

func TestCreateAndListEvents(t *testing.T) {
	srv := newTestServer(t)
	tok := register(t, srv, "org")

	status, body := do(t, srv, http.MethodPost, "/api/events", tok, model.CreateEventRequest{Name: "x", Date: "2026-05-01", Time: "18:00", Limit: intPtr(0)})
	if status != http.StatusBadRequest || decode[model.ErrorResponse](t, body).Kind != model.KindInvalidArgument {
		t.Fatalf("zero limit: %d %s", status, body)
	}

	late := createEvent(t, srv, tok, nil)
	status, body = do(t, srv, http.MethodPost, "/api/events", tok, model.CreateEventRequest{Name: "early", Date: "2026-04-01", Time: "09:00"})
	if status != http.StatusCreated {
		t.Fatalf("create: %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodGet, "/api/events", "", nil)
	if status != http.StatusOK {
		t.Fatalf("list: %d", status)
	}
	events := decode[[]model.Event](t, body)
	if len(events) != 2 || events[0].Name != "early" || events[1].ID != late.ID {
		t.Fatalf("events = %+v", events)
	}
}

func TestJoinFlow(t *testing.T) {
	srv := newTestServer(t)
	org := register(t, srv, "org")
	a := register(t, srv, "a")
	b := register(t, srv, "b")
	ev := createEvent(t, srv, org, intPtr(1))
	join := "/api/events/" + ev.ID + "/join"

	status, body := do(t, srv, http.MethodPost, join, a, nil)
	if status != http.StatusCreated || decode[model.JoinResponse](t, body).Status != model.OutcomeAccepted {
		t.Fatalf("a join: %d %s", status, body)
	}
	status, body = do(t, srv, http.MethodPost, join, b, nil)
	pending := decode[model.JoinResponse](t, body)
	if status != http.StatusAccepted || pending.Status != model.OutcomePending || pending.RequestID == "" {
		t.Fatalf("b join: %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodPost, join, a, nil)
	if status != http.StatusBadRequest || decode[model.ErrorResponse](t, body).Kind != model.KindAlreadyJoined {
		t.Fatalf("a again: %d %s", status, body)
	}
	status, body = do(t, srv, http.MethodPost, join, b, nil)
	if status != http.StatusBadRequest || decode[model.ErrorResponse](t, body).Kind != model.KindAlreadyRequested {
		t.Fatalf("b again: %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodPost, "/api/events/missing/join", a, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown event: %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodGet, "/api/events/"+ev.ID, b, nil)
	if status != http.StatusOK {
		t.Fatalf("get: %d %s", status, body)
	}
	roster := decode[model.Roster](t, body)
	if roster.ViewerStatus != model.ViewerPending || roster.HasJoined || len(roster.Players) != 1 || roster.Event.AcceptedCount != 1 {
		t.Fatalf("roster for b = %+v", roster)
	}

	status, body = do(t, srv, http.MethodGet, "/api/events/"+ev.ID, a, nil)
	if roster := decode[model.Roster](t, body); status != http.StatusOK || !roster.HasJoined {
		t.Fatalf("roster for a: %d %s", status, body)
	}
}

func TestOrganizerEndpoints(t *testing.T) {
	srv := newTestServer(t)
	org := register(t, srv, "org")
	a := register(t, srv, "a")
	b := register(t, srv, "b")
	ev := createEvent(t, srv, org, intPtr(1))
	base := "/api/events/" + ev.ID

	do(t, srv, http.MethodPost, base+"/join", a, nil)
	_, body := do(t, srv, http.MethodPost, base+"/join", b, nil)
	pendingID := decode[model.JoinResponse](t, body).RequestID

	status, body := do(t, srv, http.MethodGet, base+"/requests", a, nil)
	if status != http.StatusForbidden {
		t.Fatalf("non-organizer list: %d %s", status, body)
	}
	status, body = do(t, srv, http.MethodGet, base+"/requests", org, nil)
	if reqs := decode[[]model.JoinRequest](t, body); status != http.StatusOK || len(reqs) != 2 {
		t.Fatalf("list: %d %s", status, body)
	}

	status, body = do(t, srv, http.MethodPost, base+"/requests/"+pendingID+"/approve", org, nil)
	if status != http.StatusBadRequest || decode[model.ErrorResponse](t, body).Kind != model.KindCapacityExceeded {
		t.Fatalf("approve when full: %d %s", status, body)
	}
	status, body = do(t, srv, http.MethodPost, base+"/requests/"+pendingID+"/reject", b, nil)
	if status != http.StatusForbidden {
		t.Fatalf("reject by requester: %d %s", status, body)
	}
	status, body = do(t, srv, http.MethodPost, base+"/requests/"+pendingID+"/reject", org, nil)
	if r := decode[model.JoinRequest](t, body); status != http.StatusOK || r.Status != model.StatusRejected {
		t.Fatalf("reject: %d %s", status, body)
	}
	status, body = do(t, srv, http.MethodPost, base+"/requests/"+pendingID+"/reject", org, nil)
	if status != http.StatusBadRequest || decode[model.ErrorResponse](t, body).Kind != model.KindInvalidTransition {
		t.Fatalf("reject twice: %d %s", status, body)
	}
}

func TestHealthAndCORS(t *testing.T) {
	srv := newTestServer(t)
	status, body := do(t, srv, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Fatalf("health: %d %s", status, body)
	}

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/events", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", resp.StatusCode, resp.Header)
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	respondError(rec, req, zap.NewNop(), errors.New("dial tcp 10.0.0.5:5432: password=hunter2"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[model.ErrorResponse](t, rec.Body.Bytes())
	if resp.Kind != model.KindInternal || resp.Error != "internal server error" {
		t.Fatalf("body = %+v", resp)
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[string]int{
		model.KindNotFound:          http.StatusNotFound,
		model.KindInvalidArgument:   http.StatusBadRequest,
		model.KindDuplicateUsername: http.StatusBadRequest,
		model.KindAlreadyJoined:     http.StatusBadRequest,
		model.KindAlreadyRequested:  http.StatusBadRequest,
		model.KindCapacityExceeded:  http.StatusBadRequest,
		model.KindInvalidTransition: http.StatusBadRequest,
		model.KindInvalidCredential: http.StatusUnauthorized,
		model.KindInvalidToken:      http.StatusUnauthorized,
		model.KindForbidden:         http.StatusForbidden,
		model.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestBearerToken(t *testing.T) {
	for header, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		if got := bearerToken(req); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
