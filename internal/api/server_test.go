package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guardian/internal/analytics"
	"guardian/internal/config"
	"guardian/internal/escalation"
	"guardian/internal/modules/audit"
	"guardian/internal/storage"

	"go.uber.org/zap"
)

type fakeInviteSource struct {
	invites []Invite
	err     error
}

func (f *fakeInviteSource) ListInvites(ctx context.Context) ([]Invite, error) {
	return f.invites, f.err
}

func newTestServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	return newTestServerWithInvites(t, nil)
}

func newTestServerWithInvites(t *testing.T, invites InviteSource) (*Server, *storage.Store) {
	t.Helper()

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	auditLogger := audit.NewLogger(store, zap.NewNop())
	engine := escalation.NewEngine(store, nil, nil, auditLogger, zap.NewNop())
	srv := NewServer(config.DashConfig{Addr: ":0"}, store, analytics.New(store), engine, auditLogger, invites, zap.NewNop())
	return srv, store
}

func seedSession(t *testing.T, store *storage.Store) storage.Session {
	t.Helper()
	sess := storage.Session{
		ID:        "test-session",
		UserID:    "mod-1",
		Username:  "moderator",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return sess
}

func authedRequest(method, target string, body string, sess storage.Session) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess.ID})
	return req
}

func TestAPIRejectsUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestExpiredSessionIsRejected(t *testing.T) {
	srv, store := newTestServer(t)
	sess := storage.Session{
		ID:        "stale",
		UserID:    "mod-1",
		Username:  "moderator",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodGet, "/api/me", "", sess))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if _, err := store.GetSession(context.Background(), "stale"); err == nil {
		t.Fatal("expired session should be deleted on use")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	body := `{"autoMuteThreshold":"50","aiAction":"DELETE","aiEnabled":"false"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/api/settings", body, sess))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var got settingsDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.AutoMuteThreshold != 50 {
		t.Fatalf("AutoMuteThreshold = %d, want 50", got.AutoMuteThreshold)
	}
	if got.AIAction != "delete" {
		t.Fatalf("AIAction = %q, want delete", got.AIAction)
	}
	if got.AIEnabled {
		t.Fatal("AIEnabled should be false")
	}
}

func TestSettingsRejectsUnknownKey(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/api/settings", `{"bogus":"1"}`, sess))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestEscalationRuleLifecycle(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/api/escalations",
		`{"name":"First strike","threshold":10,"action":"mute","durationMinutes":30}`, sess))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	var created escalationDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("created rule should carry its id")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodGet, "/api/escalations", "", sess))
	var rules []escalationDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &rules); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "First strike" {
		t.Fatalf("rules = %+v, want the created rule", rules)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/escalations/1", "", sess))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}
}

func TestCreateEscalationValidatesRule(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/api/escalations",
		`{"name":"bad","threshold":0,"action":"shame"}`, sess))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestClearUserZeroesPoints(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	ctx := context.Background()
	if _, err := store.AddWarning(ctx, "u1", storage.Warning{Moderator: "mod-1", Reason: "spam", Points: 5}); err != nil {
		t.Fatalf("seed warning: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/api/users/u1/clear", "", sess))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rep, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if rep.Points != 0 || len(rep.Warnings) != 0 {
		t.Fatalf("points = %d, warnings = %d, want both zero", rep.Points, len(rep.Warnings))
	}
}

func TestMonitoredAddAndRemove(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/api/monitored/u9", "", sess))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("add status = %d, want 204", rec.Code)
	}
	if monitored, _ := store.IsMonitored(ctx, "u9"); !monitored {
		t.Fatal("u9 should be monitored after add")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodDelete, "/api/monitored/u9", "", sess))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove status = %d, want 204", rec.Code)
	}
	if monitored, _ := store.IsMonitored(ctx, "u9"); monitored {
		t.Fatal("u9 should not be monitored after remove")
	}
}

func TestListLogsValidatesQuery(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodGet, "/api/logs?limit=0", "", sess))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodGet, "/api/logs?since=yesterday", "", sess))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad since status = %d, want 400", rec.Code)
	}
}

func TestListLogsReturnsRecentEntries(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	srv.audit.Log(context.Background(), audit.LevelWarn, "u1", "mute", "test entry")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodGet, "/api/logs", "", sess))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var logs []auditLogDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &logs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "mute" {
		t.Fatalf("logs = %+v, want single mute entry", logs)
	}
}

func TestListInvitesMergesAliasesAndSortsByUses(t *testing.T) {
	source := &fakeInviteSource{invites: []Invite{
		{Code: "aBcD3f", Uses: 2, InviterID: "u1", InviterName: "alice", CreatedAt: time.Now()},
		{Code: "xYz123", Uses: 9, InviterID: "u2", InviterName: "bob", CreatedAt: time.Now()},
	}}
	srv, store := newTestServerWithInvites(t, source)
	sess := seedSession(t, store)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/api/invites/xYz123/alias", `{"alias":"Homepage"}`, sess))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set alias status = %d, want 204", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodGet, "/api/invites", "", sess))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var invites []inviteDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &invites); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(invites) != 2 {
		t.Fatalf("invites = %+v, want 2 entries", invites)
	}
	if invites[0].Code != "xYz123" || invites[0].Alias != "Homepage" {
		t.Fatalf("most-used invite should come first with its alias: %+v", invites[0])
	}
	if invites[1].Code != "aBcD3f" || invites[1].Alias != "" {
		t.Fatalf("unaliased invite altered: %+v", invites[1])
	}
}

func TestListInvitesUnavailableWithoutSource(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodGet, "/api/invites", "", sess))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestSetInviteAliasRejectsOversizedAlias(t *testing.T) {
	srv, store := newTestServer(t)
	sess := seedSession(t, store)

	body := `{"alias":"` + strings.Repeat("a", 101) + `"}`
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, authedRequest(http.MethodPost, "/api/invites/abc/alias", body, sess))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	srv, _ := newTestServer(t)

	for i := 0; i < rateLimitPerMinute; i++ {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}
