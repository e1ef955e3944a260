package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/technosupport/alibi/internal/api"
	"github.com/technosupport/alibi/internal/audit"
	"github.com/technosupport/alibi/internal/auth"
	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/grouper"
	"github.com/technosupport/alibi/internal/hub"
	"github.com/technosupport/alibi/internal/identity"
	"github.com/technosupport/alibi/internal/ingest"
	"github.com/technosupport/alibi/internal/metrics"
	"github.com/technosupport/alibi/internal/middleware"
	"github.com/technosupport/alibi/internal/model"
	"github.com/technosupport/alibi/internal/ratelimit"
	"github.com/technosupport/alibi/internal/report"
	"github.com/technosupport/alibi/internal/sim"
	"github.com/technosupport/alibi/internal/store"
	"github.com/technosupport/alibi/internal/tokens"
	"github.com/technosupport/alibi/internal/watchlist"
)

var base = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

type testServer struct {
	srv      *httptest.Server
	pipeline *ingest.Pipeline
	store    *store.Store
	users    *identity.Store
	clk      *clock.Fixed
	dataDir  string
}

type pipelineIngestor struct{ p *ingest.Pipeline }

func (pi *pipelineIngestor) Ingest(ctx context.Context, evt *model.CameraEvent, actor string) error {
	_, err := pi.p.Ingest(ctx, evt, actor)
	return err
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	clk := &clock.Fixed{T: base}

	st, err := store.Open(dir, clk)
	if err != nil {
		t.Fatal(err)
	}
	settings, err := config.OpenSettings(filepath.Join(dir, "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	auditLog, err := audit.Open(dir, clk)
	if err != nil {
		t.Fatal(err)
	}
	users, err := identity.Open(dir, clk)
	if err != nil {
		t.Fatal(err)
	}
	wl, err := watchlist.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []struct {
		name string
		role identity.Role
	}{
		{"op1", identity.RoleOperator},
		{"sup1", identity.RoleSupervisor},
		{"root", identity.RoleAdmin},
	} {
		if _, err := users.Create(u.name, "trusty-horse-9", u.role); err != nil {
			t.Fatal(err)
		}
	}

	h := hub.New(clk)
	t.Cleanup(func() { h.Close(context.Background()) })

	n := 0
	g := grouper.New(st, func() string {
		n++
		return fmt.Sprintf("n%04d", n)
	})

	pipeline := &ingest.Pipeline{
		Store:     st,
		Grouper:   g,
		Settings:  settings,
		Hub:       h,
		Audit:     auditLog,
		Watchlist: wl,
		Clock:     clk,
	}

	tokenMgr := tokens.NewManager([]byte("0123456789abcdef0123456789abcdef"))
	blacklist := auth.NewMemoryBlacklist()
	collector := metrics.New()
	simulator := sim.New(&pipelineIngestor{p: pipeline}, clk)

	router := api.NewRouter(api.Handlers{
		Auth: &api.AuthHandler{
			Users: users, Tokens: tokenMgr, Audit: auditLog,
			Limiter: ratelimit.NewMemoryLimiter(), Blacklist: blacklist,
		},
		Users:     &api.UserHandler{Users: users, Audit: auditLog},
		Incidents: &api.IncidentHandler{Pipeline: pipeline, Store: st, Clock: clk, Audit: auditLog},
		Stream:    &api.StreamHandler{Hub: h, Metrics: collector},
		Sim:       &api.SimHandler{Sim: simulator, Audit: auditLog},
		Reports:   &api.ReportHandler{Builder: &report.Builder{Store: st}, Clock: clk},
		Settings:  &api.SettingsHandler{Settings: settings, Audit: auditLog},
		Watchlist: &api.WatchlistHandler{Registry: wl, Audit: auditLog, Clock: clk},
		JWT:       middleware.NewJWTAuth(tokenMgr, blacklist, users),
		Metrics:   collector,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, pipeline: pipeline, store: st, users: users, clk: clk, dataDir: dir}
}

func (ts *testServer) login(t *testing.T, username, password string) (string, int) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(ts.srv.URL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out.AccessToken, resp.StatusCode
}

func (ts *testServer) do(t *testing.T, method, path, token string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func webhookEvent(id string, severity int) map[string]any {
	return map[string]any{
		"event_id":   id,
		"camera_id":  "cam_gate_1",
		"zone_id":    "zone_entry",
		"ts":         base.Format(time.RFC3339),
		"event_type": "person_detected",
		"confidence": 0.9,
		"severity":   severity,
	}
}

func TestLoginFlow(t *testing.T) {
	ts := newTestServer(t)

	if _, code := ts.login(t, "op1", "wrong-password"); code != http.StatusUnauthorized {
		t.Fatalf("bad password must 401, got %d", code)
	}

	token, code := ts.login(t, "op1", "trusty-horse-9")
	if code != http.StatusOK || token == "" {
		t.Fatalf("login failed: %d", code)
	}

	resp, body := ts.do(t, http.MethodGet, "/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", resp.StatusCode, body)
	}
	var me map[string]string
	_ = json.Unmarshal(body, &me)
	if me["username"] != "op1" || me["role"] != "operator" {
		t.Errorf("unexpected identity: %v", me)
	}
}

func TestLoginLockout(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < ratelimit.MaxAttempts; i++ {
		ts.login(t, "op1", "wrong-password")
	}
	if _, code := ts.login(t, "op1", "trusty-horse-9"); code != http.StatusUnauthorized {
		t.Fatalf("locked-out account must 401 even with the right password, got %d", code)
	}
}

func TestMissingTokenRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/incidents", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodGet, "/incidents", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token must 401, got %d", resp.StatusCode)
	}
}

func TestRoleEnforcement(t *testing.T) {
	ts := newTestServer(t)
	opToken, _ := ts.login(t, "op1", "trusty-horse-9")
	adminToken, _ := ts.login(t, "root", "trusty-horse-9")

	resp, _ := ts.do(t, http.MethodGet, "/auth/users", opToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("operator on admin route must 403, got %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodGet, "/auth/users", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin on admin route must 200, got %d", resp.StatusCode)
	}
}

func TestWebhookIngestAndFetch(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "op1", "trusty-horse-9")

	resp, body := ts.do(t, http.MethodPost, "/webhook/camera-event", token, webhookEvent("e1", 2))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest: %d %s", resp.StatusCode, body)
	}
	var sum ingest.Summary
	if err := json.Unmarshal(body, &sum); err != nil {
		t.Fatal(err)
	}
	if !sum.Created || sum.IncidentID == "" {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	resp, body = ts.do(t, http.MethodGet, "/incidents/"+sum.IncidentID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get incident: %d %s", resp.StatusCode, body)
	}
	var got struct {
		IncidentID string                  `json:"incident_id"`
		Metadata   *model.IncidentMetadata `json:"_metadata"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Metadata == nil || got.Metadata.Plan == nil {
		t.Fatal("incident response must embed _metadata")
	}

	resp, body = ts.do(t, http.MethodGet, "/incidents?status=new", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: %d", resp.StatusCode)
	}
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(body, &list)
	if list.Count != 1 {
		t.Errorf("expected 1 incident, got %d", list.Count)
	}
}

func TestWebhookRejectsSchemaViolations(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "op1", "trusty-horse-9")

	bad := webhookEvent("e1", 9) // severity out of range
	resp, body := ts.do(t, http.MethodPost, "/webhook/camera-event", token, bad)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", resp.StatusCode, body)
	}
	var e struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &e)
	if e.Error != "bad_input" {
		t.Errorf("expected bad_input code, got %q", e.Error)
	}

	// The reject must leave a trail even though it never reached the pipeline.
	var rejects []audit.Entry
	if err := audit.Scan(ts.dataDir, func(entry audit.Entry) {
		if entry.Action == audit.ActionIngestRejected {
			rejects = append(rejects, entry)
		}
	}); err != nil {
		t.Fatal(err)
	}
	if len(rejects) != 1 {
		t.Fatalf("expected one ingest_rejected audit entry, got %d", len(rejects))
	}
	if rejects[0].Actor != "op1" {
		t.Errorf("reject must be audited to the caller, got %q", rejects[0].Actor)
	}
}

func TestDecisionEndpoint(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "op1", "trusty-horse-9")

	_, body := ts.do(t, http.MethodPost, "/webhook/camera-event", token, webhookEvent("e1", 2))
	var sum ingest.Summary
	_ = json.Unmarshal(body, &sum)

	// Dismissing without a reason violates the decision schema.
	resp, _ := ts.do(t, http.MethodPost, "/incidents/"+sum.IncidentID+"/decision", token,
		map[string]any{"action_taken": "dismissed"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("dismiss without reason must 422, got %d", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodPost, "/incidents/"+sum.IncidentID+"/decision", token,
		map[string]any{"action_taken": "dismissed", "dismiss_reason": "false_positive_motion"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("decision: %d %s", resp.StatusCode, body)
	}
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	if out["status"] != "dismissed" {
		t.Errorf("expected dismissed, got %v", out["status"])
	}
}

func TestApproveEndpoint(t *testing.T) {
	ts := newTestServer(t)
	opToken, _ := ts.login(t, "op1", "trusty-horse-9")
	supToken, _ := ts.login(t, "sup1", "trusty-horse-9")

	// Plain incident: approval conflicts.
	_, body := ts.do(t, http.MethodPost, "/webhook/camera-event", opToken, webhookEvent("e1", 2))
	var plain ingest.Summary
	_ = json.Unmarshal(body, &plain)

	resp, _ := ts.do(t, http.MethodPost, "/incidents/"+plain.IncidentID+"/approve", supToken, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("approve on non-pending incident must 409, got %d", resp.StatusCode)
	}

	// High-severity incident lands in the review queue.
	evt := webhookEvent("e2", 5)
	evt["camera_id"] = "cam_lot_a"
	_, body = ts.do(t, http.MethodPost, "/webhook/camera-event", opToken, evt)
	var pending ingest.Summary
	_ = json.Unmarshal(body, &pending)
	if pending.Status != model.StatusDispatchPendingReview {
		t.Fatalf("setup: expected pending review, got %s", pending.Status)
	}

	// Operators cannot approve.
	resp, _ = ts.do(t, http.MethodPost, "/incidents/"+pending.IncidentID+"/approve", opToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("operator approve must 403, got %d", resp.StatusCode)
	}

	resp, body = ts.do(t, http.MethodPost, "/incidents/"+pending.IncidentID+"/approve", supToken,
		map[string]string{"approval_notes": "verified on footage"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", resp.StatusCode, body)
	}
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	if out["status"] != "dispatch_authorized" {
		t.Errorf("expected dispatch_authorized, got %v", out["status"])
	}
}

func TestSettingsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	opToken, _ := ts.login(t, "op1", "trusty-horse-9")
	adminToken, _ := ts.login(t, "root", "trusty-horse-9")

	resp, body := ts.do(t, http.MethodGet, "/settings", opToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings read: %d", resp.StatusCode)
	}
	var current config.Settings
	if err := json.Unmarshal(body, &current); err != nil {
		t.Fatal(err)
	}

	resp, _ = ts.do(t, http.MethodPut, "/settings", opToken, current)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("operator settings write must 403, got %d", resp.StatusCode)
	}

	invalid := current
	invalid.IncidentGrouping.DedupWindowSeconds = 0
	resp, _ = ts.do(t, http.MethodPut, "/settings", adminToken, invalid)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid settings must 422, got %d", resp.StatusCode)
	}

	current.Thresholds.MinConfidenceForNotify = 0.8
	resp, body = ts.do(t, http.MethodPut, "/settings", adminToken, current)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settings write: %d %s", resp.StatusCode, body)
	}
	var updated config.Settings
	_ = json.Unmarshal(body, &updated)
	if updated.Thresholds.MinConfidenceForNotify != 0.8 {
		t.Errorf("settings update not applied: %+v", updated.Thresholds)
	}
}

func TestChangePasswordRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "op1", "trusty-horse-9")

	resp, body := ts.do(t, http.MethodPost, "/auth/change-password", token,
		map[string]string{"current_password": "trusty-horse-9", "new_password": "steady-river-12"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password: %d %s", resp.StatusCode, body)
	}

	resp, _ = ts.do(t, http.MethodGet, "/auth/me", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old token must be revoked, got %d", resp.StatusCode)
	}

	if _, code := ts.login(t, "op1", "steady-river-12"); code != http.StatusOK {
		t.Fatalf("new password must work, got %d", code)
	}
}

func TestDisabledUserLosesAccess(t *testing.T) {
	ts := newTestServer(t)
	opToken, _ := ts.login(t, "op1", "trusty-horse-9")
	adminToken, _ := ts.login(t, "root", "trusty-horse-9")

	resp, _ := ts.do(t, http.MethodDelete, "/auth/users/op1", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable: %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodGet, "/incidents", opToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("disabled user's token must stop working, got %d", resp.StatusCode)
	}
	if _, code := ts.login(t, "op1", "trusty-horse-9"); code != http.StatusUnauthorized {
		t.Fatalf("disabled user must not log in, got %d", code)
	}
}

func TestWatchlistAdminOnly(t *testing.T) {
	ts := newTestServer(t)
	opToken, _ := ts.login(t, "op1", "trusty-horse-9")
	adminToken, _ := ts.login(t, "root", "trusty-horse-9")

	entry := map[string]string{"identifier": "AB123CD", "label": "report-441", "reason": "county registry flag"}

	resp, _ := ts.do(t, http.MethodPost, "/watchlist", opToken, entry)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("operator watchlist write must 403, got %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPost, "/watchlist", adminToken, entry)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("watchlist add: %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodPost, "/watchlist", adminToken,
		map[string]string{"identifier": "ZZ999ZZ", "label": "x"})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("watchlist add without reason must 422, got %d", resp.StatusCode)
	}

	resp, _ = ts.do(t, http.MethodDelete, "/watchlist/AB123CD", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("watchlist remove: %d", resp.StatusCode)
	}
	resp, _ = ts.do(t, http.MethodDelete, "/watchlist/AB123CD", adminToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second remove must 404, got %d", resp.StatusCode)
	}
}

func TestShiftReportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	opToken, _ := ts.login(t, "op1", "trusty-horse-9")
	supToken, _ := ts.login(t, "sup1", "trusty-horse-9")

	ts.do(t, http.MethodPost, "/webhook/camera-event", opToken, webhookEvent("e1", 2))

	// Any authenticated role may pull a shift report.
	resp, _ := ts.do(t, http.MethodPost, "/reports/shift", opToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("operator report: %d", resp.StatusCode)
	}

	resp, body := ts.do(t, http.MethodPost, "/reports/shift", supToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: %d %s", resp.StatusCode, body)
	}
	var rep report.ShiftReport
	if err := json.Unmarshal(body, &rep); err != nil {
		t.Fatal(err)
	}
	if rep.TotalIncidents != 1 {
		t.Errorf("expected 1 incident in the window, got %d", rep.TotalIncidents)
	}
	if rep.Narrative == "" {
		t.Error("report must carry a narrative")
	}
}

func TestSSEStreamDeliversUpserts(t *testing.T) {
	ts := newTestServer(t)
	token, _ := ts.login(t, "op1", "trusty-horse-9")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// EventSource clients pass the token as a query parameter.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.srv.URL+"/stream/incidents?token="+token, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	if _, err := ts.pipeline.Ingest(context.Background(), &model.CameraEvent{
		EventID: "e1", CameraID: "cam_gate_1", ZoneID: "zone_entry",
		TS: base, EventType: "person_detected", Confidence: 0.9, Severity: 2,
	}, "op1"); err != nil {
		t.Fatal(err)
	}

	sc := bufio.NewScanner(resp.Body)
	var eventLine, dataLine string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") && eventLine == hub.EventIncidentUpsert {
			dataLine = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if dataLine == "" {
		t.Fatal("never saw an incident_upsert frame")
	}

	var msg hub.Message
	if err := json.Unmarshal([]byte(dataLine), &msg); err != nil {
		t.Fatalf("bad frame payload: %v", err)
	}
	if msg.IncidentID == "" || msg.Version != 1 || msg.Sequence == 0 {
		t.Errorf("unexpected message: %+v", msg)
	}
}
