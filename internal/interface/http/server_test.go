package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/points-ledger/config"
	"github.com/alem-hub/points-ledger/internal/application/command"
	"github.com/alem-hub/points-ledger/internal/application/port"
	"github.com/alem-hub/points-ledger/internal/application/query"
	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/internal/infrastructure/metrics"
	"github.com/alem-hub/points-ledger/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/points-ledger/internal/interface/http/handlers"
	"github.com/alem-hub/points-ledger/pkg/timeutil"
)

// Monday 09:00 UTC.
var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURE
// ══════════════════════════════════════════════════════════════════════════════

type nopPublisher struct{}

func (nopPublisher) Publish(shared.Event) error { return nil }

type rollout map[string]bool

func (r rollout) IsEnabledFor(feature, _ string) bool { return r[feature] }

type testServer struct {
	t       *testing.T
	srv     *Server
	metrics *metrics.Metrics
	health  *handlers.CompositeHealthChecker
}

type options struct {
	cfg      Config
	features port.FeatureGate
	rollout  RolloutGate
	flags    FlagAdmin
}

func newTestServer(t *testing.T, opts options) *testServer {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.Config{Path: filepath.Join(t.TempDir(), "points.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var seq atomic.Int64
	clock := timeutil.NewFixedClock(t0)
	deps := command.Deps{
		Store:     store,
		Publisher: nopPublisher{},
		Clock:     clock,
		Features:  opts.features,
		NewID:     func() string { return fmt.Sprintf("id-%04d", seq.Add(1)) },
	}

	m := metrics.New()
	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("store", handlers.NewPingCheck(store))

	cfg := opts.cfg
	if cfg.DefaultActor == "" {
		cfg.DefaultActor = "system"
	}
	srv := NewServer(cfg, Dependencies{
		RegisterStudent:   command.NewRegisterStudentHandler(deps),
		RecordCheckin:     command.NewRecordCheckinHandler(deps, time.UTC),
		AppendLedgerEntry: command.NewAppendLedgerEntryHandler(deps),
		UndoLedgerEntry:   command.NewUndoLedgerEntryHandler(deps),
		RecomputeBalances: command.NewRecomputeBalancesHandler(deps),
		AssignSkillSprint: command.NewAssignSkillSprintHandler(deps, command.AssignSkillSprintConfig{PenaltyCapPercent: 8}),
		CompleteSprint:    command.NewCompleteSkillSprintHandler(deps),
		DisableSprint:     command.NewDisableSkillSprintHandler(deps),
		DefineBadge:       command.NewDefineBadgeHandler(deps),
		AwardBadge:        command.NewAwardBadgeHandler(deps),
		AdjustBadgePoints: command.NewAdjustBadgePointsHandler(deps),
		ProcessPenalties:  command.NewProcessPenaltiesHandler(deps),
		AchievementPass:   command.NewRunAchievementPassHandler(deps),
		GetBalances:       query.NewGetBalancesHandler(store, nil, nil),
		GetSkillSprint:    query.NewGetSkillSprintHandler(store, clock),
		ListLedger:        query.NewListLedgerHandler(store),
		Features:          opts.rollout,
		FlagAdmin:         opts.flags,
		Metrics:           m,
		Health:            health,
		Clock:             clock,
	})
	return &testServer{t: t, srv: srv, metrics: m, health: health}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

type call struct {
	status int
	env    envelope
	header http.Header
}

func (ts *testServer) do(method, path string, body any, headers ...string) call {
	ts.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(ts.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	c := call{status: rec.Code, header: rec.Header()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &c.env), rec.Body.String())
	}
	return c
}

func (c call) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(c.env.Data, dst), string(c.env.Data))
}

func (ts *testServer) register(id string) {
	ts.t.Helper()
	res := ts.do(http.MethodPost, "/v1/students", map[string]any{"student_id": id, "display_name": id})
	require.Equal(ts.t, http.StatusCreated, res.status)
}

func (ts *testServer) grant(id string, points int) {
	ts.t.Helper()
	res := ts.do(http.MethodPost, "/v1/students/"+id+"/ledger", map[string]any{
		"points":   points,
		"category": "class_award",
	})
	require.Equal(ts.t, http.StatusCreated, res.status)
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENTS & LEDGER
// ══════════════════════════════════════════════════════════════════════════════

func TestRegisterStudent_Idempotent(t *testing.T) {
	ts := newTestServer(t, options{})

	first := ts.do(http.MethodPost, "/v1/students", map[string]any{"student_id": "s-1", "display_name": "Aida"})
	require.Equal(t, http.StatusCreated, first.status)
	assert.True(t, first.env.Success)
	assert.NotEmpty(t, first.env.RequestID)

	second := ts.do(http.MethodPost, "/v1/students", map[string]any{"student_id": "s-1", "display_name": "Aida"})
	require.Equal(t, http.StatusOK, second.status)
	var st studentResponse
	second.decode(t, &st)
	assert.Equal(t, shared.OutcomeAlreadyProcessed, st.Outcome)
	assert.Equal(t, "s-1", st.ID)
}

func TestLedger_AppendListUndo(t *testing.T) {
	ts := newTestServer(t, options{})
	ts.register("s-1")

	res := ts.do(http.MethodPost, "/v1/students/s-1/ledger", map[string]any{
		"points":      120,
		"category":    "class_award",
		"source_type": "class",
		"source_id":   "c-7",
	}, HeaderActorID, "teacher-1", HeaderActorRoles, "coach")
	require.Equal(t, http.StatusCreated, res.status)
	var added entryResponse
	res.decode(t, &added)
	assert.Equal(t, 120, added.Balances.PointsBalance)
	assert.Equal(t, 120, added.Balances.LifetimePoints)

	list := ts.do(http.MethodGet, "/v1/students/s-1/ledger?category=class_award", nil)
	require.Equal(t, http.StatusOK, list.status)
	var page query.ListLedgerResult
	list.decode(t, &page)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "teacher-1", page.Entries[0].CreatedBy)
	assert.Equal(t, "c-7", page.Entries[0].SourceID)

	bal := ts.do(http.MethodGet, "/v1/students/s-1/balances", nil)
	require.Equal(t, http.StatusOK, bal.status)
	var dto query.BalancesDTO
	bal.decode(t, &dto)
	assert.Equal(t, 120, dto.PointsTotal)

	undo := ts.do(http.MethodDelete, "/v1/ledger/"+added.EntryID, nil)
	require.Equal(t, http.StatusOK, undo.status)
	var undone undoResponse
	undo.decode(t, &undone)
	assert.Equal(t, 0, undone.Balances.PointsBalance)

	again := ts.do(http.MethodDelete, "/v1/ledger/"+added.EntryID, nil)
	assert.Equal(t, http.StatusNotFound, again.status)
	assert.Equal(t, "not_found", again.env.Error.Code)

	rc := ts.do(http.MethodPost, "/v1/students/s-1/balances/recompute", nil)
	require.Equal(t, http.StatusOK, rc.status)
	rc.decode(t, &dto)
	assert.Equal(t, 0, dto.PointsBalance)
}

func TestCheckin_OncePerDay(t *testing.T) {
	ts := newTestServer(t, options{})
	ts.register("s-1")

	first := ts.do(http.MethodPost, "/v1/students/s-1/checkins", nil)
	require.Equal(t, http.StatusCreated, first.status)
	var c checkinResponse
	first.decode(t, &c)
	assert.Equal(t, "2024-03-04", c.Date)
	assert.Equal(t, 1, c.Checkins)

	second := ts.do(http.MethodPost, "/v1/students/s-1/checkins", map[string]any{"at": t0.Add(3 * time.Hour)})
	require.Equal(t, http.StatusOK, second.status)
	second.decode(t, &c)
	assert.Equal(t, shared.OutcomeAlreadyProcessed, c.Outcome)
	assert.Equal(t, 1, c.Checkins)
}

func TestErrors_MapToStatus(t *testing.T) {
	ts := newTestServer(t, options{})
	ts.register("s-1")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing category", http.MethodPost, "/v1/students/s-1/ledger", map[string]any{"points": 5}, http.StatusBadRequest, "validation_error"},
		{"malformed body", http.MethodPost, "/v1/students/s-1/ledger", `{"points":`, http.StatusBadRequest, "validation_error"},
		{"unknown field", http.MethodPost, "/v1/students/s-1/ledger", `{"pts":5}`, http.StatusBadRequest, "validation_error"},
		{"bad limit", http.MethodGet, "/v1/students/s-1/ledger?limit=ten", nil, http.StatusBadRequest, "validation_error"},
		{"bad from", http.MethodGet, "/v1/students/s-1/ledger?from=yesterday", nil, http.StatusBadRequest, "validation_error"},
		{"unknown student", http.MethodGet, "/v1/students/nobody/balances", nil, http.StatusNotFound, "not_found"},
		{"unknown sprint", http.MethodGet, "/v1/sprints/nope", nil, http.StatusNotFound, "not_found"},
		{"unknown badge", http.MethodPost, "/v1/badges/nope/adjust", nil, http.StatusNotFound, "not_found"},
		{"unknown route", http.MethodGet, "/v1/nothing", nil, http.StatusNotFound, "not_found"},
		{"wrong method", http.MethodPatch, "/v1/students", nil, http.StatusMethodNotAllowed, "method_not_allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, res.status)
			require.NotNil(t, res.env.Error)
			assert.Equal(t, tt.code, res.env.Error.Code)
			assert.False(t, res.env.Success)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{shared.ErrInvalidDueDate, http.StatusBadRequest},
		{shared.ErrStudentNotFound, http.StatusNotFound},
		{shared.ErrAssignmentDisabled, http.StatusConflict},
		{shared.NewDomainError("achievement", "Adjust", shared.ErrForbidden, "off"), http.StatusForbidden},
		{shared.WrapError("ledger", "Append", shared.ErrStorage, "storage failure", errors.New("disk")), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := classify(fmt.Errorf("op: %w", tt.err))
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SKILL SPRINTS
// ══════════════════════════════════════════════════════════════════════════════

func TestSprint_AssignCompleteOnce(t *testing.T) {
	ts := newTestServer(t, options{})
	ts.register("s-1")
	ts.grant("s-1", 1000)

	res := ts.do(http.MethodPost, "/v1/students/s-1/sprints", map[string]any{
		"label":                  "Fractions",
		"due_at":                 t0.Add(4 * 24 * time.Hour),
		"reward_points":          100,
		"penalty_points_per_day": 200,
	}, HeaderActorID, "coach-1")
	require.Equal(t, http.StatusCreated, res.status)
	var a query.SkillSprintDTO
	res.decode(t, &a)
	assert.Equal(t, "coach-1", a.AssignedBy)
	assert.Equal(t, 80, a.PenaltyPointsPerDay, "capped at 8% of the balance")
	assert.Equal(t, 100, a.CurrentValue)

	got := ts.do(http.MethodGet, "/v1/sprints/"+a.ID, nil)
	require.Equal(t, http.StatusOK, got.status)

	done := ts.do(http.MethodPost, "/v1/sprints/"+a.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, done.status)
	var c completeSprintResponse
	done.decode(t, &c)
	assert.Equal(t, shared.OutcomeApplied, c.Outcome)
	assert.Equal(t, 100, c.RewardPointsAwarded)
	require.NotNil(t, c.Balances)
	assert.Equal(t, 1100, c.Balances.PointsBalance)

	repeat := ts.do(http.MethodPost, "/v1/sprints/"+a.ID+"/complete", nil)
	require.Equal(t, http.StatusOK, repeat.status)
	repeat.decode(t, &c)
	assert.Equal(t, shared.OutcomeAlreadyProcessed, c.Outcome)

	disable := ts.do(http.MethodPost, "/v1/sprints/"+a.ID+"/disable", nil)
	assert.Equal(t, http.StatusConflict, disable.status)
}

func TestSprint_PastDueDateRejected(t *testing.T) {
	ts := newTestServer(t, options{})
	ts.register("s-1")

	res := ts.do(http.MethodPost, "/v1/students/s-1/sprints", map[string]any{
		"label":         "Late",
		"due_at":        t0.Add(-time.Hour),
		"reward_points": 10,
	})
	assert.Equal(t, http.StatusBadRequest, res.status)
}

func TestSprint_DisabledCannotComplete(t *testing.T) {
	ts := newTestServer(t, options{})
	ts.register("s-1")

	res := ts.do(http.MethodPost, "/v1/students/s-1/sprints", map[string]any{
		"label":         "Graphs",
		"due_at":        t0.Add(48 * time.Hour),
		"reward_points": 10,
	})
	require.Equal(t, http.StatusCreated, res.status)
	var a query.SkillSprintDTO
	res.decode(t, &a)

	dis := ts.do(http.MethodPost, "/v1/sprints/"+a.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, dis.status)
	var out outcomeResponse
	dis.decode(t, &out)
	assert.Equal(t, shared.OutcomeApplied, out.Outcome)

	done := ts.do(http.MethodPost, "/v1/sprints/"+a.ID+"/complete", nil)
	assert.Equal(t, http.StatusConflict, done.status)
	assert.Equal(t, "invalid_state", done.env.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGES & JOBS
// ══════════════════════════════════════════════════════════════════════════════

func TestBadge_AwardAndAdjust(t *testing.T) {
	ts := newTestServer(t, options{features: featureSet{port.FeatureBadgesRetroactiveAdjust: false}})
	ts.register("s-1")

	create := ts.do(http.MethodPost, "/v1/badges", map[string]any{
		"name":          "Centurion",
		"criteria_type": "lifetime_points",
		"criteria":      map[string]any{"threshold": 100},
		"points_award":  50,
	})
	require.Equal(t, http.StatusCreated, create.status)
	var b badgeResponse
	create.decode(t, &b)
	assert.Equal(t, achievement.Criteria{Type: achievement.CriteriaLifetimePoints, Threshold: 100}, b.Criteria)
	assert.True(t, b.Enabled)

	award := ts.do(http.MethodPost, "/v1/badges/"+b.ID+"/awards", map[string]any{"student_id": "s-1"})
	require.Equal(t, http.StatusCreated, award.status)
	again := ts.do(http.MethodPost, "/v1/badges/"+b.ID+"/awards", map[string]any{"student_id": "s-1"})
	require.Equal(t, http.StatusOK, again.status)

	update := ts.do(http.MethodPut, "/v1/badges/"+b.ID, map[string]any{
		"name":          "Centurion",
		"criteria_type": "lifetime_points",
		"criteria":      map[string]any{"threshold": 100},
		"points_award":  80,
	})
	require.Equal(t, http.StatusOK, update.status)

	plan := ts.do(http.MethodPost, "/v1/badges/"+b.ID+"/adjust", nil)
	require.Equal(t, http.StatusOK, plan.status)
	var adj adjustBadgeResponse
	plan.decode(t, &adj)
	assert.True(t, adj.DryRun)
	assert.Equal(t, []achievement.Adjustment{{StudentID: "s-1", Previous: 50, Target: 80, Delta: 30}}, adj.Plan)

	confirm := ts.do(http.MethodPost, "/v1/badges/"+b.ID+"/adjust?confirm=true", nil)
	assert.Equal(t, http.StatusForbidden, confirm.status)
	assert.Equal(t, "forbidden", confirm.env.Error.Code)
}

type featureSet map[string]bool

func (g featureSet) IsEnabled(name string) bool {
	v, ok := g[name]
	return !ok || v
}

func TestJobs_Endpoints(t *testing.T) {
	ts := newTestServer(t, options{})
	ts.register("s-1")

	pen := ts.do(http.MethodPost, "/v1/jobs/penalties", map[string]any{"student_id": "s-1"})
	require.Equal(t, http.StatusOK, pen.status)
	var p penaltiesResponse
	pen.decode(t, &p)
	assert.Zero(t, p.PenaltiesApplied)
	assert.False(t, p.Skipped)

	ach := ts.do(http.MethodPost, "/v1/jobs/achievements", nil)
	require.Equal(t, http.StatusOK, ach.status)
	var a achievementsResponse
	ach.decode(t, &a)
	assert.Zero(t, a.Errors)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestRateLimit_PerClient(t *testing.T) {
	ts := newTestServer(t, options{cfg: Config{RateLimitRPS: 0.001, RateLimitBurst: 1}})

	first := ts.do(http.MethodGet, "/v1/students/x/balances", nil, "X-Real-IP", "10.0.0.1")
	assert.Equal(t, http.StatusNotFound, first.status)

	limited := ts.do(http.MethodGet, "/v1/students/x/balances", nil, "X-Real-IP", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, limited.status)
	assert.Equal(t, "1", limited.header.Get("Retry-After"))

	other := ts.do(http.MethodGet, "/v1/students/x/balances", nil, "X-Real-IP", "10.0.0.2")
	assert.Equal(t, http.StatusNotFound, other.status)

	// Health is outside /v1 and never limited.
	for range 3 {
		assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", nil, "X-Real-IP", "10.0.0.1").status)
	}
}

func TestRateLimit_OutsideRollout(t *testing.T) {
	ts := newTestServer(t, options{
		cfg:     Config{RateLimitRPS: 0.001, RateLimitBurst: 1},
		rollout: rollout{port.FeatureHTTPRateLimit: false},
	})
	for range 3 {
		res := ts.do(http.MethodGet, "/v1/students/x/balances", nil)
		assert.Equal(t, http.StatusNotFound, res.status)
	}
}

func TestClientLimiter_SweepsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := t0
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))
	assert.Equal(t, 2, l.size())

	now = now.Add(clientLimiterTTL + time.Minute)
	assert.True(t, l.allow("c"))
	assert.Equal(t, 1, l.size())
}

func TestActor_DefaultsToConfiguredActor(t *testing.T) {
	ts := newTestServer(t, options{cfg: Config{DefaultActor: "ops-bot"}})
	ts.register("s-1")
	ts.grant("s-1", 5)

	list := ts.do(http.MethodGet, "/v1/students/s-1/ledger", nil)
	var page query.ListLedgerResult
	list.decode(t, &page)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "ops-bot", page.Entries[0].CreatedBy)
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t, options{cfg: Config{MaxBodyBytes: 16}})
	res := ts.do(http.MethodPost, "/v1/students", map[string]any{"student_id": "s-1", "display_name": strings.Repeat("x", 64)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.status)
}

func TestRecovery(t *testing.T) {
	ts := newTestServer(t, options{})
	h := ts.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestMetrics_ByRoutePattern(t *testing.T) {
	ts := newTestServer(t, options{})
	ts.do(http.MethodGet, "/v1/students/a/balances", nil)
	ts.do(http.MethodGet, "/v1/students/b/balances", nil)

	got := testutil.ToFloat64(ts.metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/v1/students/{studentID}/balances", "4xx"))
	assert.Equal(t, 2.0, got)

	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "points_http_requests_total")
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, options{})

	ok := ts.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, ok.status)
	var st handlers.HealthStatus
	ok.decode(t, &st)
	assert.True(t, st.Healthy)
	assert.True(t, st.Checks["store"].Healthy)

	ts.health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	bad := ts.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, bad.status)
	bad.decode(t, &st)
	assert.False(t, st.Healthy)
	assert.Equal(t, "failing checks: redis", st.Message)
}

func TestFeatures_ListAndSet(t *testing.T) {
	flags := config.NewFeatureFlags()
	ts := newTestServer(t, options{flags: flags})

	list := ts.do(http.MethodGet, "/v1/features", nil)
	require.Equal(t, http.StatusOK, list.status)
	var all []config.Feature
	list.decode(t, &all)
	assert.Len(t, all, 4)

	set := ts.do(http.MethodPut, "/v1/features/"+port.FeatureHTTPRateLimit, map[string]any{"rollout_percent": 25})
	require.Equal(t, http.StatusOK, set.status)
	var f config.Feature
	set.decode(t, &f)
	assert.Equal(t, port.FeatureHTTPRateLimit, f.Name)
	assert.Equal(t, 25, f.RolloutPercent)

	off := ts.do(http.MethodPut, "/v1/features/"+port.FeaturePenaltiesAutoCharge, map[string]any{"enabled": false})
	require.Equal(t, http.StatusOK, off.status)
	assert.False(t, flags.IsEnabledFor(port.FeaturePenaltiesAutoCharge, "anyone"))

	assert.Equal(t, http.StatusNotFound,
		ts.do(http.MethodPut, "/v1/features/no.such.flag", map[string]any{"enabled": true}).status)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPut, "/v1/features/"+port.FeatureHTTPRateLimit, map[string]any{"rollout_percent": 101}).status)
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPut, "/v1/features/"+port.FeatureHTTPRateLimit, map[string]any{}).status)
}

func TestFeatures_NotConfigured(t *testing.T) {
	ts := newTestServer(t, options{})
	assert.Equal(t, http.StatusNotImplemented, ts.do(http.MethodGet, "/v1/features", nil).status)
	assert.Equal(t, http.StatusNotImplemented,
		ts.do(http.MethodPut, "/v1/features/x", map[string]any{"enabled": true}).status)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, Dependencies{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, time.Second) }()

	require.Eventually(t, srv.IsRunning, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.False(t, srv.IsRunning())
}
