package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/alem-hub/points-ledger/internal/application/command"
	"github.com/alem-hub/points-ledger/internal/application/query"
	"github.com/alem-hub/points-ledger/internal/domain/achievement"
	"github.com/alem-hub/points-ledger/internal/domain/ledger"
	"github.com/alem-hub/points-ledger/internal/domain/shared"
	"github.com/alem-hub/points-ledger/pkg/logger"
)

// notConfigured answers 501 when a handler was not wired.
func notConfigured(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "handler not configured")
}

// outcomeStatus is 201 for a first write and 200 for an idempotent repeat.
func outcomeStatus(o shared.Outcome) int {
	if o.IsApplied() {
		return http.StatusCreated
	}
	return http.StatusOK
}

// ══════════════════════════════════════════════════════════════════════════════
// STUDENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type registerStudentRequest struct {
	StudentID   string `json:"student_id"`
	DisplayName string `json:"display_name"`
}

type studentResponse struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"display_name"`
	Balances    *query.BalancesDTO `json:"balances"`
	CreatedAt   time.Time          `json:"created_at"`
	Outcome     shared.Outcome     `json:"outcome"`
}

// handleRegisterStudent handles POST /v1/students
func (s *Server) handleRegisterStudent(w http.ResponseWriter, r *http.Request) {
	if s.deps.RegisterStudent == nil {
		notConfigured(w, r)
		return
	}
	var req registerStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.RegisterStudent.Handle(r.Context(), command.RegisterStudentCommand{
		StudentID:   req.StudentID,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	st := res.Student
	writeJSON(w, r, outcomeStatus(res.Outcome), studentResponse{
		ID:          st.ID,
		DisplayName: st.DisplayName,
		Balances:    query.NewBalancesDTO(st.ID, st.Balances),
		CreatedAt:   st.CreatedAt,
		Outcome:     res.Outcome,
	})
}

type checkinRequest struct {
	At *time.Time `json:"at"`
}

type checkinResponse struct {
	StudentID string         `json:"student_id"`
	Date      string         `json:"date"`
	Checkins  int            `json:"checkins"`
	Outcome   shared.Outcome `json:"outcome"`
}

// handleRecordCheckin handles POST /v1/students/{studentID}/checkins
func (s *Server) handleRecordCheckin(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordCheckin == nil {
		notConfigured(w, r)
		return
	}
	var req checkinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cmd := command.RecordCheckinCommand{StudentID: chi.URLParam(r, "studentID")}
	if req.At != nil {
		cmd.At = *req.At
	}

	res, err := s.deps.RecordCheckin.Handle(r.Context(), cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, outcomeStatus(res.Outcome), checkinResponse{
		StudentID: res.StudentID,
		Date:      res.Date,
		Checkins:  res.Checkins,
		Outcome:   res.Outcome,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type appendEntryRequest struct {
	Points     int    `json:"points"`
	Category   string `json:"category"`
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	Note       string `json:"note"`
}

type entryResponse struct {
	EntryID  string             `json:"entry_id"`
	Balances *query.BalancesDTO `json:"balances"`
}

// handleAppendLedgerEntry handles POST /v1/students/{studentID}/ledger
func (s *Server) handleAppendLedgerEntry(w http.ResponseWriter, r *http.Request) {
	if s.deps.AppendLedgerEntry == nil {
		notConfigured(w, r)
		return
	}
	var req appendEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	studentID := chi.URLParam(r, "studentID")

	res, err := s.deps.AppendLedgerEntry.Handle(r.Context(), command.AppendLedgerEntryCommand{
		StudentID:  studentID,
		Points:     req.Points,
		Category:   ledger.Category(req.Category),
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Note:       req.Note,
		CreatedBy:  actorFrom(r.Context()).ID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, entryResponse{
		EntryID:  res.EntryID,
		Balances: query.NewBalancesDTO(studentID, res.Balances),
	})
}

// handleListLedger handles GET /v1/students/{studentID}/ledger
func (s *Server) handleListLedger(w http.ResponseWriter, r *http.Request) {
	if s.deps.ListLedger == nil {
		notConfigured(w, r)
		return
	}
	q := query.ListLedgerQuery{
		StudentID:  chi.URLParam(r, "studentID"),
		Category:   r.URL.Query().Get("category"),
		SourceType: r.URL.Query().Get("source_type"),
		SourceID:   r.URL.Query().Get("source_id"),
	}
	var err error
	if q.From, err = queryTime(r, "from"); err != nil {
		writeError(w, r, err)
		return
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		writeError(w, r, err)
		return
	}
	if q.Limit, err = queryInt(r, "limit", shared.DefaultPageSize); err != nil {
		writeError(w, r, err)
		return
	}
	if q.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.deps.ListLedger.Handle(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

type undoResponse struct {
	EntryID   string             `json:"entry_id"`
	StudentID string             `json:"student_id"`
	Points    int                `json:"points"`
	Balances  *query.BalancesDTO `json:"balances"`
}

// handleUndoLedgerEntry handles DELETE /v1/ledger/{entryID}
func (s *Server) handleUndoLedgerEntry(w http.ResponseWriter, r *http.Request) {
	if s.deps.UndoLedgerEntry == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.UndoLedgerEntry.Handle(r.Context(), command.UndoLedgerEntryCommand{
		EntryID: chi.URLParam(r, "entryID"),
		Actor:   actorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, undoResponse{
		EntryID:   res.EntryID,
		StudentID: res.StudentID,
		Points:    res.Points,
		Balances:  query.NewBalancesDTO(res.StudentID, res.Balances),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// BALANCE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetBalances handles GET /v1/students/{studentID}/balances
func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetBalances == nil {
		notConfigured(w, r)
		return
	}
	dto, err := s.deps.GetBalances.Handle(r.Context(), query.GetBalancesQuery{
		StudentID: chi.URLParam(r, "studentID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

// handleRecomputeBalances handles POST /v1/students/{studentID}/balances/recompute
func (s *Server) handleRecomputeBalances(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecomputeBalances == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.RecomputeBalances.Handle(r.Context(), command.RecomputeBalancesCommand{
		StudentID: chi.URLParam(r, "studentID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, query.NewBalancesDTO(res.StudentID, res.Balances))
}

// ══════════════════════════════════════════════════════════════════════════════
// SKILL SPRINT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type assignSprintRequest struct {
	Label               string    `json:"label"`
	DueAt               time.Time `json:"due_at"`
	RewardPoints        int       `json:"reward_points"`
	PenaltyPointsPerDay int       `json:"penalty_points_per_day"`
}

// handleAssignSprint handles POST /v1/students/{studentID}/sprints
func (s *Server) handleAssignSprint(w http.ResponseWriter, r *http.Request) {
	if s.deps.AssignSkillSprint == nil {
		notConfigured(w, r)
		return
	}
	var req assignSprintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := s.deps.AssignSkillSprint.Handle(r.Context(), command.AssignSkillSprintCommand{
		StudentID:           chi.URLParam(r, "studentID"),
		Label:               req.Label,
		DueAt:               req.DueAt,
		RewardPoints:        req.RewardPoints,
		PenaltyPointsPerDay: req.PenaltyPointsPerDay,
		AssignedBy:          actorFrom(r.Context()).ID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewSkillSprintDTO(a, s.deps.Clock.Now()))
}

// handleGetSprint handles GET /v1/sprints/{assignmentID}
func (s *Server) handleGetSprint(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetSkillSprint == nil {
		notConfigured(w, r)
		return
	}
	dto, err := s.deps.GetSkillSprint.Handle(r.Context(), query.GetSkillSprintQuery{
		AssignmentID: chi.URLParam(r, "assignmentID"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto)
}

type completeSprintResponse struct {
	AssignmentID        string             `json:"assignment_id"`
	StudentID           string             `json:"student_id"`
	RewardPointsAwarded int                `json:"reward_points_awarded"`
	Outcome             shared.Outcome     `json:"outcome"`
	Balances            *query.BalancesDTO `json:"balances,omitempty"`
}

// handleCompleteSprint handles POST /v1/sprints/{assignmentID}/complete
func (s *Server) handleCompleteSprint(w http.ResponseWriter, r *http.Request) {
	if s.deps.CompleteSprint == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.CompleteSprint.Handle(r.Context(), command.CompleteSkillSprintCommand{
		AssignmentID: chi.URLParam(r, "assignmentID"),
		CompletedBy:  actorFrom(r.Context()).ID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := completeSprintResponse{
		AssignmentID:        res.AssignmentID,
		StudentID:           res.StudentID,
		RewardPointsAwarded: res.RewardPointsAwarded,
		Outcome:             res.Outcome,
	}
	if res.Balances != nil {
		resp.Balances = query.NewBalancesDTO(res.StudentID, *res.Balances)
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type outcomeResponse struct {
	ID      string         `json:"id"`
	Outcome shared.Outcome `json:"outcome"`
}

// handleDisableSprint handles POST /v1/sprints/{assignmentID}/disable
func (s *Server) handleDisableSprint(w http.ResponseWriter, r *http.Request) {
	if s.deps.DisableSprint == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.DisableSprint.Handle(r.Context(), command.DisableSkillSprintCommand{
		AssignmentID: chi.URLParam(r, "assignmentID"),
		Actor:        actorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, outcomeResponse{ID: res.AssignmentID, Outcome: res.Outcome})
}

// ══════════════════════════════════════════════════════════════════════════════
// BADGE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type badgeRequest struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	CriteriaType string         `json:"criteria_type"`
	Criteria     map[string]any `json:"criteria"`
	PointsAward  int            `json:"points_award"`
	Enabled      *bool          `json:"enabled"`
	Prestige     bool           `json:"prestige"`
}

func (req badgeRequest) command(badgeID string, actor shared.Actor) command.DefineBadgeCommand {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return command.DefineBadgeCommand{
		BadgeID:         badgeID,
		Name:            req.Name,
		Description:     req.Description,
		CriteriaType:    req.CriteriaType,
		CriteriaPayload: req.Criteria,
		PointsAward:     req.PointsAward,
		Enabled:         enabled,
		Prestige:        req.Prestige,
		Actor:           actor,
	}
}

type badgeResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Criteria    achievement.Criteria `json:"criteria"`
	PointsAward int                  `json:"points_award"`
	Enabled     bool                 `json:"enabled"`
	Prestige    bool                 `json:"prestige"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func newBadgeResponse(b *achievement.Badge) badgeResponse {
	return badgeResponse{
		ID:          b.ID,
		Name:        b.Name,
		Description: b.Description,
		Criteria:    b.Criteria,
		PointsAward: b.PointsAward,
		Enabled:     b.Enabled,
		Prestige:    b.Prestige,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

// handleCreateBadge handles POST /v1/badges
func (s *Server) handleCreateBadge(w http.ResponseWriter, r *http.Request) {
	if s.deps.DefineBadge == nil {
		notConfigured(w, r)
		return
	}
	var req badgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.deps.DefineBadge.Create(r.Context(), req.command("", actorFrom(r.Context())))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newBadgeResponse(b))
}

// handleUpdateBadge handles PUT /v1/badges/{badgeID}
func (s *Server) handleUpdateBadge(w http.ResponseWriter, r *http.Request) {
	if s.deps.DefineBadge == nil {
		notConfigured(w, r)
		return
	}
	var req badgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.deps.DefineBadge.Update(r.Context(), req.command(chi.URLParam(r, "badgeID"), actorFrom(r.Context())))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newBadgeResponse(b))
}

type awardBadgeRequest struct {
	StudentID string `json:"student_id"`
}

type awardBadgeResponse struct {
	StudentID string         `json:"student_id"`
	BadgeID   string         `json:"badge_id"`
	Points    int            `json:"points"`
	Outcome   shared.Outcome `json:"outcome"`
}

// handleAwardBadge handles POST /v1/badges/{badgeID}/awards
func (s *Server) handleAwardBadge(w http.ResponseWriter, r *http.Request) {
	if s.deps.AwardBadge == nil {
		notConfigured(w, r)
		return
	}
	var req awardBadgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.deps.AwardBadge.Handle(r.Context(), command.AwardBadgeCommand{
		StudentID: req.StudentID,
		BadgeID:   chi.URLParam(r, "badgeID"),
		Actor:     actorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, outcomeStatus(res.Outcome), awardBadgeResponse{
		StudentID: res.StudentID,
		BadgeID:   res.BadgeID,
		Points:    res.Points,
		Outcome:   res.Outcome,
	})
}

type adjustBadgeRequest struct {
	Confirm bool `json:"confirm"`
}

type adjustBadgeResponse struct {
	BadgeID    string                   `json:"badge_id"`
	DryRun     bool                     `json:"dry_run"`
	Adjusted   int                      `json:"adjusted"`
	TotalDelta int                      `json:"total_delta"`
	Errors     int                      `json:"errors"`
	Plan       []achievement.Adjustment `json:"plan"`
}

// handleAdjustBadge handles POST /v1/badges/{badgeID}/adjust
// Without confirm it only returns the plan.
func (s *Server) handleAdjustBadge(w http.ResponseWriter, r *http.Request) {
	if s.deps.AdjustBadgePoints == nil {
		notConfigured(w, r)
		return
	}
	var req adjustBadgeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if confirm, err := queryBool(r, "confirm"); err != nil {
		writeError(w, r, err)
		return
	} else if confirm {
		req.Confirm = true
	}

	res, err := s.deps.AdjustBadgePoints.Handle(r.Context(), command.AdjustBadgePointsCommand{
		BadgeID: chi.URLParam(r, "badgeID"),
		Confirm: req.Confirm,
		Actor:   actorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	plan := res.Plan
	if plan == nil {
		plan = []achievement.Adjustment{}
	}
	writeJSON(w, r, http.StatusOK, adjustBadgeResponse{
		BadgeID:    res.BadgeID,
		DryRun:     res.DryRun,
		Adjusted:   res.Adjusted,
		TotalDelta: res.TotalDelta,
		Errors:     res.Errors,
		Plan:       plan,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH PASS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type penaltiesRequest struct {
	StudentID string `json:"student_id"`
}

type penaltiesResponse struct {
	PenaltiesApplied   int  `json:"penalties_applied"`
	AssignmentsScanned int  `json:"assignments_scanned"`
	AlreadyCharged     int  `json:"already_charged"`
	PointsCharged      int  `json:"points_charged"`
	Errors             int  `json:"errors"`
	Skipped            bool `json:"skipped"`
}

// handleRunPenalties handles POST /v1/jobs/penalties
// An operator trigger runs regardless of penalties.auto_charge, which gates
// only the scheduled pass.
func (s *Server) handleRunPenalties(w http.ResponseWriter, r *http.Request) {
	if s.deps.ProcessPenalties == nil {
		notConfigured(w, r)
		return
	}
	var req penaltiesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.StudentID == "" {
		req.StudentID = r.URL.Query().Get("student_id")
	}

	res, err := s.deps.ProcessPenalties.Handle(r.Context(), command.ProcessPenaltiesCommand{StudentID: req.StudentID})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, penaltiesResponse{
		PenaltiesApplied:   res.PenaltiesApplied,
		AssignmentsScanned: res.AssignmentsScanned,
		AlreadyCharged:     res.AlreadyCharged,
		PointsCharged:      res.PointsCharged,
		Errors:             res.Errors,
		Skipped:            res.Skipped,
	})
}

type achievementsResponse struct {
	Awarded         int  `json:"awarded"`
	AlreadyAwarded  int  `json:"already_awarded"`
	BadgesEvaluated int  `json:"badges_evaluated"`
	BadgesSkipped   int  `json:"badges_skipped"`
	Errors          int  `json:"errors"`
	Skipped         bool `json:"skipped"`
}

// handleRunAchievements handles POST /v1/jobs/achievements
func (s *Server) handleRunAchievements(w http.ResponseWriter, r *http.Request) {
	if s.deps.AchievementPass == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.AchievementPass.Handle(r.Context(), command.RunAchievementPassCommand{
		Actor: actorFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, achievementsResponse{
		Awarded:         res.Awarded,
		AlreadyAwarded:  res.AlreadyAwarded,
		BadgesEvaluated: res.BadgesEvaluated,
		BadgesSkipped:   res.BadgesSkipped,
		Errors:          res.Errors,
		Skipped:         res.Skipped,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE FLAG HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListFeatures handles GET /v1/features
func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	if s.deps.FlagAdmin == nil {
		notConfigured(w, r)
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.FlagAdmin.GetAllFeatures())
}

// setFeatureRequest takes either a rollout percent or a plain on/off.
type setFeatureRequest struct {
	RolloutPercent *int  `json:"rollout_percent"`
	Enabled        *bool `json:"enabled"`
}

// handleSetFeature handles PUT /v1/features/{name}
// Changes live in memory only; a restart returns to the configured values.
func (s *Server) handleSetFeature(w http.ResponseWriter, r *http.Request) {
	if s.deps.FlagAdmin == nil {
		notConfigured(w, r)
		return
	}
	var req setFeatureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var percent int
	switch {
	case req.RolloutPercent != nil:
		percent = *req.RolloutPercent
	case req.Enabled != nil && *req.Enabled:
		percent = 100
	case req.Enabled != nil:
		percent = 0
	default:
		writeError(w, r, errBadRequest("rollout_percent or enabled is required"))
		return
	}

	name := chi.URLParam(r, "name")
	if err := s.deps.FlagAdmin.SetRolloutPercent(name, percent); err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.Info("feature flag changed",
		logger.String("feature", name),
		logger.Int("rollout_percent", percent),
		logger.ActorID(actorFrom(r.Context()).ID),
	)

	for _, f := range s.deps.FlagAdmin.GetAllFeatures() {
		if f.Name == name {
			writeJSON(w, r, http.StatusOK, f)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, nil)
}
