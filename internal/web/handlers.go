package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"medremind/internal/intake"
	appLog "medremind/internal/log"
	"medremind/internal/model"
	"medremind/internal/reminder"
	"medremind/internal/schedule"
)

// ruleRequest accepts weekday names in any supported spelling.
type ruleRequest struct {
	Kind     model.RuleKind `json:"kind"`
	Days     []string       `json:"days,omitempty"`
	Interval int            `json:"interval,omitempty"`
}

func (r ruleRequest) toModel() (model.Rule, error) {
	switch r.Kind {
	case model.RuleDaily:
		return model.Daily(), nil
	case model.RuleWeeklyDays:
		return model.WeeklyDays(r.Days...)
	case model.RuleEveryXDays:
		return model.EveryXDays(r.Interval)
	}
	return model.Rule{}, fmt.Errorf("%w: unknown rule kind %q", model.ErrInvalid, r.Kind)
}

type medicationRequest struct {
	Name         string      `json:"name"`
	Form         model.Form  `json:"form"`
	Instructions string      `json:"instructions,omitempty"`
	StartDate    model.Date  `json:"start_date"`
	EndDate      *model.Date `json:"end_date,omitempty"`
	Rule         ruleRequest `json:"rule"`
	Times        []string    `json:"times"`
}

func (req medicationRequest) toModel() (*model.Medication, error) {
	rule, err := req.Rule.toModel()
	if err != nil {
		return nil, err
	}
	return &model.Medication{
		Name:         req.Name,
		Form:         req.Form,
		Instructions: req.Instructions,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Rule:         rule,
		Times:        req.Times,
	}, nil
}

type changeResponse struct {
	Medication *model.Medication `json:"medication"`
	Warning    string            `json:"warning,omitempty"`
}

func (s *Server) handleListMedications(w http.ResponseWriter, r *http.Request) {
	meds, err := s.deps.Store.ListMedications(r.Context())
	if err != nil {
		writeFailure(w, "list medications", err)
		return
	}
	writeJSON(w, http.StatusOK, meds)
}

func (s *Server) handleGetMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	med, err := s.deps.Store.GetMedication(r.Context(), id)
	if err != nil {
		writeFailure(w, "get medication", err)
		return
	}
	writeJSON(w, http.StatusOK, med)
}

func (s *Server) handleCreateMedication(w http.ResponseWriter, r *http.Request) {
	var req medicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	med, err := req.toModel()
	if err != nil {
		writeFailure(w, "create medication", err)
		return
	}
	warning, err := s.deps.Recorder.CreateMedication(r.Context(), med, s.now())
	if err != nil {
		writeFailure(w, "create medication", err)
		return
	}
	writeJSON(w, http.StatusCreated, changeResponse{Medication: med, Warning: warningText(warning)})
}

func (s *Server) handleUpdateMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	var req medicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	med, err := req.toModel()
	if err != nil {
		writeFailure(w, "update medication", err)
		return
	}
	med.ID = id
	warning, err := s.deps.Recorder.UpdateMedication(r.Context(), med, s.now())
	if err != nil {
		writeFailure(w, "update medication", err)
		return
	}
	writeJSON(w, http.StatusOK, changeResponse{Medication: med, Warning: warningText(warning)})
}

type deleteResponse struct {
	PurgedIntakes int    `json:"purged_intakes"`
	Partial       bool   `json:"partial"`
	RemoteError   string `json:"remote_error,omitempty"`
	Warning       string `json:"warning,omitempty"`
}

func (s *Server) handleDeleteMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	out, err := s.deps.Recorder.DeleteMedication(r.Context(), id, s.now())
	if err != nil {
		writeFailure(w, "delete medication", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{
		PurgedIntakes: out.PurgedIntakes,
		Partial:       out.Partial(),
		RemoteError:   warningText(out.RemoteErr),
		Warning:       warningText(out.ResyncErr),
	})
}

func (s *Server) handleListIntakes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	events, err := s.deps.Store.ListIntakes(r.Context(), id)
	if err != nil {
		writeFailure(w, "list intakes", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type intakeRequest struct {
	PlannedTime string         `json:"planned_time"`
	Decision    model.Decision `json:"decision"`
}

type intakeResponse struct {
	EventID uint   `json:"event_id"`
	Synced  bool   `json:"synced"`
	Warning string `json:"warning,omitempty"`
}

func (s *Server) handleRecordIntake(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	var req intakeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	receipt, err := s.deps.Recorder.RecordIntake(r.Context(), id, req.PlannedTime, req.Decision, s.now())
	if err != nil {
		writeFailure(w, "record intake", err)
		return
	}
	writeJSON(w, http.StatusCreated, intakeResponse{
		EventID: receipt.EventID,
		Synced:  receipt.Synced,
		Warning: warningText(receipt.Warning),
	})
}

type rescheduleRequest struct {
	PlannedTime string     `json:"planned_time"`
	NewDate     model.Date `json:"new_date"`
	NewTime     string     `json:"new_time"`
}

type rescheduleResponse struct {
	MovedID  uint   `json:"moved_id"`
	TargetID uint   `json:"target_id"`
	Warning  string `json:"warning,omitempty"`
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	var req rescheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.NewDate.IsZero() {
		req.NewDate = s.today()
	}
	receipt, err := s.deps.Recorder.Reschedule(r.Context(), id, req.PlannedTime, req.NewDate, req.NewTime, s.now())
	if err != nil {
		writeFailure(w, "reschedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rescheduleResponse{
		MovedID:  receipt.MovedID,
		TargetID: receipt.TargetID,
		Warning:  warningText(receipt.Warning),
	})
}

// handleStatus resolves the display status of a medication.
//
// GET /api/medications/{id}/status?date=2025-06-02&time=09:00
//   - date: defaults to today in the configured zone
//   - time: optional, narrows to one planned time of day
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid medication id")
		return
	}
	date := s.today()
	if q := r.URL.Query().Get("date"); q != "" {
		d, err := model.ParseDate(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
		date = d
	}

	var (
		st  model.DayStatus
		err error
	)
	if tod := r.URL.Query().Get("time"); tod != "" {
		st, err = s.deps.Resolver.StatusForSlot(r.Context(), id, date, tod)
	} else {
		st, err = s.deps.Resolver.StatusFor(r.Context(), id, date)
	}
	if err != nil {
		writeFailure(w, "resolve status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type candidateDTO struct {
	MedicationID uint      `json:"medication_id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	FireAt       time.Time `json:"fire_at"`
	AdHoc        bool      `json:"ad_hoc,omitempty"`
}

func candidateDTOs(cs []schedule.Candidate) []candidateDTO {
	out := make([]candidateDTO, 0, len(cs))
	for _, c := range cs {
		out = append(out, candidateDTO{
			MedicationID: c.MedicationID,
			Title:        c.Title(),
			Body:         c.Body(),
			Date:         c.Date.String(),
			Time:         c.Time,
			FireAt:       c.FireAt,
			AdHoc:        c.AdHoc,
		})
	}
	return out
}

// handleSchedulePreview returns what a resync would schedule now.
func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	cs, err := s.deps.Sync.Preview(r.Context(), s.now())
	if err != nil {
		writeFailure(w, "schedule preview", err)
		return
	}
	writeJSON(w, http.StatusOK, candidateDTOs(cs))
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Sync.ResyncStore(r.Context(), s.now())
	if err != nil {
		writeFailure(w, "resync", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"scheduled": n})
}

func (s *Server) handleRetrySync(w http.ResponseWriter, r *http.Request) {
	n, err := s.deps.Recorder.RetryUnsynced(r.Context())
	if err != nil {
		writeFailure(w, "retry sync", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pushed": n})
}

func (s *Server) handleTriggers(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Notifier.ListScheduled(r.Context())
	if err != nil {
		writeFailure(w, "list triggers", err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleNotificationOpened is called by clients when the user taps a
// reminder. The body is the correlation data the reminder carried.
func (s *Server) handleNotificationOpened(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feedback == nil {
		writeError(w, http.StatusServiceUnavailable, "notification feedback disabled")
		return
	}
	var raw map[string]string
	if err := decodeJSON(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := model.CorrelationFromMap(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid correlation data")
		return
	}
	s.deps.Feedback.Opened(c, s.now())
	appLog.Info("reminder opened", "medication_id", c.MedicationID, "date", c.Date.String(), "time", c.Time)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeedback(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Feedback == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Feedback.Recent())
}

// handleCalendar serves the medication schedule as an iCalendar feed,
// including pending reschedules.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now()

	meds, err := s.deps.Store.ListMedications(ctx)
	if err != nil {
		writeFailure(w, "calendar", err)
		return
	}
	pending, err := s.deps.Store.PendingReschedules(ctx, now)
	if err != nil {
		writeFailure(w, "calendar", err)
		return
	}

	body := s.deps.Exporter.Export(meds, reminder.Occurrences(pending, s.deps.Location), now)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="medications.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) remoteAvailable(w http.ResponseWriter) bool {
	if s.deps.Remote == nil {
		writeError(w, http.StatusServiceUnavailable, "sync service not configured")
		return false
	}
	return true
}

func (s *Server) handleRelations(w http.ResponseWriter, r *http.Request) {
	if !s.remoteAvailable(w) {
		return
	}
	rels, err := s.deps.Remote.Relations(r.Context())
	if err != nil {
		writeFailure(w, "list relations", err)
		return
	}
	writeJSON(w, http.StatusOK, rels)
}

func (s *Server) handleAddRelation(w http.ResponseWriter, r *http.Request) {
	if !s.remoteAvailable(w) {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "invite code required")
		return
	}
	rel, err := s.deps.Remote.AddRelation(r.Context(), req.Code)
	if err != nil {
		writeFailure(w, "add relation", err)
		return
	}
	writeJSON(w, http.StatusCreated, rel)
}

func (s *Server) handleRemoveRelation(w http.ResponseWriter, r *http.Request) {
	if !s.remoteAvailable(w) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid relation id")
		return
	}
	if err := s.deps.Remote.RemoveRelation(r.Context(), id); err != nil {
		writeFailure(w, "remove relation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	if !s.remoteAvailable(w) {
		return
	}
	inv, err := s.deps.Remote.GenerateInvite(r.Context())
	if err != nil {
		writeFailure(w, "generate invite", err)
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

type patientMedicationDTO struct {
	Medication model.Medication `json:"medication"`
	Today      model.DayStatus  `json:"today"`
}

type patientScheduleResponse struct {
	PatientID   int64                  `json:"patient_id"`
	FromCache   bool                   `json:"from_cache"`
	Medications []patientMedicationDTO `json:"medications"`
	Upcoming    []candidateDTO         `json:"upcoming"`
}

// handlePatientSchedule shows a linked patient's medications with today's
// status and upcoming reminders, resolved exactly as for local data.
func (s *Server) handlePatientSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.remoteAvailable(w) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return
	}

	ps, err := s.deps.Remote.PatientSchedule(r.Context(), id)
	if err != nil {
		writeFailure(w, "patient schedule", err)
		return
	}

	now := s.now()
	today := s.today()
	resp := patientScheduleResponse{
		PatientID:   ps.PatientID,
		FromCache:   ps.FromCache,
		Medications: make([]patientMedicationDTO, 0, len(ps.Medications)),
	}
	for _, med := range ps.Medications {
		resp.Medications = append(resp.Medications, patientMedicationDTO{
			Medication: med,
			Today:      intake.Resolve(ps.Intakes, med.ID, today, s.deps.Location),
		})
	}
	extras := reminder.Occurrences(ps.Intakes, s.deps.Location)
	resp.Upcoming = candidateDTOs(s.deps.Builder.Build(ps.Medications, futureOnly(extras, today), now))

	writeJSON(w, http.StatusOK, resp)
}

func futureOnly(occ []model.Occurrence, today model.Date) []model.Occurrence {
	out := occ[:0:0]
	for _, o := range occ {
		if !o.Date.Before(today) {
			out = append(out, o)
		}
	}
	return out
}
