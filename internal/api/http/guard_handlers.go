// internal/api/http/guard_handlers.go
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/examguard/internal/guard"
	"github.com/mind-engage/examguard/internal/rbac"
)

// Handlers only; routes remain in main.go

var validate = validator.New()

type extensionRequest struct {
	Minutes *int `json:"minutes" validate:"required"`
}

type extensionResponse struct {
	ActivityID       string             `json:"activity_id"`
	ExtensionMinutes int                `json:"extension_minutes"`
	Result           *guard.ApplyResult `json:"result,omitempty"`
}

// GET /activities/{activityID}/extension
func GetExtensionHandler(svc *guard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "activityID")
		m, err := svc.CurrentExtension(r.Context(), id)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, extensionResponse{ActivityID: id, ExtensionMinutes: m})
	}
}

// POST /activities/{activityID}/extension  { "minutes": 15 }
func ApplyExtensionHandler(svc *guard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req extensionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "minutes is required"})
			return
		}
		ctx := r.Context()
		id := chi.URLParam(r, "activityID")
		res, err := svc.ApplyExtension(ctx, id, *req.Minutes, rbac.SubjectFromContext(ctx))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, extensionResponse{ActivityID: id, ExtensionMinutes: *req.Minutes, Result: &res})
	}
}

// GET /activities/{activityID}/status
func ExamStatusHandler(svc *guard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := svc.ExamStatus(r.Context(), chi.URLParam(r, "activityID"))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, st)
	}
}

// Times are unix seconds; 0 means unset.
type activityRequest struct {
	Type      string `json:"type" validate:"required"`
	Name      string `json:"name" validate:"max=255"`
	TimeOpen  int64  `json:"time_open" validate:"gte=0"`
	TimeClose int64  `json:"time_close" validate:"gte=0"`
	TimeLimit int64  `json:"time_limit" validate:"gte=0"`
}

// PUT /courses/{courseID}/activities/{activityID}
func SaveActivityHandler(svc *guard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if req.TimeOpen > 0 && req.TimeClose > 0 && req.TimeClose < req.TimeOpen {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "time_close before time_open"})
			return
		}
		a := guard.Activity{
			ID:       chi.URLParam(r, "activityID"),
			CourseID: chi.URLParam(r, "courseID"),
			Type:     req.Type,
			Name:     req.Name,
			Open:     guard.FromUnix(req.TimeOpen),
			Close:    guard.FromUnix(req.TimeClose),
			Duration: time.Duration(req.TimeLimit) * time.Second,
		}
		if err := svc.SaveActivity(r.Context(), a); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}

type activeExam struct {
	ActivityID string    `json:"activity_id"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Start      time.Time `json:"start_time"`
	End        time.Time `json:"end_time"`
}

func activeExamList(r *http.Request, list []guard.ActivityAdapter) ([]activeExam, error) {
	out := make([]activeExam, 0, len(list))
	for _, ad := range list {
		end, err := ad.ExamEndTime(r.Context())
		if err != nil {
			return nil, err
		}
		act := ad.Activity()
		out = append(out, activeExam{ActivityID: act.ID, Name: act.Name, Type: act.Type, Start: ad.ExamStartTime(), End: end})
	}
	return out, nil
}

// GET /courses/{courseID}/active-exams
func ActiveExamsHandler(svc *guard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.ActiveExamActivities(r.Context(), chi.URLParam(r, "courseID"))
		if err != nil {
			respondError(w, err)
			return
		}
		out, err := activeExamList(r, list)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// POST /courses/{courseID}/guard/reconcile
func ReconcileGuardHandler(svc *guard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		courseID := chi.URLParam(r, "courseID")
		st, err := svc.ReconcileCourseGuard(r.Context(), courseID)
		if err != nil {
			respondError(w, err)
			return
		}
		list, err := svc.ActiveExamActivities(r.Context(), courseID)
		if err != nil {
			respondError(w, err)
			return
		}
		active, err := activeExamList(r, list)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"course_id":    courseID,
			"blocked":      st.Blocked,
			"changed":      st.Changed,
			"banner":       st.Banner,
			"active_exams": active,
		})
	}
}

// GET /courses/{courseID}/banner
func CourseBannerHandler(svc *guard.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		banner, err := svc.OnCourseView(ctx, chi.URLParam(r, "courseID"), rbac.RoleFromContext(ctx))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"banner": banner})
	}
}

// statusFor maps guard errors onto HTTP status codes.
func statusFor(err error) int {
	var ie *guard.InconsistentStateError
	switch {
	case errors.Is(err, guard.ErrUnauthorized), errors.Is(err, guard.ErrCourseEditingBanned):
		return http.StatusForbidden
	case errors.Is(err, guard.ErrNotActiveExamActivity),
		errors.Is(err, guard.ErrBulkExtensionDisabled),
		errors.Is(err, guard.ErrGuardDisabled),
		errors.Is(err, guard.ErrInvalidOverride),
		errors.As(err, &ie):
		return http.StatusConflict
	case errors.Is(err, guard.ErrInvalidExtension):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrActivityNotFound), errors.Is(err, guard.ErrUnsupportedActivity):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func respondError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		msg = "internal error"
	}
	respondJSON(w, code, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
