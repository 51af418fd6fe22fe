package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/teamexam/internal/grading"
	"github.com/pavelanni/teamexam/internal/metrics"
	"github.com/pavelanni/teamexam/internal/model"
	"github.com/pavelanni/teamexam/internal/report"
	"github.com/pavelanni/teamexam/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	reports *report.Generator
	metrics *metrics.Metrics
	config  model.ExamConfig
	login   *ipLimiter
	now     func() time.Time
}

// New creates a new Handler. The metrics argument may be nil.
func New(s *store.Store, reports *report.Generator, m *metrics.Metrics, cfg model.ExamConfig) (*Handler, error) {
	if s == nil {
		return nil, errors.New("handler needs a store")
	}
	if reports == nil {
		reports = report.NewGenerator(nil)
	}
	if cfg.SecondsPerQuestion <= 0 {
		cfg.SecondsPerQuestion = 20
	}
	if cfg.DefaultTeamSize <= 0 {
		cfg.DefaultTeamSize = 4
	}
	h := &Handler{store: s, reports: reports, metrics: m, config: cfg, now: time.Now}
	if cfg.LoginRate > 0 {
		h.login = newIPLimiter(cfg.LoginRate)
	}
	return h, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if h.login != nil {
			r.With(h.login.middleware).Post("/login", h.handleLogin)
		} else {
			r.Post("/login", h.handleLogin)
		}
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Get("/result", h.handleResult)

			r.Group(func(r chi.Router) {
				r.Use(requireRole(model.UserRoleStudent))
				r.Get("/questions", h.handleQuestions)
				r.Post("/attempts", h.handleStartAttempt)
				r.Get("/attempts", h.handleGetAttempt)
				r.Post("/submit", h.handleSubmit)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/attempts", h.handleAdminAttempts)
				r.Post("/teams/preview", h.handlePreviewTeams)
				r.Post("/teams", h.handleCreateTeams)
				r.Put("/teams", h.handleSaveTeams)
				r.Get("/teams", h.handleGetTeams)
				r.Post("/team-move", h.handleTeamMove)
				r.Post("/questions", h.handleUploadQuestions)
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
			})
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.QuestionCount(); err != nil {
		slog.Error("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}

// examQuestions returns the question set served to every examinee.
func (h *Handler) examQuestions() ([]model.Question, error) {
	return h.store.ListQuestions(h.config.NumQuestions)
}

type questionsResponse struct {
	Questions          []model.PublicQuestion `json:"questions"`
	SecondsPerQuestion int                    `json:"seconds_per_question"`
	TimeLimitSeconds   int                    `json:"time_limit_seconds"`
}

func (h *Handler) handleQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.examQuestions()
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]model.PublicQuestion, 0, len(questions))
	for _, q := range questions {
		out = append(out, q.Public())
	}
	respondJSON(w, http.StatusOK, questionsResponse{
		Questions:          out,
		SecondsPerQuestion: h.config.SecondsPerQuestion,
		TimeLimitSeconds:   len(out) * h.config.SecondsPerQuestion,
	})
}

type attemptResponse struct {
	Attempt  *model.Attempt `json:"attempt"`
	Deadline *time.Time     `json:"deadline,omitempty"`
}

// withDeadline adds the time by which the attempt should be submitted:
// the start time plus the per-question allowance for every question.
func (h *Handler) withDeadline(a *model.Attempt) (attemptResponse, error) {
	resp := attemptResponse{Attempt: a}
	if a == nil {
		return resp, nil
	}
	questions, err := h.examQuestions()
	if err != nil {
		return resp, err
	}
	d := a.CreatedAt.Add(time.Duration(len(questions)*h.config.SecondsPerQuestion) * time.Second)
	resp.Deadline = &d
	return resp, nil
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	if n, err := h.store.QuestionCount(); err != nil {
		fail(w, r, err)
		return
	} else if n == 0 {
		respondError(w, r, http.StatusConflict, "ErrNoQuestions")
		return
	}

	a, err := h.store.CreateAttempt(user.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	resp, err := h.withDeadline(a)
	if err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("attempt started", "attempt_id", a.ID, "student_id", user.ID)
	respondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	a, err := h.store.GetAttemptByStudent(user.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	resp, err := h.withDeadline(a)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type submitRequest struct {
	AttemptID int64            `json:"attempt_id"`
	Responses []grading.Answer `json:"responses"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil || req.AttemptID == 0 {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	if len(req.Responses) == 0 {
		fail(w, r, grading.ErrNoResponses)
		return
	}

	a, err := h.store.GetAttempt(req.AttemptID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "ErrAttemptNotFound")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	if a.StudentID != user.ID {
		respondError(w, r, http.StatusForbidden, "ErrOwnAttemptOnly")
		return
	}
	if a.Submitted() {
		fail(w, r, store.ErrAlreadySubmitted)
		return
	}

	ids := make([]int64, 0, len(req.Responses))
	for _, ans := range req.Responses {
		ids = append(ids, ans.QuestionID)
	}
	questions, err := h.store.GetQuestions(ids)
	if err != nil {
		fail(w, r, err)
		return
	}

	now := h.now().UTC()
	b, responses, err := grading.Grade(a.ID, questions, req.Responses, now)
	if err != nil {
		fail(w, r, err)
		return
	}
	if resp, err := h.withDeadline(a); err == nil && resp.Deadline != nil && now.After(*resp.Deadline) {
		slog.Warn("late submission", "attempt_id", a.ID, "deadline", resp.Deadline, "late_by", now.Sub(*resp.Deadline))
	}

	if err := h.store.SubmitAttempt(a.ID, responses, b); err != nil {
		fail(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.Submissions.Inc()
	}
	slog.Info("attempt submitted", "attempt_id", a.ID, "student_id", user.ID, "score", b.Total, "answered", b.Answered)
	respondJSON(w, http.StatusOK, b)
}

type resultItem struct {
	Question  *model.Question `json:"question"`
	Selected  model.Choice    `json:"selected"`
	IsCorrect bool            `json:"is_correct"`
}

type resultResponse struct {
	Attempt   *model.Attempt    `json:"attempt"`
	Result    []resultItem      `json:"result"`
	Breakdown grading.Breakdown `json:"breakdown"`
	ReportMD  string            `json:"report_md"`
}

func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	id, err := strconv.ParseInt(r.URL.Query().Get("attempt_id"), 10, 64)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	a, err := h.store.GetAttempt(id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "ErrAttemptNotFound")
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	if a.StudentID != user.ID && user.Role != model.UserRoleAdmin {
		respondError(w, r, http.StatusForbidden, "ErrOwnAttemptOnly")
		return
	}
	if !a.Submitted() {
		respondError(w, r, http.StatusConflict, "ErrNotSubmitted")
		return
	}

	responses, err := h.store.ListResponses(a.ID)
	if err != nil {
		fail(w, r, err)
		return
	}
	ids := make([]int64, 0, len(responses))
	for _, resp := range responses {
		ids = append(ids, resp.QuestionID)
	}
	questions, err := h.store.GetQuestions(ids)
	if err != nil {
		fail(w, r, err)
		return
	}
	byID := make(map[int64]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	items := make([]resultItem, 0, len(responses))
	for _, resp := range responses {
		items = append(items, resultItem{Question: byID[resp.QuestionID], Selected: resp.Selected, IsCorrect: resp.IsCorrect})
	}
	b := grading.FromAttempt(questions, responses)

	md, err := h.reportFor(r, a, b)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resultResponse{Attempt: a, Result: items, Breakdown: b, ReportMD: md})
}

// reportFor returns the cached report, generating and storing it on first use.
func (h *Handler) reportFor(r *http.Request, a *model.Attempt, b grading.Breakdown) (string, error) {
	if a.ReportMD != nil {
		return *a.ReportMD, nil
	}

	var name string
	if u, err := h.store.GetUserByID(a.StudentID); err != nil {
		return "", err
	} else if u != nil {
		name = u.DisplayName
	}

	rep := h.reports.Generate(r.Context(), report.Input{StudentName: name, Breakdown: b})
	md := rep.Markdown()
	if err := h.store.SetReport(a.ID, md); err != nil {
		return "", err
	}
	a.ReportMD = &md
	a.Status = model.StatusGraded
	slog.Info("report generated", "attempt_id", a.ID)
	return md, nil
}
