package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/teamexam/internal/i18n"
	"github.com/pavelanni/teamexam/internal/model"
	"github.com/pavelanni/teamexam/internal/team"
)

func (h *Handler) handleAdminAttempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.store.ListAttempts()
	if err != nil {
		fail(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []model.AttemptSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

type matchRequest struct {
	TeamSize *int   `json:"team_size"`
	Mode     string `json:"mode"`
}

type matchResponse struct {
	TeamSize int              `json:"team_size"`
	Mode     team.Mode        `json:"mode"`
	Result   *team.Result     `json:"result"`
	Layout   model.TeamLayout `json:"layout"`
}

// match runs the matcher over every graded attempt. A missing team size uses
// the configured default; an explicit zero or negative size is rejected.
func (h *Handler) match(r *http.Request, req matchRequest) (*matchResponse, error) {
	size := h.config.DefaultTeamSize
	if req.TeamSize != nil {
		size = *req.TeamSize
	}
	mode, err := team.ParseMode(req.Mode)
	if err != nil {
		return nil, err
	}
	graded, err := h.store.ListGradedAttempts()
	if err != nil {
		return nil, err
	}
	res, err := team.MatchWith(graded, size, mode, appI18n.Explainer(r.Context()))
	if err != nil {
		return nil, err
	}
	return &matchResponse{
		TeamSize: size,
		Mode:     mode,
		Result:   res,
		Layout:   layoutFromResult(res, graded, size, mode),
	}, nil
}

// layoutFromResult renders an unsaved result with names and scores.
func layoutFromResult(res *team.Result, graded []model.GradedAttempt, size int, mode team.Mode) model.TeamLayout {
	byStudent := make(map[int64]model.GradedAttempt, len(graded))
	for _, g := range graded {
		byStudent[g.StudentID] = g
	}
	l := model.TeamLayout{TeamSize: size, Mode: string(mode)}
	for i, members := range res.Members() {
		tv := model.TeamView{Number: i + 1, Members: make([]model.MemberView, 0, len(members))}
		for _, a := range members {
			g := byStudent[a.StudentID]
			tv.Members = append(tv.Members, model.MemberView{
				StudentID:   a.StudentID,
				AttemptID:   a.AttemptID,
				StudentName: g.StudentName,
				Score:       model.IntValue(g.Score),
				Reason:      a.Reason,
			})
		}
		l.Teams = append(l.Teams, tv)
	}
	return l
}

func (h *Handler) handlePreviewTeams(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	resp, err := h.match(r, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TeamRun(string(resp.Mode), false)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateTeams(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	resp, err := h.match(r, req)
	if err != nil {
		fail(w, r, err)
		return
	}
	if _, err := h.store.SaveTeamRun(resp.TeamSize, resp.Mode, resp.Result); err != nil {
		fail(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TeamRun(string(resp.Mode), true)
	}
	h.respondLayout(w, r, http.StatusCreated)
}

type saveTeamsRequest struct {
	TeamSize int              `json:"team_size"`
	Mode     string           `json:"mode"`
	Teams    []model.TeamView `json:"teams"`
}

// handleSaveTeams stores an edited layout. Teams are numbered by their order
// in the request, and the layout must place every graded student exactly once.
func (h *Handler) handleSaveTeams(w http.ResponseWriter, r *http.Request) {
	var req saveTeamsRequest
	if err := decodeJSON(w, r, &req); err != nil || len(req.Teams) == 0 {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	mode, err := team.ParseMode(req.Mode)
	if err != nil {
		fail(w, r, err)
		return
	}
	if req.TeamSize <= 0 {
		fail(w, r, team.ErrInvalidTeamSize)
		return
	}

	graded, err := h.store.ListGradedAttempts()
	if err != nil {
		fail(w, r, err)
		return
	}
	attemptOf := make(map[int64]int64, len(graded))
	for _, g := range graded {
		attemptOf[g.StudentID] = g.AttemptID
	}

	res := &team.Result{TeamCount: len(req.Teams)}
	for i, tv := range req.Teams {
		for _, m := range tv.Members {
			res.Assignments = append(res.Assignments, team.Assignment{
				TeamIndex: i,
				StudentID: m.StudentID,
				AttemptID: attemptOf[m.StudentID],
				Reason:    m.Reason,
			})
		}
	}
	if err := team.Validate(res, graded); err != nil {
		fail(w, r, err)
		return
	}
	if _, err := h.store.SaveTeamRun(req.TeamSize, mode, res); err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("saved edited team layout", "teams", res.TeamCount, "members", len(res.Assignments))
	h.respondLayout(w, r, http.StatusOK)
}

func (h *Handler) handleGetTeams(w http.ResponseWriter, r *http.Request) {
	h.respondLayout(w, r, http.StatusOK)
}

// respondLayout writes the saved layout, or {"teams": null} when there is none.
func (h *Handler) respondLayout(w http.ResponseWriter, r *http.Request, status int) {
	layout, err := h.store.LatestTeamRun()
	if err != nil {
		fail(w, r, err)
		return
	}
	if layout == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"teams":   nil,
			"message": appI18n.T(r.Context(), "ErrNoTeamLayout"),
		})
		return
	}
	respondJSON(w, status, layout)
}

type teamMoveRequest struct {
	StudentID int64 `json:"student_id"`
	ToTeam    int   `json:"to_team"`
}

func (h *Handler) handleTeamMove(w http.ResponseWriter, r *http.Request) {
	var req teamMoveRequest
	if err := decodeJSON(w, r, &req); err != nil || req.StudentID == 0 {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}

	layout, err := h.store.LatestTeamRun()
	if err != nil {
		fail(w, r, err)
		return
	}
	if layout == nil {
		respondError(w, r, http.StatusNotFound, "ErrNoTeamLayout")
		return
	}
	if _, err := h.store.MoveTeamMember(layout.RunID, req.StudentID, req.ToTeam, appI18n.Explainer(r.Context())); err != nil {
		fail(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TeamMoves.Inc()
	}
	h.respondLayout(w, r, http.StatusOK)
}

type uploadResponse struct {
	Imported  int  `json:"imported"`
	Duplicate bool `json:"duplicate"`
}

func (h *Handler) handleUploadQuestions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	file, header, err := r.FormFile("questions_file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, r, err)
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	storedHash, err := h.store.GetImportedFileHash(header.Filename)
	if err != nil {
		fail(w, r, err)
		return
	}
	if storedHash == hash {
		respondJSON(w, http.StatusOK, uploadResponse{Duplicate: true})
		return
	}
	if storedHash != "" {
		// Existing attempts reference the questions already imported from this file.
		slog.Warn("rejected changed question file", "filename", header.Filename)
		respondError(w, r, http.StatusConflict, "ErrQuestionFileChanged")
		return
	}

	questions, err := model.ParseQuestions(data)
	if err != nil {
		slog.Warn("rejected question upload", "filename", header.Filename, "error", err)
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	if err := h.store.ImportQuestions(header.Filename, hash, questions); err != nil {
		fail(w, r, err)
		return
	}
	slog.Info("uploaded questions via admin", "filename", header.Filename, "count", len(questions))
	respondJSON(w, http.StatusCreated, uploadResponse{Imported: len(questions)})
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

type createUserRequest struct {
	Username    string         `json:"username"`
	DisplayName string         `json:"display_name"`
	Password    string         `json:"password"`
	Role        model.UserRole `json:"role"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Role == "" {
		req.Role = model.UserRoleStudent
	}
	if req.Username == "" || req.Password == "" ||
		(req.Role != model.UserRoleStudent && req.Role != model.UserRoleAdmin) {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidRequest")
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		fail(w, r, err)
		return
	}
	u := model.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	id, err := h.store.CreateUser(u)
	if err != nil {
		fail(w, r, err)
		return
	}
	created, err := h.store.GetUserByID(id)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}
