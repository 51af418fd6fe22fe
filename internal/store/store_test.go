package store

import (
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/teamexam/internal/grading"
	"github.com/pavelanni/teamexam/internal/model"
	"github.com/pavelanni/teamexam/internal/team"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestQuestion(t *testing.T, s *Store, cat model.Category, prompt string, answer model.Choice) int64 {
	t.Helper()
	id, err := s.InsertQuestion(model.Question{
		Category: cat,
		Prompt:   prompt,
		ChoiceA:  "first",
		ChoiceB:  "second",
		ChoiceC:  "third",
		Answer:   answer,
	})
	if err != nil {
		t.Fatalf("insertTestQuestion: %v", err)
	}
	return id
}

func createTestStudent(t *testing.T, s *Store, username string) int64 {
	t.Helper()
	id, err := s.CreateUser(model.User{
		Username:     username,
		DisplayName:  "Student " + username,
		PasswordHash: "hash",
		Role:         model.UserRoleStudent,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("createTestStudent: %v", err)
	}
	return id
}

// submitTestAttempt creates and submits an attempt with the given per-category scores.
func submitTestAttempt(t *testing.T, s *Store, studentID int64, cs, collab, ai int) int64 {
	t.Helper()
	a, err := s.CreateAttempt(studentID)
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	b := grading.Breakdown{
		Total: cs + collab + ai,
		Categories: map[model.Category]grading.CategoryScore{
			model.CategoryCS:     {Correct: cs},
			model.CategoryCollab: {Correct: collab},
			model.CategoryAI:     {Correct: ai},
		},
	}
	if err := s.SubmitAttempt(a.ID, nil, b); err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}
	return a.ID
}

func TestQuestionCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.QuestionCount()
	if err != nil {
		t.Fatalf("QuestionCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 questions, got %d", count)
	}

	list, err := s.ListQuestions(0)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	id1 := insertTestQuestion(t, s, model.CategoryCS, "What does a 404 mean?", model.ChoiceB)
	id2 := insertTestQuestion(t, s, model.CategoryCollab, "When to rebase?", model.ChoiceA)
	insertTestQuestion(t, s, model.CategoryAI, "What is RAG?", model.ChoiceC)

	list, err = s.ListQuestions(0)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(list))
	}
	if list[0].ID != id1 || list[0].Category != model.CategoryCS || list[0].Answer != model.ChoiceB {
		t.Errorf("unexpected first question: %+v", list[0])
	}

	limited, _ := s.ListQuestions(2)
	if len(limited) != 2 {
		t.Errorf("expected 2 questions with limit, got %d", len(limited))
	}

	got, err := s.GetQuestions([]int64{id2, 9999})
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	if len(got) != 1 || got[0].Prompt != "When to rebase?" {
		t.Errorf("GetQuestions = %+v, want only question %d", got, id2)
	}

	if got, _ := s.GetQuestions(nil); got != nil {
		t.Errorf("GetQuestions(nil) = %v, want nil", got)
	}
}

func TestInsertQuestionRejectsBadCategory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertQuestion(model.Question{Category: "math", Prompt: "1+1", Answer: model.ChoiceA})
	if err == nil {
		t.Error("expected CHECK constraint error for unknown category")
	}
}

func TestAttemptLifecycle(t *testing.T) {
	s := newTestStore(t)
	student := createTestStudent(t, s, "kim")
	q1 := insertTestQuestion(t, s, model.CategoryCS, "Q1", model.ChoiceA)
	q2 := insertTestQuestion(t, s, model.CategoryAI, "Q2", model.ChoiceB)

	none, err := s.GetAttemptByStudent(student)
	if err != nil {
		t.Fatalf("GetAttemptByStudent: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no attempt, got %+v", none)
	}

	a, err := s.CreateAttempt(student)
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if a.Status != model.StatusInProgress {
		t.Errorf("expected in_progress, got %q", a.Status)
	}

	if _, err := s.CreateAttempt(student); !errors.Is(err, ErrAttemptExists) {
		t.Errorf("second CreateAttempt: expected ErrAttemptExists, got %v", err)
	}

	got, err := s.GetAttempt(a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.TotalScore != nil || got.SubmittedAt != nil {
		t.Errorf("unsubmitted attempt should have nil score and submitted_at: %+v", got)
	}

	now := time.Now().UTC()
	questions, _ := s.ListQuestions(0)
	b, responses, err := grading.Grade(a.ID, questions, []grading.Answer{
		{QuestionID: q1, Selected: model.ChoiceA},
		{QuestionID: q2, Selected: model.ChoiceC},
	}, now)
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if err := s.SubmitAttempt(a.ID, responses, b); err != nil {
		t.Fatalf("SubmitAttempt: %v", err)
	}

	got, _ = s.GetAttempt(a.ID)
	if got.Status != model.StatusSubmitted {
		t.Errorf("expected submitted, got %q", got.Status)
	}
	if model.IntValue(got.TotalScore) != 1 || model.IntValue(got.CSScore) != 1 || model.IntValue(got.AIScore) != 0 {
		t.Errorf("unexpected scores: total=%v cs=%v ai=%v", got.TotalScore, got.CSScore, got.AIScore)
	}
	if got.CollabScore == nil || *got.CollabScore != 0 {
		t.Errorf("collab score should be stored as 0, got %v", got.CollabScore)
	}
	if got.SubmittedAt == nil {
		t.Error("expected submitted_at to be set")
	}

	stored, err := s.ListResponses(a.ID)
	if err != nil {
		t.Fatalf("ListResponses: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(stored))
	}
	if !stored[0].IsCorrect || stored[1].IsCorrect {
		t.Errorf("unexpected correctness: %+v", stored)
	}

	if err := s.SubmitAttempt(a.ID, responses, b); !errors.Is(err, ErrAlreadySubmitted) {
		t.Errorf("resubmit: expected ErrAlreadySubmitted, got %v", err)
	}

	if err := s.SetReport(a.ID, "## Summary\n\nok\n"); err != nil {
		t.Fatalf("SetReport: %v", err)
	}
	got, _ = s.GetAttempt(a.ID)
	if got.Status != model.StatusGraded {
		t.Errorf("expected graded after report, got %q", got.Status)
	}
	if got.ReportMD == nil || *got.ReportMD != "## Summary\n\nok\n" {
		t.Errorf("unexpected report: %v", got.ReportMD)
	}
}

func TestGetAttemptNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetAttempt(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SubmitAttempt(42, nil, grading.Breakdown{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("SubmitAttempt: expected ErrNotFound, got %v", err)
	}
}

func TestSetReportRequiresSubmission(t *testing.T) {
	s := newTestStore(t)
	student := createTestStudent(t, s, "lee")
	a, _ := s.CreateAttempt(student)
	if err := s.SetReport(a.ID, "text"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for in-progress attempt, got %v", err)
	}
}

func TestListAttemptsOrdering(t *testing.T) {
	s := newTestStore(t)
	low := createTestStudent(t, s, "low")
	high := createTestStudent(t, s, "high")
	pending := createTestStudent(t, s, "pending")

	submitTestAttempt(t, s, low, 1, 1, 1)
	if _, err := s.CreateAttempt(pending); err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	submitTestAttempt(t, s, high, 5, 4, 3)

	list, err := s.ListAttempts()
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(list))
	}
	wantOrder := []int64{high, low, pending}
	for i, want := range wantOrder {
		if list[i].StudentID != want {
			t.Errorf("position %d: student %d, want %d", i, list[i].StudentID, want)
		}
	}
	if list[0].StudentName != "Student high" {
		t.Errorf("expected display name, got %q", list[0].StudentName)
	}
	if list[2].TotalScore != nil {
		t.Errorf("pending attempt should have nil score")
	}

	graded, err := s.ListGradedAttempts()
	if err != nil {
		t.Fatalf("ListGradedAttempts: %v", err)
	}
	if len(graded) != 2 {
		t.Fatalf("expected 2 graded attempts, got %d", len(graded))
	}
	if graded[0].StudentID != low || model.IntValue(graded[1].Score) != 12 {
		t.Errorf("unexpected graded attempts: %+v", graded)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	id := createTestStudent(t, s, "park")
	if _, err := s.CreateUser(model.User{Username: "park", PasswordHash: "x", Role: model.UserRoleStudent}); !errors.Is(err, ErrUserExists) {
		t.Errorf("duplicate username: expected ErrUserExists, got %v", err)
	}

	u, err := s.GetUserByUsername("park")
	if err != nil || u == nil {
		t.Fatalf("GetUserByUsername: %v, %v", u, err)
	}
	if u.ID != id || u.Role != model.UserRoleStudent || !u.Active {
		t.Errorf("unexpected user: %+v", u)
	}

	if u, _ := s.GetUserByUsername("nobody"); u != nil {
		t.Errorf("expected nil for unknown username, got %+v", u)
	}
	if u, _ := s.GetUserByID(999); u != nil {
		t.Errorf("expected nil for unknown id, got %+v", u)
	}

	count, _ := s.UserCount()
	users, _ := s.ListUsers()
	if count != 1 || len(users) != 1 {
		t.Errorf("expected 1 user, got count=%d list=%d", count, len(users))
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)
	uid := createTestStudent(t, s, "choi")

	sess, err := s.CreateAuthSession(uid, 0)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if len(sess.ID) != 64 {
		t.Errorf("expected 64-char hex token, got %d chars", len(sess.ID))
	}

	got, err := s.GetAuthSession(sess.ID)
	if err != nil || got == nil {
		t.Fatalf("GetAuthSession: %v, %v", got, err)
	}
	if got.UserID != uid {
		t.Errorf("expected user %d, got %d", uid, got.UserID)
	}

	if err := s.DeleteAuthSession(sess.ID); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	if got, _ := s.GetAuthSession(sess.ID); got != nil {
		t.Error("expected nil after delete")
	}

	expired, _ := s.CreateAuthSession(uid, time.Nanosecond)
	time.Sleep(time.Millisecond)
	if got, _ := s.GetAuthSession(expired.ID); got != nil {
		t.Error("expected nil for expired session")
	}

	if _, err := s.CreateAuthSession(uid, time.Nanosecond); err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	time.Sleep(time.Millisecond)
	n, err := s.CleanupExpiredSessions()
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired session removed, got %d", n)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("/some/path.json")
	if err != nil {
		t.Fatalf("GetImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Errorf("expected empty hash, got %q", hash)
	}

	q := []model.Question{{Category: model.CategoryCS, Prompt: "Q", Answer: model.ChoiceA}}
	if err := s.ImportQuestions("/some/path.json", "abc123", q); err != nil {
		t.Fatalf("ImportQuestions: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/path.json")
	if hash != "abc123" {
		t.Errorf("expected 'abc123', got %q", hash)
	}

	if err := s.ImportQuestions("/some/path.json", "def456", q); err != nil {
		t.Fatalf("ImportQuestions again: %v", err)
	}
	hash, _ = s.GetImportedFileHash("/some/path.json")
	if hash != "def456" {
		t.Errorf("expected 'def456', got %q", hash)
	}
}

func seedGraded(t *testing.T, s *Store, n int) []model.GradedAttempt {
	t.Helper()
	for i := range n {
		uid := createTestStudent(t, s, string(rune('a'+i)))
		submitTestAttempt(t, s, uid, n-i, i%3, 1)
	}
	graded, err := s.ListGradedAttempts()
	if err != nil {
		t.Fatalf("ListGradedAttempts: %v", err)
	}
	return graded
}

func TestTeamRunSaveAndLoad(t *testing.T) {
	s := newTestStore(t)

	layout, err := s.LatestTeamRun()
	if err != nil {
		t.Fatalf("LatestTeamRun: %v", err)
	}
	if layout != nil {
		t.Fatalf("expected no layout, got %+v", layout)
	}

	graded := seedGraded(t, s, 5)
	res, err := team.Match(graded, 2, team.ModeRank)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}

	runID, err := s.SaveTeamRun(2, team.ModeRank, res)
	if err != nil {
		t.Fatalf("SaveTeamRun: %v", err)
	}
	if len(runID) != 36 {
		t.Errorf("expected uuid run id, got %q", runID)
	}

	layout, err = s.LatestTeamRun()
	if err != nil {
		t.Fatalf("LatestTeamRun: %v", err)
	}
	if layout.RunID != runID || layout.TeamSize != 2 || layout.Mode != "rank" {
		t.Errorf("unexpected run header: %+v", layout)
	}
	if len(layout.Teams) != 3 {
		t.Fatalf("expected 3 teams, got %d", len(layout.Teams))
	}
	sizes := []int{len(layout.Teams[0].Members), len(layout.Teams[1].Members), len(layout.Teams[2].Members)}
	if sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("unexpected sizes %v", sizes)
	}
	first := layout.Teams[0].Members[0]
	if first.StudentName == "" || first.Score == 0 || first.Reason == "" {
		t.Errorf("member view missing fields: %+v", first)
	}
	if layout.MemberCount() != 5 {
		t.Errorf("expected 5 members, got %d", layout.MemberCount())
	}

	// Saving again replaces the layout but keeps the run.
	res2, _ := team.Match(graded, 5, team.ModeBalanced)
	runID2, err := s.SaveTeamRun(5, team.ModeBalanced, res2)
	if err != nil {
		t.Fatalf("SaveTeamRun replace: %v", err)
	}
	if runID2 != runID {
		t.Errorf("expected run id to be kept, got %q want %q", runID2, runID)
	}
	layout, _ = s.LatestTeamRun()
	if len(layout.Teams) != 1 || layout.Mode != "balanced" || layout.MemberCount() != 5 {
		t.Errorf("unexpected replaced layout: %+v", layout)
	}
}

func TestMoveTeamMember(t *testing.T) {
	s := newTestStore(t)
	graded := seedGraded(t, s, 4)
	res, _ := team.Match(graded, 2, team.ModeRank)
	runID, err := s.SaveTeamRun(2, team.ModeRank, res)
	if err != nil {
		t.Fatalf("SaveTeamRun: %v", err)
	}

	student := res.Assignments[0].StudentID // team 1
	moved, err := s.MoveTeamMember(runID, student, 2, nil)
	if err != nil {
		t.Fatalf("MoveTeamMember: %v", err)
	}
	if a, _ := moved.Find(student); a.TeamIndex != 1 {
		t.Errorf("expected team index 1, got %d", a.TeamIndex)
	}

	layout, _ := s.LatestTeamRun()
	if len(layout.Teams[0].Members) != 1 || len(layout.Teams[1].Members) != 3 {
		t.Fatalf("unexpected sizes after move: %d, %d", len(layout.Teams[0].Members), len(layout.Teams[1].Members))
	}
	var found bool
	for _, m := range layout.Teams[1].Members {
		if m.StudentID == student {
			found = true
			if m.Reason != "moved manually from team 1 to team 2" {
				t.Errorf("unexpected reason %q", m.Reason)
			}
		}
	}
	if !found {
		t.Error("moved student not in team 2")
	}

	tests := []struct {
		name    string
		runID   string
		student int64
		to      int
		want    error
	}{
		{"unknown run", "missing", student, 1, ErrNotFound},
		{"unknown student", runID, 9999, 1, team.ErrStudentNotFound},
		{"team out of range", runID, student, 3, team.ErrTeamOutOfRange},
		{"team zero", runID, student, 0, team.ErrTeamOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.MoveTeamMember(tt.runID, tt.student, tt.to, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestImportQuestions(t *testing.T) {
	s := newTestStore(t)
	qs, err := model.ParseQuestions([]byte(`[
		{"category": "cs", "prompt": "Q1", "choice_a": "a", "choice_b": "b", "choice_c": "c", "answer": "A"},
		{"category": "ai", "prompt": "Q2", "choice_a": "a", "choice_b": "b", "choice_c": "c", "answer": "C"}
	]`))
	if err != nil {
		t.Fatalf("ParseQuestions: %v", err)
	}
	if err := s.ImportQuestions("bank.json", "h1", qs); err != nil {
		t.Fatalf("ImportQuestions: %v", err)
	}
	if n, _ := s.QuestionCount(); n != 2 {
		t.Errorf("expected 2 questions, got %d", n)
	}
	if h, _ := s.GetImportedFileHash("bank.json"); h != "h1" {
		t.Errorf("expected hash h1, got %q", h)
	}

	bad := []model.Question{{Category: model.CategoryCS, Prompt: "ok", Answer: model.ChoiceA}, {Category: "x", Prompt: "bad", Answer: model.ChoiceA}}
	if err := s.ImportQuestions("bad.json", "h2", bad); err == nil {
		t.Fatal("expected error for invalid category")
	}
	if n, _ := s.QuestionCount(); n != 2 {
		t.Errorf("failed import must roll back, got %d questions", n)
	}
	if h, _ := s.GetImportedFileHash("bad.json"); h != "" {
		t.Errorf("failed import must not record a hash, got %q", h)
	}
}
