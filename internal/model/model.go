package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is an examinee.
	UserRoleStudent UserRole = "student"
	// UserRoleAdmin can list attempts and build teams.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user. Students are identified by their user ID.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Category is a question category and, for examinees, a skill area.
type Category string

const (
	CategoryCS     Category = "cs"
	CategoryCollab Category = "collab"
	CategoryAI     Category = "ai"
)

// Categories lists every category in priority order.
var Categories = []Category{CategoryCS, CategoryCollab, CategoryAI}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryCS, CategoryCollab, CategoryAI:
		return true
	}
	return false
}

// Choice is a multiple-choice option letter.
type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
	ChoiceC Choice = "C"
)

// Valid reports whether c is one of A, B, C.
func (c Choice) Valid() bool {
	return c == ChoiceA || c == ChoiceB || c == ChoiceC
}

// Question represents a multiple-choice exam question.
type Question struct {
	ID       int64    `json:"id"`
	Category Category `json:"category"`
	Prompt   string   `json:"prompt"`
	ChoiceA  string   `json:"choice_a"`
	ChoiceB  string   `json:"choice_b"`
	ChoiceC  string   `json:"choice_c"`
	Answer   Choice   `json:"answer"`
}

// PublicQuestion is a question as shown to examinees, without the answer.
type PublicQuestion struct {
	ID       int64    `json:"id"`
	Category Category `json:"category"`
	Prompt   string   `json:"prompt"`
	ChoiceA  string   `json:"choice_a"`
	ChoiceB  string   `json:"choice_b"`
	ChoiceC  string   `json:"choice_c"`
}

// Public strips the answer key.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:       q.ID,
		Category: q.Category,
		Prompt:   q.Prompt,
		ChoiceA:  q.ChoiceA,
		ChoiceB:  q.ChoiceB,
		ChoiceC:  q.ChoiceC,
	}
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Category Category `json:"category"`
	Prompt   string   `json:"prompt"`
	ChoiceA  string   `json:"choice_a"`
	ChoiceB  string   `json:"choice_b"`
	ChoiceC  string   `json:"choice_c"`
	Answer   Choice   `json:"answer"`
}

// ErrNoQuestions is returned for a question file without any questions.
var ErrNoQuestions = errors.New("question file contains no questions")

// ParseQuestions decodes a JSON array of questions and checks each one.
func ParseQuestions(data []byte) ([]Question, error) {
	var in []QuestionImport
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if len(in) == 0 {
		return nil, ErrNoQuestions
	}
	out := make([]Question, 0, len(in))
	for i, qi := range in {
		switch {
		case !qi.Category.Valid():
			return nil, fmt.Errorf("question %d: unknown category %q", i+1, qi.Category)
		case !qi.Answer.Valid():
			return nil, fmt.Errorf("question %d: answer must be A, B or C, got %q", i+1, qi.Answer)
		case strings.TrimSpace(qi.Prompt) == "":
			return nil, fmt.Errorf("question %d: empty prompt", i+1)
		}
		out = append(out, Question{
			Category: qi.Category,
			Prompt:   qi.Prompt,
			ChoiceA:  qi.ChoiceA,
			ChoiceB:  qi.ChoiceB,
			ChoiceC:  qi.ChoiceC,
			Answer:   qi.Answer,
		})
	}
	return out, nil
}

// AttemptStatus represents the status of an exam attempt.
type AttemptStatus string

const (
	StatusInProgress AttemptStatus = "in_progress"
	StatusSubmitted  AttemptStatus = "submitted"
	StatusGraded     AttemptStatus = "graded"
)

// Attempt is one student's exam attempt. Scores stay nil until submission.
type Attempt struct {
	ID          int64         `json:"id"`
	StudentID   int64         `json:"student_id"`
	Status      AttemptStatus `json:"status"`
	TotalScore  *int          `json:"total_score"`
	CSScore     *int          `json:"cs_score"`
	CollabScore *int          `json:"collab_score"`
	AIScore     *int          `json:"ai_score"`
	ReportMD    *string       `json:"report_md,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
}

// Submitted reports whether the attempt has been handed in.
func (a Attempt) Submitted() bool {
	return a.Status == StatusSubmitted || a.Status == StatusGraded
}

// AttemptSummary is an attempt joined with the student's display name, for admin listings.
type AttemptSummary struct {
	Attempt
	StudentName string `json:"student_name"`
}

// Response is a student's answer to one question.
type Response struct {
	AttemptID  int64     `json:"attempt_id"`
	QuestionID int64     `json:"question_id"`
	Selected   Choice    `json:"selected"`
	IsCorrect  bool      `json:"is_correct"`
	CreatedAt  time.Time `json:"created_at"`
}

// GradedAttempt is a completed exam result, the input to team matching.
// Nil scores count as zero.
type GradedAttempt struct {
	AttemptID   int64  `json:"attempt_id"`
	StudentID   int64  `json:"student_id"`
	StudentName string `json:"student_name,omitempty"`
	Score       *int   `json:"score"`
	CSScore     *int   `json:"cs_score"`
	CollabScore *int   `json:"collab_score"`
	AIScore     *int   `json:"ai_score"`
}

// ScoreOf returns the sub-score for a category.
func (g GradedAttempt) ScoreOf(c Category) int {
	switch c {
	case CategoryCS:
		return IntValue(g.CSScore)
	case CategoryCollab:
		return IntValue(g.CollabScore)
	case CategoryAI:
		return IntValue(g.AIScore)
	}
	return 0
}

// IntValue dereferences p, treating nil as zero.
func IntValue(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// ExamConfig holds runtime exam parameters set via CLI flags.
type ExamConfig struct {
	NumQuestions       int // 0 means all available
	SecondsPerQuestion int
	DefaultTeamSize    int
	SecureCookies      bool
	LoginRate          int // login attempts per minute per client IP, 0 disables the limit
}
