package team

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pavelanni/teamexam/internal/model"
)

// Mode selects the ordering policy used before teams are dealt.
type Mode string

const (
	// ModeRank orders students by overall score.
	ModeRank Mode = "rank"
	// ModeBalanced interleaves students by primary skill.
	ModeBalanced Mode = "balanced"
)

// ParseMode converts a user-supplied mode name. An empty string means ModeRank.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRank:
		return ModeRank, nil
	case ModeBalanced:
		return ModeBalanced, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

var (
	// ErrNoAttempts is returned when matching is asked to split zero attempts.
	ErrNoAttempts = errors.New("no graded attempts to match")
	// ErrInvalidTeamSize is returned for a team size below one.
	ErrInvalidTeamSize = errors.New("team size must be a positive integer")
	// ErrUnknownMode is returned for a mode other than rank or balanced.
	ErrUnknownMode = errors.New("unknown matching mode")

	ErrStudentNotFound   = errors.New("student is not assigned to any team")
	ErrTeamOutOfRange    = errors.New("team index out of range")
	ErrDuplicateStudent  = errors.New("student assigned more than once")
	ErrMissingStudent    = errors.New("graded student missing from layout")
	ErrUnknownStudent    = errors.New("layout contains a student without a graded attempt")
	ErrInconsistentCount = errors.New("team count does not match assignments")
)

// Assignment places one student into a team.
type Assignment struct {
	TeamIndex int    `json:"team_index"`
	StudentID int64  `json:"student_id"`
	AttemptID int64  `json:"attempt_id"`
	Reason    string `json:"reason"`
}

// Result is the output of a matching run.
// Assignments are in dealing order, one per input attempt.
type Result struct {
	TeamCount   int          `json:"team_count"`
	Assignments []Assignment `json:"assignments"`
}

// Members groups assignments by team index, preserving dealing order within each team.
func (r *Result) Members() [][]Assignment {
	teams := make([][]Assignment, r.TeamCount)
	for _, a := range r.Assignments {
		if a.TeamIndex < 0 || a.TeamIndex >= r.TeamCount {
			continue
		}
		teams[a.TeamIndex] = append(teams[a.TeamIndex], a)
	}
	return teams
}

// Sizes returns the number of members in each team.
func (r *Result) Sizes() []int {
	sizes := make([]int, r.TeamCount)
	for _, a := range r.Assignments {
		if a.TeamIndex >= 0 && a.TeamIndex < r.TeamCount {
			sizes[a.TeamIndex]++
		}
	}
	return sizes
}

// Find returns the assignment for a student.
func (r *Result) Find(studentID int64) (Assignment, bool) {
	for _, a := range r.Assignments {
		if a.StudentID == studentID {
			return a, true
		}
	}
	return Assignment{}, false
}

// Explainer renders the reason attached to each assignment.
type Explainer interface {
	// RankReason explains a placement by 1-based rank position.
	RankReason(position int) string
	// SkillReason explains a placement by primary skill.
	SkillReason(skill model.Category) string
	// MoveReason explains a manual move between 0-based team indices.
	MoveReason(from, to int) string
}

// EnglishExplainer renders reasons in English. It is the default Explainer.
type EnglishExplainer struct{}

var skillLabels = map[model.Category]string{
	model.CategoryCS:     "CS",
	model.CategoryCollab: "Collaboration",
	model.CategoryAI:     "AI",
}

// SkillLabel returns the short English label for a category.
func SkillLabel(c model.Category) string {
	if l, ok := skillLabels[c]; ok {
		return l
	}
	return string(c)
}

func (EnglishExplainer) RankReason(position int) string {
	return fmt.Sprintf("assigned by overall rank position %d to balance teams", position)
}

func (EnglishExplainer) SkillReason(skill model.Category) string {
	return fmt.Sprintf("assigned considering primary strength (%s) to balance teams", SkillLabel(skill))
}

func (EnglishExplainer) MoveReason(from, to int) string {
	return fmt.Sprintf("moved manually from team %d to team %d", from+1, to+1)
}
