package team

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/pavelanni/teamexam/internal/model"
)

// Match splits attempts into ceil(len(attempts)/teamSize) teams using the given
// mode. Reasons are rendered in English.
func Match(attempts []model.GradedAttempt, teamSize int, mode Mode) (*Result, error) {
	return MatchWith(attempts, teamSize, mode, EnglishExplainer{})
}

// MatchWith is Match with a caller-supplied Explainer.
// The input slice is not modified.
func MatchWith(attempts []model.GradedAttempt, teamSize int, mode Mode, ex Explainer) (*Result, error) {
	if len(attempts) == 0 {
		return nil, ErrNoAttempts
	}
	if teamSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTeamSize, teamSize)
	}
	if mode != ModeRank && mode != ModeBalanced {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	if ex == nil {
		ex = EnglishExplainer{}
	}

	ordered := Order(attempts, mode)
	teamCount := TeamCount(len(ordered), teamSize)

	assignments := make([]Assignment, len(ordered))
	for i, a := range ordered {
		var reason string
		if mode == ModeRank {
			reason = ex.RankReason(i + 1)
		} else {
			reason = ex.SkillReason(PrimarySkill(a))
		}
		assignments[i] = Assignment{
			TeamIndex: i % teamCount,
			StudentID: a.StudentID,
			AttemptID: a.AttemptID,
			Reason:    reason,
		}
	}

	return &Result{TeamCount: teamCount, Assignments: assignments}, nil
}

// TeamCount returns ceil(n / teamSize). It returns 0 when either argument is not positive.
func TeamCount(n, teamSize int) int {
	if n <= 0 || teamSize <= 0 {
		return 0
	}
	return (n + teamSize - 1) / teamSize
}

// Order returns attempts in dealing order for the given mode.
// Unknown modes fall back to rank order.
func Order(attempts []model.GradedAttempt, mode Mode) []model.GradedAttempt {
	sorted := slices.Clone(attempts)
	slices.SortStableFunc(sorted, func(a, b model.GradedAttempt) int {
		return cmp.Compare(model.IntValue(b.Score), model.IntValue(a.Score))
	})
	if mode != ModeBalanced {
		return sorted
	}

	buckets := make(map[model.Category][]model.GradedAttempt, len(model.Categories))
	for _, a := range sorted {
		skill := PrimarySkill(a)
		buckets[skill] = append(buckets[skill], a)
	}

	balanced := make([]model.GradedAttempt, 0, len(sorted))
	for len(balanced) < len(sorted) {
		for _, c := range model.Categories {
			if len(buckets[c]) == 0 {
				continue
			}
			balanced = append(balanced, buckets[c][0])
			buckets[c] = buckets[c][1:]
		}
	}
	return balanced
}

// PrimarySkill returns the category with the highest sub-score.
// Ties go to cs, then collab, then ai.
func PrimarySkill(a model.GradedAttempt) model.Category {
	cs := model.IntValue(a.CSScore)
	collab := model.IntValue(a.CollabScore)
	ai := model.IntValue(a.AIScore)
	switch {
	case cs >= collab && cs >= ai:
		return model.CategoryCS
	case collab >= cs && collab >= ai:
		return model.CategoryCollab
	default:
		return model.CategoryAI
	}
}
