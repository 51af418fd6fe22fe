package team

import (
	"fmt"
	"slices"

	"github.com/pavelanni/teamexam/internal/model"
)

// Move returns a copy of r with one student reassigned to team index to.
// The moved assignment's reason records the manual move. Moving a student to the
// team they are already in returns an unchanged copy.
func Move(r *Result, studentID int64, to int) (*Result, error) {
	return MoveWith(r, studentID, to, EnglishExplainer{})
}

// MoveWith is Move with a caller-supplied Explainer.
func MoveWith(r *Result, studentID int64, to int, ex Explainer) (*Result, error) {
	if err := checkShape(r); err != nil {
		return nil, err
	}
	if to < 0 || to >= r.TeamCount {
		return nil, fmt.Errorf("%w: team %d of %d", ErrTeamOutOfRange, to, r.TeamCount)
	}
	if ex == nil {
		ex = EnglishExplainer{}
	}

	out := &Result{TeamCount: r.TeamCount, Assignments: slices.Clone(r.Assignments)}
	idx := slices.IndexFunc(out.Assignments, func(a Assignment) bool { return a.StudentID == studentID })
	if idx < 0 {
		return nil, fmt.Errorf("%w: student %d", ErrStudentNotFound, studentID)
	}

	from := out.Assignments[idx].TeamIndex
	if from == to {
		return out, nil
	}
	out.Assignments[idx].TeamIndex = to
	out.Assignments[idx].Reason = ex.MoveReason(from, to)
	return out, nil
}

// Validate checks that r places every graded student exactly once, names no
// unknown student, and uses only team indices in [0, TeamCount).
func Validate(r *Result, attempts []model.GradedAttempt) error {
	if err := checkShape(r); err != nil {
		return err
	}

	expected := make(map[int64]bool, len(attempts))
	for _, a := range attempts {
		expected[a.StudentID] = true
	}

	seen := make(map[int64]bool, len(r.Assignments))
	for _, a := range r.Assignments {
		if seen[a.StudentID] {
			return fmt.Errorf("%w: student %d", ErrDuplicateStudent, a.StudentID)
		}
		seen[a.StudentID] = true
		if !expected[a.StudentID] {
			return fmt.Errorf("%w: student %d", ErrUnknownStudent, a.StudentID)
		}
	}
	for _, a := range attempts {
		if !seen[a.StudentID] {
			return fmt.Errorf("%w: student %d", ErrMissingStudent, a.StudentID)
		}
	}
	return nil
}

func checkShape(r *Result) error {
	if r == nil || len(r.Assignments) == 0 {
		return ErrNoAttempts
	}
	if r.TeamCount <= 0 {
		return fmt.Errorf("%w: %d teams", ErrInconsistentCount, r.TeamCount)
	}
	for _, a := range r.Assignments {
		if a.TeamIndex < 0 || a.TeamIndex >= r.TeamCount {
			return fmt.Errorf("%w: student %d in team %d of %d", ErrTeamOutOfRange, a.StudentID, a.TeamIndex, r.TeamCount)
		}
	}
	return nil
}
