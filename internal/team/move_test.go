package team

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/teamexam/internal/model"
)

func TestMove(t *testing.T) {
	attempts := descending(5)
	res, err := Match(attempts, 2, ModeRank)
	require.NoError(t, err)
	require.Equal(t, 3, res.TeamCount)

	// Student 1 is at position 0, team 0.
	moved, err := Move(res, 1, 2)
	require.NoError(t, err)

	a, ok := moved.Find(1)
	require.True(t, ok)
	assert.Equal(t, 2, a.TeamIndex)
	assert.Equal(t, "moved manually from team 1 to team 3", a.Reason)
	assert.Equal(t, []int{1, 2, 2}, moved.Sizes())
	assert.NoError(t, Validate(moved, attempts))

	// The input result is untouched.
	orig, _ := res.Find(1)
	assert.Equal(t, 0, orig.TeamIndex)
	assert.Equal(t, []int{2, 2, 1}, res.Sizes())
}

func TestMoveSameTeam(t *testing.T) {
	res, err := Match(descending(3), 2, ModeRank)
	require.NoError(t, err)

	moved, err := Move(res, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, res, moved)
}

func TestMoveErrors(t *testing.T) {
	res, err := Match(descending(4), 2, ModeRank)
	require.NoError(t, err)

	_, err = Move(res, 99, 0)
	assert.ErrorIs(t, err, ErrStudentNotFound)

	_, err = Move(res, 1, 2)
	assert.ErrorIs(t, err, ErrTeamOutOfRange)

	_, err = Move(res, 1, -1)
	assert.ErrorIs(t, err, ErrTeamOutOfRange)

	_, err = Move(nil, 1, 0)
	assert.ErrorIs(t, err, ErrNoAttempts)
}

func TestValidate(t *testing.T) {
	attempts := descending(3)

	tests := []struct {
		name string
		res  *Result
		want error
	}{
		{
			name: "valid",
			res: &Result{TeamCount: 2, Assignments: []Assignment{
				{TeamIndex: 0, StudentID: 1}, {TeamIndex: 1, StudentID: 2}, {TeamIndex: 1, StudentID: 3},
			}},
		},
		{
			name: "duplicate",
			res: &Result{TeamCount: 2, Assignments: []Assignment{
				{TeamIndex: 0, StudentID: 1}, {TeamIndex: 1, StudentID: 1}, {TeamIndex: 1, StudentID: 3},
			}},
			want: ErrDuplicateStudent,
		},
		{
			name: "missing",
			res: &Result{TeamCount: 2, Assignments: []Assignment{
				{TeamIndex: 0, StudentID: 1}, {TeamIndex: 1, StudentID: 2},
			}},
			want: ErrMissingStudent,
		},
		{
			name: "unknown",
			res: &Result{TeamCount: 2, Assignments: []Assignment{
				{TeamIndex: 0, StudentID: 1}, {TeamIndex: 1, StudentID: 2}, {TeamIndex: 1, StudentID: 3}, {TeamIndex: 0, StudentID: 4},
			}},
			want: ErrUnknownStudent,
		},
		{
			name: "index out of range",
			res: &Result{TeamCount: 2, Assignments: []Assignment{
				{TeamIndex: 0, StudentID: 1}, {TeamIndex: 2, StudentID: 2}, {TeamIndex: 1, StudentID: 3},
			}},
			want: ErrTeamOutOfRange,
		},
		{
			name: "zero teams",
			res:  &Result{TeamCount: 0, Assignments: []Assignment{{StudentID: 1}}},
			want: ErrInconsistentCount,
		},
		{
			name: "empty",
			res:  &Result{TeamCount: 1},
			want: ErrNoAttempts,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.res, attempts)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateAllowsEmptyTeamAfterMove(t *testing.T) {
	attempts := []model.GradedAttempt{attempt(1, 10, 0, 0, 0), attempt(2, 5, 0, 0, 0)}
	res, err := Match(attempts, 1, ModeRank)
	require.NoError(t, err)

	moved, err := Move(res, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, moved.Sizes())
	assert.NoError(t, Validate(moved, attempts))
}
