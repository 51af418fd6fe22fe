package grading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/teamexam/internal/model"
)

func bank() []model.Question {
	return []model.Question{
		{ID: 1, Category: model.CategoryCS, Answer: model.ChoiceA},
		{ID: 2, Category: model.CategoryCS, Answer: model.ChoiceB},
		{ID: 3, Category: model.CategoryCollab, Answer: model.ChoiceC},
		{ID: 4, Category: model.CategoryAI, Answer: model.ChoiceA},
		{ID: 5, Category: model.CategoryAI, Answer: model.ChoiceB},
	}
}

func TestGrade(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	answers := []Answer{
		{QuestionID: 1, Selected: model.ChoiceA}, // correct
		{QuestionID: 2, Selected: model.ChoiceC}, // wrong
		{QuestionID: 3, Selected: model.ChoiceC}, // correct
		{QuestionID: 4, Selected: model.ChoiceA}, // correct
		{QuestionID: 99, Selected: model.ChoiceA},
	}

	b, responses, err := Grade(7, bank(), answers, now)
	require.NoError(t, err)

	assert.Equal(t, 3, b.Total)
	assert.Equal(t, 5, b.Answered)
	assert.Equal(t, CategoryScore{Correct: 1, Total: 2}, b.Of(model.CategoryCS))
	assert.Equal(t, CategoryScore{Correct: 1, Total: 1}, b.Of(model.CategoryCollab))
	assert.Equal(t, CategoryScore{Correct: 1, Total: 1}, b.Of(model.CategoryAI))

	require.Len(t, responses, 5)
	assert.True(t, responses[0].IsCorrect)
	assert.False(t, responses[1].IsCorrect)
	assert.False(t, responses[4].IsCorrect, "unknown question must be incorrect")
	for _, r := range responses {
		assert.Equal(t, int64(7), r.AttemptID)
		assert.Equal(t, now, r.CreatedAt)
	}
}

func TestGradeLastAnswerWins(t *testing.T) {
	answers := []Answer{
		{QuestionID: 1, Selected: model.ChoiceB},
		{QuestionID: 2, Selected: model.ChoiceB},
		{QuestionID: 1, Selected: model.ChoiceA},
	}

	b, responses, err := Grade(1, bank(), answers, time.Now())
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, int64(1), responses[0].QuestionID)
	assert.Equal(t, model.ChoiceA, responses[0].Selected)
	assert.Equal(t, 2, b.Total)
}

func TestGradeErrors(t *testing.T) {
	_, _, err := Grade(1, bank(), nil, time.Now())
	assert.ErrorIs(t, err, ErrNoResponses)

	_, _, err = Grade(1, bank(), []Answer{{QuestionID: 1, Selected: "D"}}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidChoice)
}

func TestFromAttemptMatchesGrade(t *testing.T) {
	answers := []Answer{
		{QuestionID: 1, Selected: model.ChoiceA},
		{QuestionID: 3, Selected: model.ChoiceA},
		{QuestionID: 5, Selected: model.ChoiceB},
	}
	graded, responses, err := Grade(1, bank(), answers, time.Now())
	require.NoError(t, err)

	rebuilt := FromAttempt(bank(), responses)
	assert.Equal(t, graded, rebuilt)
}

func TestToGraded(t *testing.T) {
	b := Breakdown{
		Total: 4,
		Categories: map[model.Category]CategoryScore{
			model.CategoryCS:     {Correct: 2, Total: 3},
			model.CategoryCollab: {Correct: 0, Total: 2},
			model.CategoryAI:     {Correct: 2, Total: 2},
		},
	}

	g := b.ToGraded(10, 20)
	assert.Equal(t, int64(10), g.AttemptID)
	assert.Equal(t, int64(20), g.StudentID)
	assert.Equal(t, 4, model.IntValue(g.Score))
	assert.Equal(t, 2, g.ScoreOf(model.CategoryCS))
	assert.Equal(t, 0, g.ScoreOf(model.CategoryCollab))
	assert.Equal(t, 2, g.ScoreOf(model.CategoryAI))
}

func TestCategoryScoreRatio(t *testing.T) {
	assert.Equal(t, 0.0, CategoryScore{}.Ratio())
	assert.Equal(t, 0, CategoryScore{}.Percent())
	assert.InDelta(t, 0.666, CategoryScore{Correct: 2, Total: 3}.Ratio(), 0.001)
	assert.Equal(t, 67, CategoryScore{Correct: 2, Total: 3}.Percent())
}
