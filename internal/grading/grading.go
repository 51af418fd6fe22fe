// Package grading scores multiple-choice submissions by category.
package grading

import (
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/teamexam/internal/model"
)

// ErrNoResponses is returned when a submission contains no answers.
var ErrNoResponses = errors.New("submission has no responses")

// ErrInvalidChoice is returned when a response selects something other than A, B or C.
var ErrInvalidChoice = errors.New("invalid choice")

// Answer is one submitted response before grading.
type Answer struct {
	QuestionID int64        `json:"question_id"`
	Selected   model.Choice `json:"selected"`
}

// CategoryScore counts correct answers out of answered questions in one category.
type CategoryScore struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Ratio returns Correct/Total, or 0 when nothing was answered.
func (c CategoryScore) Ratio() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Correct) / float64(c.Total)
}

// Percent returns the rounded percentage of correct answers.
func (c CategoryScore) Percent() int {
	return int(c.Ratio()*100 + 0.5)
}

// Breakdown is the graded result of one submission.
type Breakdown struct {
	Total      int                              `json:"total_score"`
	Answered   int                              `json:"answered"`
	Categories map[model.Category]CategoryScore `json:"breakdown"`
}

// Of returns the score for a category.
func (b Breakdown) Of(c model.Category) CategoryScore {
	return b.Categories[c]
}

// ToGraded converts the breakdown into matcher input for the given attempt.
func (b Breakdown) ToGraded(attemptID, studentID int64) model.GradedAttempt {
	total := b.Total
	cs := b.Of(model.CategoryCS).Correct
	collab := b.Of(model.CategoryCollab).Correct
	ai := b.Of(model.CategoryAI).Correct
	return model.GradedAttempt{
		AttemptID:   attemptID,
		StudentID:   studentID,
		Score:       &total,
		CSScore:     &cs,
		CollabScore: &collab,
		AIScore:     &ai,
	}
}

// Grade checks each answer against the question bank. Answers to unknown
// questions are stored as incorrect and do not count towards any category.
// When a question is answered more than once, the last answer wins.
func Grade(attemptID int64, questions []model.Question, answers []Answer, now time.Time) (Breakdown, []model.Response, error) {
	if len(answers) == 0 {
		return Breakdown{}, nil, ErrNoResponses
	}

	lookup := make(map[int64]model.Question, len(questions))
	for _, q := range questions {
		lookup[q.ID] = q
	}

	latest := make(map[int64]int, len(answers))
	var order []int64
	for i, a := range answers {
		if !a.Selected.Valid() {
			return Breakdown{}, nil, fmt.Errorf("%w %q for question %d", ErrInvalidChoice, a.Selected, a.QuestionID)
		}
		if _, ok := latest[a.QuestionID]; !ok {
			order = append(order, a.QuestionID)
		}
		latest[a.QuestionID] = i
	}

	b := Breakdown{Categories: make(map[model.Category]CategoryScore, len(model.Categories))}
	for _, c := range model.Categories {
		b.Categories[c] = CategoryScore{}
	}

	responses := make([]model.Response, 0, len(order))
	for _, qid := range order {
		a := answers[latest[qid]]
		q, known := lookup[qid]
		correct := known && q.Answer == a.Selected

		if known && q.Category.Valid() {
			cs := b.Categories[q.Category]
			cs.Total++
			if correct {
				cs.Correct++
				b.Total++
			}
			b.Categories[q.Category] = cs
		}

		responses = append(responses, model.Response{
			AttemptID:  attemptID,
			QuestionID: qid,
			Selected:   a.Selected,
			IsCorrect:  correct,
			CreatedAt:  now,
		})
	}
	b.Answered = len(responses)

	return b, responses, nil
}

// FromAttempt rebuilds a breakdown from stored responses and the questions they reference.
func FromAttempt(questions []model.Question, responses []model.Response) Breakdown {
	lookup := make(map[int64]model.Question, len(questions))
	for _, q := range questions {
		lookup[q.ID] = q
	}

	b := Breakdown{Categories: make(map[model.Category]CategoryScore, len(model.Categories))}
	for _, c := range model.Categories {
		b.Categories[c] = CategoryScore{}
	}
	for _, r := range responses {
		q, ok := lookup[r.QuestionID]
		if !ok || !q.Category.Valid() {
			continue
		}
		cs := b.Categories[q.Category]
		cs.Total++
		if r.IsCorrect {
			cs.Correct++
			b.Total++
		}
		b.Categories[q.Category] = cs
	}
	b.Answered = len(responses)
	return b
}
