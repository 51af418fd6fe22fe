// Package report builds the post-exam feedback shown to a student.
//
// Strengths and weaknesses are derived deterministically from the category
// breakdown. The summary, recommendations and study focus come from an LLM when
// one is configured, and from fixed fallback text otherwise or when the call fails.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/teamexam/internal/grading"
	"github.com/pavelanni/teamexam/internal/llm"
	"github.com/pavelanni/teamexam/internal/llm/prompts"
	"github.com/pavelanni/teamexam/internal/model"
)

const (
	strengthRatio = 0.7
	weaknessRatio = 0.4

	maxRecommendations = 5
	maxStudyFocus      = 7
)

// Completer is the subset of the LLM client used for reports.
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float32) (string, error)
}

// Input is what a report is generated from.
type Input struct {
	StudentName string
	Breakdown   grading.Breakdown
}

// Report is the feedback for one attempt.
type Report struct {
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	Weaknesses      []string `json:"weaknesses"`
	Recommendations []string `json:"recommendations"`
	StudyFocus      []string `json:"study_focus"`
}

var categoryLabels = map[model.Category]string{
	model.CategoryCS:     "CS fundamentals",
	model.CategoryCollab: "Team collaboration and communication",
	model.CategoryAI:     "AI tool usage",
}

var strengthText = map[model.Category]string{
	model.CategoryCS:     "can lead implementation and debugging",
	model.CategoryCollab: "has a steady Git workflow and team communication",
	model.CategoryAI:     "can raise team productivity with AI tools",
}

var weaknessText = map[model.Category]string{
	model.CategoryCS:     "may get stuck tracing errors and debugging APIs",
	model.CategoryCollab: "may struggle with scoping PRs and code review",
	model.CategoryAI:     "needs practice validating LLM output and refining prompts",
}

// Analysis holds the strong and weak categories of a breakdown.
type Analysis struct {
	Strong []model.Category
	Weak   []model.Category
}

// Analyze marks categories with at least 70% correct as strong and those at or
// below 40% as weak. Categories with no answered questions are skipped.
func Analyze(b grading.Breakdown) Analysis {
	var a Analysis
	for _, c := range model.Categories {
		s := b.Of(c)
		if s.Total == 0 {
			continue
		}
		r := s.Ratio()
		if r >= strengthRatio {
			a.Strong = append(a.Strong, c)
		}
		if r <= weaknessRatio {
			a.Weak = append(a.Weak, c)
		}
	}
	return a
}

// Generator produces reports, optionally backed by an LLM.
type Generator struct {
	llm Completer
}

// NewGenerator creates a Generator. A nil Completer means fallback text only.
func NewGenerator(c Completer) *Generator {
	return &Generator{llm: c}
}

// Generate always returns a complete report. LLM failures are logged and
// replaced by fallback text section by section.
func (g *Generator) Generate(ctx context.Context, in Input) Report {
	a := Analyze(in.Breakdown)
	r := Report{
		Strengths:  describe(a.Strong, strengthText),
		Weaknesses: describe(a.Weak, weaknessText),
	}

	data := promptData(in, r)

	r.Summary = fallbackSummary(in)
	r.Recommendations = fallbackRecommendations(a, r.Strengths)
	r.StudyFocus = fallbackStudyFocus(a)

	if g.llm == nil {
		return r
	}

	if text, err := g.ask(ctx, prompts.KindSummary, data, 0.7); err != nil {
		slog.Warn("LLM summary failed, using fallback", "error", err)
	} else if text != "" {
		r.Summary = text
	}

	if text, err := g.ask(ctx, prompts.KindRecommendations, data, 0.8); err != nil {
		slog.Warn("LLM recommendations failed, using fallback", "error", err)
	} else if items := llm.SplitList(text); len(items) > 0 {
		r.Recommendations = limit(items, maxRecommendations)
	}

	if text, err := g.ask(ctx, prompts.KindStudyFocus, data, 0.8); err != nil {
		slog.Warn("LLM study focus failed, using fallback", "error", err)
	} else if items := llm.SplitList(text); len(items) > 0 {
		r.StudyFocus = limit(items, maxStudyFocus)
	}

	return r
}

func (g *Generator) ask(ctx context.Context, kind prompts.Kind, data prompts.Data, temperature float32) (string, error) {
	p, err := prompts.Build(kind, data)
	if err != nil {
		return "", err
	}
	return g.llm.Complete(ctx, p.System, p.User, temperature)
}

// Markdown renders the report for storage and display.
func (r Report) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Summary\n\n")
	sb.WriteString(r.Summary + "\n")
	writeList(&sb, "Strengths", r.Strengths)
	writeList(&sb, "Areas to improve", r.Weaknesses)
	writeList(&sb, "Next steps", r.Recommendations)
	writeList(&sb, "Practice focus", r.StudyFocus)
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n\n", title)
	for _, it := range items {
		sb.WriteString("- " + it + "\n")
	}
}

func promptData(in Input, r Report) prompts.Data {
	d := prompts.Data{
		StudentName: in.StudentName,
		Score:       in.Breakdown.Total,
		Answered:    in.Breakdown.Answered,
		Strengths:   r.Strengths,
		Weaknesses:  r.Weaknesses,
	}
	for _, c := range model.Categories {
		s := in.Breakdown.Of(c)
		d.Categories = append(d.Categories, prompts.CategoryLine{
			Label:   categoryLabels[c],
			Correct: s.Correct,
			Total:   s.Total,
			Percent: s.Percent(),
		})
	}
	return d
}

func describe(cs []model.Category, text map[model.Category]string) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, text[c])
	}
	return out
}

func limit(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
