package i18n

import (
	"context"

	"github.com/pavelanni/teamexam/internal/model"
	"github.com/pavelanni/teamexam/internal/team"
)

var skillMessages = map[model.Category]string{
	model.CategoryCS:     "SkillCS",
	model.CategoryCollab: "SkillCollab",
	model.CategoryAI:     "SkillAI",
}

type explainer struct {
	ctx context.Context
}

// Explainer returns a team.Explainer that renders reasons in the language
// of the localizer stored in ctx.
func Explainer(ctx context.Context) team.Explainer {
	return explainer{ctx: ctx}
}

// SkillLabel returns the localized label for a category.
func SkillLabel(ctx context.Context, c model.Category) string {
	id, ok := skillMessages[c]
	if !ok {
		return string(c)
	}
	return T(ctx, id)
}

func (e explainer) RankReason(position int) string {
	return Td(e.ctx, "ReasonRank", map[string]any{"Position": position})
}

func (e explainer) SkillReason(skill model.Category) string {
	return Td(e.ctx, "ReasonBalanced", map[string]any{"Skill": SkillLabel(e.ctx, skill)})
}

func (e explainer) MoveReason(from, to int) string {
	return Td(e.ctx, "ReasonMoved", map[string]any{"From": from + 1, "To": to + 1})
}
