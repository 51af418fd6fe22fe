package report

import "github.com/pavelanni/teamexam/internal/model"

func fallbackSummary(in Input) string {
	prefix := "This student "
	if in.StudentName != "" {
		prefix = in.StudentName + " "
	}

	cs := in.Breakdown.Of(model.CategoryCS).Ratio()
	collab := in.Breakdown.Of(model.CategoryCollab).Ratio()
	ai := in.Breakdown.Of(model.CategoryAI).Ratio()

	switch {
	case cs >= strengthRatio && collab >= strengthRatio:
		return prefix + "is solid in both implementation and collaboration. " +
			"They can drive technical decisions and code review on the team."
	case collab >= strengthRatio:
		return prefix + "is strong in Git workflow and team communication. " +
			"A good fit for organizing the team's process while building up implementation skills."
	case cs >= strengthRatio:
		return prefix + "has solid implementation skills but little collaboration experience. " +
			"Splitting work into small PRs and trading code reviews will help."
	case ai >= strengthRatio:
		return prefix + "is comfortable with AI tools. " +
			"They can raise team productivity through documentation and test case writing."
	default:
		return prefix + "is still early in project experience. " +
			"Starting from small issues and repeating the run, fail, fix cycle will build confidence."
	}
}

var recommendationsByWeakness = map[model.Category][]string{
	model.CategoryCS: {
		"When an error occurs, read the stack trace and find the function where it failed.",
		"When an API response looks wrong, compare the request parameters with the response shape.",
	},
	model.CategoryCollab: {
		"Add one line to each commit message explaining why the change is needed.",
		"Before opening a PR, check whether it can be split into three or fewer smaller changes.",
	},
	model.CategoryAI: {
		"Decide how you will check an LLM answer for correctness before you rely on it.",
		"Include at least two example inputs and outputs when writing a prompt.",
	},
}

func fallbackRecommendations(a Analysis, strengths []string) []string {
	var recs []string
	if len(a.Weak) == 0 {
		recs = append(recs,
			"In your next project, write down why each part of the tech stack was chosen.",
			"When reviewing a teammate's PR, ask why it was implemented that way.",
		)
	}
	for _, c := range a.Weak {
		recs = append(recs, recommendationsByWeakness[c]...)
	}
	if len(recs) < 3 && len(strengths) > 0 {
		recs = append(recs, "Use your strength ("+strengths[0]+") by picking up related issues first.")
	}
	return limit(recs, maxRecommendations)
}

var focusByWeakness = map[model.Category][]string{
	model.CategoryCS: {
		"Trace how a missing environment variable turns into a deployment error.",
		"Write down how to respond to each failing API status code.",
		"Practice walking back from a log line to where the error started.",
	},
	model.CategoryCollab: {
		"Practice merge scenarios across feature, develop and main branches.",
		"Decide which side of a merge conflict to keep and write down why.",
		"Include the reason for a change and how to test it in every PR description.",
	},
	model.CategoryAI: {
		"Compare LLM answers on accuracy, grounding and consistency.",
		"Write the same prompt three ways and compare the results.",
		"Define how to judge whether documents retrieved for RAG are relevant.",
	},
}

func fallbackStudyFocus(a Analysis) []string {
	var focus []string
	for _, c := range a.Weak {
		focus = append(focus, focusByWeakness[c]...)
	}
	if len(focus) < 4 {
		focus = append(focus,
			"Ship one small feature from local to staging to production.",
			"Read a teammate's code and work out why it was written that way.",
		)
	}
	return limit(focus, maxStudyFocus)
}
