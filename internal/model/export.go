package model

import "time"

// TeamLayout is the saved team assignment, as rendered and exported.
type TeamLayout struct {
	RunID     string     `json:"run_id"`
	TeamSize  int        `json:"team_size"`
	Mode      string     `json:"mode"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Teams     []TeamView `json:"teams"`
}

// TeamView is one team with its members.
type TeamView struct {
	ID      int64        `json:"id"`
	Number  int          `json:"team_number"`
	Members []MemberView `json:"members"`
}

// MemberView is one student placed in a team.
type MemberView struct {
	StudentID   int64  `json:"student_id"`
	AttemptID   int64  `json:"attempt_id"`
	StudentName string `json:"student_name"`
	Score       int    `json:"score"`
	Reason      string `json:"reason"`
}

// MemberCount returns the total number of members across all teams.
func (l TeamLayout) MemberCount() int {
	n := 0
	for _, t := range l.Teams {
		n += len(t.Members)
	}
	return n
}
