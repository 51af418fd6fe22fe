package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/teamexam/internal/model"
	"github.com/pavelanni/teamexam/internal/team"
)

// SaveTeamRun stores r as the team layout. Only one layout is kept: an existing
// run keeps its ID and creation time and has its teams replaced.
func (s *Store) SaveTeamRun(teamSize int, mode team.Mode, r *team.Result) (string, error) {
	if r == nil || r.TeamCount <= 0 {
		return "", team.ErrNoAttempts
	}

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var runID string
	err = tx.QueryRow(`SELECT id FROM team_runs ORDER BY created_at DESC LIMIT 1`).Scan(&runID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		runID = uuid.NewString()
		_, err = tx.Exec(
			`INSERT INTO team_runs (id, team_size, mode, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			runID, teamSize, mode, now, now,
		)
		if err != nil {
			return "", fmt.Errorf("insert team run: %w", err)
		}
	case err != nil:
		return "", err
	default:
		if _, err := tx.Exec(
			`UPDATE team_runs SET team_size = ?, mode = ?, updated_at = ? WHERE id = ?`,
			teamSize, mode, now, runID,
		); err != nil {
			return "", fmt.Errorf("update team run: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM team_members WHERE team_id IN (SELECT id FROM teams WHERE run_id = ?)`, runID); err != nil {
			return "", fmt.Errorf("clear team members: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM teams WHERE run_id = ?`, runID); err != nil {
			return "", fmt.Errorf("clear teams: %w", err)
		}
	}
	// Stale runs from older versions of the layout.
	if _, err := tx.Exec(`DELETE FROM team_runs WHERE id != ?`, runID); err != nil {
		return "", fmt.Errorf("clear old runs: %w", err)
	}

	teamIDs := make([]int64, r.TeamCount)
	for i := range teamIDs {
		res, err := tx.Exec(`INSERT INTO teams (run_id, team_no) VALUES (?, ?)`, runID, i+1)
		if err != nil {
			return "", fmt.Errorf("insert team %d: %w", i+1, err)
		}
		if teamIDs[i], err = res.LastInsertId(); err != nil {
			return "", err
		}
	}

	for pos, a := range r.Assignments {
		if a.TeamIndex < 0 || a.TeamIndex >= r.TeamCount {
			return "", fmt.Errorf("%w: student %d in team %d", team.ErrTeamOutOfRange, a.StudentID, a.TeamIndex)
		}
		_, err := tx.Exec(
			`INSERT INTO team_members (team_id, student_id, attempt_id, position, reason) VALUES (?, ?, ?, ?, ?)`,
			teamIDs[a.TeamIndex], a.StudentID, a.AttemptID, pos, a.Reason,
		)
		if err != nil {
			return "", fmt.Errorf("insert member %d: %w", a.StudentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	slog.Info("saved team run", "run_id", runID, "teams", r.TeamCount, "members", len(r.Assignments), "mode", mode)
	return runID, nil
}

// LatestTeamRun returns the saved layout with member names and scores, or nil
// if no layout has been saved.
func (s *Store) LatestTeamRun() (*model.TeamLayout, error) {
	var l model.TeamLayout
	err := s.db.QueryRow(
		`SELECT id, team_size, mode, created_at, updated_at FROM team_runs ORDER BY created_at DESC LIMIT 1`,
	).Scan(&l.RunID, &l.TeamSize, &l.Mode, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT t.id, t.team_no, m.student_id, m.attempt_id, m.reason,
		        COALESCE(NULLIF(u.display_name, ''), u.username, ''), COALESCE(a.total_score, 0)
		 FROM teams t
		 LEFT JOIN team_members m ON m.team_id = t.id
		 LEFT JOIN users u ON u.id = m.student_id
		 LEFT JOIN attempts a ON a.id = m.attempt_id
		 WHERE t.run_id = ?
		 ORDER BY t.team_no, m.position`, l.RunID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var teamID int64
		var teamNo, score int
		var studentID, attemptID sql.NullInt64
		var reason sql.NullString
		var name string
		if err := rows.Scan(&teamID, &teamNo, &studentID, &attemptID, &reason, &name, &score); err != nil {
			return nil, err
		}
		if n := len(l.Teams); n == 0 || l.Teams[n-1].ID != teamID {
			l.Teams = append(l.Teams, model.TeamView{ID: teamID, Number: teamNo, Members: []model.MemberView{}})
		}
		if !studentID.Valid {
			continue
		}
		cur := &l.Teams[len(l.Teams)-1]
		cur.Members = append(cur.Members, model.MemberView{
			StudentID:   studentID.Int64,
			AttemptID:   attemptID.Int64,
			StudentName: name,
			Score:       score,
			Reason:      reason.String,
		})
	}
	return &l, rows.Err()
}

// MoveTeamMember moves a student to team number toTeamNo (1-based) within
// the saved run and returns the updated assignment result.
func (s *Store) MoveTeamMember(runID string, studentID int64, toTeamNo int, ex team.Explainer) (*team.Result, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := loadResult(tx, runID)
	if err != nil {
		return nil, err
	}
	moved, err := team.MoveWith(current, studentID, toTeamNo-1, ex)
	if err != nil {
		return nil, err
	}
	a, _ := moved.Find(studentID)

	_, err = tx.Exec(
		`UPDATE team_members
		 SET team_id = (SELECT id FROM teams WHERE run_id = ? AND team_no = ?), reason = ?
		 WHERE student_id = ? AND team_id IN (SELECT id FROM teams WHERE run_id = ?)`,
		runID, a.TeamIndex+1, a.Reason, studentID, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("move member: %w", err)
	}
	if _, err := tx.Exec(`UPDATE team_runs SET updated_at = ? WHERE id = ?`, time.Now().UTC(), runID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	slog.Info("moved team member", "run_id", runID, "student_id", studentID, "to_team", toTeamNo)
	return moved, nil
}

func loadResult(tx *sql.Tx, runID string) (*team.Result, error) {
	var r team.Result
	err := tx.QueryRow(`SELECT COUNT(*) FROM teams WHERE run_id = ?`, runID).Scan(&r.TeamCount)
	if err != nil {
		return nil, err
	}
	if r.TeamCount == 0 {
		return nil, fmt.Errorf("team run %q: %w", runID, ErrNotFound)
	}

	rows, err := tx.Query(
		`SELECT t.team_no, m.student_id, m.attempt_id, m.reason
		 FROM team_members m JOIN teams t ON t.id = m.team_id
		 WHERE t.run_id = ?
		 ORDER BY m.position`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a team.Assignment
		var teamNo int
		if err := rows.Scan(&teamNo, &a.StudentID, &a.AttemptID, &a.Reason); err != nil {
			return nil, err
		}
		a.TeamIndex = teamNo - 1
		r.Assignments = append(r.Assignments, a)
	}
	return &r, rows.Err()
}
