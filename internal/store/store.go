package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/teamexam/internal/grading"
	"github.com/pavelanni/teamexam/internal/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAttemptExists is returned when a student starts a second attempt.
	ErrAttemptExists = errors.New("attempt already exists for student")
	// ErrAlreadySubmitted is returned when an attempt is no longer in progress.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'student',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		category TEXT NOT NULL CHECK (category IN ('cs', 'collab', 'ai')),
		prompt TEXT NOT NULL,
		choice_a TEXT NOT NULL,
		choice_b TEXT NOT NULL,
		choice_c TEXT NOT NULL,
		answer TEXT NOT NULL CHECK (answer IN ('A', 'B', 'C'))
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'in_progress',
		total_score INTEGER,
		cs_score INTEGER,
		collab_score INTEGER,
		ai_score INTEGER,
		report_md TEXT,
		created_at DATETIME NOT NULL,
		submitted_at DATETIME,
		FOREIGN KEY (student_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS responses (
		attempt_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		selected TEXT NOT NULL,
		is_correct INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (attempt_id, question_id),
		FOREIGN KEY (attempt_id) REFERENCES attempts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS team_runs (
		id TEXT PRIMARY KEY,
		team_size INTEGER NOT NULL,
		mode TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS teams (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		team_no INTEGER NOT NULL,
		UNIQUE (run_id, team_no),
		FOREIGN KEY (run_id) REFERENCES team_runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS team_members (
		team_id INTEGER NOT NULL,
		student_id INTEGER NOT NULL,
		attempt_id INTEGER NOT NULL,
		position INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (team_id, student_id),
		FOREIGN KEY (team_id) REFERENCES teams(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertQuestion stores a question.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO questions (category, prompt, choice_a, choice_b, choice_c, answer)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.Category, q.Prompt, q.ChoiceA, q.ChoiceB, q.ChoiceC, q.Answer,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const questionColumns = `id, category, prompt, choice_a, choice_b, choice_c, answer`

// ListQuestions returns questions ordered by ID. A limit of zero or less returns all.
func (s *Store) ListQuestions(limit int) ([]model.Question, error) {
	query := `SELECT ` + questionColumns + ` FROM questions ORDER BY id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return scanQuestions(rows)
}

// GetQuestions returns the questions with the given IDs. Unknown IDs are skipped.
func (s *Store) GetQuestions(ids []int64) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.Query(
		`SELECT `+questionColumns+` FROM questions WHERE id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	return scanQuestions(rows)
}

func scanQuestions(rows *sql.Rows) ([]model.Question, error) {
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.Category, &q.Prompt, &q.ChoiceA, &q.ChoiceB, &q.ChoiceC, &q.Answer); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// QuestionCount returns the number of questions in the database.
func (s *Store) QuestionCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count)
	return count, err
}

// CreateAttempt starts the only attempt a student may have.
func (s *Store) CreateAttempt(studentID int64) (*model.Attempt, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO attempts (student_id, status, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(student_id) DO NOTHING`,
		studentID, model.StatusInProgress, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrAttemptExists
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.Attempt{ID: id, StudentID: studentID, Status: model.StatusInProgress, CreatedAt: now}, nil
}

const attemptColumns = `id, student_id, status, total_score, cs_score, collab_score, ai_score, report_md, created_at, submitted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner, extra ...any) (*model.Attempt, error) {
	var a model.Attempt
	var total, cs, collab, ai sql.NullInt64
	var report sql.NullString
	var submitted sql.NullTime
	dest := append([]any{&a.ID, &a.StudentID, &a.Status, &total, &cs, &collab, &ai, &report, &a.CreatedAt, &submitted}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	a.TotalScore = intPtr(total)
	a.CSScore = intPtr(cs)
	a.CollabScore = intPtr(collab)
	a.AIScore = intPtr(ai)
	if report.Valid {
		a.ReportMD = &report.String
	}
	if submitted.Valid {
		a.SubmittedAt = &submitted.Time
	}
	return &a, nil
}

// GetAttempt returns an attempt by ID or ErrNotFound.
func (s *Store) GetAttempt(id int64) (*model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRow(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attempt %d: %w", id, ErrNotFound)
	}
	return a, err
}

// GetAttemptByStudent returns the student's attempt, or nil if they have not started.
func (s *Store) GetAttemptByStudent(studentID int64) (*model.Attempt, error) {
	a, err := scanAttempt(s.db.QueryRow(`SELECT `+attemptColumns+` FROM attempts WHERE student_id = ?`, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// SubmitAttempt stores graded responses and scores in one transaction.
// Only in-progress attempts can be submitted.
func (s *Store) SubmitAttempt(attemptID int64, responses []model.Response, b grading.Breakdown) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status model.AttemptStatus
	err = tx.QueryRow(`SELECT status FROM attempts WHERE id = ?`, attemptID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attempt %d: %w", attemptID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if status != model.StatusInProgress {
		return ErrAlreadySubmitted
	}

	for _, r := range responses {
		_, err := tx.Exec(
			`INSERT INTO responses (attempt_id, question_id, selected, is_correct, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(attempt_id, question_id) DO UPDATE SET selected = excluded.selected,
			   is_correct = excluded.is_correct, created_at = excluded.created_at`,
			attemptID, r.QuestionID, r.Selected, r.IsCorrect, r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert response for question %d: %w", r.QuestionID, err)
		}
	}

	g := b.ToGraded(attemptID, 0)
	_, err = tx.Exec(
		`UPDATE attempts SET status = ?, submitted_at = ?, total_score = ?, cs_score = ?, collab_score = ?, ai_score = ?
		 WHERE id = ?`,
		model.StatusSubmitted, time.Now().UTC(), *g.Score, *g.CSScore, *g.CollabScore, *g.AIScore,
		attemptID,
	)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return tx.Commit()
}

// ListResponses returns an attempt's responses in the order they were recorded.
func (s *Store) ListResponses(attemptID int64) ([]model.Response, error) {
	rows, err := s.db.Query(
		`SELECT attempt_id, question_id, selected, is_correct, created_at
		 FROM responses WHERE attempt_id = ? ORDER BY created_at, question_id`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var responses []model.Response
	for rows.Next() {
		var r model.Response
		if err := rows.Scan(&r.AttemptID, &r.QuestionID, &r.Selected, &r.IsCorrect, &r.CreatedAt); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// SetReport caches the generated report and marks the attempt graded.
func (s *Store) SetReport(attemptID int64, reportMD string) error {
	res, err := s.db.Exec(
		`UPDATE attempts SET report_md = ?, status = ? WHERE id = ? AND status != ?`,
		reportMD, model.StatusGraded, attemptID, model.StatusInProgress,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %d not submitted: %w", attemptID, ErrNotFound)
	}
	return nil
}

// ListAttempts returns every attempt with the student's name, highest score
// first. Attempts without a score sort last.
func (s *Store) ListAttempts() ([]model.AttemptSummary, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.student_id, a.status, a.total_score, a.cs_score, a.collab_score, a.ai_score,
		        a.report_md, a.created_at, a.submitted_at, COALESCE(NULLIF(u.display_name, ''), u.username, '')
		 FROM attempts a LEFT JOIN users u ON u.id = a.student_id
		 ORDER BY a.total_score IS NULL, a.total_score DESC, a.id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AttemptSummary
	for rows.Next() {
		var name string
		a, err := scanAttempt(rows, &name)
		if err != nil {
			return nil, err
		}
		out = append(out, model.AttemptSummary{Attempt: *a, StudentName: name})
	}
	return out, rows.Err()
}

// ListGradedAttempts returns submitted attempts as team matching input, in
// submission order so that ties resolve the same way on every run.
func (s *Store) ListGradedAttempts() ([]model.GradedAttempt, error) {
	rows, err := s.db.Query(
		`SELECT a.id, a.student_id, COALESCE(NULLIF(u.display_name, ''), u.username, ''),
		        a.total_score, a.cs_score, a.collab_score, a.ai_score
		 FROM attempts a LEFT JOIN users u ON u.id = a.student_id
		 WHERE a.status IN (?, ?)
		 ORDER BY a.submitted_at, a.id`,
		model.StatusSubmitted, model.StatusGraded,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.GradedAttempt
	for rows.Next() {
		var g model.GradedAttempt
		var total, cs, collab, ai sql.NullInt64
		if err := rows.Scan(&g.AttemptID, &g.StudentID, &g.StudentName, &total, &cs, &collab, &ai); err != nil {
			return nil, err
		}
		g.Score = intPtr(total)
		g.CSScore = intPtr(cs)
		g.CollabScore = intPtr(collab)
		g.AIScore = intPtr(ai)
		out = append(out, g)
	}
	return out, rows.Err()
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
