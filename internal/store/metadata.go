package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/teamexam/internal/model"
)

// GetImportedFileHash returns the content hash recorded for an imported
// question file. It returns an empty string if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// ImportQuestions inserts questions and records the source file hash in one transaction.
func (s *Store) ImportQuestions(source, hash string, questions []model.Question) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, q := range questions {
		_, err := tx.Exec(
			`INSERT INTO questions (category, prompt, choice_a, choice_b, choice_c, answer)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			q.Category, q.Prompt, q.ChoiceA, q.ChoiceB, q.ChoiceC, q.Answer,
		)
		if err != nil {
			return fmt.Errorf("insert question %d: %w", i+1, err)
		}
	}
	_, err = tx.Exec(
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		source, hash, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return tx.Commit()
}
