package storage

import (
	"database/sql"
	"fmt"

	"github.com/berguner/looper/pkg/models"
	"github.com/berguner/looper/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	NamedExec(query string, arg interface{}) (sql.Result, error)
}

// PostgresStore keeps the submission ledger in PostgreSQL.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveSubmission appends one decision to the ledger.
func (s *PostgresStore) SaveSubmission(sub models.Submission) error {
	if sub.ID == "" {
		return fmt.Errorf("save submission: id is required")
	}
	_, err := s.db.NamedExec(`
		INSERT INTO submissions (id, project, sample, pipeline, prior_status, decision, command, error_msg, created_at)
		VALUES (:id, :project, :sample, :pipeline, :prior_status, :decision, :command, :error_msg, :created_at)`,
		sub)
	if err != nil {
		return fmt.Errorf("save submission %s: %w", sub.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetSubmission(id string) (models.Submission, error) {
	var sub models.Submission
	err := s.db.Get(&sub, "SELECT * FROM submissions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Submission{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Submission{}, fmt.Errorf("get submission %s: %w", id, err)
	}
	return sub, nil
}

// ListSubmissions returns matching entries, newest first. Empty filters match everything.
func (s *PostgresStore) ListSubmissions(sample, pipeline string) ([]models.Submission, error) {
	subs := []models.Submission{}
	query := `
		SELECT * FROM submissions
		WHERE ($1 = '' OR sample = $1) AND ($2 = '' OR pipeline = $2)
		ORDER BY created_at DESC`
	if err := s.db.Select(&subs, query, sample, pipeline); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

func (s *PostgresStore) LatestSubmission(sample, pipeline string) (models.Submission, error) {
	var sub models.Submission
	query := `
		SELECT * FROM submissions
		WHERE ($1 = '' OR sample = $1) AND ($2 = '' OR pipeline = $2)
		ORDER BY created_at DESC
		LIMIT 1`
	err := s.db.Get(&sub, query, sample, pipeline)
	if err == sql.ErrNoRows {
		return models.Submission{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Submission{}, fmt.Errorf("latest submission: %w", err)
	}
	return sub, nil
}
