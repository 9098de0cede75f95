package storage

import (
	"github.com/berguner/looper/pkg/models"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("not found")

// Store defines the submission ledger operations.
type Store interface {
	// Transaction operations
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Submission operations
	SaveSubmission(s models.Submission) error
	GetSubmission(id string) (models.Submission, error)
	ListSubmissions(sample, pipeline string) ([]models.Submission, error)
	LatestSubmission(sample, pipeline string) (models.Submission, error)
}
