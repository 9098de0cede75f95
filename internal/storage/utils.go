package storage

import (
	"github.com/berguner/looper/pkg/storage"
)

// InitStore opens the ledger named by dbConnStr, or an in-memory ledger that
// lives for the process when dbConnStr is empty.
func InitStore(dbConnStr string) (storage.Store, error) {
	if dbConnStr == "" {
		return storage.NewMemoryStore(), nil
	}
	store, err := NewPostgresStore(dbConnStr)
	if err != nil {
		return nil, err
	}
	return store, nil
}
