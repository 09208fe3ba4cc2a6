package helpers

import (
	"testing"

	"gorm.io/gorm"

	"github.com/andrescamacho/spacetraders-go/internal/infrastructure/database"
)

// NewTestDB creates an in-memory SQLite database, migrated and ready, for
// tests exercising the persistence layer.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewTestConnection()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		database.Close(db)
	})
	return db
}
