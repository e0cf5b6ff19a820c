// Package testutil builds throwaway sqlite databases for package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"autoshop-api/internal/database"
	"autoshop-api/internal/repository"
)

// NewDB returns a migrated in-memory database with the default roles seeded.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.OpenSQLite("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(db.Close)

	ctx := context.Background()
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, repository.NewRoleRepository(db.Gorm).EnsureDefaults(ctx))

	return db.Gorm
}
