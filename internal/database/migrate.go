package database

import (
	"context"
	"fmt"
	"log/slog"

	"autoshop-api/internal/model"
)

var requiredTables = []string{
	"users",
	"roles",
	"user_roles",
	"refresh_tokens",
	"password_reset_tokens",
	"audit_entries",
}

func (db *DB) EnsureSchema(ctx context.Context) error {
	if db == nil || db.Gorm == nil {
		return fmt.Errorf("database is not initialized")
	}

	gdb := db.Gorm.WithContext(ctx)
	if err := gdb.AutoMigrate(
		&model.User{},
		&model.Role{},
		&model.RefreshToken{},
		&model.PasswordResetToken{},
		&model.AuditEntry{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	migrator := gdb.Migrator()
	for _, table := range requiredTables {
		if !migrator.HasTable(table) {
			return fmt.Errorf("schema initialization incomplete: table %s is missing", table)
		}
	}

	slog.Info("database schema ensured", "engine", db.Gorm.Dialector.Name())
	return nil
}
