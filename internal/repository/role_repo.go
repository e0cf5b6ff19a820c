package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"autoshop-api/internal/model"
)

type RoleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// EnsureDefaults creates any missing role from model.DefaultRoles.
func (r *RoleRepository) EnsureDefaults(ctx context.Context) error {
	for _, name := range model.DefaultRoles {
		role := model.Role{Name: name}
		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Create(&role).Error
		if err != nil {
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
	}
	return nil
}

func (r *RoleRepository) List(ctx context.Context) ([]model.Role, error) {
	roles := make([]model.Role, 0, len(model.DefaultRoles))
	if err := r.db.WithContext(ctx).Order("name").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// NamesForUser returns the role names attached to a user, sorted.
func (r *RoleRepository) NamesForUser(ctx context.Context, userID uint) ([]string, error) {
	names := make([]string, 0)
	err := r.db.WithContext(ctx).
		Table("roles").
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.name").
		Pluck("roles.name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("role names for user: %w", err)
	}
	return names, nil
}

// ReplaceForUser swaps the user's role set for the named roles.
func (r *RoleRepository) ReplaceForUser(ctx context.Context, userID uint, names []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roles, err := rolesByName(tx, names)
		if err != nil {
			return err
		}

		user := model.User{ID: userID}
		if err := tx.Model(&user).Association("Roles").Replace(roles); err != nil {
			return fmt.Errorf("replace roles: %w", err)
		}
		return nil
	})
}

func rolesByName(tx *gorm.DB, names []string) ([]model.Role, error) {
	if len(names) == 0 {
		return []model.Role{}, nil
	}

	roles := make([]model.Role, 0, len(names))
	if err := tx.Where("name IN ?", names).Order("name").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("find roles: %w", err)
	}

	found := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		found[role.Name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := found[name]; !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrRoleNotFound, name)
		}
	}

	return roles, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
