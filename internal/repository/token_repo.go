package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"autoshop-api/internal/model"
)

type TokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Replace deletes every refresh token of the user and stores the new one. The
// user row is locked first so concurrent logins for the same user serialize.
func (r *TokenRepository) Replace(ctx context.Context, userID uint, token string, expiresAt time.Time) (model.RefreshToken, error) {
	record := model.RefreshToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", userID).Delete(&model.RefreshToken{}).Error; err != nil {
			return fmt.Errorf("delete previous refresh tokens: %w", err)
		}

		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return fmt.Errorf("store refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.RefreshToken{}, err
	}

	return record, nil
}

func (r *TokenRepository) Find(ctx context.Context, token string) (model.RefreshToken, error) {
	var record model.RefreshToken
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&record).Error
	if isNotFound(err) {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshToken{}, fmt.Errorf("find refresh token: %w", err)
	}
	return record, nil
}

func (r *TokenRepository) Revoke(ctx context.Context, token string) error {
	if err := r.db.WithContext(ctx).Where("token = ?", token).Delete(&model.RefreshToken{}).Error; err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID uint) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.RefreshToken{}).Error; err != nil {
		return fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	return nil
}

// lockUser takes a row lock on the user for the rest of the transaction.
func lockUser(tx *gorm.DB, userID uint) error {
	query := userLockQuery(tx, userID)
	if query == nil {
		return nil
	}

	var ids []uint
	if err := query.Find(&ids).Error; err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	if len(ids) == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// userLockQuery builds the locking select for the connected engine. sqlite has
// no row locks; its writer lock already serializes transactions. SQL Server
// rejects FOR UPDATE and takes the lock through a table hint instead.
func userLockQuery(tx *gorm.DB, userID uint) *gorm.DB {
	switch tx.Dialector.Name() {
	case "sqlite":
		return nil
	case "sqlserver":
		return tx.Raw("SELECT id FROM users WITH (UPDLOCK, ROWLOCK) WHERE id = ?", userID)
	default:
		return tx.Model(&model.User{}).Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", userID)
	}
}
