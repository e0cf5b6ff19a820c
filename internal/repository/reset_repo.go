package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"autoshop-api/internal/model"
)

type ResetTokenRepository struct {
	db *gorm.DB
}

func NewResetTokenRepository(db *gorm.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Replace drops the user's unused reset tokens and stores a fresh one.
func (r *ResetTokenRepository) Replace(ctx context.Context, userID uint, token string, expiresAt time.Time) (model.PasswordResetToken, error) {
	record := model.PasswordResetToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND used = ?", userID, false).Delete(&model.PasswordResetToken{}).Error; err != nil {
			return fmt.Errorf("delete previous reset tokens: %w", err)
		}
		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return fmt.Errorf("store reset token: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.PasswordResetToken{}, err
	}

	return record, nil
}

func (r *ResetTokenRepository) FindUnused(ctx context.Context, token string) (model.PasswordResetToken, error) {
	var record model.PasswordResetToken
	err := r.db.WithContext(ctx).Where("token = ? AND used = ?", token, false).First(&record).Error
	if isNotFound(err) {
		return model.PasswordResetToken{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.PasswordResetToken{}, fmt.Errorf("find reset token: %w", err)
	}
	return record, nil
}

func (r *ResetTokenRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.PasswordResetToken{}, id).Error; err != nil {
		return fmt.Errorf("delete reset token: %w", err)
	}
	return nil
}

// Consume stores the new password hash and marks the token used in one
// transaction. It fails with ErrTokenNotFound if the token was consumed
// concurrently.
func (r *ResetTokenRepository) Consume(ctx context.Context, record model.PasswordResetToken, passwordHash string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.PasswordResetToken{}).
			Where("id = ? AND used = ?", record.ID, false).
			UpdateColumn("used", true)
		if res.Error != nil {
			return fmt.Errorf("mark reset token used: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrTokenNotFound
		}

		res = tx.Model(&model.User{}).Where("id = ?", record.UserID).UpdateColumns(map[string]any{
			"password":   passwordHash,
			"updated_at": time.Now().UTC(),
		})
		if res.Error != nil {
			return fmt.Errorf("update password: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrUserNotFound
		}
		return nil
	})
}
