package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"autoshop-api/internal/model"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Log(ctx context.Context, entry model.AuditEntry) error {
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("log audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}

	q := r.db.WithContext(ctx).Model(&model.AuditEntry{})
	if action := strings.TrimSpace(query.Action); action != "" {
		q = q.Where("lower(action) = ?", strings.ToLower(action))
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		q = q.Where("lower(status) = ?", strings.ToLower(status))
	}
	if query.UserID != 0 {
		q = q.Where("user_id = ?", query.UserID)
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, model.Meta{}, fmt.Errorf("count audit entries: %w", err)
	}

	items := make([]model.AuditEntry, 0, query.Limit)
	err := q.Order("created_at DESC").Order("id DESC").
		Offset((query.Page - 1) * query.Limit).
		Limit(query.Limit).
		Find(&items).Error
	if err != nil {
		return nil, model.Meta{}, fmt.Errorf("query audit entries: %w", err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (int(total) + query.Limit - 1) / query.Limit
	}

	meta := model.Meta{Page: query.Page, Limit: query.Limit, Total: int(total), TotalPages: totalPages}
	return items, meta, nil
}
