package model

import "time"

const (
	AuditStatusSuccess = "success"
	AuditStatusFailure = "failure"
)

type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Action    string    `gorm:"size:64;not null;index" json:"action"`
	Status    string    `gorm:"size:16;not null" json:"status"`
	UserID    *uint     `gorm:"index" json:"userId,omitempty"`
	Username  string    `gorm:"size:255" json:"username,omitempty"`
	IP        string    `gorm:"size:64" json:"ip,omitempty"`
	Detail    string    `gorm:"size:512" json:"detail,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}
