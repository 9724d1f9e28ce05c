package domain

import "time"

type Identity struct {
	ID        string       `gorm:"type:varchar(36);primaryKey"`
	State     PairingState `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time    `gorm:"not null;autoUpdateTime"`
}

// StagedFile is one uploaded file waiting under its owner's identifier.
// Delivered flips once a listing poll or a retrieval has surfaced it.
type StagedFile struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	OwnerID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_staged_owner_key,priority:1;uniqueIndex:idx_staged_owner_name,priority:1;index:idx_staged_owner_delivered,priority:1"`
	DisplayName string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_staged_owner_name,priority:2"`
	ContentKey  string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_staged_owner_key,priority:2"`
	Size        int64     `gorm:"not null"`
	MimeType    string    `gorm:"type:varchar(127);not null;default:'application/octet-stream'"`
	Delivered   bool      `gorm:"not null;default:false;index:idx_staged_owner_delivered,priority:2"`
	CreatedAt   time.Time `gorm:"not null"`
}
