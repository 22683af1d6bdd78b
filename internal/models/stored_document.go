package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/invoiceos/docstack/internal/enum"
	"github.com/invoiceos/docstack/internal/utils"
)

// StoredDocument is the dedup index: one row per distinct content hash
// within an owner category. The hash covers raw bytes only, never filename
// or metadata, so byte-identical files from any channel collide here.
type StoredDocument struct {
	ID            string               `gorm:"type:varchar(50);primaryKey"`
	OwnerCategory string               `gorm:"type:varchar(50);not null;uniqueIndex:idx_dedup_hash,priority:1"`
	ContentHash   string               `gorm:"type:varchar(64);not null;uniqueIndex:idx_dedup_hash,priority:2"`
	StorageBucket string               `gorm:"type:varchar(255)"`
	StorageKey    string               `gorm:"type:varchar(1000)"`
	PublicURL     string               `gorm:"type:varchar(2000)"`
	Filename      string               `gorm:"type:varchar(500)"`
	ContentType   string               `gorm:"type:varchar(255)"`
	SizeBytes     int                  `gorm:"default:0"`
	Channel       enum.DocumentChannel `gorm:"type:varchar(20);not null"`
	CreatedAt     time.Time            `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (StoredDocument) TableName() string {
	return "stored_documents"
}

func (d *StoredDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = utils.GenerateNanoIDWithPrefix("doc", 12)
	}
	d.CreatedAt = utils.Now()
	return nil
}
