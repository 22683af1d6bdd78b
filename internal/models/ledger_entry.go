package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/invoiceos/docstack/internal/enum"
	"github.com/invoiceos/docstack/internal/utils"
)

// LedgerEntry is the idempotency record for one attachment attempt.
// Identity is (mailbox, message_id, attachment_index); the unique index,
// not re-insertion, enforces at-most-once. Terminal rows never change;
// a failed row may be superseded by a later retry.
type LedgerEntry struct {
	ID               string             `gorm:"type:varchar(50);primaryKey"`
	Mailbox          string             `gorm:"type:varchar(255);not null;uniqueIndex:idx_ledger_identity,priority:1"`
	MessageID        string             `gorm:"type:varchar(998);not null;uniqueIndex:idx_ledger_identity,priority:2"`
	AttachmentIndex  int                `gorm:"not null;uniqueIndex:idx_ledger_identity,priority:3"`
	MessageUID       uint32             `gorm:"column:message_uid;index"`
	ContentHash      *string            `gorm:"type:varchar(64);index"`
	StoredDocumentID *string            `gorm:"type:varchar(50)"`
	LinkedRecordID   *string            `gorm:"type:varchar(50)"`
	Outcome          enum.LedgerOutcome `gorm:"type:varchar(20);not null"`
	Error            *string            `gorm:"type:text"`
	CreatedAt        time.Time          `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
}

func (LedgerEntry) TableName() string {
	return "ingest_ledger_entries"
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = utils.GenerateNanoIDWithPrefix("ldgr", 16)
	}
	e.CreatedAt = utils.Now()
	return nil
}

// Terminal reports whether this attempt reached a terminal outcome; only
// non-terminal attempts are eligible for a fresh entry on retry.
func (e *LedgerEntry) Terminal() bool {
	return e.Outcome == enum.LedgerOutcomeProcessed || e.Outcome == enum.LedgerOutcomeDuplicate
}
