package models

import (
	"time"
)

// IngestState tracks the ingestion cursor and retry backoff for one mailbox.
// One row per mailbox, mutated only by the cycle scheduler, never deleted.
// Invariant: Attempts == 0 exactly when NextRetryAt == nil.
type IngestState struct {
	ID          string     `gorm:"column:id;type:uuid;primaryKey;default:gen_random_uuid()"`
	Mailbox     string     `gorm:"column:mailbox;type:varchar(255);uniqueIndex;not null"`
	Cursor      *uint32    `gorm:"column:cursor"`
	Attempts    int        `gorm:"column:attempts;not null;default:0"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at;type:timestamp"`
	LastError   *string    `gorm:"column:last_error;type:text"`
	CreatedAt   time.Time  `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (IngestState) TableName() string {
	return "ingest_states"
}

// Backoff reports whether the mailbox is still inside its retry window
func (s *IngestState) Backoff(now time.Time) bool {
	return s.NextRetryAt != nil && s.NextRetryAt.After(now)
}
