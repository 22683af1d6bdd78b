package interfaces

import (
	"context"

	"github.com/invoiceos/docstack/internal/models"
)

type IngestStateRepository interface {
	// GetState returns the state row for a mailbox, or nil when none exists
	GetState(ctx context.Context, mailbox string) (*models.IngestState, error)
	// SaveState upserts the state row keyed by mailbox
	SaveState(ctx context.Context, state *models.IngestState) error
}

type LedgerRepository interface {
	// GetByIdentity returns the entry for (mailbox, messageID, attachmentIndex), or nil
	GetByIdentity(ctx context.Context, mailbox, messageID string, attachmentIndex int) (*models.LedgerEntry, error)
	// FindForMessage returns any entry matching the message by id or by uid, or nil.
	// Used for the skip-before-attempt check.
	FindForMessage(ctx context.Context, mailbox, messageID string, uid uint32) (*models.LedgerEntry, error)
	// Record inserts the entry for an attempt. A prior non-terminal (failed)
	// entry for the same identity is superseded; a prior terminal entry is
	// left untouched and ErrAlreadyExists is returned.
	Record(ctx context.Context, entry *models.LedgerEntry) error
	// ListRecent returns the newest entries for a mailbox, for the status surface
	ListRecent(ctx context.Context, mailbox string, limit int) ([]*models.LedgerEntry, error)
}

type DedupIndexRepository interface {
	// GetByHash returns the stored document for (ownerCategory, contentHash), or nil
	GetByHash(ctx context.Context, ownerCategory, contentHash string) (*models.StoredDocument, error)
	// Create inserts the index row; returns ErrAlreadyExists when another
	// writer stored the same (ownerCategory, contentHash) first
	Create(ctx context.Context, doc *models.StoredDocument) error
}
