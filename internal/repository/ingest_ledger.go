package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/models"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/internal/utils"
)

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) interfaces.LedgerRepository {
	return &ledgerRepository{db: db}
}

// GetByIdentity retrieves the entry for one attachment attempt identity
func (r *ledgerRepository) GetByIdentity(ctx context.Context, mailbox, messageID string, attachmentIndex int) (*models.LedgerEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ledgerRepository.GetByIdentity")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMailbox(span, mailbox)

	var entry models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("mailbox = ? AND message_id = ? AND attachment_index = ?", mailbox, messageID, attachmentIndex).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}

// FindForMessage looks for any prior entry for the message, matching either
// the message id or the uid. Both keys are checked so a message that lost
// its Message-ID header on a later fetch is still recognized.
func (r *ledgerRepository) FindForMessage(ctx context.Context, mailbox, messageID string, uid uint32) (*models.LedgerEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ledgerRepository.FindForMessage")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMailbox(span, mailbox)

	query := r.db.WithContext(ctx).Where("mailbox = ?", mailbox)
	if messageID != "" {
		query = query.Where("message_id = ? OR message_uid = ?", messageID, uid)
	} else {
		query = query.Where("message_uid = ?", uid)
	}

	var entry models.LedgerEntry
	err := query.Order("created_at DESC").First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to find ledger entry: %w", err)
	}
	return &entry, nil
}

// Record inserts the ledger entry for one attempt. Terminal entries are
// immutable; a prior failed entry for the same identity is superseded by
// the retry's outcome. A conflict with a terminal entry is ErrAlreadyExists.
func (r *ledgerRepository) Record(ctx context.Context, entry *models.LedgerEntry) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ledgerRepository.Record")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMailbox(span, entry.Mailbox)

	err := r.db.WithContext(ctx).Create(entry).Error
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	var existing models.LedgerEntry
	findErr := r.db.WithContext(ctx).
		Where("mailbox = ? AND message_id = ? AND attachment_index = ?",
			entry.Mailbox, entry.MessageID, entry.AttachmentIndex).
		First(&existing).Error
	if findErr != nil {
		tracing.TraceErr(span, findErr)
		return fmt.Errorf("failed to load conflicting ledger entry: %w", findErr)
	}
	if existing.Terminal() {
		return ErrAlreadyExists
	}

	updates := map[string]interface{}{
		"message_uid":        entry.MessageUID,
		"content_hash":       entry.ContentHash,
		"stored_document_id": entry.StoredDocumentID,
		"linked_record_id":   entry.LinkedRecordID,
		"outcome":            entry.Outcome,
		"error":              entry.Error,
		"created_at":         utils.Now(),
	}
	if err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to supersede ledger entry: %w", err)
	}
	entry.ID = existing.ID
	return nil
}

// ListRecent returns the newest entries for a mailbox
func (r *ledgerRepository) ListRecent(ctx context.Context, mailbox string, limit int) ([]*models.LedgerEntry, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ledgerRepository.ListRecent")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMailbox(span, mailbox)

	var entries []*models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("mailbox = ?", mailbox).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}
