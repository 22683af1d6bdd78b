package repository

import (
	"context"
	"fmt"

	"github.com/opentracing/opentracing-go"
	"gorm.io/gorm"

	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/models"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/internal/utils"
)

type ingestStateRepository struct {
	db *gorm.DB
}

func NewIngestStateRepository(db *gorm.DB) interfaces.IngestStateRepository {
	return &ingestStateRepository{db: db}
}

// GetState retrieves the ingest state for a mailbox
func (r *ingestStateRepository) GetState(ctx context.Context, mailbox string) (*models.IngestState, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestStateRepository.GetState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMailbox(span, mailbox)

	var state models.IngestState
	result := r.db.WithContext(ctx).
		Where("mailbox = ?", mailbox).
		First(&state)

	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil // no state yet
		}
		tracing.TraceErr(span, result.Error)
		return nil, fmt.Errorf("failed to get ingest state: %w", result.Error)
	}

	return &state, nil
}

// SaveState upserts the ingest state row for a mailbox
func (r *ingestStateRepository) SaveState(ctx context.Context, state *models.IngestState) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ingestStateRepository.SaveState")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)
	tracing.TagMailbox(span, state.Mailbox)

	state.UpdatedAt = utils.Now()

	// Try to update first
	result := r.db.WithContext(ctx).
		Model(&models.IngestState{}).
		Where("mailbox = ?", state.Mailbox).
		Updates(map[string]interface{}{
			"cursor":        state.Cursor,
			"attempts":      state.Attempts,
			"next_retry_at": state.NextRetryAt,
			"last_error":    state.LastError,
			"updated_at":    state.UpdatedAt,
		})

	// If no record was updated, create a new one
	if result.Error == nil && result.RowsAffected == 0 {
		result = r.db.WithContext(ctx).Create(state)
	}

	if result.Error != nil {
		tracing.TraceErr(span, result.Error)
		return fmt.Errorf("failed to save ingest state: %w", result.Error)
	}

	return nil
}
