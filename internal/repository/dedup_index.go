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
)

type dedupIndexRepository struct {
	db *gorm.DB
}

func NewDedupIndexRepository(db *gorm.DB) interfaces.DedupIndexRepository {
	return &dedupIndexRepository{db: db}
}

// GetByHash retrieves the stored document for a content hash within a category
func (r *dedupIndexRepository) GetByHash(ctx context.Context, ownerCategory, contentHash string) (*models.StoredDocument, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dedupIndexRepository.GetByHash")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	var doc models.StoredDocument
	err := r.db.WithContext(ctx).
		Where("owner_category = ? AND content_hash = ?", ownerCategory, contentHash).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to get dedup entry: %w", err)
	}
	return &doc, nil
}

// Create inserts the dedup index row. A concurrent identical upload loses
// the race here and gets ErrAlreadyExists; callers treat that as "someone
// else already stored this", not as a failure.
func (r *dedupIndexRepository) Create(ctx context.Context, doc *models.StoredDocument) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "dedupIndexRepository.Create")
	defer span.Finish()
	tracing.TagComponentPostgresRepository(span)

	if err := r.db.WithContext(ctx).Create(doc).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		tracing.TraceErr(span, err)
		return fmt.Errorf("failed to create dedup entry: %w", err)
	}
	return nil
}
