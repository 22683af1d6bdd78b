package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/invoiceos/docstack/config"
	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/enum"
	docerrors "github.com/invoiceos/docstack/internal/errors"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/models"
	"github.com/invoiceos/docstack/internal/repository"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/internal/utils"
)

// MessageSample is a lightweight trace of one handled message, kept in
// memory for the status surface.
type MessageSample struct {
	UID       uint32    `json:"uid"`
	MessageID string    `json:"messageId"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Outcome   string    `json:"outcome"`
	SeenAt    time.Time `json:"seenAt"`
}

// BatchResult summarizes one batch-processor run
type BatchResult struct {
	Attempted int
	Processed int
	Skipped   int
	Failed    int
	NewCursor *uint32
	Errors    []string
	Samples   []MessageSample
}

// BatchProcessor runs one pass over the mailbox: list new messages, pick
// one attachment per message, upload anything not seen before, and write
// the ledger. All mailbox access is read-only.
type BatchProcessor struct {
	dialer    interfaces.MailDialer
	ledger    interfaces.LedgerRepository
	dedup     interfaces.DedupIndexRepository
	storage   interfaces.DocumentStorage
	records   interfaces.RecordService
	publisher interfaces.EventPublisher
	fetcher   *PartFetcher
	cfg       *config.IngestConfig
	mailbox   string
	log       logger.Logger
}

func NewBatchProcessor(
	dialer interfaces.MailDialer,
	ledger interfaces.LedgerRepository,
	dedup interfaces.DedupIndexRepository,
	storage interfaces.DocumentStorage,
	records interfaces.RecordService,
	publisher interfaces.EventPublisher,
	cfg *config.IngestConfig,
	mailbox string,
	log logger.Logger,
) *BatchProcessor {
	return &BatchProcessor{
		dialer:    dialer,
		ledger:    ledger,
		dedup:     dedup,
		storage:   storage,
		records:   records,
		publisher: publisher,
		fetcher:   NewPartFetcher(cfg.MaxAttachmentBytes, log),
		cfg:       cfg,
		mailbox:   mailbox,
		log:       log,
	}
}

// Run executes one batch starting after cursor. The returned result always
// carries whatever counts and cursor movement happened before an abort; a
// non-nil error means the batch itself failed and the mailbox should back off.
func (p *BatchProcessor) Run(ctx context.Context, cursor *uint32) (*BatchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "BatchProcessor.Run")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, p.mailbox)

	result := &BatchResult{NewCursor: cursor}

	sess, err := p.dialer.Open(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}
	defer func() {
		sess.Close()
	}()

	uids, err := sess.SearchAll(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	window := selectWindow(uids, cursor, p.cfg.ScanLimit)
	span.SetTag("window.size", len(window))
	if len(window) == 0 {
		return result, nil
	}

	deadline := time.Now().Add(time.Duration(p.cfg.CycleBudgetSeconds) * time.Second)
	retries := &retryPolicy{maxRetries: 1}

	for _, uid := range window {
		if p.cfg.MaxAttempts > 0 && result.Attempted >= p.cfg.MaxAttempts {
			p.log.Warnf("[%s] Attempt cap reached after %d of %d messages", p.mailbox, result.Attempted, len(window))
			break
		}
		if time.Now().After(deadline) {
			p.log.Warnf("[%s] Batch budget exhausted after %d of %d messages", p.mailbox, result.Attempted, len(window))
			break
		}

		// Cursor moves on attempt, not on success; a poisoned message is
		// never revisited by the scan
		result.Attempted++
		result.NewCursor = maxCursor(result.NewCursor, uid)

		meta, err := sess.FetchMetadata(ctx, uid)
		if err != nil {
			// Metadata failures mean the connection cannot be trusted
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			wrapped := errors.Wrapf(docerrors.ErrMetadataFetch, "uid %d: %v", uid, err)
			tracing.TraceErr(span, wrapped)
			return result, wrapped
		}

		sample := MessageSample{
			UID:       uid,
			MessageID: meta.MessageID,
			From:      meta.From,
			Subject:   meta.Subject,
			SeenAt:    utils.Now(),
		}

		prior, err := p.ledger.FindForMessage(ctx, p.mailbox, meta.MessageID, uid)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if prior != nil && prior.Terminal() {
			result.Skipped++
			sample.Outcome = prior.Outcome.String()
			result.Samples = append(result.Samples, sample)
			continue
		}

		part, data, fetchErr := p.selectAndFetch(ctx, &sess, retries, uid, meta)
		if fetchErr != nil {
			result.Failed++
			result.Errors = append(result.Errors, fetchErr.Error())
			sample.Outcome = enum.LedgerOutcomeFailed.String()
			result.Samples = append(result.Samples, sample)
			p.recordOutcome(ctx, meta, partIndex(part), enum.LedgerOutcomeFailed, nil, nil, nil, fetchErr)
			if errors.Is(fetchErr, docerrors.ErrFetchTimeout) {
				// Two timeouts in a row: the connection is degraded, stop
				tracing.TraceErr(span, fetchErr)
				return result, fetchErr
			}
			continue
		}
		if part == nil {
			result.Skipped++
			sample.Outcome = "no-attachment"
			result.Samples = append(result.Samples, sample)
			if meta.BodyStructure != nil {
				p.log.Debugf("[%s] uid %d has no eligible attachment (%s)", p.mailbox, uid, SummarizeTree(meta.BodyStructure))
			}
			continue
		}

		outcome := p.ingestAttachment(ctx, meta, part, data, result)
		sample.Outcome = outcome.String()
		result.Samples = append(result.Samples, sample)
	}

	span.SetTag("result.attempted", result.Attempted)
	span.SetTag("result.processed", result.Processed)
	span.SetTag("result.skipped", result.Skipped)
	span.SetTag("result.failed", result.Failed)
	return result, nil
}

// ingestAttachment hashes, dedups, uploads and records one attachment.
// Returns the ledger outcome it settled on.
func (p *BatchProcessor) ingestAttachment(ctx context.Context, meta *interfaces.MessageMetadata, part *SelectedPart, data []byte, result *BatchResult) enum.LedgerOutcome {
	span, ctx := opentracing.StartSpanFromContext(ctx, "BatchProcessor.ingestAttachment")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagMailbox(span, p.mailbox)
	span.SetTag("uid", meta.UID)

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	span.SetTag("content.hash", hash)

	existing, err := p.dedup.GetByHash(ctx, p.cfg.OwnerCategory, hash)
	if err != nil {
		tracing.TraceErr(span, err)
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		p.recordOutcome(ctx, meta, part.Index, enum.LedgerOutcomeFailed, &hash, nil, nil, err)
		return enum.LedgerOutcomeFailed
	}
	if existing != nil {
		result.Skipped++
		p.recordOutcome(ctx, meta, part.Index, enum.LedgerOutcomeDuplicate, &hash, &existing.ID, nil, nil)
		return enum.LedgerOutcomeDuplicate
	}

	stored, err := p.storage.Store(ctx, data, part.MIMEType, part.Filename)
	if err != nil {
		// Another worker may have stored the same bytes while we failed;
		// re-check before declaring the attachment failed
		if winner, recheckErr := p.dedup.GetByHash(ctx, p.cfg.OwnerCategory, hash); recheckErr == nil && winner != nil {
			result.Skipped++
			p.recordOutcome(ctx, meta, part.Index, enum.LedgerOutcomeDuplicate, &hash, &winner.ID, nil, nil)
			return enum.LedgerOutcomeDuplicate
		}
		tracing.TraceErr(span, err)
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		p.recordOutcome(ctx, meta, part.Index, enum.LedgerOutcomeFailed, &hash, nil, nil, err)
		return enum.LedgerOutcomeFailed
	}

	doc := &models.StoredDocument{
		OwnerCategory: p.cfg.OwnerCategory,
		ContentHash:   hash,
		StorageBucket: stored.Bucket,
		StorageKey:    stored.Key,
		PublicURL:     stored.URL,
		Filename:      part.Filename,
		ContentType:   part.MIMEType,
		SizeBytes:     len(data),
		Channel:       enum.DocumentChannelEmail,
	}
	if err := p.dedup.Create(ctx, doc); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// Lost the uniqueness race: the other writer's row wins
			winner, getErr := p.dedup.GetByHash(ctx, p.cfg.OwnerCategory, hash)
			if getErr == nil && winner != nil {
				result.Skipped++
				p.recordOutcome(ctx, meta, part.Index, enum.LedgerOutcomeDuplicate, &hash, &winner.ID, nil, nil)
				return enum.LedgerOutcomeDuplicate
			}
		}
		tracing.TraceErr(span, err)
		result.Failed++
		result.Errors = append(result.Errors, err.Error())
		p.recordOutcome(ctx, meta, part.Index, enum.LedgerOutcomeFailed, &hash, nil, nil, err)
		return enum.LedgerOutcomeFailed
	}

	linkedID := p.createLinkedRecord(ctx, meta, doc)

	if p.publisher != nil {
		event := interfaces.DocumentIngestedEvent{
			Mailbox:          p.mailbox,
			MessageID:        meta.MessageID,
			StoredDocumentID: doc.ID,
			ContentHash:      hash,
			Filename:         doc.Filename,
			ContentType:      doc.ContentType,
			SizeBytes:        doc.SizeBytes,
		}
		if err := p.publisher.PublishDocumentIngested(ctx, event); err != nil {
			p.log.Warnf("[%s] Failed to publish ingested event for %s: %v", p.mailbox, doc.ID, err)
		}
	}

	result.Processed++
	p.recordOutcome(ctx, meta, part.Index, enum.LedgerOutcomeProcessed, &hash, &doc.ID, linkedID, nil)
	p.log.Infof("[%s] Stored %s (%s, %d bytes) as %s", p.mailbox, doc.Filename, doc.ContentType, doc.SizeBytes, doc.ID)
	return enum.LedgerOutcomeProcessed
}

// createLinkedRecord is best effort: the document is already durable, so a
// record-store outage must not turn a stored document into a failed one.
func (p *BatchProcessor) createLinkedRecord(ctx context.Context, meta *interfaces.MessageMetadata, doc *models.StoredDocument) *string {
	if p.records == nil {
		return nil
	}
	fields := interfaces.RecordFields{
		"source":      enum.DocumentChannelEmail.String(),
		"mailbox":     p.mailbox,
		"messageId":   meta.MessageID,
		"sender":      meta.From,
		"subject":     meta.Subject,
		"documentId":  doc.ID,
		"documentUrl": doc.PublicURL,
		"filename":    doc.Filename,
		"contentType": doc.ContentType,
		"sizeBytes":   doc.SizeBytes,
		"contentHash": doc.ContentHash,
	}
	id, err := p.records.CreateInvoiceRecord(ctx, fields)
	if err != nil {
		if errors.Is(err, docerrors.ErrNotConfigured) {
			return nil
		}
		p.log.Warnf("[%s] Failed to create linked record for %s: %v", p.mailbox, doc.ID, err)
		return nil
	}
	if err := p.records.UpsertFileMetadata(ctx, interfaces.RecordFields{
		"contentHash": doc.ContentHash,
		"storageKey":  doc.StorageKey,
		"bucket":      doc.StorageBucket,
	}, "contentHash"); err != nil && !errors.Is(err, docerrors.ErrNotConfigured) {
		p.log.Warnf("[%s] Failed to upsert file metadata for %s: %v", p.mailbox, doc.ID, err)
	}
	return &id
}

// selectAndFetch resolves the attachment for one message and downloads it.
// When the retry policy grants another attempt the degraded session is
// replaced with a fresh one; a refused retry propagates up and aborts the run.
func (p *BatchProcessor) selectAndFetch(ctx context.Context, sess *interfaces.MailSession, retries *retryPolicy, uid uint32, meta *interfaces.MessageMetadata) (*SelectedPart, []byte, error) {
	fetch := func(s interfaces.MailSession) (*SelectedPart, []byte, error) {
		if meta.BodyStructure == nil {
			return p.fetcher.FetchFromRaw(ctx, s, uid)
		}
		part := SelectAttachment(meta.BodyStructure)
		if part == nil {
			return nil, nil, nil
		}
		data, err := p.fetcher.Fetch(ctx, s, uid, part)
		return part, data, err
	}

	part, data, err := fetch(*sess)
	if err == nil || !retries.shouldRetry(err) {
		return part, data, err
	}

	p.log.Warnf("[%s] Fetch timeout on uid %d, reconnecting once", p.mailbox, uid)
	(*sess).Close()
	fresh, openErr := p.dialer.Open(ctx)
	if openErr != nil {
		return part, nil, err
	}
	*sess = fresh
	return fetch(fresh)
}

// recordOutcome writes the ledger entry for an attempt. Ledger writes are
// themselves best effort: a write failure is logged, never fatal, and the
// unique index guarantees a racing writer cannot double-record.
func (p *BatchProcessor) recordOutcome(ctx context.Context, meta *interfaces.MessageMetadata, attachmentIndex int, outcome enum.LedgerOutcome, contentHash, storedDocumentID, linkedRecordID *string, cause error) {
	entry := &models.LedgerEntry{
		Mailbox:          p.mailbox,
		MessageID:        ledgerMessageID(meta),
		AttachmentIndex:  attachmentIndex,
		MessageUID:       meta.UID,
		ContentHash:      contentHash,
		StoredDocumentID: storedDocumentID,
		LinkedRecordID:   linkedRecordID,
		Outcome:          outcome,
	}
	if cause != nil {
		entry.Error = utils.StringPtr(cause.Error())
	}
	if err := p.ledger.Record(ctx, entry); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
		p.log.Errorf("[%s] Failed to write ledger entry for uid %d: %v", p.mailbox, meta.UID, err)
	}
}

// ledgerMessageID falls back to a uid-derived identity when the message
// carries no Message-ID header; FindForMessage also matches on uid, so
// either form is recognized on later scans.
func ledgerMessageID(meta *interfaces.MessageMetadata) string {
	if meta.MessageID != "" {
		return meta.MessageID
	}
	return fmt.Sprintf("uid:%d", meta.UID)
}

// selectWindow picks the batch window: newest first, strictly after the
// cursor when one exists, capped at limit.
func selectWindow(uids []uint32, cursor *uint32, limit int) []uint32 {
	sorted := append([]uint32(nil), uids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	var window []uint32
	for _, uid := range sorted {
		if cursor != nil && uid <= *cursor {
			continue
		}
		window = append(window, uid)
		if len(window) >= limit {
			break
		}
	}
	return window
}

func maxCursor(cursor *uint32, uid uint32) *uint32 {
	if cursor == nil || uid > *cursor {
		return utils.Uint32Ptr(uid)
	}
	return cursor
}

func partIndex(part *SelectedPart) int {
	if part == nil {
		return 0
	}
	return part.Index
}
