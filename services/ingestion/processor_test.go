package ingestion

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"

	goimap "github.com/emersion/go-imap"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoiceos/docstack/config"
	"github.com/invoiceos/docstack/interfaces"
	"github.com/invoiceos/docstack/internal/enum"
	docerrors "github.com/invoiceos/docstack/internal/errors"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/models"
	"github.com/invoiceos/docstack/internal/repository"
	"github.com/invoiceos/docstack/internal/utils"
)

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testIngestConfig() *config.IngestConfig {
	return &config.IngestConfig{
		OwnerCategory:      "invoice",
		ScanLimit:          25,
		MaxAttempts:        10,
		MaxCycleFailures:   10,
		CycleBudgetSeconds: 120,
		MaxAttachmentBytes: 25 * 1024 * 1024,
	}
}

// fakeSession implements interfaces.MailSession in memory
type fakeSession struct {
	uids        []uint32
	metadata    map[uint32]*interfaces.MessageMetadata
	parts       map[uint32][]byte
	raw         map[uint32][]byte
	searchErr   error
	metaErr     error
	fetchErr    error
	fetchErrFor map[uint32]error
	fetchCalls  int
	closed      bool
}

func (s *fakeSession) SearchAll(ctx context.Context) ([]uint32, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.uids, nil
}

func (s *fakeSession) FetchMetadata(ctx context.Context, uid uint32) (*interfaces.MessageMetadata, error) {
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	meta, ok := s.metadata[uid]
	if !ok {
		return nil, fmt.Errorf("message %d not found", uid)
	}
	return meta, nil
}

func (s *fakeSession) FetchPartBytes(ctx context.Context, uid uint32, partPath []int, maxBytes int64) ([]byte, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	if err, ok := s.fetchErrFor[uid]; ok {
		return nil, err
	}
	return s.parts[uid], nil
}

func (s *fakeSession) FetchRawMessage(ctx context.Context, uid uint32, maxBytes int64) ([]byte, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.raw[uid], nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeDialer hands out sessions in order; the last one repeats
type fakeDialer struct {
	sessions []*fakeSession
	opens    int
	err      error
}

func (d *fakeDialer) Open(ctx context.Context) (interfaces.MailSession, error) {
	if d.err != nil {
		return nil, d.err
	}
	idx := d.opens
	if idx >= len(d.sessions) {
		idx = len(d.sessions) - 1
	}
	d.opens++
	return d.sessions[idx], nil
}

// fakeLedger mirrors the repository semantics, including supersede-on-retry
type fakeLedger struct {
	entries map[string]*models.LedgerEntry
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]*models.LedgerEntry)}
}

func ledgerKey(mailbox, messageID string, attachmentIndex int) string {
	return fmt.Sprintf("%s|%s|%d", mailbox, messageID, attachmentIndex)
}

func (l *fakeLedger) GetByIdentity(ctx context.Context, mailbox, messageID string, attachmentIndex int) (*models.LedgerEntry, error) {
	return l.entries[ledgerKey(mailbox, messageID, attachmentIndex)], nil
}

func (l *fakeLedger) FindForMessage(ctx context.Context, mailbox, messageID string, uid uint32) (*models.LedgerEntry, error) {
	for _, entry := range l.entries {
		if entry.Mailbox != mailbox {
			continue
		}
		if (messageID != "" && entry.MessageID == messageID) || entry.MessageUID == uid {
			return entry, nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) Record(ctx context.Context, entry *models.LedgerEntry) error {
	key := ledgerKey(entry.Mailbox, entry.MessageID, entry.AttachmentIndex)
	if existing, ok := l.entries[key]; ok && existing.Terminal() {
		return repository.ErrAlreadyExists
	}
	l.entries[key] = entry
	return nil
}

func (l *fakeLedger) ListRecent(ctx context.Context, mailbox string, limit int) ([]*models.LedgerEntry, error) {
	var out []*models.LedgerEntry
	for _, entry := range l.entries {
		if entry.Mailbox == mailbox {
			out = append(out, entry)
		}
	}
	return out, nil
}

// fakeDedup is an in-memory (ownerCategory, contentHash) index
type fakeDedup struct {
	docs      map[string]*models.StoredDocument
	createErr error
}

func newFakeDedup() *fakeDedup {
	return &fakeDedup{docs: make(map[string]*models.StoredDocument)}
}

func (d *fakeDedup) GetByHash(ctx context.Context, ownerCategory, contentHash string) (*models.StoredDocument, error) {
	return d.docs[ownerCategory+"|"+contentHash], nil
}

func (d *fakeDedup) Create(ctx context.Context, doc *models.StoredDocument) error {
	if d.createErr != nil {
		return d.createErr
	}
	key := doc.OwnerCategory + "|" + doc.ContentHash
	if _, ok := d.docs[key]; ok {
		return repository.ErrAlreadyExists
	}
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("doc_%d", len(d.docs)+1)
	}
	d.docs[key] = doc
	return nil
}

type fakeStorage struct {
	err   error
	calls int
}

func (s *fakeStorage) Store(ctx context.Context, data []byte, contentType string, suggestedName string) (*interfaces.StoredObject, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &interfaces.StoredObject{
		Bucket: "invoice-documents",
		Key:    "invoices/test/" + suggestedName,
		URL:    "https://cdn.example.com/invoices/test/" + suggestedName,
	}, nil
}

type fakeRecords struct {
	createCalls int
	upsertCalls int
	err         error
}

func (r *fakeRecords) CreateInvoiceRecord(ctx context.Context, fields interfaces.RecordFields) (string, error) {
	r.createCalls++
	if r.err != nil {
		return "", r.err
	}
	return "rec_1", nil
}

func (r *fakeRecords) UpsertFileMetadata(ctx context.Context, fields interfaces.RecordFields, conflictKey string) error {
	r.upsertCalls++
	return r.err
}

type fakePublisher struct {
	events []interfaces.DocumentIngestedEvent
}

func (p *fakePublisher) PublishDocumentIngested(ctx context.Context, event interfaces.DocumentIngestedEvent) error {
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type processorFixture struct {
	processor *BatchProcessor
	dialer    *fakeDialer
	ledger    *fakeLedger
	dedup     *fakeDedup
	storage   *fakeStorage
	records   *fakeRecords
	publisher *fakePublisher
}

func newProcessorFixture(sessions ...*fakeSession) *processorFixture {
	f := &processorFixture{
		dialer:    &fakeDialer{sessions: sessions},
		ledger:    newFakeLedger(),
		dedup:     newFakeDedup(),
		storage:   &fakeStorage{},
		records:   &fakeRecords{},
		publisher: &fakePublisher{},
	}
	f.processor = NewBatchProcessor(
		f.dialer,
		f.ledger,
		f.dedup,
		f.storage,
		f.records,
		f.publisher,
		testIngestConfig(),
		"inbox",
		getLogger(),
	)
	return f
}

func pdfMessage(uid uint32, messageID string, content []byte) (*interfaces.MessageMetadata, []byte) {
	meta := &interfaces.MessageMetadata{
		UID:       uid,
		MessageID: messageID,
		Subject:   "Invoice",
		From:      "billing@supplier.com",
		BodyStructure: &goimap.BodyStructure{
			MIMEType:    "multipart",
			MIMESubType: "mixed",
			Parts: []*goimap.BodyStructure{
				{MIMEType: "text", MIMESubType: "plain", Encoding: "7bit"},
				{
					MIMEType:          "application",
					MIMESubType:       "pdf",
					Encoding:          "base64",
					Disposition:       "attachment",
					DispositionParams: map[string]string{"filename": "invoice.pdf"},
				},
			},
		},
	}
	encoded := []byte(base64.StdEncoding.EncodeToString(content))
	return meta, encoded
}

func TestBatchProcessor_ProcessesNewAttachment(t *testing.T) {
	meta, encoded := pdfMessage(5, "msg-5@supplier.com", []byte("pdf bytes"))
	session := &fakeSession{
		uids:     []uint32{5},
		metadata: map[uint32]*interfaces.MessageMetadata{5: meta},
		parts:    map[uint32][]byte{5: encoded},
	}
	f := newProcessorFixture(session)

	result, err := f.processor.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Failed)
	require.NotNil(t, result.NewCursor)
	assert.Equal(t, uint32(5), *result.NewCursor)

	entry, _ := f.ledger.GetByIdentity(context.Background(), "inbox", "msg-5@supplier.com", 0)
	require.NotNil(t, entry)
	assert.Equal(t, enum.LedgerOutcomeProcessed, entry.Outcome)
	require.NotNil(t, entry.LinkedRecordID)
	assert.Equal(t, "rec_1", *entry.LinkedRecordID)

	assert.Equal(t, 1, f.storage.calls)
	assert.Equal(t, 1, f.records.createCalls)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, "invoice.pdf", f.publisher.events[0].Filename)
	assert.True(t, session.closed)
}

func TestBatchProcessor_SecondRunIsNoOp(t *testing.T) {
	meta, encoded := pdfMessage(5, "msg-5@supplier.com", []byte("pdf bytes"))
	session := &fakeSession{
		uids:     []uint32{5},
		metadata: map[uint32]*interfaces.MessageMetadata{5: meta},
		parts:    map[uint32][]byte{5: encoded},
	}
	f := newProcessorFixture(session)

	first, err := f.processor.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.Processed)

	// Cursor advanced: the window is empty on the next run
	second, err := f.processor.Run(context.Background(), first.NewCursor)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Attempted)
	assert.Equal(t, *first.NewCursor, *second.NewCursor)
	assert.Equal(t, 1, f.storage.calls)
}

func TestBatchProcessor_LedgerSkipWithoutCursor(t *testing.T) {
	// Same message rescanned without a cursor: the ledger check must skip
	// it before any bytes are fetched
	meta, encoded := pdfMessage(5, "msg-5@supplier.com", []byte("pdf bytes"))
	session := &fakeSession{
		uids:     []uint32{5},
		metadata: map[uint32]*interfaces.MessageMetadata{5: meta},
		parts:    map[uint32][]byte{5: encoded},
	}
	f := newProcessorFixture(session)

	_, err := f.processor.Run(context.Background(), nil)
	require.NoError(t, err)
	fetchesAfterFirst := session.fetchCalls

	result, err := f.processor.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, fetchesAfterFirst, session.fetchCalls)
}

func TestBatchProcessor_DuplicateContent(t *testing.T) {
	// Two different messages carrying byte-identical attachments: the
	// second one dedups without uploading
	metaA, encodedA := pdfMessage(5, "msg-5@supplier.com", []byte("same bytes"))
	metaB, encodedB := pdfMessage(6, "msg-6@supplier.com", []byte("same bytes"))
	session := &fakeSession{
		uids: []uint32{5, 6},
		metadata: map[uint32]*interfaces.MessageMetadata{
			5: metaA,
			6: metaB,
		},
		parts: map[uint32][]byte{5: encodedA, 6: encodedB},
	}
	f := newProcessorFixture(session)

	result, err := f.processor.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, f.storage.calls)

	// Window is newest-first, so uid 6 was processed and uid 5 deduped
	entry, _ := f.ledger.GetByIdentity(context.Background(), "inbox", "msg-5@supplier.com", 0)
	require.NotNil(t, entry)
	assert.Equal(t, enum.LedgerOutcomeDuplicate, entry.Outcome)
	require.NotNil(t, entry.StoredDocumentID)
}

func TestBatchProcessor_MetadataFailureAbortsBatch(t *testing.T) {
	session := &fakeSession{
		uids:    []uint32{5, 6},
		metaErr: errors.New("connection reset"),
	}
	f := newProcessorFixture(session)

	result, err := f.processor.Run(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, docerrors.ErrMetadataFetch))
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Failed)
}

func TestBatchProcessor_TimeoutReconnectsOnceThenAborts(t *testing.T) {
	// uid 6 downloads fine, uid 5 times out on the original session and
	// again on the replacement, which exhausts the batch
	metaA, _ := pdfMessage(5, "msg-5@supplier.com", []byte("slow bytes"))
	metaB, encodedB := pdfMessage(6, "msg-6@supplier.com", []byte("fast bytes"))
	timeout := errors.Wrap(docerrors.ErrFetchTimeout, "read deadline exceeded")
	first := &fakeSession{
		uids: []uint32{5, 6},
		metadata: map[uint32]*interfaces.MessageMetadata{
			5: metaA,
			6: metaB,
		},
		parts:       map[uint32][]byte{6: encodedB},
		fetchErrFor: map[uint32]error{5: timeout},
	}
	second := &fakeSession{
		uids:        []uint32{5, 6},
		fetchErrFor: map[uint32]error{5: timeout},
	}
	f := newProcessorFixture(first, second)

	result, err := f.processor.Run(context.Background(), nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, docerrors.ErrFetchTimeout))
	assert.Equal(t, 2, f.dialer.opens)
	assert.True(t, first.closed)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Failed)

	// Cursor covers both messages even though the batch aborted
	require.NotNil(t, result.NewCursor)
	assert.Equal(t, uint32(6), *result.NewCursor)

	entry, _ := f.ledger.GetByIdentity(context.Background(), "inbox", "msg-5@supplier.com", 0)
	require.NotNil(t, entry)
	assert.Equal(t, enum.LedgerOutcomeFailed, entry.Outcome)
}

func TestBatchProcessor_TimeoutRetrySucceedsOnFreshSession(t *testing.T) {
	meta, encoded := pdfMessage(5, "msg-5@supplier.com", []byte("pdf bytes"))
	broken := &fakeSession{
		uids:     []uint32{5},
		metadata: map[uint32]*interfaces.MessageMetadata{5: meta},
		fetchErr: errors.Wrap(docerrors.ErrFetchTimeout, "read deadline exceeded"),
	}
	healthy := &fakeSession{
		uids:     []uint32{5},
		metadata: map[uint32]*interfaces.MessageMetadata{5: meta},
		parts:    map[uint32][]byte{5: encoded},
	}
	f := newProcessorFixture(broken, healthy)

	result, err := f.processor.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 2, f.dialer.opens)
}

func TestBatchProcessor_UploadFailureContinuesBatch(t *testing.T) {
	metaA, encodedA := pdfMessage(5, "msg-5@supplier.com", []byte("first"))
	metaB, encodedB := pdfMessage(6, "msg-6@supplier.com", []byte("second"))
	session := &fakeSession{
		uids: []uint32{5, 6},
		metadata: map[uint32]*interfaces.MessageMetadata{
			5: metaA,
			6: metaB,
		},
		parts: map[uint32][]byte{5: encodedA, 6: encodedB},
	}
	f := newProcessorFixture(session)
	f.storage.err = errors.New("bucket unavailable")

	result, err := f.processor.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 2, result.Failed)
	require.NotNil(t, result.NewCursor)
	assert.Equal(t, uint32(6), *result.NewCursor)
}

func TestBatchProcessor_DedupRaceRecordsDuplicate(t *testing.T) {
	meta, encoded := pdfMessage(5, "msg-5@supplier.com", []byte("pdf bytes"))
	session := &fakeSession{
		uids:     []uint32{5},
		metadata: map[uint32]*interfaces.MessageMetadata{5: meta},
		parts:    map[uint32][]byte{5: encoded},
	}
	f := newProcessorFixture(session)

	// Simulate another worker winning the index insert between our hash
	// check and our create
	winner := &models.StoredDocument{ID: "doc_other", OwnerCategory: "invoice"}
	raceDedup := &racingDedup{fakeDedup: f.dedup, winner: winner}
	f.processor.dedup = raceDedup

	result, err := f.processor.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Processed)

	entry, _ := f.ledger.GetByIdentity(context.Background(), "inbox", "msg-5@supplier.com", 0)
	require.NotNil(t, entry)
	assert.Equal(t, enum.LedgerOutcomeDuplicate, entry.Outcome)
	require.NotNil(t, entry.StoredDocumentID)
	assert.Equal(t, "doc_other", *entry.StoredDocumentID)
}

// racingDedup reports no hit on lookup until Create has been refused once
type racingDedup struct {
	*fakeDedup
	winner  *models.StoredDocument
	refused bool
}

func (d *racingDedup) GetByHash(ctx context.Context, ownerCategory, contentHash string) (*models.StoredDocument, error) {
	if d.refused {
		return d.winner, nil
	}
	return nil, nil
}

func (d *racingDedup) Create(ctx context.Context, doc *models.StoredDocument) error {
	d.refused = true
	return repository.ErrAlreadyExists
}

func TestBatchProcessor_FailedAttemptRetriesNextRun(t *testing.T) {
	meta, encoded := pdfMessage(5, "msg-5@supplier.com", []byte("pdf bytes"))
	session := &fakeSession{
		uids:     []uint32{5},
		metadata: map[uint32]*interfaces.MessageMetadata{5: meta},
		parts:    map[uint32][]byte{5: encoded},
	}
	f := newProcessorFixture(session)

	f.storage.err = errors.New("bucket unavailable")
	first, err := f.processor.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.Failed)

	// The failed entry is not terminal, so a cursor-less rescan retries
	// and the ledger row is superseded with the processed outcome
	f.storage.err = nil
	second, err := f.processor.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)

	entry, _ := f.ledger.GetByIdentity(context.Background(), "inbox", "msg-5@supplier.com", 0)
	require.NotNil(t, entry)
	assert.Equal(t, enum.LedgerOutcomeProcessed, entry.Outcome)
}

func TestBatchProcessor_NoEligibleAttachment(t *testing.T) {
	meta := &interfaces.MessageMetadata{
		UID:       5,
		MessageID: "msg-5@supplier.com",
		BodyStructure: &goimap.BodyStructure{
			MIMEType:    "text",
			MIMESubType: "plain",
		},
	}
	session := &fakeSession{
		uids:     []uint32{5},
		metadata: map[uint32]*interfaces.MessageMetadata{5: meta},
	}
	f := newProcessorFixture(session)

	result, err := f.processor.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Processed)

	// Skipped-for-no-attachment leaves no ledger entry, only the cursor move
	entry, _ := f.ledger.FindForMessage(context.Background(), "inbox", "msg-5@supplier.com", 5)
	assert.Nil(t, entry)
	require.NotNil(t, result.NewCursor)
	assert.Equal(t, uint32(5), *result.NewCursor)
}

func TestBatchProcessor_MixedBatch(t *testing.T) {
	// One plain-text message, one fresh PDF, one byte-identical PDF: a
	// single run yields one upload, one dedup skip and one no-attachment
	// skip, and the cursor covers all three
	textMeta := &interfaces.MessageMetadata{
		UID:       5,
		MessageID: "msg-5@supplier.com",
		From:      "billing@supplier.com",
		BodyStructure: &goimap.BodyStructure{
			MIMEType:    "text",
			MIMESubType: "plain",
		},
	}
	metaB, encodedB := pdfMessage(6, "msg-6@supplier.com", []byte("same bytes"))
	metaC, encodedC := pdfMessage(7, "msg-7@supplier.com", []byte("same bytes"))
	session := &fakeSession{
		uids: []uint32{5, 6, 7},
		metadata: map[uint32]*interfaces.MessageMetadata{
			5: textMeta,
			6: metaB,
			7: metaC,
		},
		parts: map[uint32][]byte{6: encodedB, 7: encodedC},
	}
	f := newProcessorFixture(session)

	result, err := f.processor.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 2, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 1, f.storage.calls)
	require.NotNil(t, result.NewCursor)
	assert.Equal(t, uint32(7), *result.NewCursor)

	// Newest-first: uid 7 owns the stored document, uid 6 dedups onto it
	processed, _ := f.ledger.GetByIdentity(context.Background(), "inbox", "msg-7@supplier.com", 0)
	require.NotNil(t, processed)
	assert.Equal(t, enum.LedgerOutcomeProcessed, processed.Outcome)
	duplicate, _ := f.ledger.GetByIdentity(context.Background(), "inbox", "msg-6@supplier.com", 0)
	require.NotNil(t, duplicate)
	assert.Equal(t, enum.LedgerOutcomeDuplicate, duplicate.Outcome)
	assert.Equal(t, *processed.StoredDocumentID, *duplicate.StoredDocumentID)
}

func TestBatchProcessor_AttemptCapBoundsBatch(t *testing.T) {
	// Ten fresh messages with a larger scan window: the batch stops after
	// MaxAttempts messages even though the budget and window allow more
	session := &fakeSession{
		metadata: map[uint32]*interfaces.MessageMetadata{},
		parts:    map[uint32][]byte{},
	}
	for uid := uint32(1); uid <= 10; uid++ {
		meta, encoded := pdfMessage(uid, fmt.Sprintf("msg-%d@supplier.com", uid), []byte(fmt.Sprintf("invoice %d", uid)))
		session.uids = append(session.uids, uid)
		session.metadata[uid] = meta
		session.parts[uid] = encoded
	}
	f := newProcessorFixture(session)
	f.processor.cfg.MaxAttempts = 3

	result, err := f.processor.Run(context.Background(), nil)

	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, f.storage.calls)

	// Newest-first: only uids 10, 9, 8 were attempted, cursor at the top
	require.NotNil(t, result.NewCursor)
	assert.Equal(t, uint32(10), *result.NewCursor)
	entry, _ := f.ledger.GetByIdentity(context.Background(), "inbox", "msg-7@supplier.com", 0)
	assert.Nil(t, entry)
}

func TestSelectWindow(t *testing.T) {
	uids := []uint32{1, 2, 3, 4, 5, 6, 7, 8}

	t.Run("no cursor takes newest first", func(t *testing.T) {
		window := selectWindow(uids, nil, 3)
		assert.Equal(t, []uint32{8, 7, 6}, window)
	})

	t.Run("cursor filters older messages", func(t *testing.T) {
		window := selectWindow(uids, utils.Uint32Ptr(6), 25)
		assert.Equal(t, []uint32{8, 7}, window)
	})

	t.Run("cursor at newest yields empty window", func(t *testing.T) {
		window := selectWindow(uids, utils.Uint32Ptr(8), 25)
		assert.Empty(t, window)
	})
}
