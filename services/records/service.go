package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/invoiceos/docstack/config"
	"github.com/invoiceos/docstack/interfaces"
	docerrors "github.com/invoiceos/docstack/internal/errors"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/tracing"
)

// recordService is the HTTP client for the external invoice-record store.
// An empty base URL means the collaborator is not deployed; every call
// then returns ErrNotConfigured instead of dialing.
type recordService struct {
	cfg        *config.RecordsAPIConfig
	httpClient *http.Client
	log        logger.Logger
}

func NewRecordService(cfg *config.RecordsAPIConfig, log logger.Logger) interfaces.RecordService {
	return &recordService{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

type createRecordResponse struct {
	ID string `json:"id"`
}

// CreateInvoiceRecord posts a new record and returns its id
func (s *recordService) CreateInvoiceRecord(ctx context.Context, fields interfaces.RecordFields) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "recordService.CreateInvoiceRecord")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if s.cfg.Url == "" {
		return "", docerrors.ErrNotConfigured
	}

	body, err := s.post(ctx, "/invoice-records", fields)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	var response createRecordResponse
	if err := json.Unmarshal(body, &response); err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to decode create-record response")
	}
	span.SetTag("record.id", response.ID)
	return response.ID, nil
}

// UpsertFileMetadata writes file metadata keyed by conflictKey; the record
// store resolves the conflict, this client just declares the key
func (s *recordService) UpsertFileMetadata(ctx context.Context, fields interfaces.RecordFields, conflictKey string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "recordService.UpsertFileMetadata")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	if s.cfg.Url == "" {
		return docerrors.ErrNotConfigured
	}

	payload := interfaces.RecordFields{}
	for k, v := range fields {
		payload[k] = v
	}
	payload["conflictKey"] = conflictKey

	_, err := s.post(ctx, "/file-metadata", payload)
	if err != nil {
		tracing.TraceErr(span, err)
	}
	return err
}

func (s *recordService) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Url+path, bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.cfg.ApiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call %s", path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("records api returned %d for %s: %s", resp.StatusCode, path, string(body))
	}
	return body, nil
}
