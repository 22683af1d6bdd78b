package errors

import "github.com/pkg/errors"

var (
	// infrastructure errors, these abort the running batch
	ErrFetchTimeout  = errors.New("fetch timeout")
	ErrMetadataFetch = errors.New("message metadata fetch failed")

	// configuration errors
	ErrNotConfigured = errors.New("ingestion is not configured")

	// attachment errors, scoped to a single message
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	ErrUploadFailed       = errors.New("document upload failed")
)
