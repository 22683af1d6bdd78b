package interfaces

import "context"

// DocumentIngestedEvent is published after a new document is stored
type DocumentIngestedEvent struct {
	Mailbox          string `json:"mailbox"`
	MessageID        string `json:"messageId"`
	StoredDocumentID string `json:"storedDocumentId"`
	ContentHash      string `json:"contentHash"`
	Filename         string `json:"filename"`
	ContentType      string `json:"contentType"`
	SizeBytes        int    `json:"sizeBytes"`
}

// EventPublisher fans ingestion events out to interested consumers.
// Publishing is best effort; the pipeline never fails on publish errors.
type EventPublisher interface {
	PublishDocumentIngested(ctx context.Context, event DocumentIngestedEvent) error
	Close() error
}
