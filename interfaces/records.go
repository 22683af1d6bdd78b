package interfaces

import "context"

// RecordFields is the payload for the linked-record store
type RecordFields map[string]interface{}

// RecordService is the external invoice-record collaborator. It is called
// only after a successful upload; it never participates in dedup decisions.
type RecordService interface {
	CreateInvoiceRecord(ctx context.Context, fields RecordFields) (string, error)
	UpsertFileMetadata(ctx context.Context, fields RecordFields, conflictKey string) error
}
