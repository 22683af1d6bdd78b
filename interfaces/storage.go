package interfaces

import "context"

// StoredObject identifies an uploaded document in object storage
type StoredObject struct {
	Bucket string
	Key    string
	URL    string
}

// DocumentStorage uploads document bytes to the external object store.
// Failures bubble up as opaque errors; the batch processor decides policy.
type DocumentStorage interface {
	Store(ctx context.Context, data []byte, contentType string, suggestedName string) (*StoredObject, error)
}
