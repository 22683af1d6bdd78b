package interfaces

import (
	"context"

	goimap "github.com/emersion/go-imap"
)

// MessageMetadata is the envelope + MIME structure of one message,
// fetched without touching any mailbox state.
type MessageMetadata struct {
	UID           uint32
	MessageID     string
	Subject       string
	From          string
	BodyStructure *goimap.BodyStructure
}

// MailSession is a read-only view over one mailbox. Implementations must
// never mark messages seen, move them, or delete them; every fetch peeks.
// A session lives for at most one batch-processor invocation.
type MailSession interface {
	// SearchAll returns every message UID in the mailbox
	SearchAll(ctx context.Context) ([]uint32, error)
	// FetchMetadata returns envelope and body structure for one message
	FetchMetadata(ctx context.Context, uid uint32) (*MessageMetadata, error)
	// FetchPartBytes returns the raw transfer-encoded bytes of one MIME part,
	// bounded by maxBytes; decoding is the caller's concern
	FetchPartBytes(ctx context.Context, uid uint32, partPath []int, maxBytes int64) ([]byte, error)
	// FetchRawMessage returns the full RFC822 message, bounded by maxBytes
	FetchRawMessage(ctx context.Context, uid uint32, maxBytes int64) ([]byte, error)
	Close() error
}

// MailDialer opens sessions; the batch processor opens one per run and may
// reopen once after a fetch timeout.
type MailDialer interface {
	Open(ctx context.Context) (MailSession, error)
}
