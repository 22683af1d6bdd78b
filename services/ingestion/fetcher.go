package ingestion

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/invoiceos/docstack/interfaces"
	docerrors "github.com/invoiceos/docstack/internal/errors"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/tracing"
)

// retryPolicy decides whether a failed fetch deserves another attempt on a
// fresh connection. Only timeouts qualify, and the budget spans the whole
// batch, so a degraded server gets exactly one second chance per run.
type retryPolicy struct {
	maxRetries int
	used       int
}

func (p *retryPolicy) shouldRetry(err error) bool {
	if err == nil || !errors.Is(err, docerrors.ErrFetchTimeout) {
		return false
	}
	if p.used >= p.maxRetries {
		return false
	}
	p.used++
	return true
}

// PartFetcher downloads one selected MIME part and returns its decoded
// bytes. It never touches flags; all fetches on the session peek.
type PartFetcher struct {
	maxBytes int64
	log      logger.Logger
}

func NewPartFetcher(maxBytes int64, log logger.Logger) *PartFetcher {
	return &PartFetcher{maxBytes: maxBytes, log: log}
}

// Fetch retrieves the part bytes over the session and reverses the
// transfer encoding declared in the BODYSTRUCTURE.
func (f *PartFetcher) Fetch(ctx context.Context, sess interfaces.MailSession, uid uint32, part *SelectedPart) ([]byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "PartFetcher.Fetch")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("uid", uid)
	span.SetTag("part.encoding", part.Encoding)

	raw, err := sess.FetchPartBytes(ctx, uid, part.Path, f.maxBytes)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	data, err := decodeTransferEncoding(raw, part.Encoding)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(err, "failed to decode %s part", part.Encoding)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, errors.Wrapf(docerrors.ErrAttachmentTooLarge, "decoded part exceeds %d bytes", f.maxBytes)
	}

	span.SetTag("part.bytes", len(data))
	return data, nil
}

// FetchFromRaw handles servers that return no BODYSTRUCTURE: it downloads
// the whole message, parses it, and selects an attachment with the same
// scoring rules the structure walk uses. Returns nil when nothing qualifies.
func (f *PartFetcher) FetchFromRaw(ctx context.Context, sess interfaces.MailSession, uid uint32) (*SelectedPart, []byte, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "PartFetcher.FetchFromRaw")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("uid", uid)

	raw, err := sess.FetchRawMessage(ctx, uid, f.maxBytes)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, err
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, nil, errors.Wrap(err, "failed to parse message")
	}

	type envCandidate struct {
		part  *SelectedPart
		bytes []byte
	}
	var best *envCandidate
	index := 0
	consider := func(p *enmime.Part, disposition string) {
		mimeType := strings.ToLower(p.ContentType)
		score, ok := ScoreCandidate(mimeType, p.FileName, disposition)
		if !ok {
			return
		}
		c := &envCandidate{
			part: &SelectedPart{
				Index:    index,
				MIMEType: mimeType,
				Filename: p.FileName,
				Size:     uint32(len(p.Content)),
				Score:    score,
			},
			bytes: p.Content,
		}
		index++
		if best == nil || c.part.Score > best.part.Score {
			best = c
		}
	}
	for _, p := range env.Attachments {
		consider(p, "attachment")
	}
	for _, p := range env.Inlines {
		consider(p, "inline")
	}
	for _, p := range env.OtherParts {
		consider(p, "")
	}

	if best == nil {
		return nil, nil, nil
	}
	if int64(len(best.bytes)) > f.maxBytes {
		return nil, nil, errors.Wrapf(docerrors.ErrAttachmentTooLarge, "attachment exceeds %d bytes", f.maxBytes)
	}
	return best.part, best.bytes, nil
}

// decodeTransferEncoding reverses the content-transfer-encoding on raw
// section bytes. Unknown encodings pass through untouched; a truncated
// base64 tail is decoded as far as it goes.
func decodeTransferEncoding(raw []byte, encoding string) ([]byte, error) {
	switch strings.ToLower(encoding) {
	case "base64":
		cleaned := strings.Map(func(r rune) rune {
			if r == '\r' || r == '\n' || r == ' ' || r == '\t' {
				return -1
			}
			return r
		}, string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
			if err != nil {
				return nil, err
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
	default:
		// 7bit, 8bit, binary and anything the server invents
		return raw, nil
	}
}
