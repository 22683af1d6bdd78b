package imapsession

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/invoiceos/docstack/config"
	"github.com/invoiceos/docstack/interfaces"
	docerrors "github.com/invoiceos/docstack/internal/errors"
	"github.com/invoiceos/docstack/internal/logger"
	"github.com/invoiceos/docstack/internal/tracing"
	"github.com/invoiceos/docstack/internal/utils"
)

// Dialer opens read-only sessions against the configured mailbox
type Dialer struct {
	cfg *config.MailboxConfig
	log logger.Logger
}

func NewDialer(cfg *config.MailboxConfig, log logger.Logger) *Dialer {
	return &Dialer{cfg: cfg, log: log}
}

// Open connects, authenticates and selects the folder in read-only mode.
// Missing server or credentials fail fast with ErrNotConfigured.
func (d *Dialer) Open(ctx context.Context) (interfaces.MailSession, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Dialer.Open")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("server", d.cfg.ImapServer)
	span.SetTag("folder", d.cfg.ImapFolder)

	if d.cfg.ImapServer == "" || d.cfg.ImapUsername == "" || d.cfg.ImapPassword == "" {
		return nil, errors.Wrap(docerrors.ErrNotConfigured, "imap server or credentials missing")
	}

	serverAddr := fmt.Sprintf("%s:%d", d.cfg.ImapServer, d.cfg.ImapPort)

	dialer := &net.Dialer{
		Timeout:   time.Duration(d.cfg.ConnectTimeoutSeconds) * time.Second,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	if d.cfg.ImapTLS {
		tlsConfig := &tls.Config{
			ServerName: d.cfg.ImapServer,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to connect to %s: %w", serverAddr, err)
	}

	// Login with its own timeout
	c.Timeout = time.Duration(d.cfg.LoginTimeoutSeconds) * time.Second
	if err := c.Login(d.cfg.ImapUsername, d.cfg.ImapPassword); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to login as %s: %w", d.cfg.ImapUsername, err)
	}

	// Read-only select: the server must never see this session as a writer
	if _, err := c.Select(d.cfg.ImapFolder, true); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, fmt.Errorf("failed to select folder %s: %w", d.cfg.ImapFolder, err)
	}

	d.log.Infof("[%s] Connected to %s (%s, read-only)", d.cfg.Mailbox, serverAddr, d.cfg.ImapFolder)

	return &session{cfg: d.cfg, client: c, log: d.log}, nil
}

type session struct {
	cfg    *config.MailboxConfig
	client *client.Client
	log    logger.Logger
}

// SearchAll returns every UID in the selected folder
func (s *session) SearchAll(ctx context.Context) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "session.SearchAll")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)

	s.client.Timeout = time.Duration(s.cfg.SearchTimeoutSeconds) * time.Second
	uids, err := s.client.UidSearch(goimap.NewSearchCriteria())
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, wrapTimeout(err, "uid search failed")
	}

	span.SetTag("messages.count", len(uids))
	return uids, nil
}

// FetchMetadata fetches envelope and body structure for one message
func (s *session) FetchMetadata(ctx context.Context, uid uint32) (*interfaces.MessageMetadata, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "session.FetchMetadata")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("uid", uid)

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	items := []goimap.FetchItem{goimap.FetchUid, goimap.FetchEnvelope, goimap.FetchBodyStructure}

	s.client.Timeout = time.Duration(s.cfg.MetadataTimeoutSeconds) * time.Second

	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var msg *goimap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		tracing.TraceErr(span, err)
		return nil, wrapTimeout(err, "metadata fetch failed")
	}
	if msg == nil {
		err := fmt.Errorf("message %d not found", uid)
		tracing.TraceErr(span, err)
		return nil, err
	}

	meta := &interfaces.MessageMetadata{
		UID:           uid,
		BodyStructure: msg.BodyStructure,
	}
	if msg.Envelope != nil {
		meta.MessageID = utils.NormalizeMessageID(msg.Envelope.MessageId)
		meta.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			meta.From = msg.Envelope.From[0].Address()
		}
	}

	return meta, nil
}

// FetchPartBytes streams one body section with BODY.PEEK, capped at maxBytes
func (s *session) FetchPartBytes(ctx context.Context, uid uint32, partPath []int, maxBytes int64) ([]byte, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "session.FetchPartBytes")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("uid", uid)
	span.SetTag("part.path", fmt.Sprintf("%v", partPath))

	section := &goimap.BodySectionName{
		BodyPartName: goimap.BodyPartName{
			Specifier: goimap.EntireSpecifier,
			Path:      partPath,
		},
		Peek: true,
	}

	return s.fetchSection(uid, section, maxBytes)
}

// FetchRawMessage fetches the entire RFC822 message with BODY.PEEK[]
func (s *session) FetchRawMessage(ctx context.Context, uid uint32, maxBytes int64) ([]byte, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "session.FetchRawMessage")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("uid", uid)

	section := &goimap.BodySectionName{Peek: true}
	return s.fetchSection(uid, section, maxBytes)
}

func (s *session) fetchSection(uid uint32, section *goimap.BodySectionName, maxBytes int64) ([]byte, error) {
	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	s.client.Timeout = time.Duration(s.cfg.FetchTimeoutSeconds) * time.Second

	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, []goimap.FetchItem{section.FetchItem()}, messages)
	}()

	var data []byte
	var readErr error
	for msg := range messages {
		literal := msg.GetBody(section)
		if literal == nil {
			continue
		}
		// Read one byte past the cap to tell "at the cap" from "over it"
		data, readErr = io.ReadAll(io.LimitReader(literal, maxBytes+1))
	}
	if err := <-done; err != nil {
		return nil, wrapTimeout(err, "body fetch failed")
	}
	if readErr != nil {
		return nil, wrapTimeout(readErr, "body read failed")
	}
	if data == nil {
		return nil, fmt.Errorf("message %d has no body section %s", uid, section.FetchItem())
	}
	if int64(len(data)) > maxBytes {
		return nil, errors.Wrapf(docerrors.ErrAttachmentTooLarge, "section exceeds %d bytes", maxBytes)
	}

	return data, nil
}

// Close logs out with a bounded wait; a hung logout never blocks the batch
func (s *session) Close() error {
	s.client.Timeout = 5 * time.Second

	done := make(chan error, 1)
	go func() {
		done <- s.client.Logout()
		close(done)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.log.Warnf("[%s] Error during logout: %v", s.cfg.Mailbox, err)
		}
		return err
	case <-time.After(5 * time.Second):
		s.log.Warnf("[%s] Logout timed out", s.cfg.Mailbox)
		return docerrors.ErrFetchTimeout
	}
}

// wrapTimeout maps network deadline errors onto ErrFetchTimeout so the
// batch processor can tell a degraded connection from a bad message
func wrapTimeout(err error, msg string) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrapf(docerrors.ErrFetchTimeout, "%s: %v", msg, err)
	}
	return errors.Wrap(err, msg)
}
