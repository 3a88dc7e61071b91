package reply

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/textproto"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/touchbase/followup/internal/pkg/logger"
)

// IMAPConfig locates the mailbox the poller watches.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Mailbox  string
}

// IMAPSource reads inbound mail over IMAP. Each call dials a fresh
// session; polling intervals are long enough that connection reuse is
// not worth the state.
type IMAPSource struct {
	cfg IMAPConfig
	log *logger.Logger
}

func NewIMAPSource(cfg IMAPConfig) *IMAPSource {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	return &IMAPSource{cfg: cfg, log: logger.With("imap")}
}

func (s *IMAPSource) connect() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	c, err := client.DialTLS(addr, &tls.Config{ServerName: s.cfg.Host})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(s.cfg.Mailbox, false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("select %s: %w", s.cfg.Mailbox, err)
	}
	return c, nil
}

// How far back and how wide one poll reaches. Unmatched mail stays
// unseen, so without these bounds every poll would refetch the whole
// backlog.
const (
	imapLookback   = 48 * time.Hour
	imapFetchLimit = 50
)

// lastN keeps the n highest (most recent) sequence numbers of an
// ascending search result.
func lastN(ids []uint32, n int) []uint32 {
	if len(ids) <= n {
		return ids
	}
	return ids[len(ids)-n:]
}

// ListRecent returns refs for recent unseen messages, identified by
// their Message-Id header.
func (s *IMAPSource) ListRecent(ctx context.Context) ([]Ref, error) {
	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = time.Now().Add(-imapLookback)
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	ids = lastN(ids, imapFetchLimit)

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope}, messages)
	}()

	var refs []Ref
	for msg := range messages {
		if msg.Envelope == nil || msg.Envelope.MessageId == "" {
			continue
		}
		refs = append(refs, Ref{ID: msg.Envelope.MessageId})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch envelopes: %w", err)
	}
	return refs, nil
}

// Get fetches one message by Message-Id and parses it into the
// provider-neutral form. The thread id is the In-Reply-To header, which
// for our outbound mail carries the provider message id we stored.
func (s *IMAPSource) Get(ctx context.Context, id string) (*InboundMessage, error) {
	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", id)
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("search message %s: %w", id, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("message %s not found", id)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids[len(ids)-1])

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}, messages)
	}()

	var fetched *imap.Message
	for msg := range messages {
		fetched = msg
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	if fetched == nil || fetched.Envelope == nil {
		return nil, fmt.Errorf("message %s fetch returned nothing", id)
	}

	in := &InboundMessage{
		ID:           id,
		ThreadID:     strings.Trim(fetched.Envelope.InReplyTo, "<>"),
		Subject:      fetched.Envelope.Subject,
		InternalDate: fetched.InternalDate,
		Header:       textproto.MIMEHeader{},
	}
	if len(fetched.Envelope.From) > 0 {
		in.From = strings.ToLower(fetched.Envelope.From[0].Address())
	}

	literal, ok := fetched.Body[section]
	if !ok {
		return in, nil
	}
	mr, err := mail.CreateReader(literal)
	if err != nil {
		s.log.Warn("unparseable message body", "provider_id", id, "error", err)
		return in, nil
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		if text, err := fields.Text(); err == nil {
			in.Header.Add(fields.Key(), text)
		}
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			if strings.Contains(contentType, "text/plain") {
				plain = string(b)
			} else if strings.Contains(contentType, "text/html") {
				html = string(b)
			}
		}
	}
	in.Body = plain
	if in.Body == "" {
		in.Body = html
	}
	return in, nil
}
