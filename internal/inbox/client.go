package inbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/brightreach/leadpilot/internal/creds"
)

// Message is one unseen inbox message with enough structure for the
// pipeline: envelope identity plus the extracted plaintext body.
type Message struct {
	SeqNum      uint32
	MessageID   string
	InReplyTo   string
	Subject     string
	FromAddress string
	FromName    string
	Date        time.Time
	Body        string
	Raw         []byte
}

// Mailbox is one open IMAP session scoped to a single folder.
type Mailbox interface {
	ListUnseen(ctx context.Context, since time.Time) ([]Message, error)
	MarkSeen(ctx context.Context, seqNum uint32) error
	Close() error
}

// Dialer opens a mailbox session for a client's credentials. Swapped
// for a stub in tests.
type Dialer func(ctx context.Context, c *creds.IMAPCredentials) (Mailbox, error)

// imapMailbox wraps an imapclient session over TLS.
type imapMailbox struct {
	client *imapclient.Client
}

// Dial connects, authenticates, and selects INBOX.
func Dial(ctx context.Context, c *creds.IMAPCredentials) (Mailbox, error) {
	client, err := imapclient.DialTLS(c.Address(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", c.Host, err)
	}
	if err := client.Login(c.User, c.Pass).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap login %s: %w", c.User, err)
	}
	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		client.Logout()
		client.Close()
		return nil, fmt.Errorf("select inbox: %w", err)
	}
	return &imapMailbox{client: client}, nil
}

// ListUnseen fetches every unseen message received after since. The
// since bound keeps a fresh deployment from replaying an old backlog.
func (m *imapMailbox) ListUnseen(ctx context.Context, since time.Time) ([]Message, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if !since.IsZero() {
		criteria.Since = since
	}
	searchData, err := m.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}

	seqNums := searchData.AllSeqNums()
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqSet := imap.SeqSetNum(seqNums...)
	fetchOptions := &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	fetched, err := m.client.Fetch(seqSet, fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	out := make([]Message, 0, len(fetched))
	for _, buf := range fetched {
		msg, err := decodeMessage(buf)
		if err != nil {
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}

// MarkSeen adds the \Seen flag so the message is never picked up again.
func (m *imapMailbox) MarkSeen(ctx context.Context, seqNum uint32) error {
	seqSet := imap.SeqSetNum(seqNum)
	flags := &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}
	if err := m.client.Store(seqSet, flags, nil).Close(); err != nil {
		return fmt.Errorf("mark seen %d: %w", seqNum, err)
	}
	return nil
}

// Close logs out and drops the connection.
func (m *imapMailbox) Close() error {
	if err := m.client.Logout().Wait(); err != nil {
		m.client.Close()
		return err
	}
	return m.client.Close()
}

// decodeMessage turns a fetch buffer into a Message: envelope fields
// plus the first text/plain body part.
func decodeMessage(buf *imapclient.FetchMessageBuffer) (*Message, error) {
	env := buf.Envelope
	if env == nil {
		return nil, fmt.Errorf("message %d has no envelope", buf.SeqNum)
	}

	msg := &Message{
		SeqNum:    buf.SeqNum,
		MessageID: env.MessageID,
		Subject:   env.Subject,
		Date:      env.Date,
	}
	if len(env.InReplyTo) > 0 {
		msg.InReplyTo = env.InReplyTo[0]
	}
	if len(env.From) > 0 {
		msg.FromAddress = strings.ToLower(env.From[0].Addr())
		msg.FromName = env.From[0].Name
	}

	for _, section := range buf.BodySection {
		if msg.Raw == nil {
			msg.Raw = section
		}
		body, html := extractText(section)
		if body != "" {
			msg.Body = body
		} else if msg.Body == "" && html != "" {
			msg.Body = html
		}
	}
	return msg, nil
}

// extractText walks the MIME parts and returns the plaintext and html
// bodies. Attachments are ignored.
func extractText(raw []byte) (plain, html string) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", ""
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, _ := io.ReadAll(part.Body)
		switch {
		case strings.HasPrefix(ct, "text/plain"):
			plain = string(body)
		case strings.HasPrefix(ct, "text/html"):
			html = string(body)
		}
	}
	return plain, html
}
