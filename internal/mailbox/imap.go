package mailbox

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/contact-enricher/internal/model"
)

// IMAPConfig holds IMAP connection settings.
type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	TLS      bool
	Folders  []string // default INBOX
}

// imapSession is the part of *client.Client the searcher uses.
type imapSession interface {
	Login(username, password string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Search(criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// IMAP searches one or more folders of an IMAP mailbox.
type IMAP struct {
	cfg  IMAPConfig
	dial func() (imapSession, error)
}

// NewIMAP creates an IMAP searcher. Connections are opened per search.
func NewIMAP(cfg IMAPConfig) (*IMAP, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, eris.New("mailbox: imap host, username and password are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if len(cfg.Folders) == 0 {
		cfg.Folders = []string{"INBOX"}
	}
	m := &IMAP{cfg: cfg}
	m.dial = m.dialServer
	return m, nil
}

func (m *IMAP) dialServer() (imapSession, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	if m.cfg.TLS {
		return client.DialTLS(addr, nil)
	}
	return client.Dial(addr)
}

// Search runs SINCE/BEFORE over each configured folder and returns the
// messages folder by folder in sequence order.
func (m *IMAP) Search(ctx context.Context, r DateRange) ([]model.Message, error) {
	c, err := m.dial()
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: imap connect")
	}
	defer c.Logout() //nolint:errcheck

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		return nil, eris.Wrap(err, "mailbox: imap login")
	}

	var out []model.Message
	for _, folder := range m.cfg.Folders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := searchFolder(c, folder, r)
		if err != nil {
			return nil, err
		}
		zap.L().Debug("mailbox: imap folder searched", zap.String("folder", folder), zap.Int("messages", len(msgs)))
		out = append(out, msgs...)
	}
	zap.L().Info("mailbox: imap search complete", zap.String("query", r.Query()), zap.Int("messages", len(out)))
	return out, nil
}

func searchFolder(c imapSession, folder string, r DateRange) ([]model.Message, error) {
	status, err := c.Select(folder, true)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: imap select %s", folder)
	}
	if status != nil && status.Messages == 0 {
		return nil, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = dayOf(r.After)
	criteria.Before = dayOf(r.Before)
	seqNums, err := c.Search(criteria)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: imap search %s", folder)
	}
	if len(seqNums) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var fetched []*imap.Message
	for msg := range messages {
		if msg != nil {
			fetched = append(fetched, msg)
		}
	}
	if err := <-done; err != nil {
		return nil, eris.Wrapf(err, "mailbox: imap fetch %s", folder)
	}
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].SeqNum < fetched[j].SeqNum })

	out := make([]model.Message, 0, len(fetched))
	for _, msg := range fetched {
		body, err := messageBody(msg.GetBody(section))
		if err != nil {
			zap.L().Warn("mailbox: imap body unreadable", zap.String("folder", folder), zap.Uint32("seq", msg.SeqNum), zap.Error(err))
		}
		out = append(out, model.Message{Sender: envelopeSender(msg.Envelope), Body: body})
	}
	return out, nil
}

// envelopeSender renders the first From address as "Name <addr>".
func envelopeSender(env *imap.Envelope) string {
	if env == nil || len(env.From) == 0 {
		return ""
	}
	from := env.From[0]
	addr := from.Address()
	if from.PersonalName == "" {
		return addr
	}
	return from.PersonalName + " <" + addr + ">"
}

// messageBody returns the concatenated text/plain inline parts of a raw
// RFC 5322 message.
func messageBody(r io.Reader) (string, error) {
	if r == nil {
		return "", eris.New("mailbox: no body section")
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", eris.Wrap(err, "mailbox: create mail reader")
	}

	var parts []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return strings.Join(parts, "\n"), eris.Wrap(err, "mailbox: read next part")
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType != "" && !strings.HasPrefix(contentType, "text/plain") {
			continue
		}
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return strings.Join(parts, "\n"), eris.Wrap(err, "mailbox: read body")
		}
		parts = append(parts, strings.TrimSpace(string(b)))
	}
	return strings.Join(parts, "\n"), nil
}
