package mailbox

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessage struct {
	seq  uint32
	from *imap.Address
	raw  string
}

// fakeIMAP implements imapSession over canned folders.
type fakeIMAP struct {
	folders   map[string][]fakeMessage
	selected  string
	criteria  []*imap.SearchCriteria
	loginErr  error
	loggedIn  bool
	loggedOut bool
}

func (f *fakeIMAP) Login(string, string) error {
	if f.loginErr != nil {
		return f.loginErr
	}
	f.loggedIn = true
	return nil
}

func (f *fakeIMAP) Select(name string, _ bool) (*imap.MailboxStatus, error) {
	msgs, ok := f.folders[name]
	if !ok {
		return nil, errors.New("NO no such mailbox")
	}
	f.selected = name
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(msgs))}, nil
}

func (f *fakeIMAP) Search(c *imap.SearchCriteria) ([]uint32, error) {
	f.criteria = append(f.criteria, c)
	var seqs []uint32
	for _, m := range f.folders[f.selected] {
		seqs = append(seqs, m.seq)
	}
	return seqs, nil
}

func (f *fakeIMAP) Fetch(_ *imap.SeqSet, _ []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	msgs := f.folders[f.selected]
	// Deliver in reverse to check that results are put back in sequence order.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		section := &imap.BodySectionName{}
		ch <- &imap.Message{
			SeqNum:   m.seq,
			Envelope: &imap.Envelope{From: []*imap.Address{m.from}},
			Body:     map[*imap.BodySectionName]imap.Literal{section: bytes.NewBufferString(m.raw)},
		}
	}
	return nil
}

func (f *fakeIMAP) Logout() error {
	f.loggedOut = true
	return nil
}

func rawMail(from, body string) string {
	return strings.Join([]string{
		"From: " + from,
		"Subject: hello",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
}

const multipartMail = "From: c@client.com\r\n" +
	"Subject: multi\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>ignored</p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=iso-8859-1\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"T=E9l : 06 87 30 28 47\r\n" +
	"--XYZ--\r\n"

func newFakeSearcher(t *testing.T, f *fakeIMAP, folders ...string) *IMAP {
	t.Helper()
	m, err := NewIMAP(IMAPConfig{Host: "imap.example.com", Username: "u", Password: "p", Folders: folders})
	require.NoError(t, err)
	m.dial = func() (imapSession, error) { return f, nil }
	return m
}

func TestIMAP_Search_FoldersInOrder(t *testing.T) {
	f := &fakeIMAP{folders: map[string][]fakeMessage{
		"INBOX": {
			{seq: 1, from: &imap.Address{PersonalName: "Alice", MailboxName: "alice", HostName: "client.com"}, raw: rawMail("alice@client.com", "Call me 0102030405")},
			{seq: 2, from: &imap.Address{MailboxName: "bob", HostName: "client.com"}, raw: rawMail("bob@client.com", "no number")},
		},
		"Archive": {
			{seq: 7, from: &imap.Address{MailboxName: "c", HostName: "client.com"}, raw: multipartMail},
		},
		"Empty": {},
	}}
	m := newFakeSearcher(t, f, "INBOX", "Empty", "Archive")

	r := DateRange{
		After:  time.Date(2021, 4, 7, 9, 30, 0, 0, time.UTC),
		Before: time.Date(2021, 4, 9, 18, 0, 0, 0, time.UTC),
	}
	msgs, err := m.Search(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "Alice <alice@client.com>", msgs[0].Sender)
	assert.Equal(t, "Call me 0102030405", msgs[0].Body)
	assert.Equal(t, "bob@client.com", msgs[1].Sender)
	assert.Equal(t, "c@client.com", msgs[2].Sender)
	assert.Equal(t, "Tél : 06 87 30 28 47", msgs[2].Body)

	require.Len(t, f.criteria, 2)
	assert.Equal(t, time.Date(2021, 4, 7, 0, 0, 0, 0, time.UTC), f.criteria[0].Since)
	assert.Equal(t, time.Date(2021, 4, 9, 0, 0, 0, 0, time.UTC), f.criteria[0].Before)
	assert.True(t, f.loggedOut)
}

func TestIMAP_Search_LoginFails(t *testing.T) {
	f := &fakeIMAP{loginErr: errors.New("NO authentication failed")}
	m := newFakeSearcher(t, f)

	_, err := m.Search(context.Background(), DateRange{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap login")
	assert.True(t, f.loggedOut)
}

func TestIMAP_Search_UnknownFolder(t *testing.T) {
	f := &fakeIMAP{folders: map[string][]fakeMessage{}}
	m := newFakeSearcher(t, f, "Nope")

	_, err := m.Search(context.Background(), DateRange{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap select Nope")
}

func TestIMAP_Search_DialFails(t *testing.T) {
	m, err := NewIMAP(IMAPConfig{Host: "imap.example.com", Username: "u", Password: "p"})
	require.NoError(t, err)
	m.dial = func() (imapSession, error) { return nil, errors.New("connection refused") }

	_, err = m.Search(context.Background(), DateRange{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap connect")
}

func TestNewIMAP_Defaults(t *testing.T) {
	m, err := NewIMAP(IMAPConfig{Host: "imap.example.com", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, 993, m.cfg.Port)
	assert.Equal(t, []string{"INBOX"}, m.cfg.Folders)

	_, err = NewIMAP(IMAPConfig{Host: "imap.example.com"})
	assert.Error(t, err)
}

func TestEnvelopeSender(t *testing.T) {
	assert.Equal(t, "", envelopeSender(nil))
	assert.Equal(t, "", envelopeSender(&imap.Envelope{}))
	assert.Equal(t, "Bastien V <b@gmail.com>", envelopeSender(&imap.Envelope{
		From: []*imap.Address{{PersonalName: "Bastien V", MailboxName: "b", HostName: "gmail.com"}},
	}))
}

func TestMessageBody_NilReader(t *testing.T) {
	_, err := messageBody(nil)
	assert.Error(t, err)
}
