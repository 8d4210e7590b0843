package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sells-group/contact-enricher/internal/model"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func textMessage(from, body string) map[string]any {
	return map[string]any{
		"payload": map[string]any{
			"mimeType": "text/plain",
			"headers":  []map[string]string{{"name": "Subject", "value": "hi"}, {"name": "From", "value": from}},
			"body":     map[string]any{"data": b64(body)},
		},
	}
}

func newGmailTestServer(t *testing.T, handler http.HandlerFunc) *Gmail {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := gmail.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewGmailService(svc, 2)
}

func TestGmail_Search_PagesAndPreservesOrder(t *testing.T) {
	var listCalls atomic.Int32
	g := newGmailTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/gmail/v1/users/me/threads":
			listCalls.Add(1)
			assert.Equal(t, "after:2021/4/7 before:2021/4/9", r.URL.Query().Get("q"))
			if r.URL.Query().Get("pageToken") == "" {
				json.NewEncoder(w).Encode(map[string]any{
					"threads":       []map[string]string{{"id": "t1"}, {"id": "t2"}},
					"nextPageToken": "p2",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"threads": []map[string]string{{"id": "t3"}}})
		case strings.HasPrefix(r.URL.Path, "/gmail/v1/users/me/threads/"):
			id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/threads/")
			assert.Equal(t, "full", r.URL.Query().Get("format"))
			if id == "t1" {
				// Finish last so ordering cannot come from completion order.
				time.Sleep(20 * time.Millisecond)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"id": id,
				"messages": []map[string]any{
					textMessage("A <a@client.com>", id+"-1"),
					textMessage("B <b@client.com>", id+"-2"),
				},
			})
		default:
			http.NotFound(w, r)
		}
	})

	msgs, err := g.Search(context.Background(), DateRange{
		After:  time.Date(2021, 4, 7, 0, 0, 0, 0, time.UTC),
		Before: time.Date(2021, 4, 9, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), listCalls.Load())

	var bodies []string
	for _, m := range msgs {
		bodies = append(bodies, m.Body)
	}
	assert.Equal(t, []string{"t1-1", "t1-2", "t2-1", "t2-2", "t3-1", "t3-2"}, bodies)
	assert.Equal(t, "A <a@client.com>", msgs[0].Sender)
}

func TestGmail_Search_ThreadError(t *testing.T) {
	g := newGmailTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gmail/v1/users/me/threads" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"threads": []map[string]string{{"id": "t1"}}})
			return
		}
		http.Error(w, `{"error":{"code":500,"message":"backend"}}`, http.StatusInternalServerError)
	})

	_, err := g.Search(context.Background(), DateRange{
		After:  time.Date(2021, 4, 7, 0, 0, 0, 0, time.UTC),
		Before: time.Date(2021, 4, 8, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gmail get thread t1")
}

func TestGmail_Search_NoThreads(t *testing.T) {
	g := newGmailTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"resultSizeEstimate":0}`))
	})

	msgs, err := g.Search(context.Background(), DateRange{
		After:  time.Date(2021, 4, 7, 0, 0, 0, 0, time.UTC),
		Before: time.Date(2021, 4, 8, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestPlainTextBody_Multipart(t *testing.T) {
	part := &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "application/pdf", Body: &gmail.MessagePartBody{Data: b64("%PDF")}},
			{
				MimeType: "multipart/alternative",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>Tel: 06 87 30 28 47</p>")}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("Tel: 06 87 30 28 47")}},
				},
			},
		},
	}
	assert.Equal(t, "Tel: 06 87 30 28 47", plainTextBody(part))
}

func TestPlainTextBody_Unpadded(t *testing.T) {
	part := &gmail.MessagePart{
		MimeType: "text/plain",
		Body:     &gmail.MessagePartBody{Data: base64.RawURLEncoding.EncodeToString([]byte("ab"))},
	}
	assert.Equal(t, "ab", plainTextBody(part))
}

func TestGmailMessage_NoPayload(t *testing.T) {
	assert.Equal(t, model.Message{}, gmailMessage(&gmail.Message{}))
}

func TestTokenFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	tok := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer"}

	require.NoError(t, saveToken(path, tok))
	got, err := tokenFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)

	_, err = tokenFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNewGmail_MissingCredentials(t *testing.T) {
	_, err := NewGmail(context.Background(), GmailConfig{
		CredentialsFile: filepath.Join(t.TempDir(), "credentials.json"),
		TokenFile:       filepath.Join(t.TempDir(), "token.json"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read gmail credentials")
}
