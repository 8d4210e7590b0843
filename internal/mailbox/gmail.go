package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sells-group/contact-enricher/internal/model"
)

const gmailUser = "me"

// GmailConfig locates the OAuth files for the Gmail backend.
type GmailConfig struct {
	CredentialsFile string // OAuth client secret JSON from the Google console
	TokenFile       string // cached user token written by AuthorizeGmail
	Concurrency     int    // parallel thread fetches; default 4
}

// Gmail searches a Gmail mailbox through the Gmail REST API.
type Gmail struct {
	srv         *gmail.Service
	concurrency int
}

// NewGmail builds a Gmail searcher from the client secret and a previously
// saved token. It never prompts; run AuthorizeGmail first.
func NewGmail(ctx context.Context, cfg GmailConfig) (*Gmail, error) {
	oauthCfg, err := gmailOAuthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: gmail token %s (run the gmail-auth command first)", cfg.TokenFile)
	}
	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauthCfg.Client(ctx, tok)))
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: create gmail service")
	}
	return NewGmailService(srv, cfg.Concurrency), nil
}

// NewGmailService wraps an existing Gmail service.
func NewGmailService(srv *gmail.Service, concurrency int) *Gmail {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Gmail{srv: srv, concurrency: concurrency}
}

// Search lists the threads matching r and returns every message of those
// threads, threads in listing order and messages in thread order.
func (g *Gmail) Search(ctx context.Context, r DateRange) ([]model.Message, error) {
	query := r.Query()
	log := zap.L().With(zap.String("query", query))

	var ids []string
	err := g.srv.Users.Threads.List(gmailUser).Q(query).Pages(ctx, func(page *gmail.ListThreadsResponse) error {
		for _, t := range page.Threads {
			ids = append(ids, t.Id)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: gmail list threads")
	}
	log.Debug("mailbox: gmail threads listed", zap.Int("threads", len(ids)))

	threads := make([][]model.Message, len(ids))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, id := range ids {
		eg.Go(func() error {
			t, err := g.srv.Users.Threads.Get(gmailUser, id).Format("full").Context(gctx).Do()
			if err != nil {
				return eris.Wrapf(err, "mailbox: gmail get thread %s", id)
			}
			for _, m := range t.Messages {
				threads[i] = append(threads[i], gmailMessage(m))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []model.Message
	for _, msgs := range threads {
		out = append(out, msgs...)
	}
	log.Info("mailbox: gmail search complete", zap.Int("threads", len(ids)), zap.Int("messages", len(out)))
	return out, nil
}

func gmailMessage(m *gmail.Message) model.Message {
	var msg model.Message
	if m.Payload == nil {
		return msg
	}
	for _, h := range m.Payload.Headers {
		if strings.EqualFold(h.Name, "From") {
			msg.Sender = h.Value
			break
		}
	}
	msg.Body = plainTextBody(m.Payload)
	return msg
}

// plainTextBody returns the first text/plain part found depth-first.
func plainTextBody(part *gmail.MessagePart) string {
	if strings.EqualFold(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		data, err := decodeBase64URL(part.Body.Data)
		if err == nil {
			return string(data)
		}
		zap.L().Warn("mailbox: undecodable text/plain part", zap.String("part_id", part.PartId), zap.Error(err))
	}
	for _, p := range part.Parts {
		mt := strings.ToLower(p.MimeType)
		if strings.HasPrefix(mt, "text/") || strings.HasPrefix(mt, "multipart/") {
			if body := plainTextBody(p); body != "" {
				return body
			}
		}
	}
	return ""
}

func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

func gmailOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, eris.Wrapf(err, "mailbox: read gmail credentials %s", credentialsFile)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, eris.Wrap(err, "mailbox: parse gmail credentials")
	}
	return cfg, nil
}

// AuthorizeGmail runs the installed-app consent flow: it prints the consent
// URL to out, reads the authorization code from in, and saves the token.
func AuthorizeGmail(ctx context.Context, cfg GmailConfig, in io.Reader, out io.Writer) error {
	oauthCfg, err := gmailOAuthConfig(cfg.CredentialsFile)
	if err != nil {
		return err
	}
	authURL := oauthCfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following link in your browser, then paste the authorization code:\n%s\n", authURL)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return eris.Wrap(err, "mailbox: read authorization code")
	}
	tok, err := oauthCfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return eris.Wrap(err, "mailbox: exchange authorization code")
	}
	return saveToken(cfg.TokenFile, tok)
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return eris.Wrapf(err, "mailbox: save token %s", path)
	}
	defer f.Close()
	return eris.Wrap(json.NewEncoder(f).Encode(tok), "mailbox: encode token")
}
