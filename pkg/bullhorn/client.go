// Package bullhorn provides the slice of the Bullhorn REST API used to
// enrich contacts: the OAuth login chain, scored entity search and partial
// entity updates.
package bullhorn

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/sells-group/contact-enricher/internal/resilience"
)

const (
	defaultAuthURL  = "https://auth.bullhornstaffing.com/oauth"
	defaultLoginURL = "https://rest.bullhornstaffing.com/rest-services"

	restTokenHeader = "BhRestToken"
)

// Client defines the Bullhorn API operations used by the enricher.
type Client interface {
	Authorize(ctx context.Context) (string, error)
	ExchangeCode(ctx context.Context, code string) (*TokenPair, error)
	Login(ctx context.Context, accessToken string) (*RestSession, error)
	Search(ctx context.Context, sess *Session, entity Entity, query string, fields []string) (*SearchResponse, error)
	Update(ctx context.Context, sess *Session, entity Entity, id int64, fields map[string]any) error
}

// Credentials identify the API user and the OAuth client.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Option configures the client.
type Option func(*httpClient)

// WithAuthURL overrides the OAuth base URL.
func WithAuthURL(u string) Option {
	return func(c *httpClient) {
		c.authURL = strings.TrimSuffix(u, "/")
	}
}

// WithLoginURL overrides the REST login base URL.
func WithLoginURL(u string) Option {
	return func(c *httpClient) {
		c.loginURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithSearchCount sets how many candidates a search asks for.
func WithSearchCount(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.searchCount = n
		}
	}
}

// WithRateLimit paces REST calls to rps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	creds       Credentials
	authURL     string
	loginURL    string
	searchCount int
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient creates a Bullhorn API client.
func NewClient(creds Credentials, opts ...Option) Client {
	c := &httpClient{
		creds:       creds,
		authURL:     defaultAuthURL,
		loginURL:    defaultLoginURL,
		searchCount: 5,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.authURL + "/authorize",
			TokenURL:  c.authURL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

var redirectCode = regexp.MustCompile(`code=([\w%\-]+)`)

// Authorize runs the credential login and returns the authorization code
// carried by the redirect. Redirects are not followed.
func (c *httpClient) Authorize(ctx context.Context) (string, error) {
	authURL := c.oauthConfig().AuthCodeURL("enricher",
		oauth2.SetAuthURLParam("action", "Login"),
		oauth2.SetAuthURLParam("username", c.creds.Username),
		oauth2.SetAuthURLParam("password", c.creds.Password),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "bullhorn: create authorize request")
	}

	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return "", newAuthError(ReasonAuthorize, eris.Wrap(err, "bullhorn: send authorize request"))
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	m := redirectCode.FindStringSubmatch(resp.Header.Get("Location"))
	if m == nil {
		return "", newAuthError(ReasonNoRedirectCode, eris.Errorf("bullhorn: authorize returned status %d without code", resp.StatusCode))
	}
	code, err := url.QueryUnescape(m[1])
	if err != nil {
		return "", newAuthError(ReasonNoRedirectCode, eris.Wrap(err, "bullhorn: unescape code"))
	}
	return code, nil
}

// ExchangeCode trades an authorization code for access and refresh tokens.
func (c *httpClient) ExchangeCode(ctx context.Context, code string) (*TokenPair, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return nil, newAuthError(ReasonTokenExchange, eris.Wrap(err, "bullhorn: exchange code"))
	}
	if tok.AccessToken == "" {
		return nil, newAuthError(ReasonTokenExchange, eris.New("bullhorn: empty access token"))
	}
	return &TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken}, nil
}

// Login trades an access token for a REST session. It makes a single
// attempt; Authenticate owns the retry policy.
func (c *httpClient) Login(ctx context.Context, accessToken string) (*RestSession, error) {
	q := url.Values{}
	q.Set("version", "*")
	q.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL+"/login?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "bullhorn: create login request")
	}

	body, err := c.do(req)
	if err != nil {
		return nil, eris.Wrap(err, "bullhorn: login")
	}

	var rs RestSession
	if err := json.Unmarshal(body, &rs); err != nil {
		return nil, eris.Wrap(err, "bullhorn: unmarshal login response")
	}
	if rs.RestToken == "" || rs.RestURL == "" {
		return nil, eris.New("bullhorn: login response missing BhRestToken or restUrl")
	}
	return &rs, nil
}

// Search runs an entity search and returns the raw scored candidates.
func (c *httpClient) Search(ctx context.Context, sess *Session, entity Entity, query string, fields []string) (*SearchResponse, error) {
	if err := sess.check(); err != nil {
		return nil, err
	}
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "bullhorn: rate limit")
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("fields", strings.Join(fields, ","))
	q.Set("count", strconv.Itoa(c.searchCount))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sess.endpoint("search", string(entity))+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "bullhorn: create search request")
	}
	req.Header.Set(restTokenHeader, sess.RestToken)

	body, err := c.do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "bullhorn: search %s", entity)
	}

	var out SearchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrapf(err, "bullhorn: unmarshal %s search", entity)
	}
	return &out, nil
}

// Update sets fields on one entity. Any 2xx response counts as success.
func (c *httpClient) Update(ctx context.Context, sess *Session, entity Entity, id int64, fields map[string]any) error {
	if err := sess.check(); err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "bullhorn: rate limit")
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return eris.Wrap(err, "bullhorn: marshal update")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.endpoint("entity", string(entity), strconv.FormatInt(id, 10)), bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "bullhorn: create update request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(restTokenHeader, sess.RestToken)

	if _, err := c.do(req); err != nil {
		return eris.Wrapf(err, "bullhorn: update %s %d", entity, id)
	}
	return nil
}

// do sends req and returns the body of a 2xx response.
func (c *httpClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, resilience.StatusError("bullhorn", resp.StatusCode, string(body))
	}
	return body, nil
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
