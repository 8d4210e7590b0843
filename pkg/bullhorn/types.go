package bullhorn

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Entity is a Bullhorn entity name.
type Entity string

const (
	EntityClientContact Entity = "ClientContact"
	EntityLead          Entity = "Lead"
)

// TokenPair is the result of the OAuth code exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// RestSession is the result of the REST login.
type RestSession struct {
	RestToken string `json:"BhRestToken"`
	RestURL   string `json:"restUrl"`
}

// Session is the credential chain built by Authenticate. Each field depends
// on the one before it; entity calls need RestToken and RestURL.
type Session struct {
	AuthCode     string
	AccessToken  string
	RefreshToken string
	RestToken    string
	RestURL      string
}

// Ready reports whether the session can be used for entity calls.
func (s *Session) Ready() bool {
	return s != nil && s.RestToken != "" && s.RestURL != ""
}

func (s *Session) check() error {
	if !s.Ready() {
		return eris.New("bullhorn: session is not authenticated")
	}
	return nil
}

func (s *Session) endpoint(parts ...string) string {
	return strings.TrimSuffix(s.RestURL, "/") + "/" + strings.Join(parts, "/")
}

// SearchResponse is the envelope returned by /search/{entity}.
type SearchResponse struct {
	Total int               `json:"total"`
	Start int               `json:"start"`
	Count int               `json:"count"`
	Data  []json.RawMessage `json:"data"`
}

// PerfectScore is the search score of an exact match on the query field.
const PerfectScore = 1.0

// ClientContact is the subset of a Bullhorn ClientContact the enricher reads.
type ClientContact struct {
	ID    int64   `json:"id"`
	Email string  `json:"email"`
	Phone string  `json:"phone"`
	Score float64 `json:"_score"`
}

// Lead is the subset of a Bullhorn Lead the enricher reads.
type Lead struct {
	ID     int64   `json:"id"`
	Email  string  `json:"email"`
	Phone  string  `json:"phone"`
	Mobile string  `json:"mobile"`
	Score  float64 `json:"_score"`
}

// LeadPhoneField names a phone-like field on a Lead.
type LeadPhoneField string

const (
	LeadFieldPhone  LeadPhoneField = "phone"
	LeadFieldMobile LeadPhoneField = "mobile"
)

// Reasons carried by AuthError.
const (
	ReasonAuthorize      = "authorize request failed"
	ReasonNoRedirectCode = "no redirect code"
	ReasonTokenExchange  = "token exchange failed"
	ReasonSessionLogin   = "session login failed"
)

// AuthError reports that no usable session could be obtained.
type AuthError struct {
	Reason string
	Err    error
}

func newAuthError(reason string, err error) *AuthError {
	return &AuthError{Reason: reason, Err: err}
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "bullhorn: auth: " + e.Reason
	}
	return "bullhorn: auth: " + e.Reason + ": " + e.Err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
