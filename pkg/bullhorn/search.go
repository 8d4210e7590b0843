package bullhorn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

var (
	clientContactFields = []string{"id", "email", "phone"}
	leadFields          = []string{"id", "email", "phone", "mobile"}
)

// FindClientContact returns the ClientContact whose email exactly matches,
// or nil when no candidate has a perfect score.
func FindClientContact(ctx context.Context, c Client, sess *Session, email string) (*ClientContact, error) {
	resp, err := c.Search(ctx, sess, EntityClientContact, emailQuery(email), clientContactFields)
	if err != nil {
		return nil, eris.Wrapf(err, "bullhorn: find client contact %s", email)
	}
	return perfectMatch[ClientContact](resp, func(cc ClientContact) float64 { return cc.Score })
}

// FindLead returns the Lead whose email exactly matches, or nil when no
// candidate has a perfect score.
func FindLead(ctx context.Context, c Client, sess *Session, email string) (*Lead, error) {
	resp, err := c.Search(ctx, sess, EntityLead, emailQuery(email), leadFields)
	if err != nil {
		return nil, eris.Wrapf(err, "bullhorn: find lead %s", email)
	}
	return perfectMatch[Lead](resp, func(l Lead) float64 { return l.Score })
}

func emailQuery(email string) string {
	return fmt.Sprintf(`email:"%s"`, strings.ReplaceAll(email, `"`, `\"`))
}

// perfectMatch decodes candidates in order and returns the first one with a
// perfect score.
func perfectMatch[T any](resp *SearchResponse, score func(T) float64) (*T, error) {
	if resp == nil {
		return nil, nil
	}
	for i, raw := range resp.Data {
		var cand T
		if err := json.Unmarshal(raw, &cand); err != nil {
			return nil, eris.Wrapf(err, "bullhorn: decode candidate %d", i)
		}
		if score(cand) == PerfectScore {
			return &cand, nil
		}
	}
	return nil, nil
}
