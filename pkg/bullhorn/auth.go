package bullhorn

import (
	"context"
	"errors"

	"github.com/sells-group/contact-enricher/internal/resilience"
)

// Authenticate builds a Session by chaining authorize, code exchange and
// REST login. The login step is retried on any failure until retry is
// exhausted or ctx is done. Every failure is returned as *AuthError.
func Authenticate(ctx context.Context, c Client, retry resilience.RetryConfig) (*Session, error) {
	sess := &Session{}

	code, err := c.Authorize(ctx)
	if err != nil {
		return nil, asAuthError(ReasonAuthorize, err)
	}
	sess.AuthCode = code

	tokens, err := c.ExchangeCode(ctx, sess.AuthCode)
	if err != nil {
		return nil, asAuthError(ReasonTokenExchange, err)
	}
	sess.AccessToken = tokens.AccessToken
	sess.RefreshToken = tokens.RefreshToken

	retry.ShouldRetry = resilience.RetryAny
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("bullhorn", "login")
	}
	rest, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*RestSession, error) {
		return c.Login(ctx, sess.AccessToken)
	})
	if err != nil {
		return nil, newAuthError(ReasonSessionLogin, err)
	}
	sess.RestToken = rest.RestToken
	sess.RestURL = rest.RestURL

	return sess, nil
}

func asAuthError(reason string, err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		return err
	}
	return newAuthError(reason, err)
}
