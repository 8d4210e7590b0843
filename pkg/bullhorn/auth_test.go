package bullhorn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enricher/internal/resilience"
	"github.com/sells-group/contact-enricher/pkg/bullhorn"
	"github.com/sells-group/contact-enricher/pkg/bullhorn/mocks"
)

func loginRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}
}

func TestAuthenticate_ChainsTokens(t *testing.T) {
	t.Parallel()

	c := mocks.NewMockClient(t)
	c.On("Authorize", mock.Anything).Return("22:code", nil).Once()
	c.On("ExchangeCode", mock.Anything, "22:code").
		Return(&bullhorn.TokenPair{AccessToken: "22:access", RefreshToken: "22:refresh"}, nil).Once()
	c.On("Login", mock.Anything, "22:access").
		Return(&bullhorn.RestSession{RestToken: "bh", RestURL: "https://rest22.example.com/rest-services/x/"}, nil).Once()

	sess, err := bullhorn.Authenticate(context.Background(), c, loginRetry(3))
	require.NoError(t, err)
	assert.Equal(t, &bullhorn.Session{
		AuthCode:     "22:code",
		AccessToken:  "22:access",
		RefreshToken: "22:refresh",
		RestToken:    "bh",
		RestURL:      "https://rest22.example.com/rest-services/x/",
	}, sess)
	assert.True(t, sess.Ready())
}

func TestAuthenticate_RetriesLoginUntilSuccess(t *testing.T) {
	t.Parallel()

	c := mocks.NewMockClient(t)
	c.On("Authorize", mock.Anything).Return("code", nil)
	c.On("ExchangeCode", mock.Anything, "code").Return(&bullhorn.TokenPair{AccessToken: "at"}, nil)
	c.On("Login", mock.Anything, "at").Return(nil, errors.New("bullhorn: unexpected status 500")).Times(3)
	c.On("Login", mock.Anything, "at").Return(&bullhorn.RestSession{RestToken: "bh", RestURL: "https://r/"}, nil).Once()

	var retries []int
	retry := loginRetry(10)
	retry.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	sess, err := bullhorn.Authenticate(context.Background(), c, retry)
	require.NoError(t, err)
	assert.Equal(t, "bh", sess.RestToken)
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestAuthenticate_LoginBoundExhausted(t *testing.T) {
	t.Parallel()

	c := mocks.NewMockClient(t)
	c.On("Authorize", mock.Anything).Return("code", nil)
	c.On("ExchangeCode", mock.Anything, "code").Return(&bullhorn.TokenPair{AccessToken: "at"}, nil)
	c.On("Login", mock.Anything, "at").Return(nil, errors.New("invalid character '<'")).Times(4)

	_, err := bullhorn.Authenticate(context.Background(), c, loginRetry(4))
	require.Error(t, err)

	var ae *bullhorn.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, bullhorn.ReasonSessionLogin, ae.Reason)
}

func TestAuthenticate_NoRedirectCodeStopsChain(t *testing.T) {
	t.Parallel()

	c := mocks.NewMockClient(t)
	c.On("Authorize", mock.Anything).
		Return("", &bullhorn.AuthError{Reason: bullhorn.ReasonNoRedirectCode}).Once()

	_, err := bullhorn.Authenticate(context.Background(), c, loginRetry(3))
	require.Error(t, err)

	var ae *bullhorn.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, bullhorn.ReasonNoRedirectCode, ae.Reason)
	c.AssertNotCalled(t, "ExchangeCode", mock.Anything, mock.Anything)
}

func TestAuthenticate_TransportErrorBecomesAuthError(t *testing.T) {
	t.Parallel()

	c := mocks.NewMockClient(t)
	c.On("Authorize", mock.Anything).Return("code", nil)
	c.On("ExchangeCode", mock.Anything, "code").Return(nil, errors.New("dial tcp: connection refused"))

	_, err := bullhorn.Authenticate(context.Background(), c, loginRetry(3))

	var ae *bullhorn.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, bullhorn.ReasonTokenExchange, ae.Reason)
	c.AssertNotCalled(t, "Login", mock.Anything, mock.Anything)
}

func TestAuthenticate_ContextCancelledDuringLogin(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	c := mocks.NewMockClient(t)
	c.On("Authorize", mock.Anything).Return("code", nil)
	c.On("ExchangeCode", mock.Anything, "code").Return(&bullhorn.TokenPair{AccessToken: "at"}, nil)
	c.On("Login", mock.Anything, "at").Return(func(context.Context, string) (*bullhorn.RestSession, error) {
		cancel()
		return nil, errors.New("bullhorn: unexpected status 500")
	}).Once()

	_, err := bullhorn.Authenticate(ctx, c, loginRetry(100))

	var ae *bullhorn.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, bullhorn.ReasonSessionLogin, ae.Reason)
}
