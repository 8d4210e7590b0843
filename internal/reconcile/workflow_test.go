package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/contact-enricher/internal/model"
	"github.com/sells-group/contact-enricher/internal/resilience"
	"github.com/sells-group/contact-enricher/pkg/bullhorn"
	"github.com/sells-group/contact-enricher/pkg/bullhorn/mocks"
)

var testRetry = resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: 1, MaxBackoff: 1}

func expectAuth(c *mocks.MockClient) {
	c.On("Authorize", mock.Anything).Return("code", nil).Once()
	c.On("ExchangeCode", mock.Anything, "code").Return(&bullhorn.TokenPair{AccessToken: "at", RefreshToken: "rt"}, nil).Once()
	c.On("Login", mock.Anything, "at").
		Return(&bullhorn.RestSession{RestToken: "bh", RestURL: "https://rest.example.com/rest-services/x/"}, nil).Once()
}

func candidates(t *testing.T, items ...map[string]any) *bullhorn.SearchResponse {
	t.Helper()
	resp := &bullhorn.SearchResponse{Total: len(items)}
	for _, it := range items {
		b, err := json.Marshal(it)
		require.NoError(t, err)
		resp.Data = append(resp.Data, b)
	}
	return resp
}

func expectSearch(c *mocks.MockClient, entity bullhorn.Entity, email string, resp *bullhorn.SearchResponse, err error) {
	c.On("Search", mock.Anything, mock.Anything, entity, `email:"`+email+`"`, mock.Anything).Return(resp, err).Once()
}

func staged(email, phone string) model.StagedContact {
	return model.StagedContact{Email: email, Phone: phone, Status: model.ContactStatusWaiting}
}

func TestWorkflow_ClientContactWithoutPhoneIsUpdated(t *testing.T) {
	c := mocks.NewMockClient(t)
	expectAuth(c)
	expectSearch(c, bullhorn.EntityClientContact, "a@client.com",
		candidates(t, map[string]any{"id": 46255, "email": "a@client.com", "phone": nil, "_score": 1.0}), nil)
	expectSearch(c, bullhorn.EntityLead, "a@client.com",
		candidates(t, map[string]any{"id": 87639, "email": "a@client.com", "_score": 1.0}), nil)
	c.On("Update", mock.Anything, mock.Anything, bullhorn.EntityClientContact, int64(46255),
		map[string]any{"phone": "+33 7 60 76 98 72"}).Return(nil).Once()

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("a@client.com", "'+33 7 60 76 98 72"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.ContactStatusUpdated, outcomes[0].Status)
	assert.Equal(t, bullhorn.EntityClientContact, outcomes[0].Entity)
	assert.Equal(t, "phone", outcomes[0].Field)
	assert.NoError(t, outcomes[0].Err)
}

func TestWorkflow_ClientContactWithPhoneShadowsLead(t *testing.T) {
	c := mocks.NewMockClient(t)
	expectAuth(c)
	expectSearch(c, bullhorn.EntityClientContact, "a@client.com",
		candidates(t, map[string]any{"id": 1, "phone": "0102030405", "_score": 1.0}), nil)
	expectSearch(c, bullhorn.EntityLead, "a@client.com",
		candidates(t, map[string]any{"id": 2, "_score": 1.0}), nil)

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("a@client.com", "'0687302847"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.ContactStatusAlreadyANumber, outcomes[0].Status)
	assert.Equal(t, bullhorn.EntityClientContact, outcomes[0].Entity)
	c.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkflow_LeadPhoneBeforeMobile(t *testing.T) {
	c := mocks.NewMockClient(t)
	expectAuth(c)

	expectSearch(c, bullhorn.EntityClientContact, "empty@client.com", candidates(t), nil)
	expectSearch(c, bullhorn.EntityLead, "empty@client.com",
		candidates(t, map[string]any{"id": 10, "phone": nil, "mobile": nil, "_score": 1.0}), nil)
	c.On("Update", mock.Anything, mock.Anything, bullhorn.EntityLead, int64(10),
		map[string]any{"phone": "0687302847"}).Return(nil).Once()

	expectSearch(c, bullhorn.EntityClientContact, "phone@client.com", candidates(t), nil)
	expectSearch(c, bullhorn.EntityLead, "phone@client.com",
		candidates(t, map[string]any{"id": 11, "phone": "0102030405", "mobile": "", "_score": 1.0}), nil)
	c.On("Update", mock.Anything, mock.Anything, bullhorn.EntityLead, int64(11),
		map[string]any{"mobile": "0687302847"}).Return(nil).Once()

	expectSearch(c, bullhorn.EntityClientContact, "full@client.com", candidates(t), nil)
	expectSearch(c, bullhorn.EntityLead, "full@client.com",
		candidates(t, map[string]any{"id": 12, "phone": "0102030405", "mobile": "0607080910", "_score": 1.0}), nil)

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("empty@client.com", "'0687302847"),
		staged("phone@client.com", "'0687302847"),
		staged("full@client.com", "'0687302847"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, model.ContactStatusUpdated, outcomes[0].Status)
	assert.Equal(t, "phone", outcomes[0].Field)
	assert.Equal(t, bullhorn.EntityLead, outcomes[0].Entity)

	assert.Equal(t, model.ContactStatusUpdated, outcomes[1].Status)
	assert.Equal(t, "mobile", outcomes[1].Field)

	assert.Equal(t, model.ContactStatusAlreadyANumber, outcomes[2].Status)
	assert.Empty(t, outcomes[2].Field)
}

func TestWorkflow_NoPerfectMatchIsNotFound(t *testing.T) {
	c := mocks.NewMockClient(t)
	expectAuth(c)
	expectSearch(c, bullhorn.EntityClientContact, "a@client.com",
		candidates(t, map[string]any{"id": 1, "_score": 0.8}), nil)
	expectSearch(c, bullhorn.EntityLead, "a@client.com", candidates(t), nil)

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("a@client.com", "'0687302847"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.ContactStatusNotFound, outcomes[0].Status)
	assert.Empty(t, outcomes[0].Entity)
}

func TestWorkflow_SearchFailureFailsOpen(t *testing.T) {
	c := mocks.NewMockClient(t)
	expectAuth(c)
	expectSearch(c, bullhorn.EntityClientContact, "a@client.com", nil, errors.New("connection reset by peer"))
	expectSearch(c, bullhorn.EntityLead, "a@client.com",
		candidates(t, map[string]any{"id": 7, "_score": 1.0}), nil)
	c.On("Update", mock.Anything, mock.Anything, bullhorn.EntityLead, int64(7),
		map[string]any{"phone": "0687302847"}).Return(nil).Once()

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("a@client.com", "'0687302847"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.ContactStatusUpdated, outcomes[0].Status)
	assert.Equal(t, bullhorn.EntityLead, outcomes[0].Entity)
}

func TestWorkflow_BothSearchesFailIsNotFound(t *testing.T) {
	c := mocks.NewMockClient(t)
	expectAuth(c)
	expectSearch(c, bullhorn.EntityClientContact, "a@client.com", nil, errors.New("boom"))
	expectSearch(c, bullhorn.EntityLead, "a@client.com", nil, errors.New("boom"))

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("a@client.com", "'0687302847"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ContactStatusNotFound, outcomes[0].Status)
}

func TestWorkflow_UpdateFailureDoesNotAbortBatch(t *testing.T) {
	c := mocks.NewMockClient(t)
	expectAuth(c)

	expectSearch(c, bullhorn.EntityClientContact, "a@client.com",
		candidates(t, map[string]any{"id": 1, "_score": 1.0}), nil)
	expectSearch(c, bullhorn.EntityLead, "a@client.com", candidates(t), nil)
	c.On("Update", mock.Anything, mock.Anything, bullhorn.EntityClientContact, int64(1), mock.Anything).
		Return(errors.New("bullhorn: unexpected status 500")).Once()

	expectSearch(c, bullhorn.EntityClientContact, "b@client.com",
		candidates(t, map[string]any{"id": 2, "_score": 1.0}), nil)
	expectSearch(c, bullhorn.EntityLead, "b@client.com", candidates(t), nil)
	c.On("Update", mock.Anything, mock.Anything, bullhorn.EntityClientContact, int64(2), mock.Anything).
		Return(nil).Once()

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("a@client.com", "'0102030405"),
		staged("b@client.com", "'0607080910"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a@client.com", outcomes[0].Email)
	assert.Equal(t, model.ContactStatusError, outcomes[0].Status)
	assert.Error(t, outcomes[0].Err)
	assert.Equal(t, "b@client.com", outcomes[1].Email)
	assert.Equal(t, model.ContactStatusUpdated, outcomes[1].Status)
}

func TestWorkflow_EmptyStagedPhoneIsError(t *testing.T) {
	c := mocks.NewMockClient(t)
	expectAuth(c)
	expectSearch(c, bullhorn.EntityClientContact, "a@client.com",
		candidates(t, map[string]any{"id": 1, "_score": 1.0}), nil)
	expectSearch(c, bullhorn.EntityLead, "a@client.com", candidates(t), nil)

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("a@client.com", "'"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.ContactStatusError, outcomes[0].Status)
}

func TestWorkflow_AuthFailureProcessesNothing(t *testing.T) {
	c := mocks.NewMockClient(t)
	c.On("Authorize", mock.Anything).Return("", &bullhorn.AuthError{Reason: bullhorn.ReasonNoRedirectCode}).Once()

	outcomes, err := NewWorkflow(c, testRetry).Run(context.Background(), []model.StagedContact{
		staged("a@client.com", "'0687302847"),
	})
	require.Error(t, err)
	assert.Nil(t, outcomes)

	var ae *bullhorn.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, bullhorn.ReasonNoRedirectCode, ae.Reason)
	c.AssertNotCalled(t, "Search", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorkflow_CancelledBetweenContacts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	c := mocks.NewMockClient(t)
	expectAuth(c)
	expectSearch(c, bullhorn.EntityClientContact, "a@client.com", candidates(t), nil)
	c.On("Search", mock.Anything, mock.Anything, bullhorn.EntityLead, `email:"a@client.com"`, mock.Anything).
		Return(func(context.Context, *bullhorn.Session, bullhorn.Entity, string, []string) (*bullhorn.SearchResponse, error) {
			cancel()
			return candidates(t), nil
		}).Once()

	outcomes, err := NewWorkflow(c, testRetry).Run(ctx, []model.StagedContact{
		staged("a@client.com", "'0687302847"),
		staged("b@client.com", "'0687302847"),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, outcomes, 1)
	assert.Equal(t, model.ContactStatusNotFound, outcomes[0].Status)
}

func TestWorkflow_CancelledDuringSearchLeavesContactWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	c := mocks.NewMockClient(t)
	expectAuth(c)
	c.On("Search", mock.Anything, mock.Anything, mock.Anything, `email:"a@client.com"`, mock.Anything).
		Return(func(context.Context, *bullhorn.Session, bullhorn.Entity, string, []string) (*bullhorn.SearchResponse, error) {
			cancel()
			return nil, context.Canceled
		}).Twice()

	outcomes, err := NewWorkflow(c, testRetry).Run(ctx, []model.StagedContact{
		staged("a@client.com", "'0687302847"),
		staged("b@client.com", "'0687302847"),
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes, "an interrupted search must not become not found")
}

func TestWorkflow_CancelledDuringUpdateLeavesContactWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	c := mocks.NewMockClient(t)
	expectAuth(c)
	expectSearch(c, bullhorn.EntityClientContact, "a@client.com",
		candidates(t, map[string]any{"id": 7, "_score": 1.0}), nil)
	expectSearch(c, bullhorn.EntityLead, "a@client.com", candidates(t), nil)
	c.On("Update", mock.Anything, mock.Anything, bullhorn.EntityClientContact, int64(7), mock.Anything).
		Return(func(context.Context, *bullhorn.Session, bullhorn.Entity, int64, map[string]any) error {
			cancel()
			return context.Canceled
		}).Once()

	outcomes, err := NewWorkflow(c, testRetry).Run(ctx, []model.StagedContact{
		staged("a@client.com", "'0687302847"),
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes, "an interrupted write must not become error")
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		contact *bullhorn.ClientContact
		lead    *bullhorn.Lead
		want    action
	}{
		{
			name: "neither",
			want: action{status: model.ContactStatusNotFound},
		},
		{
			name:    "contact without phone",
			contact: &bullhorn.ClientContact{ID: 1},
			lead:    &bullhorn.Lead{ID: 2},
			want:    action{entity: bullhorn.EntityClientContact, id: 1, field: "phone", status: model.ContactStatusUpdated},
		},
		{
			name:    "contact with phone",
			contact: &bullhorn.ClientContact{ID: 1, Phone: "0102030405"},
			lead:    &bullhorn.Lead{ID: 2},
			want:    action{entity: bullhorn.EntityClientContact, id: 1, status: model.ContactStatusAlreadyANumber},
		},
		{
			name: "lead without phone",
			lead: &bullhorn.Lead{ID: 2, Mobile: "0607080910"},
			want: action{entity: bullhorn.EntityLead, id: 2, field: "phone", status: model.ContactStatusUpdated},
		},
		{
			name: "lead with phone only",
			lead: &bullhorn.Lead{ID: 2, Phone: "0102030405"},
			want: action{entity: bullhorn.EntityLead, id: 2, field: "mobile", status: model.ContactStatusUpdated},
		},
		{
			name: "lead with both",
			lead: &bullhorn.Lead{ID: 2, Phone: "0102030405", Mobile: "0607080910"},
			want: action{entity: bullhorn.EntityLead, id: 2, status: model.ContactStatusAlreadyANumber},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.contact, tt.lead))
		})
	}
}
