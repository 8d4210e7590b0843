// Package mocks provides test doubles for the bullhorn client.
package mocks

import (
	"context"

	bullhorn "github.com/sells-group/contact-enricher/pkg/bullhorn"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Authorize provides a mock function with given fields: ctx
func (_m *MockClient) Authorize(ctx context.Context) (string, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Authorize")
	}

	if rf, ok := ret.Get(0).(func(context.Context) (string, error)); ok {
		return rf(ctx)
	}
	return ret.String(0), ret.Error(1)
}

// ExchangeCode provides a mock function with given fields: ctx, code
func (_m *MockClient) ExchangeCode(ctx context.Context, code string) (*bullhorn.TokenPair, error) {
	ret := _m.Called(ctx, code)

	if len(ret) == 0 {
		panic("no return value specified for ExchangeCode")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) (*bullhorn.TokenPair, error)); ok {
		return rf(ctx, code)
	}

	var r0 *bullhorn.TokenPair
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*bullhorn.TokenPair)
	}
	return r0, ret.Error(1)
}

// Login provides a mock function with given fields: ctx, accessToken
func (_m *MockClient) Login(ctx context.Context, accessToken string) (*bullhorn.RestSession, error) {
	ret := _m.Called(ctx, accessToken)

	if len(ret) == 0 {
		panic("no return value specified for Login")
	}

	if rf, ok := ret.Get(0).(func(context.Context, string) (*bullhorn.RestSession, error)); ok {
		return rf(ctx, accessToken)
	}

	var r0 *bullhorn.RestSession
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*bullhorn.RestSession)
	}
	return r0, ret.Error(1)
}

// Search provides a mock function with given fields: ctx, sess, entity, query, fields
func (_m *MockClient) Search(ctx context.Context, sess *bullhorn.Session, entity bullhorn.Entity, query string, fields []string) (*bullhorn.SearchResponse, error) {
	ret := _m.Called(ctx, sess, entity, query, fields)

	if len(ret) == 0 {
		panic("no return value specified for Search")
	}

	if rf, ok := ret.Get(0).(func(context.Context, *bullhorn.Session, bullhorn.Entity, string, []string) (*bullhorn.SearchResponse, error)); ok {
		return rf(ctx, sess, entity, query, fields)
	}

	var r0 *bullhorn.SearchResponse
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*bullhorn.SearchResponse)
	}
	return r0, ret.Error(1)
}

// Update provides a mock function with given fields: ctx, sess, entity, id, fields
func (_m *MockClient) Update(ctx context.Context, sess *bullhorn.Session, entity bullhorn.Entity, id int64, fields map[string]any) error {
	ret := _m.Called(ctx, sess, entity, id, fields)

	if len(ret) == 0 {
		panic("no return value specified for Update")
	}

	if rf, ok := ret.Get(0).(func(context.Context, *bullhorn.Session, bullhorn.Entity, int64, map[string]any) error); ok {
		return rf(ctx, sess, entity, id, fields)
	}
	return ret.Error(0)
}

// NewMockClient creates a new instance of MockClient. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
