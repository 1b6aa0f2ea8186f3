package testutil

import (
	"context"
	"net/url"
	"time"

	"github.com/dgellow/docsite/internal/idp"
	"github.com/dgellow/docsite/internal/metadata"
	"github.com/dgellow/docsite/internal/storage"
	"github.com/stretchr/testify/mock"
)

var (
	_ idp.Client        = (*MockIDPClient)(nil)
	_ idp.ClientFactory = (*MockClientFactory)(nil)
	_ storage.Store     = (*MockSessionStore)(nil)
	_ metadata.Fetcher  = (*MockMetadataFetcher)(nil)
)

// MockIDPClient is a testify mock of idp.Client. The token cache is real so
// tests can seed and inspect it.
type MockIDPClient struct {
	mock.Mock
	Cache *idp.TokenCache
}

// NewMockIDPClient returns a mock with an empty token cache
func NewMockIDPClient() *MockIDPClient {
	return &MockIDPClient{Cache: idp.NewTokenCache()}
}

func (m *MockIDPClient) AuthCodeURL(ctx context.Context, req idp.AuthCodeURLRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockIDPClient) AcquireTokenByCode(ctx context.Context, req idp.AuthCodeRequest, callback url.Values) (*idp.TokenResult, error) {
	args := m.Called(ctx, req, callback)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idp.TokenResult), args.Error(1)
}

func (m *MockIDPClient) AcquireTokenSilent(ctx context.Context, account idp.Account, scopes []string) idp.SilentResult {
	args := m.Called(ctx, account, scopes)
	return args.Get(0).(idp.SilentResult)
}

func (m *MockIDPClient) TokenCache() *idp.TokenCache {
	return m.Cache
}

// MockClientFactory hands out a fixed client, or fails
type MockClientFactory struct {
	mock.Mock
}

func (m *MockClientFactory) NewClient(ctx context.Context, docs metadata.Documents) (idp.Client, error) {
	args := m.Called(ctx, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(idp.Client), args.Error(1)
}

type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) GetSession(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockSessionStore) SaveSession(ctx context.Context, id, payload string, ttl time.Duration) error {
	args := m.Called(ctx, id, payload, ttl)
	return args.Error(0)
}

func (m *MockSessionStore) DeleteSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockMetadataFetcher struct {
	mock.Mock
}

func (m *MockMetadataFetcher) Get(ctx context.Context, rawURL string, query url.Values) ([]byte, error) {
	args := m.Called(ctx, rawURL, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
