package compliance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"taxdesk/pkg/cache"
	"taxdesk/pkg/clock"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mocks

type MockClientProvider struct {
	mock.Mock
}

func (m *MockClientProvider) GetWithDocuments(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

func (m *MockClientProvider) ListWithDocuments(ctx context.Context) ([]*domain.Client, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Client), args.Error(1)
}

type MockReportCache struct {
	mock.Mock
}

func (m *MockReportCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}

func (m *MockReportCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	args := m.Called(ctx, key, value, expiration)
	return args.Error(0)
}

func TestService_ClientReport_CachesOnMiss(t *testing.T) {
	clients := new(MockClientProvider)
	rc := new(MockReportCache)
	clk := clock.NewFixed(at("2025-06-10T09:00:00Z"))
	svc := NewService(NewEngine(DefaultPolicy()), clients, rc, time.Minute, clk, logger.NewNop())

	c := &domain.Client{ID: uuid.New(), Version: 3, Documents: verifiedDocs(domain.RequiredCategories...)}
	key := reportKey(c, clk.Now())
	assert.Contains(t, key, "compliance:"+c.ID.String()+":3:")
	assert.True(t, strings.HasSuffix(key, ":2025-06-10"))

	clients.On("GetWithDocuments", mock.Anything, c.ID).Return(c, nil)
	rc.On("Get", mock.Anything, key, mock.Anything).Return(cache.ErrMiss)
	rc.On("Set", mock.Anything, key, mock.AnythingOfType("*compliance.Report"), time.Minute).Return(nil)

	r, err := svc.ClientReport(context.Background(), c.ID)

	require.NoError(t, err)
	assert.Equal(t, StatusCompliant, r.Status)
	assert.Equal(t, 100, r.ComplianceScore)
	clients.AssertExpectations(t)
	rc.AssertExpectations(t)
}

func TestReportKey_DistinguishesDocumentSets(t *testing.T) {
	now := at("2025-06-10T09:00:00Z")
	clientID := uuid.New()
	keep := domain.Document{ID: uuid.New(), Version: 1, Category: domain.CategoryVATCertificate, UploadStatus: domain.UploadStatusPending}
	removed := domain.Document{ID: uuid.New(), Version: 2, Category: domain.CategoryTradeLicense, UploadStatus: domain.UploadStatusVerified}
	added := domain.Document{ID: uuid.New(), Version: 1, Category: domain.CategoryTradeLicense, UploadStatus: domain.UploadStatusPending}

	before := &domain.Client{ID: clientID, Version: 1, Documents: []domain.Document{keep, removed}}

	// Same count and version sum as before: one v2 document swapped for a
	// new v1 document while a v1 sibling was verified.
	verified := keep
	verified.UploadStatus = domain.UploadStatusVerified
	added.Version = 2
	after := &domain.Client{ID: clientID, Version: 1, Documents: []domain.Document{verified, added}}

	assert.NotEqual(t, reportKey(before, now), reportKey(after, now))

	reordered := &domain.Client{ID: clientID, Version: 1, Documents: []domain.Document{removed, keep}}
	assert.Equal(t, reportKey(before, now), reportKey(reordered, now))

	assert.NotEqual(t, reportKey(before, now), reportKey(before, now.AddDate(0, 0, 1)))
}

func TestService_ClientReport_CacheFailureStillReports(t *testing.T) {
	clients := new(MockClientProvider)
	rc := new(MockReportCache)
	svc := NewService(NewEngine(DefaultPolicy()), clients, rc, time.Minute, clock.NewFixed(at("2025-06-10T09:00:00Z")), logger.NewNop())

	c := &domain.Client{ID: uuid.New()}
	clients.On("GetWithDocuments", mock.Anything, c.ID).Return(c, nil)
	rc.On("Get", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	rc.On("Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	r, err := svc.ClientReport(context.Background(), c.ID)

	require.NoError(t, err)
	assert.Equal(t, 0, r.ComplianceScore)
}

func TestService_ClientReport_NotFound(t *testing.T) {
	clients := new(MockClientProvider)
	svc := NewService(NewEngine(DefaultPolicy()), clients, nil, 0, clock.Real(), logger.NewNop())

	id := uuid.New()
	notFound := errors.New("client not found")
	clients.On("GetWithDocuments", mock.Anything, id).Return(nil, notFound)

	_, err := svc.ClientReport(context.Background(), id)
	assert.ErrorIs(t, err, notFound)
}

func TestService_Dashboard_SortsWorstFirst(t *testing.T) {
	clients := new(MockClientProvider)
	svc := NewService(NewEngine(DefaultPolicy()), clients, nil, 0, clock.NewFixed(at("2025-06-10T09:00:00Z")), logger.NewNop())

	compliant := &domain.Client{ID: uuid.New(), LegalNameEnglish: "A", Documents: verifiedDocs(domain.RequiredCategories...)}
	warning := &domain.Client{ID: uuid.New(), LegalNameEnglish: "B", Documents: verifiedDocs(domain.CategoryTradeLicense)}
	critical := &domain.Client{
		ID: uuid.New(), LegalNameEnglish: "C",
		Documents:    verifiedDocs(domain.RequiredCategories...),
		BusinessInfo: domain.BusinessInfo{LicenseExpiryDate: domain.DatePtr("2025-01-01")},
	}
	clients.On("ListWithDocuments", mock.Anything).Return([]*domain.Client{compliant, warning, critical}, nil)

	reports, err := svc.Dashboard(context.Background())

	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "C", reports[0].ClientName)
	assert.Equal(t, "B", reports[1].ClientName)
	assert.Equal(t, "A", reports[2].ClientName)
}

func TestService_DueDates(t *testing.T) {
	clients := new(MockClientProvider)
	svc := NewService(NewEngine(DefaultPolicy()), clients, nil, 0, clock.NewFixed(at("2025-05-10T00:00:00Z")), logger.NewNop())

	c := clientWithPeriods(quarters("2025")...)
	c.ID = uuid.New()
	c.BusinessInfo.CorporateTaxDueDate = domain.DatePtr("2025-09-30")
	clients.On("GetWithDocuments", mock.Anything, c.ID).Return(c, nil)

	dd, err := svc.DueDates(context.Background(), c.ID)

	require.NoError(t, err)
	assert.Equal(t, "2025-07-28", dd.NextVAT.SubmissionDate.String())
	assert.Equal(t, "2025-09-30", dd.NextCorporateTax.DueDate.String())
}
