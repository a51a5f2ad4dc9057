package handler

import (
	"context"

	"taxdesk/internal/compliance"
	"taxdesk/internal/document"
	"taxdesk/internal/extraction"
	"taxdesk/pkg/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Upload(ctx context.Context, req document.UploadRequest) (*domain.Document, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) Process(ctx context.Context, id uuid.UUID) (*document.ProcessOutcome, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.ProcessOutcome), args.Error(1)
}

func (m *MockDocumentService) Reprocess(ctx context.Context, id uuid.UUID) (*document.ProcessOutcome, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.ProcessOutcome), args.Error(1)
}

func (m *MockDocumentService) Verify(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) NameCheck(ctx context.Context, id uuid.UUID) (*extraction.NameReport, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extraction.NameReport), args.Error(1)
}

func (m *MockDocumentService) ApplyExtraction(ctx context.Context, id uuid.UUID, force bool) (*document.ApplyResult, error) {
	args := m.Called(ctx, id, force)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*document.ApplyResult), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockComplianceService struct {
	mock.Mock
}

func (m *MockComplianceService) ClientReport(ctx context.Context, id uuid.UUID) (*compliance.Report, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*compliance.Report), args.Error(1)
}

func (m *MockComplianceService) DueDates(ctx context.Context, id uuid.UUID) (*compliance.DueDates, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*compliance.DueDates), args.Error(1)
}

func (m *MockComplianceService) Dashboard(ctx context.Context) ([]*compliance.Report, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*compliance.Report), args.Error(1)
}

type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) ExportComplianceXLSX(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type MockClientStore struct {
	mock.Mock
}

func (m *MockClientStore) GetWithDocuments(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

func (m *MockClientStore) Update(ctx context.Context, c *domain.Client) error {
	args := m.Called(ctx, c)
	if args.Error(0) == nil {
		c.Version++
	}
	return args.Error(0)
}
