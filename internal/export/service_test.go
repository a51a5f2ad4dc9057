package export

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"taxdesk/internal/compliance"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type MockDashboard struct {
	mock.Mock
}

func (m *MockDashboard) Dashboard(ctx context.Context) ([]*compliance.Report, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*compliance.Report), args.Error(1)
}

func intPtr(v int) *int { return &v }

func TestExportComplianceXLSX(t *testing.T) {
	src := new(MockDashboard)
	src.On("Dashboard", mock.Anything).Return([]*compliance.Report{
		{
			ClientName: "Falcon Trading LLC", Status: compliance.StatusCritical, ComplianceScore: 67,
			MissingDocuments: []domain.DocumentCategory{domain.CategoryCorporateTaxCertificate},
			NextVATDue:       &compliance.VATDue{SubmissionDate: domain.MustDate("2025-07-28")},
			Alerts: []compliance.Alert{
				{Type: compliance.AlertVATReturnOverdue, Severity: compliance.SeverityCritical, Message: "VAT return overdue", DueDate: domain.DatePtr("2025-04-28"), DaysOverdue: intPtr(3)},
				{Type: compliance.AlertMissingDocument, Severity: compliance.SeverityHigh, Message: "Corporate tax certificate missing"},
			},
		},
		{ClientName: "Calm Co", Status: compliance.StatusCompliant, ComplianceScore: 100},
	}, nil)

	data, err := NewService(src, logger.NewNop()).ExportComplianceXLSX(context.Background())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetCompliance, SheetAlerts}, f.GetSheetList())

	summary, err := f.GetRows(SheetCompliance)
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, complianceHeaders, summary[0])
	assert.Equal(t, []string{"Falcon Trading LLC", "CRITICAL", "67", "CORPORATE_TAX_CERTIFICATE", "2025-07-28"}, summary[1][:5])

	alerts, err := f.GetRows(SheetAlerts)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, []string{"Falcon Trading LLC", "VAT_RETURN_OVERDUE", "CRITICAL", "VAT return overdue", "2025-04-28", "-3"}, alerts[1])
	assert.Equal(t, "MISSING_DOCUMENT", alerts[2][1])
}

func TestExportComplianceXLSX_SourceError(t *testing.T) {
	src := new(MockDashboard)
	src.On("Dashboard", mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewService(src, logger.NewNop()).ExportComplianceXLSX(context.Background())
	assert.Error(t, err)
}
