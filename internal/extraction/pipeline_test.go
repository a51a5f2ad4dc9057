package extraction

import (
	"context"
	"testing"
	"time"

	"taxdesk/internal/extraction/oracle"
	"taxdesk/internal/extraction/schema"
	"taxdesk/pkg/clock"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const idCardText = `UNITED ARAB EMIRATES FEDERAL AUTHORITY FOR IDENTITY AND CITIZENSHIP
RESIDENT IDENTITY CARD
Name: Ahmed Hassan Ali   Nationality: Egypt
ID Number 784-1990-1234567-1   Expiry Date 2027-03-14`

var (
	pdfBytes = []byte("%PDF-1.7 fake body")
	pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
)

type fixture struct {
	blobs   *MockBlobs
	pdf     *MockPDF
	oracle  *MockOracle
	metrics *Metrics
	p       *Pipeline
}

func newFixture() *fixture {
	f := &fixture{blobs: new(MockBlobs), pdf: new(MockPDF), oracle: new(MockOracle)}
	f.metrics = NewMetrics(prometheus.NewRegistry())
	f.p = NewPipeline(f.blobs, f.pdf, f.oracle, schema.MustDefault(), Options{
		ConfidenceThreshold: 0.7,
		OracleTimeout:       time.Second,
		Clock:               clock.NewFixed(time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)),
		Metrics:             f.metrics,
	}, logger.NewNop())
	return f
}

func pdfInput(category domain.DocumentCategory) Input {
	return Input{
		DocumentID: uuid.New(),
		Category:   category,
		FileKey:    "clients/c1/" + string(category) + ".pdf",
		FileName:   "scan.pdf",
		MIMEType:   "application/pdf",
	}
}

func TestRun_PersonDocumentLowConfidenceEscalatesOnce(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryEmiratesIDPartner)

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(pdfBytes, nil)
	f.pdf.On("ExtractText", mock.Anything, pdfBytes).Return(idCardText, nil)
	f.oracle.On("Extract", mock.Anything, variant(oracle.VariantText)).Return(domain.ExtractedData{
		"idNumber": field("784-1990-1234567-1", 0.5),
	}, nil).Once()
	f.pdf.On("RasterizeFirstPage", mock.Anything, pdfBytes).Return(pngBytes, nil).Once()
	f.oracle.On("Extract", mock.Anything, variant(oracle.VariantImage)).Return(domain.ExtractedData{
		"idNumber":   field("784-1990-1234567-1", 0.96),
		"expiryDate": field("2027-03-14", 0.91),
		"name":       field("Ahmed Hassan Ali", 0.64),
	}, nil).Once()

	res, err := f.p.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, domain.MethodHybridVisionFallback, res.Metadata.ExtractionMethod)
	assert.Equal(t, domain.FileTypePDF, res.Metadata.FileType)
	assert.True(t, res.Metadata.HasCriticalFields)
	assert.Equal(t, []string{"name"}, res.Metadata.LowConfidenceFields)
	assert.InDelta(t, (0.96+0.91+0.64)/3, res.Metadata.AverageConfidence, 1e-9)
	assert.Contains(t, res.Metadata.EscalationReason, "average confidence 0.50")
	f.pdf.AssertNumberOfCalls(t, "RasterizeFirstPage", 1)
	f.oracle.AssertNumberOfCalls(t, "Extract", 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.escalations.WithLabelValues(string(in.Category), string(domain.MethodHybridVisionFallback))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.runs.WithLabelValues(string(in.Category), string(domain.MethodHybridVisionFallback), "ok")))
}

func TestRun_PersonDocumentMissingCriticalFieldEscalates(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryPassportManager)

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(pdfBytes, nil)
	f.pdf.On("ExtractText", mock.Anything, pdfBytes).Return(idCardText, nil)
	f.oracle.On("Extract", mock.Anything, variant(oracle.VariantText)).Return(domain.ExtractedData{
		"name": field("Ahmed Hassan Ali", 0.99),
	}, nil).Once()
	f.pdf.On("RasterizeFirstPage", mock.Anything, pdfBytes).Return(pngBytes, nil).Once()
	f.oracle.On("Extract", mock.Anything, variant(oracle.VariantImage)).Return(domain.ExtractedData{}, nil).Once()

	res, err := f.p.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, domain.MethodHybridVisionFallback, res.Metadata.ExtractionMethod)
	assert.Contains(t, res.Metadata.EscalationReason, "critical field passportNumber missing")
	assert.False(t, res.Metadata.HasCriticalFields)
	assert.Zero(t, res.Metadata.AverageConfidence)
	assert.Empty(t, res.Metadata.LowConfidenceFields)
}

func TestRun_PersonDocumentConfidentTextIsAccepted(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryEmiratesIDManager)

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(pdfBytes, nil)
	f.pdf.On("ExtractText", mock.Anything, pdfBytes).Return(idCardText, nil)
	f.oracle.On("Extract", mock.Anything, mock.MatchedBy(func(r oracle.Request) bool {
		return r.Variant == oracle.VariantText && r.Spec.Type == domain.TypeEmiratesID && r.Text == NormalizeText(idCardText)
	})).Return(domain.ExtractedData{
		"idNumber": field("784-1990-1234567-1", 0.95),
		"name":     field("Ahmed Hassan Ali", 0.8),
	}, nil).Once()

	res, err := f.p.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, domain.MethodTextExtraction, res.Metadata.ExtractionMethod)
	assert.Empty(t, res.Metadata.EscalationReason)
	f.pdf.AssertNotCalled(t, "RasterizeFirstPage", mock.Anything, mock.Anything)
}

func TestRun_PersonDocumentPoorTextSkipsTextOracle(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryPassportPartner)

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(pdfBytes, nil)
	f.pdf.On("ExtractText", mock.Anything, pdfBytes).Return("P<ARE\n\n", nil)
	f.pdf.On("RasterizeFirstPage", mock.Anything, pdfBytes).Return(pngBytes, nil).Once()
	f.oracle.On("Extract", mock.Anything, mock.MatchedBy(func(r oracle.Request) bool {
		return r.Variant == oracle.VariantImage && r.MIMEType == "image/png"
	})).Return(domain.ExtractedData{"passportNumber": field("N1234567", 0.9)}, nil).Once()

	res, err := f.p.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, domain.MethodVisionAPIFallback, res.Metadata.ExtractionMethod)
	assert.Equal(t, IssueTooShort, res.Metadata.TextQualityIssue)
	assert.Equal(t, "text quality: too_short", res.Metadata.EscalationReason)
	f.oracle.AssertNumberOfCalls(t, "Extract", 1)
}

func TestRun_BusinessDocumentKeepsPoorText(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryVATCertificate)

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(pdfBytes, nil)
	f.pdf.On("ExtractText", mock.Anything, pdfBytes).Return("TRN 100234567890003", nil)
	f.oracle.On("Extract", mock.Anything, variant(oracle.VariantText)).Return(domain.ExtractedData{
		"trn": field("100234567890003", 0.4),
	}, nil).Once()

	res, err := f.p.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, domain.MethodTextExtraction, res.Metadata.ExtractionMethod)
	assert.Equal(t, IssueTooShort, res.Metadata.TextQualityIssue)
	assert.Equal(t, []string{"trn"}, res.Metadata.LowConfidenceFields)
	f.pdf.AssertNotCalled(t, "RasterizeFirstPage", mock.Anything, mock.Anything)
}

func TestRun_BusinessDocumentWithoutTextLayerIsRasterized(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryTradeLicense)

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(pdfBytes, nil)
	f.pdf.On("ExtractText", mock.Anything, pdfBytes).Return("\f\n", nil)
	f.pdf.On("RasterizeFirstPage", mock.Anything, pdfBytes).Return(pngBytes, nil).Once()
	f.oracle.On("Extract", mock.Anything, variant(oracle.VariantImage)).Return(domain.ExtractedData{
		"licenseNumber": field("CN-1234567", 0.88),
	}, nil).Once()

	res, err := f.p.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, domain.MethodVisionAPIFallback, res.Metadata.ExtractionMethod)
	assert.Equal(t, IssueEmptyText, res.Metadata.TextQualityIssue)
}

func TestRun_ImageGoesStraightToVision(t *testing.T) {
	f := newFixture()
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0}
	in := Input{DocumentID: uuid.New(), Category: domain.CategoryEmiratesIDPartner, FileKey: "k/eid.jpg", FileName: "eid.jpg", MIMEType: "image/jpeg"}

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(jpeg, nil)
	f.oracle.On("Extract", mock.Anything, mock.MatchedBy(func(r oracle.Request) bool {
		return r.Variant == oracle.VariantImage && r.MIMEType == "image/jpeg" && string(r.Image) == string(jpeg)
	})).Return(domain.ExtractedData{"idNumber": field("784-1990-1234567-1", 0.3)}, nil).Once()

	res, err := f.p.Run(context.Background(), in)

	require.NoError(t, err)
	assert.Equal(t, domain.MethodVisionAPI, res.Metadata.ExtractionMethod)
	assert.Equal(t, domain.FileTypeImage, res.Metadata.FileType)
	assert.Empty(t, res.Metadata.TextQualityIssue)
	f.pdf.AssertNotCalled(t, "ExtractText", mock.Anything, mock.Anything)
}

func TestRun_UnsupportedCategoryFailsBeforeFetch(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.DocumentCategory("BANK_STATEMENT"))

	_, err := f.p.Run(context.Background(), in)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedCategory))
	var xerr *errors.ExtractionError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, StageDispatch, xerr.Stage)
	f.blobs.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestRun_AcquisitionFailureCarriesContext(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryTradeLicense)
	f.blobs.On("Get", mock.Anything, in.FileKey).Return(nil, errors.ErrBlobNotFound)

	_, err := f.p.Run(context.Background(), in)

	var xerr *errors.ExtractionError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, StageAcquire, xerr.Stage)
	assert.Equal(t, string(domain.CategoryTradeLicense), xerr.Category)
	assert.Equal(t, in.FileKey, xerr.FileKey)
	assert.True(t, errors.Is(err, errors.ErrBlobNotFound))
}

func TestRun_RasterizationFailureIsFatal(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryEmiratesIDPartner)

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(pdfBytes, nil)
	f.pdf.On("ExtractText", mock.Anything, pdfBytes).Return("", nil)
	f.pdf.On("RasterizeFirstPage", mock.Anything, pdfBytes).Return(nil, errors.Wrap(errors.ErrRasterization, "render: exit 1"))

	_, err := f.p.Run(context.Background(), in)

	var xerr *errors.ExtractionError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, StageRasterize, xerr.Stage)
	assert.True(t, errors.Is(err, errors.ErrRasterization))
	f.oracle.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.runs.WithLabelValues(string(in.Category), string(domain.MethodVisionAPIFallback), "failed")))
}

func TestRun_OracleFailureAfterEscalationIsFatal(t *testing.T) {
	f := newFixture()
	in := pdfInput(domain.CategoryEmiratesIDPartner)

	f.blobs.On("Get", mock.Anything, in.FileKey).Return(pdfBytes, nil)
	f.pdf.On("ExtractText", mock.Anything, pdfBytes).Return(idCardText, nil)
	f.oracle.On("Extract", mock.Anything, variant(oracle.VariantText)).Return(domain.ExtractedData{}, nil).Once()
	f.pdf.On("RasterizeFirstPage", mock.Anything, pdfBytes).Return(pngBytes, nil).Once()
	f.oracle.On("Extract", mock.Anything, variant(oracle.VariantImage)).Return(nil, errors.Wrap(errors.ErrOracle, "timeout")).Once()

	_, err := f.p.Run(context.Background(), in)

	var xerr *errors.ExtractionError
	require.True(t, errors.As(err, &xerr))
	assert.Equal(t, StageOracle, xerr.Stage)
	assert.True(t, errors.Is(err, errors.ErrOracle))
}

func TestFinalize(t *testing.T) {
	spec, err := schema.MustDefault().ForType(domain.TypeVATCertificate)
	require.NoError(t, err)

	meta := Finalize(domain.ExtractedData{
		"trn":              field("100234567890003", 0.9),
		"registrationDate": field("2018-01-01", 0.6),
		"address":          field("Dubai", 0.3),
	}, spec, 0.7)

	assert.InDelta(t, 0.6, meta.AverageConfidence, 1e-9)
	assert.True(t, meta.HasCriticalFields)
	assert.Equal(t, []string{"address", "registrationDate"}, meta.LowConfidenceFields)

	empty := Finalize(nil, spec, 0.7)
	assert.Zero(t, empty.AverageConfidence)
	assert.False(t, empty.HasCriticalFields)
	assert.NotNil(t, empty.LowConfidenceFields)
}
