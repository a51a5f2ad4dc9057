package document

import (
	"context"
	"testing"
	"time"

	"taxdesk/internal/extraction"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mocks

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *MockRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockRepository) Claim(ctx context.Context, id uuid.UUID, version int, staleBefore time.Time) (int, error) {
	args := m.Called(ctx, id, version, staleBefore)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) Complete(ctx context.Context, id uuid.UUID, version int, data domain.ExtractedData, meta domain.ProcessingMetadata) error {
	args := m.Called(ctx, id, version, data, meta)
	return args.Error(0)
}

func (m *MockRepository) Fail(ctx context.Context, id uuid.UUID, version int, reason string) error {
	args := m.Called(ctx, id, version, reason)
	return args.Error(0)
}

func (m *MockRepository) SetUploadStatus(ctx context.Context, id uuid.UUID, status domain.UploadStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockClientRepository struct {
	mock.Mock
}

func (m *MockClientRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

func (m *MockClientRepository) GetWithDocuments(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Client), args.Error(1)
}

func (m *MockClientRepository) Update(ctx context.Context, c *domain.Client) error {
	args := m.Called(ctx, c)
	if args.Error(0) == nil {
		c.Version++
	}
	return args.Error(0)
}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Save(ctx context.Context, owner uuid.UUID, folder, fileName string, data []byte) (string, error) {
	args := m.Called(ctx, owner, folder, fileName, data)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Run(ctx context.Context, in extraction.Input) (*extraction.Result, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*extraction.Result), args.Error(1)
}

type MockEnqueuer struct {
	mock.Mock
}

func (m *MockEnqueuer) Enqueue(ctx context.Context, job Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// Fixtures

type fixture struct {
	docs      *MockRepository
	clients   *MockClientRepository
	storage   *MockStorage
	extractor *MockExtractor
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		docs:      new(MockRepository),
		clients:   new(MockClientRepository),
		storage:   new(MockStorage),
		extractor: new(MockExtractor),
	}
	f.svc = NewService(f.docs, f.clients, f.storage, f.extractor, Options{MaxFileSize: 1 << 20, RunTimeout: time.Minute}, logger.NewNop())
	return f
}

func text(v string, c float64) domain.ExtractedField {
	return domain.ExtractedField{Value: domain.StringValue(v), Confidence: c}
}

func newClient() *domain.Client {
	return &domain.Client{
		ID:               uuid.New(),
		LegalNameEnglish: "Falcon Trading LLC",
		Version:          5,
		Partners:         domain.People{{ID: uuid.New(), Name: "Omar Farouk"}},
	}
}

// Tests

func TestUpload_StoresAndEnqueues(t *testing.T) {
	f := newFixture()
	q := new(MockEnqueuer)
	f.svc.SetQueue(q)
	c := newClient()
	data := []byte("%PDF-1.7")

	f.clients.On("FindByID", mock.Anything, c.ID).Return(c, nil)
	f.storage.On("Save", mock.Anything, c.ID, "VAT_CERTIFICATE", "vat cert.pdf", data).Return("clients/x/vat.pdf", nil)
	f.docs.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
		return d.FileKey == "clients/x/vat.pdf" && d.MIMEType == "application/pdf" &&
			d.UploadStatus == domain.UploadStatusPending && d.ProcessingStatus == domain.ProcessingStatusPending
	})).Return(nil)
	q.On("Enqueue", mock.Anything, mock.AnythingOfType("document.Job")).Return(nil)

	doc, err := f.svc.Upload(context.Background(), UploadRequest{
		ClientID: c.ID, Category: domain.CategoryVATCertificate, FileName: "vat cert.pdf", Data: data,
	})

	require.NoError(t, err)
	assert.Equal(t, "vat_cert.pdf", doc.FileName)
	q.AssertExpectations(t)
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Upload(context.Background(), UploadRequest{ClientID: uuid.New(), Category: "BANK_STATEMENT", FileName: "x.pdf", Data: []byte("x")})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = f.svc.Upload(context.Background(), UploadRequest{ClientID: uuid.New(), Category: domain.CategoryTradeLicense, FileName: "x.pdf", Data: make([]byte, 2<<20)})
	assert.True(t, errors.Is(err, errors.ErrFileTooLarge))
}

func TestUpload_PersonMustMatchRole(t *testing.T) {
	f := newFixture()
	c := newClient()
	partner := c.Partners[0].ID
	f.clients.On("FindByID", mock.Anything, c.ID).Return(c, nil)

	_, err := f.svc.Upload(context.Background(), UploadRequest{
		ClientID: c.ID, Category: domain.CategoryPassportManager, FileName: "p.jpg", Data: []byte{1}, AssignedToPerson: &partner,
	})

	assert.True(t, errors.Is(err, errors.ErrPersonNotFound))
	f.storage.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUpload_RemovesBlobWhenRecordFails(t *testing.T) {
	f := newFixture()
	c := newClient()
	f.clients.On("FindByID", mock.Anything, c.ID).Return(c, nil)
	f.storage.On("Save", mock.Anything, c.ID, "TRADE_LICENSE", "tl.pdf", mock.Anything).Return("k", nil)
	f.docs.On("Create", mock.Anything, mock.Anything).Return(errors.New("db down"))
	f.storage.On("Delete", mock.Anything, "k").Return(nil)

	_, err := f.svc.Upload(context.Background(), UploadRequest{ClientID: c.ID, Category: domain.CategoryTradeLicense, FileName: "tl.pdf", Data: []byte{1}})

	assert.Error(t, err)
	f.storage.AssertExpectations(t)
}

func TestProcess_CompletesAndPreviews(t *testing.T) {
	f := newFixture()
	c := newClient()
	doc := &domain.Document{ID: uuid.New(), ClientID: c.ID, Category: domain.CategoryVATCertificate, FileKey: "k", FileName: "vat.pdf", Version: 1, ProcessingStatus: domain.ProcessingStatusPending}
	res := &extraction.Result{
		ExtractedData: domain.ExtractedData{
			"trn":              text("100234567890003", 0.95),
			"legalNameEnglish": text("Falcon Trading L.L.C", 0.9),
		},
		Metadata: domain.ProcessingMetadata{ExtractionMethod: domain.MethodTextExtraction, AverageConfidence: 0.925},
	}

	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.docs.On("Claim", mock.Anything, doc.ID, 1, mock.Anything).Return(2, nil)
	f.extractor.On("Run", mock.Anything, mock.MatchedBy(func(in extraction.Input) bool {
		return in.DocumentID == doc.ID && in.FileKey == "k" && in.Category == domain.CategoryVATCertificate
	})).Return(res, nil)
	f.docs.On("Complete", mock.Anything, doc.ID, 2, res.ExtractedData, res.Metadata).Return(nil)
	f.clients.On("GetWithDocuments", mock.Anything, c.ID).Return(c, nil)

	out, err := f.svc.Process(context.Background(), doc.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingStatusCompleted, out.Document.ProcessingStatus)
	assert.Equal(t, 3, out.Document.Version)
	require.NotNil(t, out.Mapping)
	assert.Equal(t, "100234567890003", out.Mapping.Updates["businessInfo.trn"])
	require.NotNil(t, out.NameCheck)
	assert.Len(t, out.NameCheck.Errors, 1)
}

func TestProcess_FailureMarksDocumentFailed(t *testing.T) {
	f := newFixture()
	doc := &domain.Document{ID: uuid.New(), ClientID: uuid.New(), Category: domain.CategoryPassportPartner, FileKey: "k", Version: 4, ProcessingStatus: domain.ProcessingStatusPending}
	runErr := errors.NewExtractionError("oracle", string(doc.Category), "k", errors.ErrOracle)

	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.docs.On("Claim", mock.Anything, doc.ID, 4, mock.Anything).Return(5, nil)
	f.extractor.On("Run", mock.Anything, mock.Anything).Return(nil, runErr)
	f.docs.On("Fail", mock.Anything, doc.ID, 5, runErr.Error()).Return(nil)

	_, err := f.svc.Process(context.Background(), doc.ID)

	assert.True(t, errors.Is(err, errors.ErrOracle))
	assert.Equal(t, domain.ProcessingStatusFailed, doc.ProcessingStatus)
	f.docs.AssertExpectations(t)
}

func TestProcess_ConcurrentClaimIsBusy(t *testing.T) {
	f := newFixture()
	doc := &domain.Document{ID: uuid.New(), Version: 2, ProcessingStatus: domain.ProcessingStatusFailed}

	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.docs.On("Claim", mock.Anything, doc.ID, 2, mock.Anything).Return(0, errors.ErrDocumentBusy)

	_, err := f.svc.Reprocess(context.Background(), doc.ID)

	assert.True(t, errors.Is(err, errors.ErrDocumentBusy))
	f.extractor.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestReprocess_RequiresFinishedRun(t *testing.T) {
	f := newFixture()
	pending := &domain.Document{ID: uuid.New(), ProcessingStatus: domain.ProcessingStatusPending}
	running := &domain.Document{ID: uuid.New(), ProcessingStatus: domain.ProcessingStatusProcessing, UpdatedAt: time.Now().UTC()}
	f.docs.On("FindByID", mock.Anything, pending.ID).Return(pending, nil)
	f.docs.On("FindByID", mock.Anything, running.ID).Return(running, nil)

	_, err := f.svc.Reprocess(context.Background(), pending.ID)
	assert.True(t, errors.Is(err, errors.ErrDocumentNotReady))

	_, err = f.svc.Reprocess(context.Background(), running.ID)
	assert.True(t, errors.Is(err, errors.ErrDocumentBusy))
}

func TestProcess_LostCompleteWriteMarksFailed(t *testing.T) {
	f := newFixture()
	doc := &domain.Document{ID: uuid.New(), ClientID: uuid.New(), Category: domain.CategoryPassportPartner, FileKey: "k", Version: 1, ProcessingStatus: domain.ProcessingStatusPending}
	res := &extraction.Result{ExtractedData: domain.ExtractedData{"passportNumber": text("N1234567", 0.9)}}

	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.docs.On("Claim", mock.Anything, doc.ID, 1, mock.Anything).Return(2, nil)
	f.extractor.On("Run", mock.Anything, mock.Anything).Return(res, nil)
	f.docs.On("Complete", mock.Anything, doc.ID, 2, res.ExtractedData, res.Metadata).Return(errors.New("connection reset"))
	f.docs.On("Fail", mock.Anything, doc.ID, 2, mock.MatchedBy(func(reason string) bool {
		return reason == "failed to store extraction result: connection reset"
	})).Return(nil)

	_, err := f.svc.Process(context.Background(), doc.ID)

	require.Error(t, err)
	assert.Equal(t, domain.ProcessingStatusFailed, doc.ProcessingStatus)
	assert.Equal(t, 3, doc.Version)
	f.docs.AssertExpectations(t)
}

func TestProcess_FailWriteLostIsReported(t *testing.T) {
	f := newFixture()
	doc := &domain.Document{ID: uuid.New(), Category: domain.CategoryPassportPartner, FileKey: "k", Version: 1, ProcessingStatus: domain.ProcessingStatusPending}
	runErr := errors.NewExtractionError("oracle", string(doc.Category), "k", errors.ErrOracle)

	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.docs.On("Claim", mock.Anything, doc.ID, 1, mock.Anything).Return(2, nil)
	f.extractor.On("Run", mock.Anything, mock.Anything).Return(nil, runErr)
	f.docs.On("Fail", mock.Anything, doc.ID, 2, runErr.Error()).Return(errors.ErrVersionConflict)

	_, err := f.svc.Process(context.Background(), doc.ID)

	assert.True(t, errors.Is(err, errors.ErrOracle))
	assert.Contains(t, err.Error(), "document left processing")
	assert.Equal(t, domain.ProcessingStatusProcessing, doc.ProcessingStatus)
}

func TestReprocess_TakesOverAbandonedClaim(t *testing.T) {
	f := newFixture()
	abandoned := &domain.Document{
		ID: uuid.New(), Category: domain.CategoryPassportPartner, FileKey: "k", Version: 7,
		ProcessingStatus: domain.ProcessingStatusProcessing,
		UpdatedAt:        time.Now().UTC().Add(-3 * time.Minute),
	}
	res := &extraction.Result{ExtractedData: domain.ExtractedData{"passportNumber": text("N1234567", 0.9)}}

	f.docs.On("FindByID", mock.Anything, abandoned.ID).Return(abandoned, nil)
	f.docs.On("Claim", mock.Anything, abandoned.ID, 7, mock.MatchedBy(func(cutoff time.Time) bool {
		return abandoned.UpdatedAt.Before(cutoff)
	})).Return(8, nil)
	f.extractor.On("Run", mock.Anything, mock.Anything).Return(res, nil)
	f.docs.On("Complete", mock.Anything, abandoned.ID, 8, res.ExtractedData, res.Metadata).Return(nil)

	out, err := f.svc.Reprocess(context.Background(), abandoned.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingStatusCompleted, out.Document.ProcessingStatus)
}

func TestApplyExtraction_BusinessDocument(t *testing.T) {
	f := newFixture()
	c := newClient()
	doc := &domain.Document{
		ID: uuid.New(), ClientID: c.ID, Category: domain.CategoryTradeLicense, ProcessingStatus: domain.ProcessingStatusCompleted,
		ExtractedData: domain.ExtractedData{
			"legalNameEnglish":  text("FALCON TRADING LLC", 0.9),
			"licenseNumber":     text("CN-1234567", 0.9),
			"licenseExpiryDate": text("2026-03-31", 0.9),
			"managerName":       text("Sara Khan", 0.8),
		},
	}
	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.clients.On("GetWithDocuments", mock.Anything, c.ID).Return(c, nil)
	f.clients.On("Update", mock.Anything, c).Return(nil)

	res, err := f.svc.ApplyExtraction(context.Background(), doc.ID, false)

	require.NoError(t, err)
	assert.Equal(t, "CN-1234567", c.BusinessInfo.LicenseNumber)
	assert.Equal(t, "2026-03-31", c.BusinessInfo.LicenseExpiryDate.String())
	assert.Equal(t, "FALCON TRADING LLC", c.LegalNameEnglish)
	assert.Contains(t, []string(c.AIExtractedFields), "businessInfo.licenseNumber")
	assert.Equal(t, "Sara Khan", res.SideChannel["_managerName"])
	assert.NotContains(t, res.Applied, "_managerName")
	assert.Equal(t, 6, res.ClientVersion)
}

func TestApplyExtraction_NameConflictBlocksUnlessForced(t *testing.T) {
	f := newFixture()
	c := newClient()
	doc := &domain.Document{
		ID: uuid.New(), ClientID: c.ID, Category: domain.CategoryVATCertificate, ProcessingStatus: domain.ProcessingStatusCompleted,
		ExtractedData: domain.ExtractedData{"legalNameEnglish": text("Eagle General Trading", 0.9)},
	}
	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.clients.On("GetWithDocuments", mock.Anything, c.ID).Return(c, nil)

	_, err := f.svc.ApplyExtraction(context.Background(), doc.ID, false)

	assert.True(t, errors.Is(err, errors.ErrNameConflict))
	var conflict *NameConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"Falcon Trading LLC", "Eagle General Trading"}, conflict.Report.Errors[0].Values)
	f.clients.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)

	f.clients.On("Update", mock.Anything, c).Return(nil)
	res, err := f.svc.ApplyExtraction(context.Background(), doc.ID, true)
	require.NoError(t, err)
	assert.True(t, res.NameCheck.HasErrors())
	assert.Equal(t, "Eagle General Trading", c.LegalNameEnglish)
}

func TestApplyExtraction_PersonDocument(t *testing.T) {
	f := newFixture()
	c := newClient()
	partner := c.Partners[0].ID
	doc := &domain.Document{
		ID: uuid.New(), ClientID: c.ID, Category: domain.CategoryEmiratesIDPartner, AssignedToPerson: &partner,
		ProcessingStatus: domain.ProcessingStatusCompleted,
		ExtractedData: domain.ExtractedData{
			"idNumber":   text("784-1990-1234567-1", 0.9),
			"expiryDate": text("2027-03-14", 0.9),
		},
	}
	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.clients.On("GetWithDocuments", mock.Anything, c.ID).Return(c, nil)
	f.clients.On("Update", mock.Anything, c).Return(nil)

	res, err := f.svc.ApplyExtraction(context.Background(), doc.ID, false)

	require.NoError(t, err)
	require.NotNil(t, c.Partners[0].EmiratesID)
	assert.Equal(t, "784-1990-1234567-1", c.Partners[0].EmiratesID.Number)
	assert.Equal(t, "Omar Farouk", c.Partners[0].Name)
	assert.Contains(t, res.AIExtractedFields, "partners."+partner.String()+".emiratesId.number")
	assert.Equal(t, &partner, res.PersonID)
}

func TestApplyExtraction_RequiresCompletedRun(t *testing.T) {
	f := newFixture()
	doc := &domain.Document{ID: uuid.New(), ProcessingStatus: domain.ProcessingStatusFailed}
	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)

	_, err := f.svc.ApplyExtraction(context.Background(), doc.ID, true)

	assert.True(t, errors.Is(err, errors.ErrDocumentNotExtracted))
}

func TestDelete(t *testing.T) {
	f := newFixture()
	doc := &domain.Document{ID: uuid.New(), FileKey: "k", ProcessingStatus: domain.ProcessingStatusCompleted}
	f.docs.On("FindByID", mock.Anything, doc.ID).Return(doc, nil)
	f.docs.On("Delete", mock.Anything, doc.ID).Return(nil)
	f.storage.On("Delete", mock.Anything, "k").Return(errors.New("disk gone"))

	assert.NoError(t, f.svc.Delete(context.Background(), doc.ID))
	f.storage.AssertExpectations(t)
}
