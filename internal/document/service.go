// Package document owns the document lifecycle: upload, extraction runs,
// human verification and applying extracted fields to the client record.
package document

import (
	"context"
	"fmt"
	"strings"
	"time"

	"taxdesk/internal/extraction"
	"taxdesk/internal/fileupload"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"
	"taxdesk/pkg/validator"

	"github.com/google/uuid"
)

// ==============================================================================
// DEPENDENCIES
// ==============================================================================

type Repository interface {
	Create(ctx context.Context, d *domain.Document) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Document, error)
	Claim(ctx context.Context, id uuid.UUID, version int, staleBefore time.Time) (int, error)
	Complete(ctx context.Context, id uuid.UUID, version int, data domain.ExtractedData, meta domain.ProcessingMetadata) error
	Fail(ctx context.Context, id uuid.UUID, version int, reason string) error
	SetUploadStatus(ctx context.Context, id uuid.UUID, status domain.UploadStatus) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type ClientRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Client, error)
	GetWithDocuments(ctx context.Context, id uuid.UUID) (*domain.Client, error)
	Update(ctx context.Context, c *domain.Client) error
}

// Extractor runs the extraction pipeline for one document.
type Extractor interface {
	Run(ctx context.Context, in extraction.Input) (*extraction.Result, error)
}

// Enqueuer schedules background processing after upload.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// ==============================================================================
// REQUESTS AND RESULTS
// ==============================================================================

type UploadRequest struct {
	ClientID         uuid.UUID               `validate:"required"`
	Category         domain.DocumentCategory `validate:"required,doc_category"`
	FileName         string                  `validate:"required,max=255"`
	Data             []byte                  `validate:"required,min=1"`
	AssignedToPerson *uuid.UUID
}

// ProcessOutcome is a finished run plus the previews a reviewer needs.
type ProcessOutcome struct {
	Document  *domain.Document       `json:"document"`
	Mapping   *extraction.Mapping    `json:"mapping,omitempty"`
	NameCheck *extraction.NameReport `json:"nameCheck,omitempty"`
}

type ApplyResult struct {
	ClientID          uuid.UUID              `json:"clientId"`
	ClientVersion     int                    `json:"clientVersion"`
	PersonID          *uuid.UUID             `json:"personId,omitempty"`
	Applied           map[string]interface{} `json:"applied"`
	SideChannel       map[string]interface{} `json:"sideChannel,omitempty"`
	AIExtractedFields []string               `json:"aiExtractedFields"`
	NameCheck         *extraction.NameReport `json:"nameCheck,omitempty"`
}

// NameConflictError refuses an apply whose legal names contradict the client.
type NameConflictError struct {
	Report extraction.NameReport
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("%s (%d conflicts)", errors.ErrNameConflict.Error(), len(e.Report.Errors))
}

func (e *NameConflictError) Unwrap() error { return errors.ErrNameConflict }

// ==============================================================================
// SERVICE
// ==============================================================================

type Options struct {
	MaxFileSize int64
	RunTimeout  time.Duration
}

type Service struct {
	docs      Repository
	clients   ClientRepository
	storage   fileupload.StorageProvider
	extractor Extractor
	queue     Enqueuer
	validator *validator.Validator
	opts      Options
	logger    logger.Logger
}

func NewService(docs Repository, clients ClientRepository, storage fileupload.StorageProvider, extractor Extractor, opts Options, log logger.Logger) *Service {
	v := validator.New()
	v.RegisterEnum("doc_category", domain.CategoryNames()...)
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 4 * time.Minute
	}
	return &Service{
		docs:      docs,
		clients:   clients,
		storage:   storage,
		extractor: extractor,
		validator: v,
		opts:      opts,
		logger:    log,
	}
}

// SetQueue attaches the background queue. Without one, uploads stay PENDING
// until processed explicitly.
func (s *Service) SetQueue(q Enqueuer) {
	s.queue = q
}

func (s *Service) Upload(ctx context.Context, req UploadRequest) (*domain.Document, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, err.Error())
	}
	if s.opts.MaxFileSize > 0 && int64(len(req.Data)) > s.opts.MaxFileSize {
		return nil, errors.ErrFileTooLarge
	}

	client, err := s.clients.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.AssignedToPerson != nil {
		if !req.Category.IsPersonDocument() {
			return nil, errors.Wrap(errors.ErrInvalidInput, "only identity documents can be assigned to a person")
		}
		_, role, ok := client.FindPerson(*req.AssignedToPerson)
		if !ok || role != req.Category.Role() {
			return nil, errors.ErrPersonNotFound
		}
	}

	key, err := s.storage.Save(ctx, client.ID, string(req.Category), req.FileName, req.Data)
	if err != nil {
		return nil, err
	}

	doc := &domain.Document{
		ClientID:         client.ID,
		Category:         req.Category,
		FileKey:          key,
		FileName:         fileupload.SanitizeFileName(req.FileName),
		MIMEType:         fileupload.DetectContentType(req.FileName, req.Data),
		FileSize:         int64(len(req.Data)),
		AssignedToPerson: req.AssignedToPerson,
		UploadStatus:     domain.UploadStatusPending,
		ProcessingStatus: domain.ProcessingStatusPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.logger.Warn("Failed to remove orphaned upload", map[string]interface{}{"key": key, "error": delErr.Error()})
		}
		return nil, err
	}

	s.logger.Info("Document uploaded", map[string]interface{}{
		"document_id": doc.ID.String(),
		"client_id":   client.ID.String(),
		"category":    string(doc.Category),
		"file_size":   doc.FileSize,
	})

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, Job{DocumentID: doc.ID, SubmittedAt: time.Now().UTC()}); err != nil {
			s.logger.Warn("Failed to enqueue document", map[string]interface{}{"document_id": doc.ID.String(), "error": err.Error()})
		}
	}
	return doc, nil
}

// Process runs extraction for a document that is not already running.
func (s *Service) Process(ctx context.Context, id uuid.UUID) (*ProcessOutcome, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.held(doc) {
		return nil, errors.ErrDocumentBusy
	}
	return s.run(ctx, doc)
}

// Reprocess is the manual re-run of a COMPLETED or FAILED document.
func (s *Service) Reprocess(ctx context.Context, id uuid.UUID) (*ProcessOutcome, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case s.held(doc):
		return nil, errors.ErrDocumentBusy
	case doc.ProcessingStatus == domain.ProcessingStatusProcessing:
		// abandoned claim
	case !doc.ProcessingStatus.CanReprocess():
		return nil, errors.ErrDocumentNotReady
	}
	return s.run(ctx, doc)
}

// staleBefore is the cutoff after which a PROCESSING claim is treated as
// abandoned. A live run finishes or fails within RunTimeout.
func (s *Service) staleBefore() time.Time {
	return time.Now().UTC().Add(-2 * s.opts.RunTimeout)
}

// held reports whether a live run owns the document.
func (s *Service) held(doc *domain.Document) bool {
	return doc.ProcessingStatus == domain.ProcessingStatusProcessing && !doc.UpdatedAt.Before(s.staleBefore())
}

func (s *Service) run(ctx context.Context, doc *domain.Document) (*ProcessOutcome, error) {
	version, err := s.docs.Claim(ctx, doc.ID, doc.Version, s.staleBefore())
	if err != nil {
		return nil, err
	}
	doc.Version = version
	doc.ProcessingStatus = domain.ProcessingStatusProcessing
	doc.ProcessingError = nil

	// Once claimed, the run finishes and is recorded even if the caller goes away.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RunTimeout)
	defer cancel()

	res, runErr := s.extractor.Run(runCtx, extraction.Input{
		DocumentID: doc.ID,
		Category:   doc.Category,
		FileKey:    doc.FileKey,
		FileName:   doc.FileName,
		MIMEType:   doc.MIMEType,
	})

	persistCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		return nil, s.fail(persistCtx, doc, runErr)
	}

	if err := s.docs.Complete(persistCtx, doc.ID, doc.Version, res.ExtractedData, res.Metadata); err != nil {
		return nil, s.fail(persistCtx, doc, errors.Wrap(err, "failed to store extraction result"))
	}
	doc.Version++
	doc.ProcessingStatus = domain.ProcessingStatusCompleted
	doc.ExtractedData = res.ExtractedData
	meta := res.Metadata
	doc.ProcessingMetadata = &meta

	out := &ProcessOutcome{Document: doc}
	if m, err := extraction.Map(doc.Category, doc.ExtractedData); err == nil {
		out.Mapping = &m
	}
	if doc.Category.IsBusinessDocument() {
		if client, err := s.clients.GetWithDocuments(persistCtx, doc.ClientID); err == nil {
			report := extraction.ValidateNameConsistency(client, doc, doc.ExtractedData)
			out.NameCheck = &report
		} else {
			s.logger.Warn("Name check skipped", map[string]interface{}{"document_id": doc.ID.String(), "error": err.Error()})
		}
	}
	return out, nil
}

// fail moves a claimed document to FAILED. When even that write is lost the
// claim stays PROCESSING until it goes stale and Reprocess can take it over.
func (s *Service) fail(ctx context.Context, doc *domain.Document, cause error) error {
	reason := cause.Error()
	if err := s.docs.Fail(ctx, doc.ID, doc.Version, reason); err != nil {
		s.logger.Error("Failed to mark document failed", map[string]interface{}{
			"document_id": doc.ID.String(),
			"cause":       reason,
			"error":       err.Error(),
		})
		return fmt.Errorf("%w (document left processing: %v)", cause, err)
	}
	doc.Version++
	doc.ProcessingStatus = domain.ProcessingStatusFailed
	doc.ProcessingError = &reason
	return cause
}

// Verify records that a human checked the document.
func (s *Service) Verify(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	if err := s.docs.SetUploadStatus(ctx, id, domain.UploadStatusVerified); err != nil {
		return nil, err
	}
	s.logger.Info("Document verified", map[string]interface{}{"document_id": id.String()})
	return s.docs.FindByID(ctx, id)
}

// NameCheck compares the document's extracted legal names with the client
// and its other business documents.
func (s *Service) NameCheck(ctx context.Context, id uuid.UUID) (*extraction.NameReport, error) {
	doc, client, err := s.extracted(ctx, id)
	if err != nil {
		return nil, err
	}
	report := extraction.ValidateNameConsistency(client, doc, doc.ExtractedData)
	return &report, nil
}

// ApplyExtraction writes the mapped fields to the client or to the person
// the document is assigned to. Name conflicts block the write unless force.
func (s *Service) ApplyExtraction(ctx context.Context, id uuid.UUID, force bool) (*ApplyResult, error) {
	doc, client, err := s.extracted(ctx, id)
	if err != nil {
		return nil, err
	}
	mapping, err := extraction.Map(doc.Category, doc.ExtractedData)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{
		ClientID:    client.ID,
		Applied:     mapping.RecordUpdates(),
		SideChannel: mapping.SideChannel(),
	}

	if doc.Category.IsBusinessDocument() {
		report := extraction.ValidateNameConsistency(client, doc, doc.ExtractedData)
		result.NameCheck = &report
		if report.HasErrors() && !force {
			return nil, &NameConflictError{Report: report}
		}
		if err := domain.ApplyUpdates(client, result.Applied); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, err.Error())
		}
		result.AIExtractedFields = mapping.AIExtractedFields
	} else {
		if doc.AssignedToPerson == nil {
			return nil, errors.Wrap(errors.ErrPersonNotFound, "document is not assigned to a person")
		}
		person, role, ok := client.FindPerson(*doc.AssignedToPerson)
		if !ok {
			return nil, errors.ErrPersonNotFound
		}
		if err := domain.ApplyUpdates(person, result.Applied); err != nil {
			return nil, errors.Wrap(errors.ErrInvalidInput, err.Error())
		}
		prefix := personPathPrefix(role, person.ID)
		for _, p := range mapping.AIExtractedFields {
			result.AIExtractedFields = append(result.AIExtractedFields, prefix+p)
		}
		result.PersonID = &person.ID
	}

	client.AddAIExtractedFields(result.AIExtractedFields...)
	if err := s.clients.Update(ctx, client); err != nil {
		return nil, err
	}
	result.ClientVersion = client.Version

	s.logger.Info("Extraction applied", map[string]interface{}{
		"document_id": doc.ID.String(),
		"client_id":   client.ID.String(),
		"fields":      len(result.Applied),
		"forced":      force && result.NameCheck != nil && result.NameCheck.HasErrors(),
	})
	return result, nil
}

// Delete removes the record, then the stored file.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.ProcessingStatus == domain.ProcessingStatusProcessing {
		return errors.ErrDocumentBusy
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, doc.FileKey); err != nil {
		s.logger.Warn("Failed to delete stored file", map[string]interface{}{"document_id": id.String(), "key": doc.FileKey, "error": err.Error()})
	}
	s.logger.Info("Document deleted", map[string]interface{}{"document_id": id.String(), "client_id": doc.ClientID.String()})
	return nil
}

func (s *Service) extracted(ctx context.Context, id uuid.UUID) (*domain.Document, *domain.Client, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if doc.ProcessingStatus != domain.ProcessingStatusCompleted || len(doc.ExtractedData) == 0 {
		return nil, nil, errors.ErrDocumentNotExtracted
	}
	client, err := s.clients.GetWithDocuments(ctx, doc.ClientID)
	if err != nil {
		return nil, nil, err
	}
	return doc, client, nil
}

// personPathPrefix addresses a person inside the client record, e.g.
// partners.<id>. for AI field bookkeeping.
func personPathPrefix(role domain.PersonRole, id uuid.UUID) string {
	return strings.ToLower(string(role)) + "s." + id.String() + "."
}
