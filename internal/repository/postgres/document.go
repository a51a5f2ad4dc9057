package postgres

import (
	"context"
	"database/sql"
	"time"

	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const documentColumns = `id, client_id, category, file_key, file_name, mime_type, file_size, assigned_to_person,
		upload_status, processing_status, extracted_data, processing_metadata, processing_error,
		version, created_at, updated_at`

type DocumentRepository struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, d *domain.Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt, d.Version = now, now, 1

	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.ClientID, d.Category, d.FileKey, d.FileName, d.MIMEType, d.FileSize, d.AssignedToPerson,
		d.UploadStatus, d.ProcessingStatus, d.ExtractedData, d.ProcessingMetadata, d.ProcessingError,
		d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create document")
	}
	return nil
}

func (r *DocumentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	var d domain.Document
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	err := r.db.GetContext(ctx, &d, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrDocumentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find document")
	}
	return &d, nil
}

func (r *DocumentRepository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]domain.Document, error) {
	var docs []domain.Document
	query := `SELECT ` + documentColumns + ` FROM documents WHERE client_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &docs, query, clientID); err != nil {
		return nil, errors.Wrap(err, "failed to list documents")
	}
	return docs, nil
}

// Claim moves a document to PROCESSING if it is still at the version the
// caller read and no live run holds it. A PROCESSING claim last touched
// before staleBefore belongs to a run that never finished and may be taken
// over. It returns the new version.
func (r *DocumentRepository) Claim(ctx context.Context, id uuid.UUID, version int, staleBefore time.Time) (int, error) {
	query := `
		UPDATE documents
		SET processing_status = 'PROCESSING', processing_error = NULL, version = version + 1, updated_at = $3
		WHERE id = $1 AND version = $2
			AND (processing_status <> 'PROCESSING' OR updated_at < $4)
		RETURNING version`

	var next int
	err := r.db.QueryRowxContext(ctx, query, id, version, time.Now().UTC(), staleBefore).Scan(&next)
	if err == sql.ErrNoRows {
		return 0, errors.ErrDocumentBusy
	}
	if err != nil {
		return 0, errors.Wrap(err, "failed to claim document")
	}
	return next, nil
}

// Complete stores a successful run. Only the run holding the claim can finish it.
func (r *DocumentRepository) Complete(ctx context.Context, id uuid.UUID, version int, data domain.ExtractedData, meta domain.ProcessingMetadata) error {
	query := `
		UPDATE documents
		SET processing_status = 'COMPLETED', extracted_data = $3, processing_metadata = $4,
			processing_error = NULL, version = version + 1, updated_at = $5
		WHERE id = $1 AND version = $2 AND processing_status = 'PROCESSING'`

	return r.finish(ctx, query, id, version, data, meta, time.Now().UTC())
}

// Fail records a failed run.
func (r *DocumentRepository) Fail(ctx context.Context, id uuid.UUID, version int, reason string) error {
	query := `
		UPDATE documents
		SET processing_status = 'FAILED', processing_error = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2 AND processing_status = 'PROCESSING'`

	return r.finish(ctx, query, id, version, reason, time.Now().UTC())
}

func (r *DocumentRepository) finish(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, "failed to finish document processing")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to finish document processing")
	}
	if n == 0 {
		return errors.ErrVersionConflict
	}
	return nil
}

// SetUploadStatus records the human review state. It leaves version alone:
// version guards processing transitions, and a review may land while a run
// holds the claim.
func (r *DocumentRepository) SetUploadStatus(ctx context.Context, id uuid.UUID, status domain.UploadStatus) error {
	query := `UPDATE documents SET upload_status = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "failed to update upload status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrDocumentNotFound
	}
	return nil
}
