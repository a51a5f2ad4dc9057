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

const clientColumns = `id, legal_name_en, legal_name_ar, contact_email, contact_phone, status,
		business_info, partners, managers, ai_extracted_fields, version, created_at, updated_at`

type ClientRepository struct {
	db *sqlx.DB
}

func NewClientRepository(db *sqlx.DB) *ClientRepository {
	return &ClientRepository{db: db}
}

func (r *ClientRepository) Create(ctx context.Context, c *domain.Client) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = domain.ClientStatusActive
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt, c.Version = now, now, 1

	query := `
		INSERT INTO clients (` + clientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.LegalNameEnglish, c.LegalNameArabic, c.ContactEmail, c.ContactPhone, c.Status,
		c.BusinessInfo, c.Partners, c.Managers, c.AIExtractedFields, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create client")
	}
	return nil
}

func (r *ClientRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	var c domain.Client
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`

	err := r.db.GetContext(ctx, &c, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.ErrClientNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find client")
	}
	return &c, nil
}

func (r *ClientRepository) List(ctx context.Context) ([]*domain.Client, error) {
	var clients []*domain.Client
	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY legal_name_en, id`

	if err := r.db.SelectContext(ctx, &clients, query); err != nil {
		return nil, errors.Wrap(err, "failed to list clients")
	}
	return clients, nil
}

// GetWithDocuments loads a client and all of its documents.
func (r *ClientRepository) GetWithDocuments(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	c, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var docs []domain.Document
	query := `SELECT ` + documentColumns + ` FROM documents WHERE client_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &docs, query, id); err != nil {
		return nil, errors.Wrap(err, "failed to load client documents")
	}
	c.Documents = docs
	return c, nil
}

// ListWithDocuments loads every client with its documents in two queries.
func (r *ClientRepository) ListWithDocuments(ctx context.Context) ([]*domain.Client, error) {
	clients, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		return clients, nil
	}

	var docs []domain.Document
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY client_id, created_at, id`
	if err := r.db.SelectContext(ctx, &docs, query); err != nil {
		return nil, errors.Wrap(err, "failed to load documents")
	}

	byClient := make(map[uuid.UUID]*domain.Client, len(clients))
	for _, c := range clients {
		byClient[c.ID] = c
	}
	for _, d := range docs {
		if c, ok := byClient[d.ClientID]; ok {
			c.Documents = append(c.Documents, d)
		}
	}
	return clients, nil
}

// Update writes the whole record if nobody changed it since it was read.
// On success c.Version is the new version.
func (r *ClientRepository) Update(ctx context.Context, c *domain.Client) error {
	c.UpdatedAt = time.Now().UTC()
	query := `
		UPDATE clients SET
			legal_name_en = $3, legal_name_ar = $4, contact_email = $5, contact_phone = $6, status = $7,
			business_info = $8, partners = $9, managers = $10, ai_extracted_fields = $11,
			version = version + 1, updated_at = $12
		WHERE id = $1 AND version = $2`

	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.Version, c.LegalNameEnglish, c.LegalNameArabic, c.ContactEmail, c.ContactPhone, c.Status,
		c.BusinessInfo, c.Partners, c.Managers, c.AIExtractedFields, c.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update client")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to update client")
	}
	if n == 0 {
		return errors.ErrVersionConflict
	}
	c.Version++
	return nil
}
