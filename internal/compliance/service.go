package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"taxdesk/pkg/cache"
	"taxdesk/pkg/clock"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
)

// ClientProvider loads clients together with their documents.
type ClientProvider interface {
	GetWithDocuments(ctx context.Context, id uuid.UUID) (*domain.Client, error)
	ListWithDocuments(ctx context.Context) ([]*domain.Client, error)
}

// ReportCache stores rendered reports. Implemented by pkg/cache.RedisCache.
type ReportCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type Service struct {
	engine   *Engine
	clients  ClientProvider
	cache    ReportCache
	cacheTTL time.Duration
	clock    clock.Clock
	logger   logger.Logger
}

func NewService(engine *Engine, clients ClientProvider, reportCache ReportCache, cacheTTL time.Duration, clk clock.Clock, log logger.Logger) *Service {
	return &Service{
		engine:   engine,
		clients:  clients,
		cache:    reportCache,
		cacheTTL: cacheTTL,
		clock:    clk,
		logger:   log,
	}
}

// DueDates is the shared projection shown next to a client record.
type DueDates struct {
	ClientID         uuid.UUID        `json:"clientId"`
	NextVAT          *VATDue          `json:"nextVat,omitempty"`
	NextCorporateTax *CorporateTaxDue `json:"nextCorporateTax,omitempty"`
}

// reportKey changes whenever the client record or one of its documents
// changes, and when the day rolls over.
func reportKey(c *domain.Client, now time.Time) string {
	return fmt.Sprintf("compliance:%s:%d:%s:%s", c.ID, c.Version, documentFingerprint(c.Documents), now.UTC().Format(domain.DateLayout))
}

// documentFingerprint hashes every field the report reads from a document,
// in id order.
func documentFingerprint(docs []domain.Document) string {
	rows := make([]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, fmt.Sprintf("%s/%d/%s/%s", d.ID, d.Version, d.Category, d.UploadStatus))
	}
	sort.Strings(rows)
	h := sha256.New()
	for _, r := range rows {
		h.Write([]byte(r))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (s *Service) ClientReport(ctx context.Context, clientID uuid.UUID) (*Report, error) {
	c, err := s.clients.GetWithDocuments(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return s.report(ctx, c), nil
}

func (s *Service) report(ctx context.Context, c *domain.Client) *Report {
	now := s.clock.Now()
	key := reportKey(c, now)

	if s.cache != nil {
		var cached Report
		err := s.cache.Get(ctx, key, &cached)
		if err == nil {
			return &cached
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn("compliance.cache.read_failed", map[string]interface{}{"client_id": c.ID.String(), "error": err.Error()})
		}
	}

	r := s.engine.ComplianceStatus(c, now)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, r, s.cacheTTL); err != nil {
			s.logger.Warn("compliance.cache.write_failed", map[string]interface{}{"client_id": c.ID.String(), "error": err.Error()})
		}
	}
	return r
}

// Dashboard returns every client's report, worst first.
func (s *Service) Dashboard(ctx context.Context) ([]*Report, error) {
	clients, err := s.clients.ListWithDocuments(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list clients")
	}
	reports := make([]*Report, 0, len(clients))
	for _, c := range clients {
		reports = append(reports, s.report(ctx, c))
	}
	SortReports(reports)
	return reports, nil
}

func (s *Service) DueDates(ctx context.Context, clientID uuid.UUID) (*DueDates, error) {
	c, err := s.clients.GetWithDocuments(ctx, clientID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	return &DueDates{
		ClientID:         c.ID,
		NextVAT:          s.engine.NextVATDueDate(c, now),
		NextCorporateTax: s.engine.NextCorporateTaxDueDate(c, now),
	}, nil
}

var statusRank = map[Status]int{StatusCritical: 0, StatusWarning: 1, StatusCompliant: 2}

// SortReports orders CRITICAL first, then by ascending score, then by name.
func SortReports(reports []*Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		a, b := reports[i], reports[j]
		if statusRank[a.Status] != statusRank[b.Status] {
			return statusRank[a.Status] < statusRank[b.Status]
		}
		if a.ComplianceScore != b.ComplianceScore {
			return a.ComplianceScore < b.ComplianceScore
		}
		return a.ClientName < b.ClientName
	})
}
