// Package extraction turns an uploaded document into structured fields.
//
// A run acquires the file, classifies it, then walks an ordered list of tiers.
// Each tier either does not apply, or produces fields that its gate accepts
// or rejects. The first accepted result is finalized.
package extraction

import (
	"context"
	"time"

	"taxdesk/internal/extraction/oracle"
	"taxdesk/internal/extraction/schema"
	"taxdesk/pkg/clock"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"github.com/google/uuid"
)

// Stage names attached to ExtractionError.
const (
	StageDispatch  = "dispatch"
	StageAcquire   = "acquire"
	StageText      = "text"
	StageRasterize = "rasterize"
	StageOracle    = "oracle"
)

// DefaultConfidenceThreshold gates person documents and flags low-confidence fields.
const DefaultConfidenceThreshold = 0.7

// BlobFetcher returns the bytes stored under a key.
type BlobFetcher interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// PDFTools is the text-layer extractor and first-page renderer.
type PDFTools interface {
	ExtractText(ctx context.Context, data []byte) (string, error)
	RasterizeFirstPage(ctx context.Context, data []byte) ([]byte, error)
}

// Input identifies the document a run works on.
type Input struct {
	DocumentID uuid.UUID
	Category   domain.DocumentCategory
	FileKey    string
	FileName   string
	MIMEType   string
}

// Result is what the host persists on the document.
type Result struct {
	ExtractedData domain.ExtractedData      `json:"extractedData"`
	Metadata      domain.ProcessingMetadata `json:"processingMetadata"`
}

type Options struct {
	ConfidenceThreshold float64
	OracleTimeout       time.Duration
	Clock               clock.Clock
	Metrics             *Metrics
}

type Pipeline struct {
	blobs     BlobFetcher
	pdf       PDFTools
	oracle    oracle.Oracle
	table     *schema.Table
	threshold float64
	timeout   time.Duration
	clock     clock.Clock
	metrics   *Metrics
	logger    logger.Logger
}

func NewPipeline(blobs BlobFetcher, pdf PDFTools, orc oracle.Oracle, table *schema.Table, opts Options, log logger.Logger) *Pipeline {
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if table == nil {
		table = schema.MustDefault()
	}
	return &Pipeline{
		blobs:     blobs,
		pdf:       pdf,
		oracle:    orc,
		table:     table,
		threshold: opts.ConfidenceThreshold,
		timeout:   opts.OracleTimeout,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		logger:    log,
	}
}

// run is the mutable state of one pipeline invocation.
type run struct {
	in       Input
	spec     *schema.DocumentSpec
	fileType domain.FileType
	data     []byte
	text     string
	quality  Quality
	image    []byte // rasterized page 1, produced at most once
	rejected domain.ExtractionMethod
	reason   string
}

// Run executes the pipeline. Errors are *errors.ExtractionError values
// carrying the category and file key.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	start := p.clock.Now()
	fields := map[string]interface{}{
		"document_id": in.DocumentID.String(),
		"category":    string(in.Category),
		"file_key":    in.FileKey,
	}

	spec, err := p.table.ForCategory(in.Category)
	if err != nil {
		return nil, p.fail(in, StageDispatch, err, fields, "")
	}

	p.logger.Info("extraction.start", fields)

	data, err := p.blobs.Get(ctx, in.FileKey)
	if err != nil {
		return nil, p.fail(in, StageAcquire, err, fields, "")
	}

	r := &run{in: in, spec: spec, data: data, fileType: Classify(in.FileName, data)}
	if r.fileType == domain.FileTypePDF {
		text, err := p.pdf.ExtractText(ctx, data)
		if err != nil {
			return nil, p.fail(in, StageText, err, fields, "")
		}
		r.text = NormalizeText(text)
		r.quality = AssessText(r.text)
	}

	for _, t := range p.tiers() {
		if !t.applies(r) {
			continue
		}
		if t.escalation {
			p.metrics.observeEscalation(string(in.Category), string(t.method))
			p.logger.Info("extraction.escalated", merge(fields, map[string]interface{}{
				"method": string(t.method), "reason": r.escalationReason(),
			}))
		}

		out, stage, err := t.extract(ctx, p, r)
		if err != nil {
			return nil, p.fail(in, stage, err, merge(fields, map[string]interface{}{"method": string(t.method)}), t.method)
		}

		ok, reason := t.accept(p, r, out)
		p.logger.Info("extraction.tier", merge(fields, map[string]interface{}{
			"method": string(t.method), "accepted": ok, "fields": len(out), "reason": reason,
		}))
		if !ok {
			r.rejected, r.reason = t.method, reason
			continue
		}

		now := p.clock.Now()
		meta := Finalize(out, spec, p.threshold)
		meta.ProcessedAt = now
		meta.ExtractionTimeMs = now.Sub(start).Milliseconds()
		meta.ExtractionMethod = t.method
		meta.FileType = r.fileType
		if !r.quality.OK && r.fileType == domain.FileTypePDF {
			meta.TextQualityIssue = r.quality.Issue
		}
		if t.escalation {
			meta.EscalationReason = r.escalationReason()
		}

		p.metrics.observeRun(string(in.Category), string(t.method), "ok", now.Sub(start).Seconds())
		p.logger.Info("extraction.done", merge(fields, map[string]interface{}{
			"method":             string(t.method),
			"duration_ms":        meta.ExtractionTimeMs,
			"average_confidence": meta.AverageConfidence,
			"has_critical":       meta.HasCriticalFields,
		}))
		return &Result{ExtractedData: out, Metadata: meta}, nil
	}

	// Every chain ends in a tier that accepts unconditionally.
	return nil, p.fail(in, StageOracle, errors.New("no extraction tier accepted the document"), fields, r.rejected)
}

func (p *Pipeline) fail(in Input, stage string, err error, fields map[string]interface{}, method domain.ExtractionMethod) error {
	p.metrics.observeRun(string(in.Category), string(method), "failed", 0)
	p.logger.Error("extraction.failed", merge(fields, map[string]interface{}{
		"stage": stage, "error": err.Error(),
	}))
	return errors.NewExtractionError(stage, string(in.Category), in.FileKey, err)
}

// callOracle bounds one oracle call by the configured timeout.
func (p *Pipeline) callOracle(ctx context.Context, req oracle.Request) (domain.ExtractedData, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	return p.oracle.Extract(ctx, req)
}

// rasterize renders page 1 once per run.
func (p *Pipeline) rasterize(ctx context.Context, r *run) ([]byte, error) {
	if r.image != nil {
		return r.image, nil
	}
	img, err := p.pdf.RasterizeFirstPage(ctx, r.data)
	if err != nil {
		return nil, err
	}
	r.image = img
	return img, nil
}

func (r *run) escalationReason() string {
	if r.rejected != "" {
		return string(r.rejected) + ": " + r.reason
	}
	if !r.quality.OK {
		return "text quality: " + r.quality.Issue
	}
	return ""
}

func merge(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
