package extraction

import (
	"context"
	"fmt"

	"taxdesk/internal/extraction/oracle"
	"taxdesk/pkg/domain"
)

// tier is one step of the fallback chain. applies decides from the run state
// whether the tier runs at all; accept is its quality gate.
type tier struct {
	method     domain.ExtractionMethod
	escalation bool
	applies    func(r *run) bool
	extract    func(ctx context.Context, p *Pipeline, r *run) (domain.ExtractedData, string, error)
	accept     func(p *Pipeline, r *run, out domain.ExtractedData) (bool, string)
}

// tiers is evaluated in order. Adding a fallback means adding an entry.
func (p *Pipeline) tiers() []tier {
	return []tier{
		{
			method:  domain.MethodVisionAPI,
			applies: func(r *run) bool { return r.fileType == domain.FileTypeImage },
			extract: visionFromUpload,
			accept:  acceptAll,
		},
		{
			method:  domain.MethodTextExtraction,
			applies: func(r *run) bool { return r.fileType == domain.FileTypePDF && r.textRoute() },
			extract: fromText,
			accept:  acceptText,
		},
		{
			method:     domain.MethodVisionAPIFallback,
			escalation: true,
			applies:    func(r *run) bool { return r.fileType == domain.FileTypePDF && !r.textRoute() },
			extract:    visionFromRaster,
			accept:     acceptAll,
		},
		{
			method:     domain.MethodHybridVisionFallback,
			escalation: true,
			applies:    func(r *run) bool { return r.rejected == domain.MethodTextExtraction },
			extract:    visionFromRaster,
			accept:     acceptAll,
		},
	}
}

// textRoute reports whether the text oracle gets the extracted text. Person
// documents need a text layer that passes the gate; business documents only
// need one that is not empty.
func (r *run) textRoute() bool {
	if r.quality.OK {
		return true
	}
	return !r.in.Category.IsPersonDocument() && r.quality.Issue != IssueEmptyText
}

func visionFromUpload(ctx context.Context, p *Pipeline, r *run) (domain.ExtractedData, string, error) {
	out, err := p.callOracle(ctx, oracle.Request{
		Spec:     r.spec,
		Variant:  oracle.VariantImage,
		Image:    r.data,
		MIMEType: imageMIME(r.in.MIMEType, r.data),
	})
	return out, StageOracle, err
}

func visionFromRaster(ctx context.Context, p *Pipeline, r *run) (domain.ExtractedData, string, error) {
	img, err := p.rasterize(ctx, r)
	if err != nil {
		return nil, StageRasterize, err
	}
	out, err := p.callOracle(ctx, oracle.Request{
		Spec:     r.spec,
		Variant:  oracle.VariantImage,
		Image:    img,
		MIMEType: "image/png",
	})
	return out, StageOracle, err
}

func fromText(ctx context.Context, p *Pipeline, r *run) (domain.ExtractedData, string, error) {
	out, err := p.callOracle(ctx, oracle.Request{
		Spec:    r.spec,
		Variant: oracle.VariantText,
		Text:    r.text,
	})
	return out, StageOracle, err
}

func acceptAll(*Pipeline, *run, domain.ExtractedData) (bool, string) { return true, "" }

// acceptText rejects person-document text results that miss the critical
// field or whose mean confidence is under the threshold.
func acceptText(p *Pipeline, r *run, out domain.ExtractedData) (bool, string) {
	if !r.in.Category.IsPersonDocument() {
		return true, ""
	}
	if !out.Present(r.spec.Critical) {
		return false, fmt.Sprintf("critical field %s missing", r.spec.Critical)
	}
	if avg := AverageConfidence(out); avg < p.threshold {
		return false, fmt.Sprintf("average confidence %.2f below %.2f", avg, p.threshold)
	}
	return true, ""
}
