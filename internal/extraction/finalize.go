package extraction

import (
	"sort"

	"taxdesk/internal/extraction/schema"
	"taxdesk/pkg/domain"
)

// AverageConfidence is the mean over all fields, 0 when there are none.
func AverageConfidence(data domain.ExtractedData) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, f := range data {
		sum += f.Confidence
	}
	return sum / float64(len(data))
}

// Finalize computes the confidence summary of a result. Timing, method and
// file type are filled in by the caller.
func Finalize(data domain.ExtractedData, spec *schema.DocumentSpec, threshold float64) domain.ProcessingMetadata {
	low := make([]string, 0)
	for name, f := range data {
		if f.Confidence < threshold {
			low = append(low, name)
		}
	}
	sort.Strings(low)

	return domain.ProcessingMetadata{
		AverageConfidence:   AverageConfidence(data),
		HasCriticalFields:   spec != nil && data.Present(spec.Critical),
		LowConfidenceFields: low,
	}
}
