// Package oracle calls a language model to pull structured fields out of a
// document, given as either an image or its text layer.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"taxdesk/internal/extraction/schema"
	"taxdesk/pkg/domain"
)

type Variant string

const (
	VariantImage Variant = "image"
	VariantText  Variant = "text"
)

type Request struct {
	Spec     *schema.DocumentSpec
	Variant  Variant
	Text     string // VariantText
	Image    []byte // VariantImage
	MIMEType string // VariantImage, e.g. image/png
}

// Oracle is the structured-extraction capability. Implementations return
// fields that already passed schema validation.
type Oracle interface {
	Extract(ctx context.Context, req Request) (domain.ExtractedData, error)
}

func (r Request) validate() error {
	if r.Spec == nil {
		return fmt.Errorf("oracle request without document spec")
	}
	switch r.Variant {
	case VariantText:
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("text variant with empty text")
		}
	case VariantImage:
		if len(r.Image) == 0 {
			return fmt.Errorf("image variant with empty image")
		}
	default:
		return fmt.Errorf("unknown oracle variant %q", r.Variant)
	}
	return nil
}

// SystemPrompt is shared by every provider and both variants.
func SystemPrompt(spec *schema.DocumentSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You extract data from a %s for an accounting firm in the United Arab Emirates.\n", spec.Label)
	b.WriteString("Return ONLY a JSON object. Each key is a field name below and each value is an object ")
	b.WriteString(`{"value": ..., "confidence": number between 0 and 1}` + ".\n")
	b.WriteString("Confidence reflects how legible and unambiguous the source is for that field.\n")
	b.WriteString("Write every date as YYYY-MM-DD. Omit a field entirely when it does not appear; never invent values.\n")
	b.WriteString("Keep Arabic text in Arabic script. Copy identifiers exactly, including dashes.\n\nFields:\n")
	for _, f := range spec.Fields {
		fmt.Fprintf(&b, "- %s (%s", f.Name, f.Kind)
		if f.Kind == schema.KindEnum {
			fmt.Fprintf(&b, ": one of %s", strings.Join(f.Values, ", "))
		}
		if f.Kind == schema.KindList {
			b.WriteString(" of strings")
		}
		fmt.Fprintf(&b, "): %s\n", f.Description)
	}
	return b.String()
}

// UserPrompt introduces the source material.
func UserPrompt(req Request) string {
	if req.Variant == VariantText {
		return "Extract the fields from this document text:\n\n" + req.Text
	}
	return "Extract the fields from the attached document image."
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
