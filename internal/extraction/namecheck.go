package extraction

import (
	"fmt"
	"strings"

	"taxdesk/pkg/domain"
)

// NameIssue is one legal-name mismatch.
type NameIssue struct {
	Field            string                  `json:"field"`
	Message          string                  `json:"message"`
	Values           []string                `json:"values"`
	DocumentCategory domain.DocumentCategory `json:"documentCategory"`
}

// NameReport separates conflicts with the client record (errors) from
// conflicts with sibling documents (warnings).
type NameReport struct {
	Errors   []NameIssue `json:"errors"`
	Warnings []NameIssue `json:"warnings"`
}

func (r NameReport) HasErrors() bool { return len(r.Errors) > 0 }

type nameField struct {
	name     string
	label    string
	stored   func(*domain.Client) string
	foldCase bool
}

var nameFields = []nameField{
	{name: "legalNameEnglish", label: "English legal name", stored: func(c *domain.Client) string { return c.LegalNameEnglish }, foldCase: true},
	{name: "legalNameArabic", label: "Arabic legal name", stored: func(c *domain.Client) string { return c.LegalNameArabic }},
}

// ValidateNameConsistency compares the legal names extracted from doc with
// the client record and with every other business document of the client.
// Only business documents carry legal names; person documents yield an
// empty report.
func ValidateNameConsistency(client *domain.Client, doc *domain.Document, data domain.ExtractedData) NameReport {
	report := NameReport{Errors: []NameIssue{}, Warnings: []NameIssue{}}
	if client == nil || doc == nil || !doc.Category.IsBusinessDocument() {
		return report
	}

	for _, nf := range nameFields {
		extracted := data.Text(nf.name)
		if extracted == "" {
			continue
		}
		want := normalizeName(extracted, nf.foldCase)

		if stored := strings.TrimSpace(nf.stored(client)); stored != "" && normalizeName(stored, nf.foldCase) != want {
			report.Errors = append(report.Errors, NameIssue{
				Field:            nf.name,
				Message:          fmt.Sprintf("%s on %s does not match the client record", nf.label, doc.Category),
				Values:           []string{stored, extracted},
				DocumentCategory: doc.Category,
			})
		}

		for _, sib := range client.Documents {
			if sib.ID == doc.ID || !sib.Category.IsBusinessDocument() {
				continue
			}
			other := sib.ExtractedData.Text(nf.name)
			if other == "" || normalizeName(other, nf.foldCase) == want {
				continue
			}
			report.Warnings = append(report.Warnings, NameIssue{
				Field:            nf.name,
				Message:          fmt.Sprintf("%s differs from the one extracted from %s", nf.label, sib.Category),
				Values:           []string{other, extracted},
				DocumentCategory: sib.Category,
			})
		}
	}
	return report
}

// normalizeName collapses internal whitespace; English names are also
// compared case-insensitively.
func normalizeName(s string, foldCase bool) string {
	s = strings.Join(strings.Fields(s), " ")
	if foldCase {
		s = strings.ToLower(s)
	}
	return s
}
