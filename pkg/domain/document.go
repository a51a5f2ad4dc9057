package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ==============================================================================
// CATEGORIES
// ==============================================================================

// DocumentCategory is what a document was uploaded as.
type DocumentCategory string

const (
	CategoryTradeLicense            DocumentCategory = "TRADE_LICENSE"
	CategoryVATCertificate          DocumentCategory = "VAT_CERTIFICATE"
	CategoryCorporateTaxCertificate DocumentCategory = "CORPORATE_TAX_CERTIFICATE"
	CategoryEmiratesIDPartner       DocumentCategory = "EMIRATES_ID_PARTNER"
	CategoryEmiratesIDManager       DocumentCategory = "EMIRATES_ID_MANAGER"
	CategoryPassportPartner         DocumentCategory = "PASSPORT_PARTNER"
	CategoryPassportManager         DocumentCategory = "PASSPORT_MANAGER"
)

// DocumentType is the extraction schema a category maps onto.
type DocumentType string

const (
	TypeTradeLicense            DocumentType = "TRADE_LICENSE"
	TypeVATCertificate          DocumentType = "VAT_CERTIFICATE"
	TypeCorporateTaxCertificate DocumentType = "CORPORATE_TAX_CERTIFICATE"
	TypeEmiratesID              DocumentType = "EMIRATES_ID"
	TypePassport                DocumentType = "PASSPORT"
)

var categoryTypes = map[DocumentCategory]DocumentType{
	CategoryTradeLicense:            TypeTradeLicense,
	CategoryVATCertificate:          TypeVATCertificate,
	CategoryCorporateTaxCertificate: TypeCorporateTaxCertificate,
	CategoryEmiratesIDPartner:       TypeEmiratesID,
	CategoryEmiratesIDManager:       TypeEmiratesID,
	CategoryPassportPartner:         TypePassport,
	CategoryPassportManager:         TypePassport,
}

// RequiredCategories must each have a verified document for full compliance.
var RequiredCategories = []DocumentCategory{
	CategoryTradeLicense,
	CategoryVATCertificate,
	CategoryCorporateTaxCertificate,
}

// AllCategories lists every accepted category in display order.
func AllCategories() []DocumentCategory {
	return []DocumentCategory{
		CategoryTradeLicense,
		CategoryVATCertificate,
		CategoryCorporateTaxCertificate,
		CategoryEmiratesIDPartner,
		CategoryEmiratesIDManager,
		CategoryPassportPartner,
		CategoryPassportManager,
	}
}

// CategoryNames is AllCategories as strings, for enum validation.
func CategoryNames() []string {
	all := AllCategories()
	out := make([]string, len(all))
	for i, c := range all {
		out[i] = string(c)
	}
	return out
}

// ErrUnknownCategory is returned for categories outside the enum.
var ErrUnknownCategory = errors.New("unknown document category")

// Type resolves the extraction schema for the category.
func (c DocumentCategory) Type() (DocumentType, error) {
	t, ok := categoryTypes[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
	return t, nil
}

func (c DocumentCategory) Valid() bool {
	_, ok := categoryTypes[c]
	return ok
}

// IsPersonDocument reports Emirates ID and passport categories.
func (c DocumentCategory) IsPersonDocument() bool {
	t := categoryTypes[c]
	return t == TypeEmiratesID || t == TypePassport
}

// IsBusinessDocument reports the three company-level certificates.
func (c DocumentCategory) IsBusinessDocument() bool {
	return c.Valid() && !c.IsPersonDocument()
}

// Role is the kind of person a person document belongs to.
func (c DocumentCategory) Role() PersonRole {
	switch {
	case strings.HasSuffix(string(c), "_PARTNER"):
		return RolePartner
	case strings.HasSuffix(string(c), "_MANAGER"):
		return RoleManager
	}
	return ""
}

// ==============================================================================
// DOCUMENT
// ==============================================================================

type UploadStatus string

const (
	UploadStatusPending  UploadStatus = "PENDING"
	UploadStatusVerified UploadStatus = "VERIFIED"
)

type ProcessingStatus string

const (
	ProcessingStatusPending    ProcessingStatus = "PENDING"
	ProcessingStatusProcessing ProcessingStatus = "PROCESSING"
	ProcessingStatusCompleted  ProcessingStatus = "COMPLETED"
	ProcessingStatusFailed     ProcessingStatus = "FAILED"
)

// CanReprocess reports whether a manual reprocess may start from s.
func (s ProcessingStatus) CanReprocess() bool {
	return s == ProcessingStatusCompleted || s == ProcessingStatusFailed
}

type Document struct {
	ID                 uuid.UUID           `json:"id" db:"id"`
	ClientID           uuid.UUID           `json:"clientId" db:"client_id"`
	Category           DocumentCategory    `json:"category" db:"category"`
	FileKey            string              `json:"fileKey" db:"file_key"`
	FileName           string              `json:"fileName" db:"file_name"`
	MIMEType           string              `json:"mimeType" db:"mime_type"`
	FileSize           int64               `json:"fileSize" db:"file_size"`
	AssignedToPerson   *uuid.UUID          `json:"assignedToPerson,omitempty" db:"assigned_to_person"`
	UploadStatus       UploadStatus        `json:"uploadStatus" db:"upload_status"`
	ProcessingStatus   ProcessingStatus    `json:"processingStatus" db:"processing_status"`
	ExtractedData      ExtractedData       `json:"extractedData,omitempty" db:"extracted_data"`
	ProcessingMetadata *ProcessingMetadata `json:"processingMetadata,omitempty" db:"processing_metadata"`
	ProcessingError    *string             `json:"processingError,omitempty" db:"processing_error"`
	Version            int                 `json:"version" db:"version"`
	CreatedAt          time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time           `json:"updatedAt" db:"updated_at"`
}

// IsVerified reports whether a human has confirmed the document.
func (d *Document) IsVerified() bool {
	return d.UploadStatus == UploadStatusVerified
}

// ==============================================================================
// EXTRACTION RESULTS
// ==============================================================================

// FieldValue is either a single string or a list of strings.
type FieldValue struct {
	str    string
	list   []string
	isList bool
}

func StringValue(s string) FieldValue { return FieldValue{str: s} }

func ListValue(items ...string) FieldValue {
	return FieldValue{list: append([]string(nil), items...), isList: true}
}

func (v FieldValue) IsList() bool { return v.isList }

// String joins list values with ", ".
func (v FieldValue) String() string {
	if v.isList {
		return strings.Join(v.list, ", ")
	}
	return v.str
}

// Strings returns list values, or the scalar as a one-element list.
func (v FieldValue) Strings() []string {
	if v.isList {
		return append([]string(nil), v.list...)
	}
	if v.str == "" {
		return nil
	}
	return []string{v.str}
}

// IsEmpty reports a blank scalar or a list with no non-blank item.
func (v FieldValue) IsEmpty() bool {
	if v.isList {
		for _, item := range v.list {
			if strings.TrimSpace(item) != "" {
				return false
			}
		}
		return true
	}
	return strings.TrimSpace(v.str) == ""
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if v.isList {
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	}
	return json.Marshal(v.str)
}

func (v *FieldValue) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case trimmed == "null":
		*v = FieldValue{}
		return nil
	case strings.HasPrefix(trimmed, "["):
		var items []interface{}
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		list := make([]string, 0, len(items))
		for _, it := range items {
			if it == nil {
				continue
			}
			list = append(list, fmt.Sprint(it))
		}
		*v = FieldValue{list: list, isList: true}
		return nil
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = FieldValue{str: s}
		return nil
	default:
		// Numbers and booleans come back from models occasionally.
		var any interface{}
		if err := json.Unmarshal(b, &any); err != nil {
			return err
		}
		*v = FieldValue{str: fmt.Sprint(any)}
		return nil
	}
}

// ExtractedField is one oracle answer.
type ExtractedField struct {
	Value      FieldValue `json:"value"`
	Confidence float64    `json:"confidence"`
}

// ExtractedData maps field name to answer. Stored as JSONB.
type ExtractedData map[string]ExtractedField

// Present reports whether name exists with a non-empty value.
func (d ExtractedData) Present(name string) bool {
	f, ok := d[name]
	return ok && !f.Value.IsEmpty()
}

// Text returns the trimmed string form of a field, or "".
func (d ExtractedData) Text(name string) string {
	f, ok := d[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(f.Value.String())
}

func (d ExtractedData) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(map[string]ExtractedField(d))
}

func (d *ExtractedData) Scan(value interface{}) error {
	return scanJSON(value, d)
}

type ExtractionMethod string

const (
	MethodTextExtraction       ExtractionMethod = "text_extraction"
	MethodVisionAPI            ExtractionMethod = "vision_api"
	MethodVisionAPIFallback    ExtractionMethod = "vision_api_fallback"
	MethodHybridVisionFallback ExtractionMethod = "hybrid_vision_fallback"
)

type FileType string

const (
	FileTypePDF   FileType = "pdf"
	FileTypeImage FileType = "image"
)

// ProcessingMetadata describes how a document's fields were produced.
type ProcessingMetadata struct {
	ProcessedAt         time.Time        `json:"processedAt"`
	ExtractionTimeMs    int64            `json:"extractionTime"`
	ExtractionMethod    ExtractionMethod `json:"extractionMethod"`
	AverageConfidence   float64          `json:"averageConfidence"`
	FileType            FileType         `json:"fileType"`
	HasCriticalFields   bool             `json:"hasCriticalFields"`
	LowConfidenceFields []string         `json:"lowConfidenceFields"`
	TextQualityIssue    string           `json:"textQualityIssue,omitempty"`
	EscalationReason    string           `json:"escalationReason,omitempty"`
}

func (m ProcessingMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *ProcessingMetadata) Scan(value interface{}) error {
	return scanJSON(value, m)
}
