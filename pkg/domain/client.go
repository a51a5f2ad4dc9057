// Package domain defines the core business entities for taxdesk.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ==============================================================================
// ENUMS
// ==============================================================================

type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "ACTIVE"
	ClientStatusInactive ClientStatus = "INACTIVE"
	ClientStatusProspect ClientStatus = "PROSPECT"
)

// VATCycle is the fallback return cycle used when no explicit periods exist.
type VATCycle string

const (
	VATCycleMonthly   VATCycle = "MONTHLY"
	VATCycleQuarterly VATCycle = "QUARTERLY"
)

// ==============================================================================
// CLIENT
// ==============================================================================

type Client struct {
	ID                uuid.UUID    `json:"id" db:"id"`
	LegalNameEnglish  string       `json:"legalNameEnglish" db:"legal_name_en"`
	LegalNameArabic   string       `json:"legalNameArabic" db:"legal_name_ar"`
	ContactEmail      string       `json:"contactEmail" db:"contact_email"`
	ContactPhone      string       `json:"contactPhone" db:"contact_phone"`
	Status            ClientStatus `json:"status" db:"status"`
	BusinessInfo      BusinessInfo `json:"businessInfo" db:"business_info"`
	Partners          People       `json:"partners" db:"partners"`
	Managers          People       `json:"managers" db:"managers"`
	AIExtractedFields StringList   `json:"aiExtractedFields" db:"ai_extracted_fields"`
	Version           int          `json:"version" db:"version"`
	CreatedAt         time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time    `json:"updatedAt" db:"updated_at"`

	// Loaded separately; not a column.
	Documents []Document `json:"documents,omitempty" db:"-"`
}

// BusinessInfo is stored as one JSONB column. When VATTaxPeriods is
// non-empty it wins over VATReturnCycle for every due-date computation.
type BusinessInfo struct {
	LicenseNumber         string      `json:"licenseNumber,omitempty"`
	LicenseStartDate      *Date       `json:"licenseStartDate,omitempty"`
	LicenseExpiryDate     *Date       `json:"licenseExpiryDate,omitempty"`
	TRN                   string      `json:"trn,omitempty"`
	VATRegistrationStatus string      `json:"vatRegistrationStatus,omitempty"`
	VATRegistrationDate   *Date       `json:"vatRegistrationDate,omitempty"`
	VATReturnCycle        VATCycle    `json:"vatReturnCycle,omitempty"`
	VATTaxPeriods         []TaxPeriod `json:"vatTaxPeriods,omitempty"`
	CTRN                  string      `json:"ctrn,omitempty"`
	CTRegistrationDate    *Date       `json:"ctRegistrationDate,omitempty"`
	CorporateTaxDueDate   *Date       `json:"corporateTaxDueDate,omitempty"`
	Address               string      `json:"address,omitempty"`
	Emirate               string      `json:"emirate,omitempty"`
}

func (b BusinessInfo) Value() (driver.Value, error) {
	return json.Marshal(b)
}

func (b *BusinessInfo) Scan(value interface{}) error {
	return scanJSON(value, b)
}

// TaxPeriod is one recurring VAT period. Periods of a client never overlap.
type TaxPeriod struct {
	StartDate Date `json:"startDate"`
	EndDate   Date `json:"endDate"`
}

// SortedTaxPeriods returns a copy ordered by StartDate.
func SortedTaxPeriods(periods []TaxPeriod) []TaxPeriod {
	out := make([]TaxPeriod, len(periods))
	copy(out, periods)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartDate.Before(out[j].StartDate.Time)
	})
	return out
}

// ValidateTaxPeriods rejects inverted or overlapping periods.
func ValidateTaxPeriods(periods []TaxPeriod) error {
	sorted := SortedTaxPeriods(periods)
	for i, p := range sorted {
		if p.StartDate.IsZero() || p.EndDate.IsZero() {
			return errors.New("tax period dates are required")
		}
		if !p.EndDate.After(p.StartDate.Time) {
			return errors.New("tax period must end after it starts")
		}
		if i > 0 && !p.StartDate.After(sorted[i-1].EndDate.Time) {
			return errors.New("tax periods must not overlap")
		}
	}
	return nil
}

// FindPerson looks a partner or manager up by id.
func (c *Client) FindPerson(id uuid.UUID) (*Person, PersonRole, bool) {
	for i := range c.Partners {
		if c.Partners[i].ID == id {
			return &c.Partners[i], RolePartner, true
		}
	}
	for i := range c.Managers {
		if c.Managers[i].ID == id {
			return &c.Managers[i], RoleManager, true
		}
	}
	return nil, "", false
}

// AddAIExtractedFields records paths filled by extraction, without duplicates.
func (c *Client) AddAIExtractedFields(paths ...string) {
	seen := make(map[string]struct{}, len(c.AIExtractedFields))
	for _, p := range c.AIExtractedFields {
		seen[p] = struct{}{}
	}
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		c.AIExtractedFields = append(c.AIExtractedFields, p)
	}
}

// StringList is a JSONB array of strings.
type StringList []string

func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

func (s *StringList) Scan(value interface{}) error {
	return scanJSON(value, s)
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.New("type assertion to []byte failed")
	}
}
