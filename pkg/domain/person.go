package domain

import (
	"database/sql/driver"
	"encoding/json"

	"github.com/google/uuid"
)

type PersonRole string

const (
	RolePartner PersonRole = "PARTNER"
	RoleManager PersonRole = "MANAGER"
)

// Person is a partner or manager of a client.
type Person struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Email       string            `json:"email,omitempty"`
	Nationality string            `json:"nationality,omitempty"`
	DateOfBirth *Date             `json:"dateOfBirth,omitempty"`
	EmiratesID  *IdentityDocument `json:"emiratesId,omitempty"`
	Passport    *IdentityDocument `json:"passport,omitempty"`
	// A manager linked to a partner shares that partner's identity documents.
	LinkedPartnerID *uuid.UUID `json:"linkedPartnerId,omitempty"`
}

type IdentityDocument struct {
	Number      string `json:"number,omitempty"`
	IssueDate   *Date  `json:"issueDate,omitempty"`
	ExpiryDate  *Date  `json:"expiryDate,omitempty"`
	Nationality string `json:"nationality,omitempty"`
	Verified    bool   `json:"verified"`
}

// People is a JSONB array of persons.
type People []Person

func (p People) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Person(p))
}

func (p *People) Scan(value interface{}) error {
	return scanJSON(value, p)
}
