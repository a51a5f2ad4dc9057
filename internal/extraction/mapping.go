package extraction

import (
	"sort"
	"strings"

	"taxdesk/pkg/domain"
	"taxdesk/pkg/errors"
)

// SideChannelPrefix marks mapped values that are not record fields. They
// feed the manual partner and manager account flows.
const SideChannelPrefix = "_"

type target struct {
	field string // extracted field name
	path  string // dotted JSON path on the record
	date  bool
	list  bool
}

var (
	legalNames = []target{
		{field: "legalNameEnglish", path: "legalNameEnglish"},
		{field: "legalNameArabic", path: "legalNameArabic"},
		{field: "address", path: "businessInfo.address"},
		{field: "emirate", path: "businessInfo.emirate"},
	}

	businessTargets = map[domain.DocumentType][]target{
		domain.TypeTradeLicense: append([]target{
			{field: "licenseNumber", path: "businessInfo.licenseNumber"},
			{field: "licenseStartDate", path: "businessInfo.licenseStartDate", date: true},
			{field: "licenseExpiryDate", path: "businessInfo.licenseExpiryDate", date: true},
			{field: "managerName", path: "_managerName"},
			{field: "partners", path: "_partners", list: true},
		}, legalNames...),
		domain.TypeVATCertificate: append([]target{
			{field: "trn", path: "businessInfo.trn"},
			{field: "registrationStatus", path: "businessInfo.vatRegistrationStatus"},
			{field: "vatReturnCycle", path: "businessInfo.vatReturnCycle"},
			{field: "registrationDate", path: "businessInfo.vatRegistrationDate", date: true},
		}, legalNames...),
		domain.TypeCorporateTaxCertificate: append([]target{
			{field: "ctrn", path: "businessInfo.ctrn"},
			{field: "taxPeriodDueDate", path: "businessInfo.corporateTaxDueDate", date: true},
			{field: "registrationDate", path: "businessInfo.ctRegistrationDate", date: true},
		}, legalNames...),
	}

	personTargets = map[domain.DocumentType][]target{
		domain.TypeEmiratesID: {
			{field: "idNumber", path: "emiratesId.number"},
			{field: "issueDate", path: "emiratesId.issueDate", date: true},
			{field: "expiryDate", path: "emiratesId.expiryDate", date: true},
			{field: "nationality", path: "nationality"},
		},
		domain.TypePassport: {
			{field: "passportNumber", path: "passport.number"},
			{field: "issueDate", path: "passport.issueDate", date: true},
			{field: "expiryDate", path: "passport.expiryDate", date: true},
			{field: "nationality", path: "passport.nationality"},
			{field: "nationality", path: "nationality"},
			{field: "dateOfBirth", path: "dateOfBirth", date: true},
		},
	}
)

// Mapping is a flat set of dotted-path updates plus the record paths that
// came from extraction.
type Mapping struct {
	Updates           map[string]interface{} `json:"updates"`
	AIExtractedFields []string               `json:"aiExtractedFields"`
}

// RecordUpdates drops side-channel entries.
func (m Mapping) RecordUpdates() map[string]interface{} {
	out := make(map[string]interface{}, len(m.Updates))
	for k, v := range m.Updates {
		if !strings.HasPrefix(k, SideChannelPrefix) {
			out[k] = v
		}
	}
	return out
}

// SideChannel returns only the side-channel entries.
func (m Mapping) SideChannel() map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range m.Updates {
		if strings.HasPrefix(k, SideChannelPrefix) {
			out[k] = v
		}
	}
	return out
}

// MapToBusinessInfo projects a business document onto Client paths.
// Absent or unusable fields are omitted.
func MapToBusinessInfo(category domain.DocumentCategory, data domain.ExtractedData) (Mapping, error) {
	if !category.IsBusinessDocument() {
		return Mapping{}, errors.Wrap(errors.ErrUnsupportedCategory, string(category)+" is not a business document")
	}
	dt, _ := category.Type()
	return project(businessTargets[dt], data), nil
}

// MapToPerson projects an identity document onto Person paths.
func MapToPerson(category domain.DocumentCategory, data domain.ExtractedData) (Mapping, error) {
	if !category.IsPersonDocument() {
		return Mapping{}, errors.Wrap(errors.ErrUnsupportedCategory, string(category)+" is not a person document")
	}
	dt, _ := category.Type()
	return project(personTargets[dt], data), nil
}

// Map dispatches on the category.
func Map(category domain.DocumentCategory, data domain.ExtractedData) (Mapping, error) {
	if category.IsPersonDocument() {
		return MapToPerson(category, data)
	}
	return MapToBusinessInfo(category, data)
}

func project(targets []target, data domain.ExtractedData) Mapping {
	m := Mapping{Updates: make(map[string]interface{}), AIExtractedFields: []string{}}
	for _, t := range targets {
		f, ok := data[t.field]
		if !ok || f.Value.IsEmpty() {
			continue
		}
		var v interface{}
		switch {
		case t.list:
			v = f.Value.Strings()
		case t.date:
			d, err := domain.ParseDate(strings.TrimSpace(f.Value.String()))
			if err != nil {
				continue
			}
			v = d.String()
		default:
			v = strings.TrimSpace(f.Value.String())
		}
		m.Updates[t.path] = v
		if !strings.HasPrefix(t.path, SideChannelPrefix) {
			m.AIExtractedFields = append(m.AIExtractedFields, t.path)
		}
	}
	sort.Strings(m.AIExtractedFields)
	return m
}
