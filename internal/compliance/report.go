package compliance

import (
	"fmt"
	"math"
	"sort"
	"time"

	"taxdesk/pkg/domain"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
}

type AlertType string

const (
	AlertMissingDocument    AlertType = "MISSING_DOCUMENT"
	AlertLicenseExpired     AlertType = "LICENSE_EXPIRED"
	AlertLicenseExpiring    AlertType = "LICENSE_EXPIRING"
	AlertVATReturnOverdue   AlertType = "VAT_RETURN_OVERDUE"
	AlertVATReturnDue       AlertType = "VAT_RETURN_DUE"
	AlertTaxDueDate         AlertType = "TAX_DUE_DATE"
	AlertExpiredEmiratesID  AlertType = "EXPIRED_EMIRATES_ID"
	AlertExpiringEmiratesID AlertType = "EXPIRING_EMIRATES_ID"
	AlertExpiredPassport    AlertType = "EXPIRED_PASSPORT"
	AlertExpiringPassport   AlertType = "EXPIRING_PASSPORT"
)

type Status string

const (
	StatusCritical  Status = "CRITICAL"
	StatusWarning   Status = "WARNING"
	StatusCompliant Status = "COMPLIANT"
)

// Alert is derived on every evaluation and never stored.
type Alert struct {
	Type         AlertType               `json:"type"`
	Severity     Severity                `json:"severity"`
	Message      string                  `json:"message"`
	DueDate      *domain.Date            `json:"dueDate,omitempty"`
	ExpiryDate   *domain.Date            `json:"expiryDate,omitempty"`
	DaysUntilDue *int                    `json:"daysUntilDue,omitempty"`
	DaysOverdue  *int                    `json:"daysOverdue,omitempty"`
	Category     domain.DocumentCategory `json:"category,omitempty"`
	PersonID     *uuid.UUID              `json:"personId,omitempty"`
}

// signedDays is days until due, negated days overdue, or 0 for undated alerts.
func (a Alert) signedDays() int {
	switch {
	case a.DaysUntilDue != nil:
		return *a.DaysUntilDue
	case a.DaysOverdue != nil:
		return -*a.DaysOverdue
	}
	return 0
}

type ExpiringDocument struct {
	Category        domain.DocumentCategory `json:"category"`
	ExpiryDate      domain.Date             `json:"expiryDate"`
	DaysUntilExpiry int                     `json:"daysUntilExpiry"`
	Expired         bool                    `json:"expired"`
}

// Report is the aggregate compliance view of one client.
type Report struct {
	ClientID            uuid.UUID                 `json:"clientId"`
	ClientName          string                    `json:"clientName"`
	Status              Status                    `json:"status"`
	ComplianceScore     int                       `json:"complianceScore"`
	Alerts              []Alert                   `json:"alerts"`
	MissingDocuments    []domain.DocumentCategory `json:"missingDocuments"`
	ExpiringDocuments   []ExpiringDocument        `json:"expiringDocuments"`
	NextVATDue          *VATDue                   `json:"nextVatDue,omitempty"`
	NextCorporateTaxDue *CorporateTaxDue          `json:"nextCorporateTaxDue,omitempty"`
	EvaluatedAt         time.Time                 `json:"evaluatedAt"`
}

// ComplianceStatus evaluates a client at now. It has no side effects.
func (e *Engine) ComplianceStatus(c *domain.Client, now time.Time) *Report {
	r := &Report{
		ClientID:          c.ID,
		ClientName:        c.LegalNameEnglish,
		Alerts:            []Alert{},
		MissingDocuments:  []domain.DocumentCategory{},
		ExpiringDocuments: []ExpiringDocument{},
		EvaluatedAt:       now,
	}

	verified := e.checkRequiredDocuments(c, r)
	e.checkLicense(c, now, r)
	e.checkVAT(c, now, r)
	e.checkCorporateTax(c, now, r)
	e.checkPeople(c, now, r)

	total := len(domain.RequiredCategories)
	r.ComplianceScore = int(math.Round(100 * float64(verified) / float64(total)))
	r.Status = statusOf(r.Alerts)
	SortAlerts(r.Alerts)
	return r
}

func (e *Engine) checkRequiredDocuments(c *domain.Client, r *Report) int {
	verified := 0
	for _, cat := range domain.RequiredCategories {
		ok := false
		for i := range c.Documents {
			if c.Documents[i].Category == cat && c.Documents[i].IsVerified() {
				ok = true
				break
			}
		}
		if ok {
			verified++
			continue
		}
		r.MissingDocuments = append(r.MissingDocuments, cat)
		r.Alerts = append(r.Alerts, Alert{
			Type:     AlertMissingDocument,
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("%s is missing or not yet verified", categoryLabel(cat)),
			Category: cat,
		})
	}
	return verified
}

func (e *Engine) checkLicense(c *domain.Client, now time.Time, r *Report) {
	expiry := c.BusinessInfo.LicenseExpiryDate
	if !expiry.IsSet() {
		return
	}
	days := daysBetween(now, expiry.Time)
	exp := *expiry

	var a Alert
	switch {
	case days < 0:
		a = Alert{Type: AlertLicenseExpired, Severity: SeverityCritical,
			Message: fmt.Sprintf("Trade license expired on %s", exp), DaysOverdue: intPtr(-days)}
	case days <= wholeDays(e.policy.LicenseHighHorizon):
		a = Alert{Type: AlertLicenseExpiring, Severity: SeverityHigh,
			Message: fmt.Sprintf("Trade license expires in %d days", days), DaysUntilDue: intPtr(days)}
	case days <= wholeDays(e.policy.LicenseMediumHorizon):
		a = Alert{Type: AlertLicenseExpiring, Severity: SeverityMedium,
			Message: fmt.Sprintf("Trade license expires in %d days", days), DaysUntilDue: intPtr(days)}
	default:
		return
	}
	a.ExpiryDate = &exp
	a.Category = domain.CategoryTradeLicense
	r.Alerts = append(r.Alerts, a)
	r.ExpiringDocuments = append(r.ExpiringDocuments, ExpiringDocument{
		Category:        domain.CategoryTradeLicense,
		ExpiryDate:      exp,
		DaysUntilExpiry: days,
		Expired:         days < 0,
	})
}

func (e *Engine) checkVAT(c *domain.Client, now time.Time, r *Report) {
	r.NextVATDue = e.NextVATDueDate(c, now)

	if len(c.BusinessInfo.VATTaxPeriods) == 0 {
		if cycle := c.BusinessInfo.VATReturnCycle; cycle == domain.VATCycleMonthly || cycle == domain.VATCycleQuarterly {
			r.Alerts = append(r.Alerts, Alert{
				Type:     AlertVATReturnDue,
				Severity: SeverityMedium,
				Message:  fmt.Sprintf("VAT returns are filed %s; add tax periods to track exact due dates", c.BusinessInfo.VATReturnCycle),
			})
		}
		return
	}

	if prev := e.previousVATDueDate(c, now); prev != nil {
		overdue := daysBetween(prev.Time, now)
		if overdue <= wholeDays(e.policy.OverdueWindow) {
			d := *prev
			r.Alerts = append(r.Alerts, Alert{
				Type:        AlertVATReturnOverdue,
				Severity:    SeverityCritical,
				Message:     fmt.Sprintf("VAT return was due on %s", d),
				DueDate:     &d,
				DaysOverdue: intPtr(overdue),
			})
		}
	}

	if next := r.NextVATDue; next != nil {
		if a, ok := e.upcoming(AlertVATReturnDue, "VAT return", next.SubmissionDate, next.DaysUntilDue); ok {
			r.Alerts = append(r.Alerts, a)
		}
	}
}

func (e *Engine) checkCorporateTax(c *domain.Client, now time.Time, r *Report) {
	r.NextCorporateTaxDue = e.NextCorporateTaxDueDate(c, now)
	stored := c.BusinessInfo.CorporateTaxDueDate
	if !stored.IsSet() {
		return
	}

	if stored.Before(now) {
		overdue := daysBetween(stored.Time, now)
		if overdue <= wholeDays(e.policy.OverdueWindow) {
			d := *stored
			r.Alerts = append(r.Alerts, Alert{
				Type:        AlertTaxDueDate,
				Severity:    SeverityCritical,
				Message:     fmt.Sprintf("Corporate tax return was due on %s", d),
				DueDate:     &d,
				DaysOverdue: intPtr(overdue),
			})
			return
		}
	}

	if next := r.NextCorporateTaxDue; next != nil {
		if a, ok := e.upcoming(AlertTaxDueDate, "Corporate tax return", next.DueDate, next.DaysUntilDue); ok {
			r.Alerts = append(r.Alerts, a)
		}
	}
}

// upcoming bands a future deadline: CRITICAL within a week, HIGH within two,
// MEDIUM up to the upcoming window, nothing beyond.
func (e *Engine) upcoming(t AlertType, label string, due domain.Date, days int) (Alert, bool) {
	if days < 0 || days > wholeDays(e.policy.UpcomingWindow) {
		return Alert{}, false
	}
	sev := SeverityMedium
	switch {
	case days <= wholeDays(e.policy.CriticalWithin):
		sev = SeverityCritical
	case days <= wholeDays(e.policy.HighWithin):
		sev = SeverityHigh
	}
	d := due
	return Alert{
		Type:         t,
		Severity:     sev,
		Message:      fmt.Sprintf("%s due on %s (%d days)", label, d, days),
		DueDate:      &d,
		DaysUntilDue: intPtr(days),
	}, true
}

func (e *Engine) checkPeople(c *domain.Client, now time.Time, r *Report) {
	check := func(p domain.Person, role domain.PersonRole) {
		e.checkIdentity(p, role, p.EmiratesID, "Emirates ID", AlertExpiredEmiratesID, AlertExpiringEmiratesID, now, r)
		e.checkIdentity(p, role, p.Passport, "Passport", AlertExpiredPassport, AlertExpiringPassport, now, r)
	}
	for _, p := range c.Partners {
		check(p, domain.RolePartner)
	}
	for _, m := range c.Managers {
		// Linked managers use the partner's documents, already checked above.
		if m.LinkedPartnerID != nil {
			continue
		}
		check(m, domain.RoleManager)
	}
}

func (e *Engine) checkIdentity(p domain.Person, role domain.PersonRole, doc *domain.IdentityDocument, label string,
	expiredType, expiringType AlertType, now time.Time, r *Report) {
	if doc == nil || !doc.ExpiryDate.IsSet() {
		return
	}
	exp := *doc.ExpiryDate
	days := daysBetween(now, exp.Time)
	who := fmt.Sprintf("%s (%s)", p.Name, roleLabel(role))
	id := p.ID

	switch {
	case days < 0:
		r.Alerts = append(r.Alerts, Alert{
			Type: expiredType, Severity: SeverityHigh,
			Message:    fmt.Sprintf("%s of %s expired on %s", label, who, exp),
			ExpiryDate: &exp, DaysOverdue: intPtr(-days), PersonID: &id,
		})
	case days <= wholeDays(e.policy.IDExpiryHorizon):
		r.Alerts = append(r.Alerts, Alert{
			Type: expiringType, Severity: SeverityMedium,
			Message:    fmt.Sprintf("%s of %s expires in %d days", label, who, days),
			ExpiryDate: &exp, DaysUntilDue: intPtr(days), PersonID: &id,
		})
	}
}

func statusOf(alerts []Alert) Status {
	high := false
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			return StatusCritical
		case SeverityHigh:
			high = true
		}
	}
	if high {
		return StatusWarning
	}
	return StatusCompliant
}

// SortAlerts orders by severity, then upcoming before overdue, then by
// ascending signed day count.
func SortAlerts(alerts []Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if ra, rb := severityRank[a.Severity], severityRank[b.Severity]; ra != rb {
			return ra < rb
		}
		da, db := a.signedDays(), b.signedDays()
		if (da < 0) != (db < 0) {
			return da >= 0
		}
		return da < db
	})
}

func intPtr(v int) *int { return &v }

func roleLabel(r domain.PersonRole) string {
	if r == domain.RoleManager {
		return "manager"
	}
	return "partner"
}

func categoryLabel(c domain.DocumentCategory) string {
	switch c {
	case domain.CategoryTradeLicense:
		return "Trade license"
	case domain.CategoryVATCertificate:
		return "VAT certificate"
	case domain.CategoryCorporateTaxCertificate:
		return "Corporate tax certificate"
	}
	return string(c)
}
