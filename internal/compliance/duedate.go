package compliance

import (
	"time"

	"taxdesk/pkg/domain"
)

// VATDue is the next VAT return submission the client must make.
type VATDue struct {
	SubmissionDate domain.Date       `json:"submissionDate"`
	Period         *domain.TaxPeriod `json:"period,omitempty"`
	Cycle          domain.VATCycle   `json:"cycle,omitempty"`
	DaysUntilDue   int               `json:"daysUntilDue"`
	// Recurring is set when the date was projected from a previous year's periods.
	Recurring bool `json:"recurring,omitempty"`
}

// CorporateTaxDue is the next corporate tax filing date.
type CorporateTaxDue struct {
	DueDate       domain.Date `json:"dueDate"`
	DaysUntilDue  int         `json:"daysUntilDue"`
	RolledForward bool        `json:"rolledForward,omitempty"`
}

// Engine computes due dates and compliance reports. It holds no state beyond
// its policy and never reads the clock itself.
type Engine struct {
	policy Policy
}

func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) dueFor(p domain.TaxPeriod) domain.Date {
	return domain.Date{Time: p.EndDate.Add(e.policy.VATFilingWindow)}
}

// NextVATDueDate projects the next VAT submission. Explicit tax periods take
// precedence over the return cycle. Returns nil when neither is usable.
func (e *Engine) NextVATDueDate(c *domain.Client, now time.Time) *VATDue {
	if c == nil {
		return nil
	}
	if periods := c.BusinessInfo.VATTaxPeriods; len(periods) > 0 {
		return e.nextFromPeriods(domain.SortedTaxPeriods(periods), now)
	}
	return e.nextFromCycle(c.BusinessInfo.VATReturnCycle, now)
}

func (e *Engine) nextFromPeriods(sorted []domain.TaxPeriod, now time.Time) *VATDue {
	for i := range sorted {
		due := e.dueFor(sorted[i])
		if due.After(now) {
			p := sorted[i]
			return &VATDue{SubmissionDate: due, Period: &p, DaysUntilDue: daysBetween(now, due.Time)}
		}
	}

	// Every listed period has been filed; the same calendar slots recur yearly.
	var best *VATDue
	for _, p := range sorted {
		shifted := shiftToTrialYear(p, now)
		due := e.dueFor(shifted)
		if !due.After(now) {
			continue
		}
		if best == nil || due.Before(best.SubmissionDate.Time) {
			sp := shifted
			best = &VATDue{SubmissionDate: due, Period: &sp, DaysUntilDue: daysBetween(now, due.Time), Recurring: true}
		}
	}
	if best != nil {
		return best
	}

	first := shiftYears(shiftToTrialYear(sorted[0], now), 1)
	due := e.dueFor(first)
	return &VATDue{SubmissionDate: due, Period: &first, DaysUntilDue: daysBetween(now, due.Time), Recurring: true}
}

// shiftToTrialYear moves a period to the current year, or the next one when
// its start month is already behind the current month.
func shiftToTrialYear(p domain.TaxPeriod, now time.Time) domain.TaxPeriod {
	trial := now.Year()
	if p.StartDate.Month() < now.Month() {
		trial++
	}
	return shiftYears(p, trial-p.StartDate.Year())
}

func shiftYears(p domain.TaxPeriod, years int) domain.TaxPeriod {
	return domain.TaxPeriod{
		StartDate: domain.Date{Time: p.StartDate.AddDate(years, 0, 0)},
		EndDate:   domain.Date{Time: p.EndDate.AddDate(years, 0, 0)},
	}
}

func (e *Engine) nextFromCycle(cycle domain.VATCycle, now time.Time) *VATDue {
	var step int
	switch cycle {
	case domain.VATCycleMonthly:
		step = 1
	case domain.VATCycleQuarterly:
		step = 3
	default:
		return nil
	}

	u := now.UTC()
	// endMonth is 1-based; day 0 of the following month is the last day of endMonth.
	endMonth := int(u.Month())
	if step == 3 {
		endMonth = 3*((int(u.Month())-1)/3) + 3
	}

	for i := 0; i < 2; i++ {
		end := time.Date(u.Year(), time.Month(endMonth+1), 0, 0, 0, 0, 0, time.UTC)
		start := time.Date(end.Year(), end.Month()-time.Month(step-1), 1, 0, 0, 0, 0, time.UTC)
		period := domain.TaxPeriod{StartDate: domain.DateOf(start), EndDate: domain.DateOf(end)}
		due := e.dueFor(period)
		if due.After(now) {
			return &VATDue{SubmissionDate: due, Period: &period, Cycle: cycle, DaysUntilDue: daysBetween(now, due.Time)}
		}
		endMonth += step
	}
	return nil
}

// previousVATDueDate is the latest submission date at or before now among the
// client's explicit periods and, when none is upcoming, their yearly recurrences.
func (e *Engine) previousVATDueDate(c *domain.Client, now time.Time) *domain.Date {
	periods := c.BusinessInfo.VATTaxPeriods
	if len(periods) == 0 {
		return nil
	}
	var latest *domain.Date
	consider := func(d domain.Date) {
		if d.After(now) {
			return
		}
		if latest == nil || d.After(latest.Time) {
			dd := d
			latest = &dd
		}
	}

	upcoming := false
	for _, p := range periods {
		due := e.dueFor(p)
		consider(due)
		if due.After(now) {
			upcoming = true
		}
	}
	if !upcoming {
		for _, p := range periods {
			for _, years := range []int{now.Year() - 1 - p.StartDate.Year(), now.Year() - p.StartDate.Year()} {
				if years <= 0 {
					continue
				}
				consider(e.dueFor(shiftYears(p, years)))
			}
		}
	}
	return latest
}

// NextCorporateTaxDueDate returns the stored due date, or that date plus one
// year once it has passed. Returns nil when no date is stored.
func (e *Engine) NextCorporateTaxDueDate(c *domain.Client, now time.Time) *CorporateTaxDue {
	if c == nil || !c.BusinessInfo.CorporateTaxDueDate.IsSet() {
		return nil
	}
	due := *c.BusinessInfo.CorporateTaxDueDate
	rolled := false
	if due.Before(now) {
		due = domain.Date{Time: due.AddDate(1, 0, 0)}
		rolled = true
	}
	return &CorporateTaxDue{DueDate: due, DaysUntilDue: daysBetween(now, due.Time), RolledForward: rolled}
}
