package compliance

import (
	"math"
	"time"

	"taxdesk/pkg/config"
)

const day = 24 * time.Hour

// Policy holds every window the engine uses.
type Policy struct {
	VATFilingWindow      time.Duration // return due this long after a period ends
	IDExpiryHorizon      time.Duration // Emirates ID / passport "expiring" window
	LicenseHighHorizon   time.Duration
	LicenseMediumHorizon time.Duration
	OverdueWindow        time.Duration // older overdue deadlines are not surfaced
	UpcomingWindow       time.Duration
	CriticalWithin       time.Duration
	HighWithin           time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		VATFilingWindow:      28 * day,
		IDExpiryHorizon:      90 * day,
		LicenseHighHorizon:   30 * day,
		LicenseMediumHorizon: 60 * day,
		OverdueWindow:        7 * day,
		UpcomingWindow:       30 * day,
		CriticalWithin:       7 * day,
		HighWithin:           14 * day,
	}
}

// PolicyFromConfig overlays configured windows on the defaults.
func PolicyFromConfig(cfg config.ComplianceConfig) Policy {
	p := DefaultPolicy()
	overlay := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	overlay(&p.VATFilingWindow, cfg.VATFilingWindow)
	overlay(&p.IDExpiryHorizon, cfg.IDExpiryHorizon)
	overlay(&p.LicenseHighHorizon, cfg.LicenseHighHorizon)
	overlay(&p.LicenseMediumHorizon, cfg.LicenseMedHorizon)
	overlay(&p.OverdueWindow, cfg.OverdueWindow)
	overlay(&p.UpcomingWindow, cfg.UpcomingWindow)
	overlay(&p.CriticalWithin, cfg.CriticalWithin)
	overlay(&p.HighWithin, cfg.HighWithin)
	return p
}

// daysBetween is floor((to - from) / 1 day); negative when to is earlier.
func daysBetween(from, to time.Time) int {
	return int(math.Floor(float64(to.Sub(from)) / float64(day)))
}

func wholeDays(d time.Duration) int {
	return int(d / day)
}
