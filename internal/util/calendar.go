package util

import (
	"time"
)

// TradingCalendar answers regular-session questions for US equities
// (NYSE 9:30-16:00 America/New_York, Monday to Friday). Exchange holidays
// are not modelled.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a US TradingCalendar. It falls back to a fixed
// UTC-5 zone when the tz database is unavailable.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{loc: loc}
}

// Location returns the exchange time zone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// IsMarketOpen returns whether the regular session is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	et := t.In(tc.loc)
	if et.Weekday() == time.Saturday || et.Weekday() == time.Sunday {
		return false
	}
	open, closeT := tc.session(et)
	return !et.Before(open) && et.Before(closeT)
}

// NextOpen returns the next regular-session open at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	et := t.In(tc.loc)
	for i := 0; i < 8; i++ {
		day := et.AddDate(0, 0, i)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		open, _ := tc.session(day)
		if !open.Before(et) {
			return open
		}
	}
	return time.Time{}
}

// NextClose returns the next regular-session close at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	et := t.In(tc.loc)
	for i := 0; i < 8; i++ {
		day := et.AddDate(0, 0, i)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		_, closeT := tc.session(day)
		if !closeT.Before(et) {
			return closeT
		}
	}
	return time.Time{}
}

// session returns the 9:30 open and 16:00 close on the calendar day of et.
func (tc *TradingCalendar) session(et time.Time) (open, closeT time.Time) {
	y, m, d := et.Date()
	open = time.Date(y, m, d, 9, 30, 0, 0, tc.loc)
	closeT = time.Date(y, m, d, 16, 0, 0, 0, tc.loc)
	return open, closeT
}
