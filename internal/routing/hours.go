package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

// BusinessHours describes when a number is staffed. Close before Open spans midnight.
type BusinessHours struct {
	TimeZone       string   `yaml:"time_zone" json:"time_zone"`
	Days           []string `yaml:"days" json:"days"`
	Open           string   `yaml:"open" json:"open"`
	Close          string   `yaml:"close" json:"close"`
	AfterHoursText string   `yaml:"after_hours_text,omitempty" json:"after_hours_text,omitempty"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (b BusinessHours) location() (*time.Location, error) {
	if strings.TrimSpace(b.TimeZone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(b.TimeZone)
}

func (b BusinessHours) validate() error {
	var errs []error
	if _, err := b.location(); err != nil {
		errs = append(errs, fmt.Errorf("business_hours time_zone: %w", err))
	}
	if _, err := parseClock(b.Open); err != nil {
		errs = append(errs, fmt.Errorf("business_hours open: %w", err))
	}
	if _, err := parseClock(b.Close); err != nil {
		errs = append(errs, fmt.Errorf("business_hours close: %w", err))
	}
	for _, d := range b.Days {
		if _, ok := weekdays[strings.ToLower(strings.TrimSpace(d))]; !ok {
			errs = append(errs, fmt.Errorf("business_hours day %q unknown", d))
		}
	}
	return errors.Join(errs...)
}

func (b BusinessHours) openOn(d time.Weekday) bool {
	if len(b.Days) == 0 {
		return true
	}
	for _, name := range b.Days {
		if wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]; ok && wd == d {
			return true
		}
	}
	return false
}

// contains fails open on misconfiguration; Validate is the gate for bad hours.
func (b BusinessHours) contains(t time.Time) bool {
	loc, err := b.location()
	if err != nil {
		return true
	}
	open, err1 := parseClock(b.Open)
	closeAt, err2 := parseClock(b.Close)
	if err1 != nil || err2 != nil {
		return true
	}
	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	switch {
	case open == closeAt:
		return b.openOn(local.Weekday())
	case open < closeAt:
		return b.openOn(local.Weekday()) && minute >= open && minute < closeAt
	default:
		// overnight: the late part belongs to today, the early part to yesterday
		if minute >= open {
			return b.openOn(local.Weekday())
		}
		if minute < closeAt {
			return b.openOn(local.AddDate(0, 0, -1).Weekday())
		}
		return false
	}
}
