package schedule

import (
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/pulsestore/errors"
)

// TimezoneMode selects how timestamps are written to the database.
type TimezoneMode string

const (
	// TimezoneAware stores instants as UTC text with a Z suffix.
	TimezoneAware TimezoneMode = "aware"
	// TimezoneNaive stores the wall clock in the configured location, with no offset.
	TimezoneNaive TimezoneMode = "naive"
)

// Fixed-width layouts so that text comparison in SQL orders by instant.
// Nanoseconds are kept so a stored time reads back as the same instant.
const (
	awareLayout = "2006-01-02T15:04:05.000000000Z"
	naiveLayout = "2006-01-02 15:04:05.000000000"

	// Rows written before nanosecond precision (see migration 003).
	legacyAwareLayout = "2006-01-02T15:04:05.000000Z"
	legacyNaiveLayout = "2006-01-02 15:04:05.000000"
)

// Normalizer converts between engine timestamps and their stored form.
type Normalizer struct {
	mode TimezoneMode
	loc  *time.Location
}

// NewNormalizer returns a Normalizer for mode. loc is the default timezone:
// naive wall clocks are read and written in it. A nil loc means UTC.
func NewNormalizer(mode TimezoneMode, loc *time.Location) (*Normalizer, error) {
	switch mode {
	case TimezoneAware, TimezoneNaive:
	default:
		return nil, errors.Newf("unknown timezone mode %q (want %q or %q)", mode, TimezoneAware, TimezoneNaive)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{mode: mode, loc: loc}, nil
}

// DefaultNormalizer stores aware UTC timestamps.
func DefaultNormalizer() *Normalizer {
	return &Normalizer{mode: TimezoneAware, loc: time.UTC}
}

// Mode returns the storage mode.
func (n *Normalizer) Mode() TimezoneMode { return n.mode }

// Location returns the default timezone.
func (n *Normalizer) Location() *time.Location { return n.loc }

// ToStorage returns the column value for t: nil for nil, otherwise the
// formatted text. In naive mode the offset is applied before it is dropped.
func (n *Normalizer) ToStorage(t *time.Time) any {
	if t == nil {
		return nil
	}
	return n.Format(*t)
}

// Format renders t in the storage representation.
func (n *Normalizer) Format(t time.Time) string {
	if n.mode == TimezoneNaive {
		return t.In(n.loc).Format(naiveLayout)
	}
	return t.UTC().Format(awareLayout)
}

// Parse reads a stored timestamp. Naive text is interpreted in the default
// timezone; a wall clock that occurs twice (the hour repeated when DST ends)
// resolves to the earlier instant.
func (n *Normalizer) Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var (
		t   time.Time
		err error
	)
	if n.mode == TimezoneNaive {
		t, err = time.ParseInLocation(naiveLayout, s, n.loc)
		if err != nil {
			t, err = time.ParseInLocation(legacyNaiveLayout, s, n.loc)
		}
		if err == nil {
			t = n.earliest(t)
		}
	} else {
		t, err = time.Parse(awareLayout, s)
		if err != nil {
			t, err = time.Parse(legacyAwareLayout, s)
		}
		if err != nil {
			// Rows written by other tools may carry an explicit offset
			t, err = time.Parse(time.RFC3339Nano, s)
		}
	}
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid stored timestamp %q", s)
	}
	return t, nil
}

// earliest returns the first instant in the default timezone whose wall
// clock equals t's. Offsets in effect half a day either side cover every
// transition in the tz database.
func (n *Normalizer) earliest(t time.Time) time.Time {
	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	want := t.Format(naiveLayout)
	best := t
	for _, near := range []time.Time{t.Add(-12 * time.Hour), t.Add(12 * time.Hour)} {
		_, offset := near.Zone()
		c := wall.Add(-time.Duration(offset) * time.Second).In(n.loc)
		if c.Before(best) && c.Format(naiveLayout) == want {
			best = c
		}
	}
	return best
}

// FromStorage converts a column value back into an aware timestamp in
// target. NULL yields nil. A nil target means the default timezone.
func (n *Normalizer) FromStorage(v sql.NullString, target *time.Location) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := n.Parse(v.String)
	if err != nil {
		return nil, err
	}
	if target == nil {
		target = n.loc
	}
	t = t.In(target)
	return &t, nil
}

// MakeAware attaches the default timezone to a wall-clock value, keeping
// its fields and discarding whatever location it carried.
func (n *Normalizer) MakeAware(wall time.Time) time.Time {
	return time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), n.loc)
}
