package pipeline

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"
)

// cronSchedule is a parsed five-field cron expression
// ("minute hour day-of-month month day-of-week"). Each field is a bitmask
// of the values it allows.
type cronSchedule struct {
	minute, hour, dom, month, dow uint64
	// Restricted day fields match with OR semantics, as in Vixie cron.
	domAny, dowAny bool
}

var cronMacros = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

type cronBounds struct {
	name   string
	lo, hi int
}

var cronFields = [5]cronBounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

// parseCron compiles expr once; Next is then cheap to call in a loop.
func parseCron(expr string) (*cronSchedule, error) {
	expr = strings.TrimSpace(expr)
	if m, ok := cronMacros[strings.ToLower(expr)]; ok {
		expr = m
	}
	parts := strings.Fields(expr)
	if len(parts) != len(cronFields) {
		return nil, fmt.Errorf("cron: want 5 fields, got %d in %q", len(parts), expr)
	}

	var masks [5]uint64
	for i, part := range parts {
		b := cronFields[i]
		m, err := parseCronField(part, b.lo, b.hi)
		if err != nil {
			return nil, fmt.Errorf("cron: %s: %w", b.name, err)
		}
		masks[i] = m
	}

	// 7 is an alias for Sunday.
	if masks[4]&(1<<7) != 0 {
		masks[4] = masks[4]&^(1<<7) | 1
	}

	return &cronSchedule{
		minute: masks[0],
		hour:   masks[1],
		dom:    masks[2],
		month:  masks[3],
		dow:    masks[4],
		domAny: parts[2] == "*" || parts[2] == "?",
		dowAny: parts[4] == "*" || parts[4] == "?",
	}, nil
}

// parseCronField accepts "*", "?", "n", "a-b", any of those with a "/step",
// and comma separated lists of them.
func parseCronField(field string, lo, hi int) (uint64, error) {
	var mask uint64
	for _, item := range strings.Split(field, ",") {
		if item == "" {
			return 0, fmt.Errorf("empty list item in %q", field)
		}

		rng, stepStr, hasStep := strings.Cut(item, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("bad step %q", stepStr)
			}
			step = n
		}

		first, last := lo, hi
		switch {
		case rng == "*" || rng == "?":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if first, err = cronValue(a, lo, hi); err != nil {
				return 0, err
			}
			if last, err = cronValue(b, lo, hi); err != nil {
				return 0, err
			}
			if first > last {
				return 0, fmt.Errorf("range %q runs backwards", rng)
			}
		default:
			v, err := cronValue(rng, lo, hi)
			if err != nil {
				return 0, err
			}
			first = v
			if !hasStep {
				last = v
			}
		}

		for v := first; v <= last; v += step {
			mask |= 1 << uint(v)
		}
	}
	return mask, nil
}

func cronValue(s string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad value %q", s)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %d outside %d-%d", v, lo, hi)
	}
	return v, nil
}

func (s *cronSchedule) dayMatches(t time.Time) bool {
	domOK := s.dom&(1<<uint(t.Day())) != 0
	dowOK := s.dow&(1<<uint(t.Weekday())) != 0
	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dowOK
	case s.dowAny:
		return domOK
	default:
		return domOK || dowOK
	}
}

// Next returns the first matching minute strictly after t, in t's location.
// ok is false when nothing matches within five years (e.g. "0 0 30 2 *").
func (s *cronSchedule) Next(t time.Time) (next time.Time, ok bool) {
	t = t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(5, 0, 0)
	loc := t.Location()

	for t.Before(limit) {
		if s.month&(1<<uint(t.Month())) == 0 {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if s.hour&(1<<uint(t.Hour())) == 0 {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if m := nextBit(s.minute, t.Minute()); m >= 0 {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), m, 0, 0, loc), true
		}
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
	}
	return time.Time{}, false
}

// nextBit returns the lowest set bit of mask at or above from, or -1.
func nextBit(mask uint64, from int) int {
	rest := mask >> uint(from) << uint(from)
	if rest == 0 {
		return -1
	}
	return bits.TrailingZeros64(rest)
}

// ValidateCron reports whether expr parses.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

// nextCronTime parses expr and returns its next fire time after the given
// instant.
func nextCronTime(expr string, after time.Time) (time.Time, error) {
	s, err := parseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	next, ok := s.Next(after)
	if !ok {
		return time.Time{}, fmt.Errorf("cron: %q never fires", expr)
	}
	return next, nil
}
