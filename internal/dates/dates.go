// Package dates turns free-text date fields into instants using an ordered
// list of regular expression + strftime rules.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itchyny/timefmt-go"

	"github.com/smartcity/roadwork/internal/domain"
	"github.com/smartcity/roadwork/internal/logger"
)

// MillisThreshold separates epoch seconds from epoch milliseconds
const MillisThreshold = 1_000_000_000_000

// Result is the instant found by the first matching parser, with the flags
// of that parser for the caller to apply.
type Result struct {
	Time      time.Time
	AddYear   bool
	ResetHour bool
}

var patterns sync.Map // matcher -> *regexp.Regexp

func compile(matcher string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(matcher); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(matcher)
	if err != nil {
		return nil, err
	}
	patterns.Store(matcher, re)
	return re, nil
}

// Parse tries parsers in order; the first one whose matcher matches raw
// decides. A matching parser that fails to parse does not hand over to the
// next one.
func Parse(parsers []domain.Parser, raw string, loc *time.Location) (Result, error) {
	if loc == nil {
		loc = time.UTC
	}
	for _, p := range parsers {
		re, err := compile(p.Matcher)
		if err != nil {
			logger.Log.WithError(err).Warnf("invalid date matcher %q", p.Matcher)
			continue
		}
		groups := re.FindStringSubmatch(raw)
		if groups == nil {
			continue
		}
		text := groups[0]
		if re.NumSubexp() > 0 {
			text = groups[1]
		}
		t, err := parseText(text, p.Format, loc)
		if err != nil {
			return Result{}, fmt.Errorf("dates: unable to parse %q: %v: %w", text, err, domain.ErrNoRuleMatched)
		}
		return Result{Time: t, AddYear: p.AddYear, ResetHour: p.ResetHour}, nil
	}
	return Result{}, fmt.Errorf("dates: unable to parse date %q with parsers: %s: %w",
		raw, describe(parsers), domain.ErrNoRuleMatched)
}

func parseText(text, format string, loc *time.Location) (time.Time, error) {
	if format != "" {
		return timefmt.ParseInLocation(text, format, loc)
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	if ts < MillisThreshold && ts > -MillisThreshold {
		ts *= 1000
	}
	return time.UnixMilli(ts).In(loc), nil
}

func describe(parsers []domain.Parser) string {
	formats := make([]string, 0, len(parsers))
	for _, p := range parsers {
		if p.Format != "" {
			formats = append(formats, p.Format)
		}
	}
	return strings.Join(formats, "|")
}

// ResetHour drops the time of day, keeping the date in t's location
func ResetHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// WithYear moves t to year. It reports false, and returns t unchanged, when
// the day does not exist in that year (29 February).
func WithYear(t time.Time, year int) (time.Time, bool) {
	_, m, d := t.Date()
	moved := time.Date(year, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if moved.Month() != m || moved.Day() != d {
		return t, false
	}
	return moved, true
}
