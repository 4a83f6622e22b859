// Package isodate implements strict ISO-8601 timestamp parsing and
// formatting.
//
// The accepted shape is YYYY-MM-DDTHH:MM:SS[.fraction]ZONE where the fraction
// carries one to nine digits and ZONE is "Z", "±HH", "±HHMM" or "±HH:MM".
// The zone designator is mandatory: a timestamp without one is rejected, as
// are non-digit separators and out-of-range components.
package isodate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalid is the base error for all parse failures.
	ErrInvalid = errors.New("isodate: invalid timestamp")
)

// Format renders t in UTC with microsecond precision and a trailing Z.
// Parse(Format(t)) equals t truncated to microseconds.
func Format(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000Z")
}

// Parse parses a strict ISO-8601 timestamp.
func Parse(s string) (time.Time, error) {
	p := &parser{in: s}

	year, err := p.digits(4, "year")
	if err != nil {
		return time.Time{}, err
	}
	if err := p.literal('-'); err != nil {
		return time.Time{}, err
	}
	month, err := p.digits(2, "month")
	if err != nil {
		return time.Time{}, err
	}
	if err := p.literal('-'); err != nil {
		return time.Time{}, err
	}
	day, err := p.digits(2, "day")
	if err != nil {
		return time.Time{}, err
	}
	if err := p.literal('T'); err != nil {
		return time.Time{}, err
	}
	hour, err := p.digits(2, "hour")
	if err != nil {
		return time.Time{}, err
	}
	if err := p.literal(':'); err != nil {
		return time.Time{}, err
	}
	minute, err := p.digits(2, "minute")
	if err != nil {
		return time.Time{}, err
	}
	if err := p.literal(':'); err != nil {
		return time.Time{}, err
	}
	second, err := p.digits(2, "second")
	if err != nil {
		return time.Time{}, err
	}

	nanos := 0
	if p.peek() == '.' {
		p.pos++
		nanos, err = p.fraction()
		if err != nil {
			return time.Time{}, err
		}
	}

	loc, err := p.zone()
	if err != nil {
		return time.Time{}, err
	}
	if p.pos != len(p.in) {
		return time.Time{}, fmt.Errorf("%w: trailing data %q", ErrInvalid, p.in[p.pos:])
	}

	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("%w: month %d out of range", ErrInvalid, month)
	}
	if day < 1 || day > daysIn(year, month) {
		return time.Time{}, fmt.Errorf("%w: day %d out of range", ErrInvalid, day)
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, fmt.Errorf("%w: time component out of range", ErrInvalid)
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nanos, loc), nil
}

type parser struct {
	in  string
	pos int
}

func (p *parser) peek() byte {
	if p.pos >= len(p.in) {
		return 0
	}
	return p.in[p.pos]
}

func (p *parser) literal(c byte) error {
	if p.peek() != c {
		return fmt.Errorf("%w: expected %q at offset %d", ErrInvalid, string(c), p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) digits(n int, what string) (int, error) {
	if p.pos+n > len(p.in) {
		return 0, fmt.Errorf("%w: truncated %s", ErrInvalid, what)
	}
	v := 0
	for i := 0; i < n; i++ {
		c := p.in[p.pos]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: non-digit in %s", ErrInvalid, what)
		}
		v = v*10 + int(c-'0')
		p.pos++
	}
	return v, nil
}

// fraction consumes one to nine fractional-second digits and returns
// nanoseconds.
func (p *parser) fraction() (int, error) {
	start := p.pos
	for p.pos < len(p.in) {
		c := p.in[p.pos]
		if c < '0' || c > '9' {
			break
		}
		p.pos++
	}
	n := p.pos - start
	if n == 0 {
		return 0, fmt.Errorf("%w: empty fraction", ErrInvalid)
	}
	if n > 9 {
		return 0, fmt.Errorf("%w: fraction longer than nine digits", ErrInvalid)
	}
	v := 0
	for _, c := range []byte(p.in[start:p.pos]) {
		v = v*10 + int(c-'0')
	}
	for i := n; i < 9; i++ {
		v *= 10
	}
	return v, nil
}

// zone consumes the mandatory zone designator.
func (p *parser) zone() (*time.Location, error) {
	switch p.peek() {
	case 'Z':
		p.pos++
		return time.UTC, nil
	case '+', '-':
		sign := 1
		if p.in[p.pos] == '-' {
			sign = -1
		}
		p.pos++
		hh, err := p.digits(2, "zone hour")
		if err != nil {
			return nil, err
		}
		mm := 0
		if p.peek() == ':' {
			p.pos++
			mm, err = p.digits(2, "zone minute")
			if err != nil {
				return nil, err
			}
		} else if p.pos < len(p.in) {
			mm, err = p.digits(2, "zone minute")
			if err != nil {
				return nil, err
			}
		}
		if hh > 14 || mm > 59 {
			return nil, fmt.Errorf("%w: zone offset out of range", ErrInvalid)
		}
		offset := sign * (hh*3600 + mm*60)
		if offset == 0 {
			return time.UTC, nil
		}
		return time.FixedZone("", offset), nil
	case 0:
		return nil, fmt.Errorf("%w: missing zone designator", ErrInvalid)
	default:
		return nil, fmt.Errorf("%w: bad zone designator %q", ErrInvalid, string(p.peek()))
	}
}

func daysIn(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	default:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	}
}
