// Package lineproto encodes measurement points in the time-series line
// protocol:
//
//	<measurement>,<tag>=<val>[,...] <field>=<val>[,...] <unix-nanos>\n
//
// Comma, double quote, equals, newline, carriage return and backslash are
// backslash-escaped in every position. Space is additionally escaped in tag
// values, and never in field names. Integer fields carry an "i" suffix,
// unsigned fields "u", timestamp fields "t" (microseconds since epoch);
// floats and booleans are unsuffixed and strings are double-quoted with
// interior escaping.
package lineproto

import (
	"strconv"
	"time"
)

type tag struct {
	key, value string
}

type field struct {
	key   string
	value fieldValue
}

type fieldValue struct {
	kind byte // i, u, f, b, s, t
	i    int64
	u    uint64
	f    float64
	b    bool
	s    string
	t    time.Time
}

// Point is a single measurement with ordered tags and fields.
type Point struct {
	name   string
	tags   []tag
	fields []field
	ts     time.Time
}

// NewPoint creates a point for the given measurement name.
func NewPoint(name string) *Point {
	return &Point{name: name}
}

// Tag appends a tag. Tags keep insertion order.
func (p *Point) Tag(key, value string) *Point {
	p.tags = append(p.tags, tag{key, value})
	return p
}

// Int appends a signed integer field.
func (p *Point) Int(key string, v int64) *Point {
	p.fields = append(p.fields, field{key, fieldValue{kind: 'i', i: v}})
	return p
}

// Uint appends an unsigned integer field.
func (p *Point) Uint(key string, v uint64) *Point {
	p.fields = append(p.fields, field{key, fieldValue{kind: 'u', u: v}})
	return p
}

// Float appends a float field.
func (p *Point) Float(key string, v float64) *Point {
	p.fields = append(p.fields, field{key, fieldValue{kind: 'f', f: v}})
	return p
}

// Bool appends a boolean field.
func (p *Point) Bool(key string, v bool) *Point {
	p.fields = append(p.fields, field{key, fieldValue{kind: 'b', b: v}})
	return p
}

// Str appends a string field.
func (p *Point) Str(key, v string) *Point {
	p.fields = append(p.fields, field{key, fieldValue{kind: 's', s: v}})
	return p
}

// Timestamp appends a timestamp field, serialized as microseconds since the
// epoch with a "t" suffix.
func (p *Point) Timestamp(key string, v time.Time) *Point {
	p.fields = append(p.fields, field{key, fieldValue{kind: 't', t: v}})
	return p
}

// Time sets the point timestamp. Zero means "now" at encode time.
func (p *Point) Time(t time.Time) *Point {
	p.ts = t
	return p
}

// AppendLine appends the encoded line (newline-terminated) to b.
func (p *Point) AppendLine(b []byte) []byte {
	b = appendEscaped(b, p.name, false)
	for _, t := range p.tags {
		b = append(b, ',')
		b = appendEscaped(b, t.key, false)
		b = append(b, '=')
		b = appendEscaped(b, t.value, true)
	}
	b = append(b, ' ')
	for i, f := range p.fields {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendEscaped(b, f.key, false)
		b = append(b, '=')
		b = f.value.append(b)
	}
	b = append(b, ' ')

	ts := p.ts
	if ts.IsZero() {
		ts = time.Now()
	}
	b = strconv.AppendInt(b, ts.UnixNano(), 10)
	return append(b, '\n')
}

// Encode returns the encoded line.
func (p *Point) Encode() []byte {
	return p.AppendLine(nil)
}

func (v fieldValue) append(b []byte) []byte {
	switch v.kind {
	case 'i':
		b = strconv.AppendInt(b, v.i, 10)
		return append(b, 'i')
	case 'u':
		b = strconv.AppendUint(b, v.u, 10)
		return append(b, 'u')
	case 'f':
		return strconv.AppendFloat(b, v.f, 'g', -1, 64)
	case 'b':
		return strconv.AppendBool(b, v.b)
	case 't':
		b = strconv.AppendInt(b, v.t.UnixMicro(), 10)
		return append(b, 't')
	default:
		b = append(b, '"')
		b = appendEscaped(b, v.s, false)
		return append(b, '"')
	}
}

// appendEscaped backslash-escapes the protocol metacharacters. Space is only
// escaped when spaces is true (tag values).
func appendEscaped(b []byte, s string, spaces bool) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case ',', '"', '=', '\\':
			b = append(b, '\\', c)
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case ' ':
			if spaces {
				b = append(b, '\\', c)
			} else {
				b = append(b, c)
			}
		default:
			b = append(b, c)
		}
	}
	return b
}
