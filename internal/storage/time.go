// Defines the timestamp encodings used in stored documents.

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/invopop/jsonschema"
)

// Time is a JSON encoded unix timestamp in seconds with millisecond
// precision, e.g. 1715000000.123.
type Time int64

// Now returns the current time.
func Now() Time {
	return ToTime(time.Now())
}

// ToTime converts a time.Time to a storage.Time.
func ToTime(v time.Time) Time {
	return Time(v.UnixMilli())
}

// AsTime returns the time as UTC so its string value doesn't depend on the local time zone.
func (t Time) AsTime() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

// IsZero reports whether t is unset.
func (t Time) IsZero() bool {
	return t == 0
}

// Before reports whether t is before u.
func (t Time) Before(u Time) bool {
	return t < u
}

// After reports whether t is after u.
func (t Time) After(u Time) bool {
	return t > u
}

// Add returns t+d.
func (t Time) Add(d time.Duration) Time {
	return t + Time(d.Milliseconds())
}

// MarshalJSON encodes whole seconds as an integer and anything finer as a decimal.
func (t Time) MarshalJSON() ([]byte, error) {
	ms := int64(t)
	if ms%1000 == 0 {
		return strconv.AppendInt(nil, ms/1000, 10), nil
	}
	return strconv.AppendFloat(nil, float64(ms)/1000, 'f', -1, 64), nil
}

// UnmarshalJSON decodes JSON numbers as unix timestamps in seconds, rounding to the millisecond.
func (t *Time) UnmarshalJSON(b []byte) error {
	var i int64
	if err := json.Unmarshal(b, &i); err == nil {
		*t = Time(i * 1000)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*t = Time(int64(math.Round(f * 1000)))
	return nil
}

// StampLayout is the layout of Stamp values: local time with a numeric zone
// offset and no colon, e.g. 2024-05-01T20:15:00+0800.
const StampLayout = "2006-01-02T15:04:05-0700"

// Stamp is a wall clock timestamp encoded as a StampLayout string.
//
// Decoding also accepts RFC 3339. A string that parses as neither is kept
// verbatim and encoded back unchanged, with a zero Time.
type Stamp struct {
	time.Time
	raw string
}

// NewStamp returns t truncated to the second.
func NewStamp(t time.Time) Stamp {
	return Stamp{Time: t.Truncate(time.Second)}
}

// String implements fmt.Stringer.
func (s Stamp) String() string {
	if s.Time.IsZero() {
		return s.raw
	}
	return s.Format(StampLayout)
}

// MarshalJSON implements json.Marshaler.
func (s Stamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Stamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = Stamp{}
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(str))
}

// MarshalText implements encoding.TextMarshaler.
func (s Stamp) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stamp) UnmarshalText(b []byte) error {
	for _, layout := range []string{StampLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, string(b)); err == nil {
			*s = Stamp{Time: t}
			return nil
		}
	}
	*s = Stamp{raw: string(b)}
	return nil
}

// Count is an integer that tolerates floats and numeric strings when
// decoding, as found in hand-edited documents.
type Count int64

// UnmarshalJSON implements json.Unmarshaler.
func (c *Count) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid count %s", b)
	}
	*c = Count(math.Round(f))
	return nil
}

// Text is a string that also accepts a JSON number when decoding, for
// identifiers that clients send either way.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*t = Text(n.String())
	return nil
}

// JSONSchema implements jsonschema.Reflector customization.
func (Time) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: "Unix timestamp in seconds"}
}

// JSONSchema implements jsonschema.Reflector customization.
func (Stamp) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: "Timestamp formatted as " + StampLayout}
}

// JSONSchema implements jsonschema.Reflector customization.
func (Count) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer"}
}

// JSONSchema implements jsonschema.Reflector customization.
func (Text) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string"}
}
