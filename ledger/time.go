package ledger

import (
	"strconv"
	"time"
)

// =============================================================================
// TIMESTAMP - Millisecond wall clock, stored as epoch millis
// =============================================================================

// Timestamp is a point in time at millisecond precision. It serialises as
// a JSON number of milliseconds since the Unix epoch, the layout already
// present in stored blobs.
type Timestamp struct {
	Time time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Millisecond)}
}

func FromMillis(ms int64) Timestamp {
	return Timestamp{Time: time.UnixMilli(ms).UTC()}
}

func (ts Timestamp) Millis() int64                { return ts.Time.UnixMilli() }
func (ts Timestamp) Before(other Timestamp) bool  { return ts.Time.Before(other.Time) }
func (ts Timestamp) After(other Timestamp) bool   { return ts.Time.After(other.Time) }
func (ts Timestamp) Equal(other Timestamp) bool   { return ts.Time.Equal(other.Time) }
func (ts Timestamp) IsZero() bool                 { return ts.Time.IsZero() }
func (ts Timestamp) String() string               { return ts.Time.Format(time.RFC3339Nano) }

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(ts.Millis(), 10)), nil
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == "0" {
		*ts = Timestamp{}
		return nil
	}
	// Older blobs occasionally hold fractional millis.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*ts = FromMillis(int64(f))
	return nil
}

// Clock returns the current time. Engines take one so tests can pin it.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now() }
