package model

import "time"

// Time is a unix timestamp in milliseconds, the unit Mattermost uses on
// the wire. The zero value means "not set" and is omitted from JSON.
type Time int64

// NewTime converts a time.Time to a Time, truncating to milliseconds.
func NewTime(t time.Time) Time {
	return Time(t.UnixMilli())
}

func (t Time) IsZero() bool { return t == 0 }

func (t Time) Before(other Time) bool { return t < other }

func (t Time) After(other Time) bool { return t > other }

// Time converts back to a time.Time in UTC.
func (t Time) Time() time.Time {
	return time.UnixMilli(int64(t)).UTC()
}

func (t Time) String() string {
	if t.IsZero() {
		return "unset"
	}
	return t.Time().Format("2006-01-02T15:04:05")
}
