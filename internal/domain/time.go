package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// TimeInterval is a closed [Begin, End] interval in seconds since epoch.
type TimeInterval struct {
	Begin float64 `json:"begin"`
	End   float64 `json:"end"`
}

// Contains reports whether t lies inside the interval.
func (i TimeInterval) Contains(t float64) bool {
	return t >= i.Begin && t <= i.End
}

// Intersect trims the interval to other. ok is false when nothing remains.
func (i TimeInterval) Intersect(other TimeInterval) (TimeInterval, bool) {
	out := TimeInterval{Begin: math.Max(i.Begin, other.Begin), End: math.Min(i.End, other.End)}
	return out, out.Begin <= out.End
}

// Union returns the smallest interval covering both.
func (i TimeInterval) Union(other TimeInterval) TimeInterval {
	return TimeInterval{Begin: math.Min(i.Begin, other.Begin), End: math.Max(i.End, other.End)}
}

// IsAllTime reports whether both ends are unbounded.
func (i TimeInterval) IsAllTime() bool {
	return math.IsInf(i.Begin, -1) && math.IsInf(i.End, 1)
}

func (i TimeInterval) String() string {
	return fmt.Sprintf("[%g, %g]", i.Begin, i.End)
}

// AllTime is the unbounded interval.
func AllTime() TimeInterval {
	return TimeInterval{Begin: math.Inf(-1), End: math.Inf(1)}
}

// TimeExtent is a request time filter. Either bound may be the indeterminate
// position "now"; infinite bounds mean unbounded ("all time" in the past,
// "as data arrives" in the future).
//
// The zero value is unset and matches all times. Extents built by the
// constructors below, or decoded from JSON, are set even when every bound
// is zero, so Period(0, 0) is the epoch instant.
type TimeExtent struct {
	Begin    float64 `json:"begin"`
	End      float64 `json:"end"`
	BeginNow bool    `json:"begin_now,omitempty"`
	EndNow   bool    `json:"end_now,omitempty"`

	set bool
}

// AllTimes is the unbounded extent.
func AllTimes() TimeExtent {
	return TimeExtent{Begin: math.Inf(-1), End: math.Inf(1), set: true}
}

// NowInstant is the "current value" extent.
func NowInstant() TimeExtent {
	return TimeExtent{BeginNow: true, EndNow: true, set: true}
}

// FromNow is the open "from now on, as data arrives" extent.
func FromNow() TimeExtent {
	return TimeExtent{BeginNow: true, End: math.Inf(1), set: true}
}

// Period builds a fixed [begin, end] extent.
func Period(begin, end float64) TimeExtent {
	return TimeExtent{Begin: begin, End: end, set: true}
}

// UntilNow is the [begin, now] extent.
func UntilNow(begin float64) TimeExtent {
	return TimeExtent{Begin: begin, EndNow: true, set: true}
}

func (e *TimeExtent) UnmarshalJSON(b []byte) error {
	type plain TimeExtent
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*e = TimeExtent(p)
	e.set = true
	return nil
}

// IsNow reports whether the extent is exactly the instant "now".
func (e TimeExtent) IsNow() bool {
	return e.BeginNow && e.EndNow
}

// IsFromNow reports whether the extent starts now and stays open.
func (e TimeExtent) IsFromNow() bool {
	return e.BeginNow && !e.EndNow && math.IsInf(e.End, 1)
}

// IsLive reports whether the extent must be served from live data.
func (e TimeExtent) IsLive() bool {
	return e.IsNow() || e.IsFromNow()
}

// IsZero reports an unset extent, which callers treat as all times.
func (e TimeExtent) IsZero() bool {
	return e == TimeExtent{}
}

// Resolve substitutes "now" and returns a concrete interval.
func (e TimeExtent) Resolve(now float64) TimeInterval {
	if e.IsZero() {
		return AllTime()
	}
	out := TimeInterval{Begin: e.Begin, End: e.End}
	if e.BeginNow {
		out.Begin = now
	}
	if e.EndNow {
		out.End = now
	}
	return out
}

// StopTime is the instant after which live data no longer matches.
func (e TimeExtent) StopTime(now float64) float64 {
	if e.IsZero() {
		return math.Inf(1)
	}
	if e.EndNow {
		return now
	}
	return e.End
}

// FoiTimePeriod is a contiguous interval during which records for one
// feature of interest were stored.
type FoiTimePeriod struct {
	FoiID string `json:"foi_id"`
	TimeInterval
}
