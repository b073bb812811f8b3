package model

import "time"

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusClockedIn  Status = "clocked_in"
	StatusOnLunch    Status = "on_lunch"
	StatusOnBreak    Status = "on_break"
	StatusClockedOut Status = "clocked_out"
)

type BreakKind string

const (
	BreakLunch BreakKind = "lunch"
	BreakShort BreakKind = "short"
)

// DateLayout is the calendar-day key format of a WorkSession.
const DateLayout = "2006-01-02"

func (k BreakKind) Valid() bool {
	return k == BreakLunch || k == BreakShort
}

// Status returns the session status while a break of this kind is open.
func (k BreakKind) Status() Status {
	if k == BreakLunch {
		return StatusOnLunch
	}
	return StatusOnBreak
}

type Break struct {
	Kind  BreakKind  `json:"kind"`
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

func (b Break) Open() bool {
	return b.End == nil
}

// Duration of the break, truncated at asOf while it is still open.
func (b Break) Duration(asOf time.Time) time.Duration {
	end := asOf
	if b.End != nil {
		end = *b.End
	}
	if end.Before(b.Start) {
		return 0
	}
	return end.Sub(b.Start)
}

// WorkSession is one user's clock-in to clock-out period.
type WorkSession struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Date       string     `json:"date"`
	ClockInAt  time.Time  `json:"clockInAt"`
	ClockOutAt *time.Time `json:"clockOutAt,omitempty"`
	Breaks     []Break    `json:"breaks"`
	Status     Status     `json:"status"`
	TotalHours *float64   `json:"totalHours,omitempty"`
}

func (s *WorkSession) IsOpen() bool {
	return s != nil && s.ClockOutAt == nil
}

// OpenBreak returns the index of the break without an end, or -1.
func (s *WorkSession) OpenBreak() int {
	for i := len(s.Breaks) - 1; i >= 0; i-- {
		if s.Breaks[i].Open() {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *WorkSession) Clone() *WorkSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.ClockOutAt != nil {
		t := *s.ClockOutAt
		out.ClockOutAt = &t
	}
	if s.TotalHours != nil {
		h := *s.TotalHours
		out.TotalHours = &h
	}
	out.Breaks = make([]Break, len(s.Breaks))
	for i, b := range s.Breaks {
		out.Breaks[i] = b
		if b.End != nil {
			end := *b.End
			out.Breaks[i].End = &end
		}
	}
	return &out
}
