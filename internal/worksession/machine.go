// Package worksession holds the clock-in / break / clock-out state machine.
// Functions mutate the session they are given only after every check passed,
// so a failed transition leaves the session untouched.
package worksession

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "timetracker/internal/errors"
	"timetracker/internal/model"
)

type OpenBreakPolicy string

const (
	// AutoClose ends an open break at clock-out time without a separate event.
	AutoClose OpenBreakPolicy = "autoclose"
	// Reject fails clock-out with break_still_open.
	Reject OpenBreakPolicy = "reject"
)

type Options struct {
	OpenBreakPolicy OpenBreakPolicy
	Location        *time.Location
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

// Instant drops the sub-second part of a transition time. Reminder ticks land
// on whole seconds, so session boundaries are stored at the same precision.
func Instant(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// ClockIn starts a new session unless current is still open.
func ClockIn(current *model.WorkSession, userID string, now time.Time, opts Options) (*model.WorkSession, *apperrors.APIError) {
	if current.IsOpen() {
		return nil, apperrors.AlreadyClockedIn()
	}
	now = Instant(now)
	return &model.WorkSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Date:      now.In(opts.location()).Format(model.DateLayout),
		ClockInAt: now,
		Breaks:    []model.Break{},
		Status:    model.StatusClockedIn,
	}, nil
}

// ClockOut closes the session and stores its total hours.
// The returned duration is the worked time.
func ClockOut(session *model.WorkSession, now time.Time, opts Options) (time.Duration, *apperrors.APIError) {
	if !session.IsOpen() {
		return 0, apperrors.NotClockedIn()
	}
	openIdx := session.OpenBreak()
	if openIdx >= 0 && opts.OpenBreakPolicy == Reject {
		return 0, apperrors.BreakStillOpen()
	}
	now = notBefore(Instant(now), session.ClockInAt)

	if openIdx >= 0 {
		end := notBefore(now, session.Breaks[openIdx].Start)
		session.Breaks[openIdx].End = &end
	}

	worked := Worked(session, now)
	hours := worked.Hours()
	session.ClockOutAt = &now
	session.TotalHours = &hours
	session.Status = model.StatusClockedOut
	return worked, nil
}

// StartBreak appends an open break of the given kind.
func StartBreak(session *model.WorkSession, kind model.BreakKind, now time.Time) *apperrors.APIError {
	if !kind.Valid() {
		return apperrors.InvalidBreakKind()
	}
	if !session.IsOpen() {
		return apperrors.NotClockedIn()
	}
	if session.OpenBreak() >= 0 {
		return apperrors.BreakAlreadyOpen()
	}
	session.Breaks = append(session.Breaks, model.Break{
		Kind:  kind,
		Start: notBefore(Instant(now), session.ClockInAt),
	})
	session.Status = kind.Status()
	return nil
}

// EndBreak closes the open break and returns its duration.
func EndBreak(session *model.WorkSession, now time.Time) (model.Break, time.Duration, *apperrors.APIError) {
	if !session.IsOpen() {
		return model.Break{}, 0, apperrors.NoOpenBreak()
	}
	idx := session.OpenBreak()
	if idx < 0 {
		return model.Break{}, 0, apperrors.NoOpenBreak()
	}
	end := notBefore(Instant(now), session.Breaks[idx].Start)
	session.Breaks[idx].End = &end
	session.Status = model.StatusClockedIn
	closed := session.Breaks[idx]
	return closed, closed.Duration(end), nil
}

// Worked returns elapsed time since clock-in minus every break, an open break
// being truncated at asOf. Closed sessions are measured up to clock-out.
func Worked(session *model.WorkSession, asOf time.Time) time.Duration {
	if session == nil {
		return 0
	}
	if session.ClockOutAt != nil && asOf.After(*session.ClockOutAt) {
		asOf = *session.ClockOutAt
	}
	if !asOf.After(session.ClockInAt) {
		return 0
	}
	worked := asOf.Sub(session.ClockInAt)
	for _, b := range session.Breaks {
		worked -= b.Duration(asOf)
	}
	if worked < 0 {
		return 0
	}
	return worked
}

// HoursWorked never fails: no session is zero hours, a closed session reports
// its stored total.
func HoursWorked(session *model.WorkSession, asOf time.Time) float64 {
	if session == nil {
		return 0
	}
	if !session.IsOpen() && session.TotalHours != nil {
		return *session.TotalHours
	}
	return Worked(session, asOf).Hours()
}

// DeriveStatus computes the status implied by the session timestamps.
func DeriveStatus(session *model.WorkSession) model.Status {
	if session == nil {
		return model.StatusNotStarted
	}
	if session.ClockOutAt != nil {
		return model.StatusClockedOut
	}
	if idx := session.OpenBreak(); idx >= 0 {
		return session.Breaks[idx].Kind.Status()
	}
	return model.StatusClockedIn
}

// Normalize repairs a loaded session so its status matches its timestamps.
// It reports whether anything changed.
func Normalize(session *model.WorkSession) bool {
	if session == nil {
		return false
	}
	changed := false
	if session.Breaks == nil {
		session.Breaks = []model.Break{}
	}
	// Keep only the latest open break; earlier ones end where the next began.
	open := -1
	for i := range session.Breaks {
		if !session.Breaks[i].Open() {
			continue
		}
		if open >= 0 {
			end := session.Breaks[i].Start
			session.Breaks[open].End = &end
			changed = true
		}
		open = i
	}
	if session.ClockOutAt != nil && open >= 0 {
		end := notBefore(*session.ClockOutAt, session.Breaks[open].Start)
		session.Breaks[open].End = &end
		changed = true
	}
	if session.ClockOutAt != nil && session.TotalHours == nil {
		hours := Worked(session, *session.ClockOutAt).Hours()
		session.TotalHours = &hours
		changed = true
	}
	if status := DeriveStatus(session); status != session.Status {
		session.Status = status
		changed = true
	}
	return changed
}

// FormatHours renders d as "8h05m".
func FormatHours(d time.Duration) string {
	d = d.Truncate(time.Minute)
	h := d / time.Hour
	m := (d - h*time.Hour) / time.Minute
	return fmt.Sprintf("%dh%02dm", h, m)
}

func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
