package model

import "time"

// Record is everything persisted for one user id.
type Record struct {
	UserID      string          `json:"userId"`
	Preferences UserPreferences `json:"preferences"`
	Session     *WorkSession    `json:"session,omitempty"`
	History     []WorkSession   `json:"history,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func NewRecord(userID string) Record {
	return Record{
		UserID:      userID,
		Preferences: DefaultPreferences(),
	}
}

type PreferencesPatch struct {
	EyeCareEnabled         *bool      `json:"eyeCareEnabled,omitempty"`
	EyeCareIntervalMinutes *float64   `json:"eyeCareIntervalMinutes,omitempty"`
	LastReminderAt         *time.Time `json:"lastReminderAt,omitempty"`
}

func (p *PreferencesPatch) Empty() bool {
	return p == nil || (p.EyeCareEnabled == nil && p.EyeCareIntervalMinutes == nil && p.LastReminderAt == nil)
}

// Patch is a partial update merged into a Record by the store.
type Patch struct {
	Preferences  *PreferencesPatch `json:"preferences,omitempty"`
	Session      *WorkSession      `json:"session,omitempty"`
	ClearSession bool              `json:"clearSession,omitempty"`
	Archive      []WorkSession     `json:"archive,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Preferences.Empty() && p.Session == nil && !p.ClearSession && len(p.Archive) == 0
}

// Then returns a patch equivalent to applying p followed by next.
func (p Patch) Then(next Patch) Patch {
	out := Patch{
		Session:      p.Session,
		ClearSession: p.ClearSession,
		Archive:      append(append([]WorkSession(nil), p.Archive...), next.Archive...),
	}
	if next.Session != nil {
		out.Session = next.Session
		out.ClearSession = false
	}
	if next.ClearSession {
		out.Session = nil
		out.ClearSession = true
	}

	if !p.Preferences.Empty() || !next.Preferences.Empty() {
		prefs := PreferencesPatch{}
		if p.Preferences != nil {
			prefs = *p.Preferences
		}
		if next.Preferences != nil {
			if next.Preferences.EyeCareEnabled != nil {
				prefs.EyeCareEnabled = next.Preferences.EyeCareEnabled
			}
			if next.Preferences.EyeCareIntervalMinutes != nil {
				prefs.EyeCareIntervalMinutes = next.Preferences.EyeCareIntervalMinutes
			}
			if next.Preferences.LastReminderAt != nil {
				prefs.LastReminderAt = next.Preferences.LastReminderAt
			}
		}
		out.Preferences = &prefs
	}
	return out
}
