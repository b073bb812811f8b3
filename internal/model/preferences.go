package model

import "time"

const (
	DefaultEyeCareEnabled         = true
	DefaultEyeCareIntervalMinutes = 20
	// MaxEyeCareIntervalMinutes is one day; a longer cadence never fires
	// within a session.
	MaxEyeCareIntervalMinutes = 24 * 60
)

type UserPreferences struct {
	EyeCareEnabled         bool      `json:"eyeCareEnabled"`
	EyeCareIntervalMinutes float64   `json:"eyeCareIntervalMinutes"`
	LastReminderAt         time.Time `json:"lastReminderAt"`
}

func DefaultPreferences() UserPreferences {
	return UserPreferences{
		EyeCareEnabled:         DefaultEyeCareEnabled,
		EyeCareIntervalMinutes: DefaultEyeCareIntervalMinutes,
	}
}

// EyeCareInterval saturates at MaxEyeCareIntervalMinutes so stored values
// that are too large cannot overflow into a negative duration.
func (p UserPreferences) EyeCareInterval() time.Duration {
	minutes := p.EyeCareIntervalMinutes
	if minutes > MaxEyeCareIntervalMinutes {
		minutes = MaxEyeCareIntervalMinutes
	}
	return time.Duration(minutes * float64(time.Minute))
}

// ReminderRuntimeState is the transient eye-care countdown. It is never persisted.
type ReminderRuntimeState struct {
	CountdownSecondsRemaining int  `json:"countdownSecondsRemaining"`
	CountdownActive           bool `json:"countdownActive"`
	ModalVisible              bool `json:"modalVisible"`
}
