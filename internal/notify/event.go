package notify

import "time"

type Kind string

const (
	KindClockedIn               Kind = "clocked_in"
	KindClockedOut              Kind = "clocked_out"
	KindBreakStarted            Kind = "break_started"
	KindBreakEnded              Kind = "break_ended"
	KindEyeCareDue              Kind = "eye_care_due"
	KindEyeCareCompleted        Kind = "eye_care_completed"
	KindLongSessionWarning      Kind = "long_session_warning"
	KindPersistenceUnavailable  Kind = "persistence_unavailable"
	KindNotificationUnsupported Kind = "notification_unsupported"
	KindValidationFailed        Kind = "validation_failed"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Action is a button attached to a toast. Remote renderers send Command back
// to the API; in-process renderers may call OnClick directly.
type Action struct {
	Label   string `json:"label"`
	Command string `json:"command"`
	OnClick func() `json:"-"`
}

// Event is a user-facing notification.
type Event struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Kind       Kind           `json:"kind"`
	Severity   Severity       `json:"severity"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Persistent bool           `json:"persistent"`
	DurationMs int64          `json:"durationMs"`
	Action     *Action        `json:"action,omitempty"`
	At         time.Time      `json:"at"`
	Data       map[string]any `json:"data,omitempty"`
}
