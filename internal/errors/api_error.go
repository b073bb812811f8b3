package errors

import "net/http"

const (
	CodeAlreadyClockedIn        = "already_clocked_in"
	CodeNotClockedIn            = "not_clocked_in"
	CodeBreakAlreadyOpen        = "break_already_open"
	CodeNoOpenBreak             = "no_open_break"
	CodeBreakStillOpen          = "break_still_open"
	CodeInvalidBreakKind        = "invalid_break_kind"
	CodePersistenceUnavailable  = "persistence_unavailable"
	CodeNotificationUnsupported = "notification_unsupported"
)

type APIError struct {
	Status  int         `json:"-"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Envelope is the JSON body of every failed request.
type Envelope struct {
	Error *APIError `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Is lets errors.Is match APIErrors by code.
func (e *APIError) Is(target error) bool {
	other, ok := target.(*APIError)
	if !ok {
		return false
	}
	return other.Code == e.Code
}

func New(status int, code, message string) *APIError {
	return &APIError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func Internal(message string) *APIError {
	if message == "" {
		message = "internal server error"
	}
	return New(http.StatusInternalServerError, "internal_error", message)
}

func BadRequest(code, message string) *APIError {
	return New(http.StatusBadRequest, code, message)
}

func Unauthorized(message string) *APIError {
	if message == "" {
		message = "unauthorized"
	}
	return New(http.StatusUnauthorized, "unauthorized", message)
}

func Forbidden(message string) *APIError {
	if message == "" {
		message = "forbidden"
	}
	return New(http.StatusForbidden, "forbidden", message)
}

func NotFound(code, message string) *APIError {
	return New(http.StatusNotFound, code, message)
}

func Conflict(code, message string, details interface{}) *APIError {
	err := New(http.StatusConflict, code, message)
	err.Details = details
	return err
}

func Unavailable(code, message string) *APIError {
	return New(http.StatusServiceUnavailable, code, message)
}

func AlreadyClockedIn() *APIError {
	return Conflict(CodeAlreadyClockedIn, "already clocked in", nil)
}

func NotClockedIn() *APIError {
	return Conflict(CodeNotClockedIn, "not clocked in", nil)
}

func BreakAlreadyOpen() *APIError {
	return Conflict(CodeBreakAlreadyOpen, "a break is already in progress", nil)
}

func NoOpenBreak() *APIError {
	return Conflict(CodeNoOpenBreak, "no break in progress", nil)
}

func BreakStillOpen() *APIError {
	return Conflict(CodeBreakStillOpen, "end the current break before clocking out", nil)
}

func InvalidBreakKind() *APIError {
	return BadRequest(CodeInvalidBreakKind, "break kind must be one of lunch, short")
}

func PersistenceUnavailable() *APIError {
	return Unavailable(CodePersistenceUnavailable, "session store unavailable")
}
