// Package store persists one Record per user id. Callers always pass partial
// patches; every backend deep-merges them with Merge.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timetracker/internal/model"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrUnavailable marks failures reaching the backend itself.
	ErrUnavailable = errors.New("store unavailable")
)

type SessionStore interface {
	Get(ctx context.Context, userID string) (model.Record, error)
	Set(ctx context.Context, userID string, patch model.Patch) error
}

// Lister is implemented by stores that can enumerate every record.
type Lister interface {
	List(ctx context.Context) ([]model.Record, error)
}

// Merge applies patch to record and returns the result. record is not modified.
func Merge(record model.Record, patch model.Patch, now time.Time) model.Record {
	out := record
	out.Session = record.Session.Clone()
	out.History = append([]model.WorkSession(nil), record.History...)

	if prefs := patch.Preferences; prefs != nil {
		if prefs.EyeCareEnabled != nil {
			out.Preferences.EyeCareEnabled = *prefs.EyeCareEnabled
		}
		if prefs.EyeCareIntervalMinutes != nil && *prefs.EyeCareIntervalMinutes > 0 {
			out.Preferences.EyeCareIntervalMinutes = *prefs.EyeCareIntervalMinutes
		}
		if prefs.LastReminderAt != nil {
			out.Preferences.LastReminderAt = *prefs.LastReminderAt
		}
	}

	for _, archived := range patch.Archive {
		out.History = upsertHistory(out.History, *archived.Clone())
	}

	if patch.ClearSession {
		out.Session = nil
	}
	if patch.Session != nil {
		out.Session = patch.Session.Clone()
	}

	out.UpdatedAt = now
	return out
}

func upsertHistory(history []model.WorkSession, session model.WorkSession) []model.WorkSession {
	for i := range history {
		if history[i].ID == session.ID {
			history[i] = session
			return history
		}
	}
	return append(history, session)
}

func validUserID(userID string) error {
	if strings.TrimSpace(userID) == "" || strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return ErrInvalidUserID
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
