package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"timetracker/internal/clock"
	apperrors "timetracker/internal/errors"
	"timetracker/internal/model"
	"timetracker/internal/notify"
	"timetracker/internal/reminder"
	"timetracker/internal/store"
	"timetracker/internal/worksession"
)

const toastDurationMs = 4000

type TrackerConfig struct {
	Machine  worksession.Options
	Reminder reminder.Config
}

// TrackerService is the work session engine. Every mutation and every timer
// tick runs under one mutex; persistence and OS notifications happen after
// the fact on their own workers.
type TrackerService struct {
	store   store.SessionStore
	writer  *store.Writer
	gateway *notify.Gateway
	runner  reminder.Runner
	clock   clock.Clock
	log     zerolog.Logger
	cfg     TrackerConfig

	mu     sync.Mutex
	users  map[string]*userState
	closed bool
}

type StateView struct {
	UserID              string                     `json:"userId"`
	Status              model.Status               `json:"status"`
	Session             *model.WorkSession         `json:"session,omitempty"`
	HoursWorked         float64                    `json:"hoursWorked"`
	Preferences         model.UserPreferences      `json:"preferences"`
	Reminder            model.ReminderRuntimeState `json:"reminder"`
	PersistenceDegraded bool                       `json:"persistenceDegraded"`
	ServerTime          time.Time                  `json:"serverTime"`
}

// SessionOverview is one row of the administrator view.
type SessionOverview struct {
	UserID       string             `json:"userId"`
	Status       model.Status       `json:"status"`
	Session      *model.WorkSession `json:"session,omitempty"`
	HoursWorked  float64            `json:"hoursWorked"`
	HistoryCount int                `json:"historyCount"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

func NewTrackerService(
	sessionStore store.SessionStore,
	gateway *notify.Gateway,
	runner reminder.Runner,
	clk clock.Clock,
	log zerolog.Logger,
	cfg TrackerConfig,
) *TrackerService {
	if clk == nil {
		clk = clock.System{}
	}
	s := &TrackerService{
		store:   sessionStore,
		gateway: gateway,
		runner:  runner,
		clock:   clk,
		log:     log,
		cfg:     cfg,
		users:   make(map[string]*userState),
	}
	s.writer = store.NewWriter(sessionStore, log, s.persistFailed)
	return s
}

func (s *TrackerService) ClockIn(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	view, apiErr := s.clockIn(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	s.ensurePermission(ctx, userID)
	return view, nil
}

func (s *TrackerService) clockIn(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	now := s.clock.Now()
	previous := st.record.Session
	session, apiErr := worksession.ClockIn(previous, userID, now, s.cfg.Machine)
	if apiErr != nil {
		return nil, s.reject(userID, apiErr)
	}

	patch := model.Patch{Session: session.Clone()}
	if previous != nil {
		archived := *previous.Clone()
		st.record.History = append(st.record.History, archived)
		patch.Archive = []model.WorkSession{archived}
	}
	st.record.Session = session
	s.writer.Enqueue(userID, patch)

	s.dispatch(notify.Event{
		UserID:     userID,
		Kind:       notify.KindClockedIn,
		Severity:   notify.SeveritySuccess,
		Title:      "Clocked in",
		Body:       fmt.Sprintf("Started at %s.", now.In(s.location()).Format("15:04")),
		DurationMs: toastDurationMs,
		At:         now,
		Data:       map[string]any{"sessionId": session.ID, "date": session.Date},
	})
	s.startScheduler(st)

	return s.view(st, now), nil
}

func (s *TrackerService) ClockOut(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	now := s.clock.Now()
	worked, apiErr := worksession.ClockOut(st.record.Session, now, s.cfg.Machine)
	if apiErr != nil {
		return nil, s.reject(userID, apiErr)
	}
	s.stopScheduler(st)
	s.writer.Enqueue(userID, model.Patch{Session: st.record.Session.Clone()})

	s.dispatch(notify.Event{
		UserID:     userID,
		Kind:       notify.KindClockedOut,
		Severity:   notify.SeveritySuccess,
		Title:      "Clocked out",
		Body:       fmt.Sprintf("You worked %s today.", worksession.FormatHours(worked)),
		DurationMs: toastDurationMs,
		At:         now,
		Data: map[string]any{
			"sessionId":   st.record.Session.ID,
			"hoursWorked": worked.Hours(),
			"durationMs":  worked.Milliseconds(),
		},
	})

	return s.view(st, now), nil
}

func (s *TrackerService) StartBreak(ctx context.Context, userID string, kind model.BreakKind) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	now := s.clock.Now()
	if apiErr := worksession.StartBreak(st.record.Session, kind, now); apiErr != nil {
		return nil, s.reject(userID, apiErr)
	}
	s.writer.Enqueue(userID, model.Patch{Session: st.record.Session.Clone()})

	title := "Break started"
	if kind == model.BreakLunch {
		title = "Lunch started"
	}
	s.dispatch(notify.Event{
		UserID:     userID,
		Kind:       notify.KindBreakStarted,
		Title:      title,
		Body:       "Reminders are paused until you are back.",
		DurationMs: toastDurationMs,
		At:         now,
		Data:       map[string]any{"kind": string(kind)},
	})

	return s.view(st, now), nil
}

func (s *TrackerService) EndBreak(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}

	now := s.clock.Now()
	closed, duration, apiErr := worksession.EndBreak(st.record.Session, now)
	if apiErr != nil {
		return nil, s.reject(userID, apiErr)
	}
	s.writer.Enqueue(userID, model.Patch{Session: st.record.Session.Clone()})

	s.dispatch(notify.Event{
		UserID:     userID,
		Kind:       notify.KindBreakEnded,
		Title:      "Back to work",
		Body:       fmt.Sprintf("Your break lasted %s.", worksession.FormatHours(duration)),
		DurationMs: toastDurationMs,
		At:         now,
		Data: map[string]any{
			"kind":       string(closed.Kind),
			"durationMs": duration.Milliseconds(),
		},
	})

	return s.view(st, now), nil
}

// HoursWorked never fails. A user whose record cannot be loaded has zero hours.
func (s *TrackerService) HoursWorked(ctx context.Context, userID string, asOf time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return 0
	}
	return worksession.HoursWorked(st.record.Session, asOf)
}

func (s *TrackerService) State(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		s.mu.Unlock()
		return nil, apiErr
	}
	view := s.view(st, s.clock.Now())
	pending := st.handshakePending
	st.handshakePending = false
	s.mu.Unlock()

	// An open session picked up lazily has not been through the handshake.
	if pending {
		s.ensurePermission(ctx, userID)
	}
	return view, nil
}

func (s *TrackerService) ToggleEyeCare(ctx context.Context, userID string, enabled bool) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	if st.record.Preferences.EyeCareEnabled != enabled {
		st.record.Preferences.EyeCareEnabled = enabled
		s.writer.Enqueue(userID, model.Patch{
			Preferences: &model.PreferencesPatch{EyeCareEnabled: &enabled},
		})
	}
	return s.view(st, s.clock.Now()), nil
}

// SetEyeCareInterval ignores anything that is not a positive number of
// minutes up to model.MaxEyeCareIntervalMinutes.
func (s *TrackerService) SetEyeCareInterval(ctx context.Context, userID string, minutes float64) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	if minutes > 0 && minutes <= model.MaxEyeCareIntervalMinutes && st.record.Preferences.EyeCareIntervalMinutes != minutes {
		st.record.Preferences.EyeCareIntervalMinutes = minutes
		s.writer.Enqueue(userID, model.Patch{
			Preferences: &model.PreferencesPatch{EyeCareIntervalMinutes: &minutes},
		})
	}
	return s.view(st, s.clock.Now()), nil
}

func (s *TrackerService) SkipEyeCare(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.withScheduler(ctx, userID, (*reminder.Scheduler).Skip)
}

func (s *TrackerService) CompleteEyeCare(ctx context.Context, userID string) (*StateView, *apperrors.APIError) {
	return s.withScheduler(ctx, userID, (*reminder.Scheduler).Complete)
}

func (s *TrackerService) withScheduler(ctx context.Context, userID string, fn func(*reminder.Scheduler) bool) (*StateView, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	if st.scheduler != nil {
		fn(st.scheduler)
	}
	return s.view(st, s.clock.Now()), nil
}

// Resume loads the user's record and, when a session is still open, runs the
// notification handshake before starting its reminders.
func (s *TrackerService) Resume(ctx context.Context, userID string) *apperrors.APIError {
	if userID == "" {
		return apperrors.Unauthorized("missing user")
	}
	s.mu.Lock()
	_, loaded := s.users[userID]
	s.mu.Unlock()
	if loaded {
		return nil
	}

	record, err := s.store.Get(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return s.loadFailed(userID, err)
	}
	s.resume(ctx, []model.Record{record})
	return nil
}

// ResumeAll resumes every stored open session and returns how many there were.
func (s *TrackerService) ResumeAll(ctx context.Context) (int, error) {
	lister, ok := s.store.(store.Lister)
	if !ok {
		return 0, nil
	}
	records, err := lister.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	return len(s.resume(ctx, records)), nil
}

// resume adopts the records not loaded yet and returns the users whose
// session is open. Their handshake runs first, outside the lock, so the
// reminders fired on start already reach the OS sink.
func (s *TrackerService) resume(ctx context.Context, records []model.Record) []string {
	if s.gateway != nil {
		for _, record := range records {
			if record.Session.IsOpen() {
				s.gateway.RequestPermission(ctx, record.UserID)
			}
		}
	}

	s.mu.Lock()
	var resumed []string
	for _, record := range records {
		if _, loaded := s.users[record.UserID]; loaded {
			continue
		}
		if st := s.adopt(record); st.record.Session.IsOpen() {
			resumed = append(resumed, record.UserID)
		}
	}
	s.mu.Unlock()

	for _, userID := range resumed {
		s.ensurePermission(ctx, userID)
	}
	return resumed
}

// History returns every retained session of the user, newest first.
func (s *TrackerService) History(ctx context.Context, userID string) ([]model.WorkSession, *apperrors.APIError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, apiErr := s.load(ctx, userID)
	if apiErr != nil {
		return nil, apiErr
	}
	sessions := make([]model.WorkSession, 0, len(st.record.History)+1)
	for _, session := range st.record.History {
		sessions = append(sessions, *session.Clone())
	}
	if st.record.Session != nil {
		sessions = append(sessions, *st.record.Session.Clone())
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].ClockInAt.After(sessions[j].ClockInAt)
	})
	return sessions, nil
}

// AllSessions lists every user's current session for administrators. Users
// loaded in memory are reported from memory.
func (s *TrackerService) AllSessions(ctx context.Context) ([]SessionOverview, *apperrors.APIError) {
	records := []model.Record{}
	if lister, ok := s.store.(store.Lister); ok {
		listed, err := lister.List(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("list records")
			return nil, apperrors.PersistenceUnavailable()
		}
		records = listed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	seen := make(map[string]bool, len(records))
	overviews := make([]SessionOverview, 0, len(records))
	for _, record := range records {
		if st, ok := s.users[record.UserID]; ok {
			record = st.record
		}
		seen[record.UserID] = true
		overviews = append(overviews, overview(record, now))
	}
	for userID, st := range s.users {
		if !seen[userID] {
			overviews = append(overviews, overview(st.record, now))
		}
	}
	sort.Slice(overviews, func(i, j int) bool { return overviews[i].UserID < overviews[j].UserID })
	return overviews, nil
}

// Events subscribes to the user's toast stream.
func (s *TrackerService) Events(userID string, buffer int) (<-chan notify.Event, func()) {
	return s.gateway.Subscribe(userID, buffer)
}

// Flush waits until every accepted mutation has been written (or failed).
func (s *TrackerService) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Close stops every reminder and drains pending writes.
func (s *TrackerService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, st := range s.users {
		s.stopScheduler(st)
	}
	s.mu.Unlock()
	s.writer.Close()
}

// load returns the cached user state, reading it from the store on first use.
// Callers hold s.mu.
func (s *TrackerService) load(ctx context.Context, userID string) (*userState, *apperrors.APIError) {
	if st, ok := s.users[userID]; ok {
		return st, nil
	}
	if userID == "" {
		return nil, apperrors.Unauthorized("missing user")
	}

	record, err := s.store.Get(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		record = model.NewRecord(userID)
	case err != nil:
		return nil, s.loadFailed(userID, err)
	}
	st := s.adopt(record)
	st.handshakePending = st.record.Session.IsOpen()
	return st, nil
}

func (s *TrackerService) loadFailed(userID string, err error) *apperrors.APIError {
	s.log.Warn().Err(err).Str("user_id", userID).Msg("load record")
	s.dispatch(notify.Event{
		UserID:     userID,
		Kind:       notify.KindPersistenceUnavailable,
		Severity:   notify.SeverityWarning,
		Title:      "Saved data unavailable",
		Body:       "Your sessions could not be loaded. Try again shortly.",
		DurationMs: toastDurationMs,
	})
	return apperrors.PersistenceUnavailable()
}

// adopt caches a loaded record, repairing it and starting reminders for an
// open session. Callers hold s.mu.
func (s *TrackerService) adopt(record model.Record) *userState {
	if record.Preferences.EyeCareIntervalMinutes <= 0 {
		record.Preferences.EyeCareIntervalMinutes = model.DefaultEyeCareIntervalMinutes
	}
	if worksession.Normalize(record.Session) {
		s.writer.Enqueue(record.UserID, model.Patch{Session: record.Session.Clone()})
	}

	st := &userState{svc: s, userID: record.UserID, record: record}
	s.users[record.UserID] = st
	if record.Session.IsOpen() {
		s.startScheduler(st)
	}
	return st
}

func (s *TrackerService) startScheduler(st *userState) {
	if s.closed || s.runner == nil {
		return
	}
	s.stopScheduler(st)
	userID := st.userID
	st.scheduler = reminder.New(st, s.runner, s.clock, s.cfg.Reminder, reminder.Options{
		Serialize: s.serialize,
		OnClockOut: func() {
			if _, apiErr := s.ClockOut(context.Background(), userID); apiErr != nil {
				s.log.Debug().Str("user_id", userID).Str("code", apiErr.Code).Msg("clock out action")
			}
		},
	})
	st.scheduler.Start()
}

func (s *TrackerService) stopScheduler(st *userState) {
	if st.scheduler != nil {
		st.scheduler.Stop()
		st.scheduler = nil
	}
}

func (s *TrackerService) serialize(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// reject reports a refused transition to the user and returns it.
func (s *TrackerService) reject(userID string, apiErr *apperrors.APIError) *apperrors.APIError {
	s.dispatch(notify.Event{
		UserID:     userID,
		Kind:       notify.KindValidationFailed,
		Severity:   notify.SeverityError,
		Title:      "Action not allowed",
		Body:       apiErr.Message,
		DurationMs: toastDurationMs,
		Data:       map[string]any{"code": apiErr.Code},
	})
	return apiErr
}

func (s *TrackerService) dispatch(event notify.Event) {
	if s.gateway == nil {
		return
	}
	event = s.gateway.Dispatch(event)
	s.log.Debug().
		Str("user_id", event.UserID).
		Str("kind", string(event.Kind)).
		Str("event_id", event.ID).
		Msg("event dispatched")
}

// ensurePermission asks for OS notifications once per user and tells users on
// platforms without them that reminders stay in-app.
func (s *TrackerService) ensurePermission(ctx context.Context, userID string) {
	if s.gateway == nil || s.gateway.RequestPermission(ctx, userID) {
		return
	}
	if s.gateway.Supported() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.users[userID]
	if !ok || st.unsupportedNotified {
		return
	}
	st.unsupportedNotified = true
	s.dispatch(notify.Event{
		UserID:     userID,
		Kind:       notify.KindNotificationUnsupported,
		Severity:   notify.SeverityWarning,
		Title:      "Desktop notifications unavailable",
		Body:       "Reminders will only appear inside the app.",
		DurationMs: toastDurationMs,
	})
}

// RefreshPermission forgets the cached notification decision and asks again.
func (s *TrackerService) RefreshPermission(ctx context.Context, userID string) bool {
	if s.gateway == nil {
		return false
	}
	s.gateway.ResetPermission(userID)
	s.ensurePermission(ctx, userID)
	return s.gateway.RequestPermission(ctx, userID)
}

// persistFailed runs on the writer goroutine.
func (s *TrackerService) persistFailed(userID string, err error) {
	s.dispatch(notify.Event{
		UserID:     userID,
		Kind:       notify.KindPersistenceUnavailable,
		Severity:   notify.SeverityWarning,
		Title:      "Changes not saved yet",
		Body:       "We will retry with your next change.",
		DurationMs: toastDurationMs,
		Data:       map[string]any{"error": err.Error()},
	})
}

func (s *TrackerService) location() *time.Location {
	if s.cfg.Machine.Location == nil {
		return time.UTC
	}
	return s.cfg.Machine.Location
}

func (s *TrackerService) view(st *userState, now time.Time) *StateView {
	view := &StateView{
		UserID:              st.userID,
		Status:              worksession.DeriveStatus(st.record.Session),
		Session:             st.record.Session.Clone(),
		HoursWorked:         worksession.HoursWorked(st.record.Session, now),
		Preferences:         st.record.Preferences,
		PersistenceDegraded: s.writer.Failed(st.userID),
		ServerTime:          now,
	}
	if st.scheduler != nil {
		view.Reminder = st.scheduler.Runtime()
	}
	return view
}

func overview(record model.Record, now time.Time) SessionOverview {
	return SessionOverview{
		UserID:       record.UserID,
		Status:       worksession.DeriveStatus(record.Session),
		Session:      record.Session.Clone(),
		HoursWorked:  worksession.HoursWorked(record.Session, now),
		HistoryCount: len(record.History),
		UpdatedAt:    record.UpdatedAt,
	}
}

// userState is one user's live record. It is the reminder.Host of the user's
// scheduler; every method runs under the service mutex.
type userState struct {
	svc                 *TrackerService
	userID              string
	record              model.Record
	scheduler           *reminder.Scheduler
	unsupportedNotified bool
	handshakePending    bool
}

func (u *userState) UserID() string {
	return u.userID
}

func (u *userState) Session() *model.WorkSession {
	return u.record.Session
}

func (u *userState) Preferences() model.UserPreferences {
	return u.record.Preferences
}

func (u *userState) MarkReminded(at time.Time) {
	u.record.Preferences.LastReminderAt = at
	u.svc.writer.Enqueue(u.userID, model.Patch{
		Preferences: &model.PreferencesPatch{LastReminderAt: &at},
	})
}

func (u *userState) Dispatch(event notify.Event) {
	u.svc.dispatch(event)
}
