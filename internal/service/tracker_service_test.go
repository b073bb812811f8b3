package service

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"timetracker/internal/clock"
	apperrors "timetracker/internal/errors"
	"timetracker/internal/model"
	"timetracker/internal/notify"
	"timetracker/internal/reminder"
	"timetracker/internal/store"
)

var day = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type manualJob struct {
	interval  time.Duration
	fn        func()
	cancelled bool
}

type manualRunner struct {
	mu   sync.Mutex
	jobs []*manualJob
}

func (r *manualRunner) Every(interval time.Duration, fn func()) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := &manualJob{interval: interval, fn: fn}
	r.jobs = append(r.jobs, job)
	return func() {
		r.mu.Lock()
		job.cancelled = true
		r.mu.Unlock()
	}
}

func (r *manualRunner) fire(interval time.Duration) {
	r.mu.Lock()
	var due []func()
	for _, job := range r.jobs {
		if job.interval == interval && !job.cancelled {
			due = append(due, job.fn)
		}
	}
	r.mu.Unlock()
	for _, fn := range due {
		fn()
	}
}

func (r *manualRunner) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, job := range r.jobs {
		if !job.cancelled {
			n++
		}
	}
	return n
}

type harness struct {
	svc     *TrackerService
	store   store.SessionStore
	runner  *manualRunner
	clock   *clock.Fake
	gateway *notify.Gateway
	events  <-chan notify.Event
}

func newHarness(t *testing.T, sessionStore store.SessionStore, permission notify.Permission) *harness {
	t.Helper()
	if sessionStore == nil {
		sessionStore = store.NewMemory()
	}
	clk := clock.NewFake(day)
	runner := &manualRunner{}
	gateway := notify.NewGateway(notify.NewBus(), permission, nil, clk, zerolog.Nop(), notify.GatewayConfig{})
	svc := NewTrackerService(sessionStore, gateway, runner, clk, zerolog.Nop(), TrackerConfig{
		Reminder: reminder.Config{
			EyeCareTick:     time.Minute,
			LongSessionTick: time.Hour,
		},
	})
	events, cancel := gateway.Subscribe("u1", 256)
	t.Cleanup(func() {
		svc.Close()
		gateway.Close()
		cancel()
	})
	return &harness{svc: svc, store: sessionStore, runner: runner, clock: clk, gateway: gateway, events: events}
}

func (h *harness) drain() []notify.Event {
	var out []notify.Event
	for {
		select {
		case event, open := <-h.events:
			if !open {
				return out
			}
			out = append(out, event)
		default:
			return out
		}
	}
}

func kinds(events []notify.Event) []notify.Kind {
	out := make([]notify.Kind, 0, len(events))
	for _, event := range events {
		out = append(out, event.Kind)
	}
	return out
}

func sameKinds(got []notify.Kind, want ...notify.Kind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func (h *harness) at(clock string) {
	t, err := time.Parse("15:04:05", clock)
	if err != nil {
		panic(err)
	}
	h.clock.Set(time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC))
}

func containsKind(got []notify.Kind, want notify.Kind) bool {
	for _, kind := range got {
		if kind == want {
			return true
		}
	}
	return false
}

func TestTrackerFullDay(t *testing.T) {
	h := newHarness(t, nil, notify.Granted())
	ctx := context.Background()

	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	h.at("12:30:00")
	if view, err := h.svc.StartBreak(ctx, "u1", model.BreakLunch); err != nil || view.Status != model.StatusOnLunch {
		t.Fatalf("start lunch: %v %+v", err, view)
	}
	h.at("13:00:00")
	if _, err := h.svc.EndBreak(ctx, "u1"); err != nil {
		t.Fatalf("end lunch: %v", err)
	}
	h.at("17:30:00")
	view, err := h.svc.ClockOut(ctx, "u1")
	if err != nil {
		t.Fatalf("clock out: %v", err)
	}
	if view.Status != model.StatusClockedOut || view.HoursWorked != 8.0 {
		t.Fatalf("unexpected final view: %+v", view)
	}
	if got := h.svc.HoursWorked(ctx, "u1", day.Add(12*time.Hour)); got != 8.0 {
		t.Fatalf("expected 8.0 hours after close, got %v", got)
	}

	got := kinds(h.drain())
	if !sameKinds(got, notify.KindClockedIn, notify.KindBreakStarted, notify.KindBreakEnded, notify.KindClockedOut) {
		t.Fatalf("unexpected events: %v", got)
	}

	if err := h.svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	record, storeErr := h.store.Get(ctx, "u1")
	if storeErr != nil {
		t.Fatalf("get record: %v", storeErr)
	}
	if record.Session == nil || record.Session.Status != model.StatusClockedOut || *record.Session.TotalHours != 8.0 {
		t.Fatalf("closed session not persisted: %+v", record.Session)
	}
	if len(record.Session.Breaks) != 1 || record.Session.Breaks[0].End == nil {
		t.Fatalf("breaks not persisted: %+v", record.Session.Breaks)
	}
	if h.runner.active() != 0 {
		t.Fatalf("expected reminders stopped, %d jobs active", h.runner.active())
	}
}

func TestTrackerRejectsInvalidTransitions(t *testing.T) {
	h := newHarness(t, nil, notify.Granted())
	ctx := context.Background()

	if _, err := h.svc.EndBreak(ctx, "u1"); err == nil || err.Code != apperrors.CodeNoOpenBreak {
		t.Fatalf("expected no_open_break, got %v", err)
	}
	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	before, _ := h.svc.State(ctx, "u1")
	h.clock.Advance(time.Hour)
	if _, err := h.svc.ClockIn(ctx, "u1"); err == nil || err.Code != apperrors.CodeAlreadyClockedIn {
		t.Fatalf("expected already_clocked_in, got %v", err)
	}
	after, _ := h.svc.State(ctx, "u1")
	if !after.Session.ClockInAt.Equal(before.Session.ClockInAt) || after.Session.ID != before.Session.ID {
		t.Fatal("open session mutated by rejected clock in")
	}

	events := h.drain()
	last := events[len(events)-1]
	if last.Kind != notify.KindValidationFailed || last.Severity != notify.SeverityError {
		t.Fatalf("expected validation toast, got %+v", last)
	}
	if last.Data["code"] != apperrors.CodeAlreadyClockedIn {
		t.Fatalf("expected code in toast data, got %v", last.Data)
	}
}

func TestTrackerEyeCareReminderCadence(t *testing.T) {
	h := newHarness(t, nil, notify.Granted())
	ctx := context.Background()

	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	h.drain()

	for minute := 1; minute <= 39; minute++ {
		h.clock.Advance(time.Minute)
		h.runner.fire(time.Minute)
		got := kinds(h.drain())
		switch {
		case minute < 20 && len(got) != 0:
			t.Fatalf("unexpected events at %dm: %v", minute, got)
		case minute == 20 && !sameKinds(got, notify.KindEyeCareDue):
			t.Fatalf("expected eye care at 20m, got %v", got)
		case minute > 20 && len(got) != 0:
			t.Fatalf("unexpected events at %dm: %v", minute, got)
		}
		if minute == 20 {
			view, _ := h.svc.State(ctx, "u1")
			if !view.Reminder.CountdownActive || view.Reminder.CountdownSecondsRemaining != 20 {
				t.Fatalf("expected countdown, got %+v", view.Reminder)
			}
			if _, err := h.svc.CompleteEyeCare(ctx, "u1"); err != nil {
				t.Fatalf("complete: %v", err)
			}
			if got := kinds(h.drain()); !sameKinds(got, notify.KindEyeCareCompleted) {
				t.Fatalf("expected completion event, got %v", got)
			}
		}
	}

	if err := h.svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	record, _ := h.store.Get(ctx, "u1")
	if !record.Preferences.LastReminderAt.Equal(day.Add(20 * time.Minute)) {
		t.Fatalf("expected lastReminderAt persisted, got %s", record.Preferences.LastReminderAt)
	}
}

func TestTrackerEyeCareDisabledAndSkip(t *testing.T) {
	h := newHarness(t, nil, notify.Granted())
	ctx := context.Background()

	if _, err := h.svc.ToggleEyeCare(ctx, "u1", false); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	h.drain()
	for i := 0; i < 90; i++ {
		h.clock.Advance(time.Minute)
		h.runner.fire(time.Minute)
	}
	if got := kinds(h.drain()); len(got) != 0 {
		t.Fatalf("expected no reminders while disabled, got %v", got)
	}

	if _, err := h.svc.ToggleEyeCare(ctx, "u1", true); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	h.clock.Advance(time.Minute)
	h.runner.fire(time.Minute)
	if got := kinds(h.drain()); !sameKinds(got, notify.KindEyeCareDue) {
		t.Fatalf("expected reminder after enabling, got %v", got)
	}
	view, err := h.svc.SkipEyeCare(ctx, "u1")
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if view.Reminder.CountdownActive {
		t.Fatal("expected countdown reset by skip")
	}
	if got := kinds(h.drain()); len(got) != 0 {
		t.Fatalf("skip must not emit events, got %v", got)
	}
}

func TestTrackerSetEyeCareIntervalValidates(t *testing.T) {
	h := newHarness(t, nil, notify.Granted())
	ctx := context.Background()

	for _, minutes := range []float64{0, -3, math.NaN(), math.Inf(1), 1e300, model.MaxEyeCareIntervalMinutes + 1} {
		view, err := h.svc.SetEyeCareInterval(ctx, "u1", minutes)
		if err != nil {
			t.Fatalf("set %v: %v", minutes, err)
		}
		if view.Preferences.EyeCareIntervalMinutes != model.DefaultEyeCareIntervalMinutes {
			t.Fatalf("interval changed by %v: %v", minutes, view.Preferences.EyeCareIntervalMinutes)
		}
	}
	view, err := h.svc.SetEyeCareInterval(ctx, "u1", 45)
	if err != nil || view.Preferences.EyeCareIntervalMinutes != 45 {
		t.Fatalf("expected 45, got %v %v", view, err)
	}
	if err := h.svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	record, _ := h.store.Get(ctx, "u1")
	if record.Preferences.EyeCareIntervalMinutes != 45 {
		t.Fatalf("interval not persisted: %v", record.Preferences.EyeCareIntervalMinutes)
	}
	view, err = h.svc.SetEyeCareInterval(ctx, "u1", model.MaxEyeCareIntervalMinutes)
	if err != nil || view.Preferences.EyeCareIntervalMinutes != model.MaxEyeCareIntervalMinutes {
		t.Fatalf("expected the one-day cap to be accepted, got %v %v", view, err)
	}
}

func TestTrackerResumeEscalatesLongSession(t *testing.T) {
	mem := store.NewMemory()
	start := day.Add(-11 * time.Hour)
	err := mem.Set(context.Background(), "u1", model.Patch{Session: &model.WorkSession{
		ID:        "s1",
		UserID:    "u1",
		Date:      start.Format(model.DateLayout),
		ClockInAt: start,
		Breaks:    []model.Break{},
		Status:    model.StatusClockedIn,
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	h := newHarness(t, mem, notify.Granted())
	ctx := context.Background()
	resumed, resumeErr := h.svc.ResumeAll(ctx)
	if resumeErr != nil || resumed != 1 {
		t.Fatalf("expected one resumed session, got %d %v", resumed, resumeErr)
	}

	events := h.drain()
	if len(events) != 1 || events[0].Kind != notify.KindLongSessionWarning {
		t.Fatalf("expected escalation on resume, got %v", kinds(events))
	}
	warning := events[0]
	if !warning.Persistent || warning.Action == nil || warning.Action.Command != reminder.CommandClockOut {
		t.Fatalf("unexpected warning: %+v", warning)
	}

	h.clock.Advance(time.Hour)
	h.runner.fire(time.Hour)
	if got := kinds(h.drain()); len(got) != 0 {
		t.Fatalf("expected a single escalation per session, got %v", got)
	}

	warning.Action.OnClick()
	view, _ := h.svc.State(ctx, "u1")
	if view.Status != model.StatusClockedOut {
		t.Fatalf("expected action to clock out, got %s", view.Status)
	}
	if h.runner.active() != 0 {
		t.Fatalf("expected timers cancelled, %d active", h.runner.active())
	}
}

func TestTrackerHistoryArchivesPreviousSession(t *testing.T) {
	h := newHarness(t, nil, notify.Granted())
	ctx := context.Background()

	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	h.at("12:00:00")
	if _, err := h.svc.ClockOut(ctx, "u1"); err != nil {
		t.Fatalf("clock out: %v", err)
	}
	h.at("13:00:00")
	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in again: %v", err)
	}
	if _, err := h.svc.ClockIn(ctx, "u2"); err != nil {
		t.Fatalf("clock in u2: %v", err)
	}

	history, err := h.svc.History(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || !history[0].IsOpen() || history[1].Status != model.StatusClockedOut {
		t.Fatalf("unexpected history: %+v", history)
	}

	overviews, err := h.svc.AllSessions(ctx)
	if err != nil {
		t.Fatalf("all sessions: %v", err)
	}
	if len(overviews) != 2 || overviews[0].UserID != "u1" || overviews[0].HistoryCount != 1 {
		t.Fatalf("unexpected overview: %+v", overviews)
	}
	if overviews[1].Status != model.StatusClockedIn {
		t.Fatalf("expected u2 clocked in, got %s", overviews[1].Status)
	}

	if err := h.svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	record, _ := h.store.Get(ctx, "u1")
	if len(record.History) != 1 || record.Session == nil || !record.Session.IsOpen() {
		t.Fatalf("archive not persisted: %+v", record)
	}
}

type brokenStore struct {
	getErr error
}

func (b brokenStore) Get(context.Context, string) (model.Record, error) {
	if b.getErr != nil {
		return model.Record{}, b.getErr
	}
	return model.Record{}, store.ErrNotFound
}

func (b brokenStore) Set(context.Context, string, model.Patch) error {
	return store.ErrUnavailable
}

func TestTrackerPersistenceFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, brokenStore{}, notify.Granted())
	ctx := context.Background()

	view, err := h.svc.ClockIn(ctx, "u1")
	if err != nil {
		t.Fatalf("clock in must succeed despite write failure: %v", err)
	}
	if view.Status != model.StatusClockedIn {
		t.Fatalf("unexpected status %s", view.Status)
	}
	if flushErr := h.svc.Flush(ctx); flushErr != nil {
		t.Fatalf("flush: %v", flushErr)
	}

	// The failure toast comes from the writer goroutine, so only presence is checked.
	got := kinds(h.drain())
	if len(got) != 2 || !containsKind(got, notify.KindClockedIn) || !containsKind(got, notify.KindPersistenceUnavailable) {
		t.Fatalf("unexpected events: %v", got)
	}
	view, _ = h.svc.State(ctx, "u1")
	if !view.PersistenceDegraded || view.Status != model.StatusClockedIn {
		t.Fatalf("expected degraded but clocked in, got %+v", view)
	}
}

func TestTrackerLoadFailureSurfaces(t *testing.T) {
	h := newHarness(t, brokenStore{getErr: store.ErrUnavailable}, notify.Granted())

	_, err := h.svc.ClockIn(context.Background(), "u1")
	if err == nil || err.Code != apperrors.CodePersistenceUnavailable {
		t.Fatalf("expected persistence_unavailable, got %v", err)
	}
	if got := h.svc.HoursWorked(context.Background(), "u1", day); got != 0 {
		t.Fatalf("expected zero hours, got %v", got)
	}
}

func TestTrackerNotificationUnsupportedToastOnce(t *testing.T) {
	h := newHarness(t, nil, notify.Unsupported())
	ctx := context.Background()

	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	h.at("10:00:00")
	if _, err := h.svc.ClockOut(ctx, "u1"); err != nil {
		t.Fatalf("clock out: %v", err)
	}
	h.at("11:00:00")
	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in again: %v", err)
	}

	got := kinds(h.drain())
	if !sameKinds(got,
		notify.KindClockedIn, notify.KindNotificationUnsupported,
		notify.KindClockedOut, notify.KindClockedIn,
	) {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestTrackerCloseStopsReminders(t *testing.T) {
	h := newHarness(t, nil, notify.Granted())
	ctx := context.Background()

	if _, err := h.svc.ClockIn(ctx, "u1"); err != nil {
		t.Fatalf("clock in: %v", err)
	}
	if h.runner.active() != 2 {
		t.Fatalf("expected eye care and long session jobs, got %d", h.runner.active())
	}
	h.svc.Close()
	if h.runner.active() != 0 {
		t.Fatalf("expected no active jobs after close, got %d", h.runner.active())
	}
}

type recordingSink struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (s *recordingSink) Notify(_ context.Context, event notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, event.Kind)
	return nil
}

func (s *recordingSink) received() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Kind(nil), s.kinds...)
}

// seedLongSession stores a session for u1 that has been open for 11 hours.
func seedLongSession(t *testing.T) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	start := day.Add(-11 * time.Hour)
	err := mem.Set(context.Background(), "u1", model.Patch{Session: &model.WorkSession{
		ID:        "s1",
		UserID:    "u1",
		Date:      start.Format(model.DateLayout),
		ClockInAt: start,
		Breaks:    []model.Break{},
		Status:    model.StatusClockedIn,
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return mem
}

func newSinkService(t *testing.T, sessionStore store.SessionStore) (*TrackerService, *notify.Gateway, *recordingSink) {
	t.Helper()
	clk := clock.NewFake(day)
	sink := &recordingSink{}
	gateway := notify.NewGateway(notify.NewBus(), notify.Granted(), sink, clk, zerolog.Nop(), notify.GatewayConfig{})
	svc := NewTrackerService(sessionStore, gateway, &manualRunner{}, clk, zerolog.Nop(), TrackerConfig{})
	t.Cleanup(func() {
		svc.Close()
		gateway.Close()
	})
	return svc, gateway, sink
}

func TestTrackerResumeAllReachesOSSink(t *testing.T) {
	svc, gateway, sink := newSinkService(t, seedLongSession(t))

	resumed, err := svc.ResumeAll(context.Background())
	if err != nil || resumed != 1 {
		t.Fatalf("expected one resumed session, got %d %v", resumed, err)
	}
	svc.Close()
	gateway.Close()

	if got := sink.received(); !sameKinds(got, notify.KindLongSessionWarning) {
		t.Fatalf("expected escalation on the os sink, got %v", got)
	}
}

func TestTrackerResumeSingleUserReachesOSSink(t *testing.T) {
	svc, gateway, sink := newSinkService(t, seedLongSession(t))
	ctx := context.Background()

	if err := svc.Resume(ctx, "u1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	// A second resume of a loaded user is a no-op.
	if err := svc.Resume(ctx, "u1"); err != nil {
		t.Fatalf("resume again: %v", err)
	}
	view, _ := svc.State(ctx, "u1")
	if view.Status != model.StatusClockedIn {
		t.Fatalf("expected resumed session clocked in, got %s", view.Status)
	}
	svc.Close()
	gateway.Close()

	if got := sink.received(); !sameKinds(got, notify.KindLongSessionWarning) {
		t.Fatalf("expected one escalation on the os sink, got %v", got)
	}
}

func TestTrackerLazyLoadRunsHandshakeOnState(t *testing.T) {
	svc, gateway, sink := newSinkService(t, seedLongSession(t))
	ctx := context.Background()

	// Without a resume the first read picks the session up; the handshake
	// follows it, so later reminders reach the OS sink.
	if _, err := svc.State(ctx, "u1"); err != nil {
		t.Fatalf("state: %v", err)
	}
	if _, err := svc.StartBreak(ctx, "u1", model.BreakShort); err != nil {
		t.Fatalf("start break: %v", err)
	}
	svc.Close()
	gateway.Close()

	if got := sink.received(); !containsKind(got, notify.KindBreakStarted) {
		t.Fatalf("expected break toast on the os sink, got %v", got)
	}
}
