package reminder

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"timetracker/internal/clock"
	"timetracker/internal/jobs"
	"timetracker/internal/model"
	"timetracker/internal/notify"
	"timetracker/internal/worksession"
)

type manualJob struct {
	interval  time.Duration
	fn        func()
	cancelled bool
}

type manualRunner struct {
	jobs []*manualJob
}

func (r *manualRunner) Every(interval time.Duration, fn func()) func() {
	job := &manualJob{interval: interval, fn: fn}
	r.jobs = append(r.jobs, job)
	return func() { job.cancelled = true }
}

func (r *manualRunner) fire(interval time.Duration) {
	for _, job := range append([]*manualJob(nil), r.jobs...) {
		if job.interval == interval && !job.cancelled {
			job.fn()
		}
	}
}

func (r *manualRunner) active() int {
	n := 0
	for _, job := range r.jobs {
		if !job.cancelled {
			n++
		}
	}
	return n
}

type fakeHost struct {
	session  *model.WorkSession
	prefs    model.UserPreferences
	events   []notify.Event
	reminded []time.Time
}

func (h *fakeHost) UserID() string { return "u1" }
func (h *fakeHost) Session() *model.WorkSession { return h.session }
func (h *fakeHost) Preferences() model.UserPreferences { return h.prefs }
func (h *fakeHost) Dispatch(event notify.Event) { h.events = append(h.events, event) }

func (h *fakeHost) MarkReminded(at time.Time) {
	h.prefs.LastReminderAt = at
	h.reminded = append(h.reminded, at)
}

func (h *fakeHost) count(kind notify.Kind) int {
	n := 0
	for _, e := range h.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T, cfg Config) (*Scheduler, *fakeHost, *manualRunner, *clock.Fake) {
	t.Helper()
	session, err := worksession.ClockIn(nil, "u1", t0, worksession.Options{})
	if err != nil {
		t.Fatalf("clock in: %v", err)
	}
	host := &fakeHost{session: session, prefs: model.DefaultPreferences()}
	// A reminder from yesterday must not make today's first one fire early.
	host.prefs.LastReminderAt = t0.Add(-20 * time.Hour)
	runner := &manualRunner{}
	clk := clock.NewFake(t0)
	scheduler := New(host, runner, clk, cfg, Options{})
	scheduler.Start()
	return scheduler, host, runner, clk
}

// advanceMinutes moves the clock one minute at a time, firing the eye-care tick.
func advanceMinutes(clk *clock.Fake, runner *manualRunner, minutes int) {
	for i := 0; i < minutes; i++ {
		clk.Advance(time.Minute)
		runner.fire(DefaultEyeCareTick)
	}
}

func TestEyeCareFiresExactlyOnceAtInterval(t *testing.T) {
	_, host, runner, clk := setup(t, Config{})

	advanceMinutes(clk, runner, 19)
	if n := host.count(notify.KindEyeCareDue); n != 0 {
		t.Fatalf("expected no reminder before 20m, got %d", n)
	}

	advanceMinutes(clk, runner, 1)
	if n := host.count(notify.KindEyeCareDue); n != 1 {
		t.Fatalf("expected one reminder at 20m, got %d", n)
	}
	if !host.events[0].At.Equal(t0.Add(20 * time.Minute)) {
		t.Fatalf("expected fire at t0+20m, got %s", host.events[0].At)
	}
	if len(host.reminded) != 1 || !host.prefs.LastReminderAt.Equal(t0.Add(20*time.Minute)) {
		t.Fatalf("expected lastReminderAt updated, got %v", host.reminded)
	}

	advanceMinutes(clk, runner, 19)
	if n := host.count(notify.KindEyeCareDue); n != 1 {
		t.Fatalf("expected still one reminder before 40m, got %d", n)
	}
}

func TestEyeCareDisabledNeverFires(t *testing.T) {
	_, host, runner, clk := setup(t, Config{})
	host.prefs.EyeCareEnabled = false

	advanceMinutes(clk, runner, 12*60)
	if n := host.count(notify.KindEyeCareDue); n != 0 {
		t.Fatalf("expected no reminders while disabled, got %d", n)
	}
}

func TestEyeCareSuppressedOnBreak(t *testing.T) {
	_, host, runner, clk := setup(t, Config{})
	if err := worksession.StartBreak(host.session, model.BreakShort, t0.Add(10*time.Minute)); err != nil {
		t.Fatalf("start break: %v", err)
	}

	advanceMinutes(clk, runner, 30)
	if n := host.count(notify.KindEyeCareDue); n != 0 {
		t.Fatalf("expected no reminder on break, got %d", n)
	}

	if _, _, err := worksession.EndBreak(host.session, clk.Now()); err != nil {
		t.Fatalf("end break: %v", err)
	}
	advanceMinutes(clk, runner, 1)
	if n := host.count(notify.KindEyeCareDue); n != 1 {
		t.Fatalf("expected reminder once back at work, got %d", n)
	}
}

func TestCountdownRunsOutSilently(t *testing.T) {
	scheduler, host, runner, clk := setup(t, Config{})
	advanceMinutes(clk, runner, 20)

	runtime := scheduler.Runtime()
	if !runtime.CountdownActive || !runtime.ModalVisible || runtime.CountdownSecondsRemaining != 20 {
		t.Fatalf("unexpected runtime after fire: %+v", runtime)
	}

	for i := 0; i < 19; i++ {
		runner.fire(countdownStep)
	}
	if got := scheduler.Runtime().CountdownSecondsRemaining; got != 1 {
		t.Fatalf("expected 1 second remaining, got %d", got)
	}
	runner.fire(countdownStep)

	if scheduler.Runtime() != (model.ReminderRuntimeState{}) {
		t.Fatalf("expected runtime reset, got %+v", scheduler.Runtime())
	}
	if n := host.count(notify.KindEyeCareCompleted); n != 0 {
		t.Fatalf("expected no acknowledgement on timeout, got %d", n)
	}
	if runner.active() != 2 {
		t.Fatalf("expected countdown job cancelled, %d jobs active", runner.active())
	}
}

func TestSkipAndComplete(t *testing.T) {
	scheduler, host, runner, clk := setup(t, Config{})

	if scheduler.Skip() || scheduler.Complete() {
		t.Fatal("expected skip/complete to be no-ops without an active reminder")
	}

	advanceMinutes(clk, runner, 20)
	if !scheduler.Skip() {
		t.Fatal("expected skip to dismiss")
	}
	if scheduler.Runtime().CountdownActive {
		t.Fatal("expected countdown inactive after skip")
	}
	if n := host.count(notify.KindEyeCareCompleted); n != 0 {
		t.Fatalf("skip must not acknowledge, got %d", n)
	}

	advanceMinutes(clk, runner, 20)
	if !scheduler.Complete() {
		t.Fatal("expected complete to dismiss")
	}
	if n := host.count(notify.KindEyeCareCompleted); n != 1 {
		t.Fatalf("expected one acknowledgement, got %d", n)
	}
	if n := host.count(notify.KindEyeCareDue); n != 2 {
		t.Fatalf("expected two reminders, got %d", n)
	}
}

func TestNoReminderWhileCountdownActive(t *testing.T) {
	scheduler, host, runner, clk := setup(t, Config{EyeCareTick: time.Minute})
	host.prefs.EyeCareIntervalMinutes = 1

	advanceMinutes(clk, runner, 1)
	advanceMinutes(clk, runner, 1)
	if n := host.count(notify.KindEyeCareDue); n != 1 {
		t.Fatalf("expected a single reminder while countdown open, got %d", n)
	}
	scheduler.Skip()
	advanceMinutes(clk, runner, 1)
	if n := host.count(notify.KindEyeCareDue); n != 2 {
		t.Fatalf("expected next reminder after skip, got %d", n)
	}
}

func TestLongSessionEscalationEdgeTriggered(t *testing.T) {
	_, host, runner, clk := setup(t, Config{})
	host.prefs.EyeCareEnabled = false

	for hour := 1; hour <= 9; hour++ {
		clk.Advance(time.Hour)
		runner.fire(DefaultLongSessionTick)
	}
	if n := host.count(notify.KindLongSessionWarning); n != 0 {
		t.Fatalf("expected no escalation before 10h, got %d", n)
	}

	for hour := 10; hour <= 13; hour++ {
		clk.Advance(time.Hour)
		runner.fire(DefaultLongSessionTick)
	}
	if n := host.count(notify.KindLongSessionWarning); n != 1 {
		t.Fatalf("expected exactly one escalation, got %d", n)
	}

	warning := host.events[len(host.events)-1]
	if !warning.Persistent || warning.Action == nil || warning.Action.Command != CommandClockOut {
		t.Fatalf("unexpected escalation event: %+v", warning)
	}
	if warning.Severity != notify.SeverityWarning {
		t.Fatalf("expected warning severity, got %s", warning.Severity)
	}
}

func TestLongSessionEscalationRepeat(t *testing.T) {
	_, host, runner, clk := setup(t, Config{LongSessionRepeat: true})

	clk.Advance(10 * time.Hour)
	runner.fire(DefaultLongSessionTick)
	clk.Advance(time.Hour)
	runner.fire(DefaultLongSessionTick)
	if n := host.count(notify.KindLongSessionWarning); n != 2 {
		t.Fatalf("expected escalation every tick, got %d", n)
	}
}

func TestLongSessionExcludesBreaks(t *testing.T) {
	_, host, runner, clk := setup(t, Config{})
	host.prefs.EyeCareEnabled = false
	if err := worksession.StartBreak(host.session, model.BreakLunch, t0.Add(time.Hour)); err != nil {
		t.Fatalf("start break: %v", err)
	}
	if _, _, err := worksession.EndBreak(host.session, t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("end break: %v", err)
	}

	clk.Set(t0.Add(10 * time.Hour))
	runner.fire(DefaultLongSessionTick)
	if n := host.count(notify.KindLongSessionWarning); n != 0 {
		t.Fatalf("expected no escalation at 9h worked, got %d", n)
	}
	clk.Set(t0.Add(11 * time.Hour))
	runner.fire(DefaultLongSessionTick)
	if n := host.count(notify.KindLongSessionWarning); n != 1 {
		t.Fatalf("expected escalation at 10h worked, got %d", n)
	}
}

func TestResumedLongSessionEscalatesOnStart(t *testing.T) {
	session, _ := worksession.ClockIn(nil, "u1", t0, worksession.Options{})
	host := &fakeHost{session: session, prefs: model.DefaultPreferences()}
	clk := clock.NewFake(t0.Add(11 * time.Hour))

	New(host, &manualRunner{}, clk, Config{}, Options{}).Start()
	if n := host.count(notify.KindLongSessionWarning); n != 1 {
		t.Fatalf("expected escalation on resume, got %d", n)
	}
}

func TestStopCancelsTimersAndRevalidates(t *testing.T) {
	scheduler, host, runner, clk := setup(t, Config{})
	advanceMinutes(clk, runner, 20)
	if !scheduler.Runtime().CountdownActive {
		t.Fatal("expected active countdown")
	}

	// Keep a handle on the eye-care job as if it were already queued.
	pending := runner.jobs[0].fn
	scheduler.Stop()

	if runner.active() != 0 {
		t.Fatalf("expected every job cancelled, %d active", runner.active())
	}
	if scheduler.Runtime() != (model.ReminderRuntimeState{}) {
		t.Fatalf("expected runtime reset, got %+v", scheduler.Runtime())
	}

	clk.Advance(time.Hour)
	pending()
	if n := host.count(notify.KindEyeCareDue); n != 1 {
		t.Fatalf("expected no reminder after stop, got %d", n)
	}

	scheduler.Start()
	if runner.active() != 0 {
		t.Fatal("expected stopped scheduler to stay stopped")
	}
}

func TestNoReminderWithoutOpenSession(t *testing.T) {
	scheduler, host, runner, clk := setup(t, Config{})
	if _, err := worksession.ClockOut(host.session, t0.Add(time.Minute), worksession.Options{}); err != nil {
		t.Fatalf("clock out: %v", err)
	}
	advanceMinutes(clk, runner, 24*60)
	clk.Advance(time.Hour)
	if scheduler.CheckLongSession(clk.Now()) || scheduler.CheckEyeCare(clk.Now()) {
		t.Fatal("expected no reminders for a closed session")
	}
	if len(host.events) != 0 {
		t.Fatalf("expected no events, got %d", len(host.events))
	}
}

func TestSerializeWrapsJobs(t *testing.T) {
	session, _ := worksession.ClockIn(nil, "u1", t0, worksession.Options{})
	host := &fakeHost{session: session, prefs: model.DefaultPreferences()}
	runner := &manualRunner{}
	clk := clock.NewFake(t0)

	calls := 0
	scheduler := New(host, runner, clk, Config{}, Options{Serialize: func(fn func()) {
		calls++
		fn()
	}})
	scheduler.Start()
	runner.fire(DefaultEyeCareTick)
	runner.fire(DefaultLongSessionTick)
	if calls != 2 {
		t.Fatalf("expected jobs to run through serialize, got %d calls", calls)
	}
}

func TestEyeCareOnCronRunnerFiresOnDueTick(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on wall-clock ticks")
	}
	// Clock in half way through a second; cron ticks on whole seconds.
	now := time.Now()
	time.Sleep(time.Second - time.Duration(now.Nanosecond()) + 500*time.Millisecond)

	session, apiErr := worksession.ClockIn(nil, "u1", time.Now(), worksession.Options{})
	if apiErr != nil {
		t.Fatalf("clock in: %v", apiErr)
	}
	host := &fakeHost{
		session: session,
		prefs:   model.UserPreferences{EyeCareEnabled: true, EyeCareIntervalMinutes: 2.0 / 60},
	}
	interval := host.prefs.EyeCareInterval()

	runner := jobs.NewRunner(zerolog.Nop())
	runner.Start()
	defer runner.Stop()

	var mu sync.Mutex
	s := New(host, runner, clock.System{}, Config{EyeCareTick: time.Second, Countdown: time.Second}, Options{
		Serialize: func(fn func()) {
			mu.Lock()
			defer mu.Unlock()
			fn()
		},
	})
	mu.Lock()
	s.Start()
	mu.Unlock()
	defer func() {
		mu.Lock()
		s.Stop()
		mu.Unlock()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		var due []notify.Event
		for _, e := range host.events {
			if e.Kind == notify.KindEyeCareDue {
				due = append(due, e)
			}
		}
		mu.Unlock()

		if len(due) > 0 {
			elapsed := due[0].At.Sub(session.ClockInAt)
			if elapsed < interval || elapsed >= interval+500*time.Millisecond {
				t.Fatalf("eye care fired %v after clock-in, want the tick at %v", elapsed, interval)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("eye care never fired")
}
