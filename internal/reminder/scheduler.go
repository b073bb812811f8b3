// Package reminder drives the timers attached to an open work session: the
// recurring eye-care prompt with its countdown, and the long-session
// escalation that asks the user whether they forgot to clock out.
//
// A Scheduler is not safe for concurrent use. Its owner serialises every
// call, including the recurring jobs, through Options.Serialize.
package reminder

import (
	"fmt"
	"time"

	"timetracker/internal/clock"
	"timetracker/internal/model"
	"timetracker/internal/notify"
	"timetracker/internal/worksession"
)

const (
	DefaultEyeCareTick          = time.Minute
	DefaultLongSessionTick      = time.Hour
	DefaultCountdown            = 20 * time.Second
	DefaultLongSessionThreshold = 10 * time.Hour

	countdownStep = time.Second

	CommandClockOut = "clock_out"
)

// Runner schedules recurring jobs. The returned func cancels the job.
type Runner interface {
	Every(interval time.Duration, job func()) func()
}

// Host is the owner's live view of one user's session.
type Host interface {
	UserID() string
	Session() *model.WorkSession
	Preferences() model.UserPreferences
	// MarkReminded records and persists lastReminderAt.
	MarkReminded(at time.Time)
	Dispatch(event notify.Event)
}

type Config struct {
	EyeCareTick          time.Duration
	LongSessionTick      time.Duration
	Countdown            time.Duration
	LongSessionThreshold time.Duration
	// LongSessionRepeat re-fires the escalation on every tick past the
	// threshold instead of once per session.
	LongSessionRepeat bool
}

func (c Config) withDefaults() Config {
	if c.EyeCareTick <= 0 {
		c.EyeCareTick = DefaultEyeCareTick
	}
	if c.LongSessionTick <= 0 {
		c.LongSessionTick = DefaultLongSessionTick
	}
	if c.Countdown <= 0 {
		c.Countdown = DefaultCountdown
	}
	if c.LongSessionThreshold <= 0 {
		c.LongSessionThreshold = DefaultLongSessionThreshold
	}
	return c
}

type Options struct {
	// Serialize runs fn on the owner's single execution context.
	Serialize func(fn func())
	// OnClockOut backs the "clock out now" action of the escalation.
	OnClockOut func()
}

type Scheduler struct {
	cfg    Config
	host   Host
	runner Runner
	clock  clock.Clock
	opts   Options

	cancels         []func()
	cancelCountdown func()
	runtime         model.ReminderRuntimeState
	escalated       bool
	started         bool
	stopped         bool
}

func New(host Host, runner Runner, clk clock.Clock, cfg Config, opts Options) *Scheduler {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.Serialize == nil {
		opts.Serialize = func(fn func()) { fn() }
	}
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		host:   host,
		runner: runner,
		clock:  clk,
		opts:   opts,
	}
}

// Start registers the recurring checks. A stopped scheduler cannot restart.
func (s *Scheduler) Start() {
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cancels = append(s.cancels,
		s.runner.Every(s.cfg.EyeCareTick, s.job(func(now time.Time) { s.CheckEyeCare(now) })),
		s.runner.Every(s.cfg.LongSessionTick, s.job(func(now time.Time) { s.CheckLongSession(now) })),
	)
	// A resumed session may already be past the threshold.
	s.CheckLongSession(s.clock.Now())
}

// Stop cancels every timer and resets the countdown. Jobs already queued
// behind the owner's lock observe the stop and do nothing.
func (s *Scheduler) Stop() {
	if s.stopped {
		return
	}
	s.stopped = true
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	s.resetCountdown()
}

func (s *Scheduler) Runtime() model.ReminderRuntimeState {
	return s.runtime
}

// CheckEyeCare fires the eye-care reminder when it is due and reports
// whether it fired.
func (s *Scheduler) CheckEyeCare(now time.Time) bool {
	if s.stopped || s.runtime.CountdownActive {
		return false
	}
	session := s.host.Session()
	if !session.IsOpen() || session.Status != model.StatusClockedIn {
		return false
	}
	prefs := s.host.Preferences()
	interval := prefs.EyeCareInterval()
	if !prefs.EyeCareEnabled || interval <= 0 {
		return false
	}

	reference := prefs.LastReminderAt
	if reference.Before(session.ClockInAt) {
		reference = session.ClockInAt
	}
	if now.Sub(reference) < interval {
		return false
	}

	s.host.MarkReminded(worksession.Instant(now))
	s.startCountdown()
	seconds := int(s.cfg.Countdown / time.Second)
	s.host.Dispatch(notify.Event{
		UserID:     s.host.UserID(),
		Kind:       notify.KindEyeCareDue,
		Severity:   notify.SeverityInfo,
		Title:      "Time to rest your eyes",
		Body:       fmt.Sprintf("Look at something far away for %d seconds.", seconds),
		DurationMs: s.cfg.Countdown.Milliseconds(),
		At:         now,
		Data:       map[string]any{"countdownSeconds": seconds},
	})
	return true
}

// CheckLongSession fires the escalation once the session has been worked
// past the threshold and reports whether it fired.
func (s *Scheduler) CheckLongSession(now time.Time) bool {
	if s.stopped {
		return false
	}
	session := s.host.Session()
	if !session.IsOpen() {
		return false
	}
	worked := worksession.Worked(session, now)
	if worked < s.cfg.LongSessionThreshold {
		return false
	}
	if s.escalated && !s.cfg.LongSessionRepeat {
		return false
	}
	s.escalated = true

	s.host.Dispatch(notify.Event{
		UserID:     s.host.UserID(),
		Kind:       notify.KindLongSessionWarning,
		Severity:   notify.SeverityWarning,
		Title:      "Still clocked in?",
		Body:       fmt.Sprintf("You have worked %s today. Did you forget to clock out?", worksession.FormatHours(worked)),
		Persistent: true,
		Action: &notify.Action{
			Label:   "Clock out now",
			Command: CommandClockOut,
			OnClick: s.opts.OnClockOut,
		},
		At:   now,
		Data: map[string]any{"hoursWorked": worked.Hours()},
	})
	return true
}

// TickCountdown advances the eye-care countdown by one step.
func (s *Scheduler) TickCountdown() {
	if s.stopped || !s.runtime.CountdownActive {
		return
	}
	s.runtime.CountdownSecondsRemaining--
	if s.runtime.CountdownSecondsRemaining <= 0 {
		// Running out is a silent dismissal.
		s.resetCountdown()
	}
}

// Skip dismisses an active reminder without acknowledgement.
func (s *Scheduler) Skip() bool {
	if !s.runtime.CountdownActive {
		return false
	}
	s.resetCountdown()
	return true
}

// Complete dismisses an active reminder and acknowledges it.
func (s *Scheduler) Complete() bool {
	if !s.runtime.CountdownActive {
		return false
	}
	s.resetCountdown()
	s.host.Dispatch(notify.Event{
		UserID:     s.host.UserID(),
		Kind:       notify.KindEyeCareCompleted,
		Severity:   notify.SeveritySuccess,
		Title:      "Nice work",
		Body:       "Eye break complete.",
		DurationMs: 3000,
		At:         s.clock.Now(),
	})
	return true
}

func (s *Scheduler) startCountdown() {
	seconds := int(s.cfg.Countdown / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	s.runtime = model.ReminderRuntimeState{
		CountdownSecondsRemaining: seconds,
		CountdownActive:           true,
		ModalVisible:              true,
	}
	s.cancelCountdown = s.runner.Every(countdownStep, s.job(func(time.Time) { s.TickCountdown() }))
}

func (s *Scheduler) resetCountdown() {
	if s.cancelCountdown != nil {
		s.cancelCountdown()
		s.cancelCountdown = nil
	}
	s.runtime = model.ReminderRuntimeState{}
}

func (s *Scheduler) job(fn func(now time.Time)) func() {
	return func() {
		s.opts.Serialize(func() {
			if s.stopped {
				return
			}
			fn(s.clock.Now())
		})
	}
}
