package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner runs recurring jobs on a shared cron instance.
type Runner struct {
	cron *cron.Cron
	log  zerolog.Logger
}

func NewRunner(log zerolog.Logger) *Runner {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger{log: log})),
	)
	return &Runner{
		cron: c,
		log:  log,
	}
}

func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits up to five seconds for running jobs.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		r.log.Warn().Msg("jobs still running after stop timeout")
	}
}

// Every schedules job at a fixed interval, first run one interval from now.
// Intervals under a second run every second. The returned func removes the
// entry; it does not wait for an invocation already in flight.
func (r *Runner) Every(interval time.Duration, job func()) func() {
	id := r.cron.Schedule(cron.Every(interval), cron.FuncJob(job))
	return func() {
		r.cron.Remove(id)
	}
}

// Entries reports how many jobs are scheduled.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
