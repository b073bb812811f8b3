package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/ksuid"

	"timetracker/internal/clock"
)

type GatewayConfig struct {
	QueueSize   int
	SinkTimeout time.Duration
}

// Gateway owns the permission handshake and dispatches events to the in-app
// bus and, for users who granted permission, to the OS sink.
type Gateway struct {
	bus        *Bus
	permission Permission
	sink       Sink
	clock      clock.Clock
	log        zerolog.Logger
	timeout    time.Duration

	mu        sync.Mutex
	decisions map[string]bool
	queue     chan Event
	closed    bool
	wg        sync.WaitGroup
}

func NewGateway(bus *Bus, permission Permission, sink Sink, clk clock.Clock, log zerolog.Logger, cfg GatewayConfig) *Gateway {
	if permission == nil {
		permission = Unsupported()
	}
	if clk == nil {
		clk = clock.System{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 5 * time.Second
	}

	g := &Gateway{
		bus:        bus,
		permission: permission,
		sink:       sink,
		clock:      clk,
		log:        log,
		timeout:    cfg.SinkTimeout,
		decisions:  make(map[string]bool),
	}
	if sink != nil {
		g.queue = make(chan Event, cfg.QueueSize)
		g.wg.Add(1)
		go g.deliver()
	}
	return g
}

func (g *Gateway) Supported() bool {
	return g.permission.Supported()
}

// RequestPermission asks the platform at most once per user and caches the
// answer. Unsupported platforms and failed prompts yield false.
func (g *Gateway) RequestPermission(ctx context.Context, userID string) bool {
	g.mu.Lock()
	if granted, decided := g.decisions[userID]; decided {
		g.mu.Unlock()
		return granted
	}
	g.mu.Unlock()

	granted := false
	if g.permission.Supported() {
		ok, err := g.permission.Request(ctx, userID)
		if err != nil && !errors.Is(err, ErrUnsupported) {
			g.log.Warn().Err(err).Str("user_id", userID).Msg("notification permission request failed")
		}
		granted = err == nil && ok
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if previous, decided := g.decisions[userID]; decided {
		return previous
	}
	g.decisions[userID] = granted
	return granted
}

// ResetPermission forgets a cached decision after the user changed it
// outside the engine.
func (g *Gateway) ResetPermission(userID string) {
	g.mu.Lock()
	delete(g.decisions, userID)
	g.mu.Unlock()
}

// Dispatch stamps and delivers event. It never blocks on the OS sink and
// never reports failure; problems are logged.
func (g *Gateway) Dispatch(event Event) Event {
	if event.ID == "" {
		event.ID = ksuid.New().String()
	}
	if event.At.IsZero() {
		event.At = g.clock.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	if g.bus != nil {
		g.bus.Publish(event)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed || g.queue == nil || !g.decisions[event.UserID] {
		return event
	}
	select {
	case g.queue <- event:
	default:
		g.log.Warn().
			Str("user_id", event.UserID).
			Str("kind", string(event.Kind)).
			Msg("notification queue full, dropping os notification")
	}
	return event
}

// Subscribe attaches an in-app listener for one user's events.
func (g *Gateway) Subscribe(userID string, buffer int) (<-chan Event, func()) {
	return g.bus.Subscribe(userID, buffer)
}

// Close stops the OS delivery worker after draining queued events, then
// closes every in-app subscription so open event streams end.
func (g *Gateway) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	if g.queue != nil {
		close(g.queue)
	}
	g.mu.Unlock()
	g.wg.Wait()
	if g.bus != nil {
		g.bus.Close()
	}
}

func (g *Gateway) deliver() {
	defer g.wg.Done()
	for event := range g.queue {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		if err := g.sink.Notify(ctx, event); err != nil {
			g.log.Warn().
				Err(err).
				Str("user_id", event.UserID).
				Str("kind", string(event.Kind)).
				Msg("os notification dispatch failed")
		}
		cancel()
	}
}
