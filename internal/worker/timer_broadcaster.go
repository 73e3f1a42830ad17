package worker

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	subscriberBuffer = 16
	notifyBuffer     = 1024
)

// Expirer closes every overdue live session.
type Expirer interface {
	ExpireDue(ctx context.Context) (int, error)
}

// LiveSessionLister lists started and locked sessions of an instance.
type LiveSessionLister interface {
	ListLiveSessions(ctx context.Context, instanceID uuid.UUID) ([]model.ExamSession, error)
}

// TimerEvent is pushed to timer subscribers.
type TimerEvent struct {
	Type             model.SessionEventType `json:"type"`
	SessionID        uuid.UUID              `json:"session_id"`
	State            model.SessionState     `json:"state"`
	RemainingSeconds float64                `json:"remaining_seconds"`
	Score            *float64               `json:"score,omitempty"`
}

// Subscription receives timer events for one exam instance. A zero
// SessionID receives every session of the instance.
type Subscription struct {
	InstanceID uuid.UUID
	SessionID  uuid.UUID

	ch     chan TimerEvent
	closed bool
}

// Events returns the channel events arrive on. It is closed on
// unsubscribe or broadcaster shutdown.
func (s *Subscription) Events() <-chan TimerEvent {
	return s.ch
}

func (s *Subscription) wants(sessionID uuid.UUID) bool {
	return s.SessionID == uuid.Nil || s.SessionID == sessionID
}

// TimerBroadcaster is a single actor goroutine that owns one ticker. Each
// tick it sweeps overdue sessions and pushes remaining time to every
// subscriber. Sends never block: a subscriber that does not keep up misses
// ticks.
type TimerBroadcaster struct {
	expirer  Expirer
	sessions LiveSessionLister
	tick     time.Duration
	now      func() time.Time
	log      zerolog.Logger

	subscribe   chan *Subscription
	unsubscribe chan *Subscription
	notify      chan model.SessionEvent
	done        chan struct{}

	groups map[uuid.UUID]map[*Subscription]struct{}
}

// NewTimerBroadcaster creates a new TimerBroadcaster.
func NewTimerBroadcaster(expirer Expirer, sessions LiveSessionLister, tick time.Duration, log zerolog.Logger) *TimerBroadcaster {
	if tick <= 0 {
		tick = time.Second
	}
	return &TimerBroadcaster{
		expirer:     expirer,
		sessions:    sessions,
		tick:        tick,
		now:         time.Now,
		log:         log.With().Str("component", "timer_broadcaster").Logger(),
		subscribe:   make(chan *Subscription),
		unsubscribe: make(chan *Subscription),
		notify:      make(chan model.SessionEvent, notifyBuffer),
		done:        make(chan struct{}),
		groups:      make(map[uuid.UUID]map[*Subscription]struct{}),
	}
}

// SetClock replaces the time source used for remaining-time math.
func (b *TimerBroadcaster) SetClock(now func() time.Time) {
	b.now = now
}

// Subscribe registers a subscriber. It returns nil once the broadcaster
// has stopped or ctx is done.
func (b *TimerBroadcaster) Subscribe(ctx context.Context, instanceID, sessionID uuid.UUID) *Subscription {
	sub := &Subscription{
		InstanceID: instanceID,
		SessionID:  sessionID,
		ch:         make(chan TimerEvent, subscriberBuffer),
	}
	select {
	case b.subscribe <- sub:
		return sub
	case <-b.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Unsubscribe removes one subscriber. Other subscribers and the tick are
// unaffected.
func (b *TimerBroadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	select {
	case b.unsubscribe <- sub:
	case <-b.done:
	}
}

// SessionEvent forwards terminal transitions to subscribers. It never
// blocks the caller.
func (b *TimerBroadcaster) SessionEvent(_ context.Context, ev model.SessionEvent) {
	if ev.Type != model.EventSessionTerminal {
		return
	}
	select {
	case b.notify <- ev:
	default:
		metrics.TimerEventsDropped.Inc()
		b.log.Warn().Str("session_id", ev.SessionID.String()).Msg("Terminal event dropped, notify queue full")
	}
}

// Start runs the actor loop until ctx is cancelled.
func (b *TimerBroadcaster) Start(ctx context.Context) {
	b.log.Info().Dur("tick", b.tick).Msg("TimerBroadcaster started")

	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	defer b.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-b.subscribe:
			b.add(sub)
		case sub := <-b.unsubscribe:
			b.remove(sub)
		case ev := <-b.notify:
			b.dispatchTerminal(ev)
		case <-ticker.C:
			b.tickOnce(ctx)
		}
	}
}

func (b *TimerBroadcaster) add(sub *Subscription) {
	group, ok := b.groups[sub.InstanceID]
	if !ok {
		group = make(map[*Subscription]struct{})
		b.groups[sub.InstanceID] = group
	}
	group[sub] = struct{}{}
	metrics.TimerSubscribers.Inc()
}

func (b *TimerBroadcaster) remove(sub *Subscription) {
	group, ok := b.groups[sub.InstanceID]
	if !ok {
		return
	}
	if _, ok := group[sub]; !ok {
		return
	}
	delete(group, sub)
	if len(group) == 0 {
		delete(b.groups, sub.InstanceID)
	}
	b.closeSub(sub)
}

func (b *TimerBroadcaster) closeSub(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.ch)
	metrics.TimerSubscribers.Dec()
}

func (b *TimerBroadcaster) shutdown() {
	close(b.done)
	for _, group := range b.groups {
		for sub := range group {
			b.closeSub(sub)
		}
	}
	b.groups = make(map[uuid.UUID]map[*Subscription]struct{})
	b.log.Info().Msg("TimerBroadcaster stopped")
}

// tickOnce sweeps overdue sessions, delivers the resulting terminal events
// and pushes remaining time for every subscribed instance.
func (b *TimerBroadcaster) tickOnce(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.TimerTickDuration.Observe(time.Since(start).Seconds()) }()

	if n, err := b.expirer.ExpireDue(ctx); err != nil {
		b.log.Error().Err(err).Msg("Expiry sweep failed")
	} else if n > 0 {
		b.log.Debug().Int("expired", n).Msg("Expiry sweep closed sessions")
	}
	b.drainNotify()

	now := b.now()
	for instanceID, group := range b.groups {
		sessions, err := b.sessions.ListLiveSessions(ctx, instanceID)
		if err != nil {
			b.log.Error().Err(err).Str("exam_instance_id", instanceID.String()).Msg("Failed to list live sessions")
			continue
		}
		for i := range sessions {
			s := &sessions[i]
			ev := TimerEvent{
				Type:             model.EventSessionTick,
				SessionID:        s.ID,
				State:            s.State,
				RemainingSeconds: math.Floor(s.Remaining(now).Seconds()),
			}
			for sub := range group {
				if sub.wants(s.ID) {
					b.send(sub, ev)
				}
			}
		}
	}
}

func (b *TimerBroadcaster) drainNotify() {
	for {
		select {
		case ev := <-b.notify:
			b.dispatchTerminal(ev)
		default:
			return
		}
	}
}

func (b *TimerBroadcaster) dispatchTerminal(ev model.SessionEvent) {
	group, ok := b.groups[ev.ExamInstanceID]
	if !ok {
		return
	}
	out := TimerEvent{
		Type:      model.EventSessionTerminal,
		SessionID: ev.SessionID,
		State:     ev.State,
		Score:     ev.Score,
	}
	for sub := range group {
		if sub.wants(ev.SessionID) {
			b.send(sub, out)
		}
	}
}

func (b *TimerBroadcaster) send(sub *Subscription, ev TimerEvent) {
	if sub.closed {
		return
	}
	select {
	case sub.ch <- ev:
	default:
		metrics.TimerEventsDropped.Inc()
	}
}
