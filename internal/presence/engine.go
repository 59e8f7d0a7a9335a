package presence

import (
	"context"
	"log/slog"
	"time"

	"trackify-svr/internal/geo"
	"trackify-svr/internal/observability"
)

// Store is the keyed presence table the engine mutates. Implementations
// live in internal/store; the engine is agnostic to the backing.
type Store interface {
	// Get returns (nil, nil) when the user has no record.
	Get(ctx context.Context, userCode string) (*Presence, error)
	Put(ctx context.Context, p *Presence) error
	// Delete of an absent key is a no-op.
	Delete(ctx context.Context, userCode string) error
	List(ctx context.Context) ([]*Presence, error)
	// Update applies fn to the user's record as a per-key atomic
	// read-modify-write. fn receives nil when no record exists and may
	// return nil to leave the store untouched.
	Update(ctx context.Context, userCode string, fn func(*Presence) *Presence) (*Presence, error)
}

// Broadcaster delivers payloads to subscribers. Calls are fire-and-forget:
// the engine never waits for delivery confirmation and never retries.
type Broadcaster interface {
	Publish(topic string, payload any) error
	PublishUser(userCode string, payload any) error
}

// LeaveNotifier consumes leave events for durable side effects, e.g.
// persisting last known coordinates. Failures are logged, never propagated.
type LeaveNotifier interface {
	UserLeft(ctx context.Context, e LeaveEvent) error
}

// Options are the engine-level tunables. Zero values fall back to the
// defaults below.
type Options struct {
	Topic                string
	OfflineAfter         time.Duration
	MinBroadcastInterval time.Duration
	MinBroadcastDistance float64 // meters
	SweepEvery           time.Duration
	Now                  func() time.Time
}

const (
	DefaultTopic                = "all"
	DefaultOfflineAfter         = 30 * time.Second
	DefaultMinBroadcastInterval = 800 * time.Millisecond
	DefaultMinBroadcastDistance = 5.0
	DefaultSweepEvery           = 5 * time.Second
)

func (o *Options) withDefaults() {
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.OfflineAfter <= 0 {
		o.OfflineAfter = DefaultOfflineAfter
	}
	if o.MinBroadcastInterval <= 0 {
		o.MinBroadcastInterval = DefaultMinBroadcastInterval
	}
	if o.MinBroadcastDistance <= 0 {
		o.MinBroadcastDistance = DefaultMinBroadcastDistance
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = DefaultSweepEvery
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Engine owns the presence state transitions and the broadcast throttle.
// It is the only writer of record content.
type Engine struct {
	store    Store
	broker   Broadcaster
	notifier LeaveNotifier // optional
	log      *slog.Logger
	opts     Options
}

func New(st Store, b Broadcaster, notifier LeaveNotifier, log *slog.Logger, opts Options) *Engine {
	opts.withDefaults()
	return &Engine{
		store:    st,
		broker:   b,
		notifier: notifier,
		log:      log,
		opts:     opts,
	}
}

func (e *Engine) now() time.Time { return e.opts.Now() }
func (e *Engine) nowMs() int64   { return e.opts.Now().UnixMilli() }

// Connect upserts the user's record and always broadcasts: a connect
// signals the user became reachable, so it bypasses the throttle.
func (e *Engine) Connect(ctx context.Context, userCode, userName string, lat, lng float64) (*Presence, error) {
	now := e.nowMs()
	p, err := e.store.Update(ctx, userCode, func(old *Presence) *Presence {
		if old == nil {
			old = &Presence{
				UserCode:    userCode,
				UserName:    userName,
				Working:     false,
				LastPingRtt: 0,
			}
		} else if old.UserName == "" {
			// never overwrite a known name with a blank one
			old.UserName = userName
		}
		old.Lat = lat
		old.Lng = lng
		old.LastMessageAt = now
		// connect broadcasts below, so it stamps the throttle metadata:
		// a rapid move right after connect must not rebroadcast.
		old.LastBroadcastAt = now
		bLat, bLng := lat, lng
		old.LastBroadcastLat = &bLat
		old.LastBroadcastLng = &bLng
		return old
	})
	if err != nil {
		observability.StoreErrors.Inc()
		return nil, err
	}

	observability.Connects.Inc()
	e.publish(NewUserPayload(p, e.now()))
	return p, nil
}

// UpdateLocation stores the new position unconditionally but broadcasts
// only when both throttle gates hold: enough time since the last
// broadcast AND enough movement from the last broadcast position.
// Unknown users are a silent no-op.
func (e *Engine) UpdateLocation(ctx context.Context, userCode string, lat, lng float64) (*Presence, error) {
	now := e.nowMs()
	broadcast := false
	p, err := e.store.Update(ctx, userCode, func(old *Presence) *Presence {
		if old == nil {
			return nil
		}
		old.Lat = lat
		old.Lng = lng
		old.LastMessageAt = now

		timeOK := now-old.LastBroadcastAt >= e.opts.MinBroadcastInterval.Milliseconds()
		distOK := true
		if old.LastBroadcastLat != nil && old.LastBroadcastLng != nil {
			distOK = geo.DistanceMeters(*old.LastBroadcastLat, *old.LastBroadcastLng, lat, lng) >= e.opts.MinBroadcastDistance
		}
		if timeOK && distOK {
			broadcast = true
			old.LastBroadcastAt = now
			bLat, bLng := lat, lng
			old.LastBroadcastLat = &bLat
			old.LastBroadcastLng = &bLng
		}
		return old
	})
	if err != nil {
		observability.StoreErrors.Inc()
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	if broadcast {
		e.publish(NewUserPayload(p, e.now()))
	} else {
		observability.ThrottledUpdates.Inc()
	}
	return p, nil
}

// SetWorking toggles the activity flag. State-class changes are rare and
// always meaningful, so they broadcast unconditionally.
func (e *Engine) SetWorking(ctx context.Context, userCode string, working bool) (*Presence, error) {
	now := e.nowMs()
	p, err := e.store.Update(ctx, userCode, func(old *Presence) *Presence {
		if old == nil {
			return nil
		}
		old.Working = working
		old.LastMessageAt = now
		return old
	})
	if err != nil {
		observability.StoreErrors.Inc()
		return nil, err
	}
	if p == nil {
		return nil, nil
	}

	e.publish(NewUserPayload(p, e.now()))
	return p, nil
}

// OnPing records the round trip time and refreshes liveness. Pings are a
// liveness signal only and never broadcast.
func (e *Engine) OnPing(ctx context.Context, userCode string, clientSendMs int64) (*Presence, error) {
	now := e.nowMs()
	p, err := e.store.Update(ctx, userCode, func(old *Presence) *Presence {
		if old == nil {
			return nil
		}
		old.LastMessageAt = now
		old.LastPingRtt = max(0, now-clientSendMs)
		return old
	})
	if err != nil {
		observability.StoreErrors.Inc()
		return nil, err
	}
	return p, nil
}

// Disconnect removes the record and broadcasts a leave notice. It is
// idempotent: disconnecting an absent user still emits the notice, so a
// client racing a server-side timeout settles on the same end state.
func (e *Engine) Disconnect(ctx context.Context, userCode string, cachedLat, cachedLng *float64) error {
	removed, err := e.store.Get(ctx, userCode)
	if err != nil {
		observability.StoreErrors.Inc()
		return err
	}
	if err := e.store.Delete(ctx, userCode); err != nil {
		observability.StoreErrors.Inc()
		return err
	}

	lat, lng := cachedLat, cachedLng
	if (lat == nil || lng == nil) && removed != nil {
		lat, lng = &removed.Lat, &removed.Lng
	}

	e.publish(NewLeavePayload(userCode, e.now()))
	e.notifyLeave(ctx, LeaveEvent{
		UserCode: userCode,
		Lat:      lat,
		Lng:      lng,
		At:       e.now(),
		Reason:   LeaveDisconnect,
	})
	return nil
}

// Snapshot returns every current record except the caller's own.
func (e *Engine) Snapshot(ctx context.Context, excludeUserCode string) ([]*Presence, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		observability.StoreErrors.Inc()
		return nil, err
	}
	out := make([]*Presence, 0, len(all))
	for _, p := range all {
		if p.UserCode == excludeUserCode {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Sweep evicts every record idle beyond the offline threshold and returns
// the eviction count. It iterates a snapshot, so a record removed or
// refreshed concurrently is simply skipped or caught on the next pass.
func (e *Engine) Sweep(ctx context.Context) int {
	start := e.now()
	defer observability.ObserveSweep(start)

	all, err := e.store.List(ctx)
	if err != nil {
		observability.StoreErrors.Inc()
		e.log.Warn("sweep: list failed", "error", err)
		return 0
	}

	now := e.nowMs()
	evicted := 0
	for _, p := range all {
		idle := now - p.LastMessageAt
		if idle <= e.opts.OfflineAfter.Milliseconds() {
			continue
		}
		if err := e.store.Delete(ctx, p.UserCode); err != nil {
			observability.StoreErrors.Inc()
			e.log.Warn("sweep: delete failed", "userCode", p.UserCode, "error", err)
			continue
		}
		evicted++
		observability.SweepEvictions.Inc()
		e.log.Info("sweep: evicted", "userCode", p.UserCode, "idleMs", idle)

		e.publish(NewLeavePayload(p.UserCode, e.now()))
		lat, lng := p.Lat, p.Lng
		e.notifyLeave(ctx, LeaveEvent{
			UserCode: p.UserCode,
			Lat:      &lat,
			Lng:      &lng,
			At:       e.now(),
			Reason:   LeaveTimeout,
		})
	}
	return evicted
}

// Run drives the periodic sweep until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepEvery)
	defer ticker.Stop()

	e.log.Info("presence sweep started", "every", e.opts.SweepEvery, "offlineAfter", e.opts.OfflineAfter)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// publish sends to the shared topic. The store write has already
// committed by the time this runs; a delivery failure leaves state
// correct and self-heals on the next update or reconnect snapshot.
func (e *Engine) publish(payload any) {
	typ := "PRESENCE"
	if _, ok := payload.(LeavePayload); ok {
		typ = "LEAVE"
	}
	if err := e.broker.Publish(e.opts.Topic, payload); err != nil {
		observability.BroadcastErrors.Inc()
		e.log.Warn("broadcast failed", "type", typ, "error", err)
		return
	}
	observability.Broadcasts.WithLabelValues(typ).Inc()
}

func (e *Engine) notifyLeave(ctx context.Context, ev LeaveEvent) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.UserLeft(ctx, ev); err != nil {
		observability.LeaveNotifyErrors.Inc()
		e.log.Warn("leave notify failed", "userCode", ev.UserCode, "reason", ev.Reason, "error", err)
	}
}
