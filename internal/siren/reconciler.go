package siren

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
	"github.com/davteix/sirenwatch/internal/realtime"
	"github.com/davteix/sirenwatch/internal/timers"
)

// SnapshotClient provides the REST snapshot and best-effort enrichment.
type SnapshotClient interface {
	// ListSirens returns the registered device metadata records.
	ListSirens(ctx context.Context) ([]Meta, error)

	// LastStates returns last-known states. Implementations must treat a
	// missing endpoint as an empty set, not an error.
	LastStates(ctx context.Context) ([]LastState, error)
}

// TimerStore abstracts the persisted auto-off timer registry.
type TimerStore interface {
	Set(deviceID string, expiresAt time.Time, duration time.Duration) error
	Clear(deviceID string) error
	Get(deviceID string) (*timers.Timer, error)
}

// MetricWriter records state transitions to a time-series store.
// Writes are fire-and-forget.
type MetricWriter interface {
	WriteDeviceMetric(deviceID, field string, value float64)
}

// AckResolver cancels a pending acknowledgement watchdog. Implemented by
// the Dispatcher; whichever of ack and timeout lands first wins and the
// other is a no-op. The cmdID correlates the ack to a specific dispatch
// so a late ack cannot cancel a newer command's watchdog.
type AckResolver interface {
	Resolve(deviceID, cmdID string) bool
}

// ReconcilerOptions carries the timing knobs. Tests inject short windows.
type ReconcilerOptions struct {
	// HeartbeatTimeout is the liveness watchdog window.
	HeartbeatTimeout time.Duration

	// AutoOff is the configured auto-off duration; it drives countdown
	// length and persisted expiries.
	AutoOff time.Duration

	// TickInterval is the countdown sweep period. Defaults to one second.
	TickInterval time.Duration
}

// Reconciler is the per-device state machine. It merges the REST
// snapshot, the realtime event stream, watchdog expiries and countdown
// ticks into Store mutations.
//
// States per device: unknown → offline → online/off → online/on, with an
// orthogonal pending overlay. Events are handled strictly in arrival
// order; a single mutex serializes every mutation path so no two
// handlers for the same device ever run concurrently.
type Reconciler struct {
	store    *Store
	timers   TimerStore
	client   SnapshotClient
	source   realtime.Source
	metrics  MetricWriter // optional
	resolver AckResolver  // optional
	log      *logging.Logger

	heartbeatTimeout time.Duration
	autoOff          time.Duration
	tickInterval     time.Duration

	mu        sync.Mutex
	watchdogs map[string]*time.Timer
	started   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewReconciler creates a reconciler over the given collaborators.
// metrics may be nil when telemetry is disabled.
func NewReconciler(store *Store, timerStore TimerStore, client SnapshotClient, source realtime.Source, metrics MetricWriter, opts ReconcilerOptions, log *logging.Logger) *Reconciler {
	tick := opts.TickInterval
	if tick <= 0 {
		tick = time.Second
	}
	return &Reconciler{
		store:            store,
		timers:           timerStore,
		client:           client,
		source:           source,
		metrics:          metrics,
		log:              log,
		heartbeatTimeout: opts.HeartbeatTimeout,
		autoOff:          opts.AutoOff,
		tickInterval:     tick,
		watchdogs:        make(map[string]*time.Timer),
	}
}

// SetResolver wires the dispatcher's ack-watchdog cancellation.
func (r *Reconciler) SetResolver(resolver AckResolver) {
	r.mu.Lock()
	r.resolver = resolver
	r.mu.Unlock()
}

// Start seeds the store from the REST snapshot, applies the best-effort
// enrichment, then subscribes to realtime events and begins the countdown
// sweep. The subscription is established only after the snapshot calls
// resolve, so early events cannot be lost to a late snapshot overwrite.
//
// Snapshot failures are logged and leave the view empty rather than
// failing Start; the realtime stream may still populate state for any
// devices that later appear in a successful reseed.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	metas, err := r.client.ListSirens(ctx)
	if err != nil {
		r.log.Error("snapshot fetch failed, starting with empty device list", "error", err)
	} else {
		r.store.Seed(metas)
		r.log.Info("device snapshot seeded", "count", len(metas))
	}

	states, err := r.client.LastStates(ctx)
	if err != nil {
		r.log.Debug("last-state enrichment unavailable", "error", err)
	} else {
		r.mu.Lock()
		for _, st := range states {
			r.applyStateLocked(st)
		}
		r.mu.Unlock()
	}

	for _, event := range realtime.AllTypes() {
		if err := r.source.Subscribe(event, r.onEvent); err != nil {
			return err
		}
	}

	r.wg.Add(1)
	go r.sweepLoop()

	return nil
}

// Stop detaches from the event stream and releases every timer owned by
// this instance. The shared connection itself is left alone; other
// consumers may still be using it.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	for id, wd := range r.watchdogs {
		wd.Stop()
		delete(r.watchdogs, id)
	}
	close(r.done)
	r.mu.Unlock()

	for _, event := range realtime.AllTypes() {
		_ = r.source.Unsubscribe(event) //nolint:errcheck // Detaching from a dead source is fine
	}
	r.wg.Wait()
}

// onEvent is the single entry point for realtime events.
func (r *Reconciler) onEvent(event realtime.Type, payload []byte) error {
	switch event {
	case realtime.EventState:
		return r.onState(payload)
	case realtime.EventHeartbeat:
		return r.onHeartbeat(payload)
	case realtime.EventLWT:
		return r.onLWT(payload)
	case realtime.EventAck:
		return r.onAck(payload)
	}
	return nil
}

// onState adopts an authoritative per-device state push.
func (r *Reconciler) onState(payload []byte) error {
	var st LastState
	if err := json.Unmarshal(payload, &st); err != nil {
		r.log.Debug("discarding malformed state event", "error", err)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyStateLocked(st)
	return nil
}

// applyStateLocked adopts online/relay/siren/ip/updatedAt verbatim and
// clears pending; a state push is authoritative. The same mapping
// upgrades devices during snapshot enrichment. Unknown devices match
// nothing.
func (r *Reconciler) applyStateLocked(st LastState) {
	if st.DeviceID == "" {
		return
	}

	ok := r.store.Mutate(st.DeviceID, func(rec *Record) {
		rec.Online = st.Online
		if st.Relay.Valid() {
			rec.Relay = st.Relay
		}
		if st.Siren.Valid() {
			rec.Siren = st.Siren
		}
		if st.IP != "" {
			rec.IP = st.IP
		}
		rec.UpdatedAt = cloneTime(st.UpdatedAt)
		rec.Pending = false
		if !st.Online || rec.Siren != SwitchOn {
			rec.Countdown = nil
		}
	})
	if !ok {
		return
	}

	if st.Online {
		r.armWatchdogLocked(st.DeviceID)
	} else {
		r.stopWatchdogLocked(st.DeviceID)
	}

	switch {
	case st.Online && st.Siren == SwitchOn:
		remaining := r.ensureTimer(st.DeviceID, st.UpdatedAt, st.AutoOffAt)
		if remaining > 0 {
			r.setCountdownLocked(st.DeviceID, &remaining)
		}
	case st.Siren == SwitchOff:
		// Siren moved away from ON: the persisted window is void.
		r.clearTimer(st.DeviceID)
	}

	r.writeMetric(st.DeviceID, "online", boolMetric(st.Online))
	if st.Siren.Valid() {
		r.writeMetric(st.DeviceID, "siren", switchMetric(st.Siren))
	}
}

// idPayload is the minimal body of heartbeat and lwt events.
type idPayload struct {
	DeviceID string `json:"deviceId"`
}

// onHeartbeat marks liveness only; relay/siren are untouched.
func (r *Reconciler) onHeartbeat(payload []byte) error {
	var hb idPayload
	if err := json.Unmarshal(payload, &hb); err != nil || hb.DeviceID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ok := r.store.Mutate(hb.DeviceID, func(rec *Record) {
		rec.Online = true
	})
	if !ok {
		return nil
	}

	r.armWatchdogLocked(hb.DeviceID)
	r.writeMetric(hb.DeviceID, "online", 1)
	return nil
}

// onLWT forces a device offline immediately.
func (r *Reconciler) onLWT(payload []byte) error {
	var lwt idPayload
	if err := json.Unmarshal(payload, &lwt); err != nil || lwt.DeviceID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.markOfflineLocked(lwt.DeviceID)
	return nil
}

// onAck applies a terminal command acknowledgement. An OK ack is as
// authoritative as a state push for the acted-on channels; an error ack
// only releases the pending overlay.
func (r *Reconciler) onAck(payload []byte) error {
	var ack Ack
	if err := json.Unmarshal(payload, &ack); err != nil || ack.DeviceID == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Cancel the dispatcher's ack-timeout watchdog. If the watchdog has
	// already fired it cleaned up its own handle and this is a no-op.
	if r.resolver != nil {
		r.resolver.Resolve(ack.DeviceID, ack.CmdID)
	}

	if ack.Result != AckOK {
		r.store.Mutate(ack.DeviceID, func(rec *Record) {
			rec.Pending = false
		})
		return nil
	}

	if !ack.Action.Valid() {
		return nil
	}

	now := time.Now().UTC()
	var countdown *int
	if ack.Action == SwitchOn {
		secs := int(r.autoOff.Milliseconds() / 1000)
		countdown = &secs
	}

	ok := r.store.Mutate(ack.DeviceID, func(rec *Record) {
		rec.Siren = ack.Action
		rec.Relay = ack.Action
		rec.Pending = false
		rec.UpdatedAt = &now
		rec.Countdown = cloneInt(countdown)
	})
	if !ok {
		return nil
	}

	if ack.Action == SwitchOn {
		if err := r.timers.Set(ack.DeviceID, now.Add(r.autoOff), r.autoOff); err != nil {
			r.log.Warn("persisting auto-off timer failed", "device_id", ack.DeviceID, "error", err)
		}
	} else {
		r.clearTimer(ack.DeviceID)
	}

	r.writeMetric(ack.DeviceID, "siren", switchMetric(ack.Action))
	return nil
}

// markOfflineLocked forces a device offline and clears its transient
// state. Watchdog expiry and lwt both converge here; whichever fires
// first wins and the second write is a no-op.
func (r *Reconciler) markOfflineLocked(deviceID string) {
	ok := r.store.Mutate(deviceID, func(rec *Record) {
		rec.Online = false
		rec.Pending = false
		rec.Countdown = nil
	})
	if !ok {
		return
	}

	r.stopWatchdogLocked(deviceID)
	r.writeMetric(deviceID, "online", 0)
}

// armWatchdogLocked (re)arms the liveness watchdog for a device. Expiry
// is the sole detector for a device gone silent.
func (r *Reconciler) armWatchdogLocked(deviceID string) {
	if wd, ok := r.watchdogs[deviceID]; ok {
		wd.Stop()
	}
	r.watchdogs[deviceID] = time.AfterFunc(r.heartbeatTimeout, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if !r.started {
			return
		}
		delete(r.watchdogs, deviceID)
		r.log.Debug("heartbeat watchdog expired", "device_id", deviceID)
		r.markOfflineLocked(deviceID)
	})
}

func (r *Reconciler) stopWatchdogLocked(deviceID string) {
	if wd, ok := r.watchdogs[deviceID]; ok {
		wd.Stop()
		delete(r.watchdogs, deviceID)
	}
}

// ensureTimer writes a persisted timer for a device observed ON, unless
// an unexpired one already exists. The event's own auto-off deadline is
// preferred, then its updatedAt plus the configured window, then now
// plus the window. Returns the remaining whole seconds, 0 if none.
func (r *Reconciler) ensureTimer(deviceID string, updatedAt, autoOffAt *time.Time) int {
	now := time.Now()

	existing, err := r.timers.Get(deviceID)
	if err != nil {
		r.log.Warn("reading persisted timer failed", "device_id", deviceID, "error", err)
		return 0
	}
	if existing != nil {
		return existing.Remaining(now)
	}

	var expiresAt time.Time
	switch {
	case autoOffAt != nil:
		expiresAt = *autoOffAt
	case updatedAt != nil:
		expiresAt = updatedAt.Add(r.autoOff)
	default:
		expiresAt = now.Add(r.autoOff)
	}
	if !expiresAt.After(now) {
		return 0
	}

	if err := r.timers.Set(deviceID, expiresAt, r.autoOff); err != nil {
		r.log.Warn("persisting auto-off timer failed", "device_id", deviceID, "error", err)
	}
	t := timers.Timer{ExpiresAt: expiresAt}
	return t.Remaining(now)
}

func (r *Reconciler) clearTimer(deviceID string) {
	if err := r.timers.Clear(deviceID); err != nil {
		r.log.Warn("clearing persisted timer failed", "device_id", deviceID, "error", err)
	}
}

// setCountdownLocked updates the display countdown without touching any
// other field, skipping the write when the value is unchanged.
func (r *Reconciler) setCountdownLocked(deviceID string, value *int) {
	current, ok := r.store.Get(deviceID)
	if !ok {
		return
	}
	if equalInt(current.Countdown, value) {
		return
	}
	r.store.Mutate(deviceID, func(rec *Record) {
		rec.Countdown = cloneInt(value)
	})
}

func equalInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sweepLoop drives the countdown display once per tick.
func (r *Reconciler) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// sweep recomputes every active countdown. A persisted timer takes
// precedence while it yields a positive remainder; the realtime-derived
// countdown is only decremented when no persisted timer exists. The
// countdown is a pure display value: reaching zero sends nothing, the
// server-enforced auto-off arrives as a normal state or ack event.
//
// Offline devices are skipped entirely: going offline cleared their
// countdown, and a surviving persisted timer only resumes once the
// device reports back.
func (r *Reconciler) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, id := range r.store.DeviceIDs() {
		rec, ok := r.store.Get(id)
		if !ok || !rec.Online || rec.Siren != SwitchOn {
			continue
		}

		persisted, err := r.timers.Get(id)
		if err != nil {
			r.log.Warn("reading persisted timer failed", "device_id", id, "error", err)
			continue
		}

		if persisted != nil {
			remaining := persisted.Remaining(now)
			if remaining > 0 {
				r.setCountdownLocked(id, &remaining)
			} else {
				r.setCountdownLocked(id, nil)
				r.clearTimer(id)
			}
			continue
		}

		if rec.Countdown == nil {
			continue
		}
		next := *rec.Countdown - 1
		if next <= 0 {
			r.setCountdownLocked(id, nil)
		} else {
			r.setCountdownLocked(id, &next)
		}
	}
}

func (r *Reconciler) writeMetric(deviceID, field string, value float64) {
	if r.metrics == nil {
		return
	}
	r.metrics.WriteDeviceMetric(deviceID, field, value)
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func switchMetric(s SwitchState) float64 {
	if s == SwitchOn {
		return 1
	}
	return 0
}
