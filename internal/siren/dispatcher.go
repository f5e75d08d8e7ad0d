package siren

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davteix/sirenwatch/internal/infrastructure/logging"
)

// CommandClient issues device commands over REST. The acknowledgement is
// asynchronous via the realtime channel, never the HTTP response.
type CommandClient interface {
	SendCommand(ctx context.Context, cmd Command) error
}

// CommandMetricWriter records command dispatch outcomes to a time-series
// store. Writes are fire-and-forget.
type CommandMetricWriter interface {
	WriteCommandEvent(deviceID, action, cause, outcome string)
}

// Dispatcher sends ON/OFF commands and tracks the acknowledgement
// watchdog per device. Multiple devices can have independent in-flight
// commands; there is no global lock around dispatch.
//
// A second command to a device already pending is not rejected: it
// rearms the watchdog and re-marks pending, and the superseded watchdog
// can no longer clear the new command's pending flag.
type Dispatcher struct {
	store   *Store
	client  CommandClient
	metrics CommandMetricWriter // optional
	log     *logging.Logger

	ackTimeout time.Duration
	autoOff    time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightCommand
}

// inflightCommand tracks one armed acknowledgement watchdog.
type inflightCommand struct {
	cmdID  string
	action SwitchState
	cause  Cause
	timer  *time.Timer
}

// NewDispatcher creates a command dispatcher. metrics may be nil when
// telemetry is disabled.
func NewDispatcher(store *Store, client CommandClient, metrics CommandMetricWriter, ackTimeout, autoOff time.Duration, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		client:     client,
		metrics:    metrics,
		log:        log,
		ackTimeout: ackTimeout,
		autoOff:    autoOff,
		inflight:   make(map[string]*inflightCommand),
	}
}

// Send dispatches a command: mark pending, arm the watchdog, issue the
// REST call with the auto-off window as TTL.
//
// On transport failure the watchdog is cancelled, pending is cleared and
// the error is returned to the caller. A watchdog expiry with no
// acknowledgement is a soft failure: pending is cleared, last known
// state stands, and a diagnostic is logged. The command may still land.
//
// An unknown deviceID mutates nothing; the command is still issued and
// its eventual acknowledgement will match nothing too.
func (d *Dispatcher) Send(ctx context.Context, deviceID string, action SwitchState, cause Cause) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if cause == "" {
		cause = CauseManual
	}

	cmdID := uuid.NewString()

	d.store.Mutate(deviceID, func(rec *Record) {
		rec.Pending = true
	})
	d.arm(deviceID, cmdID, action, cause)

	cmd := Command{
		DeviceID: deviceID,
		Action:   action,
		TTL:      d.autoOff,
		Cause:    cause,
		CmdID:    cmdID,
	}
	if err := d.client.SendCommand(ctx, cmd); err != nil {
		d.cancel(deviceID, cmdID)
		d.store.Mutate(deviceID, func(rec *Record) {
			rec.Pending = false
		})
		d.writeOutcome(deviceID, action, cause, "error")
		return fmt.Errorf("%w: %s %s: %w", ErrCommandFailed, deviceID, action, err)
	}

	d.writeOutcome(deviceID, action, cause, "sent")
	d.log.Info("command dispatched", "device_id", deviceID, "action", string(action), "cmd_id", cmdID)
	return nil
}

// arm replaces any prior watchdog for the device with a fresh one.
func (d *Dispatcher) arm(deviceID, cmdID string, action SwitchState, cause Cause) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.inflight[deviceID]; ok {
		prev.timer.Stop()
	}
	d.inflight[deviceID] = &inflightCommand{
		cmdID:  cmdID,
		action: action,
		cause:  cause,
		timer: time.AfterFunc(d.ackTimeout, func() {
			d.timeout(deviceID, cmdID)
		}),
	}
}

// cancel removes the watchdog for a specific command. A mismatched cmdID
// means the entry belongs to a newer dispatch and is left alone.
func (d *Dispatcher) cancel(deviceID, cmdID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.inflight[deviceID]
	if !ok || entry.cmdID != cmdID {
		return
	}
	entry.timer.Stop()
	delete(d.inflight, deviceID)
}

// timeout fires when no acknowledgement arrived in time. Only the state
// for this exact command is cleaned up; a rearmed dispatch owns the
// entry by then and must not be disturbed.
func (d *Dispatcher) timeout(deviceID, cmdID string) {
	d.mu.Lock()
	entry, ok := d.inflight[deviceID]
	if !ok || entry.cmdID != cmdID {
		d.mu.Unlock()
		return
	}
	delete(d.inflight, deviceID)
	d.mu.Unlock()

	d.store.Mutate(deviceID, func(rec *Record) {
		rec.Pending = false
	})
	d.writeOutcome(deviceID, entry.action, entry.cause, "timeout")
	d.log.Warn("command acknowledgement timed out", "device_id", deviceID, "cmd_id", cmdID, "timeout", d.ackTimeout)
}

// Resolve cancels the watchdog for a device after its acknowledgement
// arrived. Returns false when nothing was in flight, which happens when
// the watchdog already fired: the late ack finds no handle and that
// leg is a no-op.
//
// A non-empty cmdID must match the in-flight command; a late ack for a
// superseded dispatch leaves the newer command's watchdog armed. An ack
// without a cmdID matches whatever is in flight for the device.
func (d *Dispatcher) Resolve(deviceID, cmdID string) bool {
	d.mu.Lock()
	entry, ok := d.inflight[deviceID]
	if !ok || (cmdID != "" && entry.cmdID != cmdID) {
		d.mu.Unlock()
		return false
	}
	entry.timer.Stop()
	delete(d.inflight, deviceID)
	d.mu.Unlock()

	d.writeOutcome(deviceID, entry.action, entry.cause, "acked")
	return true
}

func (d *Dispatcher) writeOutcome(deviceID string, action SwitchState, cause Cause, outcome string) {
	if d.metrics == nil {
		return
	}
	d.metrics.WriteCommandEvent(deviceID, string(action), string(cause), outcome)
}

// InflightCount returns the number of armed watchdogs, for monitoring.
func (d *Dispatcher) InflightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// Stop cancels every armed watchdog. Used on shutdown so no timer fires
// into a torn-down store.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, entry := range d.inflight {
		entry.timer.Stop()
		delete(d.inflight, id)
	}
}
