package driver

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/event"
)

// Device is the state of one attached accessory. It is shared between the
// transfer completion goroutine and the lifecycle call paths and is kept
// alive by an explicit reference count; the last release runs the teardown.
type Device struct {
	udev     BusDevice
	intf     Interface
	input    KeySink
	transfer Transfer
	phys     string

	refs       atomic.Int32 // shared ownership count, teardown runs at zero
	users      atomic.Int32 // open sessions
	drops      atomic.Uint64
	suspended  atomic.Bool
	registered atomic.Bool // input sink registered and not yet torn down

	busy     sync.Mutex // serializes decode-and-resubmit
	teardown sync.Mutex // serializes detach against open/close
}

// Phys returns the stable physical-path identity of the input device.
func (d *Device) Phys() string { return d.phys }

// Open sessions, for status reporting.
func (d *Device) Users() int { return int(d.users.Load()) }

// Drops returns how many unrecognized non-zero scan codes were discarded.
func (d *Device) Drops() uint64 { return d.drops.Load() }

// Suspended reports whether the transfer loop is paused by a power
// transition.
func (d *Device) Suspended() bool { return d.suspended.Load() }

func (d *Device) retain() {
	d.refs.Add(1)
}

// release drops one reference. The last release quiesces the transfer
// before anything else is torn down, so the completion handler can never
// run against dead state.
func (d *Device) release() {
	if d.refs.Add(-1) != 0 {
		return
	}

	if d.transfer != nil {
		d.transfer.Cancel()
		d.transfer.Close()
	}
	d.udev.Unref()
	if d.input != nil && d.registered.CompareAndSwap(true, false) {
		d.input.Close()
	}
}

// Open starts a session: the bus link is brought out of idle, the first
// read is armed, and one reference is taken. Exactly one of each per
// successful call.
func (d *Device) Open() error {
	d.teardown.Lock()
	defer d.teardown.Unlock()

	if err := d.intf.PowerGet(); err != nil {
		return fmt.Errorf("could not get interface: %w", err)
	}

	if err := d.transfer.Submit(); err != nil {
		d.intf.PowerPut()
		return fmt.Errorf("could not submit transfer: %w", err)
	}

	d.retain()
	d.users.Add(1)

	return nil
}

// Close ends a session, symmetric with Open. It blocks until the
// outstanding read is confirmed stopped.
func (d *Device) Close() {
	d.teardown.Lock()
	defer d.teardown.Unlock()
	d.closeLocked()
}

func (d *Device) closeLocked() {
	d.transfer.Cancel()
	d.intf.PowerPut()
	d.users.Add(-1)
	d.release()
}

// complete is the transfer completion handler. It runs on the transport's
// completion goroutine for every finished read: triage the status, decode
// the payload, then re-arm the next read before returning.
func (d *Device) complete(status TransferStatus, data []byte) {
	d.busy.Lock()
	defer d.busy.Unlock()

	switch status {
	case TransferOK:
		d.decode(data)
	case TransferStalled, TransferCancelled, TransferShutdown:
		// The read was stopped on purpose; do not re-arm.
		return
	default:
		log.Printf("%s %s: transfer status %d", DriverName, d.phys, status)
	}

	// Decode happens before resubmission so the buffer cannot be
	// overwritten by the next read while it is still being inspected.
	if err := d.transfer.Submit(); err != nil {
		// No caller to report to; the loop stays down until the next
		// explicit open or resume.
		log.Printf("%s %s: resubmit failed: %v", DriverName, d.phys, err)
	}
}

// decode turns the report payload into key events. The outcome is a pure
// function of the scan code byte: one chorded press, one all-release batch,
// or nothing at all.
func (d *Device) decode(data []byte) {
	if len(data) <= payloadByte {
		return
	}

	action, key := decodeScan(data[payloadByte])
	switch action {
	case actionPress:
		_ = d.input.ReportKey(event.KeyRightAlt, true)
		_ = d.input.ReportKey(key, true)
		_ = d.input.Sync()
	case actionReleaseAll:
		for _, kc := range keycodes {
			_ = d.input.ReportKey(kc, false)
		}
		_ = d.input.ReportKey(event.KeyRightAlt, false)
		_ = d.input.Sync()
	default:
		// Transient codes outside the window are dropped quietly; only
		// the counter records them.
		d.drops.Add(1)
	}
}
