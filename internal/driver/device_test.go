package driver

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/event"
)

// attach builds a driver around sink and attaches one fake interface.
func attach(t *testing.T, sink *fakeSink) (*Driver, *fakeInterface, *Device) {
	t.Helper()

	drv := newTestDriver(sink)
	intf := &fakeInterface{dev: &fakeBusDevice{path: "/dev/bus/usb/001/004"}}

	if err := drv.Attach(intf); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	dev := drv.Lookup(intf)
	if dev == nil {
		t.Fatal("Lookup returned nil after Attach")
	}
	return drv, intf, dev
}

func TestCompletePress(t *testing.T) {
	sink := &fakeSink{}
	_, intf, _ := attach(t, sink)

	intf.tr.fireSync(TransferOK, report(0x1E))

	want := []sinkEvent{
		{code: event.KeyRightAlt, pressed: true},
		{code: event.KeyQ, pressed: true},
	}
	if got := sink.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if sink.Syncs() != 1 {
		t.Errorf("syncs = %d, want 1", sink.Syncs())
	}
	if intf.tr.Submits() != 1 {
		t.Errorf("submits = %d, want 1 (completion must re-arm the read)", intf.tr.Submits())
	}
}

func TestCompleteReleaseAll(t *testing.T) {
	sink := &fakeSink{}
	_, intf, _ := attach(t, sink)

	intf.tr.fireSync(TransferOK, report(0x00))

	want := []sinkEvent{
		{code: event.KeyQ, pressed: false},
		{code: event.KeyP, pressed: false},
		{code: event.KeyY, pressed: false},
		{code: event.KeyS, pressed: false},
		{code: event.KeyRightAlt, pressed: false},
	}
	if got := sink.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
	if sink.Syncs() != 1 {
		t.Errorf("syncs = %d, want 1", sink.Syncs())
	}
}

func TestCompleteUnrecognizedCode(t *testing.T) {
	sink := &fakeSink{}
	_, intf, dev := attach(t, sink)

	intf.tr.fireSync(TransferOK, report(0x22))
	intf.tr.fireSync(TransferOK, report(0xFF))

	if len(sink.Events()) != 0 {
		t.Errorf("events = %v, want none", sink.Events())
	}
	if sink.Syncs() != 0 {
		t.Errorf("syncs = %d, want 0", sink.Syncs())
	}
	if dev.Drops() != 2 {
		t.Errorf("drops = %d, want 2", dev.Drops())
	}
	if intf.tr.Submits() != 2 {
		t.Errorf("submits = %d, want 2 (the loop keeps running)", intf.tr.Submits())
	}
}

func TestCompleteStopStatuses(t *testing.T) {
	for _, status := range []TransferStatus{TransferStalled, TransferCancelled, TransferShutdown} {
		sink := &fakeSink{}
		_, intf, _ := attach(t, sink)

		intf.tr.fireSync(status, nil)

		if intf.tr.Submits() != 0 {
			t.Errorf("status %d: submits = %d, want 0 (the loop is intentionally stopped)", status, intf.tr.Submits())
		}
		if len(sink.Events()) != 0 {
			t.Errorf("status %d: events = %v, want none", status, sink.Events())
		}
	}
}

func TestCompleteHardErrorSelfHeals(t *testing.T) {
	sink := &fakeSink{}
	_, intf, _ := attach(t, sink)

	intf.tr.fireSync(TransferError, nil)

	if intf.tr.Submits() != 1 {
		t.Errorf("submits = %d, want 1 (hard errors resubmit)", intf.tr.Submits())
	}
	if len(sink.Events()) != 0 {
		t.Errorf("events = %v, want none", sink.Events())
	}
}

func TestCompleteResubmitFailureIsSwallowed(t *testing.T) {
	sink := &fakeSink{}
	_, intf, _ := attach(t, sink)

	intf.tr.setSubmitErr(errors.New("endpoint gone"))
	intf.tr.fireSync(TransferOK, report(0x21))

	// the decode still happened; only the re-arm was lost
	want := []sinkEvent{
		{code: event.KeyRightAlt, pressed: true},
		{code: event.KeyS, pressed: true},
	}
	if got := sink.Events(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

// Repeated completions with the same payload decode identically each time.
func TestCompleteIdempotent(t *testing.T) {
	sink := &fakeSink{}
	_, intf, _ := attach(t, sink)

	intf.tr.fireSync(TransferOK, report(0x1F))
	first := sink.Events()

	intf.tr.fireSync(TransferOK, report(0x1F))
	second := sink.Events()[len(first):]

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second decode %v differs from first %v", second, first)
	}
}

func TestCompleteShortBuffer(t *testing.T) {
	sink := &fakeSink{}
	_, intf, _ := attach(t, sink)

	intf.tr.fireSync(TransferOK, []byte{0x00})

	if len(sink.Events()) != 0 {
		t.Errorf("events = %v, want none for a truncated report", sink.Events())
	}
	if intf.tr.Submits() != 1 {
		t.Errorf("submits = %d, want 1", intf.tr.Submits())
	}
}
