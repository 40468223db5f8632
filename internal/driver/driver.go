// Package driver decodes the scan-code stream of the 4-key umlaut keyboard
// and synthesizes chorded key events for a logical input device. It owns the
// device lifecycle: attach/detach, session open/close, and suspend/resume of
// the interrupt transfer loop.
package driver

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// DriverName is the name the input device registers under.
const DriverName = "umlaut_kb"

// Identity of the accessory on the bus.
const (
	ClassHID     = 0x03
	SubClassBoot = 0x01
	// ProtocolUmlautKB is the non-standard interface protocol the device
	// announces instead of the boot keyboard protocol.
	ProtocolUmlautKB = 0xDE
)

// DeviceID is one entry of the identity table the attach dispatcher matches
// interfaces against.
type DeviceID struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

var idTable = []DeviceID{
	{Class: ClassHID, SubClass: SubClassBoot, Protocol: ProtocolUmlautKB},
}

// Match reports whether an interface with the given triple is driven by
// this driver.
func Match(class, subClass, protocol uint8) bool {
	for _, id := range idTable {
		if id.Class == class && id.SubClass == subClass && id.Protocol == protocol {
			return true
		}
	}
	return false
}

// ErrNoDevice is returned by operations invoked after detach or before a
// completed attach.
var ErrNoDevice = errors.New("no such device")

// Driver associates claimed interfaces with device state and runs the
// attach/detach and power transitions.
type Driver struct {
	newSink SinkFactory

	mu      sync.Mutex
	devices map[Interface]*Device
}

// New returns a driver that registers input sinks through newSink.
func New(newSink SinkFactory) *Driver {
	return &Driver{
		newSink: newSink,
		devices: make(map[Interface]*Device),
	}
}

// Attach builds the device state for a newly recognized interface: bus
// device reference, interrupt transfer, registered input sink. On failure
// everything acquired so far is unwound in reverse order.
func (drv *Driver) Attach(intf Interface) error {
	d := &Device{
		udev: intf.Device(),
		intf: intf,
	}
	// The attach-time reference is owned by the driver until detach.
	d.refs.Store(1)
	d.udev.Ref()

	tr, err := intf.NewInterruptTransfer(EndpointIn, BufferSize, d.complete)
	if err != nil {
		d.release()
		return fmt.Errorf("could not allocate interrupt transfer: %w", err)
	}
	d.transfer = tr

	d.phys = d.udev.Path() + "/input0"

	input, err := drv.newSink(DriverName, d.phys, Capabilities())
	if err != nil {
		// The sink was never registered, so there is nothing to
		// unregister; the release path frees the rest.
		d.release()
		return fmt.Errorf("could not register the input device: %w", err)
	}
	d.input = input
	d.registered.Store(true)

	drv.mu.Lock()
	drv.devices[intf] = d
	drv.mu.Unlock()

	log.Printf("%s %s: device attached", DriverName, d.phys)

	return nil
}

// Detach tears down the association for a disconnected interface. Any open
// session is forced closed through the sink contract, the sink is
// unregistered, and the attach-time reference is dropped; the state is
// freed once the last session reference goes away.
func (drv *Driver) Detach(intf Interface) {
	drv.mu.Lock()
	d := drv.devices[intf]
	delete(drv.devices, intf)
	drv.mu.Unlock()

	if d == nil {
		return
	}

	d.teardown.Lock()
	for d.users.Load() > 0 {
		d.closeLocked()
	}
	if d.registered.CompareAndSwap(true, false) {
		d.input.Close()
	}
	d.teardown.Unlock()

	log.Printf("%s %s: device disconnected", DriverName, d.phys)

	d.release()
}

// Lookup returns the device state attached to intf, or nil.
func (drv *Driver) Lookup(intf Interface) *Device {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	return drv.devices[intf]
}

// Suspend pauses the transfer loop of an attached device ahead of a host
// power transition. Ref-count and power-management state stay held across
// the suspend.
func (drv *Driver) Suspend(intf Interface) error {
	d := drv.Lookup(intf)
	if d == nil {
		return ErrNoDevice
	}

	if d.users.Load() > 0 {
		d.transfer.Cancel()
		d.suspended.Store(true)
	}

	return nil
}

// Resume restarts the transfer loop after a host power transition.
// Submission failure is propagated to the caller.
func (drv *Driver) Resume(intf Interface) error {
	d := drv.Lookup(intf)
	if d == nil {
		return ErrNoDevice
	}

	if d.users.Load() > 0 {
		if err := d.transfer.Submit(); err != nil {
			return err
		}
		d.suspended.Store(false)
	}

	return nil
}

// Devices returns a snapshot of the attached device states.
func (drv *Driver) Devices() []*Device {
	drv.mu.Lock()
	defer drv.mu.Unlock()

	out := make([]*Device, 0, len(drv.devices))
	for _, d := range drv.devices {
		out = append(out, d)
	}
	return out
}
