package api

import (
	"fmt"
	"log"
	"sync"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/config"
	"github.com/Kirill-Marinushkin/umlaut-kb/internal/driver"
	"github.com/Kirill-Marinushkin/umlaut-kb/internal/features"
)

// DriverService ties the bus monitor to the driver: matched devices are
// attached and opened, vanished devices are detached. It is the single
// consumer of every registered input device, so open/close are never called
// concurrently for the same device.
type DriverService struct {
	cfg         *config.Config
	statusMutex sync.RWMutex
	running     bool
	monitor     *features.BusMonitor
	drv         *driver.Driver
	attached    map[string]*attachedDevice
}

type attachedDevice struct {
	busDev *features.BusDevice
	intf   *features.ClaimedInterface
}

// DeviceStatus is the externally visible state of one attached device.
type DeviceStatus struct {
	Phys      string `json:"phys"`
	Path      string `json:"path"`
	Users     int    `json:"users"`
	Suspended bool   `json:"suspended"`
	Drops     uint64 `json:"dropped_scan_codes"`
}

// NewDriverService creates a stopped service.
func NewDriverService(cfg *config.Config) *DriverService {
	return &DriverService{
		cfg:      cfg,
		attached: make(map[string]*attachedDevice),
	}
}

// Start brings up the driver and the bus monitor. Devices already on the
// bus are attached during the initial scan.
func (s *DriverService) Start() error {
	s.statusMutex.Lock()

	if s.running {
		s.statusMutex.Unlock()
		return fmt.Errorf("service is already running")
	}

	sinkPath := s.cfg.Sink.UinputPath
	s.drv = driver.New(func(name, phys string, keys []uint16) (driver.KeySink, error) {
		return features.CreateKeyboardSink(sinkPath, []byte(name), phys, keys)
	})

	monitor, err := features.NewBusMonitor(s.cfg.Bus.Root, driver.Match)
	if err != nil {
		s.statusMutex.Unlock()
		return fmt.Errorf("could not create the bus monitor: %v", err)
	}
	monitor.RegisterCallback(s.handleBusEvent)

	s.monitor = monitor
	s.running = true

	// The initial scan reports already attached devices through the
	// callback, which takes the status mutex itself.
	s.statusMutex.Unlock()

	if err := monitor.Start(s.cfg.Bus.PollInterval); err != nil {
		s.statusMutex.Lock()
		s.monitor = nil
		s.running = false
		s.statusMutex.Unlock()
		return fmt.Errorf("could not start the bus monitor: %v", err)
	}

	log.Println("driver service started")

	return nil
}

// Stop closes every session and detaches every device, then halts the
// monitor.
func (s *DriverService) Stop() error {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()

	if !s.running {
		return fmt.Errorf("service is not running")
	}

	s.monitor.Stop()
	for key, att := range s.attached {
		s.teardown(att)
		delete(s.attached, key)
	}
	s.running = false

	log.Println("driver service stopped")

	return nil
}

// IsRunning reports whether the service is active.
func (s *DriverService) IsRunning() bool {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.running
}

// Suspend pauses the transfer loop of every attached device, e.g. ahead of
// a host sleep.
func (s *DriverService) Suspend() error {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()

	if !s.running {
		return fmt.Errorf("service is not running")
	}

	var firstErr error
	for _, att := range s.attached {
		if err := s.drv.Suspend(att.intf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Resume restarts the transfer loops after a host wakeup.
func (s *DriverService) Resume() error {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()

	if !s.running {
		return fmt.Errorf("service is not running")
	}

	var firstErr error
	for _, att := range s.attached {
		if err := s.drv.Resume(att.intf); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Status returns a snapshot of every attached device.
func (s *DriverService) Status() []DeviceStatus {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()

	statuses := make([]DeviceStatus, 0, len(s.attached))
	if s.drv == nil {
		return statuses
	}
	for _, att := range s.attached {
		dev := s.drv.Lookup(att.intf)
		if dev == nil {
			continue
		}
		statuses = append(statuses, DeviceStatus{
			Phys:      dev.Phys(),
			Path:      att.busDev.Path(),
			Users:     dev.Users(),
			Suspended: dev.Suspended(),
			Drops:     dev.Drops(),
		})
	}
	return statuses
}

// handleBusEvent runs on the monitor goroutine, in event order.
func (s *DriverService) handleBusEvent(ev features.BusEvent) {
	switch ev.Type {
	case features.DeviceAdded:
		s.attachDevice(ev.Device)
	case features.DeviceRemoved:
		s.detachDevice(ev.Device)
	}
}

func (s *DriverService) attachDevice(md features.MatchedDevice) {
	busDev, err := features.OpenBusDevice(md.Path)
	if err != nil {
		log.Printf("could not open %s: %v", md.Path, err)
		return
	}

	intf, err := busDev.ClaimInterface(md.Interface, s.cfg.Bus.ReadTimeout)
	if err != nil {
		log.Printf("could not claim %s interface %d: %v", md.Path, md.Interface, err)
		busDev.Unref()
		return
	}

	if err := s.drv.Attach(intf); err != nil {
		log.Printf("attach failed for %s: %v", md.Path, err)
		intf.Release()
		busDev.Unref()
		return
	}

	// The service is the one consumer of the input device; start the
	// session right away.
	if dev := s.drv.Lookup(intf); dev != nil {
		if err := dev.Open(); err != nil {
			log.Printf("could not open session for %s: %v", dev.Phys(), err)
		}
	}

	att := &attachedDevice{busDev: busDev, intf: intf}

	s.statusMutex.Lock()
	if !s.running {
		// The service stopped while this attach was in flight.
		s.statusMutex.Unlock()
		s.teardown(att)
		return
	}
	s.attached[md.Key()] = att
	s.statusMutex.Unlock()
}

func (s *DriverService) detachDevice(md features.MatchedDevice) {
	s.statusMutex.Lock()
	att := s.attached[md.Key()]
	delete(s.attached, md.Key())
	s.statusMutex.Unlock()

	if att == nil {
		return
	}
	s.teardown(att)
}

// teardown detaches the driver state and drops the service's own bus
// references. Detach forces any open session closed first.
func (s *DriverService) teardown(att *attachedDevice) {
	s.drv.Detach(att.intf)
	att.intf.Release()
	att.busDev.Unref()
}
