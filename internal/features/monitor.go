package features

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MatchedDevice describes an interface on the bus accepted by the match
// function.
type MatchedDevice struct {
	Path       string // usbfs node, e.g. /dev/bus/usb/001/004
	Interface  uint8
	Class      uint8
	SubClass   uint8
	Protocol   uint8
	EndpointIn uint8
}

// Key identifies the matched interface across rescans.
func (d MatchedDevice) Key() string {
	return fmt.Sprintf("%s#%d", d.Path, d.Interface)
}

// BusEventType is the kind of a bus change event.
type BusEventType int

const (
	DeviceAdded BusEventType = iota
	DeviceRemoved
)

// BusEvent is one attach or detach observed on the bus.
type BusEvent struct {
	Type   BusEventType
	Device MatchedDevice
}

// BusCallback is invoked for every bus event. Callbacks run on the
// monitor's goroutine, in event order.
type BusCallback func(event BusEvent)

// MatchFunc decides whether an interface triple belongs to the driver.
type MatchFunc func(class, subClass, protocol uint8) bool

// BusMonitor watches the usbfs tree for device attach and detach. It
// combines fsnotify events with a polling fallback, since some hosts do not
// deliver notifications for the usbfs special files.
type BusMonitor struct {
	root  string
	match MatchFunc

	watcher       *fsnotify.Watcher
	callbacks     []BusCallback
	devices       map[string]MatchedDevice
	mutex         sync.RWMutex
	stopChan      chan struct{}
	pollingTicker *time.Ticker
	isRunning     bool
}

// NewBusMonitor creates a monitor over the usbfs tree rooted at root.
func NewBusMonitor(root string, match MatchFunc) (*BusMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &BusMonitor{
		root:    root,
		match:   match,
		watcher: watcher,
		devices: make(map[string]MatchedDevice),
	}, nil
}

// RegisterCallback adds a callback for bus events. Must be called before
// Start.
func (bm *BusMonitor) RegisterCallback(callback BusCallback) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()
	bm.callbacks = append(bm.callbacks, callback)
}

// Start begins watching the bus. The initial scan reports every already
// attached matching device as added.
func (bm *BusMonitor) Start(pollInterval time.Duration) error {
	if bm.isRunning {
		return nil
	}
	bm.isRunning = true
	bm.stopChan = make(chan struct{})

	if err := bm.watcher.Add(bm.root); err != nil {
		log.Printf("could not watch %s: %v", bm.root, err)
	}
	if entries, err := os.ReadDir(bm.root); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(bm.root, entry.Name())
			if err := bm.watcher.Add(dir); err != nil {
				log.Printf("could not watch %s: %v", dir, err)
			}
		}
	}

	bm.rescan()

	bm.pollingTicker = time.NewTicker(pollInterval)
	go bm.watchEvents()

	return nil
}

// Stop halts the monitor. Already attached devices are not reported as
// removed.
func (bm *BusMonitor) Stop() {
	if !bm.isRunning {
		return
	}
	bm.isRunning = false

	close(bm.stopChan)
	bm.pollingTicker.Stop()
	_ = bm.watcher.Close()
}

// watchEvents merges fsnotify events and the polling ticker into debounced
// rescans of the bus tree.
func (bm *BusMonitor) watchEvents() {
	const debounce = 500 * time.Millisecond
	eventTimer := time.NewTimer(debounce)
	eventTimer.Stop()
	pendingRescan := false

	for {
		select {
		case <-bm.stopChan:
			return

		case <-eventTimer.C:
			if pendingRescan {
				pendingRescan = false
				bm.rescan()
			}

		case <-bm.pollingTicker.C:
			bm.rescan()

		case fsEvent, ok := <-bm.watcher.Events:
			if !ok {
				return
			}
			if fsEvent.Op&(fsnotify.Create|fsnotify.Remove) != 0 {
				if fsEvent.Op&fsnotify.Create != 0 {
					// A new bus directory must be watched too.
					if fi, err := os.Stat(fsEvent.Name); err == nil && fi.IsDir() {
						_ = bm.watcher.Add(fsEvent.Name)
					}
				}
				if !pendingRescan {
					pendingRescan = true
					eventTimer.Reset(debounce)
				}
			}

		case err, ok := <-bm.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("bus watch error: %v", err)
		}
	}
}

// rescan walks the usbfs tree and reconciles the device map, firing
// callbacks for every difference.
func (bm *BusMonitor) rescan() {
	found := make(map[string]MatchedDevice)

	_ = filepath.Walk(bm.root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return nil
		}
		desc, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for _, dev := range parseDescriptors(desc, path, bm.match) {
			found[dev.Key()] = dev
		}
		return nil
	})

	var changes []BusEvent

	bm.mutex.Lock()
	for key, dev := range found {
		if _, exists := bm.devices[key]; !exists {
			bm.devices[key] = dev
			changes = append(changes, BusEvent{Type: DeviceAdded, Device: dev})
		}
	}
	for key, dev := range bm.devices {
		if _, exists := found[key]; !exists {
			delete(bm.devices, key)
			changes = append(changes, BusEvent{Type: DeviceRemoved, Device: dev})
		}
	}
	callbacks := append([]BusCallback(nil), bm.callbacks...)
	bm.mutex.Unlock()

	for _, ev := range changes {
		if ev.Type == DeviceAdded {
			log.Printf("bus device matched: %s interface %d", ev.Device.Path, ev.Device.Interface)
		} else {
			log.Printf("bus device gone: %s interface %d", ev.Device.Path, ev.Device.Interface)
		}
		for _, cb := range callbacks {
			cb(ev)
		}
	}
}

// Devices returns a snapshot of the currently matched devices.
func (bm *BusMonitor) Devices() []MatchedDevice {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	devices := make([]MatchedDevice, 0, len(bm.devices))
	for _, dev := range bm.devices {
		devices = append(devices, dev)
	}
	return devices
}

// parseDescriptors walks the raw descriptor blob of one usbfs node and
// returns the interfaces the match function accepts, each with its first
// interrupt IN endpoint.
func parseDescriptors(desc []byte, path string, match MatchFunc) []MatchedDevice {
	var matched []MatchedDevice
	var pending *MatchedDevice

	r := bytes.NewBuffer(desc)
	for r.Len() >= 2 {
		length := int(r.Bytes()[0])
		descType := r.Bytes()[1]
		if length < 2 || length > r.Len() {
			break
		}
		body := make([]byte, length)
		_, _ = r.Read(body)

		switch descType {
		case descTypeInterface:
			pending = nil
			i := &interfaceDesc{}
			if err := cast(body, i); err != nil {
				continue
			}
			if match(i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol) {
				pending = &MatchedDevice{
					Path:      path,
					Interface: i.Number,
					Class:     i.InterfaceClass,
					SubClass:  i.InterfaceSubClass,
					Protocol:  i.InterfaceProtocol,
				}
			}
		case descTypeEndpoint:
			if pending == nil {
				continue
			}
			e := &endpointDesc{}
			if err := cast(body, e); err != nil {
				continue
			}
			if e.Address&0x80 != 0 {
				pending.EndpointIn = e.Address
				matched = append(matched, *pending)
				pending = nil
			}
		}
	}

	return matched
}

func cast(b []byte, to interface{}) error {
	// Descriptor structs are packed, so the binary layout matches 1:1.
	r := bytes.NewBuffer(b)
	return binary.Read(r, binary.LittleEndian, to)
}
