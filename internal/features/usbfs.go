package features

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/driver"
)

// Transfer state errors.
var (
	ErrTransferBusy   = errors.New("transfer already submitted")
	ErrTransferClosed = errors.New("transfer closed")
	ErrTransferReject = errors.New("transfer is being cancelled")
)

// BusDevice is an open usbfs device node, shared through a reference count.
// The node is closed when the last reference is dropped.
type BusDevice struct {
	path string
	file *os.File
	refs atomic.Int32
}

// OpenBusDevice opens the usbfs node at path with one reference held by the
// caller.
func OpenBusDevice(path string) (*BusDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open bus device %s: %v", path, err)
	}
	d := &BusDevice{path: path, file: f}
	d.refs.Store(1)
	return d, nil
}

// Ref takes an additional reference on the node.
func (d *BusDevice) Ref() { d.refs.Add(1) }

// Unref drops one reference and closes the node when none remain.
func (d *BusDevice) Unref() {
	if d.refs.Add(-1) == 0 {
		_ = d.file.Close()
	}
}

// Path returns the usbfs node path, e.g. /dev/bus/usb/001/004.
func (d *BusDevice) Path() string { return d.path }

// ClaimedInterface is a USB interface claimed through usbfs. It implements
// the transport contract the driver core consumes.
type ClaimedInterface struct {
	dev         *BusDevice
	number      uint8
	readTimeout time.Duration
	powerPath   string // sysfs power/control file, empty if not found
}

// ClaimInterface detaches any kernel driver from the interface and claims
// it for this process. readTimeout bounds each slice of the blocking
// interrupt read, and with it the cancellation latency.
func (d *BusDevice) ClaimInterface(number uint8, readTimeout time.Duration) (*ClaimedInterface, error) {
	handoff := usbfsIoctl{
		Interface: uint32(number),
		IoctlCode: usbdevfsDisconnect,
	}
	if _, err := ioctlPtr(d.file, usbdevfsIoctl, unsafe.Pointer(&handoff)); err != nil {
		// Typically there was no kernel driver bound to begin with.
		log.Printf("driver disconnect on %s failed: %v", d.path, err)
	}

	ifno := uint32(number)
	if _, err := ioctlPtr(d.file, usbdevfsClaimInterface, unsafe.Pointer(&ifno)); err != nil {
		return nil, fmt.Errorf("could not claim interface %d on %s: %v", number, d.path, err)
	}

	ci := &ClaimedInterface{dev: d, number: number, readTimeout: readTimeout}
	ci.powerPath = sysfsPowerControl(d.path)
	if ci.powerPath == "" {
		log.Printf("no sysfs power control for %s, autosuspend hints disabled", d.path)
	}
	return ci, nil
}

// Release gives the interface back to the kernel.
func (ci *ClaimedInterface) Release() {
	ifno := uint32(ci.number)
	if _, err := ioctlPtr(ci.dev.file, usbdevfsReleaseInterface, unsafe.Pointer(&ifno)); err != nil {
		log.Printf("could not release interface %d on %s: %v", ci.number, ci.dev.path, err)
	}

	handoff := usbfsIoctl{
		Interface: uint32(ci.number),
		IoctlCode: usbdevfsConnect,
	}
	if _, err := ioctlPtr(ci.dev.file, usbdevfsIoctl, unsafe.Pointer(&handoff)); err != nil {
		log.Printf("driver reconnect on %s failed: %v", ci.dev.path, err)
	}
}

// Device returns the owning bus device.
func (ci *ClaimedInterface) Device() driver.BusDevice { return ci.dev }

// PowerGet keeps the link out of autosuspend by forcing the sysfs power
// control to "on".
func (ci *ClaimedInterface) PowerGet() error {
	if ci.powerPath == "" {
		return nil
	}
	return os.WriteFile(ci.powerPath, []byte("on"), 0644)
}

// PowerPut re-enables autosuspend.
func (ci *ClaimedInterface) PowerPut() {
	if ci.powerPath == "" {
		return
	}
	if err := os.WriteFile(ci.powerPath, []byte("auto"), 0644); err != nil {
		log.Printf("could not re-enable autosuspend for %s: %v", ci.dev.path, err)
	}
}

// bulkRead performs one blocking transfer on an interrupt endpoint. usbfs
// services interrupt endpoints through the bulk ioctl.
func (ci *ClaimedInterface) bulkRead(ep uint8, buf []byte, timeout time.Duration) (int, error) {
	req := usbfsBulk{
		Endpoint: uint32(ep),
		Len:      uint32(len(buf)),
		Timeout:  uint32(timeout / time.Millisecond),
		Data:     slicePtr(buf),
	}
	return ioctlPtr(ci.dev.file, usbdevfsBulk, unsafe.Pointer(&req))
}

// NewInterruptTransfer allocates a recurring interrupt read on ep with a
// fixed buffer of size bytes. Completions are delivered on a goroutine
// dedicated to the outstanding read.
func (ci *ClaimedInterface) NewInterruptTransfer(ep uint8, size int, fn driver.CompletionFunc) (driver.Transfer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid transfer size %d", size)
	}
	return &interruptTransfer{
		ci:       ci,
		endpoint: ep,
		buf:      make([]byte, size),
		complete: fn,
	}, nil
}

// submission is the state of one armed read. stop is closed at most once
// through once; done is closed after the completion callback has returned.
type submission struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

type interruptTransfer struct {
	ci       *ClaimedInterface
	endpoint uint8
	buf      []byte
	complete driver.CompletionFunc

	mu      sync.Mutex
	cur     *submission
	running bool
	reject  int // >0 while a cancel is in progress, submissions are refused
	closed  bool
}

// Submit arms one read. The completion handler resubmits from its own
// goroutine, which is why at most one read may ever be outstanding.
func (t *interruptTransfer) Submit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransferClosed
	}
	if t.reject > 0 {
		return ErrTransferReject
	}
	if t.running {
		return ErrTransferBusy
	}

	s := &submission{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.cur = s
	t.running = true
	go t.readLoop(s)

	return nil
}

// Cancel stops the outstanding read and waits for its completion callback
// to return. While the wait is in progress new submissions are refused, so
// a concurrent self-resubmission from the handler cannot slip through.
func (t *interruptTransfer) Cancel() {
	t.mu.Lock()
	t.reject++
	s := t.cur
	t.mu.Unlock()

	if s != nil {
		s.once.Do(func() { close(s.stop) })
		<-s.done
	}

	t.mu.Lock()
	t.reject--
	t.mu.Unlock()
}

// Close releases the transfer after a final cancel.
func (t *interruptTransfer) Close() error {
	t.Cancel()
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

func (t *interruptTransfer) readLoop(s *submission) {
	status, n := t.performRead(s)

	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	t.complete(status, t.buf[:n])
	close(s.done)
}

// performRead blocks until data arrives, the read is stopped, or the
// endpoint fails. The blocking ioctl is sliced by the read timeout so a
// stop request is noticed promptly.
func (t *interruptTransfer) performRead(s *submission) (driver.TransferStatus, int) {
	for {
		select {
		case <-s.stop:
			return driver.TransferCancelled, 0
		default:
		}

		n, err := t.ci.bulkRead(t.endpoint, t.buf, t.ci.readTimeout)
		if err == nil {
			return driver.TransferOK, n
		}

		switch {
		case errors.Is(err, unix.ETIMEDOUT):
			// No report within this slice; keep waiting.
		case errors.Is(err, unix.EPIPE):
			return driver.TransferStalled, 0
		case errors.Is(err, unix.ECONNRESET):
			return driver.TransferCancelled, 0
		case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENOENT), errors.Is(err, unix.ESHUTDOWN):
			return driver.TransferShutdown, 0
		default:
			return driver.TransferError, 0
		}
	}
}

// sysfsPowerControl resolves the power/control file of the device behind a
// usbfs node by matching bus and device numbers under /sys/bus/usb/devices.
func sysfsPowerControl(busPath string) string {
	parts := strings.Split(busPath, string(filepath.Separator))
	if len(parts) < 2 {
		return ""
	}
	busnum := strings.TrimLeft(parts[len(parts)-2], "0")
	devnum := strings.TrimLeft(parts[len(parts)-1], "0")
	if busnum == "" || devnum == "" {
		return ""
	}

	entries, err := os.ReadDir("/sys/bus/usb/devices")
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		dir := filepath.Join("/sys/bus/usb/devices", entry.Name())
		b, err := os.ReadFile(filepath.Join(dir, "busnum"))
		if err != nil {
			continue
		}
		d, err := os.ReadFile(filepath.Join(dir, "devnum"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(b)) == busnum && strings.TrimSpace(string(d)) == devnum {
			return filepath.Join(dir, "power", "control")
		}
	}
	return ""
}
