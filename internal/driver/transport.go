package driver

// TransferStatus is the outcome of one finished interrupt read, as reported
// by the transport layer.
type TransferStatus int

const (
	// TransferOK means the buffer holds a fresh report.
	TransferOK TransferStatus = iota
	// TransferStalled means the endpoint halted briefly; the read is
	// considered intentionally stopped.
	TransferStalled
	// TransferCancelled means the read was cancelled explicitly.
	TransferCancelled
	// TransferShutdown means the device or bus is going away.
	TransferShutdown
	// TransferError covers every other failure; the loop self-heals by
	// resubmitting.
	TransferError
)

// CompletionFunc is invoked by the transport every time the outstanding
// read finishes. It runs on the transport's completion goroutine and must
// not block on anything heavier than a short-lived mutex.
type CompletionFunc func(status TransferStatus, data []byte)

// Transfer is one recurring asynchronous interrupt read with a fixed
// buffer. At most one read is outstanding at any time.
type Transfer interface {
	// Submit arms the next read. It fails while a read is already
	// outstanding or a cancel is in progress.
	Submit() error
	// Cancel stops the outstanding read, if any, and returns only after
	// the transport guarantees no further completion will fire.
	Cancel()
	// Close releases the transfer. The transfer must be cancelled first.
	Close() error
}

// BusDevice is a counted reference on the underlying bus device node. The
// node stays usable until the last reference is dropped.
type BusDevice interface {
	Ref()
	Unref()
	Path() string
}

// Interface is the claimed USB interface the accessory speaks through.
type Interface interface {
	// Device returns the owning bus device. The driver holds its own
	// reference on it for the lifetime of the device state.
	Device() BusDevice
	// NewInterruptTransfer allocates a recurring read of size bytes from
	// endpoint ep, delivering completions to fn.
	NewInterruptTransfer(ep uint8, size int, fn CompletionFunc) (Transfer, error)
	// PowerGet brings the bus link out of any idle or suspended state and
	// keeps it there until the matching PowerPut.
	PowerGet() error
	PowerPut()
}

// KeySink is the registered logical input device decoded key state is
// delivered to. Report errors after unregistration are expected and may be
// ignored by the caller.
type KeySink interface {
	ReportKey(code uint16, pressed bool) error
	Sync() error
	Close() error
}

// SinkFactory allocates and registers a key sink declaring the given key
// capabilities. phys is the stable physical-path identity of the device.
type SinkFactory func(name, phys string, keys []uint16) (KeySink, error)
