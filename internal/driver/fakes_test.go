package driver

import (
	"sync"
	"sync/atomic"
	"time"
)

// fakeBusDevice counts references, nothing more.
type fakeBusDevice struct {
	path string
	refs atomic.Int32
}

func (f *fakeBusDevice) Ref()         { f.refs.Add(1) }
func (f *fakeBusDevice) Unref()       { f.refs.Add(-1) }
func (f *fakeBusDevice) Path() string { return f.path }

// fakeTransfer mimics the transport's submission semantics: at most one
// outstanding read, and Cancel waits for in-flight completions fired
// through fire.
type fakeTransfer struct {
	complete CompletionFunc

	mu          sync.Mutex
	wg          sync.WaitGroup
	outstanding bool
	submits     int
	cancels     int
	submitErr   error
	closed      bool
}

func (f *fakeTransfer) Submit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits++
	f.outstanding = true
	return nil
}

func (f *fakeTransfer) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.outstanding = false
	f.mu.Unlock()

	// like the real transport: no completion can fire after Cancel returns
	f.wg.Wait()
}

func (f *fakeTransfer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fireSync invokes the completion handler inline, as if the outstanding
// read just finished.
func (f *fakeTransfer) fireSync(status TransferStatus, data []byte) {
	f.mu.Lock()
	f.outstanding = false
	f.mu.Unlock()
	f.complete(status, data)
}

// fire invokes the completion handler on its own goroutine, tracked so
// Cancel can wait for it.
func (f *fakeTransfer) fire(status TransferStatus, data []byte) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.fireSync(status, data)
	}()
}

func (f *fakeTransfer) Submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func (f *fakeTransfer) Cancels() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancels
}

func (f *fakeTransfer) setSubmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

// fakeInterface hands out one fakeTransfer and counts power transitions.
type fakeInterface struct {
	dev       *fakeBusDevice
	tr        *fakeTransfer
	powerGets atomic.Int32
	powerPuts atomic.Int32
	powerErr  error
	trErr     error
}

func (f *fakeInterface) Device() BusDevice { return f.dev }

func (f *fakeInterface) NewInterruptTransfer(ep uint8, size int, fn CompletionFunc) (Transfer, error) {
	if f.trErr != nil {
		return nil, f.trErr
	}
	f.tr = &fakeTransfer{complete: fn}
	return f.tr, nil
}

func (f *fakeInterface) PowerGet() error {
	if f.powerErr != nil {
		return f.powerErr
	}
	f.powerGets.Add(1)
	return nil
}

func (f *fakeInterface) PowerPut() { f.powerPuts.Add(1) }

type sinkEvent struct {
	code    uint16
	pressed bool
}

// fakeSink records reported key state. An optional delay stretches every
// report so teardown races have something to collide with.
type fakeSink struct {
	mu     sync.Mutex
	events []sinkEvent
	syncs  int
	closes int
	delay  time.Duration

	active            atomic.Int32
	closedWhileActive atomic.Bool
}

func (f *fakeSink) ReportKey(code uint16, pressed bool) error {
	f.active.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.events = append(f.events, sinkEvent{code: code, pressed: pressed})
	f.mu.Unlock()
	f.active.Add(-1)
	return nil
}

func (f *fakeSink) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return nil
}

func (f *fakeSink) Close() error {
	if f.active.Load() > 0 {
		f.closedWhileActive.Store(true)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSink) Events() []sinkEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sinkEvent(nil), f.events...)
}

func (f *fakeSink) Syncs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs
}

func (f *fakeSink) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// newTestDriver wires a driver to the given fake sink.
func newTestDriver(sink *fakeSink) *Driver {
	return New(func(name, phys string, keys []uint16) (KeySink, error) {
		return sink, nil
	})
}

// report builds an 8-byte interrupt report carrying the scan code.
func report(code byte) []byte {
	buf := make([]byte, BufferSize)
	buf[payloadByte] = code
	return buf
}
