package features

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/device"
	"github.com/Kirill-Marinushkin/umlaut-kb/internal/event"
)

// KeyboardSink is a virtual keyboard registered with the input subsystem.
// Decoded key state is reported key by key and delivered as one batch on
// Sync.
type KeyboardSink interface {
	ReportKey(code uint16, pressed bool) error
	Sync() error
	io.Closer
}

type virtualKeyboard struct {
	name       []byte
	phys       string
	deviceFile *os.File
}

// CreateKeyboardSink registers a virtual keyboard on the uinput device at
// path, declaring exactly the given key capabilities.
func CreateKeyboardSink(path string, name []byte, phys string, keys []uint16) (KeyboardSink, error) {
	deviceFile, err := createDeviceFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not create virtual keyboard device: %v", err)
	}

	if err := ioctl(deviceFile, device.SetEvBit, uintptr(event.Key)); err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("failed to register key events: %v", err)
	}

	for _, key := range keys {
		if err := ioctl(deviceFile, device.SetKeyBit, uintptr(key)); err != nil {
			_ = deviceFile.Close()
			return nil, fmt.Errorf("failed to register key code %v: %v", key, err)
		}
	}

	userDev := device.UserDev{
		Name: toUinputName(name),
		ID: device.InputID{
			Bustype: device.BusUsb,
			Vendor:  0x16c0,
			Product: 0x27db,
			Version: 1,
		},
	}

	fd, err := createUinputDevice(deviceFile, userDev)
	if err != nil {
		_ = deviceFile.Close()
		return nil, fmt.Errorf("failed to create the input device: %v", err)
	}

	return &virtualKeyboard{name: name, phys: phys, deviceFile: fd}, nil
}

// ReportKey queues one key state change.
func (vk *virtualKeyboard) ReportKey(code uint16, pressed bool) error {
	value := int32(0)
	if pressed {
		value = 1
	}
	return writeEvents(vk.deviceFile, []event.Event{
		{Type: event.Key, Code: code, Value: value},
	})
}

// Sync flushes the queued key state as one event batch.
func (vk *virtualKeyboard) Sync() error {
	return writeEvents(vk.deviceFile, []event.Event{
		{Type: event.Syn, Code: event.SynReport, Value: 0},
	})
}

// Phys returns the physical-path identity the sink was registered with.
func (vk *virtualKeyboard) Phys() string {
	return vk.phys
}

func (vk *virtualKeyboard) Close() error {
	_ = releaseDevice(vk.deviceFile)
	return vk.deviceFile.Close()
}

func createDeviceFile(path string) (*os.File, error) {
	return os.OpenFile(path, syscall.O_WRONLY|syscall.O_NONBLOCK, 0660)
}

func releaseDevice(deviceFile *os.File) error {
	return ioctl(deviceFile, device.DevDestroy, uintptr(0))
}

func createUinputDevice(deviceFile *os.File, dev device.UserDev) (*os.File, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, dev); err != nil {
		return nil, fmt.Errorf("failed to encode the user device buffer: %v", err)
	}
	if _, err := deviceFile.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to write the device structure: %v", err)
	}

	if err := ioctl(deviceFile, device.DevCreate, uintptr(0)); err != nil {
		return nil, fmt.Errorf("failed to create the device: %v", err)
	}

	return deviceFile, nil
}

func writeEvents(deviceFile *os.File, events []event.Event) error {
	for _, ev := range events {
		buf := new(bytes.Buffer)
		if err := binary.Write(buf, binary.LittleEndian, ev); err != nil {
			return fmt.Errorf("failed to encode the event: %v", err)
		}
		if _, err := deviceFile.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("failed to write the event: %v", err)
		}
	}
	return nil
}

func toUinputName(name []byte) (uinputName [device.MaxNameSize]byte) {
	copy(uinputName[:], name)
	return uinputName
}
