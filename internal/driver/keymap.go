package driver

import "github.com/Kirill-Marinushkin/umlaut-kb/internal/event"

// Fixed protocol constants of the accessory.
const (
	// EndpointIn is the interrupt IN endpoint the scan codes arrive on.
	EndpointIn = 0x81
	// BufferSize is the fixed size of one interrupt report.
	BufferSize = 8

	// payloadByte is the offset of the scan code inside the report.
	payloadByte = 2
	// scanBase is the value of the first recognized scan code.
	scanBase = 0x1E
)

// keycodes maps scan codes, relative to scanBase, to the keys that carry
// the corresponding symbols on the English International layout.
var keycodes = [4]uint16{
	event.KeyQ, // a umlaut
	event.KeyP, // o umlaut
	event.KeyY, // u umlaut
	event.KeyS, // eszett
}

type keyAction int

const (
	actionNone keyAction = iota
	actionPress
	actionReleaseAll
)

// decodeScan classifies one raw scan code. A code inside the recognized
// window yields the mapped key, exactly zero means all keys went up, and
// everything else is dropped without an event.
func decodeScan(b byte) (keyAction, uint16) {
	if b >= scanBase && b < scanBase+byte(len(keycodes)) {
		return actionPress, keycodes[b-scanBase]
	}
	if b == 0 {
		return actionReleaseAll, 0
	}
	return actionNone, 0
}

// Capabilities lists the key codes the input sink has to declare: the
// modifier plus the four mapped keys.
func Capabilities() []uint16 {
	caps := []uint16{event.KeyRightAlt}
	return append(caps, keycodes[:]...)
}
