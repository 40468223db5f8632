package event

import "syscall"

// Event type constants (from input-event-codes.h)
const (
	Syn = 0x00 // synchronization event
	Key = 0x01 // key state change

	SynReport = 0 // end of one event batch
)

// Key codes reported by the driver (from input-event-codes.h). The four
// mapped keys carry the umlaut symbols on the English International layout.
const (
	KeyQ        = 16  // a umlaut
	KeyY        = 21  // u umlaut
	KeyP        = 25  // o umlaut
	KeyS        = 31  // eszett
	KeyRightAlt = 100 // AltGr, chorded with every mapped key
)

// Event is a single input event in the format consumed by uinput.
type Event struct {
	Time  syscall.Timeval // time the event was generated
	Type  uint16          // event type
	Code  uint16          // event code
	Value int32           // event value
}
