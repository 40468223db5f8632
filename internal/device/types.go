package device

// uinput device constants (from uinput.h)
const (
	MaxNameSize = 80         // maximum device name length
	DevCreate   = 0x5501     // UI_DEV_CREATE
	DevDestroy  = 0x5502     // UI_DEV_DESTROY
	SetEvBit    = 0x40045564 // UI_SET_EVBIT
	SetKeyBit   = 0x40045565 // UI_SET_KEYBIT
	BusUsb      = 0x03       // BUS_USB
)

// AbsSize is the size of the absolute axis arrays in uinput_user_dev.
const AbsSize = 64

// InputID identifies a device to the input subsystem.
type InputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// UserDev is the uinput_user_dev structure written to the uinput file
// descriptor before UI_DEV_CREATE.
type UserDev struct {
	Name       [MaxNameSize]byte
	ID         InputID
	EffectsMax uint32
	Absmax     [AbsSize]int32
	Absmin     [AbsSize]int32
	Absfuzz    [AbsSize]int32
	Absflat    [AbsSize]int32
}
