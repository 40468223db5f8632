package features

import "unsafe"

// usbfs ioctl numbers (64-bit ABI)
const (
	usbdevfsControl          = 0xc0185500
	usbdevfsBulk             = 0xc0185502
	usbdevfsClaimInterface   = 0x8004550f
	usbdevfsReleaseInterface = 0x80045510
	usbdevfsIoctl            = 0xc0105512
	usbdevfsDisconnect       = 0x5516
	usbdevfsConnect          = 0x5517
)

// usbfsIoctl is struct usbdevfs_ioctl, used to hand an interface back and
// forth between the kernel driver and usbfs.
type usbfsIoctl struct {
	Interface uint32
	IoctlCode uint32
	Data      uint64
}

// usbfsBulk is struct usbdevfs_bulktransfer. usbfs services interrupt
// endpoints through the same ioctl.
type usbfsBulk struct {
	Endpoint uint32
	Len      uint32
	Timeout  uint32
	_        uint32 // padding
	Data     uint64
}

// USB descriptor types
const (
	descTypeDevice    = 0x01
	descTypeConfig    = 0x02
	descTypeInterface = 0x04
	descTypeEndpoint  = 0x05
)

type deviceDesc struct {
	Length            uint8
	DescriptorType    uint8
	USB               uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize     uint8
	Vendor            uint16
	Product           uint16
	Revision          uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialIndex       uint8
	NumConfigurations uint8
}

type interfaceDesc struct {
	Length            uint8
	DescriptorType    uint8
	Number            uint8
	AltSetting        uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

type endpointDesc struct {
	Length         uint8
	DescriptorType uint8
	Address        uint8
	Attributes     uint8
	MaxPacketSize  uint16
	Interval       uint8
}

func slicePtr(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}
