package features

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl issues an ioctl with an integer argument.
func ioctl(f *os.File, code uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), code, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// ioctlPtr issues an ioctl whose argument is a pointer to a structure. The
// return value is the syscall result, which usbfs uses for transfer lengths.
func ioctlPtr(f *os.File, code uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), code, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}
