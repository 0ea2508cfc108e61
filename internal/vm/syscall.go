package vm

import "os"

const (
	sysWritev        = 0x42
	sysIoctl         = 0x1d
	sysSetTidAddress = 0x60
	sysExit          = 0x5e
)

// pseudoPID is returned by set_tid_address; the guest only needs a stable,
// nonzero value, never a real process identity.
const pseudoPID = 1000

// syscall implements the minimal Linux-style ABI reachable through ecall:
// syscall number in a7 (x17), arguments a0..a5 (x10..x15), result in a0.
func (e *Emulator) syscall() error {
	num := e.CPU.GetReg(17)
	a0 := e.CPU.GetReg(10)
	a1 := e.CPU.GetReg(11)
	a2 := e.CPU.GetReg(12)

	switch num {
	case sysWritev:
		n, err := e.doWritev(a0, a1, a2)
		if err != nil {
			return err
		}
		e.CPU.SetReg(10, n)
		return nil

	case sysIoctl:
		e.CPU.SetReg(10, 0)
		return nil

	case sysSetTidAddress:
		e.CPU.SetReg(10, pseudoPID)
		return nil

	case sysExit:
		return &ExitError{Code: int64(a0)}

	default:
		return &UnsupportedSyscallError{Num: num, PC: e.CPU.PC}
	}
}

// iovec mirrors struct iovec { void *iov_base; size_t iov_len; } as laid
// out in guest memory: two 8-byte little-endian fields.
func (e *Emulator) doWritev(fd, iovAddr, iovcnt uint64) (uint64, error) {
	var total uint64
	for i := uint64(0); i < iovcnt; i++ {
		entry := iovAddr + i*16
		base, err := e.MMU.ReadU64(entry)
		if err != nil {
			return 0, err
		}
		length, err := e.MMU.ReadU64(entry + 8)
		if err != nil {
			return 0, err
		}
		buf := make([]byte, length)
		for j := uint64(0); j < length; j++ {
			b, err := e.MMU.ReadU8(base + j)
			if err != nil {
				return 0, err
			}
			buf[j] = b
		}
		if fd == 1 {
			os.Stdout.Write(buf)
		}
		total += length
	}
	return total, nil
}
