package vm

import "github.com/latortuga71/CoffeePot/internal/mmu"

// Standard (32-bit) RV64IMAC decode and execute. Every instruction body
// that changes control flow stores pc-4 into e.CPU.PC; the uniform +4
// advance in Step lands the program counter on the intended target. Every
// instruction body that does not branch leaves PC untouched for the same
// reason.

const instrLenStandard = 4

func (e *Emulator) executeStandard(instr uint32) error {
	opcode := instr & 0x7f
	rd := (instr >> 7) & 0x1f
	funct3 := (instr >> 12) & 0x7
	rs1 := (instr >> 15) & 0x1f
	rs2 := (instr >> 20) & 0x1f
	funct7 := (instr >> 25) & 0x7f

	switch opcode {
	case 0x37: // LUI
		e.CPU.SetReg(rd, uint64(int64(int32(instr&0xfffff000))))
		return nil

	case 0x17: // AUIPC
		e.CPU.SetReg(rd, e.CPU.PC+uint64(int64(int32(instr&0xfffff000))))
		return nil

	case 0x6f: // JAL
		imm := decodeJImm(instr)
		ret := e.CPU.PC + 4
		target := uint64(int64(e.CPU.PC) + imm)
		if target%2 != 0 {
			return &mmu.GuestFault{Kind: mmu.FaultMisaligned, Addr: target}
		}
		e.CPU.SetReg(rd, ret)
		e.recordEdge(e.CPU.PC, target, true)
		e.CPU.PC = target - instrLenStandard
		return nil

	case 0x67: // JALR
		imm := signExtend(uint64(instr>>20), 12)
		target := (e.CPU.GetReg(rs1) + uint64(imm)) &^ 1
		ret := e.CPU.PC + 4
		if target%2 != 0 {
			return &mmu.GuestFault{Kind: mmu.FaultMisaligned, Addr: target}
		}
		e.CPU.SetReg(rd, ret)
		e.recordEdge(e.CPU.PC, target, true)
		e.CPU.PC = target - instrLenStandard
		return nil

	case 0x63: // BRANCH
		imm := decodeBImm(instr)
		taken := false
		a, b := e.CPU.GetReg(rs1), e.CPU.GetReg(rs2)
		switch funct3 {
		case 0x0: // beq
			taken = a == b
		case 0x1: // bne
			taken = a != b
		case 0x4: // blt (signed, full 64-bit)
			taken = int64(a) < int64(b)
		case 0x5: // bge (signed, full 64-bit)
			taken = int64(a) >= int64(b)
		case 0x6: // bltu
			taken = a < b
		case 0x7: // bgeu
			taken = a >= b
		default:
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}
		fallthroughPC := e.CPU.PC + instrLenStandard
		if taken {
			target := uint64(int64(e.CPU.PC) + imm)
			if target%2 != 0 {
				return &mmu.GuestFault{Kind: mmu.FaultMisaligned, Addr: target}
			}
			e.recordEdge(e.CPU.PC, target, true)
			e.recordEdge(e.CPU.PC, fallthroughPC, false)
			e.CPU.PC = target - instrLenStandard
		} else {
			e.recordEdge(e.CPU.PC, fallthroughPC, false)
		}
		return nil

	case 0x03: // LOAD
		imm := signExtend(uint64(instr>>20), 12)
		addr := e.CPU.GetReg(rs1) + uint64(imm)
		switch funct3 {
		case 0x0: // lb
			v, err := e.MMU.ReadU8(addr)
			if err != nil {
				return err
			}
			e.CPU.SetReg(rd, uint64(int64(int8(v))))
		case 0x1: // lh
			v, err := e.MMU.ReadU16(addr)
			if err != nil {
				return err
			}
			e.CPU.SetReg(rd, uint64(int64(int16(v))))
		case 0x2: // lw
			v, err := e.MMU.ReadU32(addr)
			if err != nil {
				return err
			}
			e.CPU.SetReg(rd, uint64(int64(int32(v))))
		case 0x3: // ld
			v, err := e.MMU.ReadU64(addr)
			if err != nil {
				return err
			}
			e.CPU.SetReg(rd, v)
		case 0x4: // lbu
			v, err := e.MMU.ReadU8(addr)
			if err != nil {
				return err
			}
			e.CPU.SetReg(rd, uint64(v))
		case 0x5: // lhu
			v, err := e.MMU.ReadU16(addr)
			if err != nil {
				return err
			}
			e.CPU.SetReg(rd, uint64(v))
		case 0x6: // lwu
			v, err := e.MMU.ReadU32(addr)
			if err != nil {
				return err
			}
			e.CPU.SetReg(rd, uint64(v))
		default:
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}
		return nil

	case 0x23: // STORE
		imm := decodeSImm(instr)
		addr := e.CPU.GetReg(rs1) + uint64(imm)
		v := e.CPU.GetReg(rs2)
		switch funct3 {
		case 0x0:
			return e.MMU.WriteU8(addr, uint8(v))
		case 0x1:
			return e.MMU.WriteU16(addr, uint16(v))
		case 0x2:
			return e.MMU.WriteU32(addr, uint32(v))
		case 0x3:
			return e.MMU.WriteU64(addr, v)
		default:
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}

	case 0x13: // OP-IMM
		imm := signExtend(uint64(instr>>20), 12)
		a := e.CPU.GetReg(rs1)
		switch funct3 {
		case 0x0: // addi
			e.CPU.SetReg(rd, a+uint64(imm))
		case 0x2: // slti
			e.CPU.SetReg(rd, boolToReg(int64(a) < imm))
		case 0x3: // sltiu
			e.CPU.SetReg(rd, boolToReg(a < uint64(imm)))
		case 0x4: // xori
			e.CPU.SetReg(rd, a^uint64(imm))
		case 0x6: // ori
			e.CPU.SetReg(rd, a|uint64(imm))
		case 0x7: // andi
			e.CPU.SetReg(rd, a&uint64(imm))
		case 0x1: // slli
			shamt := (instr >> 20) & 0x3f
			e.CPU.SetReg(rd, a<<shamt)
		case 0x5: // srli/srai
			shamt := (instr >> 20) & 0x3f
			if funct7&0x20 != 0 {
				e.CPU.SetReg(rd, uint64(int64(a)>>shamt))
			} else {
				e.CPU.SetReg(rd, a>>shamt)
			}
		default:
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}
		return nil

	case 0x1b: // OP-IMM-32
		imm := signExtend(uint64(instr>>20), 12)
		a := uint32(e.CPU.GetReg(rs1))
		switch funct3 {
		case 0x0: // addiw
			e.CPU.SetReg(rd, uint64(int64(int32(a+uint32(imm)))))
		case 0x1: // slliw
			shamt := (instr >> 20) & 0x1f
			e.CPU.SetReg(rd, uint64(int64(int32(a<<shamt))))
		case 0x5: // srliw/sraiw
			shamt := (instr >> 20) & 0x1f
			if funct7&0x20 != 0 {
				e.CPU.SetReg(rd, uint64(int64(int32(a)>>shamt)))
			} else {
				e.CPU.SetReg(rd, uint64(int64(int32(a>>shamt))))
			}
		default:
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}
		return nil

	case 0x33: // OP
		a, b := e.CPU.GetReg(rs1), e.CPU.GetReg(rs2)
		if funct7 == 0x01 { // M extension
			switch funct3 {
			case 0x0: // mul
				e.CPU.SetReg(rd, a*b)
				return nil
			default:
				return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
			}
		}
		switch funct3 {
		case 0x0:
			if funct7&0x20 != 0 {
				e.CPU.SetReg(rd, a-b) // sub
			} else {
				e.CPU.SetReg(rd, a+b) // add
			}
		case 0x1: // sll
			e.CPU.SetReg(rd, a<<(b&0x3f))
		case 0x2: // slt
			e.CPU.SetReg(rd, boolToReg(int64(a) < int64(b)))
		case 0x3: // sltu
			e.CPU.SetReg(rd, boolToReg(a < b))
		case 0x4: // xor
			e.CPU.SetReg(rd, a^b)
		case 0x5:
			if funct7&0x20 != 0 {
				e.CPU.SetReg(rd, uint64(int64(a)>>(b&0x3f))) // sra
			} else {
				e.CPU.SetReg(rd, a>>(b&0x3f)) // srl
			}
		case 0x6: // or
			e.CPU.SetReg(rd, a|b)
		case 0x7: // and
			e.CPU.SetReg(rd, a&b)
		default:
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}
		return nil

	case 0x3b: // OP-32
		a, b := uint32(e.CPU.GetReg(rs1)), uint32(e.CPU.GetReg(rs2))
		if funct7 == 0x01 {
			switch funct3 {
			case 0x0: // mulw
				e.CPU.SetReg(rd, uint64(int64(int32(a*b))))
				return nil
			default:
				return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
			}
		}
		switch funct3 {
		case 0x0:
			if funct7&0x20 != 0 {
				e.CPU.SetReg(rd, uint64(int64(int32(a-b)))) // subw
			} else {
				e.CPU.SetReg(rd, uint64(int64(int32(a+b)))) // addw
			}
		case 0x1: // sllw
			e.CPU.SetReg(rd, uint64(int64(int32(a<<(b&0x1f)))))
		case 0x5:
			if funct7&0x20 != 0 {
				e.CPU.SetReg(rd, uint64(int64(int32(a)>>(b&0x1f)))) // sraw
			} else {
				e.CPU.SetReg(rd, uint64(int64(int32(a>>(b&0x1f))))) // srlw
			}
		default:
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}
		return nil

	case 0x73: // SYSTEM
		if funct3 != 0 {
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}
		switch instr >> 20 {
		case 0: // ecall
			return e.syscall()
		case 1: // ebreak
			return &EbreakError{PC: e.CPU.PC}
		default:
			return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
		}

	case 0x2f: // AMO: single-threaded guest, only lr/sc/amoadd/amoswap (.w and .d) honoured
		return e.executeAtomic(instr, rd, rs1, rs2, funct3)

	default:
		return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
	}
}

// executeAtomic emulates the handful of AMO forms worth supporting
// non-atomically: a single-threaded guest never observes the difference.
func (e *Emulator) executeAtomic(instr uint32, rd, rs1, rs2, funct3 uint32) error {
	if funct3 != 0x2 && funct3 != 0x3 { // only .w / .d widths
		return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
	}
	funct5 := (instr >> 27) & 0x1f
	addr := e.CPU.GetReg(rs1)
	width64 := funct3 == 0x3
	load := func() (uint64, error) {
		if width64 {
			return e.MMU.ReadU64(addr)
		}
		v, err := e.MMU.ReadU32(addr)
		return uint64(int64(int32(v))), err
	}
	store := func(v uint64) error {
		if width64 {
			return e.MMU.WriteU64(addr, v)
		}
		return e.MMU.WriteU32(addr, uint32(v))
	}
	switch funct5 {
	case 0x02: // lr
		v, err := load()
		if err != nil {
			return err
		}
		e.CPU.SetReg(rd, v)
	case 0x03: // sc: always succeeds (single guest thread)
		if err := store(e.CPU.GetReg(rs2)); err != nil {
			return err
		}
		e.CPU.SetReg(rd, 0)
	case 0x00: // amoadd
		old, err := load()
		if err != nil {
			return err
		}
		if err := store(old + e.CPU.GetReg(rs2)); err != nil {
			return err
		}
		e.CPU.SetReg(rd, old)
	case 0x01: // amoswap
		old, err := load()
		if err != nil {
			return err
		}
		if err := store(e.CPU.GetReg(rs2)); err != nil {
			return err
		}
		e.CPU.SetReg(rd, old)
	default:
		return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
	}
	return nil
}

func boolToReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func decodeJImm(instr uint32) int64 {
	imm20 := (instr >> 31) & 0x1
	imm19_12 := (instr >> 12) & 0xff
	imm11 := (instr >> 20) & 0x1
	imm10_1 := (instr >> 21) & 0x3ff
	raw := (imm20 << 20) | (imm19_12 << 12) | (imm11 << 11) | (imm10_1 << 1)
	return signExtend(uint64(raw), 21)
}

func decodeBImm(instr uint32) int64 {
	imm12 := (instr >> 31) & 0x1
	imm10_5 := (instr >> 25) & 0x3f
	imm4_1 := (instr >> 8) & 0xf
	imm11 := (instr >> 7) & 0x1
	raw := (imm12 << 12) | (imm11 << 11) | (imm10_5 << 5) | (imm4_1 << 1)
	return signExtend(uint64(raw), 13)
}

func decodeSImm(instr uint32) int64 {
	imm11_5 := (instr >> 25) & 0x7f
	imm4_0 := (instr >> 7) & 0x1f
	raw := (imm11_5 << 5) | imm4_0
	return signExtend(uint64(raw), 12)
}
