package vm

import "github.com/latortuga71/CoffeePot/internal/mmu"

// Compressed (16-bit) RVC decode and execute, covering the RV64GC subset
// named in the core instruction set. Compressed register fields name only
// x8-x15 via the 3-bit rd'/rs1'/rs2' encodings; regFromC undoes that bias.

const instrLenCompressed = 2

func regFromC(bits uint32) uint32 { return bits + 8 }

func (e *Emulator) executeCompressed(instr uint32) error {
	ci := uint16(instr)
	quadrant := ci & 0x3
	funct3 := (ci >> 13) & 0x7

	switch quadrant {
	case 0x0:
		return e.executeC0(ci, funct3)
	case 0x1:
		return e.executeC1(ci, funct3)
	case 0x2:
		return e.executeC2(ci, funct3)
	default:
		return &UnsupportedInstructionError{Raw: uint64(instr), PC: e.CPU.PC}
	}
}

func (e *Emulator) executeC0(ci uint16, funct3 uint16) error {
	rdp := regFromC(uint32(ci>>2) & 0x7)
	rs1p := regFromC(uint32(ci>>7) & 0x7)
	switch funct3 {
	case 0x0: // c.addi4spn
		imm := ((uint32(ci>>7)&0xf)<<6 | (uint32(ci>>11)&0x3)<<4 | (uint32(ci>>5)&0x1)<<3 | (uint32(ci>>6)&0x1)<<2)
		if imm == 0 {
			return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
		}
		e.CPU.SetReg(rdp, e.CPU.GetReg(2)+uint64(imm))
		return nil
	case 0x2: // c.lw
		off := cLSWOffset(ci)
		v, err := e.MMU.ReadU32(e.CPU.GetReg(rs1p) + off)
		if err != nil {
			return err
		}
		e.CPU.SetReg(rdp, uint64(int64(int32(v))))
		return nil
	case 0x3: // c.ld
		off := cLDOffset(ci)
		v, err := e.MMU.ReadU64(e.CPU.GetReg(rs1p) + off)
		if err != nil {
			return err
		}
		e.CPU.SetReg(rdp, v)
		return nil
	case 0x6: // c.sw
		off := cLSWOffset(ci)
		rs2p := regFromC(uint32(ci>>2) & 0x7)
		return e.MMU.WriteU32(e.CPU.GetReg(rs1p)+off, uint32(e.CPU.GetReg(rs2p)))
	case 0x7: // c.sd
		off := cLDOffset(ci)
		rs2p := regFromC(uint32(ci>>2) & 0x7)
		return e.MMU.WriteU64(e.CPU.GetReg(rs1p)+off, e.CPU.GetReg(rs2p))
	default:
		return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
	}
}

func cLSWOffset(ci uint16) uint64 {
	return uint64((uint32(ci>>10)&0x7)<<3 | (uint32(ci>>6)&0x1)<<2 | (uint32(ci>>5)&0x1)<<6)
}

func cLDOffset(ci uint16) uint64 {
	return uint64((uint32(ci>>10)&0x7)<<3 | (uint32(ci>>5)&0x3)<<6)
}

func (e *Emulator) executeC1(ci uint16, funct3 uint16) error {
	rd := uint32(ci>>7) & 0x1f
	switch funct3 {
	case 0x0: // c.addi (rd==0 is c.nop)
		imm := signExtend(uint64(cCIImm(ci)), 6)
		e.CPU.SetReg(rd, e.CPU.GetReg(rd)+uint64(imm))
		return nil
	case 0x1: // c.addiw
		imm := signExtend(uint64(cCIImm(ci)), 6)
		v := int32(uint32(e.CPU.GetReg(rd))) + int32(imm)
		e.CPU.SetReg(rd, uint64(int64(v)))
		return nil
	case 0x2: // c.li
		imm := signExtend(uint64(cCIImm(ci)), 6)
		e.CPU.SetReg(rd, uint64(imm))
		return nil
	case 0x3:
		if rd == 2 { // c.addi16sp
			b12 := (uint32(ci) >> 12) & 1
			b6 := (uint32(ci) >> 6) & 1
			b5 := (uint32(ci) >> 5) & 1
			b4 := (uint32(ci) >> 4) & 1
			b3 := (uint32(ci) >> 3) & 1
			b2 := (uint32(ci) >> 2) & 1
			raw := b12<<9 | b4<<8 | b3<<7 | b5<<6 | b2<<5 | b6<<4
			imm := signExtend(uint64(raw), 10)
			e.CPU.SetReg(2, uint64(int64(e.CPU.GetReg(2))+imm))
			return nil
		}
		if rd == 0 {
			return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
		}
		// c.lui
		b12 := (uint32(ci) >> 12) & 1
		rest := uint32(ci>>2) & 0x1f
		raw := b12<<17 | rest<<12
		imm := signExtend(uint64(raw), 18)
		e.CPU.SetReg(rd, uint64(imm))
		return nil
	case 0x4:
		return e.executeC1MiscALU(ci)
	case 0x5: // c.j
		imm := cJImm(ci)
		target := uint64(int64(e.CPU.PC) + imm)
		e.recordEdge(e.CPU.PC, target, true)
		e.CPU.PC = target - instrLenCompressed
		return nil
	case 0x6, 0x7: // c.beqz / c.bnez
		rs1p := regFromC(uint32(ci>>7) & 0x7)
		imm := cBImm(ci)
		a := e.CPU.GetReg(rs1p)
		taken := a == 0
		if funct3 == 0x7 {
			taken = a != 0
		}
		fallthroughPC := e.CPU.PC + instrLenCompressed
		if taken {
			target := uint64(int64(e.CPU.PC) + imm)
			e.recordEdge(e.CPU.PC, target, true)
			e.recordEdge(e.CPU.PC, fallthroughPC, false)
			e.CPU.PC = target - instrLenCompressed
		} else {
			e.recordEdge(e.CPU.PC, fallthroughPC, false)
		}
		return nil
	default:
		return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
	}
}

func (e *Emulator) executeC1MiscALU(ci uint16) error {
	rdp := regFromC(uint32(ci>>7) & 0x7)
	funct2 := (uint32(ci) >> 10) & 0x3
	switch funct2 {
	case 0x0: // c.srli
		shamt := cShamt(ci)
		e.CPU.SetReg(rdp, e.CPU.GetReg(rdp)>>shamt)
		return nil
	case 0x1: // c.srai
		shamt := cShamt(ci)
		e.CPU.SetReg(rdp, uint64(int64(e.CPU.GetReg(rdp))>>shamt))
		return nil
	case 0x2: // c.andi
		imm := signExtend(uint64(cCIImm(ci)), 6)
		e.CPU.SetReg(rdp, e.CPU.GetReg(rdp)&uint64(imm))
		return nil
	case 0x3:
		rs2p := regFromC(uint32(ci>>2) & 0x7)
		funct6bit := (uint32(ci) >> 12) & 1
		sub2 := (uint32(ci) >> 5) & 0x3
		a, b := e.CPU.GetReg(rdp), e.CPU.GetReg(rs2p)
		if funct6bit == 0 {
			switch sub2 {
			case 0x0: // c.sub
				e.CPU.SetReg(rdp, a-b)
			case 0x1: // c.xor
				return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
			case 0x2: // c.or
				e.CPU.SetReg(rdp, a|b)
			case 0x3: // c.and
				e.CPU.SetReg(rdp, a&b)
			}
			return nil
		}
		switch sub2 {
		case 0x0: // c.subw
			return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
		case 0x1: // c.addw
			e.CPU.SetReg(rdp, uint64(int64(int32(uint32(a)+uint32(b)))))
			return nil
		default:
			return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
		}
	}
	return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
}

func cShamt(ci uint16) uint64 {
	b12 := (uint32(ci) >> 12) & 1
	rest := uint32(ci>>2) & 0x1f
	return uint64(b12<<5 | rest)
}

func cCIImm(ci uint16) uint32 {
	b12 := (uint32(ci) >> 12) & 1
	rest := uint32(ci>>2) & 0x1f
	return b12<<5 | rest
}

func cJImm(ci uint16) int64 {
	v := uint32(ci)
	b11 := (v >> 12) & 1
	b4 := (v >> 11) & 1
	b9_8 := (v >> 9) & 0x3
	b10 := (v >> 8) & 1
	b6 := (v >> 7) & 1
	b7 := (v >> 6) & 1
	b3_1 := (v >> 3) & 0x7
	b5 := (v >> 2) & 1
	raw := b11<<11 | b10<<10 | b9_8<<8 | b7<<7 | b6<<6 | b5<<5 | b4<<4 | b3_1<<1
	return signExtend(uint64(raw), 12)
}

func cBImm(ci uint16) int64 {
	v := uint32(ci)
	b8 := (v >> 12) & 1
	b4_3 := (v >> 10) & 0x3
	b7_6 := (v >> 5) & 0x3
	b2_1 := (v >> 3) & 0x3
	b5 := (v >> 2) & 1
	raw := b8<<8 | b7_6<<6 | b5<<5 | b4_3<<3 | b2_1<<1
	return signExtend(uint64(raw), 9)
}

func (e *Emulator) executeC2(ci uint16, funct3 uint16) error {
	rd := uint32(ci>>7) & 0x1f
	switch funct3 {
	case 0x0: // c.slli
		shamt := cShamt(ci)
		e.CPU.SetReg(rd, e.CPU.GetReg(rd)<<shamt)
		return nil
	case 0x2: // c.lwsp
		off := cLWSPOffset(ci)
		v, err := e.MMU.ReadU32(e.CPU.GetReg(2) + off)
		if err != nil {
			return err
		}
		e.CPU.SetReg(rd, uint64(int64(int32(v))))
		return nil
	case 0x3: // c.ldsp
		off := cLDSPOffset(ci)
		v, err := e.MMU.ReadU64(e.CPU.GetReg(2) + off)
		if err != nil {
			return err
		}
		e.CPU.SetReg(rd, v)
		return nil
	case 0x4:
		return e.executeC2CR(ci, rd)
	case 0x6: // c.swsp
		off := cSWSPOffset(ci)
		rs2 := uint32(ci>>2) & 0x1f
		return e.MMU.WriteU32(e.CPU.GetReg(2)+off, uint32(e.CPU.GetReg(rs2)))
	case 0x7: // c.sdsp
		off := cSDSPOffset(ci)
		rs2 := uint32(ci>>2) & 0x1f
		return e.MMU.WriteU64(e.CPU.GetReg(2)+off, e.CPU.GetReg(rs2))
	default:
		return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
	}
}

func (e *Emulator) executeC2CR(ci uint16, rd uint32) error {
	rs2 := uint32(ci>>2) & 0x1f
	funct4bit := (uint32(ci) >> 12) & 1
	if funct4bit == 0 {
		if rs2 == 0 { // c.jr
			if rd == 0 {
				return &UnsupportedInstructionError{Raw: uint64(ci), PC: e.CPU.PC}
			}
			target := e.CPU.GetReg(rd) &^ 1
			if target%2 != 0 {
				return &mmu.GuestFault{Kind: mmu.FaultMisaligned, Addr: target}
			}
			e.recordEdge(e.CPU.PC, target, true)
			e.CPU.PC = target - instrLenCompressed
			return nil
		}
		// c.mv
		e.CPU.SetReg(rd, e.CPU.GetReg(rs2))
		return nil
	}
	if rs2 == 0 {
		if rd == 0 { // c.ebreak
			return &EbreakError{PC: e.CPU.PC}
		}
		// c.jalr
		target := e.CPU.GetReg(rd) &^ 1
		if target%2 != 0 {
			return &mmu.GuestFault{Kind: mmu.FaultMisaligned, Addr: target}
		}
		ret := e.CPU.PC + instrLenCompressed
		e.CPU.SetReg(1, ret)
		e.recordEdge(e.CPU.PC, target, true)
		e.CPU.PC = target - instrLenCompressed
		return nil
	}
	// c.add
	e.CPU.SetReg(rd, e.CPU.GetReg(rd)+e.CPU.GetReg(rs2))
	return nil
}

func cLWSPOffset(ci uint16) uint64 {
	v := uint32(ci)
	b5 := (v >> 12) & 1
	b4_2 := (v >> 4) & 0x7
	b7_6 := (v >> 2) & 0x3
	return uint64(b7_6<<6 | b5<<5 | b4_2<<2)
}

func cLDSPOffset(ci uint16) uint64 {
	v := uint32(ci)
	b5 := (v >> 12) & 1
	b4_3 := (v >> 5) & 0x3
	b8_6 := (v >> 2) & 0x7
	return uint64(b8_6<<6 | b5<<5 | b4_3<<3)
}

func cSWSPOffset(ci uint16) uint64 {
	v := uint32(ci)
	b5_2 := (v >> 9) & 0xf
	b7_6 := (v >> 7) & 0x3
	return uint64(b7_6<<6 | b5_2<<2)
}

func cSDSPOffset(ci uint16) uint64 {
	v := uint32(ci)
	b5_3 := (v >> 10) & 0x7
	b8_6 := (v >> 7) & 0x7
	return uint64(b8_6<<6 | b5_3<<3)
}
