// Package mmu implements Coffeepot's segmented guest memory manager.
//
// Guest memory is not one flat byte slice. It is an ordered collection of
// variable-size Segments, each with its own permission set, modelling the
// handful of mappings a real RV64 ELF needs (text, data, stack, a few
// anonymous heap allocations) without paying for a full page table. Every
// guest-visible read or write funnels through Find, so a single enforcement
// point decides whether an access is in-bounds, permitted, and non-straddling.
package mmu

import (
	"encoding/binary"
	"fmt"
)

// Perm is a permission bit set drawn from {Read, Write, Exec}.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) String() string {
	r, w, x := "-", "-", "-"
	if p&PermRead != 0 {
		r = "r"
	}
	if p&PermWrite != 0 {
		w = "w"
	}
	if p&PermExec != 0 {
		x = "x"
	}
	return r + w + x
}

// guardGap is added between successive anonymous allocations so an
// off-by-one write in one allocation does not silently corrupt the next.
const guardGap = 0x1024

// FaultKind enumerates the ways a guest memory access can be refused.
type FaultKind int

const (
	FaultUnmapped FaultKind = iota
	FaultNoRead
	FaultNoWrite
	FaultNoExec
	FaultStraddle
	FaultMisaligned
)

func (k FaultKind) String() string {
	switch k {
	case FaultUnmapped:
		return "unmapped"
	case FaultNoRead:
		return "no-read-perm"
	case FaultNoWrite:
		return "no-write-perm"
	case FaultNoExec:
		return "no-exec-perm"
	case FaultStraddle:
		return "straddle"
	case FaultMisaligned:
		return "misaligned"
	default:
		return "unknown-fault"
	}
}

// GuestFault is raised whenever the guest program performs a memory access
// the MMU refuses. Every GuestFault is recorded as a crash by the fuzz loop.
type GuestFault struct {
	Kind FaultKind
	Addr uint64
}

func (f *GuestFault) Error() string {
	return fmt.Sprintf("guest fault: %s at 0x%x", f.Kind, f.Addr)
}

// RangeTakenError is returned by Alloc when an explicitly based allocation
// overlaps an existing segment. No segment is mutated when this occurs.
type RangeTakenError struct {
	Base uint64
}

func (e *RangeTakenError) Error() string {
	return fmt.Sprintf("mmu: range taken at 0x%x", e.Base)
}

// Segment is a contiguous half-open guest address range [Start, End) backed
// by its own byte buffer. Segments never overlap, are never split or
// merged, and are freed only by MMU teardown or a restore that rewinds the
// segment count.
type Segment struct {
	Start uint64
	End   uint64
	Data  []byte
	Perm  Perm
	Dirty bool
}

func (s *Segment) contains(addr uint64) bool {
	return addr >= s.Start && addr < s.End
}

func (s *Segment) size() uint64 { return s.End - s.Start }

// Clone returns a deep copy of the segment, used by the snapshot engine.
func (s *Segment) Clone() *Segment {
	data := make([]byte, len(s.Data))
	copy(data, s.Data)
	return &Segment{Start: s.Start, End: s.End, Data: data, Perm: s.Perm}
}

// MMU owns the full set of guest segments plus the cursor used to place
// anonymous allocations.
type MMU struct {
	segments    []*Segment
	nextFreeBase uint64
	monitorDirty bool
}

// New returns an empty MMU with the anonymous-allocation cursor at zero.
func New() *MMU {
	return &MMU{}
}

// SetMonitorDirty turns dirty-segment tracking on or off. The fuzz loop
// enables this once the pre-fuzz snapshot has been captured, so that
// restores only need to touch the segments an iteration actually wrote.
func (m *MMU) SetMonitorDirty(on bool) { m.monitorDirty = on }

// Segments returns the live segment slice. Callers must not retain it
// across an Alloc or Restore call, both of which may reallocate it.
func (m *MMU) Segments() []*Segment { return m.segments }

// SegmentCount reports the number of live segments, used by the snapshot
// engine to clip post-snapshot allocations back off on restore.
func (m *MMU) SegmentCount() int { return len(m.segments) }

// Find returns the first segment whose range contains addr. Segments are
// disjoint so scan order has no bearing on correctness.
func (m *MMU) Find(addr uint64) (*Segment, bool) {
	for _, seg := range m.segments {
		if seg.contains(addr) {
			return seg, true
		}
	}
	return nil, false
}

func (m *MMU) rangeExists(base, size uint64) bool {
	end := base + size
	for _, seg := range m.segments {
		if base < seg.End && end > seg.Start {
			return true
		}
	}
	return false
}

// Alloc reserves size bytes with the given permissions. If base is zero an
// anonymous base is chosen as nextFreeBase+guardGap, and the cursor
// advances past the new segment's end. If base is non-zero and
// [base, base+size) overlaps any existing segment, Alloc fails with
// RangeTakenError and leaves
// the MMU unchanged; this is how the loader claims the program's fixed
// link address without disturbing the anonymous-allocation cursor.
func (m *MMU) Alloc(base, size uint64, perm Perm) (uint64, error) {
	if base != 0 {
		if m.rangeExists(base, size) {
			return 0, &RangeTakenError{Base: base}
		}
	} else {
		base = m.nextFreeBase + guardGap
	}
	seg := &Segment{
		Start: base,
		End:   base + size,
		Data:  make([]byte, size),
		Perm:  perm,
	}
	m.segments = append(m.segments, seg)
	if base+size > m.nextFreeBase {
		m.nextFreeBase = base + size
	}
	return base, nil
}

// access locates the segment covering [addr, addr+n) and verifies the
// required permission bit, returning a GuestFault describing the first
// thing that went wrong.
func (m *MMU) access(addr uint64, n uint64, need Perm) (*Segment, error) {
	seg, ok := m.Find(addr)
	if !ok {
		return nil, &GuestFault{Kind: FaultUnmapped, Addr: addr}
	}
	if addr+n > seg.End {
		return nil, &GuestFault{Kind: FaultStraddle, Addr: addr}
	}
	if seg.Perm&need == 0 {
		kind := FaultNoRead
		switch need {
		case PermWrite:
			kind = FaultNoWrite
		case PermExec:
			kind = FaultNoExec
		}
		return nil, &GuestFault{Kind: kind, Addr: addr}
	}
	return seg, nil
}

func (m *MMU) markDirty(seg *Segment) {
	if m.monitorDirty {
		seg.Dirty = true
	}
}

// ReadU8 reads one byte, requiring PermRead.
func (m *MMU) ReadU8(addr uint64) (uint8, error) {
	seg, err := m.access(addr, 1, PermRead)
	if err != nil {
		return 0, err
	}
	return seg.Data[addr-seg.Start], nil
}

// ReadU16 reads a little-endian halfword, requiring PermRead.
func (m *MMU) ReadU16(addr uint64) (uint16, error) {
	seg, err := m.access(addr, 2, PermRead)
	if err != nil {
		return 0, err
	}
	off := addr - seg.Start
	return binary.LittleEndian.Uint16(seg.Data[off : off+2]), nil
}

// ReadU32 reads a little-endian word, requiring PermRead.
func (m *MMU) ReadU32(addr uint64) (uint32, error) {
	seg, err := m.access(addr, 4, PermRead)
	if err != nil {
		return 0, err
	}
	off := addr - seg.Start
	return binary.LittleEndian.Uint32(seg.Data[off : off+4]), nil
}

// ReadU64 reads a little-endian doubleword, requiring PermRead.
func (m *MMU) ReadU64(addr uint64) (uint64, error) {
	seg, err := m.access(addr, 8, PermRead)
	if err != nil {
		return 0, err
	}
	off := addr - seg.Start
	return binary.LittleEndian.Uint64(seg.Data[off : off+8]), nil
}

// FetchU32 reads a little-endian instruction word for the decoder,
// requiring PermRead like a data load; the exec bit is not checked.
func (m *MMU) FetchU32(addr uint64) (uint32, error) {
	seg, err := m.access(addr, 4, PermRead)
	if err != nil {
		return 0, err
	}
	off := addr - seg.Start
	return binary.LittleEndian.Uint32(seg.Data[off : off+4]), nil
}

// WriteU8 writes one byte, requiring PermWrite.
func (m *MMU) WriteU8(addr uint64, v uint8) error {
	seg, err := m.access(addr, 1, PermWrite)
	if err != nil {
		return err
	}
	seg.Data[addr-seg.Start] = v
	m.markDirty(seg)
	return nil
}

// WriteU16 writes a little-endian halfword, requiring PermWrite.
func (m *MMU) WriteU16(addr uint64, v uint16) error {
	seg, err := m.access(addr, 2, PermWrite)
	if err != nil {
		return err
	}
	off := addr - seg.Start
	binary.LittleEndian.PutUint16(seg.Data[off:off+2], v)
	m.markDirty(seg)
	return nil
}

// WriteU32 writes a little-endian word, requiring PermWrite.
func (m *MMU) WriteU32(addr uint64, v uint32) error {
	seg, err := m.access(addr, 4, PermWrite)
	if err != nil {
		return err
	}
	off := addr - seg.Start
	binary.LittleEndian.PutUint32(seg.Data[off:off+4], v)
	m.markDirty(seg)
	return nil
}

// WriteU64 writes a little-endian doubleword, requiring PermWrite.
func (m *MMU) WriteU64(addr uint64, v uint64) error {
	seg, err := m.access(addr, 8, PermWrite)
	if err != nil {
		return err
	}
	off := addr - seg.Start
	binary.LittleEndian.PutUint64(seg.Data[off:off+8], v)
	m.markDirty(seg)
	return nil
}

// CopyIn copies src into the guest at dst, requiring PermWrite over the
// whole range. Used by the loader (ELF segment data) and the fuzz loop
// (writing a mutated case into the fixed guest buffer address).
func (m *MMU) CopyIn(src []byte, dst uint64) error {
	seg, err := m.access(dst, uint64(len(src)), PermWrite)
	if err != nil {
		return err
	}
	off := dst - seg.Start
	copy(seg.Data[off:off+uint64(len(src))], src)
	m.markDirty(seg)
	return nil
}

// ReadString reads a NUL-terminated byte string starting at addr. It is
// used only for host-side diagnostics, never by the instruction decoder.
func (m *MMU) ReadString(addr uint64) (string, error) {
	seg, ok := m.Find(addr)
	if !ok {
		return "", &GuestFault{Kind: FaultUnmapped, Addr: addr}
	}
	off := addr - seg.Start
	end := off
	for end < uint64(len(seg.Data)) && seg.Data[end] != 0 {
		end++
	}
	return string(seg.Data[off:end]), nil
}

// Clone produces a deep copy of every segment and the allocation cursor,
// used to build the immutable snapshot master.
func (m *MMU) Clone() *MMU {
	clone := &MMU{nextFreeBase: m.nextFreeBase}
	clone.segments = make([]*Segment, len(m.segments))
	for i, seg := range m.segments {
		clone.segments[i] = seg.Clone()
	}
	return clone
}

// Restore rewinds m to match master: segments allocated after the
// snapshot are dropped (segment count clipped back to master's count),
// and within the surviving segments only those flagged dirty are copied
// back, after which every dirty flag is cleared. Segments present at
// snapshot time never change identity or size, so a straight index-wise
// copy over the clipped slice is sound.
func (m *MMU) Restore(master *MMU) {
	n := len(master.segments)
	if len(m.segments) > n {
		m.segments = m.segments[:n]
	}
	for i := 0; i < n; i++ {
		dst := m.segments[i]
		src := master.segments[i]
		if dst.Dirty {
			copy(dst.Data, src.Data)
			dst.Dirty = false
		}
	}
	m.nextFreeBase = master.nextFreeBase
}
