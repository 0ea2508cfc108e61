package mmu

import "testing"

func TestAllocAnonymousGuardGap(t *testing.T) {
	m := New()
	a, err := m.Alloc(0, 0x100, PermRead|PermWrite)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	b, err := m.Alloc(0, 0x100, PermRead|PermWrite)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if b < a+0x100 {
		t.Fatalf("expected guard gap between allocations, got a=0x%x b=0x%x", a, b)
	}
}

func TestAllocExplicitBaseDoesNotMoveCursor(t *testing.T) {
	m := New()
	if _, err := m.Alloc(0x10000, 0x1000, PermRead|PermWrite|PermExec); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	anon, err := m.Alloc(0, 0x100, PermRead|PermWrite)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if anon < guardGap {
		t.Fatalf("expected anonymous allocation based off cursor near zero, got 0x%x", anon)
	}
}

func TestAllocRangeTakenLeavesStateUnchanged(t *testing.T) {
	m := New()
	if _, err := m.Alloc(0x10000, 0x1000, PermRead|PermWrite); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	before := m.SegmentCount()
	_, err := m.Alloc(0x10500, 0x10, PermRead)
	if err == nil {
		t.Fatalf("expected RangeTakenError")
	}
	var rte *RangeTakenError
	if _, ok := err.(*RangeTakenError); !ok {
		_ = rte
		t.Fatalf("expected *RangeTakenError, got %T", err)
	}
	if m.SegmentCount() != before {
		t.Fatalf("alloc failure mutated segment count: before=%d after=%d", before, m.SegmentCount())
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	m := New()
	base, _ := m.Alloc(0x20000, 0x100, PermRead|PermWrite)
	addr := base + 8
	if err := m.WriteU64(addr, 0x41414141_42424242); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := m.ReadU64(addr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0x41414141_42424242 {
		t.Fatalf("round trip mismatch: got 0x%x", got)
	}
}

func TestBoundaryLastByteOkTwoByteFaults(t *testing.T) {
	m := New()
	base, _ := m.Alloc(0x30000, 0x10, PermRead|PermWrite)
	last := base + 0xF
	if _, err := m.ReadU8(last); err != nil {
		t.Fatalf("expected 1-byte read at end-1 to succeed: %v", err)
	}
	if _, err := m.ReadU16(last); err == nil {
		t.Fatalf("expected 2-byte read at end-1 to fault")
	}
}

func TestPermissionFaults(t *testing.T) {
	m := New()
	base, _ := m.Alloc(0x40000, 0x10, PermRead)
	if err := m.WriteU8(base, 1); err == nil {
		t.Fatalf("expected write fault on read-only segment")
	}
	g := New()
	base2, _ := g.Alloc(0x40000, 0x10, PermWrite)
	if _, err := g.ReadU8(base2); err == nil {
		t.Fatalf("expected read fault on write-only segment")
	}
}

func TestUnmappedFault(t *testing.T) {
	m := New()
	if _, err := m.ReadU8(0xdeadbeef); err == nil {
		t.Fatalf("expected unmapped fault")
	} else if gf, ok := err.(*GuestFault); !ok || gf.Kind != FaultUnmapped {
		t.Fatalf("expected FaultUnmapped, got %v", err)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m := New()
	base, _ := m.Alloc(0x50000, 0x100, PermRead|PermWrite)
	if err := m.WriteU64(base, 0x1122334455667788); err != nil {
		t.Fatalf("write: %v", err)
	}
	master := m.Clone()

	m.SetMonitorDirty(true)
	if err := m.WriteU64(base, 0xffffffffffffffff); err != nil {
		t.Fatalf("write: %v", err)
	}
	// Segment allocated after the snapshot must not survive restore.
	if _, err := m.Alloc(0, 0x10, PermRead|PermWrite); err != nil {
		t.Fatalf("alloc: %v", err)
	}

	m.Restore(master)

	if m.SegmentCount() != master.SegmentCount() {
		t.Fatalf("restore did not clip post-snapshot segments: got %d want %d", m.SegmentCount(), master.SegmentCount())
	}
	got, err := m.ReadU64(base)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0x1122334455667788 {
		t.Fatalf("restore did not reinstate master bytes: got 0x%x", got)
	}
}

func TestNoOverlappingSegments(t *testing.T) {
	m := New()
	if _, err := m.Alloc(0x1000, 0x100, PermRead); err != nil {
		t.Fatalf("alloc: %v", err)
	}
	for _, seg := range m.Segments() {
		if uint64(len(seg.Data)) != seg.size() {
			t.Fatalf("segment buffer length %d != end-start %d", len(seg.Data), seg.size())
		}
	}
}
