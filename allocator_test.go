package vkframe

import (
	"testing"
)

func TestAlignUp(t *testing.T) {
	if alignUp(12, 4) != 12 {
		t.Fail()
	}

	if alignUp(10, 4) != 12 {
		t.Fail()
	}

	if alignUp(0, 8) != 0 {
		t.Fail()
	}
}

func TestLinearAllocator(t *testing.T) {

	a := LinearAllocator{Size: 1024}

	ra := a.Allocate(2048, 1)
	if ra != nil {
		t.Error("oversized allocation should fail")
	}

	first := a.Allocate(512, 1)
	if first == nil {
		t.Error("first allocation failed")
	}

	ra = a.Allocate(768, 1)
	if ra != nil {
		t.Error("allocation past capacity should fail")
	}

	second := a.Allocate(500, 1)
	if second == nil {
		t.Error("second allocation failed")
	}

	ra = a.Allocate(50, 1)
	if ra != nil {
		t.Error("allocation into a full pool should fail")
	}

	ra = a.Allocate(5, 1)
	if ra == nil {
		t.Error("small tail allocation failed")
	}

	a.Free(second)
	ra = a.Allocate(500, 1)
	if ra == nil {
		t.Error("reallocation of freed range failed")
	}

	a.Free(first)
	ra = a.Allocate(20, 1)
	if ra == nil {
		t.Error("head gap allocation failed")
	}
	if ra.Offset != 0 {
		t.Errorf("head gap allocation at offset %d, want 0", ra.Offset)
	}
}

func TestLinearAllocatorAlignment(t *testing.T) {
	a := LinearAllocator{Size: 1024}

	first := a.Allocate(10, 1)
	if first == nil {
		t.Fatal("allocation failed")
	}

	aligned := a.Allocate(100, 256)
	if aligned == nil {
		t.Fatal("aligned allocation failed")
	}
	if aligned.Offset%256 != 0 {
		t.Errorf("allocation at offset %d not 256-byte aligned", aligned.Offset)
	}
}

func TestLinearAllocatorFreeUnknown(t *testing.T) {
	a := LinearAllocator{Size: 64}
	got := a.Allocate(32, 1)
	a.Free(&Allocation{Offset: 5, Size: 5})
	if len(a.allocs) != 1 || a.allocs[0] != got {
		t.Error("freeing an unknown allocation must not disturb the pool")
	}
}
