package vkframe

import (
	"testing"

	vk "github.com/goki/vulkan"
)

// testFrame builds a frame with nb tracked images and no live device
// resources, enough for the bookkeeping paths.
func testFrame(nb int) *Frame {
	f := &Frame{
		Images:      make([]vk.Image, nb),
		Semaphores:  make([]vk.Semaphore, nb),
		SemValues:   make([]uint64, nb),
		Layouts:     make([]vk.ImageLayout, nb),
		Access:      make([]vk.AccessFlags, nb),
		QueueFamily: make([]uint32, nb),
	}
	for i := 0; i < nb; i++ {
		f.Layouts[i] = vk.ImageLayoutUndefined
		f.QueueFamily[i] = uint32(vk.QueueFamilyIgnored)
	}
	return f
}

func TestAddFrameDependency(t *testing.T) {
	e := &ExecContext{}
	f := testFrame(2)
	f.SemValues[0] = 5
	f.SemValues[1] = 7

	if err := e.AddFrameDependency(f); err != nil {
		t.Fatal(err)
	}

	if len(e.waitValues) != 2 || e.waitValues[0] != 5 || e.waitValues[1] != 7 {
		t.Errorf("wait values %v, want [5 7]", e.waitValues)
	}
	if len(e.sigValues) != 2 || e.sigValues[0] != 6 || e.sigValues[1] != 8 {
		t.Errorf("signal values %v, want [6 8]", e.sigValues)
	}
	if f.mu.TryLock() {
		f.mu.Unlock()
		t.Error("frame must stay locked after AddFrameDependency")
	}

	e.discardDeps()
}

func TestAddFrameDependencyDedupes(t *testing.T) {
	e := &ExecContext{}
	f := testFrame(1)

	if err := e.AddFrameDependency(f); err != nil {
		t.Fatal(err)
	}
	if err := e.AddFrameDependency(f); err != nil {
		t.Fatal(err)
	}

	if len(e.frames) != 1 {
		t.Errorf("frame tracked %d times, want 1", len(e.frames))
	}
	if len(e.waitSems) != 1 {
		t.Errorf("%d wait ops, want 1", len(e.waitSems))
	}

	e.discardDeps()
}

func TestCommitSubmissionAppliesState(t *testing.T) {
	e := &ExecContext{}
	f := testFrame(2)

	if err := e.AddFrameDependency(f); err != nil {
		t.Fatal(err)
	}

	// Simulate what RecordBarrier stages.
	for i := range e.frameStaged[0] {
		e.frameStaged[0][i].Layout = vk.ImageLayoutGeneral
		e.frameStaged[0][i].Access = vk.AccessFlags(vk.AccessMemoryWriteBit)
		e.frameStaged[0][i].QueueFamily = 3
	}

	e.commitSubmission()

	for i := 0; i < 2; i++ {
		if f.Layouts[i] != vk.ImageLayoutGeneral {
			t.Errorf("image %d layout not applied", i)
		}
		if f.Access[i] != vk.AccessFlags(vk.AccessMemoryWriteBit) {
			t.Errorf("image %d access not applied", i)
		}
		if f.QueueFamily[i] != 3 {
			t.Errorf("image %d owner not applied", i)
		}
		if f.SemValues[i] != 1 {
			t.Errorf("image %d counter %d, want 1", i, f.SemValues[i])
		}
	}

	if !f.mu.TryLock() {
		t.Error("frame must be unlocked after a successful submission")
	} else {
		f.mu.Unlock()
	}
	if !e.HadSubmission() {
		t.Error("HadSubmission must be set")
	}

	e.discardDeps()
}

func TestCommitSubmissionCountersMonotonic(t *testing.T) {
	f := testFrame(1)

	for round := 1; round <= 3; round++ {
		e := &ExecContext{}
		if err := e.AddFrameDependency(f); err != nil {
			t.Fatal(err)
		}
		e.commitSubmission()
		if f.SemValues[0] != uint64(round) {
			t.Fatalf("after round %d counter is %d", round, f.SemValues[0])
		}
		e.discardDeps()
	}
}

func TestDiscardDepsLeavesStateAlone(t *testing.T) {
	e := &ExecContext{}
	f := testFrame(1)
	f.SemValues[0] = 9
	f.Layouts[0] = vk.ImageLayoutShaderReadOnlyOptimal

	if err := e.AddFrameDependency(f); err != nil {
		t.Fatal(err)
	}
	e.frameStaged[0][0].Layout = vk.ImageLayoutGeneral

	e.discardDeps()

	if f.SemValues[0] != 9 {
		t.Errorf("counter changed to %d on discard", f.SemValues[0])
	}
	if f.Layouts[0] != vk.ImageLayoutShaderReadOnlyOptimal {
		t.Error("layout changed on discard")
	}
	if !f.mu.TryLock() {
		t.Error("frame must be unlocked after discard")
	} else {
		f.mu.Unlock()
	}
	if len(e.frames) != 0 || len(e.waitSems) != 0 || len(e.sigValues) != 0 {
		t.Error("dependency bookkeeping not cleared")
	}
}

func TestDiscardReleasesFrameLock(t *testing.T) {
	pool := &StagingPool{alloc: LinearAllocator{Size: 128}, alignment: 1}
	a, err := pool.Allocate(64)
	if err != nil {
		t.Fatal(err)
	}

	e := &ExecContext{}
	f := testFrame(1)
	if err := e.AddFrameDependency(f); err != nil {
		t.Fatal(err)
	}
	e.AddStagingDependency(a)

	// An error while recording abandons the work through Discard; the
	// frame must be usable again and the staging space free.
	e.Discard()

	if !f.mu.TryLock() {
		t.Fatal("frame still locked after Discard")
	}
	f.mu.Unlock()

	b, err := pool.Allocate(128)
	if err != nil {
		t.Fatalf("staging pool still occupied after Discard: %v", err)
	}
	b.Release()
}

func TestRetiredWithoutSubmission(t *testing.T) {
	e := &ExecContext{}
	if !e.Retired() {
		t.Error("a context that never submitted must count as retired")
	}
}

func TestStagingDependencyReleasedOnDiscard(t *testing.T) {
	pool := &StagingPool{alloc: LinearAllocator{Size: 128}, alignment: 1}
	a, err := pool.Allocate(64)
	if err != nil {
		t.Fatal(err)
	}

	e := &ExecContext{}
	e.AddStagingDependency(a)
	e.discardDeps()

	// The full pool must be free again.
	b, err := pool.Allocate(128)
	if err != nil {
		t.Fatalf("pool still occupied after discard: %v", err)
	}
	b.Release()
}
