package vkframe

import (
	"testing"
)

func TestWaitPlanDrainConsumedOnce(t *testing.T) {
	f := testFrame(2)
	f.needsDrain = true

	_, _, drain := f.waitPlan()
	if !drain {
		t.Fatal("first plan on an undrained import must drain")
	}

	sems, values, drain := f.waitPlan()
	if drain {
		t.Error("drain flag must be consumed by the first plan")
	}
	if len(sems) != 2 || len(values) != 2 {
		t.Errorf("got %d semaphores and %d values, want 2 each", len(sems), len(values))
	}
}

func TestWaitPlanSnapshots(t *testing.T) {
	f := testFrame(1)
	f.SemValues[0] = 3

	_, values, _ := f.waitPlan()
	if values[0] != 3 {
		t.Fatalf("got counter %d, want 3", values[0])
	}

	// Later submissions must not reach into a plan already taken.
	f.SemValues[0] = 9
	if values[0] != 3 {
		t.Error("plan values must be a copy, not a view of the frame")
	}
}

func TestWaitPlanLeavesFrameUnlocked(t *testing.T) {
	f := testFrame(1)
	f.waitPlan()
	if !f.mu.TryLock() {
		t.Fatal("frame must be unlocked after planning a wait")
	}
	f.mu.Unlock()
}
