package vkframe

import (
	"testing"
)

func TestFrameDescriptorSetPerSlot(t *testing.T) {
	fd := &FrameDescriptor{
		Sets: []*DescriptorSet{{}, {}, {}},
	}

	for i := 0; i < 3; i++ {
		e := &ExecContext{index: i}
		if got := fd.Set(e); got != fd.Sets[i] {
			t.Errorf("context %d got another slot's set", i)
		}
	}

	// Rings larger than the set count wrap.
	e := &ExecContext{index: 4}
	if got := fd.Set(e); got != fd.Sets[1] {
		t.Error("slot index must wrap around the set count")
	}
}
