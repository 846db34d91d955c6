package vkframe

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

type QueueFamilySlice []*QueueFamily

func (ql QueueFamilySlice) Filter(f func(q *QueueFamily) bool) QueueFamilySlice {
	ret := make([]*QueueFamily, 0)
	for _, q := range ql {
		if f(q) {
			ret = append(ret, q)
		}
	}
	return ret
}

func (ql QueueFamilySlice) FilterCompute() QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool {
		return q.IsCompute()
	})
}

func (ql QueueFamilySlice) FilterGraphics() QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool {
		return q.IsGraphics()
	})
}

func (ql QueueFamilySlice) FilterTransfer() QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool {
		return q.IsTransfer()
	})
}

type QueueFamily struct {
	Index                   int
	PhysicalDevice          *PhysicalDevice
	VKQueueFamilyProperties vk.QueueFamilyProperties
}

func (q *QueueFamily) IsCompute() bool {
	return q.VKQueueFamilyProperties.QueueFlags&vk.QueueFlags(vk.QueueComputeBit) == vk.QueueFlags(vk.QueueComputeBit)
}

func (q *QueueFamily) IsGraphics() bool {
	return q.VKQueueFamilyProperties.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) == vk.QueueFlags(vk.QueueGraphicsBit)
}

func (q *QueueFamily) IsTransfer() bool {
	return q.VKQueueFamilyProperties.QueueFlags&vk.QueueFlags(vk.QueueTransferBit) == vk.QueueFlags(vk.QueueTransferBit)
}

func (q *QueueFamily) IsVideoDecode() bool {
	return q.VKQueueFamilyProperties.QueueFlags&vk.QueueFlags(queueVideoDecodeBit) == vk.QueueFlags(queueVideoDecodeBit)
}

func (q *QueueFamily) IsVideoEncode() bool {
	return q.VKQueueFamilyProperties.QueueFlags&vk.QueueFlags(queueVideoEncodeBit) == vk.QueueFlags(queueVideoEncodeBit)
}

func (q *QueueFamily) String() string {
	return fmt.Sprintf("{ Index: %d Compute: %v Graphics: %v Transfer: %v Decode: %v Encode: %v }",
		q.Index, q.IsCompute(), q.IsGraphics(), q.IsTransfer(), q.IsVideoDecode(), q.IsVideoEncode())
}

// pickQueueFamily chooses the family for one capability. Among families
// carrying the wanted flag it minimizes the total number of capability bits
// plus the number of roles already assigned to the family, so specialized
// families win over general ones and load spreads across ties. Returns -1
// when no family carries the flag. useCounts is updated for the pick.
func pickQueueFamily(qfs []vk.QueueFamilyProperties, want vk.QueueFlags, useCounts []int) int {
	index := -1
	minScore := int(^uint(0) >> 1)
	for i := range qfs {
		flags := qfs[i].QueueFlags
		if flags&want == 0 {
			continue
		}
		score := popcount32(uint32(flags)) + useCounts[i]
		if score < minScore {
			index = i
			minScore = score
		}
	}
	if index >= 0 {
		useCounts[index]++
	}
	return index
}
