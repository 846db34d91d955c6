package vkframe

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

func (d *Device) VKDestroySemaphore(s vk.Semaphore) {
	vk.DestroySemaphore(d.VKDevice, s, nil)
}

// createTimelineSemaphore creates a timeline semaphore at the given initial
// counter value. When exportable it is created shareable as an opaque FD.
func (d *Device) createTimelineSemaphore(initial uint64, exportable bool) (vk.Semaphore, error) {
	typeInfo := vk.SemaphoreTypeCreateInfo{
		SType:         vk.StructureTypeSemaphoreTypeCreateInfo,
		SemaphoreType: vk.SemaphoreTypeTimeline,
		InitialValue:  initial,
	}
	if exportable {
		exportInfo := vk.ExportSemaphoreCreateInfo{
			SType:       vk.StructureTypeExportSemaphoreCreateInfo,
			HandleTypes: vk.ExternalSemaphoreHandleTypeFlags(vk.ExternalSemaphoreHandleTypeOpaqueFdBit),
		}
		exportRef, _ := exportInfo.PassRef()
		typeInfo.PNext = unsafe.Pointer(exportRef)
	}
	typeRef, _ := typeInfo.PassRef()

	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
		PNext: unsafe.Pointer(typeRef),
	}

	var sema vk.Semaphore
	ret := vk.CreateSemaphore(d.VKDevice, &semaphoreCreateInfo, nil, &sema)
	if ret != vk.Success {
		return vk.NullSemaphore, vkErr("vkCreateSemaphore", ret)
	}
	return sema, nil
}

// waitSemaphores blocks until every semaphore reaches its paired counter
// value or the timeout in nanoseconds expires.
func (d *Device) waitSemaphores(sems []vk.Semaphore, values []uint64, timeoutNs uint64) error {
	if len(sems) == 0 {
		return nil
	}
	waitInfo := vk.SemaphoreWaitInfo{
		SType:          vk.StructureTypeSemaphoreWaitInfo,
		SemaphoreCount: uint32(len(sems)),
		PSemaphores:    sems,
		PValues:        values,
	}
	return vkErr("vkWaitSemaphores", d.timelineWait(&waitInfo, timeoutNs))
}
