package vkframe

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Enum values from extensions newer than the binding's generated headers.
// The numeric values are fixed by the Vulkan registry.
const (
	// VK_QUEUE_VIDEO_DECODE_BIT_KHR / VK_QUEUE_VIDEO_ENCODE_BIT_KHR
	queueVideoDecodeBit vk.QueueFlagBits = 0x00000020
	queueVideoEncodeBit vk.QueueFlagBits = 0x00000040

	// VK_EXTERNAL_MEMORY_HANDLE_TYPE_DMA_BUF_BIT_EXT
	externalMemoryHandleTypeDmaBufBit vk.ExternalMemoryHandleTypeFlagBits = 0x00000200

	// VK_QUEUE_FAMILY_EXTERNAL
	queueFamilyExternal uint32 = ^uint32(1)
)

// VK_EXT_physical_device_drm postdates the binding, so the property struct
// is laid out manually. Field order and padding follow vulkan_core.h.
type drmProperties struct {
	sType        vk.StructureType
	_            uint32
	pNext        unsafe.Pointer
	hasPrimary   vk.Bool32
	hasRender    vk.Bool32
	primaryMajor int64
	primaryMinor int64
	renderMajor  int64
	renderMinor  int64
}

// VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_DRM_PROPERTIES_EXT
const structureTypeDrmProperties vk.StructureType = 1000353000
