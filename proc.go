package vkframe

/*
#cgo LDFLAGS: -ldl

#include <stdint.h>
#include <stdlib.h>
#include <dlfcn.h>

// Entry points newer than the binding's generated command surface are
// fetched from the loader and called through these thunks. Handles travel
// as uint64_t, chained structures as untyped pointers.

typedef void (*vkframeVoidFn)(void);
typedef vkframeVoidFn (*vkframeGetProcAddrFn)(void*, const char*);

static void* vkframeLoaderGetInstanceProcAddr(void) {
	void* h = dlopen("libvulkan.so.1", RTLD_NOW | RTLD_LOCAL);
	if (h == NULL) {
		h = dlopen("libvulkan.so", RTLD_NOW | RTLD_LOCAL);
	}
	if (h == NULL) {
		return NULL;
	}
	return dlsym(h, "vkGetInstanceProcAddr");
}

static void* vkframeGetProc(void* gpa, uint64_t handle, const char* name) {
	return (void*)((vkframeGetProcAddrFn)gpa)((void*)(uintptr_t)handle, name);
}

static void vkframeGetPhysicalDeviceProperties2(void* fn, uint64_t pd, void* props) {
	((void (*)(void*, void*))fn)((void*)(uintptr_t)pd, props);
}

static void vkframeGetPhysicalDeviceFeatures2(void* fn, uint64_t pd, void* features) {
	((void (*)(void*, void*))fn)((void*)(uintptr_t)pd, features);
}

static int32_t vkframeGetPhysicalDeviceImageFormatProperties2(void* fn, uint64_t pd, void* info, void* props) {
	return ((int32_t (*)(void*, void*, void*))fn)((void*)(uintptr_t)pd, info, props);
}

static void vkframeGetImageMemoryRequirements2(void* fn, uint64_t dev, void* info, void* reqs) {
	((void (*)(void*, void*, void*))fn)((void*)(uintptr_t)dev, info, reqs);
}

static int32_t vkframeBindImageMemory2(void* fn, uint64_t dev, uint32_t count, void* binds) {
	return ((int32_t (*)(void*, uint32_t, void*))fn)((void*)(uintptr_t)dev, count, binds);
}

static int32_t vkframeWaitSemaphores(void* fn, uint64_t dev, void* info, uint64_t timeout) {
	return ((int32_t (*)(void*, void*, uint64_t))fn)((void*)(uintptr_t)dev, info, timeout);
}

static int32_t vkframeGetSemaphoreCounterValue(void* fn, uint64_t dev, uint64_t sem, uint64_t* value) {
	return ((int32_t (*)(void*, uint64_t, uint64_t*))fn)((void*)(uintptr_t)dev, sem, value);
}

static int32_t vkframeGetFd(void* fn, uint64_t dev, void* info, int* fd) {
	return ((int32_t (*)(void*, void*, int*))fn)((void*)(uintptr_t)dev, info, fd);
}

static int32_t vkframeImportSemaphoreFd(void* fn, uint64_t dev, void* info) {
	return ((int32_t (*)(void*, void*))fn)((void*)(uintptr_t)dev, info);
}

static int32_t vkframeGetMemoryFdProperties(void* fn, uint64_t dev, uint32_t handleType, int fd, void* props) {
	return ((int32_t (*)(void*, uint32_t, int, void*))fn)((void*)(uintptr_t)dev, handleType, fd, props);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// handleValue reads a Vulkan handle as its 64-bit numeric value. Every
// handle type is 64 bits wide on the targets this package runs on.
func handleValue[H any](h H) uint64 {
	return *(*uint64)(unsafe.Pointer(&h))
}

// instanceProcs holds instance-level entry points resolved at instance
// creation. All of them are core in 1.1 so a missing one is fatal.
type instanceProcs struct {
	getDeviceProcAddr                       unsafe.Pointer
	getPhysicalDeviceProperties2            unsafe.Pointer
	getPhysicalDeviceFeatures2              unsafe.Pointer
	getPhysicalDeviceImageFormatProperties2 unsafe.Pointer
}

// deviceProcs holds device-level entry points. The FD import/export ones
// stay nil unless the matching extension was negotiated.
type deviceProcs struct {
	getImageMemoryRequirements2 unsafe.Pointer
	bindImageMemory2            unsafe.Pointer
	waitSemaphores              unsafe.Pointer
	getSemaphoreCounterValue    unsafe.Pointer

	getMemoryFd           unsafe.Pointer
	getMemoryFdProperties unsafe.Pointer
	getSemaphoreFd        unsafe.Pointer
	importSemaphoreFd     unsafe.Pointer
}

func getProc(gpa unsafe.Pointer, handle uint64, names ...string) unsafe.Pointer {
	for _, name := range names {
		cname := C.CString(name)
		p := C.vkframeGetProc(gpa, C.uint64_t(handle), cname)
		C.free(unsafe.Pointer(cname))
		if p != nil {
			return p
		}
	}
	return nil
}

func loadInstanceProcs(instance vk.Instance) (*instanceProcs, error) {
	gpa := C.vkframeLoaderGetInstanceProcAddr()
	if gpa == nil {
		return nil, fmt.Errorf("vulkan loader exposes no vkGetInstanceProcAddr: %w", ErrUnsupported)
	}
	h := handleValue(instance)

	p := &instanceProcs{
		getDeviceProcAddr: getProc(gpa, h, "vkGetDeviceProcAddr"),
		getPhysicalDeviceProperties2: getProc(gpa, h,
			"vkGetPhysicalDeviceProperties2", "vkGetPhysicalDeviceProperties2KHR"),
		getPhysicalDeviceFeatures2: getProc(gpa, h,
			"vkGetPhysicalDeviceFeatures2", "vkGetPhysicalDeviceFeatures2KHR"),
		getPhysicalDeviceImageFormatProperties2: getProc(gpa, h,
			"vkGetPhysicalDeviceImageFormatProperties2", "vkGetPhysicalDeviceImageFormatProperties2KHR"),
	}

	for _, req := range []struct {
		ptr  unsafe.Pointer
		name string
	}{
		{p.getDeviceProcAddr, "vkGetDeviceProcAddr"},
		{p.getPhysicalDeviceProperties2, "vkGetPhysicalDeviceProperties2"},
		{p.getPhysicalDeviceFeatures2, "vkGetPhysicalDeviceFeatures2"},
		{p.getPhysicalDeviceImageFormatProperties2, "vkGetPhysicalDeviceImageFormatProperties2"},
	} {
		if req.ptr == nil {
			return nil, fmt.Errorf("driver does not expose %s: %w", req.name, ErrUnsupported)
		}
	}
	return p, nil
}

func (ip *instanceProcs) loadDeviceProcs(dev vk.Device, ext ExtensionFlags) (*deviceProcs, error) {
	h := handleValue(dev)

	dp := &deviceProcs{
		getImageMemoryRequirements2: getProc(ip.getDeviceProcAddr, h,
			"vkGetImageMemoryRequirements2", "vkGetImageMemoryRequirements2KHR"),
		bindImageMemory2: getProc(ip.getDeviceProcAddr, h,
			"vkBindImageMemory2", "vkBindImageMemory2KHR"),
		waitSemaphores: getProc(ip.getDeviceProcAddr, h,
			"vkWaitSemaphores", "vkWaitSemaphoresKHR"),
		getSemaphoreCounterValue: getProc(ip.getDeviceProcAddr, h,
			"vkGetSemaphoreCounterValue", "vkGetSemaphoreCounterValueKHR"),
	}

	for _, req := range []struct {
		ptr  unsafe.Pointer
		name string
	}{
		{dp.getImageMemoryRequirements2, "vkGetImageMemoryRequirements2"},
		{dp.bindImageMemory2, "vkBindImageMemory2"},
		{dp.waitSemaphores, "vkWaitSemaphores"},
		{dp.getSemaphoreCounterValue, "vkGetSemaphoreCounterValue"},
	} {
		if req.ptr == nil {
			return nil, fmt.Errorf("driver does not expose %s: %w", req.name, ErrUnsupported)
		}
	}

	if ext&ExtExternalFDMemory != 0 {
		dp.getMemoryFd = getProc(ip.getDeviceProcAddr, h, "vkGetMemoryFdKHR")
		dp.getMemoryFdProperties = getProc(ip.getDeviceProcAddr, h, "vkGetMemoryFdPropertiesKHR")
		if dp.getMemoryFd == nil || dp.getMemoryFdProperties == nil {
			return nil, fmt.Errorf("VK_KHR_external_memory_fd enabled but entry points missing: %w", ErrUnsupported)
		}
	}
	if ext&ExtExternalFDSemaphore != 0 {
		dp.getSemaphoreFd = getProc(ip.getDeviceProcAddr, h, "vkGetSemaphoreFdKHR")
		dp.importSemaphoreFd = getProc(ip.getDeviceProcAddr, h, "vkImportSemaphoreFdKHR")
		if dp.getSemaphoreFd == nil || dp.importSemaphoreFd == nil {
			return nil, fmt.Errorf("VK_KHR_external_semaphore_fd enabled but entry points missing: %w", ErrUnsupported)
		}
	}
	return dp, nil
}

func (i *Instance) physicalDeviceProperties2(pd vk.PhysicalDevice, props *vk.PhysicalDeviceProperties2) {
	ref, _ := props.PassRef()
	C.vkframeGetPhysicalDeviceProperties2(i.procs.getPhysicalDeviceProperties2,
		C.uint64_t(handleValue(pd)), unsafe.Pointer(ref))
}

func (i *Instance) physicalDeviceFeatures2(pd vk.PhysicalDevice, features *vk.PhysicalDeviceFeatures2) {
	ref, _ := features.PassRef()
	C.vkframeGetPhysicalDeviceFeatures2(i.procs.getPhysicalDeviceFeatures2,
		C.uint64_t(handleValue(pd)), unsafe.Pointer(ref))
}

func (i *Instance) physicalDeviceImageFormatProperties2(pd vk.PhysicalDevice,
	info *vk.PhysicalDeviceImageFormatInfo2, props *vk.ImageFormatProperties2) vk.Result {

	infoRef, _ := info.PassRef()
	propsRef, _ := props.PassRef()
	return vk.Result(C.vkframeGetPhysicalDeviceImageFormatProperties2(
		i.procs.getPhysicalDeviceImageFormatProperties2,
		C.uint64_t(handleValue(pd)), unsafe.Pointer(infoRef), unsafe.Pointer(propsRef)))
}

func (d *Device) imageMemoryRequirements2(info *vk.ImageMemoryRequirementsInfo2, reqs *vk.MemoryRequirements2) {
	infoRef, _ := info.PassRef()
	reqsRef, _ := reqs.PassRef()
	C.vkframeGetImageMemoryRequirements2(d.procs.getImageMemoryRequirements2,
		C.uint64_t(handleValue(d.VKDevice)), unsafe.Pointer(infoRef), unsafe.Pointer(reqsRef))
}

// bindImageMemoryInfo mirrors VkBindImageMemoryInfo so a batch of binds can
// be laid out as the contiguous array the entry point takes.
type bindImageMemoryInfo struct {
	sType        uint32
	_            [4]byte
	pNext        unsafe.Pointer
	image        uint64
	memory       uint64
	memoryOffset uint64
}

func (d *Device) bindImageMemory2(binds []bindImageMemoryInfo) vk.Result {
	return vk.Result(C.vkframeBindImageMemory2(d.procs.bindImageMemory2,
		C.uint64_t(handleValue(d.VKDevice)), C.uint32_t(len(binds)), unsafe.Pointer(&binds[0])))
}

func (d *Device) timelineWait(info *vk.SemaphoreWaitInfo, timeoutNs uint64) vk.Result {
	ref, _ := info.PassRef()
	return vk.Result(C.vkframeWaitSemaphores(d.procs.waitSemaphores,
		C.uint64_t(handleValue(d.VKDevice)), unsafe.Pointer(ref), C.uint64_t(timeoutNs)))
}

func (d *Device) timelineCounterValue(sem vk.Semaphore) (uint64, vk.Result) {
	var value C.uint64_t
	ret := vk.Result(C.vkframeGetSemaphoreCounterValue(d.procs.getSemaphoreCounterValue,
		C.uint64_t(handleValue(d.VKDevice)), C.uint64_t(handleValue(sem)), &value))
	return uint64(value), ret
}

func (d *Device) memoryFd(info *vk.MemoryGetFdInfo) (int, error) {
	if d.procs.getMemoryFd == nil {
		return -1, fmt.Errorf("vkGetMemoryFdKHR not loaded: %w", ErrUnsupported)
	}
	ref, _ := info.PassRef()
	var fd C.int
	ret := vk.Result(C.vkframeGetFd(d.procs.getMemoryFd,
		C.uint64_t(handleValue(d.VKDevice)), unsafe.Pointer(ref), &fd))
	if ret != vk.Success {
		return -1, vkErr("vkGetMemoryFdKHR", ret)
	}
	return int(fd), nil
}

func (d *Device) memoryFdProperties(ht vk.ExternalMemoryHandleTypeFlagBits, fd int, props *vk.MemoryFdProperties) error {
	if d.procs.getMemoryFdProperties == nil {
		return fmt.Errorf("vkGetMemoryFdPropertiesKHR not loaded: %w", ErrUnsupported)
	}
	ref, _ := props.PassRef()
	ret := vk.Result(C.vkframeGetMemoryFdProperties(d.procs.getMemoryFdProperties,
		C.uint64_t(handleValue(d.VKDevice)), C.uint32_t(ht), C.int(fd), unsafe.Pointer(ref)))
	return vkErr("vkGetMemoryFdPropertiesKHR", ret)
}

func (d *Device) semaphoreFd(info *vk.SemaphoreGetFdInfo) (int, error) {
	if d.procs.getSemaphoreFd == nil {
		return -1, fmt.Errorf("vkGetSemaphoreFdKHR not loaded: %w", ErrUnsupported)
	}
	ref, _ := info.PassRef()
	var fd C.int
	ret := vk.Result(C.vkframeGetFd(d.procs.getSemaphoreFd,
		C.uint64_t(handleValue(d.VKDevice)), unsafe.Pointer(ref), &fd))
	if ret != vk.Success {
		return -1, vkErr("vkGetSemaphoreFdKHR", ret)
	}
	return int(fd), nil
}

func (d *Device) importSemaphoreFd(info *vk.ImportSemaphoreFdInfo) error {
	if d.procs.importSemaphoreFd == nil {
		return fmt.Errorf("vkImportSemaphoreFdKHR not loaded: %w", ErrUnsupported)
	}
	ref, _ := info.PassRef()
	ret := vk.Result(C.vkframeImportSemaphoreFd(d.procs.importSemaphoreFd,
		C.uint64_t(handleValue(d.VKDevice)), unsafe.Pointer(ref)))
	return vkErr("vkImportSemaphoreFdKHR", ret)
}
