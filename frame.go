package vkframe

import (
	"fmt"
	"sync"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// maxFramePlanes bounds the number of images a frame can be backed by.
const maxFramePlanes = 4

// FrameOptions tweaks frame creation.
type FrameOptions struct {
	// NoExport skips the export capability probe, making the frame
	// device-local only even when the driver could share it.
	NoExport bool
}

// Frame is one video frame resident on the device. Depending on the plan it
// is backed by a single combined image or by one image per data plane; the
// per-image slices below all share indexing.
//
// Each image carries a timeline semaphore. SemValues holds the counter value
// the last submitted work will signal; waiting for SemValues and then using
// the recorded Layouts/Access/QueueFamily reproduces the frame's state.
type Frame struct {
	Device *Device
	Plan   *FormatPlan

	Width  int
	Height int
	Layers int
	Tiling vk.ImageTiling

	Images     []vk.Image
	Memory     []*DeviceMemory
	Semaphores []vk.Semaphore
	SemValues  []uint64

	Layouts     []vk.ImageLayout
	Access      []vk.AccessFlags
	QueueFamily []uint32

	// ExportHandleTypes is nonzero when the backing memory was created
	// shareable; it holds the handle types the probe accepted.
	ExportHandleTypes vk.ExternalMemoryHandleTypeFlags

	// Imported marks frames whose memory came from another device or API.
	Imported bool

	// needsDrain is set on imports that arrived without semaphores; the
	// first consumer waits for device idle instead.
	needsDrain bool

	mu      sync.Mutex
	foreign map[string]ForeignImport
}

// CreateFrame allocates a frame laid out per the plan. usage must be a
// subset of the plan's SupportedUsage. On any failure every partially
// created resource is destroyed before the error returns.
func (d *Device) CreateFrame(plan *FormatPlan, width, height int, usage vk.ImageUsageFlags, layers int, opts *FrameOptions) (*Frame, error) {
	if opts == nil {
		opts = &FrameOptions{}
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame dimensions %dx%d invalid: %w", width, height, ErrUnsupported)
	}
	if layers <= 0 {
		layers = 1
	}
	if usage&^plan.SupportedUsage != 0 {
		return nil, fmt.Errorf("usage 0x%x exceeds supported 0x%x for %s: %w",
			usage, plan.SupportedUsage, plan.PixelFormat, ErrUnsupported)
	}
	if len(plan.Formats) == 0 || len(plan.Formats) > maxFramePlanes {
		return nil, fmt.Errorf("plan has %d images, at most %d supported: %w",
			len(plan.Formats), maxFramePlanes, ErrUnsupported)
	}

	var exportTypes vk.ExternalMemoryHandleTypeFlags
	if !opts.NoExport && d.Extensions&ExtExternalFDMemory != 0 {
		exportTypes = d.probeExportHandleTypes(plan, usage)
	}
	exportSems := exportTypes != 0 && d.Extensions&ExtExternalFDSemaphore != 0

	f := &Frame{
		Device: d,
		Plan:   plan,
		Width:  width,
		Height: height,
		Layers: layers,
		Tiling: plan.Tiling,

		ExportHandleTypes: exportTypes,
	}

	nb := len(plan.Formats)
	f.Images = make([]vk.Image, 0, nb)
	f.Memory = make([]*DeviceMemory, 0, nb)
	f.Semaphores = make([]vk.Semaphore, 0, nb)
	f.SemValues = make([]uint64, nb)
	f.Layouts = make([]vk.ImageLayout, nb)
	f.Access = make([]vk.AccessFlags, nb)
	f.QueueFamily = make([]uint32, nb)
	for i := range f.QueueFamily {
		f.QueueFamily[i] = uint32(vk.QueueFamilyIgnored)
		f.Layouts[i] = vk.ImageLayoutUndefined
	}

	for i := 0; i < nb; i++ {
		img, err := d.createFrameImage(plan, i, width, height, usage, layers, exportTypes)
		if err != nil {
			f.rollback()
			return nil, err
		}
		f.Images = append(f.Images, img)

		sem, err := d.createTimelineSemaphore(0, exportSems)
		if err != nil {
			f.rollback()
			return nil, err
		}
		f.Semaphores = append(f.Semaphores, sem)
	}

	if err := d.allocBindFrameMemory(f, exportTypes); err != nil {
		f.rollback()
		return nil, err
	}

	return f, nil
}

// createFrameImage creates one backing image. For a multi-image plan the
// index selects the plane whose chroma-adjusted extent applies.
func (d *Device) createFrameImage(plan *FormatPlan, index, width, height int, usage vk.ImageUsageFlags, layers int, exportTypes vk.ExternalMemoryHandleTypeFlags) (vk.Image, error) {
	w, h := width, height
	if !plan.Multiplanar() {
		w, h = plan.PlaneExtent(index, width, height)
	}

	createInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        plan.Formats[index],
		Extent:        vk.Extent3D{Width: uint32(w), Height: uint32(h), Depth: 1},
		MipLevels:     1,
		ArrayLayers:   uint32(layers),
		Samples:       vk.SampleCount1Bit,
		Tiling:        plan.Tiling,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	// Shareable memory may be bound to another image on the far side.
	if exportTypes != 0 {
		createInfo.Flags = vk.ImageCreateFlags(vk.ImageCreateAliasBit)
		extInfo := vk.ExternalMemoryImageCreateInfo{
			SType:       vk.StructureTypeExternalMemoryImageCreateInfo,
			HandleTypes: exportTypes,
		}
		extRef, _ := extInfo.PassRef()
		createInfo.PNext = unsafe.Pointer(extRef)
	}

	if len(d.imageQueueFamilies) > 1 {
		createInfo.SharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = uint32(len(d.imageQueueFamilies))
		createInfo.PQueueFamilyIndices = d.imageQueueFamilies
	}

	var img vk.Image
	ret := vk.CreateImage(d.VKDevice, &createInfo, nil, &img)
	if ret != vk.Success {
		return vk.NullImage, vkErr("vkCreateImage", ret)
	}
	return img, nil
}

// allocBindFrameMemory allocates memory for every image of the frame and
// binds it in one batch. Dedicated allocations are used when the driver
// prefers them; linear images are padded to the map alignment so the whole
// plane can be mapped.
func (d *Device) allocBindFrameMemory(f *Frame, exportTypes vk.ExternalMemoryHandleTypeFlags) error {
	props := vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit)
	if f.Tiling == vk.ImageTilingLinear {
		props = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}

	types := d.PhysicalDevice.MemoryTypes()
	heaps := d.PhysicalDevice.MemoryHeaps()

	binds := make([]bindImageMemoryInfo, 0, len(f.Images))

	for _, img := range f.Images {
		dedicatedReq := vk.MemoryDedicatedRequirements{
			SType: vk.StructureTypeMemoryDedicatedRequirements,
		}
		dedRef, _ := dedicatedReq.PassRef()
		req2 := vk.MemoryRequirements2{
			SType: vk.StructureTypeMemoryRequirements2,
			PNext: unsafe.Pointer(dedRef),
		}
		info := vk.ImageMemoryRequirementsInfo2{
			SType: vk.StructureTypeImageMemoryRequirementsInfo2,
			Image: img,
		}
		d.imageMemoryRequirements2(&info, &req2)
		req2.Deref()
		req2.MemoryRequirements.Deref()
		dedicatedReq.Deref()

		size := uint64(req2.MemoryRequirements.Size)
		if f.Tiling == vk.ImageTilingLinear {
			size = alignUp(size, uint64(d.minMemoryMapAlignment()))
		}

		typeIndex, err := chooseMemoryType(types, heaps,
			req2.MemoryRequirements.MemoryTypeBits, props, vk.DeviceSize(size))
		if err != nil {
			return err
		}

		allocInfo := vk.MemoryAllocateInfo{
			SType:           vk.StructureTypeMemoryAllocateInfo,
			AllocationSize:  vk.DeviceSize(size),
			MemoryTypeIndex: typeIndex,
		}

		var chain unsafe.Pointer
		if dedicatedReq.PrefersDedicatedAllocation == vk.Bool32(vk.True) ||
			dedicatedReq.RequiresDedicatedAllocation == vk.Bool32(vk.True) {
			dedAlloc := vk.MemoryDedicatedAllocateInfo{
				SType: vk.StructureTypeMemoryDedicatedAllocateInfo,
				Image: img,
			}
			dedAllocRef, _ := dedAlloc.PassRef()
			chain = unsafe.Pointer(dedAllocRef)
		}
		if exportTypes != 0 {
			exportInfo := vk.ExportMemoryAllocateInfo{
				SType:       vk.StructureTypeExportMemoryAllocateInfo,
				PNext:       chain,
				HandleTypes: exportTypes,
			}
			exportRef, _ := exportInfo.PassRef()
			chain = unsafe.Pointer(exportRef)
		}
		allocInfo.PNext = chain

		var mem vk.DeviceMemory
		ret := vk.AllocateMemory(d.VKDevice, &allocInfo, nil, &mem)
		if ret != vk.Success {
			return vkErr("vkAllocateMemory", ret)
		}
		f.Memory = append(f.Memory, &DeviceMemory{Device: d, VKDeviceMemory: mem, Size: size})

		binds = append(binds, bindImageMemoryInfo{
			sType:  uint32(vk.StructureTypeBindImageMemoryInfo),
			image:  handleValue(img),
			memory: handleValue(mem),
		})
	}

	ret := d.bindImageMemory2(binds)
	if ret != vk.Success {
		return vkErr("vkBindImageMemory2", ret)
	}
	return nil
}

func (d *Device) minMemoryMapAlignment() uint {
	limits := d.PhysicalDevice.VKPhysicalDeviceProperties.Limits
	limits.Deref()
	a := uint(limits.MinMemoryMapAlignment)
	if a == 0 {
		a = 1
	}
	return a
}

// rollback destroys whatever a failed CreateFrame got around to creating.
func (f *Frame) rollback() {
	for _, sem := range f.Semaphores {
		f.Device.VKDestroySemaphore(sem)
	}
	for _, img := range f.Images {
		vk.DestroyImage(f.Device.VKDevice, img, nil)
	}
	for _, mem := range f.Memory {
		mem.Destroy()
	}
	f.Semaphores = nil
	f.Images = nil
	f.Memory = nil
}

func (f *Frame) lock() {
	f.mu.Lock()
}

func (f *Frame) unlock() {
	f.mu.Unlock()
}

// waitPlan snapshots what WaitIdle must block on. The drain flag is
// consumed at most once; the copies keep the wait outside f.mu.
func (f *Frame) waitPlan() (sems []vk.Semaphore, values []uint64, drain bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.needsDrain {
		f.needsDrain = false
		return nil, nil, true
	}
	sems = append(sems, f.Semaphores...)
	values = append(values, f.SemValues...)
	return sems, values, false
}

// WaitIdle blocks until every submission that touched the frame has
// completed, up to the timeout.
func (f *Frame) WaitIdle(timeout time.Duration) error {
	sems, values, drain := f.waitPlan()
	if drain {
		f.Device.WaitIdle()
		return nil
	}
	return f.Device.waitSemaphores(sems, values, uint64(timeout.Nanoseconds()))
}

// Destroy waits for outstanding work on the frame and releases every
// resource it owns. The wait is best effort; a driver failure is logged and
// teardown proceeds.
func (f *Frame) Destroy() {
	if err := f.WaitIdle(5 * time.Second); err != nil {
		Logger().Warn("frame teardown proceeding without idle wait", "err", err)
		for i, sem := range f.Semaphores {
			if value, ret := f.Device.timelineCounterValue(sem); ret == vk.Success {
				Logger().Warn("plane still pending", "plane", i,
					"counter", value, "target", f.SemValues[i])
			}
		}
	}

	f.mu.Lock()
	for key, fi := range f.foreign {
		if err := fi.Close(); err != nil {
			Logger().Warn("closing cached foreign import", "key", key, "err", err)
		}
	}
	f.foreign = nil
	f.mu.Unlock()

	for _, sem := range f.Semaphores {
		f.Device.VKDestroySemaphore(sem)
	}
	for _, img := range f.Images {
		vk.DestroyImage(f.Device.VKDevice, img, nil)
	}
	for _, mem := range f.Memory {
		mem.Destroy()
	}
	f.Semaphores = nil
	f.Images = nil
	f.Memory = nil
}
