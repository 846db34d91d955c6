package vkframe

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"golang.org/x/sys/unix"
)

// ForeignImport is per-frame state another API built around a shared frame,
// cached on the frame so the mapping is done once. Close is called when the
// frame is destroyed.
type ForeignImport interface {
	Close() error
}

// ForeignImportFor returns the cached per-API state stored under key, or
// nil when none was cached yet.
func (f *Frame) ForeignImportFor(key string) ForeignImport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.foreign[key]
}

// CacheForeignImport stores per-API state under key, replacing and closing
// any previous entry.
func (f *Frame) CacheForeignImport(key string, fi ForeignImport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.foreign == nil {
		f.foreign = make(map[string]ForeignImport)
	}
	if old, ok := f.foreign[key]; ok && old != nil {
		if err := old.Close(); err != nil {
			Logger().Warn("closing replaced foreign import", "key", key, "err", err)
		}
	}
	f.foreign[key] = fi
}

// probeExportHandleTypes asks the driver which external handle types it can
// export for images shaped like the plan. Each candidate type is probed
// with the exact format, tiling and usage the frame will use; a type counts
// only when every image format of the plan is exportable through it.
func (d *Device) probeExportHandleTypes(plan *FormatPlan, usage vk.ImageUsageFlags) vk.ExternalMemoryHandleTypeFlags {
	candidates := []vk.ExternalMemoryHandleTypeFlagBits{
		vk.ExternalMemoryHandleTypeOpaqueFdBit,
	}
	if d.Extensions&ExtExternalDMABufMemory != 0 {
		candidates = append(candidates, externalMemoryHandleTypeDmaBufBit)
	}

	var out vk.ExternalMemoryHandleTypeFlags
	for _, ht := range candidates {
		ok := true
		for _, format := range plan.Formats {
			if !d.exportableImageFormat(format, plan.Tiling, usage, ht) {
				ok = false
				break
			}
		}
		if ok {
			out |= vk.ExternalMemoryHandleTypeFlags(ht)
		}
	}
	return out
}

func (d *Device) exportableImageFormat(format vk.Format, tiling vk.ImageTiling, usage vk.ImageUsageFlags, ht vk.ExternalMemoryHandleTypeFlagBits) bool {
	extInfo := vk.PhysicalDeviceExternalImageFormatInfo{
		SType:      vk.StructureTypePhysicalDeviceExternalImageFormatInfo,
		HandleType: ht,
	}
	extRef, _ := extInfo.PassRef()
	info := vk.PhysicalDeviceImageFormatInfo2{
		SType:  vk.StructureTypePhysicalDeviceImageFormatInfo2,
		PNext:  unsafe.Pointer(extRef),
		Format: format,
		Type:   vk.ImageType2d,
		Tiling: tiling,
		Usage:  usage,
		Flags:  vk.ImageCreateFlags(vk.ImageCreateAliasBit),
	}

	extProps := vk.ExternalImageFormatProperties{
		SType: vk.StructureTypeExternalImageFormatProperties,
	}
	extPropsRef, _ := extProps.PassRef()
	props := vk.ImageFormatProperties2{
		SType: vk.StructureTypeImageFormatProperties2,
		PNext: unsafe.Pointer(extPropsRef),
	}

	ret := d.Instance.physicalDeviceImageFormatProperties2(d.PhysicalDevice.VKPhysicalDevice, &info, &props)
	if ret != vk.Success {
		return false
	}
	extProps.Deref()
	extProps.ExternalMemoryProperties.Deref()
	features := extProps.ExternalMemoryProperties.ExternalMemoryFeatures
	return features&vk.ExternalMemoryFeatureFlags(vk.ExternalMemoryFeatureExportableBit) != 0
}

// PlaneLayout is the byte layout of one plane within exported memory. Only
// meaningful for linear frames.
type PlaneLayout struct {
	Offset uint64
	Pitch  uint64
	Size   uint64
}

// ExportedFrame carries the POSIX file descriptors and layout a foreign
// device or API needs to adopt a frame. The receiver owns the descriptors.
type ExportedFrame struct {
	PixelFormat PixelFormat
	Width       int
	Height      int
	HandleType  vk.ExternalMemoryHandleTypeFlagBits

	// MemoryFDs has one descriptor per backing image.
	MemoryFDs []int

	// SemaphoreFDs has one descriptor per backing image, in step with
	// MemoryFDs. Empty when the driver cannot export semaphores.
	SemaphoreFDs []int

	// PlaneLayouts is populated for linear frames only.
	PlaneLayouts []PlaneLayout
}

// Close releases every descriptor the export still holds.
func (ef *ExportedFrame) Close() error {
	var firstErr error
	for _, fd := range ef.MemoryFDs {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, fd := range ef.SemaphoreFDs {
		if err := unix.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ef.MemoryFDs = nil
	ef.SemaphoreFDs = nil
	return firstErr
}

// Export hands the frame off to an external owner and returns the
// descriptors describing it. A release barrier to GENERAL layout with
// external queue family ownership is submitted through the pool first, so
// the counters the receiver sees already cover all prior work.
func (f *Frame) Export(pool *ExecPool, handleType vk.ExternalMemoryHandleTypeFlagBits) (*ExportedFrame, error) {
	if f.ExportHandleTypes&vk.ExternalMemoryHandleTypeFlags(handleType) == 0 {
		return nil, fmt.Errorf("frame memory was not created shareable as type 0x%x: %w",
			handleType, ErrUnsupported)
	}

	e := pool.Acquire()
	if err := e.Begin(); err != nil {
		return nil, err
	}
	if err := e.AddFrameDependency(f); err != nil {
		return nil, err
	}
	e.RecordBarrier(f, vk.ImageLayoutGeneral,
		vk.AccessFlags(vk.AccessMemoryReadBit|vk.AccessMemoryWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		queueFamilyExternal)
	if err := e.Submit(); err != nil {
		return nil, err
	}

	ef := &ExportedFrame{
		PixelFormat: f.Plan.PixelFormat,
		Width:       f.Width,
		Height:      f.Height,
		HandleType:  handleType,
	}

	for _, mem := range f.Memory {
		getInfo := vk.MemoryGetFdInfo{
			SType:      vk.StructureTypeMemoryGetFdInfo,
			Memory:     mem.VKDeviceMemory,
			HandleType: handleType,
		}
		fd, err := f.Device.memoryFd(&getInfo)
		if err != nil {
			ef.Close()
			return nil, err
		}
		ef.MemoryFDs = append(ef.MemoryFDs, fd)
	}

	if f.Device.Extensions&ExtExternalFDSemaphore != 0 {
		for _, sem := range f.Semaphores {
			getInfo := vk.SemaphoreGetFdInfo{
				SType:      vk.StructureTypeSemaphoreGetFdInfo,
				Semaphore:  sem,
				HandleType: vk.ExternalSemaphoreHandleTypeOpaqueFdBit,
			}
			fd, err := f.Device.semaphoreFd(&getInfo)
			if err != nil {
				ef.Close()
				return nil, err
			}
			ef.SemaphoreFDs = append(ef.SemaphoreFDs, fd)
		}
	}

	if f.Tiling == vk.ImageTilingLinear {
		for i, img := range f.Images {
			layout := f.subresourceLayout(img, i)
			ef.PlaneLayouts = append(ef.PlaneLayouts, layout)
		}
	}

	return ef, nil
}

func (f *Frame) subresourceLayout(img vk.Image, index int) PlaneLayout {
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if f.Plan.Multiplanar() {
		switch index {
		case 0:
			aspect = vk.ImageAspectFlags(vk.ImageAspectPlane0Bit)
		case 1:
			aspect = vk.ImageAspectFlags(vk.ImageAspectPlane1Bit)
		case 2:
			aspect = vk.ImageAspectFlags(vk.ImageAspectPlane2Bit)
		}
	}
	sub := vk.ImageSubresource{AspectMask: aspect}
	var layout vk.SubresourceLayout
	vk.GetImageSubresourceLayout(f.Device.VKDevice, img, &sub, &layout)
	layout.Deref()
	return PlaneLayout{
		Offset: uint64(layout.Offset),
		Pitch:  uint64(layout.RowPitch),
		Size:   uint64(layout.Size),
	}
}

// MarkForeignAccess accounts for one round of external work on an exported
// frame: the foreign side waited on counter and signaled counter+1 through
// the exported semaphores, so local bookkeeping advances to match.
func (f *Frame) MarkForeignAccess() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.SemValues {
		f.SemValues[i]++
	}
}

// ForeignPlane locates one plane inside memory imported from elsewhere.
type ForeignPlane struct {
	FD     int
	Offset uint64
	Pitch  uint64
	Size   uint64
}

// ForeignFrameDescriptor describes a frame allocated by another device or
// API, to be adopted with ImportFrame. The descriptors stay owned by the
// caller; the import duplicates what it keeps.
type ForeignFrameDescriptor struct {
	PixelFormat PixelFormat
	Width       int
	Height      int
	HandleType  vk.ExternalMemoryHandleTypeFlagBits

	Planes []ForeignPlane

	// SemaphoreFDs are optional opaque-FD timeline semaphores paired with
	// the planes. Without them the first local consumer of the frame
	// drains the device instead.
	SemaphoreFDs []int

	// SemaphoreValues are the current counters of the imported semaphores,
	// one per descriptor. Zero-valued when the exporter just created them.
	SemaphoreValues []uint64
}

// ImportFrame adopts externally allocated frame memory. One linear image
// per plane is created and bound at the caller-supplied offsets; the FD's
// compatible memory types are intersected with the image requirements
// before the type is picked.
func (d *Device) ImportFrame(desc *ForeignFrameDescriptor) (*Frame, error) {
	if d.Extensions&ExtExternalFDMemory == 0 {
		return nil, fmt.Errorf("device lacks external memory import: %w", ErrUnsupported)
	}
	if len(desc.Planes) == 0 || len(desc.Planes) > maxFramePlanes {
		return nil, fmt.Errorf("import with %d planes, want 1..%d: %w",
			len(desc.Planes), maxFramePlanes, ErrUnsupported)
	}
	if len(desc.SemaphoreFDs) != 0 && len(desc.SemaphoreFDs) != len(desc.Planes) {
		return nil, fmt.Errorf("import with %d semaphores for %d planes: %w",
			len(desc.SemaphoreFDs), len(desc.Planes), ErrUnsupported)
	}
	if len(desc.SemaphoreValues) != 0 && len(desc.SemaphoreValues) != len(desc.SemaphoreFDs) {
		return nil, fmt.Errorf("import with %d semaphore values for %d semaphores: %w",
			len(desc.SemaphoreValues), len(desc.SemaphoreFDs), ErrUnsupported)
	}

	plan, err := resolveFormat(desc.PixelFormat, vk.ImageTilingLinear, false, true,
		d.PhysicalDevice.formatFeatures)
	if err != nil {
		return nil, err
	}
	if plan.PlaneCount != len(desc.Planes) {
		return nil, fmt.Errorf("format %s has %d planes, import describes %d: %w",
			desc.PixelFormat, plan.PlaneCount, len(desc.Planes), ErrUnsupported)
	}

	usage := vk.ImageUsageFlags(vk.ImageUsageSampledBit|vk.ImageUsageTransferSrcBit|
		vk.ImageUsageTransferDstBit) & plan.SupportedUsage

	f := &Frame{
		Device:     d,
		Plan:       plan,
		Width:      desc.Width,
		Height:     desc.Height,
		Layers:     1,
		Tiling:     vk.ImageTilingLinear,
		Imported:   true,
		needsDrain: len(desc.SemaphoreFDs) == 0,
	}

	nb := len(plan.Formats)
	f.SemValues = make([]uint64, nb)
	f.Layouts = make([]vk.ImageLayout, nb)
	f.Access = make([]vk.AccessFlags, nb)
	f.QueueFamily = make([]uint32, nb)
	for i := 0; i < nb; i++ {
		f.Layouts[i] = vk.ImageLayoutUndefined
		f.QueueFamily[i] = queueFamilyExternal
	}

	types := d.PhysicalDevice.MemoryTypes()
	heaps := d.PhysicalDevice.MemoryHeaps()

	binds := make([]bindImageMemoryInfo, 0, nb)

	for i := 0; i < nb; i++ {
		img, err := d.createImportImage(plan, i, desc.Width, desc.Height, usage, desc.HandleType)
		if err != nil {
			f.rollback()
			return nil, err
		}
		f.Images = append(f.Images, img)

		mem, err := d.importPlaneMemory(img, &desc.Planes[i], desc.HandleType, types, heaps)
		if err != nil {
			f.rollback()
			return nil, err
		}
		f.Memory = append(f.Memory, mem)

		binds = append(binds, bindImageMemoryInfo{
			sType:        uint32(vk.StructureTypeBindImageMemoryInfo),
			image:        handleValue(img),
			memory:       handleValue(mem.VKDeviceMemory),
			memoryOffset: desc.Planes[i].Offset,
		})
	}

	ret := d.bindImageMemory2(binds)
	if ret != vk.Success {
		f.rollback()
		return nil, vkErr("vkBindImageMemory2", ret)
	}

	// The driver decides linear pitches; a mismatch with the foreign
	// layout would silently shear the picture, so reject it.
	for i, img := range f.Images {
		if desc.Planes[i].Pitch == 0 {
			continue
		}
		got := f.subresourceLayout(img, i)
		if got.Pitch != desc.Planes[i].Pitch {
			f.rollback()
			return nil, fmt.Errorf("plane %d pitch %d not representable (driver picked %d): %w",
				i, desc.Planes[i].Pitch, got.Pitch, ErrUnsupported)
		}
	}

	for i := 0; i < nb; i++ {
		sem, err := d.createTimelineSemaphore(0, false)
		if err != nil {
			f.rollback()
			return nil, err
		}
		f.Semaphores = append(f.Semaphores, sem)

		if len(desc.SemaphoreFDs) > 0 {
			dupFd, err := unix.Dup(desc.SemaphoreFDs[i])
			if err != nil {
				f.rollback()
				return nil, fmt.Errorf("duplicating semaphore fd: %w", err)
			}
			importInfo := vk.ImportSemaphoreFdInfo{
				SType:      vk.StructureTypeImportSemaphoreFdInfo,
				Semaphore:  sem,
				HandleType: vk.ExternalSemaphoreHandleTypeOpaqueFdBit,
				Fd:         int32(dupFd),
			}
			if err := d.importSemaphoreFd(&importInfo); err != nil {
				unix.Close(dupFd)
				f.rollback()
				return nil, err
			}
			if len(desc.SemaphoreValues) > 0 {
				f.SemValues[i] = desc.SemaphoreValues[i]
			}
		}
	}

	return f, nil
}

func (d *Device) createImportImage(plan *FormatPlan, index, width, height int, usage vk.ImageUsageFlags, ht vk.ExternalMemoryHandleTypeFlagBits) (vk.Image, error) {
	w, h := plan.PlaneExtent(index, width, height)

	extInfo := vk.ExternalMemoryImageCreateInfo{
		SType:       vk.StructureTypeExternalMemoryImageCreateInfo,
		HandleTypes: vk.ExternalMemoryHandleTypeFlags(ht),
	}
	extRef, _ := extInfo.PassRef()

	createInfo := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		PNext:         unsafe.Pointer(extRef),
		ImageType:     vk.ImageType2d,
		Format:        plan.Formats[index],
		Extent:        vk.Extent3D{Width: uint32(w), Height: uint32(h), Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingLinear,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}

	var img vk.Image
	ret := vk.CreateImage(d.VKDevice, &createInfo, nil, &img)
	if ret != vk.Success {
		return vk.NullImage, vkErr("vkCreateImage", ret)
	}
	return img, nil
}

// importPlaneMemory duplicates the plane's descriptor and imports it. The
// duplicate is consumed by the driver on success and closed here on
// failure, so the caller's descriptor survives either way.
func (d *Device) importPlaneMemory(img vk.Image, plane *ForeignPlane, ht vk.ExternalMemoryHandleTypeFlagBits, types []vk.MemoryType, heaps []vk.MemoryHeap) (*DeviceMemory, error) {
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.VKDevice, img, &reqs)
	reqs.Deref()

	dupFd, err := unix.Dup(plane.FD)
	if err != nil {
		return nil, fmt.Errorf("duplicating memory fd: %w", err)
	}

	var fdProps vk.MemoryFdProperties
	fdProps.SType = vk.StructureTypeMemoryFdProperties
	if err := d.memoryFdProperties(ht, dupFd, &fdProps); err != nil {
		unix.Close(dupFd)
		return nil, err
	}
	fdProps.Deref()

	typeBits := reqs.MemoryTypeBits & fdProps.MemoryTypeBits
	size := plane.Offset + plane.Size
	if size < uint64(reqs.Size) {
		size = uint64(reqs.Size)
	}

	typeIndex, err := chooseMemoryType(types, heaps, typeBits, 0, vk.DeviceSize(size))
	if err != nil {
		unix.Close(dupFd)
		return nil, err
	}

	importInfo := vk.ImportMemoryFdInfo{
		SType:      vk.StructureTypeImportMemoryFdInfo,
		HandleType: ht,
		Fd:         int32(dupFd),
	}
	importRef, _ := importInfo.PassRef()

	dedInfo := vk.MemoryDedicatedAllocateInfo{
		SType: vk.StructureTypeMemoryDedicatedAllocateInfo,
		PNext: unsafe.Pointer(importRef),
		Image: img,
	}
	dedRef, _ := dedInfo.PassRef()

	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		PNext:           unsafe.Pointer(dedRef),
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: typeIndex,
	}

	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(d.VKDevice, &allocInfo, nil, &mem)
	if ret != vk.Success {
		unix.Close(dupFd)
		return nil, vkErr("vkAllocateMemory", ret)
	}

	return &DeviceMemory{Device: d, VKDeviceMemory: mem, Size: size}, nil
}

// AcquireFromExternal records the barrier taking ownership of an imported
// or previously exported frame back from the external queue family.
func (e *ExecContext) AcquireFromExternal(f *Frame, newLayout vk.ImageLayout, newAccess vk.AccessFlags) {
	e.RecordBarrier(f, newLayout, newAccess,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		e.Pool.FamilyIndex)
}
