package vkframe

import (
	"bytes"
	"fmt"
	"strings"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// PhysicalDevice wraps an adapter together with the properties selection
// and allocation decisions need.
type PhysicalDevice struct {
	Instance         *Instance
	DeviceName       string
	VKPhysicalDevice vk.PhysicalDevice

	VKPhysicalDeviceProperties vk.PhysicalDeviceProperties

	// UUID is the 16-byte device UUID from VkPhysicalDeviceIDProperties.
	UUID []byte

	// DRM node numbers, valid only when HasDRM is set. Requires the
	// driver to expose VK_EXT_physical_device_drm.
	HasDRM       bool
	PrimaryMajor int64
	PrimaryMinor int64
	RenderMajor  int64
	RenderMinor  int64
}

func (p *PhysicalDevice) String() string {
	return p.DeviceName
}

// DeviceType returns a readable classification of the adapter.
func (p *PhysicalDevice) DeviceType() string {
	switch p.VKPhysicalDeviceProperties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "software"
	default:
		return "unknown"
	}
}

//PhysicalDevices returns a list of physical devices known to Vulkan
func (i *Instance) PhysicalDevices() ([]*PhysicalDevice, error) {
	var deviceCount uint32
	err := vk.Error(vk.EnumeratePhysicalDevices(i.VKInstance, &deviceCount, nil))
	if err != nil {
		return nil, err
	}

	if deviceCount == 0 {
		return nil, nil
	}

	devices := make([]vk.PhysicalDevice, deviceCount)
	err = vk.Error(vk.EnumeratePhysicalDevices(i.VKInstance, &deviceCount, devices))
	if err != nil {
		return nil, err
	}

	ret := make([]*PhysicalDevice, deviceCount)
	for j, device := range devices {
		ret[j] = &PhysicalDevice{Instance: i}
		ret[j].VKPhysicalDevice = device

		vk.GetPhysicalDeviceProperties(device, &ret[j].VKPhysicalDeviceProperties)
		ret[j].VKPhysicalDeviceProperties.Deref()
		ret[j].DeviceName = vk.ToString(ret[j].VKPhysicalDeviceProperties.DeviceName[:])

		ret[j].queryExtendedProperties()

		Logger().Debug("found adapter",
			"index", j,
			"name", ret[j].DeviceName,
			"type", ret[j].DeviceType(),
			"vendor", ret[j].VKPhysicalDeviceProperties.VendorID,
			"device", ret[j].VKPhysicalDeviceProperties.DeviceID)
	}
	return ret, nil
}

// queryExtendedProperties fills in the device UUID and, when the driver
// supports VK_EXT_physical_device_drm, the DRM node numbers.
func (p *PhysicalDevice) queryExtendedProperties() {
	var drm drmProperties
	queryDRM := false
	if exts, err := p.SupportedExtensionNames(); err == nil {
		for _, e := range exts {
			if e == "VK_EXT_physical_device_drm" {
				queryDRM = true
				break
			}
		}
	}

	idProps := vk.PhysicalDeviceIDProperties{
		SType: vk.StructureTypePhysicalDeviceIdProperties,
	}
	if queryDRM {
		drm.sType = structureTypeDrmProperties
		idProps.PNext = unsafe.Pointer(&drm)
	}
	idRef, _ := idProps.PassRef()

	props2 := vk.PhysicalDeviceProperties2{
		SType: vk.StructureTypePhysicalDeviceProperties2,
		PNext: unsafe.Pointer(idRef),
	}
	p.Instance.physicalDeviceProperties2(p.VKPhysicalDevice, &props2)
	idProps.Deref()

	p.UUID = make([]byte, len(idProps.DeviceUUID))
	copy(p.UUID, idProps.DeviceUUID[:])

	if queryDRM && (drm.hasPrimary == vk.Bool32(vk.True) || drm.hasRender == vk.Bool32(vk.True)) {
		p.HasDRM = true
		p.PrimaryMajor = drm.primaryMajor
		p.PrimaryMinor = drm.primaryMinor
		p.RenderMajor = drm.renderMajor
		p.RenderMinor = drm.renderMinor
	}
}

// DeviceSelector identifies one adapter among those the instance exposes.
// The most specific populated criterion wins: UUID, then DRM node, then
// name, then PCI device id, then vendor id, then plain index. An ambiguous
// match under the chosen criterion is an error rather than a silent pick.
type DeviceSelector struct {
	// UUID matches VkPhysicalDeviceIDProperties.deviceUUID, 16 bytes.
	UUID []byte

	// DRM selects by device node numbers. Both primary and render nodes
	// of an adapter match.
	HasDRM   bool
	DRMMajor int64
	DRMMinor int64

	// Name matches any adapter whose device name contains it.
	Name string

	// PCIDeviceID matches VkPhysicalDeviceProperties.deviceID.
	PCIDeviceID uint32

	// VendorID matches VkPhysicalDeviceProperties.vendorID.
	VendorID uint32

	// Index picks the nth enumerated adapter when nothing else is set.
	Index int
}

// matchPhysicalDevice applies the selector precedence over the enumerated
// adapters and returns the index of the match.
func matchPhysicalDevice(sel *DeviceSelector, devices []*PhysicalDevice) (int, error) {
	if len(devices) == 0 {
		return -1, fmt.Errorf("no adapters present: %w", ErrDeviceNotFound)
	}
	if sel == nil {
		sel = &DeviceSelector{}
	}

	type criterion struct {
		active bool
		what   string
		match  func(d *PhysicalDevice) bool
	}
	criteria := []criterion{
		{len(sel.UUID) > 0, "uuid", func(d *PhysicalDevice) bool {
			return bytes.Equal(d.UUID, sel.UUID)
		}},
		{sel.HasDRM, "drm node", func(d *PhysicalDevice) bool {
			if !d.HasDRM {
				return false
			}
			return (d.PrimaryMajor == sel.DRMMajor && d.PrimaryMinor == sel.DRMMinor) ||
				(d.RenderMajor == sel.DRMMajor && d.RenderMinor == sel.DRMMinor)
		}},
		{sel.Name != "", "name", func(d *PhysicalDevice) bool {
			return strings.Contains(d.DeviceName, sel.Name)
		}},
		{sel.PCIDeviceID != 0, "pci device id", func(d *PhysicalDevice) bool {
			return d.VKPhysicalDeviceProperties.DeviceID == sel.PCIDeviceID
		}},
		{sel.VendorID != 0, "vendor id", func(d *PhysicalDevice) bool {
			return d.VKPhysicalDeviceProperties.VendorID == sel.VendorID
		}},
	}

	for _, c := range criteria {
		if !c.active {
			continue
		}
		found := -1
		for j, d := range devices {
			if !c.match(d) {
				continue
			}
			if found >= 0 {
				return -1, fmt.Errorf("selector %s matches more than one adapter", c.what)
			}
			found = j
		}
		if found < 0 {
			return -1, fmt.Errorf("no adapter matches %s: %w", c.what, ErrDeviceNotFound)
		}
		return found, nil
	}

	if sel.Index < 0 || sel.Index >= len(devices) {
		return -1, fmt.Errorf("adapter index %d out of range (have %d): %w",
			sel.Index, len(devices), ErrDeviceNotFound)
	}
	return sel.Index, nil
}

// SelectPhysicalDevice picks an adapter with the given selector. A nil
// selector picks the first enumerated adapter.
func (i *Instance) SelectPhysicalDevice(sel *DeviceSelector) (*PhysicalDevice, error) {
	devices, err := i.PhysicalDevices()
	if err != nil {
		return nil, fmt.Errorf("error enumerating adapters: %w", err)
	}
	idx, err := matchPhysicalDevice(sel, devices)
	if err != nil {
		return nil, err
	}
	p := devices[idx]
	Logger().Info("selected adapter", "name", p.DeviceName, "type", p.DeviceType())
	return p, nil
}

func (p *PhysicalDevice) QueueFamilies() (QueueFamilySlice, error) {
	var queueFamilyCount uint32

	vk.GetPhysicalDeviceQueueFamilyProperties(p.VKPhysicalDevice, &queueFamilyCount, nil)

	if queueFamilyCount == 0 {
		return nil, nil
	}

	queues := make([]vk.QueueFamilyProperties, queueFamilyCount)

	vk.GetPhysicalDeviceQueueFamilyProperties(p.VKPhysicalDevice, &queueFamilyCount, queues)

	ret := make([]*QueueFamily, queueFamilyCount)
	for i, queue := range queues {
		ret[i] = &QueueFamily{Index: i, PhysicalDevice: p, VKQueueFamilyProperties: queue}
		ret[i].VKQueueFamilyProperties.Deref()
	}

	return ret, nil
}

// formatFeatures returns the feature bits the adapter reports for the
// format under the given tiling.
func (p *PhysicalDevice) formatFeatures(format vk.Format, tiling vk.ImageTiling) vk.FormatFeatureFlags {
	var props vk.FormatProperties
	vk.GetPhysicalDeviceFormatProperties(p.VKPhysicalDevice, format, &props)
	props.Deref()
	if tiling == vk.ImageTilingLinear {
		return props.LinearTilingFeatures
	}
	return props.OptimalTilingFeatures
}

func (p *PhysicalDevice) VKPhysicalDeviceFeatures() vk.PhysicalDeviceFeatures {
	var deviceFeatures vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(p.VKPhysicalDevice, &deviceFeatures)
	return deviceFeatures
}

// MemoryTypes returns the adapter's memory types, dereferenced.
func (p *PhysicalDevice) MemoryTypes() []vk.MemoryType {
	mp := p.VKPhysicalDeviceMemoryProperties()
	mp.Deref()

	ret := make([]vk.MemoryType, 0, mp.MemoryTypeCount)

	var i uint32
	for i = 0; i < mp.MemoryTypeCount; i++ {
		mt := mp.MemoryTypes[i]
		mt.Deref()
		ret = append(ret, mt)
	}
	return ret
}

// MemoryHeaps returns the adapter's memory heaps, dereferenced.
func (p *PhysicalDevice) MemoryHeaps() []vk.MemoryHeap {
	mp := p.VKPhysicalDeviceMemoryProperties()
	mp.Deref()

	ret := make([]vk.MemoryHeap, 0, mp.MemoryHeapCount)

	var i uint32
	for i = 0; i < mp.MemoryHeapCount; i++ {
		mh := mp.MemoryHeaps[i]
		mh.Deref()
		ret = append(ret, mh)
	}
	return ret
}

func (p *PhysicalDevice) VKPhysicalDeviceMemoryProperties() vk.PhysicalDeviceMemoryProperties {
	var memoryProperties vk.PhysicalDeviceMemoryProperties

	vk.GetPhysicalDeviceMemoryProperties(p.VKPhysicalDevice, &memoryProperties)
	return memoryProperties
}

// FindMemoryType returns the first memory type index allowed by
// memoryTypeBits whose property flags include properties and whose heap can
// hold size bytes.
func (p *PhysicalDevice) FindMemoryType(memoryTypeBits uint32, properties vk.MemoryPropertyFlagBits, size vk.DeviceSize) (uint32, error) {
	types := p.MemoryTypes()
	heaps := p.MemoryHeaps()
	return chooseMemoryType(types, heaps, memoryTypeBits, properties, size)
}

// chooseMemoryType is the selection rule behind FindMemoryType, over
// already dereferenced properties.
func chooseMemoryType(types []vk.MemoryType, heaps []vk.MemoryHeap, memoryTypeBits uint32, properties vk.MemoryPropertyFlagBits, size vk.DeviceSize) (uint32, error) {
	for i := range types {
		if memoryTypeBits&(1<<uint32(i)) == 0 {
			continue
		}
		if vk.MemoryPropertyFlagBits(types[i].PropertyFlags)&properties != properties {
			continue
		}
		if int(types[i].HeapIndex) < len(heaps) && heaps[types[i].HeapIndex].Size < size {
			continue
		}
		return uint32(i), nil
	}
	return 0, fmt.Errorf("no memory type allows bits 0x%x with flags 0x%x: %w",
		memoryTypeBits, properties, ErrNoMemoryType)
}

func (p *PhysicalDevice) SupportedExtensions() ([]vk.ExtensionProperties, error) {
	var count uint32
	err := vk.Error(vk.EnumerateDeviceExtensionProperties(p.VKPhysicalDevice, "", &count, nil))
	if err != nil {
		return nil, err
	}

	ext := make([]vk.ExtensionProperties, count)

	err = vk.Error(vk.EnumerateDeviceExtensionProperties(p.VKPhysicalDevice, "", &count, ext))
	if err != nil {
		return nil, err
	}
	return ext, nil
}

// SupportedExtensionNames returns the names of the device extensions the
// adapter supports.
func (p *PhysicalDevice) SupportedExtensionNames() ([]string, error) {
	exts, err := p.SupportedExtensions()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}
