package vkframe

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// QueueRole names a capability the device hands out queues for.
type QueueRole int

const (
	RoleGraphics QueueRole = iota
	RoleCompute
	RoleTransfer
	RoleDecode
	RoleEncode
	numQueueRoles
)

func (r QueueRole) String() string {
	switch r {
	case RoleGraphics:
		return "graphics"
	case RoleCompute:
		return "compute"
	case RoleTransfer:
		return "transfer"
	case RoleDecode:
		return "decode"
	case RoleEncode:
		return "encode"
	default:
		return "invalid"
	}
}

// queueRoleInfo records which family serves a role and how many queues that
// family exposes. Valid is false when the device has no family for the role.
type queueRoleInfo struct {
	Valid       bool
	FamilyIndex uint32
	QueueCount  int
}

// deviceQueueFamily is one queue family the logical device was created
// with, holding one mutex per physical queue. The mutex serializes
// submission on that queue slot and is held only for the duration of the
// submit call, never across recording.
type deviceQueueFamily struct {
	Index uint32
	Count int
	locks []sync.Mutex
}

// Device is the logical device every other object in this package hangs
// off of.
type Device struct {
	Instance       *Instance
	PhysicalDevice *PhysicalDevice
	VKDevice       vk.Device

	Options *DeviceOptions

	// Extensions reports the optional device extensions that were enabled.
	Extensions ExtensionFlags

	// EnabledExtensions holds the extension names passed at creation.
	EnabledExtensions []string

	roles    [numQueueRoles]queueRoleInfo
	families []*deviceQueueFamily
	procs    *deviceProcs

	// imageQueueFamilies is the deduplicated list of queue families frames
	// may be touched by, used for concurrent-sharing image creation when
	// more than one family is in play.
	imageQueueFamilies []uint32
}

func (d *Device) Destroy() {
	vk.DestroyDevice(d.VKDevice, nil)
}

func (d *Device) String() string {
	return fmt.Sprintf("{ PhysicalDevice: %s }", d.PhysicalDevice)
}

func (d *Device) WaitIdle() {
	vk.DeviceWaitIdle(d.VKDevice)
}

// CreateLogicalDevice creates the logical device, picking one queue family
// per role and enabling every recognized optional extension the driver
// supports. opts may be nil, in which case the instance's options are used.
// A driver without timeline semaphores is rejected.
func (p *PhysicalDevice) CreateLogicalDevice(instance *Instance, opts *DeviceOptions) (*Device, error) {
	if opts == nil {
		opts = instance.Options
	}
	if opts == nil {
		opts = &DeviceOptions{}
	}

	tsFeatures := vk.PhysicalDeviceTimelineSemaphoreFeatures{
		SType: vk.StructureTypePhysicalDeviceTimelineSemaphoreFeatures,
	}
	tsRef, _ := tsFeatures.PassRef()
	features2 := vk.PhysicalDeviceFeatures2{
		SType: vk.StructureTypePhysicalDeviceFeatures2,
		PNext: unsafe.Pointer(tsRef),
	}
	instance.physicalDeviceFeatures2(p.VKPhysicalDevice, &features2)
	tsFeatures.Deref()
	if tsFeatures.TimelineSemaphore != vk.Bool32(vk.True) {
		return nil, fmt.Errorf("adapter %s lacks timeline semaphores: %w", p, ErrUnsupported)
	}

	supported, err := p.SupportedExtensionNames()
	if err != nil {
		return nil, fmt.Errorf("error getting supported device extensions: %w", err)
	}
	enabledExts, extFlags := negotiateExtensions(optionalDeviceExtensions,
		supported, splitList(opts.DeviceExtensions), opts.Debug)

	qfs, err := p.QueueFamilies()
	if err != nil {
		return nil, fmt.Errorf("error getting queue families: %w", err)
	}
	props := make([]vk.QueueFamilyProperties, len(qfs))
	for i, qf := range qfs {
		props[i] = qf.VKQueueFamilyProperties
		Logger().Debug("queue family", "family", qf.String(),
			"count", qf.VKQueueFamilyProperties.QueueCount)
	}

	roles, err := assignQueueRoles(props, extFlags)
	if err != nil {
		return nil, err
	}

	// One create info per distinct family, requesting all of its queues.
	usedFamilies := make([]uint32, 0, numQueueRoles)
	for r := QueueRole(0); r < numQueueRoles; r++ {
		if !roles[r].Valid {
			continue
		}
		seen := false
		for _, f := range usedFamilies {
			if f == roles[r].FamilyIndex {
				seen = true
				break
			}
		}
		if !seen {
			usedFamilies = append(usedFamilies, roles[r].FamilyIndex)
		}
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, 0, len(usedFamilies))
	for _, fi := range usedFamilies {
		count := int(props[fi].QueueCount)
		priorities := make([]float32, count)
		for i := range priorities {
			priorities[i] = 1.0
		}
		queueCreateInfos = append(queueCreateInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: fi,
			QueueCount:       uint32(count),
			PQueuePriorities: priorities,
		})
	}

	enableTimeline := vk.PhysicalDeviceTimelineSemaphoreFeatures{
		SType:             vk.StructureTypePhysicalDeviceTimelineSemaphoreFeatures,
		TimelineSemaphore: vk.Bool32(vk.True),
	}
	enableRef, _ := enableTimeline.PassRef()

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		PNext:                unsafe.Pointer(enableRef),
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),
		PQueueCreateInfos:    queueCreateInfos,
	}
	if len(enabledExts) > 0 {
		deviceCreateInfo.EnabledExtensionCount = uint32(len(enabledExts))
		deviceCreateInfo.PpEnabledExtensionNames = safeStrings(enabledExts)
	}

	var ldevice vk.Device
	err = vk.Error(vk.CreateDevice(p.VKPhysicalDevice, &deviceCreateInfo, nil, &ldevice))
	if err != nil {
		return nil, fmt.Errorf("error creating logical device: %w", err)
	}

	procs, err := instance.procs.loadDeviceProcs(ldevice, extFlags)
	if err != nil {
		vk.DestroyDevice(ldevice, nil)
		return nil, err
	}

	device := &Device{
		Instance:          instance,
		PhysicalDevice:    p,
		VKDevice:          ldevice,
		Options:           opts,
		Extensions:        extFlags,
		EnabledExtensions: enabledExts,
		roles:             roles,
		procs:             procs,
	}

	for _, fi := range usedFamilies {
		count := int(props[fi].QueueCount)
		device.families = append(device.families, &deviceQueueFamily{
			Index: fi,
			Count: count,
			locks: make([]sync.Mutex, count),
		})
		device.imageQueueFamilies = append(device.imageQueueFamilies, fi)
	}

	for r := QueueRole(0); r < numQueueRoles; r++ {
		if roles[r].Valid {
			Logger().Debug("assigned queue role", "role", r.String(),
				"family", roles[r].FamilyIndex, "queues", roles[r].QueueCount)
		}
	}

	return device, nil
}

// assignQueueRoles maps each role to a queue family. Graphics and compute
// are optional. Transfer degrades to a compute family and then a graphics
// family when no family advertises the transfer bit, since both imply
// transfer capability. Video roles are attempted only when the matching
// extensions were negotiated.
func assignQueueRoles(props []vk.QueueFamilyProperties, ext ExtensionFlags) ([numQueueRoles]queueRoleInfo, error) {
	var roles [numQueueRoles]queueRoleInfo
	useCounts := make([]int, len(props))

	assign := func(r QueueRole, flags ...vk.QueueFlagBits) {
		for _, f := range flags {
			if idx := pickQueueFamily(props, vk.QueueFlags(f), useCounts); idx >= 0 {
				roles[r] = queueRoleInfo{
					Valid:       true,
					FamilyIndex: uint32(idx),
					QueueCount:  int(props[idx].QueueCount),
				}
				return
			}
		}
	}

	assign(RoleGraphics, vk.QueueGraphicsBit)
	assign(RoleCompute, vk.QueueComputeBit)
	assign(RoleTransfer, vk.QueueTransferBit, vk.QueueComputeBit, vk.QueueGraphicsBit)
	if ext&ExtVideoDecodeQueue != 0 {
		assign(RoleDecode, queueVideoDecodeBit)
	}
	if ext&ExtVideoEncodeQueue != 0 {
		assign(RoleEncode, queueVideoEncodeBit)
	}

	if !roles[RoleTransfer].Valid {
		return roles, fmt.Errorf("no queue family supports transfer: %w", ErrUnsupported)
	}
	return roles, nil
}

// Role reports the family and queue count serving a role. ok is false when
// the device has no queue for it.
func (d *Device) Role(r QueueRole) (familyIndex uint32, queueCount int, ok bool) {
	if r < 0 || r >= numQueueRoles || !d.roles[r].Valid {
		return 0, 0, false
	}
	return d.roles[r].FamilyIndex, d.roles[r].QueueCount, true
}

// Queue returns the idx-th queue of the family serving the role, wrapping
// around the family's queue count.
func (d *Device) Queue(r QueueRole, idx int) (vk.Queue, error) {
	familyIndex, count, ok := d.Role(r)
	if !ok {
		return nil, fmt.Errorf("no %s queue on this device: %w", r, ErrUnsupported)
	}
	var vkq vk.Queue
	vk.GetDeviceQueue(d.VKDevice, familyIndex, uint32(idx%count), &vkq)
	return vkq, nil
}

func (d *Device) queueFamily(familyIndex uint32) *deviceQueueFamily {
	for _, f := range d.families {
		if f.Index == familyIndex {
			return f
		}
	}
	return nil
}

// LockQueue serializes submissions on one queue slot. Callers hold the lock
// only around the submit call.
func (d *Device) LockQueue(familyIndex uint32, queueIndex int) {
	f := d.queueFamily(familyIndex)
	if f == nil {
		panic(fmt.Sprintf("queue family %d was not created on this device", familyIndex))
	}
	f.locks[queueIndex%f.Count].Lock()
}

// UnlockQueue releases the slot taken by LockQueue.
func (d *Device) UnlockQueue(familyIndex uint32, queueIndex int) {
	f := d.queueFamily(familyIndex)
	if f == nil {
		panic(fmt.Sprintf("queue family %d was not created on this device", familyIndex))
	}
	f.locks[queueIndex%f.Count].Unlock()
}

type AllocationRequirements struct {
	Size           int
	MemoryTypeBits uint32
}

// Allocate allocates device memory of the first type satisfying the
// requirement bits and property flags.
func (d *Device) Allocate(sizeInBytes int, memoryTypeBits uint32, memoryProperties vk.MemoryPropertyFlags) (*DeviceMemory, error) {

	var allocateInfo = vk.MemoryAllocateInfo{}
	allocateInfo.SType = vk.StructureTypeMemoryAllocateInfo
	allocateInfo.AllocationSize = vk.DeviceSize(sizeInBytes)

	var err error

	allocateInfo.MemoryTypeIndex, err = d.PhysicalDevice.FindMemoryType(
		memoryTypeBits,
		vk.MemoryPropertyFlagBits(memoryProperties),
		vk.DeviceSize(sizeInBytes))

	if err != nil {
		return nil, err
	}

	var deviceMemory vk.DeviceMemory

	err = vk.Error(vk.AllocateMemory(d.VKDevice, &allocateInfo, nil, &deviceMemory))
	if err != nil {
		return nil, err
	}

	var ret DeviceMemory

	ret.Size = uint64(sizeInBytes)
	ret.Device = d
	ret.VKDeviceMemory = deviceMemory

	return &ret, nil
}
