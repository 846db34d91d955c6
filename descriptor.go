package vkframe

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// PlaneViews is one image view per data plane of a frame. For a combined
// multi-planar frame each view selects a single plane aspect with the
// plane's compatible single-plane format, so shaders address planes
// uniformly no matter how the frame is backed.
type PlaneViews struct {
	Device *Device
	Views  []vk.ImageView
}

var planeAspects = [3]vk.ImageAspectFlags{
	vk.ImageAspectFlags(vk.ImageAspectPlane0Bit),
	vk.ImageAspectFlags(vk.ImageAspectPlane1Bit),
	vk.ImageAspectFlags(vk.ImageAspectPlane2Bit),
}

// CreatePlaneViews builds per-plane views of the frame.
func (f *Frame) CreatePlaneViews() (*PlaneViews, error) {
	entry := lookupFormat(f.Plan.PixelFormat)
	if entry == nil {
		return nil, fmt.Errorf("unknown pixel format %s: %w", f.Plan.PixelFormat, ErrUnsupported)
	}

	pv := &PlaneViews{Device: f.Device}

	for plane := 0; plane < f.Plan.PlaneCount; plane++ {
		var img vk.Image
		var format vk.Format
		var aspect vk.ImageAspectFlags

		if f.Plan.Multiplanar() {
			if plane >= len(planeAspects) || plane >= len(entry.planes) {
				pv.Destroy()
				return nil, fmt.Errorf("plane %d out of range: %w", plane, ErrUnsupported)
			}
			img = f.Images[0]
			format = entry.planes[plane]
			aspect = planeAspects[plane]
		} else {
			img = f.Images[plane]
			format = f.Plan.Formats[plane]
			aspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)
		}

		createInfo := &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   format,
			Components: vk.ComponentMapping{
				R: vk.ComponentSwizzleR,
				G: vk.ComponentSwizzleG,
				B: vk.ComponentSwizzleB,
				A: vk.ComponentSwizzleA,
			},
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspect,
				LevelCount: 1,
				LayerCount: uint32(f.Layers),
			},
		}

		var view vk.ImageView
		err := vk.Error(vk.CreateImageView(f.Device.VKDevice, createInfo, nil, &view))
		if err != nil {
			pv.Destroy()
			return nil, err
		}
		pv.Views = append(pv.Views, view)
	}

	return pv, nil
}

func (pv *PlaneViews) Destroy() {
	for _, v := range pv.Views {
		vk.DestroyImageView(pv.Device.VKDevice, v, nil)
	}
	pv.Views = nil
}

// DescriptorSetLayout describes the layout of a descriptor set
type DescriptorSetLayout struct {
	Device                        *Device
	VKDescriptorSetLayout         vk.DescriptorSetLayout
	VKDescriptorSetLayoutBindings []vk.DescriptorSetLayoutBinding
}

func (d *Device) NewDescriptorSetLayout() *DescriptorSetLayout {
	return &DescriptorSetLayout{Device: d}
}

// AddBinding adds a binding to the descriptor set layout
func (l *DescriptorSetLayout) AddBinding(binding vk.DescriptorSetLayoutBinding) {
	l.VKDescriptorSetLayoutBindings = append(l.VKDescriptorSetLayoutBindings, binding)
}

// Create creates the native layout object from the accumulated bindings
func (l *DescriptorSetLayout) Create() error {
	createInfo := &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(l.VKDescriptorSetLayoutBindings)),
		PBindings:    l.VKDescriptorSetLayoutBindings,
	}
	return vkErr("vkCreateDescriptorSetLayout",
		vk.CreateDescriptorSetLayout(l.Device.VKDevice, createInfo, nil, &l.VKDescriptorSetLayout))
}

func (l *DescriptorSetLayout) Destroy() {
	vk.DestroyDescriptorSetLayout(l.Device.VKDevice, l.VKDescriptorSetLayout, nil)
}

// DescriptorPool wraps a native descriptor pool.
type DescriptorPool struct {
	Device               *Device
	VKDescriptorPool     vk.DescriptorPool
	VKDescriptorPoolSize []vk.DescriptorPoolSize
}

func (d *Device) NewDescriptorPool() *DescriptorPool {
	return &DescriptorPool{Device: d}
}

// AddPoolSize informs the descriptor pool how many of a certain descriptor type it will contain
func (p *DescriptorPool) AddPoolSize(dtype vk.DescriptorType, count int) {
	p.VKDescriptorPoolSize = append(p.VKDescriptorPoolSize, vk.DescriptorPoolSize{
		Type:            dtype,
		DescriptorCount: uint32(count),
	})
}

// Create creates the pool with room for maxSets sets
func (p *DescriptorPool) Create(maxSets int) error {
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       uint32(maxSets),
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		PoolSizeCount: uint32(len(p.VKDescriptorPoolSize)),
		PPoolSizes:    p.VKDescriptorPoolSize,
	}
	return vkErr("vkCreateDescriptorPool",
		vk.CreateDescriptorPool(p.Device.VKDevice, &createInfo, nil, &p.VKDescriptorPool))
}

// Allocate allocates a descriptor set from the pool given the descriptor set layout
func (p *DescriptorPool) Allocate(layout *DescriptorSetLayout) (*DescriptorSet, error) {
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.VKDescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.VKDescriptorSetLayout},
	}

	var descriptorSet vk.DescriptorSet
	err := vk.Error(vk.AllocateDescriptorSets(p.Device.VKDevice, &allocateInfo, &descriptorSet))
	if err != nil {
		return nil, err
	}

	return &DescriptorSet{
		Device:          p.Device,
		DescriptorPool:  p,
		VKDescriptorSet: descriptorSet,
	}, nil
}

func (p *DescriptorPool) Reset() error {
	return vk.Error(vk.ResetDescriptorPool(p.Device.VKDevice, p.VKDescriptorPool, 0))
}

func (p *DescriptorPool) Destroy() {
	vk.DestroyDescriptorPool(p.Device.VKDevice, p.VKDescriptorPool, nil)
}

// DescriptorSet is a binding of resources to a descriptor, per a specific DescriptorSetLayout
type DescriptorSet struct {
	Device               *Device
	DescriptorPool       *DescriptorPool
	VKDescriptorSet      vk.DescriptorSet
	VKWriteDescriptorSet []vk.WriteDescriptorSet
}

// AddStorageImage stages a storage-image write at the binding.
func (ds *DescriptorSet) AddStorageImage(dstBinding int, layout vk.ImageLayout, view vk.ImageView) {
	imageInfo := vk.DescriptorImageInfo{
		ImageView:   view,
		ImageLayout: layout,
	}
	ds.VKWriteDescriptorSet = append(ds.VKWriteDescriptorSet, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      uint32(dstBinding),
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageImage,
		PImageInfo:      []vk.DescriptorImageInfo{imageInfo},
	})
}

// AddBuffer stages a buffer write at the binding.
func (ds *DescriptorSet) AddBuffer(dstBinding int, dtype vk.DescriptorType, b *Buffer, offset int) {
	bufferInfo := vk.DescriptorBufferInfo{
		Buffer: b.VKBuffer,
		Offset: vk.DeviceSize(offset),
		Range:  vk.DeviceSize(b.Size),
	}
	ds.VKWriteDescriptorSet = append(ds.VKWriteDescriptorSet, vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstBinding:      uint32(dstBinding),
		DescriptorCount: 1,
		DescriptorType:  dtype,
		PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
	})
}

// Write flushes the staged writes to the device and clears them.
func (ds *DescriptorSet) Write() {
	for i := range ds.VKWriteDescriptorSet {
		ds.VKWriteDescriptorSet[i].DstSet = ds.VKDescriptorSet
	}
	vk.UpdateDescriptorSets(ds.Device.VKDevice, uint32(len(ds.VKWriteDescriptorSet)),
		ds.VKWriteDescriptorSet, 0, nil)
	ds.VKWriteDescriptorSet = ds.VKWriteDescriptorSet[:0]
}

// FrameDescriptor is a descriptor arrangement for feeding frames to compute
// work: a storage-image binding per plane, with one set per execution slot
// so contexts in flight never stomp each other's bindings.
type FrameDescriptor struct {
	Device *Device
	Layout *DescriptorSetLayout
	Pool   *DescriptorPool
	Sets   []*DescriptorSet
}

// CreateFrameDescriptor sizes the pool to the exec pool's ring and
// allocates one set per slot.
func (d *Device) CreateFrameDescriptor(pool *ExecPool) (*FrameDescriptor, error) {
	layout := d.NewDescriptorSetLayout()
	for b := 0; b < maxFramePlanes; b++ {
		layout.AddBinding(vk.DescriptorSetLayoutBinding{
			Binding:         uint32(b),
			DescriptorType:  vk.DescriptorTypeStorageImage,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		})
	}
	if err := layout.Create(); err != nil {
		return nil, err
	}

	dp := d.NewDescriptorPool()
	dp.AddPoolSize(vk.DescriptorTypeStorageImage, maxFramePlanes*pool.Size())
	if err := dp.Create(pool.Size()); err != nil {
		layout.Destroy()
		return nil, err
	}

	fd := &FrameDescriptor{Device: d, Layout: layout, Pool: dp}
	for i := 0; i < pool.Size(); i++ {
		set, err := dp.Allocate(layout)
		if err != nil {
			fd.Destroy()
			return nil, err
		}
		fd.Sets = append(fd.Sets, set)
	}
	return fd, nil
}

// Set returns the descriptor set belonging to the context's slot.
func (fd *FrameDescriptor) Set(e *ExecContext) *DescriptorSet {
	return fd.Sets[e.index%len(fd.Sets)]
}

// BindFrame points the context's set at the frame's plane views and flushes.
func (fd *FrameDescriptor) BindFrame(e *ExecContext, views *PlaneViews, layout vk.ImageLayout) {
	set := fd.Set(e)
	for i, v := range views.Views {
		set.AddStorageImage(i, layout, v)
	}
	set.Write()
}

func (fd *FrameDescriptor) Destroy() {
	if fd.Pool != nil {
		fd.Pool.Destroy()
		fd.Pool = nil
	}
	if fd.Layout != nil {
		fd.Layout.Destroy()
		fd.Layout = nil
	}
	fd.Sets = nil
}
