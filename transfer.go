package vkframe

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"
)

// texel byte sizes of the single-plane formats frames are built from.
var texelSizes = map[vk.Format]int{
	vk.FormatR8Unorm:                1,
	vk.FormatR8g8Unorm:              2,
	vk.FormatR16Unorm:               2,
	vk.FormatR16g16Unorm:            4,
	vk.FormatR8g8b8Unorm:            3,
	vk.FormatB8g8r8Unorm:            3,
	vk.FormatR8g8b8a8Unorm:          4,
	vk.FormatB8g8r8a8Unorm:          4,
	vk.FormatR10x6UnormPack16:       2,
	vk.FormatR10x6g10x6Unorm2pack16: 4,
}

// planeCopyGeometry works out the image, aspect, extent and stride handling
// for copying one data plane of a frame.
type planeCopyGeometry struct {
	image     vk.Image
	aspect    vk.ImageAspectFlags
	width     int
	height    int
	texelSize int
}

func frameCopyGeometry(f *Frame, plane int) (*planeCopyGeometry, error) {
	entry := lookupFormat(f.Plan.PixelFormat)
	if entry == nil {
		return nil, fmt.Errorf("unknown pixel format %s: %w", f.Plan.PixelFormat, ErrUnsupported)
	}

	g := &planeCopyGeometry{}
	g.width, g.height = f.Plan.PlaneExtent(plane, f.Width, f.Height)

	if f.Plan.Multiplanar() {
		g.image = f.Images[0]
		switch plane {
		case 0:
			g.aspect = vk.ImageAspectFlags(vk.ImageAspectPlane0Bit)
		case 1:
			g.aspect = vk.ImageAspectFlags(vk.ImageAspectPlane1Bit)
		case 2:
			g.aspect = vk.ImageAspectFlags(vk.ImageAspectPlane2Bit)
		default:
			return nil, fmt.Errorf("plane %d out of range: %w", plane, ErrUnsupported)
		}
		if plane >= len(entry.planes) {
			return nil, fmt.Errorf("plane %d out of range: %w", plane, ErrUnsupported)
		}
		g.texelSize = texelSizes[entry.planes[plane]]
	} else {
		if plane >= len(f.Images) {
			return nil, fmt.Errorf("plane %d out of range: %w", plane, ErrUnsupported)
		}
		g.image = f.Images[plane]
		g.aspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)
		g.texelSize = texelSizes[f.Plan.Formats[plane]]
	}

	if g.texelSize == 0 {
		return nil, fmt.Errorf("no host transfer path for format %s plane %d: %w",
			f.Plan.PixelFormat, plane, ErrUnsupported)
	}
	return g, nil
}

// rowLengthTexels converts a byte stride into the buffer row length a copy
// command wants. Zero means tightly packed.
func (g *planeCopyGeometry) rowLengthTexels(stride int) (uint32, error) {
	tight := g.width * g.texelSize
	if stride == 0 || stride == tight {
		return 0, nil
	}
	if stride < tight || stride%g.texelSize != 0 {
		return 0, fmt.Errorf("stride %d not expressible for %d-byte texels, row is %d bytes: %w",
			stride, g.texelSize, tight, ErrUnsupported)
	}
	return uint32(stride / g.texelSize), nil
}

// UploadFromHost copies per-plane pixel data into the frame through the
// staging pool, leaving the frame in transfer-destination layout. planes
// and strides carry one entry per data plane; a zero stride means tightly
// packed.
func UploadFromHost(pool *ExecPool, staging *StagingPool, f *Frame, planes [][]byte, strides []int) error {
	if len(planes) != f.Plan.PlaneCount || len(strides) != f.Plan.PlaneCount {
		return fmt.Errorf("got %d planes and %d strides, frame has %d planes: %w",
			len(planes), len(strides), f.Plan.PlaneCount, ErrUnsupported)
	}

	e := pool.Acquire()
	if err := e.Begin(); err != nil {
		return err
	}
	if err := e.AddFrameDependency(f); err != nil {
		return err
	}

	e.RecordBarrier(f, vk.ImageLayoutTransferDstOptimal,
		vk.AccessFlags(vk.AccessTransferWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		uint32(vk.QueueFamilyIgnored))

	for i := range planes {
		g, err := frameCopyGeometry(f, i)
		if err != nil {
			e.Discard()
			return err
		}
		rowLength, err := g.rowLengthTexels(strides[i])
		if err != nil {
			e.Discard()
			return err
		}

		alloc, err := staging.Allocate(uint64(len(planes[i])))
		if err != nil {
			e.Discard()
			return err
		}
		copy(alloc.Bytes(), planes[i])
		e.AddStagingDependency(alloc)

		region := vk.BufferImageCopy{
			BufferOffset:    vk.DeviceSize(alloc.Offset()),
			BufferRowLength: rowLength,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: g.aspect,
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: uint32(g.width), Height: uint32(g.height), Depth: 1},
		}
		vk.CmdCopyBufferToImage(e.VKCommandBuffer, staging.Buffer.VKBuffer, g.image,
			vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
	}

	return e.Submit()
}

// DownloadToHost copies the frame's pixels into per-plane buffers through
// the staging pool. It blocks until the copy retired. planes must be
// pre-sized; strides follow the upload convention.
func DownloadToHost(pool *ExecPool, staging *StagingPool, f *Frame, planes [][]byte, strides []int) error {
	if len(planes) != f.Plan.PlaneCount || len(strides) != f.Plan.PlaneCount {
		return fmt.Errorf("got %d planes and %d strides, frame has %d planes: %w",
			len(planes), len(strides), f.Plan.PlaneCount, ErrUnsupported)
	}

	e := pool.Acquire()
	if err := e.Begin(); err != nil {
		return err
	}
	if err := e.AddFrameDependency(f); err != nil {
		return err
	}

	e.RecordBarrier(f, vk.ImageLayoutTransferSrcOptimal,
		vk.AccessFlags(vk.AccessTransferReadBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		uint32(vk.QueueFamilyIgnored))

	allocs := make([]*StagingAllocation, 0, len(planes))
	releaseAll := func() {
		for _, a := range allocs {
			a.Release()
		}
	}

	for i := range planes {
		g, err := frameCopyGeometry(f, i)
		if err != nil {
			e.Discard()
			releaseAll()
			return err
		}
		rowLength, err := g.rowLengthTexels(strides[i])
		if err != nil {
			e.Discard()
			releaseAll()
			return err
		}

		alloc, err := staging.Allocate(uint64(len(planes[i])))
		if err != nil {
			e.Discard()
			releaseAll()
			return err
		}
		allocs = append(allocs, alloc)

		region := vk.BufferImageCopy{
			BufferOffset:    vk.DeviceSize(alloc.Offset()),
			BufferRowLength: rowLength,
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: g.aspect,
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: uint32(g.width), Height: uint32(g.height), Depth: 1},
		}
		vk.CmdCopyImageToBuffer(e.VKCommandBuffer, g.image,
			vk.ImageLayoutTransferSrcOptimal, staging.Buffer.VKBuffer,
			1, []vk.BufferImageCopy{region})
	}

	if err := e.Submit(); err != nil {
		releaseAll()
		return err
	}
	if err := e.Wait(time.Minute); err != nil {
		releaseAll()
		return err
	}

	for i, a := range allocs {
		copy(planes[i], a.Bytes())
	}
	releaseAll()
	return nil
}
