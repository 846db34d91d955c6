package vkframe

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// PixelFormat identifies a software frame layout independent of any
// particular device representation.
type PixelFormat int

const (
	FormatInvalid PixelFormat = iota
	FormatGray8
	FormatGray16
	FormatRGBA
	FormatBGRA
	FormatRGB0
	FormatBGR0
	FormatRGB24
	FormatBGR24
	FormatNV12
	FormatNV16
	FormatNV24
	FormatP010
	FormatP016
	FormatYUV420P
	FormatYUV420P10
	FormatYUV420P16
	FormatYUV422P
	FormatYUV444P
	FormatYUYV422
	FormatUYVY422
)

var pixelFormatNames = map[PixelFormat]string{
	FormatGray8:     "gray8",
	FormatGray16:    "gray16",
	FormatRGBA:      "rgba",
	FormatBGRA:      "bgra",
	FormatRGB0:      "rgb0",
	FormatBGR0:      "bgr0",
	FormatRGB24:     "rgb24",
	FormatBGR24:     "bgr24",
	FormatNV12:      "nv12",
	FormatNV16:      "nv16",
	FormatNV24:      "nv24",
	FormatP010:      "p010",
	FormatP016:      "p016",
	FormatYUV420P:   "yuv420p",
	FormatYUV420P10: "yuv420p10",
	FormatYUV420P16: "yuv420p16",
	FormatYUV422P:   "yuv422p",
	FormatYUV444P:   "yuv444p",
	FormatYUYV422:   "yuyv422",
	FormatUYVY422:   "uyvy422",
}

func (pf PixelFormat) String() string {
	if s, ok := pixelFormatNames[pf]; ok {
		return s
	}
	return fmt.Sprintf("pixelformat(%d)", int(pf))
}

// formatEntry describes how one pixel format maps onto device images.
// native is the combined representation (multi-planar or packed) when one
// exists; planes is the one-image-per-plane fallback. log2Chroma gives the
// subsampling shift applied to all planes after the first.
type formatEntry struct {
	pf          PixelFormat
	native      vk.Format
	nativeAsp   vk.ImageAspectFlags
	planes      []vk.Format
	log2ChromaW uint
	log2ChromaH uint
}

const (
	aspect2Plane = vk.ImageAspectFlags(vk.ImageAspectPlane0Bit | vk.ImageAspectPlane1Bit)
	aspect3Plane = vk.ImageAspectFlags(vk.ImageAspectPlane0Bit | vk.ImageAspectPlane1Bit | vk.ImageAspectPlane2Bit)
	aspectColor  = vk.ImageAspectFlags(vk.ImageAspectColorBit)
)

var formatTable = []formatEntry{
	{pf: FormatGray8, planes: []vk.Format{vk.FormatR8Unorm}},
	{pf: FormatGray16, planes: []vk.Format{vk.FormatR16Unorm}},
	{pf: FormatRGBA, planes: []vk.Format{vk.FormatR8g8b8a8Unorm}},
	{pf: FormatBGRA, planes: []vk.Format{vk.FormatB8g8r8a8Unorm}},
	{pf: FormatRGB0, planes: []vk.Format{vk.FormatR8g8b8a8Unorm}},
	{pf: FormatBGR0, planes: []vk.Format{vk.FormatB8g8r8a8Unorm}},
	{pf: FormatRGB24, planes: []vk.Format{vk.FormatR8g8b8Unorm}},
	{pf: FormatBGR24, planes: []vk.Format{vk.FormatB8g8r8Unorm}},

	{pf: FormatNV12, native: vk.FormatG8B8r82plane420Unorm, nativeAsp: aspect2Plane,
		planes: []vk.Format{vk.FormatR8Unorm, vk.FormatR8g8Unorm}, log2ChromaW: 1, log2ChromaH: 1},
	{pf: FormatNV16, native: vk.FormatG8B8r82plane422Unorm, nativeAsp: aspect2Plane,
		planes: []vk.Format{vk.FormatR8Unorm, vk.FormatR8g8Unorm}, log2ChromaW: 1},
	// No core combined 4:4:4 two-plane format, fallback only.
	{pf: FormatNV24, planes: []vk.Format{vk.FormatR8Unorm, vk.FormatR8g8Unorm}},
	{pf: FormatP010, native: vk.FormatG10x6B10x6r10x62plane420Unorm3pack16, nativeAsp: aspect2Plane,
		planes: []vk.Format{vk.FormatR10x6UnormPack16, vk.FormatR10x6g10x6Unorm2pack16},
		log2ChromaW: 1, log2ChromaH: 1},
	{pf: FormatP016, native: vk.FormatG16B16r162plane420Unorm, nativeAsp: aspect2Plane,
		planes: []vk.Format{vk.FormatR16Unorm, vk.FormatR16g16Unorm}, log2ChromaW: 1, log2ChromaH: 1},

	{pf: FormatYUV420P, native: vk.FormatG8B8R83plane420Unorm, nativeAsp: aspect3Plane,
		planes: []vk.Format{vk.FormatR8Unorm, vk.FormatR8Unorm, vk.FormatR8Unorm},
		log2ChromaW: 1, log2ChromaH: 1},
	{pf: FormatYUV420P10, native: vk.FormatG10x6B10x6R10x63plane420Unorm3pack16, nativeAsp: aspect3Plane,
		planes: []vk.Format{vk.FormatR10x6UnormPack16, vk.FormatR10x6UnormPack16, vk.FormatR10x6UnormPack16},
		log2ChromaW: 1, log2ChromaH: 1},
	{pf: FormatYUV420P16, native: vk.FormatG16B16R163plane420Unorm, nativeAsp: aspect3Plane,
		planes: []vk.Format{vk.FormatR16Unorm, vk.FormatR16Unorm, vk.FormatR16Unorm},
		log2ChromaW: 1, log2ChromaH: 1},
	{pf: FormatYUV422P, native: vk.FormatG8B8R83plane422Unorm, nativeAsp: aspect3Plane,
		planes: []vk.Format{vk.FormatR8Unorm, vk.FormatR8Unorm, vk.FormatR8Unorm},
		log2ChromaW: 1},
	{pf: FormatYUV444P, native: vk.FormatG8B8R83plane444Unorm, nativeAsp: aspect3Plane,
		planes: []vk.Format{vk.FormatR8Unorm, vk.FormatR8Unorm, vk.FormatR8Unorm}},

	// Packed 4:2:2, single image with no per-plane fallback.
	{pf: FormatYUYV422, native: vk.FormatG8b8g8r8422Unorm, nativeAsp: aspectColor},
	{pf: FormatUYVY422, native: vk.FormatB8g8r8g8422Unorm, nativeAsp: aspectColor},
}

func lookupFormat(pf PixelFormat) *formatEntry {
	for i := range formatTable {
		if formatTable[i].pf == pf {
			return &formatTable[i]
		}
	}
	return nil
}

// featureUsagePairs relates format feature bits to the image usages they
// permit. Usage for a resolved plan is the fold of the pairs whose feature
// bit every image format of the plan reports.
var featureUsagePairs = []struct {
	feature vk.FormatFeatureFlagBits
	usage   vk.ImageUsageFlagBits
}{
	{vk.FormatFeatureSampledImageBit, vk.ImageUsageSampledBit},
	{vk.FormatFeatureStorageImageBit, vk.ImageUsageStorageBit},
	{vk.FormatFeatureTransferSrcBit, vk.ImageUsageTransferSrcBit},
	{vk.FormatFeatureTransferDstBit, vk.ImageUsageTransferDstBit},
	{vk.FormatFeatureColorAttachmentBit, vk.ImageUsageColorAttachmentBit},
}

func usageFromFeatures(features vk.FormatFeatureFlags) vk.ImageUsageFlags {
	var usage vk.ImageUsageFlags
	for _, p := range featureUsagePairs {
		if features&vk.FormatFeatureFlags(p.feature) != 0 {
			usage |= vk.ImageUsageFlags(p.usage)
		}
	}
	return usage
}

// FormatPlan is a resolved device representation for a pixel format. When
// the combined tier wins, Formats holds a single multi-planar or packed
// format; otherwise one format per data plane.
type FormatPlan struct {
	PixelFormat PixelFormat
	Tiling      vk.ImageTiling

	// Formats has one entry per image backing the frame.
	Formats []vk.Format

	// PlaneCount is the number of data planes of the pixel format,
	// regardless of how many images carry them.
	PlaneCount int

	// Aspect covers the usable aspects of the first image.
	Aspect vk.ImageAspectFlags

	// SupportedUsage is the intersection of the usages every image format
	// of the plan supports under Tiling.
	SupportedUsage vk.ImageUsageFlags

	log2ChromaW uint
	log2ChromaH uint
}

// Multiplanar reports whether the plan uses a single combined multi-planar
// image for several data planes.
func (p *FormatPlan) Multiplanar() bool {
	return len(p.Formats) == 1 && p.PlaneCount > 1
}

// PlaneExtent returns the pixel dimensions of one plane of a frame sized
// w by h. Chroma planes round up.
func (p *FormatPlan) PlaneExtent(plane, w, h int) (int, int) {
	if plane == 0 {
		return w, h
	}
	pw := (w + (1 << p.log2ChromaW) - 1) >> p.log2ChromaW
	ph := (h + (1 << p.log2ChromaH) - 1) >> p.log2ChromaH
	return pw, ph
}

// formatFeatureQuery reports the feature bits a format supports under a
// tiling. The device provides the real driver query; tests inject tables.
type formatFeatureQuery func(format vk.Format, tiling vk.ImageTiling) vk.FormatFeatureFlags

// resolveFormat maps a pixel format to its device representation. The
// combined multi-planar or packed format is preferred when the driver
// supports sampling and both transfer directions on it (and storage when
// needStorage is set); otherwise it falls back to one image per plane
// under the same requirements. disableMultiplane skips the combined tier.
func resolveFormat(pf PixelFormat, tiling vk.ImageTiling, needStorage, disableMultiplane bool, query formatFeatureQuery) (*FormatPlan, error) {
	entry := lookupFormat(pf)
	if entry == nil {
		return nil, fmt.Errorf("unknown pixel format %s: %w", pf, ErrUnsupported)
	}

	required := vk.FormatFeatureFlags(vk.FormatFeatureSampledImageBit |
		vk.FormatFeatureTransferSrcBit | vk.FormatFeatureTransferDstBit)
	if needStorage {
		required |= vk.FormatFeatureFlags(vk.FormatFeatureStorageImageBit)
	}

	planeCount := len(entry.planes)
	if planeCount == 0 {
		planeCount = 1
	}

	if entry.native != vk.Format(0) && !(disableMultiplane && planeCount > 1) {
		features := query(entry.native, tiling)
		if features&required == required {
			return &FormatPlan{
				PixelFormat:    pf,
				Tiling:         tiling,
				Formats:        []vk.Format{entry.native},
				PlaneCount:     planeCount,
				Aspect:         entry.nativeAsp,
				SupportedUsage: usageFromFeatures(features),
				log2ChromaW:    entry.log2ChromaW,
				log2ChromaH:    entry.log2ChromaH,
			}, nil
		}
	}

	if len(entry.planes) == 0 {
		return nil, fmt.Errorf("format %s unsupported under tiling %d: %w", pf, tiling, ErrUnsupported)
	}

	usage := vk.ImageUsageFlags(0xffffffff)
	for _, f := range entry.planes {
		features := query(f, tiling)
		if features&required != required {
			return nil, fmt.Errorf("format %s plane format %d unsupported under tiling %d: %w",
				pf, f, tiling, ErrUnsupported)
		}
		usage &= usageFromFeatures(features)
	}

	return &FormatPlan{
		PixelFormat:    pf,
		Tiling:         tiling,
		Formats:        append([]vk.Format(nil), entry.planes...),
		PlaneCount:     len(entry.planes),
		Aspect:         aspectColor,
		SupportedUsage: usage,
		log2ChromaW:    entry.log2ChromaW,
		log2ChromaH:    entry.log2ChromaH,
	}, nil
}

// Resolve maps a pixel format to the representation this device supports
// under the given tiling.
func (d *Device) Resolve(pf PixelFormat, tiling vk.ImageTiling, needStorage bool) (*FormatPlan, error) {
	if d.Options != nil && d.Options.LinearImages {
		tiling = vk.ImageTilingLinear
	}
	return resolveFormat(pf, tiling, needStorage, d.Options != nil && d.Options.DisableMultiplane,
		d.PhysicalDevice.formatFeatures)
}

// SupportedFormats enumerates every pixel format that resolves on this
// device under optimal tiling, or linear tiling when the device was
// configured for linear images.
func (d *Device) SupportedFormats() []PixelFormat {
	tiling := vk.ImageTilingOptimal
	if d.Options != nil && d.Options.LinearImages {
		tiling = vk.ImageTilingLinear
	}
	out := make([]PixelFormat, 0, len(formatTable))
	for i := range formatTable {
		if _, err := d.Resolve(formatTable[i].pf, tiling, false); err == nil {
			out = append(out, formatTable[i].pf)
		}
	}
	return out
}
