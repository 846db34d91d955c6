package vkframe

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
)

const baseFeatures = vk.FormatFeatureFlags(vk.FormatFeatureSampledImageBit |
	vk.FormatFeatureTransferSrcBit | vk.FormatFeatureTransferDstBit)

func queryFromTable(table map[vk.Format]vk.FormatFeatureFlags) formatFeatureQuery {
	return func(f vk.Format, tiling vk.ImageTiling) vk.FormatFeatureFlags {
		return table[f]
	}
}

func TestResolveCombinedTier(t *testing.T) {
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatG8B8r82plane420Unorm: baseFeatures,
	})

	plan, err := resolveFormat(FormatNV12, vk.ImageTilingOptimal, false, false, query)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Multiplanar() {
		t.Error("expected the combined representation")
	}
	if len(plan.Formats) != 1 || plan.Formats[0] != vk.FormatG8B8r82plane420Unorm {
		t.Errorf("got formats %v", plan.Formats)
	}
	if plan.PlaneCount != 2 {
		t.Errorf("got %d planes, want 2", plan.PlaneCount)
	}
	if plan.Aspect != aspect2Plane {
		t.Errorf("got aspect 0x%x", plan.Aspect)
	}
}

func TestResolveFallbackTier(t *testing.T) {
	// Combined format unsupported, per-plane formats fine.
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatR8Unorm:   baseFeatures,
		vk.FormatR8g8Unorm: baseFeatures,
	})

	plan, err := resolveFormat(FormatNV12, vk.ImageTilingOptimal, false, false, query)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Multiplanar() {
		t.Error("expected the per-plane fallback")
	}
	if len(plan.Formats) != 2 {
		t.Errorf("got %d images, want 2", len(plan.Formats))
	}
	if plan.Aspect != aspectColor {
		t.Errorf("got aspect 0x%x", plan.Aspect)
	}
}

func TestResolveDisableMultiplane(t *testing.T) {
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatG8B8r82plane420Unorm: baseFeatures,
		vk.FormatR8Unorm:              baseFeatures,
		vk.FormatR8g8Unorm:            baseFeatures,
	})

	plan, err := resolveFormat(FormatNV12, vk.ImageTilingOptimal, false, true, query)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Multiplanar() {
		t.Error("disable_multiplane must force the fallback")
	}
}

func TestResolveStorageForcesFallback(t *testing.T) {
	// Combined format cannot do storage, plane formats can.
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatG8B8r82plane420Unorm: baseFeatures,
		vk.FormatR8Unorm:              baseFeatures | vk.FormatFeatureFlags(vk.FormatFeatureStorageImageBit),
		vk.FormatR8g8Unorm:            baseFeatures | vk.FormatFeatureFlags(vk.FormatFeatureStorageImageBit),
	})

	plan, err := resolveFormat(FormatNV12, vk.ImageTilingOptimal, true, false, query)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Multiplanar() {
		t.Error("storage requirement should reject the combined tier")
	}
	if plan.SupportedUsage&vk.ImageUsageFlags(vk.ImageUsageStorageBit) == 0 {
		t.Error("resolved plan must report storage usage")
	}
}

func TestResolveUnknownFormat(t *testing.T) {
	_, err := resolveFormat(PixelFormat(9999), vk.ImageTilingOptimal, false, false,
		queryFromTable(nil))
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
}

func TestResolvePackedNoFallback(t *testing.T) {
	// YUYV has no per-plane representation; without the packed format the
	// resolution must fail.
	_, err := resolveFormat(FormatYUYV422, vk.ImageTilingOptimal, false, false,
		queryFromTable(nil))
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
}

func TestResolveUsageIntersection(t *testing.T) {
	// Plane 0 supports attachment, plane 1 does not; the plan must not
	// report attachment usage.
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatR8Unorm:   baseFeatures | vk.FormatFeatureFlags(vk.FormatFeatureColorAttachmentBit),
		vk.FormatR8g8Unorm: baseFeatures,
	})

	plan, err := resolveFormat(FormatNV12, vk.ImageTilingOptimal, false, true, query)
	if err != nil {
		t.Fatal(err)
	}
	if plan.SupportedUsage&vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit) != 0 {
		t.Error("usage must intersect across plane formats")
	}
}

func TestPlaneExtentChroma(t *testing.T) {
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatR8Unorm:   baseFeatures,
		vk.FormatR8g8Unorm: baseFeatures,
	})
	plan, err := resolveFormat(FormatNV12, vk.ImageTilingOptimal, false, true, query)
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		plane, w, h  int
		wantW, wantH int
	}{
		{0, 1920, 1080, 1920, 1080},
		{1, 1920, 1080, 960, 540},
		{1, 1919, 1079, 960, 540},
		{1, 1, 1, 1, 1},
	}
	for _, c := range cases {
		w, h := plan.PlaneExtent(c.plane, c.w, c.h)
		if w != c.wantW || h != c.wantH {
			t.Errorf("plane %d of %dx%d: got %dx%d, want %dx%d",
				c.plane, c.w, c.h, w, h, c.wantW, c.wantH)
		}
	}
}

func TestPlaneExtent444(t *testing.T) {
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatR8Unorm: baseFeatures,
	})
	plan, err := resolveFormat(FormatYUV444P, vk.ImageTilingOptimal, false, true, query)
	if err != nil {
		t.Fatal(err)
	}
	w, h := plan.PlaneExtent(2, 1280, 720)
	if w != 1280 || h != 720 {
		t.Errorf("4:4:4 chroma plane got %dx%d", w, h)
	}
}

func TestFormatTableComplete(t *testing.T) {
	for _, e := range formatTable {
		if e.native == vk.Format(0) && len(e.planes) == 0 {
			t.Errorf("%s has neither a combined nor a per-plane representation", e.pf)
		}
		if e.native != vk.Format(0) && e.nativeAsp == 0 {
			t.Errorf("%s has a combined format but no aspect", e.pf)
		}
	}
}
