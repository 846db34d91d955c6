package vkframe

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
)

func nv12FallbackFrame(t *testing.T, w, h int) *Frame {
	t.Helper()
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatR8Unorm:   baseFeatures,
		vk.FormatR8g8Unorm: baseFeatures,
	})
	plan, err := resolveFormat(FormatNV12, vk.ImageTilingOptimal, false, true, query)
	if err != nil {
		t.Fatal(err)
	}
	return &Frame{
		Plan:   plan,
		Width:  w,
		Height: h,
		Images: make([]vk.Image, len(plan.Formats)),
	}
}

func nv12CombinedFrame(t *testing.T, w, h int) *Frame {
	t.Helper()
	query := queryFromTable(map[vk.Format]vk.FormatFeatureFlags{
		vk.FormatG8B8r82plane420Unorm: baseFeatures,
	})
	plan, err := resolveFormat(FormatNV12, vk.ImageTilingOptimal, false, false, query)
	if err != nil {
		t.Fatal(err)
	}
	return &Frame{
		Plan:   plan,
		Width:  w,
		Height: h,
		Images: make([]vk.Image, len(plan.Formats)),
	}
}

func TestCopyGeometryFallback(t *testing.T) {
	f := nv12FallbackFrame(t, 1920, 1080)

	g0, err := frameCopyGeometry(f, 0)
	if err != nil {
		t.Fatal(err)
	}
	if g0.width != 1920 || g0.height != 1080 || g0.texelSize != 1 {
		t.Errorf("luma geometry %dx%d texel %d", g0.width, g0.height, g0.texelSize)
	}

	g1, err := frameCopyGeometry(f, 1)
	if err != nil {
		t.Fatal(err)
	}
	if g1.width != 960 || g1.height != 540 || g1.texelSize != 2 {
		t.Errorf("chroma geometry %dx%d texel %d", g1.width, g1.height, g1.texelSize)
	}
	if g1.aspect != vk.ImageAspectFlags(vk.ImageAspectColorBit) {
		t.Error("fallback planes use the color aspect")
	}
}

func TestCopyGeometryCombined(t *testing.T) {
	f := nv12CombinedFrame(t, 1280, 720)

	g1, err := frameCopyGeometry(f, 1)
	if err != nil {
		t.Fatal(err)
	}
	if g1.aspect != vk.ImageAspectFlags(vk.ImageAspectPlane1Bit) {
		t.Error("combined frame planes address by plane aspect")
	}
	if g1.width != 640 || g1.height != 360 {
		t.Errorf("chroma geometry %dx%d", g1.width, g1.height)
	}

	if _, err := frameCopyGeometry(f, 2); !errors.Is(err, ErrUnsupported) {
		t.Errorf("plane out of range: got %v", err)
	}
}

func TestRowLengthTexels(t *testing.T) {
	g := &planeCopyGeometry{width: 960, texelSize: 2}

	rl, err := g.rowLengthTexels(0)
	if err != nil || rl != 0 {
		t.Errorf("zero stride: got %d, %v", rl, err)
	}

	rl, err = g.rowLengthTexels(1920)
	if err != nil || rl != 0 {
		t.Errorf("tight stride: got %d, %v", rl, err)
	}

	rl, err = g.rowLengthTexels(2048)
	if err != nil || rl != 1024 {
		t.Errorf("padded stride: got %d, %v", rl, err)
	}

	if _, err := g.rowLengthTexels(100); !errors.Is(err, ErrUnsupported) {
		t.Errorf("short stride: got %v", err)
	}
	if _, err := g.rowLengthTexels(1921); !errors.Is(err, ErrUnsupported) {
		t.Errorf("misaligned stride: got %v", err)
	}
}
