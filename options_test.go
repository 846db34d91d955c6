package vkframe

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"VK_KHR_external_memory_fd", []string{"VK_KHR_external_memory_fd"}},
		{"a+b+c", []string{"a", "b", "c"}},
		{"a:b:c", []string{"a", "b", "c"}},
		{"a+b:c", []string{"a", "b", "c"}},
	}
	for _, c := range cases {
		got := splitList(c.in)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("splitList(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLoadDeviceOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	data := `linear_images: true
disable_multiplane: true
device_extensions: VK_KHR_external_memory_fd+VK_EXT_external_memory_dma_buf
validation_layers: VK_LAYER_KHRONOS_validation
debug: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	opts, err := LoadDeviceOptions(path)
	if err != nil {
		t.Fatal(err)
	}
	if !opts.LinearImages || !opts.DisableMultiplane || !opts.Debug {
		t.Errorf("flags not parsed: %+v", opts)
	}
	exts := splitList(opts.DeviceExtensions)
	if len(exts) != 2 || exts[0] != "VK_KHR_external_memory_fd" {
		t.Errorf("extensions not parsed: %v", exts)
	}
	if opts.ValidationLayers != "VK_LAYER_KHRONOS_validation" {
		t.Errorf("layers not parsed: %q", opts.ValidationLayers)
	}
}

func TestLoadDeviceOptionsErrors(t *testing.T) {
	if _, err := LoadDeviceOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must error")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDeviceOptions(path); err == nil {
		t.Error("malformed file must error")
	}
}

func TestNegotiateExtensions(t *testing.T) {
	supported := []string{
		"VK_KHR_external_memory_fd",
		"VK_KHR_external_semaphore_fd",
		"VK_KHR_video_queue",
	}

	enabled, flags := negotiateExtensions(optionalDeviceExtensions, supported,
		[]string{"VK_KHR_video_queue", "VK_EXT_no_such_thing"}, false)

	if flags&ExtExternalFDMemory == 0 || flags&ExtExternalFDSemaphore == 0 || flags&ExtVideoQueue == 0 {
		t.Errorf("flags 0x%x missing recognized extensions", flags)
	}
	if flags&ExtExternalDMABufMemory != 0 {
		t.Error("unsupported extension must not be flagged")
	}

	for _, name := range enabled {
		if name == "VK_EXT_no_such_thing" {
			t.Error("unknown requested extension must be skipped")
		}
	}
	count := 0
	for _, name := range enabled {
		if name == "VK_KHR_video_queue" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("requested extension duplicated %d times", count)
	}
}
