package vkframe

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
)

func testAdapters() []*PhysicalDevice {
	a := &PhysicalDevice{
		DeviceName:   "llvmpipe",
		UUID:         []byte{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		HasDRM:       false,
		VKPhysicalDeviceProperties: vk.PhysicalDeviceProperties{
			VendorID: 0x10005, DeviceID: 0,
		},
	}
	b := &PhysicalDevice{
		DeviceName:   "Fast GPU A",
		UUID:         []byte{2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2},
		HasDRM:       true,
		PrimaryMajor: 226, PrimaryMinor: 0,
		RenderMajor: 226, RenderMinor: 128,
		VKPhysicalDeviceProperties: vk.PhysicalDeviceProperties{
			VendorID: 0x1002, DeviceID: 0x731f,
		},
	}
	c := &PhysicalDevice{
		DeviceName:   "Fast GPU B",
		UUID:         []byte{3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3, 3},
		HasDRM:       true,
		PrimaryMajor: 226, PrimaryMinor: 1,
		RenderMajor: 226, RenderMinor: 129,
		VKPhysicalDeviceProperties: vk.PhysicalDeviceProperties{
			VendorID: 0x10de, DeviceID: 0x2204,
		},
	}
	return []*PhysicalDevice{a, b, c}
}

func TestMatchByUUID(t *testing.T) {
	devices := testAdapters()
	idx, err := matchPhysicalDevice(&DeviceSelector{
		UUID: devices[2].UUID,
		Name: "Fast GPU A", // lower precedence, must be ignored
	}, devices)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 2 {
		t.Errorf("got index %d, want 2", idx)
	}
}

func TestMatchByDRMNode(t *testing.T) {
	devices := testAdapters()

	// Render node of adapter 1.
	idx, err := matchPhysicalDevice(&DeviceSelector{HasDRM: true, DRMMajor: 226, DRMMinor: 128}, devices)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("got index %d, want 1", idx)
	}

	// Primary node of adapter 2.
	idx, err = matchPhysicalDevice(&DeviceSelector{HasDRM: true, DRMMajor: 226, DRMMinor: 1}, devices)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 2 {
		t.Errorf("got index %d, want 2", idx)
	}
}

func TestMatchByName(t *testing.T) {
	idx, err := matchPhysicalDevice(&DeviceSelector{Name: "Fast GPU B"}, testAdapters())
	if err != nil {
		t.Fatal(err)
	}
	if idx != 2 {
		t.Errorf("got index %d, want 2", idx)
	}

	// Partial names match by substring.
	idx, err = matchPhysicalDevice(&DeviceSelector{Name: "GPU B"}, testAdapters())
	if err != nil {
		t.Fatal(err)
	}
	if idx != 2 {
		t.Errorf("substring: got index %d, want 2", idx)
	}

	idx, err = matchPhysicalDevice(&DeviceSelector{Name: "llvm"}, testAdapters())
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("substring: got index %d, want 0", idx)
	}

	// A substring shared by several adapters is ambiguous.
	if _, err = matchPhysicalDevice(&DeviceSelector{Name: "Fast GPU"}, testAdapters()); err == nil {
		t.Error("substring matching two adapters must error")
	}
}

func TestMatchByPCIAndVendor(t *testing.T) {
	idx, err := matchPhysicalDevice(&DeviceSelector{PCIDeviceID: 0x731f}, testAdapters())
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("pci id: got index %d, want 1", idx)
	}

	idx, err = matchPhysicalDevice(&DeviceSelector{VendorID: 0x10de}, testAdapters())
	if err != nil {
		t.Fatal(err)
	}
	if idx != 2 {
		t.Errorf("vendor id: got index %d, want 2", idx)
	}
}

func TestMatchByIndexAndDefault(t *testing.T) {
	idx, err := matchPhysicalDevice(&DeviceSelector{Index: 1}, testAdapters())
	if err != nil {
		t.Fatal(err)
	}
	if idx != 1 {
		t.Errorf("got index %d, want 1", idx)
	}

	idx, err = matchPhysicalDevice(nil, testAdapters())
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("nil selector: got index %d, want 0", idx)
	}
}

func TestMatchAmbiguous(t *testing.T) {
	devices := testAdapters()
	devices[0].DeviceName = "dup"
	devices[1].DeviceName = "dup"
	_, err := matchPhysicalDevice(&DeviceSelector{Name: "dup"}, devices)
	if err == nil {
		t.Error("ambiguous name match must error")
	}
}

func TestMatchNotFound(t *testing.T) {
	_, err := matchPhysicalDevice(&DeviceSelector{Name: "no such adapter"}, testAdapters())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("got %v, want ErrDeviceNotFound", err)
	}

	_, err = matchPhysicalDevice(&DeviceSelector{Index: 17}, testAdapters())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("index out of range: got %v, want ErrDeviceNotFound", err)
	}

	_, err = matchPhysicalDevice(nil, nil)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("empty adapter list: got %v, want ErrDeviceNotFound", err)
	}
}

func TestChooseMemoryType(t *testing.T) {
	types := []vk.MemoryType{
		{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), HeapIndex: 0},
		{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit), HeapIndex: 1},
		{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), HeapIndex: 2},
	}
	heaps := []vk.MemoryHeap{
		{Size: 1 << 20},
		{Size: 1 << 30},
		{Size: 1 << 30},
	}

	// First match wins.
	idx, err := chooseMemoryType(types, heaps, 0b111,
		vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit), 1024)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("got type %d, want 0", idx)
	}

	// Heap of type 0 too small, falls through to type 2.
	idx, err = chooseMemoryType(types, heaps, 0b111,
		vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit), 1<<24)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 2 {
		t.Errorf("got type %d, want 2", idx)
	}

	// Requirement bits exclude everything acceptable.
	_, err = chooseMemoryType(types, heaps, 0b010,
		vk.MemoryPropertyFlagBits(vk.MemoryPropertyDeviceLocalBit), 1024)
	if !errors.Is(err, ErrNoMemoryType) {
		t.Errorf("got %v, want ErrNoMemoryType", err)
	}
}
