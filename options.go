package vkframe

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeviceOptions carries the recognized device-creation options. The
// extension and layer fields are lists delimited by '+' or ':'.
type DeviceOptions struct {
	// LinearImages forces linear tiling for all created frames.
	LinearImages bool `yaml:"linear_images"`

	// DisableMultiplane forces the one-image-per-plane fallback path even
	// when the driver supports the combined multi-planar format.
	DisableMultiplane bool `yaml:"disable_multiplane"`

	// DeviceExtensions and InstanceExtensions request additional
	// extensions on top of the negotiated optional set. Unknown names are
	// logged and skipped, never fatal.
	DeviceExtensions   string `yaml:"device_extensions"`
	InstanceExtensions string `yaml:"instance_extensions"`

	// ValidationLayers requests specific validation layers. A requested
	// but unavailable layer is a hard error.
	ValidationLayers string `yaml:"validation_layers"`

	// Debug enables the default Khronos validation layer and the
	// debug-utils extension.
	Debug bool `yaml:"debug"`
}

// LoadDeviceOptions reads DeviceOptions from a YAML file.
func LoadDeviceOptions(path string) (*DeviceOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var opts DeviceOptions
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("parsing device options %s: %w", path, err)
	}
	return &opts, nil
}

// splitList splits a '+' or ':' delimited option value into its entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	f := func(r rune) bool { return r == '+' || r == ':' }
	return strings.FieldsFunc(s, f)
}
