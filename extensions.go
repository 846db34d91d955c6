package vkframe

// ExtensionFlags is a bitset of the optional extensions this package knows
// how to take advantage of. After device creation Device.Extensions reports
// which of them were actually enabled.
type ExtensionFlags uint64

const (
	ExtExternalFDMemory ExtensionFlags = 1 << iota
	ExtExternalDMABufMemory
	ExtExternalFDSemaphore
	ExtExternalHostMemory
	ExtDRMModifiers
	ExtDeviceDRM
	ExtVideoQueue
	ExtVideoDecodeQueue
	ExtVideoEncodeQueue
	ExtDebugUtils
)

type extensionEntry struct {
	name string
	flag ExtensionFlags
}

// Optional device extensions. Each is enabled when the driver reports it;
// absence only narrows capability, never fails device creation.
var optionalDeviceExtensions = []extensionEntry{
	{"VK_KHR_external_memory_fd", ExtExternalFDMemory},
	{"VK_EXT_external_memory_dma_buf", ExtExternalDMABufMemory},
	{"VK_KHR_external_semaphore_fd", ExtExternalFDSemaphore},
	{"VK_EXT_external_memory_host", ExtExternalHostMemory},
	{"VK_EXT_image_drm_format_modifier", ExtDRMModifiers},
	{"VK_EXT_physical_device_drm", ExtDeviceDRM},
	{"VK_KHR_video_queue", ExtVideoQueue},
	{"VK_KHR_video_decode_queue", ExtVideoDecodeQueue},
	{"VK_KHR_video_encode_queue", ExtVideoEncodeQueue},
}

var optionalInstanceExtensions = []extensionEntry{
	{"VK_EXT_debug_utils", ExtDebugUtils},
}

// negotiateExtensions intersects the optional extension table with what the
// driver supports and folds in user-requested names. Unknown or unsupported
// user requests are logged and skipped. Returns the names to enable and the
// capability flags of the recognized ones.
func negotiateExtensions(table []extensionEntry, supported []string, requested []string, debug bool) ([]string, ExtensionFlags) {
	have := make(map[string]bool, len(supported))
	for _, s := range supported {
		have[s] = true
	}

	enabled := make([]string, 0, len(table))
	var flags ExtensionFlags

	for _, e := range table {
		if e.flag == ExtDebugUtils && !debug {
			continue
		}
		if !have[e.name] {
			continue
		}
		enabled = append(enabled, e.name)
		flags |= e.flag
		Logger().Debug("enabling extension", "name", e.name)
	}

	for _, name := range requested {
		if !have[name] {
			Logger().Warn("requested extension not supported, skipping", "name", name)
			continue
		}
		dup := false
		for _, en := range enabled {
			if en == name {
				dup = true
				break
			}
		}
		if !dup {
			enabled = append(enabled, name)
		}
	}

	return enabled, flags
}
