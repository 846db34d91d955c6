/*
Package vkframe manages GPU-resident video frames on top of Vulkan. It owns
device and queue selection, the mapping of abstract pixel formats to native
multi-plane image formats, allocation and binding of the device memory backing
each plane of a decoded or encoded picture, sharing of that memory across
device and API boundaries, and a pooled command-execution subsystem that
records, submits and tracks per-frame dependencies across concurrent in-flight
operations.

The package does not parse bitstreams, run decode/encode state machines or
present anything to a display. Those live in the surrounding pipeline; this
package gives them frames that are correctly allocated, correctly synchronized
and cheap to hand to another accelerator.

Native Vulkan terms used throughout:

	Instance	the Vulkan runtime instance
	PhysicalDevice	the physical hardware adapter
	Device		the logical device, target of most Vulkan calls
	Queue family	a group of hardware queues sharing a capability set
	Image		one plane (or one combined multi-plane image) of a frame
	DeviceMemory	an allocation of host or device memory backing an image
	Timeline semaphore	a monotonically increasing GPU-visible counter

A typical lifetime:

 1. Create an App, negotiate validation layers and instance extensions, and
    create the Instance.
 2. Select a PhysicalDevice with a DeviceSelector (by UUID, DRM node, name,
    PCI id or index) and create the logical Device. Queue families are
    assigned to the graphics/compute/transfer/decode/encode roles here and
    stay fixed for the Device's lifetime.
 3. Resolve an abstract PixelFormat into a FormatPlan. The plan is either a
    single combined multi-planar image or a per-plane fallback, depending on
    what the driver actually supports.
 4. CreateFrame from the plan. Each plane gets an image, bound memory and a
    timeline semaphore starting at counter zero.
 5. Wrap every GPU-side operation on the Frame in an ExecContext from an
    ExecPool: add the Frame as a dependency, record barriers and copies,
    submit. The pool applies the Frame's recorded layout/access/ownership
    state only after the submission succeeds.
 6. Frame.Export and Device.ImportFrame move frames across process and API
    boundaries as file descriptors, ordered purely by the timeline counters.

All objects expose their native handles in VK-prefixed fields so callers can
drop down to raw Vulkan when this package's surface is not enough.
*/
package vkframe
