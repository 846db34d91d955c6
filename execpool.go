package vkframe

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// imageState is the tracked layout, access and owning queue family of one
// backing image.
type imageState struct {
	Layout      vk.ImageLayout
	Access      vk.AccessFlags
	QueueFamily uint32
}

// ExecPool is a fixed ring of reusable execution contexts over one queue
// role. Contexts are striped across the queues of the role's family so
// concurrent submissions spread out.
type ExecPool struct {
	Device        *Device
	Role          QueueRole
	FamilyIndex   uint32
	VKCommandPool vk.CommandPool

	contexts []*ExecContext
	next     uint32
}

// ExecContext is one slot of an ExecPool: a command buffer, the fence
// covering its last submission, and the dependency bookkeeping accumulated
// between Begin and Submit.
type ExecContext struct {
	Pool            *ExecPool
	Device          *Device
	VKCommandBuffer vk.CommandBuffer
	Fence           *Fence
	Queue           vk.Queue
	QueueIndex      int

	// index is the context's slot in the ring, pairing it with per-slot
	// resources such as descriptor sets.
	index int

	hadSubmission bool

	frames      []*Frame
	frameLocked []bool
	frameStaged [][]imageState

	stagingDeps []*StagingAllocation

	waitSems   []vk.Semaphore
	waitValues []uint64
	waitStages []vk.PipelineStageFlags
	sigSems    []vk.Semaphore
	sigValues  []uint64
	sigValDst  []*uint64
}

// CreateExecPool builds a ring of size contexts on the family serving the
// role. Every fence starts signaled so the first Begin on each context does
// not block.
func (d *Device) CreateExecPool(role QueueRole, size int) (*ExecPool, error) {
	familyIndex, queueCount, ok := d.Role(role)
	if !ok {
		return nil, fmt.Errorf("no %s queue on this device: %w", role, ErrUnsupported)
	}
	if size <= 0 {
		size = 1
	}

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: familyIndex,
		Flags: vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit |
			vk.CommandPoolCreateResetCommandBufferBit),
	}
	var cmdPool vk.CommandPool
	ret := vk.CreateCommandPool(d.VKDevice, &poolCreateInfo, nil, &cmdPool)
	if ret != vk.Success {
		return nil, vkErr("vkCreateCommandPool", ret)
	}

	pool := &ExecPool{
		Device:        d,
		Role:          role,
		FamilyIndex:   familyIndex,
		VKCommandPool: cmdPool,
	}

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cmdPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(size),
	}
	buffers := make([]vk.CommandBuffer, size)
	ret = vk.AllocateCommandBuffers(d.VKDevice, &allocInfo, buffers)
	if ret != vk.Success {
		pool.Destroy()
		return nil, vkErr("vkAllocateCommandBuffers", ret)
	}

	for i := 0; i < size; i++ {
		fence, err := d.CreateFence(true)
		if err != nil {
			pool.Destroy()
			return nil, err
		}
		queueIndex := i % queueCount
		queue, err := d.Queue(role, queueIndex)
		if err != nil {
			fence.Destroy()
			pool.Destroy()
			return nil, err
		}
		pool.contexts = append(pool.contexts, &ExecContext{
			Pool:            pool,
			Device:          d,
			VKCommandBuffer: buffers[i],
			Fence:           fence,
			Queue:           queue,
			QueueIndex:      queueIndex,
			index:           i,
		})
	}

	return pool, nil
}

// Size returns the number of contexts in the ring.
func (p *ExecPool) Size() int {
	return len(p.contexts)
}

// Acquire hands out the next context round-robin. It never blocks; the
// returned context blocks in Begin until its previous submission retired.
func (p *ExecPool) Acquire() *ExecContext {
	n := atomic.AddUint32(&p.next, 1)
	return p.contexts[int(n-1)%len(p.contexts)]
}

// Destroy waits for every context to retire and releases the ring.
func (p *ExecPool) Destroy() {
	for _, e := range p.contexts {
		if !e.Retired() {
			if err := e.Wait(time.Minute); err != nil {
				Logger().Warn("exec pool teardown proceeding without retire", "err", err)
			}
		}
		e.discardDeps()
		e.Fence.Destroy()
	}
	p.contexts = nil
	if p.VKCommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(p.Device.VKDevice, p.VKCommandPool, nil)
		p.VKCommandPool = vk.NullCommandPool
	}
}

// HadSubmission reports whether this context was ever submitted.
func (e *ExecContext) HadSubmission() bool {
	return e.hadSubmission
}

// Retired reports whether the context's last submission has completed. A
// context that was never submitted counts as retired.
func (e *ExecContext) Retired() bool {
	if !e.hadSubmission {
		return true
	}
	return e.Device.VKGetFenceStatus(e.Fence.VKFence) == vk.Success
}

// Discard abandons the current recording, releasing every dependency it
// accumulated without touching frame state.
func (e *ExecContext) Discard() {
	e.discardDeps()
}

// Begin makes the context ready to record. It blocks until the previous
// submission on the slot retired, drops the stale dependencies, and starts
// a one-time recording.
func (e *ExecContext) Begin() error {
	if e.hadSubmission {
		if err := e.Device.WaitForFences(true, time.Minute, e.Fence); err != nil {
			return err
		}
	}
	if err := e.Device.ResetFences(e.Fence); err != nil {
		return err
	}
	e.discardDeps()

	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return vkErr("vkBeginCommandBuffer", vk.BeginCommandBuffer(e.VKCommandBuffer, &beginInfo))
}

// AddFrameDependency ties a frame to the recording. The frame is locked
// until the work is submitted, each image contributes a wait on its current
// counter and a signal at counter+1, and the frame's tracked state is
// staged for RecordBarrier. Adding the same frame twice is a no-op.
func (e *ExecContext) AddFrameDependency(f *Frame) error {
	for _, have := range e.frames {
		if have == f {
			return nil
		}
	}

	f.lock()

	if f.needsDrain {
		f.Device.WaitIdle()
		f.needsDrain = false
	}

	staged := make([]imageState, len(f.Images))
	for i := range f.Images {
		staged[i] = imageState{
			Layout:      f.Layouts[i],
			Access:      f.Access[i],
			QueueFamily: f.QueueFamily[i],
		}

		e.waitSems = append(e.waitSems, f.Semaphores[i])
		e.waitValues = append(e.waitValues, f.SemValues[i])
		e.waitStages = append(e.waitStages, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit))

		e.sigSems = append(e.sigSems, f.Semaphores[i])
		e.sigValues = append(e.sigValues, f.SemValues[i]+1)
		e.sigValDst = append(e.sigValDst, &f.SemValues[i])
	}

	e.frames = append(e.frames, f)
	e.frameLocked = append(e.frameLocked, true)
	e.frameStaged = append(e.frameStaged, staged)
	return nil
}

// AddStagingDependency keeps staging allocations alive until the context is
// reused or waited on.
func (e *ExecContext) AddStagingDependency(allocs ...*StagingAllocation) {
	e.stagingDeps = append(e.stagingDeps, allocs...)
}

// RecordBarrier records a layout/access/ownership transition for every
// image of the frame, sourcing from the staged state so repeated barriers
// within one recording chain correctly. The frame must have been added with
// AddFrameDependency first; anything else is a programming error.
//
// dstQueueFamily may be vk.QueueFamilyIgnored to keep ownership.
func (e *ExecContext) RecordBarrier(f *Frame, newLayout vk.ImageLayout, newAccess vk.AccessFlags,
	srcStage, dstStage vk.PipelineStageFlags, dstQueueFamily uint32) {

	fi := -1
	for i, have := range e.frames {
		if have == f {
			fi = i
			break
		}
	}
	if fi < 0 {
		panic("vkframe: RecordBarrier on a frame that is not a dependency of this context")
	}

	staged := e.frameStaged[fi]
	barriers := make([]vk.ImageMemoryBarrier, len(f.Images))
	for i, img := range f.Images {
		srcQF := staged[i].QueueFamily
		dstQF := dstQueueFamily
		if dstQF == uint32(vk.QueueFamilyIgnored) || srcQF == dstQF {
			srcQF = uint32(vk.QueueFamilyIgnored)
			dstQF = uint32(vk.QueueFamilyIgnored)
		}

		barriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       staged[i].Access,
			DstAccessMask:       newAccess,
			OldLayout:           staged[i].Layout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: srcQF,
			DstQueueFamilyIndex: dstQF,
			Image:               img,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspectColor,
				LevelCount: 1,
				LayerCount: uint32(f.Layers),
			},
		}

		staged[i].Layout = newLayout
		staged[i].Access = newAccess
		if dstQueueFamily != uint32(vk.QueueFamilyIgnored) {
			staged[i].QueueFamily = dstQueueFamily
		}
	}

	vk.CmdPipelineBarrier(e.VKCommandBuffer, srcStage, dstStage, 0,
		0, nil, 0, nil, uint32(len(barriers)), barriers)
}

// Submit ends the recording and submits it with the accumulated timeline
// waits and signals, serialized against other users of the same queue slot.
// Only on success are the staged frame states applied, the frame counters
// advanced and the frame locks released; a failed submission leaves every
// dependent frame exactly as it was.
func (e *ExecContext) Submit() error {
	if err := vkErr("vkEndCommandBuffer", vk.EndCommandBuffer(e.VKCommandBuffer)); err != nil {
		e.discardDeps()
		return err
	}

	tsInfo := vk.TimelineSemaphoreSubmitInfo{
		SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
		WaitSemaphoreValueCount:   uint32(len(e.waitValues)),
		PWaitSemaphoreValues:      e.waitValues,
		SignalSemaphoreValueCount: uint32(len(e.sigValues)),
		PSignalSemaphoreValues:    e.sigValues,
	}
	tsRef, _ := tsInfo.PassRef()

	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		PNext:                unsafe.Pointer(tsRef),
		WaitSemaphoreCount:   uint32(len(e.waitSems)),
		PWaitSemaphores:      e.waitSems,
		PWaitDstStageMask:    e.waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{e.VKCommandBuffer},
		SignalSemaphoreCount: uint32(len(e.sigSems)),
		PSignalSemaphores:    e.sigSems,
	}

	e.Device.LockQueue(e.Pool.FamilyIndex, e.QueueIndex)
	ret := vk.QueueSubmit(e.Queue, 1, []vk.SubmitInfo{submitInfo}, e.Fence.VKFence)
	e.Device.UnlockQueue(e.Pool.FamilyIndex, e.QueueIndex)

	if ret != vk.Success {
		e.discardDeps()
		return vkErr("vkQueueSubmit", ret)
	}

	e.commitSubmission()
	return nil
}

// commitSubmission applies the staged frame states, advances the frame
// counters to the signaled values and releases the frame locks. Called only
// after the queue accepted the work.
func (e *ExecContext) commitSubmission() {
	e.hadSubmission = true

	for i, f := range e.frames {
		staged := e.frameStaged[i]
		for j := range f.Images {
			f.Layouts[j] = staged[j].Layout
			f.Access[j] = staged[j].Access
			f.QueueFamily[j] = staged[j].QueueFamily
		}
	}

	for i, v := range e.sigValues {
		*e.sigValDst[i] = v
	}

	for i, f := range e.frames {
		if e.frameLocked[i] {
			f.unlock()
			e.frameLocked[i] = false
		}
	}
}

// Wait blocks until the last submission on this context retired, then drops
// its dependencies.
func (e *ExecContext) Wait(timeout time.Duration) error {
	if e.hadSubmission {
		if err := e.Device.WaitForFences(true, timeout, e.Fence); err != nil {
			return err
		}
	}
	e.discardDeps()
	return nil
}

// discardDeps releases every dependency without touching frame state:
// still-locked frames are unlocked and staging allocations returned.
func (e *ExecContext) discardDeps() {
	for i, f := range e.frames {
		if e.frameLocked[i] {
			f.unlock()
		}
	}
	e.frames = e.frames[:0]
	e.frameLocked = e.frameLocked[:0]
	e.frameStaged = e.frameStaged[:0]

	for _, a := range e.stagingDeps {
		a.Release()
	}
	e.stagingDeps = e.stagingDeps[:0]

	e.waitSems = e.waitSems[:0]
	e.waitValues = e.waitValues[:0]
	e.waitStages = e.waitStages[:0]
	e.sigSems = e.sigSems[:0]
	e.sigValues = e.sigValues[:0]
	e.sigValDst = e.sigValDst[:0]
}
