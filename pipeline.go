package vkframe

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

type ShaderModule struct {
	Device         *Device
	VKShaderModule vk.ShaderModule
}

// CreateShaderModule wraps already compiled SPIR-V code. The byte length
// must be a multiple of four.
func (d *Device) CreateShaderModule(spirv []byte) (*ShaderModule, error) {
	if len(spirv) == 0 || len(spirv)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V blob of %d bytes: %w", len(spirv), ErrUnsupported)
	}
	var module vk.ShaderModule
	err := vk.Error(vk.CreateShaderModule(d.VKDevice, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(spirv)),
		PCode:    sliceUint32(spirv),
	}, nil, &module))
	if err != nil {
		return nil, err
	}

	return &ShaderModule{Device: d, VKShaderModule: module}, nil
}

func (s *ShaderModule) Destroy() {
	vk.DestroyShaderModule(s.Device.VKDevice, s.VKShaderModule, nil)
}

func sliceUint32(data []byte) []uint32 {
	const m = 0x7fffffff
	return (*[m / 4]uint32)(unsafe.Pointer(&data[0]))[:len(data)/4]
}

type PipelineLayout struct {
	Device           *Device
	VKPipelineLayout vk.PipelineLayout
}

func (p *PipelineLayout) Destroy() {
	vk.DestroyPipelineLayout(p.Device.VKDevice, p.VKPipelineLayout, nil)
}

func (d *Device) CreatePipelineLayoutWithPushConstants(descriptorSetLayouts []*DescriptorSetLayout, pushConstants []vk.PushConstantRange) (*PipelineLayout, error) {
	l := make([]vk.DescriptorSetLayout, len(descriptorSetLayouts))
	for i, dsl := range descriptorSetLayouts {
		l[i] = dsl.VKDescriptorSetLayout
	}

	createInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(l)),
		PSetLayouts:            l,
		PushConstantRangeCount: uint32(len(pushConstants)),
		PPushConstantRanges:    pushConstants,
	}

	var pipelineLayout vk.PipelineLayout
	err := vk.Error(vk.CreatePipelineLayout(d.VKDevice, &createInfo, nil, &pipelineLayout))
	if err != nil {
		return nil, err
	}

	return &PipelineLayout{Device: d, VKPipelineLayout: pipelineLayout}, nil
}

func (d *Device) CreatePipelineLayout(descriptorSetLayouts ...*DescriptorSetLayout) (*PipelineLayout, error) {
	return d.CreatePipelineLayoutWithPushConstants(descriptorSetLayouts, nil)
}

// ComputePipeline is a compute pipeline over frame plane views.
type ComputePipeline struct {
	Device     *Device
	Layout     *PipelineLayout
	VKPipeline vk.Pipeline
}

func (d *Device) CreateComputePipeline(layout *PipelineLayout, shader *ShaderModule, entryPoint string) (*ComputePipeline, error) {
	stage := vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageComputeBit,
		Module: shader.VKShaderModule,
		PName:  safeString(entryPoint),
	}

	createInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  stage,
		Layout: layout.VKPipelineLayout,
	}

	pipelines := make([]vk.Pipeline, 1)
	err := vk.Error(vk.CreateComputePipelines(d.VKDevice, vk.NullPipelineCache, 1,
		[]vk.ComputePipelineCreateInfo{createInfo}, nil, pipelines))
	if err != nil {
		return nil, err
	}

	return &ComputePipeline{Device: d, Layout: layout, VKPipeline: pipelines[0]}, nil
}

func (p *ComputePipeline) Destroy() {
	vk.DestroyPipeline(p.Device.VKDevice, p.VKPipeline, nil)
}

// BindComputePipeline binds the pipeline into the context's recording.
func (e *ExecContext) BindComputePipeline(p *ComputePipeline) {
	vk.CmdBindPipeline(e.VKCommandBuffer, vk.PipelineBindPointCompute, p.VKPipeline)
}

// BindDescriptorSets binds sets for the compute pipeline layout.
func (e *ExecContext) BindDescriptorSets(layout *PipelineLayout, sets ...*DescriptorSet) {
	ds := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		ds[i] = s.VKDescriptorSet
	}
	vk.CmdBindDescriptorSets(e.VKCommandBuffer, vk.PipelineBindPointCompute,
		layout.VKPipelineLayout, 0, uint32(len(ds)), ds, 0, nil)
}

// Dispatch records a compute dispatch.
func (e *ExecContext) Dispatch(x, y, z int) {
	vk.CmdDispatch(e.VKCommandBuffer, uint32(x), uint32(y), uint32(z))
}
