package vkframe

import (
	"testing"

	vk "github.com/goki/vulkan"
)

func qf(flags vk.QueueFlagBits, count uint32) vk.QueueFamilyProperties {
	return vk.QueueFamilyProperties{
		QueueFlags: vk.QueueFlags(flags),
		QueueCount: count,
	}
}

func TestQueueFamilySliceFilters(t *testing.T) {
	qfs := QueueFamilySlice{
		{Index: 0, VKQueueFamilyProperties: qf(vk.QueueGraphicsBit|vk.QueueComputeBit|vk.QueueTransferBit, 1)},
		{Index: 1, VKQueueFamilyProperties: qf(vk.QueueComputeBit|vk.QueueTransferBit, 2)},
		{Index: 2, VKQueueFamilyProperties: qf(vk.QueueTransferBit, 1)},
	}

	if got := qfs.FilterGraphics(); len(got) != 1 || got[0].Index != 0 {
		t.Errorf("graphics filter: got %v", got)
	}
	if got := qfs.FilterCompute(); len(got) != 2 {
		t.Errorf("compute filter: got %d families, want 2", len(got))
	}
	if got := qfs.FilterTransfer(); len(got) != 3 {
		t.Errorf("transfer filter: got %d families, want 3", len(got))
	}
}

func TestPickQueueFamilyPrefersDedicated(t *testing.T) {
	props := []vk.QueueFamilyProperties{
		qf(vk.QueueGraphicsBit|vk.QueueComputeBit|vk.QueueTransferBit, 1),
		qf(vk.QueueTransferBit, 2),
	}
	useCounts := make([]int, len(props))

	idx := pickQueueFamily(props, vk.QueueFlags(vk.QueueTransferBit), useCounts)
	if idx != 1 {
		t.Errorf("got family %d, want the dedicated transfer family 1", idx)
	}
}

func TestPickQueueFamilySpreadsLoad(t *testing.T) {
	props := []vk.QueueFamilyProperties{
		qf(vk.QueueComputeBit, 1),
		qf(vk.QueueComputeBit, 1),
	}
	useCounts := make([]int, len(props))

	first := pickQueueFamily(props, vk.QueueFlags(vk.QueueComputeBit), useCounts)
	second := pickQueueFamily(props, vk.QueueFlags(vk.QueueComputeBit), useCounts)
	if first == second {
		t.Errorf("equal families must alternate, got %d twice", first)
	}
}

func TestPickQueueFamilyNone(t *testing.T) {
	props := []vk.QueueFamilyProperties{
		qf(vk.QueueGraphicsBit, 1),
	}
	useCounts := make([]int, len(props))

	idx := pickQueueFamily(props, vk.QueueFlags(queueVideoDecodeBit), useCounts)
	if idx != -1 {
		t.Errorf("got family %d, want -1", idx)
	}
}

func TestAssignQueueRoles(t *testing.T) {
	props := []vk.QueueFamilyProperties{
		qf(vk.QueueGraphicsBit|vk.QueueComputeBit|vk.QueueTransferBit, 4),
		qf(vk.QueueComputeBit|vk.QueueTransferBit, 2),
		qf(vk.QueueTransferBit, 1),
		qf(queueVideoDecodeBit, 1),
	}

	roles, err := assignQueueRoles(props, ExtVideoDecodeQueue)
	if err != nil {
		t.Fatal(err)
	}

	if !roles[RoleGraphics].Valid || roles[RoleGraphics].FamilyIndex != 0 {
		t.Errorf("graphics: got %+v", roles[RoleGraphics])
	}
	if !roles[RoleCompute].Valid || roles[RoleCompute].FamilyIndex != 1 {
		t.Errorf("compute should land on the leaner family 1: got %+v", roles[RoleCompute])
	}
	if !roles[RoleTransfer].Valid || roles[RoleTransfer].FamilyIndex != 2 {
		t.Errorf("transfer should land on the dedicated family 2: got %+v", roles[RoleTransfer])
	}
	if !roles[RoleDecode].Valid || roles[RoleDecode].FamilyIndex != 3 {
		t.Errorf("decode: got %+v", roles[RoleDecode])
	}
	if roles[RoleEncode].Valid {
		t.Error("encode must stay unassigned without a family for it")
	}
}

func TestAssignQueueRolesTransferFallback(t *testing.T) {
	// No family advertises the transfer bit; compute implies it.
	props := []vk.QueueFamilyProperties{
		qf(vk.QueueGraphicsBit, 1),
		qf(vk.QueueComputeBit, 1),
	}

	roles, err := assignQueueRoles(props, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !roles[RoleTransfer].Valid || roles[RoleTransfer].FamilyIndex != 1 {
		t.Errorf("transfer should degrade to the compute family: got %+v", roles[RoleTransfer])
	}
}

func TestAssignQueueRolesVideoNeedsExtension(t *testing.T) {
	props := []vk.QueueFamilyProperties{
		qf(vk.QueueGraphicsBit|vk.QueueTransferBit, 1),
		qf(queueVideoDecodeBit, 1),
	}

	roles, err := assignQueueRoles(props, 0)
	if err != nil {
		t.Fatal(err)
	}
	if roles[RoleDecode].Valid {
		t.Error("decode role must not be assigned without the decode extension")
	}
}
