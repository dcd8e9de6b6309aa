package runtime

import (
	"fmt"

	"github.com/vk/staticgrid/internal/graph"
	"github.com/vk/staticgrid/internal/ivalue"
)

// managedStorage is one same-storage cluster inside the arena: the largest
// aligned byte size observed so far, and the tensors sharing the slot.
type managedStorage struct {
	learnedSize int64
	tensors     []*ivalue.Tensor
}

// MemoryPlanner owns the arena. It is built after the first completed run
// — sizes are not statically known, so it learns them from the tensors
// that run produced — and from then on performs exactly one buffer
// allocation per run.
//
// Node outputs fall into three disjoint sets: managed tensors (out-variant
// outputs, tensor-typed, not always-alive) carved from the arena; leaked
// containers (out-variant container outputs that are expensive to
// reallocate) left alone between runs; and unmanaged slots reset to None
// at deallocate. Graph outputs belong to none of the three — they escape
// the run and must outlive deallocate.
type MemoryPlanner struct {
	managed   []managedStorage
	unmanaged []*ivalue.IValue

	buffer        []byte
	managedBytes  int64
	reusedTensors int
}

func newMemoryPlanner(rt *StaticRuntime) *MemoryPlanner {
	sm := rt.module
	mp := &MemoryPlanner{}

	managedValues := make(map[*graph.Value]bool)
	leakedValues := make(map[*graph.Value]bool)
	if sm.opts.EnableOutVariant {
		for n := range rt.nodes {
			pn := &rt.nodes[n]
			if !pn.HasOutVariant() {
				continue
			}
			for _, outV := range pn.Node().Outputs() {
				if sm.alwaysAlive[outV] {
					continue
				}
				if outV.Type() == graph.TensorType {
					managedValues[outV] = true
				} else if sm.reg.IsOptimizableContainerType(pn.Node()) {
					leakedValues[outV] = true
				}
			}
		}
	}

	// Graph outputs escape the run: drop them from management entirely so
	// deallocate neither frees nor resets them.
	for _, outV := range sm.graph.Outputs() {
		delete(managedValues, outV)
	}
	outputSlots := make(map[*ivalue.IValue]bool, len(rt.outputs))
	for _, o := range rt.outputs {
		outputSlots[o] = true
	}

	for n := range rt.nodes {
		pn := &rt.nodes[n]
		for i := range pn.outputs {
			outV := pn.Node().Outputs()[i]
			if managedValues[outV] || leakedValues[outV] {
				continue
			}
			slot := pn.Output(i)
			if outputSlots[slot] {
				continue
			}
			mp.unmanaged = append(mp.unmanaged, slot)
		}
	}

	if sm.opts.EnableOutVariant {
		mp.assignStorageToManagedTensors(rt, managedValues)
	}
	return mp
}

// assignStorageToManagedTensors walks the nodes in order, appending each
// managed output tensor to its cluster's entry; the first member of a
// cluster claims the next list index for every clustered value.
func (mp *MemoryPlanner) assignStorageToManagedTensors(rt *StaticRuntime, managedValues map[*graph.Value]bool) {
	valueToIdx := make(map[*graph.Value]int)

	for n := range rt.nodes {
		pn := &rt.nodes[n]
		for i := range pn.outputs {
			outV := pn.Node().Outputs()[i]
			if !managedValues[outV] {
				continue
			}
			tensor := pn.Output(i).Tensor()
			if tensor == nil {
				panic(fmt.Sprintf("runtime: managed value %%%s is not a tensor after first run", outV.Name()))
			}
			if idx, ok := valueToIdx[outV]; ok {
				mp.managed[idx].tensors = append(mp.managed[idx].tensors, tensor)
				continue
			}
			mp.managed = append(mp.managed, managedStorage{tensors: []*ivalue.Tensor{tensor}})
			if cluster, ok := rt.module.sameStorage[outV]; ok {
				idx := len(mp.managed) - 1
				for _, v := range cluster {
					valueToIdx[v] = idx
				}
			}
		}
	}
}

// allocate acquires one buffer of exactly managedBytes and binds every
// cluster's tensors to their slice of it. When managedBytes is 0 (no
// managed tensors, or no sizes learned) it does nothing.
func (mp *MemoryPlanner) allocate() {
	if mp.managedBytes == 0 {
		return
	}
	mp.buffer = ivalue.AlignedBytes(mp.managedBytes)

	offset := int64(0)
	mp.reusedTensors = 0
	for i := range mp.managed {
		ms := &mp.managed[i]
		if ms.learnedSize == 0 {
			continue
		}
		region := mp.buffer[offset : offset+ms.learnedSize : offset+ms.learnedSize]
		for _, tensor := range ms.tensors {
			// Cluster members share (data, nbytes); each reinterprets
			// its own size on first write via EnsureBytes.
			tensor.Storage().SetData(region, ms.learnedSize)
			mp.reusedTensors++
		}
		mp.reusedTensors--
		offset += ms.learnedSize
	}
	if offset != mp.managedBytes {
		panic(fmt.Sprintf("runtime: arena layout used %d of %d bytes", offset, mp.managedBytes))
	}
}

// deallocate releases storage without freeing objects: every managed
// tensor's storage drops its data pointer but keeps the Storage alive,
// cluster sizes are re-learned as the max aligned size seen, unmanaged
// slots are reset to None, and the arena buffer is released. Idempotent
// on the empty-arena and already-None cases, so a failed run does not
// poison the next one.
func (mp *MemoryPlanner) deallocate() {
	mp.managedBytes = 0

	for i := range mp.managed {
		ms := &mp.managed[i]
		maxSize := ms.learnedSize
		for _, tensor := range ms.tensors {
			current := ivalue.AlignedSize(tensor.Storage().NBytes())
			tensor.Storage().Reset()
			if current > maxSize {
				maxSize = current
			}
		}
		ms.learnedSize = maxSize
		mp.managedBytes += maxSize
	}

	for _, slot := range mp.unmanaged {
		slot.Reset()
	}
	mp.buffer = nil
}

// TotalManaged returns the arena size in bytes for the next run.
func (mp *MemoryPlanner) TotalManaged() int64 { return mp.managedBytes }

// TotalReusedTensors returns how many tensor bindings were satisfied by
// cluster sharing in the last allocate.
func (mp *MemoryPlanner) TotalReusedTensors() int { return mp.reusedTensors }

// NumManagedStorages returns the cluster count.
func (mp *MemoryPlanner) NumManagedStorages() int { return len(mp.managed) }
