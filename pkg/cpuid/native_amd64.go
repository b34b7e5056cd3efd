// Copyright 2024 The xen Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build amd64
// +build amd64

package cpuid

// The constants below are the lower or "standard" cpuid leaves, ordered as
// defined by the hardware.
const (
	LeafVendorID           uint32 = 0x0 // Returns vendor ID and largest standard leaf.
	LeafFeatureInfo        uint32 = 0x1 // Returns basic feature bits and processor signature.
	LeafCacheDescriptors   uint32 = 0x2 // Returns list of cache descriptors. Intel only.
	LeafCacheParams        uint32 = 0x4 // Returns deterministic cache information, one sub-leaf per cache.
	LeafStructuredFeatures uint32 = 0x7 // Returns structured extended feature bits.
	LeafXSaveInfo          uint32 = 0xd // Returns information about extended state management.
)

// XSaveInfoNumLeaves is the number of XSaveInfo sub-leaves.
const XSaveInfoNumLeaves = 64

// maxCacheLeaves bounds the cache parameter sub-leaf walk, in case the
// processor never reports a null cache type.
const maxCacheLeaves = 64

// The "extended" leaves.
const (
	LeafExtendedStart    uint32 = 0x80000000
	LeafExtendedFeatures uint32 = LeafExtendedStart + 1 // Returns extended feature bits in edx and ecx.
	LeafPowerInfo        uint32 = LeafExtendedStart + 7 // Returns power management feature bits.
	LeafAddressSizes     uint32 = LeafExtendedStart + 8 // Physical and virtual address sizes.

	// LeafExtendedCeiling is the largest extended leaf any policy
	// enumerates; Snapshot captures through here.
	LeafExtendedCeiling uint32 = LeafExtendedStart + 0x1c
)

// SubleafUnused is the Ecx value of a query whose sub-leaf index carries
// no meaning. The instruction itself executes with ecx cleared; the
// sentinel survives in leaf records so that installers can distinguish
// "sub-leaf zero" from "sub-leaf irrelevant".
const SubleafUnused uint32 = 0xffffffff

// Function executes a CPUID function.
//
// This is typically the native function or a Static definition.
type Function interface {
	Query(In) Out
}

// Native is a native Function.
//
// This implements Function.
type Native struct{}

// In is input to the Query function.
type In struct {
	Eax uint32
	Ecx uint32
}

// normalized maps the unused sub-leaf sentinel to the value the
// instruction actually executes with.
func (i In) normalized() In {
	if i.Ecx == SubleafUnused {
		i.Ecx = 0
	}
	return i
}

// Out is output from the Query function.
type Out struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// native is the native Query function.
func native(in In) Out

// Query executes CPUID natively.
//
// This implements Function.
//
//go:nosplit
func (*Native) Query(in In) Out {
	return native(in.normalized())
}
