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

package leveling

import (
	"github.com/thusharams/xen/pkg/cpuid"
)

// vendorRules holds the per-vendor adjustment tables, applied after the
// mode table for hardware and paravirtual domains alike. Hosts with an
// unrecognized vendor get no adjustments.
var vendorRules = map[cpuid.Vendor]map[uint32]leafRule{
	cpuid.VendorIntel: intelRules,
	cpuid.VendorAMD:   amdRules,
}

var intelRules = map[uint32]leafRule{
	cpuid.LeafFeatureInfo:      intelFeatureInfo,
	cpuid.LeafCacheParams:      intelCacheParams,
	cpuid.LeafExtendedStart:    intelExtLeafRange,
	cpuid.LeafExtendedFeatures: intelExtFeatureInfo,
	leafL1CacheInfo:            intelL1CacheInfo,
	cpuid.LeafAddressSizes:     intelAddressSizes,
}

var amdRules = map[uint32]leafRule{
	cpuid.LeafCacheDescriptors: amdCacheInfo,
	cpuid.LeafCacheParams:      amdCacheInfo,
	cpuid.LeafExtendedStart:    amdExtLeafRange,
	cpuid.LeafExtendedFeatures: amdExtFeatureInfo,
	cpuid.LeafAddressSizes:     amdAddressSizes,
	leafSVMFeatures:            amdSVMFeatures,
}

func intelFeatureInfo(info *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	if info.Nested {
		regs.Ecx |= cpuid.X86FeatureVMX.Mask()
	}
}

func intelCacheParams(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// eax[31:26] is the maximum core count per package (minus one).
	// Stretch it to cover apic IDs spaced two apart.
	regs.Eax = ((regs.Eax & 0x7c000000) << 1) | 0x04000000 | (regs.Eax & 0x3ff)
	regs.Edx &= 0x3ff
}

func intelExtLeafRange(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	if regs.Eax > maxIntelExtLeaf {
		regs.Eax = maxIntelExtLeaf
	}
}

func intelExtFeatureInfo(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// Only a few features are defined in this vendor's extended word.
	regs.Ecx &= cpuid.X86FeatureLAHF64.Mask() |
		cpuid.X86FeaturePREFETCHW.Mask() |
		cpuid.X86FeatureLZCNT.Mask()
	regs.Edx &= cpuid.X86FeatureNX.Mask() |
		cpuid.X86FeatureLM.Mask() |
		cpuid.X86FeatureGBPAGES.Mask() |
		cpuid.X86FeatureSYSCALL.Mask() |
		cpuid.X86FeatureRDTSCP.Mask()
}

func intelL1CacheInfo(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// The level 1 cache and TLB leaf belongs to the other vendor.
	regs.Eax = 0
	regs.Ebx = 0
	regs.Ecx = 0
}

func intelAddressSizes(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// ecx is the other vendor's core count word.
	regs.Ecx = 0
}

func amdCacheInfo(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// The descriptor and deterministic cache leaves belong to the
	// other vendor; only edx is meaningful here.
	regs.Eax = 0
	regs.Ebx = 0
	regs.Ecx = 0
}

func amdExtLeafRange(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	if regs.Eax > maxAMDExtLeaf {
		regs.Eax = maxAMDExtLeaf
	}
}

func amdExtFeatureInfo(info *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	if !info.PAE {
		regs.Edx &^= cpuid.X86FeaturePAE.Mask()
	}

	ecxMask := cpuid.X86FeatureLAHF64.Mask() |
		cpuid.X86FeatureCMP_LEGACY.Mask() |
		cpuid.X86FeatureCR8_LEGACY.Mask() |
		cpuid.X86FeatureLZCNT.Mask() |
		cpuid.X86FeatureSSE4A.Mask() |
		cpuid.X86FeatureMISALIGNSSE.Mask() |
		cpuid.X86FeaturePREFETCHW.Mask() |
		cpuid.X86FeatureOSVW.Mask() |
		cpuid.X86FeatureXOP.Mask() |
		cpuid.X86FeatureLWP.Mask() |
		cpuid.X86FeatureFMA4.Mask() |
		cpuid.X86FeatureTBM.Mask() |
		cpuid.X86FeatureBPEXT.Mask()
	if info.Nested {
		ecxMask |= cpuid.X86FeatureSVM.Mask()
	}
	regs.Ecx &= ecxMask

	// The low words duplicate the basic feature leaf bit for bit and
	// level with it; the rest follows its own allow list.
	regs.Edx &= cpuid.Block6DuplicateMask |
		cpuid.X86FeatureNX.Mask() |
		cpuid.X86FeatureLM.Mask() |
		cpuid.X86FeatureGBPAGES.Mask() |
		cpuid.X86FeatureSYSCALL.Mask() |
		cpuid.X86FeatureMP.Mask() |
		cpuid.X86FeatureMMXEXT.Mask() |
		cpuid.X86FeatureFXSR_OPT.Mask() |
		cpuid.X86Feature3DNOW.Mask() |
		cpuid.X86Feature3DNOWEXT.Mask()
}

func amdAddressSizes(_ *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	// ecx[15:12] is ApicIdCoreSize and ecx[7:0] is NumberOfCores
	// (minus one). Update both for apic IDs spaced two apart.
	regs.Ecx = ((regs.Ecx & 0xf000) + 1) | ((regs.Ecx & 0xff) << 1) | 1
}

// Hardware virtualization sub-features at the SVM feature leaf.
const (
	svmFeatureNPT           uint32 = 0x00000001
	svmFeatureLBRV          uint32 = 0x00000002
	svmFeatureSVML          uint32 = 0x00000004
	svmFeatureNRIPS         uint32 = 0x00000008
	svmFeatureTSCRateMSR    uint32 = 0x00000010
	svmFeatureVMCBClean     uint32 = 0x00000020
	svmFeatureFlushByASID   uint32 = 0x00000040
	svmFeatureDecodeAssists uint32 = 0x00000080
	svmFeaturePauseFilter   uint32 = 0x00000400
)

// svmHardwareMask holds the sub-features passed through only when the
// hardware has them; svmEmulatedMask is always offered because the
// virtualization layer emulates those.
const (
	svmHardwareMask = svmFeatureNPT | svmFeatureLBRV | svmFeatureNRIPS |
		svmFeaturePauseFilter | svmFeatureDecodeAssists
	svmEmulatedMask = svmFeatureVMCBClean | svmFeatureTSCRateMSR
)

func amdSVMFeatures(info *DomainInfo, _ cpuid.In, regs *cpuid.Out) {
	if !info.Nested {
		*regs = cpuid.Out{}
		return
	}
	regs.Edx &= svmHardwareMask
	regs.Edx |= svmEmulatedMask
}
